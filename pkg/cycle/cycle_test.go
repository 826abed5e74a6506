package cycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizencycle/Mobius-Systems/pkg/attest"
	"github.com/kaizencycle/Mobius-Systems/pkg/identity"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/merkle"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

type fixture struct {
	ids      *identity.Registry
	policies *policy.Registry
	m        *Manager
	citizen  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ids := identity.NewRegistry()
	pol, err := policy.NewRegistry(policy.Genesis())
	require.NoError(t, err)
	citizen, err := ids.RegisterCitizen("aa01")
	require.NoError(t, err)
	m := NewManager(ids, pol).WithClock(func() time.Time {
		return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	})
	return fixture{ids: ids, policies: pol, m: m, citizen: citizen}
}

func TestCreateCycle(t *testing.T) {
	f := newFixture(t)

	c, err := f.m.CreateCycle(f.citizen, "2025-03-14")
	require.NoError(t, err)
	assert.Equal(t, "cycle_20250314", c.ID)
	assert.Equal(t, StatusSeed, c.Status)
	assert.Equal(t, int64(1), c.Counts.Seeds)
	assert.Equal(t, merkle.EmptyRoot, c.SweepsRoot)
	assert.Equal(t, ComputeDayRoot(c.SeedHash, c.SweepsRoot, c.SealHash), c.DayRoot)
}

func TestCreateCycleRejections(t *testing.T) {
	f := newFixture(t)

	for _, d := range []string{"", "2025-3-14", "2025-02-30", "yesterday"} {
		_, err := f.m.CreateCycle(f.citizen, d)
		assert.True(t, errors.Is(err, kerr.ErrInvalidDate), "date %q", d)
	}

	_, err := f.m.CreateCycle("citizen_999999", "2025-03-14")
	assert.True(t, errors.Is(err, kerr.ErrInvalidProposer))

	comp, err := f.ids.RegisterCompanion("bb02", f.citizen, nil)
	require.NoError(t, err)
	_, err = f.m.CreateCycle(comp, "2025-03-14")
	assert.True(t, errors.Is(err, kerr.ErrInvalidProposer), "companions cannot propose")

	_, err = f.m.CreateCycle(f.citizen, "2025-03-14")
	require.NoError(t, err)
	_, err = f.m.CreateCycle(f.citizen, "2025-03-14")
	assert.True(t, errors.Is(err, kerr.ErrDuplicateCycle))
	assert.True(t, errors.Is(err, kerr.ErrConflict))
}

func TestLifecycleMovesForwardOnly(t *testing.T) {
	f := newFixture(t)
	c, err := f.m.CreateCycle(f.citizen, "2025-03-14")
	require.NoError(t, err)

	c, err = f.m.Sweep(c.ID, f.citizen, "ab")
	require.NoError(t, err)
	c, err = f.m.Sweep(c.ID, f.citizen, "cd")
	require.NoError(t, err)
	assert.Equal(t, StatusSweep, c.Status)
	assert.Equal(t, merkle.Root([]string{"ab", "cd"}), c.SweepsRoot)
	beforeSeal := c.DayRoot

	c, err = f.m.Seal(c.ID, f.citizen)
	require.NoError(t, err)
	assert.Equal(t, StatusSeal, c.Status)
	assert.NotEmpty(t, c.SealHash)
	assert.NotEqual(t, beforeSeal, c.DayRoot)

	_, err = f.m.Sweep(c.ID, f.citizen, "ef")
	assert.True(t, errors.Is(err, kerr.ErrCycleClosed))
	_, err = f.m.Seal(c.ID, f.citizen)
	assert.True(t, errors.Is(err, kerr.ErrCycleClosed))

	require.NoError(t, f.m.Anchor(c.ID))
	got, err := f.m.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusLedger, got.Status)

	stale := c
	assert.True(t, errors.Is(f.m.Commit(stale), kerr.ErrStatusRegression))
}

func TestAnchorRequiresSeal(t *testing.T) {
	f := newFixture(t)
	c, err := f.m.CreateCycle(f.citizen, "2025-03-14")
	require.NoError(t, err)

	assert.True(t, errors.Is(f.m.Anchor(c.ID), kerr.ErrStatusRegression))
	assert.True(t, errors.Is(f.m.Anchor("cycle_19990101"), kerr.ErrUnknownCycle))
}

func TestValidateBlockCycle(t *testing.T) {
	f := newFixture(t)
	c, err := f.m.CreateCycle(f.citizen, "2025-03-14")
	require.NoError(t, err)
	require.NoError(t, f.m.Validate(c))

	bad := c
	bad.DayRoot = "00"
	assert.True(t, errors.Is(f.m.Validate(bad), kerr.ErrRootMismatch))

	bad = c
	bad.Date = "2025-13-01"
	assert.True(t, errors.Is(f.m.Validate(bad), kerr.ErrInvalidDate))

	bad = c
	bad.Proposer = "citizen_000042"
	assert.True(t, errors.Is(f.m.Validate(bad), kerr.ErrInvalidProposer))
}

func TestKnownCycleKeepsItsOrigin(t *testing.T) {
	f := newFixture(t)
	other, err := f.ids.RegisterCitizen("bb02")
	require.NoError(t, err)
	c, err := f.m.CreateCycle(f.citizen, "2025-03-14")
	require.NoError(t, err)
	c, err = f.m.Sweep(c.ID, f.citizen, "ab")
	require.NoError(t, err)

	forged := c
	forged.Proposer = other
	forged.SeedHash = seedHash(c.Date, other, 1)
	forged.refresh()
	assert.True(t, errors.Is(f.m.Validate(forged), kerr.ErrDuplicateCycle))
	assert.True(t, errors.Is(f.m.Commit(forged), kerr.ErrDuplicateCycle))

	forged = c.clone()
	forged.Sweeps[0] = "cd"
	forged.refresh()
	assert.True(t, errors.Is(f.m.Validate(forged), kerr.ErrDuplicateCycle))

	forged = c.clone()
	forged.Sweeps = nil
	forged.Counts.Sweeps = 1
	forged.refresh()
	assert.True(t, errors.Is(f.m.Validate(forged), kerr.ErrStatusRegression))

	got, err := f.m.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, f.citizen, got.Proposer)
	assert.Equal(t, c.SeedHash, got.SeedHash)

	sealed, err := f.m.Seal(c.ID, f.citizen)
	require.NoError(t, err)
	resealed := sealed
	resealed.SealHash = c.SeedHash
	resealed.refresh()
	assert.True(t, errors.Is(f.m.Commit(resealed), kerr.ErrDuplicateCycle))

	next := sealed
	next.Status = StatusLedger
	require.NoError(t, f.m.Commit(next))
}

func TestReflectionRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.m.CreateCycle(f.citizen, "2025-03-14")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := f.m.CreateReflection(ctx, ReflectionRequest{Author: f.citizen, CycleID: c.ID, EnvelopeHash: "env"})
		require.NoError(t, err, "reflection %d", i)
	}
	_, err = f.m.CreateReflection(ctx, ReflectionRequest{Author: f.citizen, CycleID: c.ID, EnvelopeHash: "env"})
	assert.True(t, errors.Is(err, kerr.ErrRateLimitExceeded))

	got, err := f.m.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Counts.Reflections)
	assert.Len(t, f.m.Reflections(c.ID), 10)

	who, err := f.ids.Get(f.citizen)
	require.NoError(t, err)
	assert.Equal(t, 10.0, who.Activity)
}

func TestCompanionUsesOwnLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comp, err := f.ids.RegisterCompanion("bb02", f.citizen, []string{"reflect"})
	require.NoError(t, err)
	c, err := f.m.CreateCycle(f.citizen, "2025-03-14")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.m.CheckAttestationLimit(ctx, c.ID, comp))
	}
	err = f.m.CheckAttestationLimit(ctx, c.ID, comp)
	assert.True(t, errors.Is(err, kerr.ErrRateLimit))
}

func TestReflectionVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.m.CreateCycle(f.citizen, "2025-03-14")
	require.NoError(t, err)

	r, err := f.m.CreateReflection(ctx, ReflectionRequest{Author: f.citizen, CycleID: c.ID, EnvelopeHash: "e1"})
	require.NoError(t, err)
	assert.Equal(t, Private, r.Visibility)

	_, err = f.m.CreateReflection(ctx, ReflectionRequest{Author: f.citizen, CycleID: c.ID, EnvelopeHash: "e2", Visibility: "loud"})
	assert.True(t, errors.Is(err, kerr.ErrInvalidVisibility))

	_, err = f.policies.Apply(policy.Update{PrivacyFlags: map[string]int64{policy.FlagAllowPublicOptIn: 0}})
	require.NoError(t, err)
	_, err = f.m.CreateReflection(ctx, ReflectionRequest{Author: f.citizen, CycleID: c.ID, EnvelopeHash: "e3", Visibility: Public})
	assert.True(t, errors.Is(err, kerr.ErrInvalidVisibility))
}

func TestReflectionProofs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prover := attest.HashProver{}
	f.m.WithProofVerifier(prover)
	c, err := f.m.CreateCycle(f.citizen, "2025-03-14")
	require.NoError(t, err)

	_, err = f.m.CreateReflection(ctx, ReflectionRequest{
		Author: f.citizen, CycleID: c.ID, EnvelopeHash: "env", Proof: prover.Prove(f.citizen, "env"),
	})
	require.NoError(t, err)

	_, err = f.m.CreateReflection(ctx, ReflectionRequest{
		Author: f.citizen, CycleID: c.ID, EnvelopeHash: "env", Proof: prover.Prove(f.citizen, "other"),
	})
	assert.True(t, errors.Is(err, kerr.ErrInvalidProof))

	_, err = f.policies.Apply(policy.Update{PrivacyFlags: map[string]int64{policy.FlagZKProofsRequired: 1}})
	require.NoError(t, err)
	_, err = f.m.CreateReflection(ctx, ReflectionRequest{Author: f.citizen, CycleID: c.ID, EnvelopeHash: "env"})
	assert.True(t, errors.Is(err, kerr.ErrInvalidProof))
}

func TestReflectionNeedsOpenCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.CreateReflection(ctx, ReflectionRequest{Author: f.citizen, CycleID: "cycle_20250314", EnvelopeHash: "e"})
	assert.True(t, errors.Is(err, kerr.ErrUnknownCycle))

	c, err := f.m.CreateCycle(f.citizen, "2025-03-14")
	require.NoError(t, err)
	_, err = f.m.Seal(c.ID, f.citizen)
	require.NoError(t, err)
	_, err = f.m.CreateReflection(ctx, ReflectionRequest{Author: f.citizen, CycleID: c.ID, EnvelopeHash: "e"})
	assert.True(t, errors.Is(err, kerr.ErrCycleClosed))

	_, err = f.m.CreateReflection(ctx, ReflectionRequest{Author: "citizen_000404", CycleID: c.ID, EnvelopeHash: "e"})
	assert.True(t, errors.Is(err, kerr.ErrUnknownIdentity))
}

func TestThrottle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.m.WithThrottle(0.001, 2)
	c, err := f.m.CreateCycle(f.citizen, "2025-03-14")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.m.CreateReflection(ctx, ReflectionRequest{Author: f.citizen, CycleID: c.ID, EnvelopeHash: "e"})
		require.NoError(t, err)
	}
	_, err = f.m.CreateReflection(ctx, ReflectionRequest{Author: f.citizen, CycleID: c.ID, EnvelopeHash: "e"})
	assert.True(t, errors.Is(err, kerr.ErrThrottled))
}

func TestForkAdoptAndRestore(t *testing.T) {
	f := newFixture(t)
	c, err := f.m.CreateCycle(f.citizen, "2025-03-14")
	require.NoError(t, err)

	fork := f.m.Fork()
	_, err = fork.Seal(c.ID, f.citizen)
	require.NoError(t, err)
	got, _ := f.m.Get(c.ID)
	assert.Equal(t, StatusSeed, got.Status)

	f.m.Adopt(fork)
	got, _ = f.m.Get(c.ID)
	assert.Equal(t, StatusSeal, got.Status)

	other := NewManager(f.ids, f.policies)
	require.NoError(t, other.Restore(f.m.State()))
	assert.Equal(t, f.m.List(), other.List())
}

func TestRedisCounter(t *testing.T) {
	rc := NewRedisCounter("localhost:6379", "", 0)
	defer rc.Close()
	ctx := context.Background()
	if err := rc.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	n, err := rc.Get(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = rc.Incr(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = rc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
