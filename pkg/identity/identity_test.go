package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

const pubA = "a1b2c3d4"

func TestRegisterCitizenAssignsSequentialIDs(t *testing.T) {
	r := NewRegistry()

	id0, err := r.RegisterCitizen(pubA)
	require.NoError(t, err)
	id1, err := r.RegisterCitizen("DEADBEEF")
	require.NoError(t, err)

	assert.Equal(t, "citizen_000000", id0)
	assert.Equal(t, "citizen_000001", id1)
	assert.True(t, r.IsCitizen(id0))

	pub, ok := r.PublicKey(id1)
	require.True(t, ok)
	assert.Equal(t, "deadbeef", pub)
}

func TestRegisterCitizenRejectsBadKeys(t *testing.T) {
	r := NewRegistry()
	for _, k := range []string{"", "   ", "not-hex"} {
		_, err := r.RegisterCitizen(k)
		assert.True(t, errors.Is(err, kerr.ErrInvalidPublicKey), "key %q", k)
	}
	assert.Zero(t, r.Len())
}

func TestRegisterCompanion(t *testing.T) {
	r := NewRegistry()
	owner, err := r.RegisterCitizen(pubA)
	require.NoError(t, err)

	id, err := r.RegisterCompanion("beef", owner, []string{"reflect", "attest"})
	require.NoError(t, err)
	assert.Equal(t, "companion_000000", id)

	c, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, KindCompanion, c.Kind)
	assert.Equal(t, owner, c.Owner)
	assert.Equal(t, []string{"attest", "reflect"}, c.Capabilities)
	limit, ok := c.Limit(policy.LimitReflectionsPerDay)
	assert.True(t, ok)
	assert.Equal(t, int64(10), limit)
	assert.False(t, r.IsCitizen(id))
}

func TestRegisterCompanionRequiresCitizenOwner(t *testing.T) {
	r := NewRegistry()
	owner, err := r.RegisterCitizen(pubA)
	require.NoError(t, err)
	comp, err := r.RegisterCompanion("beef", owner, nil)
	require.NoError(t, err)

	_, err = r.RegisterCompanion("cafe", "citizen_999999", nil)
	assert.True(t, errors.Is(err, kerr.ErrInvalidOwner))

	_, err = r.RegisterCompanion("cafe", comp, nil)
	assert.True(t, errors.Is(err, kerr.ErrInvalidOwner), "companions cannot own companions")
}

func TestActivityRecordAndDecay(t *testing.T) {
	r := NewRegistry()
	id, err := r.RegisterCitizen(pubA)
	require.NoError(t, err)

	require.NoError(t, r.RecordActivity(id, 2))
	r.DecayActivity(ActivityDecay)

	got, err := r.Get(id)
	require.NoError(t, err)
	assert.InDelta(t, 1.98, got.Activity, 1e-9)
	assert.Equal(t, uint64(1), got.Nonce)

	err = r.RecordActivity("citizen_424242", 1)
	assert.True(t, errors.Is(err, kerr.ErrNotFound))
}

func TestListAndStateRoundTrip(t *testing.T) {
	r := NewRegistry()
	c0, _ := r.RegisterCitizen(pubA)
	_, _ = r.RegisterCitizen(pubA)
	_, _ = r.RegisterCompanion("beef", c0, nil)

	assert.Len(t, r.List(KindCitizen), 2)
	assert.Len(t, r.List(KindCompanion), 1)
	assert.Len(t, r.List(""), 3)

	restored := NewRegistry()
	restored.Restore(r.State())
	assert.Equal(t, r.List(""), restored.List(""))

	next, err := restored.RegisterCitizen(pubA)
	require.NoError(t, err)
	assert.Equal(t, "citizen_000002", next)
}
