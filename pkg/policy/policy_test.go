package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

func TestGenesisIsValid(t *testing.T) {
	g := Genesis()
	require.NoError(t, g.Validate())
	assert.Equal(t, "0.1.0", g.Version)
	assert.Equal(t, uint64(2016), g.UnbondingEpochs())
	assert.True(t, g.Flag(FlagAllowPublicOptIn))

	limit, ok := g.Limit(LimitReflectionsPerDay)
	assert.True(t, ok)
	assert.Equal(t, int64(10), limit)
}

func TestHashIsStableAndContentSensitive(t *testing.T) {
	a, b := Genesis(), Genesis()
	assert.Equal(t, a.Hash(), b.Hash())

	b.RateLimits[LimitReflectionsPerDay] = 11
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestRegistryApplyBumpsMinor(t *testing.T) {
	r, err := NewRegistry(Genesis())
	require.NoError(t, err)

	quorum := 0.3
	next, err := r.Apply(Update{
		QuorumThreshold: &quorum,
		RateLimits:      map[string]int64{LimitReflectionsPerDay: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, "0.2.0", next.Version)
	assert.Equal(t, 0.3, next.Governance.QuorumThreshold)
	assert.Equal(t, int64(20), next.RateLimits[LimitReflectionsPerDay])
	assert.Equal(t, int64(5), next.RateLimits[LimitAttestationsPerDay])

	old, ok := r.Get("0.1.0")
	require.True(t, ok)
	assert.Equal(t, int64(10), old.RateLimits[LimitReflectionsPerDay], "history must not alias")
	assert.Len(t, r.History(), 2)
}

func TestRegistryApplyRejectsInvalid(t *testing.T) {
	r, err := NewRegistry(Genesis())
	require.NoError(t, err)

	_, err = r.Apply(Update{})
	assert.True(t, errors.Is(err, kerr.ErrInvalidPolicy))

	bad := 1.5
	_, err = r.Apply(Update{ApprovalThreshold: &bad})
	assert.True(t, errors.Is(err, kerr.ErrValidation))
	assert.Equal(t, "0.1.0", r.Current().Version)
}

func TestRegistryUpgrade(t *testing.T) {
	r, err := NewRegistry(Genesis())
	require.NoError(t, err)

	p, err := r.Upgrade("1.0.0", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", p.Version)
	assert.Equal(t, "abc123", p.UpgradeHash)

	_, err = r.Upgrade("0.9.0", "")
	assert.True(t, errors.Is(err, kerr.ErrInvalidVersion))

	_, err = r.Upgrade("not-a-version", "")
	assert.True(t, errors.Is(err, kerr.ErrInvalidVersion))
}

func TestCurrentReturnsCopy(t *testing.T) {
	r, err := NewRegistry(Genesis())
	require.NoError(t, err)

	p := r.Current()
	p.RateLimits[LimitReflectionsPerDay] = 999
	assert.Equal(t, int64(10), r.Current().RateLimits[LimitReflectionsPerDay])
}
