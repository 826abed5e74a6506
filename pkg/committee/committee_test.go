package committee

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/identity"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

func setup(t *testing.T, stakes []int64) (*identity.Registry, *credit.Ledger, *policy.Registry) {
	t.Helper()
	ids := identity.NewRegistry()
	l, err := credit.New(credit.DefaultParams())
	require.NoError(t, err)
	pol, err := policy.NewRegistry(policy.Genesis())
	require.NoError(t, err)

	for i, s := range stakes {
		id, err := ids.RegisterCitizen(fmt.Sprintf("%04x", i+1))
		require.NoError(t, err)
		if s == 0 {
			continue
		}
		require.NoError(t, l.Allocate(id, credit.Credits(s), "test"))
		_, err = l.Stake(id, credit.Credits(s))
		require.NoError(t, err)
	}
	return ids, l, pol
}

func TestRankOrdersByStakeAndActivity(t *testing.T) {
	ids, l, pol := setup(t, []int64{100, 300, 0, 200})
	require.NoError(t, ids.RecordActivity("citizen_000000", 3))

	s, err := NewSelector(ids, l, pol)
	require.NoError(t, err)
	ranked, err := s.Rank()
	require.NoError(t, err)

	got := make([]string, len(ranked))
	for i, m := range ranked {
		got[i] = m.ID
	}
	// citizen_000000 scores 100 + 3*100 = 400
	assert.Equal(t, []string{"citizen_000000", "citizen_000001", "citizen_000003"}, got)
	assert.InDelta(t, 400.0, ranked[0].Score, 1e-9)
}

func TestSelectIsDeterministicPermutationOfTopN(t *testing.T) {
	ids, l, pol := setup(t, []int64{10, 20, 30, 40, 50, 60, 70, 80, 90})

	s, err := NewSelector(ids, l, pol)
	require.NoError(t, err)

	a, err := s.Select(5)
	require.NoError(t, err)
	b, err := s.Select(5)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.Len(t, a, 7)

	sorted := append([]string(nil), a...)
	sort.Strings(sorted)
	assert.Equal(t, []string{
		"citizen_000002", "citizen_000003", "citizen_000004", "citizen_000005",
		"citizen_000006", "citizen_000007", "citizen_000008",
	}, sorted)

	differs := false
	for e := uint64(6); e < 20 && !differs; e++ {
		c, err := s.Select(e)
		require.NoError(t, err)
		differs = fmt.Sprint(c) != fmt.Sprint(a)
	}
	assert.True(t, differs, "other epochs should permute differently")
}

func TestSelectFallsBackToRegistrationOrder(t *testing.T) {
	ids, l, pol := setup(t, []int64{0, 50, 0})

	s, err := NewSelector(ids, l, pol)
	require.NoError(t, err)
	got, err := s.Select(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"citizen_000000", "citizen_000001", "citizen_000002"}, got)
}

func TestEligibilityExpression(t *testing.T) {
	ids, l, pol := setup(t, []int64{10, 500})
	expr := "staked >= 100.0"
	_, err := pol.Apply(policy.Update{EligibilityExpr: &expr})
	require.NoError(t, err)

	s, err := NewSelector(ids, l, pol)
	require.NoError(t, err)
	ranked, err := s.Rank()
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "citizen_000001", ranked[0].ID)

	bad := "staked +"
	_, err = pol.Apply(policy.Update{EligibilityExpr: &bad})
	require.NoError(t, err)
	_, err = s.Rank()
	assert.True(t, errors.Is(err, kerr.ErrInvalidPolicy))
}

func TestShuffleIsPermutation(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	shuffle(ids, Seed(1, "h"))
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, sorted)
}
