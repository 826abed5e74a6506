package kerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKindAndCode(t *testing.T) {
	err := ErrInvalidDate.With("cycle.create", "date %q", "2024-13-01")

	assert.True(t, errors.Is(err, ErrValidation))
	assert.True(t, errors.Is(err, ErrInvalidDate))
	assert.False(t, errors.Is(err, ErrInvalidProposer))
	assert.False(t, errors.Is(err, ErrInsufficientFunds))
	assert.Equal(t, `cycle.create: MOBIUS/CYCLE/INVALID_DATE: date "2024-13-01"`, err.Error())
}

func TestErrorSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("apply block: %w", ErrFunds.With("credit.transfer", "short"))

	assert.True(t, errors.Is(wrapped, ErrInsufficientFunds))
	assert.Equal(t, KindInsufficientFunds, KindOf(wrapped))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindDuplicateVote, KindOf(ErrVoteExists.With("agora.vote", "again")))
}

func TestInternal(t *testing.T) {
	err := Internal("store.save", errors.New("disk full"))
	require.True(t, errors.Is(err, ErrInternal))
	assert.Contains(t, err.Error(), "disk full")
}
