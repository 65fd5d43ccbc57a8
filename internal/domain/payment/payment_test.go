package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
)

func newPayment(t *testing.T) *Payment {
	t.Helper()
	p, err := New("pay-1", "o-1", "PAY_1_abcdef12", MethodCard, 9000, "SIMULATOR")
	require.NoError(t, err)
	return p
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusTimeoutPending, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusPartialCanceled, true},
		{StatusTimeoutPending, StatusFailed, true},
		{StatusTimeoutPending, StatusProcessing, true},
		{StatusPending, StatusPartialCanceled, false},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCanceled, StatusProcessing, false},
		{StatusPartialCanceled, StatusCanceled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCanceled, StatusPartialCanceled} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []Status{StatusPending, StatusProcessing, StatusTimeoutPending} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestTransition(t *testing.T) {
	p := newPayment(t)

	changed, err := p.Transition(StatusProcessing, "tx-1", "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "tx-1", p.TransactionKey)

	changed, err = p.Transition(StatusCompleted, "", "")
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, p.PaidAt)
	assert.Equal(t, "tx-1", p.TransactionKey, "empty key keeps the earlier one")

	changed, err = p.Transition(StatusCompleted, "", "")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = p.Transition(StatusFailed, "", "late failure")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.ErrorIs(t, err, apperr.BadRequest)
}

func TestParse(t *testing.T) {
	s, err := ParseStatus("completed")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s)

	_, err = ParseStatus("REFUNDED")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	m, err := ParseMethod("point_only")
	require.NoError(t, err)
	assert.False(t, m.RequiresGateway())
	assert.True(t, MethodCard.RequiresGateway())

	_, err = ParseMethod("CASH")
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestResultFor(t *testing.T) {
	r, ok := ResultFor(StatusCanceled)
	assert.True(t, ok)
	assert.Equal(t, ResultCancelled, r)

	// The PG does not say which lines a partial cancel refunded, so the order
	// is cancelled in full.
	r, ok = ResultFor(StatusPartialCanceled)
	assert.True(t, ok)
	assert.Equal(t, ResultCancelled, r)

	_, ok = ResultFor(StatusTimeoutPending)
	assert.False(t, ok)
}

func TestFailureCategory(t *testing.T) {
	assert.False(t, FailureBadRequest.Retryable())
	assert.True(t, FailureNetworkError.Retryable())
	assert.ErrorIs(t, FailureServerError.Err(), apperr.ExternalUnavailable)
	assert.ErrorIs(t, FailureCircuitOpen.Err(), ErrCircuitOpen)
	assert.ErrorIs(t, FailureBadRequest.Err(), apperr.BadRequest)
	assert.NoError(t, FailureCategory("").Err())
}
