package payment_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-saga/internal/application/apptest"
	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	apppayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
)

type fixture struct {
	store   *apptest.Store
	bus     *apptest.SyncBus
	gateway *apptest.Gateway
	settler *apppayment.Settler
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := apptest.NewStore()
	bus := apptest.NewSyncBus()
	return &fixture{
		store:   store,
		bus:     bus,
		gateway: &apptest.Gateway{},
		settler: apppayment.NewSettler(store.Payments, bus, apptest.Instruments(apppayment.PaymentService)),
	}
}

// seed stores a payment for order o1 in status.
func (f *fixture) seed(t *testing.T, seq string, status domain.Status) {
	t.Helper()
	p, err := domain.New("id-"+seq, "o1", seq, domain.MethodCard, 9000, "PG")
	require.NoError(t, err)
	p.Status = status
	require.NoError(t, f.store.Payments.Insert(context.Background(), p))
}

func (f *fixture) status(t *testing.T, seq string) domain.Status {
	t.Helper()
	p, err := f.store.Payments.FindBySeq(context.Background(), seq)
	require.NoError(t, err)
	return p.Status
}

func (f *fixture) callback() *apppayment.CallbackUseCase {
	return apppayment.NewCallbackUseCase(f.settler, apptest.Instruments(apppayment.PaymentService))
}

func (f *fixture) statusCheck() *apppayment.StatusCheckUseCase {
	return apppayment.NewStatusCheckUseCase(f.store.Payments, f.gateway, f.settler, apptest.Instruments(apppayment.PaymentService))
}

func TestSettlerPublishesOnlyTerminalChanges(t *testing.T) {
	f := setup(t)
	f.seed(t, "S1", domain.StatusPending)
	ctx := context.Background()

	out, err := f.settler.Apply(ctx, "S1", domain.StatusProcessing, "tx-1", "")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Empty(t, f.bus.Results())

	out, err = f.settler.Apply(ctx, "S1", domain.StatusProcessing, "tx-1", "")
	require.NoError(t, err)
	assert.False(t, out.Changed)

	out, err = f.settler.Apply(ctx, "S1", domain.StatusCompleted, "", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, out.Before)
	assert.Equal(t, domain.StatusCompleted, out.After)
	require.Len(t, f.bus.Results(), 1)
	assert.Equal(t, domain.ResultCompleted, f.bus.Results()[0].Result)
	assert.Equal(t, "tx-1", f.bus.Results()[0].TransactionKey)

	out, err = f.settler.Apply(ctx, "S1", domain.StatusFailed, "", "late")
	require.NoError(t, err, "terminal payments absorb further updates")
	assert.False(t, out.Changed)
	assert.Equal(t, domain.StatusCompleted, f.status(t, "S1"))
	assert.Len(t, f.bus.Results(), 1)
}

func TestSettlerRacesResolveToOneWinner(t *testing.T) {
	f := setup(t)
	f.seed(t, "S1", domain.StatusProcessing)

	var wg sync.WaitGroup
	var mu sync.Mutex
	changed := 0
	for i := 0; i < 10; i++ {
		next := domain.StatusCompleted
		if i%2 == 1 {
			next = domain.StatusFailed
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.settler.Apply(context.Background(), "S1", next, "", "")
			assert.NoError(t, err)
			if out.Changed {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, changed)
	assert.Len(t, f.bus.Results(), 1)
	assert.True(t, f.status(t, "S1").IsTerminal())
}

func TestSettlerRejectsIllegalTransition(t *testing.T) {
	f := setup(t)
	f.seed(t, "S1", domain.StatusProcessing)

	_, err := f.settler.Apply(context.Background(), "S1", domain.StatusPending, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, domain.StatusProcessing, f.status(t, "S1"))
}

func TestCallback(t *testing.T) {
	tests := []struct {
		name    string
		in      apppayment.CallbackInput
		wantErr error
	}{
		{"missing seq", apppayment.CallbackInput{Status: "COMPLETED"}, apppayment.ErrSeqRequired},
		{"unknown status", apppayment.CallbackInput{PaymentSeq: "S1", Status: "DONE"}, domain.ErrInvalidStatus},
		{"non terminal", apppayment.CallbackInput{PaymentSeq: "S1", Status: "PROCESSING"}, apppayment.ErrNonTerminalCallback},
		{"unknown payment", apppayment.CallbackInput{PaymentSeq: "nope", Status: "COMPLETED"}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			f.seed(t, "S1", domain.StatusProcessing)
			_, err := f.callback().Execute(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, domain.StatusProcessing, f.status(t, "S1"))
		})
	}
}

func TestCallbackIsIdempotent(t *testing.T) {
	f := setup(t)
	f.seed(t, "S1", domain.StatusTimeoutPending)
	uc := f.callback()
	in := apppayment.CallbackInput{PaymentSeq: "S1", TransactionKey: "tx-9", Status: "completed", Amount: 9000}

	first, err := uc.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, domain.StatusCompleted, first.Status)

	for i := 0; i < 3; i++ {
		again, err := uc.Execute(context.Background(), in)
		require.NoError(t, err)
		assert.False(t, again.Applied)
	}
	assert.Len(t, f.bus.Results(), 1)
}

func TestCallbackCancelMapsToCancelledResult(t *testing.T) {
	f := setup(t)
	f.seed(t, "S1", domain.StatusProcessing)

	_, err := f.callback().Execute(context.Background(), apppayment.CallbackInput{PaymentSeq: "S1", Status: "PARTIAL_CANCELED"})
	require.NoError(t, err)

	require.Len(t, f.bus.Results(), 1)
	assert.Equal(t, domain.ResultCancelled, f.bus.Results()[0].Result)
}

func TestStatusCheck(t *testing.T) {
	tests := []struct {
		name        string
		current     domain.Status
		gateway     domain.StatusResult
		wantAfter   domain.Status
		wantSummary string
	}{
		{
			name:        "settles from gateway",
			current:     domain.StatusProcessing,
			gateway:     domain.StatusResult{Status: domain.StatusCompleted, TransactionKey: "tx-1"},
			wantAfter:   domain.StatusCompleted,
			wantSummary: "status check complete: PROCESSING -> COMPLETED",
		},
		{
			name:        "still processing",
			current:     domain.StatusProcessing,
			gateway:     domain.StatusResult{Status: domain.StatusProcessing},
			wantAfter:   domain.StatusProcessing,
			wantSummary: "status check complete: PROCESSING -> PROCESSING",
		},
		{
			name:        "gateway down",
			current:     domain.StatusTimeoutPending,
			gateway:     domain.StatusResult{Failure: domain.FailureCircuitOpen, Message: "breaker open"},
			wantAfter:   domain.StatusTimeoutPending,
			wantSummary: "gateway status check failed (CIRCUIT_OPEN): breaker open",
		},
		{
			name:        "no applicable transition",
			current:     domain.StatusTimeoutPending,
			gateway:     domain.StatusResult{Status: domain.StatusPending},
			wantAfter:   domain.StatusTimeoutPending,
			wantSummary: "status check complete: TIMEOUT_PENDING -> TIMEOUT_PENDING (gateway reports PENDING)",
		},
		{
			name:        "already settled",
			current:     domain.StatusFailed,
			gateway:     domain.StatusResult{Status: domain.StatusCompleted},
			wantAfter:   domain.StatusFailed,
			wantSummary: "payment already settled: FAILED",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			f.seed(t, "S1", tt.current)
			f.gateway.StatusResults = []domain.StatusResult{tt.gateway}

			res, err := f.statusCheck().Execute(context.Background(), "S1")
			require.NoError(t, err)
			assert.Equal(t, tt.current, res.Before)
			assert.Equal(t, tt.wantAfter, res.After)
			assert.Equal(t, tt.wantSummary, res.Summary)
			assert.Equal(t, tt.wantAfter, f.status(t, "S1"))
		})
	}
}

func TestStatusCheckSkipsGatewayForSettledPayment(t *testing.T) {
	f := setup(t)
	f.seed(t, "S1", domain.StatusCompleted)

	_, err := f.statusCheck().Execute(context.Background(), "S1")
	require.NoError(t, err)
	assert.Zero(t, f.gateway.Calls())
}

func TestStatusCheckUnknownPayment(t *testing.T) {
	f := setup(t)
	_, err := f.statusCheck().Execute(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestStartWithZeroAmountSkipsGateway(t *testing.T) {
	f := setup(t)
	f.seed(t, "S1", domain.StatusPending)
	uc := apppayment.NewStartPaymentUseCase(f.gateway, f.settler, "http://cb", apptest.Instruments(apppayment.PaymentService))

	st, err := uc.Start(context.Background(), apporder.StartPaymentInput{PaymentSeq: "S1", Method: domain.MethodCard, Amount: 0})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, st)
	assert.Empty(t, f.gateway.Submits)
}

func TestStartPassesCallbackURL(t *testing.T) {
	f := setup(t)
	f.seed(t, "S1", domain.StatusPending)
	f.gateway.SubmitResult = domain.SubmitResult{TransactionKey: "tx-1"}
	uc := apppayment.NewStartPaymentUseCase(f.gateway, f.settler, "http://cb", apptest.Instruments(apppayment.PaymentService))

	st, err := uc.Start(context.Background(), apporder.StartPaymentInput{
		PaymentSeq: "S1", Method: domain.MethodKakaoPay, Amount: 9000, CardType: "KB", CardNo: "1111",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, st)
	require.Len(t, f.gateway.Submits, 1)
	assert.Equal(t, "http://cb", f.gateway.Submits[0].CallbackURL)
	assert.Equal(t, "KB", f.gateway.Submits[0].CardType)
}
