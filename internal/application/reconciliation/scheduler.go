package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	apppayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
)

const (
	Service = "reconciliation-scheduler"

	useCaseReconcile = "payment.reconcile"
	lockKey          = "saga:reconciliation:leader"

	ExhaustedReason = "reconciliation exhausted"

	OutcomeSettled      = "settled"
	OutcomeForcedFailed = "forced_failed"
	OutcomeRepublished  = "republished"
	OutcomeError        = "error"
)

var errAmbiguous = errors.New("reconciliation: gateway status is not terminal")

type Config struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	Attempts    int
	Backoff     time.Duration
	Concurrency int
	BatchSize   int
	LockTTL     time.Duration
	// ResultGrace is how long a settled payment may wait for its order to
	// react before the result event is published again.
	ResultGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * c.Interval
	}
	if c.ResultGrace <= 0 {
		c.ResultGrace = time.Minute
	}
	return c
}

type Summary struct {
	Scanned     int
	Settled     int
	Forced      int
	Errors      int
	Republished int
	Skipped     bool
}

// Scheduler re-polls the gateway for payments stuck in TIMEOUT_PENDING, or
// in PENDING or PROCESSING beyond StaleAfter. A payment whose status stays
// unknown for Attempts polls is forced to FAILED, which in turn triggers
// compensation. Each pass also re-publishes the result of settled payments
// whose order never reacted to it.
type Scheduler struct {
	payments dompayment.Repository
	gateway  dompayment.Gateway
	settler  *apppayment.Settler
	locker   Locker
	backlog  ResultBacklog
	cfg      Config
	in       *application.Instruments
	outcomes observability.Counter // reconciliation_outcomes_total{outcome}
	now      func() time.Time
}

func NewScheduler(
	payments dompayment.Repository,
	gateway dompayment.Gateway,
	settler *apppayment.Settler,
	locker Locker,
	backlog ResultBacklog,
	cfg Config,
	in *application.Instruments,
) *Scheduler {
	return &Scheduler{
		payments: payments,
		gateway:  gateway,
		settler:  settler,
		locker:   locker,
		backlog:  backlog,
		cfg:      cfg.withDefaults(),
		in:       in,
		outcomes: in.Tel.Metrics().Counter(observability.MReconciliationOutcomes),
		now:      time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := logctx.FromOr(ctx, s.in.Log)
	logger.Info("reconciliation_started", observability.F("interval", s.cfg.Interval.String()))

	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("reconciliation_stopped")
			return nil
		case <-t.C:
			if _, err := s.RunOnce(ctx); err != nil {
				logger.Warn("reconciliation_pass_failed", observability.F("error", err.Error()))
			}
		}
	}
}

// RunOnce performs a single pass over the stuck payments, then sweeps the
// result backlog. A nil backlog skips the sweep.
func (s *Scheduler) RunOnce(ctx context.Context) (_ Summary, err error) {
	ctx, run := s.in.Begin(ctx, useCaseReconcile, "ReconcilePayments",
		attribute.Int("reconciliation.batch_size", s.cfg.BatchSize),
	)
	defer func() { run.End(err) }()

	if s.locker != nil {
		release, ok, lerr := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
		if lerr != nil {
			return Summary{}, run.Fail("LOCK_FAILED", fmt.Errorf("reconciliation: acquire lock: %w", lerr))
		}
		if !ok {
			run.Set("NOT_LEADER")
			return Summary{Skipped: true}, nil
		}
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				run.Logger.Warn("reconciliation_lock_release_failed", observability.F("error", rerr.Error()))
			}
		}()
	}

	now := s.now()
	timedOut, ferr := s.payments.FindStale(ctx, dompayment.StatusTimeoutPending, now, s.cfg.BatchSize)
	if ferr != nil {
		return Summary{}, run.Fail("SCAN_FAILED", ferr)
	}
	targets := timedOut
	for _, status := range []dompayment.Status{dompayment.StatusPending, dompayment.StatusProcessing} {
		stale, ferr := s.payments.FindStale(ctx, status, now.Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
		if ferr != nil {
			return Summary{}, run.Fail("SCAN_FAILED", ferr)
		}
		targets = append(targets, stale...)
	}

	var settled, forced, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, p := range targets {
		g.Go(func() error {
			switch s.reconcile(gctx, p) {
			case OutcomeSettled:
				settled.Add(1)
			case OutcomeForcedFailed:
				forced.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{
		Scanned: len(targets),
		Settled: int(settled.Load()),
		Forced:  int(forced.Load()),
		Errors:  int(failed.Load()),
	}
	republished, errs, serr := s.sweep(ctx, now)
	if serr != nil {
		return sum, run.Fail("SCAN_FAILED", serr)
	}
	sum.Republished = republished
	sum.Errors += errs

	run.Field("scanned", sum.Scanned)
	run.Field("settled", sum.Settled)
	run.Field("forced_failed", sum.Forced)
	run.Field("republished", sum.Republished)
	run.Field("errors", sum.Errors)
	return sum, nil
}

// sweep publishes the result of every settled payment whose order is still
// waiting for it. This covers an event lost on the way to the order consumer.
func (s *Scheduler) sweep(ctx context.Context, now time.Time) (republished, errs int, err error) {
	if s.backlog == nil {
		return 0, 0, nil
	}
	waiting, err := s.backlog.FindAwaitingResult(ctx, now.Add(-s.cfg.ResultGrace), s.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	logger := logctx.FromOr(ctx, s.in.Log)
	for _, p := range waiting {
		outcome := OutcomeRepublished
		if perr := s.settler.Republish(ctx, p); perr != nil {
			logger.Warn("reconciliation_republish_failed",
				observability.F("payment_seq", p.Seq),
				observability.F("error", perr.Error()),
			)
			outcome = OutcomeError
			errs++
		} else {
			republished++
		}
		s.outcomes.Add(1, observability.L("outcome", outcome))
	}
	return republished, errs, nil
}

func (s *Scheduler) reconcile(ctx context.Context, p *dompayment.Payment) string {
	logger := logctx.FromOr(ctx, s.in.Log).With(observability.F("payment_seq", p.Seq))

	var res dompayment.StatusResult
	attempts := 0
	op := func() error {
		attempts++
		res = s.gateway.Status(ctx, p.Seq)
		// A rejected lookup counts as one failed attempt like any other: the
		// PG may not have indexed the payment yet.
		switch {
		case !res.OK():
			return fmt.Errorf("%w: %s", res.Failure.Err(), res.Message)
		case !res.Status.IsTerminal():
			return fmt.Errorf("%w: %s", errAmbiguous, res.Status)
		}
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.Backoff), uint64(s.cfg.Attempts-1)),
		ctx,
	)

	var outcome string
	if err := backoff.Retry(op, policy); err == nil {
		outcome = OutcomeSettled
		if _, aerr := s.settler.Apply(ctx, p.Seq, res.Status, res.TransactionKey, res.Message); aerr != nil {
			logger.Warn("reconciliation_apply_failed", observability.F("error", aerr.Error()))
			outcome = OutcomeError
		}
	} else if ctx.Err() != nil {
		outcome = OutcomeError
	} else {
		logger.Warn("reconciliation_exhausted",
			observability.F("attempts", attempts),
			observability.F("error", err.Error()),
		)
		outcome = OutcomeForcedFailed
		if _, aerr := s.settler.Apply(ctx, p.Seq, dompayment.StatusFailed, "", ExhaustedReason); aerr != nil {
			logger.Error("reconciliation_force_fail_failed", observability.F("error", aerr.Error()))
			outcome = OutcomeError
		}
	}

	s.outcomes.Add(1, observability.L("outcome", outcome))
	logger.Info("payment_reconciled",
		observability.F("outcome", outcome),
		observability.F("attempts", attempts),
	)
	return outcome
}
