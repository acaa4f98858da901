// Package engine runs one notification invocation end to end: compute
// pending reminders, dispatch them, then sweep recent failures. The engine
// holds no state between invocations; everything durable lives in the
// schedule store and the delivery ledger, and overlapping invocations are
// safe because the ledger's attempt constraint makes duplicate sends
// structurally impossible.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/metrics"
	"github.com/tundeakins/ajopool/internal/notify"
	"github.com/tundeakins/ajopool/internal/scheduler"
)

// maxReportedErrors caps the error sample returned to the trigger.
const maxReportedErrors = 10

// Config bounds one invocation.
type Config struct {
	Lookahead   time.Duration
	MaxRetries  int
	RetryMaxAge time.Duration
}

// RunResult aggregates one invocation for the trigger's response.
type RunResult struct {
	Pending        int      `json:"pending"`
	Sent           int      `json:"sent"`
	Failed         int      `json:"failed"`
	Retried        int      `json:"retried"`
	RetrySucceeded int      `json:"retrySucceeded"`
	RetryFailed    int      `json:"retryFailed"`
	Errors         []string `json:"errors,omitempty"`
}

// Engine wires the scheduler, sender and sweeper into one invocation.
type Engine struct {
	scheduler *scheduler.Scheduler
	sender    *notify.Sender
	sweeper   *notify.Sweeper
	cfg       Config
	logger    *zap.Logger
}

// New creates an Engine.
func New(sched *scheduler.Scheduler, sender *notify.Sender, sweeper *notify.Sweeper, cfg Config, logger *zap.Logger) *Engine {
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 24 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryMaxAge <= 0 {
		cfg.RetryMaxAge = 24 * time.Hour
	}
	return &Engine{
		scheduler: sched,
		sender:    sender,
		sweeper:   sweeper,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run executes one invocation at the given instant. A scheduling error
// aborts the run before any ledger write; per-reminder failures inside the
// sender and sweeper are absorbed into the result instead.
func (e *Engine) Run(ctx context.Context, now time.Time) (RunResult, error) {
	start := time.Now()

	pending, err := e.scheduler.ComputePending(ctx, now, e.cfg.Lookahead)
	if err != nil {
		metrics.RecordInvocation("error", time.Since(start))
		return RunResult{}, err
	}
	metrics.RecordRemindersComputed(len(pending))

	outcome := e.sender.Process(ctx, pending)

	sweep, err := e.sweeper.RetryFailed(ctx, e.cfg.MaxRetries, e.cfg.RetryMaxAge)
	if err != nil {
		// Sent reminders are already ledgered; report the sweep failure
		// alongside the partial result rather than discarding it.
		outcome.Errors = append(outcome.Errors, err.Error())
	}

	result := RunResult{
		Pending:        len(pending),
		Sent:           outcome.Sent,
		Failed:         outcome.Failed,
		Retried:        sweep.Retried,
		RetrySucceeded: sweep.Succeeded,
		RetryFailed:    sweep.Failed,
		Errors:         capErrors(outcome.Errors),
	}

	metrics.RecordInvocation("ok", time.Since(start))
	e.logger.Info("invocation complete",
		zap.Int("pending", result.Pending),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("retried", result.Retried),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func capErrors(errs []string) []string {
	if len(errs) <= maxReportedErrors {
		return errs
	}
	return errs[:maxReportedErrors]
}
