// Package orchestrator runs one batch task to completion: it dispatches every
// file to the provider under the adapter's policy, records each outcome as it
// lands and settles the escrow once all files are done.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/inaiurai/metagen/internal/models"
	"github.com/inaiurai/metagen/internal/normalize"
	"github.com/inaiurai/metagen/internal/profiles"
	"github.com/inaiurai/metagen/internal/provider"
)

const DefaultMaxAttempts = 3

// Settle is retried this many times after the first try. A retry that finds
// the escrow already gone reports a conflict, which is harmless.
const (
	settleRetries     = 3
	settleBackoffBase = 200 * time.Millisecond
)

// Error is an orchestration failure: something outside the per-file loop broke
// and the batch could not run to completion.
type Error struct {
	TaskID uuid.UUID
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("orchestrate task %s: %s: %v", e.TaskID, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Lifecycle interface {
	Start(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	RecordProgress(ctx context.Context, taskID uuid.UUID, outcomes ...models.FileOutcome) (*models.Task, error)
	Finalize(ctx context.Context, taskID uuid.UUID, creditsUsed int) (*models.Task, error)
	SettlementFailed(ctx context.Context, taskID uuid.UUID, creditsUsed int, reason string) (*models.Task, error)
	Fail(ctx context.Context, taskID uuid.UUID, reason string) (*models.Task, error)
}

type Settler interface {
	Settle(ctx context.Context, escrowID uuid.UUID, actualCost int) (*models.Settlement, error)
}

type Adapters interface {
	Get(kind string) (provider.Adapter, error)
}

type Normalizer interface {
	Normalize(raw string, job models.FileJob, profile *profiles.Profile) (models.Metadata, error)
}

type Orchestrator struct {
	lifecycle   Lifecycle
	ledger      Settler
	adapters    Adapters
	normalizer  Normalizer
	maxAttempts int
	settleBase  time.Duration
	logger      *slog.Logger
}

func New(lifecycle Lifecycle, ledger Settler, adapters Adapters, normalizer Normalizer, maxAttempts int, logger *slog.Logger) *Orchestrator {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Orchestrator{
		lifecycle:   lifecycle,
		ledger:      ledger,
		adapters:    adapters,
		normalizer:  normalizer,
		maxAttempts: maxAttempts,
		settleBase:  settleBackoffBase,
		logger:      logger.With("component", "orchestrator"),
	}
}

// run is the state of a single batch run.
type run struct {
	task      *models.Task
	cred      models.Credential
	profile   *profiles.Profile
	adapter   provider.Adapter
	prompt    string
	limiter   *rate.Limiter
	successes atomic.Int64
	logger    *slog.Logger
}

// Run processes files for task. Per-file failures become failure outcomes;
// only orchestration failures are returned, after the task is marked FAILED.
func (o *Orchestrator) Run(ctx context.Context, task *models.Task, files []models.FileJob, cred models.Credential, profile *profiles.Profile) error {
	r := &run{
		task:    task,
		cred:    cred,
		profile: profile,
		logger:  o.logger.With("task_id", task.ID, "provider", cred.Provider),
	}

	adapter, err := o.adapters.Get(cred.Provider)
	if err != nil {
		return o.fail(ctx, r, "resolve provider", err)
	}
	r.adapter = adapter

	if _, err := o.lifecycle.Start(ctx, task.ID); err != nil {
		return o.fail(ctx, r, "start", err)
	}

	r.prompt, err = profiles.BuildPrompt(profile, task.Input.NumKeywords, task.Input.TitleChars)
	if err != nil {
		return o.fail(ctx, r, "build prompt", err)
	}

	policy := adapter.Policy()
	if policy.MinInterRequestDelay > 0 {
		r.limiter = rate.NewLimiter(rate.Every(policy.MinInterRequestDelay), 1)
	}
	r.logger.Info("batch run started", "files", len(files), "max_concurrency", policy.MaxConcurrency,
		"min_delay", policy.MinInterRequestDelay, "vision", cred.Vision)

	if err := o.dispatch(ctx, r, files, policy); err != nil {
		return o.fail(ctx, r, "dispatch", err)
	}

	// Every outcome is recorded; settle even if the caller is shutting down.
	settleCtx := context.WithoutCancel(ctx)
	creditsUsed := int(r.successes.Load()) * task.PerFileCost
	settlement, err := o.settle(settleCtx, r, creditsUsed)
	if err != nil {
		r.logger.Error("settlement failed, escrow held for reconciliation", "escrow_id", task.EscrowID,
			"credits_used", creditsUsed, "error", err)
		if _, ferr := o.lifecycle.SettlementFailed(settleCtx, task.ID, creditsUsed, err.Error()); ferr != nil {
			r.logger.Error("could not record settlement failure", "error", ferr)
		}
		return &Error{TaskID: task.ID, Op: "settle", Err: err}
	}
	if !settlement.Conflict {
		r.logger.Info("batch settled", "credits_used", settlement.Used, "refund", settlement.Refund)
	}

	if _, err := o.lifecycle.Finalize(settleCtx, task.ID, creditsUsed); err != nil {
		return &Error{TaskID: task.ID, Op: "finalize", Err: err}
	}
	r.logger.Info("batch run finished", "succeeded", r.successes.Load(), "files", len(files))
	return nil
}

// settle retries transient ledger errors. Validation errors are returned at once.
func (o *Orchestrator) settle(ctx context.Context, r *run, creditsUsed int) (*models.Settlement, error) {
	backoff := retry.WithMaxRetries(settleRetries, retry.NewExponential(o.settleBase))
	attempt := 0
	return retry.DoValue(ctx, backoff, func(ctx context.Context) (*models.Settlement, error) {
		attempt++
		s, err := o.ledger.Settle(ctx, r.task.EscrowID, creditsUsed)
		switch {
		case err == nil:
			return s, nil
		case errors.Is(err, models.ErrInvalidAmount), errors.Is(err, models.ErrCostExceedsReservation):
			return nil, err
		}
		r.logger.Warn("settle attempt failed", "escrow_id", r.task.EscrowID, "attempt", attempt, "error", err)
		return nil, retry.RetryableError(err)
	})
}

func (o *Orchestrator) dispatch(ctx context.Context, r *run, files []models.FileJob, policy provider.Policy) error {
	if policy.Sequential() {
		for _, f := range files {
			if err := o.processAndRecord(ctx, r, f); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(policy.MaxConcurrency)
	for _, f := range files {
		g.Go(func() error {
			return o.processAndRecord(gctx, r, f)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) processAndRecord(ctx context.Context, r *run, f models.FileJob) error {
	outcome, err := o.process(ctx, r, f)
	if err != nil {
		return err
	}
	if outcome.Success {
		r.successes.Add(1)
	}
	if _, err := o.lifecycle.RecordProgress(ctx, r.task.ID, outcome); err != nil {
		return fmt.Errorf("record outcome for %s: %w", f.ID, err)
	}
	return nil
}

// process tries one file up to maxAttempts times. The returned error is only
// ever a context error; provider and normalization failures end in an outcome.
func (o *Orchestrator) process(ctx context.Context, r *run, f models.FileJob) (models.FileOutcome, error) {
	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return models.FileOutcome{}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return models.FileOutcome{}, err
		}

		md, err := o.attempt(ctx, r, f)
		if err == nil {
			return models.FileOutcome{FileJobID: f.ID, Metadata: md, Success: true}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.FileOutcome{}, ctxErr
		}
		lastErr = err
		r.logger.Warn("file attempt failed", "file_id", f.ID, "attempt", attempt, "kind", errKind(err), "error", err)
	}
	return models.FileOutcome{FileJobID: f.ID, Success: false, Error: lastErr.Error()}, nil
}

func (o *Orchestrator) attempt(ctx context.Context, r *run, f models.FileJob) (models.Metadata, error) {
	var (
		raw string
		err error
	)
	if r.cred.Vision && len(f.Image) > 0 {
		raw, err = r.adapter.GenerateFromImage(ctx, r.cred.Secret, r.prompt, f.Image)
	} else {
		raw, err = r.adapter.GenerateFromText(ctx, r.cred.Secret, r.prompt, subject(f))
	}
	if err != nil {
		return nil, err
	}
	return o.normalizer.Normalize(raw, f, r.profile)
}

func subject(f models.FileJob) string {
	if strings.TrimSpace(f.Title) != "" {
		return f.Title
	}
	return f.Filename
}

// fail marks the task FAILED and leaves its escrow for reconciliation.
func (o *Orchestrator) fail(ctx context.Context, r *run, op string, cause error) error {
	oerr := &Error{TaskID: r.task.ID, Op: op, Err: cause}
	r.logger.Error("batch run failed", "op", op, "error", cause)
	if _, err := o.lifecycle.Fail(context.WithoutCancel(ctx), r.task.ID, oerr.Error()); err != nil {
		r.logger.Error("could not mark task failed", "error", err)
	}
	return oerr
}

func errKind(err error) string {
	var ne *normalize.Error
	if errors.As(err, &ne) {
		return ne.Kind.String()
	}
	return provider.KindOf(err).String()
}
