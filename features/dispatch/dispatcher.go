package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/balaji119/local-mail-forwarder-graph/features/queue"
	"github.com/balaji119/local-mail-forwarder-graph/internal/config"
)

// JobRepo is the slice of the queue repository the dispatcher drives.
type JobRepo interface {
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]queue.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, attempts int, nextRunAt time.Time, result string) error
	MarkError(ctx context.Context, id string, attempts int, result string) error
	ResetAbandoned(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id string) error
}

// Deliverer runs the delivery pipeline for one claimed job.
type Deliverer interface {
	Deliver(ctx context.Context, job *queue.Job) Outcome
}

// Ingester runs one mailbox ingestion pass ahead of claiming. Nil when the
// deployment captures over SMTP only.
type Ingester interface {
	Poll(ctx context.Context) error
}

type Options struct {
	Interval    time.Duration
	BatchSize   int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxAttempts caps delivery attempts; 0 retries forever. A job that
	// exhausts the cap moves to the error state and waits for an operator
	// to reset it.
	MaxAttempts int
}

// Dispatcher is the single claim-and-deliver loop. Jobs inside one tick are
// processed sequentially; a tick that overruns the interval causes the next
// tick to be skipped rather than overlapped, so at most one delivery runs at
// a time per process.
type Dispatcher struct {
	repo     JobRepo
	pipeline Deliverer
	ingester Ingester
	pub      queue.EventPublisher
	opts     Options
	logger   *slog.Logger
	busy     atomic.Bool
}

func NewDispatcher(repo JobRepo, pipeline Deliverer, ingester Ingester, pub queue.EventPublisher, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	return &Dispatcher{
		repo:     repo,
		pipeline: pipeline,
		ingester: ingester,
		pub:      pub,
		opts:     opts,
		logger:   logger,
	}
}

// Run recovers jobs stranded by a previous crash, then ticks until the
// context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	n, err := d.repo.ResetAbandoned(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		d.logger.InfoContext(ctx, "recovered abandoned jobs", "count", n)
	}

	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	d.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one pass: ingestion, claim, deliver. If a previous tick is still
// running the call returns immediately.
func (d *Dispatcher) Tick(ctx context.Context) {
	if !d.busy.CompareAndSwap(false, true) {
		d.logger.WarnContext(ctx, "previous tick still running, skipping")
		return
	}
	defer d.busy.Store(false)

	if d.ingester != nil {
		if err := d.ingester.Poll(ctx); err != nil {
			d.logger.ErrorContext(ctx, "ingestion pass failed", "error", err)
		}
	}

	jobs, err := d.repo.ClaimBatch(ctx, d.opts.BatchSize, time.Now())
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to claim jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}
	d.logger.InfoContext(ctx, "claimed jobs", "count", len(jobs))

	for i := range jobs {
		if ctx.Err() != nil {
			return
		}
		d.process(ctx, &jobs[i])
	}
}

func (d *Dispatcher) process(ctx context.Context, job *queue.Job) {
	outcome := d.pipeline.Deliver(ctx, job)

	switch outcome.Kind {
	case OutcomeSuccess:
		// Done before delete: if the delete is lost the row survives in a
		// terminal state instead of going back to pending.
		if err := d.repo.MarkDone(ctx, job.ID); err != nil {
			d.logger.ErrorContext(ctx, "failed to mark job done", "job_id", job.ID, "error", err)
			return
		}
		if err := d.repo.Delete(ctx, job.ID); err != nil {
			d.logger.ErrorContext(ctx, "failed to delete done job", "job_id", job.ID, "error", err)
		}
		d.logger.InfoContext(ctx, "job delivered", "job_id", job.ID, "attempts", job.Attempts+1)
		d.publish(config.TopicJobDelivered, job.ID, "")

	case OutcomeTerminal:
		d.fail(ctx, job, job.Attempts+1, outcome.Reason)

	case OutcomeRetry:
		attempts := job.Attempts + 1
		if d.opts.MaxAttempts > 0 && attempts >= d.opts.MaxAttempts {
			d.fail(ctx, job, attempts, outcome.Reason)
			return
		}
		delay := Backoff(d.opts.BackoffBase, d.opts.BackoffMax, job.Attempts)
		nextRun := time.Now().Add(delay)
		if err := d.repo.MarkRetry(ctx, job.ID, attempts, nextRun, outcome.Reason); err != nil {
			d.logger.ErrorContext(ctx, "failed to mark job for retry", "job_id", job.ID, "error", err)
			return
		}
		d.logger.WarnContext(ctx, "job delivery failed, will retry",
			"job_id", job.ID, "attempts", attempts, "next_run_at", nextRun, "reason", outcome.Reason)
		d.publish(config.TopicJobRetried, job.ID, outcome.Reason)
	}
}

func (d *Dispatcher) fail(ctx context.Context, job *queue.Job, attempts int, reason string) {
	if err := d.repo.MarkError(ctx, job.ID, attempts, reason); err != nil {
		d.logger.ErrorContext(ctx, "failed to mark job errored", "job_id", job.ID, "error", err)
		return
	}
	d.logger.ErrorContext(ctx, "job moved to error state", "job_id", job.ID, "attempts", attempts, "reason", reason)
	d.publish(config.TopicJobErrored, job.ID, reason)
}

func (d *Dispatcher) publish(topic, jobID, reason string) {
	if d.pub == nil {
		return
	}
	event := map[string]string{"job_id": jobID}
	if reason != "" {
		event["reason"] = reason
	}
	body, _ := json.Marshal(event)
	if err := d.pub.Publish(topic, body); err != nil {
		d.logger.Warn("failed to publish job event", "topic", topic, "job_id", jobID, "error", err)
	}
}
