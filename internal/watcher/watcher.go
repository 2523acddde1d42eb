// Package watcher follows submitted relayer jobs until they settle. The
// relayer and pool clients never retry; polling cadence, retries and
// persistence live here.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"poolbridge/internal/clienterr"
	"poolbridge/internal/jobstore"
	"poolbridge/internal/relayer"
	"poolbridge/internal/telemetry"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrMaxPolls is returned when a job is still pending after the poll budget.
var ErrMaxPolls = errors.New("job still pending after max polls")

// JobSource is the part of relayer.Client the watcher needs.
type JobSource interface {
	Job(ctx context.Context, id string) (relayer.Job, error)
}

type Options struct {
	Interval time.Duration
	// MaxPolls bounds the number of observations per job; zero means unbounded.
	MaxPolls int
	// Parallelism bounds WatchPending; zero means 4.
	Parallelism int
	Telemetry   *telemetry.Telemetry
}

type Watcher struct {
	source   JobSource
	store    jobstore.Store
	interval time.Duration
	maxPolls int
	parallel int
	tel      *telemetry.Telemetry
	logger   *slog.Logger
	now      func() time.Time
}

func New(source JobSource, store jobstore.Store, opts Options) (*Watcher, error) {
	if source == nil || store == nil {
		return nil, errors.New("watcher needs a job source and a store")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", opts.Interval)
	}
	if opts.MaxPolls < 0 {
		return nil, fmt.Errorf("max polls must not be negative, got %d", opts.MaxPolls)
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}
	parallel := opts.Parallelism
	if parallel <= 0 {
		parallel = 4
	}
	return &Watcher{
		source:   source,
		store:    store,
		interval: opts.Interval,
		maxPolls: opts.MaxPolls,
		parallel: parallel,
		tel:      tel,
		logger:   tel.Logger.With("component", "watcher"),
		now:      time.Now,
	}, nil
}

// Wait polls job id until it is Mined or Failed, persisting every
// observation. Transient relayer failures are logged and retried on the next
// tick; protocol violations end the watch.
func (w *Watcher) Wait(ctx context.Context, id string) (relayer.Job, error) {
	limiter := rate.NewLimiter(rate.Every(w.interval), 1)

	last, err := w.store.Get(ctx, id)
	if err != nil {
		return relayer.Job{}, fmt.Errorf("load job %s: %w", id, err)
	}
	if last != nil && last.State != jobstore.StatePending {
		return last.Job(), nil
	}

	for polls := 0; w.maxPolls == 0 || polls < w.maxPolls; polls++ {
		if err := limiter.Wait(ctx); err != nil {
			return jobOf(last), err
		}

		job, err := w.source.Job(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return jobOf(last), ctx.Err()
			}
			if retryable(err) {
				w.tel.IncJobPoll("error")
				w.logger.Warn("job poll failed, retrying", "job_id", id, "poll", polls+1, "error", err)
				continue
			}
			return jobOf(last), err
		}

		if last != nil {
			if err := relayer.CheckTransition(last.Baseline(job), job); err != nil {
				w.logger.Error("relayer reported an illegal job transition", "job_id", id, "error", err)
				return last.Job(), err
			}
		}
		rec := jobstore.FromJob(job, w.now())
		if err := w.store.Save(ctx, rec); err != nil {
			if errors.Is(err, jobstore.ErrSettled) {
				return w.settled(ctx, id)
			}
			return job, fmt.Errorf("save job %s: %w", id, err)
		}
		w.tel.IncJobPoll(job.State.String())
		w.logger.Debug("job observed", "job_id", id, "state", job.State.String(), "poll", polls+1)

		last = &rec
		if job.Terminal() {
			w.logger.Info("job settled", "job_id", id, "state", job.State.String())
			return job, nil
		}
	}
	return jobOf(last), fmt.Errorf("job %s: %w", id, ErrMaxPolls)
}

// settled returns the record another writer settled while this watch polled.
func (w *Watcher) settled(ctx context.Context, id string) (relayer.Job, error) {
	rec, err := w.store.Get(ctx, id)
	if err != nil {
		return relayer.Job{}, fmt.Errorf("load job %s: %w", id, err)
	}
	if rec == nil {
		return relayer.Job{}, fmt.Errorf("job %s vanished from the store", id)
	}
	w.logger.Info("job settled elsewhere", "job_id", id, "state", rec.State)
	return rec.Job(), nil
}

// WatchPending resumes every stored pending job and waits for all of them.
// Individual job failures are logged; only cancellation is returned.
func (w *Watcher) WatchPending(ctx context.Context) error {
	pending, err := w.store.Pending(ctx)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	w.tel.SetPendingJobs(len(pending))
	w.logger.Info("resuming pending jobs", "count", len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.parallel)
	for _, rec := range pending {
		id := rec.JobID
		g.Go(func() error {
			if _, err := w.Wait(gctx, id); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				w.logger.Warn("job watch ended without settling", "job_id", id, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	remaining, err := w.store.Pending(ctx)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	w.tel.SetPendingJobs(len(remaining))
	return nil
}

func retryable(err error) bool {
	switch clienterr.KindOf(err) {
	case clienterr.KindTransport, clienterr.KindTimeout:
		return true
	case clienterr.KindService:
		var ce *clienterr.Error
		return errors.As(err, &ce) && (ce.Status >= http.StatusInternalServerError || ce.Status == http.StatusTooManyRequests)
	default:
		return false
	}
}

func jobOf(rec *jobstore.Record) relayer.Job {
	if rec == nil {
		return relayer.Job{}
	}
	return rec.Job()
}
