package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/enablr/escrowd/internal/idgen"
	"github.com/enablr/escrowd/internal/metrics"
	"github.com/enablr/escrowd/internal/retry"
)

// Job names recorded in the execution log.
const (
	JobAutoRelease     = "escrow_auto_release"
	JobFinalSettlement = "escrow_final_settlement"
)

// RunSummary is the outcome of one sweep run.
type RunSummary struct {
	TotalChecked int `json:"totalChecked"`
	Processed    int `json:"processed"`
	Released     int `json:"released"`
	Skipped      int `json:"skipped"`
	Errors       int `json:"errors"`
}

// JobRun is one persisted record per sweep execution.
type JobRun struct {
	ID         string      `json:"id"`
	JobName    string      `json:"jobName"`
	ExecutedAt time.Time   `json:"executedAt"`
	Status     string      `json:"status"` // "success" or "error"
	Result     *RunSummary `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// JobLog persists sweep run records.
type JobLog interface {
	Record(ctx context.Context, run *JobRun) error
}

const sweepBatchSize = 100

// Job periodically drives the two settlement sweeps: auto-release of
// escrows past their deadline, and final closure of released escrows past
// their settlement date. Each sweep is idempotent (the status filter makes
// re-runs a no-op) and isolates per-escrow failures so one bad escrow never
// blocks the batch.
type Job struct {
	manager  *Manager
	store    Store
	disputes DisputeGate
	joblog   JobLog
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
	now      func() time.Time

	// Singleflight guards: overlapping ticks must not run the same sweep
	// concurrently.
	autoReleaseBusy atomic.Bool
	settlementBusy  atomic.Bool
}

// NewJob creates the settlement job.
func NewJob(manager *Manager, store Store, disputes DisputeGate, joblog JobLog, interval time.Duration, logger *slog.Logger) *Job {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Job{
		manager:  manager,
		store:    store,
		disputes: disputes,
		joblog:   joblog,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// WithClock overrides the time source (for tests).
func (j *Job) WithClock(now func() time.Time) *Job {
	j.now = now
	return j
}

// Running reports whether the job loop is active.
func (j *Job) Running() bool {
	return j.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (j *Job) Start(ctx context.Context) {
	j.running.Store(true)
	defer j.running.Store(false)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stop:
			return
		case <-ticker.C:
			j.safeSweep(ctx)
		}
	}
}

// Stop signals the job to stop after the in-flight sweep finishes. The
// buffered send keeps the signal pending even when the loop is mid-sweep.
func (j *Job) Stop() {
	select {
	case j.stop <- struct{}{}:
	default:
	}
}

func (j *Job) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("panic in settlement job", "panic", fmt.Sprint(r))
		}
	}()
	j.RunAutoRelease(ctx)
	j.RunFinalSettlement(ctx)
}

// RunAutoRelease executes one auto-release sweep: every escrow in
// release_initiated with auto-release enabled is released once its deadline
// has passed and no live dispute exists.
func (j *Job) RunAutoRelease(ctx context.Context) *RunSummary {
	if !j.autoReleaseBusy.CompareAndSwap(false, true) {
		j.logger.Debug("auto-release sweep already running, skipping tick")
		return nil
	}
	defer j.autoReleaseBusy.Store(false)

	summary := &RunSummary{}
	executedAt := j.now()

	accounts, err := j.store.ListAwaitingRelease(ctx, sweepBatchSize)
	if err != nil {
		j.logger.Warn("failed to list escrows awaiting release", "error", err)
		j.record(ctx, JobAutoRelease, executedAt, summary, err)
		return summary
	}

	now := j.now()
	for _, acct := range accounts {
		// Shutdown: finish nothing new, the in-flight item already completed.
		if ctx.Err() != nil {
			break
		}
		summary.TotalChecked++

		if now.Before(acct.AutoReleaseDeadline) {
			summary.Skipped++
			continue
		}

		live, err := j.disputes.HasLiveDispute(ctx, acct.ID)
		if err != nil {
			summary.Errors++
			j.logger.Warn("dispute check failed during sweep", "escrowId", acct.ID, "error", err)
			continue
		}
		if live {
			summary.Skipped++
			j.logger.Debug("skipping escrow with live dispute", "escrowId", acct.ID)
			continue
		}

		err = retry.Do(ctx, 3, 100*time.Millisecond, func() error {
			err := j.manager.ExecuteAutoRelease(ctx, acct.ID)
			// A concurrent transition beat us to it; retrying won't help and
			// the escrow is no longer eligible.
			if err != nil && isPermanent(err) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			if isPermanent(err) {
				// Already transitioned out of release_initiated: idempotent no-op.
				summary.Skipped++
				continue
			}
			summary.Errors++
			j.logger.Warn("failed to auto-release escrow", "escrowId", acct.ID, "error", err)
			continue
		}
		summary.Processed++
		summary.Released++
		j.logger.Info("auto-released escrow",
			"escrowId", acct.ID,
			"bookingId", acct.BookingID,
			"payoutCents", acct.EnablerPayoutCents,
		)
	}

	j.record(ctx, JobAutoRelease, executedAt, summary, nil)
	return summary
}

// RunFinalSettlement executes one final-settlement sweep: every released,
// unarchived escrow past its settlement date is closed.
func (j *Job) RunFinalSettlement(ctx context.Context) *RunSummary {
	if !j.settlementBusy.CompareAndSwap(false, true) {
		j.logger.Debug("settlement sweep already running, skipping tick")
		return nil
	}
	defer j.settlementBusy.Store(false)

	summary := &RunSummary{}
	executedAt := j.now()

	accounts, err := j.store.ListSettleable(ctx, j.now(), sweepBatchSize)
	if err != nil {
		j.logger.Warn("failed to list settleable escrows", "error", err)
		j.record(ctx, JobFinalSettlement, executedAt, summary, err)
		return summary
	}

	for _, acct := range accounts {
		if ctx.Err() != nil {
			break
		}
		summary.TotalChecked++

		err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
			_, err := j.manager.Close(ctx, acct.ID, "system")
			if err != nil && isPermanent(err) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			if isPermanent(err) {
				summary.Skipped++
				continue
			}
			summary.Errors++
			j.logger.Warn("failed to close escrow", "escrowId", acct.ID, "error", err)
			continue
		}
		summary.Processed++
		j.logger.Info("closed escrow at final settlement", "escrowId", acct.ID, "bookingId", acct.BookingID)
	}

	j.record(ctx, JobFinalSettlement, executedAt, summary, nil)
	return summary
}

func (j *Job) record(ctx context.Context, jobName string, executedAt time.Time, summary *RunSummary, sweepErr error) {
	status := "success"
	if sweepErr != nil {
		status = "error"
	}
	metrics.SweepRunsTotal.WithLabelValues(jobName, status).Inc()

	if j.joblog == nil {
		return
	}
	run := &JobRun{
		ID:         idgen.WithPrefix("job_"),
		JobName:    jobName,
		ExecutedAt: executedAt,
		Status:     status,
		Result:     summary,
	}
	if sweepErr != nil {
		run.Error = sweepErr.Error()
	}
	if err := j.joblog.Record(ctx, run); err != nil {
		j.logger.Warn("failed to record job run", "job", jobName, "error", err)
	}
}

// isPermanent reports whether an error is a state-machine outcome that a
// retry cannot change, as opposed to a transient storage failure.
func isPermanent(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrEscrowNotFound) || errors.Is(err, ErrInvariant)
}
