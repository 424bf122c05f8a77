// Package scheduler reconciles enabled Jobs against the durable queue's
// delayed-delivery set: each Job maps to at most one pending ScheduleAt
// arrangement, kept in sync with a persistent schedule_registrations
// table. The queue — not process memory — is the source of truth for
// "is this Job already arranged to run", grounded on the arkeep backup
// scheduler's policy-to-timer mapping (tag-keyed removal, reload-at-
// startup idiom) adapted so a Scheduler restart re-derives due times
// from durable state instead of trusting an in-process timer that
// doesn't survive the process, per spec §4.10 step 3: "the queue
// persists it so that Scheduler restarts do not duplicate or lose
// schedules."
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/util"
)

// promoteInterval bounds how long a due job can sit in the queue's delay
// set before PromoteDue notices it; kept independent of pollingInterval
// (the Reconcile cadence) since promotion needs finer granularity than
// re-deriving due times does.
const promoteInterval = 2 * time.Second

// Store is the subset of pkg/store.DB the Scheduler needs.
type Store interface {
	EnabledJobs(ctx context.Context) ([]model.Job, error)
	AllScheduleRegistrations(ctx context.Context) ([]model.ScheduleRegistration, error)
	UpsertScheduleRegistration(ctx context.Context, r model.ScheduleRegistration) error
	DeleteScheduleRegistration(ctx context.Context, jobID int64) error
}

// Queue is what the Scheduler needs from the durable work queue: an
// immediate push for TriggerNow's manual bypass, a dedup-by-signature
// delayed arrangement the queue itself persists, a way to tear one down,
// and a periodic sweep moving whatever has come due onto the work list
// the worker pool actually reads from. Satisfied by *redisqueue.Client.
type Queue interface {
	Enqueue(ctx context.Context, jobID int64) error
	ScheduleAt(ctx context.Context, jobID int64, signature string, runAt time.Time) error
	Cancel(ctx context.Context, jobID int64) error
	PromoteDue(ctx context.Context, now time.Time) error
}

// intervalParams is the schedule_params shape for ScheduleInterval Jobs.
type intervalParams struct {
	IntervalSeconds int64 `json:"interval_seconds"`
}

// cronParams is the schedule_params shape for ScheduleCron Jobs.
type cronParams struct {
	Expression string `json:"expression"`
}

// oneTimeParams is the schedule_params shape for ScheduleOneTime Jobs.
type oneTimeParams struct {
	RunAt time.Time `json:"run_at"`
}

// Scheduler keeps the queue's delayed-delivery set in sync with the
// enabled Job set on each Reconcile pass, and periodically promotes due
// entries onto the work list.
type Scheduler struct {
	store           Store
	queue           Queue
	pollingInterval time.Duration
}

// New builds a Scheduler. pollingInterval governs Run's reconcile loop
// and must be positive.
func New(store Store, queue Queue, pollingInterval time.Duration) (*Scheduler, error) {
	if pollingInterval <= 0 {
		return nil, fmt.Errorf("scheduler: pollingInterval must be positive, got %s", pollingInterval)
	}
	return &Scheduler{store: store, queue: queue, pollingInterval: pollingInterval}, nil
}

// Run loops Reconcile every pollingInterval and PromoteDue every
// promoteInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		util.WithField("component", "scheduler").Errorf("initial reconcile failed: %v", err)
	}

	reconcileTicker := time.NewTicker(s.pollingInterval)
	defer reconcileTicker.Stop()
	promoteTicker := time.NewTicker(promoteInterval)
	defer promoteTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reconcileTicker.C:
			if err := s.Reconcile(ctx); err != nil {
				util.WithField("component", "scheduler").Errorf("reconcile failed: %v", err)
			}
		case now := <-promoteTicker.C:
			if err := s.queue.PromoteDue(ctx, now); err != nil {
				util.WithField("component", "scheduler").Warnf("promoting due jobs: %v", err)
			}
		}
	}
}

// Reconcile re-derives the due time for every enabled, non-manual Job
// and arranges it with the queue, then tears down any registration whose
// Job is no longer enabled, no longer exists, or switched to manual.
//
// A Job whose schedule_signature hasn't changed and whose previously
// recorded NextRunAt is still in the future is left untouched — calling
// ScheduleAt again would be a harmless no-op (the queue dedupes by
// signature) but is unnecessary I/O. Once NextRunAt has passed, a
// recurring Job (interval/cron) is re-armed for its next occurrence; a
// onetime Job is never touched again once registered — the queue itself
// drops its own dedupe key when it promotes the entry, which is what
// would let a genuinely new signature back in.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	jobs, err := s.store.EnabledJobs(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: loading enabled jobs: %w", err)
	}
	registrations, err := s.store.AllScheduleRegistrations(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: loading schedule registrations: %w", err)
	}
	byJobID := make(map[int64]model.ScheduleRegistration, len(registrations))
	for _, r := range registrations {
		byJobID[r.JobID] = r
	}

	now := time.Now().UTC()
	seen := make(map[int64]bool, len(jobs))
	for _, job := range jobs {
		seen[job.ID] = true

		existing, hadRegistration := byJobID[job.ID]
		if job.ScheduleKind == model.ScheduleManual {
			if hadRegistration {
				s.teardown(ctx, job.ID)
			}
			continue
		}

		sig := scheduleSignature(job)
		if s.upToDate(existing, hadRegistration, sig, job.ScheduleKind, now) {
			continue
		}
		if hadRegistration && existing.ScheduleSignature != sig {
			s.teardown(ctx, job.ID)
		}

		if err := s.register(ctx, job, sig, now); err != nil {
			util.WithJob(job.ID).Warnf("scheduler: failed to register job: %v", err)
		}
	}

	for _, r := range registrations {
		if seen[r.JobID] {
			continue
		}
		s.teardown(ctx, r.JobID)
	}

	return nil
}

// upToDate reports whether an existing registration still accurately
// reflects job's schedule and needs no action this pass.
func (s *Scheduler) upToDate(existing model.ScheduleRegistration, hadRegistration bool, sig string, kind model.ScheduleKind, now time.Time) bool {
	if !hadRegistration || existing.ScheduleSignature != sig {
		return false
	}
	if kind == model.ScheduleOneTime {
		// Never re-armed: the signature encodes the one fixed run_at, so
		// an unchanged signature means this exact run was already
		// registered, whether or not it has since fired.
		return true
	}
	return existing.NextRunAt.After(now)
}

// register computes job's next due time and arranges it with the queue,
// persisting the registration so later Reconcile passes can tell it's
// current.
func (s *Scheduler) register(ctx context.Context, job model.Job, sig string, now time.Time) error {
	next, skip, err := nextRunAt(job, now)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	if err := s.queue.ScheduleAt(ctx, job.ID, sig, next); err != nil {
		return fmt.Errorf("scheduling job %d at %s: %w", job.ID, next, err)
	}

	return s.store.UpsertScheduleRegistration(ctx, model.ScheduleRegistration{
		JobID:             job.ID,
		ScheduleSignature: sig,
		NextRunAt:         next,
		QueueHandle:       s.jobTag(job.ID),
		UpdatedAt:         time.Now().UTC(),
	})
}

// teardown cancels any pending queue arrangement for jobID and removes
// its registration row.
func (s *Scheduler) teardown(ctx context.Context, jobID int64) {
	if err := s.queue.Cancel(ctx, jobID); err != nil {
		util.WithJob(jobID).Warnf("scheduler: failed to cancel queued schedule: %v", err)
	}
	if err := s.store.DeleteScheduleRegistration(ctx, jobID); err != nil {
		util.WithJob(jobID).Warnf("scheduler: failed to delete stale registration: %v", err)
	}
}

// TriggerNow pushes jobID directly onto the queue, bypassing scheduling
// entirely — the only way a ScheduleManual Job ever runs.
func (s *Scheduler) TriggerNow(ctx context.Context, jobID int64) error {
	return s.queue.Enqueue(ctx, jobID)
}

func (s *Scheduler) jobTag(jobID int64) string {
	return fmt.Sprintf("job:%d", jobID)
}

// nextRunAt computes job's next due time measured from now, or reports
// skip when the schedule is a one-time run already in the past — it is
// deliberately never registered, matching the "never scheduled, never
// run" rule for a stale one-time Job.
func nextRunAt(job model.Job, now time.Time) (at time.Time, skip bool, err error) {
	switch job.ScheduleKind {
	case model.ScheduleInterval:
		var p intervalParams
		if err := json.Unmarshal(job.ScheduleParams, &p); err != nil {
			return time.Time{}, false, fmt.Errorf("parsing interval params for job %d: %w", job.ID, err)
		}
		if p.IntervalSeconds <= 0 {
			return time.Time{}, false, fmt.Errorf("job %d: interval_seconds must be positive", job.ID)
		}
		return now.Add(time.Duration(p.IntervalSeconds) * time.Second), false, nil

	case model.ScheduleCron:
		var p cronParams
		if err := json.Unmarshal(job.ScheduleParams, &p); err != nil {
			return time.Time{}, false, fmt.Errorf("parsing cron params for job %d: %w", job.ID, err)
		}
		sched, err := cron.ParseStandard(p.Expression)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("job %d: malformed cron expression %q: %w", job.ID, p.Expression, err)
		}
		return sched.Next(now), false, nil

	case model.ScheduleOneTime:
		var p oneTimeParams
		if err := json.Unmarshal(job.ScheduleParams, &p); err != nil {
			return time.Time{}, false, fmt.Errorf("parsing onetime params for job %d: %w", job.ID, err)
		}
		if p.RunAt.Before(now) {
			util.WithJob(job.ID).Warnf("scheduler: onetime job's run_at %s is already in the past, skipping", p.RunAt)
			return time.Time{}, true, nil
		}
		return p.RunAt, false, nil

	default:
		return time.Time{}, false, fmt.Errorf("job %d: unknown schedule kind %q", job.ID, job.ScheduleKind)
	}
}

// scheduleSignature hashes the fields that determine a Job's queue
// arrangement, so Reconcile can tell an unchanged Job (skip, unless its
// prior arrangement already fired) from one whose schedule needs
// re-registering (teardown + register) without trusting any in-process
// state, which doesn't survive a restart.
func scheduleSignature(job model.Job) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|", job.ID, job.ScheduleKind)
	h.Write(job.ScheduleParams)
	return hex.EncodeToString(h.Sum(nil))
}
