// Package queue defines the contract between the Scheduler/Runner and
// whatever durable work queue actually carries a due job ID from the
// process that decided it was due to the worker pool that runs it.
package queue

import (
	"context"
	"time"
)

// Queue is the external collaborator the Scheduler and Runner treat as
// a black box: push a job ID on, some worker eventually pulls it off
// and calls Runner.RunJob. Cancel lets a Job removed from the schedule
// pull back a not-yet-delivered run.
type Queue interface {
	// Enqueue pushes jobID for immediate delivery to the next available
	// worker.
	Enqueue(ctx context.Context, jobID int64) error

	// ScheduleAt arranges for jobID to be enqueued at runAt, deduplicated
	// by signature: a second ScheduleAt call with the same (jobID,
	// signature) pair before runAt is a no-op, so a Reconcile pass that
	// re-derives the same due time doesn't double-schedule.
	ScheduleAt(ctx context.Context, jobID int64, signature string, runAt time.Time) error

	// Cancel removes a previously scheduled (not yet delivered) entry for
	// jobID. It is not an error to cancel a jobID with nothing pending.
	Cancel(ctx context.Context, jobID int64) error

	// Publish broadcasts a fire-and-forget event (e.g. a job-completion
	// notification) to subject; delivery is best-effort.
	Publish(ctx context.Context, subject string, payload []byte) error

	// Subscribe returns a channel of payloads published to subject. The
	// channel closes when ctx is done or the subscription is dropped.
	Subscribe(ctx context.Context, subject string) (<-chan []byte, error)
}

// Dequeuer is the worker-side half of Queue: pulling a due job ID off
// the queue to hand to the Runner. Kept separate from Queue so a
// Scheduler (producer-only) doesn't need a Dequeue method in its test
// doubles.
type Dequeuer interface {
	// Dequeue blocks until a job ID is available or ctx is done. The
	// returned token must be passed to Ack once the job has been handed
	// off to the Runner, so a worker that crashes mid-delivery leaves the
	// job recoverable instead of silently dropped.
	Dequeue(ctx context.Context) (jobID int64, token string, err error)

	// Ack confirms token was delivered and may be discarded from the
	// in-flight set.
	Ack(ctx context.Context, token string) error
}
