package main

import (
	"context"
	"errors"
	"time"

	"github.com/netraven-io/netraven-core/pkg/queue"
	"github.com/netraven-io/netraven-core/pkg/runner"
	"github.com/netraven-io/netraven-core/pkg/util"
)

// dequeueErrorBackoff avoids a tight retry loop against a misbehaving
// queue backend on a persistent (non-timeout) Dequeue error.
const dequeueErrorBackoff = 500 * time.Millisecond

// runWorkerPool starts n goroutines pulling job IDs off dequeuer and
// handing each to runner.RunJob, acking only after RunJob returns so a
// crash mid-run leaves the delivery recoverable. Blocks until ctx is
// done, then waits for in-flight jobs to finish.
func runWorkerPool(ctx context.Context, n int, dequeuer queue.Dequeuer, r *runner.Runner) {
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			queueWorkerLoop(ctx, dequeuer, r)
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
}

func queueWorkerLoop(ctx context.Context, dequeuer queue.Dequeuer, r *runner.Runner) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, token, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			util.WithField("error", err).Warn("netraven-worker: dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueErrorBackoff):
			}
			continue
		}

		if _, runErr := r.RunJob(ctx, jobID); runErr != nil {
			util.WithJob(jobID).Warnf("netraven-worker: job run returned an error: %v", runErr)
		}
		if ackErr := dequeuer.Ack(ctx, token); ackErr != nil {
			util.WithJob(jobID).Warnf("netraven-worker: ack failed: %v", ackErr)
		}
	}
}
