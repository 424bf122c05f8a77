// Package dispatcher fans a single job out across its target devices
// with a bounded pool of concurrent workers, retrying retriable
// per-device failures with an exponential backoff.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/netraven-io/netraven-core/pkg/credential"
	"github.com/netraven-io/netraven-core/pkg/driver"
	"github.com/netraven-io/netraven-core/pkg/logpipeline"
	"github.com/netraven-io/netraven-core/pkg/model"
)

// DeviceExecutor is the subset of *executor.Executor the dispatcher
// drives, kept narrow so tests can substitute a fake without a
// registry, resolver, or result store.
type DeviceExecutor interface {
	HandleDevice(ctx context.Context, device model.Device, jobID int64, jobType string, cfg json.RawMessage) (model.JobResult, error)
}

// Config tunes retry behavior. Zero values mean "try once, never retry."
type Config struct {
	ThreadPoolSize int
	MaxRetries     int
	RetryBackoff   time.Duration
}

// Dispatcher runs one job's Executor.HandleDevice call against every
// target device, bounded by ThreadPoolSize concurrent workers via
// errgroup.Group.SetLimit, grounded on the same indexed-preallocated-
// slice-plus-semaphore shape goma-server's configmap command uses to
// fan a Cloud Storage listing out across workers while keeping output
// order stable.
type Dispatcher struct {
	executor DeviceExecutor
	logs     *logpipeline.Pipeline
	cfg      Config
}

// New builds a Dispatcher. A zero-valued cfg.ThreadPoolSize disables the
// errgroup's concurrency limit (errgroup.Group's default: unlimited).
func New(executor DeviceExecutor, logs *logpipeline.Pipeline, cfg Config) *Dispatcher {
	return &Dispatcher{executor: executor, logs: logs, cfg: cfg}
}

// Dispatch runs jobType against every device, returning exactly one
// model.JobResult per input device regardless of outcome — including a
// synthesized {Success:false, ErrorType:"cancelled"} result for a device
// whose turn never came because ctx was already done when Dispatch
// reached it. Results are indexed and returned in devices' input order;
// submission order is devices sorted by ID ascending, completion order
// is whatever the errgroup delivers.
func (d *Dispatcher) Dispatch(ctx context.Context, devices []model.Device, jobID int64, jobType string, cfg json.RawMessage) ([]model.JobResult, error) {
	start := time.Now()

	order := make([]int, len(devices))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return devices[order[a]].ID < devices[order[b]].ID })

	results := make([]model.JobResult, len(devices))

	eg, egCtx := errgroup.WithContext(context.WithoutCancel(ctx))
	if d.cfg.ThreadPoolSize > 0 {
		eg.SetLimit(d.cfg.ThreadPoolSize)
	}

	for _, i := range order {
		i, device := i, devices[i]

		if ctx.Err() != nil {
			results[i] = cancelledResult(jobID, device.ID)
			continue
		}

		eg.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("device %d: panic during dispatch: %v", device.ID, rec)
				}
			}()
			results[i] = d.runWithRetry(egCtx, ctx, device, jobID, jobType, cfg)
			return nil
		})
	}

	// eg.Wait returns non-nil only when a worker panicked: HandleDevice
	// reports ordinary per-device failure through its returned
	// model.JobResult, not through the errgroup, so any error here is a
	// dispatcher-level failure distinct from a per-device one.
	if err := eg.Wait(); err != nil {
		return results, fmt.Errorf("dispatcher: %w", err)
	}

	d.logSummary(ctx, jobID, results, time.Since(start))
	return results, nil
}

// runWithRetry drives one device through up to MaxRetries+1 attempts.
// attemptCtx derives from an uncancelled context so an in-flight attempt
// is allowed to finish and report even after the caller's ctx is done;
// cancelCtx is checked between attempts (during the backoff sleep and
// before each retry) so a cancellation stops further retries promptly.
func (d *Dispatcher) runWithRetry(attemptCtx, cancelCtx context.Context, device model.Device, jobID int64, jobType string, cfg json.RawMessage) model.JobResult {
	d.logJob(attemptCtx, jobID, device.ID, model.LevelInfo, fmt.Sprintf("submitting device %d", device.ID))

	var last model.JobResult
	attempts := d.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := d.executor.HandleDevice(attemptCtx, device, jobID, jobType, cfg)
		last = result

		if err == nil {
			d.logJob(attemptCtx, jobID, device.ID, model.LevelInfo, fmt.Sprintf("completed device %d", device.ID))
			return last
		}
		if !shouldRetry(err) || attempt == attempts {
			break
		}

		backoff := d.backoffFor(attempt)
		d.logJob(attemptCtx, jobID, device.ID, model.LevelWarning, fmt.Sprintf("retrying device %d after %s (attempt %d/%d)", device.ID, backoff, attempt+1, attempts))

		select {
		case <-time.After(backoff):
		case <-cancelCtx.Done():
			return last
		}
	}

	return last
}

func (d *Dispatcher) backoffFor(attempt int) time.Duration {
	backoff := d.cfg.RetryBackoff
	if backoff <= 0 {
		return 0
	}
	return backoff * time.Duration(1<<(attempt-1))
}

// shouldRetry reports whether Dispatch should try a device again: the
// failure must be a transient driver error, and the device must have
// had at least one credential to try in the first place. A
// credential.ErrNoCredentials result is never retried — a second
// attempt would find the same empty credential list.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, credential.ErrNoCredentials) {
		return false
	}
	return driver.Retriable(err)
}

func cancelledResult(jobID, deviceID int64) model.JobResult {
	details, _ := json.Marshal(map[string]string{"error": "cancelled"})
	return model.JobResult{JobID: jobID, DeviceID: deviceID, Success: false, Details: details}
}

func (d *Dispatcher) logJob(ctx context.Context, jobID, deviceID int64, level model.LogLevel, msg string) {
	if d.logs == nil {
		return
	}
	d.logs.Record(ctx, model.Log{
		Timestamp: time.Now().UTC(),
		LogType:   model.LogTypeJob,
		Level:     level,
		JobID:     &jobID,
		DeviceID:  &deviceID,
		Source:    "dispatcher",
		Message:   msg,
	})
}

func (d *Dispatcher) logSummary(ctx context.Context, jobID int64, results []model.JobResult, duration time.Duration) {
	if d.logs == nil {
		return
	}
	success := 0
	for _, r := range results {
		if r.Success {
			success++
		}
	}
	d.logs.Record(ctx, model.Log{
		Timestamp: time.Now().UTC(),
		LogType:   model.LogTypeJob,
		Level:     model.LevelInfo,
		JobID:     &jobID,
		Source:    "dispatcher",
		Message:   fmt.Sprintf("dispatch finished: %d/%d succeeded in %s", success, len(results), duration),
	})
}
