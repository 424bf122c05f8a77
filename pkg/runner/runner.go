// Package runner drives one Job from trigger to terminal status: it
// loads the Job and its target devices, pre-resolves credentials,
// delegates device work to the Dispatcher, and aggregates the result
// into the Job's status column.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/netraven-io/netraven-core/pkg/credential"
	"github.com/netraven-io/netraven-core/pkg/logpipeline"
	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/util"
)

// Store is the subset of pkg/store.DB the Runner needs.
type Store interface {
	GetJob(ctx context.Context, id int64) (model.Job, error)
	SetJobStatus(ctx context.Context, jobID int64, status model.JobStatus) error
	TagIDsForJob(ctx context.Context, jobID int64) ([]int64, error)
	DevicesByTags(ctx context.Context, tagIDs []int64) ([]model.Device, error)
}

// Resolver is the subset of *credential.Resolver the Runner uses to
// decide COMPLETED_NO_CREDENTIALS before ever invoking the Dispatcher.
type Resolver interface {
	ResolveBatch(ctx context.Context, deviceIDs []int64) (map[int64][]credential.Resolved, error)
}

// DispatchFunc matches *dispatcher.Dispatcher.Dispatch's signature;
// declared as a function type here so the Runner doesn't import
// pkg/dispatcher directly and stays testable with a plain closure.
type DispatchFunc func(ctx context.Context, devices []model.Device, jobID int64, jobType string, cfg json.RawMessage) ([]model.JobResult, error)

// Runner ties a Store, Resolver, DispatchFunc, and log Pipeline together
// for one RunJob call at a time.
type Runner struct {
	store    Store
	resolver Resolver
	dispatch DispatchFunc
	logs     *logpipeline.Pipeline
}

// New builds a Runner.
func New(store Store, resolver Resolver, dispatch DispatchFunc, logs *logpipeline.Pipeline) *Runner {
	return &Runner{store: store, resolver: resolver, dispatch: dispatch, logs: logs}
}

// RunJob implements the Runner's seven-step lifecycle, returning a
// terminal model.JobStatus and persisting it to the Job row before
// returning. The exceptions are step 1's: a missing or disabled Job
// returns the zero value with a nil error, and a failure to load the Job
// returns the zero value with that error; neither persists a status.
// A panic anywhere in the orchestration is recovered and
// reported as JobFailedUnexpected rather than crashing the worker
// process outright.
func (r *Runner) RunJob(ctx context.Context, jobID int64) (status model.JobStatus, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			status = model.JobFailedUnexpected
			err = fmt.Errorf("runner: panic running job %d: %v", jobID, rec)
			r.setStatus(ctx, jobID, status)
			r.logSummary(ctx, jobID, status, 0, 0, 0)
		}
	}()

	start := time.Now()

	// Step 1: load the Job; a missing or disabled Job terminates without
	// any state change.
	job, jerr := r.store.GetJob(ctx, jobID)
	if jerr != nil {
		if errors.Is(jerr, util.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("runner: loading job %d: %w", jobID, jerr)
	}
	if !job.IsEnabled {
		return "", nil
	}

	// Step 2: RUNNING.
	r.setStatus(ctx, jobID, model.JobRunning)
	r.logJob(ctx, jobID, model.LevelInfo, fmt.Sprintf("job %d started", jobID))

	// Step 3: load target devices.
	tagIDs, terr := r.store.TagIDsForJob(ctx, jobID)
	if terr != nil {
		return r.finishUnexpected(ctx, jobID, fmt.Errorf("loading tags for job %d: %w", jobID, terr))
	}
	devices, derr := r.store.DevicesByTags(ctx, tagIDs)
	if derr != nil {
		return r.finishUnexpected(ctx, jobID, fmt.Errorf("loading devices for job %d: %w", jobID, derr))
	}
	if len(devices) == 0 {
		r.setStatus(ctx, jobID, model.JobCompletedNoDevices)
		r.logSummary(ctx, jobID, model.JobCompletedNoDevices, 0, 0, time.Since(start))
		return model.JobCompletedNoDevices, nil
	}

	// Step 4: pre-resolve credentials; no device having any credential
	// ends the job without ever invoking the Dispatcher.
	deviceIDs := make([]int64, len(devices))
	for i, d := range devices {
		deviceIDs[i] = d.ID
	}
	resolved, rerr := r.resolver.ResolveBatch(ctx, deviceIDs)
	if rerr != nil {
		r.setStatus(ctx, jobID, model.JobFailedCredentialResolution)
		r.logJob(ctx, jobID, model.LevelError, fmt.Sprintf("job %d: credential resolution failed: %v", jobID, rerr))
		return model.JobFailedCredentialResolution, fmt.Errorf("runner: resolving credentials for job %d: %w", jobID, rerr)
	}
	if !anyDeviceHasCredentials(resolved) {
		r.setStatus(ctx, jobID, model.JobCompletedNoCredentials)
		r.logSummary(ctx, jobID, model.JobCompletedNoCredentials, 0, len(devices), time.Since(start))
		return model.JobCompletedNoCredentials, nil
	}

	// Step 5: invoke the Dispatcher.
	results, derr2 := r.dispatch(ctx, devices, jobID, job.JobType, job.ScheduleParams)
	if derr2 != nil {
		r.setStatus(ctx, jobID, model.JobFailedDispatcherError)
		r.logJob(ctx, jobID, model.LevelError, fmt.Sprintf("job %d: dispatcher error: %v", jobID, derr2))
		return model.JobFailedDispatcherError, fmt.Errorf("runner: dispatching job %d: %w", jobID, derr2)
	}

	// Step 6: aggregate.
	total := len(results)
	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	final := aggregateStatus(succeeded, total)

	// Step 7: persist status and summary log.
	r.setStatus(ctx, jobID, final)
	r.logSummary(ctx, jobID, final, succeeded, total, time.Since(start))
	return final, nil
}

func aggregateStatus(succeeded, total int) model.JobStatus {
	switch {
	case total == 0:
		return model.JobCompletedNoDevices
	case succeeded == total:
		return model.JobCompletedSuccess
	case succeeded == 0:
		return model.JobCompletedFailure
	default:
		return model.JobCompletedPartialFailure
	}
}

func anyDeviceHasCredentials(resolved map[int64][]credential.Resolved) bool {
	for _, creds := range resolved {
		if len(creds) > 0 {
			return true
		}
	}
	return false
}

func (r *Runner) finishUnexpected(ctx context.Context, jobID int64, err error) (model.JobStatus, error) {
	r.setStatus(ctx, jobID, model.JobFailedUnexpected)
	r.logJob(ctx, jobID, model.LevelError, err.Error())
	return model.JobFailedUnexpected, err
}

func (r *Runner) setStatus(ctx context.Context, jobID int64, status model.JobStatus) {
	if err := r.store.SetJobStatus(ctx, jobID, status); err != nil {
		r.logJob(ctx, jobID, model.LevelError, fmt.Sprintf("job %d: persisting status %s: %v", jobID, status, err))
	}
}

func (r *Runner) logJob(ctx context.Context, jobID int64, level model.LogLevel, msg string) {
	if r.logs == nil {
		return
	}
	r.logs.Record(ctx, model.Log{
		Timestamp: time.Now().UTC(),
		LogType:   model.LogTypeJob,
		Level:     level,
		JobID:     &jobID,
		Source:    "runner",
		Message:   msg,
	})
}

func (r *Runner) logSummary(ctx context.Context, jobID int64, status model.JobStatus, succeeded, total int, duration time.Duration) {
	r.logJob(ctx, jobID, model.LevelInfo, fmt.Sprintf("job %d finished: status=%s succeeded=%d/%d duration=%s", jobID, status, succeeded, total, duration))
}
