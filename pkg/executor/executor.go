// Package executor runs one job type against one device: it resolves
// the job's module and the device's credentials, tries each credential
// in priority order until one succeeds or all are exhausted, and writes
// the job's Log and JobResult records.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/netraven-io/netraven-core/pkg/credential"
	"github.com/netraven-io/netraven-core/pkg/driver"
	"github.com/netraven-io/netraven-core/pkg/jobtype"
	"github.com/netraven-io/netraven-core/pkg/logpipeline"
	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/redact"
)

// ResultStore is the subset of pkg/store.DB the executor needs to
// persist its outcome.
type ResultStore interface {
	InsertJobResult(ctx context.Context, r model.JobResult) (model.JobResult, error)
}

// Executor wires a job registry, a credential resolver, a result store,
// and a log pipeline together for one HandleDevice call at a time.
type Executor struct {
	registry *jobtype.Registry
	resolver *credential.Resolver
	results  ResultStore
	logs     *logpipeline.Pipeline
	patterns []string
}

// New builds an Executor. patterns is passed to pkg/redact for
// sanitizing the message of the connection-failure Log record, which
// embeds the driver's error text; nil uses redact.DefaultPatterns().
func New(registry *jobtype.Registry, resolver *credential.Resolver, results ResultStore, logs *logpipeline.Pipeline, patterns []string) *Executor {
	if patterns == nil {
		patterns = redact.DefaultPatterns()
	}
	return &Executor{registry: registry, resolver: resolver, results: results, logs: logs, patterns: patterns}
}

// HandleDevice resolves jobType's module, tries the device's credentials
// in fallback order, and records the outcome. The returned error carries
// the real underlying failure (or nil on success) so the dispatcher can
// classify retriability with driver.Retriable/driver.RetriableByCredential
// and can recognize credential.ErrNoCredentials as never retriable; the
// same information is also folded into the returned model.JobResult for
// persistence.
func (e *Executor) HandleDevice(ctx context.Context, device model.Device, jobID int64, jobType string, cfg json.RawMessage) (model.JobResult, error) {
	e.logJob(ctx, jobID, &device, model.LevelInfo, fmt.Sprintf("starting job type %q on device %d", jobType, device.ID))

	module, err := e.registry.Lookup(jobType)
	if err != nil {
		return e.finish(ctx, jobID, device, jobtype.Result{
			Success: false, DeviceID: device.ID, ErrorType: "unknown job type",
		}, fmt.Errorf("looking up job type %q: %w", jobType, err))
	}

	creds, err := e.resolver.Resolve(ctx, device.ID)
	if err != nil {
		if errors.Is(err, credential.ErrNoCredentials) {
			e.logJob(ctx, jobID, &device, model.LevelWarning, fmt.Sprintf("device %d has no matching credentials", device.ID))
			return e.finish(ctx, jobID, device, jobtype.Result{
				Success: false, DeviceID: device.ID, ErrorType: "no credentials",
			}, err)
		}
		return e.finish(ctx, jobID, device, jobtype.Result{
			Success: false, DeviceID: device.ID, ErrorType: "resolver error",
		}, fmt.Errorf("resolving credentials for device %d: %w", device.ID, err))
	}

	var last jobtype.Result
	var lastErr error
	for _, cred := range creds {
		result, runErr := e.attempt(ctx, module, device, cred, jobID, cfg)
		last, lastErr = result, runErr

		success := result.Success && runErr == nil
		e.resolveAttempt(ctx, cred.ID, success)
		e.logConnection(ctx, jobID, &device, cred, success, runErr)

		if success {
			return e.finish(ctx, jobID, device, result, nil)
		}
		if !driver.RetriableByCredential(runErr) {
			break
		}
	}

	return e.finish(ctx, jobID, device, last, lastErr)
}

func (e *Executor) attempt(ctx context.Context, module jobtype.Module, device model.Device, cred credential.Resolved, jobID int64, cfg json.RawMessage) (jobtype.Result, error) {
	dwc := model.DeviceWithCredential{
		Device: device,
		Credential: model.Credential{
			ID:          cred.ID,
			Username:    cred.Username,
			PasswordEnc: cred.Password,
		},
	}

	result, err := module.Run(ctx, dwc, jobID, cfg, nil)
	if err != nil {
		return jobtype.Result{}, err
	}
	if result.DeviceID == 0 && device.ID != 0 {
		return jobtype.Result{}, ErrInvalidJobResult
	}
	return result, nil
}

func (e *Executor) resolveAttempt(ctx context.Context, credentialID int64, success bool) {
	if err := e.resolver.RecordAttempt(ctx, credentialID, success); err != nil {
		e.logSystem(ctx, model.LevelWarning, fmt.Sprintf("recording credential attempt: %v", err))
	}
}

// finish persists the JobResult and writes the closing job Log record.
// It returns runErr unchanged alongside the stored JobResult: the result
// is the durable record of what happened, while runErr is what the
// dispatcher classifies to decide whether the device's job is retried.
func (e *Executor) finish(ctx context.Context, jobID int64, device model.Device, result jobtype.Result, runErr error) (model.JobResult, error) {
	success := result.Success && runErr == nil
	errorType := result.ErrorType
	if runErr != nil && errorType == "" {
		errorType = classify(runErr)
	}

	details := result.Details
	if !success {
		details = errorDetails(errorType, runErr)
	}

	jr := model.JobResult{
		JobID:    jobID,
		DeviceID: device.ID,
		Success:  success,
		Details:  details,
	}
	stored, err := e.results.InsertJobResult(ctx, jr)
	if err != nil {
		e.logSystem(ctx, model.LevelError, fmt.Sprintf("persisting job result for device %d: %v", device.ID, err))
		stored = jr
	}

	level := model.LevelInfo
	msg := fmt.Sprintf("job type completed on device %d", device.ID)
	if !success {
		level = model.LevelError
		msg = fmt.Sprintf("job type failed on device %d: %s", device.ID, errorType)
	}
	e.logJob(ctx, jobID, &device, level, msg)

	return stored, runErr
}

func classify(err error) string {
	switch {
	case err == ErrInvalidJobResult:
		return "invalid job result"
	case driver.Retriable(err):
		return "transient"
	default:
		return "error"
	}
}

func errorDetails(errorType string, err error) json.RawMessage {
	msg := errorType
	if err != nil {
		msg = err.Error()
	}
	payload, marshalErr := json.Marshal(map[string]string{"error": msg})
	if marshalErr != nil {
		return json.RawMessage(`{}`)
	}
	return payload
}

func (e *Executor) logJob(ctx context.Context, jobID int64, device *model.Device, level model.LogLevel, msg string) {
	l := model.Log{
		Timestamp: time.Now().UTC(),
		LogType:   model.LogTypeJob,
		Level:     level,
		JobID:     &jobID,
		Source:    "executor",
		Message:   msg,
	}
	if device != nil {
		l.DeviceID = &device.ID
	}
	e.logs.Record(ctx, l)
}

func (e *Executor) logConnection(ctx context.Context, jobID int64, device *model.Device, cred credential.Resolved, success bool, err error) {
	level := model.LevelInfo
	msg := fmt.Sprintf("connection succeeded using credential %d", cred.ID)
	if !success {
		level = model.LevelWarning
		msg = redact.Redact(fmt.Sprintf("connection failed using credential %d: %v", cred.ID, err), e.patterns)
	}
	l := model.Log{
		Timestamp: time.Now().UTC(),
		LogType:   model.LogTypeConnection,
		Level:     level,
		JobID:     &jobID,
		Source:    "executor",
		Message:   msg,
	}
	if device != nil {
		l.DeviceID = &device.ID
	}
	e.logs.Record(ctx, l)
}

func (e *Executor) logSystem(ctx context.Context, level model.LogLevel, msg string) {
	e.logs.Record(ctx, model.Log{
		Timestamp: time.Now().UTC(),
		LogType:   model.LogTypeSystem,
		Level:     level,
		Source:    "executor",
		Message:   msg,
	})
}
