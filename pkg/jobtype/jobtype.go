// Package jobtype defines the pluggable unit of work a Job runs against
// one device, and a Registry that validates modules before they're
// allowed to serve traffic.
package jobtype

import (
	"context"
	"encoding/json"
	"time"

	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/store"
)

// Meta describes a job type for display purposes.
type Meta struct {
	Label       string
	Icon        string
	Description string
}

// Result is the per-device outcome a Module reports back to the
// Executor. ErrorType is empty on success, otherwise a taxonomy tag
// (e.g. "unreachable", "auth", "command", "timeout", "invalid job
// result") that the Executor writes into the failed JobResult's details
// and its closing log message. Retries are decided from the error Run
// returns, not from ErrorType.
type Result struct {
	Success   bool
	DeviceID  int64
	Details   json.RawMessage
	ErrorType string
}

// Module is one kind of work a Job can run against a device: reachability
// probing, configuration backup, or any future job type.
type Module interface {
	Meta() Meta
	Run(ctx context.Context, device model.DeviceWithCredential, jobID int64, cfg json.RawMessage, db *store.DB) (Result, error)
}

// probeTimeout bounds how long Registry.Load lets one module's
// self-check run before treating it as misbehaving.
const probeTimeout = 2 * time.Second
