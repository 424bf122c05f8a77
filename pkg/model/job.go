package model

import (
	"encoding/json"
	"time"
)

// ScheduleKind is the kind of timing a Job uses.
type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
	ScheduleOneTime  ScheduleKind = "onetime"
	ScheduleManual   ScheduleKind = "manual"
)

// JobStatus is a Job's lifecycle state. Values prefixed COMPLETED_ or
// FAILED_ are terminal and absorbing: once set, only a fresh enqueue
// (which re-enters QUEUED) moves the Job again.
type JobStatus string

const (
	JobPending                     JobStatus = "PENDING"
	JobQueued                      JobStatus = "QUEUED"
	JobRunning                     JobStatus = "RUNNING"
	JobCompletedSuccess            JobStatus = "COMPLETED_SUCCESS"
	JobCompletedPartialFailure     JobStatus = "COMPLETED_PARTIAL_FAILURE"
	JobCompletedFailure            JobStatus = "COMPLETED_FAILURE"
	JobCompletedNoDevices          JobStatus = "COMPLETED_NO_DEVICES"
	JobCompletedNoCredentials      JobStatus = "COMPLETED_NO_CREDENTIALS"
	JobFailedUnexpected            JobStatus = "FAILED_UNEXPECTED"
	JobFailedDispatcherError       JobStatus = "FAILED_DISPATCHER_ERROR"
	JobFailedCredentialResolution  JobStatus = "FAILED_CREDENTIAL_RESOLUTION"
)

// IsTerminal reports whether status is an absorbing, final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompletedSuccess, JobCompletedPartialFailure, JobCompletedFailure,
		JobCompletedNoDevices, JobCompletedNoCredentials,
		JobFailedUnexpected, JobFailedDispatcherError, JobFailedCredentialResolution:
		return true
	default:
		return false
	}
}

// Job is a persisted definition of work: a job type, a schedule, and the
// tags selecting its target devices.
type Job struct {
	ID             int64           `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	JobType        string          `db:"job_type" json:"job_type"`
	IsEnabled      bool            `db:"is_enabled" json:"is_enabled"`
	ScheduleKind   ScheduleKind    `db:"schedule_kind" json:"schedule_kind"`
	ScheduleParams json.RawMessage `db:"schedule_params" json:"schedule_params,omitempty"`
	Status         JobStatus       `db:"status" json:"status"`
	IsSystem       bool            `db:"is_system" json:"is_system"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// JobResult is the per-device outcome of one Job execution. Every
// dispatched (device, job) pair produces exactly one JobResult row.
type JobResult struct {
	ID        int64           `db:"id" json:"id"`
	JobID     int64           `db:"job_id" json:"job_id"`
	DeviceID  int64           `db:"device_id" json:"device_id"`
	Success   bool            `db:"success" json:"success"`
	Details   json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// ScheduleRegistration is the Scheduler's persistent idempotency record:
// one row per Job currently registered with the timer layer, keyed by a
// signature hashing the Job's schedule so a reconcile pass can tell an
// unchanged Job from one that needs re-registering.
type ScheduleRegistration struct {
	JobID             int64     `db:"job_id" json:"job_id"`
	ScheduleSignature string    `db:"schedule_signature" json:"schedule_signature"`
	NextRunAt         time.Time `db:"next_run_at" json:"next_run_at,omitempty"`
	QueueHandle       string    `db:"queue_handle" json:"queue_handle,omitempty"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}
