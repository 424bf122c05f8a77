package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/netraven-io/netraven-core/pkg/model"
)

// ScheduleRegistration returns the registration row for jobID, with a
// false bool if the job has never been registered with the timer layer.
func (db *DB) ScheduleRegistration(ctx context.Context, jobID int64) (model.ScheduleRegistration, bool, error) {
	var r model.ScheduleRegistration
	err := db.GetContext(ctx, &r, `SELECT * FROM schedule_registrations WHERE job_id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScheduleRegistration{}, false, nil
	}
	if err != nil {
		return model.ScheduleRegistration{}, false, fmt.Errorf("loading schedule registration for job %d: %w", jobID, err)
	}
	return r, true, nil
}

// AllScheduleRegistrations returns every registration row, used by the
// reconcile loop to find registrations whose job was deleted or disabled.
func (db *DB) AllScheduleRegistrations(ctx context.Context) ([]model.ScheduleRegistration, error) {
	var rows []model.ScheduleRegistration
	if err := db.SelectContext(ctx, &rows, `SELECT * FROM schedule_registrations`); err != nil {
		return nil, fmt.Errorf("loading schedule registrations: %w", err)
	}
	return rows, nil
}

// UpsertScheduleRegistration records or updates a job's registration so
// a later reconcile pass can detect whether the schedule changed.
func (db *DB) UpsertScheduleRegistration(ctx context.Context, r model.ScheduleRegistration) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO schedule_registrations (job_id, schedule_signature, next_run_at, queue_handle, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (job_id) DO UPDATE SET
			schedule_signature = EXCLUDED.schedule_signature,
			next_run_at = EXCLUDED.next_run_at,
			queue_handle = EXCLUDED.queue_handle,
			updated_at = now()`,
		r.JobID, r.ScheduleSignature, r.NextRunAt, r.QueueHandle)
	if err != nil {
		return fmt.Errorf("upserting schedule registration for job %d: %w", r.JobID, err)
	}
	return nil
}

// DeleteScheduleRegistration removes a job's registration, used when a
// job is disabled or deleted and the reconcile loop tears down its timer.
func (db *DB) DeleteScheduleRegistration(ctx context.Context, jobID int64) error {
	_, err := db.ExecContext(ctx, `DELETE FROM schedule_registrations WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("deleting schedule registration for job %d: %w", jobID, err)
	}
	return nil
}
