package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/netraven-io/netraven-core/pkg/model"
)

// InsertJobResult appends one JobResult row. Every dispatched
// (device, job) pair produces exactly one of these.
func (db *DB) InsertJobResult(ctx context.Context, r model.JobResult) (model.JobResult, error) {
	if r.Details == nil {
		r.Details = json.RawMessage("{}")
	}
	row := db.QueryRowxContext(ctx, `
		INSERT INTO job_results (job_id, device_id, success, details)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`, r.JobID, r.DeviceID, r.Success, r.Details)
	if err := row.Scan(&r.ID, &r.CreatedAt); err != nil {
		return model.JobResult{}, fmt.Errorf("inserting job result: %w", err)
	}
	return r, nil
}

// JobResultsForJob returns every JobResult for a job, used by the
// Runner to aggregate succeeded/failed/total.
func (db *DB) JobResultsForJob(ctx context.Context, jobID int64) ([]model.JobResult, error) {
	var results []model.JobResult
	err := db.SelectContext(ctx, &results, `SELECT * FROM job_results WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("loading job results for job %d: %w", jobID, err)
	}
	return results, nil
}
