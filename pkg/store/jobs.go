package store

import (
	"context"
	"fmt"

	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/util"
)

// GetJob reads one job by ID.
func (db *DB) GetJob(ctx context.Context, id int64) (model.Job, error) {
	var j model.Job
	err := db.GetContext(ctx, &j, `SELECT * FROM jobs WHERE id = $1`, id)
	if err != nil {
		return model.Job{}, fmt.Errorf("%w: job %d", util.ErrNotFound, id)
	}
	return j, nil
}

// EnabledJobs returns every Job with is_enabled=true, including
// protected is_system jobs — the Scheduler must reconcile those too.
func (db *DB) EnabledJobs(ctx context.Context) ([]model.Job, error) {
	var jobs []model.Job
	err := db.SelectContext(ctx, &jobs, `SELECT * FROM jobs WHERE is_enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("loading enabled jobs: %w", err)
	}
	return jobs, nil
}

// SetJobStatus persists a Job's new status. The Runner is the sole
// writer of this column; other fields on the row are owned elsewhere.
func (db *DB) SetJobStatus(ctx context.Context, jobID int64, status model.JobStatus) error {
	_, err := db.ExecContext(ctx, `UPDATE jobs SET status = $2 WHERE id = $1`, jobID, status)
	if err != nil {
		return fmt.Errorf("setting job %d status to %s: %w", jobID, status, err)
	}
	return nil
}
