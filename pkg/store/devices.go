package store

import (
	"context"
	"fmt"

	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/util"
)

// GetDevice reads one device by ID.
func (db *DB) GetDevice(ctx context.Context, id int64) (model.Device, error) {
	var d model.Device
	err := db.GetContext(ctx, &d, `SELECT * FROM devices WHERE id = $1`, id)
	if err != nil {
		return model.Device{}, fmt.Errorf("%w: device %d", util.ErrNotFound, id)
	}
	return d, nil
}

// DevicesByTags returns every device that shares at least one tag with
// tagIDs, de-duplicated. Used by the Runner to load a Job's targets.
func (db *DB) DevicesByTags(ctx context.Context, tagIDs []int64) ([]model.Device, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlxIn(`
		SELECT DISTINCT d.* FROM devices d
		JOIN device_tags dt ON dt.device_id = d.id
		WHERE dt.tag_id IN (?)
		ORDER BY d.id`, tagIDs)
	if err != nil {
		return nil, err
	}
	query = db.Rebind(query)

	var devices []model.Device
	if err := db.SelectContext(ctx, &devices, query, args...); err != nil {
		return nil, fmt.Errorf("loading devices by tags: %w", err)
	}
	return devices, nil
}

// TagIDsForJob returns the tag IDs associated with a Job.
func (db *DB) TagIDsForJob(ctx context.Context, jobID int64) ([]int64, error) {
	var ids []int64
	err := db.SelectContext(ctx, &ids, `SELECT tag_id FROM job_tags WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("loading job tags: %w", err)
	}
	return ids, nil
}
