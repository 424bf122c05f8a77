package store

import (
	"context"
	"fmt"

	"github.com/netraven-io/netraven-core/pkg/model"
)

// InsertLog appends one Log row and returns it with its assigned
// monotonic ID, the global display tiebreaker when timestamps collide.
func (db *DB) InsertLog(ctx context.Context, l model.Log) (model.Log, error) {
	row := db.QueryRowxContext(ctx, `
		INSERT INTO logs (timestamp, log_type, level, job_id, device_id, source, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`, l.Timestamp, l.LogType, l.Level, l.JobID, l.DeviceID, l.Source, l.Message, l.Meta)
	if err := row.Scan(&l.ID); err != nil {
		return model.Log{}, fmt.Errorf("inserting log: %w", err)
	}
	return l, nil
}

// LogFilter narrows a log query by the indexed columns.
type LogFilter struct {
	JobID    *int64
	DeviceID *int64
	LogType  model.LogType
	Level    model.LogLevel
	Limit    int
}

// QueryLogs returns logs matching filter, newest id first.
func (db *DB) QueryLogs(ctx context.Context, f LogFilter) ([]model.Log, error) {
	query := `SELECT * FROM logs WHERE 1=1`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.JobID != nil {
		query += " AND job_id = " + arg(*f.JobID)
	}
	if f.DeviceID != nil {
		query += " AND device_id = " + arg(*f.DeviceID)
	}
	if f.LogType != "" {
		query += " AND log_type = " + arg(f.LogType)
	}
	if f.Level != "" {
		query += " AND level = " + arg(f.Level)
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	var logs []model.Log
	if err := db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("querying logs: %w", err)
	}
	return logs, nil
}
