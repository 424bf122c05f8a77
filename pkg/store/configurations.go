package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/netraven-io/netraven-core/pkg/model"
)

// latestConfiguration is the tx-capable core of LatestConfiguration,
// kept separate so WithTxLatestAndInsertConfiguration can run it inside
// its db.WithTx block alongside insertConfiguration without a
// lost-update race.
func latestConfiguration(ctx context.Context, q queryer, deviceID int64) (model.DeviceConfiguration, bool, error) {
	var c model.DeviceConfiguration
	err := q.GetContext(ctx, &c, `
		SELECT * FROM device_configurations
		WHERE device_id = $1 ORDER BY retrieved_at DESC LIMIT 1`, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DeviceConfiguration{}, false, nil
	}
	if err != nil {
		return model.DeviceConfiguration{}, false, fmt.Errorf("loading latest configuration for device %d: %w", deviceID, err)
	}
	return c, true, nil
}

func insertConfiguration(ctx context.Context, q queryer, c model.DeviceConfiguration) (model.DeviceConfiguration, error) {
	row := q.QueryRowxContext(ctx, `
		INSERT INTO device_configurations (device_id, retrieved_at, config_text, data_hash, config_metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`, c.DeviceID, c.RetrievedAt, c.ConfigText, c.DataHash, c.ConfigMetadata)
	if err := row.Scan(&c.ID); err != nil {
		return model.DeviceConfiguration{}, fmt.Errorf("inserting device configuration: %w", err)
	}
	return c, nil
}

// LatestConfiguration returns the most recent DeviceConfiguration row
// for deviceID. The bool return is false with a nil error when the
// device has no snapshot yet.
func (db *DB) LatestConfiguration(ctx context.Context, deviceID int64) (model.DeviceConfiguration, bool, error) {
	return latestConfiguration(ctx, db.DB, deviceID)
}

// InsertConfiguration appends one snapshot row outside of any
// caller-managed transaction. pkg/configstore.Store.Persist does not
// use this directly: it runs the hash comparison and insert together
// inside WithTxLatestAndInsertConfiguration to avoid a race between
// two concurrent retrievals of the same device.
func (db *DB) InsertConfiguration(ctx context.Context, c model.DeviceConfiguration) (model.DeviceConfiguration, error) {
	return insertConfiguration(ctx, db.DB, c)
}

// WithTxLatestAndInsertConfiguration runs decide inside a transaction,
// passing it the device's current latest snapshot (if any). If decide
// returns a non-nil candidate, it is inserted in the same transaction
// before commit; returning a nil candidate persists nothing. This is
// the atomic "is this config new" check pkg/configstore relies on.
func (db *DB) WithTxLatestAndInsertConfiguration(
	ctx context.Context,
	deviceID int64,
	decide func(latest model.DeviceConfiguration, hasLatest bool) (*model.DeviceConfiguration, error),
) (model.DeviceConfiguration, bool, error) {
	var inserted model.DeviceConfiguration
	var didInsert bool
	err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
		latest, hasLatest, err := latestConfiguration(ctx, tx, deviceID)
		if err != nil {
			return err
		}
		candidate, err := decide(latest, hasLatest)
		if err != nil {
			return err
		}
		if candidate == nil {
			return nil
		}
		inserted, err = insertConfiguration(ctx, tx, *candidate)
		if err != nil {
			return err
		}
		didInsert = true
		return nil
	})
	return inserted, didInsert, err
}

// GetConfiguration reads one snapshot by ID, used to render a diff
// between two historical retrievals.
func (db *DB) GetConfiguration(ctx context.Context, id int64) (model.DeviceConfiguration, error) {
	var c model.DeviceConfiguration
	err := db.GetContext(ctx, &c, `SELECT * FROM device_configurations WHERE id = $1`, id)
	if err != nil {
		return model.DeviceConfiguration{}, fmt.Errorf("loading configuration %d: %w", id, err)
	}
	return c, nil
}

// SearchFilters narrows a full-text configuration search.
type SearchFilters struct {
	DeviceID *int64
	Since    time.Time
	Until    time.Time
}

// SearchConfigurations runs a websearch_to_tsquery full-text search over
// config_text using the generated tsvector column and its GIN index.
func (db *DB) SearchConfigurations(ctx context.Context, query string, f SearchFilters) ([]model.DeviceConfiguration, error) {
	sqlQuery := `
		SELECT * FROM device_configurations
		WHERE config_search @@ websearch_to_tsquery('english', $1)`
	args := []interface{}{query}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.DeviceID != nil {
		sqlQuery += " AND device_id = " + arg(*f.DeviceID)
	}
	if !f.Since.IsZero() {
		sqlQuery += " AND retrieved_at >= " + arg(f.Since)
	}
	if !f.Until.IsZero() {
		sqlQuery += " AND retrieved_at <= " + arg(f.Until)
	}
	sqlQuery += " ORDER BY retrieved_at DESC"

	var configs []model.DeviceConfiguration
	if err := db.SelectContext(ctx, &configs, sqlQuery, args...); err != nil {
		return nil, fmt.Errorf("searching configurations: %w", err)
	}
	return configs, nil
}
