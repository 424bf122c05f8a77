package store

import (
	"context"
	"fmt"
	"time"

	"github.com/netraven-io/netraven-core/pkg/model"
)

// CredentialsForDevice returns every credential sharing a tag with
// deviceID, ordered by priority ascending then last_used ascending
// (older/never-used first) — the fallback ordering the resolver uses.
func (db *DB) CredentialsForDevice(ctx context.Context, deviceID int64) ([]model.Credential, error) {
	var creds []model.Credential
	err := db.SelectContext(ctx, &creds, `
		SELECT DISTINCT c.* FROM credentials c
		JOIN credential_tags ct ON ct.credential_id = c.id
		JOIN device_tags dt ON dt.tag_id = ct.tag_id
		WHERE dt.device_id = $1
		ORDER BY c.priority ASC, c.last_used ASC NULLS FIRST`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("loading credentials for device %d: %w", deviceID, err)
	}
	return creds, nil
}

// CredentialsForDevices returns every device's matching credentials in
// one round trip, backing the Runner's batch pre-resolution instead of
// N sequential CredentialsForDevice calls.
func (db *DB) CredentialsForDevices(ctx context.Context, deviceIDs []int64) (map[int64][]model.Credential, error) {
	result := make(map[int64][]model.Credential, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return result, nil
	}

	type row struct {
		model.Credential
		DeviceID int64 `db:"device_id"`
	}
	query, args, err := sqlxIn(`
		SELECT c.*, dt.device_id AS device_id FROM credentials c
		JOIN credential_tags ct ON ct.credential_id = c.id
		JOIN device_tags dt ON dt.tag_id = ct.tag_id
		WHERE dt.device_id IN (?)
		ORDER BY dt.device_id, c.priority ASC, c.last_used ASC NULLS FIRST`, deviceIDs)
	if err != nil {
		return nil, err
	}
	query = db.Rebind(query)

	var rows []row
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("batch loading credentials: %w", err)
	}
	for _, r := range rows {
		result[r.DeviceID] = append(result[r.DeviceID], r.Credential)
	}
	return result, nil
}

// RecordCredentialAttempt updates success/failure counters and,
// on success, last_used. Called once per credential attempt by the
// Executor via pkg/credential.
func (db *DB) RecordCredentialAttempt(ctx context.Context, credentialID int64, success bool) error {
	if success {
		_, err := db.ExecContext(ctx, `
			UPDATE credentials SET success_count = success_count + 1, last_used = $2
			WHERE id = $1`, credentialID, time.Now().UTC())
		return err
	}
	_, err := db.ExecContext(ctx, `
		UPDATE credentials SET failure_count = failure_count + 1 WHERE id = $1`, credentialID)
	return err
}
