package model

import (
	"encoding/json"
	"time"
)

// DeviceConfiguration is an immutable snapshot of a device's running
// configuration. Rows are append-only; two consecutive snapshots for the
// same device never share DataHash (see pkg/configstore).
type DeviceConfiguration struct {
	ID             int64           `db:"id" json:"id"`
	DeviceID       int64           `db:"device_id" json:"device_id"`
	RetrievedAt    time.Time       `db:"retrieved_at" json:"retrieved_at"`
	ConfigText     string          `db:"config_text" json:"config_text"`
	DataHash       string          `db:"data_hash" json:"data_hash"`
	ConfigMetadata json.RawMessage `db:"config_metadata" json:"config_metadata,omitempty"`
}
