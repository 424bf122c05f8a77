// Package configstore persists deduplicated device configuration
// snapshots and offers full-text search and unified diffs over them.
package configstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/store"
)

// Store is the subset of pkg/store.DB the config store needs.
type Store interface {
	WithTxLatestAndInsertConfiguration(
		ctx context.Context,
		deviceID int64,
		decide func(latest model.DeviceConfiguration, hasLatest bool) (*model.DeviceConfiguration, error),
	) (model.DeviceConfiguration, bool, error)
	GetConfiguration(ctx context.Context, id int64) (model.DeviceConfiguration, error)
}

// Searcher is implemented by pkg/store.DB's full-text search.
type Searcher interface {
	SearchConfigurations(ctx context.Context, query string, f store.SearchFilters) ([]model.DeviceConfiguration, error)
}

// SearchFilters is an alias of pkg/store.SearchFilters so callers of
// this package don't need to import pkg/store directly.
type SearchFilters = store.SearchFilters

// ConfigStore wraps a Store+Searcher pair with the hashing and
// dedup policy the executor's retrieval step relies on.
type ConfigStore struct {
	store  Store
	search Searcher
}

// New builds a ConfigStore.
func New(store Store, search Searcher) *ConfigStore {
	return &ConfigStore{store: store, search: search}
}

// Hash returns the content-addressed fingerprint used to decide whether
// a freshly retrieved configuration differs from the last one stored.
func Hash(configText string) string {
	sum := sha256.Sum256([]byte(configText))
	return hex.EncodeToString(sum[:])
}

// Persist stores configText for deviceID only if it differs from the
// device's most recent snapshot, comparing by hash inside one
// transaction so two concurrent retrievals of the same device can never
// both insert a duplicate. Returns the stored row and whether a new row
// was actually written; stored==false means the fetched configuration
// was identical to what was already on file.
func (c *ConfigStore) Persist(ctx context.Context, deviceID int64, configText string, metadata json.RawMessage, retrievedAt time.Time) (model.DeviceConfiguration, bool, error) {
	hash := Hash(configText)

	snapshot, stored, err := c.store.WithTxLatestAndInsertConfiguration(ctx, deviceID,
		func(latest model.DeviceConfiguration, hasLatest bool) (*model.DeviceConfiguration, error) {
			if hasLatest && latest.DataHash == hash {
				return nil, nil
			}
			return &model.DeviceConfiguration{
				DeviceID:       deviceID,
				RetrievedAt:    retrievedAt,
				ConfigText:     configText,
				DataHash:       hash,
				ConfigMetadata: metadata,
			}, nil
		})
	if err != nil {
		return model.DeviceConfiguration{}, false, fmt.Errorf("persisting configuration for device %d: %w", deviceID, err)
	}
	if !stored {
		return model.DeviceConfiguration{}, false, nil
	}
	return snapshot, true, nil
}

// Search runs a full-text query over stored configurations.
func (c *ConfigStore) Search(ctx context.Context, query string, f SearchFilters) ([]model.DeviceConfiguration, error) {
	results, err := c.search.SearchConfigurations(ctx, query, f)
	if err != nil {
		return nil, fmt.Errorf("searching configurations: %w", err)
	}
	return results, nil
}
