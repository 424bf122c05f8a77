// Package configbackup implements the built-in configuration backup job
// type: it runs the device's platform-specific show-config command and
// persists the result through the config store's dedup logic.
package configbackup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/netraven-io/netraven-core/pkg/configstore"
	"github.com/netraven-io/netraven-core/pkg/driver"
	"github.com/netraven-io/netraven-core/pkg/jobtype"
	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/store"
)

// Details is the JSON shape written to JobResult.Details/Result.Details.
type Details struct {
	ConfigID int64 `json:"commit_hash_or_config_id"`
	Meta     struct {
		LinesSaved int  `json:"lines_saved"`
		ConfigSize int  `json:"config_size"`
		Stored     bool `json:"stored"`
	} `json:"meta"`
}

// Module implements jobtype.Module, driven by an injected Driver and
// ConfigStore so it never opens its own SSH connection or database pool.
type Module struct {
	driver *driver.Driver
	store  *configstore.ConfigStore
}

// New builds a configbackup Module.
func New(d *driver.Driver, s *configstore.ConfigStore) *Module {
	return &Module{driver: d, store: s}
}

func (m *Module) Meta() jobtype.Meta {
	return jobtype.Meta{
		Label:       "Configuration Backup",
		Icon:        "save",
		Description: "Retrieves a device's running configuration and stores it if it changed.",
	}
}

func (m *Module) Run(ctx context.Context, device model.DeviceWithCredential, jobID int64, cfg json.RawMessage, db *store.DB) (jobtype.Result, error) {
	platform, err := driver.Lookup(device.Device.DeviceType)
	if err != nil {
		return jobtype.Result{}, err
	}

	password := device.Credential.PasswordEnc // already decrypted by the executor before this call
	result, err := m.driver.RunCommands(ctx, device.Device, password, device.Credential, []driver.Command{
		{Text: platform.ShowConfigCommand, Timeout: platform.CommandTimeout(platform.ShowConfigCommand)},
	})
	if err != nil {
		return jobtype.Result{}, err
	}

	configText := result.Output[platform.ShowConfigCommand]
	retrievedAt := time.Now().UTC()
	snapshot, stored, err := m.store.Persist(ctx, device.Device.ID, configText, nil, retrievedAt)
	if err != nil {
		return jobtype.Result{}, fmt.Errorf("configbackup: persisting snapshot: %w", err)
	}

	details := Details{}
	details.Meta.LinesSaved = countLines(configText)
	details.Meta.ConfigSize = len(configText)
	details.Meta.Stored = stored
	if stored {
		details.ConfigID = snapshot.ID
	}

	payload, err := json.Marshal(details)
	if err != nil {
		return jobtype.Result{}, fmt.Errorf("configbackup: marshaling details: %w", err)
	}

	return jobtype.Result{
		Success:  true,
		DeviceID: device.Device.ID,
		Details:  payload,
	}, nil
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	count := 1
	for _, r := range text {
		if r == '\n' {
			count++
		}
	}
	return count
}
