package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/netraven-io/netraven-core/pkg/model"
)

// ErrNoCredentials means a device has no credential sharing a tag with
// it. Deliberately distinct from util.ErrNotFound: an empty fallback
// list is an expected, named outcome the Executor maps to
// COMPLETED_NO_CREDENTIALS, not a lookup failure.
var ErrNoCredentials = errors.New("credential: no credentials matched for device")

// Store is the subset of pkg/store.DB the resolver needs, kept narrow so
// tests can fake it without a database.
type Store interface {
	CredentialsForDevice(ctx context.Context, deviceID int64) ([]model.Credential, error)
	CredentialsForDevices(ctx context.Context, deviceIDs []int64) (map[int64][]model.Credential, error)
	RecordCredentialAttempt(ctx context.Context, credentialID int64, success bool) error
}

// Resolved is one credential ready for a connection attempt: decrypted
// and still carrying its ID for RecordAttempt.
type Resolved struct {
	ID       int64
	Username string
	Password string
}

// Resolver turns a device's tag-matched credential rows into an ordered,
// decrypted fallback list and tracks the outcome of each attempt.
type Resolver struct {
	store Store
	box   *Box
}

// New builds a Resolver. box may be nil, in which case
// password_encrypted columns are returned as stored, without decryption.
func New(store Store, box *Box) *Resolver {
	return &Resolver{store: store, box: box}
}

func (r *Resolver) decrypt(enc string) (string, error) {
	if r.box == nil {
		return enc, nil
	}
	return r.box.Open(enc)
}

// Resolve returns deviceID's credentials in fallback order, decrypted.
// Returns ErrNoCredentials, not an empty slice with a nil error, when
// the device genuinely has none — the Executor maps that sentinel to
// JobCompletedNoCredentials.
func (r *Resolver) Resolve(ctx context.Context, deviceID int64) ([]Resolved, error) {
	rows, err := r.store.CredentialsForDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("resolving credentials for device %d: %w", deviceID, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoCredentials
	}
	return r.decryptAll(rows)
}

// ResolveBatch resolves every device in deviceIDs in one round trip,
// used by the Runner's pre-resolution pass before dispatch begins.
func (r *Resolver) ResolveBatch(ctx context.Context, deviceIDs []int64) (map[int64][]Resolved, error) {
	byDevice, err := r.store.CredentialsForDevices(ctx, deviceIDs)
	if err != nil {
		return nil, fmt.Errorf("batch resolving credentials: %w", err)
	}
	result := make(map[int64][]Resolved, len(byDevice))
	for deviceID, rows := range byDevice {
		resolved, err := r.decryptAll(rows)
		if err != nil {
			return nil, fmt.Errorf("decrypting credentials for device %d: %w", deviceID, err)
		}
		result[deviceID] = resolved
	}
	return result, nil
}

func (r *Resolver) decryptAll(rows []model.Credential) ([]Resolved, error) {
	resolved := make([]Resolved, 0, len(rows))
	for _, c := range rows {
		plain, err := r.decrypt(c.PasswordEnc)
		if err != nil {
			return nil, fmt.Errorf("decrypting credential %d: %w", c.ID, err)
		}
		resolved = append(resolved, Resolved{ID: c.ID, Username: c.Username, Password: plain})
	}
	return resolved, nil
}

// RecordAttempt persists the outcome of trying credentialID against a
// device, updating its success/failure counters and, on success, the
// last-used timestamp the fallback ordering depends on.
func (r *Resolver) RecordAttempt(ctx context.Context, credentialID int64, success bool) error {
	if err := r.store.RecordCredentialAttempt(ctx, credentialID, success); err != nil {
		return fmt.Errorf("recording credential %d attempt: %w", credentialID, err)
	}
	return nil
}
