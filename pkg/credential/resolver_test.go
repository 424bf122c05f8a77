package credential

import (
	"context"
	"testing"

	"github.com/netraven-io/netraven-core/pkg/model"
)

type fakeStore struct {
	byDevice   map[int64][]model.Credential
	attempts   []int64
	successes  map[int64]bool
}

func (f *fakeStore) CredentialsForDevice(ctx context.Context, deviceID int64) ([]model.Credential, error) {
	return f.byDevice[deviceID], nil
}

func (f *fakeStore) CredentialsForDevices(ctx context.Context, deviceIDs []int64) (map[int64][]model.Credential, error) {
	out := make(map[int64][]model.Credential, len(deviceIDs))
	for _, id := range deviceIDs {
		out[id] = f.byDevice[id]
	}
	return out, nil
}

func (f *fakeStore) RecordCredentialAttempt(ctx context.Context, credentialID int64, success bool) error {
	f.attempts = append(f.attempts, credentialID)
	if f.successes == nil {
		f.successes = map[int64]bool{}
	}
	f.successes[credentialID] = success
	return nil
}

func TestResolveReturnsPlaintextWithoutBox(t *testing.T) {
	store := &fakeStore{byDevice: map[int64][]model.Credential{
		1: {{ID: 10, Username: "admin", PasswordEnc: "plaintextpw"}},
	}}
	r := New(store, nil)

	resolved, err := r.Resolve(context.Background(), 1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved) != 1 || resolved[0].Password != "plaintextpw" {
		t.Fatalf("Resolve = %+v", resolved)
	}
}

func TestResolveDecryptsWithBox(t *testing.T) {
	box, err := NewBox([]byte("01234567890123456789012345678901")[:32])
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	sealed, err := box.Seal("s3cret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	store := &fakeStore{byDevice: map[int64][]model.Credential{
		1: {{ID: 10, Username: "admin", PasswordEnc: sealed}},
	}}
	r := New(store, box)

	resolved, err := r.Resolve(context.Background(), 1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved) != 1 || resolved[0].Password != "s3cret" {
		t.Fatalf("Resolve = %+v", resolved)
	}
}

func TestResolveBatchCoversEveryDevice(t *testing.T) {
	store := &fakeStore{byDevice: map[int64][]model.Credential{
		1: {{ID: 10, Username: "admin", PasswordEnc: "a"}},
		2: {{ID: 20, Username: "admin", PasswordEnc: "b"}},
	}}
	r := New(store, nil)

	resolved, err := r.ResolveBatch(context.Background(), []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}
	if len(resolved[1]) != 1 || len(resolved[2]) != 1 {
		t.Fatalf("ResolveBatch = %+v", resolved)
	}
	if len(resolved[3]) != 0 {
		t.Errorf("device with no credentials should resolve to an empty, not missing, slice")
	}
}

func TestRecordAttemptForwardsToStore(t *testing.T) {
	store := &fakeStore{}
	r := New(store, nil)

	if err := r.RecordAttempt(context.Background(), 10, true); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if len(store.attempts) != 1 || store.attempts[0] != 10 || !store.successes[10] {
		t.Errorf("RecordAttempt did not forward correctly: %+v", store)
	}
}
