package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/netraven-io/netraven-core/pkg/credential"
	"github.com/netraven-io/netraven-core/pkg/driver"
	"github.com/netraven-io/netraven-core/pkg/jobtype"
	"github.com/netraven-io/netraven-core/pkg/logpipeline"
	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/store"
)

// fakeCredentialStore backs a real *credential.Resolver so HandleDevice
// exercises the actual ErrNoCredentials contract instead of a stand-in.
type fakeCredentialStore struct {
	byDevice map[int64][]model.Credential
	attempts []int64
}

func (f *fakeCredentialStore) CredentialsForDevice(ctx context.Context, deviceID int64) ([]model.Credential, error) {
	return f.byDevice[deviceID], nil
}

func (f *fakeCredentialStore) CredentialsForDevices(ctx context.Context, deviceIDs []int64) (map[int64][]model.Credential, error) {
	return nil, nil
}

func (f *fakeCredentialStore) RecordCredentialAttempt(ctx context.Context, credentialID int64, success bool) error {
	f.attempts = append(f.attempts, credentialID)
	return nil
}

type fakeResultStore struct {
	results []model.JobResult
}

func (f *fakeResultStore) InsertJobResult(ctx context.Context, r model.JobResult) (model.JobResult, error) {
	r.ID = int64(len(f.results) + 1)
	f.results = append(f.results, r)
	return r, nil
}

// stubModule lets each test script a canned sequence of outcomes, one
// per call to Run, keyed by how many times it has already been called.
type stubModule struct {
	calls   int
	results []jobtype.Result
	errs    []error
}

func (m *stubModule) Meta() jobtype.Meta { return jobtype.Meta{Label: "stub"} }

func (m *stubModule) Run(ctx context.Context, device model.DeviceWithCredential, jobID int64, cfg json.RawMessage, db *store.DB) (jobtype.Result, error) {
	if jobID == 0 {
		// Registry.Load's self-check probe; doesn't consume a scripted result.
		return jobtype.Result{Success: true}, nil
	}
	i := m.calls
	m.calls++
	if i < len(m.results) {
		r := m.results[i]
		if r.DeviceID == 0 {
			r.DeviceID = device.Device.ID
		}
		var err error
		if i < len(m.errs) {
			err = m.errs[i]
		}
		return r, err
	}
	return jobtype.Result{Success: true, DeviceID: device.Device.ID}, nil
}

func newRegistry(t *testing.T, name string, m jobtype.Module) *jobtype.Registry {
	t.Helper()
	r := jobtype.NewRegistry()
	if err := r.Register(name, m); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r
}

func TestHandleDeviceUnknownJobType(t *testing.T) {
	reg := jobtype.NewRegistry()
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	resolver := credential.New(&fakeCredentialStore{}, nil)
	results := &fakeResultStore{}
	e := New(reg, resolver, results, logpipeline.New(), nil)

	jr, err := e.HandleDevice(context.Background(), model.Device{ID: 1}, 1, "missing", nil)
	if err == nil {
		t.Fatal("expected an error for an unknown job type")
	}
	if jr.Success {
		t.Error("expected a failing JobResult")
	}
}

func TestHandleDeviceNoCredentials(t *testing.T) {
	module := &stubModule{results: []jobtype.Result{{Success: true, DeviceID: 1}}}
	reg := newRegistry(t, "backup", module)
	resolver := credential.New(&fakeCredentialStore{byDevice: map[int64][]model.Credential{}}, nil)
	results := &fakeResultStore{}
	e := New(reg, resolver, results, logpipeline.New(), nil)

	jr, err := e.HandleDevice(context.Background(), model.Device{ID: 7}, 1, "backup", nil)
	if !errors.Is(err, credential.ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
	if jr.Success {
		t.Error("expected a failing JobResult")
	}
	if len(results.results) != 1 {
		t.Fatalf("expected one persisted JobResult, got %d", len(results.results))
	}
}

func TestHandleDeviceSucceedsOnFirstCredential(t *testing.T) {
	module := &stubModule{results: []jobtype.Result{{Success: true, DeviceID: 3}}}
	reg := newRegistry(t, "backup", module)
	credStore := &fakeCredentialStore{byDevice: map[int64][]model.Credential{
		3: {{ID: 10, Username: "admin"}},
	}}
	resolver := credential.New(credStore, nil)
	results := &fakeResultStore{}
	e := New(reg, resolver, results, logpipeline.New(), nil)

	jr, err := e.HandleDevice(context.Background(), model.Device{ID: 3}, 5, "backup", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !jr.Success {
		t.Error("expected a successful JobResult")
	}
	if len(credStore.attempts) != 1 || credStore.attempts[0] != 10 {
		t.Errorf("expected one recorded attempt against credential 10, got %v", credStore.attempts)
	}
}

func TestHandleDeviceFallsBackToNextCredentialOnAuthError(t *testing.T) {
	module := &stubModule{
		results: []jobtype.Result{{}, {Success: true, DeviceID: 9}},
		errs:    []error{&driver.AuthError{Device: "9", Err: driver.ErrAuth}, nil},
	}
	reg := newRegistry(t, "backup", module)
	credStore := &fakeCredentialStore{byDevice: map[int64][]model.Credential{
		9: {{ID: 1, Username: "first"}, {ID: 2, Username: "second"}},
	}}
	resolver := credential.New(credStore, nil)
	results := &fakeResultStore{}
	e := New(reg, resolver, results, logpipeline.New(), nil)

	jr, err := e.HandleDevice(context.Background(), model.Device{ID: 9}, 5, "backup", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !jr.Success {
		t.Error("expected the second credential to succeed")
	}
	if len(credStore.attempts) != 2 {
		t.Fatalf("expected both credentials to be attempted, got %v", credStore.attempts)
	}
}

func TestHandleDeviceStopsAtNonRetriableError(t *testing.T) {
	module := &stubModule{
		results: []jobtype.Result{{}},
		errs:    []error{&driver.CommandError{Device: "4", Command: "show run", Err: driver.ErrCommand}},
	}
	reg := newRegistry(t, "backup", module)
	credStore := &fakeCredentialStore{byDevice: map[int64][]model.Credential{
		4: {{ID: 1, Username: "first"}, {ID: 2, Username: "second"}},
	}}
	resolver := credential.New(credStore, nil)
	results := &fakeResultStore{}
	e := New(reg, resolver, results, logpipeline.New(), nil)

	jr, err := e.HandleDevice(context.Background(), model.Device{ID: 4}, 5, "backup", nil)
	if err == nil {
		t.Fatal("expected the command error to propagate")
	}
	if jr.Success {
		t.Error("expected a failing JobResult")
	}
	if len(credStore.attempts) != 1 {
		t.Fatalf("expected only the first credential to be tried, got %v", credStore.attempts)
	}
	if driver.Retriable(err) {
		t.Error("a command error must not be dispatcher-retriable")
	}
}

func TestHandleDeviceExhaustsAllCredentials(t *testing.T) {
	module := &stubModule{
		results: []jobtype.Result{{}, {}},
		errs: []error{
			&driver.UnreachableError{Device: "2", Err: driver.ErrUnreachable},
			&driver.UnreachableError{Device: "2", Err: driver.ErrUnreachable},
		},
	}
	reg := newRegistry(t, "backup", module)
	credStore := &fakeCredentialStore{byDevice: map[int64][]model.Credential{
		2: {{ID: 1}, {ID: 2}},
	}}
	resolver := credential.New(credStore, nil)
	results := &fakeResultStore{}
	e := New(reg, resolver, results, logpipeline.New(), nil)

	jr, err := e.HandleDevice(context.Background(), model.Device{ID: 2}, 5, "backup", nil)
	if err == nil {
		t.Fatal("expected the last attempt's error to propagate")
	}
	if jr.Success {
		t.Error("expected a failing JobResult once every credential is exhausted")
	}
	if !driver.Retriable(err) {
		t.Error("an unreachable error should be dispatcher-retriable")
	}
}
