package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/netraven-io/netraven-core/pkg/credential"
	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/util"
)

type fakeStore struct {
	job        model.Job
	getJobErr  error
	tagIDs     []int64
	devices    []model.Device
	statusLog  []model.JobStatus
	setErr     error
}

func (s *fakeStore) GetJob(ctx context.Context, id int64) (model.Job, error) {
	if s.getJobErr != nil {
		return model.Job{}, s.getJobErr
	}
	return s.job, nil
}

func (s *fakeStore) SetJobStatus(ctx context.Context, jobID int64, status model.JobStatus) error {
	s.statusLog = append(s.statusLog, status)
	return s.setErr
}

func (s *fakeStore) TagIDsForJob(ctx context.Context, jobID int64) ([]int64, error) {
	return s.tagIDs, nil
}

func (s *fakeStore) DevicesByTags(ctx context.Context, tagIDs []int64) ([]model.Device, error) {
	return s.devices, nil
}

type fakeResolver struct {
	resolved map[int64][]credential.Resolved
	err      error
}

func (r *fakeResolver) ResolveBatch(ctx context.Context, deviceIDs []int64) (map[int64][]credential.Resolved, error) {
	return r.resolved, r.err
}

func lastStatus(s *fakeStore) model.JobStatus {
	if len(s.statusLog) == 0 {
		return ""
	}
	return s.statusLog[len(s.statusLog)-1]
}

func TestRunJobMissingJobIsANoop(t *testing.T) {
	store := &fakeStore{getJobErr: util.ErrNotFound}
	resolver := &fakeResolver{}
	r := New(store, resolver, nil, nil)

	status, err := r.RunJob(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "" {
		t.Errorf("expected no status change for a missing job, got %s", status)
	}
	if len(store.statusLog) != 0 {
		t.Error("expected no status writes for a missing job")
	}
}

func TestRunJobDisabledJobIsANoop(t *testing.T) {
	store := &fakeStore{job: model.Job{ID: 1, IsEnabled: false}}
	resolver := &fakeResolver{}
	r := New(store, resolver, nil, nil)

	status, err := r.RunJob(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "" {
		t.Errorf("expected no status change for a disabled job, got %s", status)
	}
}

func TestRunJobNoDevices(t *testing.T) {
	store := &fakeStore{job: model.Job{ID: 1, IsEnabled: true}, tagIDs: []int64{5}}
	resolver := &fakeResolver{}
	r := New(store, resolver, nil, nil)

	status, err := r.RunJob(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != model.JobCompletedNoDevices {
		t.Errorf("expected COMPLETED_NO_DEVICES, got %s", status)
	}
	if lastStatus(store) != model.JobCompletedNoDevices {
		t.Error("expected the final status to be persisted")
	}
}

func TestRunJobNoCredentials(t *testing.T) {
	store := &fakeStore{
		job:     model.Job{ID: 1, IsEnabled: true},
		devices: []model.Device{{ID: 10}},
	}
	resolver := &fakeResolver{resolved: map[int64][]credential.Resolved{10: {}}}
	r := New(store, resolver, nil, nil)

	status, err := r.RunJob(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != model.JobCompletedNoCredentials {
		t.Errorf("expected COMPLETED_NO_CREDENTIALS, got %s", status)
	}
}

func TestRunJobCredentialResolutionError(t *testing.T) {
	store := &fakeStore{
		job:     model.Job{ID: 1, IsEnabled: true},
		devices: []model.Device{{ID: 10}},
	}
	resolver := &fakeResolver{err: errors.New("db down")}
	r := New(store, resolver, nil, nil)

	status, err := r.RunJob(context.Background(), 1)
	if err == nil {
		t.Fatal("expected an error")
	}
	if status != model.JobFailedCredentialResolution {
		t.Errorf("expected FAILED_CREDENTIAL_RESOLUTION, got %s", status)
	}
}

func TestRunJobDispatcherError(t *testing.T) {
	store := &fakeStore{
		job:     model.Job{ID: 1, IsEnabled: true, JobType: "backup"},
		devices: []model.Device{{ID: 10}},
	}
	resolver := &fakeResolver{resolved: map[int64][]credential.Resolved{10: {{ID: 1}}}}
	dispatch := func(ctx context.Context, devices []model.Device, jobID int64, jobType string, cfg json.RawMessage) ([]model.JobResult, error) {
		return nil, errors.New("errgroup blew up")
	}
	r := New(store, resolver, dispatch, nil)

	status, err := r.RunJob(context.Background(), 1)
	if err == nil {
		t.Fatal("expected an error")
	}
	if status != model.JobFailedDispatcherError {
		t.Errorf("expected FAILED_DISPATCHER_ERROR, got %s", status)
	}
}

func TestRunJobAggregatesSuccess(t *testing.T) {
	store := &fakeStore{
		job:     model.Job{ID: 1, IsEnabled: true, JobType: "backup"},
		devices: []model.Device{{ID: 10}, {ID: 11}},
	}
	resolver := &fakeResolver{resolved: map[int64][]credential.Resolved{
		10: {{ID: 1}}, 11: {{ID: 2}},
	}}
	dispatch := func(ctx context.Context, devices []model.Device, jobID int64, jobType string, cfg json.RawMessage) ([]model.JobResult, error) {
		return []model.JobResult{
			{DeviceID: 10, Success: true},
			{DeviceID: 11, Success: true},
		}, nil
	}
	r := New(store, resolver, dispatch, nil)

	status, err := r.RunJob(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != model.JobCompletedSuccess {
		t.Errorf("expected COMPLETED_SUCCESS, got %s", status)
	}
}

func TestRunJobAggregatesPartialFailure(t *testing.T) {
	store := &fakeStore{
		job:     model.Job{ID: 1, IsEnabled: true, JobType: "backup"},
		devices: []model.Device{{ID: 10}, {ID: 11}},
	}
	resolver := &fakeResolver{resolved: map[int64][]credential.Resolved{
		10: {{ID: 1}}, 11: {{ID: 2}},
	}}
	dispatch := func(ctx context.Context, devices []model.Device, jobID int64, jobType string, cfg json.RawMessage) ([]model.JobResult, error) {
		return []model.JobResult{
			{DeviceID: 10, Success: true},
			{DeviceID: 11, Success: false},
		}, nil
	}
	r := New(store, resolver, dispatch, nil)

	status, err := r.RunJob(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != model.JobCompletedPartialFailure {
		t.Errorf("expected COMPLETED_PARTIAL_FAILURE, got %s", status)
	}
}

func TestRunJobAggregatesTotalFailure(t *testing.T) {
	store := &fakeStore{
		job:     model.Job{ID: 1, IsEnabled: true, JobType: "backup"},
		devices: []model.Device{{ID: 10}},
	}
	resolver := &fakeResolver{resolved: map[int64][]credential.Resolved{10: {{ID: 1}}}}
	dispatch := func(ctx context.Context, devices []model.Device, jobID int64, jobType string, cfg json.RawMessage) ([]model.JobResult, error) {
		return []model.JobResult{{DeviceID: 10, Success: false}}, nil
	}
	r := New(store, resolver, dispatch, nil)

	status, err := r.RunJob(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != model.JobCompletedFailure {
		t.Errorf("expected COMPLETED_FAILURE, got %s", status)
	}
}

func TestRunJobRecoversFromPanic(t *testing.T) {
	store := &fakeStore{
		job:     model.Job{ID: 1, IsEnabled: true, JobType: "backup"},
		devices: []model.Device{{ID: 10}},
	}
	resolver := &fakeResolver{resolved: map[int64][]credential.Resolved{10: {{ID: 1}}}}
	dispatch := func(ctx context.Context, devices []model.Device, jobID int64, jobType string, cfg json.RawMessage) ([]model.JobResult, error) {
		panic("dispatcher exploded")
	}
	r := New(store, resolver, dispatch, nil)

	status, err := r.RunJob(context.Background(), 1)
	if err == nil {
		t.Fatal("expected the panic to surface as an error")
	}
	if status != model.JobFailedUnexpected {
		t.Errorf("expected FAILED_UNEXPECTED, got %s", status)
	}
}
