package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/netraven-io/netraven-core/pkg/model"
)

type fakeStore struct {
	mu            sync.Mutex
	jobs          []model.Job
	registrations map[int64]model.ScheduleRegistration
	deleted       []int64
}

func newFakeStore(jobs ...model.Job) *fakeStore {
	return &fakeStore{jobs: jobs, registrations: make(map[int64]model.ScheduleRegistration)}
}

func (s *fakeStore) EnabledJobs(ctx context.Context) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Job, len(s.jobs))
	copy(out, s.jobs)
	return out, nil
}

func (s *fakeStore) AllScheduleRegistrations(ctx context.Context) ([]model.ScheduleRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ScheduleRegistration, 0, len(s.registrations))
	for _, r := range s.registrations {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) UpsertScheduleRegistration(ctx context.Context, r model.ScheduleRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[r.JobID] = r
	return nil
}

func (s *fakeStore) DeleteScheduleRegistration(ctx context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registrations, jobID)
	s.deleted = append(s.deleted, jobID)
	return nil
}

// fakeQueue stands in for *redisqueue.Client: ScheduleAt dedupes by
// (jobID, signature) exactly like the real queue, so reconcile tests
// can assert on whether a new arrangement was actually made, not just
// on registration-table bookkeeping.
type fakeQueue struct {
	mu        sync.Mutex
	enqueued  []int64
	scheduled map[int64]string // jobID -> signature
	cancelled []int64
	promotes  int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{scheduled: make(map[int64]string)}
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

func (q *fakeQueue) ScheduleAt(ctx context.Context, jobID int64, signature string, runAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.scheduled[jobID] = signature
	return nil
}

func (q *fakeQueue) Cancel(ctx context.Context, jobID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, jobID)
	delete(q.scheduled, jobID)
	return nil
}

func (q *fakeQueue) PromoteDue(ctx context.Context, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promotes++
	return nil
}

func intervalJob(id int64, seconds int64) model.Job {
	params, _ := json.Marshal(map[string]int64{"interval_seconds": seconds})
	return model.Job{ID: id, IsEnabled: true, ScheduleKind: model.ScheduleInterval, ScheduleParams: params}
}

func cronJob(id int64, expr string) model.Job {
	params, _ := json.Marshal(map[string]string{"expression": expr})
	return model.Job{ID: id, IsEnabled: true, ScheduleKind: model.ScheduleCron, ScheduleParams: params}
}

func oneTimeJob(id int64, runAt time.Time) model.Job {
	params, _ := json.Marshal(map[string]time.Time{"run_at": runAt})
	return model.Job{ID: id, IsEnabled: true, ScheduleKind: model.ScheduleOneTime, ScheduleParams: params}
}

func manualJob(id int64) model.Job {
	return model.Job{ID: id, IsEnabled: true, ScheduleKind: model.ScheduleManual, ScheduleParams: json.RawMessage("{}")}
}

func TestReconcileRegistersIntervalJob(t *testing.T) {
	store := newFakeStore(intervalJob(1, 30))
	q := newFakeQueue()
	sched, err := New(store, q, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, ok := store.registrations[1]; !ok {
		t.Error("expected job 1 to be registered")
	}
	if _, ok := q.scheduled[1]; !ok {
		t.Error("expected job 1 to be arranged with the queue")
	}
}

func TestReconcileRegistersCronJob(t *testing.T) {
	store := newFakeStore(cronJob(2, "*/5 * * * *"))
	q := newFakeQueue()
	sched, err := New(store, q, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, ok := store.registrations[2]; !ok {
		t.Error("expected job 2 to be registered")
	}
}

func TestReconcileRejectsMalformedCronExpression(t *testing.T) {
	store := newFakeStore(cronJob(3, "not a cron expression"))
	q := newFakeQueue()
	sched, err := New(store, q, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile itself should not fail: %v", err)
	}
	if _, ok := store.registrations[3]; ok {
		t.Error("expected job 3 to be left unregistered after a malformed cron expression")
	}
}

func TestReconcileSkipsPastOneTimeJob(t *testing.T) {
	store := newFakeStore(oneTimeJob(4, time.Now().Add(-time.Hour)))
	q := newFakeQueue()
	sched, err := New(store, q, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, ok := store.registrations[4]; ok {
		t.Error("expected a past onetime job to be skipped, not registered")
	}
}

func TestReconcileNeverRegistersManualJob(t *testing.T) {
	store := newFakeStore(manualJob(5))
	q := newFakeQueue()
	sched, err := New(store, q, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, ok := store.registrations[5]; ok {
		t.Error("expected a manual job to never be registered with the timer layer")
	}
}

func TestReconcileIsIdempotentAcrossCalls(t *testing.T) {
	store := newFakeStore(intervalJob(6, 60))
	q := newFakeQueue()
	sched, err := New(store, q, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	first := store.registrations[6]

	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	second := store.registrations[6]

	if first.ScheduleSignature != second.ScheduleSignature {
		t.Error("expected the schedule signature to stay stable across reconcile passes")
	}
	if !first.NextRunAt.Equal(second.NextRunAt) {
		t.Error("expected an unfired registration's NextRunAt to stay stable across reconcile passes")
	}
}

func TestReconcileReregistersOnScheduleChange(t *testing.T) {
	job := intervalJob(7, 30)
	store := newFakeStore(job)
	q := newFakeQueue()
	sched, err := New(store, q, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	before := store.registrations[7].ScheduleSignature

	store.mu.Lock()
	store.jobs[0] = intervalJob(7, 120)
	store.mu.Unlock()

	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	after := store.registrations[7].ScheduleSignature

	if before == after {
		t.Error("expected the schedule signature to change once the interval changed")
	}
}

func TestReconcileRearmsRecurringJobOnceItsArrangementFired(t *testing.T) {
	store := newFakeStore(intervalJob(10, 30))
	q := newFakeQueue()
	sched, err := New(store, q, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	firstNext := store.registrations[10].NextRunAt

	// Simulate the queue having already delivered the arrangement: its
	// dedupe key is gone (modeled here as just advancing NextRunAt into
	// the past), as PromoteDue would do in the real redisqueue.Client.
	store.mu.Lock()
	reg := store.registrations[10]
	reg.NextRunAt = time.Now().Add(-time.Minute)
	store.registrations[10] = reg
	store.mu.Unlock()

	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	secondNext := store.registrations[10].NextRunAt

	if !secondNext.After(firstNext) {
		t.Errorf("expected a recurring job to be re-armed with a fresh future NextRunAt once its prior arrangement passed, got first=%s second=%s", firstNext, secondNext)
	}
	if store.registrations[10].ScheduleSignature != scheduleSignature(intervalJob(10, 30)) {
		t.Error("expected the re-armed registration to keep the same schedule signature")
	}
}

func TestReconcileNeverRearmsFiredOneTimeJob(t *testing.T) {
	runAt := time.Now().Add(time.Hour)
	store := newFakeStore(oneTimeJob(11, runAt))
	q := newFakeQueue()
	sched, err := New(store, q, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}

	// Simulate the arrangement having already fired: NextRunAt is now in
	// the past, but the job's schedule_params (and so its signature)
	// never change for a onetime job.
	store.mu.Lock()
	reg := store.registrations[11]
	reg.NextRunAt = time.Now().Add(-time.Minute)
	store.registrations[11] = reg
	store.mu.Unlock()

	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if !store.registrations[11].NextRunAt.Before(time.Now()) {
		t.Error("expected a fired onetime job to never be re-armed into the future")
	}
}

func TestReconcileTearsDownDisabledJob(t *testing.T) {
	store := newFakeStore(intervalJob(8, 30))
	q := newFakeQueue()
	sched, err := New(store, q, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}

	store.mu.Lock()
	store.jobs = nil
	store.mu.Unlock()

	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if _, ok := store.registrations[8]; ok {
		t.Error("expected the registration to be torn down once the job disappeared")
	}
	if len(store.deleted) != 1 || store.deleted[0] != 8 {
		t.Errorf("expected DeleteScheduleRegistration(8), got %v", store.deleted)
	}
	if len(q.cancelled) != 1 || q.cancelled[0] != 8 {
		t.Errorf("expected the queue arrangement for job 8 to be cancelled, got %v", q.cancelled)
	}
}

func TestReconcileTearsDownJobSwitchedToManual(t *testing.T) {
	store := newFakeStore(intervalJob(12, 30))
	q := newFakeQueue()
	sched, err := New(store, q, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}

	store.mu.Lock()
	store.jobs[0] = manualJob(12)
	store.mu.Unlock()

	if err := sched.Reconcile(context.Background()); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if _, ok := store.registrations[12]; ok {
		t.Error("expected the registration to be torn down once the job switched to manual")
	}
	if len(q.cancelled) != 1 || q.cancelled[0] != 12 {
		t.Errorf("expected the queue arrangement for job 12 to be cancelled, got %v", q.cancelled)
	}
}

func TestTriggerNowBypassesTheTimerLayer(t *testing.T) {
	store := newFakeStore(manualJob(9))
	q := newFakeQueue()
	sched, err := New(store, q, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sched.TriggerNow(context.Background(), 9); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != 9 {
		t.Errorf("expected job 9 to be enqueued directly, got %v", q.enqueued)
	}
}

// TestReconcileSurvivesRestartAcrossSchedulerInstances is the regression
// test for the restart bug: a second Scheduler built over the first
// one's pre-seeded registrations (as happens when the worker process
// restarts) must still keep a not-yet-due recurring job registered
// without losing or duplicating it, and must still re-arm one whose
// prior arrangement already fired — exactly as if no restart had
// happened, since nothing about correctness here may depend on
// in-process state.
func TestReconcileSurvivesRestartAcrossSchedulerInstances(t *testing.T) {
	store := newFakeStore(intervalJob(20, 30))
	firstQueue := newFakeQueue()
	first, err := New(store, firstQueue, time.Second)
	if err != nil {
		t.Fatalf("New (first): %v", err)
	}
	if err := first.Reconcile(context.Background()); err != nil {
		t.Fatalf("first scheduler's Reconcile: %v", err)
	}
	notYetDue := store.registrations[20]

	// "Restart": a brand-new Scheduler, a brand-new Queue client (no
	// in-memory state carried over), built over the same durable store.
	secondQueue := newFakeQueue()
	second, err := New(store, secondQueue, time.Second)
	if err != nil {
		t.Fatalf("New (second): %v", err)
	}
	if err := second.Reconcile(context.Background()); err != nil {
		t.Fatalf("second scheduler's Reconcile: %v", err)
	}
	afterRestart := store.registrations[20]

	if afterRestart.NextRunAt != notYetDue.NextRunAt {
		t.Errorf("expected a not-yet-due registration to survive a restart untouched, got before=%s after=%s", notYetDue.NextRunAt, afterRestart.NextRunAt)
	}
	if len(secondQueue.scheduled) != 0 {
		t.Errorf("expected the restarted scheduler not to re-arrange an already-pending, not-yet-due job, got %v", secondQueue.scheduled)
	}

	// Now simulate the arrangement having fired while the process was
	// down: NextRunAt is in the past by the time the second Scheduler
	// reconciles.
	store.mu.Lock()
	reg := store.registrations[20]
	reg.NextRunAt = time.Now().Add(-time.Minute)
	store.registrations[20] = reg
	store.mu.Unlock()

	if err := second.Reconcile(context.Background()); err != nil {
		t.Fatalf("second scheduler's post-fire Reconcile: %v", err)
	}
	if _, ok := secondQueue.scheduled[20]; !ok {
		t.Error("expected the restarted scheduler to re-arm job 20 once its fired arrangement was noticed, instead of silently never firing again")
	}
}
