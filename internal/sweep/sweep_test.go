package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sheikh-saqib/stakes-ledger/internal/forgiveness"
	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/ledger"
	"github.com/sheikh-saqib/stakes-ledger/internal/logging"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
	"github.com/sheikh-saqib/stakes-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/stakes-ledger/internal/tasks"
	"github.com/sheikh-saqib/stakes-ledger/internal/testutil"
	"github.com/sheikh-saqib/stakes-ledger/internal/timewindow"
)

var start = time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)

// faultyStore fails every instance update for one id.
type faultyStore struct {
	*memory.MemoryStore
	failID atomic.Value
}

func (s *faultyStore) WithTx(ctx context.Context, fn func(tx interfaces.Tx) error) error {
	return s.MemoryStore.WithTx(ctx, func(tx interfaces.Tx) error {
		id, _ := s.failID.Load().(string)
		return fn(faultyTx{Tx: tx, failID: id})
	})
}

type faultyTx struct {
	interfaces.Tx
	failID string
}

func (t faultyTx) UpdateInstance(ctx context.Context, inst models.TaskInstance) error {
	if inst.ID == t.failID {
		return errors.New("disk on fire")
	}
	return t.Tx.UpdateInstance(ctx, inst)
}

type fixture struct {
	store *faultyStore
	dir   *memory.Directory
	clock *testutil.Clock
	led   *ledger.Ledger
	lc    *tasks.Lifecycle
	fs    *forgiveness.Service
	sw    *Sweeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: &faultyStore{MemoryStore: memory.NewMemoryStore()},
		dir:   memory.NewDirectory(),
		clock: testutil.NewClock(start),
	}
	f.store.failID.Store("")
	pub := &testutil.Publisher{}
	logger := logging.Discard()
	f.led = ledger.NewLedger(f.store, f.clock)
	f.lc = tasks.NewLifecycle(f.store, f.dir, f.led, f.clock, pub, logger)
	f.fs = forgiveness.NewService(f.store, f.dir, f.lc, forgiveness.Quota{Calendar: timewindow.NewCalendar(time.Sunday, nil)}, f.clock, pub, logger)
	f.sw = New(f.store, f.dir, f.lc, f.fs, f.clock, logger)

	f.dir.PutSpace(models.SpaceRules{SpaceID: "s1", MinStake: 1, GraceMinutes: 15, GroupVoteEnabled: true, VoteThresholdPercent: 50})
	f.dir.AddMember("s1", "alice")
	f.dir.AddMember("s1", "bob")
	if _, err := f.led.SyncUser(context.Background(), "alice", 100); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) create(t *testing.T, space string, due time.Time) models.TaskInstance {
	t.Helper()
	inst, err := f.lc.Create(context.Background(), "alice", space, tasks.NewTask{Title: "task", DueAt: due, Stake: 10})
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func (f *fixture) status(t *testing.T, id string) models.TaskStatus {
	t.Helper()
	inst, err := f.lc.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return inst.Status
}

func TestRunMissesOnlyPastGrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	late := f.create(t, "s1", start.Add(-20*time.Minute))
	inGrace := f.create(t, "s1", start.Add(-10*time.Minute))
	future := f.create(t, "s1", start.Add(time.Hour))

	report, err := f.sw.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	if f.status(t, late.ID) != models.StatusMissed {
		t.Fatal("late task should be missed")
	}
	for _, id := range []string{inGrace.ID, future.ID} {
		if f.status(t, id) != models.StatusPending {
			t.Fatalf("task %s should still be pending", id)
		}
	}

	again, err := f.sw.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.Processed != 0 {
		t.Fatalf("second run processed %d", again.Processed)
	}
	if b, _ := f.led.GetBalance(ctx, "alice"); b != 70 {
		t.Fatalf("balance = %d, want 70", b)
	}
}

func TestRunUsesDefaultGraceForUnknownSpace(t *testing.T) {
	f := newFixture(t)
	f.dir.AddMember("loose", "alice")
	// Loose has no rules row, so tasks can only be seeded directly.
	inst := models.TaskInstance{ID: "t-loose", SpaceID: "loose", UserID: "alice", DueAt: start.Add(-time.Minute), StakeAmount: 5, Status: models.StatusPending}
	err := f.store.WithTx(context.Background(), func(tx interfaces.Tx) error {
		return tx.CreateInstance(context.Background(), inst)
	})
	if err != nil {
		t.Fatal(err)
	}

	f.sw.DefaultGraceMinutes = 5
	if r, _ := f.sw.Run(context.Background()); r.Processed != 0 {
		t.Fatalf("inside default grace, report = %+v", r)
	}
	f.sw.DefaultGraceMinutes = 0
	if r, _ := f.sw.Run(context.Background()); r.Processed != 1 {
		t.Fatalf("report = %+v", r)
	}
}

func TestRunToleratesPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "s1", start.Add(-time.Hour))
	b := f.create(t, "s1", start.Add(-time.Hour))
	c := f.create(t, "s1", start.Add(-time.Hour))
	f.store.failID.Store(b.ID)

	report, err := f.sw.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if f.status(t, a.ID) != models.StatusMissed || f.status(t, c.ID) != models.StatusMissed {
		t.Fatal("healthy instances must be processed")
	}
	if f.status(t, b.ID) != models.StatusPending {
		t.Fatal("failed instance must be left untouched")
	}

	f.store.failID.Store("")
	retry, err := f.sw.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if retry.Processed != 1 || retry.Failed != 0 {
		t.Fatalf("retry report = %+v", retry)
	}
}

func TestRunExpiresRequestsWithoutTouchingTasks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inst := f.create(t, "s1", start.Add(-time.Hour))
	if _, err := f.sw.Run(ctx); err != nil {
		t.Fatal(err)
	}
	req, err := f.fs.RequestGroupForgiveness(ctx, inst.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}

	f.clock.Set(req.ExpiresAt.Add(time.Minute))
	report, err := f.sw.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.ExpiredRequests != 1 {
		t.Fatalf("report = %+v", report)
	}
	got, _ := f.fs.GetRequest(ctx, req.ID)
	if got.Status != models.RequestExpired {
		t.Fatalf("request status = %s", got.Status)
	}
	if f.status(t, inst.ID) != models.StatusMissed {
		t.Fatal("task must stay missed")
	}
}

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	enough := make(chan struct{})
	job := Job{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		if runs.Add(1) == 3 {
			close(enough)
		}
		return nil
	}}
	disabled := Job{Name: "off", Interval: 0, Run: func(context.Context) error {
		t.Error("disabled job must not run")
		return nil
	}}

	done := make(chan struct{})
	go func() {
		NewScheduler(logging.Discard(), job, disabled).Run(ctx)
		close(done)
	}()

	select {
	case <-enough:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run three times")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
