package stats

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

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

func TestSummarise(t *testing.T) {
	tests := []struct {
		name      string
		instances []models.TaskInstance
		total     int
		completed int
		percent   string
		lost      int64
	}{
		{name: "empty week", percent: "0"},
		{
			name: "mixed",
			instances: []models.TaskInstance{
				{Status: models.StatusCompleted, StakeAmount: 10},
				{Status: models.StatusMissed, StakeAmount: 20, PenaltyApplied: true},
				{Status: models.StatusForgiven, StakeAmount: 30, PenaltyApplied: true},
			},
			total: 3, completed: 1, percent: "33.33", lost: 20,
		},
		{
			name: "pending is not lost",
			instances: []models.TaskInstance{
				{Status: models.StatusCompleted},
				{Status: models.StatusPending, StakeAmount: 5},
			},
			total: 2, completed: 1, percent: "50",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarise(tt.instances)
			if got.Total != tt.total || got.Completed != tt.completed || got.CoinsLost != tt.lost {
				t.Fatalf("got %+v", got)
			}
			if !got.CompletionPercent.Equal(decimal.RequireFromString(tt.percent)) {
				t.Fatalf("percent = %s, want %s", got.CompletionPercent, tt.percent)
			}
		})
	}
}

func TestRunAggregatesPreviousWeek(t *testing.T) {
	ctx := context.Background()
	// Sunday weeks: the week before Wednesday 14 Oct is 4-10 Oct.
	monday := time.Date(2026, time.October, 5, 9, 0, 0, 0, time.UTC)
	clock := testutil.NewClock(monday)
	store := memory.NewMemoryStore()
	dir := memory.NewDirectory()
	pub := &testutil.Publisher{}
	logger := logging.Discard()
	cal := timewindow.NewCalendar(time.Sunday, nil)
	quota := forgiveness.Quota{Calendar: cal}

	led := ledger.NewLedger(store, clock)
	lc := tasks.NewLifecycle(store, dir, led, clock, pub, logger)
	fs := forgiveness.NewService(store, dir, lc, quota, clock, pub, logger)
	agg := NewAggregator(store, dir, quota, clock, logger)

	dir.PutSpace(models.SpaceRules{SpaceID: "s1", MinStake: 1, WeeklyForgivenessTokens: 1})
	dir.AddMember("s1", "alice")
	dir.AddMember("s1", "bob")
	if _, err := led.SyncUser(ctx, "alice", 100); err != nil {
		t.Fatal(err)
	}

	due := monday.Add(24 * time.Hour)
	created, err := lc.CreateBatch(ctx, "alice", "s1", []tasks.NewTask{
		{Title: "run", DueAt: due, Stake: 10},
		{Title: "read", DueAt: due, Stake: 20},
		{Title: "write", DueAt: due, Stake: 30},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Outside the week.
	if _, err := lc.Create(ctx, "alice", "s1", tasks.NewTask{Title: "later", DueAt: due.AddDate(0, 0, 7), Stake: 5}); err != nil {
		t.Fatal(err)
	}

	clock.Set(due)
	if _, err := lc.Complete(ctx, created[0].ID, "alice"); err != nil {
		t.Fatal(err)
	}
	clock.Set(due.Add(time.Hour))
	for _, inst := range created[1:] {
		if _, err := lc.Miss(ctx, inst.ID); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := fs.ForgivePersonally(ctx, created[2].ID, "alice"); err != nil {
		t.Fatal(err)
	}

	clock.Set(time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC))
	report, err := agg.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Written != 2 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	want := cal.WeekOf(monday)
	if report.Week != want {
		t.Fatalf("week = %+v, want %+v", report.Week, want)
	}

	var alice, bob models.WeeklyStats
	err = store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		if alice, err = tx.GetWeeklyStats(ctx, "s1", "alice", want); err != nil {
			return err
		}
		bob, err = tx.GetWeeklyStats(ctx, "s1", "bob", want)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if alice.Total != 3 || alice.Completed != 1 || alice.CoinsLost != 20 || alice.ForgivenessUsed != 1 {
		t.Fatalf("alice = %+v", alice)
	}
	if !alice.CompletionPercent.Equal(decimal.RequireFromString("33.33")) {
		t.Fatalf("alice percent = %s", alice.CompletionPercent)
	}
	if bob.Total != 0 || !bob.CompletionPercent.IsZero() {
		t.Fatalf("bob = %+v", bob)
	}

	again, err := agg.Run(ctx)
	if err != nil || again.Written != 2 {
		t.Fatalf("rerun = %+v, %v", again, err)
	}
}
