package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
)

func TestMapErr(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", sql.ErrNoRows, interfaces.ErrNotFound},
		{"unique violation", &pq.Error{Code: uniqueViolation, Constraint: "users_pkey"}, interfaces.ErrConflict},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pq.Error{Code: uniqueViolation}), interfaces.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapErr(tt.in); !errors.Is(got, tt.want) {
				t.Fatalf("mapErr(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	other := &pq.Error{Code: "40001"}
	if got := mapErr(other); got != error(other) {
		t.Fatalf("serialization failure must pass through, got %v", got)
	}
	if mapErr(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

// fakeRow feeds values to Scan in column order.
type fakeRow []any

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("scan: %d columns, %d values", len(dest), len(r))
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			*d = r[i].(string)
		case *int64:
			*d = r[i].(int64)
		case *bool:
			*d = r[i].(bool)
		case *time.Time:
			*d = r[i].(time.Time)
		case *sql.NullTime:
			if r[i] != nil {
				*d = sql.NullTime{Time: r[i].(time.Time), Valid: true}
			}
		default:
			return fmt.Errorf("scan: unsupported dest %T", d)
		}
	}
	return nil
}

func TestScanInstanceStatus(t *testing.T) {
	now := time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		status  string
		wantErr bool
	}{
		{"PENDING", false},
		{"MISSED", false},
		{"FORGIVEN", false},
		{"pending", true},
		{"ARCHIVED", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			row := fakeRow{"t1", "s1", "alice", "gym", now, int64(10), tt.status, nil, false, now}
			inst, err := scanInstance(row)
			if (err != nil) != tt.wantErr {
				t.Fatalf("scanInstance(%q) err = %v, wantErr %v", tt.status, err, tt.wantErr)
			}
			if err == nil && string(inst.Status) != tt.status {
				t.Fatalf("status = %s", inst.Status)
			}
		})
	}
}

// openTestDB connects to STAKES_TEST_DATABASE_URL or skips.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("STAKES_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STAKES_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(ctx, db); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewPostgresStore(db)
	now := time.Now().UTC().Truncate(time.Microsecond)
	user := "u-" + uuid.NewString()
	inst := models.TaskInstance{
		ID: uuid.NewString(), SpaceID: "s-" + uuid.NewString(), UserID: user, Title: "run",
		DueAt: now.Add(time.Hour), StakeAmount: 10, Status: models.StatusPending, CreatedAt: now,
	}

	err := store.WithTx(ctx, func(tx interfaces.Tx) error {
		if err := tx.CreateUser(ctx, models.User{ID: user, CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.CreateUser(ctx, models.User{ID: user, CreatedAt: now}); !errors.Is(err, interfaces.ErrConflict) {
			return fmt.Errorf("duplicate user: %v", err)
		}
		if err := tx.LockUser(ctx, user); err != nil {
			return err
		}
		if err := tx.SaveEntry(ctx, models.LedgerEntry{ID: uuid.NewString(), UserID: user, Amount: 100, Kind: models.KindDeposit, CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.CreateInstance(ctx, inst); err != nil {
			return err
		}
		return tx.SaveEntry(ctx, models.LedgerEntry{ID: uuid.NewString(), UserID: user, Amount: -10,
			Kind: models.KindStakeLock, SpaceID: inst.SpaceID, TaskInstanceID: inst.ID, CreatedAt: now})
	})
	if err != nil {
		t.Fatal(err)
	}

	err = store.WithTx(ctx, func(tx interfaces.Tx) error {
		sum, err := tx.SumEntries(ctx, user)
		if err != nil {
			return err
		}
		if sum != 90 {
			return fmt.Errorf("sum = %d", sum)
		}
		got, err := tx.GetInstanceForUpdate(ctx, inst.ID)
		if err != nil {
			return err
		}
		if got.Status != models.StatusPending || got.CompletedAt != nil {
			return fmt.Errorf("instance = %+v", got)
		}
		done := now
		got.Status, got.CompletedAt = models.StatusCompleted, &done
		return tx.UpdateInstance(ctx, got)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStoreRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewPostgresStore(db)
	user := "u-" + uuid.NewString()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx interfaces.Tx) error {
		if err := tx.CreateUser(ctx, models.User{ID: user, CreatedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	err = store.WithTx(ctx, func(tx interfaces.Tx) error {
		_, err := tx.GetUser(ctx, user)
		return err
	})
	if !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("user survived rollback: %v", err)
	}
}

func TestStoreForgivenessRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewPostgresStore(db)
	now := time.Now().UTC().Truncate(time.Microsecond)
	key := models.UsageKey{UserID: "u-" + uuid.NewString(), SpaceID: "s1", Week: models.WeekKey{Year: 2026, Week: 42}}
	req := models.ForgivenessRequest{ID: uuid.NewString(), TaskInstanceID: uuid.NewString(), RequestedByID: key.UserID,
		Status: models.RequestPending, ExpiresAt: now.Add(-time.Minute), CreatedAt: now}

	err := store.WithTx(ctx, func(tx interfaces.Tx) error {
		usage, err := tx.GetUsageForUpdate(ctx, key)
		if err != nil {
			return err
		}
		if usage.TokensUsed != 0 {
			return fmt.Errorf("fresh usage = %d", usage.TokensUsed)
		}
		usage.TokensUsed++
		if err := tx.SaveUsage(ctx, usage); err != nil {
			return err
		}
		if err := tx.CreateRequest(ctx, req); err != nil {
			return err
		}
		dup := req
		dup.ID = uuid.NewString()
		if err := tx.CreateRequest(ctx, dup); !errors.Is(err, interfaces.ErrConflict) {
			return fmt.Errorf("duplicate request: %v", err)
		}
		if err := tx.UpsertVote(ctx, models.ForgivenessVote{RequestID: req.ID, UserID: "bob", Vote: models.VoteReject, UpdatedAt: now}); err != nil {
			return err
		}
		return tx.UpsertVote(ctx, models.ForgivenessVote{RequestID: req.ID, UserID: "bob", Vote: models.VoteApprove, UpdatedAt: now})
	})
	if err != nil {
		t.Fatal(err)
	}

	err = store.WithTx(ctx, func(tx interfaces.Tx) error {
		usage, err := tx.GetUsage(ctx, key)
		if err != nil || usage.TokensUsed != 1 {
			return fmt.Errorf("usage = %+v, %v", usage, err)
		}
		votes, err := tx.ListVotes(ctx, req.ID)
		if err != nil || len(votes) != 1 || votes[0].Vote != models.VoteApprove {
			return fmt.Errorf("votes = %+v, %v", votes, err)
		}
		expired, err := tx.ExpireRequests(ctx, now)
		if err != nil {
			return err
		}
		for _, r := range expired {
			if r.ID == req.ID && r.Status == models.RequestExpired {
				return nil
			}
		}
		return fmt.Errorf("request %s not expired", req.ID)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestWeeklyStatsUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewPostgresStore(db)
	row := models.WeeklyStats{SpaceID: "s-" + uuid.NewString(), UserID: "alice", Week: models.WeekKey{Year: 2026, Week: 41},
		Total: 3, Completed: 1, CompletionPercent: decimal.RequireFromString("33.33"), ComputedAt: time.Now().UTC()}

	for i := 0; i < 2; i++ {
		if err := store.WithTx(ctx, func(tx interfaces.Tx) error { return tx.UpsertWeeklyStats(ctx, row) }); err != nil {
			t.Fatal(err)
		}
	}
	var got models.WeeklyStats
	err := store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		got, err = tx.GetWeeklyStats(ctx, row.SpaceID, row.UserID, row.Week)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got.CompletionPercent.Equal(row.CompletionPercent) || got.Total != 3 {
		t.Fatalf("got %+v", got)
	}

	top := row
	top.UserID, top.Completed, top.CompletionPercent = "bob", 3, decimal.NewFromInt(100)
	other := row
	other.Week = models.WeekKey{Year: 2026, Week: 42}
	var rows []models.WeeklyStats
	err = store.WithTx(ctx, func(tx interfaces.Tx) error {
		for _, r := range []models.WeeklyStats{top, other} {
			if err := tx.UpsertWeeklyStats(ctx, r); err != nil {
				return err
			}
		}
		var err error
		rows, err = tx.ListWeeklyStats(ctx, row.SpaceID, row.Week)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].UserID != "bob" || rows[1].UserID != "alice" {
		t.Fatalf("leaderboard rows = %+v", rows)
	}
}

func TestPendingRequestsBySpace(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewPostgresStore(db)
	now := time.Now().UTC().Truncate(time.Microsecond)
	space := "s-" + uuid.NewString()

	var live, stale models.ForgivenessRequest
	err := store.WithTx(ctx, func(tx interfaces.Tx) error {
		for i, expires := range []time.Time{now.Add(time.Hour), now.Add(-time.Minute)} {
			inst := models.TaskInstance{ID: uuid.NewString(), SpaceID: space, UserID: "alice", Title: "run",
				DueAt: now, StakeAmount: 10, Status: models.StatusMissed, CreatedAt: now}
			if err := tx.CreateInstance(ctx, inst); err != nil {
				return err
			}
			req := models.ForgivenessRequest{ID: uuid.NewString(), TaskInstanceID: inst.ID, RequestedByID: "alice",
				Status: models.RequestPending, ExpiresAt: expires, CreatedAt: now}
			if err := tx.CreateRequest(ctx, req); err != nil {
				return err
			}
			if i == 0 {
				live = req
			} else {
				stale = req
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = store.WithTx(ctx, func(tx interfaces.Tx) error {
		pending, err := tx.ListPendingRequests(ctx, space, now)
		if err != nil {
			return err
		}
		if len(pending) != 1 || pending[0].ID != live.ID {
			return fmt.Errorf("pending = %+v", pending)
		}
		got, err := tx.GetRequestByTask(ctx, stale.TaskInstanceID)
		if err != nil || got.ID != stale.ID {
			return fmt.Errorf("by task = %+v, %v", got, err)
		}
		if _, err := tx.GetRequestByTask(ctx, uuid.NewString()); !errors.Is(err, interfaces.ErrNotFound) {
			return fmt.Errorf("unknown task: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDirectory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	dir := NewDirectory(db)
	space := "s-" + uuid.NewString()

	if _, err := dir.GetRules(ctx, space); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("unknown space: %v", err)
	}
	if err := dir.PutSpace(ctx, models.SpaceRules{SpaceID: space, MinStake: 5, GraceMinutes: 15, WeeklyForgivenessTokens: 2, VoteThresholdPercent: 60}); err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{"bob", "alice", "bob"} {
		if err := dir.AddMember(ctx, space, u); err != nil {
			t.Fatal(err)
		}
	}
	members, err := dir.ListMembers(ctx, space)
	if err != nil || len(members) != 2 || members[0] != "alice" {
		t.Fatalf("members = %v, %v", members, err)
	}
	ok, err := dir.IsMember(ctx, "carol", space)
	if err != nil || ok {
		t.Fatalf("carol member = %v, %v", ok, err)
	}
	rules, err := dir.GetRules(ctx, space)
	if err != nil || rules.GraceMinutes != 15 || rules.VoteThresholdPercent != 60 {
		t.Fatalf("rules = %+v, %v", rules, err)
	}

	rules.MinStake = 25
	if err := dir.Seed(ctx, rules, "carol", "alice"); err != nil {
		t.Fatal(err)
	}
	members, err = dir.ListMembers(ctx, space)
	if err != nil || len(members) != 3 {
		t.Fatalf("members after seed = %v, %v", members, err)
	}
	if got, _ := dir.GetRules(ctx, space); got.MinStake != 25 {
		t.Fatalf("seeded rules = %+v", got)
	}
}
