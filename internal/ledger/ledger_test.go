package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sheikh-saqib/stakes-ledger/internal/errs"
	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
	"github.com/sheikh-saqib/stakes-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/stakes-ledger/internal/testutil"
)

func newTestLedger(t *testing.T) (*Ledger, *memory.MemoryStore) {
	t.Helper()
	store := memory.NewMemoryStore()
	clock := testutil.NewClock(time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC))
	return NewLedger(store, clock), store
}

func TestSyncUserDepositsOnce(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	created, err := l.SyncUser(ctx, "u1", 100)
	if err != nil || !created {
		t.Fatalf("first sync = %v, %v", created, err)
	}
	created, err = l.SyncUser(ctx, "u1", 100)
	if err != nil || created {
		t.Fatalf("second sync = %v, %v", created, err)
	}

	balance, err := l.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 100 {
		t.Fatalf("balance = %d, want 100", balance)
	}
	entries, _ := l.GetLedgerEntries(ctx, "u1")
	if len(entries) != 1 || entries[0].Kind != models.KindDeposit {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestBalanceOfUnknownUserIsZero(t *testing.T) {
	l, _ := newTestLedger(t)
	balance, err := l.GetBalance(context.Background(), "ghost")
	if err != nil || balance != 0 {
		t.Fatalf("balance = %d, %v", balance, err)
	}
}

func TestAppendKeepsCacheInSync(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t)
	if _, err := l.SyncUser(ctx, "u1", 100); err != nil {
		t.Fatal(err)
	}

	postings := []Posting{
		{UserID: "u1", Amount: -30, Kind: models.KindStakeLock, SpaceID: "s1", TaskInstanceID: "t1"},
		{UserID: "u1", Amount: 0, Kind: models.KindPenalty, SpaceID: "s1", TaskInstanceID: "t1"},
		{UserID: "u1", Amount: 30, Kind: models.KindForgivenessReversal, SpaceID: "s1", TaskInstanceID: "t1"},
		{UserID: "u1", Amount: -10, Kind: models.KindStakeLock, SpaceID: "s1", TaskInstanceID: "t2"},
	}
	for _, p := range postings {
		err := store.WithTx(ctx, func(tx interfaces.Tx) error {
			_, err := l.Append(ctx, tx, p)
			return err
		})
		if err != nil {
			t.Fatalf("append %s: %v", p.Kind, err)
		}
		drift, err := l.VerifyBalance(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if !drift.InSync() {
			t.Fatalf("cache drift after %s: %+v", p.Kind, drift)
		}
	}

	entries, _ := l.GetLedgerEntries(ctx, "u1")
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	balance, _ := l.GetBalance(ctx, "u1")
	if balance != sum || balance != 90 {
		t.Fatalf("balance = %d, entry sum = %d, want 90", balance, sum)
	}
}

func TestAppendRejectsMalformedPostings(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t)

	bad := []Posting{
		{UserID: "u1", Amount: -5, Kind: models.KindPenalty},
		{UserID: "u1", Amount: 5, Kind: models.KindStakeLock},
		{UserID: "u1", Amount: 0, Kind: models.KindStakeReturn},
		{UserID: "u1", Amount: 5, Kind: "BONUS"},
		{Amount: 5, Kind: models.KindDeposit},
	}
	for _, p := range bad {
		err := store.WithTx(ctx, func(tx interfaces.Tx) error {
			_, err := l.Append(ctx, tx, p)
			return err
		})
		if err == nil {
			t.Fatalf("posting %+v should be rejected", p)
		}
	}
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	if _, err := l.Deposit(ctx, "ghost", 10); errs.CodeOf(err) != errs.NotFound {
		t.Fatalf("deposit to unknown user = %v", err)
	}
	if _, err := l.SyncUser(ctx, "u1", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Deposit(ctx, "u1", 0); !errors.Is(err, errs.E(errs.InvalidInput)) {
		t.Fatalf("zero deposit = %v", err)
	}
	if _, err := l.Deposit(ctx, "u1", 25); err != nil {
		t.Fatal(err)
	}
	if b, _ := l.GetBalance(ctx, "u1"); b != 25 {
		t.Fatalf("balance = %d, want 25", b)
	}
}
