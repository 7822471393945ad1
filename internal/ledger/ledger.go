package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/stakes-ledger/internal/errs"
	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
)

// Ledger is the append-only record behind every balance.
// A balance is only ever the sum of a user's entries; the wallet cache is
// rewritten after each append and is never read for gating decisions.
type Ledger struct {
	store interfaces.Store // every read and write goes through a store transaction
	clock interfaces.Clock
}

// NewLedger is a constructor function that creates a new Ledger instance
func NewLedger(store interfaces.Store, clock interfaces.Clock) *Ledger {
	return &Ledger{
		store: store,
		clock: clock,
	}
}

// Posting is the intent to move coins; Append turns it into an entry.
type Posting struct {
	UserID         string
	Amount         int64
	Kind           models.EntryKind
	SpaceID        string
	TaskInstanceID string
}

func (p Posting) validate() error {
	if p.UserID == "" {
		return errors.New("posting without user")
	}
	switch p.Kind {
	case models.KindPenalty:
		if p.Amount != 0 {
			return fmt.Errorf("penalty entries carry amount 0, got %d", p.Amount)
		}
	case models.KindStakeLock:
		if p.Amount >= 0 {
			return fmt.Errorf("stake lock must be negative, got %d", p.Amount)
		}
	case models.KindDeposit, models.KindStakeReturn, models.KindForgivenessReversal:
		if p.Amount <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.Kind, p.Amount)
		}
	default:
		return fmt.Errorf("unknown entry kind %q", p.Kind)
	}
	return nil
}

// Append writes one immutable entry inside the caller's transaction and
// refreshes the cached balance from the entry sum.
func (l *Ledger) Append(ctx context.Context, tx interfaces.LedgerTx, p Posting) (models.LedgerEntry, error) {
	if err := p.validate(); err != nil {
		return models.LedgerEntry{}, err
	}
	entry := models.LedgerEntry{
		ID:             uuid.New().String(),
		UserID:         p.UserID,
		Amount:         p.Amount,
		Kind:           p.Kind,
		SpaceID:        p.SpaceID,
		TaskInstanceID: p.TaskInstanceID,
		CreatedAt:      l.clock.Now(),
	}
	if err := tx.SaveEntry(ctx, entry); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("save entry: %w", err)
	}
	balance, err := tx.SumEntries(ctx, p.UserID)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("sum entries: %w", err)
	}
	if err := tx.SetCachedBalance(ctx, p.UserID, balance); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("update wallet cache: %w", err)
	}
	return entry, nil
}

// LockedBalance locks the user's balance for the rest of tx and returns
// the authoritative sum. Use it before any balance-gated append.
func (l *Ledger) LockedBalance(ctx context.Context, tx interfaces.LedgerTx, userID string) (int64, error) {
	if err := tx.LockUser(ctx, userID); err != nil {
		return 0, fmt.Errorf("lock user %s: %w", userID, err)
	}
	sum, err := tx.SumEntries(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("sum entries: %w", err)
	}
	return sum, nil
}

// GetBalance returns the sum of all the user's entries, 0 when there are none.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		balance, err = tx.SumEntries(ctx, userID)
		return err
	})
	return balance, err
}

func (l *Ledger) GetLedgerEntries(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		entries, err = tx.GetEntriesByAccount(ctx, userID)
		return err
	})
	if err != nil {
		return []models.LedgerEntry{}, err
	}
	return entries, nil
}

// SyncUser creates the user on first sight and credits the starting coins.
// It reports whether the user was created by this call.
func (l *Ledger) SyncUser(ctx context.Context, userID string, initialCoins int64) (bool, error) {
	if userID == "" {
		return false, errs.New(errs.InvalidInput, "user id is required")
	}
	created := false
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		err := tx.CreateUser(ctx, models.User{ID: userID, CreatedAt: l.clock.Now()})
		if errors.Is(err, interfaces.ErrConflict) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		created = true
		if initialCoins <= 0 {
			return nil
		}
		_, err = l.Append(ctx, tx, Posting{UserID: userID, Amount: initialCoins, Kind: models.KindDeposit})
		return err
	})
	return created, err
}

// Deposit credits coins to an existing user.
func (l *Ledger) Deposit(ctx context.Context, userID string, amount int64) (models.LedgerEntry, error) {
	if amount <= 0 {
		return models.LedgerEntry{}, errs.New(errs.InvalidInput, "deposit must be positive")
	}
	var entry models.LedgerEntry
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				return errs.New(errs.NotFound, "user %s not found", userID)
			}
			return err
		}
		var err error
		entry, err = l.Append(ctx, tx, Posting{UserID: userID, Amount: amount, Kind: models.KindDeposit})
		return err
	})
	return entry, err
}

// Drift compares the advisory wallet cache with the entry sum.
type Drift struct {
	Cached   int64 `json:"cached"`
	Computed int64 `json:"computed"`
}

func (d Drift) InSync() bool { return d.Cached == d.Computed }

// VerifyBalance reads the cache and the entry sum in one transaction. A user
// with no wallet row reports a cached value of 0.
func (l *Ledger) VerifyBalance(ctx context.Context, userID string) (Drift, error) {
	var d Drift
	err := l.store.WithTx(ctx, func(tx interfaces.Tx) error {
		cached, err := tx.GetCachedBalance(ctx, userID)
		if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			return err
		}
		sum, err := tx.SumEntries(ctx, userID)
		if err != nil {
			return err
		}
		d = Drift{Cached: cached, Computed: sum}
		return nil
	})
	return d, err
}
