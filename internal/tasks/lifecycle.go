package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/sheikh-saqib/stakes-ledger/internal/errs"
	"github.com/sheikh-saqib/stakes-ledger/internal/events"
	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/ledger"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
	taskevents "github.com/sheikh-saqib/stakes-ledger/internal/models/events"
)

const maxTitleLength = 500

// Mechanism names how a forgiveness was granted.
type Mechanism string

const (
	MechanismPersonal Mechanism = "personal"
	MechanismGroup    Mechanism = "group"
)

// Lifecycle owns every status change of a task instance. Each transition
// and its ledger entry commit in one store transaction.
type Lifecycle struct {
	store     interfaces.Store
	directory interfaces.SpaceDirectory
	ledger    *ledger.Ledger
	clock     interfaces.Clock
	publisher interfaces.EventPublisher
	logger    *log.Logger

	// DefaultGraceMinutes applies to spaces without rules.
	DefaultGraceMinutes int
}

func NewLifecycle(store interfaces.Store, directory interfaces.SpaceDirectory, l *ledger.Ledger,
	clock interfaces.Clock, publisher interfaces.EventPublisher, logger *log.Logger) *Lifecycle {
	return &Lifecycle{
		store:     store,
		directory: directory,
		ledger:    l,
		clock:     clock,
		publisher: publisher,
		logger:    logger,
	}
}

// NewTask is one instance to schedule.
type NewTask struct {
	Title string
	DueAt time.Time
	Stake int64
}

// Create schedules a single instance and locks its stake.
func (lc *Lifecycle) Create(ctx context.Context, userID, spaceID string, task NewTask) (models.TaskInstance, error) {
	created, err := lc.CreateBatch(ctx, userID, spaceID, []NewTask{task})
	if err != nil {
		return models.TaskInstance{}, err
	}
	return created[0], nil
}

// CreateBatch schedules every task or none. The cumulative stake is checked
// against the balance before the first row is written, and any failure
// afterwards rolls the whole batch back.
func (lc *Lifecycle) CreateBatch(ctx context.Context, userID, spaceID string, batch []NewTask) ([]models.TaskInstance, error) {
	if len(batch) == 0 {
		return nil, errs.New(errs.InvalidInput, "add at least one task with a title")
	}
	member, err := lc.directory.IsMember(ctx, userID, spaceID)
	if err != nil {
		return nil, fmt.Errorf("membership lookup: %w", err)
	}
	if !member {
		return nil, errs.New(errs.NotAuthorized, "not a member of space %s", spaceID)
	}
	rules, err := lc.directory.GetRules(ctx, spaceID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, errs.New(errs.NotFound, "space %s not found", spaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("rules lookup: %w", err)
	}

	batch = append([]NewTask(nil), batch...)
	var total int64
	for i := range batch {
		batch[i].Title = strings.TrimSpace(batch[i].Title)
		t := batch[i]
		if t.Title == "" || len(t.Title) > maxTitleLength {
			return nil, errs.New(errs.InvalidInput, "task title must be 1-%d characters", maxTitleLength)
		}
		if t.Stake < 1 || t.Stake < rules.MinStake {
			return nil, errs.New(errs.InvalidInput, "minimum stake is %d coins", max(rules.MinStake, 1))
		}
		if t.DueAt.IsZero() {
			return nil, errs.New(errs.InvalidInput, "task %q has no due time", t.Title)
		}
		total += t.Stake
	}

	now := lc.clock.Now()
	created := make([]models.TaskInstance, 0, len(batch))
	err = lc.store.WithTx(ctx, func(tx interfaces.Tx) error {
		balance, err := lc.ledger.LockedBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		if total > balance {
			return errs.New(errs.InsufficientBalance, "batch stakes %d coins, balance is %d", total, balance)
		}

		var locked int64
		for _, t := range batch {
			if t.Stake > balance-locked {
				return errs.New(errs.InsufficientBalance, "stake %d exceeds remaining balance %d", t.Stake, balance-locked)
			}
			inst := models.TaskInstance{
				ID:          uuid.New().String(),
				SpaceID:     spaceID,
				UserID:      userID,
				Title:       t.Title,
				DueAt:       t.DueAt.UTC(),
				StakeAmount: t.Stake,
				Status:      models.StatusPending,
				CreatedAt:   now,
			}
			if err := tx.CreateInstance(ctx, inst); err != nil {
				return fmt.Errorf("create instance: %w", err)
			}
			if _, err := lc.ledger.Append(ctx, tx, ledger.Posting{
				UserID:         userID,
				Amount:         -t.Stake,
				Kind:           models.KindStakeLock,
				SpaceID:        spaceID,
				TaskInstanceID: inst.ID,
			}); err != nil {
				return err
			}
			locked += t.Stake
			created = append(created, inst)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Complete marks the owner's instance done and returns the stake. Lateness
// is judged here against dueAt plus grace, independent of the sweep.
func (lc *Lifecycle) Complete(ctx context.Context, instanceID, by string) (models.TaskInstance, error) {
	var done models.TaskInstance
	err := lc.store.WithTx(ctx, func(tx interfaces.Tx) error {
		inst, err := lc.LoadForUpdate(ctx, tx, instanceID)
		if err != nil {
			return err
		}
		if inst.UserID != by {
			return errs.New(errs.NotAuthorized, "task %s belongs to another member", instanceID)
		}
		grace, err := lc.graceFor(ctx, inst.SpaceID)
		if err != nil {
			return err
		}
		next, err := applyComplete(inst, lc.clock.Now(), grace)
		if err != nil {
			return err
		}
		if err := tx.UpdateInstance(ctx, next); err != nil {
			return fmt.Errorf("update instance: %w", err)
		}
		if _, err := lc.ledger.Append(ctx, tx, ledger.Posting{
			UserID:         next.UserID,
			Amount:         next.StakeAmount,
			Kind:           models.KindStakeReturn,
			SpaceID:        next.SpaceID,
			TaskInstanceID: next.ID,
		}); err != nil {
			return err
		}
		done = next
		return nil
	})
	return done, err
}

// Miss looks up the space's grace period and applies MissWithGrace.
func (lc *Lifecycle) Miss(ctx context.Context, instanceID string) (bool, error) {
	inst, err := lc.Get(ctx, instanceID)
	if err != nil {
		return false, err
	}
	grace, err := lc.graceFor(ctx, inst.SpaceID)
	if err != nil {
		return false, err
	}
	return lc.MissWithGrace(ctx, instanceID, grace)
}

// MissWithGrace forfeits a PENDING instance whose grace window has closed and
// writes the zero-amount PENALTY audit entry. It reports false without error
// for an instance that is already MISSED.
func (lc *Lifecycle) MissWithGrace(ctx context.Context, instanceID string, graceMinutes int) (bool, error) {
	var outbox events.Outbox
	changed := false
	now := lc.clock.Now()
	err := lc.store.WithTx(ctx, func(tx interfaces.Tx) error {
		inst, err := lc.LoadForUpdate(ctx, tx, instanceID)
		if err != nil {
			return err
		}
		alreadyPenalised := inst.PenaltyApplied
		next, ok, err := applyMiss(inst, now, graceMinutes)
		if err != nil || !ok {
			return err
		}
		if err := tx.UpdateInstance(ctx, next); err != nil {
			return fmt.Errorf("update instance: %w", err)
		}
		if !alreadyPenalised {
			if _, err := lc.ledger.Append(ctx, tx, ledger.Posting{
				UserID:         next.UserID,
				Amount:         0,
				Kind:           models.KindPenalty,
				SpaceID:        next.SpaceID,
				TaskInstanceID: next.ID,
			}); err != nil {
				return err
			}
		}
		outbox.Add(taskevents.TopicTaskMissed, taskevents.TaskMissed{
			TaskInstanceID: next.ID,
			SpaceID:        next.SpaceID,
			UserID:         next.UserID,
			StakeAmount:    next.StakeAmount,
			OccurredAt:     now,
		})
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	outbox.Flush(ctx, lc.publisher, lc.logger)
	return changed, nil
}

// Forgive runs ForgiveTx in its own transaction.
func (lc *Lifecycle) Forgive(ctx context.Context, instanceID string, mechanism Mechanism) (models.TaskInstance, error) {
	var outbox events.Outbox
	var forgiven models.TaskInstance
	err := lc.store.WithTx(ctx, func(tx interfaces.Tx) error {
		inst, err := lc.LoadForUpdate(ctx, tx, instanceID)
		if err != nil {
			return err
		}
		forgiven, err = lc.ForgiveTx(ctx, tx, inst, mechanism, &outbox)
		return err
	})
	if err != nil {
		return models.TaskInstance{}, err
	}
	outbox.Flush(ctx, lc.publisher, lc.logger)
	return forgiven, nil
}

// ForgiveTx moves a locked MISSED instance to FORGIVEN and refunds the stake
// inside the caller's transaction. A prior FORGIVENESS_REVERSAL for the
// instance is rejected even if the status check passed.
func (lc *Lifecycle) ForgiveTx(ctx context.Context, tx interfaces.Tx, inst models.TaskInstance, mechanism Mechanism, outbox *events.Outbox) (models.TaskInstance, error) {
	next, err := applyForgive(inst)
	if err != nil {
		return inst, err
	}
	reversed, err := tx.HasEntry(ctx, inst.ID, models.KindForgivenessReversal)
	if err != nil {
		return inst, fmt.Errorf("reversal lookup: %w", err)
	}
	if reversed {
		return inst, errs.New(errs.InvalidState, "task %s was already forgiven", inst.ID)
	}
	if err := tx.UpdateInstance(ctx, next); err != nil {
		return inst, fmt.Errorf("update instance: %w", err)
	}
	if _, err := lc.ledger.Append(ctx, tx, ledger.Posting{
		UserID:         next.UserID,
		Amount:         next.StakeAmount,
		Kind:           models.KindForgivenessReversal,
		SpaceID:        next.SpaceID,
		TaskInstanceID: next.ID,
	}); err != nil {
		return inst, err
	}
	if outbox != nil {
		outbox.Add(taskevents.TopicTaskForgiven, taskevents.TaskForgiven{
			TaskInstanceID: next.ID,
			SpaceID:        next.SpaceID,
			UserID:         next.UserID,
			StakeAmount:    next.StakeAmount,
			Mechanism:      string(mechanism),
			OccurredAt:     lc.clock.Now(),
		})
	}
	return next, nil
}

// Get returns one instance.
func (lc *Lifecycle) Get(ctx context.Context, instanceID string) (models.TaskInstance, error) {
	var inst models.TaskInstance
	err := lc.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		inst, err = tx.GetInstance(ctx, instanceID)
		if errors.Is(err, interfaces.ErrNotFound) {
			return errs.New(errs.NotFound, "task %s not found", instanceID)
		}
		return err
	})
	return inst, err
}

// LoadForUpdate locks an instance, translating a missing row into NotFound.
func (lc *Lifecycle) LoadForUpdate(ctx context.Context, tx interfaces.Tx, instanceID string) (models.TaskInstance, error) {
	inst, err := tx.GetInstanceForUpdate(ctx, instanceID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return inst, errs.New(errs.NotFound, "task %s not found", instanceID)
	}
	if err != nil {
		return inst, fmt.Errorf("load instance: %w", err)
	}
	return inst, nil
}

func (lc *Lifecycle) graceFor(ctx context.Context, spaceID string) (int, error) {
	rules, err := lc.directory.GetRules(ctx, spaceID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return lc.DefaultGraceMinutes, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rules lookup: %w", err)
	}
	return rules.GraceMinutes, nil
}
