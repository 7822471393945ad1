package tasks

import (
	"time"

	"github.com/sheikh-saqib/stakes-ledger/internal/errs"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
	"github.com/sheikh-saqib/stakes-ledger/internal/timewindow"
)

// Each function below is one edge of the task state machine. They are pure:
// the Lifecycle loads the row under lock, applies the edge and persists the
// result together with the edge's single ledger effect.

// applyComplete is PENDING -> COMPLETED.
func applyComplete(inst models.TaskInstance, now time.Time, graceMinutes int) (models.TaskInstance, error) {
	if !inst.Status.CanTransition(models.StatusCompleted) {
		return inst, errs.New(errs.InvalidState, "task %s is already resolved (%s)", inst.ID, inst.Status)
	}
	if timewindow.PastGrace(now, inst.DueAt, graceMinutes) {
		return inst, errs.New(errs.DeadlinePassed, "deadline passed at %s",
			timewindow.GraceDeadline(inst.DueAt, graceMinutes).Format(time.RFC3339))
	}
	inst.Status = models.StatusCompleted
	completedAt := now
	inst.CompletedAt = &completedAt
	return inst, nil
}

// applyMiss is PENDING -> MISSED. It reports changed=false for an instance
// that is already MISSED, which callers treat as a no-op.
func applyMiss(inst models.TaskInstance, now time.Time, graceMinutes int) (next models.TaskInstance, changed bool, err error) {
	if inst.Status == models.StatusMissed {
		return inst, false, nil
	}
	if !inst.Status.CanTransition(models.StatusMissed) {
		return inst, false, errs.New(errs.InvalidState, "task %s is already resolved (%s)", inst.ID, inst.Status)
	}
	if !timewindow.PastGrace(now, inst.DueAt, graceMinutes) {
		return inst, false, errs.New(errs.InvalidState, "task %s is still inside its grace window", inst.ID)
	}
	inst.Status = models.StatusMissed
	inst.PenaltyApplied = true
	return inst, true, nil
}

// applyForgive is MISSED -> FORGIVEN.
func applyForgive(inst models.TaskInstance) (models.TaskInstance, error) {
	if !inst.Status.CanTransition(models.StatusForgiven) {
		return inst, errs.New(errs.InvalidState, "task %s is not missed (%s)", inst.ID, inst.Status)
	}
	inst.Status = models.StatusForgiven
	return inst, nil
}
