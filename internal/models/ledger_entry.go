package models

import "time"

// EntryKind classifies a ledger movement.
type EntryKind string

const (
	KindDeposit             EntryKind = "DEPOSIT"
	KindStakeLock           EntryKind = "STAKE_LOCK"
	KindStakeReturn         EntryKind = "STAKE_RETURN"
	KindPenalty             EntryKind = "PENALTY" // audit marker, always amount 0
	KindForgivenessReversal EntryKind = "FORGIVENESS_REVERSAL"
)

// LedgerEntry represents a single immutable credit movement for a user
type LedgerEntry struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Amount         int64     `json:"amount"` // signed coins
	Kind           EntryKind `json:"kind"`
	SpaceID        string    `json:"space_id,omitempty"`
	TaskInstanceID string    `json:"task_instance_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// User is created on first sync. Its balance is always derived from entries.
type User struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}
