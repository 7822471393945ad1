package models

import "time"

// TaskStatus is the lifecycle state of a task instance.
type TaskStatus string

const (
	StatusPending   TaskStatus = "PENDING"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusMissed    TaskStatus = "MISSED"
	StatusForgiven  TaskStatus = "FORGIVEN"
)

// transitions lists every legal edge. MISSED -> FORGIVEN is the only
// backward move.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPending: {StatusCompleted, StatusMissed},
	StatusMissed:  {StatusForgiven},
}

// CanTransition reports whether s may move to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusMissed, StatusForgiven:
		return true
	}
	return false
}

// TaskInstance is one scheduled occurrence of a commitment
type TaskInstance struct {
	ID             string     `json:"id"`
	SpaceID        string     `json:"space_id"`
	UserID         string     `json:"user_id"`
	Title          string     `json:"title"`
	DueAt          time.Time  `json:"due_at"`
	StakeAmount    int64      `json:"stake_amount"`
	Status         TaskStatus `json:"status"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	PenaltyApplied bool       `json:"penalty_applied"`
	CreatedAt      time.Time  `json:"created_at"`
}
