package events

import "time"

const (
	TopicTaskMissed          = "task_missed"
	TopicTaskForgiven        = "task_forgiven"
	TopicForgivenessApproved = "forgiveness_approved"
)

type TaskMissed struct {
	TaskInstanceID string    `json:"task_instance_id"`
	SpaceID        string    `json:"space_id"`
	UserID         string    `json:"user_id"`
	StakeAmount    int64     `json:"stake_amount"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type TaskForgiven struct {
	TaskInstanceID string    `json:"task_instance_id"`
	SpaceID        string    `json:"space_id"`
	UserID         string    `json:"user_id"`
	StakeAmount    int64     `json:"stake_amount"`
	Mechanism      string    `json:"mechanism"` // personal | group
	OccurredAt     time.Time `json:"occurred_at"`
}

type ForgivenessApproved struct {
	RequestID      string    `json:"request_id"`
	TaskInstanceID string    `json:"task_instance_id"`
	SpaceID        string    `json:"space_id"`
	ApproveVotes   int       `json:"approve_votes"`
	EligibleVoters int       `json:"eligible_voters"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Key groups a task's events on one partition.
func (e TaskMissed) Key() string          { return e.TaskInstanceID }
func (e TaskForgiven) Key() string        { return e.TaskInstanceID }
func (e ForgivenessApproved) Key() string { return e.TaskInstanceID }
