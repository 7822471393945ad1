package models

import "time"

// WeekKey identifies one calendar week under the configured week-start
// convention.
type WeekKey struct {
	Year int `json:"year"`
	Week int `json:"week"`
}

// UsageKey addresses one forgiveness usage counter.
type UsageKey struct {
	UserID  string
	SpaceID string
	Week    WeekKey
}

// ForgivenessUsage counts personal forgiveness tokens spent in one week
type ForgivenessUsage struct {
	UserID     string  `json:"user_id"`
	SpaceID    string  `json:"space_id"`
	Week       WeekKey `json:"week"`
	TokensUsed int     `json:"tokens_used"`
}

// Key returns the usage row's address.
func (u ForgivenessUsage) Key() UsageKey {
	return UsageKey{UserID: u.UserID, SpaceID: u.SpaceID, Week: u.Week}
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestExpired  RequestStatus = "EXPIRED"
)

// ForgivenessRequest asks the space to vote a MISSED instance back to FORGIVEN.
// At most one request ever exists per task instance.
type ForgivenessRequest struct {
	ID             string        `json:"id"`
	TaskInstanceID string        `json:"task_instance_id"`
	RequestedByID  string        `json:"requested_by_id"`
	Status         RequestStatus `json:"status"`
	ExpiresAt      time.Time     `json:"expires_at"`
	CreatedAt      time.Time     `json:"created_at"`
}

type VoteChoice string

const (
	VoteApprove VoteChoice = "APPROVE"
	VoteReject  VoteChoice = "REJECT"
)

// ForgivenessVote is one member's current choice on a request
type ForgivenessVote struct {
	RequestID string     `json:"request_id"`
	UserID    string     `json:"user_id"`
	Vote      VoteChoice `json:"vote"`
	UpdatedAt time.Time  `json:"updated_at"`
}
