package models

// SpaceRules is the per-space policy. It is read-only to the stake core.
type SpaceRules struct {
	SpaceID                 string `json:"space_id"`
	MinStake                int64  `json:"min_stake"`
	GraceMinutes            int    `json:"grace_minutes"`
	WeeklyForgivenessTokens int    `json:"weekly_forgiveness_tokens"`
	GroupVoteEnabled        bool   `json:"group_vote_enabled"`
	VoteThresholdPercent    int    `json:"vote_threshold_percent"`
}
