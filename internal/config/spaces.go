package config

import (
	"fmt"

	"github.com/sheikh-saqib/stakes-ledger/internal/models"
)

// Space defaults applied when a [[spaces]] table leaves a key out.
const (
	DefaultMinStake             = 1
	DefaultForgivenessTokens    = 1
	DefaultVoteThresholdPercent = 50
)

// SpaceSeed declares a space and its members in the config file:
//
//	[[spaces]]
//	id = "household"
//	min_stake = 5
//	grace_minutes = 30
//	members = ["alice", "bob"]
type SpaceSeed struct {
	ID                      string   `toml:"id"`
	MinStake                *int64   `toml:"min_stake"`
	GraceMinutes            int      `toml:"grace_minutes"`
	WeeklyForgivenessTokens *int     `toml:"weekly_forgiveness_tokens"`
	GroupVoteEnabled        *bool    `toml:"group_vote_enabled"`
	VoteThresholdPercent    *int     `toml:"vote_threshold_percent"`
	Members                 []string `toml:"members"`
}

// Rules returns the seed as space rules with defaults filled in.
func (s SpaceSeed) Rules() models.SpaceRules {
	r := models.SpaceRules{
		SpaceID:                 s.ID,
		MinStake:                DefaultMinStake,
		GraceMinutes:            s.GraceMinutes,
		WeeklyForgivenessTokens: DefaultForgivenessTokens,
		GroupVoteEnabled:        true,
		VoteThresholdPercent:    DefaultVoteThresholdPercent,
	}
	if s.MinStake != nil {
		r.MinStake = *s.MinStake
	}
	if s.WeeklyForgivenessTokens != nil {
		r.WeeklyForgivenessTokens = *s.WeeklyForgivenessTokens
	}
	if s.GroupVoteEnabled != nil {
		r.GroupVoteEnabled = *s.GroupVoteEnabled
	}
	if s.VoteThresholdPercent != nil {
		r.VoteThresholdPercent = *s.VoteThresholdPercent
	}
	return r
}

func validateSpaces(seeds []SpaceSeed) error {
	seen := make(map[string]bool, len(seeds))
	for i, s := range seeds {
		if s.ID == "" {
			return fmt.Errorf("spaces[%d]: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("spaces[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		r := s.Rules()
		switch {
		case r.MinStake < 1:
			return fmt.Errorf("space %s: min_stake must be at least 1", s.ID)
		case r.GraceMinutes < 0:
			return fmt.Errorf("space %s: grace_minutes must not be negative", s.ID)
		case r.WeeklyForgivenessTokens < 0:
			return fmt.Errorf("space %s: weekly_forgiveness_tokens must not be negative", s.ID)
		case r.VoteThresholdPercent < 1 || r.VoteThresholdPercent > 100:
			return fmt.Errorf("space %s: vote_threshold_percent must be in 1..100", s.ID)
		}
	}
	return nil
}
