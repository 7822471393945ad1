// Package stats rolls finished weeks up into per-member summaries.
package stats

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/stakes-ledger/internal/errs"
	"github.com/sheikh-saqib/stakes-ledger/internal/forgiveness"
	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
	"github.com/sheikh-saqib/stakes-ledger/internal/timewindow"
)

var hundred = decimal.NewFromInt(100)

// Report summarises one aggregation run.
type Report struct {
	Week    models.WeekKey `json:"week"`
	Written int            `json:"written"`
	Failed  int            `json:"failed"`
}

type Aggregator struct {
	store     interfaces.Store
	directory interfaces.SpaceDirectory
	quota     forgiveness.Quota
	clock     interfaces.Clock
	logger    *log.Logger
}

func NewAggregator(store interfaces.Store, directory interfaces.SpaceDirectory, quota forgiveness.Quota,
	clock interfaces.Clock, logger *log.Logger) *Aggregator {
	return &Aggregator{store: store, directory: directory, quota: quota, clock: clock, logger: logger}
}

// Run summarises the week before the current one for every member of every
// space. Rows are overwritten, so running twice yields the same result.
func (a *Aggregator) Run(ctx context.Context) (Report, error) {
	week := a.quota.Calendar.PreviousWeek(a.clock.Now())
	return a.RunWeek(ctx, week)
}

// RunWeek summarises an explicit week. A failing member is logged and
// skipped.
func (a *Aggregator) RunWeek(ctx context.Context, week timewindow.Week) (Report, error) {
	report := Report{Week: week.Key}
	spaces, err := a.directory.ListRules(ctx)
	if err != nil {
		return report, fmt.Errorf("list spaces: %w", err)
	}
	for _, space := range spaces {
		members, err := a.directory.ListMembers(ctx, space.SpaceID)
		if err != nil {
			return report, fmt.Errorf("list members of %s: %w", space.SpaceID, err)
		}
		for _, userID := range members {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if _, err := a.member(ctx, space.SpaceID, userID, week); err != nil {
				report.Failed++
				a.logger.Warn("weekly stats failed", "space", space.SpaceID, "user", userID, "err", err)
				continue
			}
			report.Written++
		}
	}
	a.logger.Info("weekly stats written",
		"year", week.Key.Year, "week", week.Key.Week,
		"written", report.Written, "failed", report.Failed)
	return report, nil
}

func (a *Aggregator) member(ctx context.Context, spaceID, userID string, week timewindow.Week) (models.WeeklyStats, error) {
	var row models.WeeklyStats
	err := a.store.WithTx(ctx, func(tx interfaces.Tx) error {
		instances, err := tx.ListInstancesDue(ctx, spaceID, userID, week.Start, week.End)
		if err != nil {
			return fmt.Errorf("list instances: %w", err)
		}
		used, err := a.quota.Used(ctx, tx, userID, spaceID, week.Start)
		if err != nil {
			return fmt.Errorf("quota usage: %w", err)
		}
		row = Summarise(instances)
		row.SpaceID = spaceID
		row.UserID = userID
		row.Week = week.Key
		row.ForgivenessUsed = used
		row.ComputedAt = a.clock.Now()
		return tx.UpsertWeeklyStats(ctx, row)
	})
	return row, err
}

// Leaderboard returns the stored rows of one week for a space, best
// completion first. Only members of the space may read it.
func (a *Aggregator) Leaderboard(ctx context.Context, spaceID, viewer string, week models.WeekKey) ([]models.WeeklyStats, error) {
	member, err := a.directory.IsMember(ctx, viewer, spaceID)
	if err != nil {
		return nil, fmt.Errorf("membership lookup: %w", err)
	}
	if !member {
		return nil, errs.New(errs.NotAuthorized, "not a member of space %s", spaceID)
	}
	var rows []models.WeeklyStats
	err = a.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		rows, err = tx.ListWeeklyStats(ctx, spaceID, week)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list weekly stats: %w", err)
	}
	return rows, nil
}

// Summarise counts one member's instances for a week. Only misses that were
// penalised and never forgiven count as lost coins.
func Summarise(instances []models.TaskInstance) models.WeeklyStats {
	var s models.WeeklyStats
	for _, inst := range instances {
		s.Total++
		switch inst.Status {
		case models.StatusCompleted:
			s.Completed++
		case models.StatusMissed:
			if inst.PenaltyApplied {
				s.CoinsLost += inst.StakeAmount
			}
		}
	}
	s.CompletionPercent = decimal.Zero
	if s.Total > 0 {
		s.CompletionPercent = decimal.NewFromInt(int64(s.Completed)).
			Mul(hundred).
			DivRound(decimal.NewFromInt(int64(s.Total)), 2)
	}
	return s
}
