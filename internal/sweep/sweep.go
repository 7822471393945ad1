// Package sweep enforces deadlines and vote expiry in periodic batches.
package sweep

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/sheikh-saqib/stakes-ledger/internal/errs"
	"github.com/sheikh-saqib/stakes-ledger/internal/forgiveness"
	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
	"github.com/sheikh-saqib/stakes-ledger/internal/tasks"
	"github.com/sheikh-saqib/stakes-ledger/internal/timewindow"
)

// Report summarises one sweep run.
type Report struct {
	ExpiredRequests int `json:"expired_requests"`
	Processed       int `json:"processed"`
	Skipped         int `json:"skipped"` // resolved by someone else mid-run
	Failed          int `json:"failed"`
}

// Sweeper holds no global lock: every instance is missed in its own
// transaction, so one failure or a slow run never blocks the rest.
type Sweeper struct {
	store       interfaces.Store
	directory   interfaces.SpaceDirectory
	lifecycle   *tasks.Lifecycle
	forgiveness *forgiveness.Service
	clock       interfaces.Clock
	logger      *log.Logger

	DefaultGraceMinutes int
}

func New(store interfaces.Store, directory interfaces.SpaceDirectory, lifecycle *tasks.Lifecycle,
	fs *forgiveness.Service, clock interfaces.Clock, logger *log.Logger) *Sweeper {
	return &Sweeper{
		store:       store,
		directory:   directory,
		lifecycle:   lifecycle,
		forgiveness: fs,
		clock:       clock,
		logger:      logger,
	}
}

// Run expires stale vote requests, then misses every pending instance whose
// grace window closed. Re-running is safe: already missed instances are
// skipped by the lifecycle.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	var report Report
	now := s.clock.Now()

	expired, err := s.forgiveness.ExpireRequests(ctx)
	if err != nil {
		return report, fmt.Errorf("expire requests: %w", err)
	}
	report.ExpiredRequests = len(expired)

	rules, err := s.directory.ListRules(ctx)
	if err != nil {
		return report, fmt.Errorf("load rules: %w", err)
	}
	grace := make(map[string]int, len(rules))
	for _, r := range rules {
		grace[r.SpaceID] = r.GraceMinutes
	}

	var pending []models.TaskInstance
	err = s.store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		pending, err = tx.ListPendingInstances(ctx)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("list pending: %w", err)
	}

	for _, inst := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		g, ok := grace[inst.SpaceID]
		if !ok {
			g = s.DefaultGraceMinutes
		}
		if !timewindow.PastGrace(now, inst.DueAt, g) {
			continue
		}
		changed, err := s.lifecycle.MissWithGrace(ctx, inst.ID, g)
		if errs.CodeOf(err) == errs.InvalidState {
			report.Skipped++
			s.logger.Debug("instance resolved concurrently", "instance", inst.ID, "err", err)
			continue
		}
		if err != nil {
			report.Failed++
			s.logger.Warn("miss failed", "instance", inst.ID, "space", inst.SpaceID, "err", err)
			continue
		}
		if changed {
			report.Processed++
		}
	}

	s.logger.Info("sweep finished",
		"expired_requests", report.ExpiredRequests,
		"processed", report.Processed,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return report, nil
}
