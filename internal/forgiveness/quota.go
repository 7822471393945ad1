// Package forgiveness reverses missed tasks, either by spending a personal
// weekly token or by a time-boxed group vote.
package forgiveness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sheikh-saqib/stakes-ledger/internal/errs"
	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
	"github.com/sheikh-saqib/stakes-ledger/internal/timewindow"
)

// Quota tracks personal forgiveness tokens per user, space and week. Weeks
// are keyed by the shared calendar so lookups and aggregation line up.
type Quota struct {
	Calendar timewindow.Calendar
}

func (q Quota) key(userID, spaceID string, at time.Time) models.UsageKey {
	return models.UsageKey{UserID: userID, SpaceID: spaceID, Week: q.Calendar.WeekOf(at)}
}

// TryConsume spends one token for the week containing now inside tx. The
// increment is only durable if tx commits.
func (q Quota) TryConsume(ctx context.Context, tx interfaces.ForgivenessTx, userID, spaceID string, now time.Time, limit int) (models.ForgivenessUsage, error) {
	usage, err := tx.GetUsageForUpdate(ctx, q.key(userID, spaceID, now))
	if err != nil {
		return usage, fmt.Errorf("load usage: %w", err)
	}
	if usage.TokensUsed >= limit {
		return usage, errs.New(errs.QuotaExhausted, "no forgiveness tokens left this week (%d/%d used)", usage.TokensUsed, limit)
	}
	usage.TokensUsed++
	if err := tx.SaveUsage(ctx, usage); err != nil {
		return usage, fmt.Errorf("save usage: %w", err)
	}
	return usage, nil
}

// Used returns the tokens spent in the week containing at, 0 when the week
// has no row yet.
func (q Quota) Used(ctx context.Context, tx interfaces.ForgivenessTx, userID, spaceID string, at time.Time) (int, error) {
	usage, err := tx.GetUsage(ctx, q.key(userID, spaceID, at))
	if errors.Is(err, interfaces.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return usage.TokensUsed, nil
}
