package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WeeklyStats is the per-member summary of one finished week in a space.
type WeeklyStats struct {
	SpaceID           string          `json:"space_id"`
	UserID            string          `json:"user_id"`
	Week              WeekKey         `json:"week"`
	Total             int             `json:"total"`
	Completed         int             `json:"completed"`
	CompletionPercent decimal.Decimal `json:"completion_percent"`
	CoinsLost         int64           `json:"coins_lost"`
	ForgivenessUsed   int             `json:"forgiveness_used"`
	ComputedAt        time.Time       `json:"computed_at"`
}
