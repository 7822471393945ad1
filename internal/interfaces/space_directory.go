package interfaces

import (
	"context"

	"github.com/sheikh-saqib/stakes-ledger/internal/models"
)

// SpaceDirectory is the read side of space administration: membership and
// rules. It never participates in stake transactions.
type SpaceDirectory interface {
	IsMember(ctx context.Context, userID, spaceID string) (bool, error)
	ListMembers(ctx context.Context, spaceID string) ([]string, error)
	// GetRules returns ErrNotFound for an unknown space.
	GetRules(ctx context.Context, spaceID string) (models.SpaceRules, error)
	ListRules(ctx context.Context) ([]models.SpaceRules, error)
}

// SpaceSeeder writes spaces declared outside the stake core, such as the
// config file. Seeding an existing space replaces its rules and adds members.
type SpaceSeeder interface {
	Seed(ctx context.Context, rules models.SpaceRules, members ...string) error
}
