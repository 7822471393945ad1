package postgres

import (
	"context"
	"database/sql"
	"fmt"

	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
)

// Directory reads space rules and membership from the space_rules and
// space_members tables. Queries run outside any store transaction.
type Directory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) IsMember(ctx context.Context, userID, spaceID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM space_members WHERE space_id = $1 AND user_id = $2)`
	var ok bool
	err := d.db.QueryRowContext(ctx, query, spaceID, userID).Scan(&ok)
	return ok, err
}

func (d *Directory) ListMembers(ctx context.Context, spaceID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT user_id FROM space_members WHERE space_id = $1 ORDER BY user_id`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

const rulesColumns = `space_id, min_stake, grace_minutes, weekly_forgiveness_tokens, group_vote_enabled, vote_threshold_percent`

func scanRules(row rowScanner) (models.SpaceRules, error) {
	var r models.SpaceRules
	err := row.Scan(&r.SpaceID, &r.MinStake, &r.GraceMinutes, &r.WeeklyForgivenessTokens,
		&r.GroupVoteEnabled, &r.VoteThresholdPercent)
	return r, err
}

func (d *Directory) GetRules(ctx context.Context, spaceID string) (models.SpaceRules, error) {
	r, err := scanRules(d.db.QueryRowContext(ctx, `SELECT `+rulesColumns+` FROM space_rules WHERE space_id = $1`, spaceID))
	return r, mapErr(err)
}

func (d *Directory) ListRules(ctx context.Context) ([]models.SpaceRules, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+rulesColumns+` FROM space_rules ORDER BY space_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SpaceRules
	for rows.Next() {
		r, err := scanRules(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PutSpace creates or replaces a space's rules. Used by the admin CLI.
func (d *Directory) PutSpace(ctx context.Context, r models.SpaceRules) error {
	const query = `INSERT INTO space_rules (` + rulesColumns + `) VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (space_id) DO UPDATE SET
		min_stake = EXCLUDED.min_stake,
		grace_minutes = EXCLUDED.grace_minutes,
		weekly_forgiveness_tokens = EXCLUDED.weekly_forgiveness_tokens,
		group_vote_enabled = EXCLUDED.group_vote_enabled,
		vote_threshold_percent = EXCLUDED.vote_threshold_percent`
	_, err := d.db.ExecContext(ctx, query, r.SpaceID, r.MinStake, r.GraceMinutes, r.WeeklyForgivenessTokens,
		r.GroupVoteEnabled, r.VoteThresholdPercent)
	return err
}

func (d *Directory) AddMember(ctx context.Context, spaceID, userID string) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO space_members (space_id, user_id) VALUES ($1, $2)
	ON CONFLICT DO NOTHING`, spaceID, userID)
	return err
}

func (d *Directory) Seed(ctx context.Context, rules models.SpaceRules, members ...string) error {
	if err := d.PutSpace(ctx, rules); err != nil {
		return fmt.Errorf("put space %s: %w", rules.SpaceID, err)
	}
	for _, m := range members {
		if err := d.AddMember(ctx, rules.SpaceID, m); err != nil {
			return fmt.Errorf("add %s to %s: %w", m, rules.SpaceID, err)
		}
	}
	return nil
}

var _ interfaces.SpaceDirectory = (*Directory)(nil)
var _ interfaces.SpaceSeeder = (*Directory)(nil)
