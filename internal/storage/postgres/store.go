package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces" // interface Store
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
	}
}

// Open connects with lib/pq and pings the server.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// Migrate creates every table the store and the directory need. It is safe
// to run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

func (p *PostgresStore) WithTx(ctx context.Context, fn func(tx interfaces.Tx) error) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	if err = fn(&pgTx{tx: dbTx}); err != nil {
		return err
	}
	return dbTx.Commit()
}

// mapErr turns driver errors into the store sentinels.
func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", interfaces.ErrConflict, pqErr.Constraint)
	}
	return err
}

type pgTx struct {
	tx *sql.Tx
}

// insertOnce runs an INSERT ... ON CONFLICT DO NOTHING and reports
// ErrConflict when no row was written. A unique violation would abort the
// surrounding transaction, which callers that tolerate conflicts can't have.
func (t *pgTx) insertOnce(ctx context.Context, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrConflict
	}
	return nil
}

func (t *pgTx) CreateUser(ctx context.Context, user models.User) error {
	const query = `INSERT INTO users (id, created_at) VALUES ($1, $2)
	ON CONFLICT (id) DO NOTHING`
	return t.insertOnce(ctx, query, user.ID, user.CreatedAt)
}

func (t *pgTx) GetUser(ctx context.Context, userID string) (models.User, error) {
	const query = `SELECT id, created_at FROM users WHERE id = $1`
	var u models.User
	err := t.tx.QueryRowContext(ctx, query, userID).Scan(&u.ID, &u.CreatedAt)
	return u, mapErr(err)
}

// LockUser takes a transaction-scoped advisory lock keyed by the user, so
// balance checks serialise even before the user has any wallet row.
func (t *pgTx) LockUser(ctx context.Context, userID string) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID)
	return err
}

func (t *pgTx) SaveEntry(ctx context.Context, e models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (id, user_id, amount, kind, space_id, task_instance_id, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := t.tx.ExecContext(ctx, query, e.ID, e.UserID, e.Amount, string(e.Kind), e.SpaceID, e.TaskInstanceID, e.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) SumEntries(ctx context.Context, userID string) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1`
	var sum int64
	err := t.tx.QueryRowContext(ctx, query, userID).Scan(&sum)
	return sum, err
}

func (t *pgTx) GetEntriesByAccount(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	const query = `SELECT id, user_id, amount, kind, space_id, task_instance_id, created_at
	FROM ledger_entries WHERE user_id = $1 ORDER BY created_at, id`

	rows, err := t.tx.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		var kind string
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Amount, &kind,
			&entry.SpaceID, &entry.TaskInstanceID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Kind = models.EntryKind(kind)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (t *pgTx) HasEntry(ctx context.Context, taskInstanceID string, kind models.EntryKind) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE task_instance_id = $1 AND kind = $2)`
	var exists bool
	err := t.tx.QueryRowContext(ctx, query, taskInstanceID, string(kind)).Scan(&exists)
	return exists, err
}

func (t *pgTx) CountEntries(ctx context.Context, taskInstanceID string, kind models.EntryKind) (int, error) {
	const query = `SELECT COUNT(*) FROM ledger_entries WHERE task_instance_id = $1 AND kind = $2`
	var n int
	err := t.tx.QueryRowContext(ctx, query, taskInstanceID, string(kind)).Scan(&n)
	return n, err
}

func (t *pgTx) SetCachedBalance(ctx context.Context, userID string, balance int64) error {
	const query = `INSERT INTO wallets (user_id, balance, updated_at) VALUES ($1, $2, now())
	ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()`
	_, err := t.tx.ExecContext(ctx, query, userID, balance)
	return err
}

func (t *pgTx) GetCachedBalance(ctx context.Context, userID string) (int64, error) {
	var b int64
	err := t.tx.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE user_id = $1`, userID).Scan(&b)
	return b, mapErr(err)
}

const instanceColumns = `id, space_id, user_id, title, due_at, stake_amount, status, completed_at, penalty_applied, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (models.TaskInstance, error) {
	var inst models.TaskInstance
	var status string
	var completedAt sql.NullTime
	err := row.Scan(&inst.ID, &inst.SpaceID, &inst.UserID, &inst.Title, &inst.DueAt,
		&inst.StakeAmount, &status, &completedAt, &inst.PenaltyApplied, &inst.CreatedAt)
	if err != nil {
		return inst, err
	}
	inst.Status = models.TaskStatus(status)
	if !inst.Status.Valid() {
		return inst, fmt.Errorf("task instance %s: unknown status %q", inst.ID, status)
	}
	if completedAt.Valid {
		at := completedAt.Time
		inst.CompletedAt = &at
	}
	return inst, nil
}

func (t *pgTx) CreateInstance(ctx context.Context, inst models.TaskInstance) error {
	const query = `INSERT INTO task_instances (` + instanceColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := t.tx.ExecContext(ctx, query, inst.ID, inst.SpaceID, inst.UserID, inst.Title, inst.DueAt,
		inst.StakeAmount, string(inst.Status), nullTime(inst.CompletedAt), inst.PenaltyApplied, inst.CreatedAt)
	return mapErr(err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (t *pgTx) GetInstance(ctx context.Context, id string) (models.TaskInstance, error) {
	inst, err := scanInstance(t.tx.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM task_instances WHERE id = $1`, id))
	return inst, mapErr(err)
}

func (t *pgTx) GetInstanceForUpdate(ctx context.Context, id string) (models.TaskInstance, error) {
	inst, err := scanInstance(t.tx.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM task_instances WHERE id = $1 FOR UPDATE`, id))
	return inst, mapErr(err)
}

func (t *pgTx) UpdateInstance(ctx context.Context, inst models.TaskInstance) error {
	const query = `UPDATE task_instances
	SET status = $2, completed_at = $3, penalty_applied = $4
	WHERE id = $1`
	res, err := t.tx.ExecContext(ctx, query, inst.ID, string(inst.Status), nullTime(inst.CompletedAt), inst.PenaltyApplied)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (t *pgTx) queryInstances(ctx context.Context, query string, args ...any) ([]models.TaskInstance, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TaskInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (t *pgTx) ListPendingInstances(ctx context.Context) ([]models.TaskInstance, error) {
	return t.queryInstances(ctx, `SELECT `+instanceColumns+` FROM task_instances
	WHERE status = 'PENDING' ORDER BY due_at, id`)
}

func (t *pgTx) ListInstancesDue(ctx context.Context, spaceID, userID string, from, to time.Time) ([]models.TaskInstance, error) {
	return t.queryInstances(ctx, `SELECT `+instanceColumns+` FROM task_instances
	WHERE space_id = $1 AND user_id = $2 AND due_at >= $3 AND due_at <= $4
	ORDER BY due_at, id`, spaceID, userID, from, to)
}

func (t *pgTx) GetUsageForUpdate(ctx context.Context, key models.UsageKey) (models.ForgivenessUsage, error) {
	const insert = `INSERT INTO forgiveness_usage (user_id, space_id, week_year, week_number, tokens_used)
	VALUES ($1, $2, $3, $4, 0) ON CONFLICT DO NOTHING`
	if _, err := t.tx.ExecContext(ctx, insert, key.UserID, key.SpaceID, key.Week.Year, key.Week.Week); err != nil {
		return models.ForgivenessUsage{}, err
	}
	return t.getUsage(ctx, key, " FOR UPDATE")
}

func (t *pgTx) GetUsage(ctx context.Context, key models.UsageKey) (models.ForgivenessUsage, error) {
	return t.getUsage(ctx, key, "")
}

func (t *pgTx) getUsage(ctx context.Context, key models.UsageKey, lock string) (models.ForgivenessUsage, error) {
	query := `SELECT tokens_used FROM forgiveness_usage
	WHERE user_id = $1 AND space_id = $2 AND week_year = $3 AND week_number = $4` + lock
	u := models.ForgivenessUsage{UserID: key.UserID, SpaceID: key.SpaceID, Week: key.Week}
	err := t.tx.QueryRowContext(ctx, query, key.UserID, key.SpaceID, key.Week.Year, key.Week.Week).Scan(&u.TokensUsed)
	return u, mapErr(err)
}

func (t *pgTx) SaveUsage(ctx context.Context, u models.ForgivenessUsage) error {
	const query = `INSERT INTO forgiveness_usage (user_id, space_id, week_year, week_number, tokens_used)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (user_id, space_id, week_year, week_number) DO UPDATE SET tokens_used = EXCLUDED.tokens_used`
	_, err := t.tx.ExecContext(ctx, query, u.UserID, u.SpaceID, u.Week.Year, u.Week.Week, u.TokensUsed)
	return err
}

const requestColumns = `id, task_instance_id, requested_by_id, status, expires_at, created_at`

func scanRequest(row rowScanner) (models.ForgivenessRequest, error) {
	var r models.ForgivenessRequest
	var status string
	err := row.Scan(&r.ID, &r.TaskInstanceID, &r.RequestedByID, &status, &r.ExpiresAt, &r.CreatedAt)
	r.Status = models.RequestStatus(status)
	return r, err
}

func (t *pgTx) CreateRequest(ctx context.Context, r models.ForgivenessRequest) error {
	const query = `INSERT INTO forgiveness_requests (` + requestColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (task_instance_id) DO NOTHING`
	return t.insertOnce(ctx, query, r.ID, r.TaskInstanceID, r.RequestedByID, string(r.Status), r.ExpiresAt, r.CreatedAt)
}

func (t *pgTx) GetRequest(ctx context.Context, id string) (models.ForgivenessRequest, error) {
	r, err := scanRequest(t.tx.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM forgiveness_requests WHERE id = $1`, id))
	return r, mapErr(err)
}

func (t *pgTx) GetRequestForUpdate(ctx context.Context, id string) (models.ForgivenessRequest, error) {
	r, err := scanRequest(t.tx.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM forgiveness_requests WHERE id = $1 FOR UPDATE`, id))
	return r, mapErr(err)
}

func (t *pgTx) GetRequestByTask(ctx context.Context, taskInstanceID string) (models.ForgivenessRequest, error) {
	r, err := scanRequest(t.tx.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM forgiveness_requests WHERE task_instance_id = $1`, taskInstanceID))
	return r, mapErr(err)
}

func (t *pgTx) ListPendingRequests(ctx context.Context, spaceID string, now time.Time) ([]models.ForgivenessRequest, error) {
	const query = `SELECT r.id, r.task_instance_id, r.requested_by_id, r.status, r.expires_at, r.created_at
	FROM forgiveness_requests r JOIN task_instances i ON i.id = r.task_instance_id
	WHERE i.space_id = $1 AND r.status = 'PENDING' AND r.expires_at > $2
	ORDER BY r.expires_at, r.id`

	rows, err := t.tx.QueryContext(ctx, query, spaceID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ForgivenessRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateRequestStatus(ctx context.Context, id string, status models.RequestStatus) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE forgiveness_requests SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (t *pgTx) ExpireRequests(ctx context.Context, now time.Time) ([]models.ForgivenessRequest, error) {
	const query = `UPDATE forgiveness_requests SET status = 'EXPIRED'
	WHERE status = 'PENDING' AND expires_at < $1
	RETURNING ` + requestColumns

	rows, err := t.tx.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []models.ForgivenessRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, r)
	}
	return expired, rows.Err()
}

func (t *pgTx) UpsertVote(ctx context.Context, v models.ForgivenessVote) error {
	const query = `INSERT INTO forgiveness_votes (request_id, user_id, vote, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (request_id, user_id) DO UPDATE SET vote = EXCLUDED.vote, updated_at = EXCLUDED.updated_at`
	_, err := t.tx.ExecContext(ctx, query, v.RequestID, v.UserID, string(v.Vote), v.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) ListVotes(ctx context.Context, requestID string) ([]models.ForgivenessVote, error) {
	const query = `SELECT request_id, user_id, vote, updated_at FROM forgiveness_votes
	WHERE request_id = $1 ORDER BY user_id`

	rows, err := t.tx.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ForgivenessVote
	for rows.Next() {
		var v models.ForgivenessVote
		var choice string
		if err := rows.Scan(&v.RequestID, &v.UserID, &choice, &v.UpdatedAt); err != nil {
			return nil, err
		}
		v.Vote = models.VoteChoice(choice)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (t *pgTx) UpsertWeeklyStats(ctx context.Context, s models.WeeklyStats) error {
	const query = `INSERT INTO weekly_stats (space_id, user_id, week_year, week_number, total, completed,
		completion_percent, coins_lost, forgiveness_used, computed_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (space_id, user_id, week_year, week_number) DO UPDATE SET
		total = EXCLUDED.total,
		completed = EXCLUDED.completed,
		completion_percent = EXCLUDED.completion_percent,
		coins_lost = EXCLUDED.coins_lost,
		forgiveness_used = EXCLUDED.forgiveness_used,
		computed_at = EXCLUDED.computed_at`
	_, err := t.tx.ExecContext(ctx, query, s.SpaceID, s.UserID, s.Week.Year, s.Week.Week, s.Total, s.Completed,
		s.CompletionPercent, s.CoinsLost, s.ForgivenessUsed, s.ComputedAt)
	return err
}

func (t *pgTx) GetWeeklyStats(ctx context.Context, spaceID, userID string, week models.WeekKey) (models.WeeklyStats, error) {
	const query = `SELECT total, completed, completion_percent, coins_lost, forgiveness_used, computed_at
	FROM weekly_stats WHERE space_id = $1 AND user_id = $2 AND week_year = $3 AND week_number = $4`
	s := models.WeeklyStats{SpaceID: spaceID, UserID: userID, Week: week}
	err := t.tx.QueryRowContext(ctx, query, spaceID, userID, week.Year, week.Week).
		Scan(&s.Total, &s.Completed, &s.CompletionPercent, &s.CoinsLost, &s.ForgivenessUsed, &s.ComputedAt)
	return s, mapErr(err)
}

func (t *pgTx) ListWeeklyStats(ctx context.Context, spaceID string, week models.WeekKey) ([]models.WeeklyStats, error) {
	const query = `SELECT user_id, total, completed, completion_percent, coins_lost, forgiveness_used, computed_at
	FROM weekly_stats WHERE space_id = $1 AND week_year = $2 AND week_number = $3
	ORDER BY completion_percent DESC, user_id`

	rows, err := t.tx.QueryContext(ctx, query, spaceID, week.Year, week.Week)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WeeklyStats
	for rows.Next() {
		s := models.WeeklyStats{SpaceID: spaceID, Week: week}
		if err := rows.Scan(&s.UserID, &s.Total, &s.Completed, &s.CompletionPercent, &s.CoinsLost,
			&s.ForgivenessUsed, &s.ComputedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

var _ interfaces.Store = (*PostgresStore)(nil)
var _ interfaces.Tx = (*pgTx)(nil)
