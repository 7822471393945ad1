package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/sheikh-saqib/stakes-ledger/internal/models"
)

var (
	// ErrNotFound is returned by stores when the addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint rejects a write.
	ErrConflict = errors.New("conflict")
)

// Store is the single durable store. Every read and write happens inside
// WithTx; returning an error from fn rolls back everything fn did.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is one store transaction. Get*ForUpdate calls lock the row until the
// transaction ends.
type Tx interface {
	LedgerTx
	TaskTx
	ForgivenessTx
	StatsTx
}

type LedgerTx interface {
	CreateUser(ctx context.Context, user models.User) error
	GetUser(ctx context.Context, userID string) (models.User, error)
	// LockUser serialises balance-gated writes for one user.
	LockUser(ctx context.Context, userID string) error
	SaveEntry(ctx context.Context, entry models.LedgerEntry) error
	SumEntries(ctx context.Context, userID string) (int64, error)
	GetEntriesByAccount(ctx context.Context, userID string) ([]models.LedgerEntry, error)
	HasEntry(ctx context.Context, taskInstanceID string, kind models.EntryKind) (bool, error)
	CountEntries(ctx context.Context, taskInstanceID string, kind models.EntryKind) (int, error)
	SetCachedBalance(ctx context.Context, userID string, balance int64) error
	GetCachedBalance(ctx context.Context, userID string) (int64, error)
}

type TaskTx interface {
	CreateInstance(ctx context.Context, inst models.TaskInstance) error
	GetInstance(ctx context.Context, id string) (models.TaskInstance, error)
	GetInstanceForUpdate(ctx context.Context, id string) (models.TaskInstance, error)
	UpdateInstance(ctx context.Context, inst models.TaskInstance) error
	ListPendingInstances(ctx context.Context) ([]models.TaskInstance, error)
	// ListInstancesDue returns a member's instances in a space with from <= dueAt <= to.
	ListInstancesDue(ctx context.Context, spaceID, userID string, from, to time.Time) ([]models.TaskInstance, error)
}

type ForgivenessTx interface {
	// GetUsageForUpdate returns the usage row, creating it with zero tokens
	// when absent.
	GetUsageForUpdate(ctx context.Context, key models.UsageKey) (models.ForgivenessUsage, error)
	GetUsage(ctx context.Context, key models.UsageKey) (models.ForgivenessUsage, error)
	SaveUsage(ctx context.Context, usage models.ForgivenessUsage) error

	// CreateRequest returns ErrConflict when any request already exists for
	// the task instance.
	CreateRequest(ctx context.Context, req models.ForgivenessRequest) error
	GetRequest(ctx context.Context, id string) (models.ForgivenessRequest, error)
	GetRequestForUpdate(ctx context.Context, id string) (models.ForgivenessRequest, error)
	GetRequestByTask(ctx context.Context, taskInstanceID string) (models.ForgivenessRequest, error)
	// ListPendingRequests returns PENDING requests on the space's instances
	// with expiresAt > now, soonest to close first.
	ListPendingRequests(ctx context.Context, spaceID string, now time.Time) ([]models.ForgivenessRequest, error)
	UpdateRequestStatus(ctx context.Context, id string, status models.RequestStatus) error
	// ExpireRequests flips every PENDING request with expiresAt < now to
	// EXPIRED and returns the affected rows.
	ExpireRequests(ctx context.Context, now time.Time) ([]models.ForgivenessRequest, error)

	UpsertVote(ctx context.Context, vote models.ForgivenessVote) error
	ListVotes(ctx context.Context, requestID string) ([]models.ForgivenessVote, error)
}

type StatsTx interface {
	UpsertWeeklyStats(ctx context.Context, stats models.WeeklyStats) error
	GetWeeklyStats(ctx context.Context, spaceID, userID string, week models.WeekKey) (models.WeeklyStats, error)
	// ListWeeklyStats orders rows by completion percent, highest first.
	ListWeeklyStats(ctx context.Context, spaceID string, week models.WeekKey) ([]models.WeeklyStats, error)
}
