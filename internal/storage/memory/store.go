package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"sort"
	"sync" // standard Go package for concurrency primitives like Mutex
	"time"

	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
)

// state is everything a transaction can touch. A transaction works on a copy
// and the copy replaces the live state only on commit.
type state struct {
	users     map[string]models.User
	entries   []models.LedgerEntry
	wallets   map[string]int64
	instances map[string]models.TaskInstance
	usage     map[models.UsageKey]models.ForgivenessUsage
	requests  map[string]models.ForgivenessRequest
	byTask    map[string]string                             // task instance id -> request id
	votes     map[string]map[string]models.ForgivenessVote // request id -> voter -> vote
	stats     map[statsKey]models.WeeklyStats
}

type statsKey struct {
	spaceID string
	userID  string
	week    models.WeekKey
}

func newState() *state {
	return &state{
		users:     make(map[string]models.User),
		entries:   make([]models.LedgerEntry, 0),
		wallets:   make(map[string]int64),
		instances: make(map[string]models.TaskInstance),
		usage:     make(map[models.UsageKey]models.ForgivenessUsage),
		requests:  make(map[string]models.ForgivenessRequest),
		byTask:    make(map[string]string),
		votes:     make(map[string]map[string]models.ForgivenessVote),
		stats:     make(map[statsKey]models.WeeklyStats),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	c.entries = append(c.entries, s.entries...)
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.instances {
		c.instances[k] = v
	}
	for k, v := range s.usage {
		c.usage[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.byTask {
		c.byTask[k] = v
	}
	for k, vs := range s.votes {
		m := make(map[string]models.ForgivenessVote, len(vs))
		for voter, v := range vs {
			m[voter] = v
		}
		c.votes[k] = m
	}
	for k, v := range s.stats {
		c.stats[k] = v
	}
	return c
}

// MemoryStore is an in-memory implementation of interfaces.Store.
// Transactions are fully serialised: one mutex is held for the whole of
// WithTx, which gives every row lock for free.
type MemoryStore struct {
	mu    sync.Mutex // held for the duration of a transaction
	state *state
}

// NewMemoryStore creates and returns a new MemoryStore instance
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newState()}
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx interfaces.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()         // lock the mutex to prevent concurrent transactions
	defer m.mu.Unlock() // unlock automatically when function exits (even if error occurs)

	work := m.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err // discard work: rollback
	}
	m.state = work
	return nil
}

type memTx struct {
	s *state
}

func (t *memTx) CreateUser(_ context.Context, user models.User) error {
	if _, exists := t.s.users[user.ID]; exists {
		return interfaces.ErrConflict
	}
	t.s.users[user.ID] = user
	t.s.wallets[user.ID] = 0
	return nil
}

func (t *memTx) GetUser(_ context.Context, userID string) (models.User, error) {
	u, ok := t.s.users[userID]
	if !ok {
		return models.User{}, interfaces.ErrNotFound
	}
	return u, nil
}

func (t *memTx) LockUser(context.Context, string) error { return nil }

func (t *memTx) SaveEntry(_ context.Context, entry models.LedgerEntry) error {
	t.s.entries = append(t.s.entries, entry)
	return nil
}

func (t *memTx) SumEntries(_ context.Context, userID string) (int64, error) {
	var sum int64
	for _, e := range t.s.entries {
		if e.UserID == userID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (t *memTx) GetEntriesByAccount(_ context.Context, userID string) ([]models.LedgerEntry, error) {
	var result []models.LedgerEntry
	for _, e := range t.s.entries {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (t *memTx) HasEntry(ctx context.Context, taskInstanceID string, kind models.EntryKind) (bool, error) {
	n, err := t.CountEntries(ctx, taskInstanceID, kind)
	return n > 0, err
}

func (t *memTx) CountEntries(_ context.Context, taskInstanceID string, kind models.EntryKind) (int, error) {
	n := 0
	for _, e := range t.s.entries {
		if e.TaskInstanceID == taskInstanceID && e.Kind == kind {
			n++
		}
	}
	return n, nil
}

func (t *memTx) SetCachedBalance(_ context.Context, userID string, balance int64) error {
	t.s.wallets[userID] = balance
	return nil
}

func (t *memTx) GetCachedBalance(_ context.Context, userID string) (int64, error) {
	b, ok := t.s.wallets[userID]
	if !ok {
		return 0, interfaces.ErrNotFound
	}
	return b, nil
}

func (t *memTx) CreateInstance(_ context.Context, inst models.TaskInstance) error {
	if _, exists := t.s.instances[inst.ID]; exists {
		return interfaces.ErrConflict
	}
	t.s.instances[inst.ID] = inst
	return nil
}

func (t *memTx) GetInstance(_ context.Context, id string) (models.TaskInstance, error) {
	inst, ok := t.s.instances[id]
	if !ok {
		return models.TaskInstance{}, interfaces.ErrNotFound
	}
	return inst, nil
}

func (t *memTx) GetInstanceForUpdate(ctx context.Context, id string) (models.TaskInstance, error) {
	return t.GetInstance(ctx, id)
}

func (t *memTx) UpdateInstance(_ context.Context, inst models.TaskInstance) error {
	if _, ok := t.s.instances[inst.ID]; !ok {
		return interfaces.ErrNotFound
	}
	t.s.instances[inst.ID] = inst
	return nil
}

func (t *memTx) ListPendingInstances(context.Context) ([]models.TaskInstance, error) {
	var out []models.TaskInstance
	for _, inst := range t.s.instances {
		if inst.Status == models.StatusPending {
			out = append(out, inst)
		}
	}
	sortInstances(out)
	return out, nil
}

func (t *memTx) ListInstancesDue(_ context.Context, spaceID, userID string, from, to time.Time) ([]models.TaskInstance, error) {
	var out []models.TaskInstance
	for _, inst := range t.s.instances {
		if inst.SpaceID != spaceID || inst.UserID != userID {
			continue
		}
		if inst.DueAt.Before(from) || inst.DueAt.After(to) {
			continue
		}
		out = append(out, inst)
	}
	sortInstances(out)
	return out, nil
}

func sortInstances(out []models.TaskInstance) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
}

func (t *memTx) GetUsageForUpdate(_ context.Context, key models.UsageKey) (models.ForgivenessUsage, error) {
	u, ok := t.s.usage[key]
	if !ok {
		u = models.ForgivenessUsage{UserID: key.UserID, SpaceID: key.SpaceID, Week: key.Week}
		t.s.usage[key] = u
	}
	return u, nil
}

func (t *memTx) GetUsage(_ context.Context, key models.UsageKey) (models.ForgivenessUsage, error) {
	u, ok := t.s.usage[key]
	if !ok {
		return models.ForgivenessUsage{}, interfaces.ErrNotFound
	}
	return u, nil
}

func (t *memTx) SaveUsage(_ context.Context, usage models.ForgivenessUsage) error {
	t.s.usage[usage.Key()] = usage
	return nil
}

func (t *memTx) CreateRequest(_ context.Context, req models.ForgivenessRequest) error {
	if _, exists := t.s.byTask[req.TaskInstanceID]; exists {
		return interfaces.ErrConflict
	}
	t.s.requests[req.ID] = req
	t.s.byTask[req.TaskInstanceID] = req.ID
	return nil
}

func (t *memTx) GetRequest(_ context.Context, id string) (models.ForgivenessRequest, error) {
	r, ok := t.s.requests[id]
	if !ok {
		return models.ForgivenessRequest{}, interfaces.ErrNotFound
	}
	return r, nil
}

func (t *memTx) GetRequestForUpdate(ctx context.Context, id string) (models.ForgivenessRequest, error) {
	return t.GetRequest(ctx, id)
}

func (t *memTx) GetRequestByTask(_ context.Context, taskInstanceID string) (models.ForgivenessRequest, error) {
	id, ok := t.s.byTask[taskInstanceID]
	if !ok {
		return models.ForgivenessRequest{}, interfaces.ErrNotFound
	}
	return t.s.requests[id], nil
}

func (t *memTx) ListPendingRequests(_ context.Context, spaceID string, now time.Time) ([]models.ForgivenessRequest, error) {
	var out []models.ForgivenessRequest
	for _, r := range t.s.requests {
		if r.Status != models.RequestPending || !r.ExpiresAt.After(now) {
			continue
		}
		if t.s.instances[r.TaskInstanceID].SpaceID != spaceID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) UpdateRequestStatus(_ context.Context, id string, status models.RequestStatus) error {
	r, ok := t.s.requests[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	r.Status = status
	t.s.requests[id] = r
	return nil
}

func (t *memTx) ExpireRequests(_ context.Context, now time.Time) ([]models.ForgivenessRequest, error) {
	var expired []models.ForgivenessRequest
	for id, r := range t.s.requests {
		if r.Status == models.RequestPending && r.ExpiresAt.Before(now) {
			r.Status = models.RequestExpired
			t.s.requests[id] = r
			expired = append(expired, r)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

func (t *memTx) UpsertVote(_ context.Context, vote models.ForgivenessVote) error {
	if _, ok := t.s.requests[vote.RequestID]; !ok {
		return interfaces.ErrNotFound
	}
	m, ok := t.s.votes[vote.RequestID]
	if !ok {
		m = make(map[string]models.ForgivenessVote)
		t.s.votes[vote.RequestID] = m
	}
	m[vote.UserID] = vote
	return nil
}

func (t *memTx) ListVotes(_ context.Context, requestID string) ([]models.ForgivenessVote, error) {
	var out []models.ForgivenessVote
	for _, v := range t.s.votes[requestID] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (t *memTx) UpsertWeeklyStats(_ context.Context, stats models.WeeklyStats) error {
	t.s.stats[statsKey{stats.SpaceID, stats.UserID, stats.Week}] = stats
	return nil
}

func (t *memTx) GetWeeklyStats(_ context.Context, spaceID, userID string, week models.WeekKey) (models.WeeklyStats, error) {
	s, ok := t.s.stats[statsKey{spaceID, userID, week}]
	if !ok {
		return models.WeeklyStats{}, interfaces.ErrNotFound
	}
	return s, nil
}

func (t *memTx) ListWeeklyStats(_ context.Context, spaceID string, week models.WeekKey) ([]models.WeeklyStats, error) {
	var out []models.WeeklyStats
	for k, s := range t.s.stats {
		if k.spaceID == spaceID && k.week == week {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].CompletionPercent.Cmp(out[j].CompletionPercent); c != 0 {
			return c > 0
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// Compile-time check: ensure MemoryStore implements Store interface
var _ interfaces.Store = (*MemoryStore)(nil)
var _ interfaces.Tx = (*memTx)(nil)
