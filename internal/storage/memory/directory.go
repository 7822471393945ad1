package memory

import (
	"context"
	"sort"
	"sync"

	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/models"
)

// Directory is an in-memory SpaceDirectory. It is seeded by whatever owns
// space administration; the stake core only reads it.
type Directory struct {
	mu      sync.RWMutex
	rules   map[string]models.SpaceRules
	members map[string]map[string]bool
}

func NewDirectory() *Directory {
	return &Directory{
		rules:   make(map[string]models.SpaceRules),
		members: make(map[string]map[string]bool),
	}
}

// PutSpace creates or replaces a space's rules.
func (d *Directory) PutSpace(rules models.SpaceRules) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules[rules.SpaceID] = rules
	if _, ok := d.members[rules.SpaceID]; !ok {
		d.members[rules.SpaceID] = make(map[string]bool)
	}
}

func (d *Directory) AddMember(spaceID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.members[spaceID]; !ok {
		d.members[spaceID] = make(map[string]bool)
	}
	d.members[spaceID][userID] = true
}

func (d *Directory) Seed(_ context.Context, rules models.SpaceRules, members ...string) error {
	d.PutSpace(rules)
	for _, m := range members {
		d.AddMember(rules.SpaceID, m)
	}
	return nil
}

func (d *Directory) RemoveMember(spaceID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members[spaceID], userID)
}

func (d *Directory) IsMember(_ context.Context, userID, spaceID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.members[spaceID][userID], nil
}

func (d *Directory) ListMembers(_ context.Context, spaceID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.members[spaceID]))
	for u := range d.members[spaceID] {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (d *Directory) GetRules(_ context.Context, spaceID string) (models.SpaceRules, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rules[spaceID]
	if !ok {
		return models.SpaceRules{}, interfaces.ErrNotFound
	}
	return r, nil
}

func (d *Directory) ListRules(context.Context) ([]models.SpaceRules, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.SpaceRules, 0, len(d.rules))
	for _, r := range d.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpaceID < out[j].SpaceID })
	return out, nil
}

var _ interfaces.SpaceDirectory = (*Directory)(nil)
var _ interfaces.SpaceSeeder = (*Directory)(nil)
