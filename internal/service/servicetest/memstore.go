// Package servicetest provides an in-memory lead store and user directory with
// the same conditional-write semantics as the Postgres store, for tests.
package servicetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/telecrm/backend/internal/db"
	"github.com/telecrm/backend/internal/models"
)

var ErrInjected = errors.New("injected store failure")

type MemStore struct {
	mu    sync.Mutex
	leads map[string]models.Lead
	users map[string]models.User
	clock time.Time

	// FailWritesAfter makes the assign/unassign write after that many
	// successful ones fail with ErrInjected. Negative disables it.
	FailWritesAfter int
	writes          int

	// FailReads makes every list/get call fail with ErrInjected.
	FailReads bool

	// BeforeUpdate, when set, may mutate the stored lead just before a field
	// update is applied, standing in for a concurrent writer.
	BeforeUpdate func(l *models.Lead)
}

func NewMemStore() *MemStore {
	return &MemStore{
		leads:           map[string]models.Lead{},
		users:           map[string]models.User{},
		clock:           time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		FailWritesAfter: -1,
	}
}

// AddTelecaller registers a telecaller together with count already-assigned
// approved leads, so its derived AssignedCount starts at count.
func (s *MemStore) AddTelecaller(id, username string, count int) models.User {
	u := s.AddUser(id, username, models.RoleTeleCaller)
	for i := 0; i < count; i++ {
		owner := id
		s.mu.Lock()
		leadID := fmt.Sprintf("%s-seed-%d", id, i)
		s.leads[leadID] = models.Lead{
			ID:         leadID,
			Name:       leadID,
			Phone:      leadID,
			Status:     models.StatusApproved,
			AssignedTo: &owner,
			CreatedAt:  time.Date(2000, 1, 1, 0, 0, i, 0, time.UTC),
		}
		s.mu.Unlock()
	}
	return u
}

func (s *MemStore) AddUser(id, username string, role models.Role) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := models.User{ID: id, Username: username, UserType: role, CreatedAt: s.tick()}
	s.users[id] = u
	return u
}

// AddLead inserts a pending unassigned lead; each call is one second newer.
func (s *MemStore) AddLead(id string) models.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := models.Lead{ID: id, Name: "Lead " + id, Phone: "+1-" + id, Status: models.StatusPending, CreatedAt: s.tick()}
	l.UpdatedAt = l.CreatedAt
	s.leads[id] = l
	return l
}

// Put stores the lead as given, replacing any previous version.
func (s *MemStore) Put(l models.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.ID] = l
}

func (s *MemStore) Lead(id string) models.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leads[id]
}

// CountAssigned returns the number of leads currently owned by each user.
func (s *MemStore) CountAssigned() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, l := range s.leads {
		if l.AssignedTo != nil {
			out[*l.AssignedTo]++
		}
	}
	return out
}

func (s *MemStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *MemStore) Ping(context.Context) error { return nil }

func (s *MemStore) ListLeads(_ context.Context, f models.LeadFilter) ([]models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads {
		return nil, ErrInjected
	}

	var ids map[string]bool
	if len(f.IDs) > 0 {
		ids = map[string]bool{}
		for _, id := range f.IDs {
			ids[id] = true
		}
	}
	out := []models.Lead{}
	for _, l := range s.leads {
		switch {
		case f.Status != "" && l.Status != f.Status:
			continue
		case f.Assigned != nil && *f.Assigned != l.IsAssigned():
			continue
		case f.AssignedTo != "" && (l.AssignedTo == nil || *l.AssignedTo != f.AssignedTo):
			continue
		case f.CreatedFrom != nil && l.CreatedAt.Before(*f.CreatedFrom):
			continue
		case f.CreatedTo != nil && l.CreatedAt.After(*f.CreatedTo):
			continue
		case ids != nil && !ids[l.ID]:
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemStore) GetLead(_ context.Context, id string) (models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads {
		return models.Lead{}, ErrInjected
	}
	l, ok := s.leads[id]
	if !ok {
		return models.Lead{}, db.ErrNotFound
	}
	return l, nil
}

func (s *MemStore) CreateLead(_ context.Context, l *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phoneTaken(l.Phone, "") {
		return db.ErrConflict
	}
	l.CreatedAt = s.tick()
	l.UpdatedAt = l.CreatedAt
	s.leads[l.ID] = *l
	return nil
}

func (s *MemStore) InsertLeads(_ context.Context, leads []models.Lead) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, l := range leads {
		if s.phoneTaken(l.Phone, "") {
			continue
		}
		l.CreatedAt = s.tick()
		l.UpdatedAt = l.CreatedAt
		s.leads[l.ID] = l
		inserted++
	}
	return inserted, nil
}

func (s *MemStore) UpdateLead(_ context.Context, id string, p models.LeadPatch) (models.Lead, error) {
	return s.update(id, "", p)
}

func (s *MemStore) UpdateOwnedLead(_ context.Context, id, owner string, p models.LeadPatch) (models.Lead, error) {
	return s.update(id, owner, p)
}

func (s *MemStore) update(id, owner string, p models.LeadPatch) (models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return models.Lead{}, db.ErrNotFound
	}
	if s.BeforeUpdate != nil {
		s.BeforeUpdate(&l)
		s.leads[id] = l
	}
	if owner != "" && (l.AssignedTo == nil || *l.AssignedTo != owner) {
		return models.Lead{}, db.ErrConflict
	}
	if p.Phone != nil && s.phoneTaken(*p.Phone, id) {
		return models.Lead{}, db.ErrConflict
	}
	if p.Name != nil {
		l.Name = *p.Name
	}
	if p.Email != nil {
		l.Email = *p.Email
	}
	if p.Phone != nil {
		l.Phone = *p.Phone
	}
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.Status != nil {
		l.Status = *p.Status
	}
	l.UpdatedAt = s.tick()
	s.leads[id] = l
	return l, nil
}

func (s *MemStore) DeleteLead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[id]; !ok {
		return db.ErrNotFound
	}
	delete(s.leads, id)
	return nil
}

func (s *MemStore) AssignLead(_ context.Context, leadID, telecallerID string) (models.Lead, error) {
	return s.write(leadID, func(l models.Lead) bool { return !l.IsAssigned() }, &telecallerID)
}

func (s *MemStore) ReassignLead(_ context.Context, leadID, from, to string) (models.Lead, error) {
	return s.write(leadID, func(l models.Lead) bool { return l.IsAssigned() && *l.AssignedTo == from }, &to)
}

func (s *MemStore) UnassignLead(_ context.Context, leadID string) (models.Lead, error) {
	return s.write(leadID, func(l models.Lead) bool { return l.IsAssigned() && l.Status == models.StatusPending }, nil)
}

func (s *MemStore) write(leadID string, expect func(models.Lead) bool, owner *string) (models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWritesAfter >= 0 && s.writes >= s.FailWritesAfter {
		return models.Lead{}, ErrInjected
	}
	l, ok := s.leads[leadID]
	if !ok {
		return models.Lead{}, db.ErrNotFound
	}
	if !expect(l) {
		return models.Lead{}, db.ErrConflict
	}
	s.writes++
	now := s.tick()
	if owner == nil {
		l.AssignedTo, l.AssignedAt = nil, nil
	} else {
		id := *owner
		l.AssignedTo, l.AssignedAt = &id, &now
	}
	l.UpdatedAt = now
	s.leads[leadID] = l
	return l, nil
}

func (s *MemStore) phoneTaken(phone, except string) bool {
	for id, l := range s.leads {
		if id != except && l.Phone == phone {
			return true
		}
	}
	return false
}

func (s *MemStore) withCount(u models.User) models.User {
	u.AssignedCount = 0
	for _, l := range s.leads {
		if l.AssignedTo != nil && *l.AssignedTo == u.ID {
			u.AssignedCount++
		}
	}
	return u
}

func (s *MemStore) listUsers(keep func(models.User) bool) []models.User {
	out := []models.User{}
	for _, u := range s.users {
		if keep(u) {
			out = append(out, s.withCount(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username == out[j].Username {
			return out[i].ID < out[j].ID
		}
		return out[i].Username < out[j].Username
	})
	return out
}

func (s *MemStore) ListUsers(context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads {
		return nil, ErrInjected
	}
	return s.listUsers(func(models.User) bool { return true }), nil
}

func (s *MemStore) ListTelecallers(context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads {
		return nil, ErrInjected
	}
	return s.listUsers(func(u models.User) bool { return u.UserType == models.RoleTeleCaller }), nil
}

func (s *MemStore) GetUser(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads {
		return models.User{}, ErrInjected
	}
	u, ok := s.users[id]
	if !ok {
		return models.User{}, db.ErrNotFound
	}
	return s.withCount(u), nil
}

func (s *MemStore) GetUserByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return s.withCount(u), nil
		}
	}
	return models.User{}, db.ErrNotFound
}

func (s *MemStore) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return db.ErrConflict
		}
	}
	u.CreatedAt = s.tick()
	s.users[u.ID] = *u
	return nil
}

func (s *MemStore) CreateFirstUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.users) > 0 {
		return db.ErrNotEmpty
	}
	u.CreatedAt = s.tick()
	s.users[u.ID] = *u
	return nil
}

func (s *MemStore) Stats(_ context.Context, since *time.Time) (models.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := models.Stats{ByStatus: map[models.Status]int{}, Telecallers: []models.TelecallerLoad{}}
	for _, l := range s.leads {
		if since != nil && l.CreatedAt.Before(*since) {
			continue
		}
		stats.Total++
		stats.ByStatus[l.Status]++
		if !l.IsAssigned() {
			stats.Unassigned++
		}
	}
	for _, u := range s.listUsers(func(u models.User) bool { return u.UserType == models.RoleTeleCaller }) {
		load := models.TelecallerLoad{ID: u.ID, Username: u.Username, Assigned: u.AssignedCount}
		for _, l := range s.leads {
			if l.AssignedTo != nil && *l.AssignedTo == u.ID && l.Status == models.StatusPending {
				load.Pending++
			}
		}
		stats.Telecallers = append(stats.Telecallers, load)
	}
	return stats, nil
}
