// Package storetest provides a mutex-guarded in-memory Store for unit tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parcelwatch/parcelwatch/internal/model"
	"github.com/parcelwatch/parcelwatch/internal/store"
)

// Store keeps everything in maps. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	users    map[int64]*model.LoggedUser
	packages map[string]model.Package
	sessions map[int64]*model.ChatSession
	history  []model.PackageHistory
}

func New() *Store {
	return &Store{
		users:    make(map[int64]*model.LoggedUser),
		packages: make(map[string]model.Package),
		sessions: make(map[int64]*model.ChatSession),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Users() store.Users       { return (*usersAPI)(s) }
func (s *Store) Packages() store.Packages { return (*packagesAPI)(s) }
func (s *Store) Sessions() store.Sessions { return (*sessionsAPI)(s) }
func (s *Store) History() store.History   { return (*historyAPI)(s) }

func (s *Store) HealthPing(context.Context) error { return nil }

// --- Users ---

type usersAPI Store

func (u *usersAPI) Create(_ context.Context, m *model.LoggedUser) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.users[m.Identifier]; ok {
		return model.ErrConflict
	}
	cp := *m
	u.users[m.Identifier] = &cp
	return nil
}

func (u *usersAPI) GetByIdentifier(_ context.Context, id int64) (*model.LoggedUser, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	m, ok := u.users[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (u *usersAPI) GetByUsername(_ context.Context, username string) (*model.LoggedUser, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, m := range u.users {
		if m.Username == username {
			cp := *m
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (u *usersAPI) OwnerOf(_ context.Context, secondaryID int64) (*model.LoggedUser, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, m := range u.users {
		for _, sec := range m.AuthorizedUsers {
			if sec.Identifier == secondaryID {
				cp := *m
				return &cp, nil
			}
		}
	}
	return nil, model.ErrNotFound
}

func (u *usersAPI) Exists(_ context.Context, id int64) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.users[id]; ok {
		return true, nil
	}
	for _, m := range u.users {
		for _, sec := range m.AuthorizedUsers {
			if sec.Identifier == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (u *usersAPI) List(_ context.Context) ([]*model.LoggedUser, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]*model.LoggedUser, 0, len(u.users))
	for _, m := range u.users {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (u *usersAPI) Update(_ context.Context, m *model.LoggedUser) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.users[m.Identifier]; !ok {
		return model.ErrNotFound
	}
	cp := *m
	u.users[m.Identifier] = &cp
	return nil
}

func (u *usersAPI) UpdateBatch(ctx context.Context, list []*model.LoggedUser) error {
	for _, m := range list {
		if err := u.Update(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (u *usersAPI) Delete(_ context.Context, id int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.users, id)
	return nil
}

func (u *usersAPI) SetAuthorized(_ context.Context, ownerID int64, sec model.SecondaryUser) error {
	return (*Store)(u).setMembership(ownerID, sec, true)
}

func (u *usersAPI) SetUnauthorized(_ context.Context, ownerID int64, sec model.SecondaryUser) error {
	return (*Store)(u).setMembership(ownerID, sec, false)
}

func (s *Store) setMembership(ownerID int64, sec model.SecondaryUser, authorized bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.users[ownerID]
	if !ok {
		return model.ErrNotFound
	}
	m.AuthorizedUsers = remove(m.AuthorizedUsers, sec.Identifier)
	m.UnauthorizedUsers = remove(m.UnauthorizedUsers, sec.Identifier)
	if authorized {
		m.AuthorizedUsers = append(m.AuthorizedUsers, sec)
	} else {
		m.UnauthorizedUsers = append(m.UnauthorizedUsers, sec)
	}
	return nil
}

func (u *usersAPI) RemoveAuthorized(_ context.Context, ownerID, secondaryID int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	m, ok := u.users[ownerID]
	if !ok {
		return model.ErrNotFound
	}
	m.AuthorizedUsers = remove(m.AuthorizedUsers, secondaryID)
	return nil
}

func remove(set []model.SecondaryUser, id int64) []model.SecondaryUser {
	out := set[:0]
	for _, s := range set {
		if s.Identifier != id {
			out = append(out, s)
		}
	}
	return out
}

// --- Packages ---

type packagesAPI Store

func (p *packagesAPI) UpsertBatch(_ context.Context, pkgs []model.Package) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().UTC()
	for _, pkg := range pkgs {
		pkg.UpdatedAt = now
		p.packages[pkg.Identifier] = pkg
	}
	return nil
}

func (p *packagesAPI) ApplyChanges(_ context.Context, pkgs []model.Package, records []model.PackageHistory) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().UTC()
	for _, pkg := range pkgs {
		pkg.UpdatedAt = now
		p.packages[pkg.Identifier] = pkg
	}
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		p.history = append(p.history, r)
	}
	return nil
}

func (p *packagesAPI) ListPending(_ context.Context) ([]model.Package, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Package
	for _, pkg := range p.packages {
		if pkg.Status.Description != model.StatusDelivered.Description {
			out = append(out, pkg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (p *packagesAPI) ListByUsername(_ context.Context, username string) ([]model.Package, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Package
	for _, pkg := range p.packages {
		if pkg.Username == username {
			out = append(out, pkg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (p *packagesAPI) DeleteByUsername(_ context.Context, username string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, pkg := range p.packages {
		if pkg.Username == username {
			delete(p.packages, id)
		}
	}
	return nil
}

// --- Sessions ---

type sessionsAPI Store

func (s *sessionsAPI) Upsert(_ context.Context, cs *model.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cs
	s.sessions[cs.ChatIdentifier] = &cp
	return nil
}

func (s *sessionsAPI) UpsertBatch(ctx context.Context, list []*model.ChatSession) error {
	for _, cs := range list {
		if err := s.Upsert(ctx, cs); err != nil {
			return err
		}
	}
	return nil
}

func (s *sessionsAPI) Get(_ context.Context, chatID int64) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[chatID]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *cs
	return &cp, nil
}

func (s *sessionsAPI) Delete(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, chatID)
	return nil
}

func (s *sessionsAPI) List(_ context.Context) ([]*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.ChatSession, 0, len(s.sessions))
	for _, cs := range s.sessions {
		cp := *cs
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatIdentifier < out[j].ChatIdentifier })
	return out, nil
}

// --- History ---

type historyAPI Store

func (h *historyAPI) Append(_ context.Context, records []model.PackageHistory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		h.history = append(h.history, r)
	}
	return nil
}

func (h *historyAPI) ListByPackage(_ context.Context, packageID string) ([]model.PackageHistory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []model.PackageHistory
	for _, r := range h.history {
		if r.PackageID == packageID {
			out = append(out, r)
		}
	}
	return out, nil
}
