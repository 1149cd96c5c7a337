// Package directory caches logged users and their authorized secondaries in
// memory, backed by the user store. The sync engine and the conversation
// flows read it on every poll and every incoming message.
package directory

import (
	"context"
	"sync"

	"github.com/parcelwatch/parcelwatch/internal/l10n"
	"github.com/parcelwatch/parcelwatch/internal/model"
	"github.com/parcelwatch/parcelwatch/internal/notify"
	"github.com/parcelwatch/parcelwatch/internal/store"
)

// Roster pairs a primary account with its notification channel groups.
type Roster struct {
	User   *model.LoggedUser
	Groups []notify.ChannelGroup
}

// Directory is safe for concurrent use. Mutations touch only the cache;
// Flush writes the cached users back in one batch.
type Directory struct {
	mu        sync.RWMutex
	users     store.Users
	primaries map[int64]*model.LoggedUser
	secondary map[int64]model.SecondaryUser
	dirty     bool
}

func New(users store.Users) *Directory {
	return &Directory{
		users:     users,
		primaries: make(map[int64]*model.LoggedUser),
		secondary: make(map[int64]model.SecondaryUser),
	}
}

// Load replaces the cache with the store's contents.
func (d *Directory) Load(ctx context.Context) error {
	list, err := d.users.List(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.primaries = make(map[int64]*model.LoggedUser, len(list))
	d.secondary = make(map[int64]model.SecondaryUser)
	for _, u := range list {
		d.primaries[u.Identifier] = u
		for _, s := range u.AuthorizedUsers {
			d.secondary[s.Identifier] = s
		}
	}
	d.dirty = false
	return nil
}

// Primary returns the logged user that id resolves to: the account itself, or
// the account that authorized id as a secondary.
func (d *Directory) Primary(id int64) (*model.LoggedUser, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.primaries[id]; ok {
		return u, true
	}
	if _, ok := d.secondary[id]; ok {
		return d.ownerOfLocked(id)
	}
	return nil, false
}

// Owner returns the primary account whose authorized set contains id.
func (d *Directory) Owner(id int64) (*model.LoggedUser, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ownerOfLocked(id)
}

func (d *Directory) ownerOfLocked(id int64) (*model.LoggedUser, bool) {
	for _, u := range d.primaries {
		for _, s := range u.AuthorizedUsers {
			if s.Identifier == id {
				return u, true
			}
		}
	}
	return nil, false
}

// Rosters returns, per primary account, the chats to notify grouped by
// language. The primary's own chat is always included.
func (d *Directory) Rosters() []Roster {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Roster, 0, len(d.primaries))
	for _, u := range d.primaries {
		byLang := map[string][]int64{u.LanguageCode: {u.ChatIdentifier}}
		for _, s := range u.AuthorizedUsers {
			byLang[s.LanguageCode] = append(byLang[s.LanguageCode], s.ChatIdentifier)
		}
		groups := make([]notify.ChannelGroup, 0, len(byLang))
		for lang, chats := range byLang {
			groups = append(groups, notify.ChannelGroup{LanguageCode: lang, ChatIDs: chats})
		}
		out = append(out, Roster{User: u, Groups: groups})
	}
	return out
}

// LanguageFor returns the cached language for id, defaulting to English.
func (d *Directory) LanguageFor(id int64) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.primaries[id]; ok {
		return u.LanguageCode
	}
	if s, ok := d.secondary[id]; ok {
		return s.LanguageCode
	}
	return l10n.DefaultLanguage
}

// UpdateLanguageIfChanged records the language the chat platform reports for
// id when it differs from the cache. The write is deferred to Flush.
func (d *Directory) UpdateLanguageIfChanged(id int64, lang string) {
	if lang == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.primaries[id]; ok && u.LanguageCode != lang {
		u.LanguageCode = lang
		d.dirty = true
	}
	if s, ok := d.secondary[id]; ok && s.LanguageCode != lang {
		s.LanguageCode = lang
		d.secondary[id] = s
		if owner, ok := d.ownerOfLocked(id); ok {
			for i := range owner.AuthorizedUsers {
				if owner.AuthorizedUsers[i].Identifier == id {
					owner.AuthorizedUsers[i].LanguageCode = lang
				}
			}
			d.dirty = true
		}
	}
}

// AddPrimary caches a freshly logged-in account.
func (d *Directory) AddPrimary(u *model.LoggedUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.primaries[u.Identifier] = u
	for _, s := range u.AuthorizedUsers {
		d.secondary[s.Identifier] = s
	}
}

// AddSecondary caches an approved secondary under its owner.
func (d *Directory) AddSecondary(ownerID int64, s model.SecondaryUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.secondary[s.Identifier] = s
	owner, ok := d.primaries[ownerID]
	if !ok {
		return
	}
	for i := range owner.AuthorizedUsers {
		if owner.AuthorizedUsers[i].Identifier == s.Identifier {
			owner.AuthorizedUsers[i] = s
			return
		}
	}
	owner.AuthorizedUsers = append(owner.AuthorizedUsers, s)
}

// Remove drops id from the cache, as a primary or a secondary.
func (d *Directory) Remove(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.primaries[id]; ok {
		for _, s := range u.AuthorizedUsers {
			delete(d.secondary, s.Identifier)
		}
		delete(d.primaries, id)
		return
	}
	if _, ok := d.secondary[id]; ok {
		delete(d.secondary, id)
		if owner, found := d.ownerOfLocked(id); found {
			kept := owner.AuthorizedUsers[:0]
			for _, s := range owner.AuthorizedUsers {
				if s.Identifier != id {
					kept = append(kept, s)
				}
			}
			owner.AuthorizedUsers = kept
		}
	}
}

// Flush persists cached users when any deferred mutation is pending.
func (d *Directory) Flush(ctx context.Context) error {
	d.mu.Lock()
	if !d.dirty {
		d.mu.Unlock()
		return nil
	}
	list := make([]*model.LoggedUser, 0, len(d.primaries))
	for _, u := range d.primaries {
		cp := *u
		list = append(list, &cp)
	}
	d.mu.Unlock()

	if err := d.users.UpdateBatch(ctx, list); err != nil {
		return err
	}
	d.mu.Lock()
	d.dirty = false
	d.mu.Unlock()
	return nil
}
