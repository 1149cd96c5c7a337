// Package session tracks in-flight conversations per chat, persisted
// periodically so a restart resumes mid-dialog exchanges.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/parcelwatch/parcelwatch/internal/model"
	"github.com/parcelwatch/parcelwatch/internal/store"
)

// Tracker is an in-memory map over the sessions store. Mutations stay in
// memory until Flush; Remove deletes write-through.
type Tracker struct {
	mu       sync.Mutex
	store    store.Sessions
	sessions map[int64]*model.ChatSession
	now      func() time.Time
}

func NewTracker(s store.Sessions) *Tracker {
	return &Tracker{
		store:    s,
		sessions: make(map[int64]*model.ChatSession),
		now:      time.Now,
	}
}

// Load restores persisted sessions, typically once at startup.
func (t *Tracker) Load(ctx context.Context) error {
	list, err := t.store.List(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range list {
		t.sessions[s.ChatIdentifier] = s
	}
	return nil
}

// AddMessage appends a message to the chat's session, creating the session
// when absent, and moves it to scope.
func (t *Tracker) AddMessage(chatID, userID int64, scope model.SessionScope, messageID int, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[chatID]
	if !ok {
		s = &model.ChatSession{ChatIdentifier: chatID, UserIdentifier: userID}
		t.sessions[chatID] = s
	}
	s.Scope = scope
	s.LastUpdateAt = t.now()
	s.Messages = append(s.Messages, model.SessionMessage{ID: messageID, Text: text})
}

// SetAttempt parks a pending sign-in attempt on the owner's chat session.
func (t *Tracker) SetAttempt(chatID, userID int64, scope model.SessionScope, attempting model.SecondaryUser) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[chatID]
	if !ok {
		s = &model.ChatSession{ChatIdentifier: chatID, UserIdentifier: userID}
		t.sessions[chatID] = s
	}
	s.Scope = scope
	s.LastUpdateAt = t.now()
	s.AttemptingUser = &attempting
}

// Get returns the live session for chatID, or nil.
func (t *Tracker) Get(chatID int64) *model.ChatSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[chatID]
}

// Messages returns the recorded messages for chatID.
func (t *Tracker) Messages(chatID int64) []model.SessionMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[chatID]
	if !ok {
		return nil
	}
	return append([]model.SessionMessage(nil), s.Messages...)
}

// Remove ends the conversation and deletes its persisted copy.
func (t *Tracker) Remove(ctx context.Context, chatID int64) error {
	t.mu.Lock()
	delete(t.sessions, chatID)
	t.mu.Unlock()
	return t.store.Delete(ctx, chatID)
}

// Flush persists every live session in one batch.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	list := make([]*model.ChatSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		cp := *s
		cp.Messages = append([]model.SessionMessage(nil), s.Messages...)
		list = append(list, &cp)
	}
	t.mu.Unlock()
	if len(list) == 0 {
		return nil
	}
	return t.store.UpsertBatch(ctx, list)
}
