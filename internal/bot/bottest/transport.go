// Package bottest provides a recording Transport fake for unit tests.
package bottest

import (
	"context"
	"sync"

	"github.com/parcelwatch/parcelwatch/internal/bot"
)

// Sent is one recorded SendMessage call.
type Sent struct {
	ChatID int64
	Text   string
	Opts   bot.SendOptions
}

// Transport records every outgoing call. Safe for concurrent use.
type Transport struct {
	mu      sync.Mutex
	nextID  int
	sent    []Sent
	typing  []int64
	edited  map[bot.MessageRef]string
	deleted []bot.MessageRef
	answers map[string][]bot.InlineResult

	// SendErr, when set, is returned by every SendMessage call.
	SendErr error
}

func New() *Transport {
	return &Transport{
		edited:  make(map[bot.MessageRef]string),
		answers: make(map[string][]bot.InlineResult),
	}
}

var _ bot.Transport = (*Transport)(nil)

func (t *Transport) SendMessage(_ context.Context, opts bot.SendOptions) (bot.MessageRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return bot.MessageRef{}, t.SendErr
	}
	t.nextID++
	t.sent = append(t.sent, Sent{ChatID: opts.ChatID, Text: opts.Text, Opts: opts})
	return bot.MessageRef{ChatID: opts.ChatID, MessageID: t.nextID}, nil
}

func (t *Transport) EditMessage(_ context.Context, ref bot.MessageRef, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.edited[ref] = text
	return nil
}

func (t *Transport) DeleteMessage(_ context.Context, ref bot.MessageRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleted = append(t.deleted, ref)
	return nil
}

func (t *Transport) SendTyping(_ context.Context, chatID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typing = append(t.typing, chatID)
	return nil
}

func (t *Transport) AnswerInlineQuery(_ context.Context, queryID string, results []bot.InlineResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answers[queryID] = results
	return nil
}

// Sent returns a copy of all recorded messages.
func (t *Transport) Messages() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// MessagesFor returns the texts sent to one chat, in order.
func (t *Transport) MessagesFor(chatID int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, s := range t.sent {
		if s.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

// TypingCount returns how many typing indicators went to chatID.
func (t *Transport) TypingCount(chatID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, id := range t.typing {
		if id == chatID {
			n++
		}
	}
	return n
}

// Answers returns the inline results recorded for queryID.
func (t *Transport) Answers(queryID string) []bot.InlineResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.answers[queryID]
}

// Deleted returns all recorded message deletions.
func (t *Transport) Deleted() []bot.MessageRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]bot.MessageRef(nil), t.deleted...)
}
