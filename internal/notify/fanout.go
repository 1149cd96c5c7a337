package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/parcelwatch/parcelwatch/internal/bot"
	"github.com/parcelwatch/parcelwatch/internal/model"
)

// ChannelGroup is a set of chats sharing a language; the digest is rendered
// once per group.
type ChannelGroup struct {
	LanguageCode string
	ChatIDs      []int64
}

// Fanout delivers rendered digests over the chat transport, pacing
// consecutive chunks with a typing indicator.
type Fanout struct {
	transport bot.Transport
	renderer  *Renderer
	maxLen    int
	pause     time.Duration
	log       zerolog.Logger
}

func NewFanout(transport bot.Transport, renderer *Renderer, maxLen int, pause time.Duration, log zerolog.Logger) *Fanout {
	return &Fanout{
		transport: transport,
		renderer:  renderer,
		maxLen:    maxLen,
		pause:     pause,
		log:       log.With().Str("component", "fanout").Logger(),
	}
}

// DeliverChanges notifies every channel group about a poll diff. Only
// updates are announced; closed packages are persisted silently.
func (f *Fanout) DeliverChanges(ctx context.Context, groups []ChannelGroup, changes model.ChangeSet) {
	if len(changes.Updates) == 0 {
		return
	}
	for _, group := range groups {
		message := f.renderer.Digest(group.LanguageCode, changes.Updates, changes.Previous, true)
		for _, chatID := range group.ChatIDs {
			if err := f.sendChunks(ctx, chatID, message); err != nil {
				f.log.Error().Err(err).Int64("chat", chatID).Msg("failed to deliver update")
			}
		}
	}
}

// SendListing sends the full package listing (with delivery dates) to one chat.
func (f *Fanout) SendListing(ctx context.Context, chatID int64, lang string, pkgs []model.Package) error {
	message := f.renderer.Digest(lang, pkgs, nil, false)
	return f.sendChunks(ctx, chatID, message)
}

func (f *Fanout) sendChunks(ctx context.Context, chatID int64, message string) error {
	chunks := f.renderer.Split(message, f.maxLen)
	for i, chunk := range chunks {
		if _, err := f.transport.SendMessage(ctx, bot.SendOptions{ChatID: chatID, Text: chunk}); err != nil {
			return err
		}
		if i < len(chunks)-1 {
			if err := f.transport.SendTyping(ctx, chatID); err != nil {
				return err
			}
			select {
			case <-time.After(f.pause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
