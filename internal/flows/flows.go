// Package flows implements the bot's conversations: registration, sign-in
// approval for secondary users, account teardown and package queries.
package flows

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/parcelwatch/parcelwatch/internal/bot"
	"github.com/parcelwatch/parcelwatch/internal/directory"
	"github.com/parcelwatch/parcelwatch/internal/model"
	"github.com/parcelwatch/parcelwatch/internal/notify"
	"github.com/parcelwatch/parcelwatch/internal/session"
	"github.com/parcelwatch/parcelwatch/internal/store"
	"github.com/parcelwatch/parcelwatch/internal/vault"
)

// Portal is the slice of the sync engine the conversations need.
type Portal interface {
	TestCredentials(ctx context.Context, username, password string) (bool, error)
	LoginAndFetch(ctx context.Context, username, password string) ([]model.Package, error)
	CurrentPackages(id int64) ([]model.Package, bool)
	Forget(username string)
}

// Flows wires the conversation handlers to their collaborators.
type Flows struct {
	transport bot.Transport
	store     store.Store
	vault     *vault.Vault
	dir       *directory.Directory
	sessions  *session.Tracker
	portal    Portal
	fanout    *notify.Fanout
	renderer  *notify.Renderer
	pause     time.Duration
	log       zerolog.Logger
}

func New(
	transport bot.Transport,
	st store.Store,
	v *vault.Vault,
	dir *directory.Directory,
	sessions *session.Tracker,
	portal Portal,
	fanout *notify.Fanout,
	renderer *notify.Renderer,
	pause time.Duration,
	log zerolog.Logger,
) *Flows {
	return &Flows{
		transport: transport,
		store:     st,
		vault:     v,
		dir:       dir,
		sessions:  sessions,
		portal:    portal,
		fanout:    fanout,
		renderer:  renderer,
		pause:     pause,
		log:       log.With().Str("component", "flows").Logger(),
	}
}

func (f *Flows) send(ctx context.Context, opts bot.SendOptions) (bot.MessageRef, error) {
	ref, err := f.transport.SendMessage(ctx, opts)
	if err != nil {
		f.log.Error().Err(err).Int64("chat", opts.ChatID).Msg("send failed")
	}
	return ref, err
}

func (f *Flows) wait(ctx context.Context) {
	select {
	case <-time.After(f.pause):
	case <-ctx.Done():
	}
}
