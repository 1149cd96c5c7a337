package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler consumes routed updates. Errors are reported, not fatal.
type Handler interface {
	OnMessage(ctx context.Context, msg *IncomingMessage) error
	OnCallback(ctx context.Context, cb *CallbackQuery) error
	OnInlineQuery(ctx context.Context, q *InlineQuery) error
}

// Dispatcher long-polls the update source and hands each update to the
// handler. Updates for the same chat run strictly in order; different chats
// run concurrently.
type Dispatcher struct {
	source   UpdateSource
	handler  Handler
	reporter *ErrorReporter
	log      zerolog.Logger

	mu    sync.Mutex
	chats map[int64]*sync.Mutex
}

func NewDispatcher(source UpdateSource, transport Transport, handler Handler, errorChannel int64, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		source:   source,
		handler:  handler,
		reporter: NewErrorReporter(transport, errorChannel, log),
		log:      log.With().Str("component", "dispatcher").Logger(),
		chats:    make(map[int64]*sync.Mutex),
	}
}

// Reporter exposes the dispatcher's error channel path so other components,
// like the poll engine, can report through the same pipe.
func (d *Dispatcher) Reporter() *ErrorReporter { return d.reporter }

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info().Msg("dispatcher started")
	offset := 0
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatcher stopped")
			return ctx.Err()
		default:
		}

		updates, err := d.source.Updates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Warn().Err(err).Msg("poll failed")
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, u := range updates {
			if u.ID >= offset {
				offset = u.ID + 1
			}
			go d.dispatch(ctx, u)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, u Update) {
	defer func() {
		if r := recover(); r != nil {
			d.reporter.Report(ctx, fmt.Errorf("panic handling update %d: %v", u.ID, r))
		}
	}()

	var err error
	switch {
	case u.Message != nil:
		unlock := d.lockChat(u.Message.ChatID)
		defer unlock()
		err = d.handler.OnMessage(ctx, u.Message)
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		unlock := d.lockChat(u.CallbackQuery.Message.ChatID)
		defer unlock()
		err = d.handler.OnCallback(ctx, u.CallbackQuery)
	case u.InlineQuery != nil:
		err = d.handler.OnInlineQuery(ctx, u.InlineQuery)
	}
	if err != nil {
		d.reporter.Report(ctx, err)
	}
}

// lockChat serializes conversation handling per chat so a session cannot be
// advanced by two messages at once.
func (d *Dispatcher) lockChat(chatID int64) func() {
	d.mu.Lock()
	m, ok := d.chats[chatID]
	if !ok {
		m = &sync.Mutex{}
		d.chats[chatID] = m
	}
	d.mu.Unlock()
	m.Lock()
	return m.Unlock
}
