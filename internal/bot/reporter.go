package bot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrorReporter logs an operational failure and forwards it to the
// configured error channel. A channel id of 0 disables forwarding.
type ErrorReporter struct {
	transport    Transport
	errorChannel int64
	log          zerolog.Logger
}

func NewErrorReporter(transport Transport, errorChannel int64, log zerolog.Logger) *ErrorReporter {
	return &ErrorReporter{
		transport:    transport,
		errorChannel: errorChannel,
		log:          log.With().Str("component", "reporter").Logger(),
	}
}

func (r *ErrorReporter) Report(ctx context.Context, err error) {
	r.log.Error().Err(err).Msg("operational failure")
	if r.errorChannel == 0 {
		return
	}
	// Raw error text; Markdown parsing could reject it.
	_, sendErr := r.transport.SendMessage(ctx, SendOptions{
		ChatID:    r.errorChannel,
		Text:      fmt.Sprintf("⚠️ %v", err),
		ParseMode: "none",
	})
	if sendErr != nil {
		r.log.Error().Err(sendErr).Msg("cannot report to error channel")
	}
}
