package flows

import (
	"context"
	"strconv"
	"strings"

	"github.com/parcelwatch/parcelwatch/internal/bot"
	"github.com/parcelwatch/parcelwatch/internal/l10n"
	"github.com/parcelwatch/parcelwatch/internal/model"
)

// OnMessage routes a text message: commands dispatch directly, anything else
// advances the chat's conversation, if one is in flight.
func (f *Flows) OnMessage(ctx context.Context, msg *bot.IncomingMessage) error {
	f.dir.UpdateLanguageIfChanged(msg.From.ID, msg.From.LanguageCode)

	if strings.HasPrefix(msg.Text, "/") {
		_ = f.transport.SendTyping(ctx, msg.ChatID)
		return f.handleCommand(ctx, msg)
	}

	s := f.sessions.Get(msg.ChatID)
	if s == nil {
		return nil
	}
	_ = f.transport.SendTyping(ctx, msg.ChatID)
	switch s.Scope {
	case model.ScopeLogin:
		return f.ContinueLogin(ctx, msg)
	default:
		return nil
	}
}

func (f *Flows) handleCommand(ctx context.Context, msg *bot.IncomingMessage) error {
	// "/start@SomeBot arg" → "/start".
	command := strings.SplitN(strings.ReplaceAll(msg.Text, "@", " "), " ", 2)[0]
	switch command {
	case "/start":
		return f.Start(ctx, msg)
	case "/stop":
		return f.Stop(ctx, msg)
	case "/paquetes":
		return f.SendCurrentPackages(ctx, msg)
	default:
		return nil
	}
}

// OnCallback resolves a button press against the chat's pending session.
func (f *Flows) OnCallback(ctx context.Context, cb *bot.CallbackQuery) error {
	f.dir.UpdateLanguageIfChanged(cb.From.ID, cb.From.LanguageCode)

	s := f.sessions.Get(cb.Message.ChatID)
	if s == nil {
		return nil
	}
	switch {
	case s.Scope == model.ScopeLoginAttempt && s.AttemptingUser != nil:
		return f.AnswerLoginAttempt(ctx, cb, s.AttemptingUser)
	case s.Scope == model.ScopeStop:
		return f.AnswerStop(ctx, cb)
	default:
		return nil
	}
}

// OnInlineQuery answers with the requester's current packages matching the
// typed query, one article per package.
func (f *Flows) OnInlineQuery(ctx context.Context, q *bot.InlineQuery) error {
	f.dir.UpdateLanguageIfChanged(q.From.ID, q.From.LanguageCode)
	lang := langOf(q.From)

	pkgs, ok := f.portal.CurrentPackages(q.From.ID)
	if !ok {
		return f.transport.AnswerInlineQuery(ctx, q.ID, nil)
	}

	query := strings.ToLower(q.Query)
	var results []bot.InlineResult
	for _, p := range pkgs {
		if !matchesQuery(p, query) {
			continue
		}
		results = append(results, bot.InlineResult{
			ID:          p.Identifier,
			Title:       p.Description,
			Description: p.Status.Description + ", " + p.Status.Percentage + "\n" + formatWeightLine(lang, p),
			Text:        f.renderer.PackageCard(lang, p),
		})
	}
	return f.transport.AnswerInlineQuery(ctx, q.ID, results)
}

// SendCurrentPackages delivers the full current listing to the chat.
func (f *Flows) SendCurrentPackages(ctx context.Context, msg *bot.IncomingMessage) error {
	lang := langOf(msg.From)
	pkgs, ok := f.portal.CurrentPackages(msg.From.ID)
	if !ok {
		_, err := f.send(ctx, bot.SendOptions{
			ChatID:  msg.ChatID,
			Text:    l10n.T(lang, l10n.DontKnowYou),
			ReplyTo: msg.MessageID,
		})
		return err
	}
	return f.fanout.SendListing(ctx, msg.ChatID, lang, pkgs)
}

func matchesQuery(p model.Package, query string) bool {
	if query == "" {
		return true
	}
	haystack := strings.ToLower(p.Identifier + p.Description + p.Status.Description + p.Tracking)
	return strings.Contains(haystack, query)
}

func formatWeightLine(lang string, p model.Package) string {
	return strconv.FormatFloat(p.Weight, 'f', -1, 64) + " " + l10n.T(lang, l10n.Pounds)
}
