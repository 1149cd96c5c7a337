package flows

import (
	"context"
	"errors"

	"github.com/parcelwatch/parcelwatch/internal/bot"
	"github.com/parcelwatch/parcelwatch/internal/l10n"
	"github.com/parcelwatch/parcelwatch/internal/model"
)

// Stop opens a yes/no confirmation gate before tearing anything down.
func (f *Flows) Stop(ctx context.Context, msg *bot.IncomingMessage) error {
	lang := langOf(msg.From)
	f.sessions.AddMessage(msg.ChatID, msg.From.ID, model.ScopeStop, msg.MessageID, msg.Text)

	sent, err := f.send(ctx, bot.SendOptions{
		ChatID: msg.ChatID,
		Text:   l10n.T(lang, l10n.StopConfirmation),
		Buttons: [][]bot.Button{{
			{Text: l10n.T(lang, l10n.YesText), Data: callbackYes},
			{Text: l10n.T(lang, l10n.NoText), Data: callbackNo},
		}},
	})
	if err != nil {
		return err
	}
	f.sessions.AddMessage(msg.ChatID, msg.From.ID, model.ScopeStop, sent.MessageID, "")
	return nil
}

// AnswerStop resolves the confirmation. A secondary user only loses their
// delegated access; the primary owner's removal cascades over the account,
// its packages and every authorized secondary. Payloads that are neither
// verdict keep the confirmation pending.
func (f *Flows) AnswerStop(ctx context.Context, cb *bot.CallbackQuery) error {
	var confirmed bool
	switch cb.Data {
	case callbackYes:
		confirmed = true
	case callbackNo:
		confirmed = false
	default:
		return nil
	}

	lang := langOf(cb.From)
	answer := l10n.T(lang, l10n.NoKeyword)
	if confirmed {
		answer = l10n.T(lang, l10n.YesKeyword)
	}
	_ = f.transport.EditMessage(ctx,
		bot.MessageRef{ChatID: cb.Message.ChatID, MessageID: cb.Message.MessageID},
		l10n.T(lang, l10n.LoginAttemptAnswered, cb.Message.Text, answer),
	)
	if err := f.sessions.Remove(ctx, cb.Message.ChatID); err != nil {
		return err
	}
	if !confirmed {
		return nil
	}

	if owner, err := f.store.Users().OwnerOf(ctx, cb.From.ID); err == nil {
		return f.stopSecondary(ctx, owner, cb, lang)
	} else if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	user, err := f.store.Users().GetByIdentifier(ctx, cb.From.ID)
	if err != nil {
		return err
	}
	return f.stopPrimary(ctx, user, cb, lang)
}

func (f *Flows) stopSecondary(ctx context.Context, owner *model.LoggedUser, cb *bot.CallbackQuery, lang string) error {
	if err := f.store.Users().RemoveAuthorized(ctx, owner.Identifier, cb.From.ID); err != nil {
		return err
	}
	f.dir.Remove(cb.From.ID)
	_, err := f.send(ctx, bot.SendOptions{
		ChatID: cb.Message.ChatID,
		Text:   l10n.T(lang, l10n.StoppedPrimary),
	})
	return err
}

func (f *Flows) stopPrimary(ctx context.Context, user *model.LoggedUser, cb *bot.CallbackQuery, lang string) error {
	if err := f.store.Users().Delete(ctx, user.Identifier); err != nil {
		return err
	}
	if err := f.store.Packages().DeleteByUsername(ctx, user.Username); err != nil {
		return err
	}
	f.dir.Remove(user.Identifier)
	f.portal.Forget(user.Username)

	if _, err := f.send(ctx, bot.SendOptions{
		ChatID: cb.Message.ChatID,
		Text:   l10n.T(lang, l10n.StoppedPrimary),
	}); err != nil {
		return err
	}

	if len(user.AuthorizedUsers) == 0 {
		return nil
	}
	_, _ = f.send(ctx, bot.SendOptions{
		ChatID: cb.Message.ChatID,
		Text:   l10n.T(lang, l10n.StoppedPrimaryFollowUp),
	})
	for _, s := range user.AuthorizedUsers {
		_, _ = f.send(ctx, bot.SendOptions{
			ChatID: s.ChatIdentifier,
			Text:   l10n.T(s.LanguageCode, l10n.StoppedSecondary, user.Username),
		})
	}
	return nil
}
