package flows

import (
	"context"
	"errors"
	"strings"

	"github.com/parcelwatch/parcelwatch/internal/bot"
	"github.com/parcelwatch/parcelwatch/internal/l10n"
	"github.com/parcelwatch/parcelwatch/internal/model"
)

// Callback payloads stay language neutral; the pressing user's client
// language can differ from the one the buttons were rendered in, and the
// captions are localized separately.
const (
	callbackAllow = "allow"
	callbackDeny  = "deny"
	callbackYes   = "yes"
	callbackNo    = "no"
)

// Start greets a new user and opens a login session. Users the bot already
// knows, or chats with a conversation in flight, get a déjà-vu reply instead.
func (f *Flows) Start(ctx context.Context, msg *bot.IncomingMessage) error {
	lang := langOf(msg.From)
	_ = f.transport.SendTyping(ctx, msg.ChatID)

	exists, err := f.store.Users().Exists(ctx, msg.From.ID)
	if err != nil {
		return err
	}
	if exists || f.sessions.Get(msg.ChatID) != nil {
		_, err := f.send(ctx, bot.SendOptions{
			ChatID:  msg.ChatID,
			Text:    l10n.T(lang, l10n.WeHaveAlreadyMet),
			ReplyTo: msg.MessageID,
		})
		return err
	}

	if _, err := f.send(ctx, bot.SendOptions{ChatID: msg.ChatID, Text: l10n.T(lang, l10n.Welcome)}); err != nil {
		return err
	}
	f.wait(ctx)

	sent, err := f.send(ctx, bot.SendOptions{
		ChatID:      msg.ChatID,
		Text:        l10n.T(lang, l10n.SendCredentials),
		ForceReply:  true,
		Placeholder: l10n.T(lang, l10n.CredentialsPlaceholder),
	})
	if err != nil {
		return err
	}
	f.sessions.AddMessage(msg.ChatID, msg.From.ID, model.ScopeLogin, sent.MessageID, "")
	return nil
}

// ContinueLogin consumes the "username, password" reply. Malformed input and
// rejected credentials re-prompt inside the same session; a username owned by
// another account parks an approval request on its owner instead of
// registering.
func (f *Flows) ContinueLogin(ctx context.Context, msg *bot.IncomingMessage) error {
	lang := langOf(msg.From)
	f.sessions.AddMessage(msg.ChatID, msg.From.ID, model.ScopeLogin, msg.MessageID, msg.Text)

	username, password, ok := splitCredentials(msg.Text)
	if !ok {
		return f.reprompt(ctx, msg, l10n.T(lang, l10n.SendCredentialsAgain))
	}

	valid, err := f.portal.TestCredentials(ctx, username, password)
	if err != nil {
		return err
	}
	if !valid {
		return f.reprompt(ctx, msg, l10n.T(lang, l10n.WrongCredentials))
	}

	// Credentials checked out; the exchange is no longer needed in the chat.
	for _, m := range f.sessions.Messages(msg.ChatID) {
		_ = f.transport.DeleteMessage(ctx, bot.MessageRef{ChatID: msg.ChatID, MessageID: m.ID})
	}
	if err := f.sessions.Remove(ctx, msg.ChatID); err != nil {
		return err
	}
	_ = f.transport.SendTyping(ctx, msg.ChatID)

	owner, err := f.store.Users().GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	if owner != nil {
		if owner.Identifier == msg.From.ID {
			return f.updatePassword(ctx, owner, password, msg)
		}
		if !owner.IsAuthorized(msg.From.ID) {
			return f.requestLoginApproval(ctx, owner, msg)
		}
		// Already an authorized secondary of that account.
		_, err := f.send(ctx, bot.SendOptions{ChatID: msg.ChatID, Text: l10n.T(lang, l10n.WeHaveAlreadyMet)})
		return err
	}

	cipher, salt, err := f.vault.Encrypt(password)
	if err != nil {
		return err
	}
	user := &model.LoggedUser{
		Identifier:     msg.From.ID,
		ChatIdentifier: msg.ChatID,
		FirstName:      msg.From.FirstName,
		LanguageCode:   lang,
		Username:       username,
		Password:       cipher,
		Salt:           salt,
	}
	if err := f.store.Users().Create(ctx, user); err != nil {
		return err
	}
	f.dir.AddPrimary(user)

	if _, err := f.send(ctx, bot.SendOptions{
		ChatID: msg.ChatID,
		Text:   l10n.T(lang, l10n.LoginWelcome, msg.From.FirstName),
	}); err != nil {
		return err
	}

	pkgs, err := f.portal.LoginAndFetch(ctx, username, password)
	if err != nil {
		f.log.Warn().Err(err).Str("account", username).Msg("initial fetch failed")
		return nil
	}
	return f.fanout.SendListing(ctx, msg.ChatID, lang, pkgs)
}

// updatePassword re-encrypts the credentials of an account that signed in
// again with its own username.
func (f *Flows) updatePassword(ctx context.Context, owner *model.LoggedUser, password string, msg *bot.IncomingMessage) error {
	cipher, salt, err := f.vault.Encrypt(password)
	if err != nil {
		return err
	}
	owner.Password = cipher
	owner.Salt = salt
	owner.ChatIdentifier = msg.ChatID
	if err := f.store.Users().Update(ctx, owner); err != nil {
		return err
	}
	f.dir.AddPrimary(owner)
	_, err = f.send(ctx, bot.SendOptions{
		ChatID: msg.ChatID,
		Text:   l10n.T(langOf(msg.From), l10n.UpdatedPassword),
	})
	return err
}

// requestLoginApproval asks the account owner whether the requester may share
// their notifications, and tells the requester to wait.
func (f *Flows) requestLoginApproval(ctx context.Context, owner *model.LoggedUser, msg *bot.IncomingMessage) error {
	attempting := model.SecondaryUser{
		Identifier:     msg.From.ID,
		ChatIdentifier: msg.ChatID,
		FirstName:      msg.From.FirstName,
		LanguageCode:   langOf(msg.From),
	}
	f.sessions.SetAttempt(owner.ChatIdentifier, owner.Identifier, model.ScopeLoginAttempt, attempting)

	ownerLang := owner.LanguageCode
	mention := "@" + msg.From.Username
	if msg.From.Username == "" {
		mention = msg.From.FirstName
	}
	sent, err := f.send(ctx, bot.SendOptions{
		ChatID: owner.ChatIdentifier,
		Text:   l10n.T(ownerLang, l10n.LoginAttemptRequest, owner.FirstName, mention),
		Buttons: [][]bot.Button{{
			{Text: l10n.T(ownerLang, l10n.AllowText), Data: callbackAllow},
			{Text: l10n.T(ownerLang, l10n.DenyText), Data: callbackDeny},
		}},
	})
	if err != nil {
		return err
	}
	f.sessions.AddMessage(owner.ChatIdentifier, owner.Identifier, model.ScopeLoginAttempt, sent.MessageID, "")

	notice, err := f.send(ctx, bot.SendOptions{
		ChatID: msg.ChatID,
		Text:   l10n.T(langOf(msg.From), l10n.AlreadyLoggedInAccount),
	})
	if err != nil {
		return err
	}
	// Park the requester's chat too: /start while the owner decides gets the
	// déjà-vu reply, and the verdict clears both sessions.
	f.sessions.AddMessage(msg.ChatID, msg.From.ID, model.ScopeLoginAttempt, notice.MessageID, "")
	return nil
}

// AnswerLoginAttempt resolves an approval button press by the account owner.
// The decision lands the requester in exactly one of the two secondary sets.
// Payloads that are neither verdict leave the attempt pending.
func (f *Flows) AnswerLoginAttempt(ctx context.Context, cb *bot.CallbackQuery, attempting *model.SecondaryUser) error {
	var allowed bool
	switch cb.Data {
	case callbackAllow:
		allowed = true
	case callbackDeny:
		allowed = false
	default:
		return nil
	}

	ownerLang := langOf(cb.From)
	answer := l10n.T(ownerLang, l10n.DenyKeyword)
	if allowed {
		answer = l10n.T(ownerLang, l10n.AllowKeyword)
	}
	_ = f.transport.EditMessage(ctx,
		bot.MessageRef{ChatID: cb.Message.ChatID, MessageID: cb.Message.MessageID},
		l10n.T(ownerLang, l10n.LoginAttemptAnswered, cb.Message.Text, answer),
	)

	attemptingLang := attempting.LanguageCode

	if allowed {
		if err := f.store.Users().SetAuthorized(ctx, cb.From.ID, *attempting); err != nil {
			return err
		}
		f.dir.AddSecondary(cb.From.ID, *attempting)
		_, _ = f.send(ctx, bot.SendOptions{
			ChatID: attempting.ChatIdentifier,
			Text:   l10n.T(attemptingLang, l10n.LoginAttemptAllowed),
		})
	} else {
		if err := f.store.Users().SetUnauthorized(ctx, cb.From.ID, *attempting); err != nil {
			return err
		}
		_, _ = f.send(ctx, bot.SendOptions{
			ChatID: cb.Message.ChatID,
			Text:   l10n.T(ownerLang, l10n.ChangePasswordWarning),
		})
		_, _ = f.send(ctx, bot.SendOptions{
			ChatID: attempting.ChatIdentifier,
			Text:   l10n.T(attemptingLang, l10n.LoginAttemptDenied),
		})
	}

	_ = f.sessions.Remove(ctx, attempting.ChatIdentifier)
	if err := f.sessions.Remove(ctx, cb.Message.ChatID); err != nil {
		return err
	}
	if !allowed {
		return nil
	}

	pkgs, ok := f.portal.CurrentPackages(cb.From.ID)
	if !ok {
		return nil
	}
	return f.fanout.SendListing(ctx, attempting.ChatIdentifier, attemptingLang, pkgs)
}

func (f *Flows) reprompt(ctx context.Context, msg *bot.IncomingMessage, text string) error {
	sent, err := f.send(ctx, bot.SendOptions{
		ChatID:      msg.ChatID,
		Text:        text,
		ForceReply:  true,
		Placeholder: l10n.T(langOf(msg.From), l10n.CredentialsPlaceholder),
	})
	if err != nil {
		return err
	}
	f.sessions.AddMessage(msg.ChatID, msg.From.ID, model.ScopeLogin, sent.MessageID, "")
	return nil
}

// splitCredentials parses "username, password" on the first comma. Both
// parts must be non-empty after trimming.
func splitCredentials(text string) (username, password string, ok bool) {
	parts := strings.SplitN(text, ",", 2)
	if len(parts) < 2 {
		return "", "", false
	}
	username = strings.TrimSpace(parts[0])
	password = strings.TrimSpace(parts[1])
	if username == "" || password == "" {
		return "", "", false
	}
	return username, password, true
}

func langOf(u bot.User) string {
	if u.LanguageCode == "" {
		return l10n.DefaultLanguage
	}
	return u.LanguageCode
}
