package flows

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelwatch/parcelwatch/internal/bot"
	"github.com/parcelwatch/parcelwatch/internal/bot/bottest"
	"github.com/parcelwatch/parcelwatch/internal/directory"
	"github.com/parcelwatch/parcelwatch/internal/model"
	"github.com/parcelwatch/parcelwatch/internal/notify"
	"github.com/parcelwatch/parcelwatch/internal/session"
	"github.com/parcelwatch/parcelwatch/internal/store/storetest"
	"github.com/parcelwatch/parcelwatch/internal/vault"
)

type fakePortal struct {
	valid     bool
	packages  map[int64][]model.Package
	fetched   []model.Package
	forgotten []string
}

func (p *fakePortal) TestCredentials(context.Context, string, string) (bool, error) {
	return p.valid, nil
}

func (p *fakePortal) LoginAndFetch(context.Context, string, string) ([]model.Package, error) {
	return p.fetched, nil
}

func (p *fakePortal) CurrentPackages(id int64) ([]model.Package, bool) {
	pkgs, ok := p.packages[id]
	return pkgs, ok
}

func (p *fakePortal) Forget(username string) { p.forgotten = append(p.forgotten, username) }

type fixture struct {
	flows     *Flows
	store     *storetest.Store
	vault     *vault.Vault
	dir       *directory.Directory
	sessions  *session.Tracker
	portal    *fakePortal
	transport *bottest.Transport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.New()
	v, err := vault.New(t.TempDir(), "test-passphrase")
	require.NoError(t, err)
	dir := directory.New(st.Users())
	require.NoError(t, dir.Load(context.Background()))
	sessions := session.NewTracker(st.Sessions())
	portal := &fakePortal{valid: true, packages: map[int64][]model.Package{}}
	transport := bottest.New()
	renderer := notify.NewRenderer(100)
	fanout := notify.NewFanout(transport, renderer, 4096, 0, zerolog.Nop())

	return &fixture{
		flows:     New(transport, st, v, dir, sessions, portal, fanout, renderer, time.Duration(0), zerolog.Nop()),
		store:     st,
		vault:     v,
		dir:       dir,
		sessions:  sessions,
		portal:    portal,
		transport: transport,
	}
}

func msg(chatID, userID int64, text string) *bot.IncomingMessage {
	return &bot.IncomingMessage{
		MessageID: int(chatID*1000) + len(text),
		ChatID:    chatID,
		From:      bot.User{ID: userID, FirstName: "Ana", Username: "ana_tg", LanguageCode: "es"},
		Text:      text,
	}
}

func (fx *fixture) registerOwner(t *testing.T, id, chatID int64, username string) *model.LoggedUser {
	t.Helper()
	cipher, salt, err := fx.vault.Encrypt("portal-pass")
	require.NoError(t, err)
	owner := &model.LoggedUser{
		Identifier: id, ChatIdentifier: chatID, FirstName: "Ana", LanguageCode: "es",
		Username: username, Password: cipher, Salt: salt,
	}
	require.NoError(t, fx.store.Users().Create(context.Background(), owner))
	fx.dir.AddPrimary(owner)
	return owner
}

func TestStartOpensLoginSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.flows.OnMessage(ctx, msg(10, 1, "/start")))

	msgs := fx.transport.MessagesFor(10)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "Flypack")
	assert.Contains(t, msgs[1], "usuario y contraseña")

	s := fx.sessions.Get(10)
	require.NotNil(t, s)
	assert.Equal(t, model.ScopeLogin, s.Scope)
}

func TestStartRepliesDejaVuToKnownUser(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.registerOwner(t, 1, 10, "flyacct")

	require.NoError(t, fx.flows.OnMessage(ctx, msg(10, 1, "/start")))

	msgs := fx.transport.MessagesFor(10)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Déjà vu")
	assert.Nil(t, fx.sessions.Get(10))
}

func TestContinueLoginRepromptsWithoutComma(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.flows.OnMessage(ctx, msg(10, 1, "/start")))
	require.NoError(t, fx.flows.OnMessage(ctx, msg(10, 1, "alice")))

	msgs := fx.transport.MessagesFor(10)
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[2], "utilizando una coma")

	// The session survives for the next try.
	s := fx.sessions.Get(10)
	require.NotNil(t, s)
	assert.Equal(t, model.ScopeLogin, s.Scope)
}

func TestContinueLoginRepromptsOnBadCredentials(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.portal.valid = false

	require.NoError(t, fx.flows.OnMessage(ctx, msg(10, 1, "/start")))
	require.NoError(t, fx.flows.OnMessage(ctx, msg(10, 1, "flyacct, wrongpw")))

	msgs := fx.transport.MessagesFor(10)
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[2], "incorrectos")
	require.NotNil(t, fx.sessions.Get(10))
}

func TestContinueLoginRegistersNewUser(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.portal.fetched = []model.Package{{
		Identifier: "p1", Username: "flyacct", Tracking: "TRK1",
		Status: model.PackageStatus{Description: "Recibido", Percentage: "30%"},
	}}

	require.NoError(t, fx.flows.OnMessage(ctx, msg(10, 1, "/start")))
	require.NoError(t, fx.flows.OnMessage(ctx, msg(10, 1, "flyacct, s3cret")))

	user, err := fx.store.Users().GetByIdentifier(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "flyacct", user.Username)
	assert.Equal(t, int64(10), user.ChatIdentifier)

	// The stored password round-trips through the vault.
	pw, err := fx.vault.Decrypt(user.Password, user.Salt)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)

	// The credential exchange is wiped from the chat.
	assert.NotEmpty(t, fx.transport.Deleted())
	assert.Nil(t, fx.sessions.Get(10))

	msgs := fx.transport.MessagesFor(10)
	require.NotEmpty(t, msgs)
	joined := strings.Join(msgs, "\n---\n")
	assert.Contains(t, joined, "¡Hola Ana!")
	assert.Contains(t, joined, "TRK1")
}

func TestContinueLoginDuplicateUsernameParksApproval(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.registerOwner(t, 1, 10, "flyacct")

	intruder := &bot.IncomingMessage{
		MessageID: 5001, ChatID: 20,
		From: bot.User{ID: 2, FirstName: "Bo", Username: "bo_tg", LanguageCode: "en"},
		Text: "/start",
	}
	require.NoError(t, fx.flows.OnMessage(ctx, intruder))
	intruder2 := *intruder
	intruder2.MessageID = 5002
	intruder2.Text = "flyacct, s3cret"
	require.NoError(t, fx.flows.OnMessage(ctx, &intruder2))

	// No second account was created.
	_, err := fx.store.Users().GetByIdentifier(ctx, 2)
	assert.ErrorIs(t, err, model.ErrNotFound)

	// The owner got the approval request with buttons.
	ownerMsgs := fx.transport.Messages()
	var request *bottest.Sent
	for i := range ownerMsgs {
		if ownerMsgs[i].ChatID == 10 {
			request = &ownerMsgs[i]
		}
	}
	require.NotNil(t, request)
	assert.Contains(t, request.Text, "@bo_tg")
	require.NotEmpty(t, request.Opts.Buttons)

	// The owner's session carries the attempt.
	s := fx.sessions.Get(10)
	require.NotNil(t, s)
	assert.Equal(t, model.ScopeLoginAttempt, s.Scope)
	require.NotNil(t, s.AttemptingUser)
	assert.Equal(t, int64(2), s.AttemptingUser.Identifier)

	// The requester was told to wait, in their own language.
	reqMsgs := fx.transport.MessagesFor(20)
	assert.Contains(t, reqMsgs[len(reqMsgs)-1], "already signed in")
}

func TestPendingApprovalParksRequesterChat(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.registerOwner(t, 1, 10, "flyacct")

	start := &bot.IncomingMessage{
		MessageID: 5001, ChatID: 20,
		From: bot.User{ID: 2, FirstName: "Bo", Username: "bo_tg", LanguageCode: "en"},
		Text: "/start",
	}
	require.NoError(t, fx.flows.OnMessage(ctx, start))
	creds := *start
	creds.MessageID = 5002
	creds.Text = "flyacct, s3cret"
	require.NoError(t, fx.flows.OnMessage(ctx, &creds))

	s := fx.sessions.Get(20)
	require.NotNil(t, s, "requester chat is parked while the owner decides")
	assert.Equal(t, model.ScopeLoginAttempt, s.Scope)

	// /start mid-decision gets the déjà-vu reply, not a fresh login.
	again := *start
	again.MessageID = 5003
	require.NoError(t, fx.flows.OnMessage(ctx, &again))
	reqMsgs := fx.transport.MessagesFor(20)
	assert.Contains(t, reqMsgs[len(reqMsgs)-1], "Déjà vu")

	// The verdict clears both the owner's and the requester's chat.
	require.NoError(t, fx.flows.OnCallback(ctx, approvalCallback(fx, "allow")))
	assert.Nil(t, fx.sessions.Get(10))
	assert.Nil(t, fx.sessions.Get(20))
}

func approvalCallback(fx *fixture, data string) *bot.CallbackQuery {
	return &bot.CallbackQuery{
		ID:   "cb1",
		From: bot.User{ID: 1, FirstName: "Ana", LanguageCode: "es"},
		Message: &bot.IncomingMessage{
			MessageID: 900, ChatID: 10, Text: "Hey Ana, ...",
		},
		Data: data,
	}
}

func setupPendingAttempt(t *testing.T, fx *fixture) {
	t.Helper()
	fx.registerOwner(t, 1, 10, "flyacct")
	fx.sessions.SetAttempt(10, 1, model.ScopeLoginAttempt, model.SecondaryUser{
		Identifier: 2, ChatIdentifier: 20, FirstName: "Bo", LanguageCode: "en",
	})
	fx.portal.packages[1] = []model.Package{{
		Identifier: "p1", Username: "flyacct", Tracking: "TRK1",
		Status: model.PackageStatus{Description: "Recibido", Percentage: "30%"},
	}}
}

func TestAnswerLoginAttemptAllow(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	setupPendingAttempt(t, fx)

	require.NoError(t, fx.flows.OnCallback(ctx, approvalCallback(fx, "allow")))

	owner, err := fx.store.Users().GetByIdentifier(ctx, 1)
	require.NoError(t, err)
	require.Len(t, owner.AuthorizedUsers, 1)
	assert.Equal(t, int64(2), owner.AuthorizedUsers[0].Identifier)
	assert.Empty(t, owner.UnauthorizedUsers)

	// The approved user hears the good news and gets the current listing.
	secMsgs := fx.transport.MessagesFor(20)
	joined := strings.Join(secMsgs, "\n---\n")
	assert.Contains(t, joined, "approved")
	assert.Contains(t, joined, "TRK1")

	assert.Nil(t, fx.sessions.Get(10))
}

func TestAnswerLoginAttemptDeny(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	setupPendingAttempt(t, fx)

	require.NoError(t, fx.flows.OnCallback(ctx, approvalCallback(fx, "deny")))

	owner, err := fx.store.Users().GetByIdentifier(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, owner.AuthorizedUsers)
	require.Len(t, owner.UnauthorizedUsers, 1)
	assert.Equal(t, int64(2), owner.UnauthorizedUsers[0].Identifier)

	// Owner is warned to rotate the password; requester learns the outcome.
	assert.Contains(t, strings.Join(fx.transport.MessagesFor(10), "\n"), "contraseña")
	secMsgs := fx.transport.MessagesFor(20)
	require.Len(t, secMsgs, 1)
	assert.Contains(t, secMsgs[0], "not been approved")
}

func TestAnswerLoginAttemptSurvivesClientLanguageChange(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	setupPendingAttempt(t, fx)

	// The buttons were rendered for a Spanish owner; the press arrives from a
	// client that switched to English. The verdict must still read as Allow.
	cb := &bot.CallbackQuery{
		ID:   "cb1",
		From: bot.User{ID: 1, FirstName: "Ana", LanguageCode: "en"},
		Message: &bot.IncomingMessage{
			MessageID: 900, ChatID: 10, Text: "Hey Ana, ...",
		},
		Data: "allow",
	}
	require.NoError(t, fx.flows.OnCallback(ctx, cb))

	owner, err := fx.store.Users().GetByIdentifier(ctx, 1)
	require.NoError(t, err)
	require.Len(t, owner.AuthorizedUsers, 1)
	assert.Equal(t, int64(2), owner.AuthorizedUsers[0].Identifier)
	assert.Empty(t, owner.UnauthorizedUsers)
}

func TestAnswerLoginAttemptIgnoresUnknownData(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	setupPendingAttempt(t, fx)

	// A localized payload from a stale keyboard decides nothing.
	require.NoError(t, fx.flows.OnCallback(ctx, approvalCallback(fx, "permitir")))

	owner, err := fx.store.Users().GetByIdentifier(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, owner.AuthorizedUsers)
	assert.Empty(t, owner.UnauthorizedUsers)

	s := fx.sessions.Get(10)
	require.NotNil(t, s, "the attempt stays pending")
	require.NotNil(t, s.AttemptingUser)
}

func TestStopAnsweredNoOnlyClearsSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.registerOwner(t, 1, 10, "flyacct")

	require.NoError(t, fx.flows.OnMessage(ctx, msg(10, 1, "/stop")))
	s := fx.sessions.Get(10)
	require.NotNil(t, s)
	assert.Equal(t, model.ScopeStop, s.Scope)

	cb := &bot.CallbackQuery{
		ID: "cb1", From: bot.User{ID: 1, LanguageCode: "es"},
		Message: &bot.IncomingMessage{MessageID: 901, ChatID: 10, Text: "¿Estás seguro...?"},
		Data:    "no",
	}
	require.NoError(t, fx.flows.OnCallback(ctx, cb))

	assert.Nil(t, fx.sessions.Get(10))
	_, err := fx.store.Users().GetByIdentifier(ctx, 1)
	assert.NoError(t, err, "account survives a 'no'")
}

func TestAnswerStopIgnoresUnknownData(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.registerOwner(t, 1, 10, "flyacct")

	require.NoError(t, fx.flows.OnMessage(ctx, msg(10, 1, "/stop")))

	// A stale localized payload neither confirms nor cancels.
	cb := &bot.CallbackQuery{
		ID: "cb1", From: bot.User{ID: 1, LanguageCode: "es"},
		Message: &bot.IncomingMessage{MessageID: 901, ChatID: 10, Text: "¿Estás seguro...?"},
		Data:    "si",
	}
	require.NoError(t, fx.flows.OnCallback(ctx, cb))

	s := fx.sessions.Get(10)
	require.NotNil(t, s, "confirmation stays pending")
	assert.Equal(t, model.ScopeStop, s.Scope)
	_, err := fx.store.Users().GetByIdentifier(ctx, 1)
	assert.NoError(t, err)
}

func TestStopPrimaryCascades(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	owner := fx.registerOwner(t, 1, 10, "flyacct")
	require.NoError(t, fx.store.Users().SetAuthorized(ctx, 1, model.SecondaryUser{
		Identifier: 2, ChatIdentifier: 20, FirstName: "Bo", LanguageCode: "en",
	}))
	require.NoError(t, fx.store.Packages().UpsertBatch(ctx, []model.Package{
		{Identifier: "p1", Username: owner.Username, Tracking: "TRK1"},
	}))
	require.NoError(t, fx.dir.Load(ctx))

	require.NoError(t, fx.flows.OnMessage(ctx, msg(10, 1, "/stop")))
	cb := &bot.CallbackQuery{
		ID: "cb1", From: bot.User{ID: 1, LanguageCode: "es"},
		Message: &bot.IncomingMessage{MessageID: 901, ChatID: 10, Text: "¿Estás seguro...?"},
		Data:    "yes",
	}
	require.NoError(t, fx.flows.OnCallback(ctx, cb))

	_, err := fx.store.Users().GetByIdentifier(ctx, 1)
	assert.ErrorIs(t, err, model.ErrNotFound)
	pkgs, err := fx.store.Packages().ListByUsername(ctx, "flyacct")
	require.NoError(t, err)
	assert.Empty(t, pkgs)
	assert.Equal(t, []string{"flyacct"}, fx.portal.forgotten)

	// The secondary learns access ended.
	secMsgs := fx.transport.MessagesFor(20)
	require.Len(t, secMsgs, 1)
	assert.Contains(t, secMsgs[0], "FLY-flyacct")
}

func TestStopSecondaryOnlyDropsDelegation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.registerOwner(t, 1, 10, "flyacct")
	require.NoError(t, fx.store.Users().SetAuthorized(ctx, 1, model.SecondaryUser{
		Identifier: 2, ChatIdentifier: 20, FirstName: "Bo", LanguageCode: "en",
	}))
	require.NoError(t, fx.dir.Load(ctx))

	secondaryStop := &bot.IncomingMessage{
		MessageID: 5100, ChatID: 20,
		From: bot.User{ID: 2, FirstName: "Bo", LanguageCode: "en"},
		Text: "/stop",
	}
	require.NoError(t, fx.flows.OnMessage(ctx, secondaryStop))
	cb := &bot.CallbackQuery{
		ID: "cb2", From: bot.User{ID: 2, LanguageCode: "en"},
		Message: &bot.IncomingMessage{MessageID: 902, ChatID: 20, Text: "Are you sure...?"},
		Data:    "yes",
	}
	require.NoError(t, fx.flows.OnCallback(ctx, cb))

	owner, err := fx.store.Users().GetByIdentifier(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, owner.AuthorizedUsers, "secondary removed from the owner's set")
	assert.Empty(t, fx.portal.forgotten, "owner keeps polling")
}

func TestPasswordUpdateForOwnAccount(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.registerOwner(t, 1, 10, "flyacct")
	// Clear the déjà-vu gate by opening the session directly.
	fx.sessions.AddMessage(10, 1, model.ScopeLogin, 100, "")

	require.NoError(t, fx.flows.OnMessage(ctx, msg(10, 1, "flyacct, newpass")))

	user, err := fx.store.Users().GetByIdentifier(ctx, 1)
	require.NoError(t, err)
	pw, err := fx.vault.Decrypt(user.Password, user.Salt)
	require.NoError(t, err)
	assert.Equal(t, "newpass", pw)

	msgs := fx.transport.MessagesFor(10)
	assert.Contains(t, msgs[len(msgs)-1], "actualizada")
}

func TestInlineQueryFiltersPackages(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.portal.packages[1] = []model.Package{
		{Identifier: "p1", Description: "Un libro", Tracking: "TRK1", Status: model.PackageStatus{Description: "Recibido", Percentage: "30%"}},
		{Identifier: "p2", Description: "Zapatos", Tracking: "TRK2", Status: model.PackageStatus{Description: "En tránsito", Percentage: "50%"}},
	}

	q := &bot.InlineQuery{ID: "q1", From: bot.User{ID: 1, LanguageCode: "es"}, Query: "libro"}
	require.NoError(t, fx.flows.OnInlineQuery(ctx, q))

	results := fx.transport.Answers("q1")
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].ID)
	assert.Contains(t, results[0].Text, "TRK1")

	// Unknown users get an empty answer, not an error.
	q2 := &bot.InlineQuery{ID: "q2", From: bot.User{ID: 9}, Query: ""}
	require.NoError(t, fx.flows.OnInlineQuery(ctx, q2))
	assert.Empty(t, fx.transport.Answers("q2"))
}
