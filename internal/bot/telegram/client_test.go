package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelwatch/parcelwatch/internal/bot"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("TOKEN", srv.URL, zerolog.Nop())
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestSendMessageDefaultsToMarkdown(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		got = decodeBody(t, r)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"chat":{"id":42}}}`))
	})

	ref, err := c.SendMessage(context.Background(), bot.SendOptions{ChatID: 42, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, bot.MessageRef{ChatID: 42, MessageID: 7}, ref)
	assert.Equal(t, "Markdown", got["parse_mode"])
	assert.NotContains(t, got, "reply_markup")
}

func TestSendMessagePlainModeOmitsParseMode(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeBody(t, r)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":1}}}`))
	})

	_, err := c.SendMessage(context.Background(), bot.SendOptions{ChatID: 1, Text: "x", ParseMode: "none"})
	require.NoError(t, err)
	assert.NotContains(t, got, "parse_mode")
}

func TestSendMessageRendersButtons(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeBody(t, r)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":1}}}`))
	})

	_, err := c.SendMessage(context.Background(), bot.SendOptions{
		ChatID:  1,
		Text:    "choose",
		Buttons: [][]bot.Button{{{Text: "Allow", Data: "allow"}, {Text: "Deny", Data: "deny"}}},
	})
	require.NoError(t, err)

	markup, ok := got["reply_markup"].(map[string]interface{})
	require.True(t, ok)
	rows, ok := markup["inline_keyboard"].([]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	row := rows[0].([]interface{})
	require.Len(t, row, 2)
	first := row[0].(map[string]interface{})
	assert.Equal(t, "Allow", first["text"])
	assert.Equal(t, "allow", first["callback_data"])
}

func TestSendMessageForceReply(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeBody(t, r)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":1}}}`))
	})

	_, err := c.SendMessage(context.Background(), bot.SendOptions{
		ChatID:      1,
		Text:        "credentials?",
		ForceReply:  true,
		Placeholder: "user, password",
	})
	require.NoError(t, err)

	markup, ok := got["reply_markup"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, markup["force_reply"])
	assert.Equal(t, "user, password", markup["input_field_placeholder"])
}

func TestSendMessageAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Forbidden: bot was blocked by the user"}`))
	})

	_, err := c.SendMessage(context.Background(), bot.SendOptions{ChatID: 1, Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestUpdatesConvertsAllKinds(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/getUpdates", r.URL.Path)
		got = decodeBody(t, r)
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":5,"from":{"id":1,"first_name":"Ana","username":"ana","language_code":"es"},"chat":{"id":100},"text":"/start"}},
			{"update_id":11,"callback_query":{"id":"cb1","from":{"id":2},"message":{"message_id":6,"chat":{"id":100}},"data":"allow"}},
			{"update_id":12,"inline_query":{"id":"q1","from":{"id":1},"query":"shoes"}}
		]}`))
	})

	updates, err := c.Updates(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, float64(10), got["offset"])

	msg := updates[0]
	require.NotNil(t, msg.Message)
	assert.Equal(t, 10, msg.ID)
	assert.Equal(t, int64(100), msg.Message.ChatID)
	assert.Equal(t, "es", msg.Message.From.LanguageCode)

	cb := updates[1]
	require.NotNil(t, cb.CallbackQuery)
	assert.Equal(t, "allow", cb.CallbackQuery.Data)
	require.NotNil(t, cb.CallbackQuery.Message)
	assert.Equal(t, int64(100), cb.CallbackQuery.Message.ChatID)

	q := updates[2]
	require.NotNil(t, q.InlineQuery)
	assert.Equal(t, "shoes", q.InlineQuery.Query)
}

func TestAnswerInlineQueryBuildsArticles(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeBody(t, r)
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	})

	err := c.AnswerInlineQuery(context.Background(), "q1", []bot.InlineResult{
		{ID: "p1", Title: "Shoes", Description: "In transit", Text: "*Shoes*"},
	})
	require.NoError(t, err)

	assert.Equal(t, "q1", got["inline_query_id"])
	results := got["results"].([]interface{})
	require.Len(t, results, 1)
	article := results[0].(map[string]interface{})
	assert.Equal(t, "article", article["type"])
	content := article["input_message_content"].(map[string]interface{})
	assert.Equal(t, "*Shoes*", content["message_text"])
}
