// Package telegram implements the chat transport against the Telegram Bot
// API over HTTP.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/parcelwatch/parcelwatch/internal/bot"
)

const (
	defaultAPIURL  = "https://api.telegram.org"
	longPollWindow = 30 * time.Second
)

// Client talks to one bot token. Safe for concurrent use.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// New builds a client for token. apiURL overrides the public endpoint, for
// tests and self-hosted gateways; empty means api.telegram.org.
func New(token, apiURL string, log zerolog.Logger) *Client {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	c := resty.New().
		SetBaseURL(apiURL+"/bot"+token).
		SetHeader("Content-Type", "application/json").
		// Longer than the long-poll window so getUpdates can idle.
		SetTimeout(longPollWindow + 15*time.Second)
	return &Client{http: c, log: log.With().Str("component", "telegram").Logger()}
}

var (
	_ bot.Transport    = (*Client)(nil)
	_ bot.UpdateSource = (*Client)(nil)
)

// HealthPing verifies the token is valid and the API reachable.
func (c *Client) HealthPing(ctx context.Context) error {
	return c.call(ctx, "getMe", map[string]interface{}{}, nil)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

type apiUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
}

type apiChat struct {
	ID int64 `json:"id"`
}

type apiMessage struct {
	MessageID int     `json:"message_id"`
	From      apiUser `json:"from"`
	Chat      apiChat `json:"chat"`
	Text      string  `json:"text"`
}

type apiInlineQuery struct {
	ID    string  `json:"id"`
	From  apiUser `json:"from"`
	Query string  `json:"query"`
}

type apiCallbackQuery struct {
	ID      string      `json:"id"`
	From    apiUser     `json:"from"`
	Message *apiMessage `json:"message"`
	Data    string      `json:"data"`
}

type apiUpdate struct {
	UpdateID      int               `json:"update_id"`
	Message       *apiMessage       `json:"message"`
	InlineQuery   *apiInlineQuery   `json:"inline_query"`
	CallbackQuery *apiCallbackQuery `json:"callback_query"`
}

// call posts one Bot API method and decodes the result into out (when non-nil).
func (c *Client) call(ctx context.Context, method string, body interface{}, out interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/" + method)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("telegram %s: status %d: %s", method, resp.StatusCode(), envelope.Description)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("telegram %s: unexpected status %d", method, resp.StatusCode())
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) SendMessage(ctx context.Context, opts bot.SendOptions) (bot.MessageRef, error) {
	body := map[string]interface{}{
		"chat_id": opts.ChatID,
		"text":    opts.Text,
	}
	switch opts.ParseMode {
	case "none":
	case "":
		body["parse_mode"] = "Markdown"
	default:
		body["parse_mode"] = opts.ParseMode
	}
	if opts.ReplyTo != 0 {
		body["reply_to_message_id"] = opts.ReplyTo
	}
	if markup := replyMarkup(opts); markup != nil {
		body["reply_markup"] = markup
	}

	var sent apiMessage
	if err := c.call(ctx, "sendMessage", body, &sent); err != nil {
		return bot.MessageRef{}, err
	}
	return bot.MessageRef{ChatID: sent.Chat.ID, MessageID: sent.MessageID}, nil
}

func replyMarkup(opts bot.SendOptions) interface{} {
	if len(opts.Buttons) > 0 {
		keyboard := make([][]map[string]string, 0, len(opts.Buttons))
		for _, row := range opts.Buttons {
			r := make([]map[string]string, 0, len(row))
			for _, b := range row {
				r = append(r, map[string]string{"text": b.Text, "callback_data": b.Data})
			}
			keyboard = append(keyboard, r)
		}
		return map[string]interface{}{"inline_keyboard": keyboard}
	}
	if opts.ForceReply {
		markup := map[string]interface{}{"force_reply": true}
		if opts.Placeholder != "" {
			markup["input_field_placeholder"] = opts.Placeholder
		}
		return markup
	}
	return nil
}

func (c *Client) EditMessage(ctx context.Context, ref bot.MessageRef, text string) error {
	return c.call(ctx, "editMessageText", map[string]interface{}{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
		"text":       text,
		"parse_mode": "Markdown",
	}, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, ref bot.MessageRef) error {
	return c.call(ctx, "deleteMessage", map[string]interface{}{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
	}, nil)
}

func (c *Client) SendTyping(ctx context.Context, chatID int64) error {
	return c.call(ctx, "sendChatAction", map[string]interface{}{
		"chat_id": chatID,
		"action":  "typing",
	}, nil)
}

func (c *Client) AnswerInlineQuery(ctx context.Context, queryID string, results []bot.InlineResult) error {
	articles := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		articles = append(articles, map[string]interface{}{
			"type":        "article",
			"id":          r.ID,
			"title":       r.Title,
			"description": r.Description,
			"input_message_content": map[string]interface{}{
				"message_text": r.Text,
				"parse_mode":   "Markdown",
			},
		})
	}
	return c.call(ctx, "answerInlineQuery", map[string]interface{}{
		"inline_query_id": queryID,
		"results":         articles,
		"cache_time":      60,
		"is_personal":     true,
	}, nil)
}

// Updates long-polls getUpdates starting at offset.
func (c *Client) Updates(ctx context.Context, offset int) ([]bot.Update, error) {
	var raw []apiUpdate
	err := c.call(ctx, "getUpdates", map[string]interface{}{
		"offset":          offset,
		"timeout":         int(longPollWindow.Seconds()),
		"allowed_updates": []string{"message", "inline_query", "callback_query"},
	}, &raw)
	if err != nil {
		return nil, err
	}

	out := make([]bot.Update, 0, len(raw))
	for _, u := range raw {
		out = append(out, bot.Update{
			ID:            u.UpdateID,
			Message:       convertMessage(u.Message),
			InlineQuery:   convertInlineQuery(u.InlineQuery),
			CallbackQuery: convertCallback(u.CallbackQuery),
		})
	}
	return out, nil
}

func convertMessage(m *apiMessage) *bot.IncomingMessage {
	if m == nil {
		return nil
	}
	return &bot.IncomingMessage{
		MessageID: m.MessageID,
		ChatID:    m.Chat.ID,
		From:      convertUser(m.From),
		Text:      m.Text,
	}
}

func convertInlineQuery(q *apiInlineQuery) *bot.InlineQuery {
	if q == nil {
		return nil
	}
	return &bot.InlineQuery{ID: q.ID, From: convertUser(q.From), Query: q.Query}
}

func convertCallback(cb *apiCallbackQuery) *bot.CallbackQuery {
	if cb == nil {
		return nil
	}
	return &bot.CallbackQuery{
		ID:      cb.ID,
		From:    convertUser(cb.From),
		Message: convertMessage(cb.Message),
		Data:    cb.Data,
	}
}

func convertUser(u apiUser) bot.User {
	return bot.User{
		ID:           u.ID,
		FirstName:    u.FirstName,
		Username:     u.Username,
		LanguageCode: u.LanguageCode,
	}
}
