// Package bot defines the chat-platform contract and the update dispatcher.
// The concrete Telegram client lives in bot/telegram.
package bot

import "context"

// User identifies the sender of a message or inline query.
type User struct {
	ID           int64
	FirstName    string
	Username     string
	LanguageCode string
}

// IncomingMessage is a text message received from a chat.
type IncomingMessage struct {
	MessageID int
	ChatID    int64
	From      User
	Text      string
}

// InlineQuery is an inline request typed as "@bot query" in any chat.
type InlineQuery struct {
	ID    string
	From  User
	Query string
}

// CallbackQuery is a button press on an inline keyboard the bot sent.
type CallbackQuery struct {
	ID      string
	From    User
	Message *IncomingMessage
	Data    string
}

// Update is one long-poll item. Exactly one of the pointers is set.
type Update struct {
	ID            int
	Message       *IncomingMessage
	InlineQuery   *InlineQuery
	CallbackQuery *CallbackQuery
}

// Button is one inline-keyboard button; Data comes back in a CallbackQuery.
type Button struct {
	Text string
	Data string
}

// SendOptions describes an outgoing message. ParseMode defaults to Markdown
// at the transport level.
type SendOptions struct {
	ChatID      int64
	Text        string
	ParseMode   string
	ReplyTo     int
	Buttons     [][]Button
	ForceReply  bool
	Placeholder string
}

// MessageRef points at a message the bot sent, for later edits or deletes.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// InlineResult is one article answer to an inline query.
type InlineResult struct {
	ID          string
	Title       string
	Description string
	Text        string
}

// Transport sends messages through the chat platform. Implementations must be
// safe for concurrent use.
type Transport interface {
	SendMessage(ctx context.Context, opts SendOptions) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, text string) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	SendTyping(ctx context.Context, chatID int64) error
	AnswerInlineQuery(ctx context.Context, queryID string, results []InlineResult) error
}

// UpdateSource produces incoming updates; the Telegram client implements it
// with long polling.
type UpdateSource interface {
	Updates(ctx context.Context, offset int) ([]Update, error)
}
