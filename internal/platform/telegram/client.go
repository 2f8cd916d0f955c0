// Package telegram sends merchant notifications through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	defaultTimeout = 10 * time.Second
)

// ErrTimeout reports a send that exceeded the per-call deadline.
var ErrTimeout = errors.New("telegram: send timed out")

// EscapeMarkdownV2 prefixes every MarkdownV2 control character with a backslash.
var EscapeMarkdownV2 = bot.EscapeMarkdown

// APIError is a non-OK answer from the Bot API.
type APIError struct {
	permanent bool
	err       error
}

// NewAPIError wraps err as a Bot API answer.
func NewAPIError(err error, permanent bool) *APIError {
	return &APIError{permanent: permanent, err: err}
}

func (e *APIError) Error() string { return "telegram: " + e.err.Error() }

func (e *APIError) Unwrap() error { return e.err }

// Permanent reports whether retrying the same request cannot succeed.
func (e *APIError) Permanent() bool { return e.permanent }

// SentMessage identifies a delivered message.
type SentMessage struct {
	MessageID int64
	ChatID    string
}

// Client posts MarkdownV2 messages to a bot chat.
type Client struct {
	bot        *bot.Bot
	token      string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option customises Client construction.
type Option func(*Client)

// WithBaseURL points the client at another Bot API host, such as a test server.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(url), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithHTTPClient overrides the transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout bounds each SendMessage call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient builds a client for the bot identified by token. No request is made
// until the first SendMessage and the bot never polls for updates.
func NewClient(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	c := &Client{
		token:      token,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	b, err := bot.New(token,
		bot.WithSkipGetMe(),
		bot.WithServerURL(c.baseURL),
		bot.WithHTTPClient(c.timeout, c.httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", redact(err, token))
	}
	c.bot = b
	return c, nil
}

// SendMessage posts text with parse_mode MarkdownV2. Dynamic values inside text
// must already be escaped with EscapeMarkdownV2.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (SentMessage, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return SentMessage{}, errors.New("telegram: chat id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdown,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return SentMessage{}, ErrTimeout
		}
		return SentMessage{}, classify(redact(err, c.token))
	}
	if msg == nil {
		return SentMessage{}, &APIError{err: errors.New("empty sendMessage result")}
	}
	return SentMessage{MessageID: int64(msg.ID), ChatID: chatID}, nil
}

// classify marks answers the Bot API will repeat for the same request as permanent.
// Rate limits, conflicts and transport failures stay retryable.
func classify(err error) error {
	switch {
	case errors.Is(err, bot.ErrorBadRequest),
		errors.Is(err, bot.ErrorUnauthorized),
		errors.Is(err, bot.ErrorForbidden),
		errors.Is(err, bot.ErrorNotFound):
		return &APIError{permanent: true, err: err}
	}
	return err
}

// redact keeps the bot token out of transport errors, which embed the request URL.
func redact(err error, token string) error {
	msg := err.Error()
	if !strings.Contains(msg, token) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, token, "<redacted>"))
}
