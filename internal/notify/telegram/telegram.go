package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/pfrederiksen/web-monitor/internal/logger"
)

const (
	defaultAPIURL  = "https://api.telegram.org"
	defaultTimeout = 10 * time.Second
)

// Options tunes delivery. Zero values select the defaults.
type Options struct {
	// APIURL overrides the Bot API endpoint.
	APIURL  string
	Timeout time.Duration
	// MaxRetries bounds the retries after the first attempt.
	MaxRetries uint64
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// RatePerSecond caps outgoing messages.
	RatePerSecond float64
}

func (o Options) withDefaults() Options {
	if o.APIURL == "" {
		o.APIURL = defaultAPIURL
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 1
	}
	return o
}

// Client sends notifications through a Telegram bot
type Client struct {
	bot     *tele.Bot
	chat    chatTarget
	opts    Options
	limiter *rate.Limiter
}

// chatTarget is a numeric chat id or an @channel username.
type chatTarget string

func (c chatTarget) Recipient() string { return string(c) }

var chatIDPattern = regexp.MustCompile(`^-?\d+$`)

// NewClient creates a new Telegram client. The token is verified against
// the Bot API, so an invalid token fails here rather than on first send.
func NewClient(botToken, chatID string, opts Options) (*Client, error) {
	botToken = strings.TrimSpace(botToken)
	chatID = strings.TrimSpace(chatID)

	if botToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if chatID == "" {
		return nil, fmt.Errorf("chat ID is required")
	}
	if !chatIDPattern.MatchString(chatID) && !strings.HasPrefix(chatID, "@") {
		return nil, fmt.Errorf("chat ID must be numeric or an @channel username: %q", chatID)
	}

	opts = opts.withDefaults()

	bot, err := tele.NewBot(tele.Settings{
		URL:    opts.APIURL,
		Token:  botToken,
		Client: &http.Client{Timeout: opts.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("verifying bot token: %w", err)
	}

	logger.Info("Telegram bot authorized", logger.Fields{
		"bot":  bot.Me.Username,
		"chat": chatID,
	})

	return &Client{
		bot:     bot,
		chat:    chatTarget(chatID),
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
	}, nil
}

// Send delivers text to the configured chat in HTML parse mode. Transient
// failures are retried with exponential backoff; client errors are not.
func (c *Client) Send(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("message text is required")
	}

	sendOpts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	}

	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		_, err := c.bot.Send(c.chat, text, sendOpts)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}

		logger.Warn("Telegram send failed, will retry", logger.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		})
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.opts.MaxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// Name returns "telegram".
func (c *Client) Name() string {
	return "telegram"
}

var statusSuffix = regexp.MustCompile(`\((\d{3})\)\s*$`)

// statusCode extracts the Bot API error code, or 0 when err carries none.
func statusCode(err error) int {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	if m := statusSuffix.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code
	}
	return 0
}

// isPermanent reports whether retrying err cannot succeed. Rate limiting
// (429) is transient.
func isPermanent(err error) bool {
	code := statusCode(err)
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}
