// Package telegram is a send-only Telegram client used as the alert sink.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "tickbot/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64
	// ThreadID targets a forum topic inside the chat. 0 means the main thread.
	ThreadID int

	// Offline skips the token check against the Telegram API. Used in tests.
	Offline bool
}

type Client struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, log: log, bot: b}, nil
}

const textLimit = 4000

// SendText delivers text to the configured chat, splitting messages that
// exceed Telegram's length limit on newline boundaries.
func (c *Client) SendText(ctx context.Context, text string) error {
	chat := &tele.Chat{ID: c.cfg.ChatID}
	opt := &tele.SendOptions{ThreadID: c.cfg.ThreadID}

	for _, chunk := range splitText(text, textLimit) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		start := time.Now()
		if _, err := c.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
		c.log.Trace("telegram.sent",
			logx.Int("len", len(chunk)),
			logx.Duration("took", time.Since(start)))
	}
	return nil
}

// splitText splits s into chunks of at most limit runes, preferring newline
// boundaries so multi-line alerts stay readable.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid degenerate tiny chunks.
					if i-start >= limit/3 {
						end = i + 1
					}
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		if chunk != "" {
			out = append(out, chunk)
		}
		start = end
	}
	return out
}
