// Package telegram implements the outbound Sender on the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/ignite/broadcast-engine/internal/config"
	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/service/sending"
)

// Client sends messages through one bot. Calls are paced by a local token
// bucket so a single process never exceeds the bot's configured rate.
type Client struct {
	bot     *tele.Bot
	token   string
	limiter *rate.Limiter
}

var _ sending.Sender = (*Client)(nil)

// NewClient creates an offline bot client; no getMe round trip is made.
func NewClient(token string, cfg config.TelegramConfig) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, sending.ErrBotNotFound
	}
	settings := tele.Settings{
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: cfg.Timeout()},
	}
	if cfg.APIURL != "" {
		settings.URL = strings.TrimRight(cfg.APIURL, "/")
	}
	bot, err := tele.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("create bot %s: %w", logger.RedactToken(token), err)
	}

	limit := rate.Inf
	if cfg.BotRatePerSec > 0 {
		limit = rate.Limit(cfg.BotRatePerSec)
	}
	burst := cfg.BotBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{bot: bot, token: token, limiter: rate.NewLimiter(limit, burst)}, nil
}

func (c *Client) SendText(ctx context.Context, recipientID, text string, opts sending.Options) (string, error) {
	chat, err := chatID(recipientID)
	if err != nil {
		return "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	msg, err := c.bot.Send(chat, text, sendOptions(opts))
	if err != nil {
		return "", c.classify(err)
	}
	return strconv.Itoa(msg.ID), nil
}

func (c *Client) SendMedia(ctx context.Context, recipientID string, kind domain.MediaKind, ref, caption string, opts sending.Options) (string, error) {
	chat, err := chatID(recipientID)
	if err != nil {
		return "", err
	}
	what, err := sendable(kind, ref, caption)
	if err != nil {
		return "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	msg, err := c.bot.Send(chat, what, sendOptions(opts))
	if err != nil {
		return "", c.classify(err)
	}
	return strconv.Itoa(msg.ID), nil
}

func chatID(recipientID string) (tele.ChatID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(recipientID), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %q", sending.ErrBadRecipient, recipientID)
	}
	return tele.ChatID(id), nil
}

func sendOptions(opts sending.Options) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             tele.ParseMode(opts.ParseMode),
		DisableWebPagePreview: opts.DisableLinkPreview,
	}
	if len(opts.Keyboard) > 0 {
		rm := &tele.ReplyMarkup{}
		rows := make([]tele.Row, 0, len(opts.Keyboard))
		for _, line := range opts.Keyboard {
			btns := make([]tele.Btn, 0, len(line))
			for _, b := range line {
				btns = append(btns, tele.Btn{Text: b.Text, Data: b.Data})
			}
			rows = append(rows, rm.Row(btns...))
		}
		rm.Inline(rows...)
		so.ReplyMarkup = rm
	}
	return so
}

// attachments maps each media kind to the attachment type the Bot API
// expects for it.
var attachments = map[domain.MediaKind]func(file tele.File, caption string) tele.Sendable{
	domain.MediaPhoto:     func(f tele.File, c string) tele.Sendable { return &tele.Photo{File: f, Caption: c} },
	domain.MediaVideo:     func(f tele.File, c string) tele.Sendable { return &tele.Video{File: f, Caption: c} },
	domain.MediaAudio:     func(f tele.File, c string) tele.Sendable { return &tele.Audio{File: f, Caption: c} },
	domain.MediaDocument:  func(f tele.File, c string) tele.Sendable { return &tele.Document{File: f, Caption: c} },
	domain.MediaAnimation: func(f tele.File, c string) tele.Sendable { return &tele.Animation{File: f, Caption: c} },
}

// sendable wraps ref in the attachment type for kind. http(s) references
// are fetched by the provider; anything else is treated as a provider file id.
func sendable(kind domain.MediaKind, ref, caption string) (tele.Sendable, error) {
	build, ok := attachments[kind]
	if !ok {
		return nil, fmt.Errorf("%w: media kind %s", sending.ErrUnsupportedRef, kind)
	}
	if ref == "" {
		return nil, sending.ErrUnsupportedRef
	}
	file := tele.File{FileID: ref}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		file = tele.FromURL(ref)
	}
	return build(file, caption), nil
}
