// Package sending defines the outbound chat API contract used by the
// dispatcher.
//
// The Telegram client implements Sender; tests use fakes. A SenderFactory
// resolves the bot that speaks for a tenant, so the dispatcher stays
// provider-agnostic.
package sending

import (
	"context"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/message"
)

// Options carries per-call formatting and the optional inline keyboard.
type Options struct {
	ParseMode          string
	DisableLinkPreview bool
	Keyboard           [][]message.Button
}

// Sender delivers messages for one bot. Implementations must be safe for
// concurrent use and return *ProviderError for provider-side failures.
type Sender interface {
	SendText(ctx context.Context, recipientID, text string, opts Options) (messageID string, err error)
	SendMedia(ctx context.Context, recipientID string, kind domain.MediaKind, ref, caption string, opts Options) (messageID string, err error)
}

// SenderFactory resolves the Sender speaking for a tenant. It returns
// ErrBotNotFound when the tenant has no usable bot.
type SenderFactory interface {
	SenderFor(ctx context.Context, tenantID string) (Sender, error)
}
