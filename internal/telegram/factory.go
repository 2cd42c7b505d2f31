package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ignite/broadcast-engine/internal/config"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/service/sending"
)

// TokenSource looks up a tenant's bot token.
type TokenSource interface {
	BotToken(ctx context.Context, tenantID string) (string, error)
}

// Factory hands out one cached Client per tenant.
type Factory struct {
	tokens TokenSource
	cfg    config.TelegramConfig
	log    *logger.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

var _ sending.SenderFactory = (*Factory)(nil)

// NewFactory creates a sender factory.
func NewFactory(tokens TokenSource, cfg config.TelegramConfig, log *logger.Logger) *Factory {
	return &Factory{tokens: tokens, cfg: cfg, log: log, clients: make(map[string]*Client)}
}

func (f *Factory) SenderFor(ctx context.Context, tenantID string) (sending.Sender, error) {
	f.mu.Lock()
	c, ok := f.clients[tenantID]
	f.mu.Unlock()
	if ok {
		return c, nil
	}

	token, err := f.tokens.BotToken(ctx, tenantID)
	if errors.Is(err, sending.ErrBotNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("lookup bot token: %w", err)
	}
	c, err = NewClient(token, f.cfg)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.clients[tenantID]; ok {
		return existing, nil
	}
	f.clients[tenantID] = c
	f.log.Info("bot client created", "tenant_id", tenantID, "bot", logger.RedactToken(token))
	return c, nil
}

// Forget drops a tenant's cached client, e.g. after its token rotated.
func (f *Factory) Forget(tenantID string) {
	f.mu.Lock()
	delete(f.clients, tenantID)
	f.mu.Unlock()
}
