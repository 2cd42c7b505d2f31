package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

// DefaultCampaignTTL bounds how stale cached campaign content may be. Status
// is never cached.
const DefaultCampaignTTL = 10 * time.Second

type cachedCampaign struct {
	c       *domain.Campaign
	expires time.Time
}

// campaignCache keeps recently loaded campaign content so a batch of jobs for
// the same campaign costs one full lookup. The status is read on every Get.
type campaignCache struct {
	repo broadcast.CampaignRepository
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cachedCampaign
}

func newCampaignCache(repo broadcast.CampaignRepository, ttl time.Duration) *campaignCache {
	return &campaignCache{
		repo:    repo,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedCampaign),
	}
}

// Get returns a copy of the campaign carrying its current status.
func (c *campaignCache) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	now := c.now()
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()

	if !ok || !now.Before(e.expires) {
		camp, err := c.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if c.ttl > 0 {
			c.mu.Lock()
			c.entries[id] = cachedCampaign{c: camp, expires: now.Add(c.ttl)}
			c.mu.Unlock()
		}
		cp := *camp
		return &cp, nil
	}

	status, err := c.repo.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := *e.c
	cp.Status = status
	return &cp, nil
}
