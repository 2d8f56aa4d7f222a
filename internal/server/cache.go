package server

import (
	"context"
	"sync"
	"time"

	"github.com/mj1618/portal-pilot/internal/capture"
	"github.com/mj1618/portal-pilot/internal/model"
)

// Perceiver captures and parses the screen.
type Perceiver interface {
	Perceive(ctx context.Context, opts capture.Options) (*model.ParsedScreen, capture.Frame, error)
}

type cacheEntry struct {
	screen    *model.ParsedScreen
	timestamp time.Time
}

// ScreenCache keeps recent parses per region so status pages and tool
// clients polling the screen do not each cost a vision call. It also
// remembers the latest screen, which element ids in tool calls refer to.
type ScreenCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	latest  *model.ParsedScreen
	ttl     time.Duration
}

// NewScreenCache creates a cache. A ttl of 0 disables caching.
func NewScreenCache(ttl time.Duration) *ScreenCache {
	return &ScreenCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

// Parse returns a cached screen for opts.Region if it is within the TTL,
// otherwise perceives a fresh one.
func (c *ScreenCache) Parse(ctx context.Context, p Perceiver, opts capture.Options) (*model.ParsedScreen, error) {
	key := ""
	if opts.Region != nil {
		key = opts.Region.String()
	}

	if c.ttl > 0 {
		c.mu.Lock()
		if entry, ok := c.entries[key]; ok && time.Since(entry.timestamp) < c.ttl {
			c.mu.Unlock()
			return entry.screen, nil
		}
		c.mu.Unlock()
	}

	screen, _, err := p.Perceive(ctx, opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.ttl > 0 {
		c.entries[key] = cacheEntry{screen: screen, timestamp: time.Now()}
	}
	c.latest = screen
	c.mu.Unlock()
	return screen, nil
}

// Latest returns the most recently perceived screen, or nil.
func (c *ScreenCache) Latest() *model.ParsedScreen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// InvalidateAll drops cached parses. The latest screen is kept so element
// references made against it still resolve.
func (c *ScreenCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
