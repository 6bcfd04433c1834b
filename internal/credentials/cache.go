// Package credentials caches per-user remote-store credentials with a
// short TTL and a stale-on-error fallback.
package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telestore/relay/internal/remote"
)

// ErrCredentialFetch reports a fetch failure with no cached value of
// any age to fall back on
var ErrCredentialFetch = fmt.Errorf("failed to fetch credentials")

// FetchFunc retrieves fresh credentials from the credential authority
type FetchFunc func(ctx context.Context) (*remote.Credentials, error)

type entry struct {
	payload   *remote.Credentials
	fetchedAt time.Time
}

// Cache is a TTL cache over the credential authority. Expired entries
// are kept: a fetch failure serves the last known payload rather than
// failing the transfer. Concurrent misses for the same key may fetch
// twice; last-writer-wins is safe.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
}

// NewCache creates a credential cache
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		ttl:     ttl,
	}
}

// Get returns cached credentials for userKey while fresh, otherwise
// fetches. On fetch failure a stale entry is served if one exists.
func (c *Cache) Get(ctx context.Context, userKey string, fetch FetchFunc) (*remote.Credentials, error) {
	c.mu.RLock()
	cached, ok := c.entries[userKey]
	c.mu.RUnlock()

	if ok && time.Since(cached.fetchedAt) < c.ttl {
		return cached.payload, nil
	}

	payload, err := fetch(ctx)
	if err != nil {
		if ok {
			log.Warn().
				Err(err).
				Str("user_key", userKey).
				Dur("age", time.Since(cached.fetchedAt)).
				Msg("credential fetch failed, serving stale cache entry")
			return cached.payload, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialFetch, err)
	}

	c.mu.Lock()
	c.entries[userKey] = &entry{payload: payload, fetchedAt: time.Now()}
	c.mu.Unlock()

	return payload, nil
}
