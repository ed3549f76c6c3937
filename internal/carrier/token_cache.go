package carrier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// LoginFunc obtains a fresh token from the carrier.
type LoginFunc func(ctx context.Context) (string, error)

// TokenCache holds the carrier auth token until it expires or is invalidated.
// Concurrent callers that miss share a single login.
type TokenCache struct {
	login LoginFunc
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

func NewTokenCache(login LoginFunc, ttl time.Duration) *TokenCache {
	return &TokenCache{login: login, ttl: ttl, now: time.Now}
}

func (c *TokenCache) Get(ctx context.Context) (string, error) {
	if t, ok := c.cached(); ok {
		return t, nil
	}

	v, err, _ := c.group.Do("token", func() (any, error) {
		// A caller that missed just before another login finished lands here.
		if t, ok := c.cached(); ok {
			return t, nil
		}
		// Shared by every waiter, so one caller's cancellation must not
		// fail the others. The HTTP client timeout still bounds it.
		token, err := c.login(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = token
		c.expiresAt = c.now().Add(c.ttl)
		c.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, true
	}
	return "", false
}

// Invalidate drops the cached token, typically after a 401.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
