package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aistory-app/aistory/backend/internal/config"
	"github.com/valkey-io/valkey-go"
)

const (
	costCachePrefix   = "aistory:cost:"
	costVersionPrefix = "aistory:costver:"
	globalCostScope   = "all"
)

// CostCache stores serialized cost summaries. Keys embed scope version
// counters, so bumping a scope makes every summary built on it unreachable.
type CostCache interface {
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Version(ctx context.Context, scope string) (int64, error)
	Bump(ctx context.Context, scopes ...string) error
	Close()
}

func userCostScope(userID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10)
}

func projectCostScope(projectID uint) string {
	return "project:" + strconv.FormatUint(uint64(projectID), 10)
}

// ledgerScopes lists the scopes touched by a write for userID/projectID.
func ledgerScopes(userID uint, projectID *uint) []string {
	scopes := []string{globalCostScope, userCostScope(userID)}
	if projectID != nil {
		scopes = append(scopes, projectCostScope(*projectID))
	}
	return scopes
}

// NewCostCache connects to valkey when caching is enabled and falls back to
// an in-process cache otherwise.
func NewCostCache(cfg *config.CacheConfig) (CostCache, error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if !cfg.Enabled {
		return NewMemoryCostCache(ttl), nil
	}

	opt, err := valkey.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	opt.DisableCache = cfg.DisableCache

	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("connect to valkey: %w", err)
	}
	return &valkeyCostCache{client: client, ttl: ttl}, nil
}

type valkeyCostCache struct {
	client valkey.Client
	ttl    time.Duration
}

func (c *valkeyCostCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	cmd := c.client.B().Get().Key(costCachePrefix + key).Build()
	raw, err := c.client.Do(ctx, cmd).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("cache decode: %w", err)
	}
	return true, nil
}

func (c *valkeyCostCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	cmd := c.client.B().Set().Key(costCachePrefix + key).Value(string(data)).Ex(c.ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *valkeyCostCache) Version(ctx context.Context, scope string) (int64, error) {
	cmd := c.client.B().Get().Key(costVersionPrefix + scope).Build()
	v, err := c.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("cache version: %w", err)
	}
	return v, nil
}

func (c *valkeyCostCache) Bump(ctx context.Context, scopes ...string) error {
	if len(scopes) == 0 {
		return nil
	}
	cmds := make([]valkey.Completed, 0, len(scopes))
	for _, scope := range scopes {
		cmds = append(cmds, c.client.B().Incr().Key(costVersionPrefix+scope).Build())
	}
	for _, res := range c.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("cache bump: %w", err)
		}
	}
	return nil
}

func (c *valkeyCostCache) Close() {
	c.client.Close()
}

type memoryCacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCostCache is the single-process CostCache used when valkey is off.
type MemoryCostCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]memoryCacheEntry
	versions map[string]int64
	now      func() time.Time
}

func NewMemoryCostCache(ttl time.Duration) *MemoryCostCache {
	return &MemoryCostCache{
		ttl:      ttl,
		entries:  make(map[string]memoryCacheEntry),
		versions: make(map[string]int64),
		now:      time.Now,
	}
}

func (c *MemoryCostCache) Get(_ context.Context, key string, dst interface{}) (bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dst); err != nil {
		return false, fmt.Errorf("cache decode: %w", err)
	}
	return true, nil
}

func (c *MemoryCostCache) Set(_ context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryCacheEntry{data: data, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCostCache) Version(_ context.Context, scope string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[scope], nil
}

func (c *MemoryCostCache) Bump(_ context.Context, scopes ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, scope := range scopes {
		c.versions[scope]++
	}
	return nil
}

func (c *MemoryCostCache) Close() {}
