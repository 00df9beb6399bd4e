// Package cache routes client GETs between the network and versioned local
// caches kept in the client store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/laundry-tracking/internal/client"
	"github.com/vasiliy-maslov/laundry-tracking/internal/localstore"
)

type Strategy int

const (
	NetworkFirst Strategy = iota
	CacheFirst
)

func (s Strategy) String() string {
	if s == CacheFirst {
		return "cache-first"
	}
	return "network-first"
}

const namePrefix = "laundry-"

func StaticName(version int) string {
	return fmt.Sprintf("%sstatic-v%d", namePrefix, version)
}

func DynamicName(version int) string {
	return fmt.Sprintf("%sdynamic-v%d", namePrefix, version)
}

var (
	staticPrefixes   = []string{"/static/", "/assets/", "/reference/"}
	staticExtensions = map[string]bool{
		".css": true, ".js": true, ".png": true, ".svg": true,
		".ico": true, ".woff2": true, ".json": true,
	}
)

// Classify picks the strategy for a request path. Reference assets are served
// cache-first, everything else network-first.
func Classify(p string) Strategy {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	for _, prefix := range staticPrefixes {
		if strings.HasPrefix(p, prefix) {
			return CacheFirst
		}
	}
	if staticExtensions[strings.ToLower(path.Ext(p))] {
		return CacheFirst
	}
	return NetworkFirst
}

type Store interface {
	PutCache(ctx context.Context, cacheName, key string, body []byte, at time.Time) error
	GetCache(ctx context.Context, cacheName, key string) (*localstore.CacheEntry, error)
	TrimCache(ctx context.Context, cacheName string, keep int) (int, error)
	CacheNames(ctx context.Context) ([]string, error)
	DeleteCache(ctx context.Context, cacheName string) error
}

type Config struct {
	Version           int
	MaxDynamicEntries int
	NetworkTimeout    time.Duration
}

type FetchFunc func(ctx context.Context) ([]byte, error)

type Response struct {
	Body      []byte
	FromCache bool
	StoredAt  time.Time
}

type Router struct {
	store   Store
	cfg     Config
	static  string
	dynamic string
	now     func() time.Time
}

func New(store Store, cfg Config) *Router {
	if cfg.MaxDynamicEntries < 1 {
		cfg.MaxDynamicEntries = 50
	}
	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = 5 * time.Second
	}
	return &Router{
		store:   store,
		cfg:     cfg,
		static:  StaticName(cfg.Version),
		dynamic: DynamicName(cfg.Version),
		now:     time.Now,
	}
}

// Open drops caches left behind by other versions.
func (r *Router) Open(ctx context.Context) error {
	names, err := r.store.CacheNames(ctx)
	if err != nil {
		return fmt.Errorf("cache: list caches: %w", err)
	}
	for _, name := range names {
		if !strings.HasPrefix(name, namePrefix) || name == r.static || name == r.dynamic {
			continue
		}
		if err := r.store.DeleteCache(ctx, name); err != nil {
			return fmt.Errorf("cache: purge %s: %w", name, err)
		}
		log.Info().Str("cache", name).Msg("cache: purged stale cache version")
	}
	return nil
}

// Get serves key with the strategy Classify picks for it. fetch is only called
// when the network is needed.
func (r *Router) Get(ctx context.Context, key string, fetch FetchFunc) (*Response, error) {
	if Classify(key) == CacheFirst {
		return r.cacheFirst(ctx, key, fetch)
	}
	return r.networkFirst(ctx, key, fetch)
}

func (r *Router) cacheFirst(ctx context.Context, key string, fetch FetchFunc) (*Response, error) {
	entry, err := r.store.GetCache(ctx, r.static, key)
	if err == nil {
		return &Response{Body: entry.Body, FromCache: true, StoredAt: entry.StoredAt}, nil
	}
	if !errors.Is(err, localstore.ErrNotFound) {
		return nil, fmt.Errorf("cache: read %s: %w", key, err)
	}

	body, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	if err := r.store.PutCache(ctx, r.static, key, body, now); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache: failed to store static response")
	}
	return &Response{Body: body, StoredAt: now}, nil
}

func (r *Router) networkFirst(ctx context.Context, key string, fetch FetchFunc) (*Response, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.NetworkTimeout)
	body, fetchErr := fetch(fetchCtx)
	cancel()

	if fetchErr == nil {
		now := r.now().UTC()
		r.storeDynamic(ctx, key, body, now)
		return &Response{Body: body, StoredAt: now}, nil
	}
	if !client.IsTransient(fetchErr) {
		return nil, fetchErr
	}

	entry, err := r.store.GetCache(ctx, r.dynamic, key)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, fetchErr
	}
	if err != nil {
		return nil, fmt.Errorf("cache: read %s: %w", key, err)
	}

	log.Warn().Err(fetchErr).Str("key", key).Time("stored_at", entry.StoredAt).Msg("cache: network unavailable, serving cached response")
	return &Response{Body: entry.Body, FromCache: true, StoredAt: entry.StoredAt}, nil
}

func (r *Router) storeDynamic(ctx context.Context, key string, body []byte, at time.Time) {
	if err := r.store.PutCache(ctx, r.dynamic, key, body, at); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache: failed to store response")
		return
	}
	evicted, err := r.store.TrimCache(ctx, r.dynamic, r.cfg.MaxDynamicEntries)
	if err != nil {
		log.Warn().Err(err).Msg("cache: failed to trim dynamic cache")
		return
	}
	if evicted > 0 {
		log.Debug().Int("evicted", evicted).Msg("cache: dynamic cache trimmed")
	}
}
