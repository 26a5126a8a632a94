package analytics

import (
	"context"
	"time"

	"github.com/ammario/tlru"
	"golang.org/x/sync/singleflight"

	"dossier/internal/peer"
	id "dossier/pkg/domain"
)

const (
	defaultNameCacheSize  = 4096
	defaultNameCacheTTL   = 10 * time.Minute
	defaultResolveTimeout = 2 * time.Second
)

// NameResolver looks up a display name for a peer. ok is false when the peer
// is unknown.
type NameResolver interface {
	ResolveName(ctx context.Context, kind, p string, subjectID id.SubjectID) (name string, ok bool, err error)
}

// StaticResolver resolves from a fixed "<kind>_<peer>" table.
type StaticResolver map[string]string

func (s StaticResolver) ResolveName(_ context.Context, kind, p string, _ id.SubjectID) (string, bool, error) {
	name, ok := s[peer.Token(kind, p)]
	return name, ok, nil
}

type cachedName struct {
	name  string
	found bool
}

// CachedResolver bounds a slow resolver: results (including misses) are kept
// in a size-bounded TTL cache, concurrent lookups of one key share a call, and
// every call runs under its own timeout. Errors are not cached.
type CachedResolver struct {
	next    NameResolver
	cache   *tlru.Cache[string, cachedName]
	group   singleflight.Group
	ttl     time.Duration
	timeout time.Duration
}

// CacheOption configures a CachedResolver.
type CacheOption func(*cacheSettings)

type cacheSettings struct {
	size    int
	ttl     time.Duration
	timeout time.Duration
}

// WithCacheSize bounds the number of cached names.
func WithCacheSize(n int) CacheOption {
	return func(s *cacheSettings) {
		if n > 0 {
			s.size = n
		}
	}
}

// WithCacheTTL sets how long a resolution is reused.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(s *cacheSettings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithResolveTimeout bounds each call to the wrapped resolver.
func WithResolveTimeout(d time.Duration) CacheOption {
	return func(s *cacheSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewCachedResolver wraps next.
func NewCachedResolver(next NameResolver, opts ...CacheOption) *CachedResolver {
	settings := cacheSettings{size: defaultNameCacheSize, ttl: defaultNameCacheTTL, timeout: defaultResolveTimeout}
	for _, opt := range opts {
		opt(&settings)
	}
	return &CachedResolver{
		next:    next,
		cache:   tlru.New[string](tlru.ConstantCost[cachedName], settings.size),
		ttl:     settings.ttl,
		timeout: settings.timeout,
	}
}

func (c *CachedResolver) ResolveName(ctx context.Context, kind, p string, subjectID id.SubjectID) (string, bool, error) {
	key := subjectID.String() + "/" + peer.Token(kind, p)
	if v, _, ok := c.cache.Get(key); ok {
		return v.name, v.found, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		// shared by every waiter, so one caller's cancellation must not fail the rest
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		name, found, err := c.next.ResolveName(callCtx, kind, p, subjectID)
		if err != nil {
			return nil, err
		}
		v := cachedName{name: name, found: found}
		c.cache.Set(key, v, c.ttl)
		return v, nil
	})
	if err != nil {
		return "", false, err
	}
	v := result.(cachedName)
	return v.name, v.found, nil
}
