// A Registry hands out named cache instances ("images", "code", "analysis", ...), each with its own size and TTL
// profile, created lazily on first request and reused afterwards. The registry is an explicit value the
// application owns and passes around; there is no package-global instance and no ambient process-exit hook.
// ShutdownAll is the only sanctioned way to tear down every cache: the entry point wires it to signal handling,
// not this package.

package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/casketcache/casket/pkg/cache"
)

// Registry manages named cache instances sharing one configuration.
type Registry[V any] struct {
	ctx  context.Context
	conf Config

	mux    sync.Mutex
	caches map[string]*cache.Cache[V]
	closed bool
}

// New constructs a registry. The ctx bounds the background loops of every cache the registry creates.
func New[V any](ctx context.Context, conf Config) *Registry[V] {
	return &Registry[V]{ctx: ctx, conf: conf, caches: make(map[string]*cache.Cache[V])}
}

// Get returns the cache instance registered under the given name, creating it from its profile on first request.
func (r *Registry[V]) Get(name string) (*cache.Cache[V], error) {
	if name == "" {
		return nil, errors.New("expected a non-empty cache name")
	}

	r.mux.Lock()
	defer r.mux.Unlock()
	if r.closed {
		return nil, errors.New("registry has been shut down")
	}
	if c, exists := r.caches[name]; exists {
		return c, nil
	}

	profile := r.conf.profileFor(name)
	conf := cache.Config{
		MaxSizeBytes:    profile.MaxSizeBytes,
		MaxEntries:      profile.MaxEntries,
		DefaultTTL:      profile.DefaultTTL,
		SweepInterval:   profile.SweepInterval,
		PersistInterval: profile.PersistInterval,
		Persist:         profile.Persist,
	}
	if profile.Persist {
		if r.conf.DataDir == "" {
			return nil, fmt.Errorf("cache %q has persistence enabled but the registry has no data_dir", name)
		}
		// Each instance owns its own subdirectory; two instances must never share one.
		conf.Dir = filepath.Join(r.conf.DataDir, name)
	}

	c, err := cache.New[V](r.ctx, name, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache %q: %w", name, err)
	}
	r.caches[name] = c
	return c, nil
}

// Names returns the names of the currently instantiated caches.
func (r *Registry[V]) Names() []string {
	r.mux.Lock()
	defer r.mux.Unlock()
	names := make([]string, 0, len(r.caches))
	for name := range r.caches {
		names = append(names, name)
	}
	return names
}

// ShutdownAll shuts every instance down concurrently (cancelling its timers and flushing its persistence) and
// clears the registry. Further Get calls fail after it returns.
func (r *Registry[V]) ShutdownAll() error {
	r.mux.Lock()
	if r.closed {
		r.mux.Unlock()
		return nil
	}
	r.closed = true
	caches := make([]*cache.Cache[V], 0, len(r.caches))
	for _, c := range r.caches {
		caches = append(caches, c)
	}
	r.caches = make(map[string]*cache.Cache[V])
	r.mux.Unlock()

	var group errgroup.Group
	for _, c := range caches {
		group.Go(c.Shutdown)
	}
	return group.Wait()
}
