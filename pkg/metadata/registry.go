package metadata

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Source is the slice of node RPC the registry needs. at is a block hash in
// hex, or "" for the best block.
type Source interface {
	SpecVersion(ctx context.Context, at string) (uint32, error)
	RawMetadata(ctx context.Context, at string) ([]byte, error)
}

// DefaultFetchTimeout bounds a shared metadata fetch. A fetch outlives the
// callers waiting on it, so it cannot borrow their deadlines.
const DefaultFetchTimeout = 30 * time.Second

type cacheKey struct {
	endpoint string
	version  uint32
}

// Registry caches parsed metadata per endpoint and spec version. It is safe
// for concurrent use; concurrent misses for the same key share one fetch.
type Registry struct {
	// FetchTimeout bounds each metadata download. Zero means
	// DefaultFetchTimeout.
	FetchTimeout time.Duration

	log logrus.FieldLogger

	mu      sync.RWMutex
	entries map[cacheKey]*Metadata
	latest  map[string]uint32

	group singleflight.Group
}

func NewRegistry(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		log:     log,
		entries: make(map[cacheKey]*Metadata),
		latest:  make(map[string]uint32),
	}
}

// Resolve returns the metadata of the runtime that is active at block hash
// at on endpoint, fetching it when the spec version has not been seen.
func (r *Registry) Resolve(ctx context.Context, endpoint string, src Source, at string) (*Metadata, error) {
	version, err := src.SpecVersion(ctx, at)
	if err != nil {
		return nil, fmt.Errorf("%w: runtime version: %w", ErrMetadataUnavailable, err)
	}
	return r.ResolveVersion(ctx, endpoint, src, at, version)
}

// ResolveVersion is Resolve for a caller that already knows the spec version
// active at block hash at.
func (r *Registry) ResolveVersion(ctx context.Context, endpoint string, src Source, at string, version uint32) (*Metadata, error) {
	if m, ok := r.Lookup(endpoint, version); ok {
		return m, nil
	}

	sfKey := endpoint + "|" + strconv.FormatUint(uint64(version), 10)
	ch := r.group.DoChan(sfKey, func() (interface{}, error) {
		if m, ok := r.Lookup(endpoint, version); ok {
			return m, nil
		}
		// detached from ctx: other callers may be waiting on this fetch
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout())
		defer cancel()
		return r.fetch(fctx, endpoint, src, at, version)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrMetadataUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Metadata), nil
	}
}

func (r *Registry) fetchTimeout() time.Duration {
	if r.FetchTimeout > 0 {
		return r.FetchTimeout
	}
	return DefaultFetchTimeout
}

func (r *Registry) fetch(ctx context.Context, endpoint string, src Source, at string, version uint32) (*Metadata, error) {
	log := r.log.WithFields(logrus.Fields{"endpoint": endpoint, "spec_version": version})
	log.Debug("fetching runtime metadata")

	raw, err := src.RawMetadata(ctx, at)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch: %w", ErrMetadataUnavailable, err)
	}
	m, err := Parse(raw)
	if err != nil {
		log.WithError(err).Warn("runtime metadata rejected")
		return nil, err
	}
	m.SpecVersion = version

	r.mu.Lock()
	r.entries[cacheKey{endpoint, version}] = m
	if version >= r.latest[endpoint] {
		if prev, ok := r.latest[endpoint]; ok && prev != version {
			log.WithField("previous", prev).Info("runtime upgraded")
		}
		r.latest[endpoint] = version
	}
	r.mu.Unlock()
	return m, nil
}

// Lookup returns cached metadata without any I/O.
func (r *Registry) Lookup(endpoint string, version uint32) (*Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.entries[cacheKey{endpoint, version}]
	return m, ok
}

// Latest returns the metadata with the highest spec version seen for endpoint.
func (r *Registry) Latest(endpoint string) (*Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.latest[endpoint]
	if !ok {
		return nil, false
	}
	m, ok := r.entries[cacheKey{endpoint, v}]
	return m, ok
}

// Forget drops every cached version for endpoint.
func (r *Registry) Forget(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.entries {
		if k.endpoint == endpoint {
			delete(r.entries, k)
		}
	}
	delete(r.latest, endpoint)
}
