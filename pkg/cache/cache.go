// Package cache provides a TTL read-through cache in front of a storage.System.
// Reads are served from memory when fresh; writes and deletes pass through and
// invalidate the cached entry so readers never observe stale overwrites from
// this process.
package cache

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/docforge/docforge/pkg/lifecycle"
	"github.com/docforge/docforge/pkg/storage"
)

type store struct {
	inner  storage.System
	data   *gocache.Cache
	logger *slog.Logger
}

// Wrap decorates a storage.System with a read-through cache holding blob
// contents for the given TTL. A non-positive TTL returns the inner system
// unchanged.
func Wrap(inner storage.System, ttl time.Duration, logger *slog.Logger) storage.System {
	if ttl <= 0 {
		return inner
	}
	return &store{
		inner:  inner,
		data:   gocache.New(ttl, 2*ttl),
		logger: logger.With("system", "storage-cache"),
	}
}

func (s *store) Start(lc *lifecycle.Coordinator) error {
	return s.inner.Start(lc)
}

func (s *store) Put(ctx context.Context, key string, reader io.Reader, contentType string) error {
	if err := s.inner.Put(ctx, key, reader, contentType); err != nil {
		return err
	}
	s.data.Delete(key)
	return nil
}

func (s *store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if cached, ok := s.data.Get(key); ok {
		s.logger.Debug("cache hit", "key", key)
		return io.NopCloser(bytes.NewReader(cached.([]byte))), nil
	}

	rc, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	s.data.SetDefault(key, content)
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (s *store) Delete(ctx context.Context, key string) error {
	if err := s.inner.Delete(ctx, key); err != nil {
		return err
	}
	s.data.Delete(key)
	return nil
}

func (s *store) Exists(ctx context.Context, key string) (bool, error) {
	if _, ok := s.data.Get(key); ok {
		return true, nil
	}
	return s.inner.Exists(ctx, key)
}

func (s *store) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}
