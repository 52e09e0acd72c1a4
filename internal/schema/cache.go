package schema

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"habitat-backend/internal/shared/telemetry"
)

type snapshot struct {
	schema    *ClassificationSchema
	fetchedAt time.Time
}

// CachedSource serves a snapshot of Inner for TTL. Once it expires a single
// caller refreshes while the others keep reading the old snapshot; callers
// without a usable snapshot share one load. A failed refresh keeps serving
// the previous snapshot until MaxStale elapses.
type CachedSource struct {
	Inner    Source
	TTL      time.Duration
	MaxStale time.Duration

	current    atomic.Pointer[snapshot]
	refreshing atomic.Bool
	group      singleflight.Group
	now        func() time.Time
}

func NewCachedSource(inner Source, ttl time.Duration) *CachedSource {
	return &CachedSource{Inner: inner, TTL: ttl, MaxStale: 10 * ttl, now: time.Now}
}

func (c *CachedSource) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

func (c *CachedSource) Current(ctx context.Context) (*ClassificationSchema, error) {
	snap := c.current.Load()
	if snap == nil {
		return c.load(ctx)
	}
	age := c.clock().Sub(snap.fetchedAt)
	if age < c.TTL {
		return snap.schema, nil
	}
	if age < c.TTL+c.MaxStale {
		if !c.refreshing.CompareAndSwap(false, true) {
			return snap.schema, nil
		}
		defer c.refreshing.Store(false)
	}
	return c.load(ctx)
}

func (c *CachedSource) load(ctx context.Context) (*ClassificationSchema, error) {
	v, err, _ := c.group.Do("current", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ClassificationSchema), nil
}

func (c *CachedSource) refresh(ctx context.Context) (*ClassificationSchema, error) {
	now := c.clock()
	snap := c.current.Load()
	if snap != nil && now.Sub(snap.fetchedAt) < c.TTL {
		return snap.schema, nil
	}

	fresh, err := c.Inner.Current(ctx)
	if err != nil {
		if snap != nil && now.Sub(snap.fetchedAt) < c.TTL+c.MaxStale {
			telemetry.Warn("schema.refresh_failed", map[string]any{
				"error":   err,
				"version": snap.schema.Version,
			})
			return snap.schema, nil
		}
		return nil, err
	}
	if snap == nil || snap.schema.Version != fresh.Version {
		telemetry.Info("schema.loaded", map[string]any{
			"version": fresh.Version,
			"fields":  len(fresh.Fields),
		})
	}
	c.current.Store(&snapshot{schema: fresh, fetchedAt: now})
	return fresh, nil
}
