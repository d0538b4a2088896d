package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/ec2-inventory/internal/model"
)

// Entry is a cached document together with the store's own write time for it.
type Entry struct {
	Document *model.Document
	StoredAt time.Time
}

// SignalFunc retrieves the external modification signals a cached entry is
// checked against.
type SignalFunc func(ctx context.Context) (model.ScalingSignals, error)

// Cache holds the last synthesized document, bounded by a TTL and
// invalidated by scaling events newer than the write.
type Cache struct {
	logger zerolog.Logger
	store  Store
	key    string
	ttl    time.Duration
	now    func() time.Time
}

// New returns a cache storing its document under key. A zero ttl disables
// reads: every entry counts as expired.
func New(logger zerolog.Logger, store Store, key string, ttl time.Duration) *Cache {
	return &Cache{
		logger: logger.With().Str("component", "cache").Logger(),
		store:  store,
		key:    key,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Read returns the cached entry if one exists, is younger than the TTL and
// parses. Store and parse failures are logged and reported as a miss.
func (c *Cache) Read(ctx context.Context) (*Entry, bool) {
	data, storedAt, err := c.store.Get(ctx, c.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn().Err(err).Msg("cache read failed")
		}
		return nil, false
	}
	if c.expired(storedAt) {
		c.logger.Debug().Time("stored_at", storedAt).Dur("ttl", c.ttl).Msg("cache expired")
		return nil, false
	}

	doc := &model.Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		c.logger.Warn().Err(err).Msg("cache entry unparseable, ignoring")
		return nil, false
	}
	return &Entry{Document: doc, StoredAt: storedAt}, true
}

// Write stores doc. The store replaces the previous entry atomically.
func (c *Cache) Write(ctx context.Context, doc *model.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal inventory: %w", err)
	}
	if err := c.store.Put(ctx, c.key, data); err != nil {
		return fmt.Errorf("store inventory: %w", err)
	}
	return nil
}

// IsStale reports whether entry must not be served. See StaleReason.
func (c *Cache) IsStale(ctx context.Context, entry *Entry, signals SignalFunc) bool {
	reason := c.StaleReason(ctx, entry, signals)
	if reason != "" {
		c.logger.Info().Str("reason", reason).Msg("cache stale")
		return true
	}
	return false
}

// StaleReason returns why entry is stale, or "" when it may be served. An
// entry is stale when its TTL has run out, when the signals cannot be
// retrieved, when the auto scaling group changed after the entry was
// written, when a cached instance launched after the write, or when the
// group has an in-service member the entry does not know about.
func (c *Cache) StaleReason(ctx context.Context, entry *Entry, signals SignalFunc) string {
	if entry == nil || entry.Document == nil {
		return "no entry"
	}
	if c.expired(entry.StoredAt) {
		return "ttl expired"
	}

	for address, rec := range entry.Document.HostVars {
		if rec.LaunchTime.After(entry.StoredAt) {
			return fmt.Sprintf("instance %s (%s) launched after cache write", rec.ID, address)
		}
	}

	if signals == nil {
		return ""
	}
	sig, err := signals(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("staleness signals unavailable, treating cache as stale")
		return "staleness check failed"
	}
	if sig.GroupModified.After(entry.StoredAt) {
		return "auto scaling group modified after cache write"
	}
	known := entry.Document.InstanceIDs()
	for _, id := range sig.Members {
		if _, ok := known[id]; !ok {
			return fmt.Sprintf("instance %s joined the auto scaling group", id)
		}
	}
	return ""
}

func (c *Cache) expired(storedAt time.Time) bool {
	return c.now().Sub(storedAt) >= c.ttl
}
