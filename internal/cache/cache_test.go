package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/ec2-inventory/internal/model"
)

// memStore is an in-memory Store whose write time the test controls.
type memStore struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	storedAt time.Time
	getErr   error
	putErr   error
}

func newMemStore(storedAt time.Time) *memStore {
	return &memStore{blobs: map[string][]byte{}, storedAt: storedAt}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, time.Time{}, m.getErr
	}
	data, ok := m.blobs[key]
	if !ok {
		return nil, time.Time{}, ErrNotFound
	}
	return data, m.storedAt, nil
}

func (m *memStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.blobs[key] = data
	return nil
}

var storedAt = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestCache(store Store, ttl time.Duration, now time.Time) *Cache {
	c := New(zerolog.Nop(), store, "inventory_cache.json", ttl)
	c.now = func() time.Time { return now }
	return c
}

func cachedDocument() *model.Document {
	doc := model.NewDocument()
	workers := model.NewGroup()
	workers.Hosts = []string{"10.0.2.20"}
	doc.Groups["k8s_worker"] = workers
	doc.HostVars["10.0.2.20"] = model.InstanceRecord{
		ID:             "i-worker",
		PrivateAddress: "10.0.2.20",
		LaunchTime:     storedAt.Add(-time.Hour),
	}
	return doc
}

func signals(sig model.ScalingSignals, err error) SignalFunc {
	return func(context.Context) (model.ScalingSignals, error) {
		return sig, err
	}
}

func TestCache_WriteThenRead(t *testing.T) {
	store := newMemStore(storedAt)
	c := newTestCache(store, 5*time.Minute, storedAt.Add(time.Minute))
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, cachedDocument()))

	entry, ok := c.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, storedAt, entry.StoredAt)
	assert.Equal(t, []string{"10.0.2.20"}, entry.Document.Groups["k8s_worker"].Hosts)
	assert.Equal(t, "i-worker", entry.Document.HostVars["10.0.2.20"].ID)
}

func TestCache_ReadMisses(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memStore)
		ttl   time.Duration
		age   time.Duration
	}{
		{"absent", func(*memStore) {}, 5 * time.Minute, time.Minute},
		{"unparseable", func(m *memStore) { m.blobs["inventory_cache.json"] = []byte("{not json") }, 5 * time.Minute, time.Minute},
		{"not an inventory", func(m *memStore) { m.blobs["inventory_cache.json"] = []byte(`{"k8s_worker":{}}`) }, 5 * time.Minute, time.Minute},
		{"store error", func(m *memStore) { m.getErr = errors.New("permission denied") }, 5 * time.Minute, time.Minute},
		{"expired", func(m *memStore) { m.blobs["inventory_cache.json"] = []byte(`{"_meta":{"hostvars":{}}}`) }, 5 * time.Minute, 5 * time.Minute},
		{"ttl zero", func(m *memStore) { m.blobs["inventory_cache.json"] = []byte(`{"_meta":{"hostvars":{}}}`) }, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(storedAt)
			tt.setup(store)
			c := newTestCache(store, tt.ttl, storedAt.Add(tt.age))

			_, ok := c.Read(context.Background())
			assert.False(t, ok)
		})
	}
}

func TestCache_WriteError(t *testing.T) {
	store := newMemStore(storedAt)
	store.putErr = errors.New("disk full")
	c := newTestCache(store, time.Minute, storedAt)

	err := c.Write(context.Background(), cachedDocument())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestCache_StaleReason(t *testing.T) {
	fresh := &Entry{Document: cachedDocument(), StoredAt: storedAt}

	launchedLater := cachedDocument()
	rec := launchedLater.HostVars["10.0.2.20"]
	rec.LaunchTime = storedAt.Add(time.Second)
	launchedLater.HostVars["10.0.2.20"] = rec

	tests := []struct {
		name    string
		entry   *Entry
		signals SignalFunc
		want    string
	}{
		{"nil entry", nil, nil, "no entry"},
		{"fresh without signals", fresh, nil, ""},
		{"fresh with quiet group", fresh, signals(model.ScalingSignals{
			GroupModified: storedAt.Add(-time.Hour),
			Members:       []string{"i-worker"},
		}, nil), ""},
		{"ttl expired", &Entry{Document: cachedDocument(), StoredAt: storedAt.Add(-10 * time.Minute)}, nil, "ttl expired"},
		{"instance launched after write", &Entry{Document: launchedLater, StoredAt: storedAt}, nil,
			"instance i-worker (10.0.2.20) launched after cache write"},
		{"signals unavailable", fresh, signals(model.ScalingSignals{}, errors.New("throttled")), "staleness check failed"},
		{"group modified after write", fresh, signals(model.ScalingSignals{
			GroupModified: storedAt.Add(time.Second),
		}, nil), "auto scaling group modified after cache write"},
		{"new group member", fresh, signals(model.ScalingSignals{
			GroupModified: storedAt.Add(-time.Hour),
			Members:       []string{"i-worker", "i-new"},
		}, nil), "instance i-new joined the auto scaling group"},
		{"no group configured", fresh, signals(model.ScalingSignals{}, nil), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCache(newMemStore(storedAt), 5*time.Minute, storedAt.Add(time.Minute))
			assert.Equal(t, tt.want, c.StaleReason(context.Background(), tt.entry, tt.signals))
			assert.Equal(t, tt.want != "", c.IsStale(context.Background(), tt.entry, tt.signals))
		})
	}
}

func TestCache_FileStoreIntegration(t *testing.T) {
	c := New(zerolog.Nop(), NewFileStore(t.TempDir()), "inventory_cache_prod.json", time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, cachedDocument()))

	entry, ok := c.Read(ctx)
	require.True(t, ok)
	assert.Empty(t, c.StaleReason(ctx, entry, nil))
}
