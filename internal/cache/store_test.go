package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	s := NewFileStore(dir)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	require.NoError(t, s.Put(ctx, "inventory_cache.json", []byte(`{"a":1}`)))

	data, mtime, err := s.Get(ctx, "inventory_cache.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
	assert.True(t, mtime.After(before))
}

func TestFileStore_Permissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	s := NewFileStore(dir)

	require.NoError(t, s.Put(context.Background(), "k.json", []byte("{}")))

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	fileInfo, err := os.Stat(s.Path("k.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fileInfo.Mode().Perm())
}

func TestFileStore_Missing(t *testing.T) {
	s := NewFileStore(t.TempDir())

	_, _, err := s.Get(context.Background(), "nope.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_InvalidKey(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()

	for _, key := range []string{"", ".", "..", "../escape.json", `a\b`} {
		assert.Error(t, s.Put(ctx, key, []byte("{}")), key)
		_, _, err := s.Get(ctx, key)
		assert.Error(t, err, key)
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(ctx, "k.json", []byte("{}")))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k.json", entries[0].Name())
}

func TestFileStore_ConcurrentReadersSeeWholeDocuments(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()

	small := []byte(`{"v":"small"}`)
	large := []byte(`{"v":"` + strings.Repeat("x", 256*1024) + `"}`)
	require.NoError(t, s.Put(ctx, "k.json", small))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			blob := small
			if i%2 == 0 {
				blob = large
			}
			assert.NoError(t, s.Put(ctx, "k.json", blob))
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				data, _, err := s.Get(ctx, "k.json")
				if !assert.NoError(t, err) {
					return
				}
				assert.True(t, json.Valid(data), "reader observed a partial document")
			}
		}()
	}
	wg.Wait()
}
