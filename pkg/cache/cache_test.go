package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	defer c.Close()

	src := writeTempArtifact(t, t.TempDir(), "out.mp4", "fake-artifact-bytes")
	dest, err := c.Put("fp-1", src, true, false)
	require.NoError(t, err)
	assert.FileExists(t, dest)

	got, ok, err := c.Get("fp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, dest, got)
}

func TestGetMissReturnsFalse(t *testing.T) {
	c, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Get("does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetDropsEntryOnSizeMismatch(t *testing.T) {
	c, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	defer c.Close()

	src := writeTempArtifact(t, t.TempDir(), "out.mp4", "0123456789")
	dest, err := c.Put("fp-2", src, true, false)
	require.NoError(t, err)

	// Simulate corruption: truncate the blob after it was indexed.
	require.NoError(t, os.WriteFile(dest, []byte("x"), 0o644))

	_, ok, err := c.Get("fp-2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Get("fp-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvictReclaimsLeastRecentlyUsedUnderBudget(t *testing.T) {
	scratch := t.TempDir()
	c, err := Open(t.TempDir(), 15)
	require.NoError(t, err)
	defer c.Close()

	for _, fp := range []string{"old", "new"} {
		src := writeTempArtifact(t, scratch, fp+".bin", "0123456789") // 10 bytes each
		_, err := c.Put(fp, src, true, false)
		require.NoError(t, err)
	}

	// Putting a third entry pushes total size over budget (30 > 15),
	// forcing eviction of the least-recently-used ("old").
	src := writeTempArtifact(t, scratch, "third.bin", "0123456789")
	_, err = c.Put("third", src, true, false)
	require.NoError(t, err)

	_, ok, err := c.Get("old")
	require.NoError(t, err)
	assert.False(t, ok, "least-recently-used entry should have been evicted")

	_, ok, err = c.Get("third")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvictNeverReclaimsAcquiredEntry(t *testing.T) {
	scratch := t.TempDir()
	c, err := Open(t.TempDir(), 5)
	require.NoError(t, err)
	defer c.Close()

	src := writeTempArtifact(t, scratch, "held.bin", "0123456789")
	_, err = c.Put("held", src, true, false)
	require.NoError(t, err)

	c.Acquire("held")
	require.NoError(t, c.Evict())

	_, ok, err := c.Get("held")
	require.NoError(t, err)
	assert.True(t, ok, "an acquired (live-referenced) entry must never be evicted")

	c.Release("held")
}
