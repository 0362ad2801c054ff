package asset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipforge/pkg/timecode"
)

func fakeStat(sizes map[string]int64) StatFunc {
	return func(path string) (int64, int64, error) {
		return sizes[path], 1000, nil
	}
}

func TestImportEnforcesUniquePath(t *testing.T) {
	reg := NewRegistry(&timecode.IDGenerator{}, fakeStat(map[string]int64{"/a.mp4": 10}), nil)

	_, err := reg.Import("/a.mp4", KindVideo, Metadata{})
	require.NoError(t, err)

	_, err = reg.Import("/a.mp4", KindVideo, Metadata{})
	assert.ErrorIs(t, err, ErrDuplicatePath)
}

func TestRemoveRejectsWhenReferenced(t *testing.T) {
	reg := NewRegistry(&timecode.IDGenerator{}, fakeStat(map[string]int64{"/a.mp4": 10}), func(timecode.AssetId) int {
		return 1
	})
	a, err := reg.Import("/a.mp4", KindVideo, Metadata{})
	require.NoError(t, err)

	err = reg.Remove(a.ID)
	assert.ErrorIs(t, err, ErrReferenced)
}

func TestRemoveSucceedsWhenUnreferenced(t *testing.T) {
	reg := NewRegistry(&timecode.IDGenerator{}, fakeStat(map[string]int64{"/a.mp4": 10}), func(timecode.AssetId) int {
		return 0
	})
	a, err := reg.Import("/a.mp4", KindVideo, Metadata{})
	require.NoError(t, err)

	require.NoError(t, reg.Remove(a.ID))
	_, err = reg.Get(a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNeedsReprobeDetectsSizeChange(t *testing.T) {
	sizes := map[string]int64{"/a.mp4": 10}
	reg := NewRegistry(&timecode.IDGenerator{}, fakeStat(sizes), nil)
	a, err := reg.Import("/a.mp4", KindVideo, Metadata{})
	require.NoError(t, err)

	needs, err := reg.NeedsReprobe(a.ID)
	require.NoError(t, err)
	assert.False(t, needs)

	sizes["/a.mp4"] = 20
	needs, err = reg.NeedsReprobe(a.ID)
	require.NoError(t, err)
	assert.True(t, needs)
}
