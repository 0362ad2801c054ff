package timecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPositionRejectsNegative(t *testing.T) {
	rate, err := NewFrameRate(30, 1)
	require.NoError(t, err)

	_, err = NewPosition(-1, rate)
	assert.Error(t, err)

	p, err := NewPosition(0, rate)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Seconds())
}

func TestPositionArithmetic(t *testing.T) {
	rate, err := NewFrameRate(30, 1)
	require.NoError(t, err)

	p, err := NewPosition(2, rate)
	require.NoError(t, err)
	d, err := NewDuration(5, rate)
	require.NoError(t, err)

	end := p.Add(d)
	assert.InDelta(t, 7.0, end.Seconds(), 1e-9)

	back := end.Sub(p)
	assert.InDelta(t, 5.0, back.Seconds(), 1e-9)
}

func TestPositionCompare(t *testing.T) {
	rate, _ := NewFrameRate(30, 1)
	a, _ := NewPosition(1, rate)
	b, _ := NewPosition(2, rate)

	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.False(t, a.Equal(b))
	assert.Equal(t, -1, a.Compare(b))
}

func TestFrameConversion(t *testing.T) {
	rate, _ := NewFrameRate(30, 1)
	p := PositionFromFrame(90, rate)
	assert.InDelta(t, 3.0, p.Seconds(), 1e-9)
	assert.Equal(t, int64(90), p.Frame())
}

func TestIDGeneratorNeverReuses(t *testing.T) {
	gen := &IDGenerator{}
	a1 := gen.NextAssetId()
	a2 := gen.NextAssetId()
	assert.NotEqual(t, a1, a2)
	assert.Less(t, uint64(a1), uint64(a2))
}

func TestIDGeneratorResumesFromHighWaterMark(t *testing.T) {
	gen := NewIDGenerator(41)
	id := gen.NextTrackId()
	assert.Equal(t, TrackId(42), id)
	assert.Equal(t, uint64(42), gen.HighWaterMark())
}
