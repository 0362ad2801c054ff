package timeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipforge/pkg/errs"
	"clipforge/pkg/timecode"
)

var rate, _ = timecode.NewFrameRate(30, 1)

func p(s float64) timecode.Position {
	pos, _ := timecode.NewPosition(s, rate)
	return pos
}

func d(s float64) timecode.Duration {
	dur, _ := timecode.NewDuration(s, rate)
	return dur
}

func newTestTimeline(assetDur timecode.Duration) *Timeline {
	ids := &timecode.IDGenerator{}
	return New(ids, nil, func(timecode.AssetId) (timecode.Duration, bool) {
		return assetDur, true
	})
}

func TestAddClipRejectsOverlap(t *testing.T) {
	tl := newTestTimeline(d(100))
	track := tl.AddTrack(TrackVideo, "V1", 0)

	_, err := tl.AddClip(track.ID, 1, p(0), d(5), p(0), p(5))
	require.NoError(t, err)

	_, err = tl.AddClip(track.ID, 1, p(3), d(5), p(0), p(5))
	var verr *errs.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "ClipOverlap", verr.Reason)
}

func TestAddClipRejectsZeroDuration(t *testing.T) {
	tl := newTestTimeline(d(100))
	track := tl.AddTrack(TrackVideo, "V1", 0)

	_, err := tl.AddClip(track.ID, 1, p(0), d(0), p(0), p(0))
	var verr *errs.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "InvalidRange", verr.Reason)
}

func TestAddClipRejectsRangeExceedingAsset(t *testing.T) {
	tl := newTestTimeline(d(4))
	track := tl.AddTrack(TrackVideo, "V1", 0)

	_, err := tl.AddClip(track.ID, 1, p(0), d(5), p(0), p(5))
	var verr *errs.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "InvalidRange", verr.Reason)
}

func TestLockedTrackRejectsEdits(t *testing.T) {
	tl := newTestTimeline(d(100))
	track := tl.AddTrack(TrackVideo, "V1", 0)
	clip, err := tl.AddClip(track.ID, 1, p(0), d(5), p(0), p(5))
	require.NoError(t, err)

	require.NoError(t, tl.SetTrackProperty(track.ID, "locked", true))

	err = tl.MoveClip(track.ID, clip.ID, p(10))
	var verr *errs.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "LockedTrack", verr.Reason)
}

func TestSplitAtBoundaryIsNoOp(t *testing.T) {
	tl := newTestTimeline(d(100))
	track := tl.AddTrack(TrackVideo, "V1", 0)
	clip, err := tl.AddClip(track.ID, 1, p(0), d(5), p(0), p(5))
	require.NoError(t, err)

	res, err := tl.SplitClipAt(track.ID, p(0))
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, clip.ID, res.Right)
}

func TestSplitInsideClipReproducesOriginal(t *testing.T) {
	tl := newTestTimeline(d(100))
	track := tl.AddTrack(TrackVideo, "V1", 0)
	_, err := tl.AddClip(track.ID, 1, p(0), d(10), p(2), p(12))
	require.NoError(t, err)

	res, err := tl.SplitClipAt(track.ID, p(4))
	require.NoError(t, err)
	require.False(t, res.NoOp)

	left, ok := tl.Clip(track.ID, res.Left)
	require.True(t, ok)
	right, ok := tl.Clip(track.ID, res.Right)
	require.True(t, ok)

	assert.InDelta(t, 0, left.TimelinePosition.Seconds(), 1e-9)
	assert.InDelta(t, 4, left.Duration.Seconds(), 1e-9)
	assert.InDelta(t, 2, left.SourceIn.Seconds(), 1e-9)
	assert.InDelta(t, 6, left.SourceOut.Seconds(), 1e-9)

	assert.InDelta(t, 4, right.TimelinePosition.Seconds(), 1e-9)
	assert.InDelta(t, 6, right.Duration.Seconds(), 1e-9)
	assert.InDelta(t, 6, right.SourceIn.Seconds(), 1e-9)
	assert.InDelta(t, 12, right.SourceOut.Seconds(), 1e-9)
}

func TestSplitInGapRejected(t *testing.T) {
	tl := newTestTimeline(d(100))
	track := tl.AddTrack(TrackVideo, "V1", 0)
	_, err := tl.AddClip(track.ID, 1, p(0), d(5), p(0), p(5))
	require.NoError(t, err)

	_, err = tl.SplitClipAt(track.ID, p(20))
	var verr *errs.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "InvalidRange", verr.Reason)
}

func TestRelationshipCycleRejected(t *testing.T) {
	tl := newTestTimeline(d(100))
	a := tl.AddTrack(TrackVideo, "A", 0)
	b := tl.AddTrack(TrackVideo, "B", 1)

	require.NoError(t, tl.AddRelationship(a.ID, b.ID, RelationshipSync))

	err := tl.AddRelationship(b.ID, a.ID, RelationshipSync)
	var verr *errs.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "CycleDetected", verr.Reason)
}

func TestTracksOrderedByKindLayerID(t *testing.T) {
	tl := newTestTimeline(d(100))
	tl.AddTrack(TrackVideo, "V2", 2)
	tl.AddTrack(TrackAudio, "A1", 0)
	tl.AddTrack(TrackVideo, "V1", 1)

	ordered := tl.Tracks()
	require.Len(t, ordered, 3)
	assert.Equal(t, TrackAudio, ordered[0].Kind)
	assert.Equal(t, TrackVideo, ordered[1].Kind)
	assert.Equal(t, 1, ordered[1].LayerOrder)
	assert.Equal(t, 2, ordered[2].LayerOrder)
}

func TestRemoveClipThenRestoreKeepsID(t *testing.T) {
	tl := newTestTimeline(d(100))
	track := tl.AddTrack(TrackVideo, "V1", 0)
	clip, err := tl.AddClip(track.ID, 1, p(0), d(5), p(0), p(5))
	require.NoError(t, err)

	removed, err := tl.RemoveClip(track.ID, clip.ID)
	require.NoError(t, err)
	assert.Equal(t, clip.ID, removed.ID)

	require.NoError(t, tl.AddClipWithID(track.ID, removed))
	restored, ok := tl.Clip(track.ID, clip.ID)
	require.True(t, ok)
	assert.Equal(t, clip.ID, restored.ID)
}

func TestTimelineDuration(t *testing.T) {
	tl := newTestTimeline(d(100))
	track := tl.AddTrack(TrackVideo, "V1", 0)
	_, err := tl.AddClip(track.ID, 1, p(2), d(5), p(0), p(5))
	require.NoError(t, err)

	assert.InDelta(t, 7, tl.Duration().Seconds(), 1e-9)
}
