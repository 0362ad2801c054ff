package keyframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipforge/pkg/timecode"
)

func pos(s float64) timecode.Position {
	rate, _ := timecode.NewFrameRate(30, 1)
	p, _ := timecode.NewPosition(s, rate)
	return p
}

func TestSampleUndefinedWithoutSamples(t *testing.T) {
	track := NewTrack("opacity")
	_, ok := track.Sample(pos(1))
	assert.False(t, ok)
}

func TestSampleClampsBeforeFirstAndAfterLast(t *testing.T) {
	track := NewTrack("opacity")
	require.NoError(t, track.Add(Sample{Time: pos(2), Value: NumberValue(0), Easing: Linear}))
	require.NoError(t, track.Add(Sample{Time: pos(4), Value: NumberValue(1), Easing: Linear}))

	v, ok := track.Sample(pos(0))
	require.True(t, ok)
	assert.Equal(t, 0.0, v.Number)

	v, ok = track.Sample(pos(10))
	require.True(t, ok)
	assert.Equal(t, 1.0, v.Number)
}

func TestSampleAtExactKeyframeReproducesValue(t *testing.T) {
	track := NewTrack("opacity")
	require.NoError(t, track.Add(Sample{Time: pos(2), Value: NumberValue(0.3), Easing: Linear}))
	require.NoError(t, track.Add(Sample{Time: pos(4), Value: NumberValue(0.9), Easing: EaseOut}))

	v, ok := track.Sample(pos(4))
	require.True(t, ok)
	assert.Equal(t, 0.9, v.Number)
}

func TestInterpolationStaysWithinBounds(t *testing.T) {
	track := NewTrack("opacity")
	require.NoError(t, track.Add(Sample{Time: pos(0), Value: NumberValue(0.2), Easing: Linear}))
	require.NoError(t, track.Add(Sample{Time: pos(10), Value: NumberValue(0.8), Easing: Linear}))

	for _, tm := range []float64{1, 3, 5, 7, 9} {
		v, ok := track.Sample(pos(tm))
		require.True(t, ok)
		assert.GreaterOrEqual(t, v.Number, 0.2)
		assert.LessOrEqual(t, v.Number, 0.8)
	}
}

func TestStepEasingHoldsValue(t *testing.T) {
	track := NewTrack("opacity")
	require.NoError(t, track.Add(Sample{Time: pos(0), Value: NumberValue(0.2), Easing: Step}))
	require.NoError(t, track.Add(Sample{Time: pos(10), Value: NumberValue(0.8), Easing: Step}))

	v, ok := track.Sample(pos(9.9))
	require.True(t, ok)
	assert.Equal(t, 0.2, v.Number)
}

func TestCategoricalAlwaysSteps(t *testing.T) {
	track := NewTrack("blend_mode")
	require.NoError(t, track.Add(Sample{Time: pos(0), Value: CategoryValue("Normal"), Easing: Linear}))
	require.NoError(t, track.Add(Sample{Time: pos(10), Value: CategoryValue("Add"), Easing: Linear}))

	v, ok := track.Sample(pos(5))
	require.True(t, ok)
	assert.Equal(t, "Normal", v.Category)
}

func TestNonEnumBlendModeRejected(t *testing.T) {
	track := NewTrack("blend_mode")
	err := track.Add(Sample{Time: pos(0), Value: NumberValue(1), Easing: Linear})
	assert.ErrorIs(t, err, ErrNonEnumBlendMode)
}

func TestDuplicateTimeRejected(t *testing.T) {
	track := NewTrack("opacity")
	require.NoError(t, track.Add(Sample{Time: pos(1), Value: NumberValue(0), Easing: Linear}))
	err := track.Add(Sample{Time: pos(1), Value: NumberValue(1), Easing: Linear})
	assert.ErrorIs(t, err, ErrDuplicateTime)
}

func TestRemoveSample(t *testing.T) {
	track := NewTrack("opacity")
	require.NoError(t, track.Add(Sample{Time: pos(1), Value: NumberValue(0), Easing: Linear}))
	assert.True(t, track.Remove(pos(1)))
	assert.False(t, track.Remove(pos(1)))
}

func TestClassifyParameter(t *testing.T) {
	assert.Equal(t, KindNumeric, ClassifyParameter("opacity"))
	assert.Equal(t, KindCategorical, ClassifyParameter("blend_mode"))
	assert.Equal(t, KindCategorical, ClassifyParameter("mask.inverted"))
	assert.Equal(t, KindNumeric, ClassifyParameter("mask.feather"))
	assert.Equal(t, KindUnknown, ClassifyParameter("nonsense"))
}
