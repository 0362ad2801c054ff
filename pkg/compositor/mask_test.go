package compositor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipforge/pkg/keyframe"
	"clipforge/pkg/timecode"
	"clipforge/pkg/timeline"
)

func TestRenderMaskRectOpaqueInsideTransparentOutside(t *testing.T) {
	m := &timeline.Mask{Shape: timeline.MaskRect, X: 2, Y: 2, W: 4, H: 4}
	img, err := RenderMask(m, 10, 10, timecode.Position{})
	require.NoError(t, err)

	assert.Equal(t, uint8(255), img.AlphaAt(3, 3).A)
	assert.Equal(t, uint8(0), img.AlphaAt(0, 0).A)
}

func TestRenderMaskEllipseOpaqueAtCenter(t *testing.T) {
	m := &timeline.Mask{Shape: timeline.MaskEllipse, CX: 5, CY: 5, RX: 3, RY: 3}
	img, err := RenderMask(m, 10, 10, timecode.Position{})
	require.NoError(t, err)

	assert.Equal(t, uint8(255), img.AlphaAt(5, 5).A)
	assert.Equal(t, uint8(0), img.AlphaAt(0, 0).A)
}

func TestRenderMaskPolygonRayCasting(t *testing.T) {
	m := &timeline.Mask{Shape: timeline.MaskPolygon, Points: []timeline.Point{
		{X: 1, Y: 1}, {X: 8, Y: 1}, {X: 8, Y: 8}, {X: 1, Y: 8},
	}}
	img, err := RenderMask(m, 10, 10, timecode.Position{})
	require.NoError(t, err)

	assert.Equal(t, uint8(255), img.AlphaAt(5, 5).A)
	assert.Equal(t, uint8(0), img.AlphaAt(9, 9).A)
}

func TestRenderMaskInvertedFlipsAlpha(t *testing.T) {
	m := &timeline.Mask{Shape: timeline.MaskRect, X: 2, Y: 2, W: 4, H: 4, Inverted: true}
	img, err := RenderMask(m, 10, 10, timecode.Position{})
	require.NoError(t, err)

	assert.Equal(t, uint8(0), img.AlphaAt(3, 3).A)
	assert.Equal(t, uint8(255), img.AlphaAt(0, 0).A)
}

func TestRenderMaskFeatherSoftensEdge(t *testing.T) {
	m := &timeline.Mask{Shape: timeline.MaskRect, X: 2, Y: 2, W: 4, H: 4, Feather: 2}
	img, err := RenderMask(m, 10, 10, timecode.Position{})
	require.NoError(t, err)

	// A pixel just outside the hard-edged rect should no longer be fully
	// transparent once feathered.
	assert.Greater(t, img.AlphaAt(1, 3).A, uint8(0))
}

func TestRenderMaskAnimatedSamplesKeyframesAndDelegatesToBase(t *testing.T) {
	rate := timecode.FrameRate{Num: 30, Den: 1}
	p0, _ := timecode.NewPosition(0, rate)
	p1, _ := timecode.NewPosition(1, rate)

	kt := keyframe.NewTrack("mask.x")
	require.NoError(t, kt.Add(keyframe.Sample{Time: p0, Value: keyframe.NumberValue(0), Easing: keyframe.Step}))
	require.NoError(t, kt.Add(keyframe.Sample{Time: p1, Value: keyframe.NumberValue(5), Easing: keyframe.Step}))

	m := &timeline.Mask{
		Shape: timeline.MaskAnimated,
		Base:  &timeline.Mask{Shape: timeline.MaskRect, X: 0, Y: 0, W: 3, H: 3},
		Keyframes: keyframe.Table{
			"mask.x": kt,
		},
	}

	atStart, err := RenderMask(m, 10, 10, p0)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), atStart.AlphaAt(1, 1).A)

	atOne, err := RenderMask(m, 10, 10, p1)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), atOne.AlphaAt(1, 1).A)
	assert.Equal(t, uint8(255), atOne.AlphaAt(6, 1).A)
}

func TestRenderMaskUnrecognisedShapeErrors(t *testing.T) {
	m := &timeline.Mask{Shape: timeline.MaskShape("bogus")}
	_, err := RenderMask(m, 4, 4, timecode.Position{})
	assert.Error(t, err)
}
