package compositor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipforge/pkg/keyframe"
	"clipforge/pkg/timecode"
)

func pos(t *testing.T, s float64) timecode.Position {
	t.Helper()
	p, err := timecode.NewPosition(s, timecode.FrameRate{Num: 30, Den: 1})
	require.NoError(t, err)
	return p
}

func TestBuildExprNoSamplesReturnsFallback(t *testing.T) {
	kt := keyframe.NewTrack("opacity")
	assert.Equal(t, formatNum(0.5), BuildExpr(kt, 0.5))
}

func TestBuildExprSingleSampleIsConstant(t *testing.T) {
	kt := keyframe.NewTrack("opacity")
	require.NoError(t, kt.Add(keyframe.Sample{Time: pos(t, 1), Value: keyframe.NumberValue(0.75), Easing: keyframe.Linear}))
	assert.Equal(t, formatNum(0.75), BuildExpr(kt, 0))
}

func TestBuildExprLinearSegmentReferencesT(t *testing.T) {
	kt := keyframe.NewTrack("opacity")
	require.NoError(t, kt.Add(keyframe.Sample{Time: pos(t, 0), Value: keyframe.NumberValue(0), Easing: keyframe.Linear}))
	require.NoError(t, kt.Add(keyframe.Sample{Time: pos(t, 2), Value: keyframe.NumberValue(1), Easing: keyframe.Linear}))

	expr := BuildExpr(kt, 0)
	assert.Contains(t, expr, "if(lt(t,")
	assert.True(t, strings.Contains(expr, "min(1,max(0,"))
}

func TestBuildExprStepHoldsPriorValue(t *testing.T) {
	kt := keyframe.NewTrack("opacity")
	require.NoError(t, kt.Add(keyframe.Sample{Time: pos(t, 0), Value: keyframe.NumberValue(0.1), Easing: keyframe.Step}))
	require.NoError(t, kt.Add(keyframe.Sample{Time: pos(t, 5), Value: keyframe.NumberValue(0.9), Easing: keyframe.Linear}))

	expr := BuildExpr(kt, 0)
	assert.Contains(t, expr, formatNum(0.1))
}

func TestBuildExprEaseInOutProducesCubicTerm(t *testing.T) {
	kt := keyframe.NewTrack("scale")
	require.NoError(t, kt.Add(keyframe.Sample{Time: pos(t, 0), Value: keyframe.NumberValue(1), Easing: keyframe.EaseInOut}))
	require.NoError(t, kt.Add(keyframe.Sample{Time: pos(t, 1), Value: keyframe.NumberValue(2), Easing: keyframe.Linear}))

	expr := BuildExpr(kt, 0)
	assert.Contains(t, expr, "pow(")
	assert.Contains(t, expr, "3*pow(")
}
