package compositor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipforge/pkg/asset"
	"clipforge/pkg/timecode"
	"clipforge/pkg/timeline"
)

func fakeStat(string) (int64, int64, error) { return 1024, 0, nil }

func newPlanTestTimeline(t *testing.T) (*timeline.Timeline, *asset.Registry) {
	t.Helper()
	ids := &timecode.IDGenerator{}
	registry := asset.NewRegistry(ids, fakeStat, nil)
	rate := timecode.FrameRate{Num: 30, Den: 1}

	tl := timeline.New(ids, registry, func(timecode.AssetId) (timecode.Duration, bool) {
		d, _ := timecode.NewDuration(10, rate)
		return d, true
	})

	p := func(s float64) timecode.Position { pos, _ := timecode.NewPosition(s, rate); return pos }
	d := func(s float64) timecode.Duration { dur, _ := timecode.NewDuration(s, rate); return dur }

	base, err := registry.Import("/media/base.mp4", asset.KindVideo, asset.Metadata{})
	require.NoError(t, err)
	overlay, err := registry.Import("/media/overlay.mp4", asset.KindVideo, asset.Metadata{})
	require.NoError(t, err)

	baseTrack := tl.AddTrack(timeline.TrackVideo, "Base", 0)
	_, err = tl.AddClip(baseTrack.ID, base.ID, p(0), d(5), p(0), p(5))
	require.NoError(t, err)

	overlayTrack := tl.AddTrack(timeline.TrackVideo, "Overlay", 1)
	require.NoError(t, tl.SetTrackProperty(overlayTrack.ID, "blend_mode", timeline.BlendMultiply))
	_, err = tl.AddClip(overlayTrack.ID, overlay.ID, p(0), d(5), p(0), p(5))
	require.NoError(t, err)

	return tl, registry
}

func testWindow(t *testing.T) Window {
	rate := timecode.FrameRate{Num: 30, Den: 1}
	start, err := timecode.NewPosition(0, rate)
	require.NoError(t, err)
	end, err := timecode.NewPosition(5, rate)
	require.NoError(t, err)
	return Window{Start: start, End: end}
}

func testProfile() Profile {
	return Profile{Width: 1280, Height: 720, FrameRate: timecode.FrameRate{Num: 30, Den: 1}}
}

func TestBuildPlanMonolithicProducesSingleComposeStep(t *testing.T) {
	tl, registry := newPlanTestTimeline(t)
	plan, err := BuildPlan(tl, registry, testWindow(t), testProfile(), t.TempDir(), false)
	require.NoError(t, err)

	assert.False(t, plan.Optimized)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, StepCompose, plan.Steps[0].Kind)
	assert.Equal(t, int64(150), plan.TotalFrames)
	assert.Contains(t, plan.Steps[0].Filtergraph, "blend=all_mode=multiply")
	assert.Len(t, plan.Steps[0].Inputs, 2)
}

func TestBuildPlanOptimizedProducesPerTrackStepsPlusCompose(t *testing.T) {
	tl, registry := newPlanTestTimeline(t)
	profile := testProfile()
	window := testWindow(t)

	// Force the optimisation switch regardless of the default budget by
	// widening the window far beyond two tracks' worth of headroom.
	wideEnd, err := timecode.NewPosition(window.Start.Seconds()+DefaultComplexityBudget, profile.FrameRate)
	require.NoError(t, err)
	window.End = wideEnd

	plan, err := BuildPlan(tl, registry, window, profile, t.TempDir(), true)
	require.NoError(t, err)

	assert.True(t, plan.Optimized)
	require.Len(t, plan.Steps, 3) // 2 pre-renders + 1 compose
	assert.Equal(t, StepTrackPreRender, plan.Steps[0].Kind)
	assert.Equal(t, StepTrackPreRender, plan.Steps[1].Kind)
	assert.Equal(t, StepCompose, plan.Steps[2].Kind)
	assert.Len(t, plan.Steps[2].Inputs, 2)
}

func TestBuildPlanAppliesMaskAsExtraInput(t *testing.T) {
	tl, registry := newPlanTestTimeline(t)
	track := tl.Tracks()[0]
	track.Mask = &timeline.Mask{Shape: timeline.MaskRect, X: 0, Y: 0, W: 100, H: 100}

	plan, err := BuildPlan(tl, registry, testWindow(t), testProfile(), t.TempDir(), false)
	require.NoError(t, err)

	require.Len(t, plan.Steps, 1)
	assert.True(t, strings.Contains(plan.Steps[0].Filtergraph, "alphamerge"))
}

func TestBuildPlanMixesAudioTracks(t *testing.T) {
	tl, registry := newPlanTestTimeline(t)
	rate := timecode.FrameRate{Num: 30, Den: 1}
	p := func(s float64) timecode.Position { pos, _ := timecode.NewPosition(s, rate); return pos }
	d := func(s float64) timecode.Duration { dur, _ := timecode.NewDuration(s, rate); return dur }

	narration, err := registry.Import("/media/narration.wav", asset.KindAudio, asset.Metadata{})
	require.NoError(t, err)
	music, err := registry.Import("/media/music.wav", asset.KindAudio, asset.Metadata{})
	require.NoError(t, err)

	narrationTrack := tl.AddTrack(timeline.TrackAudio, "Narration", 0)
	_, err = tl.AddClip(narrationTrack.ID, narration.ID, p(0), d(5), p(0), p(5))
	require.NoError(t, err)

	musicTrack := tl.AddTrack(timeline.TrackAudio, "Music", 1)
	_, err = tl.AddClip(musicTrack.ID, music.ID, p(0), d(5), p(0), p(5))
	require.NoError(t, err)
	require.NoError(t, tl.SetTrackProperty(musicTrack.ID, "muted", true))

	plan, err := BuildPlan(tl, registry, testWindow(t), testProfile(), t.TempDir(), false)
	require.NoError(t, err)

	require.Len(t, plan.Steps, 1)
	step := plan.Steps[0]
	assert.Contains(t, step.Filtergraph, "volume=")
	assert.NotEmpty(t, step.AudioOutputLabel)
	assert.NotContains(t, step.Filtergraph, "amix", "a single unmuted audio track needs no amix stage")
}

func TestBuildPlanWithNoActiveTracksEmitsBlackCanvas(t *testing.T) {
	ids := &timecode.IDGenerator{}
	registry := asset.NewRegistry(ids, fakeStat, nil)
	tl := timeline.New(ids, registry, func(timecode.AssetId) (timecode.Duration, bool) { return timecode.Duration{}, false })

	plan, err := BuildPlan(tl, registry, testWindow(t), testProfile(), t.TempDir(), false)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Contains(t, plan.Steps[0].Filtergraph, "color=c=black")
}
