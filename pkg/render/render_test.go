package render

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipforge/pkg/asset"
	"clipforge/pkg/cache"
	"clipforge/pkg/compositor"
	"clipforge/pkg/errs"
	"clipforge/pkg/mediaengine"
	"clipforge/pkg/timecode"
	"clipforge/pkg/timeline"
)

func fakeStat(string) (int64, int64, error) { return 2048, 0, nil }

// fakeEngine satisfies mediaengine.Engine by writing a placeholder file
// at the invocation's output path (the command's last argument) instead
// of shelling out to a real media engine.
type fakeEngine struct {
	invocations int
	onRun       func(cmd mediaengine.Command) error
	progress    []mediaengine.Progress
}

func (f *fakeEngine) Run(ctx context.Context, cmd mediaengine.Command, onProgress func(mediaengine.Progress)) error {
	f.invocations++
	for _, p := range f.progress {
		if onProgress != nil {
			onProgress(p)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if f.onRun != nil {
		if err := f.onRun(cmd); err != nil {
			return err
		}
	}
	out := cmd.Args[len(cmd.Args)-1]
	return os.WriteFile(out, []byte("fake-media"), 0o644)
}

func singleClipTimeline(t *testing.T) (*timeline.Timeline, *asset.Registry) {
	t.Helper()
	ids := &timecode.IDGenerator{}
	registry := asset.NewRegistry(ids, fakeStat, nil)
	rate := timecode.FrameRate{Num: 30, Den: 1}

	tl := timeline.New(ids, registry, func(timecode.AssetId) (timecode.Duration, bool) {
		d, _ := timecode.NewDuration(10, rate)
		return d, true
	})

	a, err := registry.Import("/media/clip.mp4", asset.KindVideo, asset.Metadata{})
	require.NoError(t, err)

	track := tl.AddTrack(timeline.TrackVideo, "V1", 0)
	p := func(s float64) timecode.Position { pos, _ := timecode.NewPosition(s, rate); return pos }
	d := func(s float64) timecode.Duration { dur, _ := timecode.NewDuration(s, rate); return dur }
	_, err = tl.AddClip(track.ID, a.ID, p(0), d(5), p(2), p(7))
	require.NoError(t, err)

	return tl, registry
}

func touchAssetFiles(t *testing.T, registry *asset.Registry) {
	t.Helper()
	for _, a := range registry.All() {
		require.NoError(t, os.MkdirAll(filepath.Dir(a.Path), 0o755))
		require.NoError(t, os.WriteFile(a.Path, []byte("source"), 0o644))
	}
}

func testOptions(t *testing.T, outDir string) Options {
	t.Helper()
	rate := timecode.FrameRate{Num: 30, Den: 1}
	start, err := timecode.NewPosition(0, rate)
	require.NoError(t, err)
	end, err := timecode.NewPosition(5, rate)
	require.NoError(t, err)
	return Options{
		Window:     compositor.Window{Start: start, End: end},
		Profile:    compositor.Profile{Width: 1280, Height: 720, FrameRate: rate},
		OutputPath: filepath.Join(outDir, "out.mp4"),
	}
}

// Scenario 1 (§8): trim & mux — one step, total_frames = 150, output
// exists on Done.
func TestRunTrimAndMux(t *testing.T) {
	tl, registry := singleClipTimeline(t)
	touchAssetFiles(t, registry)

	root := t.TempDir()
	scratch := filepath.Join(root, "scratch")
	c, err := cache.Open(filepath.Join(root, "cache"), 0)
	require.NoError(t, err)
	defer c.Close()

	engine := &fakeEngine{}
	p := New(engine, c, scratch)

	opts := testOptions(t, root)
	var snapshots []ProgressSnapshot
	result, err := p.Run(context.Background(), tl, registry, opts, func(s ProgressSnapshot) bool {
		snapshots = append(snapshots, s)
		return true
	})
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.FileExists(t, opts.OutputPath)
	assert.Equal(t, 1, engine.invocations)
}

// Scenario 4 (§8): cache hit reuses artifact — a second render of the same
// timeline reports zero media-engine invocations for its cacheable
// (TrackPreRender) steps.
func TestRunReusesCachedTrackPreRender(t *testing.T) {
	ids := &timecode.IDGenerator{}
	registry := asset.NewRegistry(ids, fakeStat, nil)
	rate := timecode.FrameRate{Num: 30, Den: 1}
	tl := timeline.New(ids, registry, func(timecode.AssetId) (timecode.Duration, bool) {
		d, _ := timecode.NewDuration(1000, rate)
		return d, true
	})
	p := func(s float64) timecode.Position { pos, _ := timecode.NewPosition(s, rate); return pos }
	d := func(s float64) timecode.Duration { dur, _ := timecode.NewDuration(s, rate); return dur }

	base, err := registry.Import("/media/base.mp4", asset.KindVideo, asset.Metadata{})
	require.NoError(t, err)
	overlay, err := registry.Import("/media/overlay.mp4", asset.KindVideo, asset.Metadata{})
	require.NoError(t, err)

	baseTrack := tl.AddTrack(timeline.TrackVideo, "Base", 0)
	_, err = tl.AddClip(baseTrack.ID, base.ID, p(0), d(900), p(0), p(900))
	require.NoError(t, err)
	overlayTrack := tl.AddTrack(timeline.TrackVideo, "Overlay", 1)
	_, err = tl.AddClip(overlayTrack.ID, overlay.ID, p(0), d(900), p(0), p(900))
	require.NoError(t, err)

	touchAssetFiles(t, registry)

	root := t.TempDir()
	c, err := cache.Open(filepath.Join(root, "cache"), 0)
	require.NoError(t, err)
	defer c.Close()

	window := compositor.Window{Start: p(0), End: p(900)} // wide enough to force optimisation
	profile := compositor.Profile{Width: 640, Height: 360, FrameRate: rate}
	outDir := filepath.Join(root, "out")

	run := func(runID string) *Result {
		scratch := filepath.Join(root, "scratch", runID)
		engine := &fakeEngine{}
		pipeline := New(engine, c, scratch)
		opts := Options{Window: window, Profile: profile, OutputPath: filepath.Join(outDir, runID+".mp4"), OptimizeComplexTimelines: true}
		result, err := pipeline.Run(context.Background(), tl, registry, opts, nil)
		require.NoError(t, err)
		result.EngineInvocations = engine.invocations
		return result
	}

	first := run("run1")
	second := run("run2")

	assert.Equal(t, 3, first.EngineInvocations) // 2 pre-renders + 1 compose, nothing cached yet
	assert.Equal(t, 1, second.EngineInvocations) // both pre-renders hit cache; compose always re-runs
	assert.Equal(t, 2, second.CacheHits)
}

// Scenario 5 (§8): cancellation mid-render leaves no output file and
// reports the Cancelled state distinctly from Failed.
func TestRunCancellationLeavesNoOutput(t *testing.T) {
	tl, registry := singleClipTimeline(t)
	touchAssetFiles(t, registry)

	root := t.TempDir()
	c, err := cache.Open(filepath.Join(root, "cache"), 0)
	require.NoError(t, err)
	defer c.Close()

	engine := &fakeEngine{progress: []mediaengine.Progress{{Frame: 1}, {Frame: 2}}}
	pipeline := New(engine, c, filepath.Join(root, "scratch"))

	opts := testOptions(t, root)
	calls := 0
	_, err = pipeline.Run(context.Background(), tl, registry, opts, func(ProgressSnapshot) bool {
		calls++
		return calls < 1 // cancel on the very first progress event
	})

	require.Error(t, err)
	var cancelled *errs.Cancelled
	assert.ErrorAs(t, err, &cancelled)
	assert.NoFileExists(t, opts.OutputPath)
}

// Boundary (§8): a render window that extends past the last clip still
// plans a tail step and runs to Done.
func TestRunOverRenderWindowBeyondLastClipProducesTailStep(t *testing.T) {
	tl, registry := singleClipTimeline(t)
	touchAssetFiles(t, registry)

	root := t.TempDir()
	c, err := cache.Open(filepath.Join(root, "cache"), 0)
	require.NoError(t, err)
	defer c.Close()

	engine := &fakeEngine{}
	pipeline := New(engine, c, filepath.Join(root, "scratch"))

	rate := timecode.FrameRate{Num: 30, Den: 1}
	start, _ := timecode.NewPosition(0, rate)
	end, _ := timecode.NewPosition(9, rate) // past the clip's 5s, within asset duration
	opts := Options{
		Window:     compositor.Window{Start: start, End: end},
		Profile:    compositor.Profile{Width: 640, Height: 360, FrameRate: rate},
		OutputPath: filepath.Join(root, "out.mp4"),
	}

	result, err := pipeline.Run(context.Background(), tl, registry, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
}

// §7: "repeated failures within one run escalate to fatal" — a cache
// failure alone is swallowed (the step already has its output), but
// once it recurs past maxCacheFailuresPerRun within one run the same
// kind of error becomes fatal instead of being tolerated indefinitely.
func TestEscalateCacheFailureToleratesUpToThresholdThenFails(t *testing.T) {
	p := &Pipeline{}
	cacheErr := &errs.CacheError{Fingerprint: "abc123", Reason: "index write", Err: os.ErrPermission}

	for i := 0; i < maxCacheFailuresPerRun; i++ {
		require.NoError(t, p.escalateCacheFailure(cacheErr), "attempt %d should stay below threshold", i+1)
	}

	err := p.escalateCacheFailure(cacheErr)
	require.Error(t, err)
	var asCacheErr *errs.CacheError
	assert.ErrorAs(t, err, &asCacheErr)
	assert.Contains(t, err.Error(), "cache failed")
}

// Once the per-run counter is reset (as Run does at the start of each
// run; here it is reset directly), escalateCacheFailure tolerates failures
// again even though a prior run on the same Pipeline already escalated.
func TestRunResetsCacheFailureCounterBetweenRuns(t *testing.T) {
	p := &Pipeline{}
	cacheErr := &errs.CacheError{Fingerprint: "abc123", Reason: "index write", Err: os.ErrPermission}
	for i := 0; i <= maxCacheFailuresPerRun; i++ {
		p.escalateCacheFailure(cacheErr) //nolint:errcheck
	}

	p.currentRunID = "next-run"
	p.cacheFailures.Store(0)
	require.NoError(t, p.escalateCacheFailure(cacheErr))
}
