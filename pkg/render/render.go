// Package render implements the render pipeline (C8): it plans a render,
// drives the media engine, consults the render cache for reusable
// intermediates, and reports progress through the state machine
// Planning -> Probing -> Rendering(TrackPreRender|Compose|Mux) ->
// Finalising -> Done|Failed|Cancelled.
//
// The subprocess lifecycle is delegated entirely to pkg/mediaengine
// (itself grounded on the teacher's pkg/ffmpeg.process); this package is
// grounded on pkg/monitor.Recorder.start's event-loop-with-timers shape,
// generalized from a single infinite recording loop into a finite,
// ordered render plan, and on pkg/system.WorkerPoolSize for worker-pool
// sizing. The pipeline takes no host samples during a run.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"clipforge/pkg/asset"
	"clipforge/pkg/cache"
	"clipforge/pkg/compositor"
	"clipforge/pkg/errs"
	"clipforge/pkg/mediaengine"
	"clipforge/pkg/system"
	"clipforge/pkg/timeline"
)

// State names one state in §4.7's state machine.
type State string

// Recognised states.
const (
	StatePlanning   State = "Planning"
	StateProbing    State = "Probing"
	StateRendering  State = "Rendering"
	StateFinalising State = "Finalising"
	StateDone       State = "Done"
	StateFailed     State = "Failed"
	StateCancelled  State = "Cancelled"
)

// Options configures one render run.
type Options struct {
	// RunID identifies this run for log correlation (pkg/log's Event.Run)
	// and for diagnosing a Failed result after the fact via
	// log.Logger.RecentForRun. Caller-allocated, like ScratchDir; "" is
	// valid and simply means no correlation is recorded.
	RunID string

	Window     compositor.Window
	Profile    compositor.Profile
	OutputPath string

	// EngineBin is the media-engine binary path (from pkg/config's Env);
	// defaults to "ffmpeg" on the PATH if unset.
	EngineBin string

	// OptimizeComplexTimelines selects between compositor mode (a) and
	// mode (b); see §4.6.
	OptimizeComplexTimelines bool

	// HardwareAccelHint is passed through to the media engine unexamined,
	// per §6 ("optional hardware-acceleration hint").
	HardwareAccelHint string

	// StepTimeout bounds each media-engine invocation's wall clock; on
	// expiry the step fails with EngineTimeout (§5, §6).
	StepTimeout time.Duration

	// WorkerPoolSize bounds how many TrackPreRender steps run
	// concurrently. 0 selects system.WorkerPoolSize().
	WorkerPoolSize int

	// PreserveScratchOnCancel keeps the scratch directory for
	// post-mortem instead of cleaning it up on Cancelled (§4.7).
	PreserveScratchOnCancel bool
}

// Result summarises a completed run.
type Result struct {
	State             State
	OutputPath        string
	EngineInvocations int
	CacheHits         int
}

// StageHook is notified on every state and stage transition, per §4.7
// ("Transitions are logged via the progress reporter"). runID is the
// triggering Options.RunID, threaded through so a long-lived hook
// (registered once in app.go) can still correlate lines per run.
type StageHook func(state State, stage Stage, runID string)

// maxCacheFailuresPerRun bounds how many CacheError occurrences (Get or
// Put) one run tolerates before treating the cache as unusable rather
// than retrying recomputation indefinitely, per §7 ("repeated failures
// within one run escalate to fatal").
const maxCacheFailuresPerRun = 3

// Pipeline drives one project's renders against a media engine and a
// render cache. Both are explicit dependencies (§9 "model them as
// explicit dependencies threaded through the render pipeline, not as
// ambient state").
type Pipeline struct {
	Engine     mediaengine.Engine
	Cache      *cache.Cache
	ScratchDir string // per-run scratch directory; caller allocates and owns cleanup policy
	System     *system.System

	onStage StageHook

	// currentRunID and cacheFailures are run-scoped state, reset at the
	// start of Run. A Pipeline serves one run at a time (callers
	// construct one per concurrent render, per C8's grounding note).
	currentRunID  string
	cacheFailures atomic.Int32
}

// New returns a Pipeline ready to run a single render.
func New(engine mediaengine.Engine, c *cache.Cache, scratchDir string) *Pipeline {
	return &Pipeline{Engine: engine, Cache: c, ScratchDir: scratchDir}
}

// OnStage registers a hook invoked on every state/stage transition.
func (p *Pipeline) OnStage(fn StageHook) { p.onStage = fn }

func (p *Pipeline) transition(state State, stage Stage) {
	if p.onStage != nil {
		p.onStage(state, stage, p.currentRunID)
	}
}

// Run executes opts against tl, driving the media engine step by step and
// reporting progress through onProgress. A cancellation observed via ctx
// or a false return from onProgress stops the run, deletes partial
// outputs, and returns *errs.Cancelled (the state machine lands on
// Cancelled, not Failed).
func (p *Pipeline) Run(ctx context.Context, tl *timeline.Timeline, registry *asset.Registry, opts Options, onProgress ProgressFunc) (*Result, error) {
	p.currentRunID = opts.RunID
	p.cacheFailures.Store(0)

	p.transition(StatePlanning, "")
	plan, err := compositor.BuildPlan(tl, registry, opts.Window, opts.Profile, p.ScratchDir, opts.OptimizeComplexTimelines)
	if err != nil {
		p.transition(StateFailed, "")
		return nil, fmt.Errorf("render: plan: %w", err)
	}

	p.transition(StateProbing, "")
	if err := p.probe(plan, registry); err != nil {
		p.transition(StateFailed, "")
		return nil, err
	}

	result := &Result{}
	p.transition(StateRendering, "")

	if err := p.runSteps(ctx, tl, registry, plan, opts, onProgress, result); err != nil {
		if _, ok := err.(*errs.Cancelled); ok {
			p.transition(StateCancelled, "")
			p.cleanupScratch(opts.PreserveScratchOnCancel)
			return result, err
		}
		p.transition(StateFailed, "")
		p.deletePartialOutputs(plan)
		return result, err
	}

	p.transition(StateFinalising, "")
	finalStep := plan.Steps[len(plan.Steps)-1]
	if err := finalizeOutput(finalStep.IntermediatePath, opts.OutputPath); err != nil {
		p.transition(StateFailed, "")
		return result, fmt.Errorf("render: finalise: %w", err)
	}

	p.transition(StateDone, "")
	p.cleanupScratch(false)
	result.State = StateDone
	result.OutputPath = opts.OutputPath
	return result, nil
}

// probe verifies every input asset referenced by the plan is readable,
// surfacing AssetError from this stage per §7.
func (p *Pipeline) probe(plan *compositor.Plan, registry *asset.Registry) error {
	seen := make(map[string]bool)
	for _, step := range plan.Steps {
		for _, in := range step.Inputs {
			if seen[in.Path] {
				continue
			}
			seen[in.Path] = true
			if _, err := os.Stat(in.Path); err != nil {
				return &errs.AssetError{Path: in.Path, Reason: "probe", Err: err}
			}
		}
	}
	return nil
}

// runSteps executes plan.Steps: TrackPreRender steps run concurrently
// across a bounded worker pool (§5), then the single Compose/Mux step
// (which depends on every prior output) runs on its own.
func (p *Pipeline) runSteps(ctx context.Context, tl *timeline.Timeline, registry *asset.Registry, plan *compositor.Plan, opts Options, onProgress ProgressFunc, result *Result) error {
	poolSize := opts.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = system.WorkerPoolSize()
	}

	var preRenders []compositor.Step
	var rest []compositor.Step
	for _, s := range plan.Steps {
		if s.Kind == compositor.StepTrackPreRender {
			preRenders = append(preRenders, s)
		} else {
			rest = append(rest, s)
		}
	}

	if len(preRenders) > 0 {
		if err := p.runConcurrent(ctx, tl, registry, preRenders, opts, onProgress, poolSize, result); err != nil {
			return err
		}
	}

	for _, step := range rest {
		p.transition(StateRendering, stageForStep(step))
		if err := p.runStep(ctx, tl, registry, step, []*timeline.Track{}, opts, onProgress, result); err != nil {
			return err
		}
	}
	return nil
}

// runConcurrent runs steps across a bounded worker pool, stopping and
// reporting the first failure; sibling steps already in flight are
// allowed to finish, but no new ones start once an error or
// cancellation is observed.
func (p *Pipeline) runConcurrent(ctx context.Context, tl *timeline.Timeline, registry *asset.Registry, steps []compositor.Step, opts Options, onProgress ProgressFunc, poolSize int, result *Result) error {
	sem := make(chan struct{}, poolSize)
	var wg sync.WaitGroup
	errCh := make(chan error, len(steps))
	var mu sync.Mutex

	for _, step := range steps {
		step := step
		sem <- struct{}{}
		if len(errCh) > 0 || ctx.Err() != nil {
			<-sem
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			track, _ := tl.Track(step.TrackID)
			var tracks []*timeline.Track
			if track != nil {
				tracks = []*timeline.Track{track}
			}

			mu.Lock()
			p.transition(StateRendering, StageTrackPreRender)
			mu.Unlock()

			if err := p.runStep(ctx, tl, registry, step, tracks, opts, onProgress, result); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err // first observed failure; others are discarded deliberately
	}
	if ctx.Err() != nil {
		return &errs.Cancelled{Stage: string(StageTrackPreRender)}
	}
	return nil
}

// runStep executes a single plan step: consult the cache, run the media
// engine on a miss, then record a hit into the cache if cacheable.
func (p *Pipeline) runStep(ctx context.Context, tl *timeline.Timeline, registry *asset.Registry, step compositor.Step, fingerprintTracks []*timeline.Track, opts Options, onProgress ProgressFunc, result *Result) error {
	if len(fingerprintTracks) == 0 {
		fingerprintTracks = tl.Tracks()
	}
	fingerprint, err := Fingerprint(fingerprintTracks, registry, opts.Window, opts.Profile)
	if err != nil {
		return fmt.Errorf("render: %s: %w", step.Kind, err)
	}

	cacheable := step.Kind == compositor.StepTrackPreRender
	if cacheable && p.Cache != nil {
		p.Cache.Acquire(fingerprint)
		defer p.Cache.Release(fingerprint)

		hit, found, getErr := p.Cache.Get(fingerprint)
		if getErr != nil {
			if escErr := p.escalateCacheFailure(getErr); escErr != nil {
				return escErr
			}
			// Below threshold: fall back to recomputation per §7.
		} else if found {
			result.CacheHits++
			return copyFile(hit, step.IntermediatePath)
		}
	}

	if err := p.invokeEngine(ctx, step, opts, onProgress, result); err != nil {
		return err
	}

	if cacheable && p.Cache != nil {
		if _, err := p.Cache.Put(fingerprint, step.IntermediatePath, true, opts.HardwareAccelHint != ""); err != nil {
			// A cache-write failure alone is non-fatal per §7: the step
			// already produced its output, and it only costs a future
			// cache hit -- unless it recurs past the threshold.
			if escErr := p.escalateCacheFailure(err); escErr != nil {
				return escErr
			}
		}
	}
	return nil
}

// escalateCacheFailure counts one CacheError occurrence against this
// run's budget, returning it as a fatal error once maxCacheFailuresPerRun
// is exceeded and nil otherwise (the caller should fall back to
// recomputation). The fatal error's message carries the attempt count,
// so it shows exactly which occurrence tipped the run over.
func (p *Pipeline) escalateCacheFailure(err error) error {
	attempt := p.cacheFailures.Add(1)
	if attempt <= maxCacheFailuresPerRun {
		return nil
	}
	var cacheErr *errs.CacheError
	if errors.As(err, &cacheErr) {
		return fmt.Errorf("render: cache failed %d times in one run, last: %w", attempt, cacheErr)
	}
	return fmt.Errorf("render: cache failed %d times in one run, last: %w", attempt, err)
}

// invokeEngine runs one media-engine invocation for step, polling for
// cancellation between progress events per §5's <=250ms bound.
func (p *Pipeline) invokeEngine(ctx context.Context, step compositor.Step, opts Options, onProgress ProgressFunc, result *Result) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.StepTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, opts.StepTimeout)
		defer cancelTimeout()
	}

	cmd := buildCommand(step, opts)
	stage := stageForStep(step)
	trk := newTracker(stage, totalFramesFor(step, opts), time.Now())

	callerCancelled := false
	err := p.Engine.Run(runCtx, cmd, func(prog mediaengine.Progress) {
		snap := trk.update(prog.Frame, time.Now())
		if onProgress != nil && !onProgress(snap) {
			callerCancelled = true
			cancel()
		}
	})
	result.EngineInvocations++

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return &errs.EngineError{Stage: string(stage), Command: cmd.Bin, Err: mediaengine.ErrEngineTimeout}
	case callerCancelled, ctx.Err() != nil:
		return &errs.Cancelled{Stage: string(stage)}
	case err != nil:
		return &errs.EngineError{Stage: string(stage), Command: cmd.Bin, Err: err}
	}
	return nil
}

func stageForStep(step compositor.Step) Stage {
	switch step.Kind {
	case compositor.StepTrackPreRender:
		return StageTrackPreRender
	default:
		return StageCompose
	}
}

func totalFramesFor(step compositor.Step, opts Options) int64 {
	return int64(opts.Window.Duration() * opts.Profile.FrameRate.Float())
}

func (p *Pipeline) deletePartialOutputs(plan *compositor.Plan) {
	for _, step := range plan.Steps {
		os.Remove(step.IntermediatePath) //nolint:errcheck
	}
}

func (p *Pipeline) cleanupScratch(preserve bool) {
	if preserve {
		return
	}
	os.RemoveAll(p.ScratchDir) //nolint:errcheck
}

func finalizeOutput(intermediate, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.Rename(intermediate, dest); err == nil {
		return nil
	}
	return copyFile(intermediate, dest)
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return nil
}

// buildCommand assembles the media-engine argv for step: input files
// (each optionally trimmed to its decode window), the filtergraph, the
// mapped video/audio outputs, and the hardware-acceleration hint, per
// §6's MediaEngine contract. The core never interprets codec-specific
// output parameters beyond what the plan already decided (format is
// always the intermediate/output container implied by the path
// extension); bitrate/profile tuning belongs to the codec-specific
// filter black box (§1 scope).
func buildCommand(step compositor.Step, opts Options) mediaengine.Command {
	args := []string{"-y", "-progress", "pipe:1", "-nostats"}
	if opts.HardwareAccelHint != "" {
		args = append(args, "-hwaccel", opts.HardwareAccelHint)
	}
	for _, in := range step.Inputs {
		if in.SourceStart.Seconds() > 0 || in.SourceEnd.Seconds() > 0 {
			args = append(args, "-ss", formatSeconds(in.SourceStart.Seconds()))
			args = append(args, "-to", formatSeconds(in.SourceEnd.Seconds()))
		}
		args = append(args, "-i", in.Path)
	}
	if step.Filtergraph != "" {
		args = append(args, "-filter_complex", step.Filtergraph)
	}
	if step.OutputLabel != "" {
		args = append(args, "-map", "["+step.OutputLabel+"]")
	}
	if step.AudioOutputLabel != "" {
		args = append(args, "-map", "["+step.AudioOutputLabel+"]")
	}
	args = append(args, step.IntermediatePath)

	return mediaengine.Command{Bin: engineBinFromOpts(opts), Args: args}
}

func engineBinFromOpts(opts Options) string {
	if opts.EngineBin != "" {
		return opts.EngineBin
	}
	return "ffmpeg"
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.6f", s)
}
