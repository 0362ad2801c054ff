// Package compositor lowers a timeline window into the filtergraph and
// input list the media engine executes (C7). Filtergraph assembly is
// grounded on the reference pack's grid compositor
// (other_examples/.../compositor.go's buildFFmpegArgs), generalizing its
// fixed hstack/vstack/xstack grid layouts into a general per-clip,
// per-track filter-chain builder driven by the timeline model instead of
// a fixed channel count. Mask rasterization is grounded on the teacher's
// ffmpeg.CreateMask/vertexInsidePoly (see mask.go).
package compositor

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"clipforge/pkg/asset"
	"clipforge/pkg/timecode"
	"clipforge/pkg/timeline"
)

// Profile is the output format a render targets.
type Profile struct {
	Width, Height int
	FrameRate     timecode.FrameRate
}

// Window is a half-open render range [Start, End) on the timeline.
type Window struct {
	Start, End timecode.Position
}

// Duration returns End-Start in seconds.
func (w Window) Duration() float64 {
	return w.End.Seconds() - w.Start.Seconds()
}

// InputSpec is one media-engine input: a file path decoded over
// [SourceStart, SourceEnd), bound to filtergraph input index Index.
type InputSpec struct {
	Path        string
	SourceStart timecode.Position
	SourceEnd   timecode.Position
	Index       int
}

// Step is one media-engine invocation in a Plan.
type Step struct {
	Kind             StepKind
	TrackID          timecode.TrackId // set for TrackPreRender
	Inputs           []InputSpec
	Filtergraph      string
	OutputLabel      string
	AudioOutputLabel string // set on Compose steps that mix any audio track
	IntermediatePath string // scratch path this step writes to
}

// StepKind names a render-pipeline stage from §4.7's state machine.
type StepKind string

// Recognised step kinds.
const (
	StepTrackPreRender StepKind = "TrackPreRender"
	StepCompose        StepKind = "Compose"
)

// Plan is the ordered sequence of media-engine invocations lowering a
// window into the final composite, plus whether optimize_complex_timelines
// selected per-track pre-renders over one monolithic filtergraph.
type Plan struct {
	Optimized   bool
	Steps       []Step
	TotalFrames int64
}

// DefaultComplexityBudget bounds track-count × window-duration(seconds)
// before BuildPlan switches to per-track pre-renders. Chosen so a 10-track
// timeline stays monolithic under roughly a minute of render window.
const DefaultComplexityBudget = 600.0

// BuildPlan lowers tl's video and audio tracks over window into a Plan.
// scratchDir roots every intermediate file this Plan's steps produce.
func BuildPlan(tl *timeline.Timeline, registry *asset.Registry, window Window, profile Profile, scratchDir string, optimizeComplexTimelines bool) (*Plan, error) {
	videoTracks := activeTracksOfKind(tl, timeline.TrackVideo, window)

	plan := &Plan{
		TotalFrames: int64(math.Round(window.Duration() * profile.FrameRate.Float())),
	}

	complex := optimizeComplexTimelines && float64(len(videoTracks))*window.Duration() > DefaultComplexityBudget
	plan.Optimized = complex

	audioTracks := activeTracksOfKind(tl, timeline.TrackAudio, window)

	if !complex {
		step, err := buildMonolithicStep(registry, videoTracks, window, profile, scratchDir)
		if err != nil {
			return nil, err
		}
		if err := appendAudioMix(&step, audioTracks, registry, window); err != nil {
			return nil, err
		}
		step.IntermediatePath = filepath.Join(scratchDir, "compose.mp4")
		plan.Steps = append(plan.Steps, step)
		return plan, nil
	}

	var composeInputs []InputSpec
	for i, track := range videoTracks {
		step, err := buildTrackPreRenderStep(track, registry, window, profile, 0, scratchDir)
		if err != nil {
			return nil, fmt.Errorf("compositor: pre-render track %d: %w", track.ID, err)
		}
		step.IntermediatePath = filepath.Join(scratchDir, fmt.Sprintf("track-%d.mp4", track.ID))
		step.Kind = StepTrackPreRender
		step.TrackID = track.ID
		plan.Steps = append(plan.Steps, step)
		composeInputs = append(composeInputs, InputSpec{Path: step.IntermediatePath, Index: i})
	}

	composeStep, err := composePreRenderedTracks(videoTracks, composeInputs, profile)
	if err != nil {
		return nil, err
	}
	if err := appendAudioMix(&composeStep, audioTracks, registry, window); err != nil {
		return nil, err
	}
	composeStep.IntermediatePath = filepath.Join(scratchDir, "compose.mp4")
	plan.Steps = append(plan.Steps, composeStep)

	return plan, nil
}

// appendAudioMix lowers rule 5 (audio tracks mix additively, each scaled by
// its sampled volume; muted tracks contribute zero) onto step, appending
// its own inputs and filter chain and setting step.AudioOutputLabel. A
// step with no active, unmuted audio tracks is left untouched: the render
// pipeline falls back to a silent track at mux time.
func appendAudioMix(step *Step, tracks []*timeline.Track, registry *asset.Registry, window Window) error {
	var mixLabels []string

	for _, track := range tracks {
		if track.Muted {
			continue
		}
		clips := activeClips(track, window)
		if len(clips) == 0 {
			continue
		}

		var segLabels []string
		for i, clip := range clips {
			a, err := registry.Get(clip.AssetId)
			if err != nil {
				return fmt.Errorf("compositor: audio clip %d: %w", clip.ID, err)
			}
			sourceStart := clip.SourceIn
			if window.Start.After(clip.TimelinePosition) {
				sourceStart = clip.SourceIn.Add(window.Start.Sub(clip.TimelinePosition))
			}
			sourceEnd := clip.SourceOut
			if clip.End().After(window.End) {
				trim := clip.End().Sub(window.End)
				sourceEnd, _ = timecode.NewPosition(clip.SourceOut.Seconds()-trim.Seconds(), clip.SourceOut.Rate())
			}

			index := len(step.Inputs)
			step.Inputs = append(step.Inputs, InputSpec{Path: a.Path, SourceStart: sourceStart, SourceEnd: sourceEnd, Index: index})

			volumeExpr := keyframeExprOrDefault(track, "volume", 1.0)
			segLabel := fmt.Sprintf("a%di%d", track.ID, i)
			step.Filtergraph = appendFilter(step.Filtergraph, fmt.Sprintf(
				"[%d:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS,volume=%s:eval=frame[%s]",
				index, formatNum(sourceStart.Seconds()), formatNum(sourceEnd.Seconds()), volumeExpr, segLabel,
			))
			segLabels = append(segLabels, segLabel)
		}
		if len(segLabels) == 0 {
			continue
		}
		trackLabel := fmt.Sprintf("trka%d", track.ID)
		if len(segLabels) == 1 {
			trackLabel = segLabels[0]
		} else {
			var in strings.Builder
			for _, l := range segLabels {
				in.WriteString("[" + l + "]")
			}
			step.Filtergraph = appendFilter(step.Filtergraph, fmt.Sprintf(
				"%sconcat=n=%d:v=0:a=1[%s]", in.String(), len(segLabels), trackLabel,
			))
		}
		mixLabels = append(mixLabels, trackLabel)
	}

	if len(mixLabels) == 0 {
		return nil
	}
	if len(mixLabels) == 1 {
		step.AudioOutputLabel = mixLabels[0]
		return nil
	}

	var in strings.Builder
	for _, l := range mixLabels {
		in.WriteString("[" + l + "]")
	}
	step.Filtergraph = appendFilter(step.Filtergraph, fmt.Sprintf(
		"%samix=inputs=%d:normalize=0[aout]", in.String(), len(mixLabels),
	))
	step.AudioOutputLabel = "aout"
	return nil
}

func appendFilter(graph, filter string) string {
	if graph == "" {
		return filter
	}
	return graph + ";" + filter
}

func activeTracksOfKind(tl *timeline.Timeline, kind timeline.TrackKind, window Window) []*timeline.Track {
	var out []*timeline.Track
	for _, t := range tl.Tracks() {
		if t.Kind != kind || t.Muted {
			continue
		}
		if len(activeClips(t, window)) == 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}

// activeClips returns t's clips intersecting [window.Start, window.End),
// in timeline_position order (Clips() is already sorted).
func activeClips(t *timeline.Track, window Window) []*timeline.Clip {
	var out []*timeline.Clip
	for _, c := range t.Clips() {
		if c.End().After(window.Start) && c.TimelinePosition.Before(window.End) {
			out = append(out, c)
		}
	}
	return out
}

// buildMonolithicStep lowers every active video track into one
// filter_complex string (optimisation mode (a)).
func buildMonolithicStep(registry *asset.Registry, tracks []*timeline.Track, window Window, profile Profile, scratchDir string) (Step, error) {
	var inputs []InputSpec
	var filters []string
	canvasLabel := ""

	sort.Slice(tracks, func(i, j int) bool { return tracks[i].LayerOrder < tracks[j].LayerOrder })

	for _, track := range tracks {
		trackLabel, trackFilters, trackInputs, err := lowerTrack(track, registry, window, profile, len(inputs), scratchDir)
		if err != nil {
			return Step{}, err
		}
		inputs = append(inputs, trackInputs...)
		filters = append(filters, trackFilters...)

		if canvasLabel == "" {
			canvasLabel = trackLabel
			continue
		}
		composed := fmt.Sprintf("c%d", len(filters))
		opacityExpr := opacityExprFor(track)
		filters = append(filters, fmt.Sprintf(
			"[%s][%s]blend=all_mode=%s:all_opacity=%s:eval=frame[%s]",
			canvasLabel, trackLabel, FilterMode(track.BlendMode), opacityExpr, composed,
		))
		canvasLabel = composed
	}

	if canvasLabel == "" {
		canvasLabel = "base"
		filters = append(filters, fmt.Sprintf("color=c=black:s=%dx%d[%s]", profile.Width, profile.Height, canvasLabel))
	}

	return Step{
		Kind:        StepCompose,
		Inputs:      inputs,
		Filtergraph: strings.Join(filters, ";"),
		OutputLabel: canvasLabel,
	}, nil
}

// buildTrackPreRenderStep lowers a single track to its own filtergraph, for
// optimisation mode (b): one intermediate file per active track.
func buildTrackPreRenderStep(track *timeline.Track, registry *asset.Registry, window Window, profile Profile, inputBase int, scratchDir string) (Step, error) {
	label, filters, inputs, err := lowerTrack(track, registry, window, profile, inputBase, scratchDir)
	if err != nil {
		return Step{}, err
	}
	return Step{
		Inputs:      inputs,
		Filtergraph: strings.Join(filters, ";"),
		OutputLabel: label,
	}, nil
}

// composePreRenderedTracks builds the final compose step over already
// rendered per-track intermediates, applying the same blend-mode chain as
// buildMonolithicStep but reading whole-frame inputs instead of raw clips.
func composePreRenderedTracks(tracks []*timeline.Track, inputs []InputSpec, profile Profile) (Step, error) {
	var filters []string
	canvasLabel := ""
	for i, track := range tracks {
		trackLabel := fmt.Sprintf("t%d", i)
		filters = append(filters, fmt.Sprintf("[%d:v]null[%s]", i, trackLabel))
		if canvasLabel == "" {
			canvasLabel = trackLabel
			continue
		}
		composed := fmt.Sprintf("c%d", len(filters))
		opacityExpr := opacityExprFor(track)
		filters = append(filters, fmt.Sprintf(
			"[%s][%s]blend=all_mode=%s:all_opacity=%s:eval=frame[%s]",
			canvasLabel, trackLabel, FilterMode(track.BlendMode), opacityExpr, composed,
		))
		canvasLabel = composed
	}
	return Step{
		Kind:        StepCompose,
		Inputs:      inputs,
		Filtergraph: strings.Join(filters, ";"),
		OutputLabel: canvasLabel,
	}, nil
}

// lowerTrack lowers one track's active clips (scaled, positioned, rotated,
// masked, and concatenated if more than one clip is active) into a single
// labeled filter output, per lowering rules 1-3.
func lowerTrack(track *timeline.Track, registry *asset.Registry, window Window, profile Profile, inputBase int, scratchDir string) (string, []string, []InputSpec, error) {
	clips := activeClips(track, window)
	if len(clips) == 0 {
		return "", nil, nil, fmt.Errorf("compositor: track %d has no active clips in window", track.ID)
	}

	var filters []string
	var inputs []InputSpec
	var segmentLabels []string

	// Rule 3: a track's mask is rasterised once per window (sampled at the
	// window's start instant for Animated masks) and merged as its own
	// file input, rather than re-rendered per clip.
	var maskInputIndex = -1
	if track.Mask != nil {
		maskImg, err := RenderMask(track.Mask, profile.Width, profile.Height, window.Start)
		if err != nil {
			return "", nil, nil, fmt.Errorf("compositor: render mask for track %d: %w", track.ID, err)
		}
		maskPath := filepath.Join(scratchDir, fmt.Sprintf("mask-%d.png", track.ID))
		if err := SaveMaskPNG(maskPath, maskImg); err != nil {
			return "", nil, nil, err
		}
		maskInputIndex = inputBase
		inputs = append(inputs, InputSpec{Path: maskPath, Index: maskInputIndex})
	}

	for i, clip := range clips {
		a, err := registry.Get(clip.AssetId)
		if err != nil {
			return "", nil, nil, fmt.Errorf("compositor: clip %d: %w", clip.ID, err)
		}

		// Rule 1: decode window is the asset window intersecting [t0,t1).
		sourceStart := clip.SourceIn
		if window.Start.After(clip.TimelinePosition) {
			sourceStart = clip.SourceIn.Add(window.Start.Sub(clip.TimelinePosition))
		}
		clipEnd := clip.End()
		sourceEnd := clip.SourceOut
		if clipEnd.After(window.End) {
			trim := clipEnd.Sub(window.End)
			sourceEnd, _ = timecode.NewPosition(clip.SourceOut.Seconds()-trim.Seconds(), clip.SourceOut.Rate())
		}

		index := inputBase + len(inputs)
		inputs = append(inputs, InputSpec{Path: a.Path, SourceStart: sourceStart, SourceEnd: sourceEnd, Index: index})

		// Rule 2: scale to output resolution, apply rotation (auto-sized
		// bounding box) and position, all sampled per output frame.
		scaleExpr := keyframeExprOrDefault(track, "scale", 1.0)
		posX := keyframeExprOrDefault(track, "position_x", 0)
		posY := keyframeExprOrDefault(track, "position_y", 0)
		rotation := keyframeExprOrDefault(track, "rotation", 0)

		scaledLabel := fmt.Sprintf("v%di%ds", track.ID, i)
		rotatedLabel := fmt.Sprintf("v%di%dr", track.ID, i)
		filters = append(filters, fmt.Sprintf(
			"[%d:v]trim=start=%s:end=%s,setpts=PTS-STARTPTS,scale=w=%d*(%s):h=%d*(%s):eval=frame[%s]",
			index, formatNum(sourceStart.Seconds()), formatNum(sourceEnd.Seconds()),
			profile.Width, scaleExpr, profile.Height, scaleExpr, scaledLabel,
		))
		filters = append(filters, fmt.Sprintf(
			"[%s]rotate=(%s)*PI/180:ow=rotw((%s)*PI/180):oh=roth((%s)*PI/180):eval=frame[%s]",
			scaledLabel, rotation, rotation, rotation, rotatedLabel,
		))

		positioned := rotatedLabel
		if maskInputIndex >= 0 {
			maskAlphaLabel := fmt.Sprintf("v%di%dmaskalpha", track.ID, i)
			maskedLabel := fmt.Sprintf("v%di%dmasked", track.ID, i)
			filters = append(filters, fmt.Sprintf("[%d:v]alphaextract[%s]", maskInputIndex, maskAlphaLabel))
			filters = append(filters, fmt.Sprintf("[%s][%s]alphamerge[%s]", rotatedLabel, maskAlphaLabel, maskedLabel))
			positioned = maskedLabel
		}

		label := fmt.Sprintf("v%di%d", track.ID, i)
		canvasName := fmt.Sprintf("v%di%dcanvas", track.ID, i)
		filters = append(filters, fmt.Sprintf("color=c=black@0.0:s=%dx%d[%s]", profile.Width, profile.Height, canvasName))
		filters = append(filters, fmt.Sprintf(
			"[%s][%s]overlay=x=(W-w)/2+(%s):y=(H-h)/2+(%s):eval=frame[%s]",
			canvasName, positioned, posX, posY, label,
		))

		segmentLabels = append(segmentLabels, label)
	}

	final := segmentLabels[0]
	if len(segmentLabels) > 1 {
		concatOut := fmt.Sprintf("trk%d", track.ID)
		var in strings.Builder
		for _, l := range segmentLabels {
			in.WriteString("[" + l + "]")
		}
		filters = append(filters, fmt.Sprintf("%sconcat=n=%d:v=1:a=0[%s]", in.String(), len(segmentLabels), concatOut))
		final = concatOut
	}

	return final, filters, inputs, nil
}

// keyframeExprOrDefault builds an FFmpeg `t`-expression for a numeric
// track parameter, falling back to a constant when the track carries no
// samples for it.
func keyframeExprOrDefault(track *timeline.Track, parameter string, fallback float64) string {
	kt, ok := track.Keyframes[parameter]
	if !ok {
		return formatNum(fallback)
	}
	return BuildExpr(kt, fallback)
}

// opacityExprFor builds the all_opacity expression for a track's blend
// step, sourced from its opacity keyframes (categorical tracks never
// appear here; opacity is always numeric per keyframe.ClassifyParameter).
func opacityExprFor(track *timeline.Track) string {
	kt, ok := track.Keyframes["opacity"]
	if !ok {
		return formatNum(track.Opacity)
	}
	return BuildExpr(kt, track.Opacity)
}
