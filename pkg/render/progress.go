package render

import (
	"sync"
	"time"
)

// Stage names a render-pipeline stage within the Rendering state, per
// §4.7's state machine.
type Stage string

// Recognised stages.
const (
	StageTrackPreRender Stage = "TrackPreRender"
	StageCompose        Stage = "Compose"
	StageMux            Stage = "Mux"
)

// ProgressSnapshot is reported to a run's progress callback once for each
// progress event the media engine emits during a running step. No
// snapshot is sent on a timer while the engine is silent, and stage
// transitions go to the OnStage hook rather than to this callback.
type ProgressSnapshot struct {
	Stage             Stage
	FramesCompleted   int64
	TotalFrames       int64
	Elapsed           time.Duration
	EstimatedRemaining time.Duration
}

// ProgressFunc receives snapshots; returning false requests cancellation
// (§6's "Returning false from the callback requests cancellation").
type ProgressFunc func(ProgressSnapshot) bool

// tracker accumulates frame progress for one step and smooths the
// estimated-remaining-time calculation by exponentially weighting the
// observed frame rate, per §4.7 step 2.
type tracker struct {
	mu sync.Mutex

	stage       Stage
	totalFrames int64
	startedAt   time.Time

	framesCompleted int64
	smoothedFPS     float64
	lastSampleAt    time.Time
}

// smoothingAlpha weights the most recent frame-rate sample against the
// running estimate; 0.3 tracks recent speed changes without being noisy
// frame-to-frame.
const smoothingAlpha = 0.3

func newTracker(stage Stage, totalFrames int64, now time.Time) *tracker {
	return &tracker{stage: stage, totalFrames: totalFrames, startedAt: now, lastSampleAt: now}
}

// update folds a new frame count observed at `now` into the tracker and
// returns the resulting snapshot.
func (t *tracker) update(framesCompleted int64, now time.Time) ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	dt := now.Sub(t.lastSampleAt).Seconds()
	if dt > 0 {
		df := float64(framesCompleted - t.framesCompleted)
		instFPS := df / dt
		if t.smoothedFPS == 0 {
			t.smoothedFPS = instFPS
		} else {
			t.smoothedFPS = smoothingAlpha*instFPS + (1-smoothingAlpha)*t.smoothedFPS
		}
	}
	t.framesCompleted = framesCompleted
	t.lastSampleAt = now

	var remaining time.Duration
	if t.smoothedFPS > 0 {
		framesLeft := t.totalFrames - framesCompleted
		if framesLeft < 0 {
			framesLeft = 0
		}
		remaining = time.Duration(float64(framesLeft)/t.smoothedFPS*1000) * time.Millisecond
	}

	return ProgressSnapshot{
		Stage:              t.stage,
		FramesCompleted:    framesCompleted,
		TotalFrames:        t.totalFrames,
		Elapsed:            now.Sub(t.startedAt),
		EstimatedRemaining: remaining,
	}
}
