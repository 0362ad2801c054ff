package history

import (
	"fmt"

	"clipforge/pkg/errs"
	"clipforge/pkg/timecode"
)

func errClipNotFound(track timecode.TrackId, clip timecode.ClipId) error {
	return errs.NewValidation("ClipNotFound", fmt.Sprintf("track=%d clip=%d", track, clip))
}

func errTrackNotFound(track timecode.TrackId) error {
	return errs.NewValidation("TrackNotFound", fmt.Sprintf("track=%d", track))
}

// ErrPropagationCycle is returned when a bounded propagation traversal
// revisits a child track, per §4.4.
var ErrPropagationCycle = fmt.Errorf("history: propagation cycle")

// ErrGroupDepthExceeded is returned when BeginGroup would nest beyond the
// configured maximum depth.
var ErrGroupDepthExceeded = fmt.Errorf("history: group nesting depth exceeded")

// ErrNoActiveGroup is returned when EndGroup is called without a matching
// BeginGroup.
var ErrNoActiveGroup = fmt.Errorf("history: no active group")
