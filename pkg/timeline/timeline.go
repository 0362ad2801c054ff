// Package timeline implements the timeline model (C4): tracks, clips,
// multi-track relationships and their invariants. This is pure data plus
// validation — mutation is only ever applied through the primitive
// mutators in mutate.go, which the edit-history engine (pkg/history)
// drives.
//
// Grounded on the teacher's map-of-config collection style
// (pkg/monitor.Configs, pkg/group.Configs), generalized from loose
// string maps to strongly-typed, invariant-checked structs.
package timeline

import (
	"sort"

	"clipforge/pkg/asset"
	"clipforge/pkg/keyframe"
	"clipforge/pkg/timecode"
)

// TrackKind is the media kind of a track.
type TrackKind string

// Recognised track kinds.
const (
	TrackVideo    TrackKind = "video"
	TrackAudio    TrackKind = "audio"
	TrackSubtitle TrackKind = "subtitle"
)

// BlendMode selects how a video track composites onto the accumulated
// canvas. See pkg/compositor for the formulas.
type BlendMode string

// Recognised blend modes.
const (
	BlendNormal      BlendMode = "Normal"
	BlendAdd         BlendMode = "Add"
	BlendMultiply    BlendMode = "Multiply"
	BlendScreen      BlendMode = "Screen"
	BlendOverlay     BlendMode = "Overlay"
	BlendSoftLight   BlendMode = "SoftLight"
	BlendHardLight   BlendMode = "HardLight"
	BlendColorDodge  BlendMode = "ColorDodge"
	BlendColorBurn   BlendMode = "ColorBurn"
	BlendDifference  BlendMode = "Difference"
	BlendExclusion   BlendMode = "Exclusion"
)

// Clip places a window of an asset on a track's timeline.
type Clip struct {
	ID               timecode.ClipId
	AssetId          timecode.AssetId
	TimelinePosition timecode.Position
	Duration         timecode.Duration
	SourceIn         timecode.Position
	SourceOut        timecode.Position
}

// End returns TimelinePosition + Duration.
func (c Clip) End() timecode.Position {
	return c.TimelinePosition.Add(c.Duration)
}

// Track is an ordered list of non-overlapping clips plus track-level
// properties.
type Track struct {
	ID         timecode.TrackId
	Kind       TrackKind
	Name       string
	Muted      bool
	Locked     bool
	LayerOrder int
	BlendMode  BlendMode
	Opacity    float64
	Keyframes  keyframe.Table
	Mask       *Mask

	clips []*Clip // kept sorted by TimelinePosition
}

// Clips returns the track's clips in timeline_position order. The
// returned slice must not be mutated by the caller.
func (t *Track) Clips() []*Clip {
	return t.clips
}

func (t *Track) clipIndex(id timecode.ClipId) int {
	for i, c := range t.clips {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// Relationship is a directed edge between a parent and a child track with
// a propagation policy (§4.4).
type RelationshipKind string

// Recognised relationship kinds.
const (
	RelationshipSync    RelationshipKind = "sync"
	RelationshipMirror  RelationshipKind = "mirror"
	RelationshipDerived RelationshipKind = "derived"
)

// Relationship is a directed edge (parent_track, child_track, kind).
type Relationship struct {
	Parent timecode.TrackId
	Child  timecode.TrackId
	Kind   RelationshipKind
}

// AssetDurationLookup resolves an asset's probed duration, reporting
// ok=false for assets with no meaningful duration (e.g. untimed images).
type AssetDurationLookup func(timecode.AssetId) (timecode.Duration, bool)

// Timeline owns the track collection and the relationship graph. It is
// mutated only through the functions in mutate.go.
type Timeline struct {
	tracks        map[timecode.TrackId]*Track
	relationships []Relationship
	ids           *timecode.IDGenerator
	assetDuration AssetDurationLookup
	registry      *asset.Registry
	Dirty         bool
}

// New returns an empty Timeline.
func New(ids *timecode.IDGenerator, registry *asset.Registry, assetDuration AssetDurationLookup) *Timeline {
	return &Timeline{
		tracks:        make(map[timecode.TrackId]*Track),
		ids:           ids,
		registry:      registry,
		assetDuration: assetDuration,
	}
}

// Tracks returns tracks ordered by (kind, layer_order, id), per §4.1.
func (tl *Timeline) Tracks() []*Track {
	out := make([]*Track, 0, len(tl.tracks))
	for _, t := range tl.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].LayerOrder != out[j].LayerOrder {
			return out[i].LayerOrder < out[j].LayerOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Track looks up a track by ID.
func (tl *Timeline) Track(id timecode.TrackId) (*Track, bool) {
	t, ok := tl.tracks[id]
	return t, ok
}

// Clip looks up a clip by (TrackId, ClipId).
func (tl *Timeline) Clip(track timecode.TrackId, clip timecode.ClipId) (*Clip, bool) {
	t, ok := tl.tracks[track]
	if !ok {
		return nil, false
	}
	idx := t.clipIndex(clip)
	if idx < 0 {
		return nil, false
	}
	return t.clips[idx], true
}

// Relationships returns the relationship edges.
func (tl *Timeline) Relationships() []Relationship {
	return tl.relationships
}

// OutgoingRelationships returns edges whose Parent is the given track.
func (tl *Timeline) OutgoingRelationships(parent timecode.TrackId) []Relationship {
	var out []Relationship
	for _, r := range tl.relationships {
		if r.Parent == parent {
			out = append(out, r)
		}
	}
	return out
}

// Duration returns the timeline duration: max(timeline_position +
// duration) over all clips across all tracks. Zero if there are no clips.
func (tl *Timeline) Duration() timecode.Duration {
	var max timecode.Duration
	for _, t := range tl.tracks {
		for _, c := range t.clips {
			end := c.End()
			d := end.Sub(timecode.PositionFromFrame(0, end.Rate()))
			if max.IsZero() || d.GreaterThan(max) {
				max = d
			}
		}
	}
	return max
}
