package timeline

import (
	"clipforge/pkg/errs"
	"clipforge/pkg/keyframe"
	"clipforge/pkg/timecode"
)

// AddTrack creates and inserts a new track, returning its ID.
func (tl *Timeline) AddTrack(kind TrackKind, name string, layerOrder int) *Track {
	t := &Track{
		ID:         tl.ids.NextTrackId(),
		Kind:       kind,
		Name:       name,
		LayerOrder: layerOrder,
		BlendMode:  BlendNormal,
		Opacity:    1,
		Keyframes:  keyframe.Table{},
	}
	tl.tracks[t.ID] = t
	tl.Dirty = true
	return t
}

// RemoveTrack deletes a track and any relationships touching it. It
// returns the full track snapshot and the severed relationship edges so
// the history engine can restore both on undo (see RestoreTrack).
func (tl *Timeline) RemoveTrack(id timecode.TrackId) (Track, []Relationship, error) {
	t, ok := tl.tracks[id]
	if !ok {
		return Track{}, nil, errs.NewValidation("TrackNotFound", "")
	}
	if t.Locked {
		return Track{}, nil, errs.NewValidation("LockedTrack", "")
	}
	snapshot := *t
	snapshot.clips = nil
	clipsCopy := make([]*Clip, len(t.clips))
	copy(clipsCopy, t.clips)

	var severed []Relationship
	kept := tl.relationships[:0:0]
	for _, r := range tl.relationships {
		if r.Parent == id || r.Child == id {
			severed = append(severed, r)
		} else {
			kept = append(kept, r)
		}
	}
	tl.relationships = kept
	delete(tl.tracks, id)
	tl.Dirty = true

	snapshot.clips = clipsCopy
	return snapshot, severed, nil
}

// RestoreTrack re-inserts a track with its original ID, clips and
// severed relationships, used by the history engine's inverse of
// RemoveTrack. Rejects if the ID is already occupied (e.g. a different
// track was created after the removal this is meant to undo).
func (tl *Timeline) RestoreTrack(snapshot Track, rels []Relationship) error {
	if _, exists := tl.tracks[snapshot.ID]; exists {
		return errs.NewValidation("TrackIDInUse", "")
	}
	t := snapshot
	tl.tracks[t.ID] = &t
	tl.relationships = append(tl.relationships, rels...)
	tl.Dirty = true
	return nil
}

func (tl *Timeline) overlaps(t *Track, candidate *Clip, excludeID timecode.ClipId) *timecode.Position {
	for _, c := range t.clips {
		if c.ID == excludeID {
			continue
		}
		if candidate.TimelinePosition.Before(c.End()) && c.TimelinePosition.Before(candidate.End()) {
			pos := candidate.TimelinePosition
			return &pos
		}
	}
	return nil
}

func (tl *Timeline) validateSourceRange(assetID timecode.AssetId, sourceIn, sourceOut timecode.Position, duration timecode.Duration) error {
	if sourceOut.Before(sourceIn) || sourceOut.Equal(sourceIn) {
		return errs.NewValidation("InvalidRange", "source_out must exceed source_in")
	}
	got := sourceOut.Sub(sourceIn)
	if got.Seconds() < duration.Seconds()-1e-6 || got.Seconds() > duration.Seconds()+1e-6 {
		return errs.NewValidation("InvalidRange", "source_out - source_in must equal duration")
	}
	if assetDur, ok := tl.assetDuration(assetID); ok {
		if sourceOut.Seconds() > assetDur.Seconds()+1e-6 {
			return errs.NewValidation("InvalidRange", "source_out exceeds asset duration")
		}
	}
	return nil
}

// AddClip inserts a clip into a track, rejecting overlap or an invalid
// source window. Zero-duration clips are rejected per §8.
func (tl *Timeline) AddClip(trackID timecode.TrackId, assetID timecode.AssetId, position timecode.Position, duration timecode.Duration, sourceIn, sourceOut timecode.Position) (*Clip, error) {
	t, ok := tl.tracks[trackID]
	if !ok {
		return nil, errs.NewValidation("TrackNotFound", "")
	}
	if t.Locked {
		return nil, errs.NewValidation("LockedTrack", "")
	}
	if duration.IsZero() {
		return nil, errs.NewValidation("InvalidRange", "zero-duration clip")
	}
	if err := tl.validateSourceRange(assetID, sourceIn, sourceOut, duration); err != nil {
		return nil, err
	}

	candidate := &Clip{
		ID:               tl.ids.NextClipId(),
		AssetId:          assetID,
		TimelinePosition: position,
		Duration:         duration,
		SourceIn:         sourceIn,
		SourceOut:        sourceOut,
	}
	if pos := tl.overlaps(t, candidate, 0); pos != nil {
		return nil, errs.NewValidation("ClipOverlap", pos.String())
	}

	t.clips = append(t.clips, candidate)
	sortClips(t)
	tl.Dirty = true
	return candidate, nil
}

// AddClipWithID re-inserts a clip with a caller-supplied ID, used by the
// edit-history engine to restore a clip on undo with its original
// identity (§9 "Command/inverse pattern").
func (tl *Timeline) AddClipWithID(trackID timecode.TrackId, clip Clip) error {
	t, ok := tl.tracks[trackID]
	if !ok {
		return errs.NewValidation("TrackNotFound", "")
	}
	if t.Locked {
		return errs.NewValidation("LockedTrack", "")
	}
	c := clip
	if pos := tl.overlaps(t, &c, 0); pos != nil {
		return errs.NewValidation("ClipOverlap", pos.String())
	}
	t.clips = append(t.clips, &c)
	sortClips(t)
	tl.Dirty = true
	return nil
}

func sortClips(t *Track) {
	clips := t.clips
	for i := 1; i < len(clips); i++ {
		for j := i; j > 0 && clips[j].TimelinePosition.Before(clips[j-1].TimelinePosition); j-- {
			clips[j], clips[j-1] = clips[j-1], clips[j]
		}
	}
}

// RemoveClip deletes a clip from a track and returns its full record, so
// callers (the history engine) can capture it as inverse parameters.
func (tl *Timeline) RemoveClip(trackID timecode.TrackId, clipID timecode.ClipId) (Clip, error) {
	t, ok := tl.tracks[trackID]
	if !ok {
		return Clip{}, errs.NewValidation("TrackNotFound", "")
	}
	if t.Locked {
		return Clip{}, errs.NewValidation("LockedTrack", "")
	}
	idx := t.clipIndex(clipID)
	if idx < 0 {
		return Clip{}, errs.NewValidation("ClipNotFound", "")
	}
	removed := *t.clips[idx]
	t.clips = append(t.clips[:idx], t.clips[idx+1:]...)
	tl.Dirty = true
	return removed, nil
}

// MoveClip relocates a clip to a new timeline position, rejecting overlap.
func (tl *Timeline) MoveClip(trackID timecode.TrackId, clipID timecode.ClipId, newPosition timecode.Position) error {
	t, ok := tl.tracks[trackID]
	if !ok {
		return errs.NewValidation("TrackNotFound", "")
	}
	if t.Locked {
		return errs.NewValidation("LockedTrack", "")
	}
	idx := t.clipIndex(clipID)
	if idx < 0 {
		return errs.NewValidation("ClipNotFound", "")
	}

	candidate := *t.clips[idx]
	candidate.TimelinePosition = newPosition
	if pos := tl.overlaps(t, &candidate, clipID); pos != nil {
		return errs.NewValidation("ClipOverlap", pos.String())
	}
	*t.clips[idx] = candidate
	sortClips(t)
	tl.Dirty = true
	return nil
}

// SplitResult reports the IDs of the two clips that result from a split.
// When the split position coincided with an existing boundary, NoOp is
// true: at the first matching clip's start, Left is the preceding clip
// (or that clip itself if it is first) and Right is that clip; at a
// clip's end, Left and Right are both that clip, even when another clip
// starts there.
type SplitResult struct {
	Left, Right timecode.ClipId
	NoOp        bool
}

// SplitClipAt splits whichever clip on the track spans position into two
// clips that together reproduce the original, partitioning the source
// window at the interpolated source time. A position coinciding with a
// clip boundary is a no-op; a position in a gap is rejected.
func (tl *Timeline) SplitClipAt(trackID timecode.TrackId, position timecode.Position) (SplitResult, error) {
	t, ok := tl.tracks[trackID]
	if !ok {
		return SplitResult{}, errs.NewValidation("TrackNotFound", "")
	}
	if t.Locked {
		return SplitResult{}, errs.NewValidation("LockedTrack", "")
	}

	for _, c := range t.clips {
		if c.TimelinePosition.Equal(position) {
			// Boundary at the clip's start: no-op against whatever precedes it.
			idx := t.clipIndex(c.ID)
			var leftID timecode.ClipId
			if idx > 0 {
				leftID = t.clips[idx-1].ID
			} else {
				leftID = c.ID
			}
			return SplitResult{Left: leftID, Right: c.ID, NoOp: true}, nil
		}
		if c.End().Equal(position) {
			return SplitResult{Left: c.ID, Right: c.ID, NoOp: true}, nil
		}
		if position.After(c.TimelinePosition) && position.Before(c.End()) {
			offset := position.Sub(c.TimelinePosition)
			splitSourceTime := c.SourceIn.Add(offset)

			leftDuration := offset
			rightDuration := c.Duration.Sub(offset)

			left := Clip{
				ID:               c.ID,
				AssetId:          c.AssetId,
				TimelinePosition: c.TimelinePosition,
				Duration:         leftDuration,
				SourceIn:         c.SourceIn,
				SourceOut:        splitSourceTime,
			}
			right := Clip{
				ID:               tl.ids.NextClipId(),
				AssetId:          c.AssetId,
				TimelinePosition: position,
				Duration:         rightDuration,
				SourceIn:         splitSourceTime,
				SourceOut:        c.SourceOut,
			}

			idx := t.clipIndex(c.ID)
			*t.clips[idx] = left
			t.clips = append(t.clips, &Clip{})
			copy(t.clips[idx+2:], t.clips[idx+1:])
			t.clips[idx+1] = &right

			tl.Dirty = true
			return SplitResult{Left: left.ID, Right: right.ID}, nil
		}
	}
	return SplitResult{}, errs.NewValidation("InvalidRange", "position is in a gap")
}

// SetTrackProperty sets a scalar track property by name. Supported names:
// "muted", "locked", "layer_order", "blend_mode", "opacity", "name".
func (tl *Timeline) SetTrackProperty(trackID timecode.TrackId, name string, value interface{}) error {
	t, ok := tl.tracks[trackID]
	if !ok {
		return errs.NewValidation("TrackNotFound", "")
	}
	if t.Locked && name != "locked" {
		return errs.NewValidation("LockedTrack", "")
	}
	switch name {
	case "muted":
		v, ok := value.(bool)
		if !ok {
			return errs.NewValidation("InvalidRange", "muted must be bool")
		}
		t.Muted = v
	case "locked":
		v, ok := value.(bool)
		if !ok {
			return errs.NewValidation("InvalidRange", "locked must be bool")
		}
		t.Locked = v
	case "layer_order":
		v, ok := value.(int)
		if !ok {
			return errs.NewValidation("InvalidRange", "layer_order must be int")
		}
		t.LayerOrder = v
	case "blend_mode":
		v, ok := value.(BlendMode)
		if !ok {
			return errs.NewValidation("InvalidRange", "blend_mode must be BlendMode")
		}
		t.BlendMode = v
	case "opacity":
		v, ok := value.(float64)
		if !ok || v < 0 || v > 1 {
			return errs.NewValidation("InvalidRange", "opacity must be in [0,1]")
		}
		t.Opacity = v
	case "name":
		v, ok := value.(string)
		if !ok {
			return errs.NewValidation("InvalidRange", "name must be string")
		}
		t.Name = v
	default:
		return errs.NewValidation("InvalidRange", "unknown property "+name)
	}
	tl.Dirty = true
	return nil
}

// AddKeyframe adds a sample to the named parameter track on a track,
// creating the parameter track if needed.
func (tl *Timeline) AddKeyframe(trackID timecode.TrackId, parameter string, sample keyframe.Sample) error {
	t, ok := tl.tracks[trackID]
	if !ok {
		return errs.NewValidation("TrackNotFound", "")
	}
	if t.Locked {
		return errs.NewValidation("LockedTrack", "")
	}
	kt, exists := t.Keyframes[parameter]
	if !exists {
		kt = keyframe.NewTrack(parameter)
		t.Keyframes[parameter] = kt
	}
	if err := kt.Add(sample); err != nil {
		return errs.NewValidation("InvalidRange", err.Error())
	}
	tl.Dirty = true
	return nil
}

// RemoveKeyframe removes the sample at the given time from the named
// parameter track.
func (tl *Timeline) RemoveKeyframe(trackID timecode.TrackId, parameter string, at timecode.Position) error {
	t, ok := tl.tracks[trackID]
	if !ok {
		return errs.NewValidation("TrackNotFound", "")
	}
	if t.Locked {
		return errs.NewValidation("LockedTrack", "")
	}
	kt, exists := t.Keyframes[parameter]
	if !exists {
		return errs.NewValidation("InvalidRange", "no such parameter track")
	}
	if !kt.Remove(at) {
		return errs.NewValidation("InvalidRange", "no sample at given time")
	}
	tl.Dirty = true
	return nil
}

// AddRelationship adds a directed edge, rejecting it if it would close a
// cycle (incremental depth-first check, per §9).
func (tl *Timeline) AddRelationship(parent, child timecode.TrackId, kind RelationshipKind) error {
	if _, ok := tl.tracks[parent]; !ok {
		return errs.NewValidation("TrackNotFound", "parent")
	}
	if _, ok := tl.tracks[child]; !ok {
		return errs.NewValidation("TrackNotFound", "child")
	}
	if tl.reachableFrom(child, parent, make(map[timecode.TrackId]bool)) {
		return errs.NewValidation("CycleDetected", "")
	}
	tl.relationships = append(tl.relationships, Relationship{Parent: parent, Child: child, Kind: kind})
	tl.Dirty = true
	return nil
}

func (tl *Timeline) reachableFrom(from, target timecode.TrackId, visited map[timecode.TrackId]bool) bool {
	if from == target {
		return true
	}
	if visited[from] {
		return false
	}
	visited[from] = true
	for _, r := range tl.relationships {
		if r.Parent == from {
			if tl.reachableFrom(r.Child, target, visited) {
				return true
			}
		}
	}
	return false
}

// RemoveRelationship deletes a matching edge, if present, returning the
// removed edge's Kind so callers (history's undo) can reconstruct it.
func (tl *Timeline) RemoveRelationship(parent, child timecode.TrackId) (RelationshipKind, bool) {
	for i, r := range tl.relationships {
		if r.Parent == parent && r.Child == child {
			kind := r.Kind
			tl.relationships = append(tl.relationships[:i], tl.relationships[i+1:]...)
			tl.Dirty = true
			return kind, true
		}
	}
	return RelationshipKind(""), false
}
