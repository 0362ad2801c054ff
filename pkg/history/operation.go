// Package history implements the edit-history engine (C5): a reversible
// operation log with grouping and multi-track propagation, built around
// the "command/inverse" pattern described in spec §9 — each operation
// captures its own inverse at apply time instead of replaying
// computations on undo.
package history

import (
	"clipforge/pkg/keyframe"
	"clipforge/pkg/timecode"
	"clipforge/pkg/timeline"
)

// Operation is a single reversible mutation against a Timeline. Apply
// performs the forward mutation and returns the operation that undoes it.
type Operation interface {
	// Apply executes the operation against tl and returns its inverse.
	Apply(tl *timeline.Timeline) (Operation, error)
	// Kind names the operation, used for propagation-policy lookups and
	// for serializing history entries.
	Kind() string
	// Track returns the track the operation targets, for propagation.
	Track() timecode.TrackId
}

// --- AddClip ---

// AddClipOp adds a clip to a track.
type AddClipOp struct {
	TrackID   timecode.TrackId
	AssetId   timecode.AssetId
	Position  timecode.Position
	Duration  timecode.Duration
	SourceIn  timecode.Position
	SourceOut timecode.Position
}

func (op AddClipOp) Kind() string             { return "add_clip" }
func (op AddClipOp) Track() timecode.TrackId   { return op.TrackID }

func (op AddClipOp) Apply(tl *timeline.Timeline) (Operation, error) {
	clip, err := tl.AddClip(op.TrackID, op.AssetId, op.Position, op.Duration, op.SourceIn, op.SourceOut)
	if err != nil {
		return nil, err
	}
	return RemoveClipOp{TrackID: op.TrackID, ClipID: clip.ID}, nil
}

// --- RemoveClip ---

// RemoveClipOp removes a clip from a track.
type RemoveClipOp struct {
	TrackID timecode.TrackId
	ClipID  timecode.ClipId
}

func (op RemoveClipOp) Kind() string           { return "remove_clip" }
func (op RemoveClipOp) Track() timecode.TrackId { return op.TrackID }

func (op RemoveClipOp) Apply(tl *timeline.Timeline) (Operation, error) {
	removed, err := tl.RemoveClip(op.TrackID, op.ClipID)
	if err != nil {
		return nil, err
	}
	return restoreClipOp{TrackID: op.TrackID, Clip: removed}, nil
}

// restoreClipOp is the inverse of RemoveClipOp: it restores a clip with
// its original ID, rather than minting a new one.
type restoreClipOp struct {
	TrackID timecode.TrackId
	Clip    timeline.Clip
}

func (op restoreClipOp) Kind() string           { return "restore_clip" }
func (op restoreClipOp) Track() timecode.TrackId { return op.TrackID }

func (op restoreClipOp) Apply(tl *timeline.Timeline) (Operation, error) {
	if err := tl.AddClipWithID(op.TrackID, op.Clip); err != nil {
		return nil, err
	}
	return RemoveClipOp{TrackID: op.TrackID, ClipID: op.Clip.ID}, nil
}

// --- MoveClip ---

// MoveClipOp relocates a clip to a new timeline position.
type MoveClipOp struct {
	TrackID     timecode.TrackId
	ClipID      timecode.ClipId
	NewPosition timecode.Position
}

func (op MoveClipOp) Kind() string           { return "move_clip" }
func (op MoveClipOp) Track() timecode.TrackId { return op.TrackID }

func (op MoveClipOp) Apply(tl *timeline.Timeline) (Operation, error) {
	clip, ok := tl.Clip(op.TrackID, op.ClipID)
	if !ok {
		return nil, errClipNotFound(op.TrackID, op.ClipID)
	}
	oldPosition := clip.TimelinePosition
	if err := tl.MoveClip(op.TrackID, op.ClipID, op.NewPosition); err != nil {
		return nil, err
	}
	return MoveClipOp{TrackID: op.TrackID, ClipID: op.ClipID, NewPosition: oldPosition}, nil
}

// --- SplitClipAt ---

// SplitClipAtOp splits whichever clip spans Position into two.
type SplitClipAtOp struct {
	TrackID  timecode.TrackId
	Position timecode.Position
}

func (op SplitClipAtOp) Kind() string           { return "split_clip_at" }
func (op SplitClipAtOp) Track() timecode.TrackId { return op.TrackID }

func (op SplitClipAtOp) Apply(tl *timeline.Timeline) (Operation, error) {
	result, err := tl.SplitClipAt(op.TrackID, op.Position)
	if err != nil {
		return nil, err
	}
	if result.NoOp {
		return noopOp{}, nil
	}
	left, _ := tl.Clip(op.TrackID, result.Left)
	right, _ := tl.Clip(op.TrackID, result.Right)
	return mergeClipsOp{
		TrackID: op.TrackID,
		Left:    *left,
		Right:   *right,
		Merged: timeline.Clip{
			ID:               left.ID,
			AssetId:          left.AssetId,
			TimelinePosition: left.TimelinePosition,
			Duration:         left.Duration.Add(right.Duration),
			SourceIn:         left.SourceIn,
			SourceOut:        right.SourceOut,
		},
	}, nil
}

// mergeClipsOp is the inverse of a real split: it removes the two split
// halves and restores the single original clip.
type mergeClipsOp struct {
	TrackID timecode.TrackId
	Left    timeline.Clip
	Right   timeline.Clip
	Merged  timeline.Clip
}

func (op mergeClipsOp) Kind() string           { return "merge_clips" }
func (op mergeClipsOp) Track() timecode.TrackId { return op.TrackID }

func (op mergeClipsOp) Apply(tl *timeline.Timeline) (Operation, error) {
	if _, err := tl.RemoveClip(op.TrackID, op.Right.ID); err != nil {
		return nil, err
	}
	if _, err := tl.RemoveClip(op.TrackID, op.Left.ID); err != nil {
		return nil, err
	}
	if err := tl.AddClipWithID(op.TrackID, op.Merged); err != nil {
		return nil, err
	}
	return SplitClipAtOp{TrackID: op.TrackID, Position: op.Right.TimelinePosition}, nil
}

// noopOp is the inverse of a no-op split (position already at a boundary).
type noopOp struct{}

func (op noopOp) Kind() string             { return "noop" }
func (op noopOp) Track() timecode.TrackId   { return 0 }
func (op noopOp) Apply(*timeline.Timeline) (Operation, error) { return noopOp{}, nil }

// --- SetTrackProperty ---

// SetTrackPropertyOp sets a scalar track property.
type SetTrackPropertyOp struct {
	TrackID  timecode.TrackId
	Property string
	Value    interface{}
}

func (op SetTrackPropertyOp) Kind() string           { return "set_track_property" }
func (op SetTrackPropertyOp) Track() timecode.TrackId { return op.TrackID }

func (op SetTrackPropertyOp) Apply(tl *timeline.Timeline) (Operation, error) {
	track, ok := tl.Track(op.TrackID)
	if !ok {
		return nil, errTrackNotFound(op.TrackID)
	}
	old := currentPropertyValue(track, op.Property)
	if err := tl.SetTrackProperty(op.TrackID, op.Property, op.Value); err != nil {
		return nil, err
	}
	return SetTrackPropertyOp{TrackID: op.TrackID, Property: op.Property, Value: old}, nil
}

func currentPropertyValue(t *timeline.Track, name string) interface{} {
	switch name {
	case "muted":
		return t.Muted
	case "locked":
		return t.Locked
	case "layer_order":
		return t.LayerOrder
	case "blend_mode":
		return t.BlendMode
	case "opacity":
		return t.Opacity
	case "name":
		return t.Name
	}
	return nil
}

// --- Keyframes ---

// AddKeyframeOp adds a keyframe sample to a track's named parameter.
type AddKeyframeOp struct {
	TrackID   timecode.TrackId
	Parameter string
	Sample    keyframe.Sample
}

func (op AddKeyframeOp) Kind() string           { return "add_keyframe" }
func (op AddKeyframeOp) Track() timecode.TrackId { return op.TrackID }

func (op AddKeyframeOp) Apply(tl *timeline.Timeline) (Operation, error) {
	if err := tl.AddKeyframe(op.TrackID, op.Parameter, op.Sample); err != nil {
		return nil, err
	}
	return RemoveKeyframeOp{TrackID: op.TrackID, Parameter: op.Parameter, At: op.Sample.Time}, nil
}

// RemoveKeyframeOp removes a keyframe sample.
type RemoveKeyframeOp struct {
	TrackID   timecode.TrackId
	Parameter string
	At        timecode.Position
}

func (op RemoveKeyframeOp) Kind() string           { return "remove_keyframe" }
func (op RemoveKeyframeOp) Track() timecode.TrackId { return op.TrackID }

func (op RemoveKeyframeOp) Apply(tl *timeline.Timeline) (Operation, error) {
	track, ok := tl.Track(op.TrackID)
	if !ok {
		return nil, errTrackNotFound(op.TrackID)
	}
	var removedSample keyframe.Sample
	if kt, exists := track.Keyframes[op.Parameter]; exists {
		for _, s := range kt.Samples() {
			if s.Time.Equal(op.At) {
				removedSample = s
				break
			}
		}
	}
	if err := tl.RemoveKeyframe(op.TrackID, op.Parameter, op.At); err != nil {
		return nil, err
	}
	return AddKeyframeOp{TrackID: op.TrackID, Parameter: op.Parameter, Sample: removedSample}, nil
}

// --- Tracks ---

// AddTrackOp adds a new track.
type AddTrackOp struct {
	Kind_      timeline.TrackKind
	Name       string
	LayerOrder int

	createdID *timecode.TrackId // filled in after apply, for callers that need the new ID
}

func (op AddTrackOp) Kind() string           { return "add_track" }
func (op *AddTrackOp) Track() timecode.TrackId {
	if op.createdID != nil {
		return *op.createdID
	}
	return 0
}

func (op *AddTrackOp) Apply(tl *timeline.Timeline) (Operation, error) {
	t := tl.AddTrack(op.Kind_, op.Name, op.LayerOrder)
	op.createdID = &t.ID
	return RemoveTrackOp{TrackID: t.ID}, nil
}

// RemoveTrackOp removes a track, including its clips and keyframes. Its
// inverse restores the exact snapshot taken at removal time.
type RemoveTrackOp struct {
	TrackID timecode.TrackId
}

func (op RemoveTrackOp) Kind() string           { return "remove_track" }
func (op RemoveTrackOp) Track() timecode.TrackId { return op.TrackID }

func (op RemoveTrackOp) Apply(tl *timeline.Timeline) (Operation, error) {
	snapshot, severed, err := tl.RemoveTrack(op.TrackID)
	if err != nil {
		return nil, err
	}
	return restoreTrackOp{Snapshot: snapshot, Relationships: severed}, nil
}

// restoreTrackOp is the inverse of RemoveTrackOp: it restores a track
// with its original ID, clips, keyframes and severed relationship edges.
type restoreTrackOp struct {
	Snapshot      timeline.Track
	Relationships []timeline.Relationship
}

func (op restoreTrackOp) Kind() string           { return "restore_track" }
func (op restoreTrackOp) Track() timecode.TrackId { return op.Snapshot.ID }

func (op restoreTrackOp) Apply(tl *timeline.Timeline) (Operation, error) {
	if err := tl.RestoreTrack(op.Snapshot, op.Relationships); err != nil {
		return nil, err
	}
	return RemoveTrackOp{TrackID: op.Snapshot.ID}, nil
}

// --- Relationships ---

// AddRelationshipOp adds a relationship edge.
type AddRelationshipOp struct {
	Parent timecode.TrackId
	Child  timecode.TrackId
	Kind_  timeline.RelationshipKind
}

func (op AddRelationshipOp) Kind() string           { return "add_relationship" }
func (op AddRelationshipOp) Track() timecode.TrackId { return op.Parent }

func (op AddRelationshipOp) Apply(tl *timeline.Timeline) (Operation, error) {
	if err := tl.AddRelationship(op.Parent, op.Child, op.Kind_); err != nil {
		return nil, err
	}
	return RemoveRelationshipOp{Parent: op.Parent, Child: op.Child}, nil
}

// RemoveRelationshipOp removes a relationship edge.
type RemoveRelationshipOp struct {
	Parent timecode.TrackId
	Child  timecode.TrackId
}

func (op RemoveRelationshipOp) Kind() string           { return "remove_relationship" }
func (op RemoveRelationshipOp) Track() timecode.TrackId { return op.Parent }

func (op RemoveRelationshipOp) Apply(tl *timeline.Timeline) (Operation, error) {
	kind, ok := tl.RemoveRelationship(op.Parent, op.Child)
	if !ok {
		return noopOp{}, nil
	}
	return AddRelationshipOp{Parent: op.Parent, Child: op.Child, Kind_: kind}, nil
}
