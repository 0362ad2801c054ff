package history

import (
	"clipforge/pkg/timecode"
	"clipforge/pkg/timeline"
)

// structuralKinds are ops that sync and mirror relationships propagate;
// derived relationships propagate only the subset in derivedKinds.
var structuralKinds = map[string]bool{
	"add_clip":       true,
	"remove_clip":    true,
	"move_clip":      true,
	"split_clip_at":  true,
}

// mirrorOnlyKinds are additionally propagated by mirror relationships.
var mirrorOnlyKinds = map[string]bool{
	"set_track_property": true,
	"add_keyframe":       true,
	"remove_keyframe":    true,
}

// derivedKinds restricts derived relationships to these three.
var derivedKinds = map[string]bool{
	"add_clip":  true,
	"remove_clip": true,
	"move_clip": true,
}

func propagates(relKind timeline.RelationshipKind, opKind string) bool {
	switch relKind {
	case timeline.RelationshipDerived:
		return derivedKinds[opKind]
	case timeline.RelationshipSync:
		return structuralKinds[opKind]
	case timeline.RelationshipMirror:
		return structuralKinds[opKind] || mirrorOnlyKinds[opKind]
	}
	return false
}

// linkTable tracks the correspondence between a parent clip and the
// clips propagation created on descendant tracks (links are recorded when
// add_clip propagates), so that later move_clip/remove_clip on the parent
// clip can be replayed against the right descendant clip. split_clip_at
// is replayed by position and does not consult the table.
type linkTable struct {
	// byParentClip[parentClipID][childTrackID] = childClipID
	byParentClip map[timecode.ClipId]map[timecode.TrackId]timecode.ClipId
}

func newLinkTable() *linkTable {
	return &linkTable{byParentClip: make(map[timecode.ClipId]map[timecode.TrackId]timecode.ClipId)}
}

func (lt *linkTable) set(parentClip timecode.ClipId, childTrack timecode.TrackId, childClip timecode.ClipId) {
	if lt.byParentClip[parentClip] == nil {
		lt.byParentClip[parentClip] = make(map[timecode.TrackId]timecode.ClipId)
	}
	lt.byParentClip[parentClip][childTrack] = childClip
}

func (lt *linkTable) get(parentClip timecode.ClipId, childTrack timecode.TrackId) (timecode.ClipId, bool) {
	m, ok := lt.byParentClip[parentClip]
	if !ok {
		return 0, false
	}
	id, ok := m[childTrack]
	return id, ok
}

func (lt *linkTable) rekey(oldParentClip, newParentClip timecode.ClipId) {
	if m, ok := lt.byParentClip[oldParentClip]; ok {
		lt.byParentClip[newParentClip] = m
		delete(lt.byParentClip, oldParentClip)
	}
}

func (lt *linkTable) drop(parentClip timecode.ClipId) {
	delete(lt.byParentClip, parentClip)
}

// retarget builds the operation to replay on a child track for a given
// parent operation, using the link table to resolve clip correspondence.
// Returns ok=false when the op kind carries no child-side equivalent
// (e.g. the parent clip was never propagated because the relationship
// was added after the fact).
func retarget(op Operation, childTrack timecode.TrackId, lt *linkTable) (Operation, bool) {
	switch o := op.(type) {
	case AddClipOp:
		return AddClipOp{
			TrackID:   childTrack,
			AssetId:   o.AssetId,
			Position:  o.Position,
			Duration:  o.Duration,
			SourceIn:  o.SourceIn,
			SourceOut: o.SourceOut,
		}, true
	case RemoveClipOp:
		childClip, ok := lt.get(o.ClipID, childTrack)
		if !ok {
			return nil, false
		}
		return RemoveClipOp{TrackID: childTrack, ClipID: childClip}, true
	case MoveClipOp:
		childClip, ok := lt.get(o.ClipID, childTrack)
		if !ok {
			return nil, false
		}
		return MoveClipOp{TrackID: childTrack, ClipID: childClip, NewPosition: o.NewPosition}, true
	case SplitClipAtOp:
		return SplitClipAtOp{TrackID: childTrack, Position: o.Position}, true
	case SetTrackPropertyOp:
		return SetTrackPropertyOp{TrackID: childTrack, Property: o.Property, Value: o.Value}, true
	case AddKeyframeOp:
		return AddKeyframeOp{TrackID: childTrack, Parameter: o.Parameter, Sample: o.Sample}, true
	case RemoveKeyframeOp:
		return RemoveKeyframeOp{TrackID: childTrack, Parameter: o.Parameter, At: o.At}, true
	}
	return nil, false
}

// clipIDFromInverse extracts the clip ID an AddClipOp created, by reading
// its inverse (always a RemoveClipOp naming the new clip).
func clipIDFromInverse(inverse Operation) (timecode.ClipId, bool) {
	rc, ok := inverse.(RemoveClipOp)
	if !ok {
		return 0, false
	}
	return rc.ClipID, true
}

// propagationStep is one node of the propagation BFS: an operation that
// was just applied on track, along with the inverse it produced.
type propagationStep struct {
	track   timecode.TrackId
	parent  timecode.TrackId // zero for the root step
	op      Operation
	inverse Operation
}

// propagate walks the relationship graph reachable from root, replaying
// root's operation (generalized per hop via retarget) on every
// descendant whose relationship kind's policy covers the operation. It
// returns ErrPropagationCycle if a track is reached twice in one
// traversal, and appends every successfully-applied step to applied so
// the caller can roll them back on later failure.
func (lt *linkTable) propagate(tl *timeline.Timeline, root propagationStep, applied *[]propagationStep) error {
	visited := map[timecode.TrackId]bool{root.track: true}
	queue := []propagationStep{root}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, rel := range tl.OutgoingRelationships(cur.track) {
			if visited[rel.Child] {
				return ErrPropagationCycle
			}
			if !propagates(rel.Kind, cur.op.Kind()) {
				visited[rel.Child] = true
				continue
			}
			childOp, ok := retarget(cur.op, rel.Child, lt)
			if !ok {
				visited[rel.Child] = true
				continue
			}
			childInverse, err := childOp.Apply(tl)
			if err != nil {
				return err
			}
			step := propagationStep{track: rel.Child, parent: cur.track, op: childOp, inverse: childInverse}
			*applied = append(*applied, step)

			if parentClipID, ok2 := clipIDFromInverse(cur.inverse); ok2 && cur.op.Kind() == "add_clip" {
				if childClipID, ok3 := clipIDFromInverse(childInverse); ok3 {
					lt.set(parentClipID, rel.Child, childClipID)
				}
			}

			visited[rel.Child] = true
			queue = append(queue, step)
		}
	}
	return nil
}
