package history

import (
	"clipforge/pkg/timecode"
	"clipforge/pkg/timeline"
)

// DefaultMaxGroupDepth bounds BeginGroup nesting (§4.2 requires support
// for at least 4 levels).
const DefaultMaxGroupDepth = 8

// DefaultMaxEntries bounds the undo stack before pruning drops the
// oldest whole group.
const DefaultMaxEntries = 500

// entry is one applied operation recorded on the undo/redo stack.
type entry struct {
	forward Operation
	inverse Operation
	groupID uint64
}

// History is the edit-history engine (C5): a reversible operation log
// with grouping and multi-track propagation. Every call that mutates the
// timeline — directly or via propagation — is recorded so it can be
// undone or redone as a unit.
//
// Grounded on the teacher's request/response queue pattern in
// pkg/monitor.Recorder (a mutex-guarded sequential event log), adapted
// here from a recording lifecycle to a command/inverse edit log.
type History struct {
	tl    *timeline.Timeline
	links *linkTable

	undo []entry
	redo []entry

	groupStack  []uint64
	nextGroupID uint64

	maxDepth   int
	maxEntries int

	onApplied    func(Operation)
	onPropagated func(parent, child timecode.TrackId, op Operation)
}

// New returns a History bound to tl, ready to apply operations.
func New(tl *timeline.Timeline) *History {
	return &History{
		tl:         tl,
		links:      newLinkTable(),
		maxDepth:   DefaultMaxGroupDepth,
		maxEntries: DefaultMaxEntries,
	}
}

// OnApplied registers a hook invoked after the root operation of each
// Apply call is applied. Propagated copies are reported to OnPropagated
// instead, and Undo/Redo do not invoke it. Replaces any earlier hook.
func (h *History) OnApplied(fn func(Operation)) { h.onApplied = fn }

// OnPropagated registers a hook invoked whenever propagation replicates
// an edit onto a descendant track.
func (h *History) OnPropagated(fn func(parent, child timecode.TrackId, op Operation)) {
	h.onPropagated = fn
}

// BeginGroup opens a new history group. Groups may nest up to maxDepth;
// every operation applied while any group is open shares the innermost
// group's ID, so Undo/Redo always act on whole groups.
func (h *History) BeginGroup() error {
	if len(h.groupStack) >= h.maxDepth {
		return ErrGroupDepthExceeded
	}
	h.nextGroupID++
	h.groupStack = append(h.groupStack, h.nextGroupID)
	return nil
}

// EndGroup closes the innermost open group.
func (h *History) EndGroup() error {
	if len(h.groupStack) == 0 {
		return ErrNoActiveGroup
	}
	h.groupStack = h.groupStack[:len(h.groupStack)-1]
	return nil
}

func (h *History) currentGroup() uint64 {
	return h.groupStack[len(h.groupStack)-1]
}

// Apply executes op against the bound timeline, propagates it to related
// tracks per §4.4, and records the whole of this call (op plus every
// propagated child) as a single history group. If any step fails, every
// step already applied during this call is rolled back via its inverse,
// in reverse order, so the timeline ends exactly as it started.
func (h *History) Apply(op Operation) error {
	implicit := len(h.groupStack) == 0
	if implicit {
		if err := h.BeginGroup(); err != nil {
			return err
		}
	}
	groupID := h.currentGroup()

	applied, err := h.applyWithPropagation(op)
	if err != nil {
		h.rollback(applied)
		if implicit {
			h.groupStack = h.groupStack[:len(h.groupStack)-1]
		}
		return err
	}

	for _, step := range applied {
		h.undo = append(h.undo, entry{forward: step.op, inverse: step.inverse, groupID: groupID})
	}
	h.redo = nil
	h.prune()

	if implicit {
		if err := h.EndGroup(); err != nil {
			return err
		}
	}
	return nil
}

// applyWithPropagation applies op and every propagated descendant,
// returning the full ordered list of steps taken.
func (h *History) applyWithPropagation(op Operation) ([]propagationStep, error) {
	inverse, err := op.Apply(h.tl)
	if err != nil {
		return nil, err
	}
	root := propagationStep{track: op.Track(), op: op, inverse: inverse}
	h.notifyApplied(op)

	applied := []propagationStep{root}
	if err := h.links.propagate(h.tl, root, &applied); err != nil {
		return applied, err
	}
	for _, step := range applied[1:] {
		h.notifyPropagated(step.parent, step.track, step.op)
	}
	return applied, nil
}

// rollback undoes every step in applied, most recent first, best-effort
// (later failures don't stop earlier inverses from running — the goal is
// to restore as much of the pre-apply state as possible).
func (h *History) rollback(applied []propagationStep) {
	for i := len(applied) - 1; i >= 0; i-- {
		_, _ = applied[i].inverse.Apply(h.tl)
	}
}

// prune drops the oldest whole groups once the undo log exceeds
// maxEntries. A group is never split: pruning removes every entry
// belonging to the oldest group(s) until the log is back under budget.
// A group that is still open is never pruned.
func (h *History) prune() {
	for len(h.undo) > h.maxEntries {
		oldest := h.undo[0].groupID
		for _, open := range h.groupStack {
			if open == oldest {
				return
			}
		}
		i := 0
		for i < len(h.undo) && h.undo[i].groupID == oldest {
			i++
		}
		h.undo = h.undo[i:]
	}
}

// CanUndo reports whether there is a group available to undo.
func (h *History) CanUndo() bool { return len(h.undo) > 0 }

// CanRedo reports whether there is a group available to redo.
func (h *History) CanRedo() bool { return len(h.redo) > 0 }

// Undo reverts the most recently applied group by replaying each of its
// entries' inverses in reverse order, moving the group onto the redo
// stack.
func (h *History) Undo() error {
	if len(h.undo) == 0 {
		return ErrNoActiveGroup
	}
	groupID := h.undo[len(h.undo)-1].groupID
	i := len(h.undo)
	for i > 0 && h.undo[i-1].groupID == groupID {
		i--
	}
	group := h.undo[i:]
	h.undo = h.undo[:i]

	var reverted []Operation
	for j := len(group) - 1; j >= 0; j-- {
		back, err := group[j].inverse.Apply(h.tl)
		if err != nil {
			// Best effort: reapply what we already reverted so the undo
			// stack isn't silently lost, then surface the error.
			for k := len(reverted) - 1; k >= 0; k-- {
				_, _ = reverted[k].Apply(h.tl)
			}
			h.undo = append(h.undo, group...)
			return err
		}
		reverted = append(reverted, back)
	}
	h.redo = append(h.redo, group...)
	return nil
}

// Redo reapplies the most recently undone group.
func (h *History) Redo() error {
	if len(h.redo) == 0 {
		return ErrNoActiveGroup
	}
	groupID := h.redo[len(h.redo)-1].groupID
	i := len(h.redo)
	for i > 0 && h.redo[i-1].groupID == groupID {
		i--
	}
	group := h.redo[i:]
	h.redo = h.redo[:i]

	for j := 0; j < len(group); j++ {
		inv, err := group[j].forward.Apply(h.tl)
		if err != nil {
			h.redo = append(h.redo, group...)
			return err
		}
		group[j].inverse = inv
	}
	h.undo = append(h.undo, group...)
	return nil
}

func (h *History) notifyApplied(op Operation) {
	if h.onApplied != nil {
		h.onApplied(op)
	}
}

func (h *History) notifyPropagated(parent, child timecode.TrackId, op Operation) {
	if h.onPropagated != nil {
		h.onPropagated(parent, child, op)
	}
}
