// Package keyframe implements named parameter tracks of (time, value,
// easing) samples and their interpolation, per the FCPXML-style parameter
// classification used across the reference pack (numeric parameters ease,
// categorical parameters always step).
package keyframe

import (
	"fmt"
	"sort"

	"clipforge/pkg/timecode"
)

// Easing selects the interpolation curve applied between two samples.
type Easing string

// Recognised easing curves.
const (
	Linear     Easing = "Linear"
	EaseIn     Easing = "EaseIn"
	EaseOut    Easing = "EaseOut"
	EaseInOut  Easing = "EaseInOut"
	Step       Easing = "Step"
)

func validEasing(e Easing) bool {
	switch e {
	case Linear, EaseIn, EaseOut, EaseInOut, Step:
		return true
	}
	return false
}

// apply maps u in [0,1] through the easing curve.
func (e Easing) apply(u float64) float64 {
	switch e {
	case EaseIn:
		return u * u
	case EaseOut:
		return 1 - (1-u)*(1-u)
	case EaseInOut:
		return 3*u*u - 2*u*u*u
	default: // Linear, Step (Step never reaches here numerically)
		return u
	}
}

// ParameterKind classifies a parameter name so the engine knows whether it
// may interpolate numerically or must behave as Step regardless of the
// sample's declared easing. Mirrors the reference pack's
// ParseKeyframeParameterType approach: classify by name, not by value type.
type ParameterKind int

// Recognised parameter kinds.
const (
	KindUnknown ParameterKind = iota
	KindNumeric
	KindCategorical
)

// ClassifyParameter returns the kind for a recognised parameter name.
func ClassifyParameter(name string) ParameterKind {
	switch name {
	case "opacity", "scale", "position_x", "position_y", "rotation", "volume":
		return KindNumeric
	case "blend_mode":
		return KindCategorical
	}
	if len(name) > 5 && name[:5] == "mask." {
		if name == "mask.feather" {
			return KindNumeric
		}
		return KindCategorical
	}
	return KindUnknown
}

// Value holds either a numeric or a categorical (string/enum) sample value.
// Exactly one of the two is meaningful, selected by IsCategorical.
type Value struct {
	Number       float64
	Category     string
	IsCategorical bool
}

// NumberValue wraps a float64 as a Value.
func NumberValue(v float64) Value { return Value{Number: v} }

// CategoryValue wraps a string as a Value.
func CategoryValue(v string) Value { return Value{Category: v, IsCategorical: true} }

// Sample is a single (time, value, easing) point on a parameter track.
type Sample struct {
	Time   timecode.Position
	Value  Value
	Easing Easing
}

// ErrNonEnumBlendMode is returned when a blend_mode sample carries a
// numeric value; per spec §9 Open Question 1 this is a validation error.
var ErrNonEnumBlendMode = fmt.Errorf("keyframe: blend_mode sample must be categorical")

// ErrDuplicateTime is returned when two samples share a time.
var ErrDuplicateTime = fmt.Errorf("keyframe: duplicate sample time")

// ErrInvalidEasing is returned for an unrecognised easing value.
var ErrInvalidEasing = fmt.Errorf("keyframe: invalid easing")

// Track is an ordered, duplicate-time-free sequence of samples for one
// named parameter.
type Track struct {
	Parameter string
	samples   []Sample
}

// NewTrack returns an empty track for the named parameter.
func NewTrack(parameter string) *Track {
	return &Track{Parameter: parameter}
}

// Samples returns the samples in time order. The returned slice must not
// be mutated by the caller.
func (t *Track) Samples() []Sample {
	return t.samples
}

// Add inserts a sample in sorted position, rejecting duplicate times and
// parameter/value mismatches.
func (t *Track) Add(s Sample) error {
	if !validEasing(s.Easing) {
		return ErrInvalidEasing
	}
	if t.Parameter == "blend_mode" && !s.Value.IsCategorical {
		return ErrNonEnumBlendMode
	}
	if ClassifyParameter(t.Parameter) == KindCategorical && !s.Value.IsCategorical {
		return ErrNonEnumBlendMode
	}

	idx := sort.Search(len(t.samples), func(i int) bool {
		return !t.samples[i].Time.Before(s.Time)
	})
	if idx < len(t.samples) && t.samples[idx].Time.Equal(s.Time) {
		return ErrDuplicateTime
	}

	t.samples = append(t.samples, Sample{})
	copy(t.samples[idx+1:], t.samples[idx:])
	t.samples[idx] = s
	return nil
}

// Remove deletes the sample at the given time, if any. Returns true if a
// sample was removed.
func (t *Track) Remove(at timecode.Position) bool {
	for i, s := range t.samples {
		if s.Time.Equal(at) {
			t.samples = append(t.samples[:i], t.samples[i+1:]...)
			return true
		}
	}
	return false
}

// Sample evaluates the track at time t per spec §4.3:
//  1. no samples → ok=false, caller supplies default.
//  2. t <= first.time → first value.
//  3. t >= last.time → last value.
//  4. otherwise bracket and interpolate (Step short-circuits on a's easing,
//     categorical parameters always behave as Step regardless of declared
//     easing).
func (t *Track) Sample(at timecode.Position) (Value, bool) {
	if len(t.samples) == 0 {
		return Value{}, false
	}
	first := t.samples[0]
	if !at.After(first.Time) {
		return first.Value, true
	}
	last := t.samples[len(t.samples)-1]
	if !at.Before(last.Time) {
		return last.Value, true
	}

	// Find bracketing pair a.time <= t < b.time.
	idx := sort.Search(len(t.samples), func(i int) bool {
		return t.samples[i].Time.After(at)
	})
	b := t.samples[idx]
	a := t.samples[idx-1]

	categorical := ClassifyParameter(t.Parameter) == KindCategorical || a.Value.IsCategorical
	if a.Easing == Step || categorical {
		return a.Value, true
	}

	span := b.Time.Seconds() - a.Time.Seconds()
	var u float64
	if span > 0 {
		u = (at.Seconds() - a.Time.Seconds()) / span
	}
	u = a.Easing.apply(u)
	if u < 0 {
		u = 0
	}
	if u > 1 {
		u = 1
	}
	value := a.Value.Number + (b.Value.Number-a.Value.Number)*u
	return NumberValue(value), true
}

// Table is a keyframe-track-table keyed by parameter name, as carried by
// a Track in the timeline model.
type Table map[string]*Track

// Sample evaluates the named parameter, returning ok=false if the
// parameter has no track or no samples.
func (tb Table) Sample(parameter string, at timecode.Position) (Value, bool) {
	track, exists := tb[parameter]
	if !exists {
		return Value{}, false
	}
	return track.Sample(at)
}
