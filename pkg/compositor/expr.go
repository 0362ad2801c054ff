package compositor

import (
	"fmt"
	"strconv"

	"clipforge/pkg/keyframe"
)

// BuildExpr lowers a parameter's keyframe track into an FFmpeg timeline
// expression (usable anywhere the filter accepts eval=frame, e.g. a
// crop/overlay x/y, rotate's angle, or blend's all_opacity) evaluated
// against FFmpeg's `t` variable. It mirrors keyframe.Track.Sample's
// bracket-and-interpolate logic exactly, so a rendered frame matches what
// Table.Sample would report for the same instant.
//
// Categorical parameters have no numeric expression; callers must sample
// them directly (see keyframe.Track.Sample) and bake the result into the filter name
// instead, e.g. selecting which blend filter chain to emit.
func BuildExpr(t *keyframe.Track, fallback float64) string {
	samples := t.Samples()
	if len(samples) == 0 {
		return formatNum(fallback)
	}
	if len(samples) == 1 {
		return formatNum(samples[0].Value.Number)
	}

	return buildBracket(samples, 0)
}

// buildBracket recursively emits nested if(lt(t,Ti), ..., ...) expressions
// walking the sample list the same way Track.Sample brackets a query time:
// before the first sample, within each adjacent pair, or at/after the last.
func buildBracket(samples []keyframe.Sample, i int) string {
	if i == len(samples)-1 {
		return formatNum(samples[i].Value.Number)
	}
	a, b := samples[i], samples[i+1]
	segment := segmentExpr(a, b)
	if i == 0 {
		// t <= a.Time uses a's value; handled by the outer lt(t, a.Time) guard.
		return fmt.Sprintf("if(lt(t,%s),%s,%s)", formatNum(a.Time.Seconds()), formatNum(a.Value.Number), innerBracket(samples, i, segment))
	}
	return innerBracket(samples, i, segment)
}

func innerBracket(samples []keyframe.Sample, i int, segment string) string {
	b := samples[i+1]
	if i+1 == len(samples)-1 {
		return fmt.Sprintf("if(lt(t,%s),%s,%s)", formatNum(b.Time.Seconds()), segment, formatNum(b.Value.Number))
	}
	return fmt.Sprintf("if(lt(t,%s),%s,%s)", formatNum(b.Time.Seconds()), segment, buildBracket(samples, i+1))
}

// segmentExpr expresses a.Value + (b.Value-a.Value)*ease(u) for the span
// [a.Time, b.Time), where u is clamped to [0,1]. Step (and any categorical
// sample, which never reaches here since callers sample those directly)
// holds a's value for the whole span.
func segmentExpr(a, b keyframe.Sample) string {
	if a.Easing == keyframe.Step {
		return formatNum(a.Value.Number)
	}
	u := fmt.Sprintf("min(1,max(0,(t-%s)/(%s-%s)))", formatNum(a.Time.Seconds()), formatNum(b.Time.Seconds()), formatNum(a.Time.Seconds()))
	eased := easeExpr(a.Easing, u)
	delta := b.Value.Number - a.Value.Number
	return fmt.Sprintf("(%s+(%s)*(%s))", formatNum(a.Value.Number), formatNum(delta), eased)
}

func easeExpr(e keyframe.Easing, u string) string {
	switch e {
	case keyframe.EaseIn:
		return fmt.Sprintf("pow(%s,2)", u)
	case keyframe.EaseOut:
		return fmt.Sprintf("(1-pow(1-(%s),2))", u)
	case keyframe.EaseInOut:
		return fmt.Sprintf("(3*pow(%s,2)-2*pow(%s,3))", u, u)
	default: // Linear
		return u
	}
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
