// Package timecode implements the time and identity primitives shared by
// every other package: frame-rate aware positions and durations, and the
// opaque, monotonically assigned IDs used for assets, tracks, clips and
// keyframe tracks.
package timecode

import "fmt"

// FrameRate is a rational frames-per-second value, e.g. 30000/1001 for
// 29.97 fps. Stored as a fraction to keep frame arithmetic exact.
type FrameRate struct {
	Num int64
	Den int64
}

// NewFrameRate returns a FrameRate, rejecting non-positive denominators.
func NewFrameRate(num, den int64) (FrameRate, error) {
	if den <= 0 || num <= 0 {
		return FrameRate{}, fmt.Errorf("timecode: invalid frame rate %d/%d", num, den)
	}
	return FrameRate{Num: num, Den: den}, nil
}

// Float returns the frame rate as frames per second. Float-only at the
// serialisation/filtergraph boundary; internal arithmetic never uses it.
func (r FrameRate) Float() float64 {
	return float64(r.Num) / float64(r.Den)
}

// FrameDuration returns the duration of a single frame at this rate.
func (r FrameRate) FrameDuration() Duration {
	return Duration{frames: 1, rate: r}
}

// Position is a point on the timeline, always >= 0. Internally an exact
// frame count at a given rate so that comparisons and arithmetic never
// accumulate floating-point error; Seconds converts to float only for
// serialisation or filtergraph output.
type Position struct {
	frames int64
	rate   FrameRate
}

// Duration is a non-negative timeline span, stored the same way.
type Duration struct {
	frames int64
	rate   FrameRate
}

// framesFromSeconds converts a seconds value to the nearest exact frame
// count at rate. This is the one place a float crosses into the internal
// representation: at construction, from an external (user- or
// serialisation-supplied) seconds value.
func framesFromSeconds(seconds float64, rate FrameRate) int64 {
	return int64(seconds*rate.Float() + 0.5)
}

// secondsFromFrames converts an exact frame count back to seconds using
// rational division, the boundary conversion for Seconds()/String().
func secondsFromFrames(frames int64, rate FrameRate) float64 {
	return float64(frames) * float64(rate.Den) / float64(rate.Num)
}

// convertFrames re-expresses a frame count at one rate as the nearest
// exact frame count at another, by integer cross-multiplication (no
// float, no big.Rat) so that same-rate arithmetic -- the overwhelming
// common case -- never rounds at all.
func convertFrames(frames int64, from, to FrameRate) int64 {
	if from == to {
		return frames
	}
	num := frames * to.Num * from.Den
	den := from.Num * to.Den
	q := num / den
	r := num % den
	if 2*r >= den {
		q++
	} else if 2*r <= -den {
		q--
	}
	return q
}

// NewPosition builds a Position from seconds. Negative seconds are rejected.
func NewPosition(seconds float64, rate FrameRate) (Position, error) {
	if seconds < -epsilonSeconds {
		return Position{}, fmt.Errorf("timecode: negative position %v", seconds)
	}
	if seconds < 0 {
		seconds = 0
	}
	return Position{frames: framesFromSeconds(seconds, rate), rate: rate}, nil
}

// PositionFromFrame builds a Position from an integer frame count.
func PositionFromFrame(frame int64, rate FrameRate) Position {
	return Position{frames: frame, rate: rate}
}

// NewDuration builds a Duration from seconds. Negative seconds are rejected.
func NewDuration(seconds float64, rate FrameRate) (Duration, error) {
	if seconds < -epsilonSeconds {
		return Duration{}, fmt.Errorf("timecode: negative duration %v", seconds)
	}
	if seconds < 0 {
		seconds = 0
	}
	return Duration{frames: framesFromSeconds(seconds, rate), rate: rate}, nil
}

// DurationFromFrame builds a Duration from an integer frame count.
func DurationFromFrame(frame int64, rate FrameRate) Duration {
	return Duration{frames: frame, rate: rate}
}

// epsilonSeconds bounds the float64 rounding slop tolerated when a
// seconds value is converted into an exact frame count at construction.
const epsilonSeconds = 1e-9

// Seconds converts the exact frame count to seconds. Boundary-only: use
// Frame or the Before/After/Equal/Compare family for internal logic.
func (p Position) Seconds() float64 { return secondsFromFrames(p.frames, p.rate) }
func (d Duration) Seconds() float64 { return secondsFromFrames(d.frames, d.rate) }

// Rate returns the frame rate the value was constructed with.
func (p Position) Rate() FrameRate { return p.rate }
func (d Duration) Rate() FrameRate { return d.rate }

// Frame returns the exact frame index at the position's own rate.
func (p Position) Frame() int64 { return p.frames }

// Frames returns the exact frame count at the duration's own rate.
func (d Duration) Frames() int64 { return d.frames }

// Add returns p + d.
func (p Position) Add(d Duration) Position {
	return Position{frames: p.frames + convertFrames(d.frames, d.rate, p.rate), rate: p.rate}
}

// Sub returns the Duration between two positions (a - b). Callers must
// ensure a >= b for a meaningful Duration; if a < b the result is zero.
func (a Position) Sub(b Position) Duration {
	diff := a.frames - convertFrames(b.frames, b.rate, a.rate)
	if diff < 0 {
		diff = 0
	}
	return Duration{frames: diff, rate: a.rate}
}

// Before reports whether p occurs strictly before other.
func (p Position) Before(other Position) bool {
	return p.frames < convertFrames(other.frames, other.rate, p.rate)
}

// After reports whether p occurs strictly after other.
func (p Position) After(other Position) bool {
	return p.frames > convertFrames(other.frames, other.rate, p.rate)
}

// Equal reports whether p and other denote the same frame.
func (p Position) Equal(other Position) bool {
	return p.frames == convertFrames(other.frames, other.rate, p.rate)
}

// Compare returns -1, 0, or 1.
func (p Position) Compare(other Position) int {
	switch {
	case p.Before(other):
		return -1
	case p.After(other):
		return 1
	default:
		return 0
	}
}

// Add returns the sum of two durations.
func (d Duration) Add(other Duration) Duration {
	return Duration{frames: d.frames + convertFrames(other.frames, other.rate, d.rate), rate: d.rate}
}

// Sub returns d - other, clamped to zero (Duration is always non-negative).
func (d Duration) Sub(other Duration) Duration {
	diff := d.frames - convertFrames(other.frames, other.rate, d.rate)
	if diff < 0 {
		diff = 0
	}
	return Duration{frames: diff, rate: d.rate}
}

// IsZero reports whether the duration is exactly zero frames.
func (d Duration) IsZero() bool { return d.frames == 0 }

// GreaterThan reports d > other.
func (d Duration) GreaterThan(other Duration) bool {
	return d.frames > convertFrames(other.frames, other.rate, d.rate)
}

// String renders HH:MM:SS.mmm, useful for logging.
func (p Position) String() string {
	return formatSeconds(secondsFromFrames(p.frames, p.rate))
}

func (d Duration) String() string {
	return formatSeconds(secondsFromFrames(d.frames, d.rate))
}

func formatSeconds(total float64) string {
	if total < 0 {
		total = 0
	}
	h := int64(total) / 3600
	m := (int64(total) % 3600) / 60
	s := total - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}

// --- Opaque identities ---

// AssetId identifies a source-media asset within a project.
type AssetId uint64

// TrackId identifies a track within a project.
type TrackId uint64

// ClipId identifies a clip within a project.
type ClipId uint64

// KeyframeTrackId identifies a keyframe track owned by a Track.
type KeyframeTrackId uint64

// IDGenerator hands out monotonically increasing, never-reused IDs scoped
// to a single project. The zero value is ready to use.
type IDGenerator struct {
	next uint64
}

// NewIDGenerator returns a generator starting after the given high-water
// mark, used when resuming from a persisted project.
func NewIDGenerator(highWaterMark uint64) *IDGenerator {
	return &IDGenerator{next: highWaterMark}
}

func (g *IDGenerator) nextID() uint64 {
	g.next++
	return g.next
}

// NextAssetId returns the next AssetId.
func (g *IDGenerator) NextAssetId() AssetId { return AssetId(g.nextID()) }

// NextTrackId returns the next TrackId.
func (g *IDGenerator) NextTrackId() TrackId { return TrackId(g.nextID()) }

// NextClipId returns the next ClipId.
func (g *IDGenerator) NextClipId() ClipId { return ClipId(g.nextID()) }

// NextKeyframeTrackId returns the next KeyframeTrackId.
func (g *IDGenerator) NextKeyframeTrackId() KeyframeTrackId { return KeyframeTrackId(g.nextID()) }

// HighWaterMark returns the last ID issued, for persistence.
func (g *IDGenerator) HighWaterMark() uint64 { return g.next }
