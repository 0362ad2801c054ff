package render

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"clipforge/pkg/asset"
	"clipforge/pkg/compositor"
	"clipforge/pkg/project"
	"clipforge/pkg/timeline"
)

// canonicalStep is the JSON-serializable shape fingerprinted for one
// step, per §4.7: "the SHA-256 of a canonical serialization of (asset
// fingerprints, track slice definition, applicable keyframe samples,
// output profile, codec version)". encoding/json sorts map keys, so two
// equal values always serialize identically across runs and platforms
// (the property §8 requires of Fingerprint).
type canonicalStep struct {
	CodecVersion   int                  `json:"codec_version"`
	Profile        canonicalProfile     `json:"profile"`
	Window         canonicalWindow      `json:"window"`
	AssetPrints    map[string]string    `json:"asset_fingerprints"` // path -> asset.Fingerprint()
	Tracks         []canonicalTrack     `json:"tracks"`
}

type canonicalProfile struct {
	Width, Height int
	FrameRateNum  int64
	FrameRateDen  int64
}

type canonicalWindow struct {
	StartSeconds float64
	EndSeconds   float64
}

type canonicalTrack struct {
	ID         uint64
	Kind       string
	LayerOrder int
	BlendMode  string
	Opacity    float64
	Muted      bool
	Clips      []canonicalClip
	Keyframes  map[string][]canonicalSample
}

type canonicalClip struct {
	ID               uint64
	AssetID          uint64
	TimelinePosition float64
	Duration         float64
	SourceIn         float64
	SourceOut        float64
}

type canonicalSample struct {
	TimeSeconds float64
	Number      float64
	Category    string
	Easing      string
}

// Fingerprint computes the stable SHA-256 cache key for one render step,
// scoped to tracks (the full set lowered into that step: a single track
// for a TrackPreRender step, every active video+audio track for a
// Compose step), per §4.7 step 1.
func Fingerprint(tracks []*timeline.Track, registry *asset.Registry, window compositor.Window, profile compositor.Profile) (string, error) {
	canon := canonicalStep{
		CodecVersion: project.CurrentVersion,
		Profile: canonicalProfile{
			Width: profile.Width, Height: profile.Height,
			FrameRateNum: profile.FrameRate.Num, FrameRateDen: profile.FrameRate.Den,
		},
		Window:      canonicalWindow{StartSeconds: window.Start.Seconds(), EndSeconds: window.End.Seconds()},
		AssetPrints: make(map[string]string),
	}

	for _, t := range tracks {
		ct := canonicalTrack{
			ID: uint64(t.ID), Kind: string(t.Kind), LayerOrder: t.LayerOrder,
			BlendMode: string(t.BlendMode), Opacity: t.Opacity, Muted: t.Muted,
			Keyframes: make(map[string][]canonicalSample),
		}
		for _, c := range t.Clips() {
			if !clipActiveIn(c, window) {
				continue
			}
			a, err := registry.Get(c.AssetId)
			if err != nil {
				return "", fmt.Errorf("render: fingerprint: clip %d: %w", c.ID, err)
			}
			canon.AssetPrints[a.Path] = a.Fingerprint()
			ct.Clips = append(ct.Clips, canonicalClip{
				ID:               uint64(c.ID),
				AssetID:          uint64(c.AssetId),
				TimelinePosition: c.TimelinePosition.Seconds(),
				Duration:         c.Duration.Seconds(),
				SourceIn:         c.SourceIn.Seconds(),
				SourceOut:        c.SourceOut.Seconds(),
			})
		}
		if len(ct.Clips) == 0 {
			continue // track contributes nothing to this window
		}
		for name, kt := range t.Keyframes {
			var samples []canonicalSample
			for _, s := range kt.Samples() {
				samples = append(samples, canonicalSample{
					TimeSeconds: s.Time.Seconds(), Number: s.Value.Number,
					Category: s.Value.Category, Easing: string(s.Easing),
				})
			}
			ct.Keyframes[name] = samples
		}
		canon.Tracks = append(canon.Tracks, ct)
	}
	sort.Slice(canon.Tracks, func(i, j int) bool { return canon.Tracks[i].ID < canon.Tracks[j].ID })

	raw, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("render: fingerprint: marshal: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func clipActiveIn(c *timeline.Clip, window compositor.Window) bool {
	return c.End().After(window.Start) && c.TimelinePosition.Before(window.End)
}
