package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"clipforge/pkg/errs"
)

// knownTopLevelFields are the document fields this codec understands;
// everything else is preserved verbatim in Document.Unknown.
var knownTopLevelFields = map[string]bool{
	"version":       true,
	"metadata":      true,
	"assets":        true,
	"tracks":        true,
	"relationships": true,
	"history_head":  true,
}

// knownTrackFields and knownSampleFields back the per-track/per-sample
// unknown-field warning: unlike the top level, a track or sample with a
// field this codec doesn't recognise has nowhere to round-trip it, so per
// §4.5 the field is dropped and warn is told why.
var knownTrackFields = map[string]bool{
	"id": true, "kind": true, "name": true, "muted": true, "locked": true,
	"layer_order": true, "blend_mode": true, "opacity": true,
	"clips": true, "keyframes": true, "mask": true,
}

var knownSampleFields = map[string]bool{
	"time": true, "number": true, "category": true,
	"is_categorical": true, "easing": true,
}

// warnFunc receives one human-readable line per dropped field.
type warnFunc func(string)

func noopWarn(string) {}

// Load reads and parses a project document from path, migrating older
// schema versions forward. On any failure the returned error is an
// *errs.CodecError naming path and a human-readable reason; no partial
// state escapes. warn, if given, is called once per unrecognised field
// dropped from a track or keyframe sample; omit it to ignore warnings.
func Load(path string, mode ReadMode, warn ...warnFunc) (*Document, error) {
	warnFn := noopWarn
	if len(warn) > 0 && warn[0] != nil {
		warnFn = warn[0]
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.CodecError{Path: path, Reason: "read file", Err: err}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &errs.CodecError{Path: path, Reason: "parse json", Err: err}
	}

	var version int
	if v, ok := raw["version"]; ok {
		if err := json.Unmarshal(v, &version); err != nil {
			return nil, &errs.CodecError{Path: path, Reason: "parse version", Err: err}
		}
	} else {
		version = 1
	}
	if version > CurrentVersion {
		return nil, &errs.CodecError{Path: path, Reason: fmt.Sprintf("unsupported version %d", version)}
	}

	version, err = migrate(raw, version)
	if err != nil {
		return nil, &errs.CodecError{Path: path, Reason: "migrate", Err: err}
	}

	doc := &Document{Version: version, Mode: mode, Unknown: make(map[string]json.RawMessage)}

	if m, ok := raw["metadata"]; ok {
		if err := json.Unmarshal(m, &doc.Metadata); err != nil {
			return nil, &errs.CodecError{Path: path, Reason: "parse metadata", Err: err}
		}
	}
	if a, ok := raw["assets"]; ok {
		if err := json.Unmarshal(a, &doc.Assets); err != nil {
			return nil, &errs.CodecError{Path: path, Reason: "parse assets", Err: err}
		}
	}
	if r, ok := raw["relationships"]; ok {
		if err := json.Unmarshal(r, &doc.Relationships); err != nil {
			return nil, &errs.CodecError{Path: path, Reason: "parse relationships", Err: err}
		}
	}
	if h, ok := raw["history_head"]; ok && string(h) != "null" {
		var head uint64
		if err := json.Unmarshal(h, &head); err != nil {
			return nil, &errs.CodecError{Path: path, Reason: "parse history_head", Err: err}
		}
		doc.HistoryHead = &head
	}

	if err := parseTracks(raw, doc, path, warnFn); err != nil {
		return nil, err
	}

	for key, value := range raw {
		if !knownTopLevelFields[key] {
			doc.Unknown[key] = value
		}
	}

	return doc, nil
}

func parseTracks(raw map[string]json.RawMessage, doc *Document, path string, warn warnFunc) error {
	rawTracksField, ok := raw["tracks"]
	if !ok {
		return nil
	}
	var rawTracks []json.RawMessage
	if err := json.Unmarshal(rawTracksField, &rawTracks); err != nil {
		return &errs.CodecError{Path: path, Reason: "parse tracks", Err: err}
	}

	if doc.Mode == Full {
		doc.Tracks = make([]TrackDoc, 0, len(rawTracks))
		for i, rt := range rawTracks {
			var t TrackDoc
			if err := json.Unmarshal(rt, &t); err != nil {
				return &errs.CodecError{Path: path, Reason: "parse track", Err: err}
			}
			warnUnknownTrackFields(rt, i, warn)
			doc.Tracks = append(doc.Tracks, t)
		}
		return nil
	}

	// Selective: parse only identity and counts, retaining the raw bytes
	// for on-demand full parse via LoadTrack.
	doc.rawTracks = rawTracks
	doc.Headers = make([]TrackHeader, 0, len(rawTracks))
	for _, rt := range rawTracks {
		var header struct {
			ID         uint64                     `json:"id"`
			Kind       string                     `json:"kind"`
			Name       string                     `json:"name"`
			LayerOrder int                        `json:"layer_order"`
			Clips      []json.RawMessage          `json:"clips"`
			Keyframes  map[string]json.RawMessage `json:"keyframes"`
		}
		if err := json.Unmarshal(rt, &header); err != nil {
			return &errs.CodecError{Path: path, Reason: "parse track header", Err: err}
		}
		doc.Headers = append(doc.Headers, TrackHeader{
			ID:             header.ID,
			Kind:           header.Kind,
			Name:           header.Name,
			LayerOrder:     header.LayerOrder,
			ClipCount:      len(header.Clips),
			ParameterCount: len(header.Keyframes),
		})
	}
	return nil
}

// LoadTrack parses the full body (clips, keyframes, mask) of the track
// with the given ID, for use after a Selective load. In Full mode it
// simply looks up the already-parsed track.
func (d *Document) LoadTrack(id uint64) (*TrackDoc, error) {
	if d.Mode == Full {
		for i := range d.Tracks {
			if d.Tracks[i].ID == id {
				return &d.Tracks[i], nil
			}
		}
		return nil, fmt.Errorf("project: track %d not found", id)
	}
	for i, h := range d.Headers {
		if h.ID == id {
			var t TrackDoc
			if err := json.Unmarshal(d.rawTracks[i], &t); err != nil {
				return nil, fmt.Errorf("project: parse track %d: %w", id, err)
			}
			return &t, nil
		}
	}
	return nil, fmt.Errorf("project: track %d not found", id)
}

// Save serializes doc to path atomically: it writes a sibling temp file,
// fsyncs it, then renames it into place. Unknown top-level fields
// recorded at Load time are merged back in verbatim.
func Save(path string, doc *Document) error {
	out := map[string]json.RawMessage{}

	for key, value := range doc.Unknown {
		out[key] = value
	}

	marshal := func(key string, v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return &errs.CodecError{Path: path, Reason: "marshal " + key, Err: err}
		}
		out[key] = b
		return nil
	}

	if err := marshal("version", CurrentVersion); err != nil {
		return err
	}
	if err := marshal("metadata", doc.Metadata); err != nil {
		return err
	}
	if err := marshal("assets", nonNilSlice(doc.Assets)); err != nil {
		return err
	}
	if err := marshal("relationships", nonNilSlice(doc.Relationships)); err != nil {
		return err
	}
	if err := marshal("tracks", nonNilSlice(doc.Tracks)); err != nil {
		return err
	}
	if doc.HistoryHead != nil {
		if err := marshal("history_head", *doc.HistoryHead); err != nil {
			return err
		}
	} else {
		out["history_head"] = json.RawMessage("null")
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return &errs.CodecError{Path: path, Reason: "marshal document", Err: err}
	}

	return atomicWrite(path, data)
}

// atomicWrite writes data to a sibling temp file, fsyncs it, and renames
// it into place, per §4.5's crash-safety requirement. The teacher's
// storage.ConfigGeneral.Set writes directly with ioutil.WriteFile; this
// core cannot accept that risk since a torn write would corrupt the only
// copy of a user's edit history.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".project-*.tmp")
	if err != nil {
		return &errs.CodecError{Path: path, Reason: "create temp file", Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &errs.CodecError{Path: path, Reason: "write temp file", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &errs.CodecError{Path: path, Reason: "fsync temp file", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &errs.CodecError{Path: path, Reason: "close temp file", Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &errs.CodecError{Path: path, Reason: "rename into place", Err: err}
	}
	return nil
}

// warnUnknownTrackFields diffs rt's raw keys against knownTrackFields and
// reports each surplus one through warn, then does the same for every
// keyframe sample nested inside it. A field the codec doesn't recognise
// has no Unknown-map equivalent at this depth, so it is simply dropped by
// the TrackDoc unmarshal above; this is the only record of that drop.
func warnUnknownTrackFields(rt json.RawMessage, index int, warn warnFunc) {
	var rawTrack map[string]json.RawMessage
	if json.Unmarshal(rt, &rawTrack) != nil {
		return
	}
	for key := range rawTrack {
		if !knownTrackFields[key] {
			warn(fmt.Sprintf("project: track %d: unknown field %q dropped", index, key))
		}
	}

	rawKeyframes, ok := rawTrack["keyframes"]
	if !ok {
		return
	}
	var paramSamples map[string][]json.RawMessage
	if json.Unmarshal(rawKeyframes, &paramSamples) != nil {
		return
	}
	for param, samples := range paramSamples {
		for i, rs := range samples {
			var rawSample map[string]json.RawMessage
			if json.Unmarshal(rs, &rawSample) != nil {
				continue
			}
			for key := range rawSample {
				if !knownSampleFields[key] {
					warn(fmt.Sprintf("project: track %d: keyframe %q sample %d: unknown field %q dropped",
						index, param, i, key))
				}
			}
		}
	}
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
