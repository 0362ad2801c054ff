// Package project implements the project codec (C6): the canonical JSON
// serialized form of a timeline, versioned migration between schema
// revisions, and the Full/Selective read modes used by large projects.
//
// Grounded on the teacher's storage.ConfigGeneral.Set (marshal, write,
// replace) generalized to the spec's crash-safe temp-file + fsync +
// rename sequence, and on storage.NewConfigEnv's read-then-validate
// shape for the load path.
package project

import "encoding/json"

// CurrentVersion is the schema version written by Save. Load accepts any
// version <= CurrentVersion, migrating older documents forward.
const CurrentVersion = 2

// ReadMode selects how much of a document Load parses eagerly.
type ReadMode int

// Recognised read modes.
const (
	// Full parses every field, including every track's clips and
	// keyframes.
	Full ReadMode = iota
	// Selective parses metadata, the asset index, and track headers (id,
	// kind, name, clip/keyframe counts) only. A track's clips and
	// keyframes are parsed on demand via Document.LoadTrack.
	Selective
)

// Metadata is the document's free-form project metadata.
type Metadata struct {
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
	FrameRate FrameRateDoc `json:"frame_rate"`
}

// FrameRateDoc mirrors timecode.FrameRate for serialization.
type FrameRateDoc struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

// AssetDoc is the serialized form of an asset.Asset.
type AssetDoc struct {
	ID        uint64          `json:"id"`
	Path      string          `json:"path"`
	Kind      string          `json:"kind"`
	ProxyPath string          `json:"proxy_path,omitempty"`
	Metadata  AssetMetadataDoc `json:"metadata"`
}

// AssetMetadataDoc is the serialized form of asset.Metadata; pointer
// fields remain optional in JSON via omitempty.
type AssetMetadataDoc struct {
	DurationSeconds *float64      `json:"duration_seconds,omitempty"`
	Width           *int          `json:"width,omitempty"`
	Height          *int          `json:"height,omitempty"`
	FrameRate       *FrameRateDoc `json:"frame_rate,omitempty"`
	AudioChannels   *int          `json:"audio_channels,omitempty"`
	AudioSampleRate *int          `json:"audio_sample_rate,omitempty"`
}

// ClipDoc is the serialized form of a timeline.Clip.
type ClipDoc struct {
	ID               uint64  `json:"id"`
	AssetId          uint64  `json:"asset_id"`
	TimelinePosition float64 `json:"timeline_position"`
	Duration         float64 `json:"duration"`
	SourceIn         float64 `json:"source_in"`
	SourceOut        float64 `json:"source_out"`
}

// SampleDoc is the serialized form of a keyframe.Sample.
type SampleDoc struct {
	Time          float64 `json:"time"`
	Number        float64 `json:"number,omitempty"`
	Category      string  `json:"category,omitempty"`
	IsCategorical bool    `json:"is_categorical,omitempty"`
	Easing        string  `json:"easing"`
}

// MaskDoc is the serialized form of a timeline.Mask.
type MaskDoc struct {
	Shape string `json:"shape"`

	X              float64    `json:"x,omitempty"`
	Y              float64    `json:"y,omitempty"`
	W              float64    `json:"w,omitempty"`
	H              float64    `json:"h,omitempty"`
	CX             float64    `json:"cx,omitempty"`
	CY             float64    `json:"cy,omitempty"`
	RX             float64    `json:"rx,omitempty"`
	RY             float64    `json:"ry,omitempty"`
	Points         []PointDoc `json:"points,omitempty"`
	Feather        float64    `json:"feather,omitempty"`
	Inverted       bool       `json:"inverted,omitempty"`
	ImagePath      string     `json:"image_path,omitempty"`
	Base           *MaskDoc   `json:"base,omitempty"`
	Keyframes      map[string][]SampleDoc `json:"keyframes,omitempty"`
}

// PointDoc is the serialized form of a timeline.Point.
type PointDoc struct {
	X, Y float64
}

// TrackDoc is the fully-parsed serialized form of a timeline.Track.
type TrackDoc struct {
	ID         uint64                 `json:"id"`
	Kind       string                 `json:"kind"`
	Name       string                 `json:"name"`
	Muted      bool                   `json:"muted"`
	Locked     bool                   `json:"locked"`
	LayerOrder int                    `json:"layer_order"`
	BlendMode  string                 `json:"blend_mode"`
	Opacity    float64                `json:"opacity"`
	Clips      []ClipDoc              `json:"clips"`
	Keyframes  map[string][]SampleDoc `json:"keyframes"`
	Mask       *MaskDoc               `json:"mask,omitempty"`
}

// TrackHeader is the lightweight view of a track produced by a Selective
// load: identity and counts, without clips or keyframe samples.
type TrackHeader struct {
	ID         uint64
	Kind       string
	Name       string
	LayerOrder int
	ClipCount  int
	ParameterCount int
}

// RelationshipDoc is the serialized form of a timeline.Relationship.
type RelationshipDoc struct {
	Parent uint64 `json:"parent"`
	Child  uint64 `json:"child"`
	Kind   string `json:"kind"`
}

// Document is a parsed project file. In Selective mode, Tracks is empty
// and Headers plus the retained raw track bodies back LoadTrack; in Full
// mode, Headers is empty and Tracks carries everything.
type Document struct {
	Version       int
	Metadata      Metadata
	Assets        []AssetDoc
	Relationships []RelationshipDoc
	HistoryHead   *uint64

	Mode    ReadMode
	Tracks  []TrackDoc
	Headers []TrackHeader

	rawTracks []json.RawMessage // parallel to Headers, Selective mode only

	// Unknown preserves top-level fields this version of the codec does
	// not recognise, verbatim, across a load/save round-trip.
	Unknown map[string]json.RawMessage
}
