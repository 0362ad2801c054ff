package project

import (
	"encoding/json"
	"fmt"

	"clipforge/pkg/asset"
	"clipforge/pkg/keyframe"
	"clipforge/pkg/timecode"
	"clipforge/pkg/timeline"
)

// defaultRate is used when a document's metadata carries no frame rate.
var defaultRate = timecode.FrameRate{Num: 30, Den: 1}

func rateFromMetadata(md Metadata) timecode.FrameRate {
	if md.FrameRate.Num == 0 || md.FrameRate.Den == 0 {
		return defaultRate
	}
	rate, err := timecode.NewFrameRate(md.FrameRate.Num, md.FrameRate.Den)
	if err != nil {
		return defaultRate
	}
	return rate
}

// ToDomain builds a Timeline and Registry from a Full-mode Document. A
// Selective-mode document carries only track headers and cannot be
// turned into an editable timeline directly — callers wanting to edit a
// selectively-loaded project must Load it again with Full.
func ToDomain(doc *Document, stat asset.StatFunc) (*timeline.Timeline, *asset.Registry, error) {
	if doc.Mode != Full {
		return nil, nil, fmt.Errorf("project: ToDomain requires a Full-mode document")
	}

	var highWater uint64
	for _, a := range doc.Assets {
		if a.ID > highWater {
			highWater = a.ID
		}
	}
	for _, t := range doc.Tracks {
		if t.ID > highWater {
			highWater = t.ID
		}
		for _, c := range t.Clips {
			if c.ID > highWater {
				highWater = c.ID
			}
		}
	}

	rate := rateFromMetadata(doc.Metadata)

	ids := timecode.NewIDGenerator(highWater)
	registry := asset.NewRegistry(ids, stat, nil)
	for _, a := range doc.Assets {
		md := assetMetadataFromDoc(a.Metadata, rate)
		if _, err := registry.RestoreWithID(timecode.AssetId(a.ID), a.Path, asset.Kind(a.Kind), md, a.ProxyPath); err != nil {
			return nil, nil, fmt.Errorf("project: restore asset %d: %w", a.ID, err)
		}
	}

	assetDuration := func(id timecode.AssetId) (timecode.Duration, bool) {
		a, err := registry.Get(id)
		if err != nil || a.Metadata.Duration == nil {
			return timecode.Duration{}, false
		}
		return *a.Metadata.Duration, true
	}

	tl := timeline.New(ids, registry, assetDuration)

	for _, t := range doc.Tracks {
		if err := restoreTrack(tl, t, rate); err != nil {
			return nil, nil, fmt.Errorf("project: restore track %d: %w", t.ID, err)
		}
	}
	for _, r := range doc.Relationships {
		if err := tl.AddRelationship(timecode.TrackId(r.Parent), timecode.TrackId(r.Child), timeline.RelationshipKind(r.Kind)); err != nil {
			return nil, nil, fmt.Errorf("project: restore relationship %d->%d: %w", r.Parent, r.Child, err)
		}
	}

	return tl, registry, nil
}

// restoreTrack re-inserts a track with its original ID via the same
// RestoreTrack path the history engine uses to undo remove_track, then
// replays its clips and keyframes through the normal validated mutators.
// The track is restored unlocked and only locked again at the end, so a
// persisted locked track with clips doesn't reject its own restoration.
func restoreTrack(tl *timeline.Timeline, t TrackDoc, rate timecode.FrameRate) error {
	snapshot := timeline.Track{
		ID:         timecode.TrackId(t.ID),
		Kind:       timeline.TrackKind(t.Kind),
		Name:       t.Name,
		Muted:      t.Muted,
		Locked:     false,
		LayerOrder: t.LayerOrder,
		BlendMode:  timeline.BlendMode(t.BlendMode),
		Opacity:    t.Opacity,
		Keyframes:  keyframe.Table{},
	}
	if err := tl.RestoreTrack(snapshot, nil); err != nil {
		return err
	}
	trackID := timecode.TrackId(t.ID)

	if track, ok := tl.Track(trackID); ok && t.Mask != nil {
		track.Mask = maskFromDoc(t.Mask, rate)
	}

	for _, c := range t.Clips {
		clip := timeline.Clip{
			ID:               timecode.ClipId(c.ID),
			AssetId:          timecode.AssetId(c.AssetId),
			TimelinePosition: positionFromSeconds(c.TimelinePosition, rate),
			Duration:         durationFromSeconds(c.Duration, rate),
			SourceIn:         positionFromSeconds(c.SourceIn, rate),
			SourceOut:        positionFromSeconds(c.SourceOut, rate),
		}
		if err := tl.AddClipWithID(trackID, clip); err != nil {
			return fmt.Errorf("clip %d: %w", c.ID, err)
		}
	}

	for parameter, samples := range t.Keyframes {
		for _, s := range samples {
			if err := tl.AddKeyframe(trackID, parameter, sampleFromDoc(s, rate)); err != nil {
				return fmt.Errorf("keyframe %s@%v: %w", parameter, s.Time, err)
			}
		}
	}

	if t.Locked {
		return tl.SetTrackProperty(trackID, "locked", true)
	}
	return nil
}

// FromDomain builds a Full-mode Document from a Timeline and Registry,
// ready for Save.
func FromDomain(tl *timeline.Timeline, registry *asset.Registry, metadata Metadata, historyHead *uint64) *Document {
	doc := &Document{
		Version:     CurrentVersion,
		Metadata:    metadata,
		Mode:        Full,
		HistoryHead: historyHead,
		Unknown:     map[string]json.RawMessage{},
	}

	for _, a := range registry.All() {
		doc.Assets = append(doc.Assets, assetToDoc(a))
	}
	for _, t := range tl.Tracks() {
		doc.Tracks = append(doc.Tracks, trackToDoc(t))
	}
	for _, r := range tl.Relationships() {
		doc.Relationships = append(doc.Relationships, RelationshipDoc{
			Parent: uint64(r.Parent),
			Child:  uint64(r.Child),
			Kind:   string(r.Kind),
		})
	}
	return doc
}

func assetToDoc(a *asset.Asset) AssetDoc {
	return AssetDoc{
		ID:        uint64(a.ID),
		Path:      a.Path,
		Kind:      string(a.Kind),
		ProxyPath: a.ProxyPath,
		Metadata:  assetMetadataToDoc(a.Metadata),
	}
}

func assetMetadataToDoc(md asset.Metadata) AssetMetadataDoc {
	out := AssetMetadataDoc{}
	if md.Duration != nil {
		s := md.Duration.Seconds()
		out.DurationSeconds = &s
	}
	out.Width = md.Width
	out.Height = md.Height
	if md.FrameRate != nil {
		out.FrameRate = &FrameRateDoc{Num: md.FrameRate.Num, Den: md.FrameRate.Den}
	}
	out.AudioChannels = md.AudioChannels
	out.AudioSampleRate = md.AudioSampleRate
	return out
}

func assetMetadataFromDoc(d AssetMetadataDoc, rate timecode.FrameRate) asset.Metadata {
	var md asset.Metadata
	if d.DurationSeconds != nil {
		dur := durationFromSeconds(*d.DurationSeconds, rate)
		md.Duration = &dur
	}
	md.Width = d.Width
	md.Height = d.Height
	if d.FrameRate != nil {
		rate, _ := timecode.NewFrameRate(d.FrameRate.Num, d.FrameRate.Den)
		md.FrameRate = &rate
	}
	md.AudioChannels = d.AudioChannels
	md.AudioSampleRate = d.AudioSampleRate
	return md
}

func trackToDoc(t *timeline.Track) TrackDoc {
	doc := TrackDoc{
		ID:         uint64(t.ID),
		Kind:       string(t.Kind),
		Name:       t.Name,
		Muted:      t.Muted,
		Locked:     t.Locked,
		LayerOrder: t.LayerOrder,
		BlendMode:  string(t.BlendMode),
		Opacity:    t.Opacity,
		Keyframes:  map[string][]SampleDoc{},
	}
	for _, c := range t.Clips() {
		doc.Clips = append(doc.Clips, ClipDoc{
			ID:               uint64(c.ID),
			AssetId:          uint64(c.AssetId),
			TimelinePosition: c.TimelinePosition.Seconds(),
			Duration:         c.Duration.Seconds(),
			SourceIn:         c.SourceIn.Seconds(),
			SourceOut:        c.SourceOut.Seconds(),
		})
	}
	for parameter, kt := range t.Keyframes {
		var samples []SampleDoc
		for _, s := range kt.Samples() {
			samples = append(samples, sampleToDoc(s))
		}
		doc.Keyframes[parameter] = samples
	}
	if t.Mask != nil {
		doc.Mask = maskToDoc(t.Mask)
	}
	return doc
}

func sampleToDoc(s keyframe.Sample) SampleDoc {
	return SampleDoc{
		Time:          s.Time.Seconds(),
		Number:        s.Value.Number,
		Category:      s.Value.Category,
		IsCategorical: s.Value.IsCategorical,
		Easing:        string(s.Easing),
	}
}

func sampleFromDoc(d SampleDoc, rate timecode.FrameRate) keyframe.Sample {
	value := keyframe.NumberValue(d.Number)
	if d.IsCategorical {
		value = keyframe.CategoryValue(d.Category)
	}
	return keyframe.Sample{
		Time:   positionFromSeconds(d.Time, rate),
		Value:  value,
		Easing: keyframe.Easing(d.Easing),
	}
}

func maskToDoc(m *timeline.Mask) *MaskDoc {
	if m == nil {
		return nil
	}
	doc := &MaskDoc{
		Shape:     string(m.Shape),
		X:         m.X, Y: m.Y, W: m.W, H: m.H,
		CX: m.CX, CY: m.CY, RX: m.RX, RY: m.RY,
		Feather:   m.Feather,
		Inverted:  m.Inverted,
		ImagePath: m.ImagePath,
		Base:      maskToDoc(m.Base),
	}
	for _, p := range m.Points {
		doc.Points = append(doc.Points, PointDoc{X: p.X, Y: p.Y})
	}
	if len(m.Keyframes) > 0 {
		doc.Keyframes = map[string][]SampleDoc{}
		for parameter, kt := range m.Keyframes {
			var samples []SampleDoc
			for _, s := range kt.Samples() {
				samples = append(samples, sampleToDoc(s))
			}
			doc.Keyframes[parameter] = samples
		}
	}
	return doc
}

func maskFromDoc(d *MaskDoc, rate timecode.FrameRate) *timeline.Mask {
	if d == nil {
		return nil
	}
	m := &timeline.Mask{
		Shape:     timeline.MaskShape(d.Shape),
		X:         d.X, Y: d.Y, W: d.W, H: d.H,
		CX: d.CX, CY: d.CY, RX: d.RX, RY: d.RY,
		Feather:   d.Feather,
		Inverted:  d.Inverted,
		ImagePath: d.ImagePath,
		Base:      maskFromDoc(d.Base, rate),
	}
	for _, p := range d.Points {
		m.Points = append(m.Points, timeline.Point{X: p.X, Y: p.Y})
	}
	if len(d.Keyframes) > 0 {
		m.Keyframes = keyframe.Table{}
		for parameter, samples := range d.Keyframes {
			kt := keyframe.NewTrack(parameter)
			for _, s := range samples {
				_ = kt.Add(sampleFromDoc(s, rate))
			}
			m.Keyframes[parameter] = kt
		}
	}
	return m
}

func positionFromSeconds(s float64, rate timecode.FrameRate) timecode.Position {
	p, _ := timecode.NewPosition(s, rate)
	return p
}

func durationFromSeconds(s float64, rate timecode.FrameRate) timecode.Duration {
	d, _ := timecode.NewDuration(s, rate)
	return d
}
