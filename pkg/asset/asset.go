// Package asset implements the asset registry (C2): it interns
// source-media references and their probed metadata, enforcing one
// record per canonical path. Grounded on the teacher's storage.Manager
// style (a small mutex-guarded manager over disk-backed records).
package asset

import (
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/blake2b"

	"clipforge/pkg/errs"
	"clipforge/pkg/timecode"
)

// Kind is the media kind of an asset.
type Kind string

// Recognised asset kinds.
const (
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindImage    Kind = "image"
	KindSubtitle Kind = "subtitle"
)

// Metadata holds probed properties. Pointer fields are optional and unset
// until a probe populates them.
type Metadata struct {
	Duration         *timecode.Duration
	Width            *int
	Height           *int
	FrameRate        *timecode.FrameRate
	AudioChannels    *int
	AudioSampleRate  *int
}

// Asset is a single interned source-media reference.
type Asset struct {
	ID        timecode.AssetId
	Path      string // canonical absolute path
	Kind      Kind
	Metadata  Metadata
	ProxyPath string // optional

	// quickDigest is a cheap (path, size, modtime) blake2b checksum used to
	// decide whether a re-probe can be skipped. It is distinct from any
	// cache fingerprint and carries no cryptographic guarantee.
	quickDigest [32]byte
	probed      bool
}

// ErrDuplicatePath is returned when importing a path already registered.
var ErrDuplicatePath = fmt.Errorf("asset: path already registered")

// ErrNotFound is returned when looking up an unknown AssetId.
var ErrNotFound = fmt.Errorf("asset: not found")

// ErrReferenced is returned when removing an asset still referenced by a clip.
var ErrReferenced = fmt.Errorf("asset: still referenced")

// StatFunc abstracts filesystem stat for the quick digest, so tests can
// substitute deterministic values instead of touching disk.
type StatFunc func(path string) (size int64, modTimeUnixNano int64, err error)

// Registry owns the project's assets and enforces path uniqueness.
type Registry struct {
	mu      sync.Mutex
	byID    map[timecode.AssetId]*Asset
	byPath  map[string]timecode.AssetId
	ids     *timecode.IDGenerator
	stat    StatFunc
	refs    func(timecode.AssetId) int // number of clips referencing the asset
}

// NewRegistry returns an empty registry. refCount, if non-nil, is consulted
// by Remove to enforce the "destroyed only when no clip references them"
// lifecycle rule; a nil refCount always allows removal.
func NewRegistry(ids *timecode.IDGenerator, stat StatFunc, refCount func(timecode.AssetId) int) *Registry {
	if stat == nil {
		stat = defaultStat
	}
	if refCount == nil {
		refCount = func(timecode.AssetId) int { return 0 }
	}
	return &Registry{
		byID:   make(map[timecode.AssetId]*Asset),
		byPath: make(map[string]timecode.AssetId),
		ids:    ids,
		stat:   stat,
		refs:   refCount,
	}
}

// Import interns a new asset at path, probed with the given metadata.
// Rejects a path already registered in this project.
func (r *Registry) Import(path string, kind Kind, md Metadata) (*Asset, error) {
	canonical, err := filepath.Abs(path)
	if err != nil {
		return nil, &errs.AssetError{Path: path, Reason: "resolve absolute path", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPath[canonical]; exists {
		return nil, ErrDuplicatePath
	}

	digest, err := r.quickDigest(canonical)
	if err != nil {
		return nil, &errs.AssetError{Path: canonical, Reason: "stat", Err: err}
	}

	a := &Asset{
		ID:          r.ids.NextAssetId(),
		Path:        canonical,
		Kind:        kind,
		Metadata:    md,
		quickDigest: digest,
		probed:      true,
	}
	r.byID[a.ID] = a
	r.byPath[canonical] = a.ID
	return a, nil
}

// RestoreWithID re-interns an asset with a caller-supplied ID and a
// persisted ProxyPath, used by pkg/project when loading a document: the
// ID must already be accounted for in the registry's IDGenerator
// high-water mark. The quick digest is recomputed on a best-effort
// basis; a stat failure (e.g. the source file moved) leaves it zeroed
// rather than failing the whole project load, since a missing asset is
// a render-time concern, not a parse-time one.
func (r *Registry) RestoreWithID(id timecode.AssetId, path string, kind Kind, md Metadata, proxyPath string) (*Asset, error) {
	canonical, err := filepath.Abs(path)
	if err != nil {
		return nil, &errs.AssetError{Path: path, Reason: "resolve absolute path", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPath[canonical]; exists {
		return nil, ErrDuplicatePath
	}

	digest, _ := r.quickDigest(canonical)
	a := &Asset{
		ID:        id,
		Path:      canonical,
		Kind:      kind,
		Metadata:  md,
		ProxyPath: proxyPath,
		quickDigest: digest,
		probed:      true,
	}
	r.byID[a.ID] = a
	r.byPath[canonical] = a.ID
	return a, nil
}

// Get returns the asset by ID.
func (r *Registry) Get(id timecode.AssetId) (*Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, exists := r.byID[id]
	if !exists {
		return nil, ErrNotFound
	}
	return a, nil
}

// Remove deletes an asset, rejecting if any clip still references it.
func (r *Registry) Remove(id timecode.AssetId) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.byID[id]
	if !exists {
		return ErrNotFound
	}
	if r.refs(id) > 0 {
		return ErrReferenced
	}
	delete(r.byID, id)
	delete(r.byPath, a.Path)
	return nil
}

// All returns every asset, order unspecified.
func (r *Registry) All() []*Asset {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Asset, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a)
	}
	return out
}

// NeedsReprobe reports whether the on-disk file looks different from what
// was recorded at the last probe (by the cheap quick digest), without
// performing a full media probe itself.
func (r *Registry) NeedsReprobe(id timecode.AssetId) (bool, error) {
	r.mu.Lock()
	a, exists := r.byID[id]
	r.mu.Unlock()
	if !exists {
		return false, ErrNotFound
	}

	digest, err := r.quickDigest(a.Path)
	if err != nil {
		return false, &errs.AssetError{Path: a.Path, Reason: "stat", Err: err}
	}
	return digest != a.quickDigest, nil
}

// Reprobe replaces an asset's metadata after an explicit re-probe and
// refreshes its quick digest. Metadata is otherwise immutable, per §3.
func (r *Registry) Reprobe(id timecode.AssetId, md Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, exists := r.byID[id]
	if !exists {
		return ErrNotFound
	}
	digest, err := r.quickDigest(a.Path)
	if err != nil {
		return &errs.AssetError{Path: a.Path, Reason: "stat", Err: err}
	}
	a.Metadata = md
	a.quickDigest = digest
	a.probed = true
	return nil
}

// Fingerprint returns the asset's cheap content digest as a hex string,
// for composing into the render cache's SHA-256 cache-key fingerprint
// (§4.7): distinct from that cryptographic fingerprint, this is only the
// blake2b (path, size, modtime) digest computed at import/probe time.
func (a *Asset) Fingerprint() string {
	return fmt.Sprintf("%x", a.quickDigest)
}

func (r *Registry) quickDigest(canonical string) ([32]byte, error) {
	size, modTime, err := r.stat(canonical)
	if err != nil {
		return [32]byte{}, err
	}
	payload := fmt.Sprintf("%s|%d|%d", canonical, size, modTime)
	return blake2b.Sum256([]byte(payload)), nil
}
