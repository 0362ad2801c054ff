// Package cache implements the render cache (C9): a persistent directory
// of immutable artifact blobs plus a JSON metadata index at
// <root>/index.json, written atomically (temp file + rename) on every
// mutation. Index layout is grounded on the teacher's
// storage.ConfigGeneral.Set (marshal, write to a temp path, rename into
// place) and pkg/storage.crawler (directory-tree content management with
// per-entry metadata); per-entry flags stay bit-packed (flags.go).
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"clipforge/pkg/errs"
)

// Cache is safe for concurrent use: unlimited concurrent readers, and
// writes to a given fingerprint are serialised via a keyed mutex. The
// in-memory index is the source of truth during a process's lifetime;
// index.json exists so it survives a restart.
type Cache struct {
	root      string
	indexPath string
	maxSize   int64

	mu         sync.Mutex
	index      map[string]record
	writeLocks map[string]*sync.Mutex
	refCounts  map[string]int
}

// Open creates or opens a cache rooted at dir, with an index.json file
// and a blobs/ subdirectory for artifact content. maxSize bounds the
// total size of blobs; Put triggers Evict when exceeded.
func Open(dir string, maxSize int64) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("cache: create blobs dir: %w", err)
	}
	c := &Cache{
		root:       dir,
		indexPath:  filepath.Join(dir, "index.json"),
		maxSize:    maxSize,
		index:      make(map[string]record),
		writeLocks: make(map[string]*sync.Mutex),
		refCounts:  make(map[string]int),
	}
	if err := c.loadIndex(); err != nil {
		return nil, err
	}
	return c, nil
}

// Close is a no-op: every mutation already persists index.json before
// returning. Kept so callers can defer c.Close() uniformly.
func (c *Cache) Close() error { return nil }

func (c *Cache) loadIndex() error {
	data, err := os.ReadFile(c.indexPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache: read index: %w", err)
	}
	var raw map[string]jsonRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("cache: parse index: %w", err)
	}
	for fingerprint, jr := range raw {
		rec, err := jr.toRecord()
		if err != nil {
			continue // corrupt entry; treated as absent rather than failing Open
		}
		c.index[fingerprint] = rec
	}
	return nil
}

// saveIndexLocked serialises c.index and writes it to indexPath via a
// temp file plus rename, so a crash mid-write never leaves a partially
// written index.json behind. Callers must hold c.mu.
func (c *Cache) saveIndexLocked() error {
	raw := make(map[string]jsonRecord, len(c.index))
	for fingerprint, rec := range c.index {
		jr, err := rec.toJSON()
		if err != nil {
			return err
		}
		raw[fingerprint] = jr
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: marshal index: %w", err)
	}
	return atomicWriteFile(c.indexPath, data)
}

func (c *Cache) lockFor(fingerprint string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.writeLocks[fingerprint]
	if !ok {
		m = &sync.Mutex{}
		c.writeLocks[fingerprint] = m
	}
	return m
}

// Acquire marks fingerprint as referenced by a live render, preventing
// Evict from reclaiming it until a matching Release.
func (c *Cache) Acquire(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refCounts[fingerprint]++
}

// Release drops one reference taken by Acquire.
func (c *Cache) Release(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refCounts[fingerprint] > 0 {
		c.refCounts[fingerprint]--
		if c.refCounts[fingerprint] == 0 {
			delete(c.refCounts, fingerprint)
		}
	}
}

func (c *Cache) referenced(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refCounts[fingerprint] > 0
}

// Get returns the absolute path of the cached artifact for fingerprint, and
// whether it was found. On a hit, last-used is refreshed. If the on-disk
// blob's size no longer matches the recorded size (corruption), the entry
// is dropped and Get reports a miss so the caller recomputes.
func (c *Cache) Get(fingerprint string) (string, bool, error) {
	c.mu.Lock()
	rec, found := c.index[fingerprint]
	c.mu.Unlock()
	if !found {
		return "", false, nil
	}

	abs := filepath.Join(c.root, "blobs", rec.Path)
	info, err := os.Stat(abs)
	if err != nil || info.Size() != rec.Size {
		c.drop(fingerprint)
		return "", false, nil
	}

	rec.LastUsed = time.Now()
	if err := c.putRecord(fingerprint, rec); err != nil {
		return "", false, &errs.CacheError{Fingerprint: fingerprint, Reason: "touch last-used", Err: err}
	}
	return abs, true, nil
}

// Put moves producedPath into the cache under fingerprint's blob name,
// preserving its extension, and records it in the index. If the cache
// would exceed maxSize, Evict runs first. Evict frees unreferenced
// entries only until the existing entries fit within maxSize; it does
// not count the new entry's size. Put then admits the new entry whatever
// the resulting total, so the cache can end up above maxSize.
func (c *Cache) Put(fingerprint, producedPath string, cacheable, hwAccelUsed bool) (string, error) {
	lock := c.lockFor(fingerprint)
	lock.Lock()
	defer lock.Unlock()

	info, err := os.Stat(producedPath)
	if err != nil {
		return "", &errs.CacheError{Fingerprint: fingerprint, Reason: "stat produced artifact", Err: err}
	}

	blobName := fingerprint + filepath.Ext(producedPath)
	dest := filepath.Join(c.root, "blobs", blobName)

	if c.maxSize > 0 {
		if used := c.totalSize(); used+info.Size() > c.maxSize {
			c.Evict() //nolint:errcheck
		}
	}

	if err := atomicMove(producedPath, dest); err != nil {
		return "", &errs.CacheError{Fingerprint: fingerprint, Reason: "finalize blob", Err: err}
	}

	rec := record{
		Path:     blobName,
		Size:     info.Size(),
		LastUsed: time.Now(),
		Flags:    flags{cacheable: cacheable, hwAccelUsed: hwAccelUsed, partial: false},
	}
	if err := c.putRecord(fingerprint, rec); err != nil {
		return "", &errs.CacheError{Fingerprint: fingerprint, Reason: "index write", Err: err}
	}
	return dest, nil
}

func (c *Cache) putRecord(fingerprint string, rec record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index[fingerprint] = rec
	return c.saveIndexLocked()
}

func (c *Cache) drop(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.index[fingerprint]; ok {
		os.Remove(filepath.Join(c.root, "blobs", rec.Path)) //nolint:errcheck
	}
	delete(c.index, fingerprint)
	c.saveIndexLocked() //nolint:errcheck
}

func (c *Cache) totalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, rec := range c.index {
		total += rec.Size
	}
	return total
}

// Evict removes entries in ascending last-used order until the cache is
// under maxSize, skipping any fingerprint currently Acquired by a live
// render.
func (c *Cache) Evict() error {
	type candidate struct {
		fingerprint string
		rec         record
	}

	c.mu.Lock()
	candidates := make([]candidate, 0, len(c.index))
	var used int64
	for fingerprint, rec := range c.index {
		candidates = append(candidates, candidate{fingerprint: fingerprint, rec: rec})
		used += rec.Size
	}
	c.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].rec.LastUsed.Before(candidates[j].rec.LastUsed)
	})

	for _, cand := range candidates {
		if c.maxSize <= 0 || used <= c.maxSize {
			break
		}
		if c.referenced(cand.fingerprint) {
			continue
		}
		c.drop(cand.fingerprint)
		used -= cand.rec.Size
	}
	return nil
}

// atomicWriteFile writes data to a temp file in path's directory, then
// renames it into place, so readers (and a mid-write crash) never observe
// a partial index.json, per the cache directory layout's "index.json
// writes are atomic (temp + rename)" requirement.
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cache: write temp index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("cache: rename index into place: %w", err)
	}
	return nil
}

// atomicMove renames src to dest, falling back to copy-then-remove when
// rename fails (typically because src and dest span filesystems).
func atomicMove(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp) //nolint:errcheck
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return err
	}
	return os.Remove(src)
}
