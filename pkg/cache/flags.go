package cache

import (
	"bytes"
	"fmt"

	"github.com/icza/bitio"
)

// flags packs an entry's three boolean attributes into a single byte via
// icza/bitio, mirroring the teacher's compact binary framing style for
// small per-record metadata (fixed header plus packed fields) without
// adopting any of its video-box-specific layout.
type flags struct {
	cacheable   bool
	hwAccelUsed bool
	partial     bool
}

func encodeFlags(f flags) ([]byte, error) {
	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	w.WriteBool(f.cacheable)
	w.WriteBool(f.hwAccelUsed)
	w.WriteBool(f.partial)
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("cache: encode flags: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeFlags(b []byte) (flags, error) {
	r := bitio.NewReader(bytes.NewReader(b))
	var f flags
	var err error
	if f.cacheable, err = r.ReadBool(); err != nil {
		return flags{}, fmt.Errorf("cache: decode flags: %w", err)
	}
	if f.hwAccelUsed, err = r.ReadBool(); err != nil {
		return flags{}, fmt.Errorf("cache: decode flags: %w", err)
	}
	if f.partial, err = r.ReadBool(); err != nil {
		return flags{}, fmt.Errorf("cache: decode flags: %w", err)
	}
	return f, nil
}
