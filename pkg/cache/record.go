package cache

import (
	"encoding/hex"
	"fmt"
	"time"
)

// record is one cache entry, held in memory and mirrored into index.json.
type record struct {
	Path     string
	Size     int64
	LastUsed time.Time
	Flags    flags
}

// jsonRecord is record's on-disk shape inside index.json. Flags stays
// bit-packed (via icza/bitio, see flags.go) and hex-encoded rather than
// three separate JSON booleans, so the packed representation -- and the
// dependency it exercises -- survives the move off a binary bbolt value.
type jsonRecord struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastUsedUnix int64  `json:"last_used_unix_nano"`
	Flags        string `json:"flags"`
}

func (r record) toJSON() (jsonRecord, error) {
	flagBytes, err := encodeFlags(r.Flags)
	if err != nil {
		return jsonRecord{}, err
	}
	return jsonRecord{
		Path:         r.Path,
		Size:         r.Size,
		LastUsedUnix: r.LastUsed.UnixNano(),
		Flags:        hex.EncodeToString(flagBytes),
	}, nil
}

func (j jsonRecord) toRecord() (record, error) {
	flagBytes, err := hex.DecodeString(j.Flags)
	if err != nil {
		return record{}, fmt.Errorf("cache: decode flags hex: %w", err)
	}
	f, err := decodeFlags(flagBytes)
	if err != nil {
		return record{}, err
	}
	return record{
		Path:     j.Path,
		Size:     j.Size,
		LastUsed: time.Unix(0, j.LastUsedUnix),
		Flags:    f,
	}, nil
}
