package project

import (
	"encoding/json"
	"fmt"
)

// Migrator upgrades a raw document one version forward. Each historical
// schema revision gets its own Migrator; Load walks the chain in version
// order until the document reaches CurrentVersion.
type Migrator interface {
	// FromVersion is the version this migrator accepts.
	FromVersion() int
	// Migrate mutates raw in place, bringing it to FromVersion()+1's shape.
	Migrate(raw map[string]json.RawMessage) error
}

// migrateV1ToV2 upgrades the version-1 schema (no multi-track
// relationships, no history_head) to version 2 by defaulting the fields
// that version introduced.
type migrateV1ToV2 struct{}

func (migrateV1ToV2) FromVersion() int { return 1 }

func (migrateV1ToV2) Migrate(raw map[string]json.RawMessage) error {
	if _, ok := raw["relationships"]; !ok {
		raw["relationships"] = json.RawMessage("[]")
	}
	if _, ok := raw["history_head"]; !ok {
		raw["history_head"] = json.RawMessage("null")
	}
	return nil
}

// migrators lists every historical migrator, ordered by FromVersion.
var migrators = []Migrator{
	migrateV1ToV2{},
}

// migrate walks raw forward from version to CurrentVersion, applying
// whichever migrator's FromVersion matches at each step.
func migrate(raw map[string]json.RawMessage, version int) (int, error) {
	for version < CurrentVersion {
		var next Migrator
		for _, m := range migrators {
			if m.FromVersion() == version {
				next = m
				break
			}
		}
		if next == nil {
			return 0, fmt.Errorf("project: no migrator registered for version %d", version)
		}
		if err := next.Migrate(raw); err != nil {
			return 0, fmt.Errorf("project: migrating from version %d: %w", version, err)
		}
		version++
	}
	if version > CurrentVersion {
		return 0, fmt.Errorf("project: document version %d is newer than supported version %d", version, CurrentVersion)
	}
	return version, nil
}
