package overlay

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads overlay definitions from a JSON file: a flat array of
// Overlay objects. CEL predicates are compiled when the loaded overlays are
// registered, so a bad expression fails startup, not a live request.
func LoadFile(path string) ([]*Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read overlay file %s: %w", path, err)
	}

	var overlays []*Overlay
	if err := json.Unmarshal(data, &overlays); err != nil {
		return nil, fmt.Errorf("failed to parse overlay file %s: %w", path, err)
	}

	return overlays, nil
}
