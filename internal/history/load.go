package history

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Load reads a watch-history export: a JSON array of event objects.
func Load(path string) ([]VideoEvent, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history file path is required")
	}
	f, err := os.Open(path) //nolint:gosec // user-provided input file
	if err != nil {
		return nil, fmt.Errorf("open history file %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	var events []VideoEvent
	if err := json.NewDecoder(f).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode history file %s: %w", path, err)
	}
	return events, nil
}
