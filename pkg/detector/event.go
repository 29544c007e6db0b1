package detector

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadEventFile reads a rollback event artifact. A missing file yields the
// no-rollback default rather than an error, matching how runs that finished
// without triggering are recorded on disk.
func LoadEventFile(path string) (RollbackEvent, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return RollbackEvent{}, nil
	}
	if err != nil {
		return RollbackEvent{}, err
	}
	var ev RollbackEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return RollbackEvent{}, fmt.Errorf("parse event %s: %w", path, err)
	}
	return ev, nil
}

// SaveEventFile writes the rollback event artifact.
func SaveEventFile(path string, ev RollbackEvent) error {
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
