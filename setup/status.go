package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const markerFile = "setup_complete.json"

// marker is the completion record written after a successful run.
type marker struct {
	Completed bool      `json:"completed"`
	Timestamp time.Time `json:"timestamp"`
}

// IsFirstRun reports whether setup has never completed for this config dir.
func IsFirstRun(configDir string) bool {
	_, err := os.Stat(filepath.Join(configDir, markerFile))
	return os.IsNotExist(err)
}

// MarkComplete records a successful setup run.
func MarkComplete(configDir string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	b, err := json.MarshalIndent(marker{Completed: true, Timestamp: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(configDir, markerFile), b, 0o644); err != nil {
		return fmt.Errorf("writing setup marker: %w", err)
	}
	return nil
}

// Reset forgets a previous setup run so the wizard starts over.
func Reset(configDir string) error {
	err := os.Remove(filepath.Join(configDir, markerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing setup marker: %w", err)
	}
	return nil
}
