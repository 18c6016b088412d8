// Package index tracks the state directory: the rebuild lock and the
// fingerprint sidecar recorded after each commit.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// MetadataVersion is the current version of the metadata format.
	MetadataVersion = 1

	// metadataFile is the filename for index metadata.
	metadataFile = "index-meta.json"
)

// IndexMeta records the last committed rebuild.
type IndexMeta struct {
	Version      int       `json:"version"`
	BuiltAt      time.Time `json:"builtAt"`
	Fingerprint  string    `json:"fingerprint"`
	GraphVersion string    `json:"graphVersion"`
	FileCount    int       `json:"fileCount"`
	EntityCount  int       `json:"entityCount"`
	EdgeCount    int       `json:"edgeCount"`
	Duration     string    `json:"duration"`
	RunID        string    `json:"runId,omitempty"`
	Mode         string    `json:"mode,omitempty"`
}

// FreshnessResult describes whether the committed graph matches the corpus.
type FreshnessResult struct {
	Fresh              bool   `json:"fresh"`
	Reason             string `json:"reason,omitempty"`
	IndexedFingerprint string `json:"indexedFingerprint,omitempty"`
	CurrentFingerprint string `json:"currentFingerprint"`
	Age                string `json:"age,omitempty"`
}

// MetaPath returns the sidecar path inside stateDir.
func MetaPath(stateDir string) string {
	return filepath.Join(stateDir, metadataFile)
}

// LoadMeta loads index metadata from the state directory.
// Returns nil without error if no metadata file exists.
func LoadMeta(stateDir string) (*IndexMeta, error) {
	data, err := os.ReadFile(MetaPath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No metadata yet
		}
		return nil, fmt.Errorf("reading index metadata: %w", err)
	}

	var meta IndexMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing index metadata: %w", err)
	}

	// Version mismatch - treat as no metadata
	if meta.Version != MetadataVersion {
		return nil, nil
	}

	return &meta, nil
}

// Save writes index metadata to the state directory, replacing the previous
// file atomically.
func (m *IndexMeta) Save(stateDir string) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	m.Version = MetadataVersion

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index metadata: %w", err)
	}

	path := MetaPath(stateDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing index metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing index metadata: %w", err)
	}
	return nil
}

// RemoveMeta deletes the sidecar, if present.
func RemoveMeta(stateDir string) error {
	if err := os.Remove(MetaPath(stateDir)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CheckFreshness compares the recorded fingerprint with the current one.
func (m *IndexMeta) CheckFreshness(currentFingerprint string) FreshnessResult {
	result := FreshnessResult{CurrentFingerprint: currentFingerprint}
	if m == nil {
		result.Reason = "no index metadata found"
		return result
	}

	result.IndexedFingerprint = m.Fingerprint
	result.Age = humanDuration(time.Since(m.BuiltAt))
	if m.Fingerprint == currentFingerprint {
		result.Fresh = true
		return result
	}
	result.Reason = "corpus changed since last rebuild"
	return result
}

// humanDuration formats a duration in human-readable form.
func humanDuration(d time.Duration) string {
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}
