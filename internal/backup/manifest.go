package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kebairia/portalbackup/internal/ledger"
)

const (
	ManifestFilename = "manifest.json"
	ManifestVersion  = 1
)

// Manifest is written at the archive root next to the table files.
type Manifest struct {
	Version   int         `json:"version"`
	BackupID  string      `json:"backup_id"`
	CreatedAt time.Time   `json:"created_at"`
	Kind      ledger.Kind `json:"kind"`
	Tables    []string    `json:"tables"`
	Files     []string    `json:"files,omitempty"`
	Logs      int         `json:"logs,omitempty"`
}

// Load reads the manifest at filePath.
func (m *Manifest) Load(filePath string) error {
	jsonFile, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("couldn't open manifest %q: %w", filePath, err)
	}
	defer jsonFile.Close()

	if err := json.NewDecoder(jsonFile).Decode(m); err != nil {
		return fmt.Errorf("decode manifest JSON: %w", err)
	}
	return nil
}

// Write stores the manifest in dirPath.
func (m *Manifest) Write(dirPath string) error {
	filePath := filepath.Join(dirPath, ManifestFilename)

	if err := EnsureDirectoryExist(dirPath); err != nil {
		return fmt.Errorf("ensure manifest directory %q: %w", dirPath, err)
	}

	jsonFile, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create manifest %q: %w", filePath, err)
	}
	defer jsonFile.Close()

	encoder := json.NewEncoder(jsonFile)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(m); err != nil {
		return fmt.Errorf("encode manifest JSON: %w", err)
	}
	return jsonFile.Sync()
}
