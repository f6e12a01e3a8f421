package subscription

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// writeArtifact persists the exported document: a single-generation .bak copy
// of the previous artifact, then an atomic rename into place.
func writeArtifact(path string, document []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}

	if previous, err := os.ReadFile(path); err == nil {
		if err := renameio.WriteFile(path+".bak", previous, 0o644); err != nil {
			return fmt.Errorf("write artifact backup: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read previous artifact: %w", err)
	}

	if err := renameio.WriteFile(path, document, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
