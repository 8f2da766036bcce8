package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/carlosai/carlos/examples"
)

// runInit initializes a Carlos working directory: the config file from
// the bundled example and the audio temp directory. Existing files are
// never overwritten, so re-running init is safe.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Carlos workspace in %s\n", dir)

	if err := os.MkdirAll(filepath.Join(dir, "temp_audio"), 0o755); err != nil {
		return fmt.Errorf("create temp_audio: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, examples.ConfigYAML); err != nil {
		return fmt.Errorf("write %s: %w", configPath, err)
	}
	fmt.Fprintf(w, "  wrote %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml, run the setup script, then start with: carlos run")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, preserving user customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, content, 0o644)
}
