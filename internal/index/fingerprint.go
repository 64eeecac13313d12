package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Fingerprint hashes the names and contents of all source files in dir
// into a single hex digest. Any rename, edit, addition, or removal
// changes the result.
func Fingerprint(dir string) (string, error) {
	names, err := sourceFiles(dir)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("failed to read source file %s: %w", name, err)
		}
		sum := sha256.Sum256(data)
		fmt.Fprintf(h, "%s:%s\n", name, hex.EncodeToString(sum[:]))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// fingerprintPath hides the marker as a dotfile so it never counts as
// a source file itself.
func fingerprintPath(sourceDir, location string) string {
	return filepath.Join(sourceDir, "."+location+".fingerprint")
}

// ReadFingerprint returns the stored fingerprint for a location, or ""
// when none has been written yet.
func ReadFingerprint(sourceDir, location string) string {
	data, err := os.ReadFile(fingerprintPath(sourceDir, location))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// WriteFingerprint stores the fingerprint for a location next to the
// sources it describes.
func WriteFingerprint(sourceDir, location, fp string) error {
	path := fingerprintPath(sourceDir, location)
	if err := os.WriteFile(path, []byte(fp+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write fingerprint %s: %w", path, err)
	}
	return nil
}
