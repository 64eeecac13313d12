// Package index turns a directory of source documents into a Qdrant
// collection the retrieval layer can search. Rebuilds are always full:
// the collection is dropped and recreated, never merged.
package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Document is one source file ready for chunking.
type Document struct {
	SourceID string // file base name
	Text     string
}

var sourceExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// LoadDir reads the supported source files directly under dir, sorted
// by name. Dotfiles, subdirectories and other extensions are skipped.
func LoadDir(dir string) ([]Document, error) {
	names, err := sourceFiles(dir)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read source %s: %w", name, err)
		}
		docs = append(docs, Document{SourceID: name, Text: string(data)})
	}
	return docs, nil
}

// sourceFiles lists the indexable file names under dir, sorted.
func sourceFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !sourceExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
