package dtml

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SourceLoader reads the source of file-backed templates.
type SourceLoader interface {
	Read(path string) (string, error)
}

// FileLoader reads templates from the operating system, relative to Root
// when it is set.
type FileLoader struct {
	Root string
}

func (l FileLoader) Read(path string) (string, error) {
	if l.Root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(l.Root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read template file: %w", err)
	}
	return string(data), nil
}

// FSLoader reads templates from a file system such as an embed.FS.
type FSLoader struct {
	FS fs.FS
}

func (l FSLoader) Read(path string) (string, error) {
	data, err := fs.ReadFile(l.FS, filepath.ToSlash(path))
	if err != nil {
		return "", fmt.Errorf("failed to read template file: %w", err)
	}
	return string(data), nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
