// Package blobstore provides the folder-scoped public storage capability
// backing published downloads and persisted session metadata.
package blobstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store is the blob store capability consumed by the scheduler and the
// persistence adapter. All operations are folder-scoped under a fixed root;
// folder "" addresses the root itself.
//
//go:generate mockgen -source=blobstore.go -destination=mocks/mock_blobstore.go -package=mocks
type Store interface {
	// Publish makes a locally written file visible under folder/name and
	// returns the public path. With overwrite disabled an existing
	// destination is replaced anyway; callers gate on Exists beforehand.
	Publish(localPath, name, folder, mimeType string, overwrite bool) (string, error)
	WriteText(content, name, folder string) (string, error)
	// ReadText returns the content and whether the blob exists.
	ReadText(name, folder string) (string, bool, error)
	Exists(name, folder string) bool
	List(folder, extensionFilter string) ([]string, error)
	Delete(name, folder string) bool
}

// Local is a filesystem-backed Store rooted at a single directory
type Local struct {
	root string
}

// NewLocal creates a filesystem store rooted at root, creating it if needed
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &Local{root: root}, nil
}

// Root returns the fixed root directory of the store
func (l *Local) Root() string {
	return l.root
}

func (l *Local) path(name, folder string) string {
	if folder == "" {
		return filepath.Join(l.root, name)
	}
	return filepath.Join(l.root, folder, name)
}

// Publish moves localPath into folder/name and returns the public path
func (l *Local) Publish(localPath, name, folder, mimeType string, overwrite bool) (string, error) {
	dest := l.path(name, folder)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create folder: %w", err)
	}

	// Rename first; fall back to copy when scratch and root sit on
	// different filesystems.
	if err := os.Rename(localPath, dest); err != nil {
		if copyErr := copyFile(localPath, dest); copyErr != nil {
			return "", fmt.Errorf("failed to publish %s: %w", name, copyErr)
		}
	}
	return dest, nil
}

// WriteText writes content as folder/name, replacing any previous version
func (l *Local) WriteText(content, name, folder string) (string, error) {
	dest := l.path(name, folder)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create folder: %w", err)
	}
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return dest, nil
}

// ReadText reads folder/name, reporting absence without error
func (l *Local) ReadText(name, folder string) (string, bool, error) {
	data, err := os.ReadFile(l.path(name, folder))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), true, nil
}

// Exists reports whether folder/name already holds a blob
func (l *Local) Exists(name, folder string) bool {
	info, err := os.Stat(l.path(name, folder))
	return err == nil && !info.IsDir()
}

// List returns blob names in folder, optionally filtered by extension
func (l *Local) List(folder, extensionFilter string) ([]string, error) {
	dir := l.root
	if folder != "" {
		dir = filepath.Join(l.root, folder)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list folder %s: %w", folder, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if extensionFilter != "" && !strings.EqualFold(filepath.Ext(entry.Name()), extensionFilter) {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// Delete removes folder/name, reporting whether anything was removed
func (l *Local) Delete(name, folder string) bool {
	return os.Remove(l.path(name, folder)) == nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
