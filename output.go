package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ArchiveStem returns the archive's base name without its extension.
func ArchiveStem(archive string) string {
	base := filepath.Base(archive)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ResolveOutput determines the destination root. An explicit path must be a
// directory (created if absent); otherwise a folder named after the archive
// stem is created in the current directory. Existing directories are reused.
func ResolveOutput(explicit string, archive string) (string, error) {
	dest := explicit
	if dest == "" {
		dest = ArchiveStem(archive)
	}
	st, err := os.Stat(dest)
	switch {
	case err == nil && !st.IsDir():
		return "", fmt.Errorf("%w: %s exists and is not a directory", ErrPathConflict, dest)
	case err == nil:
		return dest, nil
	case os.IsNotExist(err):
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return "", err
		}
		return dest, nil
	default:
		return "", err
	}
}

// SmartStage returns a uuid-named staging directory next to the archive.
// Smart mode extracts there first and decides on the final layout afterwards.
func SmartStage(archive string) (string, error) {
	stage := filepath.Join(filepath.Dir(archive), uuid.NewString())
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return "", err
	}
	return stage, nil
}

// SmartFinish reshapes the staging directory: when it holds only directories
// its contents are hoisted to the parent and the stage removed, otherwise the
// stage is renamed to the archive stem. force removes colliding names first.
func SmartFinish(stage string, stem string, force bool) (string, error) {
	entries, err := os.ReadDir(stage)
	if err != nil {
		return "", err
	}
	onlyDirs := true
	for _, e := range entries {
		if !e.IsDir() {
			onlyDirs = false
			break
		}
	}

	if !onlyDirs {
		final := filepath.Join(filepath.Dir(stage), stem)
		if err := replaceRename(stage, final, force); err != nil {
			return "", err
		}
		return final, nil
	}

	parent := filepath.Dir(stage)
	for _, e := range entries {
		src := filepath.Join(stage, e.Name())
		dst := filepath.Join(parent, e.Name())
		if err := replaceRename(src, dst, force); err != nil {
			return "", err
		}
		slog.Debug("hoisted", "from", src, "to", dst)
	}
	if err := os.Remove(stage); err != nil {
		return "", err
	}
	return parent, nil
}

func replaceRename(src, dst string, force bool) error {
	if force {
		if _, err := os.Stat(dst); err == nil {
			if err := os.RemoveAll(dst); err != nil {
				return err
			}
		}
	}
	return os.Rename(src, dst)
}
