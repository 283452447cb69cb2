package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nwaples/rardecode/v2"
)

// ExtractRar extracts a rar archive into cfg.Dest. Rar entry names are
// already Unicode, so the filename codec does not apply. The format is a
// sequential stream, so extraction is always single-pass.
func ExtractRar(archive string, cfg ExtractionConfig) (*Summary, error) {
	opts := []rardecode.Option{}
	if cfg.Password != "" {
		opts = append(opts, rardecode.Password(cfg.Password))
	}
	rc, err := rardecode.OpenReader(archive, opts...)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, archive)
		}
		if errors.Is(err, rardecode.ErrBadPassword) {
			return nil, fmt.Errorf("%w: %s", ErrWrongPassword, archive)
		}
		return nil, fmt.Errorf("%w: %s", ErrCorruptArchive, err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			slog.Error("close archive", "file", archive, "error", err)
		}
	}()

	sum := &Summary{}
	for {
		hdr, err := rc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, rardecode.ErrBadPassword) {
				return sum, fmt.Errorf("%w: %s", ErrWrongPassword, archive)
			}
			return sum, fmt.Errorf("%w: %s", ErrCorruptArchive, err)
		}

		path, err := securePath(cfg.Dest, hdr.Name)
		if err != nil {
			slog.Error("entry failed", "entry", hdr.Name, "error", err)
			sum.fail(hdr.Name, err)
			if cfg.Strict {
				return sum, err
			}
			continue
		}

		if hdr.IsDir {
			if !cfg.Silent {
				fmt.Printf("creating:  %q\n", path)
			}
			if err := os.MkdirAll(path, 0o755); err != nil {
				return sum, err
			}
			sum.addDir()
			continue
		}

		if !cfg.Silent {
			fmt.Printf("inflating: %q (%d bytes)\n", path, hdr.UnPackedSize)
		}
		if err := write_rar_entry(rc, hdr, path); err != nil {
			slog.Error("entry failed", "entry", hdr.Name, "error", err)
			sum.fail(hdr.Name, err)
			if cfg.Strict {
				return sum, err
			}
			continue
		}
		sum.addFile()
	}
	return sum, nil
}

func write_rar_entry(r io.Reader, hdr *rardecode.FileHeader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, r)
	if cerr := out.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if mode := hdr.Mode().Perm(); mode != 0 {
		if err := os.Chmod(path, mode); err != nil {
			slog.Error("chmod", "path", path, "error", err)
		}
	}
	return nil
}
