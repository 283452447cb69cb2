package main

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// ExtractionConfig carries the settings for one extraction run. It is built
// once from CLI input and read-only afterwards.
type ExtractionConfig struct {
	Dest     string
	Password string
	Codec    *Codec
	Silent   bool
	Strict   bool
	Parallel uint
	Progress bool
}

// EntryError records a per-entry failure for the final summary.
type EntryError struct {
	Name string
	Err  error
}

// Summary accumulates extraction results. Workers share one instance.
type Summary struct {
	mu        sync.Mutex
	Extracted int
	Dirs      int
	Failed    []EntryError
}

func (s *Summary) addFile() {
	s.mu.Lock()
	s.Extracted++
	s.mu.Unlock()
}

func (s *Summary) addDir() {
	s.mu.Lock()
	s.Dirs++
	s.mu.Unlock()
}

func (s *Summary) fail(name string, err error) {
	s.mu.Lock()
	s.Failed = append(s.Failed, EntryError{Name: name, Err: err})
	s.mu.Unlock()
}

type extractJob struct {
	zf   *zip.File
	idx  int
	path string
}

// securePath joins an entry name onto the destination root and rejects names
// that escape it. The check is relative so roots like "." work.
func securePath(dest, name string) (string, error) {
	path := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrInsecurePath, name)
	}
	return path, nil
}

// ExtractZip extracts every entry of a zip archive into cfg.Dest. Per-entry
// failures are recorded in the summary and do not stop the run unless
// cfg.Strict is set; strict runs are always sequential so the abort point is
// well defined.
func ExtractZip(archive string, cfg ExtractionConfig) (*Summary, error) {
	zrc, err := OpenArchive(archive)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := zrc.Close(); err != nil {
			slog.Error("close archive", "file", archive, "error", err)
		}
	}()

	sum := &Summary{}
	width := len(fmt.Sprint(len(zrc.File))) + 2

	// resolve every entry path up front so directories exist before any
	// worker writes below them
	jobs := make([]extractJob, 0, len(zrc.File))
	for idx, zf := range zrc.File {
		name, err := DecodeEntryName(zf, cfg.Codec, cfg.Strict)
		if err == nil {
			var path string
			path, err = securePath(cfg.Dest, name)
			if err == nil {
				if strings.HasSuffix(zf.Name, "/") {
					list_entry(idx, width, "creating", path, zf, cfg.Silent)
					if err = os.MkdirAll(path, 0o755); err == nil {
						if mode := zf.Mode().Perm(); mode != 0 {
							if err := os.Chmod(path, mode); err != nil {
								slog.Error("chmod", "path", path, "error", err)
							}
						}
						sum.addDir()
						continue
					}
				} else {
					jobs = append(jobs, extractJob{zf: zf, idx: idx, path: path})
					continue
				}
			}
		}
		slog.Error("entry failed", "entry", zf.Name, "error", err)
		sum.fail(zf.Name, err)
		if cfg.Strict {
			return sum, err
		}
	}

	var bar *progressbar.ProgressBar
	if cfg.Progress {
		bar = progressbar.Default(int64(len(jobs)), filepath.Base(archive))
		defer bar.Close()
	}

	workers := cfg.Parallel
	if workers == 0 {
		workers = uint(runtime.NumCPU())
	}
	if cfg.Strict {
		workers = 1
	}

	if workers <= 1 {
		for _, job := range jobs {
			if err := run_job(job, width, cfg, sum, bar); err != nil && cfg.Strict {
				return sum, err
			}
		}
		return sum, nil
	}

	queue := make(chan extractJob, 10)
	wg := sync.WaitGroup{}
	for i := uint(0); i < workers; i++ {
		wg.Add(1)
		go extract_worker(fmt.Sprint(i), queue, width, cfg, sum, bar, &wg)
	}
	for _, job := range jobs {
		queue <- job
	}
	close(queue)
	wg.Wait()
	return sum, nil
}

func extract_worker(id string, queue <-chan extractJob, width int, cfg ExtractionConfig, sum *Summary, bar *progressbar.ProgressBar, wg *sync.WaitGroup) {
	defer wg.Done()
	slog.Debug("worker start", "id", id)
	for job := range queue {
		run_job(job, width, cfg, sum, bar)
	}
	slog.Debug("worker done", "id", id)
}

func run_job(job extractJob, width int, cfg ExtractionConfig, sum *Summary, bar *progressbar.ProgressBar) error {
	if bar != nil {
		if err := bar.Add(1); err != nil {
			slog.Error("progressbar error", "error", err)
		}
	}
	list_entry(job.idx, width, "inflating", job.path, job.zf, cfg.Silent)
	if err := extract_entry(job.zf, job.path, cfg); err != nil {
		slog.Error("entry failed", "entry", job.zf.Name, "error", err)
		sum.fail(job.zf.Name, err)
		return err
	}
	sum.addFile()
	return nil
}

func list_entry(idx, width int, verb, path string, zf *zip.File, silent bool) {
	if silent {
		return
	}
	if zf.Comment != "" {
		fmt.Printf("%*d comment:   %s\n", width, idx, zf.Comment)
	}
	if verb == "creating" {
		fmt.Printf("%*d creating:  %q\n", width, idx, path)
	} else {
		fmt.Printf("%*d inflating: %q (%d bytes)\n", width, idx, path, zf.UncompressedSize64)
	}
}

// extract_entry writes one file entry to its resolved path, decrypting and
// decompressing as required. Existing files are overwritten. A checksum
// mismatch leaves the written bytes in place for inspection.
func extract_entry(zf *zip.File, path string, cfg ExtractionConfig) error {
	rc, err := OpenEntry(zf, cfg.Password)
	if err != nil {
		return err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			slog.Debug("close entry", "entry", zf.Name, "error", err)
		}
	}()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	written, err := io.Copy(out, rc)
	if cerr := out.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		if errors.Is(err, zip.ErrChecksum) {
			err = fmt.Errorf("%w: %s", ErrChecksum, zf.Name)
		}
		slog.Debug("short write", "entry", zf.Name, "written", written, "error", err)
		return err
	}

	if mode := zf.Mode().Perm(); mode != 0 {
		if err := os.Chmod(path, mode); err != nil {
			slog.Error("chmod", "path", path, "error", err)
		}
	}
	return nil
}

// Report prints the run summary. Fatal-free runs with per-entry failures are
// still reported here; silent mode keeps the final counts.
func (s *Summary) Report(dest string) {
	abs, err := filepath.Abs(dest)
	if err != nil {
		abs = dest
	}
	fmt.Printf("Extracted %d files to %q\n", s.Extracted, abs)
	if len(s.Failed) > 0 {
		fmt.Fprintf(os.Stderr, "%d entries failed\n", len(s.Failed))
	}
}
