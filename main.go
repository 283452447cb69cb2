package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
)

var globalOption struct {
	Out      string `short:"o" long:"out" description:"output directory (default: new folder named after the archive)"`
	Password string `short:"p" long:"password" description:"password for encrypted entries"`
	Encoding string `short:"e" long:"encoding" default:"utf-8" description:"filename codec (WHATWG label)"`
	Verbose  bool   `short:"v" long:"verbose" description:"show verbose logs"`
	Silent   bool   `short:"s" long:"silent" description:"suppress per-entry output"`
	JsonLog  bool   `long:"json-log" description:"use json format for logging"`
	Strict   bool   `long:"strict" description:"abort on the first entry error"`
	Parallel uint   `long:"parallel" default:"1" description:"extraction workers (0 = all cpus)"`
	Progress bool   `long:"progress" description:"show progress bar"`
	Smart    bool   `long:"smart" description:"only keep a wrapping directory if the archive needs one"`
	Force    bool   `short:"f" long:"force" description:"overwrite folder names in smart mode"`
	Version  bool   `short:"V" long:"version" description:"print version and exit"`
	Args     struct {
		File flags.Filename `positional-arg-name:"FILE" description:"path to the archive"`
	} `positional-args:"yes"`
}

func init_log() {
	var level slog.Level = slog.LevelInfo
	if globalOption.Verbose {
		level = slog.LevelDebug
	} else if globalOption.Silent {
		level = slog.LevelWarn
	}
	if globalOption.JsonLog {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}
}

// Exit codes: 0 full success, 1 fatal error, 2 completed with entry failures.
const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

func run(args []string) int {
	parser := flags.NewParser(&globalOption, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			return exitOK
		}
		return exitFatal
	}
	if globalOption.Version {
		fmt.Println("runzip", version)
		return exitOK
	}
	init_log()

	archive := string(globalOption.Args.File)
	if archive == "" {
		slog.Error("no archive given")
		return exitFatal
	}

	codec, err := LookupCodec(globalOption.Encoding)
	if err != nil {
		slog.Error("encoding", "label", globalOption.Encoding, "error", err)
		return exitFatal
	}

	var dest string
	if globalOption.Smart {
		dest, err = SmartStage(archive)
	} else {
		dest, err = ResolveOutput(globalOption.Out, archive)
	}
	if err != nil {
		slog.Error("output root", "error", err)
		return exitFatal
	}

	if !globalOption.Silent {
		fmt.Printf("Archive: %q\nEncoding: %s\n", filepath.Base(archive), codec.Name)
	}

	cfg := ExtractionConfig{
		Dest:     dest,
		Password: globalOption.Password,
		Codec:    codec,
		Silent:   globalOption.Silent,
		Strict:   globalOption.Strict,
		Parallel: globalOption.Parallel,
		Progress: globalOption.Progress,
	}

	var sum *Summary
	if strings.EqualFold(filepath.Ext(archive), ".rar") {
		sum, err = ExtractRar(archive, cfg)
	} else {
		sum, err = ExtractZip(archive, cfg)
	}
	if err != nil {
		slog.Error("extraction failed", "file", archive, "error", err)
		return exitFatal
	}

	if globalOption.Smart {
		final, err := SmartFinish(dest, ArchiveStem(archive), globalOption.Force)
		if err != nil {
			slog.Error("smart finish", "stage", dest, "error", err)
			return exitFatal
		}
		dest = final
	}

	sum.Report(dest)
	if len(sum.Failed) > 0 {
		return exitPartial
	}
	return exitOK
}

func main() {
	os.Exit(run(os.Args[1:]))
}
