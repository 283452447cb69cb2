//go:build cgo

package main

import (
	"archive/zip"
	"io"

	"github.com/DataDog/zstd"
)

func init() {
	decompressors[MethodZstd] = func(r io.Reader) io.ReadCloser {
		return zstd.NewReader(r)
	}
	zip.RegisterDecompressor(MethodZstd, decompressors[MethodZstd])
}
