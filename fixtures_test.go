package main

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/cameronkinsella/runzip/internal/zipcrypt"
)

type testEntry struct {
	name    string
	data    []byte
	dir     bool
	nonUTF8 bool
	comment string
}

// makeZip writes a zip archive with the given entries to a temp file and
// returns its path.
func makeZip(t *testing.T, entries []testEntry) string {
	t.Helper()
	fname := filepath.Join(t.TempDir(), "test.zip")
	fp, err := os.Create(fname)
	if err != nil {
		t.Fatal("create", err)
	}
	defer fp.Close()

	zw := zip.NewWriter(fp)
	for _, e := range entries {
		if e.dir {
			fh := &zip.FileHeader{Name: e.name, NonUTF8: e.nonUTF8}
			if _, err := zw.CreateHeader(fh); err != nil {
				t.Fatal("create dir entry", e.name, err)
			}
			continue
		}
		fh := &zip.FileHeader{
			Name:    e.name,
			Method:  zip.Deflate,
			NonUTF8: e.nonUTF8,
			Comment: e.comment,
		}
		w, err := zw.CreateHeader(fh)
		if err != nil {
			t.Fatal("create entry", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatal("write entry", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal("close writer", err)
	}
	return fname
}

func deflateBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	fw, err := flate.NewWriter(buf, flate.DefaultCompression)
	if err != nil {
		t.Fatal("flate writer", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal("flate write", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatal("flate close", err)
	}
	return buf.Bytes()
}

// addZipCryptoEntry writes a ZipCrypto-protected deflate entry through
// CreateRaw so the raw encrypted payload lands in the archive untouched.
func addZipCryptoEntry(t *testing.T, zw *zip.Writer, name, password string, data []byte) {
	t.Helper()
	crc := crc32.ChecksumIEEE(data)
	comp := deflateBytes(t, data)

	enc := &bytes.Buffer{}
	w, err := zipcrypt.NewWriter(enc, password, byte(crc>>24))
	if err != nil {
		t.Fatal("zipcrypt writer", err)
	}
	if _, err := w.Write(comp); err != nil {
		t.Fatal("zipcrypt write", err)
	}

	fh := &zip.FileHeader{
		Name:               name,
		Method:             zip.Deflate,
		Flags:              0x1,
		CRC32:              crc,
		CompressedSize64:   uint64(enc.Len()),
		UncompressedSize64: uint64(len(data)),
	}
	fw, err := zw.CreateRaw(fh)
	if err != nil {
		t.Fatal("create raw", err)
	}
	if _, err := fw.Write(enc.Bytes()); err != nil {
		t.Fatal("write raw", err)
	}
}

// aesExtraField builds a WinZip AE-2 extra field declaring the real method.
func aesExtraField(method uint16) []byte {
	extra := make([]byte, 11)
	binary.LittleEndian.PutUint16(extra[0:2], 0x9901)
	binary.LittleEndian.PutUint16(extra[2:4], 7)
	binary.LittleEndian.PutUint16(extra[4:6], 2) // AE-2
	extra[6] = 'A'
	extra[7] = 'E'
	extra[8] = 3 // 256-bit strength
	binary.LittleEndian.PutUint16(extra[9:11], method)
	return extra
}

// addAESEntry writes a WinZip AES-256 deflate entry through CreateRaw.
func addAESEntry(t *testing.T, zw *zip.Writer, name, password string, data []byte) {
	t.Helper()
	comp := deflateBytes(t, data)

	enc := &bytes.Buffer{}
	w, err := zipcrypt.NewAESWriter(enc, password)
	if err != nil {
		t.Fatal("aes writer", err)
	}
	if _, err := w.Write(comp); err != nil {
		t.Fatal("aes write", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal("aes close", err)
	}

	fh := &zip.FileHeader{
		Name:               name,
		Method:             winZipAESMarker,
		Flags:              0x1,
		CRC32:              0, // AE-2 stores no CRC
		CompressedSize64:   uint64(enc.Len()),
		UncompressedSize64: uint64(len(data)),
		Extra:              aesExtraField(zip.Deflate),
	}
	fw, err := zw.CreateRaw(fh)
	if err != nil {
		t.Fatal("create raw", err)
	}
	if _, err := fw.Write(enc.Bytes()); err != nil {
		t.Fatal("write raw", err)
	}
}

// addTamperedAESEntry writes a stored WinZip AES entry whose first ciphertext
// byte is flipped, so decryption succeeds but the authentication code does not.
func addTamperedAESEntry(t *testing.T, zw *zip.Writer, name, password string, data []byte) {
	t.Helper()
	enc := &bytes.Buffer{}
	w, err := zipcrypt.NewAESWriter(enc, password)
	if err != nil {
		t.Fatal("aes writer", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal("aes write", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal("aes close", err)
	}
	raw := enc.Bytes()
	raw[18] ^= 0xff // first byte past the 16B salt and 2B verifier

	fh := &zip.FileHeader{
		Name:               name,
		Method:             winZipAESMarker,
		Flags:              0x1,
		CRC32:              0,
		CompressedSize64:   uint64(len(raw)),
		UncompressedSize64: uint64(len(data)),
		Extra:              aesExtraField(zip.Store),
	}
	fw, err := zw.CreateRaw(fh)
	if err != nil {
		t.Fatal("create raw", err)
	}
	if _, err := fw.Write(raw); err != nil {
		t.Fatal("write raw", err)
	}
}

// makeRawZip opens a temp archive for tests that need CreateRaw access.
func makeRawZip(t *testing.T, build func(zw *zip.Writer)) string {
	t.Helper()
	fname := filepath.Join(t.TempDir(), "raw.zip")
	fp, err := os.Create(fname)
	if err != nil {
		t.Fatal("create", err)
	}
	defer fp.Close()
	zw := zip.NewWriter(fp)
	build(zw)
	if err := zw.Close(); err != nil {
		t.Fatal("close writer", err)
	}
	return fname
}

// trash overwrites a file with bytes that are not a zip container.
func trash(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("this is not a zip archive"), 0o644); err != nil {
		t.Fatal("trash", err)
	}
}

func defaultConfig(t *testing.T) ExtractionConfig {
	t.Helper()
	codec, err := LookupCodec("utf-8")
	if err != nil {
		t.Fatal("codec", err)
	}
	return ExtractionConfig{
		Dest:     t.TempDir(),
		Codec:    codec,
		Silent:   true,
		Parallel: 1,
	}
}
