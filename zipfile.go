package main

import (
	"archive/zip"
	"compress/bzip2"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"log/slog"
	"os"

	"github.com/cameronkinsella/runzip/internal/zipcrypt"
)

// Compression method indicates WinZip AES encryption; the real method is in
// the 0x9901 extra field.
const winZipAESMarker = 99

// aesExtraFieldTag identifies the WinZip AES extra field, see
// https://www.winzip.com/en/support/aes-encryption/
const aesExtraFieldTag uint16 = 0x9901

// Compression methods beyond the ones archive/zip names.
const (
	MethodBzip2 uint16 = 12
	MethodZstd  uint16 = 93
)

// EncryptionKind classifies how an entry is protected.
type EncryptionKind int

const (
	NotEncrypted EncryptionKind = iota
	ZipCrypto
	WinZipAES
)

// decompressors is the closed set of supported compression methods. zstd is
// added by the cgo build (zstd.go).
var decompressors = map[uint16]func(io.Reader) io.ReadCloser{
	zip.Store: io.NopCloser,
	zip.Deflate: func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	},
	MethodBzip2: func(r io.Reader) io.ReadCloser {
		return io.NopCloser(bzip2.NewReader(r))
	},
}

func init() {
	// unencrypted entries go through archive/zip's own dispatch
	zip.RegisterDecompressor(MethodBzip2, decompressors[MethodBzip2])
}

// OpenArchive opens a zip container for reading.
func OpenArchive(name string) (*zip.ReadCloser, error) {
	rc, err := zip.OpenReader(name)
	if err != nil {
		if rc != nil && errors.Is(err, zip.ErrInsecurePath) {
			// confinement is enforced per entry at extraction time
			return rc, nil
		}
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if errors.Is(err, zip.ErrFormat) {
			return nil, fmt.Errorf("%w: %s", ErrCorruptArchive, name)
		}
		return nil, err
	}
	return rc, nil
}

// EntryEncryption inspects the general purpose flag and method marker.
func EntryEncryption(zf *zip.File) EncryptionKind {
	if zf.Method == winZipAESMarker {
		return WinZipAES
	}
	if zf.Flags&0x1 != 0 {
		return ZipCrypto
	}
	return NotEncrypted
}

// aesMethod digs the real compression method out of the AES extra field.
func aesMethod(zf *zip.File) (uint16, error) {
	extra := zf.Extra
	for len(extra) >= 4 {
		tag := binary.LittleEndian.Uint16(extra[0:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		if len(extra) < 4+size {
			break
		}
		data := extra[4 : 4+size]
		if tag == aesExtraFieldTag && size >= 7 {
			return binary.LittleEndian.Uint16(data[5:7]), nil
		}
		extra = extra[4+size:]
	}
	return 0, fmt.Errorf("%w: aes entry without 0x9901 extra field", ErrCorruptArchive)
}

// OpenEntry returns a reader over an entry's decompressed bytes, handling
// decryption when the entry is protected. Reads fail with ErrChecksum at EOF
// when the payload does not match the recorded CRC32.
func OpenEntry(zf *zip.File, password string) (io.ReadCloser, error) {
	kind := EntryEncryption(zf)
	if kind == NotEncrypted {
		rc, err := zf.Open()
		if err != nil {
			if errors.Is(err, zip.ErrAlgorithm) {
				return nil, fmt.Errorf("%w: method %d", ErrUnsupportedMethod, zf.Method)
			}
			return nil, err
		}
		return rc, nil
	}

	if password == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingPassword, zf.Name)
	}

	raw, err := zf.OpenRaw()
	if err != nil {
		return nil, err
	}

	var plain io.Reader
	method := zf.Method
	switch kind {
	case ZipCrypto:
		plain, err = newZipCryptoReader(raw, password, zf)
	case WinZipAES:
		method, err = aesMethod(zf)
		if err == nil {
			plain, err = newAESEntryReader(raw, password, zf)
		}
	}
	if err != nil {
		return nil, err
	}

	decompress, ok := decompressors[method]
	if !ok {
		return nil, fmt.Errorf("%w: method %d", ErrUnsupportedMethod, method)
	}
	rc := decompress(plain)

	if kind == WinZipAES {
		rc = &aesAuthReader{rc: rc, name: zf.Name}
		// AE-2 entries store CRC 0 and rely on the HMAC instead
		if zf.CRC32 == 0 {
			return rc, nil
		}
	}
	return &checksumReader{rc: rc, hash: crc32.NewIEEE(), want: zf.CRC32}, nil
}

// aesAuthReader surfaces a failed authentication code as a checksum error.
type aesAuthReader struct {
	rc   io.ReadCloser
	name string
}

func (r *aesAuthReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if err != nil && errors.Is(err, zipcrypt.ErrAuth) {
		return n, fmt.Errorf("%w: %s", ErrChecksum, r.name)
	}
	return n, err
}

func (r *aesAuthReader) Close() error { return r.rc.Close() }

func newZipCryptoReader(raw io.Reader, password string, zf *zip.File) (io.Reader, error) {
	r, err := zipcrypt.NewReader(raw, password, zf.Flags, zf.CRC32, zf.ModifiedTime)
	if err != nil {
		if errors.Is(err, zipcrypt.ErrPassword) {
			return nil, fmt.Errorf("%w: %s", ErrWrongPassword, zf.Name)
		}
		return nil, err
	}
	return r, nil
}

func newAESEntryReader(raw io.Reader, password string, zf *zip.File) (io.Reader, error) {
	r, err := zipcrypt.NewAESReader(raw, password, int64(zf.CompressedSize64))
	if err != nil {
		if errors.Is(err, zipcrypt.ErrPassword) {
			return nil, fmt.Errorf("%w: %s", ErrWrongPassword, zf.Name)
		}
		return nil, err
	}
	return r, nil
}

// checksumReader verifies the running CRC32 once the stream is drained.
type checksumReader struct {
	rc   io.ReadCloser
	hash hash.Hash32
	want uint32
}

func (r *checksumReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		r.hash.Write(p[:n])
	}
	if err == io.EOF && r.hash.Sum32() != r.want {
		slog.Debug("crc mismatch", "want", r.want, "got", r.hash.Sum32())
		return n, ErrChecksum
	}
	return n, err
}

func (r *checksumReader) Close() error {
	return r.rc.Close()
}
