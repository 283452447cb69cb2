// Package zipcrypt implements the two encryption schemes found in zip
// archives: the legacy PKWARE stream cipher ("ZipCrypto") and WinZip AES-256.
// Only whole-entry streams are handled; the caller is responsible for
// positioning the source at the start of the encrypted payload.
package zipcrypt

import (
	"crypto/rand"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var (
	// ErrPassword is returned when the password verification value does not match.
	ErrPassword = errors.New("zipcrypt: password mismatch")

	// ErrAuth is returned when the AES authentication code does not match.
	ErrAuth = errors.New("zipcrypt: authentication failed")
)

// HeaderSize is the length of the ZipCrypto encryption header.
const HeaderSize = 12

const cipherMagic = 134775813

// keystream holds the three rolling keys of the PKWARE cipher.
type keystream struct {
	k0, k1, k2 uint32
}

func newKeystream(password string) *keystream {
	ks := &keystream{
		k0: 0x12345678,
		k1: 0x23456789,
		k2: 0x34567890,
	}
	for i := 0; i < len(password); i++ {
		ks.update(password[i])
	}
	return ks
}

func (ks *keystream) update(b byte) {
	ks.k0 = crc32.IEEETable[(ks.k0^uint32(b))&0xff] ^ (ks.k0 >> 8)
	ks.k1 = ks.k1 + (ks.k0 & 0xff)
	ks.k1 = ks.k1*cipherMagic + 1
	ks.k2 = crc32.IEEETable[(ks.k2^uint32(byte(ks.k1>>24)))&0xff] ^ (ks.k2 >> 8)
}

func (ks *keystream) magicByte() byte {
	t := ks.k2 | 2
	return byte((t * (t ^ 1)) >> 8)
}

func (ks *keystream) encrypt(buf []byte) {
	for i, b := range buf {
		c := b ^ ks.magicByte()
		ks.update(b)
		buf[i] = c
	}
}

func (ks *keystream) decrypt(buf []byte) {
	for i, c := range buf {
		b := c ^ ks.magicByte()
		ks.update(b)
		buf[i] = b
	}
}

type reader struct {
	src  io.Reader
	keys *keystream
}

// NewReader decrypts a ZipCrypto stream. The 12-byte encryption header is
// consumed and its check byte verified against the entry CRC, or against the
// MS-DOS modification time when flag bit 3 (data descriptor) is set.
func NewReader(src io.Reader, password string, flags uint16, crc uint32, dosTime uint16) (io.Reader, error) {
	keys := newKeystream(password)

	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(src, header); err != nil {
		return nil, fmt.Errorf("read encryption header: %w", err)
	}
	keys.decrypt(header)

	var check byte
	if flags&0x8 != 0 {
		check = byte(dosTime >> 8)
	} else {
		check = byte(crc >> 24)
	}
	if header[HeaderSize-1] != check {
		return nil, ErrPassword
	}

	return &reader{src: src, keys: keys}, nil
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.keys.decrypt(p[:n])
	}
	return n, err
}

type writer struct {
	dst  io.Writer
	keys *keystream
}

// NewWriter encrypts a ZipCrypto stream, emitting a random 12-byte header
// whose last byte is the given check byte.
func NewWriter(dst io.Writer, password string, check byte) (io.WriteCloser, error) {
	keys := newKeystream(password)

	header := make([]byte, HeaderSize)
	if _, err := rand.Read(header); err != nil {
		return nil, fmt.Errorf("encryption header: %w", err)
	}
	header[HeaderSize-1] = check
	keys.encrypt(header)
	if _, err := dst.Write(header); err != nil {
		return nil, fmt.Errorf("write encryption header: %w", err)
	}

	return &writer{dst: dst, keys: keys}, nil
}

func (w *writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	w.keys.encrypt(buf)
	return w.dst.Write(buf)
}

func (w *writer) Close() error {
	if c, ok := w.dst.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
