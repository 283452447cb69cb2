package zipcrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// WinZip AE-2 constants (AES-256 key strength).
const (
	aesKeySize  = 32
	aesSaltSize = 16
	aesMacSize  = 10
	aesPvvSize  = 2

	// AESOverhead is the number of bytes the AES envelope adds to an
	// entry's compressed payload: salt, verification value and MAC.
	AESOverhead = aesSaltSize + aesPvvSize + aesMacSize

	pbkdf2Iterations = 1000
)

type aesKeys struct {
	enc []byte
	mac []byte
	pvv []byte
}

func deriveKeys(password string, salt []byte) aesKeys {
	const keyLen = 2*aesKeySize + aesPvvSize
	dk := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLen, sha1.New)
	return aesKeys{
		enc: dk[:aesKeySize],
		mac: dk[aesKeySize : 2*aesKeySize],
		pvv: dk[2*aesKeySize:],
	}
}

// ctrStream implements the WinZip AES-CTR variant. The 128-bit counter is
// incremented little endian, unlike stdlib cipher.NewCTR.
type ctrStream struct {
	block   cipher.Block
	counter [aes.BlockSize]byte
	buf     [aes.BlockSize]byte
	pos     int
}

func newCTRStream(block cipher.Block) *ctrStream {
	c := &ctrStream{block: block}
	c.counter[0] = 1
	return c
}

func (c *ctrStream) XORKeyStream(dst, src []byte) {
	for i := range src {
		if c.pos == 0 {
			c.block.Encrypt(c.buf[:], c.counter[:])
			for j := 0; j < aes.BlockSize; j++ {
				c.counter[j]++
				if c.counter[j] != 0 {
					break
				}
			}
		}
		dst[i] = src[i] ^ c.buf[c.pos]
		c.pos = (c.pos + 1) % aes.BlockSize
	}
}

type aesReader struct {
	payload io.Reader
	src     io.Reader
	stream  *ctrStream
	mac     hash.Hash
}

// NewAESReader decrypts a WinZip AES-256 entry. src must be positioned at the
// salt, and compressedSize is the full payload size including the AES
// envelope. The authentication code is verified when the payload is drained.
func NewAESReader(src io.Reader, password string, compressedSize int64) (io.Reader, error) {
	salt := make([]byte, aesSaltSize)
	if _, err := io.ReadFull(src, salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	keys := deriveKeys(password, salt)

	pvv := make([]byte, aesPvvSize)
	if _, err := io.ReadFull(src, pvv); err != nil {
		return nil, fmt.Errorf("read verification value: %w", err)
	}
	if !bytes.Equal(pvv, keys.pvv) {
		return nil, ErrPassword
	}

	block, err := aes.NewCipher(keys.enc)
	if err != nil {
		return nil, err
	}
	if compressedSize < AESOverhead {
		return nil, errors.New("zipcrypt: aes payload too small")
	}

	return &aesReader{
		payload: io.LimitReader(src, compressedSize-AESOverhead),
		src:     src,
		stream:  newCTRStream(block),
		mac:     hmac.New(sha1.New, keys.mac),
	}, nil
}

func (r *aesReader) Read(p []byte) (int, error) {
	n, err := r.payload.Read(p)
	if n > 0 {
		// encrypt-then-MAC: the MAC covers ciphertext
		r.mac.Write(p[:n])
		r.stream.XORKeyStream(p[:n], p[:n])
	}
	if err == io.EOF {
		want := make([]byte, aesMacSize)
		if _, macErr := io.ReadFull(r.src, want); macErr != nil {
			return n, fmt.Errorf("read authentication code: %w", macErr)
		}
		if !hmac.Equal(r.mac.Sum(nil)[:aesMacSize], want) {
			return n, ErrAuth
		}
	}
	return n, err
}

type aesWriter struct {
	dst    io.Writer
	stream *ctrStream
	mac    hash.Hash
}

// NewAESWriter encrypts a WinZip AES-256 payload. Close appends the
// authentication code.
func NewAESWriter(dst io.Writer, password string) (io.WriteCloser, error) {
	salt := make([]byte, aesSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	keys := deriveKeys(password, salt)

	if _, err := dst.Write(salt); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	if _, err := dst.Write(keys.pvv); err != nil {
		return nil, fmt.Errorf("write verification value: %w", err)
	}

	block, err := aes.NewCipher(keys.enc)
	if err != nil {
		return nil, err
	}

	return &aesWriter{
		dst:    dst,
		stream: newCTRStream(block),
		mac:    hmac.New(sha1.New, keys.mac),
	}, nil
}

func (w *aesWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	w.stream.XORKeyStream(buf, p)
	w.mac.Write(buf)
	return w.dst.Write(buf)
}

func (w *aesWriter) Close() error {
	sum := w.mac.Sum(nil)
	if _, err := w.dst.Write(sum[:aesMacSize]); err != nil {
		return fmt.Errorf("write authentication code: %w", err)
	}
	if c, ok := w.dst.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
