package main

import (
	"archive/zip"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Codec interprets raw zip filename bytes. The zero value is not usable;
// build one with LookupCodec.
type Codec struct {
	Name string
	enc  encoding.Encoding
}

// LookupCodec resolves a WHATWG encoding label ("utf-8", "shift_jis",
// "cp866", ...) to a codec. An empty label means UTF-8.
func LookupCodec(label string) (*Codec, error) {
	if label == "" {
		label = "utf-8"
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, label)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = strings.ToLower(label)
	}
	return &Codec{Name: name, enc: enc}, nil
}

// Decode converts raw name bytes to text. Invalid input decodes lossily to
// U+FFFD replacement runes; with strict set a lossy result is an error.
func (c *Codec) Decode(raw []byte, strict bool) (string, error) {
	var name string
	if c.Name == "utf-8" {
		name = strings.ToValidUTF8(string(raw), string(utf8.RuneError))
	} else {
		decoded, err := c.enc.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrDecodeName, err)
		}
		name = string(decoded)
	}
	if strict && strings.ContainsRune(name, utf8.RuneError) {
		return "", fmt.Errorf("%w: %q is not valid %s", ErrDecodeName, raw, c.Name)
	}
	return name, nil
}

// DecodeEntryName returns the display name of a zip entry. Entries that
// declare UTF-8 names keep them untouched; only names flagged non-UTF-8 go
// through the selected codec.
func DecodeEntryName(f *zip.File, codec *Codec, strict bool) (string, error) {
	if !f.NonUTF8 {
		return f.Name, nil
	}
	name, err := codec.Decode([]byte(f.Name), strict)
	if err != nil {
		return "", err
	}
	if name != f.Name {
		slog.Debug("decoded entry name", "raw", f.Name, "name", name, "codec", codec.Name)
	}
	return name, nil
}
