package main

import "errors"

var (
	// ErrNotFound is returned when the archive path does not exist.
	ErrNotFound = errors.New("archive not found")

	// ErrCorruptArchive is returned when the central directory cannot be parsed.
	ErrCorruptArchive = errors.New("not a valid archive")

	// ErrUnsupportedMethod is returned for compression methods not implemented.
	ErrUnsupportedMethod = errors.New("unsupported compression method")

	// ErrMissingPassword is returned when an entry is encrypted and no password was given.
	ErrMissingPassword = errors.New("entry is encrypted and no password given")

	// ErrWrongPassword is returned when password verification fails.
	ErrWrongPassword = errors.New("invalid password")

	// ErrUnsupportedEncoding is returned when the codec label is unrecognized.
	ErrUnsupportedEncoding = errors.New("unknown filename encoding")

	// ErrDecodeName is returned when filename bytes are invalid under the chosen codec.
	ErrDecodeName = errors.New("cannot decode filename")

	// ErrChecksum is returned when extracted bytes do not match the entry checksum.
	ErrChecksum = errors.New("checksum mismatch")

	// ErrPathConflict is returned when the output root is occupied by a non-directory.
	ErrPathConflict = errors.New("output path conflict")

	// ErrInsecurePath is returned when an entry name resolves outside the output root.
	ErrInsecurePath = errors.New("insecure entry path")
)
