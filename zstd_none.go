//go:build !cgo

package main

// Without cgo, zstd entries (method 93) report an unsupported method.
