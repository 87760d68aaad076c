// Package storage implements the blob boundary under the revision store:
// backends, the record bundle format and per-record compression.
package storage

import "errors"

var (
	// ErrCorrupted indicates a frame or index whose CRC does not match
	ErrCorrupted = errors.New("storage: corrupted frame")

	// ErrTruncated indicates a frame, index or range shorter than its header claims
	ErrTruncated = errors.New("storage: truncated frame")

	// ErrBadMagic indicates a blob that is not a record bundle
	ErrBadMagic = errors.New("storage: not a bundle")

	// ErrUnknownCodec indicates a frame compressed with an unsupported codec
	ErrUnknownCodec = errors.New("storage: unknown codec")
)
