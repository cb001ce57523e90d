// SPDX-License-Identifier: MIT

package gvrs

import (
	"errors"

	"github.com/cartogrid/gvrs/codec"
)

// Sentinel errors surfaced by the store. All fallible operations wrap
// these with context, so callers should test with errors.Is.
var (
	ErrBadMagic               = errors.New("gvrs: not a gvrs raster file")
	ErrUnsupportedVersion     = errors.New("gvrs: unsupported file version")
	ErrFileBusyOrUnclean      = errors.New("gvrs: file is open for writing or was not closed cleanly")
	ErrHeaderChecksumMismatch = errors.New("gvrs: header checksum mismatch")
	ErrRecordChecksumMismatch = errors.New("gvrs: record checksum mismatch")
	ErrInvalidRecordType      = errors.New("gvrs: invalid record type")
	ErrInvalidTileIndex       = errors.New("gvrs: invalid tile index")
	ErrValueOutOfRange        = errors.New("gvrs: value out of declared range")
	ErrNotOpenForWriting      = errors.New("gvrs: file is not open for writing")
	ErrInvalidSpecification   = errors.New("gvrs: invalid specification")
	ErrInvalidMetadataName    = errors.New("gvrs: invalid metadata name")
	ErrOutOfBounds            = errors.New("gvrs: grid coordinates out of bounds")

	// ErrFilePositionExceedsCompactLimit is returned by the compact
	// tile directory for a position outside its 2^35-byte reach. The
	// record manager promotes the directory to the extended form
	// before storing such a position, so allocations do not surface it.
	ErrFilePositionExceedsCompactLimit = errors.New("gvrs: file position exceeds compact addressing limit")

	// ErrInvalidCompressionCode re-exports the codec sentinel so that
	// callers of the store do not need to import package codec.
	ErrInvalidCompressionCode = codec.ErrInvalidCompressionCode
)

// isIdentifier reports whether s is an ASCII identifier of at most
// maxLen characters: a letter followed by letters, digits or
// underscores. Element and metadata names follow this syntax.
func isIdentifier(s string, maxLen int) bool {
	if len(s) == 0 || len(s) > maxLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		letter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if i == 0 {
			if !letter {
				return false
			}
			continue
		}
		if !letter && !(c >= '0' && c <= '9') && c != '_' {
			return false
		}
	}
	return true
}
