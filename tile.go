// SPDX-License-Identifier: MIT

package gvrs

import (
	"encoding/binary"

	"github.com/cartogrid/gvrs/braf"
	"github.com/cartogrid/gvrs/codec"
)

// rasterTile holds the element buffers of one tile plus the control
// fields of the cache: the dirty flag and the linked-list hooks that
// maintain LRU order.
type rasterTile struct {
	index int
	row   int
	col   int

	elements        []tileElement
	writingRequired bool

	prior *rasterTile
	next  *rasterTile
}

func newRasterTile(s *FileSpec, tileIndex int) *rasterTile {
	t := &rasterTile{
		index:    tileIndex,
		row:      tileIndex / s.ColsOfTiles,
		col:      tileIndex % s.ColsOfTiles,
		elements: make([]tileElement, len(s.Elements)),
	}
	for i, e := range s.Elements {
		t.elements[i] = newTileElement(s, e)
	}
	return t
}

// hasValidData reports whether any element holds a non-fill cell.
// A tile that holds only fill values is written back as nonexistent.
func (t *rasterTile) hasValidData() bool {
	for _, e := range t.elements {
		if e.hasValidData() {
			return true
		}
	}
	return false
}

func (t *rasterTile) setToNullState() {
	for _, e := range t.elements {
		e.setToNullState()
	}
}

// standardPayloadSize is the on-disk content size of the tile in
// standard format: the 4-byte tile index plus a length-prefixed
// standard packet per element.
func (t *rasterTile) standardPayloadSize() int {
	size := 4
	for _, e := range t.elements {
		size += 4 + e.standardSize()
	}
	return size
}

// getCompressedPacking encodes every element and concatenates
// length-prefixed packets. Elements where no codec improved on the
// standard form contribute their standard bytes, so the result is
// usable whenever it is smaller than the standard payload. Returns
// nil when compression is off or nothing improved.
func (t *rasterTile) getCompressedPacking(m *codec.Master) []byte {
	if m.Empty() {
		return nil
	}
	packets := make([][]byte, len(t.elements))
	improved := false
	for i, e := range t.elements {
		if p := e.encode(m); p != nil {
			packets[i] = p
			improved = true
		} else {
			packets[i] = e.standardBytes()
		}
	}
	if !improved {
		return nil
	}
	size := 0
	for _, p := range packets {
		size += 4 + len(p)
	}
	packed := make([]byte, 0, size)
	var lenbuf [4]byte
	for _, p := range packets {
		binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(p)))
		packed = append(packed, lenbuf[:]...)
		packed = append(packed, p...)
	}
	return packed
}

// readPayload restores the tile from its on-disk record content. The
// braf position is just past the 4-byte tile index. A packet whose
// length equals the element's standard size is standard-format;
// anything else is a codec packing.
func (t *rasterTile) readPayload(b *braf.File, m *codec.Master) error {
	for _, e := range t.elements {
		n, err := b.ReadInt32()
		if err != nil {
			return err
		}
		if int(n) == e.standardSize() {
			if err := e.readStandard(b); err != nil {
				return err
			}
			continue
		}
		packing := make([]byte, n)
		if err := b.ReadFully(packing); err != nil {
			return err
		}
		if err := e.decode(m, packing); err != nil {
			return err
		}
	}
	return nil
}

// writeStandardPayload writes the tile content in standard format at
// the current braf position, starting with the tile index.
func (t *rasterTile) writeStandardPayload(b *braf.File) error {
	if err := b.WriteInt32(int32(t.index)); err != nil {
		return err
	}
	for _, e := range t.elements {
		if err := b.WriteInt32(int32(e.standardSize())); err != nil {
			return err
		}
		if err := e.writeStandard(b); err != nil {
			return err
		}
	}
	return nil
}
