// SPDX-License-Identifier: MIT

package gvrs

import (
	"fmt"

	"github.com/cartogrid/gvrs/braf"
)

// maxCompactPosition is the first file position that the compact tile
// directory cannot represent: offsets are stored as 32-bit words of
// fileOffset/8, which reaches 2^35 bytes.
const maxCompactPosition = int64(1) << 35

// tileDirectory is the sparse mapping from tile index to the file
// position of the tile's record content. A zero position means the
// tile does not exist. The compact form stores scaled 32-bit words;
// the extended form stores 64-bit positions directly.
type tileDirectory interface {
	getFilePosition(tileIndex int) int64
	setFilePosition(tileIndex int, position int64) error
	isFilePositionSet(tileIndex int) bool
	readTilePositions(b *braf.File) error
	writeTilePositions(b *braf.File) error
	usesExtendedFileOffset() bool
	// getExtendedDirectory returns a 64-bit copy of the directory,
	// promoting the compact form. An extended directory returns
	// itself.
	getExtendedDirectory() tileDirectory
	getStorageSize() int
	getCountOfPopulatedTiles() int
}

func newTileDirectory(s *FileSpec) tileDirectory {
	if s.ExtendedFileSizeEnabled {
		return &extendedTileDirectory{sparseRect: sparseRect{nColsOfTiles: s.ColsOfTiles, nRowsOfTiles: s.RowsOfTiles}}
	}
	return &compactTileDirectory{sparseRect: sparseRect{nColsOfTiles: s.ColsOfTiles, nRowsOfTiles: s.RowsOfTiles}}
}

// sparseRect is the bounding rectangle of populated tile slots,
// shared by both directory forms. The rectangle grows in place when a
// position outside it is set; reads outside it return zero.
type sparseRect struct {
	nRowsOfTiles int
	nColsOfTiles int
	row0, col0   int
	nRows, nCols int
}

func (r *sparseRect) contains(row, col int) bool {
	return row >= r.row0 && row < r.row0+r.nRows &&
		col >= r.col0 && col < r.col0+r.nCols
}

// growTo computes the expanded rectangle needed to include (row, col)
// and reports whether growth is required.
func (r *sparseRect) growTo(row, col int) (row0, col0, nRows, nCols int, grew bool) {
	row0, col0, nRows, nCols = r.row0, r.col0, r.nRows, r.nCols
	if nRows == 0 {
		return row, col, 1, 1, true
	}
	if r.contains(row, col) {
		return row0, col0, nRows, nCols, false
	}
	if row < row0 {
		nRows += row0 - row
		row0 = row
	} else if row >= row0+nRows {
		nRows = row - row0 + 1
	}
	if col < col0 {
		nCols += col0 - col
		col0 = col
	} else if col >= col0+nCols {
		nCols = col - col0 + 1
	}
	return row0, col0, nRows, nCols, true
}

func (r *sparseRect) checkIndex(tileIndex int) error {
	if tileIndex < 0 || tileIndex >= r.nRowsOfTiles*r.nColsOfTiles {
		return fmt.Errorf("%w: %d", ErrInvalidTileIndex, tileIndex)
	}
	return nil
}

// ------------------------------------------------------------ compact

type compactTileDirectory struct {
	sparseRect
	offsets []uint32 // fileOffset / 8, row-major within the rectangle
}

func (d *compactTileDirectory) usesExtendedFileOffset() bool { return false }

func (d *compactTileDirectory) getFilePosition(tileIndex int) int64 {
	row := tileIndex / d.nColsOfTiles
	col := tileIndex % d.nColsOfTiles
	if !d.contains(row, col) {
		return 0
	}
	word := d.offsets[(row-d.row0)*d.nCols+(col-d.col0)]
	return int64(word) * 8
}

func (d *compactTileDirectory) isFilePositionSet(tileIndex int) bool {
	return d.getFilePosition(tileIndex) != 0
}

func (d *compactTileDirectory) setFilePosition(tileIndex int, position int64) error {
	if err := d.checkIndex(tileIndex); err != nil {
		return err
	}
	if position < 0 || position >= maxCompactPosition {
		return fmt.Errorf("%w: position %d", ErrFilePositionExceedsCompactLimit, position)
	}
	if position%8 != 0 {
		return fmt.Errorf("gvrs: tile position %d is not a multiple of 8", position)
	}
	row := tileIndex / d.nColsOfTiles
	col := tileIndex % d.nColsOfTiles
	d.grow(row, col)
	d.offsets[(row-d.row0)*d.nCols+(col-d.col0)] = uint32(position / 8)
	return nil
}

func (d *compactTileDirectory) grow(row, col int) {
	row0, col0, nRows, nCols, grew := d.growTo(row, col)
	if !grew {
		return
	}
	next := make([]uint32, nRows*nCols)
	for r := 0; r < d.nRows; r++ {
		src := d.offsets[r*d.nCols : r*d.nCols+d.nCols]
		dst := next[(r+d.row0-row0)*nCols+(d.col0-col0):]
		copy(dst, src)
	}
	d.row0, d.col0, d.nRows, d.nCols = row0, col0, nRows, nCols
	d.offsets = next
}

func (d *compactTileDirectory) getStorageSize() int {
	return 16 + 4*d.nRows*d.nCols
}

func (d *compactTileDirectory) getCountOfPopulatedTiles() int {
	n := 0
	for _, w := range d.offsets {
		if w != 0 {
			n++
		}
	}
	return n
}

func (d *compactTileDirectory) writeTilePositions(b *braf.File) error {
	if err := writeRectPrefix(b, &d.sparseRect); err != nil {
		return err
	}
	for _, w := range d.offsets {
		if err := b.WriteUint32(w); err != nil {
			return err
		}
	}
	return nil
}

func (d *compactTileDirectory) readTilePositions(b *braf.File) error {
	if err := readRectPrefix(b, &d.sparseRect); err != nil {
		return err
	}
	d.offsets = make([]uint32, d.nRows*d.nCols)
	for i := range d.offsets {
		w, err := b.ReadUint32()
		if err != nil {
			return err
		}
		d.offsets[i] = w
	}
	return nil
}

func (d *compactTileDirectory) getExtendedDirectory() tileDirectory {
	e := &extendedTileDirectory{
		sparseRect: d.sparseRect,
		offsets:    make([]int64, len(d.offsets)),
	}
	for i, w := range d.offsets {
		e.offsets[i] = int64(w) * 8
	}
	return e
}

// ----------------------------------------------------------- extended

type extendedTileDirectory struct {
	sparseRect
	offsets []int64
}

func (d *extendedTileDirectory) usesExtendedFileOffset() bool { return true }

func (d *extendedTileDirectory) getFilePosition(tileIndex int) int64 {
	row := tileIndex / d.nColsOfTiles
	col := tileIndex % d.nColsOfTiles
	if !d.contains(row, col) {
		return 0
	}
	return d.offsets[(row-d.row0)*d.nCols+(col-d.col0)]
}

func (d *extendedTileDirectory) isFilePositionSet(tileIndex int) bool {
	return d.getFilePosition(tileIndex) != 0
}

func (d *extendedTileDirectory) setFilePosition(tileIndex int, position int64) error {
	if err := d.checkIndex(tileIndex); err != nil {
		return err
	}
	row := tileIndex / d.nColsOfTiles
	col := tileIndex % d.nColsOfTiles
	d.grow(row, col)
	d.offsets[(row-d.row0)*d.nCols+(col-d.col0)] = position
	return nil
}

func (d *extendedTileDirectory) grow(row, col int) {
	row0, col0, nRows, nCols, grew := d.growTo(row, col)
	if !grew {
		return
	}
	next := make([]int64, nRows*nCols)
	for r := 0; r < d.nRows; r++ {
		src := d.offsets[r*d.nCols : r*d.nCols+d.nCols]
		dst := next[(r+d.row0-row0)*nCols+(d.col0-col0):]
		copy(dst, src)
	}
	d.row0, d.col0, d.nRows, d.nCols = row0, col0, nRows, nCols
	d.offsets = next
}

func (d *extendedTileDirectory) getStorageSize() int {
	return 16 + 8*d.nRows*d.nCols
}

func (d *extendedTileDirectory) getCountOfPopulatedTiles() int {
	n := 0
	for _, w := range d.offsets {
		if w != 0 {
			n++
		}
	}
	return n
}

func (d *extendedTileDirectory) writeTilePositions(b *braf.File) error {
	if err := writeRectPrefix(b, &d.sparseRect); err != nil {
		return err
	}
	for _, w := range d.offsets {
		if err := b.WriteInt64(w); err != nil {
			return err
		}
	}
	return nil
}

func (d *extendedTileDirectory) readTilePositions(b *braf.File) error {
	if err := readRectPrefix(b, &d.sparseRect); err != nil {
		return err
	}
	d.offsets = make([]int64, d.nRows*d.nCols)
	for i := range d.offsets {
		w, err := b.ReadInt64()
		if err != nil {
			return err
		}
		d.offsets[i] = w
	}
	return nil
}

func (d *extendedTileDirectory) getExtendedDirectory() tileDirectory { return d }

func writeRectPrefix(b *braf.File, r *sparseRect) error {
	for _, v := range []int32{int32(r.row0), int32(r.col0), int32(r.nRows), int32(r.nCols)} {
		if err := b.WriteInt32(v); err != nil {
			return err
		}
	}
	return nil
}

func readRectPrefix(b *braf.File, r *sparseRect) error {
	for _, p := range []*int{&r.row0, &r.col0, &r.nRows, &r.nCols} {
		v, err := b.ReadInt32()
		if err != nil {
			return err
		}
		*p = int(v)
	}
	if r.nRows < 0 || r.nCols < 0 {
		return fmt.Errorf("gvrs: corrupt tile directory rectangle %d x %d", r.nRows, r.nCols)
	}
	return nil
}
