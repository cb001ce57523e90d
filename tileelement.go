// SPDX-License-Identifier: MIT

package gvrs

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cartogrid/gvrs/braf"
	"github.com/cartogrid/gvrs/codec"
)

// tileElement is the in-memory buffer of one element within one tile:
// nRowsInTile*nColsInTile typed cells plus the range and fill metadata
// of the element spec.
type tileElement interface {
	spec() *ElementSpec

	// standardSize is the serialized size in standard (uncompressed)
	// format, padded to a 4-byte multiple.
	standardSize() int
	standardBytes() []byte
	writeStandard(b *braf.File) error
	readStandard(b *braf.File) error

	// encode returns the shortest of the codec packings and the
	// standard form; nil means the standard form won.
	encode(m *codec.Master) []byte
	decode(m *codec.Master, packing []byte) error

	setInt(index int, v int32) error
	setFloat(index int, v float32) error
	getInt(index int) int32
	getFloat(index int) float32

	hasFillValues() bool
	hasValidData() bool
	setToNullState()
}

func newTileElement(s *FileSpec, e *ElementSpec) tileElement {
	nCells := s.RowsInTile * s.ColsInTile
	nRows, nCols := s.RowsInTile, s.ColsInTile
	switch e.Type {
	case ElementTypeShort:
		t := &shortElement{e: e, nRows: nRows, nCols: nCols, values: make([]int16, nCells)}
		t.setToNullState()
		return t
	case ElementTypeFloat:
		t := &floatElement{e: e, nRows: nRows, nCols: nCols, values: make([]float32, nCells)}
		t.setToNullState()
		return t
	case ElementTypeIntCodedFloat:
		t := &icfElement{e: e, nRows: nRows, nCols: nCols, values: make([]int32, nCells)}
		t.setToNullState()
		return t
	default:
		t := &intElement{e: e, nRows: nRows, nCols: nCols, values: make([]int32, nCells)}
		t.setToNullState()
		return t
	}
}

// ---------------------------------------------------------------- int

type intElement struct {
	e            *ElementSpec
	nRows, nCols int
	values       []int32
}

func (t *intElement) spec() *ElementSpec { return t.e }
func (t *intElement) standardSize() int  { return len(t.values) * 4 }

func (t *intElement) standardBytes() []byte {
	b := make([]byte, t.standardSize())
	for i, v := range t.values {
		binary.LittleEndian.PutUint32(b[i*4:], uint32(v))
	}
	return b
}

func (t *intElement) writeStandard(b *braf.File) error { return b.WriteInt32Array(t.values) }
func (t *intElement) readStandard(b *braf.File) error  { return b.ReadInt32Array(t.values) }

func (t *intElement) encode(m *codec.Master) []byte {
	packing := m.CompressInts(t.nRows, t.nCols, t.values)
	if packing != nil && len(packing) < t.standardSize() {
		return packing
	}
	return nil
}

func (t *intElement) decode(m *codec.Master, packing []byte) error {
	values, err := m.DecompressInts(t.nRows, t.nCols, packing)
	if err != nil {
		return err
	}
	copy(t.values, values)
	return nil
}

func (t *intElement) setInt(index int, v int32) error {
	if v != t.e.FillValueInt && (v < t.e.MinValueInt || v > t.e.MaxValueInt) {
		return fmt.Errorf("%w: %d for element %s", ErrValueOutOfRange, v, t.e.Name)
	}
	t.values[index] = v
	return nil
}

func (t *intElement) setFloat(index int, v float32) error {
	if math.IsNaN(float64(v)) {
		return fmt.Errorf("%w: NaN for integer element %s", ErrValueOutOfRange, t.e.Name)
	}
	return t.setInt(index, int32(math.Floor(float64(v)+0.5)))
}

func (t *intElement) getInt(index int) int32 { return t.values[index] }

// Integer cells read back directly as floats; the fill value is not
// remapped to NaN.
func (t *intElement) getFloat(index int) float32 { return float32(t.values[index]) }

func (t *intElement) hasFillValues() bool {
	for _, v := range t.values {
		if v == t.e.FillValueInt {
			return true
		}
	}
	return false
}

func (t *intElement) hasValidData() bool {
	for _, v := range t.values {
		if v != t.e.FillValueInt {
			return true
		}
	}
	return false
}

func (t *intElement) setToNullState() {
	for i := range t.values {
		t.values[i] = t.e.FillValueInt
	}
}

// -------------------------------------------------------------- short

type shortElement struct {
	e            *ElementSpec
	nRows, nCols int
	values       []int16
}

func (t *shortElement) spec() *ElementSpec { return t.e }

func (t *shortElement) standardSize() int {
	return (len(t.values)*2 + 3) / 4 * 4
}

func (t *shortElement) standardBytes() []byte {
	b := make([]byte, t.standardSize())
	for i, v := range t.values {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

func (t *shortElement) writeStandard(b *braf.File) error {
	if err := b.WriteInt16Array(t.values); err != nil {
		return err
	}
	if pad := t.standardSize() - len(t.values)*2; pad > 0 {
		return b.WriteZeroes(int64(pad))
	}
	return nil
}

func (t *shortElement) readStandard(b *braf.File) error {
	if err := b.ReadInt16Array(t.values); err != nil {
		return err
	}
	if pad := t.standardSize() - len(t.values)*2; pad > 0 {
		skip := make([]byte, pad)
		return b.ReadFully(skip)
	}
	return nil
}

func (t *shortElement) encode(m *codec.Master) []byte {
	wide := make([]int32, len(t.values))
	for i, v := range t.values {
		wide[i] = int32(v)
	}
	packing := m.CompressInts(t.nRows, t.nCols, wide)
	if packing != nil && len(packing) < t.standardSize() {
		return packing
	}
	return nil
}

func (t *shortElement) decode(m *codec.Master, packing []byte) error {
	values, err := m.DecompressInts(t.nRows, t.nCols, packing)
	if err != nil {
		return err
	}
	for i, v := range values {
		t.values[i] = int16(v)
	}
	return nil
}

func (t *shortElement) setInt(index int, v int32) error {
	if v != t.e.FillValueInt && (v < t.e.MinValueInt || v > t.e.MaxValueInt) {
		return fmt.Errorf("%w: %d for element %s", ErrValueOutOfRange, v, t.e.Name)
	}
	t.values[index] = int16(v)
	return nil
}

func (t *shortElement) setFloat(index int, v float32) error {
	if math.IsNaN(float64(v)) {
		return fmt.Errorf("%w: NaN for short element %s", ErrValueOutOfRange, t.e.Name)
	}
	return t.setInt(index, int32(math.Floor(float64(v)+0.5)))
}

func (t *shortElement) getInt(index int) int32 { return int32(t.values[index]) }

// The short fill value reads back as NaN on the floating-point
// access path.
func (t *shortElement) getFloat(index int) float32 {
	v := t.values[index]
	if int32(v) == t.e.FillValueInt {
		return float32(math.NaN())
	}
	return float32(v)
}

func (t *shortElement) hasFillValues() bool {
	for _, v := range t.values {
		if int32(v) == t.e.FillValueInt {
			return true
		}
	}
	return false
}

func (t *shortElement) hasValidData() bool {
	for _, v := range t.values {
		if int32(v) != t.e.FillValueInt {
			return true
		}
	}
	return false
}

func (t *shortElement) setToNullState() {
	for i := range t.values {
		t.values[i] = int16(t.e.FillValueInt)
	}
}

// -------------------------------------------------------------- float

type floatElement struct {
	e            *ElementSpec
	nRows, nCols int
	values       []float32
}

func (t *floatElement) spec() *ElementSpec { return t.e }
func (t *floatElement) standardSize() int  { return len(t.values) * 4 }

func (t *floatElement) standardBytes() []byte {
	b := make([]byte, t.standardSize())
	for i, v := range t.values {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func (t *floatElement) writeStandard(b *braf.File) error { return b.WriteFloat32Array(t.values) }
func (t *floatElement) readStandard(b *braf.File) error  { return b.ReadFloat32Array(t.values) }

func (t *floatElement) encode(m *codec.Master) []byte {
	packing := m.CompressFloats(t.nRows, t.nCols, t.values)
	if packing != nil && len(packing) < t.standardSize() {
		return packing
	}
	return nil
}

func (t *floatElement) decode(m *codec.Master, packing []byte) error {
	values, err := m.DecompressFloats(t.nRows, t.nCols, packing)
	if err != nil {
		return err
	}
	copy(t.values, values)
	return nil
}

func (t *floatElement) setInt(index int, v int32) error {
	return t.setFloat(index, float32(v))
}

func (t *floatElement) isFill(v float32) bool {
	if math.IsNaN(float64(t.e.FillValue)) {
		return math.IsNaN(float64(v))
	}
	return v == t.e.FillValue
}

func (t *floatElement) setFloat(index int, v float32) error {
	if math.IsNaN(float64(v)) {
		if !math.IsNaN(float64(t.e.FillValue)) {
			return fmt.Errorf("%w: NaN for element %s whose fill value is not NaN",
				ErrValueOutOfRange, t.e.Name)
		}
		t.values[index] = v
		return nil
	}
	if !t.isFill(v) && (v < t.e.MinValue || v > t.e.MaxValue) {
		return fmt.Errorf("%w: %f for element %s", ErrValueOutOfRange, v, t.e.Name)
	}
	t.values[index] = v
	return nil
}

func (t *floatElement) getInt(index int) int32 {
	v := t.values[index]
	if math.IsNaN(float64(v)) {
		return math.MinInt32
	}
	return int32(math.Floor(float64(v) + 0.5))
}

func (t *floatElement) getFloat(index int) float32 { return t.values[index] }

func (t *floatElement) hasFillValues() bool {
	for _, v := range t.values {
		if t.isFill(v) {
			return true
		}
	}
	return false
}

func (t *floatElement) hasValidData() bool {
	for _, v := range t.values {
		if !t.isFill(v) {
			return true
		}
	}
	return false
}

func (t *floatElement) setToNullState() {
	for i := range t.values {
		t.values[i] = t.e.FillValue
	}
}

// ------------------------------------------------- integer-coded float

type icfElement struct {
	e            *ElementSpec
	nRows, nCols int
	values       []int32
}

func (t *icfElement) spec() *ElementSpec { return t.e }
func (t *icfElement) standardSize() int  { return len(t.values) * 4 }

func (t *icfElement) standardBytes() []byte {
	b := make([]byte, t.standardSize())
	for i, v := range t.values {
		binary.LittleEndian.PutUint32(b[i*4:], uint32(v))
	}
	return b
}

func (t *icfElement) writeStandard(b *braf.File) error { return b.WriteInt32Array(t.values) }
func (t *icfElement) readStandard(b *braf.File) error  { return b.ReadInt32Array(t.values) }

func (t *icfElement) encode(m *codec.Master) []byte {
	packing := m.CompressInts(t.nRows, t.nCols, t.values)
	if packing != nil && len(packing) < t.standardSize() {
		return packing
	}
	return nil
}

func (t *icfElement) decode(m *codec.Master, packing []byte) error {
	values, err := m.DecompressInts(t.nRows, t.nCols, packing)
	if err != nil {
		return err
	}
	copy(t.values, values)
	return nil
}

func (t *icfElement) setInt(index int, v int32) error {
	if v != t.e.FillValueInt && (v < t.e.MinValueInt || v > t.e.MaxValueInt) {
		return fmt.Errorf("%w: %d for element %s", ErrValueOutOfRange, v, t.e.Name)
	}
	t.values[index] = v
	return nil
}

func (t *icfElement) setFloat(index int, v float32) error {
	if math.IsNaN(float64(v)) {
		if !math.IsNaN(float64(t.e.FillValue)) {
			return fmt.Errorf("%w: NaN for element %s whose fill value is not NaN",
				ErrValueOutOfRange, t.e.Name)
		}
		t.values[index] = t.e.FillValueInt
		return nil
	}
	if v < t.e.MinValue || v > t.e.MaxValue {
		if !(v == t.e.FillValue) {
			return fmt.Errorf("%w: %f for element %s", ErrValueOutOfRange, v, t.e.Name)
		}
	}
	t.values[index] = t.e.mapFloatToInt(v)
	return nil
}

func (t *icfElement) getInt(index int) int32     { return t.values[index] }
func (t *icfElement) getFloat(index int) float32 { return t.e.mapIntToFloat(t.values[index]) }

func (t *icfElement) hasFillValues() bool {
	for _, v := range t.values {
		if v == t.e.FillValueInt {
			return true
		}
	}
	return false
}

func (t *icfElement) hasValidData() bool {
	for _, v := range t.values {
		if v != t.e.FillValueInt {
			return true
		}
	}
	return false
}

func (t *icfElement) setToNullState() {
	for i := range t.values {
		t.values[i] = t.e.FillValueInt
	}
}
