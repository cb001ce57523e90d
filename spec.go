// SPDX-License-Identifier: MIT

package gvrs

import (
	"fmt"
	"math"

	"github.com/cartogrid/gvrs/braf"
	"github.com/cartogrid/gvrs/codec"
)

// CoordinateSystem identifies how the model coordinates of a raster
// are to be interpreted.
type CoordinateSystem uint8

const (
	CoordinateSystemUnspecified CoordinateSystem = 0
	CoordinateSystemCartesian   CoordinateSystem = 1
	CoordinateSystemGeographic  CoordinateSystem = 2
)

// Geometry tells whether a grid cell represents an area or a sample
// point.
type Geometry uint8

const (
	GeometryUnspecified Geometry = 0
	GeometryArea        Geometry = 1
	GeometryPoint       Geometry = 2
)

// AffineTransform holds the six coefficients of a 2D affine map:
// x' = A*x + B*y + C, y' = D*x + E*y + F. The model-to-raster and
// raster-to-model directions are persisted redundantly so that a file
// round-trips bit-identically.
type AffineTransform struct {
	A, B, C, D, E, F float64
}

// IdentityTransform is the affine transform that maps every point to
// itself.
var IdentityTransform = AffineTransform{A: 1, E: 1}

// Apply maps the point (x, y) through the transform.
func (t AffineTransform) Apply(x, y float64) (float64, float64) {
	return t.A*x + t.B*y + t.C, t.D*x + t.E*y + t.F
}

// FileSpec is the immutable-after-creation description of a gvrs
// raster: grid and tile dimensions, element schemas, coordinate
// system, codec identifiers and feature flags.
type FileSpec struct {
	RowsInRaster int
	ColsInRaster int
	RowsInTile   int
	ColsInTile   int
	RowsOfTiles  int
	ColsOfTiles  int

	ChecksumEnabled         bool
	ExtendedFileSizeEnabled bool

	Geometry         Geometry
	CoordinateSystem CoordinateSystem
	X0, Y0, X1, Y1   float64
	ModelToRaster    AffineTransform
	RasterToModel    AffineTransform

	CodecIDs     []string
	Elements     []*ElementSpec
	ProductLabel string
}

// NewFileSpec starts a specification for a raster of the given grid
// dimensions, tiled in nRowsInTile x nColsInTile blocks.
func NewFileSpec(nRowsInRaster, nColsInRaster, nRowsInTile, nColsInTile int) (*FileSpec, error) {
	s := &FileSpec{
		RowsInRaster:  nRowsInRaster,
		ColsInRaster:  nColsInRaster,
		RowsInTile:    nRowsInTile,
		ColsInTile:    nColsInTile,
		ModelToRaster: IdentityTransform,
		RasterToModel: IdentityTransform,
	}
	if nRowsInRaster < 1 || nColsInRaster < 1 {
		return nil, fmt.Errorf("%w: raster of %d x %d cells", ErrInvalidSpecification, nRowsInRaster, nColsInRaster)
	}
	if nRowsInTile < 1 || nColsInTile < 1 || nRowsInTile > 1<<20 || nColsInTile > 1<<20 {
		return nil, fmt.Errorf("%w: tile of %d x %d cells", ErrInvalidSpecification, nRowsInTile, nColsInTile)
	}
	s.RowsOfTiles = (nRowsInRaster + nRowsInTile - 1) / nRowsInTile
	s.ColsOfTiles = (nColsInRaster + nColsInTile - 1) / nColsInTile
	if int64(s.RowsOfTiles)*int64(s.ColsOfTiles) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d x %d tiles exceeds the 31-bit tile index space",
			ErrInvalidSpecification, s.RowsOfTiles, s.ColsOfTiles)
	}
	return s, nil
}

// AddElement appends an element schema; the order of calls is the
// tuple order of the cells.
func (s *FileSpec) AddElement(e *ElementSpec) error {
	if err := e.validate(); err != nil {
		return err
	}
	for _, other := range s.Elements {
		if other.Name == e.Name {
			return fmt.Errorf("%w: duplicate element name %q", ErrInvalidSpecification, e.Name)
		}
	}
	s.Elements = append(s.Elements, e)
	return nil
}

// EnableCompression installs the default codec list (GvrsHuffman,
// GvrsDeflate, GvrsFloat) so that tiles are stored compressed when
// compression wins.
func (s *FileSpec) EnableCompression() {
	s.CodecIDs = []string{codec.HuffmanID, codec.DeflateID, codec.FloatID}
}

// SetCodecs replaces the codec identifier list.
func (s *FileSpec) SetCodecs(ids []string) error {
	if len(ids) > 255 {
		return fmt.Errorf("%w: %d codecs exceed the one-byte index space", ErrInvalidSpecification, len(ids))
	}
	s.CodecIDs = append([]string(nil), ids...)
	return nil
}

// CompressionEnabled reports whether the file stores compressed tiles.
func (s *FileSpec) CompressionEnabled() bool { return len(s.CodecIDs) > 0 }

// SetCartesianCoordinates binds the raster to a Cartesian model
// domain with corners (x0, y0) and (x1, y1) and derives the affine
// transforms between model and raster coordinates.
func (s *FileSpec) SetCartesianCoordinates(x0, y0, x1, y1 float64) {
	s.CoordinateSystem = CoordinateSystemCartesian
	s.setDomain(x0, y0, x1, y1)
}

// SetGeographicCoordinates binds the raster to a geographic domain;
// x is longitude and y is latitude, in degrees.
func (s *FileSpec) SetGeographicCoordinates(lon0, lat0, lon1, lat1 float64) {
	s.CoordinateSystem = CoordinateSystemGeographic
	// An east longitude at or west of the west longitude is taken to
	// cross the antimeridian and is shifted by 360 degrees.
	if lon1 <= lon0 {
		lon1 += 360
	}
	s.setDomain(lon0, lat0, lon1, lat1)
}

func (s *FileSpec) setDomain(x0, y0, x1, y1 float64) {
	s.X0, s.Y0, s.X1, s.Y1 = x0, y0, x1, y1
	colScale := (x1 - x0) / float64(s.ColsInRaster-1)
	rowScale := (y1 - y0) / float64(s.RowsInRaster-1)
	if s.ColsInRaster == 1 {
		colScale = 1
	}
	if s.RowsInRaster == 1 {
		rowScale = 1
	}
	s.RasterToModel = AffineTransform{A: colScale, C: x0, E: rowScale, F: y0}
	s.ModelToRaster = AffineTransform{A: 1 / colScale, C: -x0 / colScale, E: 1 / rowScale, F: -y0 / rowScale}
}

// MapGridToModel converts a (row, col) grid position to model
// coordinates.
func (s *FileSpec) MapGridToModel(row, col float64) (x, y float64) {
	return s.RasterToModel.Apply(col, row)
}

// MapModelToGrid converts model coordinates to a fractional grid
// (row, col) position.
func (s *FileSpec) MapModelToGrid(x, y float64) (row, col float64) {
	c, r := s.ModelToRaster.Apply(x, y)
	return r, c
}

func (s *FileSpec) validate() error {
	if len(s.Elements) == 0 {
		return fmt.Errorf("%w: no elements declared", ErrInvalidSpecification)
	}
	for _, e := range s.Elements {
		if err := e.validate(); err != nil {
			return err
		}
	}
	for _, id := range s.CodecIDs {
		if !isIdentifier(id, 16) {
			return fmt.Errorf("%w: bad codec identification %q", ErrInvalidSpecification, id)
		}
	}
	return nil
}

// standardTileSizeInBytes sums the standard serialized size of all
// elements for one tile. Each element is padded to a 4-byte multiple
// so that short-typed elements keep later elements aligned.
func (s *FileSpec) standardTileSizeInBytes() int {
	nCells := s.RowsInTile * s.ColsInTile
	size := 0
	for _, e := range s.Elements {
		size += (nCells*e.Type.bytesPerSample() + 3) / 4 * 4
	}
	return size
}

// writePayload serializes the specification in the file-header form.
func (s *FileSpec) writePayload(b *braf.File) error {
	for _, v := range []int32{
		int32(s.RowsInRaster), int32(s.ColsInRaster),
		int32(s.RowsInTile), int32(s.ColsInTile),
	} {
		if err := b.WriteInt32(v); err != nil {
			return err
		}
	}
	if err := b.WriteZeroes(20); err != nil {
		return err
	}
	if err := b.WriteByte(boolByte(s.ExtendedFileSizeEnabled)); err != nil {
		return err
	}
	if err := b.WriteByte(boolByte(s.ChecksumEnabled)); err != nil {
		return err
	}
	if err := b.WriteByte(byte(s.Geometry)); err != nil {
		return err
	}
	if err := b.WriteByte(byte(s.CoordinateSystem)); err != nil {
		return err
	}
	for _, v := range []float64{s.X0, s.Y0, s.X1, s.Y1} {
		if err := b.WriteFloat64(v); err != nil {
			return err
		}
	}
	for _, t := range []AffineTransform{s.ModelToRaster, s.RasterToModel} {
		for _, v := range []float64{t.A, t.B, t.C, t.D, t.E, t.F} {
			if err := b.WriteFloat64(v); err != nil {
				return err
			}
		}
	}
	if err := b.WriteInt32(int32(len(s.CodecIDs))); err != nil {
		return err
	}
	for _, id := range s.CodecIDs {
		if err := b.WriteUTF(id); err != nil {
			return err
		}
	}
	if err := b.WriteInt32(int32(len(s.Elements))); err != nil {
		return err
	}
	for _, e := range s.Elements {
		if err := writeElementSpec(b, e); err != nil {
			return err
		}
	}
	return b.WriteUTF(s.ProductLabel)
}

func writeElementSpec(b *braf.File, e *ElementSpec) error {
	for _, v := range []byte{
		byte(e.Type),
		boolByte(e.Description != ""),
		boolByte(e.UnitOfMeasure != ""),
		boolByte(e.Label != ""),
		boolByte(e.Continuous),
	} {
		if err := b.WriteByte(v); err != nil {
			return err
		}
	}
	if err := b.WriteZeroes(7); err != nil {
		return err
	}
	if err := b.WriteUTF(e.Name); err != nil {
		return err
	}
	switch e.Type {
	case ElementTypeShort:
		for _, v := range []int32{e.MinValueInt, e.MaxValueInt, e.FillValueInt} {
			if err := b.WriteInt16(int16(v)); err != nil {
				return err
			}
		}
	case ElementTypeInt:
		for _, v := range []int32{e.MinValueInt, e.MaxValueInt, e.FillValueInt} {
			if err := b.WriteInt32(v); err != nil {
				return err
			}
		}
	case ElementTypeFloat:
		for _, v := range []float32{e.MinValue, e.MaxValue, e.FillValue} {
			if err := b.WriteFloat32(v); err != nil {
				return err
			}
		}
	case ElementTypeIntCodedFloat:
		for _, v := range []float32{e.MinValue, e.MaxValue, e.FillValue} {
			if err := b.WriteFloat32(v); err != nil {
				return err
			}
		}
		for _, v := range []int32{e.MinValueInt, e.MaxValueInt, e.FillValueInt} {
			if err := b.WriteInt32(v); err != nil {
				return err
			}
		}
		if err := b.WriteFloat32(e.Scale); err != nil {
			return err
		}
		if err := b.WriteFloat32(e.Offset); err != nil {
			return err
		}
	}
	if e.Description != "" {
		if err := b.WriteUTF(e.Description); err != nil {
			return err
		}
	}
	if e.UnitOfMeasure != "" {
		if err := b.WriteUTF(e.UnitOfMeasure); err != nil {
			return err
		}
	}
	if e.Label != "" {
		if err := b.WriteUTF(e.Label); err != nil {
			return err
		}
	}
	return nil
}

// readFileSpec is the inverse of writePayload.
func readFileSpec(b *braf.File) (*FileSpec, error) {
	var dims [4]int32
	for i := range dims {
		v, err := b.ReadInt32()
		if err != nil {
			return nil, err
		}
		dims[i] = v
	}
	s, err := NewFileSpec(int(dims[0]), int(dims[1]), int(dims[2]), int(dims[3]))
	if err != nil {
		return nil, err
	}
	reserved := make([]byte, 20)
	if err := b.ReadFully(reserved); err != nil {
		return nil, err
	}
	flags := make([]byte, 4)
	if err := b.ReadFully(flags); err != nil {
		return nil, err
	}
	s.ExtendedFileSizeEnabled = flags[0] != 0
	s.ChecksumEnabled = flags[1] != 0
	s.Geometry = Geometry(flags[2])
	s.CoordinateSystem = CoordinateSystem(flags[3])
	for _, p := range []*float64{&s.X0, &s.Y0, &s.X1, &s.Y1} {
		if *p, err = b.ReadFloat64(); err != nil {
			return nil, err
		}
	}
	for _, t := range []*AffineTransform{&s.ModelToRaster, &s.RasterToModel} {
		for _, p := range []*float64{&t.A, &t.B, &t.C, &t.D, &t.E, &t.F} {
			if *p, err = b.ReadFloat64(); err != nil {
				return nil, err
			}
		}
	}
	nCodecs, err := b.ReadInt32()
	if err != nil {
		return nil, err
	}
	if nCodecs < 0 || nCodecs > 255 {
		return nil, fmt.Errorf("%w: codec count %d", ErrInvalidSpecification, nCodecs)
	}
	for i := int32(0); i < nCodecs; i++ {
		id, err := b.ReadUTF()
		if err != nil {
			return nil, err
		}
		s.CodecIDs = append(s.CodecIDs, id)
	}
	nElements, err := b.ReadInt32()
	if err != nil {
		return nil, err
	}
	if nElements < 0 {
		return nil, fmt.Errorf("%w: element count %d", ErrInvalidSpecification, nElements)
	}
	for i := int32(0); i < nElements; i++ {
		e, err := readElementSpec(b)
		if err != nil {
			return nil, err
		}
		s.Elements = append(s.Elements, e)
	}
	if s.ProductLabel, err = b.ReadUTF(); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func readElementSpec(b *braf.File) (*ElementSpec, error) {
	header := make([]byte, 12)
	if err := b.ReadFully(header); err != nil {
		return nil, err
	}
	e := &ElementSpec{
		Type:       ElementType(header[0]),
		Continuous: header[4] != 0,
	}
	hasDescription := header[1] != 0
	hasUom := header[2] != 0
	hasLabel := header[3] != 0
	var err error
	if e.Name, err = b.ReadUTF(); err != nil {
		return nil, err
	}
	switch e.Type {
	case ElementTypeShort:
		for _, p := range []*int32{&e.MinValueInt, &e.MaxValueInt, &e.FillValueInt} {
			v, err := b.ReadInt16()
			if err != nil {
				return nil, err
			}
			*p = int32(v)
		}
	case ElementTypeInt:
		for _, p := range []*int32{&e.MinValueInt, &e.MaxValueInt, &e.FillValueInt} {
			if *p, err = b.ReadInt32(); err != nil {
				return nil, err
			}
		}
	case ElementTypeFloat:
		for _, p := range []*float32{&e.MinValue, &e.MaxValue, &e.FillValue} {
			if *p, err = b.ReadFloat32(); err != nil {
				return nil, err
			}
		}
	case ElementTypeIntCodedFloat:
		for _, p := range []*float32{&e.MinValue, &e.MaxValue, &e.FillValue} {
			if *p, err = b.ReadFloat32(); err != nil {
				return nil, err
			}
		}
		for _, p := range []*int32{&e.MinValueInt, &e.MaxValueInt, &e.FillValueInt} {
			if *p, err = b.ReadInt32(); err != nil {
				return nil, err
			}
		}
		if e.Scale, err = b.ReadFloat32(); err != nil {
			return nil, err
		}
		if e.Offset, err = b.ReadFloat32(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: element type %d", ErrInvalidSpecification, header[0])
	}
	if hasDescription {
		if e.Description, err = b.ReadUTF(); err != nil {
			return nil, err
		}
	}
	if hasUom {
		if e.UnitOfMeasure, err = b.ReadUTF(); err != nil {
			return nil, err
		}
	}
	if hasLabel {
		if e.Label, err = b.ReadUTF(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
