// SPDX-License-Identifier: MIT

package gvrs

import (
	"errors"
	"math"
	"testing"
)

func TestNewFileSpec_Validation(t *testing.T) {
	if _, err := NewFileSpec(0, 100, 10, 10); !errors.Is(err, ErrInvalidSpecification) {
		t.Errorf("zero rows: got %v, want ErrInvalidSpecification", err)
	}
	if _, err := NewFileSpec(100, 100, 0, 10); !errors.Is(err, ErrInvalidSpecification) {
		t.Errorf("zero tile rows: got %v, want ErrInvalidSpecification", err)
	}
	// 2^16 x 2^16 tiles of one cell each would need 2^32 tile
	// indexes, beyond the 31-bit limit.
	if _, err := NewFileSpec(1<<16, 1<<16, 1, 1); !errors.Is(err, ErrInvalidSpecification) {
		t.Errorf("tile index overflow: got %v, want ErrInvalidSpecification", err)
	}

	s, err := NewFileSpec(100, 90, 8, 16)
	if err != nil {
		t.Fatal(err)
	}
	// Partial last row and column of tiles round up.
	if s.RowsOfTiles != 13 || s.ColsOfTiles != 6 {
		t.Errorf("got %d x %d tiles, want 13 x 6", s.RowsOfTiles, s.ColsOfTiles)
	}
}

func TestAddElement_Validation(t *testing.T) {
	s, err := NewFileSpec(10, 10, 5, 5)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddElement(NewIntElement("z", -10, 10, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddElement(NewIntElement("z", 0, 1, 0)); !errors.Is(err, ErrInvalidSpecification) {
		t.Errorf("duplicate name: got %v, want ErrInvalidSpecification", err)
	}
	for _, name := range []string{"", "9lives", "has space", "way_past_the_thirty_two_char_limit"} {
		if err := s.AddElement(NewIntElement(name, 0, 1, 0)); !errors.Is(err, ErrInvalidSpecification) {
			t.Errorf("name %q: got %v, want ErrInvalidSpecification", name, err)
		}
	}
	if err := s.AddElement(NewIntElement("min_gt_max", 10, -10, 0)); !errors.Is(err, ErrInvalidSpecification) {
		t.Errorf("min > max: got %v, want ErrInvalidSpecification", err)
	}
	if err := s.AddElement(NewIntCodedFloatElement("badscale", 0, 1, 0, 0, 0)); !errors.Is(err, ErrInvalidSpecification) {
		t.Errorf("zero scale: got %v, want ErrInvalidSpecification", err)
	}
}

func TestStandardTileSize_ShortPadding(t *testing.T) {
	// A 3x3 tile of shorts holds 18 payload bytes, padded to 20 so
	// that a following element stays 4-byte aligned.
	s, err := NewFileSpec(9, 9, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddElement(NewShortElement("a", -10, 10, -1)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddElement(NewIntElement("b", -10, 10, -1)); err != nil {
		t.Fatal(err)
	}
	if got, want := s.standardTileSizeInBytes(), 20+36; got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

func TestGeographicCoordinates_WrapsLongitude(t *testing.T) {
	s, err := NewFileSpec(180, 360, 90, 90)
	if err != nil {
		t.Fatal(err)
	}
	s.SetGeographicCoordinates(170, -90, -170, 90)
	if s.X1 <= s.X0 {
		t.Errorf("wrapped domain: x1 %f should exceed x0 %f", s.X1, s.X0)
	}
	if s.X1-s.X0 != 20 {
		t.Errorf("got span %f, want 20", s.X1-s.X0)
	}
}

func TestAffineTransforms_InverseOfEachOther(t *testing.T) {
	s, err := NewFileSpec(200, 300, 50, 50)
	if err != nil {
		t.Fatal(err)
	}
	s.SetCartesianCoordinates(1000, 5000, 4000, 9000)
	for _, p := range [][2]float64{{0, 0}, {100, 150}, {199, 299}} {
		x, y := s.MapGridToModel(p[0], p[1])
		row, col := s.MapModelToGrid(x, y)
		if math.Abs(row-p[0]) > 1e-9 || math.Abs(col-p[1]) > 1e-9 {
			t.Errorf("grid (%f, %f) -> model (%f, %f) -> grid (%f, %f)",
				p[0], p[1], x, y, row, col)
		}
	}
	// Model corners map to the grid corners.
	row, col := s.MapModelToGrid(1000, 5000)
	if math.Abs(row) > 1e-9 || math.Abs(col) > 1e-9 {
		t.Errorf("corner maps to (%f, %f), want (0, 0)", row, col)
	}
}

func TestMetadataName_Validation(t *testing.T) {
	for _, name := range []string{"Author", "a", "Z_9"} {
		if _, err := NewMetadata(name, MetadataString); err != nil {
			t.Errorf("name %q: unexpected error %v", name, err)
		}
	}
	for _, name := range []string{"", "_lead", "7start", "white space", "this_name_is_a_lot_longer_than_32_chars"} {
		if _, err := NewMetadata(name, MetadataString); !errors.Is(err, ErrInvalidMetadataName) {
			t.Errorf("name %q: got no error, want ErrInvalidMetadataName", name)
		}
	}
}

func TestMetadata_TypedContent(t *testing.T) {
	m, err := NewMetadata("ints", MetadataInteger)
	if err != nil {
		t.Fatal(err)
	}
	m.SetInts([]int32{1, -2, 1 << 30})
	got := m.GetInts()
	if len(got) != 3 || got[0] != 1 || got[1] != -2 || got[2] != 1<<30 {
		t.Errorf("GetInts: got %v", got)
	}

	d, err := NewMetadata("doubles", MetadataDouble)
	if err != nil {
		t.Fatal(err)
	}
	d.SetDoubles([]float64{0.5, -1e300})
	gotd := d.GetDoubles()
	if len(gotd) != 2 || gotd[0] != 0.5 || gotd[1] != -1e300 {
		t.Errorf("GetDoubles: got %v", gotd)
	}

	s, err := NewMetadata("text", MetadataASCII)
	if err != nil {
		t.Fatal(err)
	}
	s.SetString("hello gvrs")
	if got := s.GetString(); got != "hello gvrs" {
		t.Errorf("GetString: got %q", got)
	}
}
