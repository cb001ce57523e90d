// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lanrat/extsort"

	"github.com/cartogrid/gvrs"
)

func buildTestSpec(t *testing.T) *gvrs.FileSpec {
	t.Helper()
	spec, err := gvrs.NewFileSpec(40, 40, 10, 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := spec.AddElement(gvrs.NewFloatElement("z", -1e6, 1e6, float32(math.NaN()))); err != nil {
		t.Fatal(err)
	}
	return spec
}

func TestParseSamples(t *testing.T) {
	spec := buildTestSpec(t)
	input := `# elevation samples
3 4 127.5

39 39 -12
0 0 7
`
	ch := make(chan extsort.SortType, 10)
	err := parseSamples(strings.NewReader(input), spec, ch, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var got []Sample
	for s := range ch {
		got = append(got, s.(Sample))
	}
	if len(got) != 3 {
		t.Fatalf("got %d samples, want 3", len(got))
	}
	if got[0].Row != 3 || got[0].Col != 4 || got[0].Value != 127.5 {
		t.Errorf("sample 0: got %+v", got[0])
	}
	if got[1].tileIndex != 15 { // tile (3, 3) in a 4 x 4 tiling
		t.Errorf("sample 1: tileIndex %d, want 15", got[1].tileIndex)
	}
}

func TestParseSamples_Errors(t *testing.T) {
	spec := buildTestSpec(t)
	for _, input := range []string{
		"1 2",            // too few fields
		"1 2 3 4",        // too many fields
		"x 2 3",          // bad row
		"1 2 zebra",      // bad value
		"99 0 1",         // outside raster
	} {
		ch := make(chan extsort.SortType, 10)
		err := parseSamples(strings.NewReader(input), spec, ch, context.Background())
		if err == nil {
			t.Errorf("input %q: want error, got nil", input)
		}
	}
}

func TestSampleLess_OrdersByTile(t *testing.T) {
	a := Sample{Row: 0, Col: 0, tileIndex: 0}
	b := Sample{Row: 0, Col: 10, tileIndex: 1}
	c := Sample{Row: 1, Col: 0, tileIndex: 0}
	if !sampleLess(a, b) || sampleLess(b, a) {
		t.Error("tile 0 should sort before tile 1")
	}
	if !sampleLess(a, c) {
		t.Error("within a tile, row 0 should sort before row 1")
	}
}

func TestSample_BytesRoundTrip(t *testing.T) {
	spec := buildTestSpec(t)
	want := Sample{Row: 17, Col: 23, Value: -42.25}
	got := sampleFromBytes(spec)(want.ToBytes()).(Sample)
	if got.Row != want.Row || got.Col != want.Col || got.Value != want.Value {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.tileIndex != 6 { // tile (1, 2) in a 4 x 4 tiling
		t.Errorf("tileIndex %d, want 6", got.tileIndex)
	}
}

func TestBuild_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "samples.txt")
	content := "0 0 1.5\n25 31 250.25\n39 0 -3\n5 5 99\n"
	if err := os.WriteFile(input, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	spec := buildTestSpec(t)
	output := filepath.Join(dir, "out.gvrs")
	if err := build(context.Background(), input, output, spec, "z"); err != nil {
		t.Fatal(err)
	}

	f, err := gvrs.Open(output)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	z, _ := f.Element("z")
	for _, c := range []struct {
		row, col int
		want     float32
	}{{0, 0, 1.5}, {25, 31, 250.25}, {39, 0, -3}, {5, 5, 99}} {
		if got, err := z.ReadValue(c.row, c.col); err != nil || got != c.want {
			t.Errorf("(%d,%d): got %f, %v; want %f", c.row, c.col, got, err, c.want)
		}
	}
	// An unwritten cell reads as the NaN fill.
	if got, _ := z.ReadValue(10, 10); !math.IsNaN(float64(got)) {
		t.Errorf("unwritten cell: got %f, want NaN", got)
	}
}

func TestOpenInput_PlainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samples.txt")
	if err := os.WriteFile(path, []byte("1 2 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	r, err := openInput(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	buf := make([]byte, 6)
	if _, err := r.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "1 2 3\n" {
		t.Errorf("got %q", buf)
	}
}
