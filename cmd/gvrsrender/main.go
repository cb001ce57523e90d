// SPDX-License-Identifier: MIT

// Command gvrsrender paints one element of a gvrs raster store into
// a PNG image, mapping the value range onto a simple blue-to-red
// ramp. Cells holding the fill value come out white.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/fogleman/gg"

	"github.com/cartogrid/gvrs"
)

func main() {
	element := flag.String("element", "", "element to render; default is the first one")
	out := flag.String("out", "raster.png", "path to output file being written")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: gvrsrender [-element name] [-out raster.png] file.gvrs\n")
		os.Exit(2)
	}

	f, err := gvrs.Open(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	e := f.Elements()[0]
	if *element != "" {
		var ok bool
		if e, ok = f.Element(*element); !ok {
			log.Fatalf("no element named %q", *element)
		}
	}

	if err := render(f, e, *out); err != nil {
		log.Fatal(err)
	}
}

func render(f *gvrs.File, e *gvrs.Element, outPath string) error {
	spec := f.Spec()
	nRows, nCols := spec.RowsInRaster, spec.ColsInRaster

	// Fill cells read as NaN (short elements, NaN fills) or as the
	// element's own fill value; both are left out of range and color.
	es := e.Spec()
	fill := float32(math.NaN())
	switch es.Type {
	case gvrs.ElementTypeInt:
		fill = float32(es.FillValueInt)
	case gvrs.ElementTypeFloat, gvrs.ElementTypeIntCodedFloat:
		fill = es.FillValue
	}
	isFill := func(v float32) bool {
		return math.IsNaN(float64(v)) || v == fill
	}

	// First pass over the data finds the actual value range; the
	// declared range is often far wider than the content.
	lo := math.Inf(1)
	hi := math.Inf(-1)
	for row := 0; row < nRows; row++ {
		block, err := e.ReadBlock(row, 0, 1, nCols)
		if err != nil {
			return err
		}
		for _, v := range block {
			if isFill(v) {
				continue
			}
			if float64(v) < lo {
				lo = float64(v)
			}
			if float64(v) > hi {
				hi = float64(v)
			}
		}
	}
	if lo > hi {
		return fmt.Errorf("no valid data to render")
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	dc := gg.NewContext(nCols, nRows)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	for row := 0; row < nRows; row++ {
		block, err := e.ReadBlock(row, 0, 1, nCols)
		if err != nil {
			return err
		}
		for col, v := range block {
			if isFill(v) {
				continue
			}
			t := (float64(v) - lo) / span
			dc.SetRGB(t, 0.2, 1-t)
			dc.SetPixel(col, row)
		}
	}
	return dc.SavePNG(outPath)
}
