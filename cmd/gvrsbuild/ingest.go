// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/lanrat/extsort"
	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"

	"github.com/cartogrid/gvrs"
)

// Sample is one input cell. Samples arrive in arbitrary order and are
// sorted by tile index before writing, so every tile is assembled and
// written exactly once.
type Sample struct {
	Row   int32
	Col   int32
	Value float32

	tileIndex int32
}

// ToBytes serializes a Sample for the external sorting library.
func (s Sample) ToBytes() []byte {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(s.Row))
	binary.LittleEndian.PutUint32(buf[4:], uint32(s.Col))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(s.Value))
	return buf[:]
}

func sampleFromBytes(spec *gvrs.FileSpec) func(b []byte) extsort.SortType {
	return func(b []byte) extsort.SortType {
		s := Sample{
			Row:   int32(binary.LittleEndian.Uint32(b[0:])),
			Col:   int32(binary.LittleEndian.Uint32(b[4:])),
			Value: math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
		}
		s.tileIndex = tileIndexOf(spec, s)
		return s
	}
}

func tileIndexOf(spec *gvrs.FileSpec, s Sample) int32 {
	return int32(int(s.Row)/spec.RowsInTile*spec.ColsOfTiles + int(s.Col)/spec.ColsInTile)
}

// sampleLess orders samples by tile, then row-major within the tile.
func sampleLess(a, b extsort.SortType) bool {
	aa := a.(Sample)
	bb := b.(Sample)
	if aa.tileIndex != bb.tileIndex {
		return aa.tileIndex < bb.tileIndex
	}
	if aa.Row != bb.Row {
		return aa.Row < bb.Row
	}
	return aa.Col < bb.Col
}

// openInput opens path for reading, transparently decompressing by
// file extension. "-" reads standard input.
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch filepath.Ext(path) {
	case ".gz":
		r, err := pgzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return struct {
			io.Reader
			io.Closer
		}{r, f}, nil
	case ".bz2":
		r, err := bzip2.NewReader(f, nil)
		if err != nil {
			f.Close()
			return nil, err
		}
		return struct {
			io.Reader
			io.Closer
		}{r, f}, nil
	case ".xz":
		r, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return struct {
			io.Reader
			io.Closer
		}{r, f}, nil
	case ".br":
		return struct {
			io.Reader
			io.Closer
		}{brotli.NewReader(f), f}, nil
	case ".zst":
		r, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(0))
		if err != nil {
			f.Close()
			return nil, err
		}
		return struct {
			io.Reader
			io.Closer
		}{r, f}, nil
	default:
		return f, nil
	}
}

// build streams samples from the input, sorts them externally by tile
// index, and writes them through a small tile cache: since samples
// arrive tile by tile, each tile is resident exactly while its
// samples pass.
func build(ctx context.Context, input, output string, spec *gvrs.FileSpec, element string) error {
	reader, err := openInput(input)
	if err != nil {
		return err
	}
	defer reader.Close()

	ch := make(chan extsort.SortType, 100000)
	g, subCtx := errgroup.WithContext(ctx)
	config := extsort.DefaultConfig()
	config.NumWorkers = runtime.NumCPU()
	sorter, outChan, errChan := extsort.New(ch, sampleFromBytes(spec), sampleLess, config)
	g.Go(func() error {
		return parseSamples(reader, spec, ch, subCtx)
	})
	g.Go(func() error {
		sorter.Sort(ctx) // not subCtx, as per extsort docs
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// Write to a temporary file first and rename once complete, so a
	// crash never leaves a truncated raster under the final name.
	tmppath := output + ".tmp"
	f, err := gvrs.CreateWithOptions(tmppath, spec, gvrs.Options{CacheSize: gvrs.CacheSmall})
	if err != nil {
		return err
	}
	e, ok := f.Element(element)
	if !ok {
		f.Close()
		return fmt.Errorf("element %q not declared", element)
	}
	var n int64
	for data := range outChan {
		s := data.(Sample)
		if err := e.WriteValue(int(s.Row), int(s.Col), s.Value); err != nil {
			f.Close()
			return err
		}
		n++
	}
	if err := <-errChan; err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmppath, output); err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("wrote %d samples to %s", n, output)
	}
	return nil
}

// parseSamples reads "row col value" lines, skipping blanks and
// comment lines starting with '#'.
func parseSamples(r io.Reader, spec *gvrs.FileSpec, ch chan<- extsort.SortType, ctx context.Context) error {
	defer close(ch)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return fmt.Errorf("line %d: want \"row col value\", got %q", lineno, line)
		}
		row, err := strconv.ParseInt(fields[0], 10, 32)
		if err != nil {
			return fmt.Errorf("line %d: %v", lineno, err)
		}
		col, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			return fmt.Errorf("line %d: %v", lineno, err)
		}
		value, err := strconv.ParseFloat(fields[2], 32)
		if err != nil {
			return fmt.Errorf("line %d: %v", lineno, err)
		}
		if row < 0 || int(row) >= spec.RowsInRaster || col < 0 || int(col) >= spec.ColsInRaster {
			return fmt.Errorf("line %d: cell (%d, %d) outside raster", lineno, row, col)
		}
		s := Sample{Row: int32(row), Col: int32(col), Value: float32(value)}
		s.tileIndex = tileIndexOf(spec, s)
		ch <- s
	}
	return scanner.Err()
}
