// SPDX-License-Identifier: MIT

package codec

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of goroutines used when trying several
// candidate encoders for one tile concurrently.
const DefaultWorkers = 3

// Master is the codec list of one gvrs file, in file order. The index
// of a codec in the list is the first byte of every packing it
// produces. A Master additionally drives the trial compression of a
// tile element across all capable encoders, keeping the shortest
// successful output.
type Master struct {
	codecs  []Codec
	workers int
}

// NewMaster builds a master for a file's codec list. The order of the
// slice is the on-disk codec index order.
func NewMaster(codecs []Codec) *Master {
	return &Master{codecs: codecs, workers: DefaultWorkers}
}

// SetWorkers configures how many encoders may run concurrently while
// compressing one tile element. One means strictly serial trials.
func (m *Master) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	m.workers = n
}

// Empty reports whether the master has no codecs, in which case tiles
// are always stored in standard format.
func (m *Master) Empty() bool { return m == nil || len(m.codecs) == 0 }

// compressorResults collects candidate packings from concurrently
// running encoders; the shortest one wins.
type compressorResults struct {
	mu   sync.Mutex
	best []byte
}

func (r *compressorResults) offer(packing []byte) {
	if packing == nil {
		return
	}
	r.mu.Lock()
	if r.best == nil || len(packing) < len(r.best) {
		r.best = packing
	}
	r.mu.Unlock()
}

// CompressInts runs all integer-capable encoders over values and
// returns the shortest packing, or nil if no encoder improved on the
// standard representation.
func (m *Master) CompressInts(nRows, nCols int, values []int32) []byte {
	if m.Empty() {
		return nil
	}
	return m.compress(func(index int, e Encoder) []byte {
		if !e.ImplementsIntegerEncoding() {
			return nil
		}
		return e.EncodeInts(index, nRows, nCols, values)
	})
}

// CompressFloats is the floating-point analog of CompressInts.
func (m *Master) CompressFloats(nRows, nCols int, values []float32) []byte {
	if m.Empty() {
		return nil
	}
	return m.compress(func(index int, e Encoder) []byte {
		if !e.ImplementsFloatingPointEncoding() {
			return nil
		}
		return e.EncodeFloats(index, nRows, nCols, values)
	})
}

func (m *Master) compress(try func(index int, e Encoder) []byte) []byte {
	var results compressorResults
	if m.workers <= 1 {
		for i, c := range m.codecs {
			if c.Encoder != nil {
				results.offer(try(i, c.Encoder))
			}
		}
		return results.best
	}

	var g errgroup.Group
	g.SetLimit(m.workers)
	for i, c := range m.codecs {
		if c.Encoder == nil {
			continue
		}
		i, enc := i, c.Encoder
		g.Go(func() error {
			results.offer(try(i, enc))
			return nil
		})
	}
	// The encoders never fail; Wait just drains the pool before the
	// calling tile write proceeds.
	g.Wait()
	return results.best
}

// DecompressInts dispatches on the codec index in packing[0] and
// returns the decoded integer array of length nRows*nCols.
func (m *Master) DecompressInts(nRows, nCols int, packing []byte) ([]int32, error) {
	c, err := m.dispatch(packing)
	if err != nil {
		return nil, err
	}
	return c.Decoder.DecodeInts(nRows, nCols, packing)
}

// DecompressFloats is the floating-point analog of DecompressInts.
func (m *Master) DecompressFloats(nRows, nCols int, packing []byte) ([]float32, error) {
	c, err := m.dispatch(packing)
	if err != nil {
		return nil, err
	}
	return c.Decoder.DecodeFloats(nRows, nCols, packing)
}

func (m *Master) dispatch(packing []byte) (Codec, error) {
	if m.Empty() || len(packing) == 0 {
		return Codec{}, ErrInvalidCompressionCode
	}
	index := int(packing[0])
	if index >= len(m.codecs) || m.codecs[index].Decoder == nil {
		return Codec{}, ErrInvalidCompressionCode
	}
	return m.codecs[index], nil
}
