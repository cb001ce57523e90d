// SPDX-License-Identifier: MIT

package codec

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistry_Defaults(t *testing.T) {
	r := DefaultRegistry()
	want := []string{"GvrsHuffman", "GvrsDeflate", "GvrsFloat"}
	if diff := cmp.Diff(want, r.IDs()); diff != "" {
		t.Errorf("IDs mismatch (-want +got):\n%s", diff)
	}
	for _, id := range want {
		if _, ok := r.Get(id); !ok {
			t.Errorf("Get(%q) not found", id)
		}
	}
}

func TestRegistry_RejectsBadIdentifiers(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"", "1abc", "has space", "way_too_long_identifier", "dash-ed"} {
		if err := r.Register(Codec{ID: id}); err == nil {
			t.Errorf("Register(%q): want error, got nil", id)
		}
	}
	if err := r.Register(Codec{ID: "Custom_3"}); err != nil {
		t.Errorf("Register(Custom_3): %v", err)
	}
}

// gradientInts is a smooth synthetic terrain; both integer codecs
// should beat the 4-bytes-per-cell standard form easily.
func gradientInts(nRows, nCols int) []int32 {
	values := make([]int32, nRows*nCols)
	for r := 0; r < nRows; r++ {
		for c := 0; c < nCols; c++ {
			values[r*nCols+c] = int32(100 + 3*r + 2*c + (r*c)%5)
		}
	}
	return values
}

func TestDeflateCodec_RoundTrip(t *testing.T) {
	const nRows, nCols = 60, 60
	values := gradientInts(nRows, nCols)
	enc := &deflateCodec{}
	packing := enc.EncodeInts(1, nRows, nCols, values)
	if packing == nil {
		t.Fatal("EncodeInts returned nil for highly compressible data")
	}
	if len(packing) >= nRows*nCols*4 {
		t.Errorf("packing of %d bytes is not smaller than standard %d", len(packing), nRows*nCols*4)
	}
	if packing[0] != 1 {
		t.Errorf("packing[0] = %d, want codec index 1", packing[0])
	}
	got, err := enc.DecodeInts(nRows, nCols, packing)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(values, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestHuffmanCodec_RoundTrip(t *testing.T) {
	const nRows, nCols = 60, 60
	values := gradientInts(nRows, nCols)
	enc := &huffmanCodec{}
	packing := enc.EncodeInts(0, nRows, nCols, values)
	if packing == nil {
		t.Fatal("EncodeInts returned nil for highly compressible data")
	}
	got, err := enc.DecodeInts(nRows, nCols, packing)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(values, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestHuffmanCodec_ConstantTile(t *testing.T) {
	const nRows, nCols = 60, 60
	values := make([]int32, nRows*nCols)
	for i := range values {
		values[i] = 42
	}
	enc := &huffmanCodec{}
	packing := enc.EncodeInts(0, nRows, nCols, values)
	if packing == nil {
		t.Fatal("EncodeInts returned nil for a constant tile")
	}
	// A constant tile reduces to a run of zero residuals; the packing
	// should be a tiny fraction of the 14400-byte standard form.
	if len(packing) > 600 {
		t.Errorf("constant tile packed to %d bytes, want far less", len(packing))
	}
	got, err := enc.DecodeInts(nRows, nCols, packing)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if v != 42 {
			t.Fatalf("cell %d: got %d, want 42", i, v)
		}
	}
}

func TestFloatCodec_RoundTrip(t *testing.T) {
	const nRows, nCols = 30, 40
	values := make([]float32, nRows*nCols)
	for r := 0; r < nRows; r++ {
		for c := 0; c < nCols; c++ {
			values[r*nCols+c] = 1000.5 + float32(r)*0.25 + float32(c)*0.125
		}
	}
	values[7] = float32(math.NaN())
	enc := &floatCodec{}
	packing := enc.EncodeFloats(2, nRows, nCols, values)
	if packing == nil {
		t.Fatal("EncodeFloats returned nil for smooth data")
	}
	got, err := enc.DecodeFloats(nRows, nCols, packing)
	if err != nil {
		t.Fatal(err)
	}
	for i := range values {
		want, have := values[i], got[i]
		if math.IsNaN(float64(want)) {
			if !math.IsNaN(float64(have)) {
				t.Fatalf("cell %d: got %f, want NaN", i, have)
			}
			continue
		}
		if want != have {
			t.Fatalf("cell %d: got %f, want %f (bit-exact)", i, have, want)
		}
	}
}

func TestPredictors_Invertible(t *testing.T) {
	const nRows, nCols = 5, 7
	values := []int32{}
	for i := 0; i < nRows*nCols; i++ {
		values = append(values, int32(i*i*31-400*i+7))
	}
	for _, model := range []int{predictorDifferencing, predictorLinear, predictorTriangle} {
		res := predictorResiduals(model, nRows, nCols, values)
		got, err := predictorRestore(model, nRows, nCols, res)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(values, got); diff != "" {
			t.Errorf("model %d mismatch (-want +got):\n%s", model, diff)
		}
	}
}

func TestPredictors_WrapAround(t *testing.T) {
	// Residual arithmetic must wrap so that extreme values survive.
	values := []int32{math.MaxInt32, math.MinInt32, 0, -1, math.MaxInt32}
	for _, model := range []int{predictorDifferencing, predictorLinear, predictorTriangle} {
		res := predictorResiduals(model, 1, 5, values)
		got, err := predictorRestore(model, 1, 5, res)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(values, got); diff != "" {
			t.Errorf("model %d mismatch (-want +got):\n%s", model, diff)
		}
	}
}

func newTestMaster(workers int) *Master {
	r := DefaultRegistry()
	var codecs []Codec
	for _, id := range r.IDs() {
		c, _ := r.Get(id)
		codecs = append(codecs, c)
	}
	m := NewMaster(codecs)
	m.SetWorkers(workers)
	return m
}

func TestMaster_ShortestWins(t *testing.T) {
	const nRows, nCols = 60, 60
	values := gradientInts(nRows, nCols)
	for _, workers := range []int{1, 3} {
		m := newTestMaster(workers)
		packing := m.CompressInts(nRows, nCols, values)
		if packing == nil {
			t.Fatalf("workers=%d: CompressInts returned nil", workers)
		}
		index := int(packing[0])
		huff := (&huffmanCodec{}).EncodeInts(0, nRows, nCols, values)
		defl := (&deflateCodec{}).EncodeInts(1, nRows, nCols, values)
		shortest := len(huff)
		if defl != nil && len(defl) < shortest {
			shortest = len(defl)
		}
		if len(packing) != shortest {
			t.Errorf("workers=%d: got %d bytes from codec %d, want the shortest candidate %d",
				workers, len(packing), index, shortest)
		}
		got, err := m.DecompressInts(nRows, nCols, packing)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(values, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestMaster_InvalidCompressionCode(t *testing.T) {
	m := newTestMaster(1)
	if _, err := m.DecompressInts(2, 2, []byte{77, 0, 0}); !errors.Is(err, ErrInvalidCompressionCode) {
		t.Errorf("got %v, want ErrInvalidCompressionCode", err)
	}
	if _, err := m.DecompressInts(2, 2, nil); !errors.Is(err, ErrInvalidCompressionCode) {
		t.Errorf("got %v, want ErrInvalidCompressionCode", err)
	}
}

func TestMaster_IncompressibleNeverExpands(t *testing.T) {
	// White noise from a tiny deterministic generator. The master may
	// return nil for it; a packing it does return must be smaller than
	// the 4 bytes/cell standard form.
	const nRows, nCols = 16, 16
	values := make([]int32, nRows*nCols)
	state := uint32(0x9e3779b9)
	for i := range values {
		state = state*1664525 + 1013904223
		values[i] = int32(state)
	}
	m := newTestMaster(1)
	if packing := m.CompressInts(nRows, nCols, values); packing != nil {
		if len(packing) >= nRows*nCols*4 {
			t.Errorf("packing of %d bytes should have been rejected", len(packing))
		}
	}
}
