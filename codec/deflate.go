// SPDX-License-Identifier: MIT

package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// deflateCodec implements GvrsDeflate: predictor residuals, encoded
// as zigzag varints and run through DEFLATE. The packing layout is
//
//	[0] codec index
//	[1] predictor model
//	[2:] deflate stream
//
// Encoding tries the three predictor models and keeps the shortest
// result.
type deflateCodec struct{}

func (deflateCodec) ImplementsIntegerEncoding() bool       { return true }
func (deflateCodec) ImplementsFloatingPointEncoding() bool { return false }

func (d *deflateCodec) EncodeInts(codecIndex, nRows, nCols int, values []int32) []byte {
	standardSize := len(values) * 4
	var best []byte
	for _, model := range []int{predictorDifferencing, predictorLinear, predictorTriangle} {
		res := predictorResiduals(model, nRows, nCols, values)
		deflated, err := deflateBytes(residualsToBytes(res))
		if err != nil {
			continue
		}
		packing := make([]byte, 2+len(deflated))
		packing[0] = byte(codecIndex)
		packing[1] = byte(model)
		copy(packing[2:], deflated)
		if len(packing) < standardSize && (best == nil || len(packing) < len(best)) {
			best = packing
		}
	}
	return best
}

func (d *deflateCodec) EncodeFloats(codecIndex, nRows, nCols int, values []float32) []byte {
	return nil
}

func (d *deflateCodec) DecodeInts(nRows, nCols int, packing []byte) ([]int32, error) {
	if len(packing) < 2 {
		return nil, fmt.Errorf("codec: deflate packing of %d bytes is too short", len(packing))
	}
	model := int(packing[1])
	raw, err := inflateBytes(packing[2:])
	if err != nil {
		return nil, err
	}
	res, err := bytesToResiduals(raw, nRows*nCols)
	if err != nil {
		return nil, err
	}
	return predictorRestore(model, nRows, nCols, res)
}

func (d *deflateCodec) DecodeFloats(nRows, nCols int, packing []byte) ([]float32, error) {
	return nil, fmt.Errorf("codec: GvrsDeflate does not encode floating-point data")
}

func deflateBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflateBytes(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	return out, nil
}
