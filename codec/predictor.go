// SPDX-License-Identifier: MIT

package codec

import (
	"encoding/binary"
	"fmt"
)

// Predictor models for integer tile data. The residuals of a good
// predictor cluster near zero, which is what makes the entropy coding
// stages of GvrsHuffman and GvrsDeflate effective. All arithmetic is
// plain wrapping int32 so that decoding is exactly invertible.
const (
	predictorDifferencing = 1 // residual against the previous cell
	predictorLinear       = 2 // residual against a linear extrapolation
	predictorTriangle     = 3 // residual against left + top - topleft
)

// predictorResiduals computes the residuals of values under the given
// predictor model, row-major over an nRows x nCols grid.
func predictorResiduals(model, nRows, nCols int, values []int32) []int32 {
	res := make([]int32, len(values))
	switch model {
	case predictorDifferencing:
		prior := int32(0)
		for i, v := range values {
			res[i] = v - prior
			prior = v
		}
	case predictorLinear:
		for r := 0; r < nRows; r++ {
			for c := 0; c < nCols; c++ {
				i := r*nCols + c
				var p int32
				switch {
				case c >= 2:
					p = 2*values[i-1] - values[i-2]
				case c == 1:
					p = values[i-1]
				case r > 0:
					p = values[i-nCols]
				}
				res[i] = values[i] - p
			}
		}
	case predictorTriangle:
		for r := 0; r < nRows; r++ {
			for c := 0; c < nCols; c++ {
				i := r*nCols + c
				var p int32
				switch {
				case r > 0 && c > 0:
					p = values[i-1] + values[i-nCols] - values[i-nCols-1]
				case c > 0:
					p = values[i-1]
				case r > 0:
					p = values[i-nCols]
				}
				res[i] = values[i] - p
			}
		}
	default:
		panic(fmt.Sprintf("codec: unknown predictor model %d", model))
	}
	return res
}

// predictorRestore is the inverse of predictorResiduals.
func predictorRestore(model, nRows, nCols int, res []int32) ([]int32, error) {
	values := make([]int32, len(res))
	switch model {
	case predictorDifferencing:
		prior := int32(0)
		for i, r := range res {
			values[i] = prior + r
			prior = values[i]
		}
	case predictorLinear:
		for r := 0; r < nRows; r++ {
			for c := 0; c < nCols; c++ {
				i := r*nCols + c
				var p int32
				switch {
				case c >= 2:
					p = 2*values[i-1] - values[i-2]
				case c == 1:
					p = values[i-1]
				case r > 0:
					p = values[i-nCols]
				}
				values[i] = p + res[i]
			}
		}
	case predictorTriangle:
		for r := 0; r < nRows; r++ {
			for c := 0; c < nCols; c++ {
				i := r*nCols + c
				var p int32
				switch {
				case r > 0 && c > 0:
					p = values[i-1] + values[i-nCols] - values[i-nCols-1]
				case c > 0:
					p = values[i-1]
				case r > 0:
					p = values[i-nCols]
				}
				values[i] = p + res[i]
			}
		}
	default:
		return nil, fmt.Errorf("codec: unknown predictor model %d", model)
	}
	return values, nil
}

// residualsToBytes encodes residuals as zigzag varints.
func residualsToBytes(res []int32) []byte {
	buf := make([]byte, 0, len(res))
	var tmp [binary.MaxVarintLen32]byte
	for _, v := range res {
		n := binary.PutVarint(tmp[:], int64(v))
		buf = append(buf, tmp[:n]...)
	}
	return buf
}

// bytesToResiduals decodes exactly n zigzag varints from b.
func bytesToResiduals(b []byte, n int) ([]int32, error) {
	res := make([]int32, n)
	pos := 0
	for i := 0; i < n; i++ {
		v, size := binary.Varint(b[pos:])
		if size <= 0 {
			return nil, fmt.Errorf("codec: truncated residual stream at %d of %d", i, n)
		}
		res[i] = int32(v)
		pos += size
	}
	return res, nil
}
