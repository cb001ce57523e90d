// SPDX-License-Identifier: MIT

package codec

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"sort"
)

// huffmanCodec implements GvrsHuffman: predictor residuals, encoded
// as zigzag varints and then Huffman-coded over byte symbols with a
// canonical code table. The packing layout is
//
//	[0]   codec index
//	[1]   predictor model
//	[2:6] number of source bytes, little-endian uint32
//	[6:8] number of distinct symbols, little-endian uint16
//	      then (symbol, code length) pairs
//	      then the bit stream, least-significant bit first
type huffmanCodec struct{}

func (huffmanCodec) ImplementsIntegerEncoding() bool       { return true }
func (huffmanCodec) ImplementsFloatingPointEncoding() bool { return false }

func (h *huffmanCodec) EncodeInts(codecIndex, nRows, nCols int, values []int32) []byte {
	standardSize := len(values) * 4
	var best []byte
	for _, model := range []int{predictorDifferencing, predictorLinear, predictorTriangle} {
		res := predictorResiduals(model, nRows, nCols, values)
		packed := huffmanEncode(residualsToBytes(res))
		packing := make([]byte, 2+len(packed))
		packing[0] = byte(codecIndex)
		packing[1] = byte(model)
		copy(packing[2:], packed)
		if len(packing) < standardSize && (best == nil || len(packing) < len(best)) {
			best = packing
		}
	}
	return best
}

func (h *huffmanCodec) EncodeFloats(codecIndex, nRows, nCols int, values []float32) []byte {
	return nil
}

func (h *huffmanCodec) DecodeInts(nRows, nCols int, packing []byte) ([]int32, error) {
	if len(packing) < 2 {
		return nil, fmt.Errorf("codec: huffman packing of %d bytes is too short", len(packing))
	}
	model := int(packing[1])
	raw, err := huffmanDecode(packing[2:])
	if err != nil {
		return nil, err
	}
	res, err := bytesToResiduals(raw, nRows*nCols)
	if err != nil {
		return nil, err
	}
	return predictorRestore(model, nRows, nCols, res)
}

func (h *huffmanCodec) DecodeFloats(nRows, nCols int, packing []byte) ([]float32, error) {
	return nil, fmt.Errorf("codec: GvrsHuffman does not encode floating-point data")
}

// huffNode is a tree node during code construction.
type huffNode struct {
	count       int
	symbol      int // -1 for interior nodes
	left, right *huffNode
}

type huffHeap []*huffNode

func (h huffHeap) Len() int { return len(h) }
func (h huffHeap) Less(i, j int) bool {
	if h[i].count != h[j].count {
		return h[i].count < h[j].count
	}
	return h[i].symbol < h[j].symbol
}
func (h huffHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *huffHeap) Push(x interface{}) { *h = append(*h, x.(*huffNode)) }
func (h *huffHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// symbolCode is one entry of a canonical code table.
type symbolCode struct {
	symbol byte
	length uint8
	code   uint32 // bit-reversed for LSB-first writing
}

// huffmanCodeLengths computes code lengths for the symbols present in
// data. The result is sorted by (length, symbol), the canonical order.
func huffmanCodeLengths(data []byte) []symbolCode {
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	h := make(huffHeap, 0, 256)
	for sym, c := range counts {
		if c > 0 {
			h = append(h, &huffNode{count: c, symbol: sym})
		}
	}
	if len(h) == 1 {
		return []symbolCode{{symbol: byte(h[0].symbol), length: 1}}
	}
	heap.Init(&h)
	for h.Len() > 1 {
		a := heap.Pop(&h).(*huffNode)
		b := heap.Pop(&h).(*huffNode)
		heap.Push(&h, &huffNode{count: a.count + b.count, symbol: -1, left: a, right: b})
	}

	var codes []symbolCode
	var walk func(n *huffNode, depth uint8)
	walk = func(n *huffNode, depth uint8) {
		if n.symbol >= 0 {
			codes = append(codes, symbolCode{symbol: byte(n.symbol), length: depth})
			return
		}
		walk(n.left, depth+1)
		walk(n.right, depth+1)
	}
	walk(h[0], 0)

	sort.Slice(codes, func(i, j int) bool {
		if codes[i].length != codes[j].length {
			return codes[i].length < codes[j].length
		}
		return codes[i].symbol < codes[j].symbol
	})
	return codes
}

// assignCanonicalCodes fills the code field of a canonically sorted
// table. Codes are stored bit-reversed so that the LSB-first bit
// writer emits them most-significant bit of the canonical code first.
func assignCanonicalCodes(codes []symbolCode) {
	code := uint32(0)
	prevLen := uint8(0)
	for i := range codes {
		code <<= codes[i].length - prevLen
		prevLen = codes[i].length
		rev := uint32(0)
		for b := uint8(0); b < codes[i].length; b++ {
			rev = rev<<1 | (code>>b)&1
		}
		codes[i].code = rev
		code++
	}
}

func huffmanEncode(data []byte) []byte {
	codes := huffmanCodeLengths(data)
	assignCanonicalCodes(codes)

	var table [256]symbolCode
	for _, c := range codes {
		table[c.symbol] = c
	}

	out := make([]byte, 6, 8+len(data)/2)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(data)))
	binary.LittleEndian.PutUint16(out[4:6], uint16(len(codes)))
	for _, c := range codes {
		out = append(out, c.symbol, c.length)
	}

	var w bitWriter
	for _, b := range data {
		c := table[b]
		w.writeBits(c.code, uint(c.length))
	}
	return append(out, w.bytes()...)
}

func huffmanDecode(packed []byte) ([]byte, error) {
	if len(packed) < 6 {
		return nil, fmt.Errorf("codec: truncated huffman table")
	}
	nBytes := int(binary.LittleEndian.Uint32(packed[0:4]))
	nSymbols := int(binary.LittleEndian.Uint16(packed[4:6]))
	if len(packed) < 6+nSymbols*2 {
		return nil, fmt.Errorf("codec: truncated huffman table")
	}
	codes := make([]symbolCode, nSymbols)
	for i := 0; i < nSymbols; i++ {
		codes[i] = symbolCode{symbol: packed[6+i*2], length: packed[6+i*2+1]}
	}
	// The table is stored in canonical order; rebuilding the codes
	// only needs the lengths.
	code := uint32(0)
	prevLen := uint8(0)
	type entry struct {
		code   uint32
		symbol byte
	}
	byLength := make(map[uint8][]entry)
	for i := range codes {
		code <<= codes[i].length - prevLen
		prevLen = codes[i].length
		byLength[codes[i].length] = append(byLength[codes[i].length], entry{code, codes[i].symbol})
		code++
	}

	r := bitReader{data: packed[6+nSymbols*2:]}
	out := make([]byte, 0, nBytes)
	for len(out) < nBytes {
		var acc uint32
		var length uint8
		for {
			bit, err := r.readBit()
			if err != nil {
				return nil, err
			}
			acc = acc<<1 | bit
			length++
			found := false
			for _, e := range byLength[length] {
				if e.code == acc {
					out = append(out, e.symbol)
					found = true
					break
				}
			}
			if found {
				break
			}
			if length > 57 {
				return nil, fmt.Errorf("codec: corrupt huffman stream")
			}
		}
	}
	return out, nil
}
