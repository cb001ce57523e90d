// SPDX-License-Identifier: MIT

// Package braf implements a buffered random-access file with typed
// little-endian primitives. It is the byte-level foundation of the
// gvrs raster store: all headers, records and tile payloads pass
// through this layer.
package braf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// ErrUnexpectedEOF is returned when a read ends before the requested
// number of bytes was available.
var ErrUnexpectedEOF = errors.New("braf: unexpected end of file")

// ErrClosed is returned for operations on a closed file.
var ErrClosed = errors.New("braf: file is closed")

// Store is the backing byte store for a File. *os.File implements it;
// tests use in-memory fakes.
type Store interface {
	io.Reader
	io.Writer
	io.Seeker
}

const pageSize = 8192

// File provides buffered, seekable little-endian I/O over a Store.
// It maintains one internal page buffer that serves both reads and
// writes; the buffer is flushed when an access falls outside of it,
// on Flush, and on Close.
type File struct {
	store  Store
	pos    int64 // virtual file position
	length int64 // logical file length

	buf      [pageSize]byte
	bufStart int64 // file offset of buf[0]
	bufEnd   int64 // file offset one past the last valid byte
	dirty    bool
	closed   bool

	scratch [8]byte
}

// New wraps an already positioned Store. The store is assumed to be
// empty or freshly opened; length is taken from seeking to its end.
func New(store Store) (*File, error) {
	length, err := store.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("braf: %w", err)
	}
	return &File{store: store, length: length}, nil
}

// OpenFile opens the named file and wraps it. The flag and perm
// arguments are passed through to os.OpenFile.
func OpenFile(name string, flag int, perm os.FileMode) (*File, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	b, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return b, nil
}

// Position returns the current virtual file position.
func (f *File) Position() int64 { return f.pos }

// Length returns the logical file length, including bytes that are
// still sitting in the page buffer.
func (f *File) Length() int64 { return f.length }

// Seek moves the virtual file position. The page buffer stays valid;
// it is flushed lazily when the next access falls outside of it.
func (f *File) Seek(offset int64) error {
	if f.closed {
		return ErrClosed
	}
	if offset < 0 {
		return fmt.Errorf("braf: negative seek offset %d", offset)
	}
	f.pos = offset
	return nil
}

func (f *File) flushBuffer() error {
	if !f.dirty {
		return nil
	}
	if _, err := f.store.Seek(f.bufStart, io.SeekStart); err != nil {
		return fmt.Errorf("braf: %w", err)
	}
	n := int(f.bufEnd - f.bufStart)
	if _, err := f.store.Write(f.buf[:n]); err != nil {
		return fmt.Errorf("braf: %w", err)
	}
	f.dirty = false
	return nil
}

// loadBuffer positions the page buffer at pos and fills it from the
// underlying store. The buffer may end up shorter than a page near the
// end of the file, or empty at EOF.
func (f *File) loadBuffer(pos int64) error {
	if err := f.flushBuffer(); err != nil {
		return err
	}
	if _, err := f.store.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("braf: %w", err)
	}
	n, err := io.ReadFull(f.store, f.buf[:])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return fmt.Errorf("braf: %w", err)
	}
	f.bufStart = pos
	f.bufEnd = pos + int64(n)
	return nil
}

// ReadFully fills p from the current position, advancing it. A short
// read yields ErrUnexpectedEOF.
func (f *File) ReadFully(p []byte) error {
	if f.closed {
		return ErrClosed
	}
	for len(p) > 0 {
		if f.pos >= f.bufStart && f.pos < f.bufEnd {
			n := copy(p, f.buf[f.pos-f.bufStart:f.bufEnd-f.bufStart])
			f.pos += int64(n)
			p = p[n:]
			continue
		}
		if f.pos >= f.length {
			return ErrUnexpectedEOF
		}
		if err := f.loadBuffer(f.pos); err != nil {
			return err
		}
		if f.bufEnd == f.bufStart {
			return ErrUnexpectedEOF
		}
	}
	return nil
}

// WriteFully writes p at the current position, advancing it.
func (f *File) WriteFully(p []byte) error {
	if f.closed {
		return ErrClosed
	}
	for len(p) > 0 {
		// Append into the page buffer when the write position lies
		// inside it or immediately at its end (with room to spare).
		if f.pos >= f.bufStart && f.pos <= f.bufEnd && f.pos < f.bufStart+pageSize {
			off := int(f.pos - f.bufStart)
			room := pageSize - off
			n := len(p)
			if n > room {
				n = room
			}
			copy(f.buf[off:], p[:n])
			f.pos += int64(n)
			if f.pos > f.bufEnd {
				f.bufEnd = f.pos
			}
			f.dirty = true
			p = p[n:]
		} else {
			if err := f.flushBuffer(); err != nil {
				return err
			}
			// Start a fresh buffer at the write position. If the
			// position lies inside existing file content, preload the
			// page so that surrounding bytes survive a partial write.
			if f.pos < f.length {
				if err := f.loadBuffer(f.pos); err != nil {
					return err
				}
			} else {
				f.bufStart = f.pos
				f.bufEnd = f.pos
			}
		}
		if f.pos > f.length {
			f.length = f.pos
		}
	}
	if f.pos > f.length {
		f.length = f.pos
	}
	return nil
}

// Flush writes any dirty buffered bytes to the underlying store.
func (f *File) Flush() error {
	if f.closed {
		return ErrClosed
	}
	return f.flushBuffer()
}

// Close flushes and closes the file. Closing twice is an error only
// in so far as any later operation reports ErrClosed.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	err := f.flushBuffer()
	f.closed = true
	if c, ok := f.store.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (f *File) ReadByte() (byte, error) {
	if err := f.ReadFully(f.scratch[:1]); err != nil {
		return 0, err
	}
	return f.scratch[0], nil
}

func (f *File) ReadUint16() (uint16, error) {
	if err := f.ReadFully(f.scratch[:2]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(f.scratch[:2]), nil
}

func (f *File) ReadInt16() (int16, error) {
	v, err := f.ReadUint16()
	return int16(v), err
}

func (f *File) ReadUint32() (uint32, error) {
	if err := f.ReadFully(f.scratch[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(f.scratch[:4]), nil
}

func (f *File) ReadInt32() (int32, error) {
	v, err := f.ReadUint32()
	return int32(v), err
}

func (f *File) ReadUint64() (uint64, error) {
	if err := f.ReadFully(f.scratch[:8]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(f.scratch[:8]), nil
}

func (f *File) ReadInt64() (int64, error) {
	v, err := f.ReadUint64()
	return int64(v), err
}

func (f *File) ReadFloat32() (float32, error) {
	v, err := f.ReadUint32()
	return math.Float32frombits(v), err
}

func (f *File) ReadFloat64() (float64, error) {
	v, err := f.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadUTF reads a length-prefixed UTF-8 string. The two-byte length
// prefix is big-endian for interoperability with Java's
// DataOutput.writeUTF.
func (f *File) ReadUTF() (string, error) {
	if err := f.ReadFully(f.scratch[:2]); err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(f.scratch[:2]))
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if err := f.ReadFully(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func (f *File) WriteByte(v byte) error {
	f.scratch[0] = v
	return f.WriteFully(f.scratch[:1])
}

func (f *File) WriteUint16(v uint16) error {
	binary.LittleEndian.PutUint16(f.scratch[:2], v)
	return f.WriteFully(f.scratch[:2])
}

func (f *File) WriteInt16(v int16) error { return f.WriteUint16(uint16(v)) }

func (f *File) WriteUint32(v uint32) error {
	binary.LittleEndian.PutUint32(f.scratch[:4], v)
	return f.WriteFully(f.scratch[:4])
}

func (f *File) WriteInt32(v int32) error { return f.WriteUint32(uint32(v)) }

func (f *File) WriteUint64(v uint64) error {
	binary.LittleEndian.PutUint64(f.scratch[:8], v)
	return f.WriteFully(f.scratch[:8])
}

func (f *File) WriteInt64(v int64) error { return f.WriteUint64(uint64(v)) }

func (f *File) WriteFloat32(v float32) error {
	return f.WriteUint32(math.Float32bits(v))
}

func (f *File) WriteFloat64(v float64) error {
	return f.WriteUint64(math.Float64bits(v))
}

// WriteUTF writes a length-prefixed UTF-8 string; see ReadUTF for the
// prefix convention. Strings longer than 65535 bytes are rejected.
func (f *File) WriteUTF(s string) error {
	if len(s) > 0xffff {
		return fmt.Errorf("braf: string of %d bytes exceeds UTF limit", len(s))
	}
	binary.BigEndian.PutUint16(f.scratch[:2], uint16(len(s)))
	if err := f.WriteFully(f.scratch[:2]); err != nil {
		return err
	}
	return f.WriteFully([]byte(s))
}

// WriteZeroes writes n zero bytes at the current position.
func (f *File) WriteZeroes(n int64) error {
	var zeros [256]byte
	for n > 0 {
		chunk := n
		if chunk > int64(len(zeros)) {
			chunk = int64(len(zeros))
		}
		if err := f.WriteFully(zeros[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// ReadInt16Array fills dst with little-endian 16-bit values.
func (f *File) ReadInt16Array(dst []int16) error {
	b := make([]byte, len(dst)*2)
	if err := f.ReadFully(b); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return nil
}

// WriteInt16Array writes src as little-endian 16-bit values.
func (f *File) WriteInt16Array(src []int16) error {
	b := make([]byte, len(src)*2)
	for i, v := range src {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return f.WriteFully(b)
}

// ReadInt32Array fills dst with little-endian 32-bit values.
func (f *File) ReadInt32Array(dst []int32) error {
	b := make([]byte, len(dst)*4)
	if err := f.ReadFully(b); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = int32(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return nil
}

// WriteInt32Array writes src as little-endian 32-bit values.
func (f *File) WriteInt32Array(src []int32) error {
	b := make([]byte, len(src)*4)
	for i, v := range src {
		binary.LittleEndian.PutUint32(b[i*4:], uint32(v))
	}
	return f.WriteFully(b)
}

// ReadFloat32Array fills dst with little-endian 32-bit floats.
func (f *File) ReadFloat32Array(dst []float32) error {
	b := make([]byte, len(dst)*4)
	if err := f.ReadFully(b); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return nil
}

// WriteFloat32Array writes src as little-endian 32-bit floats.
func (f *File) WriteFloat32Array(src []float32) error {
	b := make([]byte, len(src)*4)
	for i, v := range src {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return f.WriteFully(b)
}
