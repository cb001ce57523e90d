// SPDX-License-Identifier: MIT

package braf

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/orcaman/writerseeker"
)

// wsStore adapts a writerseeker.WriterSeeker into a braf.Store so we
// can run the buffered file against an in-memory backing store.
type wsStore struct {
	ws  *writerseeker.WriterSeeker
	pos int64
}

func (s *wsStore) Write(p []byte) (int, error) {
	if _, err := s.ws.Seek(s.pos, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := s.ws.Write(p)
	s.pos += int64(n)
	return n, err
}

func (s *wsStore) Read(p []byte) (int, error) {
	r := s.ws.BytesReader()
	n, err := r.ReadAt(p, s.pos)
	s.pos += int64(n)
	return n, err
}

func (s *wsStore) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.pos = offset
	case io.SeekCurrent:
		s.pos += offset
	case io.SeekEnd:
		s.pos = int64(s.ws.BytesReader().Len()) + offset
	}
	return s.pos, nil
}

func (s *wsStore) bytes() []byte {
	b, _ := io.ReadAll(s.ws.BytesReader())
	return b
}

func newMemFile(t *testing.T) (*File, *wsStore) {
	t.Helper()
	store := &wsStore{ws: &writerseeker.WriterSeeker{}}
	f, err := New(store)
	if err != nil {
		t.Fatal(err)
	}
	return f, store
}

func TestFile_PrimitivesRoundTrip(t *testing.T) {
	f, _ := newMemFile(t)
	if err := f.WriteByte(0xab); err != nil {
		t.Fatal(err)
	}
	f.WriteUint16(0xbeef)
	f.WriteInt16(-2)
	f.WriteUint32(0xcafebabe)
	f.WriteInt32(-123456)
	f.WriteUint64(0x1122334455667788)
	f.WriteInt64(-98765432101234)
	f.WriteFloat32(3.5)
	f.WriteFloat64(-2.25)
	if err := f.WriteUTF("gvrs"); err != nil {
		t.Fatal(err)
	}

	if err := f.Seek(0); err != nil {
		t.Fatal(err)
	}
	if got, _ := f.ReadByte(); got != 0xab {
		t.Errorf("got %#x, want 0xab", got)
	}
	if got, _ := f.ReadUint16(); got != 0xbeef {
		t.Errorf("got %#x, want 0xbeef", got)
	}
	if got, _ := f.ReadInt16(); got != -2 {
		t.Errorf("got %d, want -2", got)
	}
	if got, _ := f.ReadUint32(); got != 0xcafebabe {
		t.Errorf("got %#x, want 0xcafebabe", got)
	}
	if got, _ := f.ReadInt32(); got != -123456 {
		t.Errorf("got %d, want -123456", got)
	}
	if got, _ := f.ReadUint64(); got != 0x1122334455667788 {
		t.Errorf("got %#x, want 0x1122334455667788", got)
	}
	if got, _ := f.ReadInt64(); got != -98765432101234 {
		t.Errorf("got %d, want -98765432101234", got)
	}
	if got, _ := f.ReadFloat32(); got != 3.5 {
		t.Errorf("got %f, want 3.5", got)
	}
	if got, _ := f.ReadFloat64(); got != -2.25 {
		t.Errorf("got %f, want -2.25", got)
	}
	if got, _ := f.ReadUTF(); got != "gvrs" {
		t.Errorf("got %q, want %q", got, "gvrs")
	}
}

func TestFile_LittleEndianOnDisk(t *testing.T) {
	f, store := newMemFile(t)
	f.WriteUint32(0x01020304)
	f.WriteFloat32(float32(math.Float32frombits(0x0a0b0c0d)))
	if err := f.Flush(); err != nil {
		t.Fatal(err)
	}

	want := []byte{4, 3, 2, 1, 0x0d, 0x0c, 0x0b, 0x0a}
	if got := store.bytes(); !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFile_UTFPrefixIsBigEndian(t *testing.T) {
	// Java's DataOutput.writeUTF writes a big-endian length prefix,
	// unlike everything else in the file.
	f, store := newMemFile(t)
	if err := f.WriteUTF("ab"); err != nil {
		t.Fatal(err)
	}
	if err := f.Flush(); err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 2, 'a', 'b'}
	if got := store.bytes(); !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFile_UTFTooLong(t *testing.T) {
	f, _ := newMemFile(t)
	if err := f.WriteUTF(string(make([]byte, 70000))); err == nil {
		t.Error("want error for over-long UTF string, got nil")
	}
}

func TestFile_ShortRead(t *testing.T) {
	f, _ := newMemFile(t)
	f.WriteUint16(7)
	f.Seek(0)
	if _, err := f.ReadUint32(); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("got %v, want ErrUnexpectedEOF", err)
	}
}

func TestFile_OverwriteInPlace(t *testing.T) {
	f, store := newMemFile(t)
	f.WriteFully([]byte{0, 1, 2, 3, 4, 5, 6, 7})
	f.Seek(2)
	f.WriteFully([]byte{0xaa, 0xbb})
	if err := f.Flush(); err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 1, 0xaa, 0xbb, 4, 5, 6, 7}
	if got := store.bytes(); !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFile_ReadBackUnflushedWrite(t *testing.T) {
	f, _ := newMemFile(t)
	f.WriteUint32(42)
	f.Seek(0)
	if got, err := f.ReadUint32(); err != nil || got != 42 {
		t.Errorf("got %d, %v; want 42, nil", got, err)
	}
}

func TestFile_CrossPageWrites(t *testing.T) {
	// Write a payload that spans several page buffers, then read it
	// back at scattered positions.
	f, _ := newMemFile(t)
	data := make([]byte, 3*pageSize+100)
	for i := range data {
		data[i] = byte(i * 7)
	}
	if err := f.WriteFully(data); err != nil {
		t.Fatal(err)
	}
	if got, want := f.Length(), int64(len(data)); got != want {
		t.Fatalf("got length %d, want %d", got, want)
	}
	for _, pos := range []int64{0, pageSize - 1, pageSize, 2*pageSize + 17, int64(len(data)) - 1} {
		f.Seek(pos)
		got, err := f.ReadByte()
		if err != nil {
			t.Fatal(err)
		}
		if want := byte(pos * 7); got != want {
			t.Errorf("byte at %d: got %d, want %d", pos, got, want)
		}
	}
}

func TestFile_Int32ArrayRoundTrip(t *testing.T) {
	f, _ := newMemFile(t)
	src := []int32{1, -1, 1 << 30, -(1 << 30), 0}
	if err := f.WriteInt32Array(src); err != nil {
		t.Fatal(err)
	}
	f.Seek(0)
	dst := make([]int32, len(src))
	if err := f.ReadInt32Array(dst); err != nil {
		t.Fatal(err)
	}
	for i := range src {
		if src[i] != dst[i] {
			t.Errorf("index %d: got %d, want %d", i, dst[i], src[i])
		}
	}
}

func TestFile_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.bin")
	f, err := OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteUint64(0xfeedface)
	f.Seek(1000)
	f.WriteUTF("hello")
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	g, err := OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()
	if got, _ := g.ReadUint64(); got != 0xfeedface {
		t.Errorf("got %#x, want 0xfeedface", got)
	}
	g.Seek(1000)
	if got, _ := g.ReadUTF(); got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}
