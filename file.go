// SPDX-License-Identifier: MIT

// Package gvrs implements a random-access store for very large 2D
// raster grids. A file is organized as tiles; a tile-addressed cache
// with write-back, a free-space allocator, pluggable per-tile
// compression codecs, a directory of tile locations and a side
// channel of metadata records form the engine.
package gvrs

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cartogrid/gvrs/braf"
	"github.com/cartogrid/gvrs/codec"
)

// gvrsMagic identifies a gvrs raster file: the ASCII label padded to
// 12 bytes.
var gvrsMagic = []byte("gvrs raster\x00")

const (
	versionMajor = 1
	versionMinor = 1

	offsetModTime      = 32
	offsetOpenTime     = 40
	offsetContent      = 48
	offsetFreespaceDir = 56
	offsetMetadataDir  = 64
	offsetTileDir      = 80
)

// Metadata names reserved for the codec bookkeeping written at file
// creation. GvrsJavaCodecs carries class paths of the original Java
// ecosystem; it is preserved on read but ignored for codec dispatch,
// which uses only the identifier list in GvrsCompressionCodecs
// matched against the registry.
const (
	javaCodecsMetadataName        = "GvrsJavaCodecs"
	compressionCodecsMetadataName = "GvrsCompressionCodecs"
)

// File is an open gvrs raster store. A file is single-writer: at most
// one writable handle may exist, enforced through the
// opened-for-writing timestamp in the header. Any number of read-only
// handles may be open concurrently over the same file contents.
type File struct {
	path     string
	b        *braf.File
	spec     *FileSpec
	uuid     uuid.UUID
	writable bool
	closed   bool
	failed   error

	sizeOfHeader int64
	recordMgr    *recordManager
	cache        *tileCache
	elements     []*Element

	timeModified time.Time
}

// Options configure file creation and opening beyond the
// specification itself.
type Options struct {
	// Registry resolves codec identifiers; nil means the default
	// registry with the built-in codecs.
	Registry *codec.Registry
	// CacheSize selects the tile cache bound; the zero value is
	// CacheSmall, so set CacheMedium explicitly when in doubt.
	CacheSize CacheSize
	// CodecWorkers bounds the concurrent codec trials per tile
	// write; zero means the package default.
	CodecWorkers int
}

// Create builds a new gvrs file at path from the given specification.
// The specification becomes immutable once the file exists.
func Create(path string, spec *FileSpec) (*File, error) {
	return CreateWithOptions(path, spec, Options{CacheSize: CacheMedium})
}

// CreateWithOptions is Create with explicit runtime options.
func CreateWithOptions(path string, spec *FileSpec, opts Options) (*File, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: nil specification", ErrInvalidSpecification)
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	master, err := resolveCodecs(spec, opts)
	if err != nil {
		return nil, err
	}

	b, err := braf.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	f := &File{
		path:     path,
		b:        b,
		spec:     spec,
		uuid:     uuid.New(),
		writable: true,
	}
	if err := f.writeHeader(); err != nil {
		b.Close()
		return nil, err
	}
	f.recordMgr = newRecordManager(b, spec, master, f.sizeOfHeader)
	f.cache = newTileCache(spec, f.recordMgr, opts.CacheSize)
	f.buildElements()
	f.cache.onEvict = f.invalidateElementCaches

	if spec.CompressionEnabled() {
		java, _ := NewMetadataWithID(javaCodecsMetadataName, 1, MetadataASCII)
		java.SetString("")
		if err := f.recordMgr.writeMetadata(java); err != nil {
			b.Close()
			return nil, err
		}
		ids, _ := NewMetadataWithID(compressionCodecsMetadataName, 1, MetadataASCII)
		ids.SetString(strings.Join(spec.CodecIDs, "|"))
		if err := f.recordMgr.writeMetadata(ids); err != nil {
			b.Close()
			return nil, err
		}
	}
	return f, nil
}

// Open opens an existing gvrs file for reading.
func Open(path string) (*File, error) {
	return open(path, false, Options{CacheSize: CacheMedium})
}

// OpenWritable opens an existing gvrs file for reading and writing,
// taking the single-writer slot.
func OpenWritable(path string) (*File, error) {
	return open(path, true, Options{CacheSize: CacheMedium})
}

// OpenWithOptions opens a file with explicit runtime options.
func OpenWithOptions(path string, writable bool, opts Options) (*File, error) {
	return open(path, writable, opts)
}

func open(path string, writable bool, opts Options) (*File, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	b, err := braf.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	f := &File{path: path, b: b, writable: writable}
	if err := f.readHeaderAndDirectories(opts); err != nil {
		b.Close()
		return nil, err
	}
	return f, nil
}

func resolveCodecs(spec *FileSpec, opts Options) (*codec.Master, error) {
	registry := opts.Registry
	if registry == nil {
		registry = codec.DefaultRegistry()
	}
	codecs := make([]codec.Codec, len(spec.CodecIDs))
	for i, id := range spec.CodecIDs {
		if c, ok := registry.Get(id); ok {
			codecs[i] = c
		} else {
			// An unregistered identifier keeps its slot so that the
			// indexes of the other codecs stay aligned with the
			// file; decoding a tile that used it fails cleanly.
			codecs[i] = codec.Codec{ID: id}
		}
	}
	m := codec.NewMaster(codecs)
	if opts.CodecWorkers > 0 {
		m.SetWorkers(opts.CodecWorkers)
	}
	return m, nil
}

func (f *File) buildElements() {
	f.elements = make([]*Element, len(f.spec.Elements))
	for i, e := range f.spec.Elements {
		f.elements[i] = &Element{f: f, spec: e, elementIndex: i, tileIndex: -1}
	}
}

func (f *File) invalidateElementCaches(tileIndex int) {
	for _, e := range f.elements {
		if e.tileIndex == tileIndex {
			e.tileIndex = -1
			e.tileElem = nil
		}
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// writeHeader lays down the fixed header prefix, the specification
// payload, and the zero padding that brings the content base to a
// multiple of 8 with four bytes reserved for the header checksum.
func (f *File) writeHeader() error {
	b := f.b
	if err := b.Seek(0); err != nil {
		return err
	}
	if err := b.WriteFully(gvrsMagic); err != nil {
		return err
	}
	if err := b.WriteByte(versionMajor); err != nil {
		return err
	}
	if err := b.WriteByte(versionMinor); err != nil {
		return err
	}
	if err := b.WriteZeroes(2); err != nil {
		return err
	}
	// UUID, low 8 bytes then high 8 bytes.
	if err := b.WriteFully(f.uuid[8:16]); err != nil {
		return err
	}
	if err := b.WriteFully(f.uuid[0:8]); err != nil {
		return err
	}
	now := nowMillis()
	f.timeModified = time.UnixMilli(now)
	if err := b.WriteInt64(now); err != nil { // time last modified
		return err
	}
	if err := b.WriteInt64(now); err != nil { // opened for writing
		return err
	}
	if err := b.WriteInt64(0); err != nil { // offset to content
		return err
	}
	if err := b.WriteInt64(0); err != nil { // freespace directory
		return err
	}
	if err := b.WriteInt64(0); err != nil { // metadata directory
		return err
	}
	if err := b.WriteUint16(1); err != nil { // number of levels
		return err
	}
	if err := b.WriteZeroes(6); err != nil {
		return err
	}
	if err := b.WriteInt64(0); err != nil { // tile directory
		return err
	}
	if err := b.WriteZeroes(16); err != nil {
		return err
	}
	if err := f.spec.writePayload(b); err != nil {
		return err
	}
	if err := b.WriteZeroes(8); err != nil {
		return err
	}
	f.sizeOfHeader = roundUp8(b.Position() + 4)
	if err := b.WriteZeroes(f.sizeOfHeader - b.Position()); err != nil {
		return err
	}
	if err := b.Seek(offsetContent); err != nil {
		return err
	}
	if err := b.WriteInt64(f.sizeOfHeader); err != nil {
		return err
	}
	return f.updateHeaderChecksum()
}

// updateHeaderChecksum recomputes the header CRC over bytes
// [0, contentBase-4) and stores it at contentBase-4, or zero when
// checksums are disabled.
func (f *File) updateHeaderChecksum() error {
	var crc uint32
	if f.spec.ChecksumEnabled {
		data := make([]byte, f.sizeOfHeader-4)
		if err := f.b.Seek(0); err != nil {
			return err
		}
		if err := f.b.ReadFully(data); err != nil {
			return err
		}
		crc = crc32c(data)
	}
	if err := f.b.Seek(f.sizeOfHeader - 4); err != nil {
		return err
	}
	return f.b.WriteUint32(crc)
}

func (f *File) readHeaderAndDirectories(opts Options) error {
	b := f.b
	magic := make([]byte, 12)
	if err := b.ReadFully(magic); err != nil {
		return err
	}
	if !bytes.Equal(magic[:11], gvrsMagic[:11]) {
		return fmt.Errorf("%w: %q", ErrBadMagic, magic)
	}
	version, err := b.ReadByte()
	if err != nil {
		return err
	}
	subversion, err := b.ReadByte()
	if err != nil {
		return err
	}
	if version != versionMajor || subversion > 1 {
		return fmt.Errorf("%w: %d.%d", ErrUnsupportedVersion, version, subversion)
	}
	reserved := make([]byte, 2)
	if err := b.ReadFully(reserved); err != nil {
		return err
	}
	var u [16]byte
	if err := b.ReadFully(u[8:16]); err != nil { // low 8 bytes first
		return err
	}
	if err := b.ReadFully(u[0:8]); err != nil {
		return err
	}
	// Swap halves back: the file stores low bytes first.
	copy(f.uuid[0:8], u[0:8])
	copy(f.uuid[8:16], u[8:16])

	modMillis, err := b.ReadInt64()
	if err != nil {
		return err
	}
	f.timeModified = time.UnixMilli(modMillis)
	openTime, err := b.ReadInt64()
	if err != nil {
		return err
	}
	if openTime != 0 {
		return fmt.Errorf("%w: opened-for-writing time %d", ErrFileBusyOrUnclean, openTime)
	}
	if f.sizeOfHeader, err = b.ReadInt64(); err != nil {
		return err
	}
	freespaceDirPos, err := b.ReadInt64()
	if err != nil {
		return err
	}
	metadataDirPos, err := b.ReadInt64()
	if err != nil {
		return err
	}
	nLevels, err := b.ReadUint16()
	if err != nil {
		return err
	}
	if nLevels != 1 {
		return fmt.Errorf("%w: %d raster levels", ErrUnsupportedVersion, nLevels)
	}
	if err := b.ReadFully(make([]byte, 6)); err != nil {
		return err
	}
	tileDirPos, err := b.ReadInt64()
	if err != nil {
		return err
	}
	if err := b.ReadFully(make([]byte, 16)); err != nil {
		return err
	}
	if f.spec, err = readFileSpec(b); err != nil {
		return err
	}

	if f.spec.ChecksumEnabled {
		data := make([]byte, f.sizeOfHeader-4)
		if err := b.Seek(0); err != nil {
			return err
		}
		if err := b.ReadFully(data); err != nil {
			return err
		}
		want := crc32c(data)
		got, err := b.ReadUint32()
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("%w: stored %#x, computed %#x", ErrHeaderChecksumMismatch, got, want)
		}
	}

	master, err := resolveCodecs(f.spec, opts)
	if err != nil {
		return err
	}
	f.recordMgr = newRecordManager(f.b, f.spec, master, f.sizeOfHeader)
	f.cache = newTileCache(f.spec, f.recordMgr, opts.CacheSize)
	f.buildElements()
	f.cache.onEvict = f.invalidateElementCaches

	if tileDirPos != 0 {
		if err := f.recordMgr.readTileDirectoryRecord(tileDirPos); err != nil {
			return err
		}
		if freespaceDirPos != 0 {
			if err := f.recordMgr.readFreespaceDirectoryRecord(freespaceDirPos); err != nil {
				return err
			}
		}
		if metadataDirPos != 0 {
			if err := f.recordMgr.readMetadataDirectoryRecord(metadataDirPos); err != nil {
				return err
			}
		}
	} else {
		// The persisted directories are missing; rebuild them by
		// scanning the records.
		if err := f.recordMgr.scanFileForTiles(); err != nil {
			return err
		}
	}

	if f.writable {
		// Take the single-writer slot.
		if err := b.Seek(offsetOpenTime); err != nil {
			return err
		}
		if err := b.WriteInt64(nowMillis()); err != nil {
			return err
		}
		if err := b.Flush(); err != nil {
			return err
		}
		// The directory records will be stale the moment anything is
		// written; release them now and regenerate them at close.
		for _, pos := range []int64{tileDirPos, metadataDirPos, freespaceDirPos} {
			if pos != 0 {
				if err := f.recordMgr.fileSpaceDealloc(pos); err != nil {
					return err
				}
			}
		}
		for _, off := range []int64{offsetTileDir, offsetMetadataDir, offsetFreespaceDir} {
			if err := b.Seek(off); err != nil {
				return err
			}
			if err := b.WriteInt64(0); err != nil {
				return err
			}
		}
	}
	return nil
}

// Spec returns the file specification. The caller must not modify it.
func (f *File) Spec() *FileSpec { return f.spec }

// UUID returns the identity stamped into the file at creation.
func (f *File) UUID() uuid.UUID { return f.uuid }

// TimeLastModified returns the modification timestamp stored in the
// header.
func (f *File) TimeLastModified() time.Time { return f.timeModified }

// Writable reports whether the handle holds the single-writer slot.
func (f *File) Writable() bool { return f.writable && !f.closed }

// Element returns the access handle for the named element.
func (f *File) Element(name string) (*Element, bool) {
	for _, e := range f.elements {
		if e.spec.Name == name {
			return e, true
		}
	}
	return nil, false
}

// Elements returns the access handles in tuple order.
func (f *File) Elements() []*Element { return f.elements }

// CacheStats returns the tile cache access counters.
func (f *File) CacheStats() TileCacheStats { return f.cache.stats }

// FreeSpace summarizes the free-space list.
func (f *File) FreeSpace() FreeSpaceProfile { return f.recordMgr.freeSpaceProfile() }

// SetTileCacheSize adjusts the cache bound for subsequent accesses.
func (f *File) SetTileCacheSize(size CacheSize) {
	f.cache.setCapacity(size.capacity(f.spec))
}

func (f *File) checkWritable() error {
	if f.closed {
		return braf.ErrClosed
	}
	if !f.writable {
		return ErrNotOpenForWriting
	}
	return f.failed
}

// fail latches a write failure: the file is considered unusable for
// further writes, though close still tries to leave it inspectable.
func (f *File) fail(err error) error {
	if f.failed == nil {
		f.failed = err
	}
	return err
}

// WriteMetadata stores a metadata record.
func (f *File) WriteMetadata(m *Metadata) error {
	if err := f.checkWritable(); err != nil {
		return err
	}
	if !isIdentifier(m.Name, maxNameLength) {
		return fmt.Errorf("%w: %q", ErrInvalidMetadataName, m.Name)
	}
	if err := f.recordMgr.writeMetadata(m); err != nil {
		return f.fail(err)
	}
	return nil
}

// ReadMetadata returns the metadata record stored under
// (name, recordID), or nil if there is none.
func (f *File) ReadMetadata(name string, recordID int32) (*Metadata, error) {
	ref, ok := f.recordMgr.metaDir.get(name, recordID)
	if !ok {
		return nil, nil
	}
	return f.recordMgr.readMetadataRef(ref)
}

// ReadMetadataByName returns all records for name, sorted by
// (name, recordID).
func (f *File) ReadMetadataByName(name string) ([]*Metadata, error) {
	var result []*Metadata
	for _, ref := range f.recordMgr.metaDir.sorted() {
		if ref.name == name {
			m, err := f.recordMgr.readMetadataRef(ref)
			if err != nil {
				return nil, err
			}
			result = append(result, m)
		}
	}
	return result, nil
}

// MetadataKeys lists the (name, recordID) pairs present, sorted.
func (f *File) MetadataKeys() []string {
	refs := f.recordMgr.metaDir.sorted()
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = metadataKey(ref.name, ref.recordID)
	}
	return keys
}

// DeleteMetadata removes a metadata record if present.
func (f *File) DeleteMetadata(name string, recordID int32) error {
	if err := f.checkWritable(); err != nil {
		return err
	}
	if err := f.recordMgr.deleteMetadata(name, recordID); err != nil {
		return f.fail(err)
	}
	return nil
}

// Flush writes all dirty cached tiles and pushes buffered bytes to
// the operating system.
func (f *File) Flush() error {
	if f.closed {
		return braf.ErrClosed
	}
	if f.writable {
		if err := f.cache.flush(); err != nil {
			return f.fail(err)
		}
	}
	return f.b.Flush()
}

// Close flushes dirty tiles, persists the freespace, metadata and
// tile directories, finalizes the header, and releases the backing
// file. Close is idempotent.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if !f.writable {
		return f.b.Close()
	}

	err := f.cache.flush()
	if err == nil {
		err = f.finalizeHeader()
	}
	f.cache.clear()
	if cerr := f.b.Close(); err == nil {
		err = cerr
	}
	return err
}

func (f *File) finalizeHeader() error {
	tileDirPos, err := f.recordMgr.writeTileDirectoryRecord()
	if err != nil {
		return err
	}
	metaDirPos, err := f.recordMgr.writeMetadataDirectoryRecord()
	if err != nil {
		return err
	}
	freeDirPos, err := f.recordMgr.writeFreespaceDirectoryRecord()
	if err != nil {
		return err
	}
	b := f.b
	for _, field := range []struct {
		off int64
		val int64
	}{
		{offsetTileDir, tileDirPos},
		{offsetMetadataDir, metaDirPos},
		{offsetFreespaceDir, freeDirPos},
		{offsetModTime, nowMillis()},
		{offsetOpenTime, 0},
	} {
		if err := b.Seek(field.off); err != nil {
			return err
		}
		if err := b.WriteInt64(field.val); err != nil {
			return err
		}
	}
	return f.updateHeaderChecksum()
}
