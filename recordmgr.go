// SPDX-License-Identifier: MIT

package gvrs

import (
	"fmt"

	"github.com/cartogrid/gvrs/braf"
	"github.com/cartogrid/gvrs/codec"
)

// Record framing constants. Every record starts with a 4-byte length
// and a 1-byte type followed by 3 reserved bytes, and ends with a
// 4-byte CRC-32C slot. Records are 8-byte aligned and sized in
// multiples of 8.
const (
	recordHeaderSize   = 8
	recordOverheadSize = 12 // header plus checksum slot
	minRecordSize      = 16

	// A free block is only split when the leftover can hold a
	// minimally useful record of its own.
	minSplitSurplus = 32
)

type recordType uint8

const (
	recordFreespace          recordType = 0
	recordMetadata           recordType = 1
	recordTile               recordType = 2
	recordFreespaceDirectory recordType = 3
	recordMetadataDirectory  recordType = 4
	recordTileDirectory      recordType = 5
)

func (t recordType) valid() bool { return t <= recordTileDirectory }

func (t recordType) String() string {
	switch t {
	case recordFreespace:
		return "freespace"
	case recordMetadata:
		return "metadata"
	case recordTile:
		return "tile"
	case recordFreespaceDirectory:
		return "freespace directory"
	case recordMetadataDirectory:
		return "metadata directory"
	case recordTileDirectory:
		return "tile directory"
	}
	return fmt.Sprintf("invalid(%d)", uint8(t))
}

// freeNode is one reusable span of the file. The list is kept in
// strictly ascending position order and never holds two adjacent
// blocks: deallocation coalesces eagerly.
type freeNode struct {
	pos  int64 // record position, start of the record header
	size int64 // block size in bytes, multiple of 8
	next *freeNode
}

// recordManager owns the record lifecycle of one file: allocation from
// the free list, deallocation with coalescing, checksum stamping, and
// the tile, metadata and directory record I/O built on top.
type recordManager struct {
	b         *braf.File
	spec      *FileSpec
	codecs    *codec.Master
	tileDir   tileDirectory
	metaDir   *metadataDirectory
	freeList  *freeNode
	basePos   int64 // content base, i.e. the header size
	checksums bool
}

func newRecordManager(b *braf.File, spec *FileSpec, codecs *codec.Master, basePos int64) *recordManager {
	return &recordManager{
		b:         b,
		spec:      spec,
		codecs:    codecs,
		tileDir:   newTileDirectory(spec),
		metaDir:   newMetadataDirectory(),
		basePos:   basePos,
		checksums: spec.ChecksumEnabled,
	}
}

func roundUp8(v int64) int64 { return (v + 7) &^ 7 }

// fileSpaceAlloc reserves a record that can hold sizeOfContent bytes
// of payload, writes the record header, and returns the content
// position (immediately after the header). First-fit over the free
// list; an exact match or a block that leaves a viable split wins.
func (r *recordManager) fileSpaceAlloc(sizeOfContent int64, rt recordType) (int64, error) {
	sizeToStore := roundUp8(sizeOfContent + recordOverheadSize)
	minSizeForSplit := sizeToStore + minSplitSurplus

	var prior *freeNode
	for node := r.freeList; node != nil; node = node.next {
		if node.size == sizeToStore || node.size >= minSizeForSplit {
			recordPos := node.pos
			if node.size == sizeToStore {
				r.unlinkFree(prior, node)
			} else {
				// Carve the record off the front of the block; the
				// leftover stays in the list at its new position.
				node.pos = recordPos + sizeToStore
				node.size -= sizeToStore
				if err := r.writeFreeRecordHeader(node.pos, node.size); err != nil {
					return 0, err
				}
			}
			if err := r.writeRecordHeader(recordPos, sizeToStore, rt); err != nil {
				return 0, err
			}
			return recordPos + recordHeaderSize, nil
		}
		if node.next == nil && node.size <= sizeToStore && node.pos+node.size == r.b.Length() {
			// The trailing free block abuts EOF; reuse its position
			// and let the record extend the file.
			recordPos := node.pos
			r.unlinkFree(prior, node)
			if err := r.writeRecordHeader(recordPos, sizeToStore, rt); err != nil {
				return 0, err
			}
			return recordPos + recordHeaderSize, nil
		}
		prior = node
	}

	recordPos := r.b.Length()
	if err := r.writeRecordHeader(recordPos, sizeToStore, rt); err != nil {
		return 0, err
	}
	return recordPos + recordHeaderSize, nil
}

func (r *recordManager) unlinkFree(prior, node *freeNode) {
	if prior == nil {
		r.freeList = node.next
	} else {
		prior.next = node.next
	}
	node.next = nil
}

func (r *recordManager) writeRecordHeader(recordPos, size int64, rt recordType) error {
	if err := r.b.Seek(recordPos); err != nil {
		return err
	}
	if err := r.b.WriteUint32(uint32(size)); err != nil {
		return err
	}
	if err := r.b.WriteByte(byte(rt)); err != nil {
		return err
	}
	if err := r.b.WriteZeroes(3); err != nil {
		return err
	}
	return nil
}

// writeFreeRecordHeader stamps a free-space record header and its
// checksum. The checksum of a free record covers only the 8 header
// bytes, with the body treated as zero-filled, so the (possibly huge)
// body never needs rewriting.
func (r *recordManager) writeFreeRecordHeader(recordPos, size int64) error {
	if err := r.writeRecordHeader(recordPos, size, recordFreespace); err != nil {
		return err
	}
	var crc uint32
	if r.checksums {
		crc = crc32c(freeRecordHeaderBytes(size))
	}
	if err := r.b.Seek(recordPos + size - 4); err != nil {
		return err
	}
	return r.b.WriteUint32(crc)
}

func freeRecordHeaderBytes(size int64) []byte {
	return []byte{
		byte(size), byte(size >> 8), byte(size >> 16), byte(size >> 24),
		byte(recordFreespace), 0, 0, 0,
	}
}

// fileSpaceDealloc releases the record whose content starts at
// contentPos, merging it with any abutting free blocks.
func (r *recordManager) fileSpaceDealloc(contentPos int64) error {
	recordPos := contentPos - recordHeaderSize
	if err := r.b.Seek(recordPos); err != nil {
		return err
	}
	size32, err := r.b.ReadUint32()
	if err != nil {
		return err
	}
	size := int64(size32)

	var prior *freeNode
	next := r.freeList
	for next != nil && next.pos < recordPos {
		prior = next
		next = next.next
	}

	switch {
	case prior != nil && prior.pos+prior.size == recordPos:
		prior.size += size
		if next != nil && prior.pos+prior.size == next.pos {
			prior.size += next.size
			prior.next = next.next
		}
		return r.writeFreeRecordHeader(prior.pos, prior.size)
	case next != nil && recordPos+size == next.pos:
		next.pos = recordPos
		next.size += size
		return r.writeFreeRecordHeader(next.pos, next.size)
	default:
		node := &freeNode{pos: recordPos, size: size, next: next}
		if prior == nil {
			r.freeList = node
		} else {
			prior.next = node
		}
		return r.writeFreeRecordHeader(recordPos, size)
	}
}

// fileSpaceFinishRecord zero-pads the record tail and stamps the
// checksum slot. Every allocated record must be finished once its
// content is written.
func (r *recordManager) fileSpaceFinishRecord(contentPos, contentSize int64) error {
	recordPos := contentPos - recordHeaderSize
	if err := r.b.Seek(recordPos); err != nil {
		return err
	}
	size32, err := r.b.ReadUint32()
	if err != nil {
		return err
	}
	size := int64(size32)
	padStart := contentPos + contentSize
	checksumPos := recordPos + size - 4
	if padStart > checksumPos {
		return fmt.Errorf("gvrs: record content of %d bytes overruns record of %d bytes", contentSize, size)
	}
	if err := r.b.Seek(padStart); err != nil {
		return err
	}
	if err := r.b.WriteZeroes(checksumPos - padStart); err != nil {
		return err
	}
	var crc uint32
	if r.checksums {
		data := make([]byte, size-4)
		if err := r.b.Seek(recordPos); err != nil {
			return err
		}
		if err := r.b.ReadFully(data); err != nil {
			return err
		}
		crc = crc32c(data)
	}
	if err := r.b.Seek(checksumPos); err != nil {
		return err
	}
	return r.b.WriteUint32(crc)
}

// ------------------------------------------------------------- tiles

func (r *recordManager) tileExists(tileIndex int) bool {
	return r.tileDir.isFilePositionSet(tileIndex)
}

func (r *recordManager) readTile(t *rasterTile) error {
	pos := r.tileDir.getFilePosition(t.index)
	if pos == 0 {
		t.setToNullState()
		return nil
	}
	if err := r.b.Seek(pos); err != nil {
		return err
	}
	storedIndex, err := r.b.ReadInt32()
	if err != nil {
		return err
	}
	if int(storedIndex) != t.index {
		return fmt.Errorf("gvrs: tile record at %d holds index %d, want %d", pos, storedIndex, t.index)
	}
	return t.readPayload(r.b, r.codecs)
}

func (r *recordManager) writeTile(t *rasterTile) error {
	existing := r.tileDir.getFilePosition(t.index)

	// A tile holding nothing but fill values is stored as
	// nonexistent: release the record and zero the directory slot.
	if !t.hasValidData() {
		if existing != 0 {
			if err := r.fileSpaceDealloc(existing); err != nil {
				return err
			}
			if err := r.setTilePosition(t.index, 0); err != nil {
				return err
			}
		}
		return nil
	}

	standardSize := int64(t.standardPayloadSize())

	if r.spec.CompressionEnabled() {
		// The compressed size changes from write to write, so the
		// old record is released up front rather than rewritten.
		if existing != 0 {
			if err := r.fileSpaceDealloc(existing); err != nil {
				return err
			}
			if err := r.setTilePosition(t.index, 0); err != nil {
				return err
			}
		}
		packed := t.getCompressedPacking(r.codecs)
		if packed != nil && int64(len(packed))+4 < standardSize {
			contentPos, err := r.fileSpaceAlloc(int64(len(packed))+4, recordTile)
			if err != nil {
				return err
			}
			if err := r.b.Seek(contentPos); err != nil {
				return err
			}
			if err := r.b.WriteInt32(int32(t.index)); err != nil {
				return err
			}
			if err := r.b.WriteFully(packed); err != nil {
				return err
			}
			if err := r.fileSpaceFinishRecord(contentPos, int64(len(packed))+4); err != nil {
				return err
			}
			return r.setTilePosition(t.index, contentPos)
		}
		existing = 0 // fall through to a fresh standard-format record
	}

	if existing == 0 {
		contentPos, err := r.fileSpaceAlloc(standardSize, recordTile)
		if err != nil {
			return err
		}
		if err := r.b.Seek(contentPos); err != nil {
			return err
		}
		if err := t.writeStandardPayload(r.b); err != nil {
			return err
		}
		if err := r.fileSpaceFinishRecord(contentPos, standardSize); err != nil {
			return err
		}
		return r.setTilePosition(t.index, contentPos)
	}

	// Uncompressed tiles have a stable record size and are rewritten
	// in place.
	if err := r.b.Seek(existing); err != nil {
		return err
	}
	if err := t.writeStandardPayload(r.b); err != nil {
		return err
	}
	return r.fileSpaceFinishRecord(existing, standardSize)
}

// setTilePosition stores a tile's content position, promoting the
// directory from compact to extended addressing the first time a
// position beyond the 2^35-byte reach appears.
func (r *recordManager) setTilePosition(tileIndex int, position int64) error {
	if position >= maxCompactPosition && !r.tileDir.usesExtendedFileOffset() {
		r.tileDir = r.tileDir.getExtendedDirectory()
	}
	return r.tileDir.setFilePosition(tileIndex, position)
}

// ---------------------------------------------------------- metadata

// writeMetadata stores a metadata record. An object with a unique
// record ID replaces any prior record under its key; otherwise the
// next free record ID for the name is assigned.
func (r *recordManager) writeMetadata(m *Metadata) error {
	if m.uniqueRecordID {
		if ref, ok := r.metaDir.get(m.Name, m.RecordID); ok {
			if err := r.fileSpaceDealloc(ref.filePos); err != nil {
				return err
			}
			r.metaDir.remove(m.Name, m.RecordID)
		}
	} else {
		id, err := r.metaDir.nextRecordID(m.Name)
		if err != nil {
			return err
		}
		m.RecordID = id
		m.uniqueRecordID = true
	}
	size := int64(m.storageSize())
	contentPos, err := r.fileSpaceAlloc(size, recordMetadata)
	if err != nil {
		return err
	}
	if err := r.b.Seek(contentPos); err != nil {
		return err
	}
	if err := m.write(r.b); err != nil {
		return err
	}
	if err := r.fileSpaceFinishRecord(contentPos, size); err != nil {
		return err
	}
	r.metaDir.put(metadataRef{name: m.Name, recordID: m.RecordID, filePos: contentPos})
	return nil
}

func (r *recordManager) readMetadataRef(ref metadataRef) (*Metadata, error) {
	if err := r.b.Seek(ref.filePos); err != nil {
		return nil, err
	}
	return readMetadata(r.b)
}

func (r *recordManager) deleteMetadata(name string, recordID int32) error {
	ref, ok := r.metaDir.get(name, recordID)
	if !ok {
		return nil
	}
	if err := r.fileSpaceDealloc(ref.filePos); err != nil {
		return err
	}
	r.metaDir.remove(name, recordID)
	return nil
}

// -------------------------------------------------------- directories

const directoryPreambleVersion = 1

// writeTileDirectoryRecord persists the tile directory and returns
// the record content position. The 8-byte preamble carries the
// version and the extended-offset flag.
func (r *recordManager) writeTileDirectoryRecord() (int64, error) {
	size := int64(8 + r.tileDir.getStorageSize())
	contentPos, err := r.fileSpaceAlloc(size, recordTileDirectory)
	if err != nil {
		return 0, err
	}
	if err := r.b.Seek(contentPos); err != nil {
		return 0, err
	}
	if err := r.b.WriteByte(directoryPreambleVersion); err != nil {
		return 0, err
	}
	if err := r.b.WriteByte(boolByte(r.tileDir.usesExtendedFileOffset())); err != nil {
		return 0, err
	}
	if err := r.b.WriteZeroes(6); err != nil {
		return 0, err
	}
	if err := r.tileDir.writeTilePositions(r.b); err != nil {
		return 0, err
	}
	if err := r.fileSpaceFinishRecord(contentPos, size); err != nil {
		return 0, err
	}
	return contentPos, nil
}

func (r *recordManager) readTileDirectoryRecord(contentPos int64) error {
	if err := r.b.Seek(contentPos); err != nil {
		return err
	}
	preamble := make([]byte, 8)
	if err := r.b.ReadFully(preamble); err != nil {
		return err
	}
	if preamble[0] != directoryPreambleVersion {
		return fmt.Errorf("%w: tile directory version %d", ErrUnsupportedVersion, preamble[0])
	}
	if preamble[1] != 0 {
		r.tileDir = &extendedTileDirectory{sparseRect: sparseRect{
			nRowsOfTiles: r.spec.RowsOfTiles, nColsOfTiles: r.spec.ColsOfTiles}}
	} else {
		r.tileDir = &compactTileDirectory{sparseRect: sparseRect{
			nRowsOfTiles: r.spec.RowsOfTiles, nColsOfTiles: r.spec.ColsOfTiles}}
	}
	return r.tileDir.readTilePositions(r.b)
}

// writeMetadataDirectoryRecord persists the metadata directory.
func (r *recordManager) writeMetadataDirectoryRecord() (int64, error) {
	size := int64(8 + r.metaDir.storageSize())
	contentPos, err := r.fileSpaceAlloc(size, recordMetadataDirectory)
	if err != nil {
		return 0, err
	}
	if err := r.b.Seek(contentPos); err != nil {
		return 0, err
	}
	if err := r.b.WriteByte(directoryPreambleVersion); err != nil {
		return 0, err
	}
	if err := r.b.WriteZeroes(7); err != nil {
		return 0, err
	}
	if err := r.metaDir.write(r.b); err != nil {
		return 0, err
	}
	if err := r.fileSpaceFinishRecord(contentPos, size); err != nil {
		return 0, err
	}
	return contentPos, nil
}

func (r *recordManager) readMetadataDirectoryRecord(contentPos int64) error {
	if err := r.b.Seek(contentPos); err != nil {
		return err
	}
	preamble := make([]byte, 8)
	if err := r.b.ReadFully(preamble); err != nil {
		return err
	}
	if preamble[0] != directoryPreambleVersion {
		return fmt.Errorf("%w: metadata directory version %d", ErrUnsupportedVersion, preamble[0])
	}
	return r.metaDir.read(r.b)
}

// writeFreespaceDirectoryRecord persists the free list. Allocating
// the record may itself consume or shrink a free node, so the list is
// serialized only after the allocation; the record was sized for the
// longer list and the surplus is zero padding.
func (r *recordManager) writeFreespaceDirectoryRecord() (int64, error) {
	count := int64(0)
	for node := r.freeList; node != nil; node = node.next {
		count++
	}
	size := 8 + 4 + count*16
	contentPos, err := r.fileSpaceAlloc(size, recordFreespaceDirectory)
	if err != nil {
		return 0, err
	}
	if err := r.b.Seek(contentPos); err != nil {
		return 0, err
	}
	if err := r.b.WriteByte(directoryPreambleVersion); err != nil {
		return 0, err
	}
	if err := r.b.WriteZeroes(7); err != nil {
		return 0, err
	}
	actual := int64(0)
	for node := r.freeList; node != nil; node = node.next {
		actual++
	}
	if err := r.b.WriteInt32(int32(actual)); err != nil {
		return 0, err
	}
	for node := r.freeList; node != nil; node = node.next {
		if err := r.b.WriteInt64(node.pos); err != nil {
			return 0, err
		}
		if err := r.b.WriteInt64(node.size); err != nil {
			return 0, err
		}
	}
	if err := r.fileSpaceFinishRecord(contentPos, 8+4+actual*16); err != nil {
		return 0, err
	}
	return contentPos, nil
}

func (r *recordManager) readFreespaceDirectoryRecord(contentPos int64) error {
	if err := r.b.Seek(contentPos); err != nil {
		return err
	}
	preamble := make([]byte, 8)
	if err := r.b.ReadFully(preamble); err != nil {
		return err
	}
	if preamble[0] != directoryPreambleVersion {
		return fmt.Errorf("%w: freespace directory version %d", ErrUnsupportedVersion, preamble[0])
	}
	n, err := r.b.ReadInt32()
	if err != nil {
		return err
	}
	var head, tail *freeNode
	for i := int32(0); i < n; i++ {
		pos, err := r.b.ReadInt64()
		if err != nil {
			return err
		}
		size, err := r.b.ReadInt64()
		if err != nil {
			return err
		}
		node := &freeNode{pos: pos, size: size}
		if tail == nil {
			head = node
		} else {
			tail.next = node
		}
		tail = node
	}
	r.freeList = head
	return nil
}

// FreeSpaceProfile summarizes the free list for inspection tools.
type FreeSpaceProfile struct {
	Nodes        int
	TotalBytes   int64
	LargestBlock int64
}

func (r *recordManager) freeSpaceProfile() FreeSpaceProfile {
	var p FreeSpaceProfile
	for node := r.freeList; node != nil; node = node.next {
		p.Nodes++
		p.TotalBytes += node.size
		if node.size > p.LargestBlock {
			p.LargestBlock = node.size
		}
	}
	return p
}

// scanFileForTiles rebuilds the free list, tile directory and
// metadata directory by walking every record from the content base to
// EOF. Used when the persisted directories are missing or stale. The
// walk is best-effort: a single checksum failure is skipped, two
// consecutive failures end the scan.
func (r *recordManager) scanFileForTiles() error {
	r.freeList = nil
	r.tileDir = newTileDirectory(r.spec)
	r.metaDir = newMetadataDirectory()
	var freeTail *freeNode

	pos := r.basePos
	length := r.b.Length()
	badStreak := 0
	for pos+minRecordSize <= length {
		if err := r.b.Seek(pos); err != nil {
			return err
		}
		size32, err := r.b.ReadUint32()
		if err != nil {
			return err
		}
		rt, err := r.b.ReadByte()
		if err != nil {
			return err
		}
		size := int64(size32)
		if size < minRecordSize || size%8 != 0 || pos+size > length || !recordType(rt).valid() {
			return fmt.Errorf("%w: type %d, size %d at position %d", ErrInvalidRecordType, rt, size, pos)
		}
		ok := true
		if r.checksums {
			ok = r.verifyRecordChecksum(pos, size, recordType(rt)) == nil
		}
		if !ok {
			badStreak++
			if badStreak >= 2 {
				break
			}
			pos += size
			continue
		}
		badStreak = 0
		switch recordType(rt) {
		case recordTile:
			if err := r.b.Seek(pos + recordHeaderSize); err != nil {
				return err
			}
			tileIndex, err := r.b.ReadInt32()
			if err != nil {
				return err
			}
			if err := r.setTilePosition(int(tileIndex), pos+recordHeaderSize); err != nil {
				return err
			}
		case recordMetadata:
			if err := r.b.Seek(pos + recordHeaderSize); err != nil {
				return err
			}
			m, err := readMetadata(r.b)
			if err != nil {
				return err
			}
			r.metaDir.put(metadataRef{name: m.Name, recordID: m.RecordID, filePos: pos + recordHeaderSize})
		case recordFreespace:
			node := &freeNode{pos: pos, size: size}
			if freeTail == nil {
				r.freeList = node
			} else {
				freeTail.next = node
			}
			freeTail = node
		}
		pos += size
	}
	return nil
}

// verifyRecordChecksum checks the CRC-32C trailer of the record at
// recordPos. Free-space records checksum only their header.
func (r *recordManager) verifyRecordChecksum(recordPos, size int64, rt recordType) error {
	var want uint32
	if rt == recordFreespace {
		want = crc32c(freeRecordHeaderBytes(size))
	} else {
		data := make([]byte, size-4)
		if err := r.b.Seek(recordPos); err != nil {
			return err
		}
		if err := r.b.ReadFully(data); err != nil {
			return err
		}
		want = crc32c(data)
	}
	if err := r.b.Seek(recordPos + size - 4); err != nil {
		return err
	}
	got, err := r.b.ReadUint32()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: record at %d", ErrRecordChecksumMismatch, recordPos)
	}
	return nil
}
