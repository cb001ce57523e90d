// SPDX-License-Identifier: MIT

package gvrs

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/cartogrid/gvrs/braf"
)

// MetadataType identifies the content encoding of a metadata record.
type MetadataType uint8

const (
	MetadataUnspecified   MetadataType = 0
	MetadataInteger       MetadataType = 1
	MetadataShort         MetadataType = 2
	MetadataUnsignedShort MetadataType = 3
	MetadataDouble        MetadataType = 4
	MetadataString        MetadataType = 5
	// MetadataASCII is storage-compatible with MetadataString; the
	// distinction only hints at the character repertoire.
	MetadataASCII MetadataType = 6
)

func (t MetadataType) String() string {
	switch t {
	case MetadataInteger:
		return "integer"
	case MetadataShort:
		return "short"
	case MetadataUnsignedShort:
		return "unsigned short"
	case MetadataDouble:
		return "double"
	case MetadataString:
		return "string"
	case MetadataASCII:
		return "ascii"
	}
	return "unspecified"
}

// Metadata is a named, record-ID-keyed typed blob stored in the side
// channel of a gvrs file.
type Metadata struct {
	Name        string
	RecordID    int32
	Type        MetadataType
	Content     []byte
	Description string

	// uniqueRecordID marks a metadata object that replaces any prior
	// record stored under the same (name, recordID) key. Objects
	// without it get the next free record ID for their name assigned
	// at write time.
	uniqueRecordID bool
}

// NewMetadata starts a metadata object whose record ID is assigned
// when it is written: one higher than the highest existing record ID
// for the name.
func NewMetadata(name string, dataType MetadataType) (*Metadata, error) {
	if !isIdentifier(name, maxNameLength) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMetadataName, name)
	}
	return &Metadata{Name: name, Type: dataType}, nil
}

// NewMetadataWithID starts a metadata object with a caller-chosen
// record ID; writing it replaces any prior record under the same key.
func NewMetadataWithID(name string, recordID int32, dataType MetadataType) (*Metadata, error) {
	m, err := NewMetadata(name, dataType)
	if err != nil {
		return nil, err
	}
	m.RecordID = recordID
	m.uniqueRecordID = true
	return m, nil
}

// Key returns the directory key, name ":" recordID in decimal.
func (m *Metadata) Key() string { return metadataKey(m.Name, m.RecordID) }

func metadataKey(name string, recordID int32) string {
	return fmt.Sprintf("%s:%d", name, recordID)
}

// SetString stores a string payload, replacing prior content.
func (m *Metadata) SetString(s string) {
	b := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(b, uint16(len(s)))
	copy(b[2:], s)
	m.Content = b
}

// GetString interprets the content as a length-prefixed string.
func (m *Metadata) GetString() string {
	if len(m.Content) < 2 {
		return ""
	}
	n := int(binary.BigEndian.Uint16(m.Content))
	if n > len(m.Content)-2 {
		n = len(m.Content) - 2
	}
	return string(m.Content[2 : 2+n])
}

// SetInts stores 32-bit integers as the content.
func (m *Metadata) SetInts(values []int32) {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[i*4:], uint32(v))
	}
	m.Content = b
}

// GetInts interprets the content as 32-bit integers.
func (m *Metadata) GetInts() []int32 {
	values := make([]int32, len(m.Content)/4)
	for i := range values {
		values[i] = int32(binary.LittleEndian.Uint32(m.Content[i*4:]))
	}
	return values
}

// SetDoubles stores 64-bit floats as the content.
func (m *Metadata) SetDoubles(values []float64) {
	b := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
	}
	m.Content = b
}

// GetDoubles interprets the content as 64-bit floats.
func (m *Metadata) GetDoubles() []float64 {
	values := make([]float64, len(m.Content)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(m.Content[i*8:]))
	}
	return values
}

// storageSize is the serialized content size of the metadata record.
func (m *Metadata) storageSize() int {
	size := 2 + len(m.Name) + 4 + 4
	if len(m.Content) > 0 {
		size += 4 + len(m.Content)
	}
	if m.Description != "" {
		size += 2 + len(m.Description)
	}
	return size
}

// write serializes the record content at the current braf position.
func (m *Metadata) write(b *braf.File) error {
	if err := b.WriteUTF(m.Name); err != nil {
		return err
	}
	if err := b.WriteInt32(m.RecordID); err != nil {
		return err
	}
	for _, v := range []byte{
		byte(m.Type),
		boolByte(len(m.Content) > 0),
		boolByte(m.Description != ""),
		0,
	} {
		if err := b.WriteByte(v); err != nil {
			return err
		}
	}
	if len(m.Content) > 0 {
		if err := b.WriteInt32(int32(len(m.Content))); err != nil {
			return err
		}
		if err := b.WriteFully(m.Content); err != nil {
			return err
		}
	}
	if m.Description != "" {
		if err := b.WriteUTF(m.Description); err != nil {
			return err
		}
	}
	return nil
}

// readMetadata deserializes a record content at the current position.
func readMetadata(b *braf.File) (*Metadata, error) {
	name, err := b.ReadUTF()
	if err != nil {
		return nil, err
	}
	m := &Metadata{Name: name, uniqueRecordID: true}
	if m.RecordID, err = b.ReadInt32(); err != nil {
		return nil, err
	}
	flags := make([]byte, 4)
	if err := b.ReadFully(flags); err != nil {
		return nil, err
	}
	m.Type = MetadataType(flags[0])
	if flags[1] != 0 {
		n, err := b.ReadInt32()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("gvrs: corrupt metadata content length %d", n)
		}
		m.Content = make([]byte, n)
		if err := b.ReadFully(m.Content); err != nil {
			return nil, err
		}
	}
	if flags[2] != 0 {
		if m.Description, err = b.ReadUTF(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// metadataRef locates one metadata record in the file.
type metadataRef struct {
	name     string
	recordID int32
	filePos  int64
}

// metadataDirectory maps "name:recordID" keys to record positions.
type metadataDirectory struct {
	refs map[string]metadataRef
}

func newMetadataDirectory() *metadataDirectory {
	return &metadataDirectory{refs: make(map[string]metadataRef)}
}

func (d *metadataDirectory) get(name string, recordID int32) (metadataRef, bool) {
	ref, ok := d.refs[metadataKey(name, recordID)]
	return ref, ok
}

func (d *metadataDirectory) put(ref metadataRef) {
	d.refs[metadataKey(ref.name, ref.recordID)] = ref
}

func (d *metadataDirectory) remove(name string, recordID int32) {
	delete(d.refs, metadataKey(name, recordID))
}

// nextRecordID assigns the record ID for a non-unique metadata write:
// one higher than the highest existing ID for the name, starting at 1.
func (d *metadataDirectory) nextRecordID(name string) (int32, error) {
	max := int32(0)
	for _, ref := range d.refs {
		if ref.name == name && ref.recordID > max {
			max = ref.recordID
		}
	}
	if max == math.MaxInt32 {
		return 0, fmt.Errorf("gvrs: record IDs for metadata %q are exhausted", name)
	}
	return max + 1, nil
}

// sorted returns the refs ordered by (name, recordID).
func (d *metadataDirectory) sorted() []metadataRef {
	refs := make([]metadataRef, 0, len(d.refs))
	for _, ref := range d.refs {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].name != refs[j].name {
			return refs[i].name < refs[j].name
		}
		return refs[i].recordID < refs[j].recordID
	})
	return refs
}

// storageSize is the serialized size of the directory record content.
func (d *metadataDirectory) storageSize() int {
	size := 4
	for _, ref := range d.refs {
		size += 8 + 2 + len(ref.name) + 4
	}
	return size
}

func (d *metadataDirectory) write(b *braf.File) error {
	refs := d.sorted()
	if err := b.WriteInt32(int32(len(refs))); err != nil {
		return err
	}
	for _, ref := range refs {
		if err := b.WriteInt64(ref.filePos); err != nil {
			return err
		}
		if err := b.WriteUTF(ref.name); err != nil {
			return err
		}
		if err := b.WriteInt32(ref.recordID); err != nil {
			return err
		}
	}
	return nil
}

func (d *metadataDirectory) read(b *braf.File) error {
	n, err := b.ReadInt32()
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("gvrs: corrupt metadata directory count %d", n)
	}
	d.refs = make(map[string]metadataRef, n)
	for i := int32(0); i < n; i++ {
		var ref metadataRef
		if ref.filePos, err = b.ReadInt64(); err != nil {
			return err
		}
		if ref.name, err = b.ReadUTF(); err != nil {
			return err
		}
		if ref.recordID, err = b.ReadInt32(); err != nil {
			return err
		}
		d.put(ref)
	}
	return nil
}
