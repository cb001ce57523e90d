// SPDX-License-Identifier: MIT

package gvrs

import "fmt"

// RecordInfo describes one record encountered by Inspect.
type RecordInfo struct {
	Position   int64
	Size       int64
	Type       string
	ChecksumOK bool
}

// InspectionReport summarizes a best-effort walk over all records.
type InspectionReport struct {
	Records          []RecordInfo
	ChecksumFailures int
	// Terminated is set when two consecutive records failed their
	// checksum and the walk gave up.
	Terminated bool

	TileRecords      int
	MetadataRecords  int
	FreespaceRecords int
	DirectoryRecords int
}

// Inspect walks the records from the content base to EOF, verifying
// checksums when the file carries them. A single bad record is
// reported and skipped; two consecutive bad records terminate the
// walk. The report is diagnostic only; the file state is unchanged.
func (f *File) Inspect() (*InspectionReport, error) {
	r := f.recordMgr
	report := &InspectionReport{}
	pos := r.basePos
	length := f.b.Length()
	badStreak := 0
	for pos+minRecordSize <= length {
		if err := f.b.Seek(pos); err != nil {
			return nil, err
		}
		size32, err := f.b.ReadUint32()
		if err != nil {
			return nil, err
		}
		rt, err := f.b.ReadByte()
		if err != nil {
			return nil, err
		}
		size := int64(size32)
		if size < minRecordSize || size%8 != 0 || pos+size > length || !recordType(rt).valid() {
			return report, fmt.Errorf("%w: type %d, size %d at position %d",
				ErrInvalidRecordType, rt, size, pos)
		}
		info := RecordInfo{Position: pos, Size: size, Type: recordType(rt).String(), ChecksumOK: true}
		if f.spec.ChecksumEnabled {
			if r.verifyRecordChecksum(pos, size, recordType(rt)) != nil {
				info.ChecksumOK = false
				report.ChecksumFailures++
				badStreak++
			} else {
				badStreak = 0
			}
		}
		report.Records = append(report.Records, info)
		switch recordType(rt) {
		case recordTile:
			report.TileRecords++
		case recordMetadata:
			report.MetadataRecords++
		case recordFreespace:
			report.FreespaceRecords++
		default:
			report.DirectoryRecords++
		}
		if badStreak >= 2 {
			report.Terminated = true
			break
		}
		pos += size
	}
	return report, nil
}
