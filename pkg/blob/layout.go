// Package blob implements the binary layout format describing one file's
// content as an ordered map from byte offsets to extent keys.
//
// The format is versioned and fixed:
//
//	header:  1 byte version (1) | 1 byte extent key size (32) |
//	         8 bytes LE total content size | 8 bytes LE extent count
//	entries: 8 bytes LE offset | 8 bytes LE length | 32 byte extent key
//
// Sparse regions are never written: gaps between entries, and between the
// last entry and the total size, read back as holes.
package blob

import (
	"encoding/binary"
	"fmt"

	"github.com/cairnstore/cairn/pkg/cas"
)

const (
	// Version of the layout format
	Version = 1

	headerSize = 1 + 1 + 8 + 8
	entrySize  = 8 + 8 + cas.KeySize
)

type errString string

func (e errString) Error() string { return string(e) }

const (
	// ErrTruncated indicates the input ends before the declared content
	ErrTruncated errString = "truncated layout data"

	// ErrOutOfOrder indicates entries are not sorted by ascending offset
	ErrOutOfOrder errString = "extents not sorted by offset"

	// ErrOverlap indicates two entries cover overlapping byte ranges
	ErrOverlap errString = "overlapping extents"
)

// UnsupportedVersionError is returned when decoding a layout whose version
// byte doesn't match Version.
type UnsupportedVersionError struct {
	Version byte
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported layout version %d, expected %d", e.Version, Version)
}

// BadKeySizeError is returned when the declared extent key size is not cas.KeySize.
type BadKeySizeError struct {
	Size byte
}

func (e *BadKeySizeError) Error() string {
	return fmt.Sprintf("unsupported extent key size %d, expected %d", e.Size, cas.KeySize)
}

// Extent is one entry of a layout: a contiguous data range backed by a
// content-addressed extent object.
type Extent struct {
	Offset uint64
	Length uint64
	ID     cas.Key
}

// End is the exclusive end offset of the extent
func (e Extent) End() uint64 {
	return e.Offset + e.Length
}

// Layout describes one file's full content as an ordered, non-overlapping
// sequence of extents. Byte ranges not covered by any extent are sparse
// holes reading as zeroes.
type Layout struct {
	TotalBytes uint64
	Extents    []Extent
}

// Encode serializes the layout. Only present entries are written: holes are
// implied by gaps and by TotalBytes.
func (l *Layout) Encode() []byte {
	buf := make([]byte, 0, headerSize+len(l.Extents)*entrySize)
	buf = append(buf, Version, cas.KeySize)
	buf = binary.LittleEndian.AppendUint64(buf, l.TotalBytes)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(l.Extents)))
	for _, e := range l.Extents {
		buf = binary.LittleEndian.AppendUint64(buf, e.Offset)
		buf = binary.LittleEndian.AppendUint64(buf, e.Length)
		buf = append(buf, e.ID[:]...)
	}
	return buf
}

// Decode parses and validates a serialized layout.
//
// Validation order: header truncation, version, key size, entry truncation,
// then per-entry strict offset ordering without overlap.
func Decode(data []byte) (*Layout, error) {
	if len(data) < headerSize {
		return nil, ErrTruncated
	}
	if data[0] != Version {
		return nil, &UnsupportedVersionError{Version: data[0]}
	}
	if data[1] != cas.KeySize {
		return nil, &BadKeySizeError{Size: data[1]}
	}
	totalBytes := binary.LittleEndian.Uint64(data[2:10])
	count := binary.LittleEndian.Uint64(data[10:headerSize])

	rest := data[headerSize:]
	if count > uint64(len(rest))/entrySize {
		return nil, ErrTruncated
	}

	extents := make([]Extent, 0, count)
	var prevEnd uint64
	for i := uint64(0); i < count; i++ {
		entry := rest[i*entrySize : (i+1)*entrySize]
		e := Extent{
			Offset: binary.LittleEndian.Uint64(entry[0:8]),
			Length: binary.LittleEndian.Uint64(entry[8:16]),
			ID:     cas.MustNewKey(entry[16:entrySize]),
		}
		if e.Offset < prevEnd {
			if e.End() > prevEnd {
				return nil, ErrOverlap
			}
			return nil, ErrOutOfOrder
		}
		prevEnd = e.End()
		extents = append(extents, e)
	}

	return &Layout{TotalBytes: totalBytes, Extents: extents}, nil
}

// Region is a segment of the reconstructed content: either data backed by
// an extent, or a hole reading as zeroes.
type Region struct {
	Offset uint64
	Length uint64
	Hole   bool
	ID     cas.Key // zero for holes
}

// Regions reconstructs the full ordered segment sequence covering
// [0, TotalBytes), with leading, interior and trailing gaps yielding holes.
// A layout with no extents and a nonzero size is a single hole; a zero-size
// layout has no regions.
func (l *Layout) Regions() []Region {
	regions := make([]Region, 0, 2*len(l.Extents)+1)
	var pos uint64

	for _, e := range l.Extents {
		if e.Offset > pos {
			regions = append(regions, Region{Offset: pos, Length: e.Offset - pos, Hole: true})
		}
		regions = append(regions, Region{Offset: e.Offset, Length: e.Length, ID: e.ID})
		pos = e.End()
	}

	if pos < l.TotalBytes {
		regions = append(regions, Region{Offset: pos, Length: l.TotalBytes - pos, Hole: true})
	}

	return regions
}
