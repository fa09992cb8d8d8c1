// Package extent turns a file's on-disk ranges into content-addressed
// extents. The system performs no chunking of its own: range boundaries
// come from the filesystem through a Source, and only oversized ranges are
// split at a fixed cap.
package extent

import (
	"fmt"

	"github.com/spf13/afero"
)

// Range is one contiguous region of a file as reported by the filesystem.
type Range struct {
	Offset int64
	Length int64
	// Sparse marks a hole: no data stored, reads as zeroes
	Sparse bool
	// Shared marks a range shared with other files (reflink/dedup).
	// Detection is platform dependent; false means shared-or-unknown.
	Shared bool
}

// End is the exclusive end offset of the range
func (r Range) End() int64 {
	return r.Offset + r.Length
}

// Source enumerates a file's ranges in ascending offset order. Platform
// providers (FIEMAP, SEEK_HOLE/SEEK_DATA, allocated-ranges queries) plug in
// behind this interface; implementations that cannot detect shared ranges
// must report Shared=false rather than fail.
type Source interface {
	Ranges(f afero.File, size int64) ([]Range, error)
}

// Fallback is the portable Source: it reports the whole file as one data
// range, so sparse holes and extent boundaries go undetected but every
// byte is still captured.
type Fallback struct{}

// Ranges implements Source
func (Fallback) Ranges(_ afero.File, size int64) ([]Range, error) {
	if size == 0 {
		return nil, nil
	}
	return []Range{{Offset: 0, Length: size}}, nil
}

func validate(ranges []Range, size int64) error {
	var pos int64
	for _, r := range ranges {
		if r.Offset < pos {
			return fmt.Errorf("ranges out of order at offset %d", r.Offset)
		}
		if r.End() > size {
			return fmt.Errorf("range [%d,%d) exceeds file size %d", r.Offset, r.End(), size)
		}
		pos = r.End()
	}
	return nil
}
