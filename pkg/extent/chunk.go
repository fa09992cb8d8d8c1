package extent

import (
	"io"

	"github.com/cairnstore/cairn/pkg/cas"
	"github.com/cairnstore/cairn/pkg/model"
	"github.com/cairnstore/cairn/pkg/storage"

	"github.com/spf13/afero"
)

// MaxExtentSize caps a single extent at 128 KiB. Filesystem ranges larger
// than this are split into subchunks, each hashed into its own extent key;
// all subchunks of one range share an FsExtent index.
const MaxExtentSize = 128 * 1024

var zeroes [storage.ChunkSize]byte

// BuildBlob reads a file once, hashing each data range into extent keys and
// the full content (holes reading as zeroes) into the blob key.
//
// Ranges come from src; gaps between reported ranges are treated as holes.
// An empty file yields the hash of empty input and no extents.
func BuildBlob(f afero.File, size int64, src Source) (*model.BlobInfo, error) {
	if size == 0 {
		return &model.BlobInfo{ID: cas.HashBytes(nil)}, nil
	}

	ranges, err := src.Ranges(f, size)
	if err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		// no ranges reported, treat the whole file as one extent
		ranges = []Range{{Offset: 0, Length: size}}
	}
	if err = validate(ranges, size); err != nil {
		return nil, err
	}

	blobHasher := cas.NewHasher()
	extents := make([]model.ExtentInfo, 0, len(ranges))
	var pos int64
	var fsExtent uint32

	feedZeroes := func(n int64) {
		for n > 0 {
			c := n
			if c > int64(len(zeroes)) {
				c = int64(len(zeroes))
			}
			_, _ = blobHasher.Write(zeroes[:c])
			n -= c
		}
	}

	for _, r := range ranges {
		if r.Offset > pos {
			// unreported gap, reads as zeroes
			feedZeroes(r.Offset - pos)
		}
		fsExtent++

		if r.Sparse {
			feedZeroes(r.Length)
			extents = append(extents, model.ExtentInfo{
				Offset:   uint64(r.Offset),
				Bytes:    uint64(r.Length),
				Sparse:   true,
				FsExtent: fsExtent,
			})
			pos = r.End()
			continue
		}

		chunks, cerr := hashRange(f, r, fsExtent, blobHasher)
		if cerr != nil {
			return nil, cerr
		}
		extents = append(extents, chunks...)
		pos = r.End()
	}

	if pos < size {
		feedZeroes(size - pos)
	}

	return &model.BlobInfo{
		ID:      cas.KeyFromHasher(blobHasher),
		Bytes:   uint64(size),
		Extents: extents,
	}, nil
}

// hashRange splits one data range into MaxExtentSize subchunks, hashing
// each into its own key and feeding every byte to the blob hasher.
func hashRange(f io.ReaderAt, r Range, fsExtent uint32, blobHasher io.Writer) ([]model.ExtentInfo, error) {
	chunks := make([]model.ExtentInfo, 0, (r.Length+MaxExtentSize-1)/MaxExtentSize)
	buf := make([]byte, storage.ChunkSize)

	offset := r.Offset
	remaining := r.Length
	for remaining > 0 {
		chunkLen := remaining
		if chunkLen > MaxExtentSize {
			chunkLen = MaxExtentSize
		}

		hasher := cas.NewHasher()
		section := io.NewSectionReader(f, offset, chunkLen)
		for {
			n, err := section.Read(buf)
			if n > 0 {
				_, _ = hasher.Write(buf[:n])
				_, _ = blobHasher.Write(buf[:n])
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
		}

		chunks = append(chunks, model.ExtentInfo{
			ID:       cas.KeyFromHasher(hasher),
			Offset:   uint64(offset),
			Bytes:    uint64(chunkLen),
			Shared:   r.Shared,
			FsExtent: fsExtent,
		})

		offset += chunkLen
		remaining -= chunkLen
	}

	return chunks, nil
}
