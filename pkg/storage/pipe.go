package storage

import (
	"io"
)

// ChunkSize is the fixed transfer window for streamed reads and writes.
// Objects range from ~128 KiB extents to catalogs of hundreds of MiB;
// memory use stays bounded by this size regardless.
const ChunkSize = 128 * 1024

// PipeIO copies reader to writer through a fixed-size buffer
func PipeIO(writer io.Writer, reader io.Reader) (n int64, err error) {
	buf := make([]byte, ChunkSize)
	return io.CopyBuffer(writer, reader, buf)
}

// Drain consumes and discards the remainder of a reader. It is used when an
// incoming stream targets an object that already exists: content addressing
// guarantees the discarded bytes are equivalent to the stored ones.
func Drain(reader io.Reader) error {
	_, err := PipeIO(io.Discard, reader)
	return err
}
