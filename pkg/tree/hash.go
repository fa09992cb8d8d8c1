// Package tree computes a single fingerprint over a snapshot's path to
// blob mapping. Two snapshots with identical content-bearing files yield
// the same hash, which lets an uploader skip snapshots already stored.
package tree

import (
	"encoding/binary"
	"sort"

	"github.com/cairnstore/cairn/pkg/cas"
)

// Version of the tree serialization format
const Version = 1

// Entry maps one content-bearing file path to its blob key. Bytes is the
// file's full content size.
type Entry struct {
	Path  string
	Blob  cas.Key
	Bytes uint64
}

// Hash computes the snapshot fingerprint for an unordered set of entries.
//
// Entries are sorted byte-wise by raw path bytes, then serialized as a
// header (version, key size, total file bytes, distinct blob bytes, file
// count, distinct blob count) followed by one record per entry: a 4 byte LE
// length-prefixed path and the blob key. The serialization is hashed with
// blake2b-256 and discarded; only the hash is ever persisted.
//
// The blob count in the header counts distinct blob keys, which is lower
// than the file count when several files share content.
func Hash(entries []Entry) cas.Key {
	// last entry wins for a duplicate path, matching map insertion
	byPath := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byPath[e.Path] = e
	}

	sorted := make([]Entry, 0, len(byPath))
	for _, e := range byPath {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var fileBytes, blobBytes uint64
	seen := make(map[cas.Key]struct{}, len(sorted))
	for _, e := range sorted {
		fileBytes += e.Bytes
		if _, ok := seen[e.Blob]; !ok {
			seen[e.Blob] = struct{}{}
			blobBytes += e.Bytes
		}
	}

	h := cas.NewHasher()
	hdr := make([]byte, 0, 2+4*8)
	hdr = append(hdr, Version, cas.KeySize)
	hdr = binary.LittleEndian.AppendUint64(hdr, fileBytes)
	hdr = binary.LittleEndian.AppendUint64(hdr, blobBytes)
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(sorted)))
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(seen)))
	_, _ = h.Write(hdr)

	var lenBuf [4]byte
	for _, e := range sorted {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.Path)))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write([]byte(e.Path))
		_, _ = h.Write(e.Blob[:])
	}

	return cas.KeyFromHasher(h)
}
