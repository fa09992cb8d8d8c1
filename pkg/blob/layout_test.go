package blob

import (
	"encoding/binary"
	"testing"

	"github.com/cairnstore/cairn/pkg/cas"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) cas.Key {
	var k cas.Key
	for i := range k {
		k[i] = b
	}
	return k
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	layout := &Layout{
		TotalBytes: 1024,
		Extents: []Extent{
			{Offset: 0, Length: 256, ID: key(1)},
			{Offset: 512, Length: 256, ID: key(2)},
		},
	}

	decoded, err := Decode(layout.Encode())
	require.NoError(t, err)
	assert.Equal(t, layout, decoded)
}

func TestEmptyLayout(t *testing.T) {
	layout := &Layout{TotalBytes: 0}

	decoded, err := Decode(layout.Encode())
	require.NoError(t, err)
	assert.EqualValues(t, 0, decoded.TotalBytes)
	assert.Empty(t, decoded.Extents)
	assert.Empty(t, decoded.Regions())
}

func TestRegionsWithHoles(t *testing.T) {
	// entries [(0,100),(200,50)] over a 300 byte file reconstruct to
	// Data(0,100), Hole(100,100), Data(200,50), Hole(250,50)
	layout := &Layout{
		TotalBytes: 300,
		Extents: []Extent{
			{Offset: 0, Length: 100, ID: key(1)},
			{Offset: 200, Length: 50, ID: key(2)},
		},
	}

	regions := layout.Regions()
	require.Len(t, regions, 4)
	assert.Equal(t, Region{Offset: 0, Length: 100, ID: key(1)}, regions[0])
	assert.Equal(t, Region{Offset: 100, Length: 100, Hole: true}, regions[1])
	assert.Equal(t, Region{Offset: 200, Length: 50, ID: key(2)}, regions[2])
	assert.Equal(t, Region{Offset: 250, Length: 50, Hole: true}, regions[3])
}

func TestRegionsLeadingHole(t *testing.T) {
	layout := &Layout{
		TotalBytes: 1024,
		Extents: []Extent{
			{Offset: 100, Length: 100, ID: key(1)},
			{Offset: 500, Length: 200, ID: key(2)},
		},
	}

	regions := layout.Regions()
	require.Len(t, regions, 5)
	assert.Equal(t, Region{Offset: 0, Length: 100, Hole: true}, regions[0])
	assert.Equal(t, Region{Offset: 700, Length: 324, Hole: true}, regions[4])
}

func TestRegionsFullySparse(t *testing.T) {
	layout := &Layout{TotalBytes: 4096}

	regions := layout.Regions()
	require.Len(t, regions, 1)
	assert.Equal(t, Region{Offset: 0, Length: 4096, Hole: true}, regions[0])
}

func TestRegionsNoHoles(t *testing.T) {
	layout := &Layout{
		TotalBytes: 512,
		Extents: []Extent{
			{Offset: 0, Length: 256, ID: key(1)},
			{Offset: 256, Length: 256, ID: key(2)},
		},
	}

	regions := layout.Regions()
	require.Len(t, regions, 2)
	assert.False(t, regions[0].Hole)
	assert.False(t, regions[1].Hole)
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	data := (&Layout{}).Encode()
	data[0] = 2

	_, err := Decode(data)
	require.Error(t, err)
	var vErr *UnsupportedVersionError
	require.ErrorAs(t, err, &vErr)
	assert.EqualValues(t, 2, vErr.Version)
}

func TestDecodeBadKeySize(t *testing.T) {
	data := (&Layout{}).Encode()
	data[1] = 20

	_, err := Decode(data)
	var kErr *BadKeySizeError
	require.ErrorAs(t, err, &kErr)
	assert.EqualValues(t, 20, kErr.Size)
}

func TestDecodeTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{Version, cas.KeySize})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeTruncatedEntries(t *testing.T) {
	layout := &Layout{
		TotalBytes: 256,
		Extents:    []Extent{{Offset: 0, Length: 256, ID: key(1)}},
	}
	data := layout.Encode()

	_, err := Decode(data[:len(data)-1])
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeOutOfOrder(t *testing.T) {
	layout := &Layout{
		TotalBytes: 1024,
		Extents: []Extent{
			{Offset: 512, Length: 100, ID: key(1)},
			{Offset: 0, Length: 100, ID: key(2)},
		},
	}

	_, err := Decode(layout.Encode())
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestDecodeOverlapping(t *testing.T) {
	layout := &Layout{
		TotalBytes: 1024,
		Extents:    []Extent{{Offset: 0, Length: 256, ID: key(1)}},
	}
	data := layout.Encode()

	// patch the entry count and append an entry overlapping the first
	binary.LittleEndian.PutUint64(data[10:18], 2)
	data = binary.LittleEndian.AppendUint64(data, 100)
	data = binary.LittleEndian.AppendUint64(data, 200)
	k := key(2)
	data = append(data, k[:]...)

	_, err := Decode(data)
	require.ErrorIs(t, err, ErrOverlap)
}
