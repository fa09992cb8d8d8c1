package cas

import (
	"encoding/hex"
	"fmt"
	"hash"

	blake2b "github.com/minio/blake2b-simd"
)

const (
	// KeySize for the blake2b-256 algo
	KeySize = 32

	// KeySizeHex for hex representation of a key
	KeySizeHex = 64
)

// Key is a 32 byte content-addressed identifier: the blake2b-256 hash of
// the identified object's content.
type Key [KeySize]byte

// NewKey creates a new key from data
func NewKey(data []byte) (Key, error) {
	var k Key
	n := copy(k[:], data)
	if n != KeySize || len(data) != KeySize {
		return Key{}, &BadKeySize{Key: data}
	}
	return k, nil
}

// MustNewKey creates a new key from data but panics if there is an error
func MustNewKey(data []byte) Key {
	k, e := NewKey(data)
	if e != nil {
		panic(e.Error())
	}
	return k
}

// KeyFromString parses a hex-encoded key. It rejects malformed hex and
// decoded lengths other than KeySize.
func KeyFromString(s string) (Key, error) {
	if len(s) != KeySizeHex {
		return Key{}, &BadKeySize{Key: []byte(s)}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("%q is not a valid hex key: %v", s, err)
	}
	return NewKey(b)
}

// HashBytes computes the key for a data buffer
func HashBytes(data []byte) Key {
	return Key(blake2b.Sum256(data))
}

// NewHasher returns an incremental hasher whose Sum yields KeySize bytes.
// It is used to verify object content while streaming it.
func NewHasher() hash.Hash {
	return blake2b.New256()
}

// KeyFromHasher extracts the key accumulated by a NewHasher hasher
func KeyFromHasher(h hash.Hash) Key {
	return MustNewKey(h.Sum(nil))
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether the key is all zeroes (e.g. a sparse placeholder)
func (k Key) IsZero() bool {
	return k == Key{}
}

// BadKeySize is an error that's returned when the key to create has an invalid size.
type BadKeySize struct {
	Key []byte
}

func (b *BadKeySize) Error() string {
	return fmt.Sprintf("%x has invalid size of %d, expected %d", b.Key, len(b.Key), KeySize)
}
