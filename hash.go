package recursiveremote

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// AddressSize is the length in bytes of a content address.
const AddressSize = sha256.Size

// Address is the strong content hash of a Blob's plaintext. It is
// used everywhere inside the object graph: state records point at
// namespace records by address, namespace records point at packs by
// address, and the upstream tree layout uses the address (or, on an
// encrypted branch, a random token standing in for it) as a blob's
// leaf name.
type Address [AddressSize]byte

// ZeroAddress is the address with no content; comparing an Address
// against it is a cheap way to ask "was this ever set".
var ZeroAddress Address

// HashBytes computes the content address of b.
func HashBytes(b []byte) Address {
	var a Address
	sum := sha256.Sum256(b)
	copy(a[:], sum[:])
	return a
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Bytes returns a's raw bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressSize)
	copy(out, a[:])
	return out
}

// ParseAddress decodes a hex-encoded address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("parse address %q: %w", s, err)
	}
	if len(b) != AddressSize {
		return a, fmt.Errorf("parse address %q: want %d bytes, got %d", s, AddressSize, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// AddressFromBytes wraps a raw byte slice as an Address. It panics
// if b is not exactly AddressSize bytes, since every call site reads
// b from our own canonical encoding.
func AddressFromBytes(b []byte) Address {
	if len(b) != AddressSize {
		panic(fmt.Sprintf("address must be %d bytes, got %d", AddressSize, len(b)))
	}
	var a Address
	copy(a[:], b)
	return a
}

// WeakHashSize is the length in bytes of an inner object's native
// weak hash (a git object id).
const WeakHashSize = 20

// WeakHash is the native object id of an inner repository's object.
// This package never interprets it -- it is opaque payload that the
// namespace record carries on behalf of the inner repository.
type WeakHash [WeakHashSize]byte

func (w WeakHash) String() string {
	return hex.EncodeToString(w[:])
}

// IsZero reports whether w is the zero weak hash.
func (w WeakHash) IsZero() bool {
	var zero WeakHash
	return w == zero
}

// ParseWeakHash decodes a hex-encoded weak hash.
func ParseWeakHash(s string) (WeakHash, error) {
	var w WeakHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return w, fmt.Errorf("parse weak hash %q: %w", s, err)
	}
	if len(b) != WeakHashSize {
		return w, fmt.Errorf("parse weak hash %q: want %d bytes, got %d", s, WeakHashSize, len(b))
	}
	copy(w[:], b)
	return w, nil
}
