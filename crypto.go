package recursiveremote

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the length in bytes of a Crypto Frame key.
const KeySize = 32

// NonceSize is the length in bytes of a Crypto Frame nonce.
const NonceSize = 24

// frameVersion is carried as the first byte of every sealed frame so
// that a future algorithm change can be detected instead of silently
// misinterpreted.
const frameVersion byte = 1

// Key is a single 256-bit Crypto Frame key. A branch carries two
// independent keys: the state key, shared by every namespace, and a
// per-namespace content key. A nil *Key selects identity mode: Seal
// and Open pass bytes through unchanged, for unencrypted branches.
type Key [KeySize]byte

// GenerateKey returns a fresh random key suitable for either key
// domain.
func GenerateKey() (Key, error) {
	var k Key
	_, err := rand.Read(k[:])
	if err != nil {
		return k, fmt.Errorf("generate key: %w", err)
	}
	return k, nil
}

// RandomBlobToken returns a fresh random 256-bit hex token. A Pack
// Blob on an encrypted branch is named with one of these instead of
// its plaintext content address, so that two pushes sealing identical
// plaintext never produce the same upstream filename: without this,
// an observer lacking the content key could still detect the
// coincidence from the tree alone.
func RandomBlobToken() (string, error) {
	var b [AddressSize]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("random blob token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// Seal authenticates and encrypts plaintext under key, using a fresh
// random nonce (I4). If key is nil, Seal returns plaintext unchanged:
// this is the Crypto Frame's identity mode for unencrypted branches.
func Seal(key *Key, plaintext []byte) ([]byte, error) {
	if key == nil {
		return plaintext, nil
	}
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("seal: generate nonce: %w", err)
	}
	out := make([]byte, 0, 1+NonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, frameVersion)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plaintext, &nonce, (*[KeySize]byte)(key))
	return out, nil
}

// Open verifies and decrypts framed, which must have been produced by
// Seal under the same key. If key is nil, Open returns framed
// unchanged.
func Open(key *Key, framed []byte) ([]byte, error) {
	if key == nil {
		return framed, nil
	}
	if len(framed) < 1+NonceSize+secretbox.Overhead {
		return nil, &AuthError{Blob: "<frame>", Err: fmt.Errorf("frame too short: %d bytes", len(framed))}
	}
	if framed[0] != frameVersion {
		return nil, &AuthError{Blob: "<frame>", Err: fmt.Errorf("unrecognized frame version %d", framed[0])}
	}
	var nonce [NonceSize]byte
	copy(nonce[:], framed[1:1+NonceSize])
	ciphertext := framed[1+NonceSize:]
	plaintext, ok := secretbox.Open(nil, ciphertext, &nonce, (*[KeySize]byte)(key))
	if !ok {
		return nil, &AuthError{Blob: "<frame>", Err: fmt.Errorf("authentication failed")}
	}
	return plaintext, nil
}

const (
	keyMaterialVersion = "v1"
	keyMaterialAlg     = "secretbox256"
)

// EncodeKey renders k as the compact text encoding used for
// transporting key material through git config and configuration
// files: "version::alg::base64(key)::checksum". The checksum is a
// truncated content hash, present only to catch accidental
// truncation or copy/paste corruption -- it carries no cryptographic
// weight of its own.
func EncodeKey(k Key) string {
	sum := sha256.Sum256(k[:])
	checksum := base64.RawURLEncoding.EncodeToString(sum[:4])
	return strings.Join([]string{
		keyMaterialVersion,
		keyMaterialAlg,
		base64.StdEncoding.EncodeToString(k[:]),
		checksum,
	}, "::")
}

// DecodeKey parses the text encoding produced by EncodeKey. An
// unrecognized version or algorithm tag, or a checksum mismatch, is
// treated as a SerializationError: the key material has drifted or
// been corrupted and must not be used.
func DecodeKey(s string) (Key, error) {
	var k Key
	parts := strings.Split(s, "::")
	if len(parts) != 4 {
		return k, &SerializationError{What: "key material", Err: fmt.Errorf("expected 4 fields, got %d", len(parts))}
	}
	version, alg, encoded, checksum := parts[0], parts[1], parts[2], parts[3]
	if version != keyMaterialVersion {
		return k, &SerializationError{What: "key material", Err: fmt.Errorf("unrecognized version %q", version)}
	}
	if alg != keyMaterialAlg {
		return k, &SerializationError{What: "key material", Err: fmt.Errorf("unrecognized algorithm %q", alg)}
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return k, &SerializationError{What: "key material", Err: fmt.Errorf("decode key bytes: %w", err)}
	}
	if len(raw) != KeySize {
		return k, &SerializationError{What: "key material", Err: fmt.Errorf("want %d key bytes, got %d", KeySize, len(raw))}
	}
	copy(k[:], raw)
	sum := sha256.Sum256(k[:])
	want := base64.RawURLEncoding.EncodeToString(sum[:4])
	if want != checksum {
		return k, &SerializationError{What: "key material", Err: fmt.Errorf("checksum mismatch")}
	}
	return k, nil
}
