package recursiveremote

import (
	"bytes"
	"testing"
)

// tassert is shared by every _test.go file in this package.
func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(txt, args...)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	tassert(t, err == nil, "GenerateKey: %v", err)

	plaintext := []byte("namespace record bytes go here")
	framed, err := Seal(&key, plaintext)
	tassert(t, err == nil, "Seal: %v", err)
	tassert(t, !bytes.Equal(framed, plaintext), "Seal did not change the bytes")

	got, err := Open(&key, framed)
	tassert(t, err == nil, "Open: %v", err)
	tassert(t, bytes.Equal(got, plaintext), "round trip mismatch: got %q want %q", got, plaintext)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key1, err := GenerateKey()
	tassert(t, err == nil, "GenerateKey: %v", err)
	key2, err := GenerateKey()
	tassert(t, err == nil, "GenerateKey: %v", err)

	framed, err := Seal(&key1, []byte("secret"))
	tassert(t, err == nil, "Seal: %v", err)

	_, err = Open(&key2, framed)
	tassert(t, err != nil, "Open with wrong key should fail")
	var authErr *AuthError
	tassert(t, isAuthError(err, &authErr), "expected AuthError, got %T: %v", err, err)
}

func isAuthError(err error, target **AuthError) bool {
	ae, ok := err.(*AuthError)
	if ok {
		*target = ae
	}
	return ok
}

func TestIdentityModePassesThroughUnchanged(t *testing.T) {
	plaintext := []byte("clear branch content")
	framed, err := Seal(nil, plaintext)
	tassert(t, err == nil, "Seal: %v", err)
	tassert(t, bytes.Equal(framed, plaintext), "identity Seal altered bytes")

	got, err := Open(nil, framed)
	tassert(t, err == nil, "Open: %v", err)
	tassert(t, bytes.Equal(got, plaintext), "identity Open altered bytes")
}

func TestNonceUniqueness(t *testing.T) {
	key, err := GenerateKey()
	tassert(t, err == nil, "GenerateKey: %v", err)

	seen := map[[NonceSize]byte]bool{}
	const trials = 2000
	plaintext := []byte("same plaintext every time")
	for i := 0; i < trials; i++ {
		framed, err := Seal(&key, plaintext)
		tassert(t, err == nil, "Seal: %v", err)
		var nonce [NonceSize]byte
		copy(nonce[:], framed[1:1+NonceSize])
		tassert(t, !seen[nonce], "nonce reused after %d trials", i)
		seen[nonce] = true
	}
}

func TestKeyMaterialRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	tassert(t, err == nil, "GenerateKey: %v", err)

	encoded := EncodeKey(key)
	decoded, err := DecodeKey(encoded)
	tassert(t, err == nil, "DecodeKey: %v", err)
	tassert(t, decoded == key, "key material round trip mismatch")
}

func TestKeyMaterialRejectsCorruption(t *testing.T) {
	key, err := GenerateKey()
	tassert(t, err == nil, "GenerateKey: %v", err)
	encoded := EncodeKey(key)
	corrupted := encoded[:len(encoded)-2] + "xx"
	_, err = DecodeKey(corrupted)
	tassert(t, err != nil, "DecodeKey should reject a corrupted checksum")
}
