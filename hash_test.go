package recursiveremote

import "testing"

func TestAddressParseRoundTrip(t *testing.T) {
	a := HashBytes([]byte("some content"))
	parsed, err := ParseAddress(a.String())
	tassert(t, err == nil, "ParseAddress: %v", err)
	tassert(t, parsed == a, "round trip mismatch")
}

func TestHashBytesIsStable(t *testing.T) {
	a := HashBytes([]byte("some content"))
	b := HashBytes([]byte("some content"))
	tassert(t, a == b, "HashBytes is not deterministic")
}

func TestParseAddressRejectsWrongLength(t *testing.T) {
	_, err := ParseAddress("abcd")
	tassert(t, err != nil, "expected an error for a short address")
}

func TestWeakHashParseRoundTrip(t *testing.T) {
	w, err := ParseWeakHash("0123456789abcdef0123456789abcdef01234567")
	tassert(t, err == nil, "ParseWeakHash: %v", err)
	tassert(t, w.String() == "0123456789abcdef0123456789abcdef01234567", "round trip mismatch: %s", w.String())
}
