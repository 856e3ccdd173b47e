package recursiveremote

import (
	"bytes"
	"reflect"
	"testing"
)

func TestNamespaceRecordRoundTrip(t *testing.T) {
	n := NewNamespaceRecord()
	n.Refs["refs/heads/main"] = weakHashFor("main")
	n.Refs["refs/heads/topic"] = weakHashFor("topic")
	n.Packs = []PackRef{
		{Addr: HashBytes([]byte("pack one")), File: HashBytes([]byte("pack one")).String()},
		{Addr: HashBytes([]byte("pack two")), File: "a1b2c3"},
	}

	encoded, err := EncodeNamespaceRecord(n)
	tassert(t, err == nil, "EncodeNamespaceRecord: %v", err)

	decoded, err := DecodeNamespaceRecord(encoded)
	tassert(t, err == nil, "DecodeNamespaceRecord: %v", err)
	tassert(t, reflect.DeepEqual(n, decoded), "round trip mismatch: got %#v want %#v", decoded, n)

	reencoded, err := EncodeNamespaceRecord(decoded)
	tassert(t, err == nil, "EncodeNamespaceRecord: %v", err)
	tassert(t, bytes.Equal(encoded, reencoded), "re-encoding is not byte-stable")
}

func TestNamespaceRecordCanonicalEncodingIgnoresMapOrder(t *testing.T) {
	a := NewNamespaceRecord()
	a.Refs["b"] = weakHashFor("b")
	a.Refs["a"] = weakHashFor("a")

	b := NewNamespaceRecord()
	b.Refs["a"] = weakHashFor("a")
	b.Refs["b"] = weakHashFor("b")

	encA, err := EncodeNamespaceRecord(a)
	tassert(t, err == nil, "EncodeNamespaceRecord: %v", err)
	encB, err := EncodeNamespaceRecord(b)
	tassert(t, err == nil, "EncodeNamespaceRecord: %v", err)
	tassert(t, bytes.Equal(encA, encB), "insertion order leaked into canonical encoding")
}

func TestStateRecordRoundTrip(t *testing.T) {
	s := NewStateRecord()
	s.Namespaces["alpha"] = HashBytes([]byte("alpha namespace"))
	s.Namespaces["beta"] = HashBytes([]byte("beta namespace"))
	s.Parents = []Address{HashBytes([]byte("parent one")), HashBytes([]byte("parent two"))}

	encoded, err := EncodeStateRecord(s)
	tassert(t, err == nil, "EncodeStateRecord: %v", err)

	decoded, err := DecodeStateRecord(encoded)
	tassert(t, err == nil, "DecodeStateRecord: %v", err)
	tassert(t, reflect.DeepEqual(s, decoded), "round trip mismatch: got %#v want %#v", decoded, s)
}

func TestDecodeNamespaceRecordRejectsGarbage(t *testing.T) {
	_, err := DecodeNamespaceRecord([]byte("not msgpack at all, just text"))
	tassert(t, err != nil, "expected a SerializationError")
	var serr *SerializationError
	tassert(t, asSerializationError(err, &serr), "expected *SerializationError, got %T", err)
}

func asSerializationError(err error, target **SerializationError) bool {
	se, ok := err.(*SerializationError)
	if ok {
		*target = se
	}
	return ok
}

func weakHashFor(s string) WeakHash {
	sum := HashBytes([]byte(s))
	var w WeakHash
	copy(w[:], sum[:WeakHashSize])
	return w
}
