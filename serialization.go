package recursiveremote

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// PackRef names one Pack Blob a generation introduced: its plaintext
// content address, used throughout the reachability walk as the
// pack's identity, and the literal path component it was stored under
// within the namespace's packs directory. File equals Addr's hex
// string on a clear branch; on an encrypted branch it is an unrelated
// random token, so that two pushes which happen to seal identical
// plaintext never produce the same upstream filename (an observer
// without the content key must not be able to detect that coincidence).
type PackRef struct {
	Addr Address
	File string
}

// NamespaceRecord is one namespace's ref table plus its ordered pack
// coverage (I3). The shallow-basis list is deliberately absent from
// this type: per the data model it is recorded only on the client
// and never appears upstream.
type NamespaceRecord struct {
	Refs  map[string]WeakHash
	Packs []PackRef
}

// NewNamespaceRecord returns an empty NamespaceRecord, the starting
// point for a namespace's first push.
func NewNamespaceRecord() *NamespaceRecord {
	return &NamespaceRecord{Refs: map[string]WeakHash{}}
}

// StateRecord is the root of one generation of the Merkle graph: the
// namespace table plus the StateRecord addresses of the parent
// upstream commits (I1).
type StateRecord struct {
	Namespaces map[string]Address
	Parents    []Address
}

// NewStateRecord returns an empty StateRecord, the starting point for
// a branch's first commit.
func NewStateRecord() *StateRecord {
	return &StateRecord{Namespaces: map[string]Address{}}
}

type wireRef struct {
	Name string `msgpack:"name"`
	Weak []byte `msgpack:"weak"`
}

type wirePackRef struct {
	Addr []byte `msgpack:"addr"`
	File string `msgpack:"file"`
}

type wireNamespaceRecord struct {
	Refs  []wireRef     `msgpack:"refs"`
	Packs []wirePackRef `msgpack:"packs"`
}

// EncodeNamespaceRecord produces the canonical byte form of n. Equal
// records always produce identical bytes: ref entries are sorted by
// name, while the pack list's order -- which is semantically
// meaningful, since the reachability walk consumes it in order -- is
// preserved exactly as given.
func EncodeNamespaceRecord(n *NamespaceRecord) ([]byte, error) {
	w := wireNamespaceRecord{
		Refs:  make([]wireRef, 0, len(n.Refs)),
		Packs: make([]wirePackRef, 0, len(n.Packs)),
	}
	for name, weak := range n.Refs {
		w.Refs = append(w.Refs, wireRef{Name: name, Weak: append([]byte(nil), weak[:]...)})
	}
	sort.Slice(w.Refs, func(i, j int) bool { return w.Refs[i].Name < w.Refs[j].Name })
	for _, p := range n.Packs {
		w.Packs = append(w.Packs, wirePackRef{Addr: p.Addr.Bytes(), File: p.File})
	}
	b, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, &SerializationError{What: "namespace record", Err: err}
	}
	return b, nil
}

// DecodeNamespaceRecord parses the canonical byte form produced by
// EncodeNamespaceRecord.
func DecodeNamespaceRecord(b []byte) (*NamespaceRecord, error) {
	var w wireNamespaceRecord
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return nil, &SerializationError{What: "namespace record", Err: err}
	}
	n := &NamespaceRecord{
		Refs:  make(map[string]WeakHash, len(w.Refs)),
		Packs: make([]PackRef, 0, len(w.Packs)),
	}
	for _, r := range w.Refs {
		if len(r.Weak) != WeakHashSize {
			return nil, &SerializationError{What: "namespace record", Err: fmt.Errorf("ref %q: weak hash is %d bytes, want %d", r.Name, len(r.Weak), WeakHashSize)}
		}
		var weak WeakHash
		copy(weak[:], r.Weak)
		n.Refs[r.Name] = weak
	}
	for _, p := range w.Packs {
		if len(p.Addr) != AddressSize {
			return nil, &SerializationError{What: "namespace record", Err: fmt.Errorf("pack address is %d bytes, want %d", len(p.Addr), AddressSize)}
		}
		if p.File == "" {
			return nil, &SerializationError{What: "namespace record", Err: fmt.Errorf("pack %s: empty file name", AddressFromBytes(p.Addr))}
		}
		n.Packs = append(n.Packs, PackRef{Addr: AddressFromBytes(p.Addr), File: p.File})
	}
	return n, nil
}

type wireNamespaceEntry struct {
	Name    string `msgpack:"name"`
	Address []byte `msgpack:"address"`
}

type wireStateRecord struct {
	Namespaces []wireNamespaceEntry `msgpack:"namespaces"`
	Parents    [][]byte             `msgpack:"parents"`
}

// EncodeStateRecord produces the canonical byte form of s. Both the
// namespace table and the parent list are order-independent sets
// (I1 treats Parents as a multiset), so both are sorted before
// encoding to keep equal records byte-identical.
func EncodeStateRecord(s *StateRecord) ([]byte, error) {
	w := wireStateRecord{
		Namespaces: make([]wireNamespaceEntry, 0, len(s.Namespaces)),
		Parents:    make([][]byte, 0, len(s.Parents)),
	}
	for name, addr := range s.Namespaces {
		w.Namespaces = append(w.Namespaces, wireNamespaceEntry{Name: name, Address: addr.Bytes()})
	}
	sort.Slice(w.Namespaces, func(i, j int) bool { return w.Namespaces[i].Name < w.Namespaces[j].Name })
	for _, addr := range s.Parents {
		w.Parents = append(w.Parents, addr.Bytes())
	}
	sort.Slice(w.Parents, func(i, j int) bool { return bytes.Compare(w.Parents[i], w.Parents[j]) < 0 })
	b, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, &SerializationError{What: "state record", Err: err}
	}
	return b, nil
}

// DecodeStateRecord parses the canonical byte form produced by
// EncodeStateRecord.
func DecodeStateRecord(b []byte) (*StateRecord, error) {
	var w wireStateRecord
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return nil, &SerializationError{What: "state record", Err: err}
	}
	s := &StateRecord{
		Namespaces: make(map[string]Address, len(w.Namespaces)),
		Parents:    make([]Address, 0, len(w.Parents)),
	}
	for _, e := range w.Namespaces {
		if len(e.Address) != AddressSize {
			return nil, &SerializationError{What: "state record", Err: fmt.Errorf("namespace %q: address is %d bytes, want %d", e.Name, len(e.Address), AddressSize)}
		}
		s.Namespaces[e.Name] = AddressFromBytes(e.Address)
	}
	for _, addr := range w.Parents {
		if len(addr) != AddressSize {
			return nil, &SerializationError{What: "state record", Err: fmt.Errorf("parent address is %d bytes, want %d", len(addr), AddressSize)}
		}
		s.Parents = append(s.Parents, AddressFromBytes(addr))
	}
	return s, nil
}
