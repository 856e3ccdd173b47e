package engine

import (
	recursiveremote "github.com/t7a/recursive-remote"
)

// decodeGeneration reads and decrypts the StateRecord stored at
// commit's tree root.
func (e *Engine) decodeGeneration(commit string) (*recursiveremote.StateRecord, error) {
	plaintext, ok, err := e.readSealedBlob(e.Config.StateKey, commit, recursiveremote.StateBlobPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return recursiveremote.NewStateRecord(), nil
	}
	return recursiveremote.DecodeStateRecord(plaintext)
}

// generationEntry memoizes a StateRecord generation by its content
// address plus the git commit it was physically read from, since the
// walker below must cross-reference both: StateWalker.Load is keyed
// by address, but decoding requires the commit.
type generationEntry struct {
	commit string
	record *recursiveremote.StateRecord
}

// stateWalker adapts this engine's upstream mirror -- which only ever
// exposes the *current* StateRecord at each commit's tree root, never
// an address-indexed lookup -- into the address-keyed
// reachability.StateWalker interface PlanFetchPacks needs.
//
// It works by walking the mirror's commit ancestry breadth-first from
// a starting commit, decoding each generation's StateRecord, and
// computing that generation's own content address. Invariant I1 (the
// object graph is a Merkle DAG closed under hashing) guarantees that
// any StateRecord address reachable from the starting commit's tip
// will be found this way, even though there is no standing index from
// address to the commit that carried it.
type stateWalker struct {
	e          *Engine
	byAddr     map[recursiveremote.Address]generationEntry
	fileByAddr map[recursiveremote.Address]string // pack content address -> upstream filename
	frontier   []string                           // commits not yet decoded and indexed
	visited    map[string]bool
}

func newStateWalker(e *Engine, startCommit string) *stateWalker {
	w := &stateWalker{
		e:          e,
		byAddr:     map[recursiveremote.Address]generationEntry{},
		fileByAddr: map[recursiveremote.Address]string{},
		visited:    map[string]bool{},
	}
	if startCommit != "" {
		w.frontier = append(w.frontier, startCommit)
	}
	return w
}

// FileFor returns the upstream filename recorded for a pack content
// address this walker has already decoded via Load, i.e. one of the
// addresses it previously returned. It exists because
// reachability.StateWalker's Load is, by design, address-only: the
// filename a PackRef carries alongside that address (see PackRef) is
// extra bookkeeping this engine package needs but the generic
// reachability package does not.
func (w *stateWalker) FileFor(a recursiveremote.Address) (string, bool) {
	file, ok := w.fileByAddr[a]
	return file, ok
}

// Load implements reachability.StateWalker.
func (w *stateWalker) Load(a recursiveremote.Address) (packs, parents []recursiveremote.Address, ok bool, err error) {
	for {
		if entry, found := w.byAddr[a]; found {
			rec := entry.record
			ns, nsOK, err := w.e.decodeNamespaceAt(entry.commit)
			if err != nil {
				return nil, nil, false, err
			}
			if nsOK {
				for _, p := range ns.Packs {
					packs = append(packs, p.Addr)
					w.fileByAddr[p.Addr] = p.File
				}
			}
			return packs, rec.Parents, true, nil
		}
		if len(w.frontier) == 0 {
			return nil, nil, false, nil
		}
		commit := w.frontier[0]
		w.frontier = w.frontier[1:]
		if w.visited[commit] {
			continue
		}
		w.visited[commit] = true

		rec, err := w.e.decodeGeneration(commit)
		if err != nil {
			return nil, nil, false, err
		}
		addr := recursiveremote.HashBytes(mustEncodeStateRecord(rec))
		w.byAddr[addr] = generationEntry{commit: commit, record: rec}

		parentCommits, err := w.e.Mirror.CommitParents(commit)
		if err != nil {
			return nil, nil, false, err
		}
		w.frontier = append(w.frontier, parentCommits...)
	}
}

// decodeNamespaceAt reads and decrypts this engine's namespace's
// NamespaceRecord as of commit. ok is false if the namespace has
// never pushed as of that generation.
func (e *Engine) decodeNamespaceAt(commit string) (*recursiveremote.NamespaceRecord, bool, error) {
	path := recursiveremote.NamespaceRecordPath(e.namespaceToken())
	plaintext, ok, err := e.readSealedBlob(e.Config.NamespaceKey, commit, path)
	if err != nil || !ok {
		return nil, ok, err
	}
	rec, err := recursiveremote.DecodeNamespaceRecord(plaintext)
	return rec, true, err
}

// mustEncodeStateRecord re-derives the canonical bytes of a decoded
// StateRecord so its content address can be recomputed; EncodeStateRecord
// is deterministic, so this always reproduces the bytes that were
// originally hashed to produce the record's own address.
func mustEncodeStateRecord(rec *recursiveremote.StateRecord) []byte {
	b, err := recursiveremote.EncodeStateRecord(rec)
	if err != nil {
		// EncodeStateRecord only fails on a msgpack marshal error,
		// which cannot happen for a record this package itself
		// decoded successfully moments ago.
		panic(err)
	}
	return b
}
