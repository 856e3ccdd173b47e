package engine

import (
	recursiveremote "github.com/t7a/recursive-remote"
	"github.com/t7a/recursive-remote/internal/reachability"
)

// FetchResult reports what a Fetch call brought down: the namespace's
// current inner refs (name -> WeakHash), to be applied by the caller,
// and how many pack blobs were retrieved.
type FetchResult struct {
	Refs      map[string]recursiveremote.WeakHash
	PacksRead int
}

// ListRefs answers the remote helper's "list" command: it reports the
// namespace's current inner refs without importing any objects,
// decoding only as far as steps 1-2 of the fetch path (sync base,
// locate the NamespaceRecord). A namespace that has never pushed
// yields an empty map.
func (e *Engine) ListRefs() (map[string]recursiveremote.WeakHash, error) {
	base, err := e.syncBase()
	if err != nil {
		return nil, err
	}
	if base.commit == "" {
		return map[string]recursiveremote.WeakHash{}, nil
	}
	nsRec, ok, err := e.decodeNamespaceAt(base.commit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]recursiveremote.WeakHash{}, nil
	}
	return nsRec.Refs, nil
}

// Fetch brings this namespace's objects and refs down from upstream
// into the caller's own repository (via the reachability tracker),
// planning the minimal set of packs to retrieve with Q2, indexing each
// into the tracker, and then pushing the ref targets into the caller.
func (e *Engine) Fetch() (*FetchResult, error) {
	return e.fetch(false)
}

// ReinsertAllPacks is the explicit operator recovery switch for the
// case where the fetch-basis optimization's assumption -- that every
// ancestor StateRecord the tracker has already walked stays
// reachable in the caller's own repository -- turns out to be false
// (e.g. the caller ran its own gc and pruned objects this tracker
// had recorded as already covered). It re-walks the entire StateRecord
// history from the current tip instead of stopping at the stored
// fetch basis, and re-indexes every pack along the way, so it is
// always at least as expensive as a first Fetch and should only be
// invoked deliberately, never as a silent fallback from a failed
// Fetch.
func (e *Engine) ReinsertAllPacks() (*FetchResult, error) {
	return e.fetch(true)
}

func (e *Engine) fetch(ignoreBasis bool) (*FetchResult, error) {
	base, err := e.syncBase()
	if err != nil {
		return nil, err
	}
	if base.commit == "" {
		return &FetchResult{Refs: map[string]recursiveremote.WeakHash{}}, nil
	}

	nsRec, nsOK, err := e.decodeNamespaceAt(base.commit)
	if err != nil {
		return nil, err
	}
	if !nsOK {
		return &FetchResult{Refs: map[string]recursiveremote.WeakHash{}}, nil
	}

	basis := recursiveremote.ZeroAddress
	if !ignoreBasis {
		storedBasis, basisOK, err := e.Mirror.FetchBasis(e.Config.Namespace)
		if err != nil {
			return nil, err
		}
		if basisOK {
			basis = storedBasis
		}
	}

	w := newStateWalker(e, base.commit)
	packAddrs, err := reachability.PlanFetchPacks(w, base.addr, basis)
	if err != nil {
		return nil, err
	}

	if err := e.materializeBasis(); err != nil {
		return nil, err
	}

	token := e.namespaceToken()
	for _, addr := range packAddrs {
		file, ok := w.FileFor(addr)
		if !ok {
			file = addr.String()
		}
		plaintext, ok, err := e.readSealedBlob(e.Config.NamespaceKey, base.commit, recursiveremote.PackBlobPath(token, file))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &recursiveremote.ReachabilityGapError{Namespace: e.Config.Namespace}
		}
		if err := e.Tracker.IndexPack(plaintext); err != nil {
			return nil, &recursiveremote.ReachabilityGapError{Namespace: e.Config.Namespace}
		}
	}

	for _, weak := range nsRec.Refs {
		if weak.IsZero() {
			continue
		}
		kind, err := e.Tracker.ObjectKind(weak.String())
		if err != nil {
			return nil, err
		}
		if kind == "" {
			return nil, &recursiveremote.ReachabilityGapError{Namespace: e.Config.Namespace, Missing: weak}
		}
	}

	if err := e.Tracker.PushInto(e.caller.Dir, tipsOf(nsRec.Refs)); err != nil {
		return nil, err
	}

	if err := e.Mirror.SetFetchBasis(e.Config.Namespace, base.addr); err != nil {
		return nil, err
	}
	if err := e.Tracker.CompactRefs(); err != nil {
		return nil, err
	}

	return &FetchResult{Refs: nsRec.Refs, PacksRead: len(packAddrs)}, nil
}

// materializeBasis pulls the caller's configured shallow basis refs
// into the tracker before indexing any newly fetched packs, mirroring
// materializePresent's pattern on the push side. A thin pack built
// with recursive-shallow-basis excludes deltas against objects the
// sender assumed the receiver already has; IndexPack's --fix-thin
// needs those delta bases present in the tracker's own object
// database, not merely in the caller's repository, or indexing fails.
// A basis ref the caller does not actually have locally is silently
// skipped rather than treated as an error: the subsequent reachability
// check after indexing is what actually decides whether the fetch can
// succeed.
func (e *Engine) materializeBasis() error {
	fetch := map[string]string{}
	for _, basisRef := range e.Config.ShallowBasis {
		oid, err := e.caller.RevParse(basisRef)
		if err != nil {
			return err
		}
		if oid != "" {
			fetch[basisRef] = oid
		}
	}
	return e.Tracker.FetchFrom(e.caller.Dir, fetch)
}

func tipsOf(refs map[string]recursiveremote.WeakHash) []string {
	seen := map[recursiveremote.WeakHash]bool{}
	var out []string
	for _, w := range refs {
		if w.IsZero() || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w.String())
	}
	return out
}
