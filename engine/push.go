package engine

import (
	recursiveremote "github.com/t7a/recursive-remote"
	"github.com/t7a/recursive-remote/internal/mirror"
	"github.com/t7a/recursive-remote/internal/reachability"
)

// Push admits, packs, and lands one batch of ref updates under this
// engine's namespace, making at most pushRetryLimit attempts at the
// upstream fast-forward race before giving up. The returned map reports the
// outcome of every update named in updates, successful or not; a
// non-nil top-level error means the whole attempt could not be
// completed (a transport failure, or exhausting the retry budget).
func (e *Engine) Push(updates []RefUpdate) (map[string]error, error) {
	var results map[string]error
	for attempt := 0; attempt < pushRetryLimit; attempt++ {
		base, err := e.syncBase()
		if err != nil {
			return nil, err
		}
		nsRec, nsOK, err := e.decodeNamespaceAt(base.commit)
		if err != nil {
			return nil, err
		}
		if !nsOK {
			nsRec = recursiveremote.NewNamespaceRecord()
		}

		results = map[string]error{}
		var admitted []RefUpdate
		for _, u := range updates {
			old, oldOK := nsRec.Refs[u.Dst]
			if err := e.admitRef(u, old, oldOK); err != nil {
				results[u.Dst] = err
				continue
			}
			admitted = append(admitted, u)
		}
		if len(admitted) == 0 {
			return results, nil
		}

		newTarget := map[string]string{} // Dst -> caller-local oid
		fetchRefs := map[string]string{} // caller-local ref name -> oid
		for _, u := range admitted {
			if u.IsDelete() {
				continue
			}
			oid, err := e.caller.RevParse(u.Src)
			if err != nil {
				return nil, err
			}
			newTarget[u.Dst] = oid
			fetchRefs[u.Src] = oid
		}
		present, err := e.materializePresent(nsRec, fetchRefs)
		if err != nil {
			return nil, err
		}

		var tips []recursiveremote.WeakHash
		for _, oid := range newTarget {
			w, err := recursiveremote.ParseWeakHash(oid)
			if err != nil {
				return nil, err
			}
			tips = append(tips, w)
		}
		include, exclude := reachability.PlanPushRevset(tips, present)
		packBytes, err := e.Tracker.PackObjects(include, exclude)
		if err != nil {
			return nil, err
		}

		newNS := &recursiveremote.NamespaceRecord{Refs: copyRefs(nsRec.Refs)}
		for _, u := range admitted {
			if u.IsDelete() {
				delete(newNS.Refs, u.Dst)
				continue
			}
			w, err := recursiveremote.ParseWeakHash(newTarget[u.Dst])
			if err != nil {
				return nil, err
			}
			newNS.Refs[u.Dst] = w
		}

		var packNode *mirror.Node
		var packFile string
		if len(include) > 0 {
			var packAddr recursiveremote.Address
			packAddr, packNode, err = e.writeSealedBlob(e.Config.NamespaceKey, packBytes)
			if err != nil {
				return nil, err
			}
			packFile = packAddr.String()
			if e.Config.NamespaceKey != nil {
				packFile, err = recursiveremote.RandomBlobToken()
				if err != nil {
					return nil, err
				}
			}
			newNS.Packs = []recursiveremote.PackRef{{Addr: packAddr, File: packFile}}
		}

		nsPlaintext, err := recursiveremote.EncodeNamespaceRecord(newNS)
		if err != nil {
			return nil, err
		}
		nsAddr, nsNode, err := e.writeSealedBlob(e.Config.NamespaceKey, nsPlaintext)
		if err != nil {
			return nil, err
		}

		newState := &recursiveremote.StateRecord{Namespaces: copyAddresses(base.record.Namespaces)}
		newState.Namespaces[e.Config.Namespace] = nsAddr
		if !base.addr.IsZero() {
			newState.Parents = []recursiveremote.Address{base.addr}
		}
		statePlaintext, err := recursiveremote.EncodeStateRecord(newState)
		if err != nil {
			return nil, err
		}
		_, stateNode, err := e.writeSealedBlob(e.Config.StateKey, statePlaintext)
		if err != nil {
			return nil, err
		}

		root, err := e.buildTree(base.commit)
		if err != nil {
			return nil, err
		}
		token := e.namespaceToken()
		root.Set(recursiveremote.StateBlobPath, stateNode)
		root.Set(recursiveremote.NamespaceRecordPath(token), nsNode)

		oldPacks, err := e.Mirror.TreeEntries(base.commit, recursiveremote.PacksDir(token))
		if err != nil {
			return nil, err
		}
		for name, entry := range oldPacks {
			if entry.Type == "tree" {
				root.Set(recursiveremote.PacksDir(token)+"/"+name, mirror.TreeRef(entry.OID))
			} else {
				root.Set(recursiveremote.PacksDir(token)+"/"+name, mirror.Leaf(entry.OID))
			}
		}
		if packNode != nil {
			root.Set(recursiveremote.PackBlobPath(token, packFile), packNode)
		}

		commit, err := e.Mirror.CommitTree(root, base.commit, "push "+e.Config.Namespace)
		if err != nil {
			return nil, err
		}
		if err := e.Mirror.PushTip(commit); err != nil {
			var nff *recursiveremote.UpstreamNonFastForwardError
			if isNonFastForward(err, &nff) {
				continue // lost the race; re-sync and retry
			}
			return nil, err
		}

		stateAddr := recursiveremote.HashBytes(statePlaintext)
		if err := e.Mirror.SetTrustedState(stateAddr); err != nil {
			return nil, err
		}
		if err := e.Tracker.CompactRefs(); err != nil {
			return nil, err
		}
		for _, u := range admitted {
			results[u.Dst] = nil
		}
		return results, nil
	}
	return nil, &recursiveremote.UpstreamNonFastForwardError{Ref: e.Config.RemoteBranch}
}

// materializePresent pulls the objects PlanPushRevset's exclude list
// needs -- the namespace's previously recorded ref targets, plus the
// caller's configured shallow basis -- into the tracker, then returns
// whichever of them the tracker actually ends up holding. An object
// the tracker has never seen (e.g. a basis ref absent from the caller's
// repository) is silently dropped from the exclude list rather than
// failing the push: pack-objects simply ships slightly more than
// strictly necessary in that case.
func (e *Engine) materializePresent(nsRec *recursiveremote.NamespaceRecord, alreadyFetching map[string]string) ([]recursiveremote.WeakHash, error) {
	fetch := map[string]string{}
	for ref, oid := range alreadyFetching {
		fetch[ref] = oid
	}
	basis := map[string]string{}
	for _, basisRef := range e.Config.ShallowBasis {
		oid, err := e.caller.RevParse(basisRef)
		if err != nil {
			return nil, err
		}
		if oid != "" {
			fetch[basisRef] = oid
			basis[basisRef] = oid
		}
	}
	if err := e.Tracker.FetchFrom(e.caller.Dir, fetch); err != nil {
		return nil, err
	}

	var present []recursiveremote.WeakHash
	for _, w := range nsRec.Refs {
		ok, err := e.Tracker.Exists(w.String())
		if err != nil {
			return nil, err
		}
		if ok {
			present = append(present, w)
		}
	}
	for _, oid := range basis {
		w, err := recursiveremote.ParseWeakHash(oid)
		if err != nil {
			return nil, err
		}
		present = append(present, w)
	}
	return present, nil
}

// buildTree copies every namespace's current subtree forward from
// base unchanged except this engine's own token, which the caller
// replaces, so a reader resolving any namespace's blobs at the new
// tip never needs to walk commit history -- only catching up on
// missed pack generations (Q2) does that.
func (e *Engine) buildTree(base string) (*mirror.Node, error) {
	entries, err := e.Mirror.RootEntries(base)
	if err != nil {
		return nil, err
	}
	token := e.namespaceToken()
	root := mirror.Dir()
	for name, entry := range entries {
		if name == token || name == recursiveremote.StateBlobPath {
			continue
		}
		if entry.Type == "tree" {
			root.Set(name, mirror.TreeRef(entry.OID))
		} else {
			root.Set(name, mirror.Leaf(entry.OID))
		}
	}
	return root, nil
}

func copyRefs(in map[string]recursiveremote.WeakHash) map[string]recursiveremote.WeakHash {
	out := make(map[string]recursiveremote.WeakHash, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyAddresses(in map[string]recursiveremote.Address) map[string]recursiveremote.Address {
	out := make(map[string]recursiveremote.Address, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func isNonFastForward(err error, target **recursiveremote.UpstreamNonFastForwardError) bool {
	e, ok := err.(*recursiveremote.UpstreamNonFastForwardError)
	if ok {
		*target = e
	}
	return ok
}
