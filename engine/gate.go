package engine

import (
	recursiveremote "github.com/t7a/recursive-remote"
)

// admitRef applies the push-semantics gate to one ref update: tags
// are immutable once recorded, a symbolic ref can never be carried
// across the wire, and a non-force update must fast-forward the ref's
// last recorded target. old is the ref's current WeakHash in the
// namespace's record, and oldOK is false if the ref has never been
// pushed before.
func (e *Engine) admitRef(u RefUpdate, old recursiveremote.WeakHash, oldOK bool) error {
	if !u.IsDelete() {
		symbolic, err := e.caller.IsSymbolicRef(u.Src)
		if err != nil {
			return err
		}
		if symbolic {
			return &recursiveremote.InnerRefNonFastForwardError{Ref: u.Dst, Reason: "refusing to push a symbolic ref"}
		}
	}

	if isTagRef(u.Dst) && oldOK {
		return &recursiveremote.InnerRefNonFastForwardError{Ref: u.Dst, Reason: "tags are immutable once recorded"}
	}

	if u.Force || !oldOK || u.IsDelete() {
		return nil
	}

	newOID, err := e.caller.RevParse(u.Src)
	if err != nil {
		return err
	}
	if err := e.materializeAncestryCheck(u.Src, newOID, old); err != nil {
		return err
	}
	ancestor, err := e.Tracker.IsAncestor(old.String(), newOID)
	if err != nil {
		return &recursiveremote.InnerRefNonFastForwardError{Ref: u.Dst, Reason: "unable to verify ancestry of the previous target"}
	}
	if !ancestor {
		return &recursiveremote.InnerRefNonFastForwardError{Ref: u.Dst, Reason: "update is not a fast-forward"}
	}
	return nil
}

// materializeAncestryCheck pulls newOID (reachable from the caller's
// local src ref) into the tracker before admitRef consults
// Tracker.IsAncestor, the same way materializePresent feeds the
// tracker before computing a push's exclude list. old is usually
// already present from some earlier push's or fetch's own
// materialization; the caller's repository rarely exposes it by any
// ref name of its own, so fetching it here is best-effort only -- a
// miss just means IsAncestor below fails closed rather than wrongly
// admitting a non-fast-forward update.
func (e *Engine) materializeAncestryCheck(src, newOID string, old recursiveremote.WeakHash) error {
	if err := e.Tracker.FetchFrom(e.caller.Dir, map[string]string{src: newOID}); err != nil {
		return err
	}
	if old.IsZero() {
		return nil
	}
	_ = e.Tracker.FetchFrom(e.caller.Dir, map[string]string{old.String(): old.String()})
	return nil
}
