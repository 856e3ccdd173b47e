package engine

import (
	recursiveremote "github.com/t7a/recursive-remote"
)

// generation is one observed snapshot of the upstream branch: the
// mirror commit carrying it, its decoded StateRecord, and that
// record's own content address.
type generation struct {
	commit string
	record *recursiveremote.StateRecord
	addr   recursiveremote.Address
}

// syncBase fetches the current upstream tip into the mirror, decodes
// its StateRecord, and enforces the ratcheting invariant (I5) against
// whatever StateRecord address this engine last trusted. A first-ever
// observation trusts itself (TOFU); every subsequent observation must
// carry the previously trusted address among its transitive parents,
// or a *recursiveremote.RatchetingError is returned. On success the
// newly observed address is persisted as trusted before returning, so
// each retry of a losing push ratchets forward from here.
func (e *Engine) syncBase() (generation, error) {
	commit, err := e.Mirror.FetchTip()
	if err != nil {
		return generation{}, err
	}
	rec, err := e.decodeGeneration(commit)
	if err != nil {
		return generation{}, err
	}
	var addr recursiveremote.Address
	if commit != "" {
		addr = recursiveremote.HashBytes(mustEncodeStateRecord(rec))
	}

	trusted, ok, err := e.Mirror.TrustedState()
	if err != nil {
		return generation{}, err
	}
	if ok && !addr.IsZero() && addr != trusted {
		reachable, err := e.isTrustedAncestor(commit, trusted, addr)
		if err != nil {
			return generation{}, err
		}
		if !reachable {
			return generation{}, &recursiveremote.RatchetingError{Trusted: trusted, Tip: addr}
		}
	}
	if !addr.IsZero() {
		if err := e.Mirror.SetTrustedState(addr); err != nil {
			return generation{}, err
		}
	}
	return generation{commit: commit, record: rec, addr: addr}, nil
}

// isTrustedAncestor reports whether trusted appears among tip's
// transitive StateRecord parents, by the same depth-first stack walk
// the Q2 pack-planning step uses.
func (e *Engine) isTrustedAncestor(startCommit string, trusted, tip recursiveremote.Address) (bool, error) {
	w := newStateWalker(e, startCommit)
	seen := map[recursiveremote.Address]bool{}
	stack := []recursiveremote.Address{tip}
	for len(stack) > 0 {
		addr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if addr == trusted {
			return true, nil
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		_, parents, ok, err := w.Load(addr)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		stack = append(stack, parents...)
	}
	return false, nil
}
