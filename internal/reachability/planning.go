package reachability

import recursiveremote "github.com/t7a/recursive-remote"

// PlanPushRevset answers Q1: given the set of ref targets a push
// wants to land (tips) and the set of objects the other side can
// already be assumed to have (present -- the namespace's current ref
// targets plus its shallow basis), return the include/exclude
// revision lists to hand to a pack-building tool so the resulting
// pack carries only what tips add beyond present.
//
// present entries that tips also names are harmless as excludes (a
// ref that did not move); callers are expected to have already
// filtered present down to objects that actually exist in the
// repository being packed from, since an exclude naming a missing
// object is an error for most pack tools.
func PlanPushRevset(tips, present []recursiveremote.WeakHash) (include, exclude []string) {
	seen := map[recursiveremote.WeakHash]bool{}
	for _, w := range tips {
		if w.IsZero() || seen[w] {
			continue
		}
		seen[w] = true
		include = append(include, w.String())
	}
	seen = map[recursiveremote.WeakHash]bool{}
	for _, w := range present {
		if w.IsZero() || seen[w] {
			continue
		}
		seen[w] = true
		exclude = append(exclude, w.String())
	}
	return
}

// StateWalker lets PlanFetchPacks step through the StateRecord graph
// without knowing how a record is encoded or decrypted.
type StateWalker interface {
	// Load returns the pack addresses a is namespace's record lists,
	// plus a's StateRecord's parent addresses. ok is false if no
	// StateRecord with address a can be found; a generation that
	// predates the namespace loads with ok true and no packs.
	Load(a recursiveremote.Address) (packs []recursiveremote.Address, parents []recursiveremote.Address, ok bool, err error)
}

// PlanFetchPacks answers Q2: starting from tip's StateRecord, walk
// parent StateRecords accumulating namespace pack addresses until
// every branch of the walk reaches basis (the last state already
// known to be fully covered) or runs out of parents. The returned
// list must be applied in order: index 0 first. This mirrors the
// stack-based walk used elsewhere in this codebase for the same
// problem, which does not produce a strict topological order for
// merge histories but is applied in a direction (oldest discovered
// last) that keeps thin-pack delta bases available by the time they
// are needed in the common, mostly-linear case.
func PlanFetchPacks(w StateWalker, tip, basis recursiveremote.Address) ([]recursiveremote.Address, error) {
	if tip.IsZero() {
		return nil, nil
	}
	var collected []recursiveremote.Address
	stack := []recursiveremote.Address{tip}
	for len(stack) > 0 {
		addr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !basis.IsZero() && addr == basis {
			continue
		}

		packs, parents, ok, err := w.Load(addr)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		collected = append(collected, packs...)
		stack = append(stack, parents...)
	}

	// Apply in reverse collection order: the tip's own packs (the
	// newest generation) were collected first but must be indexed
	// last, after any older generation a thin pack might delta
	// against.
	out := make([]recursiveremote.Address, len(collected))
	for i, a := range collected {
		out[len(collected)-1-i] = a
	}
	return out, nil
}
