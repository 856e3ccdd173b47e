package engine

import "strings"

// RefUpdate is one ref the caller's DVCS asked this remote to push:
// Src is the ref in the caller's own repository, already resolved to
// an object id, and Dst is the inner ref name the namespace should
// record it under. Src is "" for a deletion.
type RefUpdate struct {
	Src   string
	Dst   string
	Force bool
}

// IsDelete reports whether this update removes Dst rather than
// moving it.
func (u RefUpdate) IsDelete() bool { return u.Src == "" }

func isTagRef(name string) bool {
	return strings.HasPrefix(name, "refs/tags/")
}
