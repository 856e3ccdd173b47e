/*

Package reachability implements the Reachability Tracker: a second
local scratch repository that accumulates every inner DVCS object
either side of a sync has ever handled, plus the planning algorithms
(Q1, Q2) that decide what must be shipped on a push and what must be
fetched to cover a namespace's refs.

Objects are kept reachable here by pointing a throwaway ref at each
tip ever seen; nothing is ever deleted, matching the object graph's
"blobs are never deleted" lifecycle rule, generalized to inner
objects. When the number of tracking refs grows large, CompactRefs
folds them into a single merge commit the way the rest of this
codebase folds many small things into one write once they pile up.

*/
package reachability

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/t7a/recursive-remote/internal/gitshell"
)

// compactThreshold matches the point at which keeping refs
// individually stops being worth the for-each-ref cost.
const compactThreshold = 50

// Tracker is the second scratch repository.
type Tracker struct {
	git    *gitshell.Git
	Prefix string // ref namespace this tracker owns under refs/heads/, e.g. "origin"
}

// Open opens (initializing if necessary) a bare scratch repository at
// dir, owning refs under refs/heads/<prefix>/*.
func Open(dir, prefix string) (*Tracker, error) {
	g := gitshell.New(dir)
	if err := g.InitBare(); err != nil {
		return nil, fmt.Errorf("reachability: open %s: %w", dir, err)
	}
	// This repository never serves anyone but our own other scratch
	// repository, so it is safe to let a fetch name an object
	// directly by id instead of requiring a ref to already point at
	// it -- the tracker keeps throwaway refs for everything it holds
	// anyway, but a caller-supplied oid may only be reachable from
	// one of those refs, not equal to it.
	if _, err := g.Run("config", "uploadpack.allowTipSHA1InWant", "true"); err != nil {
		return nil, fmt.Errorf("reachability: configure %s: %w", dir, err)
	}
	if _, err := g.Run("config", "uploadpack.allowReachableSHA1InWant", "true"); err != nil {
		return nil, fmt.Errorf("reachability: configure %s: %w", dir, err)
	}
	return &Tracker{git: g, Prefix: prefix}, nil
}

func (tr *Tracker) refName(oid string) string {
	return fmt.Sprintf("refs/heads/%s/rev%s", tr.Prefix, oid)
}

// FetchFrom pulls the given (sourceRef, oid) pairs from src (a path
// or URL git understands) into this tracker, pointing a throwaway ref
// at each oid so it -- and everything reachable from it -- remains
// permanently reachable here regardless of what happens to src
// afterward. sourceRef must already resolve to oid in src; the
// caller owns creating that ref (e.g. a real branch tip in the
// caller's repository, or a tag), since this tracker has no standing
// to write into a repository it does not itself hold.
func (tr *Tracker) FetchFrom(src string, refs map[string]string) error {
	if len(refs) == 0 {
		return nil
	}
	refspecs := make([]string, 0, len(refs))
	for sourceRef, oid := range refs {
		refspecs = append(refspecs, fmt.Sprintf("%s:%s", sourceRef, tr.refName(oid)))
	}
	if err := tr.git.FetchRefspecs(src, refspecs...); err != nil {
		return fmt.Errorf("reachability: fetch from %s: %w", src, err)
	}
	return nil
}

// PushInto transfers oids from this tracker into dst, recording each
// as a throwaway ref in dst. cmd_push.rs's comment applies here too:
// this exists to guard against races between refs and objects, not
// because either repo is otherwise untrusted.
func (tr *Tracker) PushInto(dst string, oids []string) error {
	if len(oids) == 0 {
		return nil
	}
	refspecs := make([]string, 0, len(oids))
	for _, oid := range oids {
		// The oid must already be reachable from one of this
		// tracker's own refs; UpdateRef here is a cheap no-op when
		// that ref already exists and a clear failure (object
		// unknown) when it doesn't, rather than a push-time surprise.
		if err := tr.git.UpdateRef(tr.refName(oid), oid); err != nil {
			return fmt.Errorf("reachability: ref %s before push: %w", oid, err)
		}
		refspecs = append(refspecs, fmt.Sprintf("%s:%s", tr.refName(oid), tr.refName(oid)))
	}
	if err := tr.git.PushRefspecs(dst, refspecs...); err != nil {
		return fmt.Errorf("reachability: push into %s: %w", dst, err)
	}
	return nil
}

// Exists reports whether oid is present in this tracker's object
// database.
func (tr *Tracker) Exists(oid string) (bool, error) {
	kind, err := tr.git.ObjectKind(oid)
	if err != nil {
		return false, err
	}
	return kind != "", nil
}

// ObjectKind returns the kind of oid ("commit", "tag", "tree",
// "blob"), or "" if this tracker has never seen it.
func (tr *Tracker) ObjectKind(oid string) (string, error) {
	return tr.git.ObjectKind(oid)
}

// IsAncestor reports whether ancestor is an ancestor of (or equal to)
// descendant, among objects this tracker has seen. It is the
// fast-forward test the push-semantics gate uses for commit refs.
func (tr *Tracker) IsAncestor(ancestor, descendant string) (bool, error) {
	return tr.git.IsAncestor(ancestor, descendant)
}

// IndexPack feeds framed pack bytes (already decrypted) into this
// tracker's object database via `git index-pack --fix-thin`,
// tolerating the case where size is zero and the subprocess exits
// non-zero solely because it was handed an empty stream.
func (tr *Tracker) IndexPack(data []byte) error {
	piped, err := tr.git.Start("index-pack", "--fix-thin", "--stdin", "--keep")
	if err != nil {
		return fmt.Errorf("reachability: start index-pack: %w", err)
	}
	_, writeErr := piped.Stdin.Write(data)
	closeErr := piped.Stdin.Close()
	waitErr := piped.Wait()
	if waitErr != nil {
		if len(data) == 0 {
			return nil
		}
		if writeErr != nil {
			return fmt.Errorf("reachability: write to index-pack: %w", writeErr)
		}
		return fmt.Errorf("reachability: index-pack: %w", waitErr)
	}
	if closeErr != nil {
		return fmt.Errorf("reachability: close index-pack stdin: %w", closeErr)
	}
	return nil
}

// PackObjects runs `git pack-objects --revs --thin --stdout`, writing
// include (and, prefixed with "^", exclude) revisions to its stdin,
// and returns the resulting pack bytes.
func (tr *Tracker) PackObjects(include, exclude []string) ([]byte, error) {
	piped, err := tr.git.Start("pack-objects", "--revs", "--thin", "--stdout")
	if err != nil {
		return nil, fmt.Errorf("reachability: start pack-objects: %w", err)
	}
	var lines []string
	for _, oid := range include {
		lines = append(lines, oid)
	}
	for _, oid := range exclude {
		lines = append(lines, "^"+oid)
	}
	go func() {
		_, _ = piped.Stdin.Write([]byte(strings.Join(lines, "\n") + "\n"))
		piped.Stdin.Close()
	}()
	out, readErr := io.ReadAll(piped.Stdout)
	waitErr := piped.Wait()
	if waitErr != nil {
		return nil, fmt.Errorf("reachability: pack-objects: %w", waitErr)
	}
	if readErr != nil {
		return nil, fmt.Errorf("reachability: read pack-objects output: %w", readErr)
	}
	return out, nil
}

// CompactRefs folds this tracker's throwaway refs into a single
// empty-tree merge commit once there are more than
// compactThreshold of them, so for-each-ref stays cheap indefinitely.
func (tr *Tracker) CompactRefs() error {
	refs, err := tr.git.ForEachRefGlob(fmt.Sprintf("refs/heads/%s/*", tr.Prefix))
	if err != nil {
		return fmt.Errorf("reachability: list refs: %w", err)
	}
	if len(refs) <= compactThreshold {
		return nil
	}
	names := make([]string, 0, len(refs))
	oids := make([]string, 0, len(refs))
	for name, oid := range refs {
		names = append(names, name)
		oids = append(oids, oid)
	}
	sort.Strings(names)

	emptyTree, err := tr.git.Run("mktree")
	if err != nil {
		return fmt.Errorf("reachability: mktree empty: %w", err)
	}
	args := []string{"commit-tree", strings.TrimSpace(string(emptyTree))}
	for _, oid := range oids {
		args = append(args, "-p", oid)
	}
	out, err := tr.git.RunWithInput([]byte("compacted"), args...)
	if err != nil {
		return fmt.Errorf("reachability: commit-tree compaction: %w", err)
	}
	mergeCommit := strings.TrimSpace(string(out))
	if err := tr.git.UpdateRef(tr.refName(mergeCommit), mergeCommit); err != nil {
		return fmt.Errorf("reachability: ref compacted commit: %w", err)
	}
	for _, name := range names {
		if err := tr.git.DeleteRef(name); err != nil {
			return fmt.Errorf("reachability: delete compacted ref %s: %w", name, err)
		}
	}
	return nil
}

// GCAuto runs a garbage-collection pass over the tracker repository,
// then sweeps up the .keep files IndexPack leaves behind. Those files
// exist only to stop a concurrent "git gc" from deleting a pack while
// IndexPack is still writing it; once the pack is part of this
// repository's permanent object set, the marker has no further
// purpose and would otherwise accumulate forever.
func (tr *Tracker) GCAuto() error {
	if err := tr.git.GCAuto(); err != nil {
		return err
	}
	return tr.pruneKeepFiles()
}

func (tr *Tracker) pruneKeepFiles() error {
	matches, err := filepath.Glob(filepath.Join(tr.git.Dir, "objects", "pack", "*.keep"))
	if err != nil {
		return fmt.Errorf("reachability: glob .keep files: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reachability: remove %s: %w", m, err)
		}
	}
	return nil
}
