package mirror

import (
	"path/filepath"
	"testing"

	recursiveremote "github.com/t7a/recursive-remote"
	"github.com/t7a/recursive-remote/internal/gitshell"
)

func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(txt, args...)
	}
}

const testBranch = "refs/heads/recursive"

func newUpstream(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "upstream.git")
	g := gitshell.New(dir)
	tassert(t, g.InitBare() == nil, "init upstream")
	return dir
}

func newMirror(t *testing.T, upstream string) *Mirror {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "mirror.git")
	m, err := Open(dir, upstream, testBranch)
	tassert(t, err == nil, "Open: %v", err)
	return m
}

func TestFetchTipOnEmptyUpstream(t *testing.T) {
	upstream := newUpstream(t)
	m := newMirror(t, upstream)

	tip, err := m.FetchTip()
	tassert(t, err == nil, "FetchTip: %v", err)
	tassert(t, tip == "", "expected no tip on an empty upstream, got %q", tip)
}

func TestCommitPushFetchRoundTrip(t *testing.T) {
	upstream := newUpstream(t)
	m := newMirror(t, upstream)

	blobOID, err := m.WriteBlob([]byte("state record bytes"))
	tassert(t, err == nil, "WriteBlob: %v", err)

	root := Dir()
	root.Set("state", Leaf(blobOID))

	commit, err := m.CommitTree(root, "", "first generation")
	tassert(t, err == nil, "CommitTree: %v", err)
	tassert(t, commit != "", "commit id is empty")

	err = m.PushTip(commit)
	tassert(t, err == nil, "PushTip: %v", err)

	m2 := newMirror(t, upstream)
	tip, err := m2.FetchTip()
	tassert(t, err == nil, "FetchTip: %v", err)
	tassert(t, tip == commit, "expected tip %s, got %s", commit, tip)

	content, err := m2.ReadPath(tip, "state")
	tassert(t, err == nil, "ReadPath: %v", err)
	tassert(t, string(content) == "state record bytes", "content mismatch: %q", content)
}

func TestPushTipRejectsNonFastForward(t *testing.T) {
	upstream := newUpstream(t)
	m := newMirror(t, upstream)

	blobOID, err := m.WriteBlob([]byte("generation one"))
	tassert(t, err == nil, "WriteBlob: %v", err)
	root := Dir()
	root.Set("state", Leaf(blobOID))
	commit1, err := m.CommitTree(root, "", "gen1")
	tassert(t, err == nil, "CommitTree: %v", err)
	tassert(t, m.PushTip(commit1) == nil, "first PushTip failed")

	// A second, unrelated mirror races in a competing generation
	// before fetching the first one.
	other := newMirror(t, upstream)
	blobOID2, err := other.WriteBlob([]byte("generation two, unrelated"))
	tassert(t, err == nil, "WriteBlob: %v", err)
	root2 := Dir()
	root2.Set("state", Leaf(blobOID2))
	commit2, err := other.CommitTree(root2, "", "gen2")
	tassert(t, err == nil, "CommitTree: %v", err)

	err = other.PushTip(commit2)
	tassert(t, err != nil, "expected PushTip to be rejected")
	var nffErr *recursiveremote.UpstreamNonFastForwardError
	tassert(t, asNonFastForward(err, &nffErr), "expected UpstreamNonFastForwardError, got %T: %v", err, err)
}

func asNonFastForward(err error, target **recursiveremote.UpstreamNonFastForwardError) bool {
	e, ok := err.(*recursiveremote.UpstreamNonFastForwardError)
	if ok {
		*target = e
	}
	return ok
}

func TestTrustedStatePersistence(t *testing.T) {
	upstream := newUpstream(t)
	m := newMirror(t, upstream)

	_, ok, err := m.TrustedState()
	tassert(t, err == nil, "TrustedState: %v", err)
	tassert(t, !ok, "expected no trusted state initially")

	addr := recursiveremote.HashBytes([]byte("some state record"))
	tassert(t, m.SetTrustedState(addr) == nil, "SetTrustedState failed")

	got, ok, err := m.TrustedState()
	tassert(t, err == nil, "TrustedState: %v", err)
	tassert(t, ok, "expected a trusted state after SetTrustedState")
	tassert(t, got == addr, "trusted state mismatch")

	tassert(t, m.ClearTrustedState() == nil, "ClearTrustedState failed")
	_, ok, err = m.TrustedState()
	tassert(t, err == nil, "TrustedState: %v", err)
	tassert(t, !ok, "expected no trusted state after clearing")
}

func TestListDirOnNamespacePacks(t *testing.T) {
	upstream := newUpstream(t)
	m := newMirror(t, upstream)

	pack1, err := m.WriteBlob([]byte("pack one bytes"))
	tassert(t, err == nil, "WriteBlob: %v", err)
	pack2, err := m.WriteBlob([]byte("pack two bytes"))
	tassert(t, err == nil, "WriteBlob: %v", err)

	root := Dir()
	root.Set("ns/packs/aa/bb/packone", Leaf(pack1))
	root.Set("ns/packs/cc/dd/packtwo", Leaf(pack2))

	commit, err := m.CommitTree(root, "", "gen")
	tassert(t, err == nil, "CommitTree: %v", err)

	names, err := m.ListDir(commit, "ns/packs/aa/bb")
	tassert(t, err == nil, "ListDir: %v", err)
	tassert(t, len(names) == 1 && names[0] == "packone", "unexpected listing: %v", names)
}

func TestRootEntriesAndTreeRefPassthrough(t *testing.T) {
	upstream := newUpstream(t)
	m := newMirror(t, upstream)

	stateOID, err := m.WriteBlob([]byte("gen1 state"))
	tassert(t, err == nil, "WriteBlob: %v", err)
	nsOID, err := m.WriteBlob([]byte("gen1 namespace record"))
	tassert(t, err == nil, "WriteBlob: %v", err)

	root := Dir()
	root.Set("state", Leaf(stateOID))
	root.Set("work/namespace", Leaf(nsOID))
	commit1, err := m.CommitTree(root, "", "gen1")
	tassert(t, err == nil, "CommitTree: %v", err)

	entries, err := m.RootEntries(commit1)
	tassert(t, err == nil, "RootEntries: %v", err)
	tassert(t, entries["state"].Type == "blob", "expected state to be a blob entry")
	workEntry, ok := entries["work"]
	tassert(t, ok && workEntry.Type == "tree", "expected work to be a tree entry")

	// A second generation copies the "work" namespace subtree forward
	// unchanged via TreeRef, touching only the state blob.
	stateOID2, err := m.WriteBlob([]byte("gen2 state"))
	tassert(t, err == nil, "WriteBlob: %v", err)
	root2 := Dir()
	root2.Set("state", Leaf(stateOID2))
	root2.Set("work", TreeRef(workEntry.OID))
	commit2, err := m.CommitTree(root2, commit1, "gen2")
	tassert(t, err == nil, "CommitTree: %v", err)

	content, err := m.ReadPath(commit2, "work/namespace")
	tassert(t, err == nil, "ReadPath: %v", err)
	tassert(t, string(content) == "gen1 namespace record", "expected unchanged namespace content, got %q", content)

	entries2, err := m.RootEntries(commit2)
	tassert(t, err == nil, "RootEntries: %v", err)
	tassert(t, entries2["work"].OID == workEntry.OID, "expected the work subtree object id to be reused verbatim")
}
