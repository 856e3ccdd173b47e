package gitshell

import (
	"path/filepath"
	"strings"
	"testing"
)

func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(txt, args...)
	}
}

func newRepo(t *testing.T) *Git {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "repo.git")
	g := New(dir)
	tassert(t, g.InitBare() == nil, "InitBare failed")
	return g
}

func TestInitBareIsIdempotent(t *testing.T) {
	g := newRepo(t)
	tassert(t, g.InitBare() == nil, "second InitBare failed")
}

func TestHashObjectAndCatFileRoundTrip(t *testing.T) {
	g := newRepo(t)
	oid, err := g.HashObject([]byte("hello, recursive remote"), true)
	tassert(t, err == nil, "HashObject: %v", err)
	tassert(t, len(oid) == 40, "expected a 40-character object id, got %q", oid)

	content, err := g.CatFile(oid)
	tassert(t, err == nil, "CatFile: %v", err)
	tassert(t, string(content) == "hello, recursive remote", "content mismatch: %q", content)

	kind, err := g.ObjectKind(oid)
	tassert(t, err == nil, "ObjectKind: %v", err)
	tassert(t, kind == "blob", "expected blob, got %q", kind)
}

func TestObjectKindMissingReturnsEmpty(t *testing.T) {
	g := newRepo(t)
	kind, err := g.ObjectKind("0000000000000000000000000000000000000000")
	tassert(t, err == nil, "ObjectKind: %v", err)
	tassert(t, kind == "", "expected empty kind for a missing object, got %q", kind)
}

func TestUpdateRefAndForEachRefGlob(t *testing.T) {
	g := newRepo(t)
	out, err := g.RunWithInput([]byte("ref target"), "commit-tree", "4b825dc642cb6eb9a060e54bf8d69288fbee4904")
	tassert(t, err == nil, "commit-tree: %v", err)
	oid := strings.TrimSpace(string(out))

	tassert(t, g.UpdateRef("refs/heads/example", oid) == nil, "UpdateRef failed")

	refs, err := g.ForEachRefGlob("refs/heads/*")
	tassert(t, err == nil, "ForEachRefGlob: %v", err)
	tassert(t, refs["refs/heads/example"] == oid, "expected ref to point at %s, got %v", oid, refs)
}

func TestRevParseMissingReturnsEmpty(t *testing.T) {
	g := newRepo(t)
	oid, err := g.RevParse("refs/heads/does-not-exist")
	tassert(t, err == nil, "RevParse: %v", err)
	tassert(t, oid == "", "expected empty string for a missing ref, got %q", oid)
}

func TestRunErrorCarriesStderr(t *testing.T) {
	g := newRepo(t)
	_, err := g.Run("cat-file", "-p", "not-a-valid-oid")
	tassert(t, err != nil, "expected an error")
	tassert(t, strings.Contains(err.Error(), "git"), "error should mention the failing command: %v", err)
}
