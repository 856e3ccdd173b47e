package recursiveremote

import "testing"

func TestNamespaceTokenClearIsLiteralName(t *testing.T) {
	tassert(t, NamespaceToken(nil, "work") == "work", "expected clear-mode token to be the literal name")
}

func TestNamespaceTokenClearDefaultNamespaceIsNotEmpty(t *testing.T) {
	token := NamespaceToken(nil, "")
	tassert(t, token != "", "expected the default namespace to still get a non-empty path component")
	tassert(t, NamespaceRecordPath(token) == token+"/namespace", "default namespace record path should still nest under its token")
}

func TestNamespaceTokenEncryptedIsStableAndOpaque(t *testing.T) {
	key, err := GenerateKey()
	tassert(t, err == nil, "GenerateKey: %v", err)

	t1 := NamespaceToken(&key, "work")
	t2 := NamespaceToken(&key, "work")
	tassert(t, t1 == t2, "expected the same (key, name) pair to produce a stable token")
	tassert(t, t1 != "work", "expected an encrypted-branch token to not be the literal name")

	other := NamespaceToken(&key, "other")
	tassert(t, t1 != other, "expected distinct namespace names to produce distinct tokens")

	key2, err := GenerateKey()
	tassert(t, err == nil, "GenerateKey: %v", err)
	tassert(t, NamespaceToken(&key2, "work") != t1, "expected distinct state keys to produce distinct tokens for the same name")
}

func TestPackBlobPathUnderPacksDir(t *testing.T) {
	addr := HashBytes([]byte("pack contents"))
	p := PackBlobPath("work", addr.String())
	want := "work/packs/" + addr.String()
	tassert(t, p == want, "unexpected pack path %q, want %q", p, want)
}

func TestNamespaceRecordPath(t *testing.T) {
	tassert(t, NamespaceRecordPath("work") == "work/namespace", "unexpected namespace record path")
}
