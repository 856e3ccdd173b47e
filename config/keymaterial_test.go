package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	recursiveremote "github.com/t7a/recursive-remote"
)

func TestResolveKeyMaterialInlineGenerateAndPersist(t *testing.T) {
	dir := newCallerRepo(t)
	r := NewReader(dir, "origin")

	k, err := ResolveKeyMaterial(StateNaclKey, "", r)
	tassert(t, err == nil, "ResolveKeyMaterial: %v", err)
	tassert(t, k != nil, "expected a generated key")

	stored, ok, err := r.Get(StateNaclKey)
	tassert(t, err == nil, "Get: %v", err)
	tassert(t, ok, "expected the generated key to be persisted")

	roundTripped, err := recursiveremote.DecodeKey(stored)
	tassert(t, err == nil, "DecodeKey: %v", err)
	tassert(t, roundTripped == *k, "persisted key does not match generated key")
}

func TestResolveKeyMaterialInlineExplicit(t *testing.T) {
	dir := newCallerRepo(t)
	r := NewReader(dir, "origin")

	k, err := recursiveremote.GenerateKey()
	tassert(t, err == nil, "GenerateKey: %v", err)

	got, err := ResolveKeyMaterial(NamespaceNaclKey, recursiveremote.EncodeKey(k), r)
	tassert(t, err == nil, "ResolveKeyMaterial: %v", err)
	tassert(t, *got == k, "decoded key does not match original")
}

func TestResolveKeyMaterialFileGeneratesOnFirstUse(t *testing.T) {
	dir := newCallerRepo(t)
	r := NewReader(dir, "origin")
	path := filepath.Join(t.TempDir(), "creds", "state-key")

	k1, err := ResolveKeyMaterial(StateNaclKey, "file://"+path, r)
	tassert(t, err == nil, "ResolveKeyMaterial (generate): %v", err)

	k2, err := ResolveKeyMaterial(StateNaclKey, "file://"+path, r)
	tassert(t, err == nil, "ResolveKeyMaterial (reread): %v", err)
	tassert(t, *k1 == *k2, "expected the second read to return the same key generated by the first")
}

func TestGenerateKeyFileExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	k, err := GenerateKeyFile("~/creds/key")
	tassert(t, err == nil, "GenerateKeyFile: %v", err)
	tassert(t, k != nil, "expected a generated key")

	data, err := os.ReadFile(filepath.Join(home, "creds", "key"))
	tassert(t, err == nil, "ReadFile: %v", err)
	decoded, err := recursiveremote.DecodeKey(strings.TrimSpace(string(data)))
	tassert(t, err == nil, "DecodeKey: %v", err)
	tassert(t, decoded == *k, "key file content does not match generated key")
}
