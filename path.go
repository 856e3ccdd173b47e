package recursiveremote

import "fmt"

// StateBlobPath is the path, relative to an upstream commit's tree
// root, of that generation's StateRecord Blob.
const StateBlobPath = "state"

// defaultNamespaceToken stands in for the default namespace's (empty
// string) name on a clear branch, since an empty path component would
// otherwise collapse a namespace's subtree into the commit root
// instead of giving it one.
const defaultNamespaceToken = "default"

// NamespaceToken returns the path component used for one namespace's
// subtree within an upstream commit. On a clear (unencrypted) branch
// it is the namespace's literal name, so the upstream tree is
// human-readable, except for the default namespace (name == ""),
// which uses defaultNamespaceToken since an empty name is not a valid
// path component. On an encrypted branch it is a deterministic
// pseudo-random token derived from the state key and the namespace
// name: anyone holding the state key recomputes the same token the
// original writer used (so no side-channel mapping needs to be
// carried anywhere, preserving the "engine never enumerates trees"
// rule), while anyone without the key sees only an opaque hex string
// and cannot recover the namespace name from it.
func NamespaceToken(stateKey *Key, name string) string {
	if stateKey == nil {
		if name == "" {
			return defaultNamespaceToken
		}
		return name
	}
	input := make([]byte, 0, len(stateKey)+len(name))
	input = append(input, stateKey[:]...)
	input = append(input, []byte(name)...)
	sum := HashBytes(input)
	return sum.String()
}

// NamespaceRecordPath is the path of a namespace's NamespaceRecord
// Blob within an upstream commit's tree.
func NamespaceRecordPath(token string) string {
	return fmt.Sprintf("%s/namespace", token)
}

// PacksDir is the directory, relative to a namespace's token
// subtree, holding every Pack Blob that namespace has ever produced.
// Unlike the namespace record itself (replaced wholesale on every
// push), this directory accumulates: the sync engine carries forward
// every previously written pack leaf when it builds a new generation,
// so a pack is always resolvable directly at the current upstream
// tip without first walking commit history to find the generation
// that originally wrote it. Only the per-generation NamespaceRecord
// decides which of these blobs matter for a given StateRecord parent
// chain (the reachability walk's Q2 planning step); the tree-level
// accumulation is purely a storage convenience.
func PacksDir(token string) string {
	return fmt.Sprintf("%s/packs", token)
}

// PackBlobPath is the path of a Pack Blob within a namespace's
// subtree. file is the blob's literal upstream filename, not
// necessarily its content address: on a clear branch it is the
// address's hex string, but on an encrypted branch it is an unrelated
// random token (see PackRef), so the tree never reveals when two
// pushes happened to seal byte-identical plaintext.
func PackBlobPath(token, file string) string {
	return fmt.Sprintf("%s/%s", PacksDir(token), file)
}
