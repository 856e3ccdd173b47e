/*

Package mirror implements the Upstream Mirror: a local scratch bare
repository that mirrors one branch of the upstream. It is the place
where the object graph's tree entries (the `state` blob, namespace
blobs, and pack blobs) get written and read, and it is where the
fast-forward-or-reject push to upstream -- the system's mutual
exclusion primitive -- happens.

*/
package mirror

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	recursiveremote "github.com/t7a/recursive-remote"
	"github.com/t7a/recursive-remote/internal/gitshell"
)

// trustedStateConfigKey is the local git-config key under which the
// last-trusted StateRecord address is persisted, per the data
// model's lifecycle note.
const trustedStateConfigKey = "recursive.trusted-state"

// Mirror is a local scratch clone of one upstream branch.
type Mirror struct {
	git      *gitshell.Git
	Remote   string
	Branch   string
	LocalRef string
}

// Open opens (initializing if necessary) a bare scratch repository at
// dir that mirrors branch on remote.
func Open(dir, remote, branch string) (*Mirror, error) {
	g := gitshell.New(dir)
	if err := g.InitBare(); err != nil {
		return nil, fmt.Errorf("mirror: open %s: %w", dir, err)
	}
	return &Mirror{
		git:      g,
		Remote:   remote,
		Branch:   branch,
		LocalRef: "refs/heads/tracking",
	}, nil
}

// FetchTip fetches the current tip of the tracked branch from
// upstream into LocalRef and returns its commit id, or "" if the
// branch does not exist upstream yet.
func (m *Mirror) FetchTip() (string, error) {
	remoteTip, err := m.git.LsRemote(m.Remote, m.Branch)
	if err != nil {
		return "", &recursiveremote.TransportError{Op: "ls-remote " + m.Branch, Err: err}
	}
	if remoteTip == "" {
		if err := m.git.DeleteRef(m.LocalRef); err != nil {
			return "", fmt.Errorf("mirror: clear stale local ref: %w", err)
		}
		return "", nil
	}
	refspec := fmt.Sprintf("+%s:%s", m.Branch, m.LocalRef)
	if err := m.git.FetchRefspecs(m.Remote, refspec); err != nil {
		return "", &recursiveremote.TransportError{Op: "fetch " + m.Branch, Err: err}
	}
	return m.git.RevParse(m.LocalRef)
}

// CommitGeneration returns the commit id currently pointed at by
// LocalRef, or "" if the mirror has never fetched a tip.
func (m *Mirror) CommitGeneration() (string, error) {
	return m.git.RevParse(m.LocalRef)
}

// ReadPath returns the content stored at path inside commit's tree,
// e.g. "state" or "<namespace>/namespace".
func (m *Mirror) ReadPath(commit, path string) ([]byte, error) {
	oid, err := m.git.RevParse(commit + ":" + path)
	if err != nil {
		return nil, fmt.Errorf("mirror: resolve %s:%s: %w", commit, path, err)
	}
	if oid == "" {
		return nil, fmt.Errorf("mirror: %s not found in %s", path, commit)
	}
	return m.git.CatFile(oid)
}

// PathExists reports whether path is present inside commit's tree,
// without fetching its content. An empty commit id always reports
// false, since no generation exists yet.
func (m *Mirror) PathExists(commit, path string) (bool, error) {
	if commit == "" {
		return false, nil
	}
	oid, err := m.git.RevParse(commit + ":" + path)
	if err != nil {
		return false, fmt.Errorf("mirror: resolve %s:%s: %w", commit, path, err)
	}
	return oid != "", nil
}

// PathKind returns the object kind ("blob" or "tree") stored at path
// inside commit's tree, distinguishing a segmented blob (stored as a
// directory of numbered parts) from a plain one.
func (m *Mirror) PathKind(commit, path string) (string, error) {
	oid, err := m.git.RevParse(commit + ":" + path)
	if err != nil {
		return "", fmt.Errorf("mirror: resolve %s:%s: %w", commit, path, err)
	}
	if oid == "" {
		return "", fmt.Errorf("mirror: %s not found in %s", path, commit)
	}
	return m.git.ObjectKind(oid)
}

// ListDir returns the names present at path inside commit's tree, in
// the order git itself reports them (which, for a tree, is sorted
// byte order of the entry names). An absent directory yields an
// empty, non-error result, since a namespace's first push has no
// pack subtree yet.
func (m *Mirror) ListDir(commit, path string) ([]string, error) {
	oid, err := m.git.RevParse(commit + ":" + path)
	if err != nil || oid == "" {
		return nil, nil
	}
	lines, err := m.git.Lines("ls-tree", "--name-only", oid)
	if err != nil {
		return nil, fmt.Errorf("mirror: list %s:%s: %w", commit, path, err)
	}
	return lines, nil
}

// Entry is one direct child of a tree, as reported by git itself.
type Entry struct {
	Mode string
	Type string // "blob" or "tree"
	OID  string
}

// RootEntries returns the direct children of commit's root tree,
// keyed by name, so the sync engine can copy every namespace's
// subtree forward unchanged except the one it is updating. An empty
// commit id (no generation exists yet) yields an empty map.
func (m *Mirror) RootEntries(commit string) (map[string]Entry, error) {
	return m.TreeEntries(commit, "")
}

// TreeEntries returns the direct children, keyed by name, of path
// inside commit's tree (path == "" means the root). An absent path
// yields an empty, non-error result.
func (m *Mirror) TreeEntries(commit, path string) (map[string]Entry, error) {
	out := map[string]Entry{}
	if commit == "" {
		return out, nil
	}
	rev := commit
	if path != "" {
		rev = commit + ":" + path
	}
	oid, err := m.git.RevParse(rev)
	if err != nil {
		return nil, fmt.Errorf("mirror: resolve %s: %w", rev, err)
	}
	if oid == "" {
		return out, nil
	}
	lines, err := m.git.Lines("ls-tree", oid)
	if err != nil {
		return nil, fmt.Errorf("mirror: list %s: %w", rev, err)
	}
	for _, line := range lines {
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			continue
		}
		meta := strings.Fields(fields[0])
		if len(meta) != 3 {
			continue
		}
		out[fields[1]] = Entry{Mode: meta[0], Type: meta[1], OID: meta[2]}
	}
	return out, nil
}

// WriteBlob stores data as a loose object in the mirror and returns
// its id.
func (m *Mirror) WriteBlob(data []byte) (string, error) {
	oid, err := m.git.HashObject(data, true)
	if err != nil {
		return "", fmt.Errorf("mirror: write blob: %w", err)
	}
	return oid, nil
}

// Node describes one entry of the tree to be committed: a leaf (Blob
// set), a directory built up via Set (Entries set), or a pass-through
// reference to an already-existing subtree (Tree set) -- used to copy
// forward a namespace's subtree unchanged from the parent commit
// without re-walking or rewriting it, so git's own delta compression
// keeps seeing the same tree object across generations.
type Node struct {
	Blob    string
	Tree    string
	Entries map[string]*Node
}

// Leaf returns a Node wrapping an already-written blob id.
func Leaf(oid string) *Node { return &Node{Blob: oid} }

// TreeRef returns a Node wrapping an already-written, unmodified
// subtree id.
func TreeRef(oid string) *Node { return &Node{Tree: oid} }

// Dir returns an empty directory Node ready to receive children via
// Set.
func Dir() *Node { return &Node{Entries: map[string]*Node{}} }

// Set inserts child at the path of path-separated names under n,
// creating intermediate directories as needed.
func (n *Node) Set(path string, child *Node) {
	parts := strings.Split(path, "/")
	cur := n
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.Entries[part]
		if !ok || next.Entries == nil {
			next = Dir()
			cur.Entries[part] = next
		}
		cur = next
	}
	cur.Entries[parts[len(parts)-1]] = child
}

func (m *Mirror) writeNode(n *Node) (oid string, isTree bool, err error) {
	if n.Tree != "" {
		return n.Tree, true, nil
	}
	if n.Entries == nil {
		return n.Blob, false, nil
	}
	names := make([]string, 0, len(n.Entries))
	for name := range n.Entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		childOID, childIsTree, err := m.writeNode(n.Entries[name])
		if err != nil {
			return "", false, err
		}
		mode := "100644"
		typ := "blob"
		if childIsTree {
			mode = "040000"
			typ = "tree"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s\t%s", mode, typ, childOID, name))
	}
	out, err := m.git.RunWithInput([]byte(strings.Join(lines, "\n")+"\n"), "mktree")
	if err != nil {
		return "", false, fmt.Errorf("mirror: mktree: %w", err)
	}
	return strings.TrimSpace(string(out)), true, nil
}

// CommitTree writes root as a tree and commits it with parent (which
// may be "" for the branch's first commit), returning the new commit
// id. It does not move any ref.
func (m *Mirror) CommitTree(root *Node, parent, message string) (string, error) {
	treeOID, _, err := m.writeNode(root)
	if err != nil {
		return "", err
	}
	args := []string{"commit-tree", treeOID}
	if parent != "" {
		args = append(args, "-p", parent)
	}
	out, err := m.git.RunWithInput([]byte(message), args...)
	if err != nil {
		return "", fmt.Errorf("mirror: commit-tree: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// PushTip attempts to fast-forward the upstream branch to commit.
// A rejection (the branch moved since this mirror last fetched it)
// is reported as *recursiveremote.UpstreamNonFastForwardError so the
// sync engine can distinguish "try again" from a real transport
// failure.
func (m *Mirror) PushTip(commit string) error {
	refspec := fmt.Sprintf("%s:%s", commit, m.Branch)
	err := m.git.PushRefspecs(m.Remote, refspec)
	if err == nil {
		return m.git.UpdateRef(m.LocalRef, commit)
	}
	if isNonFastForward(err) {
		return &recursiveremote.UpstreamNonFastForwardError{Ref: m.Branch}
	}
	return &recursiveremote.TransportError{Op: "push " + m.Branch, Err: err}
}

func isNonFastForward(err error) bool {
	gerr, ok := err.(*gitshell.Error)
	if !ok {
		return false
	}
	s := strings.ToLower(gerr.Stderr)
	return strings.Contains(s, "non-fast-forward") ||
		strings.Contains(s, "fetch first") ||
		strings.Contains(s, "stale info") ||
		strings.Contains(s, "rejected")
}

// TrustedState returns the last-trusted StateRecord address, and
// false if none has been recorded yet.
func (m *Mirror) TrustedState() (recursiveremote.Address, bool, error) {
	out, err := m.git.Run("config", "--get", trustedStateConfigKey)
	if err != nil {
		if configKeyMissing(err) {
			return recursiveremote.Address{}, false, nil
		}
		return recursiveremote.Address{}, false, fmt.Errorf("mirror: read trusted state: %w", err)
	}
	addr, err := recursiveremote.ParseAddress(strings.TrimSpace(string(out)))
	if err != nil {
		return recursiveremote.Address{}, false, fmt.Errorf("mirror: parse trusted state: %w", err)
	}
	return addr, true, nil
}

// SetTrustedState persists addr as the last-trusted StateRecord
// address.
func (m *Mirror) SetTrustedState(addr recursiveremote.Address) error {
	_, err := m.git.Run("config", trustedStateConfigKey, addr.String())
	if err != nil {
		return fmt.Errorf("mirror: persist trusted state: %w", err)
	}
	return nil
}

// ClearTrustedState removes the persisted trust anchor, the manual
// remedy an operator runs after a ratcheting failure.
func (m *Mirror) ClearTrustedState() error {
	_, err := m.git.Run("config", "--unset", trustedStateConfigKey)
	if err != nil && !configKeyMissing(err) {
		return fmt.Errorf("mirror: clear trusted state: %w", err)
	}
	return nil
}

// FetchBasis returns the last StateRecord address this engine
// recorded as fully covered by a previous fetch for namespace, and
// false if none has been recorded yet.
func (m *Mirror) FetchBasis(namespace string) (recursiveremote.Address, bool, error) {
	key := fetchBasisConfigKey(namespace)
	out, err := m.git.Run("config", "--get", key)
	if err != nil {
		if configKeyMissing(err) {
			return recursiveremote.Address{}, false, nil
		}
		return recursiveremote.Address{}, false, fmt.Errorf("mirror: read fetch basis: %w", err)
	}
	addr, err := recursiveremote.ParseAddress(strings.TrimSpace(string(out)))
	if err != nil {
		return recursiveremote.Address{}, false, fmt.Errorf("mirror: parse fetch basis: %w", err)
	}
	return addr, true, nil
}

// SetFetchBasis persists addr as the last fully-covered StateRecord
// address for namespace.
func (m *Mirror) SetFetchBasis(namespace string, addr recursiveremote.Address) error {
	_, err := m.git.Run("config", fetchBasisConfigKey(namespace), addr.String())
	if err != nil {
		return fmt.Errorf("mirror: persist fetch basis: %w", err)
	}
	return nil
}

func fetchBasisConfigKey(namespace string) string {
	return fmt.Sprintf("recursive.fetch-basis.%s", namespace)
}

func configKeyMissing(err error) bool {
	gerr, ok := err.(*gitshell.Error)
	if !ok {
		return false
	}
	exitErr, ok := gerr.Err.(*exec.ExitError)
	return ok && exitErr.ExitCode() == 1
}

// CommitParents returns the git parent commit ids of commit, for
// walking upstream history generation by generation.
func (m *Mirror) CommitParents(commit string) ([]string, error) {
	return m.git.CommitParents(commit)
}

// GCAuto runs a garbage-collection pass over the scratch repository.
func (m *Mirror) GCAuto() error {
	return m.git.GCAuto()
}

// Path returns the filesystem location of the scratch repository.
func (m *Mirror) Path() string {
	return filepath.Clean(m.git.Dir)
}
