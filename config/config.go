/*

Package config reads the handful of `recursive-*` git config keys that
govern one remote: which namespace to operate as, which branch of
upstream carries the object graph, the two NaCl key slots, the shallow
basis, and the pack-splitting size. It shells out to `git config`
rather than parsing a config file itself; config-file parsing stays an
external collaborator, the same way the rest of this codebase never
links a git plumbing library and instead drives the `git` binary via
internal/gitshell.

*/
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"

	recursiveremote "github.com/t7a/recursive-remote"
	"github.com/t7a/recursive-remote/internal/gitshell"
)

// Key identifies one of the six configuration values a remote reads
// from the caller's repository, mirroring the original program's
// ConfigKey enum including its single-letter short codes used when a
// key travels inside an embedded-URL config blob.
type Key int

const (
	Namespace Key = iota
	RemoteBranch
	NamespaceNaclKey
	StateNaclKey
	ShallowBasis
	MaxObjectSize
)

// allKeys enumerates Key in a stable order, for guidance text and for
// validating an embedded config blob's short codes.
var allKeys = []Key{Namespace, RemoteBranch, NamespaceNaclKey, StateNaclKey, ShallowBasis, MaxObjectSize}

func (k Key) String() string {
	switch k {
	case Namespace:
		return "recursive-namespace"
	case RemoteBranch:
		return "recursive-remote-branch"
	case NamespaceNaclKey:
		return "recursive-namespace-nacl-key"
	case StateNaclKey:
		return "recursive-state-nacl-key"
	case ShallowBasis:
		return "recursive-shallow-basis"
	case MaxObjectSize:
		return "recursive-max-object-size"
	default:
		return fmt.Sprintf("recursive-unknown-key-%d", int(k))
	}
}

// ShortCode is the single-letter code used for this key inside an
// embedded URL config blob, where verbose key names would bloat the URL.
func (k Key) ShortCode() string {
	switch k {
	case Namespace:
		return "a"
	case RemoteBranch:
		return "b"
	case NamespaceNaclKey:
		return "c"
	case StateNaclKey:
		return "d"
	case ShallowBasis:
		return "e"
	case MaxObjectSize:
		return "f"
	default:
		return ""
	}
}

// KeyFromShortCode is the inverse of ShortCode, used when decoding an
// embedded config blob.
func KeyFromShortCode(s string) (Key, bool) {
	for _, k := range allKeys {
		if k.ShortCode() == s {
			return k, true
		}
	}
	return 0, false
}

const (
	defaultMaxObjectSize = 20 * 1024 * 1024
	minMaxObjectSize     = 10
	maxMaxObjectSize     = 1024 * 1024 * 1024
)

// Config is the fully resolved configuration for one invocation of a
// remote helper against one (remote name, caller repository) pair.
type Config struct {
	Namespace     string
	RemoteBranch  string // full ref, e.g. "refs/heads/main"
	ShallowBasis  []string
	MaxObjectSize int

	NamespaceKey *recursiveremote.Key // nil when the branch is unencrypted
	StateKey     *recursiveremote.Key

	TrackingRef string // refs/heads/<remote>/tracking
	PushingRef  string // refs/heads/<remote>/push
	BasisRef    string // refs/heads/<remote>/basis/<namespace> or default_basis

	RemoteName string
	RemoteURL  string
}

// Reader reads and writes the `remote.<name>.recursive-*` keys of one
// repository's git config.
type Reader struct {
	git        *gitshell.Git
	RemoteName string
}

// NewReader returns a Reader bound to callerRepoDir (the path git
// resolves via GIT_DIR for the repository the remote helper was
// invoked against).
func NewReader(callerRepoDir, remoteName string) *Reader {
	return &Reader{git: gitshell.New(callerRepoDir), RemoteName: remoteName}
}

func (r *Reader) configKey(k Key) string {
	return fmt.Sprintf("remote.%s.%s", r.RemoteName, k)
}

// Get returns the raw string value of k, or ("", false) if unset.
func (r *Reader) Get(k Key) (string, bool, error) {
	out, err := r.git.Run("config", "--get", r.configKey(k))
	if err != nil {
		var gerr *gitshell.Error
		if errors.As(err, &gerr) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "read config %s", k)
	}
	return strings.TrimSpace(string(out)), true, nil
}

// Set writes k = value into this repository's config.
func (r *Reader) Set(k Key, value string) error {
	_, err := r.git.Run("config", r.configKey(k), value)
	return errors.Wrapf(err, "write config %s", k)
}

// Resolve reads every configuration key for remoteName from
// callerRepoDir plus any config embedded in remoteURL (see
// embedded.go), producing a fully resolved Config. Explicit git
// config always wins over an embedded blob's value for the same key.
func Resolve(callerRepoDir, remoteName, remoteURL string) (*Config, error) {
	r := NewReader(callerRepoDir, remoteName)

	realURL, embedded, _ := ParseEmbeddedConfig(remoteURL)

	namespace, err := r.getOverlay(Namespace, embedded)
	if err != nil {
		return nil, errors.Wrap(err, "namespace")
	}

	branchRaw, err := r.getOverlayDefault(RemoteBranch, embedded, "main")
	if err != nil {
		return nil, errors.Wrap(err, "remote branch")
	}
	branch := branchRaw
	if !strings.HasPrefix(branch, "refs/heads/") {
		branch = "refs/heads/" + branch
	}

	basisRaw, err := r.getOverlay(ShallowBasis, embedded)
	if err != nil {
		return nil, errors.Wrap(err, "shallow basis")
	}
	var shallowBasis []string
	if basisRaw != "" {
		shallowBasis, err = shlex.Split(basisRaw)
		if err != nil {
			return nil, errors.Wrap(err, "tokenize recursive-shallow-basis")
		}
	}

	sizeRaw, err := r.getOverlay(MaxObjectSize, embedded)
	if err != nil {
		return nil, errors.Wrap(err, "max object size")
	}
	maxObjectSize := defaultMaxObjectSize
	if sizeRaw != "" {
		n, err := strconv.Atoi(sizeRaw)
		if err != nil {
			return nil, errors.Wrapf(err, "recursive-max-object-size %q is not an integer", sizeRaw)
		}
		maxObjectSize = n
	}
	if maxObjectSize < minMaxObjectSize {
		return nil, errors.Errorf("recursive-max-object-size must be >= %d", minMaxObjectSize)
	}
	if maxObjectSize > maxMaxObjectSize {
		return nil, errors.Errorf("recursive-max-object-size must be <= %d", maxMaxObjectSize)
	}

	namespaceKey, stateKey, err := resolveKeys(r, embedded)
	if err != nil {
		return nil, errors.Wrap(err, "encryption keys")
	}

	basisRef := fmt.Sprintf("refs/heads/%s/default_basis", remoteName)
	if namespace != "" {
		basisRef = fmt.Sprintf("refs/heads/%s/basis/%s", remoteName, namespace)
	}

	return &Config{
		Namespace:     namespace,
		RemoteBranch:  branch,
		ShallowBasis:  shallowBasis,
		MaxObjectSize: maxObjectSize,
		NamespaceKey:  namespaceKey,
		StateKey:      stateKey,
		TrackingRef:   fmt.Sprintf("refs/heads/%s/tracking", remoteName),
		PushingRef:    fmt.Sprintf("refs/heads/%s/push", remoteName),
		BasisRef:      basisRef,
		RemoteName:    remoteName,
		RemoteURL:     realURL,
	}, nil
}

// getOverlay returns the git-config value for k if set, else the
// embedded blob's value for k if present, else "".
func (r *Reader) getOverlay(k Key, embedded map[Key]string) (string, error) {
	v, _, err := r.getOverlaySet(k, embedded)
	return v, err
}

func (r *Reader) getOverlayDefault(k Key, embedded map[Key]string, def string) (string, error) {
	v, set, err := r.getOverlaySet(k, embedded)
	if err != nil {
		return "", err
	}
	if !set {
		return def, nil
	}
	return v, nil
}

// getOverlaySet distinguishes "unset anywhere" from "set to the
// empty string", which matters for the two NaCl key slots: an unset
// key slot means the branch is unencrypted, while a slot explicitly
// set to "" is an opt-in to encryption with a freshly generated key.
func (r *Reader) getOverlaySet(k Key, embedded map[Key]string) (value string, set bool, err error) {
	v, ok, err := r.Get(k)
	if err != nil {
		return "", false, err
	}
	if ok {
		return v, true, nil
	}
	if embedded != nil {
		if v, ok := embedded[k]; ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

func resolveKeys(r *Reader, embedded map[Key]string) (namespaceKey, stateKey *recursiveremote.Key, err error) {
	nsKeyValue, nsSet, err := r.getOverlaySet(NamespaceNaclKey, embedded)
	if err != nil {
		return nil, nil, err
	}
	stKeyValue, stSet, err := r.getOverlaySet(StateNaclKey, embedded)
	if err != nil {
		return nil, nil, err
	}

	if !nsSet && !stSet {
		return nil, nil, nil
	}
	if !nsSet || !stSet {
		return nil, nil, errors.New("both or neither of recursive-namespace-nacl-key and recursive-state-nacl-key must be set")
	}

	namespaceKey, err = ResolveKeyMaterial(NamespaceNaclKey, nsKeyValue, r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "namespace key")
	}
	stateKey, err = ResolveKeyMaterial(StateNaclKey, stKeyValue, r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "state key")
	}
	return namespaceKey, stateKey, nil
}

// PrintGuidance writes a cheat-sheet of example remote stanzas and a
// one-line description of every recursive-* key to w.
func PrintGuidance(w func(format string, args ...interface{})) {
	w("# Default namespace, generate encryption keys on first use.")
	w("\t[remote \"origin\"]")
	w("\t\turl = recursive::file:///home/username/recursive-upstream-repo")
	w("\t\tfetch = +refs/heads/*:refs/remotes/origin/*")
	w("\t\trecursive-remote-branch = main")
	w("\t\trecursive-namespace = \"\"")
	w("\t\trecursive-namespace-nacl-key = \"\"")
	w("\t\trecursive-state-nacl-key = \"\"")
	w("")
	w("# Namespace work, branch org, unencrypted")
	w("\t[remote \"origin\"]")
	w("\t\turl = recursive::git@github.com:username/orgrepo.git")
	w("\t\tfetch = +refs/heads/*:refs/remotes/origin/*")
	w("\t\trecursive-remote-branch = org")
	w("\t\trecursive-namespace = work")
	w("")
	w("# Default namespace, use same key file for state and namespace")
	w("# (generates keys on first use if file does not exist)")
	w("\t[remote \"origin\"]")
	w("\t\turl = recursive::file:///home/username/recursive-upstream-repo")
	w("\t\tfetch = +refs/heads/*:refs/remotes/origin/*")
	w("\t\trecursive-remote-branch = main")
	w("\t\trecursive-namespace = \"\"")
	w("\t\trecursive-namespace-nacl-key = \"file://.creds/recursive_remote_key\"")
	w("\t\trecursive-state-nacl-key = \"file://.creds/recursive_remote_key\"")
	w("")
	w("The following configuration keys are available:")
	for _, k := range allKeys {
		w("\t%s: %s", k, keyDescription(k))
	}
}

func keyDescription(k Key) string {
	switch k {
	case Namespace:
		return "Each branch on the remote repository can have multiple namespaces, each acting as an upstream for a separate repository. Unset is the same as empty string."
	case RemoteBranch:
		return "The branch on the remote repository to use. Defaults to 'main'."
	case NamespaceNaclKey:
		return "The encryption key to use to encrypt this repository's contents on the remote."
	case StateNaclKey:
		return "The encryption key to use to encrypt the branch metadata. All namespaces (repositories) on the same remote branch must use the same key."
	case ShallowBasis:
		return "Space-separated list of refs that don't need to be stored upstream. Analogous to git shallow clone, but the upstream is shallow instead of the local repository."
	case MaxObjectSize:
		return "Attempt to split objects stored upstream into chunks around this size."
	default:
		return ""
	}
}
