/*

Package engine implements the Sync Engine: the component that turns a
remote helper's push and fetch requests into reads and writes of the
object graph carried on the upstream branch, using the Upstream
Mirror, the Reachability Tracker, and the Crypto Frame underneath it.

*/
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	recursiveremote "github.com/t7a/recursive-remote"
	"github.com/t7a/recursive-remote/config"
	"github.com/t7a/recursive-remote/internal/gitshell"
	"github.com/t7a/recursive-remote/internal/mirror"
	"github.com/t7a/recursive-remote/internal/reachability"
)

// pushRetryLimit bounds how many attempts a push makes in total,
// re-fetching the upstream tip after each lost fast-forward race, per the
// concurrency model's bounded retry policy.
const pushRetryLimit = 3

// Engine binds one resolved configuration to the scratch repositories
// that back it.
type Engine struct {
	Config   *config.Config
	Mirror   *mirror.Mirror
	Tracker  *reachability.Tracker
	Splitter *recursiveremote.Splitter
	caller   *gitshell.Git
	lock     *recursiveremote.Lock
}

// Open opens (initializing if necessary) the scratch mirror and
// reachability tracker for cfg under scratchDir, and binds them to
// the caller's own repository at callerRepoDir. Per the shared
// resource policy, the two scratch repositories are exclusive to one
// process at a time: Open blocks on a file lock covering both of
// them before touching either, so two invocations of this helper
// against the same remote never interleave their tree-building and
// push steps. Close releases the lock.
func Open(cfg *config.Config, scratchDir, callerRepoDir string) (*Engine, error) {
	remoteDir := filepath.Join(scratchDir, cfg.RemoteName)
	if err := os.MkdirAll(remoteDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create scratch dir: %w", err)
	}
	lock, err := recursiveremote.AcquireExclusive(filepath.Join(remoteDir, "lock"))
	if err != nil {
		return nil, fmt.Errorf("engine: acquire scratch lock: %w", err)
	}

	mirrorDir := filepath.Join(remoteDir, "upstream")
	m, err := mirror.Open(mirrorDir, cfg.RemoteURL, cfg.RemoteBranch)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("engine: open mirror: %w", err)
	}
	trackerDir := filepath.Join(remoteDir, "all_objects_ever")
	tr, err := reachability.Open(trackerDir, cfg.RemoteName)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("engine: open tracker: %w", err)
	}
	splitter, err := recursiveremote.NewSplitter(uint(cfg.MaxObjectSize))
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("engine: new splitter: %w", err)
	}
	return &Engine{
		Config:   cfg,
		Mirror:   m,
		Tracker:  tr,
		Splitter: splitter,
		caller:   gitshell.New(callerRepoDir),
		lock:     lock,
	}, nil
}

// Close releases the exclusive lock this Engine's Open acquired over
// its scratch directory. It is safe to call at most once.
func (e *Engine) Close() error {
	return e.lock.Release()
}

// namespaceToken is this engine's namespace's path component within
// the upstream tree, per the data model's NamespaceToken derivation.
func (e *Engine) namespaceToken() string {
	return recursiveremote.NamespaceToken(e.Config.StateKey, e.Config.Namespace)
}

// writeSealedBlob seals plaintext under key, splits the result into
// segments no larger than the configured max object size, and writes
// either a single blob (the common case) or a directory of
// zero-padded numbered segment blobs into the mirror, returning a
// mirror.Node ready to be placed into the new commit's tree and the
// content address of plaintext.
func (e *Engine) writeSealedBlob(key *recursiveremote.Key, plaintext []byte) (recursiveremote.Address, *mirror.Node, error) {
	addr := recursiveremote.HashBytes(plaintext)
	framed, err := recursiveremote.Seal(key, plaintext)
	if err != nil {
		return addr, nil, fmt.Errorf("engine: seal blob: %w", err)
	}
	segments, err := e.Splitter.Split(framed)
	if err != nil {
		return addr, nil, fmt.Errorf("engine: split blob: %w", err)
	}
	if len(segments) == 1 {
		oid, err := e.Mirror.WriteBlob(segments[0])
		if err != nil {
			return addr, nil, err
		}
		return addr, mirror.Leaf(oid), nil
	}
	dir := mirror.Dir()
	for i, seg := range segments {
		oid, err := e.Mirror.WriteBlob(seg)
		if err != nil {
			return addr, nil, err
		}
		dir.Set(segmentName(i), mirror.Leaf(oid))
	}
	return addr, dir, nil
}

// readSealedBlob reads the blob (or, for a segmented blob, every
// segment in order) stored at path within commit's tree, joins any
// segments, and opens the result under key. ok is false if path is
// absent from commit's tree.
func (e *Engine) readSealedBlob(key *recursiveremote.Key, commit, path string) (plaintext []byte, ok bool, err error) {
	exists, err := e.Mirror.PathExists(commit, path)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}
	kind, err := e.Mirror.PathKind(commit, path)
	if err != nil {
		return nil, false, err
	}
	var framed []byte
	if kind == "tree" {
		names, err := e.Mirror.ListDir(commit, path)
		if err != nil {
			return nil, false, err
		}
		sort.Strings(names)
		segments := make([][]byte, 0, len(names))
		for _, name := range names {
			seg, err := e.Mirror.ReadPath(commit, path+"/"+name)
			if err != nil {
				return nil, false, err
			}
			segments = append(segments, seg)
		}
		framed = recursiveremote.Join(segments)
	} else {
		framed, err = e.Mirror.ReadPath(commit, path)
		if err != nil {
			return nil, false, err
		}
	}
	plaintext, err = recursiveremote.Open(key, framed)
	if err != nil {
		return nil, false, err
	}
	return plaintext, true, nil
}

func segmentName(i int) string {
	return fmt.Sprintf("%03d", i)
}
