package recursiveremote

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is an exclusive advisory lock taken on a regular file. The
// sync engine holds exactly one of these for the lifetime of a push
// or fetch, covering both scratch repositories (Upstream Mirror and
// Reachability Tracker) so that concurrent invocations of this
// process against the same remote never interleave.
type Lock struct {
	f *os.File
}

// AcquireExclusive blocks until it holds an exclusive lock on path,
// creating the file if necessary. The caller must call Release when
// done.
func AcquireExclusive(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release drops the lock and closes the underlying file.
func (l *Lock) Release() error {
	defer l.f.Close()
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unlock %s: %w", l.f.Name(), err)
	}
	return nil
}
