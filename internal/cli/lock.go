package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LockName is the advisory lock file taken in the corpus directory for the
// duration of a run.
const LockName = ".corpussync.lock"

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("corpus is locked by another run")

// acquireLock creates the lock file exclusively. force removes an existing
// lock first, for locks left behind by a crashed process.
func acquireLock(dir string, force bool) (release func(), err error) {
	path := filepath.Join(dir, LockName)
	if force {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			holder, _ := os.ReadFile(path)
			return nil, fmt.Errorf("%w (%s, pid %s); use --force-unlock if it is stale", ErrLocked, path, holder)
		}
		return nil, fmt.Errorf("create lock: %w", err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write lock: %w", werr)
	}

	return func() { os.Remove(path) }, nil
}
