package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrLocked is returned when another live process holds the lock.
var ErrLocked = errors.New("lock held by another process")

// pidAlive is swapped in tests.
var pidAlive = func(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}

// Lock is an advisory lock file holding the owner's PID. A lock left
// behind by a dead process is reclaimed.
type Lock struct {
	path string
}

// AcquireLock takes the lock at path or returns ErrLocked.
func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		err := link(path)
		if err == nil {
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if holder, ok := lockHolder(path); ok && pidAlive(holder) {
			return nil, fmt.Errorf("%w (pid %d)", ErrLocked, holder)
		}
		// stale
		if err := RemoveIfExists(path); err != nil {
			return nil, fmt.Errorf("remove stale lock %s: %w", path, err)
		}
	}
	return nil, ErrLocked
}

// link publishes a fully written PID file at path. The hard link fails
// with an exist error when path is taken, and readers never see the file
// before its PID is in it.
func link(path string) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".lock-*")
	if err != nil {
		return fmt.Errorf("create lock %s: %w", path, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	cerr := f.Close()
	if werr != nil || cerr != nil {
		return fmt.Errorf("write lock %s: %w", path, errors.Join(werr, cerr))
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		return fmt.Errorf("chmod lock %s: %w", path, err)
	}
	if err := os.Link(tmp, path); err != nil {
		if os.IsExist(err) {
			return err
		}
		return fmt.Errorf("link lock %s: %w", path, err)
	}
	return nil
}

// Release removes the lock file. Releasing twice is harmless.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	return RemoveIfExists(l.path)
}

func lockHolder(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
