package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrAlreadyLocked means another process holds the lock.
var ErrAlreadyLocked = errors.New("lock already held")

// Lock is an exclusive advisory lock on a file, released when the process exits.
type Lock struct {
	path string
	f    *os.File
}

// Acquire takes the lock at path without blocking and records the holder's pid in the file.
func Acquire(path string) (*Lock, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("lock path is empty")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := tryLock(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrAlreadyLocked) {
			if pid, ok := Holder(path); ok {
				return nil, fmt.Errorf("%w by pid %d: %s", ErrAlreadyLocked, pid, path)
			}
			return nil, fmt.Errorf("%w: %s", ErrAlreadyLocked, path)
		}
		return nil, err
	}
	writeHolder(f)
	return &Lock{path: path, f: f}, nil
}

// Holder reads the pid recorded by the current or last holder.
func Holder(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	first, _, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func writeHolder(f *os.File) {
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	_ = f.Sync()
}

func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release unlocks and closes the file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlockErr := unlock(l.f)
	closeErr := l.f.Close()
	l.f = nil
	return errors.Join(unlockErr, closeErr)
}
