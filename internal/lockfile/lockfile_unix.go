//go:build !windows

package lockfile

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func tryLock(f *os.File) error {
	if f == nil {
		return errors.New("nil lock file")
	}
	// Child processes must not inherit the lock.
	if flags, err := unix.FcntlInt(f.Fd(), unix.F_GETFD, 0); err == nil {
		_, _ = unix.FcntlInt(f.Fd(), unix.F_SETFD, flags|unix.FD_CLOEXEC)
	}
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrAlreadyLocked
	}
	return err
}

func unlock(f *os.File) error {
	if f == nil {
		return nil
	}
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
