package fs

import (
	"cachefs/internal/logging"
	"cachefs/internal/memfs"

	"bazil.org/fuse"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")
)

// ToFuseError converts a session error to the FUSE error code the kernel
// reports to the caller.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	errno := memfs.Errno(err)
	errLogger.Trace("Converting %v to errno %d", err, errno)
	return fuse.Errno(errno)
}
