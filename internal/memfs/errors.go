package memfs

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	// ErrNotFound indicates the path is not present in the store
	ErrNotFound = errors.New("no such file or directory")

	// ErrExist indicates the target path already exists
	ErrExist = errors.New("file exists")

	// ErrNotEmpty indicates an attempt to remove a directory with children
	ErrNotEmpty = errors.New("directory not empty")

	// ErrNotDir indicates a directory operation on a regular file
	ErrNotDir = errors.New("not a directory")

	// ErrBadHandle indicates a handle that is out of range or released
	ErrBadHandle = errors.New("bad file descriptor")

	// ErrPermission indicates the node's mode bits forbid the access
	ErrPermission = errors.New("permission denied")

	// ErrIsDir indicates a file operation on a directory
	ErrIsDir = errors.New("is a directory")

	// ErrInvalid indicates a structurally impossible request, such as
	// moving a directory beneath itself or removing the root
	ErrInvalid = errors.New("invalid argument")

	// ErrTooLarge indicates a write or truncate past MaxFileSize
	ErrTooLarge = errors.New("file too large")

	// ErrIO indicates corrupted node state or a failed backing-store call
	ErrIO = errors.New("input/output error")
)

// Error wraps a filesystem error with the operation and path it came from.
type Error struct {
	Op   string // Operation that failed (e.g., "mkdir", "read")
	Path string // Affected path, empty for handle-based operations
	Err  error  // Underlying error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, path string, err error) *Error {
	return &Error{Op: op, Path: path, Err: err}
}

// Operation names used in errors and log lines.
const (
	OpGetattr  = "getattr"
	OpReaddir  = "readdir"
	OpLookup   = "lookup"
	OpMkdir    = "mkdir"
	OpRmdir    = "rmdir"
	OpRename   = "rename"
	OpOpen     = "open"
	OpRead     = "read"
	OpWrite    = "write"
	OpUnlink   = "unlink"
	OpUtimens  = "utimens"
	OpTruncate = "truncate"
	OpChmod    = "chmod"
	OpFlush    = "flush"
	OpFsync    = "fsync"
	OpRelease  = "release"
	OpPopulate = "populate"
)

// Errno converts an error returned by the Session into the errno the
// kernel bridge reports. Unknown errors become EIO.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, os.ErrNotExist):
		return unix.ENOENT
	case errors.Is(err, ErrExist), errors.Is(err, os.ErrExist):
		return unix.EEXIST
	case errors.Is(err, ErrNotEmpty):
		return unix.ENOTEMPTY
	case errors.Is(err, ErrNotDir):
		return unix.ENOTDIR
	case errors.Is(err, ErrIsDir):
		return unix.EISDIR
	case errors.Is(err, ErrInvalid):
		return unix.EINVAL
	case errors.Is(err, ErrTooLarge):
		return unix.EFBIG
	case errors.Is(err, ErrBadHandle):
		return unix.EBADF
	case errors.Is(err, ErrPermission), errors.Is(err, os.ErrPermission):
		return unix.EACCES
	default:
		return unix.EIO
	}
}
