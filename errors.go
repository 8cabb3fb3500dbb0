package discfs

import (
	"errors"
	"syscall"

	"github.com/jacobsa/fuse"

	"github.com/sqooid/discfs/metadata"
)

// EUnknown is returned for any failure that doesn't map to one of the
// handful of errno values the dispatcher translates explicitly. It's
// distinguishable from standard errno values in kernel traces.
const EUnknown = syscall.Errno(99)

// errno maps a metadata/transport/encryption error to the errno the kernel
// expects back from a FUSE callback.
func errno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, metadata.ErrExists):
		return fuse.EEXIST
	case errors.Is(err, metadata.ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, metadata.ErrNotEmpty):
		return fuse.ENOTEMPTY
	default:
		return EUnknown
	}
}
