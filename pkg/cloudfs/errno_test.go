package cloudfs

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/csweichel/cloudfs/pkg/manager"
	"github.com/csweichel/cloudfs/pkg/remote"
)

func TestToErrno(t *testing.T) {
	tests := []struct {
		Name string
		Err  error
		Exp  syscall.Errno
	}{
		{Name: "nil", Err: nil, Exp: 0},
		{Name: "not found", Err: fmt.Errorf("%w: inode 7", manager.ErrNotFound), Exp: syscall.ENOENT},
		{Name: "no remote", Err: manager.ErrNoRemote, Exp: syscall.ENOENT},
		{Name: "unknown object", Err: fmt.Errorf("cannot write to x: %w", remote.ErrUnknownObject), Exp: syscall.ENOENT},
		{Name: "exists", Err: manager.ErrExists, Exp: syscall.EEXIST},
		{Name: "root", Err: manager.ErrIsRoot, Exp: syscall.EBUSY},
		{Name: "directory", Err: fmt.Errorf("%w: inode 2", manager.ErrIsDir), Exp: syscall.EISDIR},
		{Name: "negative offset", Err: fmt.Errorf("%w: -1", manager.ErrInvalidOffset), Exp: syscall.EINVAL},
		{Name: "read-only", Err: fmt.Errorf("cannot create a remotely: %w", remote.ErrReadOnly), Exp: syscall.EROFS},
		{Name: "not empty", Err: remote.ErrNotEmpty, Exp: syscall.ENOTEMPTY},
		{Name: "unsupported", Err: remote.ErrUnsupported, Exp: syscall.ENOTSUP},
		{Name: "canceled", Err: context.Canceled, Exp: syscall.EINTR},
		{Name: "inode in use", Err: manager.ErrInodeInUse, Exp: syscall.EIO},
		{Name: "other", Err: errors.New("connection reset"), Exp: syscall.EIO},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			if act := toErrno(test.Err); act != test.Exp {
				t.Errorf("toErrno(%v) = %v, want %v", test.Err, act, test.Exp)
			}
		})
	}
}
