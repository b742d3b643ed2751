// Package file holds the entity the file manager keeps per inode.
package file

import (
	"syscall"
	"time"

	"github.com/csweichel/cloudfs/pkg/remote"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Inode is the number by which the kernel addresses a file.
type Inode = uint64

// RootName is the name of the mount root.
const RootName = "."

const (
	defaultDirMode  = 0755
	defaultFileMode = 0644
	blockSize       = 4096
)

// Kind distinguishes regular files from directories.
type Kind int

const (
	RegularFile Kind = iota
	Directory
)

func (k Kind) String() string {
	if k == Directory {
		return "directory"
	}
	return "file"
}

// File unites an inode, a display name, POSIX metadata and an optional remote descriptor.
type File struct {
	Name  string
	Attr  fuse.Attr
	Flags uint32

	// Remote is nil for files that do not exist remotely (yet).
	Remote *remote.Object
}

// Inode returns the file's inode number.
func (f *File) Inode() Inode {
	return f.Attr.Ino
}

// Kind returns the file type encoded in the mode.
func (f *File) Kind() Kind {
	if f.Attr.Mode&syscall.S_IFMT == syscall.S_IFDIR {
		return Directory
	}
	return RegularFile
}

// IsDir is shorthand for Kind() == Directory.
func (f *File) IsDir() bool {
	return f.Kind() == Directory
}

// RemoteID returns the remote ID if the file has a remote descriptor with an ID.
func (f *File) RemoteID() (string, bool) {
	if f.Remote == nil || f.Remote.ID == "" {
		return "", false
	}
	return f.Remote.ID, true
}

// SetRemoteID attaches id to the remote descriptor, creating one if needed.
func (f *File) SetRemoteID(id string) {
	if f.Remote == nil {
		f.Remote = f.Descriptor()
	}
	f.Remote.ID = id
}

// Descriptor builds a remote descriptor from the local metadata. It is what gets sent
// to the remote when the file is created there.
func (f *File) Descriptor() *remote.Object {
	return &remote.Object{
		Name:    f.Name,
		Dir:     f.IsDir(),
		Size:    f.Attr.Size,
		Mode:    f.Attr.Mode &^ syscall.S_IFMT,
		ModTime: time.Unix(int64(f.Attr.Mtime), int64(f.Attr.Mtimensec)),
	}
}

// SetSize updates size and block count.
func (f *File) SetSize(size uint64) {
	f.Attr.Size = size
	f.Attr.Blocks = (size + 511) / 512
}

// NewRoot returns the synthetic mount root, referencing the remote root container.
func NewRoot(ino Inode, rootID string, owner fuse.Owner) *File {
	f := newDir(ino, RootName, owner)
	f.Remote = &remote.Object{ID: rootID, Name: RootName, Dir: true}
	return f
}

// NewVirtualDir returns a directory that is not backed by a remote object.
func NewVirtualDir(ino Inode, name string, owner fuse.Owner) *File {
	return newDir(ino, name, owner)
}

func newDir(ino Inode, name string, owner fuse.Owner) *File {
	return &File{
		Name: name,
		Attr: fuse.Attr{
			Ino:     ino,
			Mode:    syscall.S_IFDIR | defaultDirMode,
			Nlink:   2,
			Owner:   owner,
			Blksize: blockSize,
		},
	}
}

// New returns a local file or directory without a remote descriptor. Only the permission
// bits of mode are used unless mode carries S_IFDIR.
func New(ino Inode, name string, mode uint32, owner fuse.Owner) *File {
	now := time.Now()
	f := &File{
		Name: name,
		Attr: fuse.Attr{
			Ino:     ino,
			Owner:   owner,
			Blksize: blockSize,
		},
	}
	f.Attr.SetTimes(&now, &now, &now)

	if mode&syscall.S_IFMT == syscall.S_IFDIR {
		f.Attr.Mode = syscall.S_IFDIR | mode&07777
		f.Attr.Nlink = 2
	} else {
		f.Attr.Mode = syscall.S_IFREG | mode&07777
		f.Attr.Nlink = 1
	}
	return f
}

// FromRemote builds a file from a remote listing entry.
func FromRemote(ino Inode, obj *remote.Object, owner fuse.Owner) *File {
	perm := obj.Mode & 07777
	f := &File{
		Name: obj.Name,
		Attr: fuse.Attr{
			Ino:     ino,
			Owner:   owner,
			Blksize: blockSize,
		},
		Remote: obj,
	}
	if obj.Dir {
		if perm == 0 {
			perm = defaultDirMode
		}
		f.Attr.Mode = syscall.S_IFDIR | perm
		f.Attr.Nlink = 2
	} else {
		if perm == 0 {
			perm = defaultFileMode
		}
		f.Attr.Mode = syscall.S_IFREG | perm
		f.Attr.Nlink = 1
		f.SetSize(obj.Size)
	}
	if !obj.ModTime.IsZero() {
		mt := obj.ModTime
		f.Attr.SetTimes(&mt, &mt, &mt)
	}
	return f
}
