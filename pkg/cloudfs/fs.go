// Package cloudfs serves a manager.Manager to the kernel through go-fuse.
package cloudfs

import (
	"context"
	"errors"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/csweichel/cloudfs/pkg/file"
	"github.com/csweichel/cloudfs/pkg/manager"
	"github.com/csweichel/cloudfs/pkg/remote"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"
)

// FS dispatches kernel requests to a manager. Every manager call happens while mu is
// held, including the remote calls the manager makes on create and write.
type FS struct {
	mu     sync.Mutex
	mgr    *manager.Manager
	facade remote.Facade
}

// New returns the root node of a filesystem serving mgr. Reads, removals and truncation
// are served only if facade implements remote.Reader, remote.Remover or remote.Truncater.
func New(mgr *manager.Manager, facade remote.Facade) fs.InodeEmbedder {
	fsys := &FS{mgr: mgr, facade: facade}
	root, _ := mgr.Root()
	return &node{fsys: fsys, ino: root}
}

// node is a kernel inode. It carries nothing but the inode number, all state lives in
// the manager.
type node struct {
	fs.Inode

	fsys *FS
	ino  file.Inode
}

var (
	_ fs.InodeEmbedder = (*node)(nil)
	_ fs.NodeLookuper  = (*node)(nil)
	_ fs.NodeReaddirer = (*node)(nil)
	_ fs.NodeGetattrer = (*node)(nil)
	_ fs.NodeSetattrer = (*node)(nil)
	_ fs.NodeOpener    = (*node)(nil)
	_ fs.NodeReader    = (*node)(nil)
	_ fs.NodeWriter    = (*node)(nil)
	_ fs.NodeCreater   = (*node)(nil)
	_ fs.NodeMkdirer   = (*node)(nil)
	_ fs.NodeUnlinker  = (*node)(nil)
	_ fs.NodeRmdirer   = (*node)(nil)
	_ fs.NodeStatfser  = (*node)(nil)
	_ fs.NodeOnAdder   = (*node)(nil)
	_ fs.NodeAccesser  = (*node)(nil)
	_ fs.NodeFlusher   = (*node)(nil)
	_ fs.NodeFsyncer   = (*node)(nil)
)

func (n *node) newChild(ctx context.Context, f *file.File) *fs.Inode {
	return n.NewInode(ctx, &node{fsys: n.fsys, ino: f.Inode()}, fs.StableAttr{
		Mode: f.Attr.Mode & syscall.S_IFMT,
		Ino:  f.Inode(),
	})
}

// OnAdd is called once the root is attached. It only logs the mounted tree size.
func (n *node) OnAdd(ctx context.Context) {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()
	log.WithField("files", n.fsys.mgr.Len()).WithField("inode", n.ino).Debug("filesystem attached")
}

// Lookup implements fs.NodeLookuper
func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()

	f, ok := n.fsys.mgr.File(manager.ByParentAndName(n.ino, name))
	if !ok {
		return nil, syscall.ENOENT
	}
	out.Attr = f.Attr
	return n.newChild(ctx, &f), fs.OK
}

// Readdir implements fs.NodeReaddirer
func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()

	children, ok := n.fsys.mgr.Children(manager.ByInode(n.ino))
	if !ok {
		return nil, syscall.ENOENT
	}
	entries := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		entries = append(entries, fuse.DirEntry{
			Name: c.Name,
			Mode: c.Attr.Mode,
			Ino:  c.Inode(),
		})
	}
	return fs.NewListDirStream(entries), fs.OK
}

// Getattr implements fs.NodeGetattrer
func (n *node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()

	f, ok := n.fsys.mgr.File(manager.ByInode(n.ino))
	if !ok {
		return syscall.ENOENT
	}
	out.Attr = f.Attr
	return fs.OK
}

// Setattr implements fs.NodeSetattrer. Size changes are forwarded to the remote.
func (n *node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()

	f, ok := n.fsys.mgr.FileMut(manager.ByInode(n.ino))
	if !ok {
		return syscall.ENOENT
	}

	if sz, ok := in.GetSize(); ok && sz != f.Attr.Size {
		err := n.fsys.mgr.Truncate(ctx, manager.ByInode(n.ino), sz)
		if err != nil {
			log.WithError(err).WithField("inode", n.ino).WithField("size", sz).Debug("cannot truncate")
			return toErrno(err)
		}
	}
	if mode, ok := in.GetMode(); ok {
		f.Attr.Mode = f.Attr.Mode&syscall.S_IFMT | mode&07777
	}
	if uid, ok := in.GetUID(); ok {
		f.Attr.Uid = uid
	}
	if gid, ok := in.GetGID(); ok {
		f.Attr.Gid = gid
	}

	var atime, mtime *time.Time
	if t, ok := in.GetATime(); ok {
		atime = &t
	}
	if t, ok := in.GetMTime(); ok {
		mtime = &t
	}
	now := time.Now()
	f.Attr.SetTimes(atime, mtime, &now)

	out.Attr = f.Attr
	return fs.OK
}

// Access implements fs.NodeAccesser. Permissions are not enforced.
func (n *node) Access(ctx context.Context, mask uint32) syscall.Errno {
	return fs.OK
}

// Open implements fs.NodeOpener. Content is never cached by the kernel.
func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()

	f, ok := n.fsys.mgr.File(manager.ByInode(n.ino))
	if !ok {
		return nil, 0, syscall.ENOENT
	}
	if f.IsDir() {
		return nil, 0, syscall.EISDIR
	}
	return nil, fuse.FOPEN_DIRECT_IO, fs.OK
}

// Read implements fs.NodeReader. The remote read happens without holding the lock.
func (n *node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n.fsys.mu.Lock()
	rid, ok := n.fsys.mgr.RemoteID(manager.ByInode(n.ino))
	n.fsys.mu.Unlock()
	if !ok {
		// local-only files have no content yet
		return fuse.ReadResultData(nil), fs.OK
	}

	r, ok := n.fsys.facade.(remote.Reader)
	if !ok {
		return nil, syscall.ENOTSUP
	}
	c, err := r.Read(ctx, rid, dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		log.WithError(err).WithField("remoteID", rid).WithField("offset", off).Warn("cannot read content")
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:c]), fs.OK
}

// Write implements fs.NodeWriter
func (n *node) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()

	err := n.fsys.mgr.Write(ctx, manager.ByInode(n.ino), off, data)
	if err != nil {
		log.WithError(err).WithField("inode", n.ino).WithField("offset", off).Warn("cannot write")
		return 0, toErrno(err)
	}
	return uint32(len(data)), fs.OK
}

// Flush implements fs.NodeFlusher. Writes go straight to the remote, so there is
// nothing to flush.
func (n *node) Flush(ctx context.Context, fh fs.FileHandle) syscall.Errno {
	return fs.OK
}

// Fsync implements fs.NodeFsyncer
func (n *node) Fsync(ctx context.Context, fh fs.FileHandle, flags uint32) syscall.Errno {
	return fs.OK
}

// Create implements fs.NodeCreater
func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()

	f, errno := n.create(ctx, name, mode&^syscall.S_IFMT)
	if errno != fs.OK {
		return nil, nil, 0, errno
	}
	out.Attr = f.Attr
	return n.newChild(ctx, f), nil, fuse.FOPEN_DIRECT_IO, fs.OK
}

// Mkdir implements fs.NodeMkdirer
func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()

	f, errno := n.create(ctx, name, syscall.S_IFDIR|mode&07777)
	if errno != fs.OK {
		return nil, errno
	}
	out.Attr = f.Attr
	return n.newChild(ctx, f), fs.OK
}

// create creates a file below n on the remote and in the manager. The caller holds the lock.
func (n *node) create(ctx context.Context, name string, mode uint32) (*file.File, syscall.Errno) {
	mgr := n.fsys.mgr
	f := file.New(mgr.NextAvailableInode(), name, mode, mgr.Owner())

	err := mgr.CreateFile(ctx, f, manager.ByInode(n.ino))
	if err != nil {
		log.WithError(err).WithField("name", name).WithField("parent", n.ino).Warn("cannot create file")
		return nil, toErrno(err)
	}
	log.WithField("name", name).WithField("inode", f.Inode()).WithField("kind", f.Kind()).Debug("created file")
	return f, fs.OK
}

// Unlink implements fs.NodeUnlinker
func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.remove(ctx, name, false)
}

// Rmdir implements fs.NodeRmdirer
func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.remove(ctx, name, true)
}

func (n *node) remove(ctx context.Context, name string, dir bool) syscall.Errno {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()

	mgr := n.fsys.mgr
	id := manager.ByParentAndName(n.ino, name)
	f, ok := mgr.File(id)
	if !ok {
		return syscall.ENOENT
	}
	switch {
	case dir && !f.IsDir():
		return syscall.ENOTDIR
	case !dir && f.IsDir():
		return syscall.EISDIR
	}
	if children, _ := mgr.Children(id); len(children) > 0 {
		return syscall.ENOTEMPTY
	}

	if rid, ok := f.RemoteID(); ok {
		r, ok := n.fsys.facade.(remote.Remover)
		if !ok {
			return syscall.EROFS
		}
		err := r.Remove(ctx, rid)
		if err != nil {
			log.WithError(err).WithField("remoteID", rid).Warn("cannot remove remote object")
			return toErrno(err)
		}
	}

	err := mgr.RemoveFile(manager.ByInode(f.Inode()))
	if err != nil {
		return toErrno(err)
	}
	log.WithField("name", name).WithField("inode", f.Inode()).Debug("removed file")
	return fs.OK
}

// Statfs implements fs.NodeStatfser
func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()

	out.Bsize = 4096
	out.Frsize = 4096
	out.NameLen = 255
	out.Files = uint64(n.fsys.mgr.Len())
	return fs.OK
}

// toErrno maps manager and remote errors to the errno reported to the kernel.
func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return fs.OK
	case errors.Is(err, manager.ErrNotFound),
		errors.Is(err, manager.ErrNoRemote),
		errors.Is(err, remote.ErrUnknownObject):
		return syscall.ENOENT
	case errors.Is(err, manager.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, manager.ErrIsRoot):
		return syscall.EBUSY
	case errors.Is(err, manager.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, manager.ErrInvalidOffset):
		return syscall.EINVAL
	case errors.Is(err, remote.ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, remote.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, remote.ErrUnsupported):
		return syscall.ENOTSUP
	case errors.Is(err, context.Canceled):
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}
