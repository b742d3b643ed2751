// Package manager keeps the inode table, the directory tree and the remote ID index of a
// mounted remote consistent with each other.
//
// A Manager is not safe for concurrent use. Callers serialize access to it, e.g. by
// holding one lock around every call.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/csweichel/cloudfs/pkg/file"
	"github.com/csweichel/cloudfs/pkg/remote"
	"github.com/csweichel/cloudfs/pkg/tree"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotFound      = errors.New("file not found")
	ErrNoRemote      = errors.New("file has no remote object")
	ErrExists        = errors.New("file exists")
	ErrInodeInUse    = errors.New("inode already registered")
	ErrRemoteIDInUse = errors.New("remote id already registered")
	ErrRootExists    = errors.New("root already registered")
	ErrIsRoot        = errors.New("cannot remove the root")
	ErrInvalidOffset = errors.New("invalid offset")
	ErrIsDir         = errors.New("file is a directory")
)

const initialCapacity = 500

// Options configure a Manager.
type Options struct {
	// Owner is applied to every file the manager builds.
	Owner fuse.Owner

	// SharedDir, if non-empty, adds a virtual directory of that name below the root.
	SharedDir string
}

// Manager owns the tree and the three tables that cross-reference it:
// inode to tree node, inode to file, and remote ID to inode.
type Manager struct {
	tree      *tree.Tree
	files     map[file.Inode]*file.File
	nodeIDs   map[file.Inode]tree.NodeID
	remoteIDs map[string]file.Inode

	facade remote.Facade
	opts   Options
}

// New creates a manager and populates it with the entire remote hierarchy.
func New(ctx context.Context, facade remote.Facade, opts Options) (*Manager, error) {
	m := &Manager{
		tree:      tree.New(initialCapacity),
		files:     make(map[file.Inode]*file.File),
		nodeIDs:   make(map[file.Inode]tree.NodeID),
		remoteIDs: make(map[string]file.Inode),
		facade:    facade,
		opts:      opts,
	}

	err := m.populate(ctx)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// populate walks the remote breadth-first, starting at its root.
func (m *Manager) populate(ctx context.Context) error {
	t0 := time.Now()

	rootID, err := m.facade.RootID(ctx)
	if err != nil {
		return fmt.Errorf("cannot get remote root: %w", err)
	}
	root := file.NewRoot(m.NextAvailableInode(), rootID, m.opts.Owner)
	err = m.AddFile(root, NoParent)
	if err != nil {
		return fmt.Errorf("cannot add root: %w", err)
	}

	type container struct {
		remoteID string
		ino      file.Inode
	}
	queue := []container{{remoteID: rootID, ino: root.Inode()}}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		children, err := m.facade.ListChildren(ctx, parent.remoteID)
		if err != nil {
			return fmt.Errorf("cannot list children of %s: %w", parent.remoteID, err)
		}

		for _, obj := range children {
			if _, exists := m.remoteIDs[obj.ID]; exists {
				log.WithField("remoteID", obj.ID).WithField("parent", parent.remoteID).Debug("skipping object listed under more than one parent")
				continue
			}

			f := file.FromRemote(m.NextAvailableInode(), obj, m.opts.Owner)
			if name := m.uniqueName(parent.ino, f.Name, obj.ID); name != f.Name {
				log.WithField("remoteID", obj.ID).WithField("name", name).Warn("name collision, renamed")
				f.Name = name
			}

			err = m.AddFile(f, ByInode(parent.ino))
			if err != nil {
				return fmt.Errorf("cannot add %s: %w", obj.ID, err)
			}
			if f.IsDir() {
				queue = append(queue, container{remoteID: obj.ID, ino: f.Inode()})
			}
			log.WithField("inode", f.Inode()).WithField("name", f.Name).WithField("remoteID", obj.ID).Debug("added file")
		}
	}

	if m.opts.SharedDir != "" {
		err = m.AddFile(file.NewVirtualDir(m.NextAvailableInode(), m.opts.SharedDir, m.opts.Owner), ByInode(root.Inode()))
		if err != nil {
			return fmt.Errorf("cannot add %s: %w", m.opts.SharedDir, err)
		}
	}

	log.WithField("files", len(m.files)).WithField("duration", time.Since(t0)).Info("populated file tree")
	return nil
}

// uniqueName returns name if no child of parent carries it yet. Otherwise it appends
// "~remoteID", and a counter if that is taken as well.
func (m *Manager) uniqueName(parent file.Inode, name, remoteID string) string {
	if !m.Contains(ByParentAndName(parent, name)) {
		return name
	}
	base := fmt.Sprintf("%s~%s", name, remoteID)
	candidate := base
	for i := 2; m.Contains(ByParentAndName(parent, candidate)); i++ {
		candidate = fmt.Sprintf("%s~%d", base, i)
	}
	return candidate
}

// Owner returns the owner applied to files built by the manager.
func (m *Manager) Owner() fuse.Owner {
	return m.opts.Owner
}

// NextAvailableInode returns the smallest positive inode number not in use.
// This is a linear scan over the inode table.
func (m *Manager) NextAvailableInode() file.Inode {
	for ino := file.Inode(1); ; ino++ {
		if _, used := m.files[ino]; !used {
			return ino
		}
	}
}

// Len returns the number of registered files.
func (m *Manager) Len() int {
	return len(m.files)
}

// Contains reports whether id resolves to a registered file.
func (m *Manager) Contains(id FileID) bool {
	_, ok := m.Inode(id)
	return ok
}

// Inode resolves id to an inode number.
func (m *Manager) Inode(id FileID) (file.Inode, bool) {
	switch id.kind {
	case idInode:
		_, ok := m.files[id.inode]
		return id.inode, ok
	case idRemote:
		ino, ok := m.remoteIDs[id.remoteID]
		return ino, ok
	case idNode:
		ino, err := m.tree.Get(id.node)
		if err != nil {
			return 0, false
		}
		return ino, true
	case idParentAndName:
		children, ok := m.Children(ByInode(id.inode))
		if !ok {
			return 0, false
		}
		for _, c := range children {
			if c.Name == id.name {
				return c.Inode(), true
			}
		}
		return 0, false
	default:
		return 0, false
	}
}

// NodeID resolves id to its position in the tree.
func (m *Manager) NodeID(id FileID) (tree.NodeID, bool) {
	if id.kind == idNode {
		return id.node, m.tree.Contains(id.node)
	}
	ino, ok := m.Inode(id)
	if !ok {
		return tree.NodeID{}, false
	}
	nid, ok := m.nodeIDs[ino]
	return nid, ok
}

// RemoteID resolves id to the remote ID of the file.
func (m *Manager) RemoteID(id FileID) (string, bool) {
	f, ok := m.FileMut(id)
	if !ok {
		return "", false
	}
	return f.RemoteID()
}

// File returns a copy of the file id resolves to.
func (m *Manager) File(id FileID) (file.File, bool) {
	f, ok := m.FileMut(id)
	if !ok {
		return file.File{}, false
	}
	return *f, true
}

// FileMut returns the registered file for in-place updates. Callers must not change the
// inode number or the remote ID through it; use AttachRemote for the latter.
func (m *Manager) FileMut(id FileID) (*file.File, bool) {
	ino, ok := m.Inode(id)
	if !ok {
		return nil, false
	}
	f, ok := m.files[ino]
	return f, ok
}

// Children returns the children of a directory in tree order.
func (m *Manager) Children(id FileID) ([]*file.File, bool) {
	nid, ok := m.NodeID(id)
	if !ok {
		return nil, false
	}
	children, err := m.tree.Children(nid)
	if err != nil {
		return nil, false
	}

	res := make([]*file.File, 0, len(children))
	for _, c := range children {
		ino, err := m.tree.Get(c)
		if err != nil {
			continue
		}
		f, ok := m.files[ino]
		if !ok {
			continue
		}
		res = append(res, f)
	}
	return res, true
}

// Parent returns the inode of the directory containing id.
func (m *Manager) Parent(id FileID) (file.Inode, bool) {
	nid, ok := m.NodeID(id)
	if !ok {
		return 0, false
	}
	parent, ok, err := m.tree.Parent(nid)
	if err != nil || !ok {
		return 0, false
	}
	return m.Inode(ByNode(parent))
}

// Root returns the inode of the mount root.
func (m *Manager) Root() (file.Inode, bool) {
	nid, ok := m.tree.Root()
	if !ok {
		return 0, false
	}
	return m.Inode(ByNode(nid))
}

// AddFile registers f below parent without talking to the remote. Passing NoParent
// registers f as the root, which is only possible once. AddFile either registers f in
// the tree and all tables or changes nothing.
func (m *Manager) AddFile(f *file.File, parent FileID) error {
	parentNode, err := m.checkAdd(f, parent)
	if err != nil {
		return err
	}

	var nid tree.NodeID
	if parent.IsZero() {
		log.WithField("inode", f.Inode()).Debug("adding file as root")
		nid = m.tree.InsertRoot(f.Inode())
	} else {
		nid, err = m.tree.InsertUnder(parentNode, f.Inode())
		if err != nil {
			return fmt.Errorf("cannot insert %s below %v: %w", f.Name, parent, err)
		}
	}

	m.nodeIDs[f.Inode()] = nid
	if rid, ok := f.RemoteID(); ok {
		m.remoteIDs[rid] = f.Inode()
	}
	m.files[f.Inode()] = f
	return nil
}

// checkAdd verifies that f can be registered below parent and returns the parent's node.
func (m *Manager) checkAdd(f *file.File, parent FileID) (tree.NodeID, error) {
	if f.Inode() == 0 {
		return tree.NodeID{}, fmt.Errorf("%w: inode 0 is reserved", ErrInodeInUse)
	}
	if _, exists := m.files[f.Inode()]; exists {
		return tree.NodeID{}, fmt.Errorf("%w: %d", ErrInodeInUse, f.Inode())
	}
	if rid, ok := f.RemoteID(); ok {
		if _, exists := m.remoteIDs[rid]; exists {
			return tree.NodeID{}, fmt.Errorf("%w: %s", ErrRemoteIDInUse, rid)
		}
	}
	if parent.IsZero() {
		if _, exists := m.tree.Root(); exists {
			return tree.NodeID{}, ErrRootExists
		}
		return tree.NodeID{}, nil
	}

	pf, ok := m.FileMut(parent)
	if !ok {
		return tree.NodeID{}, fmt.Errorf("%w: parent %v", ErrNotFound, parent)
	}
	if !pf.IsDir() {
		return tree.NodeID{}, fmt.Errorf("%w: parent %v is not a directory", ErrNotFound, parent)
	}
	if m.Contains(ByParentAndName(pf.Inode(), f.Name)) {
		return tree.NodeID{}, fmt.Errorf("%w: %s in %v", ErrExists, f.Name, parent)
	}
	return m.nodeIDs[pf.Inode()], nil
}

// CreateFile creates f on the remote and then registers it below parent. The remote
// create happens before any table is touched. If registration fails afterwards the
// remote object is left behind and the error is returned.
func (m *Manager) CreateFile(ctx context.Context, f *file.File, parent FileID) error {
	if _, err := m.checkAdd(f, parent); err != nil {
		return err
	}

	desc := f.Remote
	if desc == nil {
		desc = f.Descriptor()
	}
	if !parent.IsZero() {
		pid, ok := m.RemoteID(parent)
		if !ok {
			return fmt.Errorf("%w: parent %v", ErrNoRemote, parent)
		}
		desc.Parents = []string{pid}
	}

	rid, err := m.facade.Create(ctx, desc)
	if err != nil {
		return fmt.Errorf("cannot create %s remotely: %w", f.Name, err)
	}
	f.Remote = desc
	f.SetRemoteID(rid)

	err = m.AddFile(f, parent)
	if err != nil {
		log.WithError(err).WithField("remoteID", rid).WithField("name", f.Name).Warn("created remote object is orphaned")
		return err
	}
	return nil
}

// AttachRemote sets the remote ID of a registered file and indexes it.
func (m *Manager) AttachRemote(id FileID, remoteID string) error {
	f, ok := m.FileMut(id)
	if !ok {
		return fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	if owner, exists := m.remoteIDs[remoteID]; exists && owner != f.Inode() {
		return fmt.Errorf("%w: %s", ErrRemoteIDInUse, remoteID)
	}
	if old, ok := f.RemoteID(); ok {
		delete(m.remoteIDs, old)
	}
	f.SetRemoteID(remoteID)
	m.remoteIDs[remoteID] = f.Inode()
	return nil
}

// Write forwards data to the remote object behind id. Nothing is buffered locally.
func (m *Manager) Write(ctx context.Context, id FileID, offset int64, data []byte) error {
	if offset < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOffset, offset)
	}
	f, ok := m.FileMut(id)
	if !ok {
		return fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	rid, ok := f.RemoteID()
	if !ok {
		return fmt.Errorf("%w: %v", ErrNoRemote, id)
	}

	err := m.facade.Write(ctx, rid, offset, data)
	if err != nil {
		return fmt.Errorf("cannot write to %s: %w", rid, err)
	}

	if end := uint64(offset) + uint64(len(data)); end > f.Attr.Size {
		f.SetSize(end)
	}
	now := time.Now()
	f.Attr.SetTimes(nil, &now, &now)
	return nil
}

// Truncate sets the size of the remote object behind id. It returns remote.ErrUnsupported
// if the facade cannot truncate.
func (m *Manager) Truncate(ctx context.Context, id FileID, size uint64) error {
	f, ok := m.FileMut(id)
	if !ok {
		return fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	if f.IsDir() {
		return fmt.Errorf("%w: %v", ErrIsDir, id)
	}
	if size == f.Attr.Size {
		return nil
	}
	rid, ok := f.RemoteID()
	if !ok {
		return fmt.Errorf("%w: %v", ErrNoRemote, id)
	}
	t, ok := m.facade.(remote.Truncater)
	if !ok {
		return fmt.Errorf("%w: cannot truncate %s", remote.ErrUnsupported, rid)
	}

	err := t.Truncate(ctx, rid, size)
	if err != nil {
		return fmt.Errorf("cannot truncate %s: %w", rid, err)
	}
	f.SetSize(size)
	now := time.Now()
	f.Attr.SetTimes(nil, &now, &now)
	return nil
}

// RemoveFile unregisters id and everything below it. The remote is not contacted.
func (m *Manager) RemoveFile(id FileID) error {
	nid, ok := m.NodeID(id)
	if !ok {
		return fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	if root, ok := m.tree.Root(); ok && root == nid {
		return ErrIsRoot
	}

	removed, err := m.tree.Remove(nid)
	if err != nil {
		return fmt.Errorf("cannot remove %v: %w", id, err)
	}
	for _, ino := range removed {
		if f, ok := m.files[ino]; ok {
			if rid, ok := f.RemoteID(); ok {
				delete(m.remoteIDs, rid)
			}
		}
		delete(m.files, ino)
		delete(m.nodeIDs, ino)
	}
	return nil
}

// Check verifies that the tree and the tables agree with each other.
func (m *Manager) Check() error {
	if len(m.files) != len(m.nodeIDs) {
		return fmt.Errorf("file table has %d entries, node table %d", len(m.files), len(m.nodeIDs))
	}
	if m.tree.Len() != len(m.files) {
		return fmt.Errorf("tree has %d nodes, file table %d entries", m.tree.Len(), len(m.files))
	}
	for ino, f := range m.files {
		nid, ok := m.nodeIDs[ino]
		if !ok {
			return fmt.Errorf("inode %d has no tree node", ino)
		}
		payload, err := m.tree.Get(nid)
		if err != nil {
			return fmt.Errorf("inode %d: %w", ino, err)
		}
		if payload != ino {
			return fmt.Errorf("inode %d points to node carrying %d", ino, payload)
		}
		if f.Inode() != ino {
			return fmt.Errorf("inode %d holds file with inode %d", ino, f.Inode())
		}
		if rid, ok := f.RemoteID(); ok {
			if owner, ok := m.remoteIDs[rid]; !ok || owner != ino {
				return fmt.Errorf("remote id %s of inode %d is indexed as %d", rid, ino, owner)
			}
		}
	}
	for rid, ino := range m.remoteIDs {
		f, ok := m.files[ino]
		if !ok {
			return fmt.Errorf("remote id %s points to unknown inode %d", rid, ino)
		}
		if id, _ := f.RemoteID(); id != rid {
			return fmt.Errorf("remote id %s points to inode %d which carries %q", rid, ino, id)
		}
	}
	if roots := m.tree.Roots(); len(roots) > 1 {
		return fmt.Errorf("tree has %d roots", len(roots))
	}
	return nil
}

// String renders the tree depth-first, one "inode => name" line per file.
func (m *Manager) String() string {
	var b strings.Builder
	b.WriteString("FileManager(\n")

	root, ok := m.tree.Root()
	if ok {
		_ = m.tree.Walk(root, func(id tree.NodeID, ino uint64, depth int) bool {
			name := "<missing>"
			if f, ok := m.files[ino]; ok {
				name = f.Name
			}
			b.WriteString(strings.Repeat("\t", depth))
			fmt.Fprintf(&b, "%3d => %s\n", ino, name)
			return true
		})
	}

	b.WriteString(")\n")
	return b.String()
}
