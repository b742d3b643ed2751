package manager

import (
	"fmt"

	"github.com/csweichel/cloudfs/pkg/file"
	"github.com/csweichel/cloudfs/pkg/tree"
)

type idKind uint8

const (
	idNone idKind = iota
	idInode
	idRemote
	idNode
	idParentAndName
)

// FileID identifies a file in one of four ways. All of them resolve to an inode.
// The zero value identifies nothing and is used as NoParent.
type FileID struct {
	kind     idKind
	inode    file.Inode
	remoteID string
	node     tree.NodeID
	name     string
}

// NoParent is passed to AddFile and CreateFile to register the mount root.
var NoParent FileID

// ByInode identifies a file by inode number.
func ByInode(ino file.Inode) FileID {
	return FileID{kind: idInode, inode: ino}
}

// ByRemoteID identifies a file by the ID the remote assigned to it.
func ByRemoteID(id string) FileID {
	return FileID{kind: idRemote, remoteID: id}
}

// ByNode identifies a file by its position in the tree.
func ByNode(n tree.NodeID) FileID {
	return FileID{kind: idNode, node: n}
}

// ByParentAndName identifies a file by name within the directory parent.
func ByParentAndName(parent file.Inode, name string) FileID {
	return FileID{kind: idParentAndName, inode: parent, name: name}
}

// IsZero reports whether id is NoParent.
func (id FileID) IsZero() bool {
	return id.kind == idNone
}

func (id FileID) String() string {
	switch id.kind {
	case idInode:
		return fmt.Sprintf("inode(%d)", id.inode)
	case idRemote:
		return fmt.Sprintf("remote(%s)", id.remoteID)
	case idNode:
		return id.node.String()
	case idParentAndName:
		return fmt.Sprintf("%d/%s", id.inode, id.name)
	default:
		return "none"
	}
}
