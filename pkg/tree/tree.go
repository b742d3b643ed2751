// Package tree implements an ordered tree of inode numbers stored in an arena.
//
// Nodes are addressed by NodeID, a slot index plus a generation counter. Removing a
// node frees its slot for reuse and bumps the generation, so NodeIDs that referred to
// the removed node stop resolving instead of silently pointing at a new one.
package tree

import (
	"errors"
	"fmt"
)

// ErrInvalidNode is returned for NodeIDs that do not refer to a live node.
var ErrInvalidNode = errors.New("invalid node id")

// NodeID identifies a position in the tree. The zero value is never valid.
type NodeID struct {
	index uint32
	gen   uint32
}

// IsZero reports whether id is the zero NodeID.
func (id NodeID) IsZero() bool {
	return id.gen == 0
}

func (id NodeID) String() string {
	return fmt.Sprintf("node(%d/%d)", id.index, id.gen)
}

type node struct {
	gen      uint32
	live     bool
	payload  uint64
	parent   NodeID
	children []NodeID
}

// Tree is an ordered tree whose nodes carry a uint64 payload.
// Tree is not safe for concurrent use.
type Tree struct {
	nodes []node
	free  []uint32
	roots []NodeID
	size  int
}

// New returns an empty tree with room for capacity nodes.
func New(capacity int) *Tree {
	return &Tree{
		nodes: make([]node, 0, capacity),
	}
}

func (t *Tree) alloc(payload uint64, parent NodeID) NodeID {
	var idx uint32
	if l := len(t.free); l > 0 {
		idx = t.free[l-1]
		t.free = t.free[:l-1]
	} else {
		t.nodes = append(t.nodes, node{})
		idx = uint32(len(t.nodes) - 1)
	}

	n := &t.nodes[idx]
	n.gen++
	n.live = true
	n.payload = payload
	n.parent = parent
	n.children = nil
	t.size++

	return NodeID{index: idx, gen: n.gen}
}

func (t *Tree) get(id NodeID) (*node, error) {
	if id.gen == 0 || int(id.index) >= len(t.nodes) {
		return nil, ErrInvalidNode
	}
	n := &t.nodes[id.index]
	if !n.live || n.gen != id.gen {
		return nil, ErrInvalidNode
	}
	return n, nil
}

// InsertRoot adds a node without a parent. The tree does not restrict the number of
// roots; callers that need a single root have to enforce that.
func (t *Tree) InsertRoot(payload uint64) NodeID {
	id := t.alloc(payload, NodeID{})
	t.roots = append(t.roots, id)
	return id
}

// InsertUnder appends a node as the last child of parent.
func (t *Tree) InsertUnder(parent NodeID, payload uint64) (NodeID, error) {
	if _, err := t.get(parent); err != nil {
		return NodeID{}, err
	}
	id := t.alloc(payload, parent)
	// alloc may have grown the arena, so look the parent up again
	p := &t.nodes[parent.index]
	p.children = append(p.children, id)
	return id, nil
}

// Get returns the payload of a node.
func (t *Tree) Get(id NodeID) (uint64, error) {
	n, err := t.get(id)
	if err != nil {
		return 0, err
	}
	return n.payload, nil
}

// Contains reports whether id refers to a live node.
func (t *Tree) Contains(id NodeID) bool {
	_, err := t.get(id)
	return err == nil
}

// Parent returns the parent of a node. ok is false for root nodes.
func (t *Tree) Parent(id NodeID) (parent NodeID, ok bool, err error) {
	n, err := t.get(id)
	if err != nil {
		return NodeID{}, false, err
	}
	return n.parent, !n.parent.IsZero(), nil
}

// Children returns the children of a node in insertion order.
func (t *Tree) Children(id NodeID) ([]NodeID, error) {
	n, err := t.get(id)
	if err != nil {
		return nil, err
	}
	res := make([]NodeID, len(n.children))
	copy(res, n.children)
	return res, nil
}

// Root returns the first root node.
func (t *Tree) Root() (NodeID, bool) {
	if len(t.roots) == 0 {
		return NodeID{}, false
	}
	return t.roots[0], true
}

// Roots returns all nodes without a parent.
func (t *Tree) Roots() []NodeID {
	res := make([]NodeID, len(t.roots))
	copy(res, t.roots)
	return res
}

// Len returns the number of live nodes.
func (t *Tree) Len() int {
	return t.size
}

// Remove deletes a node and its whole subtree. It returns the payloads of all removed
// nodes, the node itself first.
func (t *Tree) Remove(id NodeID) ([]uint64, error) {
	n, err := t.get(id)
	if err != nil {
		return nil, err
	}

	if n.parent.IsZero() {
		t.roots = without(t.roots, id)
	} else {
		p := &t.nodes[n.parent.index]
		p.children = without(p.children, id)
	}

	var removed []uint64
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		c := &t.nodes[cur.index]
		removed = append(removed, c.payload)
		for i := len(c.children) - 1; i >= 0; i-- {
			stack = append(stack, c.children[i])
		}

		c.live = false
		c.children = nil
		c.parent = NodeID{}
		t.free = append(t.free, cur.index)
		t.size--
	}
	return removed, nil
}

// Walk visits the subtree below start in depth-first pre-order. Children are visited in
// insertion order. Returning false from fn stops the walk.
func (t *Tree) Walk(start NodeID, fn func(id NodeID, payload uint64, depth int) bool) error {
	if _, err := t.get(start); err != nil {
		return err
	}

	type frame struct {
		id    NodeID
		depth int
	}
	stack := []frame{{id: start}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &t.nodes[cur.id.index]
		if !fn(cur.id, n.payload, cur.depth) {
			return nil
		}
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, frame{id: n.children[i], depth: cur.depth + 1})
		}
	}
	return nil
}

func without(ids []NodeID, id NodeID) []NodeID {
	for i, c := range ids {
		if c == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
