// Package pathtree implements the in-memory, single-owner rooted tree keyed
// by ordered string path segments that backs the MessageQueue's
// subscription tree (each node also carries an owner-defined payload via
// the D type parameter, e.g. a retained-message FIFO and waiter list).
//
// A Tree is not safe for concurrent use: it is designed to be owned
// exclusively by a single owner-thread goroutine, matching the concurrency
// model of the rest of this module (see the messagequeue and datastore
// packages).
package pathtree

import (
	"iter"
	"maps"
	"slices"

	"github.com/g-dg/garnetdg-app-server/internal/iterutil"
)

// Path is an ordered sequence of non-empty path segments. A nil or empty
// Path denotes the root.
type Path []string

// Equal reports whether p and other name the same path, segment by segment.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of p, safe to retain beyond the lifetime of the
// caller's slice.
func (p Path) Clone() Path {
	if len(p) == 0 {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Node is a single node of the tree, addressable by the owner via the
// pointer returned from Find/Ensure. D is an owner-defined payload carried
// by every node (zero-valued on creation); callers outside this package
// should treat the tree shape (parent/children) as opaque aside from
// reading Key and Data.
type Node[D any] struct {
	parent   *Node[D]
	key      string
	children map[string]*Node[D]

	// Data is the owner-defined payload attached to this node.
	Data D
}

// Key returns the node's own segment key ("" for the root).
func (n *Node[D]) Key() string {
	return n.key
}

// Tree is a rooted tree of Nodes keyed by path segment.
type Tree[D any] struct {
	root *Node[D]
}

// New returns an empty Tree containing only the root node.
func New[D any]() *Tree[D] {
	return &Tree[D]{root: &Node[D]{}}
}

// Root returns the tree's root node.
func (t *Tree[D]) Root() *Node[D] {
	return t.root
}

// Find traverses the tree from the root along path, returning the node at
// that path, or nil on the first missing segment.
func (t *Tree[D]) Find(path Path) *Node[D] {
	n := t.root
	for _, seg := range path {
		child, ok := n.children[seg]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

// Ensure traverses the tree from the root along path, creating any missing
// segments, and returns the node at that path.
func (t *Tree[D]) Ensure(path Path) *Node[D] {
	n := t.root
	for _, seg := range path {
		n = n.EnsureChild(seg)
	}
	return n
}

// Children returns the immediate child keys of the node at path, or nil if
// path does not resolve to a node. Order is unspecified; sort the result if
// a stable order is required.
func (t *Tree[D]) Children(path Path) []string {
	n := t.Find(path)
	if n == nil {
		return nil
	}
	return n.ChildKeys()
}

// ChildKeys returns n's immediate child keys. Order is unspecified.
func (n *Node[D]) ChildKeys() []string {
	if len(n.children) == 0 {
		return nil
	}
	return slices.Collect(iterutil.Left(maps.All(n.children)))
}

// Child returns n's immediate child for key, or nil if absent.
func (n *Node[D]) Child(key string) *Node[D] {
	return n.children[key]
}

// EnsureChild returns n's immediate child for key, creating it if absent.
func (n *Node[D]) EnsureChild(key string) *Node[D] {
	if n.children == nil {
		n.children = make(map[string]*Node[D])
	}
	child, ok := n.children[key]
	if !ok {
		child = &Node[D]{parent: n, key: key}
		n.children[key] = child
	}
	return child
}

// RemoveChild deletes n's immediate child for key, if present. It does not
// recurse: a child with its own descendants is removed along with them.
func (n *Node[D]) RemoveChild(key string) {
	delete(n.children, key)
}

// IsLeaf reports whether n has no children.
func (n *Node[D]) IsLeaf() bool {
	return len(n.children) == 0
}

// Parent returns n's parent, or nil for the root.
func (n *Node[D]) Parent() *Node[D] {
	return n.parent
}

// AllPostOrder iterates every node in the tree, a node's children always
// before the node itself. A consumer that prunes empty nodes as it goes
// (removing a childless, dataless node from its parent) sees leaves become
// eligible for pruning bottom-up within a single pass.
func (t *Tree[D]) AllPostOrder() iter.Seq[*Node[D]] {
	return func(yield func(*Node[D]) bool) {
		var walk func(n *Node[D]) bool
		walk = func(n *Node[D]) bool {
			for _, key := range n.ChildKeys() {
				child, ok := n.children[key]
				if !ok {
					continue
				}
				if !walk(child) {
					return false
				}
			}
			return yield(n)
		}
		walk(t.root)
	}
}

// Path reconstructs the full path from the root down to n.
func (n *Node[D]) Path() Path {
	var segs []string
	for cur := n; cur.parent != nil; cur = cur.parent {
		segs = append(segs, cur.key)
	}
	// segs was built leaf-to-root; reverse in place.
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return segs
}
