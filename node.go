package slotstat

import (
	"errors"

	"github.com/valyala/bytebufferpool"
)

var (
	ErrSealed   = errors.New("slotstat: tree is already assembled")
	ErrAttached = errors.New("slotstat: node is already attached")
	ErrCycle    = errors.New("slotstat: node cannot contain itself")
)

// recordHook runs inside every local update of a Timing or Counters node
// when set. Tests use it to fail an update.
var recordHook func(Node)

// Node owns a fixed window of slots inside the Store of an assembled Tree.
//
// Slot indexes passed to Value, Label, Significant and Dump are relative to
// the node's own window. A node's window starts with its own reserved slots
// and is followed by the windows of its children, in the order they were
// added.
type Node interface {
	Name() string
	// Path is the dot-joined chain of names from the root to this node.
	Path() string
	Size() int
	Offset() int
	// Parent is a lookup-only back reference; it owns nothing.
	Parent() Node
	Children() []Node
	Add(children ...Node) error

	Value(slot int) int64
	Label(slot int) (string, bool)
	Significant(slot int) bool
	Dump(slot int, compact bool) string

	base() *nodeBase
	resolve()
	rollup() Node
	cut()
}

// nodeBase carries the bookkeeping shared by every node kind.
type nodeBase struct {
	name     string
	own      int  // reserved slots at the start of the window
	self     Node // the outer node embedding this base
	parent   Node
	children []Node

	tree   *Tree // set once by Assemble
	order  int   // pre-order index in the tree
	offset int
	size   int
	path   string
}

func (n *nodeBase) init(self Node, name string, own int) {
	n.self = self
	n.name = name
	n.own = own
}

func (n *nodeBase) base() *nodeBase { return n }

// resolve, rollup and cut are overridden by nodes that roll events up the
// tree. rollup returns the resolved target; cut drops it.
func (n *nodeBase) resolve() {}

func (n *nodeBase) rollup() Node { return nil }

func (n *nodeBase) cut() {}

func (n *nodeBase) Name() string { return n.name }

func (n *nodeBase) Path() string {
	if n.tree != nil {
		return n.path
	}
	return buildPath(n)
}

func (n *nodeBase) Size() int {
	if n.tree != nil {
		return n.size
	}
	size := n.own
	for _, c := range n.children {
		size += c.Size()
	}
	return size
}

func (n *nodeBase) Offset() int { return n.offset }

func (n *nodeBase) Parent() Node { return n.parent }

func (n *nodeBase) Children() []Node {
	out := make([]Node, len(n.children))
	copy(out, n.children)
	return out
}

// Add attaches children in order. It fails once the tree holding n has been
// assembled, when a child already has a parent, or when a child is n itself
// or one of its ancestors.
func (n *nodeBase) Add(children ...Node) error {
	if n.tree != nil {
		return ErrSealed
	}
	for _, c := range children {
		if c == nil {
			continue
		}
		cb := c.base()
		if cb.tree != nil || cb.parent != nil {
			return ErrAttached
		}
		for a := Node(n.self); a != nil; a = a.base().parent {
			if a.base() == cb {
				return ErrCycle
			}
		}
		cb.parent = n.self
		n.children = append(n.children, c)
	}
	return nil
}

// Value reads a slot of the node's window; 0 before assembly.
func (n *nodeBase) Value(slot int) int64 {
	if n.tree == nil || slot < 0 || slot >= n.size {
		return 0
	}
	return n.tree.store.Load(n.offset + slot)
}

func (n *nodeBase) Label(int) (string, bool) { return "", false }

func (n *nodeBase) Significant(int) bool { return false }

func (n *nodeBase) Dump(int, bool) string { return "" }

// slot maps a reserved slot of the node to its store index, or -1.
func (n *nodeBase) slot(i int) int {
	if n.tree == nil || i < 0 || i >= n.own {
		return -1
	}
	return n.offset + i
}

func (n *nodeBase) store() *Store {
	if n.tree == nil {
		return nil
	}
	return n.tree.store
}

// findCompatible searches descendants depth-first, pre-order, and returns the
// first one accepted by match. Wrappers such as DBCounters are unwrapped to
// the node they embed before matching. It does not descend into a matched
// node, nor into the subtree rooted at skip.
func (n *nodeBase) findCompatible(match func(Node) bool, skip *nodeBase) Node {
	for _, c := range n.children {
		if c.base() == skip {
			continue
		}
		if self := c.base().self; match(self) {
			return self
		}
		if found := c.base().findCompatible(match, skip); found != nil {
			return found
		}
	}
	return nil
}

// rollupTarget walks the ancestors of n. The first ancestor accepted by
// ancestor wins; otherwise the first descendant of an ancestor accepted by
// sibling wins. n's own subtree is never searched, since its members roll
// up into n. Two aggregators can still pick each other; Assemble breaks
// such loops (see breakCycles).
func (n *nodeBase) rollupTarget(ancestor, sibling func(Node) bool) Node {
	for a := n.parent; a != nil; a = a.base().parent {
		if ancestor(a) {
			return a
		}
		if c := a.base().findCompatible(sibling, n); c != nil {
			return c
		}
	}
	return nil
}

func buildPath(n *nodeBase) string {
	var chain []string
	for a := Node(n.self); a != nil; a = a.base().parent {
		chain = append(chain, a.Name())
	}
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i] == "" {
			continue
		}
		if b.Len() > 0 {
			_ = b.WriteByte('.')
		}
		_, _ = b.WriteString(chain[i])
	}
	return b.String()
}

// Group is a node without reserved slots that composes child nodes.
type Group struct {
	nodeBase
}

// NewGroup creates a group and attaches children in order
func NewGroup(name string, children ...Node) (*Group, error) {
	g := &Group{}
	g.init(g, name, 0)
	if err := g.Add(children...); err != nil {
		return nil, err
	}
	return g, nil
}

// FindCompatible returns the first descendant accepted by match, in
// depth-first pre-order, or nil.
func (g *Group) FindCompatible(match func(Node) bool) Node {
	return g.findCompatible(match, nil)
}
