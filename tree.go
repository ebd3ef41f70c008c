package slotstat

import (
	"io"

	"github.com/valyala/bytebufferpool"
)

// Tree is an assembled, sealed statistics tree. It owns the Store and
// exposes the query surface polled by reporters.
type Tree struct {
	root   Node
	store  *Store
	owners []owner // store index -> reserved slot of a node
}

type owner struct {
	node Node
	slot int
}

// Assemble sizes the tree rooted at root, assigns every node its window,
// allocates the Store and resolves every roll-up target. No node of the
// tree accepts children afterwards.
//
// Assembly is an initialization step; it must not race with Add.
func Assemble(root Node) (*Tree, error) {
	rb := root.base()
	if rb.tree != nil {
		return nil, ErrSealed
	}
	if rb.parent != nil {
		return nil, ErrAttached
	}

	t := &Tree{root: root}
	var nodes []Node
	size := layout(root, 0, &nodes)

	t.store = NewStore(size)
	t.owners = make([]owner, size)
	for _, n := range nodes {
		b := n.base()
		b.path = buildPath(b)
		b.tree = t
		for i := 0; i < b.own; i++ {
			t.owners[b.offset+i] = owner{node: n, slot: i}
		}
	}
	for _, n := range nodes {
		n.resolve()
	}
	breakCycles(nodes)
	return t, nil
}

// breakCycles cuts loops in the resolved roll-up targets. Ancestor hops
// always go back in pre-order, so every loop holds at least one forward hop
// to a sibling aggregator; the first such hop of the loop is dropped.
func breakCycles(nodes []Node) {
	const (
		unseen = iota
		onPath
		done
	)
	state := make(map[*nodeBase]int, len(nodes))
	for _, n := range nodes {
		var path []Node
		for cur := n; cur != nil && state[cur.base()] == unseen; cur = cur.rollup() {
			state[cur.base()] = onPath
			path = append(path, cur)

			next := cur.rollup()
			if next == nil || state[next.base()] != onPath {
				continue
			}
			loop := path
			for i, p := range path {
				if p.base() == next.base() {
					loop = path[i:]
					break
				}
			}
			for _, p := range loop {
				if p.rollup().base().order > p.base().order {
					p.cut()
					break
				}
			}
			break
		}
		for _, p := range path {
			state[p.base()] = done
		}
	}
}

// layout assigns offsets in pre-order and returns the size of n's window.
func layout(n Node, offset int, nodes *[]Node) int {
	b := n.base()
	b.order = len(*nodes)
	*nodes = append(*nodes, b.self)
	b.offset = offset
	size := b.own
	for _, c := range b.children {
		size += layout(c, offset+size, nodes)
	}
	b.size = size
	return size
}

// Root returns the root node
func (t *Tree) Root() Node { return t.root }

// Len returns the number of slots in the tree
func (t *Tree) Len() int { return t.store.Len() }

// Value reads a slot by its tree-wide index
func (t *Tree) Value(i int) int64 { return t.store.Load(i) }

// Owner returns the node owning slot i and the slot's index relative to
// that node. It returns nil for out-of-range indexes.
func (t *Tree) Owner(i int) (Node, int) {
	if i < 0 || i >= len(t.owners) {
		return nil, 0
	}
	o := t.owners[i]
	return o.node, o.slot
}

// IsValidSlot reports whether slot i has a label and holds data worth
// reporting.
func (t *Tree) IsValidSlot(i int) bool {
	n, slot := t.Owner(i)
	if n == nil {
		return false
	}
	if _, ok := n.Label(slot); !ok {
		return false
	}
	return n.Significant(slot)
}

// Label returns the label of slot i, or "" if it has none.
func (t *Tree) Label(i int) string {
	n, slot := t.Owner(i)
	if n == nil {
		return ""
	}
	label, _ := n.Label(slot)
	return label
}

// Dump renders slot i for humans.
func (t *Tree) Dump(i int, compact bool) string {
	n, slot := t.Owner(i)
	if n == nil {
		return ""
	}
	return n.Dump(slot, compact)
}

// Walk calls fn for every valid slot in index order.
func (t *Tree) Walk(fn func(i int, n Node, slot int)) {
	for i := range t.owners {
		if !t.IsValidSlot(i) {
			continue
		}
		o := t.owners[i]
		fn(i, o.node, o.slot)
	}
}

// DumpAll writes one line per valid slot to w.
func (t *Tree) DumpAll(w io.Writer, compact bool) (int64, error) {
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)
	t.writeTo(b, compact)
	return b.WriteTo(w)
}

func (t *Tree) String() string {
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)
	t.writeTo(b, false)
	return b.String()
}

func (t *Tree) writeTo(b *bytebufferpool.ByteBuffer, compact bool) {
	t.Walk(func(_ int, n Node, slot int) {
		_, _ = b.WriteString(n.Dump(slot, compact))
		_ = b.WriteByte('\n')
	})
}
