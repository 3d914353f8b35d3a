package node

import "fmt"

// Arena owns the nodes of one page. Handles stay valid until Reset.
type Arena struct {
	nodes []Node
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Add stores n and assigns its handle. Adding a node that already has a
// handle is a programming error.
func (a *Arena) Add(n Node) ID {
	m := n.Meta()
	if m.ID != None {
		panic(fmt.Sprintf("node %d is already in an arena", m.ID))
	}

	a.nodes = append(a.nodes, n)
	m.ID = ID(len(a.nodes))

	return m.ID
}

// Get returns the node with the given handle, or nil.
func (a *Arena) Get(id ID) Node {
	if id == None || int(id) > len(a.nodes) {
		return nil
	}

	return a.nodes[id-1]
}

// Meta returns the common fields of a node, or nil.
func (a *Arena) Meta(id ID) *NodeMeta {
	n := a.Get(id)
	if n == nil {
		return nil
	}

	return n.Meta()
}

// Tag returns the markup tag with the given handle, or nil.
func (a *Arena) Tag(id ID) *Tag {
	t, _ := a.Get(id).(*Tag)
	return t
}

// GeneratedTag returns the generated tag with the given handle, or nil.
func (a *Arena) GeneratedTag(id ID) *GeneratedTag {
	t, _ := a.Get(id).(*GeneratedTag)
	return t
}

// Computation returns the computation with the given handle, or nil. For an
// Event the embedded computation is returned.
func (a *Arena) Computation(id ID) *Computation {
	switch n := a.Get(id).(type) {
	case *Computation:
		return n
	case *Event:
		return &n.Computation
	default:
		return nil
	}
}

// Event returns the event with the given handle, or nil.
func (a *Arena) Event(id ID) *Event {
	e, _ := a.Get(id).(*Event)
	return e
}

// Resource returns the resource with the given handle, or nil.
func (a *Arena) Resource(id ID) *Resource {
	r, _ := a.Get(id).(*Resource)
	return r
}

// Preload returns the preload with the given handle, or nil.
func (a *Arena) Preload(id ID) *Preload {
	p, _ := a.Get(id).(*Preload)
	return p
}

// Frame returns the frame with the given handle, or nil.
func (a *Arena) Frame(id ID) *Frame {
	f, _ := a.Get(id).(*Frame)
	return f
}

// Len returns the number of nodes.
func (a *Arena) Len() int {
	return len(a.nodes)
}

// All returns the nodes in creation order. The slice is shared with the
// arena and must not be modified.
func (a *Arena) All() []Node {
	return a.nodes
}

// OfKind returns the handles of all nodes of kind k in creation order.
func (a *Arena) OfKind(k Kind) []ID {
	var ids []ID

	for _, n := range a.nodes {
		if m := n.Meta(); m.Kind == k {
			ids = append(ids, m.ID)
		}
	}

	return ids
}

// Reset drops every node. Outstanding handles become invalid.
func (a *Arena) Reset() {
	a.nodes = nil
}
