// Package node defines the entities of a page's causality graph.
//
// Every entity embeds a NodeMeta and lives in exactly one Arena. Relations
// between nodes (parent, matched tag, executing tag, event target) are arena
// handles, never pointers, so a node can be dropped independently of whoever
// refers to it.
package node

import "fmt"

// ID is the handle of a node inside its Arena. Handles are assigned densely
// from 1 in creation order.
type ID uint32

// None is the zero handle. It never refers to a node.
const None ID = 0

// Kind enumerates the node types of the graph.
type Kind uint8

// The node kinds.
const (
	KindTag Kind = iota + 1
	KindGeneratedTag
	KindComputation
	KindEvent
	KindResource
	KindCachedResource
	KindPreload
	KindFrame
	KindFrameChange
)

func (k Kind) String() string {
	switch k {
	case KindTag:
		return "Tag"
	case KindGeneratedTag:
		return "GeneratedTag"
	case KindComputation:
		return "Computation"
	case KindEvent:
		return "Event"
	case KindResource:
		return "Resource"
	case KindCachedResource:
		return "CachedResource"
	case KindPreload:
		return "Preload"
	case KindFrame:
		return "Frame"
	case KindFrameChange:
		return "FrameChange"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind converts the name produced by Kind.String back to a Kind.
func ParseKind(s string) (Kind, error) {
	for k := KindTag; k <= KindFrameChange; k++ {
		if k.String() == s {
			return k, nil
		}
	}

	return 0, fmt.Errorf("unknown node kind %q", s)
}

// A Node is anything that can be stored in an Arena.
type Node interface {
	Meta() *NodeMeta
}

// NodeMeta holds the fields shared by every node.
type NodeMeta struct {
	ID          ID
	Kind        Kind
	DocumentURL string
	StartTime   float64

	// Parent is the node that caused this one. It is a lookup relation only.
	Parent ID

	// AttributionGap marks a node for which no causal parent could be found.
	AttributionGap bool

	// URLs lists the URLs this node is known to have triggered, in order.
	URLs []string

	endTime float64
	ended   bool
}

// Meta returns the meta itself so that embedding types satisfy Node.
func (m *NodeMeta) Meta() *NodeMeta {
	return m
}

// End closes the node at time t. A node ends at most once; ending it again
// is refused and reported as false.
func (m *NodeMeta) End(t float64) bool {
	if m.ended {
		return false
	}

	m.endTime = t
	m.ended = true

	return true
}

// Ended tells whether End has been called.
func (m *NodeMeta) Ended() bool {
	return m.ended
}

// EndTime returns the end time and whether the node has ended.
func (m *NodeMeta) EndTime() (float64, bool) {
	return m.endTime, m.ended
}

// AppendURL records that the node triggered a request for url.
func (m *NodeMeta) AppendURL(url string) {
	m.URLs = append(m.URLs, url)
}

// RemoveURL removes the first occurrence of url. It reports whether url was
// present.
func (m *NodeMeta) RemoveURL(url string) bool {
	for i, u := range m.URLs {
		if u == url {
			m.URLs = append(m.URLs[:i], m.URLs[i+1:]...)
			return true
		}
	}

	return false
}

// HasURL tells whether the node references url.
func (m *NodeMeta) HasURL(url string) bool {
	for _, u := range m.URLs {
		if u == url {
			return true
		}
	}

	return false
}

// Position is a zero-based location in a markup document.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}
