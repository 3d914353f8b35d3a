// Package preload links speculative preload records to the markup tags that
// later issue the same request.
package preload

import (
	"github.com/kusoof/wprof/node"
)

// Matcher keeps the unmatched preloads of one page in insertion order.
type Matcher struct {
	arena     *node.Arena
	unmatched []node.ID
}

// NewMatcher creates a matcher over the preloads stored in arena.
func NewMatcher(arena *node.Arena) *Matcher {
	return &Matcher{arena: arena}
}

// Add makes a preload available for matching.
func (m *Matcher) Add(preloadID node.ID) {
	p := m.arena.Preload(preloadID)
	if p == nil {
		panic("preload matcher: handle is not a preload")
	}

	if p.MatchedTag() != node.None {
		return
	}

	m.unmatched = append(m.unmatched, preloadID)
}

// Match tries to match the tag against the unmatched preloads in insertion
// order. The first preload of the same element in the same document that
// sits at the tag's position, or whose URL the tag references (or equals url,
// when not empty), wins. Only markup tags match.
func (m *Matcher) Match(tagID node.ID, url string) (node.ID, bool) {
	tag := m.arena.Tag(tagID)
	if tag == nil {
		return node.None, false
	}

	for i, id := range m.unmatched {
		p := m.arena.Preload(id)
		if p.MatchesExactly(tag) || p.MatchesByURL(tag) ||
			(url != "" && url == p.URL &&
				p.DocumentURL == tag.DocumentURL && p.TagName == tag.Name) {
			return m.take(i, tagID), true
		}
	}

	return node.None, false
}

func (m *Matcher) take(i int, tagID node.ID) node.ID {
	id := m.unmatched[i]
	m.arena.Preload(id).SetMatchedTag(tagID)
	m.unmatched = append(m.unmatched[:i], m.unmatched[i+1:]...)

	return id
}

// Unmatched returns the preloads still waiting for a tag, in insertion order.
func (m *Matcher) Unmatched() []node.ID {
	out := make([]node.ID, len(m.unmatched))
	copy(out, m.unmatched)

	return out
}

// Len returns the number of unmatched preloads.
func (m *Matcher) Len() int {
	return len(m.unmatched)
}
