package page

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kusoof/wprof/node"
)

// ParseContext identifies the document or fragment a tag is parsed into.
type ParseContext struct {
	ID       uint64 `json:"id"`
	Fragment bool   `json:"fragment"`
}

// TagToken is a tag boundary reported by the markup parser.
type TagToken struct {
	Name        string        `json:"name"`
	Position    node.Position `json:"position"`
	DocumentURL string        `json:"document_url"`
	Context     ParseContext  `json:"context"`
	IsStartTag  bool          `json:"is_start_tag"`
	FrameID     uint64        `json:"frame_id"`
}

// CreateTag records a markup tag and returns its handle.
func (p *Page) CreateTag(tok TagToken) node.ID {
	if !p.live() {
		return node.None
	}

	parent := p.attribute(tok.Context.Fragment)
	t := &node.Tag{
		NodeMeta: node.NodeMeta{
			Kind:        node.KindTag,
			DocumentURL: tok.DocumentURL,
			StartTime:   p.now(),
			Parent:      parent,
		},
		Position:   tok.Position,
		Name:       tok.Name,
		ByteOffset: p.context(tok.Context).chars,
		IsStartTag: tok.IsStartTag,
		IsFragment: tok.Context.Fragment,
		FrameID:    tok.FrameID,
	}
	t.End(t.StartTime)

	id := p.add(t)
	p.markGap(id)
	p.currentTag = id

	if tok.IsStartTag && node.IsBlockingElement(tok.Name) {
		p.hol[id] = node.HOLNormal
	}

	p.matchPreload(id, "")

	return id
}

// CreateGeneratedTag records an element created by script or other
// non-parser code.
func (p *Page) CreateGeneratedTag(name, documentURL string, frameID uint64) node.ID {
	if !p.live() {
		return node.None
	}

	t := &node.GeneratedTag{
		NodeMeta: node.NodeMeta{
			Kind:        node.KindGeneratedTag,
			DocumentURL: documentURL,
			StartTime:   p.now(),
			Parent:      p.attribute(true),
		},
		Name:       name,
		FrameID:    frameID,
		IsFragment: true,
	}
	t.End(t.StartTime)

	id := p.add(t)
	p.markGap(id)
	p.currentTag = id

	if node.IsBlockingElement(name) {
		p.hol[id] = node.HOLNormal
	}

	return id
}

// ClassifyTag sets the head-of-line class of a blocking tag.
func (p *Page) ClassifyTag(tag node.ID, class node.HOLClass) {
	if !p.live() {
		return
	}

	if _, ok := p.hol[tag]; !ok {
		p.anomaly(AnomalyOrphanedSignal, tag,
			fmt.Errorf("classify %s for a tag that is not blocking", class))
		return
	}

	p.hol[tag] = class
}

// HOLClass returns the head-of-line class of a tag, if it has one.
func (p *Page) HOLClass(tag node.ID) (node.HOLClass, bool) {
	c, ok := p.hol[tag]
	return c, ok
}

// AddCharsConsumed counts characters consumed by the parser. The position
// of the document or fragment only advances for a row not behind the last one
// seen; the page total always grows.
func (p *Page) AddCharsConsumed(n int64, ctx ParseContext, row int) {
	if !p.live() || n <= 0 {
		return
	}

	p.charsConsumed += n

	pc := p.context(ctx)
	if row < pc.lastRow {
		return
	}

	pc.lastRow = row
	pc.chars += n
}

func (p *Page) context(ctx ParseContext) *parseContext {
	pc, ok := p.contexts[ctx]
	if !ok {
		pc = &parseContext{}
		p.contexts[ctx] = pc
	}

	return pc
}

// AddDocument reports a document being created. The first main frame
// document names the page.
func (p *Page) AddDocument(url string, mainFrame bool) {
	if !p.live() {
		return
	}

	if mainFrame && p.url == "" {
		p.url = url
		p.logger.Debug("page url", zap.String("url", url))
	}
}

// URL returns the page URL, once known.
func (p *Page) URL() string {
	return p.url
}
