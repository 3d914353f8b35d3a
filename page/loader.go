package page

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kusoof/wprof/node"
	"github.com/kusoof/wprof/resource"
)

// PreloadInfo is a resource reference found by the speculative scanner.
type PreloadInfo struct {
	URL         string        `json:"url"`
	DocumentURL string        `json:"document_url"`
	TagName     string        `json:"tag_name"`
	Position    node.Position `json:"position"`
}

// BeginRequest records a fetch being started. The running computation is its
// cause; failing that, the initiator named by the loader; failing that, the
// current tag.
func (p *Page) BeginRequest(req resource.Request) {
	if !p.live() {
		return
	}

	if p.resources.HasRequest(req.ResourceID) {
		p.resources.BeginRequest(req, node.None, p.now())
		return
	}

	parent, ok := p.stack.Top()
	if !ok {
		parent = p.currentTag
		if req.Initiator != node.None && p.arena.Get(req.Initiator) != nil {
			parent = req.Initiator
		}
	}

	if frame := p.resources.BeginRequest(req, parent, p.now()); frame != node.None {
		p.fire(HookPosNodeStart, frame)
		p.markGap(frame)

		if req.Frame.ParentID == 0 && p.url == "" {
			p.url = req.URL
		}
	}

	p.attachURL(parent, req.URL)
}

// CompleteHeaders creates the Resource of a fetch once its response headers
// are in.
func (p *Page) CompleteHeaders(resourceID uint64, resp resource.Response) node.ID {
	if !p.live() {
		return node.None
	}

	id, err := p.resources.CompleteHeaders(resourceID, resp, node.None, p.url, p.now())
	p.fire(HookPosNodeStart, id)

	if errors.Is(err, resource.ErrNoRequestStart) {
		p.anomaly(AnomalyNoRequestStart, id, err)
	}

	p.markGap(id)
	p.checkCompletion()

	return id
}

// AppendChunk records a piece of a response body.
func (p *Page) AppendChunk(resourceID uint64, length int64) {
	if !p.live() {
		return
	}

	if err := p.resources.AppendChunk(resourceID, length, p.now()); err != nil {
		p.anomaly(AnomalyOrphanedSignal, node.None, err)
	}
}

// RecordCacheHit records a resource served from the memory cache.
func (p *Page) RecordCacheHit(hit resource.CacheHit) node.ID {
	if !p.live() {
		return node.None
	}

	if hit.DocumentURL == "" {
		hit.DocumentURL = p.url
	}

	parent, ok := p.stack.Top()
	if !ok {
		parent = p.currentTag
	}

	id, err := p.resources.RecordCacheHit(hit, parent, p.now())
	p.fire(HookPosNodeStart, id)

	if err != nil {
		p.anomaly(AnomalyOrphanedSignal, id, err)
	}

	if m := p.arena.Meta(id); m.Parent != node.None && !p.arena.Meta(m.Parent).HasURL(hit.URL) {
		p.attachURL(m.Parent, hit.URL)
	}

	p.markGap(id)
	p.checkCompletion()

	return id
}

// Redirect moves a fetch to a new URL. The cause of the fetch now references
// the new URL instead of the old one.
func (p *Page) Redirect(resourceID uint64, oldURL, newURL string) {
	if !p.live() {
		return
	}

	parent, err := p.resources.Redirect(resourceID, oldURL, newURL)
	if err != nil {
		p.anomaly(AnomalyOrphanedSignal, node.None, err)
		return
	}

	m := p.arena.Meta(parent)
	if m == nil {
		return
	}

	m.RemoveURL(oldURL)
	p.attachURL(parent, newURL)
}

// FailRequest records a fetch that was cancelled or failed. It no longer
// holds up completion.
func (p *Page) FailRequest(resourceID uint64) {
	if !p.live() {
		return
	}

	if !p.resources.Fail(resourceID) {
		p.anomaly(AnomalyOrphanedSignal, node.None,
			fmt.Errorf("%w: failure of resource %d", resource.ErrOrphanedSignal, resourceID))
		return
	}

	p.checkCompletion()
}

// FrameLoaded records a frame finishing its load.
func (p *Page) FrameLoaded(frameID uint64) {
	if !p.live() {
		return
	}

	if err := p.resources.FrameLoaded(frameID, p.now()); err != nil {
		p.anomaly(AnomalyOrphanedSignal, node.None, err)
	}
}

// FrameSourceChanged records script pointing a frame at a new URL.
func (p *Page) FrameSourceChanged(frameID uint64, url, documentURL string) node.ID {
	if !p.live() {
		return node.None
	}

	fc := &node.FrameChange{
		NodeMeta: node.NodeMeta{
			Kind:        node.KindFrameChange,
			DocumentURL: documentURL,
			StartTime:   p.now(),
			Parent:      p.attribute(false),
		},
		FrameID: frameID,
		URL:     url,
	}

	id := p.add(fc)
	p.markGap(id)

	return id
}

// RecordPreload records a speculative preload. It is matched to the tag that
// later requests the same resource.
func (p *Page) RecordPreload(info PreloadInfo) node.ID {
	if !p.live() {
		return node.None
	}

	pre := &node.Preload{
		NodeMeta: node.NodeMeta{
			Kind:        node.KindPreload,
			DocumentURL: info.DocumentURL,
			StartTime:   p.now(),
			Parent:      p.attribute(false),
		},
		URL:          info.URL,
		TagName:      info.TagName,
		Position:     info.Position,
		ExecutingTag: p.currentTag,
	}

	id := p.add(pre)
	p.markGap(id)
	p.preloads.Add(id)

	p.logger.Debug("preload",
		zap.String("url", info.URL),
		zap.String("tag", info.TagName))

	return id
}
