// Package trace turns a finished causality graph into trace records and back.
package trace

import (
	"fmt"
	"sort"

	"github.com/kusoof/wprof/node"
)

// Record kinds that are not node kinds.
const (
	KindPage = "Page"
	KindHOL  = "HOL"
)

// Record is one line of a trace. The common fields identify the node and its
// parent; exactly one of the detail pointers is set, matching Kind. Event
// records carry both Computation and Event details.
type Record struct {
	Kind        string   `json:"kind"`
	Page        string   `json:"page"`
	ID          node.ID  `json:"id,omitempty"`
	Parent      node.ID  `json:"parent,omitempty"`
	Gap         bool     `json:"attribution_gap,omitempty"`
	DocumentURL string   `json:"document_url,omitempty"`
	StartTime   float64  `json:"start_time"`
	EndTime     *float64 `json:"end_time,omitempty"`
	URLs        []string `json:"urls,omitempty"`

	PageInfo    *PageInfo          `json:"page_info,omitempty"`
	Tag         *TagDetail         `json:"tag,omitempty"`
	Computation *ComputationDetail `json:"computation,omitempty"`
	Event       *EventDetail       `json:"event,omitempty"`
	Resource    *ResourceDetail    `json:"resource,omitempty"`
	Cached      *CachedDetail      `json:"cached,omitempty"`
	Preload     *PreloadDetail     `json:"preload,omitempty"`
	Frame       *FrameDetail       `json:"frame,omitempty"`
	FrameChange *FrameChangeDetail `json:"frame_change,omitempty"`
	HOL         *HOLDetail         `json:"hol,omitempty"`
}

// PageInfo describes the page a trace belongs to.
type PageInfo struct {
	Handle        uint64 `json:"handle"`
	URL           string `json:"url"`
	Nodes         int    `json:"nodes"`
	CharsConsumed int64  `json:"chars_consumed"`
	Unmatched     int    `json:"unmatched_preloads"`
}

// TagDetail describes a Tag or a GeneratedTag.
type TagDetail struct {
	Name       string         `json:"name"`
	Position   *node.Position `json:"position,omitempty"`
	ByteOffset int64          `json:"byte_offset,omitempty"`
	IsStartTag bool           `json:"is_start_tag,omitempty"`
	IsFragment bool           `json:"is_fragment,omitempty"`
	FrameID    uint64         `json:"frame_id,omitempty"`
}

// ComputationDetail describes a Computation.
type ComputationDetail struct {
	Kind     node.ComputationKind `json:"kind"`
	KindName string               `json:"kind_name"`
	Info     string               `json:"info,omitempty"`
}

// EventDetail describes the event part of an Event.
type EventDetail struct {
	TargetKind node.EventTargetKind `json:"target_kind"`
	Name       string               `json:"name"`
	Target     node.ID              `json:"target,omitempty"`
}

// ResourceDetail describes a Resource.
type ResourceDetail struct {
	ResourceID       uint64           `json:"resource_id"`
	URL              string           `json:"url"`
	MimeType         string           `json:"mime_type,omitempty"`
	Method           string           `json:"method,omitempty"`
	Status           int              `json:"status,omitempty"`
	ExpectedLength   int64            `json:"expected_length,omitempty"`
	ConnectionID     uint64           `json:"connection_id,omitempty"`
	ConnectionReused bool             `json:"connection_reused,omitempty"`
	WasCached        bool             `json:"was_cached,omitempty"`
	FrameID          uint64           `json:"frame_id,omitempty"`
	Timing           *node.LoadTiming `json:"timing,omitempty"`
	BytesReceived    int64            `json:"bytes_received"`
	Chunks           []node.Chunk     `json:"chunks,omitempty"`
}

// CachedDetail describes a CachedResource.
type CachedDetail struct {
	ResourceID uint64 `json:"resource_id"`
	URL        string `json:"url"`
	MimeType   string `json:"mime_type,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Method     string `json:"method,omitempty"`
	FrameID    uint64 `json:"frame_id,omitempty"`
}

// PreloadDetail describes a Preload.
type PreloadDetail struct {
	URL          string        `json:"url"`
	TagName      string        `json:"tag_name"`
	Position     node.Position `json:"position"`
	ExecutingTag node.ID       `json:"executing_tag,omitempty"`
	MatchedTag   node.ID       `json:"matched_tag,omitempty"`
}

// FrameDetail describes a Frame.
type FrameDetail struct {
	FrameID              uint64   `json:"frame_id"`
	ParentFrameID        uint64   `json:"parent_frame_id,omitempty"`
	InitiatingResourceID uint64   `json:"initiating_resource_id"`
	LoadTime             *float64 `json:"load_time,omitempty"`
}

// FrameChangeDetail describes a FrameChange.
type FrameChangeDetail struct {
	FrameID uint64 `json:"frame_id"`
	URL     string `json:"url"`
}

// HOLDetail gives the head-of-line class of a tag.
type HOLDetail struct {
	Tag       node.ID       `json:"tag"`
	Class     node.HOLClass `json:"class"`
	ClassName string        `json:"class_name"`
}

// Graph is the complete causality graph of one page.
type Graph struct {
	UID       string
	Info      PageInfo
	StartTime float64
	EndTime   float64
	Arena     *node.Arena
	HOL       map[node.ID]node.HOLClass
}

var emitOrder = [][]node.Kind{
	{node.KindFrame},
	{node.KindResource},
	{node.KindCachedResource},
	{node.KindTag, node.KindGeneratedTag},
	nil, // HOL
	{node.KindComputation, node.KindEvent},
	{node.KindPreload},
	{node.KindFrameChange},
}

// Records returns the records of a graph: the page header first, then the
// nodes grouped by kind, each group in creation order.
func Records(g *Graph) []Record {
	end := g.EndTime
	out := []Record{{
		Kind:      KindPage,
		Page:      g.UID,
		StartTime: g.StartTime,
		EndTime:   &end,
		PageInfo:  &g.Info,
	}}

	for _, kinds := range emitOrder {
		if kinds == nil {
			out = append(out, holRecords(g)...)
			continue
		}

		for _, n := range g.Arena.All() {
			k := n.Meta().Kind
			for _, want := range kinds {
				if k == want {
					out = append(out, nodeRecord(g.UID, n))
					break
				}
			}
		}
	}

	return out
}

func holRecords(g *Graph) []Record {
	tags := make([]node.ID, 0, len(g.HOL))
	for id := range g.HOL {
		tags = append(tags, id)
	}

	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	out := make([]Record, 0, len(tags))
	for _, id := range tags {
		c := g.HOL[id]
		out = append(out, Record{
			Kind: KindHOL,
			Page: g.UID,
			HOL:  &HOLDetail{Tag: id, Class: c, ClassName: c.String()},
		})
	}

	return out
}

func nodeRecord(uid string, n node.Node) Record {
	m := n.Meta()
	r := Record{
		Kind:        m.Kind.String(),
		Page:        uid,
		ID:          m.ID,
		Parent:      m.Parent,
		Gap:         m.AttributionGap,
		DocumentURL: m.DocumentURL,
		StartTime:   m.StartTime,
	}

	if t, ok := m.EndTime(); ok {
		r.EndTime = &t
	}

	if len(m.URLs) > 0 {
		r.URLs = append([]string(nil), m.URLs...)
	}

	switch v := n.(type) {
	case *node.Tag:
		pos := v.Position
		r.Tag = &TagDetail{
			Name:       v.Name,
			Position:   &pos,
			ByteOffset: v.ByteOffset,
			IsStartTag: v.IsStartTag,
			IsFragment: v.IsFragment,
			FrameID:    v.FrameID,
		}
	case *node.GeneratedTag:
		r.Tag = &TagDetail{
			Name:       v.Name,
			IsFragment: v.IsFragment,
			FrameID:    v.FrameID,
		}
	case *node.Computation:
		r.Computation = computationDetail(v)
	case *node.Event:
		r.Computation = computationDetail(&v.Computation)
		r.Event = &EventDetail{TargetKind: v.TargetKind, Name: v.Name, Target: v.Target}
	case *node.Resource:
		r.Resource = &ResourceDetail{
			ResourceID:       v.ResourceID,
			URL:              v.URL,
			MimeType:         v.MimeType,
			Method:           v.HTTPMethod,
			Status:           v.HTTPStatus,
			ExpectedLength:   v.ExpectedLength,
			ConnectionID:     v.ConnectionID,
			ConnectionReused: v.ConnectionReused,
			WasCached:        v.WasCached,
			FrameID:          v.FrameID,
			Timing:           v.Timing,
			BytesReceived:    v.BytesReceived,
			Chunks:           append([]node.Chunk(nil), v.Chunks...),
		}
	case *node.CachedResource:
		r.Cached = &CachedDetail{
			ResourceID: v.ResourceID,
			URL:        v.URL,
			MimeType:   v.MimeType,
			Size:       v.Size,
			Method:     v.HTTPMethod,
			FrameID:    v.FrameID,
		}
	case *node.Preload:
		r.Preload = &PreloadDetail{
			URL:          v.URL,
			TagName:      v.TagName,
			Position:     v.Position,
			ExecutingTag: v.ExecutingTag,
			MatchedTag:   v.MatchedTag(),
		}
	case *node.Frame:
		r.Frame = &FrameDetail{
			FrameID:              v.FrameID,
			ParentFrameID:        v.ParentFrameID,
			InitiatingResourceID: v.InitiatingResourceID,
		}
		if t, ok := v.LoadTime(); ok {
			r.Frame.LoadTime = &t
		}
	case *node.FrameChange:
		r.FrameChange = &FrameChangeDetail{FrameID: v.FrameID, URL: v.URL}
	}

	return r
}

func computationDetail(c *node.Computation) *ComputationDetail {
	return &ComputationDetail{
		Kind:     c.ComputationKind,
		KindName: c.ComputationKind.String(),
		Info:     c.Info,
	}
}

// toNode rebuilds the node described by a node record. The returned node has
// no handle yet.
func toNode(r Record) (node.Node, error) {
	kind, err := node.ParseKind(r.Kind)
	if err != nil {
		return nil, err
	}

	meta := node.NodeMeta{
		Kind:           kind,
		DocumentURL:    r.DocumentURL,
		StartTime:      r.StartTime,
		Parent:         r.Parent,
		AttributionGap: r.Gap,
		URLs:           r.URLs,
	}
	if r.EndTime != nil {
		meta.End(*r.EndTime)
	}

	missing := fmt.Errorf("%s record %d has no detail", r.Kind, r.ID)

	switch kind {
	case node.KindTag:
		if r.Tag == nil {
			return nil, missing
		}

		t := &node.Tag{
			NodeMeta:   meta,
			Name:       r.Tag.Name,
			ByteOffset: r.Tag.ByteOffset,
			IsStartTag: r.Tag.IsStartTag,
			IsFragment: r.Tag.IsFragment,
			FrameID:    r.Tag.FrameID,
		}
		if r.Tag.Position != nil {
			t.Position = *r.Tag.Position
		}

		return t, nil
	case node.KindGeneratedTag:
		if r.Tag == nil {
			return nil, missing
		}

		return &node.GeneratedTag{
			NodeMeta:   meta,
			Name:       r.Tag.Name,
			IsFragment: r.Tag.IsFragment,
			FrameID:    r.Tag.FrameID,
		}, nil
	case node.KindComputation, node.KindEvent:
		if r.Computation == nil {
			return nil, missing
		}

		c := node.Computation{
			NodeMeta:        meta,
			ComputationKind: r.Computation.Kind,
			Info:            r.Computation.Info,
		}
		if kind == node.KindComputation {
			return &c, nil
		}

		if r.Event == nil {
			return nil, missing
		}

		return &node.Event{
			Computation: c,
			TargetKind:  r.Event.TargetKind,
			Name:        r.Event.Name,
			Target:      r.Event.Target,
		}, nil
	case node.KindResource:
		if r.Resource == nil {
			return nil, missing
		}

		d := r.Resource

		return &node.Resource{
			NodeMeta:         meta,
			ResourceID:       d.ResourceID,
			URL:              d.URL,
			MimeType:         d.MimeType,
			HTTPMethod:       d.Method,
			HTTPStatus:       d.Status,
			ExpectedLength:   d.ExpectedLength,
			ConnectionID:     d.ConnectionID,
			ConnectionReused: d.ConnectionReused,
			WasCached:        d.WasCached,
			FrameID:          d.FrameID,
			Timing:           d.Timing,
			BytesReceived:    d.BytesReceived,
			Chunks:           d.Chunks,
		}, nil
	case node.KindCachedResource:
		if r.Cached == nil {
			return nil, missing
		}

		return &node.CachedResource{
			NodeMeta:   meta,
			ResourceID: r.Cached.ResourceID,
			URL:        r.Cached.URL,
			MimeType:   r.Cached.MimeType,
			Size:       r.Cached.Size,
			HTTPMethod: r.Cached.Method,
			FrameID:    r.Cached.FrameID,
		}, nil
	case node.KindPreload:
		if r.Preload == nil {
			return nil, missing
		}

		p := &node.Preload{
			NodeMeta:     meta,
			URL:          r.Preload.URL,
			TagName:      r.Preload.TagName,
			Position:     r.Preload.Position,
			ExecutingTag: r.Preload.ExecutingTag,
		}
		p.SetMatchedTag(r.Preload.MatchedTag)

		return p, nil
	case node.KindFrame:
		if r.Frame == nil {
			return nil, missing
		}

		f := &node.Frame{
			NodeMeta:             meta,
			FrameID:              r.Frame.FrameID,
			ParentFrameID:        r.Frame.ParentFrameID,
			InitiatingResourceID: r.Frame.InitiatingResourceID,
		}
		if r.Frame.LoadTime != nil {
			f.SetLoadTime(*r.Frame.LoadTime)
		}

		return f, nil
	case node.KindFrameChange:
		if r.FrameChange == nil {
			return nil, missing
		}

		return &node.FrameChange{
			NodeMeta: meta,
			FrameID:  r.FrameChange.FrameID,
			URL:      r.FrameChange.URL,
		}, nil
	}

	return nil, fmt.Errorf("unsupported record kind %s", r.Kind)
}
