package trace

import "github.com/kusoof/wprof/node"

const sampleDoc = "http://example.com/index.html"

// sampleGraph builds a small page: a document fetch, a script tag whose
// execution fetches an image, a frame and a preload.
func sampleGraph() *Graph {
	a := node.NewArena()

	frame := a.Add(&node.Frame{
		NodeMeta:             node.NodeMeta{Kind: node.KindFrame, DocumentURL: sampleDoc, StartTime: 0},
		FrameID:              1,
		InitiatingResourceID: 1,
	})
	a.Frame(frame).SetLoadTime(9)

	doc := a.Add(&node.Resource{
		NodeMeta:   node.NodeMeta{Kind: node.KindResource, DocumentURL: sampleDoc, StartTime: 0},
		ResourceID: 1,
		URL:        sampleDoc,
		MimeType:   "text/html",
		HTTPMethod: "GET",
		HTTPStatus: 200,
		FrameID:    1,
		Timing: &node.LoadTiming{
			RequestTime: 0.5,
			DNS:         &node.Span{Start: 0, End: 1},
		},
	})
	a.Resource(doc).AddChunk(1, 300)
	a.Resource(doc).AddChunk(2, 200)
	a.Meta(doc).End(2)

	tag := a.Add(&node.Tag{
		NodeMeta:   node.NodeMeta{Kind: node.KindTag, DocumentURL: sampleDoc, StartTime: 1, Parent: doc},
		Name:       "script",
		Position:   node.Position{Line: 3, Column: 4},
		ByteOffset: 120,
		IsStartTag: true,
		FrameID:    1,
	})
	a.Meta(tag).End(1)

	exec := a.Add(&node.Computation{
		NodeMeta:        node.NodeMeta{Kind: node.KindComputation, DocumentURL: sampleDoc, StartTime: 1.5, Parent: tag},
		ComputationKind: node.ScriptExec,
	})
	a.Meta(exec).AppendURL("http://example.com/a.png")
	a.Meta(exec).End(3)

	a.Add(&node.Resource{
		NodeMeta:   node.NodeMeta{Kind: node.KindResource, DocumentURL: sampleDoc, StartTime: 2, Parent: exec},
		ResourceID: 2,
		URL:        "http://example.com/a.png",
	})

	a.Add(&node.Event{
		Computation: node.Computation{
			NodeMeta:        node.NodeMeta{Kind: node.KindEvent, DocumentURL: sampleDoc, StartTime: 8, AttributionGap: true},
			ComputationKind: node.FireEvent,
		},
		TargetKind: node.TargetWindow,
		Name:       "load",
	})

	p := a.Add(&node.Preload{
		NodeMeta:     node.NodeMeta{Kind: node.KindPreload, DocumentURL: sampleDoc, StartTime: 0.5},
		URL:          "http://example.com/a.js",
		TagName:      "script",
		Position:     node.Position{Line: 3, Column: 4},
		ExecutingTag: node.None,
	})
	a.Preload(p).SetMatchedTag(tag)

	a.Add(&node.CachedResource{
		NodeMeta:   node.NodeMeta{Kind: node.KindCachedResource, DocumentURL: sampleDoc, StartTime: 4, Parent: exec},
		ResourceID: 3,
		URL:        "http://example.com/b.css",
		Size:       10,
	})

	a.Add(&node.FrameChange{
		NodeMeta: node.NodeMeta{Kind: node.KindFrameChange, DocumentURL: sampleDoc, StartTime: 5, Parent: exec},
		FrameID:  2,
		URL:      "http://example.com/frame.html",
	})

	a.Add(&node.GeneratedTag{
		NodeMeta:   node.NodeMeta{Kind: node.KindGeneratedTag, DocumentURL: sampleDoc, StartTime: 2.5, Parent: exec},
		Name:       "img",
		IsFragment: true,
	})

	return &Graph{
		UID:       "page-1",
		Info:      PageInfo{Handle: 7, URL: sampleDoc, Nodes: a.Len(), CharsConsumed: 500},
		StartTime: 0,
		EndTime:   10,
		Arena:     a,
		HOL:       map[node.ID]node.HOLClass{tag: node.HOLAsync},
	}
}

type memWriter struct {
	records []Record
	closed  bool
}

func (w *memWriter) Write(r Record) error {
	w.records = append(w.records, r)
	return nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}
