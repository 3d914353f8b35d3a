package page

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/kusoof/wprof/hooking"
	"github.com/kusoof/wprof/node"
	"github.com/kusoof/wprof/resource"
	"github.com/kusoof/wprof/timing"
	"github.com/kusoof/wprof/trace"
)

const (
	docURL   = "http://example.com/index.html"
	imageURL = "http://example.com/a.png"
)

type memWriter struct {
	out *[]trace.Record
}

func (w memWriter) Write(r trace.Record) error {
	*w.out = append(*w.out, r)
	return nil
}

func (w memWriter) Close() error {
	return nil
}

func rebuildOne(records []trace.Record) *trace.Graph {
	graphs, err := trace.Rebuild(records)
	Expect(err).NotTo(HaveOccurred())
	Expect(graphs).To(HaveLen(1))

	return graphs[0]
}

func docRequest(id uint64, url string) resource.Request {
	return resource.Request{
		ResourceID:  id,
		URL:         url,
		Method:      "GET",
		DocumentURL: docURL,
		Frame:       resource.FrameInfo{ID: 1},
	}
}

var _ = Describe("Page", func() {
	var (
		clock    *timing.ManualClock
		records  []trace.Record
		hookCtxs []hooking.HookCtx
		registry *Registry
		p        *Page
	)

	tick := func() {
		clock.Advance(1)
	}

	anomalies := func(kind AnomalyKind) int {
		n := 0
		for _, ctx := range hookCtxs {
			if ctx.Pos == HookPosAnomaly && ctx.Item.(Anomaly).Kind == kind {
				n++
			}
		}

		return n
	}

	BeforeEach(func() {
		clock = timing.NewManualClock(0)
		records = nil
		hookCtxs = nil

		registry = MakeBuilder().
			WithClock(clock).
			WithWriterFactory(func(uid, url string) (trace.Writer, error) {
				return memWriter{out: &records}, nil
			}).
			WithStrictStack().
			WithHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
				hookCtxs = append(hookCtxs, ctx)
			})).
			Build()
		p = registry.Page(1)
	})

	Context("attribution", func() {
		It("should attribute to the top of the stack", func() {
			s := p.BeginComputation(node.ScriptExec, docURL)
			tick()
			t := p.CreateTag(TagToken{Name: "div", DocumentURL: docURL, IsStartTag: true})

			Expect(p.Arena().Meta(t).Parent).To(Equal(s))
		})

		It("should never put render computations on the stack", func() {
			s := p.BeginComputation(node.ScriptExec, docURL)
			tick()
			l := p.BeginComputation(node.Layout, docURL)
			tick()
			t := p.CreateTag(TagToken{Name: "div", DocumentURL: docURL, IsStartTag: true})

			Expect(p.Arena().Meta(t).Parent).To(Equal(s))
			Expect(p.Arena().Meta(l).Parent).To(Equal(s))
			Expect(p.Status().StackDepth).To(Equal(1))

			p.EndComputation(l)
			Expect(p.Status().StackDepth).To(Equal(1))
		})

		It("should keep style recalculation on the stack", func() {
			r := p.BeginComputation(node.StyleRecalc, docURL)
			t := p.CreateTag(TagToken{Name: "div", DocumentURL: docURL})

			Expect(p.Arena().Meta(t).Parent).To(Equal(r))
		})

		It("should fall back to the current tag", func() {
			first := p.CreateTag(TagToken{Name: "html", DocumentURL: docURL, IsStartTag: true})
			tick()
			second := p.CreateTag(TagToken{Name: "body", DocumentURL: docURL, IsStartTag: true})

			Expect(p.Arena().Meta(second).Parent).To(Equal(first))
		})

		It("should flag a tag with no possible parent", func() {
			t := p.CreateTag(TagToken{Name: "html", DocumentURL: docURL, IsStartTag: true})

			Expect(p.Arena().Meta(t).Parent).To(Equal(node.None))
			Expect(p.Arena().Meta(t).AttributionGap).To(BeTrue())
			Expect(anomalies(AnomalyAttributionGap)).To(Equal(1))
		})

		It("should attribute fragment tags to the last blocking computation", func() {
			p.CreateTag(TagToken{Name: "html", DocumentURL: docURL, IsStartTag: true})
			s := p.BeginComputation(node.ScriptExec, docURL)
			p.EndComputation(s)
			tick()

			frag := p.CreateTag(TagToken{
				Name:        "span",
				DocumentURL: docURL,
				Context:     ParseContext{ID: 9, Fragment: true},
				IsStartTag:  true,
			})

			Expect(p.Arena().Meta(frag).Parent).To(Equal(s))
			Expect(p.Arena().Tag(frag).IsFragment).To(BeTrue())
		})

		It("should attribute message port events to the poster", func() {
			s := p.BeginComputation(node.ScriptExec, docURL)
			p.PostMessage()
			p.EndComputation(s)
			tick()

			other := p.BeginComputation(node.ScriptExec, docURL)
			e := p.BeginEvent(EventInfo{TargetKind: node.TargetMessagePort, Name: "message"})

			Expect(p.Arena().Meta(e).Parent).To(Equal(s))
			Expect(p.Arena().Meta(e).Parent).NotTo(Equal(other))
		})
	})

	Context("parse positions", func() {
		It("should track bytes per parse context", func() {
			doc := ParseContext{ID: 1}

			p.AddCharsConsumed(10, doc, 2)
			p.AddCharsConsumed(5, doc, 1)
			t := p.CreateTag(TagToken{Name: "p", DocumentURL: docURL, Context: doc})
			other := p.CreateTag(TagToken{Name: "p", DocumentURL: docURL, Context: ParseContext{ID: 2}})

			Expect(p.Arena().Tag(t).ByteOffset).To(Equal(int64(10)))
			Expect(p.Arena().Tag(other).ByteOffset).To(Equal(int64(0)))
			Expect(p.Status().CharsConsumed).To(Equal(int64(15)))
		})

		It("should keep documents and fragments with the same id apart", func() {
			doc := ParseContext{ID: 1}
			frag := ParseContext{ID: 1, Fragment: true}

			p.AddCharsConsumed(10, doc, 1)
			p.AddCharsConsumed(3, frag, 1)
			t := p.CreateTag(TagToken{Name: "p", DocumentURL: docURL, Context: doc})
			f := p.CreateTag(TagToken{Name: "b", DocumentURL: docURL, Context: frag})

			Expect(p.Arena().Tag(t).ByteOffset).To(Equal(int64(10)))
			Expect(p.Arena().Tag(f).ByteOffset).To(Equal(int64(3)))
			Expect(p.Status().CharsConsumed).To(Equal(int64(13)))
		})
	})

	Context("head of line", func() {
		It("should classify blocking start tags", func() {
			s := p.CreateTag(TagToken{Name: "script", DocumentURL: docURL, IsStartTag: true})
			end := p.CreateTag(TagToken{Name: "script", DocumentURL: docURL})
			img := p.CreateTag(TagToken{Name: "img", DocumentURL: docURL, IsStartTag: true})

			c, ok := p.HOLClass(s)
			Expect(ok).To(BeTrue())
			Expect(c).To(Equal(node.HOLNormal))

			_, ok = p.HOLClass(end)
			Expect(ok).To(BeFalse())

			p.ClassifyTag(s, node.HOLAsync)
			c, _ = p.HOLClass(s)
			Expect(c).To(Equal(node.HOLAsync))

			p.ClassifyTag(img, node.HOLDefer)
			Expect(anomalies(AnomalyOrphanedSignal)).To(Equal(1))
		})
	})

	Context("preloads", func() {
		It("should match a preload when the tag is created", func() {
			pre := p.RecordPreload(PreloadInfo{
				URL:         "http://example.com/a.js",
				DocumentURL: docURL,
				TagName:     "script",
				Position:    node.Position{Line: 4, Column: 2},
			})
			t := p.CreateTag(TagToken{
				Name:        "script",
				DocumentURL: docURL,
				Position:    node.Position{Line: 4, Column: 2},
				IsStartTag:  true,
			})

			Expect(p.Arena().Preload(pre).MatchedTag()).To(Equal(t))
		})

		It("should match a preload when the tag requests its URL", func() {
			pre := p.RecordPreload(PreloadInfo{
				URL:         "http://example.com/a.css",
				DocumentURL: docURL,
				TagName:     "link",
				Position:    node.Position{Line: 1, Column: 1},
			})
			t := p.CreateTag(TagToken{
				Name:        "link",
				DocumentURL: docURL,
				Position:    node.Position{Line: 6, Column: 0},
				IsStartTag:  true,
			})
			Expect(p.Arena().Preload(pre).MatchedTag()).To(Equal(node.None))

			p.BeginRequest(docRequest(5, "http://example.com/a.css"))

			Expect(p.Arena().Preload(pre).MatchedTag()).To(Equal(t))
		})
	})

	Context("resources", func() {
		It("should move the parent's URL on redirect", func() {
			s := p.BeginComputation(node.ScriptExec, docURL)
			p.BeginRequest(docRequest(2, "http://example.com/A"))

			p.Redirect(2, "http://example.com/A", "http://example.com/B")

			urls := p.Arena().Meta(s).URLs
			Expect(urls).NotTo(ContainElement("http://example.com/A"))
			Expect(urls).To(ContainElement("http://example.com/B"))
		})

		It("should absorb orphaned signals", func() {
			p.AppendChunk(42, 10)
			p.Redirect(42, "a", "b")
			p.FailRequest(42)
			p.RemoveTimer(42)
			p.TimerEnd(42)
			Expect(p.TimerBegin(42, docURL)).To(Equal(node.None))

			Expect(anomalies(AnomalyOrphanedSignal)).To(Equal(6))
		})

		It("should create resources without a request start", func() {
			id := p.CompleteHeaders(3, resource.Response{URL: imageURL})

			r := p.Arena().Resource(id)
			Expect(r.StartTime).To(Equal(node.UnknownTime))
			Expect(r.AttributionGap).To(BeTrue())
			Expect(anomalies(AnomalyNoRequestStart)).To(Equal(1))
		})

		It("should sum chunks", func() {
			p.BeginRequest(docRequest(1, docURL))
			id := p.CompleteHeaders(1, resource.Response{})

			p.AppendChunk(1, 10)
			tick()
			p.AppendChunk(1, 20)

			Expect(p.Arena().Resource(id).BytesReceived).To(Equal(int64(30)))
		})

		It("should name the page after the main frame", func() {
			p.BeginRequest(docRequest(1, docURL))

			Expect(p.URL()).To(Equal(docURL))
		})
	})

	Context("timers", func() {
		It("should attribute the firing to the installer", func() {
			s := p.BeginComputation(node.ScriptExec, docURL)
			p.InstallTimer(7, 250, true)
			p.EndComputation(s)
			tick()

			t := p.TimerBegin(7, docURL)

			c := p.Arena().Computation(t)
			Expect(c.Parent).To(Equal(s))
			Expect(c.ComputationKind).To(Equal(node.Timer))
			Expect(c.Info).To(Equal("250"))

			p.TimerEnd(7)
			Expect(p.Status().PendingTimers).To(Equal(0))
		})

		It("should keep repeating timers pending", func() {
			p.InstallTimer(7, 10, false)

			p.TimerBegin(7, docURL)
			p.TimerEnd(7)

			Expect(p.Status().PendingTimers).To(Equal(1))

			p.RemoveTimer(7)
			Expect(p.Status().PendingTimers).To(Equal(0))
		})
	})

	Context("stack misuse", func() {
		It("should panic in strict mode", func() {
			a := p.BeginComputation(node.ScriptExec, docURL)
			p.BeginComputation(node.ScriptExec, docURL)

			Expect(func() { p.EndComputation(a) }).To(Panic())
		})

		It("should log and continue in lenient mode", func() {
			lenient := MakeBuilder().
				WithClock(clock).
				WithHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
					hookCtxs = append(hookCtxs, ctx)
				})).
				Build().
				Page(2)

			a := lenient.BeginComputation(node.ScriptExec, docURL)
			b := lenient.BeginComputation(node.ScriptExec, docURL)
			lenient.EndComputation(a)
			lenient.EndComputation(a)

			Expect(anomalies(AnomalyStackMisuse)).To(Equal(2))

			top, _ := lenient.stack.Top()
			Expect(top).To(Equal(b))
		})
	})

	Context("completion", func() {
		It("should complete when the last counter reaches zero", func() {
			p.BeginRequest(docRequest(1, docURL))
			p.BeginRequest(docRequest(2, imageURL))
			p.InstallTimer(1, 0, true)
			p.WindowLoadFired()

			Expect(p.State()).To(Equal(StateWaitingForLastResource))

			p.CompleteHeaders(1, resource.Response{})
			Expect(p.State()).To(Equal(StateWaitingForLastResource))

			p.CompleteHeaders(2, resource.Response{})
			Expect(p.State()).To(Equal(StateWaitingForLastResource))

			p.TimerBegin(1, docURL)
			Expect(p.State()).To(Equal(StateWaitingForLastResource))

			p.TimerEnd(1)
			Expect(p.State()).To(Equal(StateComplete))
			Expect(records).NotTo(BeEmpty())
			Expect(registry.Len()).To(Equal(0))
		})

		It("should wait for DOM nesting to close", func() {
			p.DOMCounterIncrement()
			p.WindowLoadFired()
			Expect(p.State()).To(Equal(StateWaitingForLastResource))

			p.DOMCounterDecrement()
			Expect(p.State()).To(Equal(StateComplete))
		})

		It("should tolerate negative DOM nesting", func() {
			p.DOMCounterDecrement()
			p.WindowLoadFired()

			Expect(p.State()).To(Equal(StateComplete))
		})

		It("should not complete before the window load", func() {
			p.BeginRequest(docRequest(1, docURL))
			p.CompleteHeaders(1, resource.Response{})

			Expect(p.State()).To(Equal(StateBegin))
		})

		It("should let failed requests complete the page", func() {
			p.BeginRequest(docRequest(1, docURL))
			p.WindowLoadFired()

			p.FailRequest(1)

			Expect(p.State()).To(Equal(StateComplete))
		})

		It("should ignore signals after completion", func() {
			p.WindowLoadFired()
			n := len(records)

			Expect(p.CreateTag(TagToken{Name: "p"})).To(Equal(node.None))
			p.CheckCompletion()
			p.Discard()

			Expect(len(records)).To(Equal(n))
			Expect(p.State()).To(Equal(StateComplete))
		})

		It("should report serialization failures without failing", func() {
			r := MakeBuilder().
				WithClock(clock).
				WithWriterFactory(func(string, string) (trace.Writer, error) {
					return nil, errors.New("disk full")
				}).
				WithHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
					hookCtxs = append(hookCtxs, ctx)
				})).
				Build()

			q := r.Page(3)
			q.WindowLoadFired()

			Expect(q.State()).To(Equal(StateComplete))
			Expect(anomalies(AnomalySerializeFailure)).To(Equal(1))
		})
	})

	Context("discard", func() {
		It("should drop the page without writing it", func() {
			p.BeginRequest(docRequest(1, docURL))

			Expect(registry.Discard(1)).To(BeTrue())
			Expect(p.State()).To(Equal(StateDiscarded))
			Expect(records).To(BeEmpty())
			Expect(registry.Len()).To(Equal(0))

			var discarded bool
			for _, ctx := range hookCtxs {
				if ctx.Pos == HookPosPageDiscard {
					discarded = true
					Expect(ctx.Detail.(Status).Nodes).To(Equal(1))
				}
			}
			Expect(discarded).To(BeTrue())

			p.WindowLoadFired()
			Expect(p.State()).To(Equal(StateDiscarded))
		})
	})
})

var _ = Describe("Page serialization", func() {
	var (
		mockCtrl *gomock.Controller
		writer   *MockWriter
		opened   int
		p        *Page
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		writer = NewMockWriter(mockCtrl)
		opened = 0

		p = MakeBuilder().
			WithClock(timing.NewManualClock(0)).
			WithWriterFactory(func(string, string) (trace.Writer, error) {
				opened++
				return writer, nil
			}).
			Build().
			Page(1)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should serialize exactly once", func() {
		writer.EXPECT().Write(gomock.Any()).Return(nil).MinTimes(1)
		writer.EXPECT().Close().Return(nil).Times(1)

		p.BeginRequest(docRequest(1, docURL))
		p.WindowLoadFired()
		p.CompleteHeaders(1, resource.Response{})
		p.CheckCompletion()
		p.WindowLoadFired()
		p.DOMCounterDecrement()

		Expect(opened).To(Equal(1))
	})

	It("should close the writer when a write fails", func() {
		writer.EXPECT().Write(gomock.Any()).Return(errors.New("broken pipe"))
		writer.EXPECT().Close().Return(nil)

		p.WindowLoadFired()

		Expect(p.State()).To(Equal(StateComplete))
	})
})

var _ = Describe("End to end", func() {
	It("should attribute a script's image fetch to the script execution", func() {
		clock := timing.NewManualClock(0)

		var records []trace.Record

		r := MakeBuilder().
			WithClock(clock).
			WithStrictStack().
			WithWriterFactory(func(string, string) (trace.Writer, error) {
				return memWriter{out: &records}, nil
			}).
			Build()
		p := r.Page(1)

		step := func() { clock.Advance(0.5) }

		p.BeginRequest(docRequest(1, docURL))
		step()
		p.CompleteHeaders(1, resource.Response{MimeType: "text/html", Status: 200})
		p.AddDocument(docURL, true)
		p.DOMCounterIncrement()
		step()
		p.AppendChunk(1, 512)
		step()

		script := p.CreateTag(TagToken{
			Name:        "script",
			DocumentURL: docURL,
			Position:    node.Position{Line: 2, Column: 0},
			IsStartTag:  true,
		})
		step()
		exec := p.BeginComputation(node.ScriptExec, docURL)
		step()
		p.BeginRequest(docRequest(2, imageURL))
		step()
		p.EndComputation(exec)
		step()
		p.CompleteHeaders(2, resource.Response{MimeType: "image/png", Status: 200})
		step()
		p.AppendChunk(2, 1024)
		step()
		p.DOMCounterDecrement()
		load := p.BeginEvent(EventInfo{TargetKind: node.TargetWindow, Name: "load", DocumentURL: docURL})
		step()
		p.EndComputation(load)
		p.WindowLoadFired()

		Expect(p.State()).To(Equal(StateComplete))

		g := rebuildOne(records)
		Expect(g.Info.URL).To(Equal(docURL))
		Expect(g.HOL).To(HaveKeyWithValue(script, node.HOLNormal))

		var image *node.Resource
		for _, id := range g.Arena.OfKind(node.KindResource) {
			if res := g.Arena.Resource(id); res.URL == imageURL {
				image = res
			}
		}
		Expect(image).NotTo(BeNil())
		Expect(image.Parent).To(Equal(exec))
		Expect(g.Arena.Computation(image.Parent).ComputationKind).To(Equal(node.ScriptExec))
		Expect(g.Arena.Meta(exec).Parent).To(Equal(script))
		Expect(image.BytesReceived).To(Equal(int64(1024)))

		for _, n := range g.Arena.All() {
			m := n.Meta()
			if m.Parent == node.None {
				continue
			}

			Expect(g.Arena.Meta(m.Parent).StartTime).To(BeNumerically("<=", m.StartTime),
				"node %d starts before its parent %d", m.ID, m.Parent)
		}
	})
})
