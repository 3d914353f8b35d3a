package replay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kusoof/wprof/node"
	"github.com/kusoof/wprof/page"
	"github.com/kusoof/wprof/timing"
	"github.com/kusoof/wprof/trace"
)

type sink struct {
	sync.Mutex
	records []trace.Record
	pages   []string
}

func (s *sink) factory(uid, pageURL string) (trace.Writer, error) {
	s.Lock()
	s.pages = append(s.pages, pageURL)
	s.Unlock()

	return &sinkWriter{s: s}, nil
}

type sinkWriter struct {
	s *sink
}

func (w *sinkWriter) Write(r trace.Record) error {
	w.s.Lock()
	defer w.s.Unlock()

	w.s.records = append(w.s.records, r)

	return nil
}

func (w *sinkWriter) Close() error {
	return nil
}

func (s *sink) find(kind string, match func(trace.Record) bool) (trace.Record, bool) {
	for _, r := range s.records {
		if r.Kind == kind && match(r) {
			return r, true
		}
	}

	return trace.Record{}, false
}

const pageLog = `
{"page":1,"op":"document","time":0,"url":"http://a.test/","main_frame":true}
{"page":1,"op":"request_begin","time":0.1,"resource_id":1,"url":"http://a.test/","method":"GET","frame_id":1}
{"page":1,"op":"headers","time":0.2,"resource_id":1,"ref":"doc","response":{"url":"http://a.test/","mime_type":"text/html","status":200}}
{"page":1,"op":"chunk","time":0.3,"resource_id":1,"length":100}
{"page":1,"op":"tag","time":0.4,"ref":"s1","name":"script","is_start_tag":true,"document_url":"http://a.test/","position":{"line":3,"column":1}}
{"page":1,"op":"classify","time":0.4,"node":"s1","kind":"async"}
{"page":1,"op":"computation_begin","time":0.5,"ref":"exec","kind":"execScript","document_url":"http://a.test/"}
{"page":1,"op":"request_begin","time":0.6,"resource_id":2,"url":"http://a.test/img.png","method":"GET","frame_id":1}
{"page":1,"op":"computation_end","time":0.7,"node":"exec"}
{"page":1,"op":"window_load","time":0.8}
{"page":1,"op":"headers","time":0.9,"resource_id":2,"ref":"img","url":"http://a.test/img.png"}
`

var _ = Describe("Replayer", func() {
	var (
		clock    *timing.ManualClock
		out      *sink
		registry *page.Registry
		r        *Replayer
	)

	BeforeEach(func() {
		clock = timing.NewManualClock(0)
		out = &sink{}
		registry = page.MakeBuilder().
			WithClock(clock).
			WithWriterFactory(out.factory).
			Build()
		r = NewReplayer(registry, clock, nil)
	})

	It("should replay a page load to completion", func() {
		progress := 0
		r.WithProgress(func() { progress++ })

		res, err := r.Run(context.Background(), strings.NewReader(pageLog))

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Signals).To(Equal(11))
		Expect(res.Skipped).To(Equal(0))
		Expect(progress).To(Equal(11))
		Expect(clock.Now()).To(Equal(0.9))

		Expect(registry.Len()).To(Equal(0))
		Expect(out.pages).To(Equal([]string{"http://a.test/"}))

		exec, ok := out.find(node.KindComputation.String(), func(trace.Record) bool { return true })
		Expect(ok).To(BeTrue())
		Expect(exec.StartTime).To(Equal(0.5))

		img, ok := out.find(node.KindResource.String(), func(rec trace.Record) bool {
			return rec.Resource.URL == "http://a.test/img.png"
		})
		Expect(ok).To(BeTrue())
		Expect(img.Parent).To(Equal(exec.ID))
		Expect(img.StartTime).To(Equal(0.6))

		hol, ok := out.find(trace.KindHOL, func(trace.Record) bool { return true })
		Expect(ok).To(BeTrue())
		Expect(hol.HOL.Class).To(Equal(node.HOLAsync))
	})

	It("should skip signals it cannot apply", func() {
		log := `
{"page":2,"op":"bogus","time":1}
{"page":2,"op":"computation_end","time":1,"node":"nope"}
{"page":2,"op":"computation_end","time":1}
{"page":2,"op":"computation_begin","time":1,"kind":"dance"}
{"page":2,"op":"dom_inc","time":2}
`
		res, err := r.Run(context.Background(), strings.NewReader(log))

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Signals).To(Equal(5))
		Expect(res.Skipped).To(Equal(4))

		p, ok := registry.Lookup(2)
		Expect(ok).To(BeTrue())
		Expect(p.Status().DOMNesting).To(Equal(1))
	})

	It("should report the error kinds", func() {
		Expect(r.Apply(Signal{Page: 3, Op: "bogus"})).To(MatchError(ErrUnknownOp))
		Expect(r.Apply(Signal{Page: 3, Op: OpComputationEnd, Node: "x"})).To(MatchError(ErrUnknownRef))
		Expect(r.Apply(Signal{Page: 3, Op: OpClassify})).To(MatchError(ErrBadSignal))
	})

	It("should stop on a malformed log", func() {
		log := `{"page":1,"op":"dom_inc","time":0}
{"page":1,"op":`

		res, err := r.Run(context.Background(), strings.NewReader(log))

		Expect(err).To(HaveOccurred())
		Expect(res.Signals).To(Equal(1))
	})

	It("should stop when cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := r.Run(ctx, strings.NewReader(pageLog))

		Expect(err).To(MatchError(context.Canceled))
	})

	It("should discard pages and forget their refs", func() {
		Expect(r.Apply(Signal{Page: 4, Op: OpComputationBegin, Kind: "execScript", Ref: "c"})).To(Succeed())
		Expect(registry.Len()).To(Equal(1))

		Expect(r.Apply(Signal{Page: 4, Op: OpDiscard})).To(Succeed())
		Expect(registry.Len()).To(Equal(0))
		Expect(out.records).To(BeEmpty())

		Expect(r.Apply(Signal{Page: 4, Op: OpComputationEnd, Node: "c"})).To(MatchError(ErrPageFinished))
		Expect(registry.Len()).To(Equal(0))
	})

	It("should drop signals that arrive after the page completed", func() {
		log := pageLog + `
{"page":1,"op":"chunk","time":1.0,"resource_id":2,"length":50}
{"page":1,"op":"dom_dec","time":1.1}
`
		res, err := r.Run(context.Background(), strings.NewReader(log))

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Signals).To(Equal(13))
		Expect(res.Skipped).To(Equal(0))
		Expect(res.Dropped).To(Equal(2))
		Expect(registry.Len()).To(Equal(0))

		registry.Close()
		Expect(out.pages).To(HaveLen(1))
	})

	It("should start a new page on a main frame document", func() {
		_, err := r.Run(context.Background(), strings.NewReader(pageLog))
		Expect(err).NotTo(HaveOccurred())

		Expect(r.Apply(Signal{Page: 1, Op: OpDocument, URL: "http://b.test/", MainFrame: true})).To(Succeed())

		p, ok := registry.Lookup(1)
		Expect(ok).To(BeTrue())
		Expect(p.URL()).To(Equal("http://b.test/"))
	})

	It("should attribute message port events to the poster", func() {
		Expect(r.Apply(Signal{Page: 5, Op: OpComputationBegin, Kind: "execScript", Ref: "poster"})).To(Succeed())
		Expect(r.Apply(Signal{Page: 5, Op: OpPostMessage})).To(Succeed())
		Expect(r.Apply(Signal{Page: 5, Op: OpComputationEnd, Node: "poster"})).To(Succeed())
		Expect(r.Apply(Signal{Page: 5, Op: OpEventBegin, Target: "messagePort", Name: "message", Ref: "ev"})).To(Succeed())

		p, _ := registry.Lookup(5)
		poster := r.refs[5]["poster"]
		ev := r.refs[5]["ev"]

		Expect(p.Arena().Meta(ev).Parent).To(Equal(poster))
		Expect(p.Arena().Event(ev).TargetKind).To(Equal(node.TargetMessagePort))
	})

	It("should replay timers", func() {
		signals := []Signal{
			{Page: 6, Op: OpComputationBegin, Kind: "execScript", Ref: "install"},
			{Page: 6, Op: OpTimerInstall, TimerID: 9, TimeoutMS: 50, SingleShot: true},
			{Page: 6, Op: OpComputationEnd, Node: "install"},
			{Page: 6, Op: OpWindowLoad, Time: 1},
			{Page: 6, Op: OpTimerBegin, TimerID: 9, Ref: "fire", Time: 2},
		}
		for _, s := range signals {
			Expect(r.Apply(s)).To(Succeed())
		}

		p, _ := registry.Lookup(6)
		fire := p.Arena().Computation(r.refs[6]["fire"])
		Expect(fire.Parent).To(Equal(r.refs[6]["install"]))
		Expect(fire.Info).To(Equal("50"))

		Expect(r.Apply(Signal{Page: 6, Op: OpTimerEnd, TimerID: 9, Time: 3})).To(Succeed())
		Expect(registry.Len()).To(Equal(0))
		Expect(out.pages).To(HaveLen(1))
	})

	It("should replay a file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "signals.jsonl")
		Expect(os.WriteFile(path, []byte(pageLog), 0o644)).To(Succeed())

		res, err := r.RunFile(context.Background(), path)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Signals).To(Equal(11))

		_, err = r.RunFile(context.Background(), filepath.Join(GinkgoT().TempDir(), "missing"))
		Expect(err).To(HaveOccurred())
	})
})
