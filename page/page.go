// Package page holds the per-page state machine that turns collaborator
// signals into a causality graph, and the registry that maps host page
// handles to pages.
//
// A Page is not safe for concurrent use. The host calls it from the page's
// main sequence only. The Registry is safe for concurrent use.
package page

import (
	"fmt"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/kusoof/wprof/causality"
	"github.com/kusoof/wprof/hooking"
	"github.com/kusoof/wprof/node"
	"github.com/kusoof/wprof/preload"
	"github.com/kusoof/wprof/resource"
	"github.com/kusoof/wprof/timing"
	"github.com/kusoof/wprof/trace"
)

type timerInfo struct {
	installer  node.ID
	timeoutMS  int64
	singleShot bool
}

type parseContext struct {
	chars   int64
	lastRow int
}

// Page is the causality state of one page load.
type Page struct {
	*hooking.HookableBase

	handle        Handle
	uid           string
	logger        *zap.Logger
	clock         timing.TimeTeller
	writerFactory trace.WriterFactory
	strict        bool
	onDone        func(*Page)

	state     State
	url       string
	startTime float64

	arena     *node.Arena
	stack     *causality.Stack
	preloads  *preload.Matcher
	resources *resource.Tracker

	currentTag   node.ID
	lastBlocking node.ID
	hol          map[node.ID]node.HOLClass

	timers       map[uint64]timerInfo
	activeTimers map[uint64]node.ID
	messages     []node.ID
	domNesting   int

	contexts      map[ParseContext]*parseContext
	charsConsumed int64
	anomalies     int
}

func newPage(h Handle, b Builder) *Page {
	mode := causality.ModeLenient
	if b.strict {
		mode = causality.ModeStrict
	}

	p := &Page{
		HookableBase:  hooking.NewHookableBase(),
		handle:        h,
		uid:           xid.New().String(),
		clock:         b.clock,
		writerFactory: b.writerFactory,
		strict:        b.strict,
	}
	p.logger = b.logger.With(zap.Uint64("page", uint64(h)), zap.String("uid", p.uid))
	p.startTime = p.clock.Now()

	p.arena = node.NewArena()
	p.stack = causality.NewStack(mode, p.logger)
	p.preloads = preload.NewMatcher(p.arena)
	p.resources = resource.NewTracker(p.arena, p.logger)
	p.hol = make(map[node.ID]node.HOLClass)
	p.timers = make(map[uint64]timerInfo)
	p.activeTimers = make(map[uint64]node.ID)
	p.contexts = make(map[ParseContext]*parseContext)

	for _, hook := range b.hooks {
		p.AcceptHook(hook)
	}

	return p
}

// Handle returns the host handle of the page.
func (p *Page) Handle() Handle {
	return p.handle
}

// UID returns the unique id the page's trace is recorded under.
func (p *Page) UID() string {
	return p.uid
}

// State returns the current phase of the page.
func (p *Page) State() State {
	return p.state
}

// Arena gives read access to the graph built so far. It is empty once the
// page has completed or been discarded.
func (p *Page) Arena() *node.Arena {
	return p.arena
}

// Status returns a snapshot of the page's counters.
func (p *Page) Status() Status {
	return Status{
		Handle:         p.handle,
		UID:            p.uid,
		URL:            p.url,
		State:          p.state,
		PendingFetches: p.resources.Pending(),
		PendingTimers:  len(p.timers),
		DOMNesting:     p.domNesting,
		StackDepth:     p.stack.Len(),
		Nodes:          p.arena.Len(),
		CharsConsumed:  p.charsConsumed,
		Anomalies:      p.anomalies,
	}
}

func (p *Page) live() bool {
	return p.state == StateBegin || p.state == StateWaitingForLastResource
}

func (p *Page) now() float64 {
	return p.clock.Now()
}

func (p *Page) fire(pos *hooking.HookPos, item any) {
	if p.NumHooks() == 0 {
		return
	}

	p.InvokeHook(hooking.HookCtx{
		Domain: p,
		Pos:    pos,
		Item:   item,
		Detail: p.Status(),
	})
}

func (p *Page) add(n node.Node) node.ID {
	id := p.arena.Add(n)
	p.fire(HookPosNodeStart, id)

	return id
}

func (p *Page) end(id node.ID) {
	if p.arena.Meta(id).End(p.now()) {
		p.fire(HookPosNodeEnd, id)
	}
}

func (p *Page) anomaly(kind AnomalyKind, id node.ID, err error) {
	p.anomalies++

	if kind == AnomalyAttributionGap {
		p.logger.Debug("attribution gap", zap.Uint32("node", uint32(id)))
	} else {
		p.logger.Warn("anomaly",
			zap.Stringer("kind", kind),
			zap.Uint32("node", uint32(id)),
			zap.Error(err))
	}

	p.fire(HookPosAnomaly, Anomaly{Kind: kind, Node: id, Err: err})
}

// attribute picks the causal parent of a node created now. The running
// computation wins. Fragment content falls back to the last blocking
// computation. Then the current tag. Otherwise there is no parent.
func (p *Page) attribute(fragment bool) node.ID {
	if top, ok := p.stack.Top(); ok {
		return top
	}

	if fragment && p.lastBlocking != node.None {
		return p.lastBlocking
	}

	return p.currentTag
}

// markGap flags a node that got no parent.
func (p *Page) markGap(id node.ID) {
	m := p.arena.Meta(id)
	if m.Parent != node.None {
		return
	}

	m.AttributionGap = true
	p.anomaly(AnomalyAttributionGap, id, nil)
}

// attachURL records that parent triggered a fetch of url and retries preload
// matching when the parent is a markup tag.
func (p *Page) attachURL(parent node.ID, url string) {
	m := p.arena.Meta(parent)
	if m == nil || url == "" {
		return
	}

	m.AppendURL(url)
	p.matchPreload(parent, url)
}

func (p *Page) matchPreload(tag node.ID, url string) {
	if pre, ok := p.preloads.Match(tag, url); ok {
		p.logger.Debug("preload matched",
			zap.Uint32("preload", uint32(pre)),
			zap.Uint32("tag", uint32(tag)))
	}
}

// checkCompletion completes the page when it waits for the last resource and
// nothing is outstanding. It is safe to call any number of times.
func (p *Page) checkCompletion() {
	if p.state != StateWaitingForLastResource {
		return
	}

	if p.resources.Pending() > 0 || len(p.timers) > 0 || p.domNesting > 0 {
		return
	}

	p.complete()
}

func (p *Page) complete() {
	p.state = StateComplete
	endTime := p.now()

	p.logger.Info("page complete",
		zap.String("url", p.url),
		zap.Int("nodes", p.arena.Len()),
		zap.Int("unmatched_preloads", p.preloads.Len()))

	p.serialize(endTime)
	p.fire(HookPosPageComplete, p.handle)
	p.release()

	if p.onDone != nil {
		p.onDone(p)
	}
}

func (p *Page) serialize(endTime float64) {
	if p.writerFactory == nil {
		return
	}

	g := &trace.Graph{
		UID: p.uid,
		Info: trace.PageInfo{
			Handle:        uint64(p.handle),
			URL:           p.url,
			Nodes:         p.arena.Len(),
			CharsConsumed: p.charsConsumed,
			Unmatched:     p.preloads.Len(),
		},
		StartTime: p.startTime,
		EndTime:   endTime,
		Arena:     p.arena,
		HOL:       p.hol,
	}

	w, err := p.writerFactory(p.uid, p.url)
	if err != nil {
		p.anomaly(AnomalySerializeFailure, node.None, fmt.Errorf("open trace writer: %w", err))
		return
	}

	err = trace.Serialize(w, g)

	if cerr := w.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close trace writer: %w", cerr)
	}

	if err != nil {
		p.anomaly(AnomalySerializeFailure, node.None, err)
	}
}

// Discard drops the page without writing its trace. Nothing happens if the
// page has already completed.
func (p *Page) Discard() {
	if !p.live() {
		return
	}

	p.state = StateDiscarded
	p.logger.Info("page discarded", zap.String("url", p.url))

	p.fire(HookPosPageDiscard, p.handle)
	p.release()

	if p.onDone != nil {
		p.onDone(p)
	}
}

func (p *Page) release() {
	p.arena.Reset()
	p.resources.Reset()
	p.preloads = preload.NewMatcher(p.arena)
	p.stack = causality.NewStack(causality.ModeLenient, p.logger)
	p.hol = make(map[node.ID]node.HOLClass)
	p.timers = make(map[uint64]timerInfo)
	p.activeTimers = make(map[uint64]node.ID)
	p.contexts = make(map[ParseContext]*parseContext)
	p.messages = nil
	p.currentTag = node.None
	p.lastBlocking = node.None
}

// DOMCounterIncrement records a document being opened.
func (p *Page) DOMCounterIncrement() {
	if !p.live() {
		return
	}

	p.domNesting++
}

// DOMCounterDecrement records a document being closed. The counter may go
// negative while nested frames are torn down.
func (p *Page) DOMCounterDecrement() {
	if !p.live() {
		return
	}

	p.domNesting--
	p.checkCompletion()
}

// WindowLoadFired moves the page to waiting for its last resource.
func (p *Page) WindowLoadFired() {
	if p.state != StateBegin {
		return
	}

	p.state = StateWaitingForLastResource
	p.logger.Debug("window load",
		zap.Int("pending_fetches", p.resources.Pending()),
		zap.Int("pending_timers", len(p.timers)),
		zap.Int("dom_nesting", p.domNesting))

	p.checkCompletion()
}

// CheckCompletion re-evaluates quiescence. Hosts may call it at any time.
func (p *Page) CheckCompletion() {
	p.checkCompletion()
}
