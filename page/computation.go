package page

import (
	"fmt"
	"strconv"

	"github.com/kusoof/wprof/causality"
	"github.com/kusoof/wprof/node"
)

// EventInfo describes an event about to be dispatched.
type EventInfo struct {
	TargetKind  node.EventTargetKind `json:"target_kind"`
	Name        string               `json:"name"`
	Target      node.ID              `json:"target"`
	DocumentURL string               `json:"document_url"`
}

// BeginComputation starts a computation of the given kind. Blocking kinds go
// on the causality stack until EndComputation; render kinds never do.
func (p *Page) BeginComputation(kind node.ComputationKind, documentURL string) node.ID {
	if !p.live() {
		return node.None
	}

	c := &node.Computation{
		NodeMeta: node.NodeMeta{
			Kind:        node.KindComputation,
			DocumentURL: documentURL,
			StartTime:   p.now(),
			Parent:      p.attribute(false),
		},
		ComputationKind: kind,
	}

	id := p.add(c)
	p.markGap(id)
	p.push(id, kind)

	return id
}

// BeginEvent starts dispatching an event. Events delivered to a message port
// are caused by the oldest pending PostMessage.
func (p *Page) BeginEvent(info EventInfo) node.ID {
	if !p.live() {
		return node.None
	}

	var parent node.ID

	if info.TargetKind == node.TargetMessagePort && len(p.messages) > 0 {
		parent = p.messages[0]
		p.messages = p.messages[1:]
	} else {
		parent = p.attribute(false)
	}

	e := &node.Event{
		Computation: node.Computation{
			NodeMeta: node.NodeMeta{
				Kind:        node.KindEvent,
				DocumentURL: info.DocumentURL,
				StartTime:   p.now(),
				Parent:      parent,
			},
			ComputationKind: node.FireEvent,
		},
		TargetKind: info.TargetKind,
		Name:       info.Name,
		Target:     info.Target,
	}

	id := p.add(e)
	p.markGap(id)
	p.push(id, node.FireEvent)

	return id
}

func (p *Page) push(id node.ID, kind node.ComputationKind) {
	if kind.IsRender() {
		return
	}

	if err := p.stack.Push(id, kind); err != nil {
		p.anomaly(AnomalyStackMisuse, id, err)
		return
	}

	p.lastBlocking = id
}

// EndComputation ends a computation or event and takes it off the causality
// stack.
func (p *Page) EndComputation(id node.ID) {
	if !p.live() {
		return
	}

	c := p.arena.Computation(id)
	if c == nil {
		p.misuse(id, fmt.Errorf("%w: %d is not a computation", causality.ErrMismatchedPop, id))
		return
	}

	if c.Ended() {
		p.misuse(id, fmt.Errorf("%w: computation %d ended twice", causality.ErrMismatchedPop, id))
		return
	}

	p.end(id)

	if c.ComputationKind.IsRender() {
		return
	}

	if err := p.stack.Pop(id); err != nil {
		p.anomaly(AnomalyStackMisuse, id, err)
	}
}

// misuse reports a begin/end contract violation found by the page itself. It
// panics in strict mode like the stack does.
func (p *Page) misuse(id node.ID, err error) {
	if p.strict {
		panic(err)
	}

	p.anomaly(AnomalyStackMisuse, id, err)
}

// PostMessage records a message being posted. The running computation, or
// none, becomes the cause of the matching message port event.
func (p *Page) PostMessage() {
	if !p.live() {
		return
	}

	top, _ := p.stack.Top()
	p.messages = append(p.messages, top)
}

// InstallTimer records a timer being set by the running code.
func (p *Page) InstallTimer(timerID uint64, timeoutMS int64, singleShot bool) {
	if !p.live() {
		return
	}

	p.timers[timerID] = timerInfo{
		installer:  p.attribute(false),
		timeoutMS:  timeoutMS,
		singleShot: singleShot,
	}
}

// RemoveTimer records a timer being cleared before or between firings.
func (p *Page) RemoveTimer(timerID uint64) {
	if !p.live() {
		return
	}

	if _, ok := p.timers[timerID]; !ok {
		p.anomaly(AnomalyOrphanedSignal, node.None, fmt.Errorf("remove of unknown timer %d", timerID))
		return
	}

	delete(p.timers, timerID)
	p.checkCompletion()
}

// TimerBegin starts the computation of a timer firing. Its parent is the
// code that installed the timer.
func (p *Page) TimerBegin(timerID uint64, documentURL string) node.ID {
	if !p.live() {
		return node.None
	}

	info, ok := p.timers[timerID]
	if !ok {
		p.anomaly(AnomalyOrphanedSignal, node.None, fmt.Errorf("firing of unknown timer %d", timerID))
		return node.None
	}

	c := &node.Computation{
		NodeMeta: node.NodeMeta{
			Kind:        node.KindComputation,
			DocumentURL: documentURL,
			StartTime:   p.now(),
			Parent:      info.installer,
		},
		ComputationKind: node.Timer,
		Info:            strconv.FormatInt(info.timeoutMS, 10),
	}

	id := p.add(c)
	p.markGap(id)
	p.push(id, node.Timer)
	p.activeTimers[timerID] = id

	return id
}

// TimerEnd ends a timer firing. A single shot timer is no longer pending
// afterwards.
func (p *Page) TimerEnd(timerID uint64) {
	if !p.live() {
		return
	}

	id, ok := p.activeTimers[timerID]
	if !ok {
		p.anomaly(AnomalyOrphanedSignal, node.None, fmt.Errorf("end of timer %d that is not firing", timerID))
		return
	}

	delete(p.activeTimers, timerID)
	p.EndComputation(id)

	if info, ok := p.timers[timerID]; ok && info.singleShot {
		delete(p.timers, timerID)
	}

	p.checkCompletion()
}
