package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/kusoof/wprof/node"
	"github.com/kusoof/wprof/page"
	"github.com/kusoof/wprof/resource"
	"github.com/kusoof/wprof/timing"
)

// Result summarizes a replay.
type Result struct {
	Signals int
	Skipped int

	// Dropped counts signals that arrived after their page finished.
	Dropped int
}

// Replayer feeds signals to the pages of a registry. The registry must have
// been built with the replayer's clock. A Replayer is not safe for concurrent
// use; run one per log.
type Replayer struct {
	registry *page.Registry
	clock    *timing.ManualClock
	logger   *zap.Logger
	progress func()

	refs     map[page.Handle]map[string]node.ID
	finished map[page.Handle]bool
}

// NewReplayer creates a replayer. Signal times are applied to clock before
// each signal is delivered.
func NewReplayer(
	registry *page.Registry,
	clock *timing.ManualClock,
	logger *zap.Logger,
) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Replayer{
		registry: registry,
		clock:    clock,
		logger:   logger,
		refs:     make(map[page.Handle]map[string]node.ID),
		finished: make(map[page.Handle]bool),
	}
}

// WithProgress sets a function called after every signal.
func (r *Replayer) WithProgress(f func()) *Replayer {
	r.progress = f
	return r
}

// RunFile replays the log stored in a file.
func (r *Replayer) RunFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	return r.Run(ctx, f)
}

// Run replays a log until it ends or ctx is cancelled. Signals that cannot be
// applied are logged and skipped; a log that cannot be decoded stops the
// replay.
func (r *Replayer) Run(ctx context.Context, in io.Reader) (Result, error) {
	var res Result

	dec := json.NewDecoder(in)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var s Signal

		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			return res, nil
		}

		if err != nil {
			return res, fmt.Errorf("signal %d: %w", res.Signals+1, err)
		}

		res.Signals++

		err = r.Apply(s)

		switch {
		case err == nil:
		case errors.Is(err, ErrPageFinished):
			res.Dropped++
			r.logger.Debug("dropping late signal",
				zap.String("op", s.Op),
				zap.Uint64("page", s.Page))
		default:
			res.Skipped++
			r.logger.Warn("skipping signal",
				zap.Int("index", res.Signals),
				zap.String("op", s.Op),
				zap.Uint64("page", s.Page),
				zap.Error(err))
		}

		if r.progress != nil {
			r.progress()
		}
	}
}

// Apply delivers one signal. Signals for a page that has finished are
// refused with ErrPageFinished, except for a main frame document, which
// starts a new page under the handle.
func (r *Replayer) Apply(s Signal) error {
	h := page.Handle(s.Page)

	r.clock.Set(s.Time)

	if r.finished[h] {
		if s.Op != OpDocument || !s.MainFrame {
			return fmt.Errorf("%w: %s for page %d", ErrPageFinished, s.Op, h)
		}

		delete(r.finished, h)
	}

	if s.Op == OpDiscard {
		if r.registry.Discard(h) {
			r.finished[h] = true
		}

		delete(r.refs, h)

		return nil
	}

	p := r.registry.Page(h)
	if _, ok := r.refs[h]; !ok {
		r.refs[h] = make(map[string]node.ID)
	}

	id, err := r.apply(p, s)
	if err != nil {
		return err
	}

	if s.Ref != "" && id != node.None {
		r.refs[h][s.Ref] = id
	}

	if _, ok := r.registry.Lookup(h); !ok {
		delete(r.refs, h)
		r.finished[h] = true
	}

	return nil
}

//nolint:gocyclo,funlen
func (r *Replayer) apply(p *page.Page, s Signal) (node.ID, error) {
	switch s.Op {
	case OpDocument:
		p.AddDocument(s.URL, s.MainFrame)
	case OpTag:
		return p.CreateTag(page.TagToken{
			Name:        s.Name,
			Position:    s.Position,
			DocumentURL: s.DocumentURL,
			Context:     s.Context,
			IsStartTag:  s.IsStartTag,
			FrameID:     s.FrameID,
		}), nil
	case OpGeneratedTag:
		return p.CreateGeneratedTag(s.Name, s.DocumentURL, s.FrameID), nil
	case OpChars:
		p.AddCharsConsumed(s.Length, s.Context, s.Row)
	case OpClassify:
		return node.None, r.classify(p, s)
	case OpComputationBegin:
		kind, err := parseComputationKind(s.Kind)
		if err != nil {
			return node.None, err
		}

		return p.BeginComputation(kind, s.DocumentURL), nil
	case OpEventBegin:
		target, err := r.lookup(p.Handle(), s.TargetNode, false)
		if err != nil {
			return node.None, err
		}

		return p.BeginEvent(page.EventInfo{
			TargetKind:  parseTargetKind(s.Target),
			Name:        s.Name,
			Target:      target,
			DocumentURL: s.DocumentURL,
		}), nil
	case OpComputationEnd:
		id, err := r.lookup(p.Handle(), s.Node, true)
		if err != nil {
			return node.None, err
		}

		p.EndComputation(id)
	case OpTimerInstall:
		p.InstallTimer(s.TimerID, s.TimeoutMS, s.SingleShot)
	case OpTimerRemove:
		p.RemoveTimer(s.TimerID)
	case OpTimerBegin:
		return p.TimerBegin(s.TimerID, s.DocumentURL), nil
	case OpTimerEnd:
		p.TimerEnd(s.TimerID)
	case OpPostMessage:
		p.PostMessage()
	case OpPreload:
		return p.RecordPreload(page.PreloadInfo{
			URL:         s.URL,
			DocumentURL: s.DocumentURL,
			TagName:     s.TagName,
			Position:    s.Position,
		}), nil
	case OpRequestBegin:
		return node.None, r.beginRequest(p, s)
	case OpHeaders:
		resp := resource.Response{URL: s.URL}
		if s.Response != nil {
			resp = *s.Response
		}

		return p.CompleteHeaders(s.ResourceID, resp), nil
	case OpChunk:
		p.AppendChunk(s.ResourceID, s.Length)
	case OpCacheHit:
		return p.RecordCacheHit(resource.CacheHit{
			ResourceID:  s.ResourceID,
			URL:         s.URL,
			MimeType:    s.MimeType,
			Method:      s.Method,
			Size:        s.Size,
			FrameID:     s.FrameID,
			DocumentURL: s.DocumentURL,
		}), nil
	case OpRedirect:
		p.Redirect(s.ResourceID, s.OldURL, s.NewURL)
	case OpRequestFail:
		p.FailRequest(s.ResourceID)
	case OpFrameLoaded:
		p.FrameLoaded(s.FrameID)
	case OpFrameSrc:
		return p.FrameSourceChanged(s.FrameID, s.URL, s.DocumentURL), nil
	case OpDOMIncrement:
		p.DOMCounterIncrement()
	case OpDOMDecrement:
		p.DOMCounterDecrement()
	case OpWindowLoad:
		p.WindowLoadFired()
	default:
		return node.None, fmt.Errorf("%w: %q", ErrUnknownOp, s.Op)
	}

	return node.None, nil
}

func (r *Replayer) classify(p *page.Page, s Signal) error {
	tag, err := r.lookup(p.Handle(), s.Node, true)
	if err != nil {
		return err
	}

	class, err := parseHOLClass(s.Kind)
	if err != nil {
		return err
	}

	p.ClassifyTag(tag, class)

	return nil
}

func (r *Replayer) beginRequest(p *page.Page, s Signal) error {
	initiator, err := r.lookup(p.Handle(), s.Initiator, false)
	if err != nil {
		return err
	}

	p.BeginRequest(resource.Request{
		ResourceID:  s.ResourceID,
		URL:         s.URL,
		Method:      s.Method,
		DocumentURL: s.DocumentURL,
		Frame: resource.FrameInfo{
			ID:       s.FrameID,
			ParentID: s.ParentFrameID,
		},
		Initiator: initiator,
	})

	return nil
}

// lookup resolves a ref of the page. An empty ref is node.None unless
// required.
func (r *Replayer) lookup(h page.Handle, ref string, required bool) (node.ID, error) {
	if ref == "" {
		if required {
			return node.None, fmt.Errorf("%w: node ref missing", ErrBadSignal)
		}

		return node.None, nil
	}

	id, ok := r.refs[h][ref]
	if !ok {
		return node.None, fmt.Errorf("%w: %q", ErrUnknownRef, ref)
	}

	return id, nil
}
