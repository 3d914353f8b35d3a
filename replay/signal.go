// Package replay drives pages from a recorded log of collaborator signals.
// A log is a stream of JSON objects, one signal each. Nodes created by a
// signal can be named with a ref and referred to by later signals of the same
// page.
package replay

import (
	"errors"
	"fmt"

	"github.com/kusoof/wprof/node"
	"github.com/kusoof/wprof/page"
	"github.com/kusoof/wprof/resource"
)

// Ops understood by the replayer.
const (
	OpDocument         = "document"
	OpTag              = "tag"
	OpGeneratedTag     = "generated_tag"
	OpChars            = "chars"
	OpClassify         = "classify"
	OpComputationBegin = "computation_begin"
	OpEventBegin       = "event_begin"
	OpComputationEnd   = "computation_end"
	OpTimerInstall     = "timer_install"
	OpTimerRemove      = "timer_remove"
	OpTimerBegin       = "timer_begin"
	OpTimerEnd         = "timer_end"
	OpPostMessage      = "post_message"
	OpPreload          = "preload"
	OpRequestBegin     = "request_begin"
	OpHeaders          = "headers"
	OpChunk            = "chunk"
	OpCacheHit         = "cache_hit"
	OpRedirect         = "redirect"
	OpRequestFail      = "request_fail"
	OpFrameLoaded      = "frame_loaded"
	OpFrameSrc         = "frame_src"
	OpDOMIncrement     = "dom_inc"
	OpDOMDecrement     = "dom_dec"
	OpWindowLoad       = "window_load"
	OpDiscard          = "discard"
)

var (
	// ErrUnknownOp is returned for a signal whose op is not understood.
	ErrUnknownOp = errors.New("unknown op")

	// ErrUnknownRef is returned when a signal names a node that no earlier
	// signal of the page created.
	ErrUnknownRef = errors.New("unknown ref")

	// ErrBadSignal is returned for a signal missing the fields its op needs.
	ErrBadSignal = errors.New("bad signal")

	// ErrPageFinished is returned for a signal that arrives after its page
	// completed or was discarded. Only a main frame document starts a new
	// page under the same handle.
	ErrPageFinished = errors.New("page already finished")
)

// Signal is one recorded collaborator call.
type Signal struct {
	Page uint64  `json:"page"`
	Op   string  `json:"op"`
	Time float64 `json:"time"`

	// Ref names the node the signal creates. Node names an existing one.
	Ref  string `json:"ref,omitempty"`
	Node string `json:"node,omitempty"`

	Name        string            `json:"name,omitempty"`
	URL         string            `json:"url,omitempty"`
	DocumentURL string            `json:"document_url,omitempty"`
	Kind        string            `json:"kind,omitempty"`
	Position    node.Position     `json:"position,omitempty"`
	Context     page.ParseContext `json:"context,omitempty"`
	IsStartTag  bool              `json:"is_start_tag,omitempty"`
	MainFrame   bool              `json:"main_frame,omitempty"`
	FrameID     uint64            `json:"frame_id,omitempty"`
	Row         int               `json:"row,omitempty"`
	Length      int64             `json:"length,omitempty"`

	Target     string `json:"target,omitempty"`
	TargetNode string `json:"target_node,omitempty"`

	TimerID    uint64 `json:"timer_id,omitempty"`
	TimeoutMS  int64  `json:"timeout_ms,omitempty"`
	SingleShot bool   `json:"single_shot,omitempty"`

	ResourceID    uint64             `json:"resource_id,omitempty"`
	Method        string             `json:"method,omitempty"`
	ParentFrameID uint64             `json:"parent_frame_id,omitempty"`
	Initiator     string             `json:"initiator,omitempty"`
	Response      *resource.Response `json:"response,omitempty"`
	MimeType      string             `json:"mime_type,omitempty"`
	Size          int64              `json:"size,omitempty"`
	OldURL        string             `json:"old_url,omitempty"`
	NewURL        string             `json:"new_url,omitempty"`
	TagName       string             `json:"tag_name,omitempty"`
}

func parseComputationKind(s string) (node.ComputationKind, error) {
	for k := node.StyleRecalc; k <= node.Timer; k++ {
		if k.String() == s {
			return k, nil
		}
	}

	return 0, fmt.Errorf("%w: computation kind %q", ErrBadSignal, s)
}

func parseHOLClass(s string) (node.HOLClass, error) {
	for c := node.HOLNormal; c <= node.HOLStylesheet; c++ {
		if c.String() == s {
			return c, nil
		}
	}

	return 0, fmt.Errorf("%w: head-of-line class %q", ErrBadSignal, s)
}

func parseTargetKind(s string) node.EventTargetKind {
	for k := node.TargetElement; k <= node.TargetMessagePort; k++ {
		if k.String() == s {
			return k
		}
	}

	return node.TargetOther
}
