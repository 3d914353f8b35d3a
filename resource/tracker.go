// Package resource assembles one Resource node per network fetch from the
// request, header and body signals of the loader.
package resource

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kusoof/wprof/node"
)

var (
	// ErrNoRequestStart is returned when headers arrive for a request whose
	// start was never seen. The resource is still created, stamped with
	// node.UnknownTime.
	ErrNoRequestStart = errors.New("response without a recorded request start")

	// ErrOrphanedSignal is returned for a signal that names an unknown
	// resource id.
	ErrOrphanedSignal = errors.New("signal for an unknown resource")
)

// FrameInfo identifies the frame a request belongs to.
type FrameInfo struct {
	ID       uint64 `json:"id"`
	ParentID uint64 `json:"parent_id"`
}

// Request describes a fetch that is about to start.
type Request struct {
	ResourceID  uint64    `json:"resource_id"`
	URL         string    `json:"url"`
	Method      string    `json:"method"`
	DocumentURL string    `json:"document_url"`
	Frame       FrameInfo `json:"frame"`

	// Initiator is the node the loader says started the fetch, if known.
	Initiator node.ID `json:"initiator,omitempty"`
}

// Response carries the metadata available once headers are in.
type Response struct {
	URL              string           `json:"url"`
	MimeType         string           `json:"mime_type"`
	Status           int              `json:"status"`
	ExpectedLength   int64            `json:"expected_length"`
	ConnectionID     uint64           `json:"connection_id"`
	ConnectionReused bool             `json:"connection_reused"`
	WasCached        bool             `json:"was_cached"`
	Timing           *node.LoadTiming `json:"timing,omitempty"`
}

// CacheHit describes a resource served from the memory cache.
type CacheHit struct {
	ResourceID  uint64 `json:"resource_id"`
	URL         string `json:"url"`
	MimeType    string `json:"mime_type"`
	Method      string `json:"method"`
	Size        int64  `json:"size"`
	FrameID     uint64 `json:"frame_id"`
	DocumentURL string `json:"document_url"`
}

type inFlight struct {
	start       float64
	parent      node.ID
	url         string
	method      string
	documentURL string
	frameID     uint64
}

// Tracker follows the fetches of one page. It is not safe for concurrent use.
type Tracker struct {
	arena  *node.Arena
	logger *zap.Logger

	requests  map[uint64]*inFlight
	resources map[uint64]node.ID
	frames    map[uint64]node.ID
}

// NewTracker creates a tracker that stores its nodes in arena.
func NewTracker(arena *node.Arena, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Tracker{
		arena:     arena,
		logger:    logger,
		requests:  make(map[uint64]*inFlight),
		resources: make(map[uint64]node.ID),
		frames:    make(map[uint64]node.ID),
	}
}

// BeginRequest records the start of a fetch and its causal parent. The first
// request seen in a frame creates the Frame node, which is returned.
// Otherwise node.None is returned.
func (t *Tracker) BeginRequest(req Request, parent node.ID, now float64) node.ID {
	if r, ok := t.requests[req.ResourceID]; ok {
		r.url = req.URL
		return node.None
	}

	t.requests[req.ResourceID] = &inFlight{
		start:       now,
		parent:      parent,
		url:         req.URL,
		method:      req.Method,
		documentURL: req.DocumentURL,
		frameID:     req.Frame.ID,
	}

	if _, seen := t.frames[req.Frame.ID]; seen {
		return node.None
	}

	f := &node.Frame{
		NodeMeta: node.NodeMeta{
			Kind:        node.KindFrame,
			DocumentURL: req.DocumentURL,
			StartTime:   now,
			Parent:      parent,
		},
		FrameID:              req.Frame.ID,
		ParentFrameID:        req.Frame.ParentID,
		InitiatingResourceID: req.ResourceID,
	}
	id := t.arena.Add(f)
	t.frames[req.Frame.ID] = id

	t.logger.Debug("frame created",
		zap.Uint64("frame", req.Frame.ID),
		zap.Uint64("parent_frame", req.Frame.ParentID),
		zap.Uint64("resource", req.ResourceID))

	return id
}

// HasRequest tells whether a fetch with the id is in flight.
func (t *Tracker) HasRequest(resourceID uint64) bool {
	_, ok := t.requests[resourceID]
	return ok
}

// CompleteHeaders creates the Resource node of a fetch and takes it out of
// flight. If no start was recorded, the resource is created anyway with
// fallbackParent and node.UnknownTime, and ErrNoRequestStart is returned.
func (t *Tracker) CompleteHeaders(
	resourceID uint64,
	resp Response,
	fallbackParent node.ID,
	documentURL string,
	now float64,
) (node.ID, error) {
	r := &node.Resource{
		NodeMeta: node.NodeMeta{
			Kind:        node.KindResource,
			DocumentURL: documentURL,
			StartTime:   node.UnknownTime,
			Parent:      fallbackParent,
		},
		ResourceID:       resourceID,
		URL:              resp.URL,
		MimeType:         resp.MimeType,
		HTTPStatus:       resp.Status,
		ExpectedLength:   resp.ExpectedLength,
		ConnectionID:     resp.ConnectionID,
		ConnectionReused: resp.ConnectionReused,
		WasCached:        resp.WasCached,
		Timing:           resp.Timing,
	}

	var err error

	req, ok := t.requests[resourceID]
	if ok {
		delete(t.requests, resourceID)

		r.StartTime = req.start
		r.Parent = req.parent
		r.HTTPMethod = req.method
		r.FrameID = req.frameID

		if req.documentURL != "" {
			r.DocumentURL = req.documentURL
		}

		if r.URL == "" {
			r.URL = req.url
		}
	} else {
		err = fmt.Errorf("%w: resource %d", ErrNoRequestStart, resourceID)
	}

	id := t.arena.Add(r)
	t.resources[resourceID] = id

	return id, err
}

// AppendChunk adds a body chunk to a resource whose headers are in.
func (t *Tracker) AppendChunk(resourceID uint64, length int64, now float64) error {
	id, ok := t.resources[resourceID]
	if !ok {
		return fmt.Errorf("%w: chunk for resource %d", ErrOrphanedSignal, resourceID)
	}

	t.arena.Resource(id).AddChunk(now, length)

	return nil
}

// RecordCacheHit creates a CachedResource node. A hit for an in-flight
// request completes the request and inherits its parent. A hit with no
// request is recorded with the given parent and reported as
// ErrOrphanedSignal.
func (t *Tracker) RecordCacheHit(hit CacheHit, parent node.ID, now float64) (node.ID, error) {
	var err error

	if req, ok := t.requests[hit.ResourceID]; ok {
		delete(t.requests, hit.ResourceID)

		if req.parent != node.None {
			parent = req.parent
		}
	} else {
		err = fmt.Errorf("%w: cache hit for resource %d", ErrOrphanedSignal, hit.ResourceID)
	}

	c := &node.CachedResource{
		NodeMeta: node.NodeMeta{
			Kind:        node.KindCachedResource,
			DocumentURL: hit.DocumentURL,
			StartTime:   now,
			Parent:      parent,
		},
		ResourceID: hit.ResourceID,
		URL:        hit.URL,
		MimeType:   hit.MimeType,
		Size:       hit.Size,
		HTTPMethod: hit.Method,
		FrameID:    hit.FrameID,
	}

	return t.arena.Add(c), err
}

// Redirect points an in-flight request at a new URL and returns the
// request's causal parent, whose URL list the caller rewrites.
func (t *Tracker) Redirect(resourceID uint64, oldURL, newURL string) (node.ID, error) {
	req, ok := t.requests[resourceID]
	if !ok {
		return node.None, fmt.Errorf("%w: redirect of resource %d from %s",
			ErrOrphanedSignal, resourceID, oldURL)
	}

	req.url = newURL

	return req.parent, nil
}

// Fail takes a cancelled or failed request out of flight. It reports whether
// the request was in flight.
func (t *Tracker) Fail(resourceID uint64) bool {
	if _, ok := t.requests[resourceID]; !ok {
		return false
	}

	delete(t.requests, resourceID)

	return true
}

// FrameLoaded sets the load time of a known frame.
func (t *Tracker) FrameLoaded(frameID uint64, now float64) error {
	id, ok := t.frames[frameID]
	if !ok {
		return fmt.Errorf("%w: load of frame %d", ErrOrphanedSignal, frameID)
	}

	t.arena.Frame(id).SetLoadTime(now)

	return nil
}

// Frame returns the node of a known frame.
func (t *Tracker) Frame(frameID uint64) (node.ID, bool) {
	id, ok := t.frames[frameID]
	return id, ok
}

// Resource returns the latest Resource node created for the id.
func (t *Tracker) Resource(resourceID uint64) (node.ID, bool) {
	id, ok := t.resources[resourceID]
	return id, ok
}

// Pending returns the number of fetches in flight.
func (t *Tracker) Pending() int {
	return len(t.requests)
}

// Reset forgets everything. The nodes themselves live in the arena.
func (t *Tracker) Reset() {
	t.requests = make(map[uint64]*inFlight)
	t.resources = make(map[uint64]node.ID)
	t.frames = make(map[uint64]node.ID)
}
