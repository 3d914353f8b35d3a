package node

// UnknownTime stamps a Resource whose request start was never observed.
const UnknownTime = -1.0

// Span is a start/end pair inside a LoadTiming, in milliseconds relative to
// the request time.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// LoadTiming is the network stack's breakdown of a fetch. Every phase is
// optional.
type LoadTiming struct {
	RequestTime       float64  `json:"request_time"`
	Proxy             *Span    `json:"proxy,omitempty"`
	DNS               *Span    `json:"dns,omitempty"`
	Connect           *Span    `json:"connect,omitempty"`
	Send              *Span    `json:"send,omitempty"`
	SSL               *Span    `json:"ssl,omitempty"`
	ReceiveHeadersEnd *float64 `json:"receive_headers_end,omitempty"`
}

// Chunk is one piece of a response body.
type Chunk struct {
	Time   float64 `json:"time"`
	Length int64   `json:"length"`
}

// Resource is one network fetch. Its Parent is the node the fetch came from.
type Resource struct {
	NodeMeta

	ResourceID       uint64
	URL              string
	MimeType         string
	HTTPMethod       string
	HTTPStatus       int
	ExpectedLength   int64
	ConnectionID     uint64
	ConnectionReused bool
	WasCached        bool
	FrameID          uint64
	Timing           *LoadTiming

	BytesReceived int64
	Chunks        []Chunk
}

// AddChunk appends a received chunk. Chunk times never go backwards: a chunk
// stamped before the previous one takes the previous time. Negative lengths
// are ignored so that BytesReceived only grows.
func (r *Resource) AddChunk(t float64, length int64) {
	if length < 0 {
		return
	}

	if n := len(r.Chunks); n > 0 && t < r.Chunks[n-1].Time {
		t = r.Chunks[n-1].Time
	}

	r.Chunks = append(r.Chunks, Chunk{Time: t, Length: length})
	r.BytesReceived += length
}

// CachedResource records a resource served from the cache. The access time is
// the node's StartTime.
type CachedResource struct {
	NodeMeta

	ResourceID uint64
	URL        string
	MimeType   string
	Size       int64
	HTTPMethod string
	FrameID    uint64
}
