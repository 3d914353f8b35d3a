package node

// Frame is a browsing context of the page. The first request seen in a frame
// is the one that loads it.
type Frame struct {
	NodeMeta

	FrameID              uint64
	ParentFrameID        uint64
	InitiatingResourceID uint64

	loadTime float64
	loaded   bool
}

// SetLoadTime records when the frame finished loading. Only the first call
// counts.
func (f *Frame) SetLoadTime(t float64) bool {
	if f.loaded {
		return false
	}

	f.loadTime = t
	f.loaded = true

	return true
}

// LoadTime returns the frame's load time and whether it is known.
func (f *Frame) LoadTime() (float64, bool) {
	return f.loadTime, f.loaded
}

// FrameChange records script pointing a frame at a new URL. Its Parent is the
// computation that did it.
type FrameChange struct {
	NodeMeta

	FrameID uint64
	URL     string
}
