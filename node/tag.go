package node

// Tag is one occurrence of a markup element seen by the parser.
type Tag struct {
	NodeMeta

	Position   Position
	Name       string
	ByteOffset int64
	IsStartTag bool

	// IsFragment is set when the tag was parsed into an inert document
	// fragment rather than the main document tree.
	IsFragment bool

	FrameID uint64
}

// GeneratedTag is an element created other than by markup parsing, for
// example by script.
type GeneratedTag struct {
	NodeMeta

	Name       string
	FrameID    uint64
	IsFragment bool
}

// HOLClass tells how a blocking element holds up the parser.
type HOLClass uint8

// The head-of-line classes. Values match the historical trace codes.
const (
	HOLNormal HOLClass = iota + 1
	HOLDefer
	HOLAsync
	HOLStylesheet
)

func (c HOLClass) String() string {
	switch c {
	case HOLNormal:
		return "normal"
	case HOLDefer:
		return "defer"
	case HOLAsync:
		return "async"
	case HOLStylesheet:
		return "stylesheet"
	default:
		return "unknown"
	}
}

// IsBlockingElement tells whether an element with the given name enters the
// head-of-line type map.
func IsBlockingElement(name string) bool {
	switch name {
	case "script", "style", "link":
		return true
	default:
		return false
	}
}
