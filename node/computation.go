package node

// ComputationKind enumerates what a Computation does.
type ComputationKind uint8

// The computation kinds. Values match the historical trace codes.
const (
	StyleRecalc ComputationKind = iota + 1
	Layout
	Paint
	ScriptExec
	FireEvent
	Timer
)

func (k ComputationKind) String() string {
	switch k {
	case StyleRecalc:
		return "recalcStyle"
	case Layout:
		return "layout"
	case Paint:
		return "paint"
	case ScriptExec:
		return "execScript"
	case FireEvent:
		return "fireEvent"
	case Timer:
		return "timer"
	default:
		return "undefined"
	}
}

// IsRender tells whether the kind is a render pass. Render passes are leaves:
// they never cause further script to run and never go on the causality stack.
func (k ComputationKind) IsRender() bool {
	return k == Layout || k == Paint
}

// Computation is a span of work on the page's main sequence.
type Computation struct {
	NodeMeta

	ComputationKind ComputationKind

	// Info carries kind specific text, such as a timer's timeout.
	Info string
}

// EventTargetKind tells what an event was dispatched to.
type EventTargetKind uint8

// The event target kinds.
const (
	TargetOther EventTargetKind = iota
	TargetElement
	TargetWindow
	TargetDocument
	TargetXMLHttpRequest
	TargetMessagePort
)

func (k EventTargetKind) String() string {
	switch k {
	case TargetElement:
		return "element"
	case TargetWindow:
		return "window"
	case TargetDocument:
		return "document"
	case TargetXMLHttpRequest:
		return "xhr"
	case TargetMessagePort:
		return "messagePort"
	default:
		return "other"
	}
}

// Event is the dispatch of an event to its listeners.
type Event struct {
	Computation

	TargetKind EventTargetKind
	Name       string
	Target     ID
}
