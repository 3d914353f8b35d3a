package page

import (
	"fmt"

	"github.com/kusoof/wprof/hooking"
	"github.com/kusoof/wprof/node"
)

// Hook positions raised by a Page. The Item of a node position is the
// node.ID; Detail is always a Status snapshot.
var (
	HookPosNodeStart    = &hooking.HookPos{Name: "NodeStart"}
	HookPosNodeEnd      = &hooking.HookPos{Name: "NodeEnd"}
	HookPosAnomaly      = &hooking.HookPos{Name: "Anomaly"}
	HookPosPageComplete = &hooking.HookPos{Name: "PageComplete"}
	HookPosPageDiscard  = &hooking.HookPos{Name: "PageDiscard"}
)

// AnomalyKind classifies the non-fatal problems a page absorbs.
type AnomalyKind int

// The anomaly kinds.
const (
	AnomalyAttributionGap AnomalyKind = iota
	AnomalyOrphanedSignal
	AnomalyStackMisuse
	AnomalySerializeFailure
	AnomalyNoRequestStart
)

func (k AnomalyKind) String() string {
	switch k {
	case AnomalyAttributionGap:
		return "attribution_gap"
	case AnomalyOrphanedSignal:
		return "orphaned_signal"
	case AnomalyStackMisuse:
		return "stack_misuse"
	case AnomalySerializeFailure:
		return "serialize_failure"
	case AnomalyNoRequestStart:
		return "no_request_start"
	default:
		return fmt.Sprintf("anomaly(%d)", int(k))
	}
}

// Anomaly is the Item of HookPosAnomaly.
type Anomaly struct {
	Kind AnomalyKind
	Node node.ID
	Err  error
}
