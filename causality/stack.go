// Package causality provides the stack of computations that are currently
// running on a page's main sequence.
package causality

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kusoof/wprof/node"
)

var (
	// ErrRenderPush is returned when a render pass is pushed. Render passes
	// never cause other work and are kept off the stack.
	ErrRenderPush = errors.New("render computation pushed onto the causality stack")

	// ErrEmptyStack is returned when popping an empty stack.
	ErrEmptyStack = errors.New("pop from an empty causality stack")

	// ErrMismatchedPop is returned when the popped id is not the top.
	ErrMismatchedPop = errors.New("popped computation is not the top of the causality stack")
)

// Mode decides what happens on misuse.
type Mode int

// The stack modes.
const (
	// ModeStrict panics on misuse.
	ModeStrict Mode = iota

	// ModeLenient logs the misuse and returns the error. A mismatched pop
	// still removes the named computation from wherever it sits.
	ModeLenient
)

// Stack is a LIFO of the blocking computations currently running. The top is
// the computation every new node is attributed to.
type Stack struct {
	mode    Mode
	logger  *zap.Logger
	entries []node.ID
}

// NewStack creates an empty stack.
func NewStack(mode Mode, logger *zap.Logger) *Stack {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Stack{
		mode:   mode,
		logger: logger,
	}
}

// Push puts the computation on top. Render kinds are refused.
func (s *Stack) Push(id node.ID, kind node.ComputationKind) error {
	if kind.IsRender() {
		return s.misuse(fmt.Errorf("%w: %d (%s)", ErrRenderPush, id, kind))
	}

	s.entries = append(s.entries, id)

	return nil
}

// Pop removes the computation, which must be the top.
func (s *Stack) Pop(id node.ID) error {
	n := len(s.entries)
	if n == 0 {
		return s.misuse(fmt.Errorf("%w: %d", ErrEmptyStack, id))
	}

	if s.entries[n-1] == id {
		s.entries = s.entries[:n-1]
		return nil
	}

	top := s.entries[n-1]
	err := s.misuse(fmt.Errorf("%w: popped %d, top is %d", ErrMismatchedPop, id, top))

	for i := n - 1; i >= 0; i-- {
		if s.entries[i] == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}

	return err
}

// Top returns the computation on top, if any.
func (s *Stack) Top() (node.ID, bool) {
	if len(s.entries) == 0 {
		return node.None, false
	}

	return s.entries[len(s.entries)-1], true
}

// Len returns the depth of the stack.
func (s *Stack) Len() int {
	return len(s.entries)
}

// Contains tells whether the computation is on the stack.
func (s *Stack) Contains(id node.ID) bool {
	for _, e := range s.entries {
		if e == id {
			return true
		}
	}

	return false
}

func (s *Stack) misuse(err error) error {
	if s.mode == ModeStrict {
		panic(err)
	}

	s.logger.Warn("causality stack misuse", zap.Error(err))

	return err
}
