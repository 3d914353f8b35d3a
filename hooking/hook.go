// Package hooking lets observers attach to pages without touching their
// state.
package hooking

// HookPos names a place where hooks fire.
type HookPos struct {
	Name string
}

// HookCtx describes one firing of a hook.
type HookCtx struct {
	// Domain is the hookable object raising the hook.
	Domain Hookable

	// Pos is where the hook fires from.
	Pos *HookPos

	// Item is the subject of the firing, such as a node handle.
	Item any

	// Detail holds auxiliary data. It may be nil.
	Detail any
}

// Hook is invoked by a hookable object.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc turns a plain function into a Hook.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// Hookable accepts hooks.
type Hookable interface {
	// AcceptHook registers a hook. Hooks are registered before the domain
	// starts receiving signals and are never removed.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// InvokeHook triggers the registered hooks in registration order.
	InvokeHook(ctx HookCtx)
}

// HookableBase implements Hookable for embedding.
type HookableBase struct {
	hookList []Hook
}

// NewHookableBase creates a HookableBase.
func NewHookableBase() *HookableBase {
	return &HookableBase{}
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.hookList)
}

// Hooks returns the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	return h.hookList
}

// AcceptHook registers a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	if hook == nil {
		panic("nil hook")
	}

	h.hookList = append(h.hookList, hook)
}

// InvokeHook triggers the registered hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hookList {
		hook.Func(ctx)
	}
}

// OnlyAt wraps a hook so that it only fires at the given positions.
func OnlyAt(hook Hook, positions ...*HookPos) Hook {
	return HookFunc(func(ctx HookCtx) {
		for _, p := range positions {
			if ctx.Pos == p {
				hook.Func(ctx)
				return
			}
		}
	})
}

var _ Hookable = (*HookableBase)(nil)
