package page

import (
	"go.uber.org/zap"

	"github.com/kusoof/wprof/hooking"
	"github.com/kusoof/wprof/timing"
	"github.com/kusoof/wprof/trace"
)

// Builder configures a Registry.
type Builder struct {
	logger        *zap.Logger
	clock         timing.TimeTeller
	writerFactory trace.WriterFactory
	strict        bool
	hooks         []hooking.Hook
}

// MakeBuilder creates a builder with a no-op logger, a monotonic clock and no
// trace output.
func MakeBuilder() Builder {
	return Builder{}
}

// WithLogger sets the logger pages log to.
func (b Builder) WithLogger(logger *zap.Logger) Builder {
	b.logger = logger
	return b
}

// WithClock sets the time source of the pages.
func (b Builder) WithClock(clock timing.TimeTeller) Builder {
	b.clock = clock
	return b
}

// WithWriterFactory sets where completed pages write their traces.
func (b Builder) WithWriterFactory(f trace.WriterFactory) Builder {
	b.writerFactory = f
	return b
}

// WithStrictStack makes begin/end misuse panic instead of being logged.
func (b Builder) WithStrictStack() Builder {
	b.strict = true
	return b
}

// WithHook attaches a hook to every page the registry creates.
func (b Builder) WithHook(hook hooking.Hook) Builder {
	b.hooks = append(append([]hooking.Hook(nil), b.hooks...), hook)
	return b
}

// Build creates the registry.
func (b Builder) Build() *Registry {
	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	if b.clock == nil {
		b.clock = timing.NewMonotonicClock()
	}

	return &Registry{
		builder: b,
		pages:   make(map[Handle]*Page),
	}
}
