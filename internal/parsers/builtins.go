package parsers

import "github.com/target/soc-core/internal/parsers/formats"

// Default is the process-wide registry populated by NewDefaultRegistry.
// Services that need parser resolution take a *Registry via constructor
// injection rather than reaching for this directly; it exists for callers
// (CLI entrypoints, tests) that just want "the whole catalog".
var Default = NewDefaultRegistry()

// NewDefaultRegistry returns a Registry with every built-in format parser
// registered. Adding a new evidence format means adding one line here.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range builtinParsers() {
		r.Register(p)
	}
	return r
}

func builtinParsers() []Parser {
	return []Parser{
		formats.EvtxParser{},
		formats.LinuxAuthParser{},
		formats.AsffParser{},
		formats.GcpAuditParser{},
		formats.GenericJSONParser{},
	}
}
