package store

// Stores is the top-level container for the storage backends this single-
// instance deployment actually uses. MCP and Tracing are optional and nil
// unless explicitly wired (e.g. no OTLP sink configured).
type Stores struct {
	Sessions     SessionStore
	Tracing      TracingStore     // nil if tracing disabled
	MCP          MCPServerStore   // nil if no MCP servers configured
	BuiltinTools BuiltinToolStore // nil unless builtin tool settings are DB-backed
}
