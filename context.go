package interius

import "context"

// Context is the execution context for Interius operations.
// It is a simple alias for context.Context; cancellation and per-stage
// deadlines ride the standard context chain.
type Context = context.Context
