// Package dispatch routes verified platform events to registered handlers.
//
// The Registry maps event-type strings (C2C_MESSAGE_CREATE,
// GROUP_AT_MESSAGE_CREATE, ...) to Handler implementations. Unknown event
// types are logged and ignored: the platform introduces new types at will,
// and rejecting them would only cause redelivery of traffic no handler wants.
//
// The Worker polls the persistent event queue and invokes Route, keeping
// handler latency out of the webhook request path entirely. Each handler
// invocation runs under a bounded timeout; a handler failure requeues the
// event with backoff until max attempts, then marks it dead.
//
// Error kinds:
//   - *DispatchError — routing machinery failed (malformed queue entry)
//   - *HandlerError  — the handler itself failed (e.g. reply delivery)
//
// The distinction matters because neither ever changes an HTTP response
// (events are ACKed at enqueue time), but only HandlerError is retryable.
//
// Shutdown policy: on context cancellation the worker finishes the handler
// currently in flight and then stops; it never abandons a running handler.
package dispatch
