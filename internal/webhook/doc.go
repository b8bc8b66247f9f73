// Package webhook implements the platform-facing callback endpoint with
// Ed25519 signature verification.
//
// The platform delivers everything through a single POST route. The envelope
// op code selects the protocol:
//
//	op=13  callback-URL validation: sign event_ts+plain_token with the key
//	       derived from the app secret and echo the token back
//	op=0   signed event dispatch: verify X-Signature-Ed25519 over
//	       timestamp+raw body, then enqueue the event and ACK
//	other  liveness probe: ACK with an empty 200
//
// # Security model
//
//   - Verification always runs over the raw body bytes as received; the
//     parsed envelope is never re-serialized for signing
//   - Missing headers, undecodable hex, and mismatched signatures all
//     collapse to the same 401 so responses do not reveal which check failed
//   - Body size limits enforced to prevent DoS
//   - The ACK never waits on handler execution; verified events go through
//     the persistent queue, so platform retry timing is decoupled from
//     handler latency, and a redelivered event deduplicates on the
//     (timestamp, body) hash instead of dispatching twice
//
// # Responses
//
//   - 200 OK: challenge answered, event accepted, or unknown op probed
//   - 400 Bad Request: body is not valid JSON
//   - 401 Unauthorized: signature verification failed (no details)
//   - 413 Payload Too Large: body exceeds max_body_size
//   - 500 Internal Server Error: event could not be persisted
package webhook
