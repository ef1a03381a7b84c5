// Package router implements the Event Router component.
//
// The Event Router:
//   - Holds global subscribers and per-connection subscriber tables
//   - Decodes inbound message frames as JSON, falling back to raw text
//   - Dispatches per-connection subscribers first, then global subscribers
//   - Recovers from panicking handlers so remaining handlers still run
package router
