// Package icy extracts the now-playing title from ICY (SHOUTcast-style) audio streams.
//
// It speaks just enough HTTP/1.0 over a raw TCP or TLS connection to ask the
// server for inline metadata, then scans the returned bytes for a
// StreamTitle='...'; block:
//   - Bounded memory: the receive buffer is capped and exceeding it fails the fetch
//   - Bounded time: push mode fetches fail after a deadline
//   - Redirects: Location headers are followed, loops are rejected
//   - Exactly one outcome: every fetch reports one result or one error
package icy
