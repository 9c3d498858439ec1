// Package protocol defines the JSON wire messages exchanged over the live
// transcription WebSocket. It handles control message parsing and validation,
// server-to-client message construction, and the error taxonomy with
// per-type retryability flags.
package protocol
