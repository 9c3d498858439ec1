// Package session implements the live transcription session engine: the
// in-memory session registry shared by all connections, the per-chunk
// processing pipeline, chunk-relative to session-absolute time alignment,
// lazy reaping of abandoned sessions, and the persistence bridge that
// converts a live session into durable storage records.
package session
