// Package store provides the durable SQLite persistence layer for saved
// recordings: recording metadata, transcripts, time-ordered segments,
// speakers, and tags. A save is one transaction, so a half-written recording
// can never be observed.
package store
