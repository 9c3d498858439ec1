// Package engine defines the transcription and diarization collaborator
// interfaces consumed by the chunk pipeline, along with HTTP client
// implementations. Engine failures are reported as structured error kinds
// rather than free-text matching, and all calls are bounded by a semaphore
// so slow inference never starves other sessions.
package engine
