// Package server implements the duplex WebSocket endpoint driving live
// transcription sessions and the REST API for saving, checking, and
// discarding them, plus monitoring endpoints.
package server
