package session

import (
	"bytes"
	"testing"
	"time"

	"github.com/skypro1111/live-transcription-service/internal/engine"
)

func TestAppendChunk(t *testing.T) {
	sess := newSession("test-id", "en", false)

	sess.AppendChunk([]engine.Segment{
		{Start: 0.0, End: 1.0, Text: "first"},
	}, []byte("audio-0"), 1.0)

	sess.AppendChunk([]engine.Segment{
		{Start: 1.5, End: 2.3, Text: "second"},
	}, []byte("audio-1"), 2.3)

	if sess.ChunkCount() != 2 {
		t.Errorf("Expected chunk count 2, got %d", sess.ChunkCount())
	}

	stats := sess.Stats()
	if stats.SegmentCount != 2 {
		t.Errorf("Expected 2 segments, got %d", stats.SegmentCount)
	}
	if !almostEqual(stats.TotalDuration, 2.3) {
		t.Errorf("Expected duration 2.3, got %f", stats.TotalDuration)
	}

	segments := sess.Segments()
	if segments[0].Text != "first" || segments[1].Text != "second" {
		t.Errorf("Expected segments in append order, got %q, %q", segments[0].Text, segments[1].Text)
	}
}

func TestAppendChunkFailedChunkConsumesSlot(t *testing.T) {
	sess := newSession("test-id", "en", false)

	// A failed chunk contributes no segments but still advances the
	// chunk count and duration and buffers its audio.
	sess.AppendChunk(nil, []byte("audio-0"), 1.5)

	if sess.ChunkCount() != 1 {
		t.Errorf("Expected chunk count 1, got %d", sess.ChunkCount())
	}
	if stats := sess.Stats(); stats.SegmentCount != 0 {
		t.Errorf("Expected 0 segments, got %d", stats.SegmentCount)
	}
	if !almostEqual(sess.Stats().TotalDuration, 1.5) {
		t.Errorf("Expected duration 1.5, got %f", sess.Stats().TotalDuration)
	}
	if !bytes.Equal(sess.AudioBytes(), []byte("audio-0")) {
		t.Errorf("Expected failed chunk audio to be buffered")
	}
}

func TestDurationNeverDecreases(t *testing.T) {
	sess := newSession("test-id", "en", false)

	sess.AppendChunk(nil, []byte("a"), 3.0)
	// A later chunk ending earlier than the current duration must not
	// roll the timeline back.
	sess.AppendChunk([]engine.Segment{{Start: 1.5, End: 1.9, Text: "short"}}, []byte("b"), 1.9)

	if !almostEqual(sess.Stats().TotalDuration, 3.0) {
		t.Errorf("Expected duration to stay at 3.0, got %f", sess.Stats().TotalDuration)
	}
}

func TestSpeakersCollected(t *testing.T) {
	sess := newSession("test-id", "en", true)

	sess.AppendChunk([]engine.Segment{
		{Start: 0, End: 1, Text: "a", Speaker: "SPEAKER_01"},
		{Start: 1, End: 2, Text: "b", Speaker: "SPEAKER_00"},
	}, []byte("x"), 2.0)
	sess.AppendChunk([]engine.Segment{
		{Start: 2, End: 3, Text: "c", Speaker: "SPEAKER_00"},
		{Start: 3, End: 4, Text: "d"}, // no speaker label
	}, []byte("y"), 4.0)

	speakers := sess.Speakers()
	if len(speakers) != 2 {
		t.Fatalf("Expected 2 distinct speakers, got %d", len(speakers))
	}
	if speakers[0] != "SPEAKER_00" || speakers[1] != "SPEAKER_01" {
		t.Errorf("Expected sorted labels, got %v", speakers)
	}
}

func TestAudioBytesConcatenatesInOrder(t *testing.T) {
	sess := newSession("test-id", "en", false)

	sess.AppendChunk(nil, []byte("aaa"), 1.5)
	sess.AppendChunk(nil, []byte("bbb"), 3.0)
	sess.AppendChunk(nil, []byte("ccc"), 4.5)

	if got := sess.AudioBytes(); !bytes.Equal(got, []byte("aaabbbccc")) {
		t.Errorf("Expected concatenated audio 'aaabbbccc', got %q", got)
	}
}

func TestMarkDisconnectedFirstCallWins(t *testing.T) {
	sess := newSession("test-id", "en", false)

	if sess.DisconnectedAt() != nil {
		t.Fatal("Expected nil disconnect time for a live session")
	}

	first := time.Now()
	sess.MarkDisconnected(first)
	sess.MarkDisconnected(first.Add(time.Minute))

	got := sess.DisconnectedAt()
	if got == nil {
		t.Fatal("Expected disconnect time to be set")
	}
	if !got.Equal(first) {
		t.Errorf("Expected first disconnect time to win, got %v", got)
	}
}

func TestGetInfo(t *testing.T) {
	sess := newSession("test-id", "uk", true)
	sess.AppendChunk([]engine.Segment{{Start: 0, End: 1, Text: "a"}}, []byte("x"), 1.5)

	info := sess.GetInfo()
	if info.ID != "test-id" {
		t.Errorf("Expected id test-id, got %s", info.ID)
	}
	if info.Language != "uk" || !info.HighDetail {
		t.Errorf("Expected language uk and high detail, got %s / %v", info.Language, info.HighDetail)
	}
	if info.ChunkCount != 1 || info.SegmentCount != 1 {
		t.Errorf("Expected 1 chunk and 1 segment, got %d / %d", info.ChunkCount, info.SegmentCount)
	}
	if info.Disconnected != nil {
		t.Errorf("Expected nil disconnect time, got %v", info.Disconnected)
	}
}
