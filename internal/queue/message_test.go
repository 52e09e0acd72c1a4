package queue

import (
	"testing"
	"time"
)

func TestDecodeMessageReadsWireNames(t *testing.T) {
	payload := []byte(`{"jobId":"job-123","requestId":"request-456","enqueuedAt":"2026-01-30T22:00:00Z","version":1}`)

	got, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	want := Message{JobID: "job-123", RequestID: "request-456", EnqueuedAt: "2026-01-30T22:00:00Z", Version: MessageVersion}
	if got != want {
		t.Fatalf("decode mismatch: got %+v want %+v", got, want)
	}
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	if _, err := DecodeMessage([]byte("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDecodeMessageDefaultsLegacyVersion(t *testing.T) {
	got, err := DecodeMessage([]byte(`{"jobId":"job-1","extra":true}`))
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if got.Version != 1 || got.JobID != "job-1" {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestEncodeMessageOmitsEmptyOptionalFields(t *testing.T) {
	raw, err := EncodeMessage(Message{JobID: "job-1"})
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	if string(raw) != `{"jobId":"job-1","version":1}` {
		t.Fatalf("unexpected payload %s", raw)
	}
}

func TestQueuedFor(t *testing.T) {
	msg := Message{EnqueuedAt: "2026-01-30T22:00:00Z"}
	wait, ok := msg.QueuedFor(time.Date(2026, 1, 30, 22, 0, 42, 0, time.UTC))
	if !ok || wait != 42*time.Second {
		t.Fatalf("expected 42s, got %s ok=%v", wait, ok)
	}
	if _, ok := (Message{}).QueuedFor(time.Now()); ok {
		t.Fatalf("expected unknown wait without enqueue time")
	}
	if wait, _ := msg.QueuedFor(time.Date(2026, 1, 30, 21, 0, 0, 0, time.UTC)); wait != 0 {
		t.Fatalf("expected clock skew to clamp to zero, got %s", wait)
	}
}
