package audio

import (
	"testing"
	"time"
)

func TestBufferReleasesChunkWithOverlap(t *testing.T) {
	// 10 samples/s: 1s minimum = 20 bytes, 0.2s overlap = 4 bytes.
	b := NewBuffer(10, time.Second, 200*time.Millisecond)

	b.Add(make([]byte, 12))
	if _, ok := b.Chunk(); ok {
		t.Fatalf("chunk released before minimum duration")
	}

	b.Add(make([]byte, 10))
	chunk, ok := b.Chunk()
	if !ok {
		t.Fatalf("expected chunk")
	}
	if len(chunk) != 22 {
		t.Fatalf("unexpected chunk length: %d", len(chunk))
	}
	if b.Len() != 4 {
		t.Fatalf("expected overlap tail of 4 bytes, got %d", b.Len())
	}
}

func TestBufferHoldsOddTrailingByte(t *testing.T) {
	b := NewBuffer(10, time.Second, 0)
	b.Add(make([]byte, 21))

	chunk, ok := b.Chunk()
	if !ok || len(chunk) != 20 {
		t.Fatalf("unexpected chunk: %d %v", len(chunk), ok)
	}
	if b.Len() != 1 {
		t.Fatalf("odd byte should wait for its pair, buffered=%d", b.Len())
	}
}

func TestBufferFlushAndReset(t *testing.T) {
	b := NewBuffer(16000, 2*time.Second, 500*time.Millisecond)
	if _, ok := b.Flush(); ok {
		t.Fatalf("empty buffer flushed")
	}

	b.Add([]byte{1, 2, 3, 4})
	chunk, ok := b.Flush()
	if !ok || len(chunk) != 4 {
		t.Fatalf("unexpected flush: %v %v", chunk, ok)
	}

	b.Add([]byte{1, 2})
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("reset left %d bytes", b.Len())
	}
}
