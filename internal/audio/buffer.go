// Package audio accumulates raw PCM16 little-endian audio between
// transcription calls.
package audio

import (
	"sync"
	"time"
)

const bytesPerSample = 2

// Buffer releases a chunk once enough audio has accumulated and keeps a
// short overlap so words cut at a chunk boundary reach the next chunk.
type Buffer struct {
	mu         sync.Mutex
	buf        []byte
	minBytes   int
	overlapLen int
}

// NewBuffer sizes the buffer for sampleRate mono PCM16.
func NewBuffer(sampleRate int, minChunk, overlap time.Duration) *Buffer {
	return &Buffer{
		minBytes:   samples(sampleRate, minChunk) * bytesPerSample,
		overlapLen: samples(sampleRate, overlap) * bytesPerSample,
	}
}

func samples(rate int, d time.Duration) int {
	if d <= 0 || rate <= 0 {
		return 0
	}
	return int(float64(rate) * d.Seconds())
}

// Add appends raw PCM16 bytes. A trailing odd byte is kept until its pair
// arrives with the next frame.
func (b *Buffer) Add(pcm []byte) {
	b.mu.Lock()
	b.buf = append(b.buf, pcm...)
	b.mu.Unlock()
}

// Chunk returns the buffered audio when at least the minimum duration is
// available, keeping the overlap tail for the next chunk.
func (b *Buffer) Chunk() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	usable := len(b.buf) - len(b.buf)%bytesPerSample
	if usable == 0 || usable < b.minBytes {
		return nil, false
	}
	chunk := append([]byte(nil), b.buf[:usable]...)

	keep := b.overlapLen
	if keep > usable {
		keep = usable
	}
	rest := append([]byte(nil), b.buf[usable-keep:]...)
	b.buf = rest
	return chunk, true
}

// Flush returns whatever is buffered, regardless of size.
func (b *Buffer) Flush() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	usable := len(b.buf) - len(b.buf)%bytesPerSample
	if usable == 0 {
		return nil, false
	}
	chunk := append([]byte(nil), b.buf[:usable]...)
	b.buf = nil
	return chunk, true
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	b.buf = nil
	b.mu.Unlock()
}

// Len reports the buffered byte count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
