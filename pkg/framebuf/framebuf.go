// Package framebuf holds the most recent annotated camera frame.
//
// It is a single slot: each Publish replaces the previous frame entirely and
// there is no queue. The fusion loop publishes; the streaming handlers
// consume. A Buffer is created once and passed to both by construction.
package framebuf

import (
	"context"
	"sync"
	"time"
)

// Frame is one encoded snapshot. Data must not be modified once published.
type Frame struct {
	Data []byte // JPEG
	Seq  uint64
	Time time.Time
}

// Buffer is safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	frame   Frame
	has     bool
	seq     uint64
	updated chan struct{}
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{updated: make(chan struct{})}
}

// Publish stores a copy of data as the latest frame and returns its
// sequence number. The lock is held only for the swap.
func (b *Buffer) Publish(data []byte) uint64 {
	buf := make([]byte, len(data))
	copy(buf, data)
	now := time.Now()

	b.mu.Lock()
	b.seq++
	b.frame = Frame{Data: buf, Seq: b.seq, Time: now}
	b.has = true
	close(b.updated)
	b.updated = make(chan struct{})
	seq := b.seq
	b.mu.Unlock()

	return seq
}

// Consume returns the latest frame. ok is false if nothing has been
// published yet.
func (b *Buffer) Consume() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame, b.has
}

// Wait blocks until a frame newer than afterSeq is available or ctx ends.
func (b *Buffer) Wait(ctx context.Context, afterSeq uint64) (Frame, error) {
	for {
		b.mu.Lock()
		if b.has && b.frame.Seq > afterSeq {
			f := b.frame
			b.mu.Unlock()
			return f, nil
		}
		updated := b.updated
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-updated:
		}
	}
}

// Seq returns the sequence number of the latest frame, 0 if none.
func (b *Buffer) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}
