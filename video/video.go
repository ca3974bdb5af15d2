// Package video defines the frame source the render loop reads from and a
// latest-frame mailbox sources publish into.
package video

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"
)

// Frame is one decoded video frame. Image is top-left origin and must not be
// modified after it has been published.
type Frame struct {
	Image *image.RGBA
	Seq   uint64
	At    time.Time
}

// Width returns the frame width in pixels.
func (f Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the frame height in pixels.
func (f Frame) Height() int { return f.Image.Bounds().Dy() }

// ErrStreamEnded is reported by Err when a started stream stopped delivering
// frames on its own.
var ErrStreamEnded = errors.New("video stream ended")

// Source produces video frames.
type Source interface {
	// Start opens the stream and blocks until the first frame was decoded
	// or the stream failed to open. Frames keep arriving in the background
	// until ctx is cancelled or the stream ends.
	Start(ctx context.Context) error
	// Latest returns the most recent frame, false if none arrived yet.
	Latest() (Frame, bool)
	// Done is closed once the stream opened by the last successful Start
	// has stopped. Each Start hands out a new channel.
	Done() <-chan struct{}
	// Err reports why the stream behind Done stopped, nil if ctx was
	// cancelled.
	Err() error
}

// SlotStats are the counters of a Slot.
type SlotStats struct {
	Published uint64 `json:"published"`
	Consumed  uint64 `json:"consumed"`
	Dropped   uint64 `json:"dropped"`
	LastSeq   uint64 `json:"last_seq"`
}

// Slot is a single frame mailbox. Publish overwrites any frame the consumer
// has not taken yet; only the newest frame is ever handed out.
type Slot struct {
	mu     sync.Mutex
	frame  Frame
	has    bool
	unread bool
	seq    uint64
	stats  SlotStats
	first  chan struct{}
	once   sync.Once
}

// NewSlot creates an empty slot.
func NewSlot() *Slot {
	return &Slot{first: make(chan struct{})}
}

// Publish stores img as the newest frame and returns its sequence number.
func (s *Slot) Publish(img *image.RGBA) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unread {
		s.stats.Dropped++
	}
	s.seq++
	s.frame = Frame{Image: img, Seq: s.seq, At: time.Now()}
	s.has = true
	s.unread = true
	s.stats.Published++
	s.stats.LastSeq = s.seq
	s.once.Do(func() { close(s.first) })
	return s.seq
}

// Latest returns the newest frame. It never blocks.
func (s *Slot) Latest() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unread {
		s.unread = false
		s.stats.Consumed++
	}
	return s.frame, s.has
}

// Ready is closed once the first frame was published.
func (s *Slot) Ready() <-chan struct{} {
	return s.first
}

// Stats returns a copy of the slot counters.
func (s *Slot) Stats() SlotStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
