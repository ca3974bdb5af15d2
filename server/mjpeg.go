package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gogpu/gg"

	"anttrail/video"
)

// ErrNoFrame is returned by Snapshot before the first frame was presented.
var ErrNoFrame = errors.New("no frame presented yet")

const boundary = "anttrailframe"

// MJPEGStats counts presented and encoded frames.
type MJPEGStats struct {
	Presented uint64 `json:"presented"`
	Encoded   uint64 `json:"encoded"`
	Clients   int    `json:"clients"`
}

// MJPEG is an overlay surface that serves the composited frames as a
// multipart JPEG stream and as single snapshots. Frames are encoded lazily,
// at most once each, and only when someone asks for them.
type MJPEG struct {
	quality int

	mu         sync.Mutex
	frame      *image.RGBA // never written after publish
	seq        uint64
	encoded    []byte
	encodedSeq uint64
	notify     chan struct{}
	stats      MJPEGStats
}

// NewMJPEG creates the surface. quality is the JPEG quality, 1 to 100.
func NewMJPEG(quality int) *MJPEG {
	return &MJPEG{
		quality: quality,
		notify:  make(chan struct{}),
	}
}

// Present publishes a copy of img and wakes every waiting stream.
func (m *MJPEG) Present(img *image.RGBA) error {
	cp := video.Clone(img)

	m.mu.Lock()
	m.frame = cp
	m.seq++
	m.stats.Presented++
	close(m.notify)
	m.notify = make(chan struct{})
	m.mu.Unlock()
	return nil
}

// Snapshot returns the latest frame as JPEG.
func (m *MJPEG) Snapshot() ([]byte, error) {
	m.mu.Lock()
	frame, seq := m.frame, m.seq
	m.mu.Unlock()
	if frame == nil {
		return nil, ErrNoFrame
	}
	return m.encode(frame, seq)
}

// Next waits for a frame newer than after and returns it with its sequence
// number.
func (m *MJPEG) Next(ctx context.Context, after uint64) ([]byte, uint64, error) {
	for {
		m.mu.Lock()
		frame, seq, notify := m.frame, m.seq, m.notify
		m.mu.Unlock()

		if frame != nil && seq > after {
			jpg, err := m.encode(frame, seq)
			return jpg, seq, err
		}
		select {
		case <-ctx.Done():
			return nil, after, ctx.Err()
		case <-notify:
		}
	}
}

// Stats returns a copy of the counters.
func (m *MJPEG) Stats() MJPEGStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *MJPEG) encode(frame *image.RGBA, seq uint64) ([]byte, error) {
	m.mu.Lock()
	if m.encodedSeq == seq && m.encoded != nil {
		jpg := m.encoded
		m.mu.Unlock()
		return jpg, nil
	}
	m.mu.Unlock()

	jpg, err := gg.ImageBufFromImage(frame).EncodeToJPEGBytes(m.quality)
	if err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", seq, err)
	}

	m.mu.Lock()
	m.stats.Encoded++
	if seq >= m.encodedSeq {
		m.encoded, m.encodedSeq = jpg, seq
	}
	m.mu.Unlock()
	return jpg, nil
}

func (m *MJPEG) clients(delta int) {
	m.mu.Lock()
	m.stats.Clients += delta
	m.mu.Unlock()
}

func (m *MJPEG) serveSnapshot(c *gin.Context) {
	jpg, err := m.Snapshot()
	if errors.Is(err, ErrNoFrame) {
		unavailable(c, err.Error())
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", jpg)
}

func (m *MJPEG) serveStream(c *gin.Context) {
	m.clients(1)
	defer m.clients(-1)

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "close")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	var seq uint64
	for {
		jpg, next, err := m.Next(ctx, seq)
		if err != nil {
			if ctx.Err() == nil {
				debugMsg("HTTP", fmt.Sprintf("MJPEG stream to %s ended: %v", c.ClientIP(), err))
			}
			return
		}
		seq = next

		if _, err := fmt.Fprintf(c.Writer, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpg)); err != nil {
			return
		}
		if _, err := c.Writer.Write(jpg); err != nil {
			return
		}
		if _, err := c.Writer.Write([]byte("\r\n")); err != nil {
			return
		}
		c.Writer.Flush()
	}
}
