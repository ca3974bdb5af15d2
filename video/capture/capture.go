// Package capture reads a video stream with OpenCV and publishes decoded
// frames into a video.Slot.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"anttrail/video"

	"gocv.io/x/gocv"
)

// ErrFirstFrame is returned by Start when the stream opened but no frame
// could be decoded from it.
var ErrFirstFrame = errors.New("could not read first frame")

// debugMsgFunc is provided by the main package
var debugMsgFunc func(component, message string)

// SetDebugFunction allows main package to provide the debug logger
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// Options configure a Capture.
type Options struct {
	// URL is anything OpenCV's FFmpeg backend opens: rtsp://, http://, a file path.
	URL string
	// BufferSize is the OpenCV capture buffer; 1 keeps latency minimal.
	BufferSize int
	// CaptureOptions is exported as OPENCV_FFMPEG_CAPTURE_OPTIONS before opening.
	CaptureOptions string
	// OnFrame, if set, is called with the read duration of every frame.
	OnFrame func(time.Duration)
}

// Capture is a video.Source backed by gocv.VideoCapture.
type Capture struct {
	opts       Options
	slot       *video.Slot
	size       image.Point
	readErrors atomic.Uint64

	mu   sync.Mutex
	done chan struct{}
	err  error
}

// New creates a capture for opts. Nothing is opened until Start.
func New(opts Options) *Capture {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1
	}
	return &Capture{
		opts: opts,
		slot: video.NewSlot(),
		done: make(chan struct{}),
	}
}

// Start opens the stream, decodes the first frame to learn its size and then
// keeps reading in a background goroutine until ctx is done.
func (c *Capture) Start(ctx context.Context) error {
	if c.opts.CaptureOptions != "" {
		os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", c.opts.CaptureOptions)
	}

	debugMsg("CAPTURE", fmt.Sprintf("Opening video stream: %s", c.opts.URL))
	webcam, err := gocv.VideoCaptureFile(c.opts.URL)
	if err != nil {
		return fmt.Errorf("open video stream %s: %w", c.opts.URL, err)
	}
	webcam.Set(gocv.VideoCaptureBufferSize, float64(c.opts.BufferSize))

	img := gocv.NewMat()
	if ok := webcam.Read(&img); !ok || img.Empty() {
		img.Close()
		webcam.Close()
		return fmt.Errorf("%s: %w", c.opts.URL, ErrFirstFrame)
	}
	c.size = image.Pt(img.Cols(), img.Rows())
	debugMsg("CAPTURE", fmt.Sprintf("Detected frame size: %dx%d", c.size.X, c.size.Y))

	if rgba, err := toRGBA(img); err == nil {
		c.slot.Publish(rgba)
	}
	img.Close()

	done := make(chan struct{})
	c.mu.Lock()
	c.done = done
	c.err = nil
	c.mu.Unlock()

	go c.captureFrames(ctx, webcam, done)
	return nil
}

// Latest returns the newest decoded frame.
func (c *Capture) Latest() (video.Frame, bool) {
	return c.slot.Latest()
}

// Size returns the frame size detected by Start.
func (c *Capture) Size() image.Point { return c.size }

// Stats returns the slot counters plus read errors.
func (c *Capture) Stats() (video.SlotStats, uint64) {
	return c.slot.Stats(), c.readErrors.Load()
}

// Done is closed when the capture goroutine of the last Start has exited.
func (c *Capture) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the read failure that stopped the capture, nil while running
// or after a cancel.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Capture) finish(done chan struct{}, err error) {
	c.mu.Lock()
	if c.done == done {
		c.err = err
	}
	c.mu.Unlock()
	close(done)
}

func (c *Capture) captureFrames(ctx context.Context, webcam *gocv.VideoCapture, done chan struct{}) {
	var frames uint64
	var err error
	defer func() { c.finish(done, err) }()
	defer webcam.Close()

	img := gocv.NewMat()
	defer img.Close()

	for {
		select {
		case <-ctx.Done():
			debugMsg("CAPTURE", "Capture stopped")
			return
		default:
		}

		readStart := time.Now()
		if ok := webcam.Read(&img); !ok {
			c.readErrors.Add(1)
			err = fmt.Errorf("%s after %d frames: %w", c.opts.URL, frames, video.ErrStreamEnded)
			debugMsg("ERROR", fmt.Sprintf("Failed to read frame from stream, capture stopped: %v", err))
			return
		}
		if img.Empty() || img.Type() != gocv.MatTypeCV8UC3 {
			continue
		}

		rgba, err := toRGBA(img)
		if err != nil {
			c.readErrors.Add(1)
			continue
		}
		c.slot.Publish(rgba)
		frames++
		if c.opts.OnFrame != nil {
			c.opts.OnFrame(time.Since(readStart))
		}
	}
}

// toRGBA converts a BGR frame into a freshly allocated RGBA image.
func toRGBA(bgr gocv.Mat) (*image.RGBA, error) {
	if bgr.Channels() != 3 {
		return nil, fmt.Errorf("convert frame: %d channels", bgr.Channels())
	}
	data, err := bgr.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("frame data: %w", err)
	}
	w, h := bgr.Cols(), bgr.Rows()
	if len(data) < w*h*3 {
		return nil, fmt.Errorf("convert frame: short buffer %d for %dx%d", len(data), w, h)
	}
	return video.FromBGR(data, w, h), nil
}
