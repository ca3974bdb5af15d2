// Package ffmpeg restreams composited frames through an ffmpeg child process
// and watches its health.
package ffmpeg

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

var (
	// ErrClosed is returned by Present after Close.
	ErrClosed = errors.New("ffmpeg sink closed")
	// ErrQueueFull is returned when ffmpeg cannot keep up and a frame was dropped.
	ErrQueueFull = errors.New("write queue full - frame dropped")
	// ErrRestartBackoff is returned while a restart of a failed ffmpeg is held back.
	ErrRestartBackoff = errors.New("ffmpeg restart backoff")
	// ErrRestarting is returned for frames presented while ffmpeg is being
	// replaced. The frame is dropped.
	ErrRestarting = errors.New("ffmpeg restarting - frame dropped")
)

// debugMsgFunc is provided by the main package
var debugMsgFunc func(component, message string)

// debugMsgVerboseFunc is provided by the main package for verbose logging only
var debugMsgVerboseFunc func(component, message string)

// SetDebugFunction allows main package to provide the debug logger
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

// SetDebugVerboseFunction allows main package to provide the verbose debug logger
func SetDebugVerboseFunction(fn func(component, message string)) {
	debugMsgVerboseFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

func debugMsgVerbose(component, message string) {
	if debugMsgVerboseFunc != nil {
		debugMsgVerboseFunc(component, message)
	}
}

// Options configure a Sink.
type Options struct {
	// Binary is the ffmpeg executable, "ffmpeg" by default.
	Binary string
	// Output is the rtmp:// URL or file ffmpeg writes to.
	Output string
	// FPS is the input frame rate announced to ffmpeg.
	FPS int
	// Args replace the default encoder arguments when set.
	Args []string
	// QueueSize is the number of frames buffered ahead of ffmpeg.
	QueueSize int
	// RestartBackoff is the minimum time between two ffmpeg starts.
	RestartBackoff time.Duration
}

// SinkStats are the counters of a Sink.
type SinkStats struct {
	Running    bool   `json:"running"`
	Restarting bool   `json:"restarting"`
	Written    uint64 `json:"written"`
	Dropped    uint64 `json:"dropped"`
	Restarts   uint64 `json:"restarts"`
	Queue      int    `json:"queue"`
	Capacity   int    `json:"capacity"`
	LastError  string `json:"last_error,omitempty"`
}

// BuildArgs returns the ffmpeg arguments for raw RGBA frames of size on
// stdin.
func BuildArgs(size image.Point, opts Options) []string {
	fps := strconv.Itoa(opts.FPS)
	args := []string{
		"-hide_banner",
		"-thread_queue_size", "2048",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", size.X, size.Y),
		"-r", fps,
		"-i", "-",
	}

	if len(opts.Args) > 0 {
		args = append(args, opts.Args...)
	} else {
		args = append(args,
			"-g", fps,
			"-keyint_min", fps,
			"-sc_threshold", "0",
			"-pix_fmt", "yuv420p",
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-tune", "zerolatency",
		)
	}

	if strings.HasPrefix(opts.Output, "rtmp://") || strings.HasPrefix(opts.Output, "rtmps://") {
		args = append(args,
			"-f", "flv",
			"-flvflags", "no_duration_filesize",
		)
	}
	return append(args, "-y", opts.Output)
}

// Sink is an overlay surface that pipes every frame into ffmpeg. ffmpeg is
// started on the first frame and restarted when the frame size changes or
// the health monitor gives up on it. Starting and stopping ffmpeg happens on
// a background goroutine; Present never waits for it.
type Sink struct {
	opts Options

	mu          sync.Mutex
	proc        *process
	size        image.Point
	unhealthy   bool
	restarting  bool
	restartDone chan struct{} // closed when the last restart finished
	lastStart   time.Time
	closed      bool
	gen         uint64 // bumped on every restart
	stats       SinkStats
	written     atomic.Uint64
}

// process is one running ffmpeg with its frame queue and writer.
type process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	queue   chan []byte
	monitor *HealthMonitor
	flushed chan struct{} // closed when the writer has drained the queue
}

// NewSink creates a sink. Nothing runs until the first Present.
func NewSink(opts Options) *Sink {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4 * opts.FPS
	}
	if opts.RestartBackoff <= 0 {
		opts.RestartBackoff = 5 * time.Second
	}
	return &Sink{opts: opts}
}

// Present queues img for ffmpeg. It never blocks on ffmpeg: frames that
// arrive while ffmpeg is being replaced are dropped.
func (s *Sink) Present(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.restarting {
		s.stats.Dropped++
		return ErrRestarting
	}
	size := img.Bounds().Size()
	if s.proc == nil || s.unhealthy || size != s.size {
		failed := s.unhealthy || (s.proc == nil && !s.lastStart.IsZero())
		if failed && time.Since(s.lastStart) < s.opts.RestartBackoff {
			s.stats.Dropped++
			return ErrRestartBackoff
		}
		s.beginRestart(size)
		s.stats.Dropped++
		return ErrRestarting
	}

	select {
	case s.proc.queue <- framePix(img):
		return nil
	default:
		s.stats.Dropped++
		debugMsgVerbose("FFMPEG", "Write queue full, frame dropped")
		return ErrQueueFull
	}
}

// Close stops ffmpeg. Frames still queued are flushed first. Close waits
// for a restart in progress.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	p := s.proc
	s.proc = nil
	done := s.restartDone
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	if p != nil {
		p.stop()
	}
	return nil
}

// Stats returns a copy of the counters.
func (s *Sink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Written = s.written.Load()
	st.Running = s.proc != nil && !s.unhealthy
	st.Restarting = s.restarting
	if s.proc != nil {
		st.Queue, st.Capacity = len(s.proc.queue), cap(s.proc.queue)
	}
	return st
}

// beginRestart detaches the running ffmpeg, if any, and replaces it with
// one for frames of size in the background. s.mu must be held.
func (s *Sink) beginRestart(size image.Point) {
	old := s.proc
	s.proc = nil
	if old != nil {
		s.stats.Restarts++
	}
	s.restarting = true
	s.lastStart = time.Now()
	s.gen++
	gen := s.gen
	done := make(chan struct{})
	s.restartDone = done

	go func() {
		defer close(done)
		if old != nil {
			old.stop()
		}
		p, err := s.start(size, gen)

		s.mu.Lock()
		s.restarting = false
		if err != nil {
			s.stats.LastError = err.Error()
			s.mu.Unlock()
			debugMsg("FFMPEG", fmt.Sprintf("FFmpeg start failed: %v", err))
			return
		}
		if s.closed {
			s.mu.Unlock()
			p.stop()
			return
		}
		s.proc, s.size, s.unhealthy = p, size, false
		s.mu.Unlock()
	}()
}

// start launches ffmpeg for frames of size as generation gen.
func (s *Sink) start(size image.Point, gen uint64) (*process, error) {
	cmd := exec.Command(s.opts.Binary, BuildArgs(size, s.opts)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("could not get FFmpeg stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("could not get FFmpeg stderr: %w", err)
	}

	debugMsg("FFMPEG", fmt.Sprintf("Executing: %s %s", s.opts.Binary, strings.Join(cmd.Args[1:], " ")))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start FFmpeg: %w", err)
	}
	debugMsg("FFMPEG", fmt.Sprintf("FFmpeg started (PID: %d, %dx%d)", cmd.Process.Pid, size.X, size.Y))

	p := &process{
		cmd:     cmd,
		stdin:   stdin,
		queue:   make(chan []byte, s.opts.QueueSize),
		monitor: NewHealthMonitor(s.opts.FPS, func(reason string) { s.markUnhealthy(gen, reason) }),
		flushed: make(chan struct{}),
	}
	p.monitor.Watch(stderr)
	go s.writeWorker(gen, p)
	return p, nil
}

// markUnhealthy flags the ffmpeg started as generation gen for restart.
// Reports about an ffmpeg that was already replaced are ignored.
func (s *Sink) markUnhealthy(gen uint64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.proc == nil {
		return
	}
	s.unhealthy = true
	debugMsg("FFMPEG", fmt.Sprintf("FFmpeg marked for restart: %s", reason))
}

// writeWorker writes frames in order until the queue is closed. After a
// write error it keeps draining so Present never blocks.
func (s *Sink) writeWorker(gen uint64, p *process) {
	defer close(p.flushed)

	var failed bool
	for frame := range p.queue {
		if failed {
			continue
		}
		if _, err := p.stdin.Write(frame); err != nil {
			failed = true
			debugMsg("FFMPEG", fmt.Sprintf("Write to FFmpeg failed: %v", err))
			go s.markUnhealthy(gen, err.Error())
			continue
		}
		s.written.Add(1)
	}
}

// stop flushes the queue and terminates ffmpeg and its process group. The
// process must already be detached from the sink.
func (p *process) stop() {
	close(p.queue)
	select {
	case <-p.flushed:
		p.stdin.Close()
	case <-time.After(2 * time.Second):
		// a stuck ffmpeg blocks the writer until its stdin goes away
		p.stdin.Close()
		<-p.flushed
	}
	p.monitor.Stop()

	pgid := p.cmd.Process.Pid
	syscall.Kill(-pgid, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		p.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		syscall.Kill(-pgid, syscall.SIGKILL)
		<-done
	}
	debugMsg("FFMPEG", "FFmpeg stopped")
}

// framePix returns a tightly packed copy of the pixels of img.
func framePix(img *image.RGBA) []byte {
	b := img.Bounds()
	n := b.Dx() * 4
	out := make([]byte, 0, n*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := img.PixOffset(b.Min.X, y)
		out = append(out, img.Pix[i:i+n]...)
	}
	return out
}
