package overlay

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"anttrail/trail"
	"anttrail/video"
)

// ErrNoVideoSource is returned by Run when no video source was given.
var ErrNoVideoSource = errors.New("no video source")

// errLoopStopped is returned by the event methods once Run has returned.
var errLoopStopped = errors.New("render loop stopped")

// Surface receives every composited frame. Present must not keep img past
// the call unless it copies it.
type Surface interface {
	Present(img *image.RGBA) error
}

// VideoState is the state of the video source as seen by the loop.
type VideoState string

const (
	VideoIdle     VideoState = "idle"
	VideoStarting VideoState = "starting"
	VideoPlaying  VideoState = "playing"
	VideoFailed   VideoState = "failed"
)

// Options configure a Loop.
type Options struct {
	// FPS is the tick rate, the stand-in for the display refresh callback.
	FPS int
	// AutoStart fires the start trigger as soon as Run begins.
	AutoStart bool
	// Surfaces get every frame in order.
	Surfaces []Surface
	// OnTick, if set, is called with the duration of every rendered tick.
	OnTick func(time.Duration)
}

// Status is a snapshot of the loop, safe to read from any goroutine.
type Status struct {
	SessionID     string           `json:"session_id"`
	State         string           `json:"state"`
	Video         VideoState       `json:"video"`
	VideoError    string           `json:"video_error,omitempty"`
	VideoSize     trail.Size       `json:"video_size"`
	Grid          trail.Size       `json:"grid"`
	Policy        string           `json:"policy"`
	Heat          bool             `json:"heat"`
	Transform     *trail.Transform `json:"transform,omitempty"`
	Frames        uint64           `json:"frames"`
	PresentErrors uint64           `json:"present_errors"`
	Session       trail.Stats      `json:"session"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Loop is the single goroutine that owns the session and the renderer.
// Other goroutines talk to it only through its methods, which queue events
// applied in arrival order between ticks.
type Loop struct {
	opts     Options
	session  *trail.Session
	renderer *Renderer

	events chan func()
	done   chan struct{}

	// owned by the loop goroutine
	ctx           context.Context
	src           video.Source
	videoState    VideoState
	videoErr      error
	presentErrors uint64

	statusMu sync.RWMutex
	status   Status
}

// NewLoop creates a loop around session.
func NewLoop(session *trail.Session, opts Options) *Loop {
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	l := &Loop{
		opts:       opts,
		session:    session,
		renderer:   NewRenderer(session),
		events:     make(chan func(), 256),
		done:       make(chan struct{}),
		videoState: VideoIdle,
	}
	l.publishStatus()
	return l
}

// Run drives the loop until ctx is done. src is started when the start
// trigger fires; a failing start is reported in Status and can be retried.
func (l *Loop) Run(ctx context.Context, src video.Source) error {
	defer close(l.done)
	if src == nil {
		return ErrNoVideoSource
	}
	l.src = src
	l.ctx = ctx

	if l.opts.AutoStart {
		l.startVideo()
	}

	ticker := time.NewTicker(time.Second / time.Duration(l.opts.FPS))
	defer ticker.Stop()

	debugMsg("LOOP", fmt.Sprintf("Render loop running at %d fps (session %s)", l.opts.FPS, l.session.ID()))
	for {
		select {
		case <-ctx.Done():
			debugMsg("LOOP", "Render loop stopped")
			return nil
		case ev := <-l.events:
			ev()
		case <-ticker.C:
			l.tick()
		}
	}
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) tick() {
	start := time.Now()
	l.drain()

	if l.videoState == VideoPlaying {
		if f, ok := l.src.Latest(); ok {
			if err := l.renderer.SetVideoFrame(f); err != nil {
				debugMsg("ERROR", fmt.Sprintf("Video frame rejected: %v", err))
			}
		}
	}

	img, err := l.renderer.Tick()
	switch {
	case errors.Is(err, ErrNoViewport):
		l.publishStatus()
		return
	case err != nil:
		debugMsg("ERROR", fmt.Sprintf("Render tick failed: %v", err))
		l.publishStatus()
		return
	}

	for _, s := range l.opts.Surfaces {
		if err := s.Present(img); err != nil {
			l.presentErrors++
			debugMsgVerbose("LOOP", fmt.Sprintf("Present failed: %v", err))
		}
	}

	if l.opts.OnTick != nil {
		l.opts.OnTick(time.Since(start))
	}
	l.publishStatus()
}

// drain applies everything queued since the last tick so it lands in this
// frame.
func (l *Loop) drain() {
	for {
		select {
		case ev := <-l.events:
			ev()
		default:
			return
		}
	}
}

func (l *Loop) startVideo() {
	if l.videoState == VideoStarting || l.videoState == VideoPlaying {
		return
	}
	l.videoState = VideoStarting
	l.videoErr = nil
	debugMsg("LOOP", "Start trigger: opening video source")

	ctx, src := l.ctx, l.src
	go func() {
		err := src.Start(ctx)
		l.post(func() {
			if err != nil {
				l.videoState = VideoFailed
				l.videoErr = err
				debugMsg("ERROR", fmt.Sprintf("Video source failed to start: %v", err))
				return
			}
			l.videoState = VideoPlaying
			debugMsg("LOOP", "Video source playing")
		})
		if err != nil {
			return
		}

		ended := src.Done()
		select {
		case <-ended:
			l.post(l.videoEnded)
		case <-ctx.Done():
		}
	}()
}

// videoEnded moves a playing source that stopped on its own to VideoFailed so
// a later Start can reopen it. The last frame stays on screen.
func (l *Loop) videoEnded() {
	if l.videoState != VideoPlaying {
		return
	}
	err := l.src.Err()
	if err == nil {
		err = video.ErrStreamEnded
	}
	l.videoState = VideoFailed
	l.videoErr = err
	debugMsg("ERROR", fmt.Sprintf("Video source stopped: %v", err))
}

// post queues ev for the loop goroutine. It blocks while the queue is full
// and gives up once the loop has stopped.
func (l *Loop) post(ev func()) error {
	select {
	case <-l.done:
		return errLoopStopped
	default:
	}
	select {
	case l.events <- ev:
		return nil
	case <-l.done:
		return errLoopStopped
	}
}

// PushDetections queues a detection batch. Batches queued between two ticks
// all reach the mask before the next upload.
func (l *Loop) PushDetections(b trail.Batch) error {
	return l.post(func() {
		n := l.session.ApplyDetections(b)
		debugMsgVerbose("DETECT", fmt.Sprintf("Batch of %d detections, %d written", len(b.Objects), n))
	})
}

// Resize queues a viewport change, applied at the start of the next tick.
func (l *Loop) Resize(vp trail.Viewport) error {
	return l.post(func() { l.session.Resize(vp) })
}

// SetHeat switches heat mode on or off.
func (l *Loop) SetHeat(on bool) error {
	return l.post(func() { l.session.SetHeat(on) })
}

// ToggleHeat flips heat mode.
func (l *Loop) ToggleHeat() error {
	return l.post(func() { l.session.SetHeat(!l.session.Heat()) })
}

// Reset clears the trail. The grid keeps its size.
func (l *Loop) Reset() error {
	return l.post(func() { l.session.Reset() })
}

// Start fires the start trigger. It is a no-op while the video is starting
// or playing, and retries after a failure.
func (l *Loop) Start() error {
	return l.post(l.startVideo)
}

// Status returns the latest status snapshot.
func (l *Loop) Status() Status {
	l.statusMu.RLock()
	defer l.statusMu.RUnlock()
	return l.status
}

func (l *Loop) publishStatus() {
	st := Status{
		SessionID:     l.session.ID().String(),
		State:         l.session.State().String(),
		Video:         l.videoState,
		VideoSize:     l.session.Video(),
		Grid:          l.session.Grid(),
		Policy:        l.session.Policy().String(),
		Heat:          l.session.Heat(),
		Frames:        l.renderer.Frames(),
		PresentErrors: l.presentErrors,
		Session:       l.session.Stats(),
		UpdatedAt:     time.Now(),
	}
	if l.videoErr != nil {
		st.VideoError = l.videoErr.Error()
	}
	if tr, ok := l.session.Transform(); ok {
		st.Transform = &tr
	}

	l.statusMu.Lock()
	l.status = st
	l.statusMu.Unlock()
}
