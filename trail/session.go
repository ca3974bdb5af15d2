package trail

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/google/uuid"
)

var (
	// ErrNotStarted is returned by operations that need the simulation
	// buffers before the first video frame sized them.
	ErrNotStarted = errors.New("session not started: no video frame yet")
	// ErrInvalidGrid is returned for zero-area grids and targets.
	ErrInvalidGrid = errors.New("invalid grid size")
)

// State is the lifecycle state of a session.
type State int

const (
	// StateNotStarted means no video frame has arrived; no buffers exist.
	StateNotStarted State = iota
	// StateRunning means the simulation buffers exist.
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "not-started"
}

// Options configure a session.
type Options struct {
	Policy   Policy
	Edge     EdgeMode
	Ramp     *ColorRamp
	Heat     bool
	Viewport Viewport
}

// Stats are counters of a session, all monotonic until Reset.
type Stats struct {
	Batches        uint64 `json:"batches"`
	Detections     uint64 `json:"detections"`
	Written        uint64 `json:"written"`
	Clipped        uint64 `json:"clipped"`
	EarlyBatches   uint64 `json:"early_batches"`
	Uploads        uint64 `json:"uploads"`
	Steps          uint64 `json:"steps"`
	Resizes        uint64 `json:"resizes"`
	IgnoredResizes uint64 `json:"ignored_resizes"`
	Resets         uint64 `json:"resets"`
}

// Session owns every piece of simulation state of one viewing session.
// It is not safe for concurrent use; a single loop goroutine drives it.
type Session struct {
	id     uuid.UUID
	opts   Options
	state  State
	video  Size
	grid   Size
	heat   bool
	shader *Shader
	mapper *Mapper

	mask    *Mask
	maskTex *Texture
	acc     *Accumulator
	merged  bool // the uploaded mask has been merged at least once

	pending *Viewport
	stats   Stats
}

// NewSession creates a session in StateNotStarted.
func NewSession(opts Options) *Session {
	if opts.Ramp == nil {
		opts.Ramp = Viridis()
	}
	s := &Session{
		id:     uuid.New(),
		opts:   opts,
		heat:   opts.Heat,
		shader: NewShader(opts.Ramp),
		mapper: NewMapper(Size{}),
	}
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		vp := opts.Viewport
		s.pending = &vp
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Policy returns the configured persistence policy.
func (s *Session) Policy() Policy { return s.opts.Policy }

// Grid returns the simulation grid size, empty before Init.
func (s *Session) Grid() Size { return s.grid }

// Video returns the video resolution the session was started with.
func (s *Session) Video() Size { return s.video }

// Stats returns a copy of the counters.
func (s *Session) Stats() Stats { return s.stats }

// Heat reports whether heat mode is on.
func (s *Session) Heat() bool { return s.heat }

// SetHeat switches between heat and flat mode. It takes effect on the next
// Shade.
func (s *Session) SetHeat(on bool) { s.heat = on }

// Init creates all simulation buffers, sized once from the first video
// frame times the current device pixel ratio. Later calls are no-ops: the
// grid never changes within a session.
func (s *Session) Init(video Size) error {
	if s.state == StateRunning {
		return nil
	}
	if video.Empty() {
		return fmt.Errorf("init: video %dx%d: %w", video.Width, video.Height, ErrInvalidGrid)
	}

	ratio := s.ratio()
	grid := Size{
		Width:  int(math.Round(float64(video.Width) * ratio)),
		Height: int(math.Round(float64(video.Height) * ratio)),
	}
	if grid.Empty() {
		return fmt.Errorf("init: grid %dx%d: %w", grid.Width, grid.Height, ErrInvalidGrid)
	}

	s.video = video
	s.grid = grid
	s.mask = NewMask(grid, s.opts.Policy)
	s.maskTex = NewTexture(grid.Width, grid.Height, s.opts.Edge)
	if s.opts.Policy == PolicyAccumulate {
		s.acc = NewAccumulator(grid, s.opts.Edge)
	}
	// the aspect ratio is known from here on, so the scale is recomputed
	s.mapper.SetVideo(video)
	s.state = StateRunning

	debugMsg("SESSION", fmt.Sprintf("Session %s started: video %dx%d, grid %dx%d (ratio %.2f), policy %s, edge %s",
		s.id, video.Width, video.Height, grid.Width, grid.Height, ratio, s.opts.Policy, s.opts.Edge))
	return nil
}

func (s *Session) ratio() float64 {
	if s.pending != nil {
		return s.pending.Ratio()
	}
	if _, ok := s.mapper.Current(); ok {
		return s.mapper.Viewport().Ratio()
	}
	return s.opts.Viewport.Ratio()
}

// ApplyDetections writes a batch into the mask and returns the number of
// cells written. Before Init the batch is dropped.
func (s *Session) ApplyDetections(batch Batch) int {
	s.stats.Batches++
	s.stats.Detections += uint64(len(batch.Objects))
	if s.state != StateRunning {
		s.stats.EarlyBatches++
		return 0
	}
	n := s.mask.Apply(batch)
	s.stats.Written += uint64(n)
	s.stats.Clipped += uint64(len(batch.Objects) - n)
	return n
}

// Resize queues a viewport change. It is applied by the next BeginTick so a
// tick already in flight keeps its transform.
func (s *Session) Resize(vp Viewport) {
	s.pending = &vp
}

// BeginTick applies a queued resize and returns the transform for this tick.
// ok is false until a valid viewport has been applied.
func (s *Session) BeginTick() (Transform, bool) {
	if s.pending != nil {
		vp := *s.pending
		s.pending = nil
		if _, ok := s.mapper.Apply(vp); ok {
			s.stats.Resizes++
		} else {
			s.stats.IgnoredResizes++
		}
	}
	return s.mapper.Current()
}

// Step uploads the mask if it is dirty and runs the accumulation stage when
// the policy uses it. Idle ticks skip the merge since max is idempotent.
func (s *Session) Step() error {
	if s.state != StateRunning {
		return ErrNotStarted
	}
	if s.mask.Upload(s.maskTex) {
		s.stats.Uploads++
		s.merged = false
	}
	if s.acc == nil || s.merged {
		return nil
	}
	s.acc.Step(s.maskTex)
	s.merged = true
	s.stats.Steps++
	return nil
}

// Source returns the texture the color stage reads: the accumulated state,
// or the mask texture under PolicyPersistentMask.
func (s *Session) Source() *Texture {
	if s.acc != nil {
		return s.acc.Current()
	}
	return s.maskTex
}

// Shade renders the overlay for the current state into dst, whose size is
// the device pixel resolution of the overlay plane.
func (s *Session) Shade(dst *image.NRGBA) error {
	if s.state != StateRunning {
		return ErrNotStarted
	}
	b := dst.Bounds()
	return s.shader.Shade(s.Source(), Uniforms{
		Resolution: Size{Width: b.Dx(), Height: b.Dy()},
		Heat:       s.heat,
	}, dst)
}

// Value returns the persistent value of grid cell (x, y) as the color stage
// would read it.
func (s *Session) Value(x, y int) float32 {
	if s.state != StateRunning || !s.grid.Contains(x, y) {
		return 0
	}
	return s.Source().At(x, y)
}

// Reset clears the mask and both accumulation buffers. Buffers keep their
// size; a reset is not a new session.
func (s *Session) Reset() {
	s.stats.Resets++
	if s.state != StateRunning {
		return
	}
	s.mask.Reset()
	s.maskTex.Fill(0)
	if s.acc != nil {
		s.acc.Reset()
	}
	s.merged = false
	debugMsg("SESSION", fmt.Sprintf("Session %s trail reset", s.id))
}

// Transform returns the transform in effect.
func (s *Session) Transform() (Transform, bool) {
	return s.mapper.Current()
}
