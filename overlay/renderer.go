// Package overlay composites the trail overlay on top of the video plane and
// drives the per-tick render loop.
package overlay

import (
	"errors"
	"fmt"
	"image"

	"anttrail/trail"
	"anttrail/video"

	"github.com/gogpu/gg"
	xdraw "golang.org/x/image/draw"
)

// ErrNoViewport is returned by Tick until a valid viewport size is known.
var ErrNoViewport = errors.New("no viewport size yet")

// debugMsgFunc is a function that will be set by main package to use unified logging
var debugMsgFunc func(component, message string)

// debugMsgVerboseFunc is a function that will be set by main package for verbose logging only
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

// Renderer draws one composited frame per tick: the letterboxed video plane
// first, then the trail plane alpha-blended over it.
type Renderer struct {
	session *trail.Session
	dc      *gg.Context

	frame    *image.RGBA
	videoSeq uint64
	hasVideo bool

	// video plane scaled to its letterbox rectangle, rebuilt when the frame
	// or the rectangle changes
	video     *gg.ImageBuf
	videoRect image.Rectangle
	scaled    *image.RGBA

	// overlay target, sized to the trail plane in device pixels
	shaded  *image.NRGBA
	flipped *image.NRGBA

	frames uint64
}

// NewRenderer creates a renderer for session. The framebuffer is sized on
// the first tick from the session transform.
func NewRenderer(session *trail.Session) *Renderer {
	return &Renderer{
		session: session,
		dc:      gg.NewContext(1, 1),
	}
}

// Session returns the session the renderer draws.
func (r *Renderer) Session() *trail.Session { return r.session }

// Frames returns how many frames were composited.
func (r *Renderer) Frames() uint64 { return r.frames }

// SetVideoFrame uploads f as the video texture if it is newer than the one
// already held. The first frame sizes the simulation grid.
func (r *Renderer) SetVideoFrame(f video.Frame) error {
	if f.Image == nil || (r.hasVideo && f.Seq == r.videoSeq) {
		return nil
	}
	if err := r.session.Init(trail.Size{Width: f.Width(), Height: f.Height()}); err != nil {
		return fmt.Errorf("set video frame: %w", err)
	}
	r.frame = f.Image
	r.videoSeq = f.Seq
	r.hasVideo = true
	r.video = nil
	return nil
}

// Tick renders one frame and returns the composited image. The returned
// image is owned by the caller.
func (r *Renderer) Tick() (*image.RGBA, error) {
	tr, ok := r.session.BeginTick()
	if !ok {
		return nil, ErrNoViewport
	}
	if err := r.dc.Resize(tr.Resolution.Width, tr.Resolution.Height); err != nil {
		return nil, fmt.Errorf("resize framebuffer: %w", err)
	}

	r.dc.ClearWithColor(gg.Black)
	if r.hasVideo {
		r.drawVideo(tr.Rect(tr.Video))
	}

	if r.session.State() == trail.StateRunning {
		if err := r.session.Step(); err != nil {
			return nil, err
		}
		if err := r.drawOverlay(tr); err != nil {
			return nil, err
		}
	}

	r.frames++
	img, ok := r.dc.Image().(*image.RGBA)
	if !ok {
		return nil, fmt.Errorf("unexpected framebuffer type %T", r.dc.Image())
	}
	return img, nil
}

func (r *Renderer) drawOverlay(tr trail.Transform) error {
	rect := tr.Rect(tr.Overlay)
	if rect.Empty() {
		debugMsgVerbose("OVERLAY", "trail plane has no area, skipped")
		return nil
	}
	r.shaded = ensureTarget(r.shaded, rect.Dx(), rect.Dy())
	if err := r.session.Shade(r.shaded); err != nil {
		return fmt.Errorf("shade overlay: %w", err)
	}

	// Texture rows run bottom-up. A negative Y scale puts row 0, the top of
	// the grid, at the top of the plane; a positive one needs the rows flipped.
	src := r.shaded
	if tr.Overlay.Y > 0 {
		r.flipped = ensureTarget(r.flipped, rect.Dx(), rect.Dy())
		flipRows(r.flipped, r.shaded)
		src = r.flipped
	}
	r.drawPlane(gg.ImageBufFromImage(src), rect)
	return nil
}

func (r *Renderer) drawVideo(rect image.Rectangle) {
	if rect.Empty() {
		return
	}
	if r.video == nil || r.videoRect.Size() != rect.Size() {
		// linear filtering, like the video texture sampler
		r.scaled = ensureRGBA(r.scaled, rect.Dx(), rect.Dy())
		xdraw.ApproxBiLinear.Scale(r.scaled, r.scaled.Bounds(), r.frame, r.frame.Bounds(), xdraw.Src, nil)
		r.video = gg.ImageBufFromImage(r.scaled)
	}
	r.videoRect = rect
	r.drawPlane(r.video, rect)
}

// drawPlane blends buf 1:1 at rect; planes are scaled before they get here.
func (r *Renderer) drawPlane(buf *gg.ImageBuf, rect image.Rectangle) {
	r.dc.DrawImageEx(buf, gg.DrawImageOptions{
		X:             float64(rect.Min.X),
		Y:             float64(rect.Min.Y),
		Interpolation: gg.InterpNearest,
		Opacity:       1,
		BlendMode:     gg.BlendNormal,
	})
}

func ensureRGBA(img *image.RGBA, w, h int) *image.RGBA {
	if img != nil && img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		return img
	}
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func ensureTarget(img *image.NRGBA, w, h int) *image.NRGBA {
	if img != nil && img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		return img
	}
	return image.NewNRGBA(image.Rect(0, 0, w, h))
}

func flipRows(dst, src *image.NRGBA) {
	h := src.Bounds().Dy()
	n := src.Bounds().Dx() * 4
	for y := 0; y < h; y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+n], src.Pix[(h-1-y)*src.Stride:(h-1-y)*src.Stride+n])
	}
}
