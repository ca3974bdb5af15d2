package trail

import (
	"image"
	"math"
)

// Scale is the (x, y) scale applied to a full-screen plane.
type Scale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the display size in logical pixels plus the device pixel ratio.
type Viewport struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	PixelRatio float64 `json:"pixel_ratio"`
}

// Ratio returns the device pixel ratio, defaulting to 1 when unset or invalid.
func (v Viewport) Ratio() float64 {
	if !(v.PixelRatio > 0) || math.IsInf(v.PixelRatio, 0) {
		return 1
	}
	return v.PixelRatio
}

// DevicePixels converts the logical size to device pixels.
func (v Viewport) DevicePixels() Size {
	r := v.Ratio()
	return Size{
		Width:  int(math.Round(float64(v.Width) * r)),
		Height: int(math.Round(float64(v.Height) * r)),
	}
}

// ComputeScale returns the plane scale that letterboxes content of
// videoAspect into a screen of screenAspect without distortion.
func ComputeScale(videoAspect, screenAspect float64) (sx, sy float64) {
	if !finitePositive(videoAspect) || !finitePositive(screenAspect) {
		return 1, 1
	}
	if screenAspect > videoAspect {
		return videoAspect / screenAspect, 1
	}
	return 1, screenAspect / videoAspect
}

// Transform is everything derived from one resize event.
type Transform struct {
	// Video is the scale of the background plane.
	Video Scale `json:"video"`
	// Overlay is the scale of the trail plane. Y is negated because the
	// simulation grid has a top-left origin while the framebuffer is
	// bottom-left.
	Overlay Scale `json:"overlay"`
	// Resolution is the framebuffer size in device pixels.
	Resolution Size `json:"resolution"`
}

// Rect returns the device pixel rectangle covered by a plane of scale s,
// centred in the framebuffer.
func (t Transform) Rect(s Scale) image.Rectangle {
	w := int(math.Round(math.Abs(s.X) * float64(t.Resolution.Width)))
	h := int(math.Round(math.Abs(s.Y) * float64(t.Resolution.Height)))
	x0 := (t.Resolution.Width - w) / 2
	y0 := (t.Resolution.Height - h) / 2
	return image.Rect(x0, y0, x0+w, y0+h)
}

// Mapper keeps video and overlay pixel aligned as the viewport changes.
type Mapper struct {
	video   Size
	last    Viewport
	current Transform
	ok      bool
}

// NewMapper creates a mapper. video may be empty until the first frame.
func NewMapper(video Size) *Mapper {
	return &Mapper{video: video}
}

// SetVideo records the video resolution and reapplies the last viewport.
func (m *Mapper) SetVideo(video Size) {
	m.video = video
	if m.ok {
		m.Apply(m.last)
	}
}

// Apply recomputes the transform for vp. A zero-area or non-finite viewport
// is a no-op: the previous transform stays and ok is false.
func (m *Mapper) Apply(vp Viewport) (Transform, bool) {
	dev := vp.DevicePixels()
	if dev.Empty() {
		debugMsg("VIEWPORT", "ignoring zero-area viewport")
		return m.current, false
	}

	sx, sy := 1.0, 1.0
	if !m.video.Empty() {
		va := float64(m.video.Width) / float64(m.video.Height)
		sa := float64(vp.Width) / float64(vp.Height)
		sx, sy = ComputeScale(va, sa)
	}

	m.last = vp
	m.current = Transform{
		Video:      Scale{X: sx, Y: sy},
		Overlay:    Scale{X: sx, Y: -sy},
		Resolution: dev,
	}
	m.ok = true
	return m.current, true
}

// Current returns the transform in effect and whether any resize was applied.
func (m *Mapper) Current() (Transform, bool) {
	return m.current, m.ok
}

// Viewport returns the last applied viewport.
func (m *Mapper) Viewport() Viewport { return m.last }

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
