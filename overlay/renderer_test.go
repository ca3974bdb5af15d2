package overlay

import (
	"image"
	"image/color"
	"testing"

	"anttrail/trail"
	"anttrail/video"
)

func solidFrame(w, h int, c color.RGBA, seq uint64) video.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return video.Frame{Image: img, Seq: seq}
}

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

func isBlack(c color.RGBA) bool { return c.R == 0 && c.G == 0 && c.B == 0 && c.A == 255 }
func isWhite(c color.RGBA) bool { return c.R >= 250 && c.G >= 250 && c.B >= 250 }

func TestRendererBlackBeforeVideo(t *testing.T) {
	s := trail.NewSession(trail.Options{Viewport: trail.Viewport{Width: 8, Height: 6}})
	r := NewRenderer(s)

	img, err := r.Tick()
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 6 {
		t.Fatalf("framebuffer = %v, want 8x6", img.Bounds())
	}
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			if c := img.RGBAAt(x, y); !isBlack(c) {
				t.Fatalf("pixel (%d,%d) = %v, want black", x, y, c)
			}
		}
	}
	if s.State() != trail.StateNotStarted {
		t.Errorf("State() = %v, want not-started", s.State())
	}
}

func TestRendererNoViewport(t *testing.T) {
	r := NewRenderer(trail.NewSession(trail.Options{}))
	if _, err := r.Tick(); err != ErrNoViewport {
		t.Errorf("Tick() error = %v, want ErrNoViewport", err)
	}
}

func TestRendererHitLandsTopLeftOfLetterbox(t *testing.T) {
	// zero edges keep the corner hit's density at 0
	s := trail.NewSession(trail.Options{
		Viewport: trail.Viewport{Width: 16, Height: 6, PixelRatio: 1},
		Edge:     trail.EdgeZero,
		Heat:     true,
	})
	r := NewRenderer(s)
	if err := r.SetVideoFrame(solidFrame(4, 3, white, 1)); err != nil {
		t.Fatalf("SetVideoFrame() error = %v", err)
	}
	if g := s.Grid(); g != (trail.Size{Width: 4, Height: 3}) {
		t.Fatalf("Grid() = %+v, want 4x3", g)
	}

	s.ApplyDetections(trail.Batch{Objects: []trail.Detection{{X: 0, Y: 0}}})
	img, err := r.Tick()
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	// 4:3 video in a 16x6 screen is pillarboxed to x in [4, 12)
	if c := img.RGBAAt(3, 0); !isBlack(c) {
		t.Errorf("left bar pixel = %v, want black", c)
	}
	if c := img.RGBAAt(12, 0); !isBlack(c) {
		t.Errorf("right bar pixel = %v, want black", c)
	}
	if c := img.RGBAAt(6, 3); !isWhite(c) {
		t.Errorf("video pixel = %v, want white", c)
	}

	// grid cell (0,0) covers 2x2 device pixels at the top-left of the plane
	ramp := trail.Viridis().At(0)
	for _, p := range []image.Point{{4, 0}, {5, 1}} {
		c := img.RGBAAt(p.X, p.Y)
		if c.R != ramp.R || c.G != ramp.G || c.B != ramp.B {
			t.Errorf("hit pixel %v = %v, want ramp(0) %v", p, c, ramp)
		}
	}
	for _, p := range []image.Point{{4, 5}, {6, 0}, {4, 2}} {
		if c := img.RGBAAt(p.X, p.Y); !isWhite(c) {
			t.Errorf("pixel %v = %v, want untouched video", p, c)
		}
	}
}

func TestRendererCornerHitUnderClamp(t *testing.T) {
	s := trail.NewSession(trail.Options{
		Viewport: trail.Viewport{Width: 16, Height: 6, PixelRatio: 1},
		Heat:     true,
	})
	r := NewRenderer(s)
	if err := r.SetVideoFrame(solidFrame(4, 3, white, 1)); err != nil {
		t.Fatal(err)
	}
	s.ApplyDetections(trail.Batch{Objects: []trail.Detection{{X: 0, Y: 0}}})
	img, err := r.Tick()
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	// three clamped neighbours of the corner read the hit itself
	want := trail.Viridis().At(3.0 / 8)
	if c := img.RGBAAt(4, 0); c.R != want.R || c.G != want.G || c.B != want.B {
		t.Errorf("corner pixel = %v, want ramp(3/8) %v", c, want)
	}
}

func TestRendererSkipsRepeatedFrame(t *testing.T) {
	s := trail.NewSession(trail.Options{Viewport: trail.Viewport{Width: 4, Height: 3}})
	r := NewRenderer(s)

	f := solidFrame(4, 3, white, 7)
	if err := r.SetVideoFrame(f); err != nil {
		t.Fatal(err)
	}
	r.Tick()
	cached := r.video

	if err := r.SetVideoFrame(f); err != nil {
		t.Fatal(err)
	}
	r.Tick()
	if r.video != cached {
		t.Error("same frame was uploaded twice")
	}

	if err := r.SetVideoFrame(solidFrame(4, 3, white, 8)); err != nil {
		t.Fatal(err)
	}
	r.Tick()
	if r.video == cached {
		t.Error("new frame was not uploaded")
	}
}

func TestRendererResizeTakesEffectNextTick(t *testing.T) {
	s := trail.NewSession(trail.Options{Viewport: trail.Viewport{Width: 8, Height: 6}})
	r := NewRenderer(s)
	if err := r.SetVideoFrame(solidFrame(4, 3, white, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Tick(); err != nil {
		t.Fatal(err)
	}

	s.Resize(trail.Viewport{Width: 10, Height: 5, PixelRatio: 2})
	img, err := r.Tick()
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 10 {
		t.Errorf("framebuffer = %v, want 20x10 device pixels", img.Bounds())
	}
	if g := s.Grid(); g != (trail.Size{Width: 4, Height: 3}) {
		t.Errorf("Grid() = %+v, resize must not resize the grid", g)
	}
}

func TestFlipRows(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1, 3))
	for y := 0; y < 3; y++ {
		src.SetNRGBA(0, y, color.NRGBA{R: uint8(y), A: 255})
	}
	dst := image.NewNRGBA(image.Rect(0, 0, 1, 3))
	flipRows(dst, src)
	for y := 0; y < 3; y++ {
		if got := dst.NRGBAAt(0, y).R; got != uint8(2-y) {
			t.Errorf("row %d = %d, want %d", y, got, 2-y)
		}
	}
}
