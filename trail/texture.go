package trail

import (
	"fmt"
	"math"
	"strings"
)

// EdgeMode decides what a sample outside the texture reads.
type EdgeMode int

const (
	// EdgeClamp repeats the border texel (the sampler default).
	EdgeClamp EdgeMode = iota
	// EdgeZero reads 0 outside the texture.
	EdgeZero
	// EdgeWrap wraps around to the opposite border.
	EdgeWrap
)

// ParseEdgeMode converts a config string into an EdgeMode.
func ParseEdgeMode(s string) (EdgeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "clamp":
		return EdgeClamp, nil
	case "zero", "border":
		return EdgeZero, nil
	case "wrap", "repeat":
		return EdgeWrap, nil
	}
	return EdgeClamp, fmt.Errorf("unknown edge mode %q", s)
}

func (e EdgeMode) String() string {
	switch e {
	case EdgeZero:
		return "zero"
	case EdgeWrap:
		return "wrap"
	default:
		return "clamp"
	}
}

// Texture is a single channel float texture with nearest filtering.
// Row 0 is v=0, the bottom row in framebuffer orientation.
type Texture struct {
	width  int
	height int
	pix    []float32
	edge   EdgeMode
}

// NewTexture allocates a zeroed texture.
func NewTexture(width, height int, edge EdgeMode) *Texture {
	return &Texture{
		width:  width,
		height: height,
		pix:    make([]float32, width*height),
		edge:   edge,
	}
}

// Width returns the texture width in texels.
func (t *Texture) Width() int { return t.width }

// Height returns the texture height in texels.
func (t *Texture) Height() int { return t.height }

// Edge returns the edge mode used for out of range reads.
func (t *Texture) Edge() EdgeMode { return t.edge }

// At reads texel (x, y), applying the edge mode when it is outside the texture.
func (t *Texture) At(x, y int) float32 {
	if x < 0 || x >= t.width || y < 0 || y >= t.height {
		switch t.edge {
		case EdgeZero:
			return 0
		case EdgeWrap:
			x = wrap(x, t.width)
			y = wrap(y, t.height)
		default:
			x = clampInt(x, 0, t.width-1)
			y = clampInt(y, 0, t.height-1)
		}
	}
	return t.pix[y*t.width+x]
}

// Sample reads the texel containing normalized coordinate (u, v).
func (t *Texture) Sample(u, v float64) float32 {
	return t.At(int(math.Floor(u*float64(t.width))), int(math.Floor(v*float64(t.height))))
}

// Set writes texel (x, y). Out of range writes are ignored.
func (t *Texture) Set(x, y int, v float32) {
	if x < 0 || x >= t.width || y < 0 || y >= t.height {
		return
	}
	t.pix[y*t.width+x] = v
}

// Fill sets every texel to v.
func (t *Texture) Fill(v float32) {
	for i := range t.pix {
		t.pix[i] = v
	}
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
