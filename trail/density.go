package trail

import (
	"fmt"
	"image"
)

// Uniforms are the per-draw inputs of the color stage.
type Uniforms struct {
	// Resolution of the output target in device pixels.
	Resolution Size
	// Heat selects the ramp colored mode; otherwise the trail is drawn black.
	Heat bool
}

// neighbours are the 8 principal one-texel offsets.
var neighbours = [8][2]int{
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
	{1, 1}, {-1, 1}, {1, -1}, {-1, -1},
}

// Density returns the mean of the 8 neighbours of texel (x, y), clamped to
// [0, 1]. The centre texel is not part of the mean.
func Density(tex *Texture, x, y int) float32 {
	var s float32
	for _, o := range neighbours {
		s += tex.At(x+o[0], y+o[1])
	}
	d := s / 8
	if d < 0 {
		return 0
	}
	if d > 1 {
		return 1
	}
	return d
}

// Shader is the density/color stage.
type Shader struct {
	ramp *ColorRamp
}

// NewShader creates the color stage over an immutable ramp.
func NewShader(ramp *ColorRamp) *Shader {
	return &Shader{ramp: ramp}
}

// Ramp returns the ramp used in heat mode.
func (s *Shader) Ramp() *ColorRamp { return s.ramp }

// Shade runs the color stage over every fragment of dst. dst row 0 is the
// bottom row of the target (framebuffer orientation); the compositor flips
// it through the overlay plane's negative Y scale.
//
// Heat mode outputs ramp(density) with alpha = raw value, so isolated hits
// stay visible. Flat mode outputs black with alpha = raw value.
func (s *Shader) Shade(state *Texture, u Uniforms, dst *image.NRGBA) error {
	if u.Resolution.Empty() {
		return fmt.Errorf("shade: %w: %dx%d", ErrInvalidGrid, u.Resolution.Width, u.Resolution.Height)
	}
	b := dst.Bounds()
	if b.Dx() != u.Resolution.Width || b.Dy() != u.Resolution.Height {
		return fmt.Errorf("shade: target %dx%d does not match resolution %dx%d",
			b.Dx(), b.Dy(), u.Resolution.Width, u.Resolution.Height)
	}

	w, h := u.Resolution.Width, u.Resolution.Height
	tw, th := float64(state.width), float64(state.height)

	runPass(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			ty := int((float64(y) + 0.5) / float64(h) * th)
			row := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
			for x := 0; x < w; x++ {
				tx := int((float64(x) + 0.5) / float64(w) * tw)
				px := row[x*4 : x*4+4 : x*4+4]

				v := state.At(tx, ty)
				if v <= 0 {
					px[0], px[1], px[2], px[3] = 0, 0, 0, 0
					continue
				}

				a := to8(float64(v))
				if !u.Heat {
					px[0], px[1], px[2], px[3] = 0, 0, 0, a
					continue
				}
				c := s.ramp.At(Density(state, tx, ty))
				px[0], px[1], px[2], px[3] = c.R, c.G, c.B, a
			}
		}
	})
	return nil
}
