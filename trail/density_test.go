package trail

import (
	"image"
	"testing"
)

func TestDensityIsolatedHit(t *testing.T) {
	tex := NewTexture(5, 5, EdgeClamp)
	tex.Set(2, 2, 1)

	if d := Density(tex, 2, 2); d != 0 {
		t.Errorf("Density() at isolated hit = %v, want 0", d)
	}
	if d := Density(tex, 1, 2); d != 1.0/8 {
		t.Errorf("Density() next to hit = %v, want %v", d, 1.0/8)
	}
}

func TestDensityFullNeighbourhood(t *testing.T) {
	tex := NewTexture(3, 3, EdgeClamp)
	tex.Fill(1)
	if d := Density(tex, 1, 1); d != 1 {
		t.Errorf("Density() = %v, want 1", d)
	}
}

func TestDensityEdgeModes(t *testing.T) {
	tests := []struct {
		edge EdgeMode
		want float32
	}{
		// the corner hit reads itself through the clamped offsets
		{EdgeClamp, 3.0 / 8},
		{EdgeZero, 0},
		// wrapping reaches the opposite corner
		{EdgeWrap, 1.0 / 8},
	}
	for _, tt := range tests {
		t.Run(tt.edge.String(), func(t *testing.T) {
			tex := NewTexture(4, 4, tt.edge)
			tex.Set(0, 0, 1)
			tex.Set(3, 3, 1)
			if got := Density(tex, 0, 0); got != tt.want {
				t.Errorf("Density() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDensityCornerUnderClamp(t *testing.T) {
	tex := NewTexture(5, 5, EdgeClamp)
	tex.Set(0, 0, 1)

	// (-1,-1), (0,-1) and (-1,0) clamp back onto the hit
	if got := Density(tex, 0, 0); got != 3.0/8 {
		t.Errorf("corner Density() = %v, want 3/8", got)
	}
	// one cell in, only the diagonal neighbour is hit
	if got := Density(tex, 1, 1); got != 1.0/8 {
		t.Errorf("Density(1,1) = %v, want 1/8", got)
	}
	if got := Density(tex, 2, 2); got != 0 {
		t.Errorf("Density(2,2) = %v, want 0", got)
	}
}

func shadeTarget(w, h int) *image.NRGBA {
	return image.NewNRGBA(image.Rect(0, 0, w, h))
}

func TestShadeIsolatedHitVisibleInHeatMode(t *testing.T) {
	tex := NewTexture(3, 3, EdgeZero)
	tex.Set(1, 1, 1)
	sh := NewShader(Viridis())
	dst := shadeTarget(3, 3)

	if err := sh.Shade(tex, Uniforms{Resolution: Size{Width: 3, Height: 3}, Heat: true}, dst); err != nil {
		t.Fatalf("Shade() error = %v", err)
	}

	c := dst.NRGBAAt(1, 1)
	if c.A != 255 {
		t.Errorf("alpha at isolated hit = %d, want 255", c.A)
	}
	want := sh.Ramp().At(0)
	if c.R != want.R || c.G != want.G || c.B != want.B {
		t.Errorf("color at isolated hit = %v, want ramp(0) = %v", c, want)
	}
	if a := dst.NRGBAAt(0, 0).A; a != 0 {
		t.Errorf("alpha next to hit = %d, want 0", a)
	}
}

func TestShadeFlatMode(t *testing.T) {
	tex := NewTexture(3, 3, EdgeClamp)
	tex.Fill(1)
	dst := shadeTarget(3, 3)

	if err := NewShader(Viridis()).Shade(tex, Uniforms{Resolution: Size{Width: 3, Height: 3}}, dst); err != nil {
		t.Fatalf("Shade() error = %v", err)
	}
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			c := dst.NRGBAAt(x, y)
			if c.R != 0 || c.G != 0 || c.B != 0 || c.A != 255 {
				t.Fatalf("flat mode pixel (%d,%d) = %v, want opaque black", x, y, c)
			}
		}
	}
}

func TestShadeSaturated(t *testing.T) {
	tex := NewTexture(3, 3, EdgeClamp)
	tex.Fill(1)
	sh := NewShader(Viridis())
	dst := shadeTarget(3, 3)

	if err := sh.Shade(tex, Uniforms{Resolution: Size{Width: 3, Height: 3}, Heat: true}, dst); err != nil {
		t.Fatalf("Shade() error = %v", err)
	}
	c := dst.NRGBAAt(1, 1)
	top := sh.Ramp().Sample(RampSamples - 1)
	if c.R != top.R || c.G != top.G || c.B != top.B || c.A != 255 {
		t.Errorf("saturated pixel = %v, want %v opaque", c, top)
	}
}

func TestShadeZeroStateTransparent(t *testing.T) {
	tex := NewTexture(16, 9, EdgeClamp)
	sh := NewShader(Viridis())

	for _, heat := range []bool{false, true} {
		dst := shadeTarget(32, 18)
		if err := sh.Shade(tex, Uniforms{Resolution: Size{Width: 32, Height: 18}, Heat: heat}, dst); err != nil {
			t.Fatalf("Shade() error = %v", err)
		}
		for i := 3; i < len(dst.Pix); i += 4 {
			if dst.Pix[i] != 0 {
				t.Fatalf("heat=%v: alpha %d at byte %d, want 0", heat, dst.Pix[i], i)
			}
		}
	}
}

func TestShadeUpscalesNearest(t *testing.T) {
	tex := NewTexture(2, 2, EdgeClamp)
	tex.Set(1, 0, 1)
	dst := shadeTarget(4, 4)

	if err := NewShader(Viridis()).Shade(tex, Uniforms{Resolution: Size{Width: 4, Height: 4}}, dst); err != nil {
		t.Fatalf("Shade() error = %v", err)
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			want := uint8(0)
			if x >= 2 && y < 2 {
				want = 255
			}
			if a := dst.NRGBAAt(x, y).A; a != want {
				t.Errorf("alpha (%d,%d) = %d, want %d", x, y, a, want)
			}
		}
	}
}

func TestShadeRejectsMismatchedTarget(t *testing.T) {
	tex := NewTexture(2, 2, EdgeClamp)
	sh := NewShader(Viridis())
	if err := sh.Shade(tex, Uniforms{Resolution: Size{Width: 4, Height: 4}}, shadeTarget(3, 4)); err == nil {
		t.Error("expected error for mismatched target")
	}
	if err := sh.Shade(tex, Uniforms{}, shadeTarget(0, 0)); err == nil {
		t.Error("expected error for empty resolution")
	}
}
