package trail

import (
	"image/color"
	"testing"
)

func near(a, b color.NRGBA, tol int) bool {
	d := func(x, y uint8) int {
		if x > y {
			return int(x - y)
		}
		return int(y - x)
	}
	return d(a.R, b.R) <= tol && d(a.G, b.G) <= tol && d(a.B, b.B) <= tol
}

func TestViridisEndpoints(t *testing.T) {
	r := Viridis()

	lo := color.NRGBA{R: 0x44, G: 0x01, B: 0x54, A: 255}
	if c := r.Sample(0); !near(c, lo, 4) {
		t.Errorf("Sample(0) = %v, want about %v", c, lo)
	}
	hi := color.NRGBA{R: 0xfd, G: 0xe7, B: 0x25, A: 255}
	if c := r.Sample(RampSamples - 1); !near(c, hi, 2) {
		t.Errorf("Sample(255) = %v, want about %v", c, hi)
	}
	// the last quarter is flat
	if c := r.Sample(200); !near(c, hi, 2) {
		t.Errorf("Sample(200) = %v, want about %v", c, hi)
	}
}

func TestRampAtClamps(t *testing.T) {
	r := Viridis()
	if r.At(-1) != r.At(0) {
		t.Errorf("At(-1) = %v, want At(0) = %v", r.At(-1), r.At(0))
	}
	if r.At(2) != r.Sample(RampSamples-1) {
		t.Errorf("At(2) = %v, want %v", r.At(2), r.Sample(RampSamples-1))
	}
	if r.Sample(-5) != r.Sample(0) || r.Sample(1000) != r.Sample(RampSamples-1) {
		t.Error("Sample() does not clamp its index")
	}
}

func TestRampOpaque(t *testing.T) {
	r := NewColorRamp([]Stop{{0, "#000000"}, {1, "#ffffff"}})
	for i := 0; i < RampSamples; i++ {
		if a := r.Sample(i).A; a != 255 {
			t.Fatalf("Sample(%d).A = %d, want 255", i, a)
		}
	}
	for i := 1; i < RampSamples; i++ {
		if r.Sample(i).R < r.Sample(i-1).R {
			t.Fatalf("Sample(%d) darker than Sample(%d)", i, i-1)
		}
	}
}

func TestViridisBlendsInSRGB(t *testing.T) {
	r := Viridis()
	tests := []struct {
		i    int
		want color.NRGBA
	}{
		{16, color.NRGBA{R: 59, G: 38, B: 98, A: 255}},
		{32, color.NRGBA{R: 50, G: 74, B: 112, A: 255}},
		{96, color.NRGBA{R: 64, G: 176, B: 109, A: 255}},
	}
	for _, tt := range tests {
		if c := r.Sample(tt.i); !near(c, tt.want, 1) {
			t.Errorf("Sample(%d) = %v, want about %v", tt.i, c, tt.want)
		}
	}

	grey := NewColorRamp([]Stop{{1, "#ffffff"}, {0, "#000000"}})
	if c := grey.Sample(127); !near(c, color.NRGBA{R: 127, G: 127, B: 127, A: 255}, 1) {
		t.Errorf("grey midpoint = %v, want about 127", c)
	}
}
