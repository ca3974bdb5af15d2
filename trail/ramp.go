package trail

import (
	"image/color"
	"math"
	"sort"

	"github.com/gogpu/gg"
)

// RampSamples is the number of texels in a color ramp.
const RampSamples = 256

// Stop is a color stop of a ramp gradient.
type Stop struct {
	Offset float64
	Hex    string
}

// ViridisStops are the stops of the default heat ramp.
var ViridisStops = []Stop{
	{0.0, "#440154"},
	{0.25, "#21918c"},
	{0.5, "#5ece4f"},
	{0.75, "#fde725"},
	{1.0, "#fde725"},
}

// ColorRamp maps a normalized density to a color. It is immutable once built.
type ColorRamp struct {
	samples [RampSamples]color.NRGBA
}

// NewColorRamp rasterizes a horizontal gradient through the stops into a
// RampSamples x 1 strip, sampling at texel centres. Neighbouring stops are
// blended in gamma-encoded sRGB, the way a 2D canvas gradient does it.
func NewColorRamp(stops []Stop) *ColorRamp {
	sorted := append([]Stop(nil), stops...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	r := &ColorRamp{}
	if len(sorted) == 0 {
		for i := range r.samples {
			r.samples[i] = color.NRGBA{A: 255}
		}
		return r
	}
	for i := range r.samples {
		c := stopColorAt(sorted, (float64(i)+0.5)/RampSamples)
		r.samples[i] = color.NRGBA{R: to8(c.R), G: to8(c.G), B: to8(c.B), A: 255}
	}
	return r
}

// stopColorAt blends the two stops around t. stops must be sorted.
func stopColorAt(stops []Stop, t float64) gg.RGBA {
	if t <= stops[0].Offset {
		return gg.Hex(stops[0].Hex)
	}
	for k := 1; k < len(stops); k++ {
		a, b := stops[k-1], stops[k]
		if t > b.Offset {
			continue
		}
		span := b.Offset - a.Offset
		if span <= 0 {
			return gg.Hex(b.Hex)
		}
		return gg.Hex(a.Hex).Lerp(gg.Hex(b.Hex), (t-a.Offset)/span)
	}
	return gg.Hex(stops[len(stops)-1].Hex)
}

// Viridis returns the default heat ramp.
func Viridis() *ColorRamp {
	return NewColorRamp(ViridisStops)
}

// Sample returns texel i of the ramp.
func (r *ColorRamp) Sample(i int) color.NRGBA {
	return r.samples[clampInt(i, 0, RampSamples-1)]
}

// At looks up t in [0, 1] with linear filtering between texel centres.
func (r *ColorRamp) At(t float32) color.NRGBA {
	if !(t > 0) {
		t = 0
	} else if t > 1 {
		t = 1
	}
	x := float64(t)*RampSamples - 0.5
	i0 := int(math.Floor(x))
	f := x - float64(i0)
	a, b := r.Sample(i0), r.Sample(i0+1)
	return color.NRGBA{
		R: lerp8(a.R, b.R, f),
		G: lerp8(a.G, b.G, f),
		B: lerp8(a.B, b.B, f),
		A: 255,
	}
}

func lerp8(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}

func to8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(v * 255))
}
