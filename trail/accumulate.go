package trail

// Accumulator merges the mask into a persistent state with two textures used
// round robin. The leading slot is always the write target of the next Step;
// the other slot holds the latest complete state.
type Accumulator struct {
	buffers [2]*Texture
	leading int
	steps   uint64
}

// NewAccumulator allocates both buffers cleared to zero.
func NewAccumulator(size Size, edge EdgeMode) *Accumulator {
	return &Accumulator{
		buffers: [2]*Texture{
			NewTexture(size.Width, size.Height, edge),
			NewTexture(size.Width, size.Height, edge),
		},
		// A is written first, so B (all zero) is the initial previous state.
		leading: 0,
	}
}

// Step reads the previous state and the mask, writes max(prev, mask) into
// the leading buffer and then flips. The buffer being written is never read
// in the same step.
func (a *Accumulator) Step(mask *Texture) {
	prev := a.buffers[1-a.leading]
	next := a.buffers[a.leading]
	w, h := next.width, next.height

	runPass(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			// fragment centre over the target size
			v := (float64(y) + 0.5) / float64(h)
			row := next.pix[y*w : (y+1)*w]
			for x := range row {
				u := (float64(x) + 0.5) / float64(w)
				p := prev.Sample(u, v)
				if m := mask.Sample(u, v); m > p {
					p = m
				}
				row[x] = p
			}
		}
	})

	a.leading = 1 - a.leading
	a.steps++
}

// Current returns the most recently completed state.
func (a *Accumulator) Current() *Texture {
	return a.buffers[1-a.leading]
}

// Leading returns the index (0 for A, 1 for B) the next Step writes to.
func (a *Accumulator) Leading() int { return a.leading }

// Steps returns how many steps ran since creation or the last Reset.
func (a *Accumulator) Steps() uint64 { return a.steps }

// Reset clears both buffers. This is the only way a value ever decreases.
func (a *Accumulator) Reset() {
	a.buffers[0].Fill(0)
	a.buffers[1].Fill(0)
	a.leading = 0
	a.steps = 0
}
