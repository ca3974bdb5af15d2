package trail

import (
	"math/rand"
	"testing"
)

func TestAccumulatorPingPong(t *testing.T) {
	acc := NewAccumulator(Size{Width: 3, Height: 3}, EdgeClamp)
	mask := NewTexture(3, 3, EdgeClamp)

	if acc.Leading() != 0 {
		t.Fatalf("Leading() = %d, want 0", acc.Leading())
	}
	first := acc.buffers[0]

	mask.Set(1, 1, 1)
	acc.Step(mask)

	if acc.Leading() != 1 {
		t.Errorf("Leading() after step = %d, want 1", acc.Leading())
	}
	if acc.Current() != first {
		t.Error("Current() should be the buffer just written")
	}
	if acc.Current().At(1, 1) != 1 {
		t.Errorf("state (1,1) = %v, want 1", acc.Current().At(1, 1))
	}

	mask.Fill(0)
	acc.Step(mask)
	if acc.Current() == first {
		t.Error("second step should write the other buffer")
	}
	if acc.Current().At(1, 1) != 1 {
		t.Error("hit lost after merging an empty mask")
	}
}

func TestAccumulatorEmptyStaysZero(t *testing.T) {
	acc := NewAccumulator(Size{Width: 8, Height: 8}, EdgeClamp)
	mask := NewTexture(8, 8, EdgeClamp)
	for i := 0; i < 5; i++ {
		acc.Step(mask)
	}
	for _, v := range acc.Current().pix {
		if v != 0 {
			t.Fatalf("state without detections should stay zero, got %v", v)
		}
	}
}

func TestAccumulatorMonotonic(t *testing.T) {
	size := Size{Width: 16, Height: 12}
	acc := NewAccumulator(size, EdgeClamp)
	mask := NewMask(size, PolicyAccumulate)
	tex := NewTexture(size.Width, size.Height, EdgeClamp)
	rng := rand.New(rand.NewSource(7))

	seen := make(map[[2]int]bool)
	for tick := 0; tick < 200; tick++ {
		var batch Batch
		for i := rng.Intn(4); i > 0; i-- {
			// includes out-of-range coordinates on purpose
			batch.Objects = append(batch.Objects, Detection{
				X: rng.Intn(size.Width+2) - 1,
				Y: rng.Intn(size.Height+2) - 1,
			})
		}
		if len(batch.Objects) > 0 {
			mask.Apply(batch)
		}
		mask.Upload(tex)
		acc.Step(tex)

		for _, d := range batch.Objects {
			if size.Contains(d.X, d.Y) {
				seen[[2]int{d.X, d.Y}] = true
			}
		}
		for c := range seen {
			if v := acc.Current().At(c[0], c[1]); v != 1 {
				t.Fatalf("tick %d: cell %v = %v, want 1", tick, c, v)
			}
		}
	}
}

func TestAccumulatorReset(t *testing.T) {
	acc := NewAccumulator(Size{Width: 2, Height: 2}, EdgeClamp)
	mask := NewTexture(2, 2, EdgeClamp)
	mask.Fill(1)
	acc.Step(mask)
	acc.Step(mask)

	acc.Reset()
	if acc.Steps() != 0 || acc.Leading() != 0 {
		t.Errorf("Reset() left steps=%d leading=%d", acc.Steps(), acc.Leading())
	}
	for i, b := range acc.buffers {
		for _, v := range b.pix {
			if v != 0 {
				t.Fatalf("buffer %d not cleared", i)
			}
		}
	}
}
