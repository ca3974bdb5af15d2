package trail

import (
	"fmt"
	"strings"
)

// Policy selects which buffer owns the trail history.
type Policy int

const (
	// PolicyAccumulate keeps the mask ephemeral. History lives only in the
	// ping-pong buffers of the Accumulator.
	PolicyAccumulate Policy = iota
	// PolicyPersistentMask never clears the mask. The Accumulator is bypassed
	// and the color stage samples the mask texture directly.
	PolicyPersistentMask
)

// ParsePolicy converts a config string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "accumulate":
		return PolicyAccumulate, nil
	case "persistent-mask", "persistent":
		return PolicyPersistentMask, nil
	}
	return PolicyAccumulate, fmt.Errorf("unknown persistence policy %q", s)
}

func (p Policy) String() string {
	if p == PolicyPersistentMask {
		return "persistent-mask"
	}
	return "accumulate"
}

// hit is the value written for a detection.
const hit float32 = 1.0

// Mask is the CPU side grid of detection hits. It is re-uploaded as a
// whole to the mask texture whenever it is dirty.
type Mask struct {
	size    Size
	data    []float32
	policy  Policy
	dirty   bool
	pending int // batches applied since the last upload
}

// NewMask creates a zeroed mask for a grid of the given size.
func NewMask(size Size, policy Policy) *Mask {
	return &Mask{
		size:   size,
		data:   make([]float32, size.Width*size.Height),
		policy: policy,
	}
}

// Size returns the grid size.
func (m *Mask) Size() Size { return m.size }

// Policy returns the persistence policy the mask was created with.
func (m *Mask) Policy() Policy { return m.policy }

// Dirty reports whether the mask has changes not yet uploaded.
func (m *Mask) Dirty() bool { return m.dirty }

// Pending returns how many batches were coalesced since the last upload.
func (m *Mask) Pending() int { return m.pending }

// Apply marks every in-range detection of the batch as a hit and returns how
// many cells were written. Out-of-range detections are dropped silently.
//
// With PolicyAccumulate the mask is cleared first, but only when its previous
// content already reached the texture; batches arriving before the next
// upload coalesce into the same pending mask.
func (m *Mask) Apply(batch Batch) int {
	if m.policy == PolicyAccumulate && !m.dirty {
		m.clear()
	}

	written := 0
	for _, d := range batch.Objects {
		if !m.size.Contains(d.X, d.Y) {
			continue
		}
		m.data[d.Y*m.size.Width+d.X] = hit
		written++
	}

	m.dirty = true
	m.pending++
	return written
}

// At returns the value of cell (x, y), 0 when out of range.
func (m *Mask) At(x, y int) float32 {
	if !m.size.Contains(x, y) {
		return 0
	}
	return m.data[y*m.size.Width+x]
}

// Upload copies the whole mask into dst if it is dirty and reports whether a
// copy happened. dst must match the mask size.
func (m *Mask) Upload(dst *Texture) bool {
	if !m.dirty {
		return false
	}
	copy(dst.pix, m.data)
	m.dirty = false
	m.pending = 0
	return true
}

// Reset zeroes the mask. The next Upload pushes the empty grid.
func (m *Mask) Reset() {
	m.clear()
	m.dirty = true
	m.pending = 0
}

func (m *Mask) clear() {
	for i := range m.data {
		m.data[i] = 0
	}
}
