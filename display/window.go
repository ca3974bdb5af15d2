// Package display shows the composited output in an OpenCV HighGUI window
// and turns key presses into loop controls.
package display

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"anttrail/video"
)

// debugMsgFunc is provided by the main package
var debugMsgFunc func(component, message string)

// SetDebugFunction sets the debug function for this package
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// Controls are the loop operations bound to keys.
type Controls interface {
	Start() error
	ToggleHeat() error
	Reset() error
}

const (
	keyEsc = 27
	keyH   = 'h'
	keyQ   = 'q'
	keyR   = 'r'
	keyS   = 's'
)

// Window is an overlay surface. Present only hands the frame over; all
// HighGUI calls happen in Run, which must be called from the main goroutine
// with the OS thread locked.
type Window struct {
	title  string
	frames *video.Slot
}

// NewWindow creates the surface. The window itself opens in Run.
func NewWindow(title string) *Window {
	return &Window{
		title:  title,
		frames: video.NewSlot(),
	}
}

// Present queues a copy of img for the window. Older unshown frames are
// dropped.
func (w *Window) Present(img *image.RGBA) error {
	w.frames.Publish(video.Clone(img))
	return nil
}

// Run shows frames until ctx is done or the user quits with q or ESC, and
// sends the other keys to controls. It returns true when the user quit.
func (w *Window) Run(ctx context.Context, controls Controls) (bool, error) {
	window := gocv.NewWindow(w.title)
	defer window.Close()
	debugMsg("DISPLAY", fmt.Sprintf("Window %q opened (h: heat, s: start, r: reset, q: quit)", w.title))

	var shown uint64
	for {
		select {
		case <-ctx.Done():
			return false, nil
		default:
		}

		if f, ok := w.frames.Latest(); ok && f.Seq != shown {
			shown = f.Seq
			if err := show(window, f.Image); err != nil {
				return false, err
			}
		}

		if handleKey(window.WaitKey(5), controls) {
			debugMsg("DISPLAY", "Quit requested from window")
			return true, nil
		}
	}
}

func show(window *gocv.Window, img *image.RGBA) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("convert frame for display: %w", err)
	}
	defer mat.Close()
	window.IMShow(mat)
	return nil
}

// handleKey applies key and reports whether it asks to quit.
func handleKey(key int, controls Controls) bool {
	if key < 0 {
		return false
	}
	var err error
	switch key & 0xff {
	case keyQ, keyEsc:
		return true
	case keyH:
		err = controls.ToggleHeat()
	case keyS:
		err = controls.Start()
	case keyR:
		err = controls.Reset()
	default:
		return false
	}
	if err != nil {
		debugMsg("DISPLAY", fmt.Sprintf("Key %q: %v", rune(key&0xff), err))
	}
	return false
}
