package trail

// Detection is a single reported hit in simulation grid pixels.
type Detection struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Batch is one message from the detection feed.
type Batch struct {
	Objects []Detection `json:"objects"`
}

// Size is a width/height pair in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the size has no area.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Contains reports whether (x, y) lies inside a grid of this size.
func (s Size) Contains(x, y int) bool {
	return x >= 0 && x < s.Width && y >= 0 && y < s.Height
}

// debugMsgFunc is provided by the main package
var debugMsgFunc func(component, message string)

// SetDebugFunction allows main package to provide the debug logger
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}
