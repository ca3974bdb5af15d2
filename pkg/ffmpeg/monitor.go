package ffmpeg

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	frameRegex          = regexp.MustCompile(`frame=\s*(\d+)`)
	timestampErrorRegex = regexp.MustCompile(`(?i)((DTS|PTS)\s+\d+,\s+next:\d+.*invalid dropping|Non-monotonic DTS.*previous:.*current:.*changing to)`)
)

// outputLine is one ffmpeg stderr line and when it was read.
type outputLine struct {
	at   time.Time
	text string
}

// outputTail keeps the last ffmpeg stderr lines so the health dump can show
// what the encoder said before it stalled. Consecutive progress lines
// ("frame= ...") replace each other, so a long healthy run does not push the
// startup banner and warnings out of the tail.
type outputTail struct {
	mu      sync.Mutex
	ring    []outputLine
	next    int
	count   int
	lastWas bool // last stored line was a progress line
}

func newOutputTail(size int) *outputTail {
	if size < 1 {
		size = 1
	}
	return &outputTail{ring: make([]outputLine, size)}
}

// Add records text, overwriting the previous entry when both are progress
// lines.
func (t *outputTail) Add(text string) {
	progress := frameRegex.MatchString(text)

	t.mu.Lock()
	defer t.mu.Unlock()
	if progress && t.lastWas && t.count > 0 {
		last := (t.next - 1 + len(t.ring)) % len(t.ring)
		t.ring[last] = outputLine{at: time.Now(), text: text}
		return
	}
	t.ring[t.next] = outputLine{at: time.Now(), text: text}
	t.next = (t.next + 1) % len(t.ring)
	if t.count < len(t.ring) {
		t.count++
	}
	t.lastWas = progress
}

// Lines returns the tail oldest first, each prefixed with its read time.
func (t *outputTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, t.count)
	start := (t.next - t.count + len(t.ring)) % len(t.ring)
	for i := 0; i < t.count; i++ {
		l := t.ring[(start+i)%len(t.ring)]
		out = append(out, fmt.Sprintf("[%s] %s", l.at.Format("15:04:05.000"), l.text))
	}
	return out
}

// HealthMonitor watches ffmpeg's output for frame progress and timestamp
// errors and reports a stalled or broken encoder once.
type HealthMonitor struct {
	mutex sync.RWMutex

	started         time.Time
	running         bool
	lastOutput      time.Time
	lastFrameNumber int
	lastFrameUpdate time.Time
	outputTimeout   time.Duration
	frameTimeout    time.Duration

	timestampErrors int
	lastErrorTime   time.Time
	forceUnhealthy  bool

	output *outputTail

	onUnhealthy func(reason string)
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewHealthMonitor creates a monitor. frameTimeout is how long the frame
// counter may stand still, 200 frames worth at the restream rate.
func NewHealthMonitor(fps int, onUnhealthy func(reason string)) *HealthMonitor {
	if fps <= 0 {
		fps = 30
	}
	return &HealthMonitor{
		outputTimeout: 30 * time.Second,
		frameTimeout:  200 * time.Second / time.Duration(fps),
		output:        newOutputTail(100),
		onUnhealthy:   onUnhealthy,
		stop:          make(chan struct{}),
	}
}

// Watch marks the process as started and scans pipe until it closes.
// It returns immediately; scanning happens in the background.
func (hm *HealthMonitor) Watch(pipe io.Reader) {
	now := time.Now()
	hm.mutex.Lock()
	hm.started = now
	hm.running = true
	hm.lastOutput = now
	hm.lastFrameUpdate = now
	hm.mutex.Unlock()

	go hm.scan(pipe)
	go hm.healthCheckLoop()
}

// Stop ends the health check loop without reporting.
func (hm *HealthMonitor) Stop() {
	hm.stopOnce.Do(func() {
		hm.mutex.Lock()
		hm.running = false
		hm.mutex.Unlock()
		close(hm.stop)
	})
}

func (hm *HealthMonitor) scan(pipe io.Reader) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	// ffmpeg ends progress lines with \r
	scanner.Split(scanLinesCR)

	lineCount := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lineCount++
		hm.Observe(line)
		debugMsgVerbose("FFMPEG_STDERR", line)
	}
	if err := scanner.Err(); err != nil {
		hm.output.Add(fmt.Sprintf("SCANNER_ERROR: %v", err))
	}
	debugMsg("FFMPEG", fmt.Sprintf("Output monitor finished (%d lines)", lineCount))
}

// Observe records one line of ffmpeg output.
func (hm *HealthMonitor) Observe(line string) {
	hm.output.Add(line)

	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	now := time.Now()
	if !hm.forceUnhealthy {
		hm.lastOutput = now
	}

	if timestampErrorRegex.MatchString(line) {
		if now.Sub(hm.lastErrorTime) > 30*time.Second {
			hm.timestampErrors = 0
		}
		hm.timestampErrors++
		hm.lastErrorTime = now
		debugMsg("FFMPEG", fmt.Sprintf("Timestamp error #%d: %s", hm.timestampErrors, line))

		// 3 timestamp errors within 30 seconds
		if hm.timestampErrors >= 3 {
			hm.forceUnhealthy = true
			hm.timestampErrors = 0
		}
		return
	}

	if m := frameRegex.FindStringSubmatch(line); len(m) > 1 {
		if n, err := strconv.Atoi(m[1]); err == nil && n > hm.lastFrameNumber {
			hm.lastFrameNumber = n
			hm.lastFrameUpdate = now
		}
	}
}

// Healthy reports whether ffmpeg is producing output and making progress.
func (hm *HealthMonitor) Healthy() bool {
	return hm.Reason() == ""
}

// Reason returns why ffmpeg is unhealthy, empty when it is healthy.
func (hm *HealthMonitor) Reason() string {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	switch {
	case !hm.running:
		return "process not running"
	case hm.forceUnhealthy:
		return "forced unhealthy due to repeated timestamp errors"
	case time.Since(hm.lastOutput) > hm.outputTimeout:
		return fmt.Sprintf("no output received for %v", time.Since(hm.lastOutput).Round(time.Millisecond))
	case time.Since(hm.lastFrameUpdate) > hm.frameTimeout:
		return fmt.Sprintf("no frame progress for %v (last frame: %d)",
			time.Since(hm.lastFrameUpdate).Round(time.Millisecond), hm.lastFrameNumber)
	}
	return ""
}

// LastFrame returns the last frame number ffmpeg reported.
func (hm *HealthMonitor) LastFrame() int {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()
	return hm.lastFrameNumber
}

// Recent returns the buffered output, oldest first.
func (hm *HealthMonitor) Recent() []string {
	return hm.output.Lines()
}

func (hm *HealthMonitor) healthCheckLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-hm.stop:
			return
		case <-ticker.C:
			reason := hm.Reason()
			if reason == "" {
				continue
			}
			debugMsg("FFMPEG", fmt.Sprintf("FFmpeg became unhealthy: %s", reason))
			hm.dumpOutputTail()
			if hm.onUnhealthy != nil {
				hm.onUnhealthy(reason)
			}
			return
		}
	}
}

func (hm *HealthMonitor) dumpOutputTail() {
	lines := hm.output.Lines()
	if len(lines) == 0 {
		debugMsg("FFMPEG", "Health dump: no output captured")
		return
	}
	debugMsg("FFMPEG", fmt.Sprintf("Health dump, last %d lines:\n%s", len(lines), strings.Join(lines, "\n")))
}

// scanLinesCR splits on \n and on \r.
func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
