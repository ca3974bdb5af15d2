package main

import (
	"fmt"
	"sync"
	"time"
)

// PipelineStats tracks throughput and timings of the capture and render
// stages.
type PipelineStats struct {
	mu             sync.Mutex
	captureCount   int64
	renderCount    int64
	lastReportTime time.Time

	readTimeTotal   time.Duration
	renderTimeTotal time.Duration
	renderTimeMax   time.Duration

	totalCaptured int64
	totalRendered int64
}

// StatsReport is one reporting window.
type StatsReport struct {
	CaptureFPS    float64       `json:"capture_fps"`
	RenderFPS     float64       `json:"render_fps"`
	AvgRead       time.Duration `json:"avg_read_ns"`
	AvgRender     time.Duration `json:"avg_render_ns"`
	MaxRender     time.Duration `json:"max_render_ns"`
	TotalCaptured int64         `json:"total_captured"`
	TotalRendered int64         `json:"total_rendered"`
}

// NewPipelineStats creates a new pipeline statistics tracker
func NewPipelineStats() *PipelineStats {
	return &PipelineStats{lastReportTime: time.Now()}
}

// UpdateCapture records one frame read from the video source.
func (ps *PipelineStats) UpdateCapture(duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.captureCount++
	ps.totalCaptured++
	ps.readTimeTotal += duration
}

// UpdateRender records one rendered and presented tick.
func (ps *PipelineStats) UpdateRender(duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.renderCount++
	ps.totalRendered++
	ps.renderTimeTotal += duration
	if duration > ps.renderTimeMax {
		ps.renderTimeMax = duration
	}
}

// Peek returns the current window without resetting it.
func (ps *PipelineStats) Peek() StatsReport {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.reportLocked(time.Now())
}

// GetStats returns the current window and starts a new one.
func (ps *PipelineStats) GetStats() StatsReport {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	r := ps.reportLocked(now)

	// Reset counters but keep totals
	ps.captureCount = 0
	ps.renderCount = 0
	ps.readTimeTotal = 0
	ps.renderTimeTotal = 0
	ps.renderTimeMax = 0
	ps.lastReportTime = now
	return r
}

func (ps *PipelineStats) reportLocked(now time.Time) StatsReport {
	timeWindow := now.Sub(ps.lastReportTime).Seconds()
	if timeWindow <= 0 {
		timeWindow = 1.0 // Prevent division by zero
	}

	r := StatsReport{
		CaptureFPS:    float64(ps.captureCount) / timeWindow,
		RenderFPS:     float64(ps.renderCount) / timeWindow,
		MaxRender:     ps.renderTimeMax,
		TotalCaptured: ps.totalCaptured,
		TotalRendered: ps.totalRendered,
	}
	if ps.captureCount > 0 {
		r.AvgRead = ps.readTimeTotal / time.Duration(ps.captureCount)
	}
	if ps.renderCount > 0 {
		r.AvgRender = ps.renderTimeTotal / time.Duration(ps.renderCount)
	}
	return r
}

func (r StatsReport) String() string {
	return fmt.Sprintf("Capture: %.1f fps (read %v) | Render: %.1f fps (avg %v, max %v) | Totals: %d captured, %d rendered",
		r.CaptureFPS, r.AvgRead.Round(time.Microsecond),
		r.RenderFPS, r.AvgRender.Round(time.Microsecond), r.MaxRender.Round(time.Microsecond),
		r.TotalCaptured, r.TotalRendered)
}
