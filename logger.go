package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DebugMessage is one logged line, kept for the status endpoint.
type DebugMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

// DebugLogger backs every package's component-tagged debug function with a
// slog logger and keeps the last few messages in memory.
type DebugLogger struct {
	logger  *slog.Logger
	verbose bool

	mu         sync.RWMutex
	history    []DebugMessage
	maxHistory int
}

// NewDebugLogger creates a logger writing text records to stderr. debug
// lowers the level to debug; verbose enables debugMsgVerbose output.
func NewDebugLogger(debug, verbose bool) *DebugLogger {
	level := slog.LevelInfo
	if debug || verbose {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &DebugLogger{
		logger:     slog.New(h),
		verbose:    verbose,
		maxHistory: 50,
	}
}

// Logger returns the underlying slog logger.
func (dl *DebugLogger) Logger() *slog.Logger { return dl.logger }

func (dl *DebugLogger) debugMsg(component, message string) {
	dl.log(levelFor(component), component, message)
}

func (dl *DebugLogger) debugMsgVerbose(component, message string) {
	if !dl.verbose {
		return
	}
	dl.log(slog.LevelDebug, component, message)
}

func (dl *DebugLogger) log(level slog.Level, component, message string) {
	now := time.Now()
	dl.logger.LogAttrs(context.Background(), level, message, slog.String("component", component))

	if level < slog.LevelInfo {
		return
	}
	dl.mu.Lock()
	dl.history = append(dl.history, DebugMessage{Timestamp: now, Component: component, Message: message})
	if len(dl.history) > dl.maxHistory {
		dl.history = dl.history[1:]
	}
	dl.mu.Unlock()
}

// History returns the most recent non-verbose messages, oldest first.
func (dl *DebugLogger) History() []DebugMessage {
	dl.mu.RLock()
	defer dl.mu.RUnlock()
	out := make([]DebugMessage, len(dl.history))
	copy(out, dl.history)
	return out
}

func levelFor(component string) slog.Level {
	switch component {
	case "ERROR":
		return slog.LevelError
	case "WARN":
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
