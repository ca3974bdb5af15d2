// Package feed receives detection batches over a websocket and hands them to
// the render loop.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"anttrail/trail"

	"github.com/gorilla/websocket"
)

const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 60 * time.Second
)

// ErrEmptyMessage is returned by Decode for a message without payload.
var ErrEmptyMessage = errors.New("empty message")

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

// Handler receives every decoded batch, in arrival order.
type Handler func(trail.Batch) error

// Options configure a Client.
type Options struct {
	URL            string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Stats are the counters of a Client.
type Stats struct {
	Connected     bool   `json:"connected"`
	Connects      uint64 `json:"connects"`
	Disconnects   uint64 `json:"disconnects"`
	DialErrors    uint64 `json:"dial_errors"`
	Messages      uint64 `json:"messages"`
	ParseErrors   uint64 `json:"parse_errors"`
	HandlerErrors uint64 `json:"handler_errors"`
	Detections    uint64 `json:"detections"`
	LastError     string `json:"last_error,omitempty"`
}

// Client keeps a websocket connection to the detection feed open,
// reconnecting with exponential backoff. Feed problems never reach the
// render loop; they are logged and counted.
type Client struct {
	opts    Options
	handler Handler

	mu    sync.Mutex
	stats Stats
}

// New creates a client that delivers batches to h.
func New(opts Options, h Handler) *Client {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{opts: opts, handler: h}
}

// Decode parses one feed message.
func Decode(msg []byte) (trail.Batch, error) {
	var b trail.Batch
	if len(msg) == 0 {
		return b, ErrEmptyMessage
	}
	if err := json.Unmarshal(msg, &b); err != nil {
		return b, fmt.Errorf("decode batch: %w", err)
	}
	return b, nil
}

// Run connects and reads until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.InitialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		debugMsg("FEED", fmt.Sprintf("Connecting to detection feed: %s", c.opts.URL))
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			c.record(func(s *Stats) {
				s.DialErrors++
				s.LastError = err.Error()
			})
			debugMsg("WARN", fmt.Sprintf("Feed dial error: %v. Retrying in %v...", err, backoff))
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, c.opts.MaxBackoff)
			continue
		}
		backoff = c.opts.InitialBackoff

		c.record(func(s *Stats) {
			s.Connected = true
			s.Connects++
		})
		debugMsg("FEED", "Detection feed connected")

		err = c.read(ctx, conn)
		c.record(func(s *Stats) {
			s.Connected = false
			s.Disconnects++
			if err != nil {
				s.LastError = err.Error()
			}
		})
		if ctx.Err() != nil {
			return nil
		}
		debugMsg("WARN", fmt.Sprintf("Feed read error: %v. Reconnecting in %v...", err, backoff))
		if !sleep(ctx, backoff) {
			return nil
		}
	}
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.record(func(s *Stats) { s.Messages++ })

		batch, err := Decode(message)
		if err != nil {
			c.record(func(s *Stats) {
				s.ParseErrors++
				s.LastError = err.Error()
			})
			debugMsg("WARN", fmt.Sprintf("Feed parse error: %v", err))
			continue
		}

		if err := c.handler(batch); err != nil {
			c.record(func(s *Stats) { s.HandlerErrors++ })
			return fmt.Errorf("deliver batch: %w", err)
		}
		c.record(func(s *Stats) { s.Detections += uint64(len(batch.Objects)) })
	}
}

// Stats returns a copy of the counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Client) record(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		cur = max
	}
	return cur
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
