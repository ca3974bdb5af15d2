package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"

	"anttrail/trail"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid value")

// Validate checks cfg and fills derived defaults.
func Validate(cfg *Config) error {
	if cfg.Render.FPS <= 0 || cfg.Render.FPS > 240 {
		return fmt.Errorf("%w: render.fps must be in 1..240, got %d", ErrInvalid, cfg.Render.FPS)
	}
	if cfg.Render.Width <= 0 || cfg.Render.Height <= 0 {
		return fmt.Errorf("%w: render.width and render.height must be > 0, got %dx%d",
			ErrInvalid, cfg.Render.Width, cfg.Render.Height)
	}
	if !(cfg.Render.PixelRatio > 0) || math.IsInf(cfg.Render.PixelRatio, 0) {
		return fmt.Errorf("%w: render.pixel_ratio must be > 0, got %v", ErrInvalid, cfg.Render.PixelRatio)
	}
	if _, err := trail.ParsePolicy(cfg.Render.Policy); err != nil {
		return fmt.Errorf("%w: render.policy: %v", ErrInvalid, err)
	}
	if _, err := trail.ParseEdgeMode(cfg.Render.EdgeMode); err != nil {
		return fmt.Errorf("%w: render.edge_mode: %v", ErrInvalid, err)
	}

	if cfg.Video.BufferSize <= 0 {
		cfg.Video.BufferSize = 1
	}

	if cfg.Feed.URL != "" {
		u, err := url.Parse(cfg.Feed.URL)
		if err != nil {
			return fmt.Errorf("%w: feed.url: %v", ErrInvalid, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("%w: feed.url must be ws:// or wss://, got %q", ErrInvalid, cfg.Feed.URL)
		}
	}
	if cfg.Feed.MaxBackoffS <= 0 {
		cfg.Feed.MaxBackoffS = 60
	}

	if cfg.Server.JPEGQuality == 0 {
		cfg.Server.JPEGQuality = 80
	}
	if cfg.Server.JPEGQuality < 1 || cfg.Server.JPEGQuality > 100 {
		return fmt.Errorf("%w: server.jpeg_quality must be in 1..100, got %d", ErrInvalid, cfg.Server.JPEGQuality)
	}

	if cfg.StatsIntervalS < 0 {
		return fmt.Errorf("%w: stats_interval_s must be >= 0", ErrInvalid)
	}
	return nil
}

// Viewport returns the configured initial viewport.
func (c *Config) Viewport() trail.Viewport {
	return trail.Viewport{
		Width:      c.Render.Width,
		Height:     c.Render.Height,
		PixelRatio: c.Render.PixelRatio,
	}
}

// SessionOptions converts the render section into trail session options.
// The config must have passed Validate.
func (c *Config) SessionOptions() trail.Options {
	policy, _ := trail.ParsePolicy(c.Render.Policy)
	edge, _ := trail.ParseEdgeMode(c.Render.EdgeMode)
	return trail.Options{
		Policy:   policy,
		Edge:     edge,
		Heat:     c.Render.Heat,
		Viewport: c.Viewport(),
	}
}
