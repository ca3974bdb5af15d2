// Package config loads the anttrail YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Video          VideoConfig   `yaml:"video"`
	Feed           FeedConfig    `yaml:"feed"`
	Render         RenderConfig  `yaml:"render"`
	Display        DisplayConfig `yaml:"display"`
	Server         ServerConfig  `yaml:"server"`
	FFmpeg         FFmpegConfig  `yaml:"ffmpeg"`
	Debug          bool          `yaml:"debug"`
	DebugVerbose   bool          `yaml:"debug_verbose"`
	StatsIntervalS int           `yaml:"stats_interval_s"` // 0 disables the periodic stats line
}

type VideoConfig struct {
	URL            string `yaml:"url"`             // rtsp://, http://, file path
	BufferSize     int    `yaml:"buffer_size"`     // OpenCV capture buffer (default: 1)
	CaptureOptions string `yaml:"capture_options"` // OPENCV_FFMPEG_CAPTURE_OPTIONS
}

type FeedConfig struct {
	URL         string `yaml:"url"` // ws:// endpoint of the detection feed, empty disables it
	MaxBackoffS int    `yaml:"max_backoff_s"`
}

type RenderConfig struct {
	FPS        int     `yaml:"fps"`
	Width      int     `yaml:"width"`       // logical viewport width
	Height     int     `yaml:"height"`      // logical viewport height
	PixelRatio float64 `yaml:"pixel_ratio"` // device pixels per logical pixel
	Heat       bool    `yaml:"heat"`
	Policy     string  `yaml:"policy"`    // accumulate, persistent-mask
	EdgeMode   string  `yaml:"edge_mode"` // clamp, zero, wrap
	AutoStart  bool    `yaml:"autostart"`
}

type DisplayConfig struct {
	Window bool   `yaml:"window"`
	Title  string `yaml:"title"`
}

type ServerConfig struct {
	Listen      string `yaml:"listen"` // empty disables the HTTP surface
	JPEGQuality int    `yaml:"jpeg_quality"`
}

type FFmpegConfig struct {
	Output string   `yaml:"output"` // rtmp:// URL or file, empty disables restreaming
	Args   []string `yaml:"args"`   // extra output arguments placed before Output
}

// Default returns the configuration used for every key a file leaves out.
func Default() *Config {
	return &Config{
		Video: VideoConfig{
			BufferSize:     1,
			CaptureOptions: "rtsp_transport;tcp|buffer_size;65536|stimeout;5000000",
		},
		Feed: FeedConfig{MaxBackoffS: 60},
		Render: RenderConfig{
			FPS:        30,
			Width:      1280,
			Height:     720,
			PixelRatio: 1,
			Policy:     "accumulate",
			EdgeMode:   "clamp",
		},
		Display: DisplayConfig{Title: "anttrail"},
		Server: ServerConfig{
			Listen:      ":8080",
			JPEGQuality: 80,
		},
		StatsIntervalS: 10,
	}
}

// Load reads path over the defaults and validates the result. An empty path
// returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
