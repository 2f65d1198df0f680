package neuralstyle

import (
	"image"
	"math"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig is invalid: %v", err)
	}
	if cfg.StyleWeight <= cfg.ContentWeight {
		t.Errorf("Expected style weight %v to dominate content weight %v", cfg.StyleWeight, cfg.ContentWeight)
	}
}

func TestConfigFromSize(t *testing.T) {
	cfg := ConfigFromSize(image.Pt(64, 48))
	if cfg.Width != 64 || cfg.Height != 48 {
		t.Errorf("Expected 64x48, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg = ConfigFromSize(image.Point{}); cfg.Width != 800 || cfg.Height != 600 {
		t.Errorf("Expected default size for an empty point, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"zero width":      func(c *Config) { c.Width = 0 },
		"grayscale":       func(c *Config) { c.Channels = 1 },
		"noise ratio":     func(c *Config) { c.NoiseRatio = 1.2 },
		"nan noise ratio": func(c *Config) { c.NoiseRatio = math.NaN() },
		"content weight":  func(c *Config) { c.ContentWeight = 0 },
		"style weight":    func(c *Config) { c.StyleWeight = -1 },
		"content layer":   func(c *Config) { c.ContentLayer = "fc7" },
		"non style layer": func(c *Config) { c.StyleLayers = map[string]float64{"conv1_2": 1} },
		"negative weight": func(c *Config) { c.StyleLayers = map[string]float64{"conv1_1": -1} },
		"learning rate":   func(c *Config) { c.LearningRate = 0 },
		"inf rate":        func(c *Config) { c.LearningRate = math.Inf(1) },
		"iterations":      func(c *Config) { c.Iterations = -1 },
		"checkpoint":      func(c *Config) { c.CheckpointInterval = 0 },
		"output dir":      func(c *Config) { c.OutputDir = "" },
		"final name":      func(c *Config) { c.FinalName = "" },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
