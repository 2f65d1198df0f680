package neuralstyle

import (
	"image"
	"log"
	"maps"
	"math"
	"slices"

	"github.com/pkg/errors"
)

// StyleLayers lists the layers a style weighting table may refer to: the
// first rectified convolution of each block.
var StyleLayers = []string{"conv1_1", "conv2_1", "conv3_1", "conv4_1", "conv5_1"}

type Config struct {
	// Expected input size. Content and style images must match exactly.
	Width, Height int
	Channels      int
	// Share of uniform noise in the initial canvas, in [0,1].
	// 0 starts from the content image, 1 from pure noise.
	NoiseRatio float64
	// Weight of the content loss (beta).
	ContentWeight float64
	// Weight of the style loss (alpha). Usually much larger than ContentWeight
	// because the style loss is a sum of small per-layer terms.
	StyleWeight float64
	// Layer whose feature map defines the content.
	ContentLayer string
	// Relative weight of each style layer. Missing layers weigh zero.
	StyleLayers map[string]float64
	// Adam step size in pixel units.
	LearningRate float64
	Iterations   int
	// A checkpoint image is written every CheckpointInterval iterations.
	CheckpointInterval int
	OutputDir          string
	// Name of the final artifact inside OutputDir.
	FinalName string
	// Seed of the canvas noise.
	Seed uint64
	// Progress output. nil writes to log.Default().
	Logger *log.Logger
}

func DefaultConfig() Config {
	return Config{
		Width:         800,
		Height:        600,
		Channels:      3,
		NoiseRatio:    0.6,
		ContentWeight: 5,
		StyleWeight:   100,
		ContentLayer:  "conv4_2",
		StyleLayers: map[string]float64{
			"conv1_1": 0.5,
			"conv2_1": 1.0,
			"conv3_1": 1.5,
			"conv4_1": 3.0,
			"conv5_1": 4.0,
		},
		LearningRate:       2.0,
		Iterations:         400,
		CheckpointInterval: 100,
		OutputDir:          "output",
		FinalName:          "art.jpg",
		Seed:               1,
	}
}

// ConfigFromSize returns the default configuration for images of the given size.
func ConfigFromSize(size image.Point) Config {
	cfg := DefaultConfig()
	if size.X > 0 && size.Y > 0 {
		cfg.Width = size.X
		cfg.Height = size.Y
	}
	return cfg
}

func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("config: image size %dx%d must be positive", c.Width, c.Height)
	}
	if c.Channels != 3 {
		return errors.Errorf("config: %d color channels, want 3", c.Channels)
	}
	if !(c.NoiseRatio >= 0 && c.NoiseRatio <= 1) {
		return errors.Errorf("config: noise ratio %v outside [0,1]", c.NoiseRatio)
	}
	if !(c.ContentWeight > 0) || math.IsInf(c.ContentWeight, 0) {
		return errors.Errorf("config: content weight %v must be positive", c.ContentWeight)
	}
	if !(c.StyleWeight > 0) || math.IsInf(c.StyleWeight, 0) {
		return errors.Errorf("config: style weight %v must be positive", c.StyleWeight)
	}
	if _, ok := topologyIndex(c.ContentLayer); !ok {
		return errors.Errorf("config: unknown content layer %q", c.ContentLayer)
	}
	for _, name := range slices.Sorted(maps.Keys(c.StyleLayers)) {
		if !slices.Contains(StyleLayers, name) {
			return errors.Errorf("config: %q is not a style layer", name)
		}
		if w := c.StyleLayers[name]; !(w >= 0) || math.IsInf(w, 0) {
			return errors.Errorf("config: style layer %s has weight %v", name, w)
		}
	}
	if !(c.LearningRate > 0) || math.IsInf(c.LearningRate, 0) {
		return errors.Errorf("config: learning rate %v must be positive", c.LearningRate)
	}
	if c.Iterations < 0 {
		return errors.Errorf("config: negative iteration budget %d", c.Iterations)
	}
	if c.CheckpointInterval <= 0 {
		return errors.Errorf("config: checkpoint interval %d must be positive", c.CheckpointInterval)
	}
	if c.OutputDir == "" {
		return errors.New("config: empty output directory")
	}
	if c.FinalName == "" {
		return errors.New("config: empty final artifact name")
	}
	return nil
}

func (c Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}
