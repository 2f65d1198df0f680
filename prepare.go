package neuralstyle

import (
	"image"
	"image/color"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// MeanPixel is the per-channel (R, G, B) mean the extractor was trained with.
var MeanPixel = [3]float64{123.68, 116.779, 103.939}

// NoiseRange bounds the uniform noise of the initial canvas.
const NoiseRange = 20.0

// FromImage converts img to a raw RGB tensor in [0,255].
func FromImage(img image.Image) *Tensor {
	b := img.Bounds()
	t := NewTensor(b.Dy(), b.Dx(), 3)
	for y := range t.H {
		for x := range t.W {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			off := t.offset(x, y)
			t.Data[off] = float64(r >> 8)
			t.Data[off+1] = float64(g >> 8)
			t.Data[off+2] = float64(bl >> 8)
		}
	}
	return t
}

// ToImage converts a normalized tensor to an image, see Denormalize.
func ToImage(t *Tensor) *image.RGBA {
	d := Denormalize(t)
	img := image.NewRGBA(image.Rect(0, 0, d.W, d.H))
	for y := range d.H {
		for x := range d.W {
			off := d.offset(x, y)
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(d.Data[off]),
				G: uint8(d.Data[off+1]),
				B: uint8(d.Data[off+2]),
				A: 255,
			})
		}
	}
	return img
}

// Normalize subtracts MeanPixel from every pixel.
func Normalize(t *Tensor) *Tensor {
	out := t.Clone()
	for i := range out.Data {
		out.Data[i] -= MeanPixel[i%3]
	}
	return out
}

// Denormalize adds MeanPixel back, rounds to integers and clips to [0,255].
func Denormalize(t *Tensor) *Tensor {
	out := t.Clone()
	for i, v := range out.Data {
		out.Data[i] = min(255, max(0, math.Round(v+MeanPixel[i%3])))
	}
	return out
}

// Noise returns an h x w x c tensor of uniform values in [-NoiseRange, NoiseRange].
func Noise(h, w, c int, rng *rand.Rand) *Tensor {
	t := NewTensor(h, w, c)
	for i := range t.Data {
		t.Data[i] = (rng.Float64()*2 - 1) * NoiseRange
	}
	return t
}

// InitializeCanvas blends noise into the content image:
// noise*noiseRatio + content*(1-noiseRatio).
func InitializeCanvas(content *Tensor, noiseRatio float64, rng *rand.Rand) (*Tensor, error) {
	if !(noiseRatio >= 0 && noiseRatio <= 1) {
		return nil, errors.Errorf("noise ratio %v outside [0,1]", noiseRatio)
	}
	canvas := Noise(content.H, content.W, content.C, rng)
	for i, c := range content.Data {
		canvas.Data[i] = canvas.Data[i]*noiseRatio + c*(1-noiseRatio)
	}
	return canvas, nil
}
