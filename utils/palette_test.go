package utils

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
)

func twoTone() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := range 20 {
		for x := range 20 {
			c := color.RGBA{R: 220, G: 30, B: 30, A: 255}
			if x >= 10 {
				c = color.RGBA{R: 20, G: 40, B: 210, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestPaletteDistance(t *testing.T) {
	p := []colorful.Color{{R: 1}, {B: 1}}
	if d := PaletteDistance(p, p); d != 0 {
		t.Errorf("Distance to itself = %v, want 0", d)
	}
	if d := PaletteDistance(p, nil); !math.IsInf(d, 1) {
		t.Errorf("Distance to empty palette = %v, want +Inf", d)
	}
	q := []colorful.Color{{G: 1}}
	if d := PaletteDistance(p, q); d <= 0 {
		t.Errorf("Distance between disjoint palettes = %v", d)
	}
}

func TestExtractPalette(t *testing.T) {
	img := twoTone()
	for _, m := range []PaletteMethod{PaletteMethodDominantColor, PaletteMethodKMeans} {
		p := ExtractPalette(img, 2, m)
		if len(p) == 0 || len(p) > 2 {
			t.Errorf("%v: got %d colors, want 1 or 2", m, len(p))
		}
	}
	if p := ExtractPalette(img, 0, PaletteMethodKMeans); p != nil {
		t.Errorf("k=0 should yield no colors, got %v", p)
	}
}

func TestSavePalette(t *testing.T) {
	path := filepath.Join(t.TempDir(), "palette.png")
	p := []colorful.Color{{R: 1}, {G: 1}, {B: 1}}
	if err := SavePalette(p, 4, path); err != nil {
		t.Fatal(err)
	}
	img, err := ReadImage(path)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds() != image.Rect(0, 0, 12, 4) {
		t.Errorf("Palette image bounds %v, want 12x4", img.Bounds())
	}
	r, g, b, _ := img.At(5, 2).RGBA()
	if r != 0 || g>>8 != 255 || b != 0 {
		t.Errorf("Second tile is %d,%d,%d, want green", r>>8, g>>8, b>>8)
	}
	if err := SavePalette(nil, 4, path); err == nil {
		t.Error("Expected error for empty palette")
	}
}
