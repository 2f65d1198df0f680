package utils

import (
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

func ReadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return img, nil
}

// ReadImageSized reads path and scales it to w x h when its size differs.
func ReadImageSized(path string, w, h int) (image.Image, error) {
	img, err := ReadImage(path)
	if err != nil {
		return nil, err
	}
	return Resize(img, w, h), nil
}

func Resize(img image.Image, w, h int) image.Image {
	if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Rect, img, img.Bounds(), draw.Src, nil)
	return dst
}

// SaveImage encodes img as JPEG when filename ends in .jpg or .jpeg and as
// PNG otherwise.
func SaveImage(img image.Image, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", filename)
	}
	return f.Close()
}

// DirWriter writes images into a directory, creating it on first use.
type DirWriter struct {
	Dir string
}

func NewDirWriter(dir string) *DirWriter {
	return &DirWriter{Dir: dir}
}

func (d *DirWriter) WriteImage(name string, img image.Image) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return errors.Wrap(err, "create output dir")
	}
	return SaveImage(img, filepath.Join(d.Dir, name))
}
