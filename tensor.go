package neuralstyle

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tensor is a rank-4 (1, H, W, C) array stored as interleaved float64 values.
// The batch dimension is always 1 and is not stored.
type Tensor struct {
	H, W, C int
	Data    []float64 // len = H*W*C, channel fastest
}

func NewTensor(h, w, c int) *Tensor {
	return &Tensor{H: h, W: w, C: c, Data: make([]float64, h*w*c)}
}

// Shape returns the full (batch, height, width, channels) shape.
func (t *Tensor) Shape() [4]int {
	return [4]int{1, t.H, t.W, t.C}
}

func (t *Tensor) offset(x, y int) int {
	return (y*t.W + x) * t.C
}

func (t *Tensor) At(x, y, c int) float64 {
	return t.Data[t.offset(x, y)+c]
}

func (t *Tensor) Set(x, y, c int, v float64) {
	t.Data[t.offset(x, y)+c] = v
}

func (t *Tensor) Clone() *Tensor {
	out := &Tensor{H: t.H, W: t.W, C: t.C, Data: make([]float64, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

func (t *Tensor) SameShape(o *Tensor) bool {
	return t.H == o.H && t.W == o.W && t.C == o.C
}

// Sum is the diagnostic statistic logged at checkpoints.
func (t *Tensor) Sum() float64 {
	return floats.Sum(t.Data)
}

// Matrix views the tensor as an (H*W) x C matrix sharing its storage.
func (t *Tensor) Matrix() *mat.Dense {
	return mat.NewDense(t.H*t.W, t.C, t.Data)
}

func finite(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
