package neuralstyle

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

type LayerKind int

const (
	Convolution LayerKind = iota
	Activation
	Pool
)

func (k LayerKind) String() string {
	switch k {
	case Convolution:
		return "conv"
	case Activation:
		return "relu"
	case Pool:
		return "pool"
	default:
		return fmt.Sprintf("LayerKind(%d)", int(k))
	}
}

type topologyEntry struct {
	name   string
	kind   LayerKind
	output string // published feature name, empty for internal layers
}

// vgg19 is the feature part of VGG-19: 16 convolutions in blocks of
// 2,2,4,4,4, each rectified, with an average pool closing every block.
var vgg19 = buildTopology([]int{2, 2, 4, 4, 4})

func buildTopology(blocks []int) []topologyEntry {
	var t []topologyEntry
	for b, n := range blocks {
		for k := range n {
			id := fmt.Sprintf("%d_%d", b+1, k+1)
			t = append(t,
				topologyEntry{name: "conv" + id, kind: Convolution},
				topologyEntry{name: "relu" + id, kind: Activation, output: "conv" + id},
			)
		}
		t = append(t, topologyEntry{
			name:   fmt.Sprintf("pool%d", b+1),
			kind:   Pool,
			output: fmt.Sprintf("avgpool%d", b+1),
		})
	}
	return t
}

// FeatureNames lists every published feature map name in evaluation order.
func FeatureNames() []string {
	var names []string
	for _, e := range vgg19 {
		if e.output != "" {
			names = append(names, e.output)
		}
	}
	return names
}

func topologyIndex(feature string) (int, bool) {
	for i, e := range vgg19 {
		if e.output != "" && e.output == feature {
			return i, true
		}
	}
	return 0, false
}

// Layer is one evaluated step of the extractor. Weights are HWIO
// (3, 3, In, Out) row-major, so they read as a (9*In) x Out matrix.
type Layer struct {
	Name    string
	Kind    LayerKind
	Output  string
	In, Out int
	Weights []float64
	Bias    []float64
}

// ============ CONVOLUTION ============

// Output positions per im2col chunk. Bounds the column buffer to
// chunk*9*In values.
const convChunk = 4096

func chunkRows(w int) int {
	return max(convChunk/max(w, 1), 1)
}

// im2col fills cols with the 3x3 neighborhoods of rows [y0,y1) of in, zero
// padded at the borders. Column order is (ky, kx, channel).
func im2col(in *Tensor, y0, y1 int, cols []float64) {
	c := in.C
	k := 9 * c
	for y := y0; y < y1; y++ {
		for x := range in.W {
			row := ((y-y0)*in.W + x) * k
			for ky := range 3 {
				iy := y + ky - 1
				for kx := range 3 {
					ix := x + kx - 1
					dst := cols[row+(ky*3+kx)*c : row+(ky*3+kx+1)*c]
					if iy < 0 || iy >= in.H || ix < 0 || ix >= in.W {
						clear(dst)
						continue
					}
					copy(dst, in.Data[in.offset(ix, iy):in.offset(ix, iy)+c])
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it accumulates cols back into grad.
func col2im(cols []float64, y0, y1 int, grad *Tensor) {
	c := grad.C
	k := 9 * c
	for y := y0; y < y1; y++ {
		for x := range grad.W {
			row := ((y-y0)*grad.W + x) * k
			for ky := range 3 {
				iy := y + ky - 1
				if iy < 0 || iy >= grad.H {
					continue
				}
				for kx := range 3 {
					ix := x + kx - 1
					if ix < 0 || ix >= grad.W {
						continue
					}
					src := cols[row+(ky*3+kx)*c : row+(ky*3+kx+1)*c]
					dst := grad.Data[grad.offset(ix, iy) : grad.offset(ix, iy)+c]
					for i, v := range src {
						dst[i] += v
					}
				}
			}
		}
	}
}

// convForward computes a 3x3, stride 1, SAME padded convolution plus bias.
func convForward(in *Tensor, l *Layer) *Tensor {
	out := NewTensor(in.H, in.W, l.Out)
	k := 9 * l.In
	wm := mat.NewDense(k, l.Out, l.Weights)
	rows := chunkRows(in.W)
	buf := make([]float64, min(rows, in.H)*in.W*k)
	for y0 := 0; y0 < in.H; y0 += rows {
		y1 := min(y0+rows, in.H)
		n := (y1 - y0) * in.W
		im2col(in, y0, y1, buf[:n*k])
		cols := mat.NewDense(n, k, buf[:n*k])
		dst := mat.NewDense(n, l.Out, out.Data[y0*in.W*l.Out:y1*in.W*l.Out])
		dst.Mul(cols, wm)
	}
	for p := 0; p < len(out.Data); p += l.Out {
		px := out.Data[p : p+l.Out]
		for i, b := range l.Bias {
			px[i] += b
		}
	}
	return out
}

// convBackward returns the gradient with respect to the convolution input.
// The weights are frozen, so no weight gradient is produced.
func convBackward(grad *Tensor, l *Layer) *Tensor {
	gin := NewTensor(grad.H, grad.W, l.In)
	k := 9 * l.In
	wm := mat.NewDense(k, l.Out, l.Weights)
	rows := chunkRows(grad.W)
	buf := make([]float64, min(rows, grad.H)*grad.W*k)
	for y0 := 0; y0 < grad.H; y0 += rows {
		y1 := min(y0+rows, grad.H)
		n := (y1 - y0) * grad.W
		g := mat.NewDense(n, l.Out, grad.Data[y0*grad.W*l.Out:y1*grad.W*l.Out])
		cols := mat.NewDense(n, k, buf[:n*k])
		cols.Mul(g, wm.T())
		col2im(buf[:n*k], y0, y1, gin)
	}
	return gin
}

// ============ RELU ============

func reluInPlace(t *Tensor) *Tensor {
	for i, v := range t.Data {
		if v < 0 {
			t.Data[i] = 0
		}
	}
	return t
}

// reluBackward masks grad with the rectified output of the forward pass.
func reluBackward(grad, out *Tensor) *Tensor {
	g := NewTensor(grad.H, grad.W, grad.C)
	for i, v := range out.Data {
		if v > 0 {
			g.Data[i] = grad.Data[i]
		}
	}
	return g
}

// ============ AVERAGE POOL ============

// 2x2 window, stride 2, SAME padding: the output has ceil(H/2) x ceil(W/2)
// cells and border windows average over the cells they cover.

func poolForward(in *Tensor) *Tensor {
	out := NewTensor((in.H+1)/2, (in.W+1)/2, in.C)
	for oy := range out.H {
		for ox := range out.W {
			dst := out.Data[out.offset(ox, oy) : out.offset(ox, oy)+in.C]
			n := 0
			for y := 2 * oy; y < min(2*oy+2, in.H); y++ {
				for x := 2 * ox; x < min(2*ox+2, in.W); x++ {
					src := in.Data[in.offset(x, y) : in.offset(x, y)+in.C]
					for c, v := range src {
						dst[c] += v
					}
					n++
				}
			}
			inv := 1.0 / float64(n)
			for c := range dst {
				dst[c] *= inv
			}
		}
	}
	return out
}

func poolBackward(grad *Tensor, h, w int) *Tensor {
	gin := NewTensor(h, w, grad.C)
	for oy := range grad.H {
		for ox := range grad.W {
			y1 := min(2*oy+2, h)
			x1 := min(2*ox+2, w)
			inv := 1.0 / float64((y1-2*oy)*(x1-2*ox))
			src := grad.Data[grad.offset(ox, oy) : grad.offset(ox, oy)+grad.C]
			for y := 2 * oy; y < y1; y++ {
				for x := 2 * ox; x < x1; x++ {
					dst := gin.Data[gin.offset(x, y) : gin.offset(x, y)+grad.C]
					for c, v := range src {
						dst[c] += v * inv
					}
				}
			}
		}
	}
	return gin
}
