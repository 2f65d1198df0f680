package neuralstyle

import (
	"math"
	"math/rand/v2"
	"testing"
)

// narrowRecords builds a VGG-19 shaped layer list with width filters per
// convolution and He-initialized weights, followed by a softmax record.
func narrowRecords(width int, seed uint64) []LayerRecord {
	rng := rand.New(rand.NewPCG(seed, 7))
	var recs []LayerRecord
	in := 3
	for _, e := range vgg19 {
		rec := LayerRecord{Name: e.name, Type: e.kind.String()}
		if e.kind == Convolution {
			rec.Shape = [4]int{3, 3, in, width}
			rec.Weights = make([]float64, 9*in*width)
			std := math.Sqrt(2.0 / float64(9*in))
			for i := range rec.Weights {
				rec.Weights[i] = rng.NormFloat64() * std
			}
			rec.Bias = make([]float64, width)
			for i := range rec.Bias {
				rec.Bias[i] = 0.01 * float64(i+1)
			}
			in = width
		}
		recs = append(recs, rec)
	}
	return append(recs, LayerRecord{Name: "prob", Type: "softmax"})
}

func narrowExtractor(t *testing.T, width int) *Extractor {
	t.Helper()
	e, err := NewExtractor(NewWeights(narrowRecords(width, 1)))
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	return e
}

func randomTensor(rng *rand.Rand, h, w, c int, scale float64) *Tensor {
	t := NewTensor(h, w, c)
	for i := range t.Data {
		t.Data[i] = (rng.Float64()*2 - 1) * scale
	}
	return t
}

func dot(a, b *Tensor) float64 {
	s := 0.0
	for i := range a.Data {
		s += a.Data[i] * b.Data[i]
	}
	return s
}

func closeTo(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
