package neuralstyle

import (
	"math/rand/v2"
	"testing"
)

func TestGram(t *testing.T) {
	// two positions, two channels: rows (1,2) and (3,4)
	f := &Tensor{H: 1, W: 2, C: 2, Data: []float64{1, 2, 3, 4}}
	g := Gram(f)
	want := [][]float64{{10, 14}, {14, 20}}
	for i := range 2 {
		for j := range 2 {
			if g.At(i, j) != want[i][j] {
				t.Errorf("G[%d][%d] = %v, want %v", i, j, g.At(i, j), want[i][j])
			}
		}
	}

	z := Gram(NewTensor(3, 4, 5))
	r, c := z.Dims()
	if r != 5 || c != 5 {
		t.Fatalf("Expected 5x5 Gram matrix, got %dx%d", r, c)
	}
	for i := range 5 {
		for j := range 5 {
			if z.At(i, j) != 0 {
				t.Fatalf("Gram of zeros has %v at (%d,%d)", z.At(i, j), i, j)
			}
		}
	}
}

func mustLoss(t *testing.T) func(float64, error) float64 {
	return func(l float64, err error) float64 {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return l
	}
}

func TestContentLoss(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	p := randomTensor(rng, 3, 4, 2, 5)
	if l := mustLoss(t)(ContentLoss(p, p.Clone())); l != 0 {
		t.Errorf("Content loss against itself is %v", l)
	}
	for range 20 {
		x := randomTensor(rng, 3, 4, 2, 5)
		if l := mustLoss(t)(ContentLoss(p, x)); l < 0 {
			t.Fatalf("Negative content loss %v", l)
		}
	}
	// N=2, M=4, sum of squares 8
	zeros := NewTensor(2, 2, 2)
	ones := NewTensor(2, 2, 2)
	for i := range ones.Data {
		ones.Data[i] = 1
	}
	if l := mustLoss(t)(ContentLoss(zeros, ones)); l != 0.25 {
		t.Errorf("Expected 0.25, got %v", l)
	}
}

func TestLayerStyleLoss(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	a := randomTensor(rng, 4, 4, 3, 2)
	if l := mustLoss(t)(LayerStyleLoss(a, a.Clone())); l != 0 {
		t.Errorf("Style loss against itself is %v", l)
	}
	if l := mustLoss(t)(LayerStyleLoss(a, randomTensor(rng, 4, 4, 3, 2))); l <= 0 {
		t.Errorf("Expected positive style loss, got %v", l)
	}
	// the Gram matrix ignores where features are, only their co-occurrence
	shifted := NewTensor(4, 4, 3)
	for y := range 4 {
		for x := range 4 {
			for c := range 3 {
				shifted.Set((x+1)%4, y, c, a.At(x, y, c))
			}
		}
	}
	if l := mustLoss(t)(LayerStyleLoss(a, shifted)); !closeTo(l, 0, 1e-12) {
		t.Errorf("Style loss of a permuted feature map is %v", l)
	}
}

func TestLossesRejectMismatchedShapes(t *testing.T) {
	if _, err := ContentLoss(NewTensor(2, 2, 2), NewTensor(3, 3, 2)); err == nil {
		t.Error("ContentLoss accepted 2x2x2 against 3x3x2")
	}
	if _, err := LayerStyleLoss(NewTensor(2, 2, 2), NewTensor(2, 2, 3)); err == nil {
		t.Error("LayerStyleLoss accepted 2x2x2 against 2x2x3")
	}
	style := Features{"conv1_1": NewTensor(2, 2, 2)}
	canvas := Features{"conv1_1": NewTensor(2, 2, 3)}
	if _, err := StyleLoss(map[string]float64{"conv1_1": 1}, style, canvas); err == nil {
		t.Error("StyleLoss accepted mismatched layer shapes")
	}
}

func styleFeatures(rng *rand.Rand) Features {
	f := Features{}
	for i, name := range StyleLayers {
		f[name] = randomTensor(rng, 4>>min(i, 2), 4>>min(i, 2), 2+i, 3)
	}
	f["conv4_2"] = randomTensor(rng, 1, 1, 5, 3)
	return f
}

func TestStyleLossSingleLayerWeight(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	style, canvas := styleFeatures(rng), styleFeatures(rng)
	for _, only := range StyleLayers {
		table := map[string]float64{}
		for _, name := range StyleLayers {
			table[name] = 0
		}
		table[only] = 1
		got, err := StyleLoss(table, style, canvas)
		if err != nil {
			t.Fatal(err)
		}
		if want := mustLoss(t)(LayerStyleLoss(style[only], canvas[only])); got != want {
			t.Errorf("%s: total %v, layer loss %v", only, got, want)
		}
	}
	if l, err := StyleLoss(map[string]float64{"conv1_1": 1}, style, style); err != nil || l != 0 {
		t.Errorf("Style loss against itself is %v (%v)", l, err)
	}
	if _, err := StyleLoss(map[string]float64{"conv1_1": 1}, style, Features{}); err == nil {
		t.Error("Expected error for missing canvas features")
	}
}

func TestObjectiveGradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	cfg := DefaultConfig()
	// share a layer between content and style to cover seed accumulation
	cfg.ContentLayer = "conv2_1"
	target := styleFeatures(rng)
	obj, err := NewObjective(cfg, target, target)
	if err != nil {
		t.Fatal(err)
	}
	canvas := styleFeatures(rng)
	loss, seeds, err := obj.Evaluate(canvas)
	if err != nil {
		t.Fatal(err)
	}
	if want := cfg.ContentWeight*loss.Content + cfg.StyleWeight*loss.Style; !closeTo(loss.Total, want, 1e-12) {
		t.Errorf("Total %v, want %v", loss.Total, want)
	}
	if len(seeds) != len(StyleLayers) {
		t.Errorf("Expected %d gradient seeds, got %d", len(StyleLayers), len(seeds))
	}

	const h = 1e-5
	for _, name := range []string{"conv1_1", "conv2_1", "conv5_1"} {
		f := canvas[name]
		for _, i := range []int{0, len(f.Data) / 2, len(f.Data) - 1} {
			orig := f.Data[i]
			f.Data[i] = orig + h
			up, _, _ := obj.Evaluate(canvas)
			f.Data[i] = orig - h
			down, _, _ := obj.Evaluate(canvas)
			f.Data[i] = orig
			fd := (up.Total - down.Total) / (2 * h)
			if !closeTo(seeds[name].Data[i], fd, 1e-4) {
				t.Errorf("%s[%d]: analytic %v, finite difference %v", name, i, seeds[name].Data[i], fd)
			}
		}
	}
}

func TestObjectiveRejectsMisshapedFeatures(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	target := styleFeatures(rng)
	obj, err := NewObjective(DefaultConfig(), target, target)
	if err != nil {
		t.Fatal(err)
	}
	canvas := styleFeatures(rng)
	canvas["conv3_1"] = NewTensor(2, 2, 9)
	if _, _, err := obj.Evaluate(canvas); err == nil {
		t.Error("Expected error for misshaped canvas features")
	}
	if _, err := NewObjective(DefaultConfig(), Features{}, target); err == nil {
		t.Error("Expected error for missing content features")
	}
}
