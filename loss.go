package neuralstyle

import (
	"maps"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Loss is the value of the objective for one canvas.
type Loss struct {
	Content float64
	Style   float64 // weighted sum over style layers, before StyleWeight
	Total   float64
}

func dims(t *Tensor) (n, m float64) {
	return float64(t.C), float64(t.H * t.W)
}

// ============ CONTENT ============

// ContentLoss is sum((x-p)^2) / (4*N*M) with N channels and M positions.
func ContentLoss(p, x *Tensor) (float64, error) {
	if !p.SameShape(x) {
		return 0, errors.Errorf("content loss: shapes %v and %v differ", p.Shape(), x.Shape())
	}
	return contentLoss(p, x), nil
}

func contentLoss(p, x *Tensor) float64 {
	n, m := dims(p)
	sum := 0.0
	for i, v := range x.Data {
		d := v - p.Data[i]
		sum += d * d
	}
	return sum / (4 * n * m)
}

func contentGradient(p, x *Tensor) *Tensor {
	n, m := dims(p)
	g := NewTensor(x.H, x.W, x.C)
	floats.SubTo(g.Data, x.Data, p.Data)
	floats.Scale(1/(2*n*m), g.Data)
	return g
}

// ============ STYLE ============

// Gram returns F^T F where F is the feature map viewed as positions x channels.
func Gram(f *Tensor) *mat.Dense {
	fm := f.Matrix()
	g := mat.NewDense(f.C, f.C, nil)
	g.Mul(fm.T(), fm)
	return g
}

func gramLoss(a, g *mat.Dense, n, m float64) (float64, *mat.Dense) {
	var diff mat.Dense
	diff.Sub(g, a)
	d := diff.RawMatrix().Data
	return floats.Dot(d, d) / (4 * n * n * m * m), &diff
}

// LayerStyleLoss is sum((G(x)-G(a))^2) / (4*N^2*M^2) for style features a
// and canvas features x of one layer.
func LayerStyleLoss(a, x *Tensor) (float64, error) {
	if !a.SameShape(x) {
		return 0, errors.Errorf("style loss: shapes %v and %v differ", a.Shape(), x.Shape())
	}
	n, m := dims(a)
	loss, _ := gramLoss(Gram(a), Gram(x), n, m)
	return loss, nil
}

// StyleLoss sums LayerStyleLoss over the weighting table. Layers missing
// from the table contribute nothing.
func StyleLoss(weights map[string]float64, style, canvas Features) (float64, error) {
	total := 0.0
	for _, name := range slices.Sorted(maps.Keys(weights)) {
		w := weights[name]
		if w == 0 {
			continue
		}
		a, x := style[name], canvas[name]
		if a == nil || x == nil {
			return 0, errors.Errorf("style loss: no features for %q", name)
		}
		l, err := LayerStyleLoss(a, x)
		if err != nil {
			return 0, errors.Wrapf(err, "layer %s", name)
		}
		total += w * l
	}
	return total, nil
}

// ============ OBJECTIVE ============

type styleTarget struct {
	name   string
	weight float64
	gram   *mat.Dense
	shape  [4]int
}

// Objective is beta*content + alpha*style against fixed targets computed
// once from the content and style images.
type Objective struct {
	ContentWeight float64
	StyleWeight   float64

	contentLayer string
	content      *Tensor
	style        []styleTarget
}

func NewObjective(cfg Config, content, style Features) (*Objective, error) {
	p := content[cfg.ContentLayer]
	if p == nil {
		return nil, errors.Errorf("objective: no content features for %q", cfg.ContentLayer)
	}
	o := &Objective{
		ContentWeight: cfg.ContentWeight,
		StyleWeight:   cfg.StyleWeight,
		contentLayer:  cfg.ContentLayer,
		content:       p,
	}
	for _, name := range slices.Sorted(maps.Keys(cfg.StyleLayers)) {
		w := cfg.StyleLayers[name]
		if w == 0 {
			continue
		}
		a := style[name]
		if a == nil {
			return nil, errors.Errorf("objective: no style features for %q", name)
		}
		o.style = append(o.style, styleTarget{name: name, weight: w, gram: Gram(a), shape: a.Shape()})
	}
	return o, nil
}

// Layers lists the feature maps the objective reads.
func (o *Objective) Layers() []string {
	names := []string{o.contentLayer}
	for _, s := range o.style {
		if !slices.Contains(names, s.name) {
			names = append(names, s.name)
		}
	}
	return names
}

// Evaluate returns the loss of the canvas features and d(total)/d(feature)
// for every layer the objective reads.
func (o *Objective) Evaluate(f Features) (Loss, map[string]*Tensor, error) {
	var loss Loss
	x := f[o.contentLayer]
	if x == nil || !x.SameShape(o.content) {
		return loss, nil, errors.Errorf("objective: canvas features for %q missing or misshaped", o.contentLayer)
	}
	loss.Content = contentLoss(o.content, x)
	g := contentGradient(o.content, x)
	floats.Scale(o.ContentWeight, g.Data)
	seeds := map[string]*Tensor{o.contentLayer: g}

	for _, s := range o.style {
		x := f[s.name]
		if x == nil || x.Shape() != s.shape {
			return loss, nil, errors.Errorf("objective: canvas features for %q missing or misshaped", s.name)
		}
		n, m := dims(x)
		l, diff := gramLoss(s.gram, Gram(x), n, m)
		loss.Style += s.weight * l

		// d/dF of sum((F^T F - A)^2) / (4 N^2 M^2) is F (G - A) / (N^2 M^2)
		sg := NewTensor(x.H, x.W, x.C)
		sm := sg.Matrix()
		sm.Mul(x.Matrix(), diff)
		floats.Scale(o.StyleWeight*s.weight/(n*n*m*m), sg.Data)
		if prev, ok := seeds[s.name]; ok {
			floats.Add(prev.Data, sg.Data)
		} else {
			seeds[s.name] = sg
		}
	}
	loss.Total = o.ContentWeight*loss.Content + o.StyleWeight*loss.Style
	return loss, seeds, nil
}
