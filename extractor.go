package neuralstyle

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// Features maps published layer names to feature maps. Feature maps are
// read-only once produced.
type Features map[string]*Tensor

// Extractor evaluates the fixed VGG-19 feature layers with frozen
// pretrained weights.
type Extractor struct {
	layers []Layer
	inC    int
}

// NewExtractor reads the feature layers from src and checks them against the
// expected topology position by position. Records past the last pool
// (classifier and softmax) are ignored.
func NewExtractor(src WeightSource) (*Extractor, error) {
	if n := src.NumLayers(); n < len(vgg19) {
		return nil, &ModelFormatError{Index: n, Expected: vgg19[n].name, Reason: "missing layer"}
	}
	e := &Extractor{layers: make([]Layer, len(vgg19)), inC: 3}
	ch := e.inC
	for i, want := range vgg19 {
		rec, err := src.Layer(i)
		if err != nil {
			return nil, errors.Wrapf(err, "extractor: layer %d", i)
		}
		if rec.Name != want.name {
			return nil, &ModelFormatError{Index: i, Expected: want.name, Got: rec.Name}
		}
		if rec.Type != want.kind.String() {
			return nil, &ModelFormatError{Index: i, Expected: want.name, Got: rec.Name,
				Reason: fmt.Sprintf("type %q, want %q", rec.Type, want.kind)}
		}
		l := Layer{Name: want.name, Kind: want.kind, Output: want.output, In: ch, Out: ch}
		if want.kind == Convolution {
			if err := checkConvRecord(i, rec, ch); err != nil {
				return nil, err
			}
			l.Out = rec.Shape[3]
			l.Weights = rec.Weights
			l.Bias = rec.Bias
			ch = l.Out
		}
		e.layers[i] = l
	}
	return e, nil
}

func checkConvRecord(i int, rec LayerRecord, in int) error {
	bad := func(format string, args ...any) error {
		return &ModelFormatError{Index: i, Expected: rec.Name, Got: rec.Name, Reason: fmt.Sprintf(format, args...)}
	}
	s := rec.Shape
	switch {
	case s[0] != 3 || s[1] != 3:
		return bad("kernel is %dx%d, want 3x3", s[0], s[1])
	case s[2] != in:
		return bad("kernel takes %d channels, previous layer gives %d", s[2], in)
	case s[3] <= 0:
		return bad("kernel has %d filters", s[3])
	case len(rec.Weights) != 9*s[2]*s[3]:
		return bad("%d weights for shape %v", len(rec.Weights), s)
	case len(rec.Bias) != s[3]:
		return bad("%d biases for %d filters", len(rec.Bias), s[3])
	}
	return nil
}

// Layers returns a copy of the evaluation plan.
func (e *Extractor) Layers() []Layer {
	out := slices.Clone(e.layers)
	for i := range out {
		out[i].Weights = slices.Clone(out[i].Weights)
		out[i].Bias = slices.Clone(out[i].Bias)
	}
	return out
}

func (e *Extractor) depth(names []string) (int, error) {
	if len(names) == 0 {
		return len(e.layers) - 1, nil
	}
	d := 0
	for _, name := range names {
		i, ok := topologyIndex(name)
		if !ok {
			return 0, errors.Errorf("extractor: unknown layer %q", name)
		}
		d = max(d, i)
	}
	return d, nil
}

// Trace is one forward evaluation kept for the reverse pass.
type Trace struct {
	Features Features

	e     *Extractor
	input *Tensor
	outs  []*Tensor // outs[i] is the output of layer i
}

// Trace evaluates img only as deep as the deepest requested layer and
// publishes the requested feature maps (every reached one when names is empty).
func (e *Extractor) Trace(img *Tensor, names ...string) (*Trace, error) {
	if img.C != e.inC {
		return nil, errors.Errorf("extractor: input has %d channels, want %d", img.C, e.inC)
	}
	depth, err := e.depth(names)
	if err != nil {
		return nil, err
	}
	outs := make([]*Tensor, depth+1)
	prev := img
	for i := range depth + 1 {
		l := &e.layers[i]
		switch l.Kind {
		case Convolution:
			prev = convForward(prev, l)
		case Activation:
			// the convolution output is not published, so rectify it in place
			prev = reluInPlace(prev)
		case Pool:
			prev = poolForward(prev)
		}
		outs[i] = prev
	}

	feats := Features{}
	if len(names) == 0 {
		for i, o := range outs {
			if name := e.layers[i].Output; name != "" {
				feats[name] = o
			}
		}
	}
	for _, name := range names {
		i, _ := topologyIndex(name)
		feats[name] = outs[i]
	}
	return &Trace{Features: feats, e: e, input: img, outs: outs}, nil
}

// Evaluate returns the named feature maps of img.
func (e *Extractor) Evaluate(img *Tensor, names ...string) (Features, error) {
	t, err := e.Trace(img, names...)
	if err != nil {
		return nil, err
	}
	return t.Features, nil
}

// Gradient runs the reverse pass. seeds holds d(loss)/d(feature) for
// published layers; the result is d(loss)/d(input).
func (t *Trace) Gradient(seeds map[string]*Tensor) (*Tensor, error) {
	layers := t.e.layers
	for name := range seeds {
		i, ok := topologyIndex(name)
		if !ok || i >= len(t.outs) {
			return nil, errors.Errorf("extractor: no traced output for %q", name)
		}
		if !seeds[name].SameShape(t.outs[i]) {
			return nil, errors.Errorf("extractor: gradient for %q has shape %v, want %v",
				name, seeds[name].Shape(), t.outs[i].Shape())
		}
	}

	var grad *Tensor
	for i := len(t.outs) - 1; i >= 0; i-- {
		l := &layers[i]
		if s, ok := seeds[l.Output]; ok && l.Output != "" {
			if grad == nil {
				grad = s.Clone()
			} else {
				for j, v := range s.Data {
					grad.Data[j] += v
				}
			}
		}
		if grad == nil {
			continue
		}
		in := t.input
		if i > 0 {
			in = t.outs[i-1]
		}
		switch l.Kind {
		case Convolution:
			grad = convBackward(grad, l)
		case Activation:
			grad = reluBackward(grad, t.outs[i])
		case Pool:
			grad = poolBackward(grad, in.H, in.W)
		}
	}
	if grad == nil {
		return NewTensor(t.input.H, t.input.W, t.input.C), nil
	}
	return grad, nil
}
