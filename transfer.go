package neuralstyle

import (
	"fmt"
	"image"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"github.com/setanarut/neuralstyle/utils"
)

type State int

const (
	Initialized State = iota
	Running
	Checkpointing
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Checkpointing:
		return "checkpointing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ImageWriter persists output artifacts.
type ImageWriter interface {
	WriteImage(name string, img image.Image) error
}

// Checkpoint is the observation taken every CheckpointInterval iterations.
type Checkpoint struct {
	Iteration int
	Loss      Loss
	Sum       float64 // sum of the normalized canvas values
	Image     *image.RGBA
}

// Transfer optimizes one canvas against one content and one style image.
// It is not safe for concurrent use.
type Transfer struct {
	// Writer receives checkpoint and final images. Defaults to a
	// utils.DirWriter on Config.OutputDir.
	Writer ImageWriter
	// OnCheckpoint hooks run after each checkpoint image is written.
	OnCheckpoint []func(Checkpoint)

	cfg       Config
	extractor *Extractor
	objective *Objective
	canvas    *Tensor
	adam      *Adam
	state     State
	err       error // first fatal error, returned again once Failed
}

// NewTransfer computes the content and style targets once and prepares the
// initial canvas. content and style are normalized tensors.
func NewTransfer(cfg Config, ext *Extractor, content, style *Tensor) (*Transfer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkDims(cfg, "content", content); err != nil {
		return nil, err
	}
	if err := checkDims(cfg, "style", style); err != nil {
		return nil, err
	}

	contentFeats, err := ext.Evaluate(content, cfg.ContentLayer)
	if err != nil {
		return nil, errors.Wrap(err, "content features")
	}
	var styleNames []string
	for _, name := range StyleLayers {
		if cfg.StyleLayers[name] > 0 {
			styleNames = append(styleNames, name)
		}
	}
	styleFeats := Features{}
	if len(styleNames) > 0 {
		if styleFeats, err = ext.Evaluate(style, styleNames...); err != nil {
			return nil, errors.Wrap(err, "style features")
		}
	}
	obj, err := NewObjective(cfg, contentFeats, styleFeats)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	canvas, err := InitializeCanvas(content, cfg.NoiseRatio, rng)
	if err != nil {
		return nil, err
	}
	return &Transfer{
		Writer:    utils.NewDirWriter(cfg.OutputDir),
		cfg:       cfg,
		extractor: ext,
		objective: obj,
		canvas:    canvas,
		adam:      NewAdam(cfg.LearningRate),
		state:     Initialized,
	}, nil
}

func checkDims(cfg Config, name string, t *Tensor) error {
	want := [3]int{cfg.Height, cfg.Width, cfg.Channels}
	got := [3]int{t.H, t.W, t.C}
	if got != want {
		return &DimensionMismatchError{Image: name, Want: want, Got: got}
	}
	return nil
}

func (t *Transfer) State() State {
	return t.state
}

// Canvas returns a copy of the current normalized canvas.
func (t *Transfer) Canvas() *Tensor {
	return t.canvas.Clone()
}

// Iteration is the number of optimizer steps taken so far.
func (t *Transfer) Iteration() int {
	return t.adam.Steps()
}

// Loss evaluates the objective on the current canvas.
func (t *Transfer) Loss() (Loss, error) {
	feats, err := t.extractor.Evaluate(t.canvas, t.objective.Layers()...)
	if err != nil {
		return Loss{}, err
	}
	loss, _, err := t.objective.Evaluate(feats)
	if err != nil {
		return Loss{}, err
	}
	if math.IsNaN(loss.Total) || math.IsInf(loss.Total, 0) {
		return loss, &NumericInstabilityError{Iteration: t.Iteration(), Quantity: "loss"}
	}
	return loss, nil
}

// Step applies one optimizer update to the canvas and returns the loss the
// update was computed from. Steps beyond Config.Iterations are refused. Any
// error other than an exhausted budget leaves the transfer Failed.
func (t *Transfer) Step() (Loss, error) {
	if err := t.usable(); err != nil {
		return Loss{}, err
	}
	if t.Iteration() >= t.cfg.Iterations {
		return Loss{}, errors.Errorf("transfer: iteration budget of %d spent", t.cfg.Iterations)
	}
	loss, err := t.step()
	if err != nil {
		return loss, t.fail(err)
	}
	return loss, nil
}

func (t *Transfer) step() (Loss, error) {
	t.state = Running
	it := t.Iteration() + 1

	trace, err := t.extractor.Trace(t.canvas, t.objective.Layers()...)
	if err != nil {
		return Loss{}, err
	}
	loss, seeds, err := t.objective.Evaluate(trace.Features)
	if err != nil {
		return Loss{}, err
	}
	if math.IsNaN(loss.Total) || math.IsInf(loss.Total, 0) {
		return loss, &NumericInstabilityError{Iteration: it, Quantity: "loss"}
	}
	grad, err := trace.Gradient(seeds)
	if err != nil {
		return loss, err
	}
	if !finite(grad.Data) {
		return loss, &NumericInstabilityError{Iteration: it, Quantity: "gradient"}
	}
	t.adam.Step(t.canvas.Data, grad.Data)
	if !finite(t.canvas.Data) {
		return loss, &NumericInstabilityError{Iteration: it, Quantity: "canvas"}
	}
	return loss, nil
}

func (t *Transfer) usable() error {
	switch t.state {
	case Completed:
		return errors.New("transfer: run already completed")
	case Failed:
		return errors.Wrap(t.err, "transfer: run failed")
	}
	return nil
}

func (t *Transfer) fail(err error) error {
	t.state = Failed
	t.err = err
	return err
}

// Run steps the canvas until Config.Iterations updates have been applied in
// total, counting updates already made through Step. The canvas is
// checkpointed at iteration 0 when Run starts from there and after every
// CheckpointInterval-th update short of the last; the final canvas is
// written as Config.FinalName.
func (t *Transfer) Run() error {
	if err := t.usable(); err != nil {
		return err
	}
	log := t.cfg.logger()
	if t.Iteration() == 0 {
		if err := t.checkpoint(); err != nil {
			return t.fail(err)
		}
	}
	for t.Iteration() < t.cfg.Iterations {
		if _, err := t.Step(); err != nil {
			return err
		}
		if it := t.Iteration(); it%t.cfg.CheckpointInterval == 0 && it < t.cfg.Iterations {
			if err := t.checkpoint(); err != nil {
				return t.fail(err)
			}
		}
	}

	if err := t.Writer.WriteImage(t.cfg.FinalName, ToImage(t.canvas)); err != nil {
		return t.fail(errors.Wrapf(err, "write %s", t.cfg.FinalName))
	}
	t.state = Completed
	log.Printf("done after %d iterations, wrote %s", t.Iteration(), t.cfg.FinalName)
	return nil
}

func (t *Transfer) checkpoint() error {
	t.state = Checkpointing
	it := t.Iteration()
	loss, err := t.Loss()
	if err != nil {
		return err
	}
	cp := Checkpoint{Iteration: it, Loss: loss, Sum: t.canvas.Sum(), Image: ToImage(t.canvas)}
	t.cfg.logger().Printf("iter %d/%d loss=%.6f (content=%.6f style=%.6g) sum=%.3f",
		it, t.cfg.Iterations, loss.Total, loss.Content, loss.Style, cp.Sum)

	name := fmt.Sprintf("%d.png", it)
	if err := t.Writer.WriteImage(name, cp.Image); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	for _, hook := range t.OnCheckpoint {
		hook(cp)
	}
	t.state = Running
	return nil
}
