// Package dispatcher executes an edit plan one operation at a time.
//
// Each operation receives the previous operation's output image. The first
// failure stops the plan; the outcome then carries the last image that was
// produced successfully. Nothing is rolled back.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
	"github.com/gomcpgo/replicate_image_edit/pkg/plan"
	"github.com/gomcpgo/replicate_image_edit/pkg/segmentation"
	"github.com/gomcpgo/replicate_image_edit/pkg/transform"
)

// State is the lifecycle of one plan execution, and of each of its steps.
type State int

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// transitions lists the legal moves. Running repeats once per operation.
var transitions = map[State][]State{
	StatePending: {StateRunning, StateSucceeded, StateFailed},
	StateRunning: {StateRunning, StateSucceeded, StateFailed},
}

type machine struct{ state State }

func (m *machine) to(next State) {
	for _, s := range transitions[m.state] {
		if s == next {
			m.state = next
			return
		}
	}
	panic(fmt.Sprintf("dispatcher: illegal transition %s -> %s", m.state, next))
}

// ErrTargetNotFound is wrapped by the error returned when segmentation
// cannot locate an operation's target.
var ErrTargetNotFound = errors.New("could not find target")

// Segmenter locates a labelled element.
type Segmenter interface {
	Resolve(ctx context.Context, img *imageref.Image, label string) (segmentation.Result, error)
}

type Inpainter interface {
	Inpaint(ctx context.Context, img, mask *imageref.Image, prompt string) (*imageref.Image, error)
}

type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, img *imageref.Image) (*imageref.Image, error)
}

type Relighter interface {
	Relight(ctx context.Context, img *imageref.Image, lighting string) (*imageref.Image, error)
}

type Upscaler interface {
	Upscale(ctx context.Context, img *imageref.Image, scale int) (*imageref.Image, error)
}

// Reporter answers questions about an image without changing it.
type Reporter interface {
	Report(ctx context.Context, img *imageref.Image, question string) (string, error)
}

// Generator synthesizes a background scene.
type Generator interface {
	Generate(ctx context.Context, description string, width, height int) (*imageref.Image, error)
}

// Editor is a native single-call editor, used for move and resize.
type Editor interface {
	Edit(ctx context.Context, img *imageref.Image, instruction string) (*imageref.Image, error)
}

// Capabilities are the remote collaborators operations are routed to. A nil
// capability makes the operations that need it fail as unsupported.
type Capabilities struct {
	Segmenter  Segmenter
	Inpainter  Inpainter
	Background BackgroundRemover
	Relighter  Relighter
	Upscaler   Upscaler
	Reporter   Reporter
	Generator  Generator
	Editor     Editor
}

// StepRecord is the audit entry for one operation.
type StepRecord struct {
	Index   int
	Kind    plan.Kind
	Summary string
	Target  string
	State   State
	// Report holds detect/describe answers.
	Report string
	// Region is the area the operation addressed, when one was computed.
	// For move and resize it is advisory only.
	Region     *image.Rectangle
	Confidence float64
	Duration   time.Duration
	Err        error
}

// Outcome is the result of one plan execution. Image is the final image on
// success and the last successfully produced image on failure.
type Outcome struct {
	State       State
	Image       *imageref.Image
	Operations  []plan.Operation
	Steps       []StepRecord
	FailedIndex int
}

// Dispatcher routes plan operations to capabilities.
type Dispatcher struct {
	caps   Capabilities
	logger *zap.Logger
}

func New(caps Capabilities, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{caps: caps, logger: logger}
}

// Execute runs p against img. The returned Outcome is never nil. On error
// the outcome is Failed, FailedIndex names the operation and the error
// keeps its editerr kind.
func (d *Dispatcher) Execute(ctx context.Context, p *plan.Plan, img *imageref.Image) (*Outcome, error) {
	var ops []plan.Operation
	if p != nil {
		ops = p.Operations
	}
	out := &Outcome{
		State:       StatePending,
		Image:       img,
		Operations:  ops,
		Steps:       make([]StepRecord, len(ops)),
		FailedIndex: -1,
	}
	for i, op := range ops {
		out.Steps[i] = StepRecord{
			Index:   i,
			Kind:    op.Kind(),
			Summary: plan.Summary(op),
			Target:  plan.TargetOf(op),
			State:   StatePending,
		}
	}
	m := &machine{state: StatePending}

	if img == nil {
		m.to(StateFailed)
		out.State = m.state
		return out, editerr.Validation("dispatch", "source image is required")
	}

	current := img
	for i, op := range ops {
		m.to(StateRunning)
		step := &out.Steps[i]
		step.State = StateRunning
		started := time.Now()

		d.logger.Info("operation started",
			zap.Int("index", i),
			zap.Int("total", len(ops)),
			zap.String("operation", step.Summary),
		)

		next, err := d.step(ctx, op, current, step)
		step.Duration = time.Since(started)
		if err != nil {
			err = editerr.Wrap(fmt.Sprintf("operation %d (%s)", i+1, op.Kind()), err)
			step.State = StateFailed
			step.Err = err
			m.to(StateFailed)
			out.State = m.state
			out.FailedIndex = i
			out.Image = current
			d.logger.Warn("operation failed, aborting plan",
				zap.Int("index", i),
				zap.String("kind", string(op.Kind())),
				zap.String("error_kind", editerr.KindOf(err).String()),
				zap.Int("skipped", len(ops)-i-1),
				zap.Error(err),
			)
			return out, err
		}

		if op.Kind().Observes() {
			next = current
		}
		step.State = StateSucceeded
		current = next
		d.logger.Info("operation finished",
			zap.Int("index", i),
			zap.Duration("duration", step.Duration),
			zap.Bool("mutated", next != img),
		)
	}

	m.to(StateSucceeded)
	out.State = m.state
	out.Image = current
	return out, nil
}

// step validates and runs one operation, returning its output image.
func (d *Dispatcher) step(ctx context.Context, op plan.Operation, img *imageref.Image, rec *StepRecord) (*imageref.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, &editerr.Error{Kind: editerr.KindFatal, Op: "dispatch", Message: "canceled", Err: err}
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if op.Kind().NeedsTarget() && d.caps.Segmenter == nil {
		return nil, unsupported("segmentation")
	}

	switch o := op.(type) {
	case plan.Remove:
		return d.inpaintTarget(ctx, img, o.Target, "", rec)
	case plan.Replace:
		return d.inpaintTarget(ctx, img, o.Target, o.Replacement, rec)
	case plan.Add:
		return d.add(ctx, img, o, rec)
	case plan.Relight:
		if d.caps.Relighter == nil {
			return nil, unsupported("relight")
		}
		return d.caps.Relighter.Relight(ctx, img, o.Lighting)
	case plan.Background:
		return d.background(ctx, img, o.Description)
	case plan.Upscale:
		if d.caps.Upscaler == nil {
			return nil, unsupported("upscale")
		}
		scale := o.Scale
		if scale == 0 {
			scale = plan.DefaultUpscale
		}
		return d.caps.Upscaler.Upscale(ctx, img, scale)
	case plan.Style:
		return nil, editerr.Unsupported("style", "style transfer is not available in planned edits; use the direct strategy")
	case plan.Move:
		return d.move(ctx, img, o, rec)
	case plan.Resize:
		return d.resize(ctx, img, o, rec)
	case plan.Detect:
		return d.observe(ctx, img, transform.DetectQuestion(o.Target), rec)
	case plan.Describe:
		return d.observe(ctx, img, transform.DescribeQuestion(o.Target), rec)
	case plan.Extract:
		return d.extract(ctx, img, o.Target, rec)
	}
	return nil, editerr.Unsupported("dispatch", "unknown operation %T", op)
}

func unsupported(capability string) error {
	return editerr.Unsupported(capability, "no %s capability configured", capability)
}

// locate resolves label to a mask, turning not-found into an error.
func (d *Dispatcher) locate(ctx context.Context, img *imageref.Image, label string, rec *StepRecord) (*imageref.Image, error) {
	if d.caps.Segmenter == nil {
		return nil, unsupported("segmentation")
	}
	res, err := d.caps.Segmenter.Resolve(ctx, img, label)
	if err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, &editerr.Error{
			Kind:    editerr.KindNotFound,
			Op:      "segment",
			Message: fmt.Sprintf("%s %q", ErrTargetNotFound.Error(), label),
			Details: map[string]interface{}{"target": label},
			Err:     ErrTargetNotFound,
		}
	}
	rec.Confidence = res.Confidence
	return res.Mask, nil
}
