// Package orchestrator runs one edit instruction end to end.
//
// Two strategies exist. Direct sends the instruction to a native editor in a
// single call. Planned analyzes the scene, asks for an operation plan and
// executes it with the dispatcher. A failed direct edit falls back to the
// planned strategy exactly once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/dispatcher"
	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
	"github.com/gomcpgo/replicate_image_edit/pkg/plan"
	"github.com/gomcpgo/replicate_image_edit/pkg/planner"
	"github.com/gomcpgo/replicate_image_edit/pkg/store"
)

// Strategy selects how an instruction is carried out.
type Strategy string

const (
	StrategyDirect  Strategy = "direct"
	StrategyPlanned Strategy = "planned"
)

// ParseStrategy accepts "direct" or "planned"; empty means direct.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyDirect:
		return StrategyDirect, nil
	case StrategyPlanned:
		return StrategyPlanned, nil
	}
	return "", editerr.Validation("strategy", "unknown strategy %q (want direct or planned)", s)
}

// NoPlanMessage is reported when the planner returns no operations.
const NoPlanMessage = "no actionable plan for this instruction"

// DirectEditor is the native single-call edit capability.
type DirectEditor interface {
	Edit(ctx context.Context, img *imageref.Image, instruction string) (*imageref.Image, error)
}

// Executor runs a plan.
type Executor interface {
	Execute(ctx context.Context, p *plan.Plan, img *imageref.Image) (*dispatcher.Outcome, error)
}

// Request is one edit instruction against one image.
type Request struct {
	Image       *imageref.Image
	Instruction string
	Strategy    Strategy
}

// Result describes what an edit produced. On a failed planned edit Image is
// the last image produced successfully, which may be the original.
type Result struct {
	SessionID   string
	Success     bool
	Strategy    Strategy
	FellBack    bool
	Message     string
	Image       *imageref.Image
	Handle      store.Handle
	InputHandle store.Handle
	Scene       *plan.SceneAnalysis
	Plan        *plan.Plan
	Steps       []dispatcher.StepRecord
	FailedIndex int
	// DirectErr is the direct strategy's error when the edit fell back.
	DirectErr error
	Duration  time.Duration
}

type Orchestrator struct {
	direct   DirectEditor
	planner  planner.Planner
	executor Executor
	store    store.Store
	logger   *zap.Logger
}

// New creates an Orchestrator. direct may be nil, in which case every
// direct request falls back to planning. s may be nil to skip storing
// results.
func New(direct DirectEditor, p planner.Planner, exec Executor, s store.Store, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{direct: direct, planner: p, executor: exec, store: s, logger: logger}
}

// selector is the two-state strategy machine. It can move from direct to
// planned once and never back.
type selector struct {
	current  Strategy
	fellBack bool
}

// fallback reports whether a failed attempt should be retried with the
// planned strategy, switching state if so.
func (s *selector) fallback(ctx context.Context, err error) bool {
	if s.current != StrategyDirect || s.fellBack {
		return false
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || editerr.Is(err, editerr.KindValidation) {
		return false
	}
	s.current = StrategyPlanned
	s.fellBack = true
	return true
}

// Edit carries out req. A nil error with Success false means the plan was
// empty. On a failed planned edit both the partial Result and the error are
// returned.
func (o *Orchestrator) Edit(ctx context.Context, req Request) (*Result, error) {
	startTime := time.Now()
	if req.Image == nil {
		return nil, editerr.Validation("edit", "image is required")
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, editerr.Validation("edit", "instruction is required")
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyDirect
	}

	res := &Result{SessionID: ulid.Make().String(), FailedIndex: -1}
	logger := o.logger.With(zap.String("session_id", res.SessionID))
	res.InputHandle = o.put(ctx, logger, req.Image)

	sel := &selector{current: strategy}
	var err error
	for {
		res.Strategy = sel.current
		logger.Info("edit attempt", zap.String("strategy", string(sel.current)), zap.String("instruction", req.Instruction))
		switch sel.current {
		case StrategyDirect:
			err = o.runDirect(ctx, req, res)
		default:
			err = o.runPlanned(ctx, logger, req, res)
		}
		if err == nil {
			break
		}
		if !sel.fallback(ctx, err) {
			break
		}
		logger.Warn("direct edit failed, falling back to planned edit", zap.Error(err))
		res.DirectErr = err
		res.FellBack = true
	}

	if res.Image != nil && res.Image != req.Image {
		res.Handle = o.put(ctx, logger, res.Image)
	} else {
		res.Handle = res.InputHandle
	}
	res.Duration = time.Since(startTime)

	logger.Info("edit finished",
		zap.Bool("success", res.Success),
		zap.String("strategy", string(res.Strategy)),
		zap.Bool("fell_back", res.FellBack),
		zap.Duration("duration", res.Duration),
		zap.Error(err),
	)
	return res, err
}

func (o *Orchestrator) runDirect(ctx context.Context, req Request, res *Result) error {
	if o.direct == nil {
		return editerr.Unsupported("direct_edit", "no direct editor configured")
	}
	img, err := o.direct.Edit(ctx, req.Image, req.Instruction)
	if err != nil {
		return err
	}
	res.Image = img
	res.Success = true
	res.Message = "edited with a single native call"
	return nil
}

func (o *Orchestrator) runPlanned(ctx context.Context, logger *zap.Logger, req Request, res *Result) error {
	if o.planner == nil || o.executor == nil {
		return editerr.Unsupported("planned_edit", "no planner configured")
	}
	res.Image = req.Image

	scene, err := o.planner.AnalyzeScene(ctx, req.Image)
	if err != nil {
		return err
	}
	res.Scene = scene

	p, err := o.planner.PlanEdit(ctx, scene, req.Instruction)
	if err != nil {
		return err
	}
	res.Plan = p
	if p.Empty() {
		logger.Info("planner returned no operations", zap.String("reasoning", p.Reasoning))
		res.Success = false
		res.Message = NoPlanMessage
		return nil
	}

	outcome, err := o.executor.Execute(ctx, p, req.Image)
	if outcome != nil {
		res.Steps = outcome.Steps
		res.FailedIndex = outcome.FailedIndex
		res.Image = outcome.Image
	}
	if err != nil {
		res.Message = fmt.Sprintf("operation %d of %d failed", res.FailedIndex+1, len(p.Operations))
		return err
	}
	res.Success = true
	res.Message = fmt.Sprintf("applied %d operations", len(p.Operations))
	return nil
}

// put stores img, logging rather than failing when the store is unavailable.
func (o *Orchestrator) put(ctx context.Context, logger *zap.Logger, img *imageref.Image) store.Handle {
	if o.store == nil || img == nil {
		return ""
	}
	h, err := o.store.Put(ctx, img)
	if err != nil {
		logger.Warn("failed to store image", zap.Error(err))
		return ""
	}
	return h
}
