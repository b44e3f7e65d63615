// Package planner turns an image and an instruction into an edit plan using
// two language models: a vision model describes the scene, then a text model
// plans operations against that description.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
	"github.com/gomcpgo/replicate_image_edit/pkg/plan"
	"github.com/gomcpgo/replicate_image_edit/pkg/types"
)

// Planner is the planning capability consumed by the orchestrator.
type Planner interface {
	AnalyzeScene(ctx context.Context, img *imageref.Image) (*plan.SceneAnalysis, error)
	PlanEdit(ctx context.Context, scene *plan.SceneAnalysis, instruction string) (*plan.Plan, error)
}

// TextRunner runs a prediction and returns its flattened text output.
type TextRunner interface {
	RunForText(ctx context.Context, op, model string, input map[string]interface{}) (string, error)
}

// Replicate plans with Replicate-hosted language models.
type Replicate struct {
	runner      TextRunner
	sceneModel  string
	planModel   string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewReplicate(r TextRunner, logger *zap.Logger) *Replicate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replicate{
		runner:      r,
		sceneModel:  types.ModelSceneAnalyzer,
		planModel:   types.ModelPlanner,
		maxTokens:   1500,
		temperature: 0.2,
		logger:      logger,
	}
}

// AnalyzeScene asks the vision model for a structured scene description.
func (p *Replicate) AnalyzeScene(ctx context.Context, img *imageref.Image) (*plan.SceneAnalysis, error) {
	if img == nil {
		return nil, editerr.Validation("analyze_scene", "image is required")
	}
	startTime := time.Now()

	text, err := p.runner.RunForText(ctx, "analyze_scene", p.sceneModel, map[string]interface{}{
		"image":       img.DataURL(),
		"prompt":      scenePrompt(),
		"max_tokens":  p.maxTokens,
		"temperature": p.temperature,
	})
	if err != nil {
		return nil, err
	}
	scene, err := plan.ParseScene(text)
	if err != nil {
		p.logger.Warn("scene analysis unparseable", zap.Int("length", len(text)), zap.Error(err))
		return nil, err
	}

	p.logger.Info("scene analyzed",
		zap.Int("elements", len(scene.Elements)),
		zap.String("style", scene.Style),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return scene, nil
}

// PlanEdit asks the text model for the operations that carry out
// instruction against scene. An empty plan is a valid result.
func (p *Replicate) PlanEdit(ctx context.Context, scene *plan.SceneAnalysis, instruction string) (*plan.Plan, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, editerr.Validation("plan_edit", "instruction is required")
	}
	if scene == nil {
		return nil, editerr.Validation("plan_edit", "scene analysis is required")
	}
	sceneJSON, err := json.Marshal(scene)
	if err != nil {
		return nil, editerr.Fatal("plan_edit", "failed to encode scene: %v", err)
	}

	text, err := p.runner.RunForText(ctx, "plan_edit", p.planModel, map[string]interface{}{
		"system_prompt": planSystemPrompt(),
		"prompt":        planPrompt(string(sceneJSON), instruction),
		"max_tokens":    p.maxTokens,
		"temperature":   p.temperature,
	})
	if err != nil {
		return nil, err
	}
	result, err := plan.ParsePlan(text)
	if err != nil {
		p.logger.Warn("edit plan rejected", zap.String("instruction", instruction), zap.Error(err))
		return nil, err
	}

	if result.Unseen = plan.UnseenTargets(result, scene); len(result.Unseen) > 0 {
		p.logger.Warn("plan targets missing from scene analysis", zap.Strings("targets", result.Unseen))
	}

	p.logger.Info("edit planned",
		zap.Int("operations", len(result.Operations)),
		zap.Float64("confidence", result.Confidence),
		zap.String("reasoning", result.Reasoning),
	)
	return result, nil
}

func scenePrompt() string {
	cats := make([]string, len(plan.Categories))
	for i, c := range plan.Categories {
		cats[i] = string(c)
	}
	return fmt.Sprintf(`Analyze this image and respond with JSON only, in this shape:
{"description": "...", "style": "...", "lighting": "...",
 "elements": [{"label": "...", "category": "...", "position": "top-left|top|top-right|left|center|right|bottom-left|bottom|bottom-right", "size": "tiny|small|medium|large|dominant", "confidence": 0.0}]}
category must be one of: %s.
List every distinct visible element.`, strings.Join(cats, ", "))
}

func planSystemPrompt() string {
	kinds := make([]string, len(plan.Kinds))
	var targeted, observing []string
	for i, k := range plan.Kinds {
		kinds[i] = string(k)
		if k.NeedsTarget() {
			targeted = append(targeted, string(k))
		}
		if k.Observes() {
			observing = append(observing, string(k))
		}
	}
	return fmt.Sprintf(`You plan image edits. Respond with JSON only:
{"operations": [{"type": "...", "target": "...", "newPosition": "...", "parameters": {}}], "reasoning": "...", "confidence": 0.0}
type is one of: %s.
%s need a target that names an element from the scene.
%s only report on the image and never change it.
replace needs parameters.replacement. add needs parameters.element and parameters.position.
move needs newPosition. resize needs parameters.scale. relight needs parameters.lighting.
If the instruction cannot be carried out, return an empty operations list.`,
		strings.Join(kinds, ", "), strings.Join(targeted, ", "), strings.Join(observing, ", "))
}

func planPrompt(sceneJSON, instruction string) string {
	return fmt.Sprintf("Scene:\n%s\n\nInstruction: %s", sceneJSON, instruction)
}

var _ Planner = (*Replicate)(nil)
