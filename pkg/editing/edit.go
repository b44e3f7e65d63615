package editing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/client"
	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
	"github.com/gomcpgo/replicate_image_edit/pkg/types"
)

// Predictor runs one model prediction to completion.
type Predictor interface {
	Run(ctx context.Context, op, model string, input map[string]interface{}) (*types.ReplicatePredictionResponse, error)
}

// Fetcher loads an image reference returned by a model.
type Fetcher interface {
	Resolve(ctx context.Context, ref string) (*imageref.Image, error)
}

// Editor performs single-call, instruction-based edits with FLUX Kontext
type Editor struct {
	predictor Predictor
	fetcher   Fetcher
	model     string
	logger    *zap.Logger
}

// NewEditor creates a new Editor. model accepts the aliases understood by
// GetModelFromAlias.
func NewEditor(p Predictor, f Fetcher, model string, logger *zap.Logger) *Editor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Editor{
		predictor: p,
		fetcher:   f,
		model:     GetModelFromAlias(model),
		logger:    logger,
	}
}

// Edit applies instruction to img in one model call.
func (e *Editor) Edit(ctx context.Context, img *imageref.Image, instruction string) (*imageref.Image, error) {
	startTime := time.Now()

	instruction = strings.TrimSpace(instruction)
	if img == nil {
		return nil, editerr.Validation("edit_image", "image is required")
	}
	if instruction == "" {
		return nil, editerr.Validation("edit_image", "edit instruction is required")
	}

	input := e.buildEditInput(img.DataURL(), instruction)
	e.logger.Debug("editing image",
		zap.String("model", e.model),
		zap.String("instruction", instruction),
	)

	result, err := e.predictor.Run(ctx, "edit_image", e.model, input)
	if err != nil {
		return nil, err
	}
	outputURL, err := client.OutputURL("edit_image", result)
	if err != nil {
		return nil, err
	}
	out, err := e.fetcher.Resolve(ctx, outputURL)
	if err != nil {
		return nil, editerr.Wrap("edit_image: fetch output", err)
	}

	e.logger.Debug("edit complete",
		zap.String("prediction_id", result.ID),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return out, nil
}

// buildEditInput builds input parameters for FLUX Kontext editing
func (e *Editor) buildEditInput(dataURL, instruction string) map[string]interface{} {
	input := map[string]interface{}{
		"input_image":   dataURL,
		"prompt":        instruction,
		"aspect_ratio":  "match_input_image",
		"output_format": "png",
	}
	switch e.model {
	case ModelFluxKontextMax:
		input["safety_tolerance"] = 2
	case ModelFluxKontextDev:
		input["num_inference_steps"] = 30
		input["guidance"] = 2.5
	}
	return input
}

// MoveInstruction phrases a move for the native editor.
func MoveInstruction(target, position string) string {
	return fmt.Sprintf("Move the %s to the %s of the image. Keep everything else exactly the same.", target, position)
}

// ResizeInstruction phrases a resize for the native editor.
func ResizeInstruction(target string, scale float64) string {
	pct := int(math.Round(math.Abs(scale-1) * 100))
	switch {
	case scale > 1:
		return fmt.Sprintf("Make the %s %d%% larger. Keep everything else exactly the same.", target, pct)
	case scale < 1:
		return fmt.Sprintf("Make the %s %d%% smaller. Keep everything else exactly the same.", target, pct)
	}
	return fmt.Sprintf("Keep the %s at its current size.", target)
}
