// Package generation synthesizes images from text, used for background
// replacement.
package generation

import (
	"context"
	"fmt"
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

// Generator handles image generation operations
type Generator struct {
	predictor Predictor
	fetcher   Fetcher
	model     string
	seed      int
	logger    *zap.Logger
}

// NewGenerator creates a new Generator. model is an alias understood by
// GetModelFromAlias. A positive seed makes background scenes reproducible.
func NewGenerator(p Predictor, f Fetcher, model string, seed int, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{predictor: p, fetcher: f, model: GetModelFromAlias(model), seed: seed, logger: logger}
}

// GenerateImage generates an image with the configured model
func (g *Generator) GenerateImage(ctx context.Context, params GenerateParams) (*imageref.Image, error) {
	startTime := time.Now()

	if strings.TrimSpace(params.Prompt) == "" {
		return nil, editerr.Validation("generate_image", "prompt is required")
	}

	modelID := g.model
	input := g.buildInputParams(params, modelID)

	g.logger.Debug("generating image",
		zap.String("model", modelID),
		zap.Any("parameters", input),
	)

	result, err := g.predictor.Run(ctx, "generate_image", modelID, input)
	if err != nil {
		return nil, err
	}
	outputURL, err := client.OutputURL("generate_image", result)
	if err != nil {
		return nil, err
	}
	out, err := g.fetcher.Resolve(ctx, outputURL)
	if err != nil {
		return nil, editerr.Wrap("generate_image: fetch output", err)
	}

	g.logger.Debug("generation complete",
		zap.String("prediction_id", result.ID),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return out, nil
}

// Generate renders a scene matching description at roughly width×height.
// The compositor resamples the result, so only the aspect ratio matters.
func (g *Generator) Generate(ctx context.Context, description string, width, height int) (*imageref.Image, error) {
	return g.GenerateImage(ctx, GenerateParams{
		Prompt: fmt.Sprintf("%s, empty scene with no people or foreground objects, photorealistic background", strings.TrimSpace(description)),
		Width:  width,
		Height: height,
		Seed:   g.seed,
	})
}

// buildInputParams builds the input parameters for the API based on model type
func (g *Generator) buildInputParams(params GenerateParams, modelID string) map[string]interface{} {
	input := map[string]interface{}{
		"prompt": params.Prompt,
	}

	if usesAspectRatio(modelID) {
		input["aspect_ratio"] = inferAspectRatio(params.Width, params.Height)
		input["output_format"] = "png"
	} else {
		// Standard models use width/height
		width := params.Width
		height := params.Height
		if width <= 0 {
			width = 1024
		}
		if height <= 0 {
			height = 1024
		}
		input["width"] = width
		input["height"] = height
		input["guidance_scale"] = 7.5
		input["negative_prompt"] = "people, text, watermark"
	}

	// Add seed if specified
	if params.Seed > 0 {
		input["seed"] = params.Seed
	}

	return input
}

// inferAspectRatio infers aspect ratio from width and height
func inferAspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return "1:1"
	}

	ratio := float64(width) / float64(height)

	if ratio > 1.7 { // ~16:9
		return "16:9"
	} else if ratio < 0.6 { // ~9:16
		return "9:16"
	} else if ratio > 1.2 && ratio < 1.4 { // ~4:3
		return "4:3"
	} else if ratio > 0.7 && ratio < 0.8 { // ~3:4
		return "3:4"
	}

	return "1:1"
}
