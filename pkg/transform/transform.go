// Package transform wraps the Replicate models that change or describe an
// image: inpainting, background removal, relighting, upscaling and visual
// question answering.
package transform

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

// Service handles the transform operations
type Service struct {
	predictor Predictor
	fetcher   Fetcher
	logger    *zap.Logger
}

// NewService creates a new Service instance
func NewService(p Predictor, f Fetcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{predictor: p, fetcher: f, logger: logger}
}

// Inpaint regenerates the masked region of img. An empty prompt erases the
// region (object removal); otherwise the region is filled per the prompt.
func (s *Service) Inpaint(ctx context.Context, img, mask *imageref.Image, prompt string) (*imageref.Image, error) {
	if img == nil || mask == nil {
		return nil, editerr.Validation("inpaint", "image and mask are required")
	}
	prompt = strings.TrimSpace(prompt)

	model := types.ModelFluxFill
	input := map[string]interface{}{
		"image":         img.DataURL(),
		"mask":          mask.DataURL(),
		"prompt":        prompt,
		"output_format": "png",
	}
	if prompt == "" {
		model = types.ModelLaMa
		input = map[string]interface{}{
			"image": img.DataURL(),
			"mask":  mask.DataURL(),
		}
	}
	return s.run(ctx, "inpaint", model, input)
}

// RemoveBackground returns img with a transparent background.
func (s *Service) RemoveBackground(ctx context.Context, img *imageref.Image) (*imageref.Image, error) {
	if img == nil {
		return nil, editerr.Validation("remove_background", "image is required")
	}
	return s.run(ctx, "remove_background", types.ModelRemoveBG, map[string]interface{}{
		"image": img.DataURL(),
	})
}

// Relight re-renders img under the described lighting.
func (s *Service) Relight(ctx context.Context, img *imageref.Image, lighting string) (*imageref.Image, error) {
	lighting = strings.TrimSpace(lighting)
	if img == nil || lighting == "" {
		return nil, editerr.Validation("relight", "image and lighting description are required")
	}
	return s.run(ctx, "relight", types.ModelICLight, map[string]interface{}{
		"subject_image": img.DataURL(),
		"prompt":        lighting,
		"light_source":  LightSource(lighting),
		"output_format": "png",
	})
}

// LightSource maps a lighting description onto the relight model's
// light_source choices.
func LightSource(lighting string) string {
	l := strings.ToLower(lighting)
	switch {
	case strings.Contains(l, "left"):
		return "Left Light"
	case strings.Contains(l, "right"):
		return "Right Light"
	case strings.Contains(l, "top"), strings.Contains(l, "above"), strings.Contains(l, "overhead"):
		return "Top Light"
	case strings.Contains(l, "bottom"), strings.Contains(l, "below"):
		return "Bottom Light"
	}
	return "None"
}

// Upscale increases the resolution of img by scale.
func (s *Service) Upscale(ctx context.Context, img *imageref.Image, scale int) (*imageref.Image, error) {
	if img == nil {
		return nil, editerr.Validation("upscale", "image is required")
	}
	if scale <= 0 {
		scale = 2
	}
	return s.run(ctx, "upscale", types.ModelRealESRGAN, map[string]interface{}{
		"image":        img.DataURL(),
		"scale":        scale,
		"face_enhance": false,
	})
}

// Report asks a vision-language model a question about img. It never
// changes the image.
func (s *Service) Report(ctx context.Context, img *imageref.Image, question string) (string, error) {
	if img == nil {
		return "", editerr.Validation("report", "image is required")
	}
	result, err := s.predictor.Run(ctx, "report", types.ModelSceneAnalyzer, map[string]interface{}{
		"image":       img.DataURL(),
		"prompt":      question,
		"max_tokens":  512,
		"temperature": 0.2,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(client.OutputText(result))
	if text == "" {
		return "", editerr.Fatal("report", "model returned no text")
	}
	return text, nil
}

// DetectQuestion and DescribeQuestion phrase report prompts for an
// optional target.
func DetectQuestion(target string) string {
	if strings.TrimSpace(target) == "" {
		return "List every distinct object visible in this image with its approximate position."
	}
	return fmt.Sprintf("Are there any %s in this image? For each one, give its approximate position and size.", target)
}

func DescribeQuestion(target string) string {
	if strings.TrimSpace(target) == "" {
		return "Describe this image in detail."
	}
	return fmt.Sprintf("Describe the %s in this image in detail.", target)
}

func (s *Service) run(ctx context.Context, op, model string, input map[string]interface{}) (*imageref.Image, error) {
	startTime := time.Now()
	result, err := s.predictor.Run(ctx, op, model, input)
	if err != nil {
		return nil, err
	}
	outputURL, err := client.OutputURL(op, result)
	if err != nil {
		return nil, err
	}
	out, err := s.fetcher.Resolve(ctx, outputURL)
	if err != nil {
		return nil, editerr.Wrap(op+": fetch output", err)
	}
	s.logger.Debug("transform complete",
		zap.String("operation", op),
		zap.String("model", model),
		zap.String("prediction_id", result.ID),
		zap.Int("output_bytes", len(out.Data)),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return out, nil
}
