// Package segmentation turns a natural-language label into a region mask.
//
// A Resolver fronts any Segmenter backend. Not finding the label is a normal
// result, not an error.
package segmentation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
)

// Candidate is one mask proposed by a backend. Confidence is nil when the
// backend does not score its masks.
type Candidate struct {
	Mask       *imageref.Image
	Confidence *float64
}

// Segmenter proposes masks for label in img, best guesses first.
type Segmenter interface {
	Segment(ctx context.Context, img *imageref.Image, label string) ([]Candidate, error)
}

// Result is the outcome of resolving a label. Mask and Confidence are only
// meaningful when Found is true; Scored tells whether the backend supplied
// a confidence at all.
type Result struct {
	Found      bool
	Mask       *imageref.Image
	Confidence float64
	Scored     bool
}

// Resolver validates labels and picks the best candidate mask.
type Resolver struct {
	segmenter Segmenter
	logger    *zap.Logger
}

func NewResolver(s Segmenter, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{segmenter: s, logger: logger}
}

// Resolve locates label in img. An empty or whitespace-only label is a
// validation error raised before the backend is called.
func (r *Resolver) Resolve(ctx context.Context, img *imageref.Image, label string) (Result, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Result{}, editerr.Validation("segment", "target label is required")
	}
	if img == nil {
		return Result{}, editerr.Validation("segment", "image is required")
	}

	candidates, err := r.segmenter.Segment(ctx, img, label)
	if err != nil {
		return Result{}, editerr.Wrap("segment", err)
	}

	best, ok := Select(candidates)
	if !ok {
		r.logger.Info("segmentation found nothing", zap.String("label", label))
		return Result{Found: false}, nil
	}
	res := Result{Found: true, Mask: best.Mask}
	if best.Confidence != nil {
		res.Confidence, res.Scored = *best.Confidence, true
	}
	r.logger.Debug("segmentation resolved",
		zap.String("label", label),
		zap.Int("candidates", len(candidates)),
		zap.Float64("confidence", res.Confidence),
		zap.Bool("scored", res.Scored),
	)
	return res, nil
}

// Select returns the highest-confidence candidate with a mask. Scored
// candidates beat unscored ones; ties keep the earliest.
func Select(candidates []Candidate) (Candidate, bool) {
	bestIdx := -1
	bestScore := 0.0
	for i, c := range candidates {
		if c.Mask == nil {
			continue
		}
		score := -1.0
		if c.Confidence != nil {
			score = *c.Confidence
		}
		if bestIdx < 0 || score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	if bestIdx < 0 {
		return Candidate{}, false
	}
	return candidates[bestIdx], true
}
