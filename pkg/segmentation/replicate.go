package segmentation

import (
	"context"
	"encoding/json"
	"image"

	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/client"
	"github.com/gomcpgo/replicate_image_edit/pkg/compositor"
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

// maskThreshold is the intensity above which a mask pixel counts as set.
const maskThreshold = 127

// GroundedSAM segments with a single combined detect+segment model.
type GroundedSAM struct {
	predictor Predictor
	fetcher   Fetcher
	model     string
	logger    *zap.Logger
}

func NewGroundedSAM(p Predictor, f Fetcher, logger *zap.Logger) *GroundedSAM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroundedSAM{predictor: p, fetcher: f, model: types.ModelGroundedSAM, logger: logger}
}

// Segment implements Segmenter. The model answers with four images
// (annotated, negative annotated, mask, inverted mask); only the mask is a
// candidate. A mask with no set pixels means the label was not found.
func (g *GroundedSAM) Segment(ctx context.Context, img *imageref.Image, label string) ([]Candidate, error) {
	result, err := g.predictor.Run(ctx, "segment", g.model, map[string]interface{}{
		"image":                img.DataURL(),
		"mask_prompt":          label,
		"negative_mask_prompt": "",
		"adjustment_factor":    0,
	})
	if err != nil {
		return nil, err
	}
	urls, err := client.OutputURLs("segment", result)
	if err != nil {
		return nil, err
	}
	if len(urls) >= 4 {
		urls = urls[2:3]
	}

	var candidates []Candidate
	for _, url := range urls {
		mask, err := g.fetcher.Resolve(ctx, url)
		if err != nil {
			return nil, err
		}
		empty, err := blank(mask)
		if err != nil {
			return nil, err
		}
		if empty {
			g.logger.Debug("discarding empty mask", zap.String("label", label))
			continue
		}
		candidates = append(candidates, Candidate{Mask: mask})
	}
	return candidates, nil
}

// blank reports whether mask has no pixel above maskThreshold.
func blank(mask *imageref.Image) (bool, error) {
	m, err := mask.Decode()
	if err != nil {
		return false, editerr.Wrap("segment: mask", err)
	}
	_, found := compositor.MaskBounds(compositor.ToGray(m), maskThreshold)
	return !found, nil
}

// Detection is one labelled box from an open-vocabulary detector, in
// source pixel coordinates.
type Detection struct {
	Box        image.Rectangle
	Label      string
	Confidence float64
}

// DetectThenMask segments in two steps: an open-vocabulary detector finds
// boxes for the label, then each box is rasterized into a feathered mask.
type DetectThenMask struct {
	predictor Predictor
	model     string
	// BoxThreshold is the detector's minimum box score.
	BoxThreshold float64
	// Feather softens mask edges, in pixels.
	Feather int
	logger  *zap.Logger
}

func NewDetectThenMask(p Predictor, logger *zap.Logger) *DetectThenMask {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetectThenMask{
		predictor:    p,
		model:        types.ModelGroundingDINO,
		BoxThreshold: 0.3,
		Feather:      4,
		logger:       logger,
	}
}

// Detect runs the detector and returns its boxes in the order reported.
func (d *DetectThenMask) Detect(ctx context.Context, img *imageref.Image, label string) ([]Detection, error) {
	result, err := d.predictor.Run(ctx, "detect", d.model, map[string]interface{}{
		"image":          img.DataURL(),
		"query":          label,
		"box_threshold":  d.BoxThreshold,
		"text_threshold": 0.25,
	})
	if err != nil {
		return nil, err
	}
	return decodeDetections(result.Output)
}

// Segment implements Segmenter.
func (d *DetectThenMask) Segment(ctx context.Context, img *imageref.Image, label string) ([]Candidate, error) {
	detections, err := d.Detect(ctx, img, label)
	if err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return nil, nil
	}
	src, err := img.Decode()
	if err != nil {
		return nil, editerr.Wrap("segment: source", err)
	}
	b := src.Bounds()

	candidates := make([]Candidate, 0, len(detections))
	for _, det := range detections {
		box := det.Box.Intersect(image.Rect(0, 0, b.Dx(), b.Dy()))
		if box.Empty() {
			continue
		}
		mask, err := imageref.EncodePNG(compositor.RegionMask(b.Dx(), b.Dy(), box, d.Feather))
		if err != nil {
			return nil, err
		}
		conf := det.Confidence
		candidates = append(candidates, Candidate{Mask: mask, Confidence: &conf})
	}
	d.logger.Debug("detections rasterized",
		zap.String("label", label),
		zap.Int("detections", len(detections)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

type wireDetection struct {
	BBox       []float64 `json:"bbox"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
}

// decodeDetections reads {"detections": [{"bbox": [x1,y1,x2,y2], ...}]}.
func decodeDetections(output interface{}) ([]Detection, error) {
	raw, err := json.Marshal(output)
	if err != nil {
		return nil, editerr.Fatal("detect", "unreadable detector output: %v", err)
	}
	var body struct {
		Detections []wireDetection `json:"detections"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, editerr.Parse("detect", string(raw), err)
	}
	out := make([]Detection, 0, len(body.Detections))
	for _, w := range body.Detections {
		if len(w.BBox) != 4 {
			continue
		}
		out = append(out, Detection{
			Box:        image.Rect(int(w.BBox[0]), int(w.BBox[1]), int(w.BBox[2]+0.5), int(w.BBox[3]+0.5)),
			Label:      w.Label,
			Confidence: w.Confidence,
		})
	}
	return out, nil
}
