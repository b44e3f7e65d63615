package types

import (
	"time"
)

// Model IDs for Replicate models used by the edit pipeline
const (
	// Planning and reporting (vision-language) models
	ModelSceneAnalyzer = "yorickvp/llava-v1.6-34b:41ecfbfb261e6c1adf3ad896c9066ca98346996d7c4045c5bc944a79d430f174"
	ModelPlanner       = "meta/meta-llama-3-70b-instruct"

	// Segmentation models
	ModelGroundedSAM   = "schananas/grounded_sam:ee871c19efb1941f55f66a3d7d960428c8a5afcb77449547fe8e5a3ab9ebc21c"
	ModelGroundingDINO = "adirik/grounding-dino:efd10a8ddc57ea28773327e881ce95e20cc1d734c589f7dd01d2036921ed78aa"

	// Transform models
	ModelFluxFill    = "black-forest-labs/flux-fill-pro"
	ModelLaMa        = "allenhooo/lama:cdac78a1bec5b23c07fd29692fb70baa513ea403a39e643c48ec5edadb15fe72"
	ModelRemoveBG    = "lucataco/remove-bg:95fcc2a26d3899cd6c2691c900465aaeff466285a65c14638cc5f36f34befaf1"
	ModelICLight     = "zsxkib/ic-light:d41bcb10d8c159868f4cfbd7c6a2ca01484f7d39e4613419d5952c61562f1ba7"
	ModelRealESRGAN  = "nightmareai/real-esrgan:f121d640bd286e1fdc67f9799164c1d5be36ff74576ee11c803ae5b665dd46aa"
	ModelFluxSchnell = "black-forest-labs/flux-schnell"

	// Native single-call editing
	ModelFluxKontextPro = "black-forest-labs/flux-kontext-pro"
)

// Prediction statuses from Replicate
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// EditMetadata is the sidecar written next to an edit result
type EditMetadata struct {
	Version     string        `yaml:"version"`
	ID          string        `yaml:"id"`
	Operation   string        `yaml:"operation"`
	Instruction string        `yaml:"instruction,omitempty"`
	Strategy    string        `yaml:"strategy,omitempty"`
	Handle      string        `yaml:"handle,omitempty"`
	Timestamp   time.Time     `yaml:"timestamp"`
	Success     bool          `yaml:"success"`
	Filename    string        `yaml:"filename,omitempty"`
	InputDigest string        `yaml:"input_digest,omitempty"`
	Digest      string        `yaml:"digest,omitempty"`
	Reasoning   string        `yaml:"reasoning,omitempty"`
	Steps       []StepSummary `yaml:"steps,omitempty"`
	Error       *string       `yaml:"error,omitempty"`
}

// EditInfo lists one stored edit result
type EditInfo struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
	FilePath  string    `json:"file_path"`
	Success   bool      `json:"success"`
}

// StepSummary is one executed plan operation in the sidecar
type StepSummary struct {
	Index   int     `yaml:"index" json:"index"`
	Kind    string  `yaml:"kind" json:"kind"`
	Summary string  `yaml:"summary,omitempty" json:"summary,omitempty"`
	Target  string  `yaml:"target,omitempty" json:"target,omitempty"`
	State   string  `yaml:"state" json:"state"`
	Report  string  `yaml:"report,omitempty" json:"report,omitempty"`
	Region  []int   `yaml:"region,omitempty" json:"region,omitempty"`
	Seconds float64 `yaml:"seconds" json:"seconds"`
	Error   string  `yaml:"error,omitempty" json:"error,omitempty"`
}

// ReplicatePredictionRequest represents a request to create a prediction
type ReplicatePredictionRequest struct {
	Version string                 `json:"version"`
	Input   map[string]interface{} `json:"input"`
	Webhook string                 `json:"webhook,omitempty"`
}

// ReplicatePredictionResponse represents the response from Replicate
type ReplicatePredictionResponse struct {
	ID          string                 `json:"id"`
	Version     string                 `json:"version"`
	Status      string                 `json:"status"`
	Input       map[string]interface{} `json:"input"`
	Output      interface{}            `json:"output"`
	Error       interface{}            `json:"error"`
	Logs        string                 `json:"logs"`
	CreatedAt   string                 `json:"created_at"`
	StartedAt   *string                `json:"started_at"`
	CompletedAt *string                `json:"completed_at"`
	URLs        struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

// ErrorMessage flattens the prediction's error field
func (p *ReplicatePredictionResponse) ErrorMessage() string {
	switch e := p.Error.(type) {
	case nil:
		return ""
	case string:
		return e
	case map[string]interface{}:
		if msg, ok := e["message"]; ok {
			if s, ok := msg.(string); ok {
				return s
			}
		}
	}
	return "prediction failed"
}

// EditImageParams represents arguments of the edit_image tool
type EditImageParams struct {
	Image       string `json:"image"`
	Instruction string `json:"instruction"`
	Strategy    string `json:"strategy,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// CompositeParams represents arguments of the composite_mask tool
type CompositeParams struct {
	Original string `json:"original"`
	Edited   string `json:"edited"`
	Mask     string `json:"mask"`
	Filename string `json:"filename,omitempty"`
}

// SegmentParams represents arguments of the segment_object tool
type SegmentParams struct {
	Image    string `json:"image"`
	Label    string `json:"label"`
	Filename string `json:"filename,omitempty"`
}

// GetImageParams represents arguments of the get_image tool
type GetImageParams struct {
	Handle string `json:"handle"`
}
