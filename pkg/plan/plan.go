package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/parse"
)

// Plan is an ordered list of operations executed strictly in sequence.
// An empty list is valid and means the instruction was not actionable.
type Plan struct {
	Operations []Operation
	Reasoning  string
	Confidence float64
	// Unseen lists targets the scene analysis never mentioned. Advisory
	// only; segmentation decides whether a target exists.
	Unseen []string
}

// Empty reports whether the plan has nothing to execute.
func (p *Plan) Empty() bool { return p == nil || len(p.Operations) == 0 }

// wireOperation is the planner's JSON shape for one operation.
type wireOperation struct {
	Type           string                 `json:"type"`
	Target         string                 `json:"target,omitempty"`
	NewPosition    string                 `json:"newPosition,omitempty"`
	TargetPosition string                 `json:"targetPosition,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
}

type wirePlan struct {
	Operations []wireOperation `json:"operations"`
	Reasoning  string          `json:"reasoning,omitempty"`
	Confidence float64         `json:"confidence"`
}

// MarshalJSON encodes the plan in the planner's wire format.
func (p Plan) MarshalJSON() ([]byte, error) {
	w := wirePlan{Operations: make([]wireOperation, 0, len(p.Operations)), Reasoning: p.Reasoning, Confidence: p.Confidence}
	for _, op := range p.Operations {
		w.Operations = append(w.Operations, encodeOperation(op))
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the planner's wire format. Unknown operation types
// are rejected; missing per-kind fields are left for Validate.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var w wirePlan
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ops := make([]Operation, 0, len(w.Operations))
	for i, wo := range w.Operations {
		op, err := decodeOperation(wo)
		if err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	*p = Plan{Operations: ops, Reasoning: w.Reasoning, Confidence: clamp01(w.Confidence)}
	return nil
}

func decodeOperation(w wireOperation) (Operation, error) {
	target := strings.TrimSpace(w.Target)
	params := w.Parameters
	switch Kind(strings.ToLower(strings.TrimSpace(w.Type))) {
	case KindRemove:
		return Remove{Target: target}, nil
	case KindReplace:
		return Replace{Target: target, Replacement: str(params, "replacement", "with", "description")}, nil
	case KindAdd:
		element := str(params, "element", "object", "description")
		if element == "" {
			element = target
		}
		return Add{Element: element, Position: str(params, "position", "location")}, nil
	case KindRelight:
		return Relight{Lighting: str(params, "lighting", "description", "style")}, nil
	case KindBackground:
		return Background{Description: str(params, "description", "background", "prompt")}, nil
	case KindUpscale:
		return Upscale{Scale: int(num(params, "scale"))}, nil
	case KindStyle:
		return Style{Style: str(params, "style", "description")}, nil
	case KindMove:
		pos := strings.TrimSpace(w.NewPosition)
		if pos == "" {
			pos = strings.TrimSpace(w.TargetPosition)
		}
		if pos == "" {
			pos = str(params, "newPosition", "position")
		}
		return Move{Target: target, NewPosition: pos}, nil
	case KindResize:
		return Resize{Target: target, Scale: num(params, "scale", "factor")}, nil
	case KindDetect:
		return Detect{Target: target}, nil
	case KindDescribe:
		return Describe{Target: target}, nil
	case KindExtract:
		return Extract{Target: target}, nil
	}
	return nil, editerr.Validation("plan", "unknown operation type %q", w.Type)
}

func encodeOperation(op Operation) wireOperation {
	w := wireOperation{Type: string(op.Kind())}
	switch o := op.(type) {
	case Remove:
		w.Target = o.Target
	case Replace:
		w.Target = o.Target
		w.Parameters = map[string]interface{}{"replacement": o.Replacement}
	case Add:
		w.Parameters = map[string]interface{}{"element": o.Element, "position": o.Position}
	case Relight:
		w.Parameters = map[string]interface{}{"lighting": o.Lighting}
	case Background:
		if o.Description != "" {
			w.Parameters = map[string]interface{}{"description": o.Description}
		}
	case Upscale:
		if o.Scale != 0 {
			w.Parameters = map[string]interface{}{"scale": o.Scale}
		}
	case Style:
		w.Parameters = map[string]interface{}{"style": o.Style}
	case Move:
		w.Target = o.Target
		w.NewPosition = o.NewPosition
	case Resize:
		w.Target = o.Target
		w.Parameters = map[string]interface{}{"scale": o.Scale}
	case Detect:
		w.Target = o.Target
	case Describe:
		w.Target = o.Target
	case Extract:
		w.Target = o.Target
	}
	return w
}

// str returns the first non-empty string among keys.
func str(params map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := params[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// num reads a number given as JSON number or numeric string, e.g. "2x" or "150%".
func num(params map[string]interface{}, keys ...string) float64 {
	for _, k := range keys {
		switch v := params[k].(type) {
		case float64:
			return v
		case string:
			s := strings.TrimSpace(strings.ToLower(v))
			pct := strings.HasSuffix(s, "%")
			s = strings.TrimSuffix(strings.TrimSuffix(s, "%"), "x")
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				if pct {
					f /= 100
				}
				return f
			}
		}
	}
	return 0
}

const planSchema = `{
  "type": "object",
  "required": ["operations"],
  "properties": {
    "operations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string", "minLength": 1},
          "target": {"type": ["string", "null"]},
          "newPosition": {"type": ["string", "null"]},
          "targetPosition": {"type": ["string", "null"]},
          "parameters": {"type": ["object", "null"]}
        }
      }
    },
    "reasoning": {"type": ["string", "null"]},
    "confidence": {"type": ["number", "null"]}
  }
}`

const sceneSchema = `{
  "type": "object",
  "required": ["elements"],
  "properties": {
    "description": {"type": ["string", "null"]},
    "elements": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["label"],
        "properties": {
          "label": {"type": "string", "minLength": 1},
          "category": {"type": ["string", "null"]},
          "position": {"type": ["string", "null"]},
          "size": {"type": ["string", "null"]},
          "confidence": {"type": ["number", "null"]}
        }
      }
    }
  }
}`

var (
	schemaOnce    sync.Once
	compiledPlan  *jsonschema.Schema
	compiledScene *jsonschema.Schema
	schemaErr     error
)

func compileSchemas() {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("plan.json", strings.NewReader(planSchema)); err != nil {
		schemaErr = err
		return
	}
	if err := c.AddResource("scene.json", strings.NewReader(sceneSchema)); err != nil {
		schemaErr = err
		return
	}
	if compiledPlan, schemaErr = c.Compile("plan.json"); schemaErr != nil {
		return
	}
	compiledScene, schemaErr = c.Compile("scene.json")
}

// ParsePlan extracts an edit plan from free-form planner output. The text
// may carry code fences or surrounding prose. A bare operation array is
// accepted as a plan without reasoning.
func ParsePlan(raw string) (*Plan, error) {
	const label = "edit plan"
	doc, cleaned, err := structured(raw, label)
	if err != nil {
		return nil, err
	}
	if ops, ok := doc.([]interface{}); ok {
		doc = map[string]interface{}{"operations": ops}
	}
	if err := validate(label, cleaned, doc, func() *jsonschema.Schema { return compiledPlan }); err != nil {
		return nil, err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, editerr.Parse(label, cleaned, err)
	}
	var p Plan
	if err := p.UnmarshalJSON(b); err != nil {
		if editerr.KindOf(err) == editerr.KindValidation {
			return nil, err
		}
		return nil, editerr.Parse(label, cleaned, err)
	}
	return &p, nil
}

// ParseScene extracts a scene analysis from free-form analyzer output.
func ParseScene(raw string) (*SceneAnalysis, error) {
	const label = "scene analysis"
	doc, cleaned, err := structured(raw, label)
	if err != nil {
		return nil, err
	}
	if err := validate(label, cleaned, doc, func() *jsonschema.Schema { return compiledScene }); err != nil {
		return nil, err
	}
	var s SceneAnalysis
	if err := json.Unmarshal([]byte(cleaned), &s); err != nil {
		return nil, editerr.Parse(label, cleaned, err)
	}
	s.normalize()
	return &s, nil
}

func structured(raw, label string) (interface{}, string, error) {
	doc, err := parse.Structured[interface{}](raw, label)
	if err != nil {
		return nil, "", err
	}
	return doc, parse.Clean(raw), nil
}

// validate checks a decoded document against one of the compiled schemas.
func validate(label, cleaned string, doc interface{}, schema func() *jsonschema.Schema) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return editerr.Fatal(label, "schema unavailable: %v", schemaErr)
	}
	if err := schema().Validate(doc); err != nil {
		return editerr.Parse(label, cleaned, err)
	}
	return nil
}
