// Package plan defines edit plans: the scene description a planner works
// from and the ordered, typed operations it produces.
package plan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
)

// Kind names an edit operation variant.
type Kind string

const (
	KindRemove     Kind = "remove"
	KindReplace    Kind = "replace"
	KindAdd        Kind = "add"
	KindRelight    Kind = "relight"
	KindBackground Kind = "background"
	KindUpscale    Kind = "upscale"
	KindStyle      Kind = "style"
	KindMove       Kind = "move"
	KindResize     Kind = "resize"
	KindDetect     Kind = "detect"
	KindDescribe   Kind = "describe"
	KindExtract    Kind = "extract"
)

// Kinds lists the operation vocabulary.
var Kinds = []Kind{
	KindRemove, KindReplace, KindAdd, KindRelight, KindBackground, KindUpscale,
	KindStyle, KindMove, KindResize, KindDetect, KindDescribe, KindExtract,
}

// NeedsTarget reports whether the kind must locate an element by
// segmentation before it runs.
func (k Kind) NeedsTarget() bool {
	switch k {
	case KindRemove, KindReplace, KindResize, KindMove, KindExtract:
		return true
	}
	return false
}

// Observes reports whether the kind only reports on the image and never
// changes it.
func (k Kind) Observes() bool {
	return k == KindDetect || k == KindDescribe
}

// Operation is one step of a plan. Each variant carries only its own fields.
type Operation interface {
	Kind() Kind
	Validate() error
}

type Remove struct{ Target string }

type Replace struct {
	Target      string
	Replacement string
}

// Add inserts Element at a free-text Position such as "top-left".
type Add struct {
	Element  string
	Position string
}

type Relight struct{ Lighting string }

// Background removes the background when Description is empty and
// replaces it otherwise.
type Background struct{ Description string }

// Upscale multiplies resolution by Scale; zero means DefaultUpscale.
type Upscale struct{ Scale int }

type Style struct{ Style string }

type Move struct {
	Target      string
	NewPosition string
}

// Resize scales Target by Scale, e.g. 1.5 for 50% larger.
type Resize struct {
	Target string
	Scale  float64
}

// Detect and Describe take an optional Target to focus the report.
type Detect struct{ Target string }

type Describe struct{ Target string }

// Extract returns the Target's segmentation mask as the output image.
type Extract struct{ Target string }

const (
	DefaultUpscale = 2
	MaxUpscale     = 8
)

func (Remove) Kind() Kind     { return KindRemove }
func (Replace) Kind() Kind    { return KindReplace }
func (Add) Kind() Kind        { return KindAdd }
func (Relight) Kind() Kind    { return KindRelight }
func (Background) Kind() Kind { return KindBackground }
func (Upscale) Kind() Kind    { return KindUpscale }
func (Style) Kind() Kind      { return KindStyle }
func (Move) Kind() Kind       { return KindMove }
func (Resize) Kind() Kind     { return KindResize }
func (Detect) Kind() Kind     { return KindDetect }
func (Describe) Kind() Kind   { return KindDescribe }
func (Extract) Kind() Kind    { return KindExtract }

func required(kind Kind, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return editerr.Validation(string(kind), "%s is required", field)
	}
	return nil
}

func (o Remove) Validate() error { return required(KindRemove, "target", o.Target) }

func (o Replace) Validate() error {
	if err := required(KindReplace, "target", o.Target); err != nil {
		return err
	}
	return required(KindReplace, "replacement", o.Replacement)
}

func (o Add) Validate() error { return required(KindAdd, "element", o.Element) }

func (o Relight) Validate() error { return required(KindRelight, "lighting", o.Lighting) }

func (Background) Validate() error { return nil }

func (o Upscale) Validate() error {
	if o.Scale < 0 || o.Scale > MaxUpscale {
		return editerr.Validation(string(KindUpscale), "scale must be between 1 and %d, got %d", MaxUpscale, o.Scale)
	}
	return nil
}

func (o Style) Validate() error { return required(KindStyle, "style", o.Style) }

func (o Move) Validate() error {
	if err := required(KindMove, "target", o.Target); err != nil {
		return err
	}
	return required(KindMove, "newPosition", o.NewPosition)
}

func (o Resize) Validate() error {
	if err := required(KindResize, "target", o.Target); err != nil {
		return err
	}
	if o.Scale <= 0 {
		return editerr.Validation(string(KindResize), "scale must be positive")
	}
	return nil
}

func (Detect) Validate() error   { return nil }
func (Describe) Validate() error { return nil }

func (o Extract) Validate() error { return required(KindExtract, "target", o.Target) }

// TargetOf returns the element label an operation acts on, if any.
func TargetOf(op Operation) string {
	switch o := op.(type) {
	case Remove:
		return o.Target
	case Replace:
		return o.Target
	case Move:
		return o.Target
	case Resize:
		return o.Target
	case Detect:
		return o.Target
	case Describe:
		return o.Target
	case Extract:
		return o.Target
	case Add:
		return o.Element
	}
	return ""
}

// Summary renders op for logs and audit trails.
func Summary(op Operation) string {
	switch o := op.(type) {
	case Replace:
		return fmt.Sprintf("replace %q with %q", o.Target, o.Replacement)
	case Add:
		return fmt.Sprintf("add %q at %s", o.Element, positionOrDefault(o.Position))
	case Move:
		return fmt.Sprintf("move %q to %s", o.Target, o.NewPosition)
	case Resize:
		return fmt.Sprintf("resize %q by %sx", o.Target, strconv.FormatFloat(o.Scale, 'g', 3, 64))
	case Relight:
		return fmt.Sprintf("relight: %s", o.Lighting)
	case Background:
		if o.Description == "" {
			return "remove background"
		}
		return fmt.Sprintf("background: %s", o.Description)
	case Upscale:
		return fmt.Sprintf("upscale %dx", o.Scale)
	case Style:
		return fmt.Sprintf("style: %s", o.Style)
	}
	if t := TargetOf(op); t != "" {
		return fmt.Sprintf("%s %q", op.Kind(), t)
	}
	return string(op.Kind())
}

func positionOrDefault(p string) string {
	if strings.TrimSpace(p) == "" {
		return "center"
	}
	return p
}
