package plan

import (
	"strings"
)

// Category is the closed set of scene element classes.
type Category string

const (
	CategoryPerson    Category = "person"
	CategoryAnimal    Category = "animal"
	CategoryObject    Category = "object"
	CategoryText      Category = "text"
	CategoryLogo      Category = "logo"
	CategoryVehicle   Category = "vehicle"
	CategoryFurniture Category = "furniture"
	CategoryPlant     Category = "plant"
	CategoryFood      Category = "food"
	CategoryBuilding  Category = "building"
	CategoryNature    Category = "nature"
	CategoryAbstract  Category = "abstract"
	CategoryClothing  Category = "clothing"
	CategoryAccessory Category = "accessory"
	CategoryOther     Category = "other"
)

// Categories lists every Category in declaration order.
var Categories = []Category{
	CategoryPerson, CategoryAnimal, CategoryObject, CategoryText, CategoryLogo,
	CategoryVehicle, CategoryFurniture, CategoryPlant, CategoryFood, CategoryBuilding,
	CategoryNature, CategoryAbstract, CategoryClothing, CategoryAccessory, CategoryOther,
}

// normalizeCategory folds unknown values into CategoryOther.
func normalizeCategory(c Category) Category {
	c = Category(strings.ToLower(strings.TrimSpace(string(c))))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return CategoryOther
}

// SizeClass is the relative size of an element within the frame.
type SizeClass string

const (
	SizeTiny     SizeClass = "tiny"
	SizeSmall    SizeClass = "small"
	SizeMedium   SizeClass = "medium"
	SizeLarge    SizeClass = "large"
	SizeDominant SizeClass = "dominant"
)

// SceneElement is one thing the scene analyzer saw in the source image.
type SceneElement struct {
	Label      string    `json:"label"`
	Category   Category  `json:"category"`
	Position   string    `json:"position"`
	Size       SizeClass `json:"size"`
	Confidence float64   `json:"confidence"`
}

// SceneAnalysis describes a source image. It is produced once per edit
// session and not modified afterwards.
type SceneAnalysis struct {
	Description string         `json:"description"`
	Elements    []SceneElement `json:"elements"`
	Style       string         `json:"style,omitempty"`
	Lighting    string         `json:"lighting,omitempty"`
}

// Find returns the first element whose label contains label, case
// insensitively.
func (s *SceneAnalysis) Find(label string) (SceneElement, bool) {
	if s == nil {
		return SceneElement{}, false
	}
	needle := strings.ToLower(strings.TrimSpace(label))
	if needle == "" {
		return SceneElement{}, false
	}
	for _, el := range s.Elements {
		if strings.Contains(strings.ToLower(el.Label), needle) {
			return el, true
		}
	}
	return SceneElement{}, false
}

// UnseenTargets returns the targets of p's segmentation-bound operations
// that match no element of s.
func UnseenTargets(p *Plan, s *SceneAnalysis) []string {
	if p == nil {
		return nil
	}
	var unseen []string
	for _, op := range p.Operations {
		if !op.Kind().NeedsTarget() {
			continue
		}
		if target := TargetOf(op); target != "" {
			if _, ok := s.Find(target); !ok {
				unseen = append(unseen, target)
			}
		}
	}
	return unseen
}

func (s *SceneAnalysis) normalize() {
	for i := range s.Elements {
		el := &s.Elements[i]
		el.Category = normalizeCategory(el.Category)
		el.Confidence = clamp01(el.Confidence)
		switch SizeClass(strings.ToLower(string(el.Size))) {
		case SizeTiny, SizeSmall, SizeMedium, SizeLarge, SizeDominant:
			el.Size = SizeClass(strings.ToLower(string(el.Size)))
		default:
			el.Size = SizeMedium
		}
	}
}

// clamp01 accepts both fractions and percentages.
func clamp01(v float64) float64 {
	if v > 1 && v <= 100 {
		v /= 100
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
