package editing

import "github.com/gomcpgo/replicate_image_edit/pkg/types"

// FLUX Kontext models for instruction-based editing
const (
	ModelFluxKontextPro = types.ModelFluxKontextPro
	ModelFluxKontextMax = "black-forest-labs/flux-kontext-max"
	ModelFluxKontextDev = "black-forest-labs/flux-kontext-dev"
)

// GetModelFromAlias returns the model ID from common aliases. Full model IDs
// map to themselves.
func GetModelFromAlias(alias string) string {
	switch alias {
	case "pro", "kontext-pro", "flux-kontext-pro", ModelFluxKontextPro:
		return ModelFluxKontextPro
	case "max", "kontext-max", "flux-kontext-max", ModelFluxKontextMax:
		return ModelFluxKontextMax
	case "dev", "kontext-dev", "flux-kontext-dev", ModelFluxKontextDev:
		return ModelFluxKontextDev
	default:
		return ModelFluxKontextPro // Default to Pro
	}
}
