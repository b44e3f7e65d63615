package generation

import "github.com/gomcpgo/replicate_image_edit/pkg/types"

// Model IDs for image generation models on Replicate
const (
	// FLUX models - High quality, fast generation
	ModelFluxSchnell = types.ModelFluxSchnell
	ModelFluxPro     = "black-forest-labs/flux-1.1-pro"
	ModelFluxDev     = "black-forest-labs/flux-dev"

	// Google Imagen
	ModelImagen4 = "google/imagen-4"

	// Stable Diffusion models
	ModelSDXL = "stability-ai/sdxl:39ed52f2a78e934b3ba6e2a89f5b1c712de7dfea535525255b1aa35c5565e08b"
)

// GetModelFromAlias returns the model ID for an EDIT_BACKGROUND_MODEL value
func GetModelFromAlias(alias string) string {
	switch alias {
	case "flux-schnell":
		return ModelFluxSchnell
	case "flux-pro":
		return ModelFluxPro
	case "flux-dev":
		return ModelFluxDev
	case "imagen-4":
		return ModelImagen4
	case "sdxl":
		return ModelSDXL
	default:
		return ModelFluxSchnell // Default fallback
	}
}

// usesAspectRatio reports whether the model is sized by aspect ratio rather
// than explicit width and height.
func usesAspectRatio(modelID string) bool {
	return modelID != ModelSDXL
}
