package generation

// GenerateParams contains parameters for image generation
type GenerateParams struct {
	Prompt string
	Width  int
	Height int
	Seed   int // 0 lets the model pick
}
