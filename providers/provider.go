package providers

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by New when no usable text-to-image backend is
// configured.
var ErrNotConfigured = errors.New("text-to-image backend not configured")

// ModelCapabilities defines the specific capabilities of an AI model.
type ModelCapabilities struct {
	Name            string   `json:"name"`
	SupportedParams []string `json:"supported_params"`
	MaxWidth        int      `json:"max_width"`
	MaxHeight       int      `json:"max_height"`
	MinSteps        int      `json:"min_steps,omitempty"`
	MaxSteps        int      `json:"max_steps,omitempty"`
}

// Supports reports whether the model accepts the named generation parameter.
func (m ModelCapabilities) Supports(param string) bool {
	for _, p := range m.SupportedParams {
		if p == param {
			return true
		}
	}
	return false
}

// ClampSteps bounds steps to the model's accepted range, when it has one.
func (m ModelCapabilities) ClampSteps(steps int) int {
	if m.MinSteps > 0 && steps < m.MinSteps {
		return m.MinSteps
	}
	if m.MaxSteps > 0 && steps > m.MaxSteps {
		return m.MaxSteps
	}
	return steps
}

// GenerationInput defines the standardized input for all AI providers.
type GenerationInput struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	GuidanceScale  float64
	Eta            float64
	Seed           *int64 // nil lets the backend pick one
}

// GenerationOutput defines the standardized output from all AI providers.
type GenerationOutput struct {
	ImageBytes []byte // The generated image bytes, any decodable format
	Format     string // The format of the image, e.g. "png", "jpeg"
}

// ImageProvider is the interface that all text-to-image backends implement.
type ImageProvider interface {
	// Generate renders one image for input.
	Generate(ctx context.Context, input GenerationInput) (*GenerationOutput, error)
	// GetName returns the name of the provider (e.g., "cloudflare").
	GetName() string
	// GetModels returns the models supported by the provider and their capabilities.
	GetModels() []ModelCapabilities
}

// Loader is implemented by providers that must prepare their model before
// the first Generate call.
type Loader interface {
	Load(ctx context.Context) error
}

// DeviceReporter is implemented by providers that know which device their
// model runs on once loaded.
type DeviceReporter interface {
	Device() string
}
