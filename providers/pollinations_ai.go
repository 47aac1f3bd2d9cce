package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const pollinationsAIAPIURL = "https://image.pollinations.ai/prompt/"

// PollinationsAIProvider implements the ImageProvider for Pollinations.ai.
type PollinationsAIProvider struct {
	APIKey        string
	Client        *http.Client
	BaseURL       string
	MaxRetries    int // total attempts, including the first one
	RetryInterval time.Duration
	model         ModelCapabilities
}

var pollinationsAIModels = []ModelCapabilities{
	{Name: "flux", SupportedParams: []string{"width", "height", "seed", "negative_prompt"}, MaxWidth: 1024, MaxHeight: 1024},
	{Name: "turbo", SupportedParams: []string{"width", "height", "seed"}, MaxWidth: 1024, MaxHeight: 1024},
}

// NewPollinationsAIProvider creates a new Pollinations.ai client. The API key
// is optional.
func NewPollinationsAIProvider(client *http.Client, apiKey, model string) *PollinationsAIProvider {
	p := &PollinationsAIProvider{
		APIKey:        apiKey,
		Client:        client,
		BaseURL:       pollinationsAIAPIURL,
		MaxRetries:    4,
		RetryInterval: 3 * time.Second,
	}
	p.model = resolveModel(p, model)
	return p
}

// GetName returns the name of the provider.
func (p *PollinationsAIProvider) GetName() string {
	return "pollinations_ai"
}

// GetModels returns the list of models and their capabilities for Pollinations.ai.
func (p *PollinationsAIProvider) GetModels() []ModelCapabilities {
	return pollinationsAIModels
}

// Generate sends a request to the Pollinations.ai API, retrying on failures.
func (p *PollinationsAIProvider) Generate(ctx context.Context, input GenerationInput) (*GenerationOutput, error) {
	caps := p.model

	// The prompt is always part of the path, and needs to be path-escaped.
	fullURL := p.BaseURL + url.PathEscape(input.Prompt)

	params := url.Values{}
	params.Add("model", caps.Name)
	params.Add("width", strconv.Itoa(min(input.Width, caps.MaxWidth)))
	params.Add("height", strconv.Itoa(min(input.Height, caps.MaxHeight)))
	if input.Seed != nil {
		params.Add("seed", strconv.FormatInt(*input.Seed, 10))
	}
	if caps.Supports("negative_prompt") && input.NegativePrompt != "" {
		params.Add("negative_prompt", input.NegativePrompt)
	}
	params.Add("nologo", "true")
	fullURL += "?" + params.Encode()

	log.Debug().Str("provider", p.GetName()).Str("model", caps.Name).Str("url", fullURL).Msg("Calling provider")

	attempts := max(p.MaxRetries, 1)
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			log.Warn().Err(lastErr).
				Str("provider", p.GetName()).
				Int("attempt", i).
				Int("max_attempts", attempts).
				Dur("retry_in", p.RetryInterval).
				Msg("Provider call failed, retrying")
			if err := sleepContext(ctx, p.RetryInterval); err != nil {
				return nil, fmt.Errorf("pollinations_ai: %w", err)
			}
		}

		out, err := p.attempt(ctx, fullURL)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("pollinations_ai: giving up after %d attempts: %w", attempts, lastErr)
}

func (p *PollinationsAIProvider) attempt(ctx context.Context, fullURL string) (*GenerationOutput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call external API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned non-200 status: %d, body: %s", resp.StatusCode, readErrorBody(resp))
	}

	// The response is the raw image data.
	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return &GenerationOutput{
		ImageBytes: imageData,
		Format:     formatFromContentType(resp.Header.Get("Content-Type")),
	}, nil
}
