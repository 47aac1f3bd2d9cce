package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	cloudflareAPIBaseURL   = "https://api.cloudflare.com/client/v4"
	cloudflareAPIURLFormat = "%s/accounts/%s/ai/run/%s"
)

// CloudflareProvider implements the ImageProvider for Cloudflare Workers AI.
type CloudflareProvider struct {
	Client    *http.Client
	BaseURL   string
	AccountID string
	APIToken  string
	model     ModelCapabilities
}

var cloudflareModels = []ModelCapabilities{
	{Name: "@cf/stabilityai/stable-diffusion-xl-base-1.0", SupportedParams: []string{"width", "height", "steps", "guidance", "negative_prompt", "seed"}, MaxWidth: 2048, MaxHeight: 2048, MinSteps: 1, MaxSteps: 20},
	{Name: "@cf/bytedance/stable-diffusion-xl-lightning", SupportedParams: []string{"width", "height", "steps", "guidance", "negative_prompt", "seed"}, MaxWidth: 2048, MaxHeight: 2048, MinSteps: 1, MaxSteps: 20},
	{Name: "@cf/lykon/dreamshaper-8-lcm", SupportedParams: []string{"width", "height", "steps", "guidance", "negative_prompt", "seed"}, MaxWidth: 2048, MaxHeight: 2048, MinSteps: 1, MaxSteps: 20},
	{Name: "@cf/black-forest-labs/flux-1-schnell", SupportedParams: []string{"steps", "seed"}, MaxWidth: 1024, MaxHeight: 1024, MinSteps: 1, MaxSteps: 8},
}

// NewCloudflareProvider creates a new Cloudflare client, or nil when the
// credentials are not set.
func NewCloudflareProvider(client *http.Client, accountID, apiToken, model string) *CloudflareProvider {
	if accountID == "" || apiToken == "" {
		return nil
	}
	p := &CloudflareProvider{
		Client:    client,
		BaseURL:   cloudflareAPIBaseURL,
		AccountID: accountID,
		APIToken:  apiToken,
	}
	p.model = resolveModel(p, model)
	return p
}

// GetName returns the name of the provider.
func (p *CloudflareProvider) GetName() string {
	return "cloudflare"
}

// GetModels returns the list of models and their capabilities for Cloudflare.
func (p *CloudflareProvider) GetModels() []ModelCapabilities {
	return cloudflareModels
}

// cloudflareAPIPayload matches the structure for the Cloudflare API.
type cloudflareAPIPayload struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Steps          int     `json:"num_steps,omitempty"`
	Guidance       float64 `json:"guidance,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
}

// cloudflareImageResponse matches the JSON response with base64 image data.
type cloudflareImageResponse struct {
	Result struct {
		Image string `json:"image"`
	} `json:"result"`
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Generate sends a request to the Cloudflare API.
func (p *CloudflareProvider) Generate(ctx context.Context, input GenerationInput) (*GenerationOutput, error) {
	caps := p.model
	payload := cloudflareAPIPayload{
		Prompt: input.Prompt,
	}
	if caps.Supports("steps") {
		payload.Steps = caps.ClampSteps(input.Steps)
	}
	if caps.Supports("width") {
		payload.Width = min(input.Width, caps.MaxWidth)
	}
	if caps.Supports("height") {
		payload.Height = min(input.Height, caps.MaxHeight)
	}
	if caps.Supports("guidance") {
		payload.Guidance = input.GuidanceScale
	}
	if caps.Supports("negative_prompt") {
		payload.NegativePrompt = input.NegativePrompt
	}
	if caps.Supports("seed") {
		payload.Seed = input.Seed
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: failed to marshal payload: %w", err)
	}
	log.Debug().
		Str("provider", p.GetName()).
		Str("model", caps.Name).
		RawJSON("payload", payloadBytes).
		Msg("Calling provider")

	apiURL := fmt.Sprintf(cloudflareAPIURLFormat, strings.TrimRight(p.BaseURL, "/"), p.AccountID, caps.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("cloudflare: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIToken)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: failed to call external API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cloudflare: API returned non-200 status: %d, body: %s", resp.StatusCode, readErrorBody(resp))
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "image/") {
		imageData, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: failed to read image response body: %w", err)
		}
		return &GenerationOutput{ImageBytes: imageData, Format: formatFromContentType(contentType)}, nil
	}

	// JSON responses carry the image as base64.
	var imageResp cloudflareImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&imageResp); err != nil {
		return nil, fmt.Errorf("cloudflare: failed to decode json response body: %w", err)
	}
	if !imageResp.Success || len(imageResp.Errors) > 0 {
		if len(imageResp.Errors) > 0 {
			return nil, fmt.Errorf("cloudflare: API error: %s", imageResp.Errors[0].Message)
		}
		return nil, fmt.Errorf("cloudflare: API reported failure but returned no error details")
	}
	imageData, err := base64.StdEncoding.DecodeString(imageResp.Result.Image)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: failed to decode base64 image data: %w", err)
	}
	return &GenerationOutput{ImageBytes: imageData}, nil
}
