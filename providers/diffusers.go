package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"imageeditor/vision"
)

// Devices a diffusers pipeline can be placed on.
const (
	DeviceAuto = "auto"
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

var errPipelineNotLoaded = errors.New("diffusers: pipeline not loaded")

// DiffusersProvider drives a diffusers pipeline hosted by a local inference
// sidecar. Load must succeed before Generate is called.
type DiffusersProvider struct {
	Client          *http.Client
	BaseURL         string
	Model           string
	RequestedDevice string

	mu     sync.Mutex
	device string
}

// NewDiffusersProvider creates a client for the sidecar at baseURL, or nil
// when no URL is configured.
func NewDiffusersProvider(client *http.Client, baseURL, model, device string) *DiffusersProvider {
	if baseURL == "" {
		return nil
	}
	if device == "" {
		device = DeviceAuto
	}
	return &DiffusersProvider{
		Client:          client,
		BaseURL:         strings.TrimRight(baseURL, "/"),
		Model:           model,
		RequestedDevice: device,
	}
}

// GetName returns the name of the provider.
func (p *DiffusersProvider) GetName() string {
	return "diffusers"
}

// GetModels returns the single model the sidecar is asked to load.
func (p *DiffusersProvider) GetModels() []ModelCapabilities {
	return []ModelCapabilities{{
		Name:            p.Model,
		SupportedParams: []string{"width", "height", "steps", "guidance", "negative_prompt", "eta", "seed"},
		MaxWidth:        2048,
		MaxHeight:       2048,
	}}
}

// Device returns the device the pipeline was loaded on, or "" before Load.
func (p *DiffusersProvider) Device() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}

type diffusersHealth struct {
	Status        string `json:"status"`
	CUDAAvailable bool   `json:"cuda_available"`
}

type diffusersLoadRequest struct {
	Model          string `json:"model"`
	Device         string `json:"device"`
	TorchDType     string `json:"torch_dtype"`
	SafetyChecker  bool   `json:"safety_checker"`
	AttentionSlice bool   `json:"attention_slicing"`
}

type diffusersGenerateRequest struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Eta               float64 `json:"eta"`
	Seed              *int64  `json:"seed,omitempty"`
}

type diffusersGenerateResponse struct {
	Images []string `json:"images"`
	Error  string   `json:"error,omitempty"`
}

// Load places the pipeline on a device. With the "auto" device the sidecar's
// health report decides between cuda and cpu, and a failed cuda load is
// retried on cpu.
func (p *DiffusersProvider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != "" {
		return nil
	}

	device := p.RequestedDevice
	if device == DeviceAuto {
		health, err := p.health(ctx)
		if err != nil {
			return err
		}
		device = DeviceCPU
		if health.CUDAAvailable {
			device = DeviceCUDA
		}
	}

	err := p.load(ctx, device)
	if err != nil && device == DeviceCUDA && ctx.Err() == nil {
		log.Warn().Err(err).Str("model", p.Model).Msg("Failed to load pipeline on cuda, falling back to cpu")
		device = DeviceCPU
		err = p.load(ctx, device)
	}
	if err != nil {
		return err
	}

	p.device = device
	log.Info().Str("model", p.Model).Str("device", device).Msg("Diffusion pipeline loaded")
	return nil
}

func (p *DiffusersProvider) health(ctx context.Context) (*diffusersHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("diffusers: failed to create health request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("diffusers: sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("diffusers: health check returned status %d, body: %s", resp.StatusCode, readErrorBody(resp))
	}
	var health diffusersHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("diffusers: failed to decode health response: %w", err)
	}
	return &health, nil
}

func (p *DiffusersProvider) load(ctx context.Context, device string) error {
	// Full precision on every device keeps cuda and cpu outputs comparable.
	return p.postJSON(ctx, "/load", diffusersLoadRequest{
		Model:          p.Model,
		Device:         device,
		TorchDType:     "float32",
		SafetyChecker:  false,
		AttentionSlice: true,
	}, nil)
}

// Generate runs the loaded pipeline once.
func (p *DiffusersProvider) Generate(ctx context.Context, input GenerationInput) (*GenerationOutput, error) {
	if p.Device() == "" {
		return nil, errPipelineNotLoaded
	}

	payload := diffusersGenerateRequest{
		Prompt:            input.Prompt,
		NegativePrompt:    input.NegativePrompt,
		Width:             input.Width,
		Height:            input.Height,
		NumInferenceSteps: input.Steps,
		GuidanceScale:     input.GuidanceScale,
		Eta:               input.Eta,
		Seed:              input.Seed,
	}
	var out diffusersGenerateResponse
	if err := p.postJSON(ctx, "/generate", payload, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("diffusers: %s", out.Error)
	}
	if len(out.Images) == 0 {
		return nil, fmt.Errorf("diffusers: sidecar returned no images")
	}

	mime, data, err := vision.ParseDataURI(out.Images[0])
	if err != nil {
		return nil, fmt.Errorf("diffusers: %w", err)
	}
	return &GenerationOutput{ImageBytes: data, Format: formatFromContentType(mime)}, nil
}

func (p *DiffusersProvider) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("diffusers: failed to marshal payload: %w", err)
	}
	log.Debug().Str("provider", p.GetName()).Str("path", path).RawJSON("payload", body).Msg("Calling provider")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("diffusers: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("diffusers: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("diffusers: %s returned status %d, body: %s", path, resp.StatusCode, readErrorBody(resp))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("diffusers: failed to decode %s response: %w", path, err)
	}
	return nil
}
