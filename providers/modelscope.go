package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	modelScopeAPIBaseURL = "https://api-inference.modelscope.cn/v1"
	maxPollingAttempts   = 120
	pollingInterval      = 5 * time.Second
)

// ModelScopeProvider implements the ImageProvider for ModelScope. Generation
// is asynchronous: a task is submitted and then polled until it settles.
type ModelScopeProvider struct {
	APIKey       string
	Client       *http.Client
	BaseURL      string
	PollInterval time.Duration
	MaxPolls     int
	model        ModelCapabilities
}

var modelScopeModels = []ModelCapabilities{
	{Name: "Qwen/Qwen-Image", SupportedParams: []string{"seed", "steps", "guidance", "negative_prompt"}, MaxWidth: 2048, MaxHeight: 2048, MinSteps: 1, MaxSteps: 100},
	{Name: "MusePublic/489_ckpt_FLUX_1", SupportedParams: []string{"seed", "steps", "guidance"}, MaxWidth: 2048, MaxHeight: 2048, MinSteps: 1, MaxSteps: 100},
}

// NewModelScopeProvider creates a new ModelScope client, or nil when no API
// key is set.
func NewModelScopeProvider(client *http.Client, apiKey, model string) *ModelScopeProvider {
	if apiKey == "" {
		return nil
	}
	p := &ModelScopeProvider{
		APIKey:       apiKey,
		Client:       client,
		BaseURL:      modelScopeAPIBaseURL,
		PollInterval: pollingInterval,
		MaxPolls:     maxPollingAttempts,
	}
	p.model = resolveModel(p, model)
	return p
}

// GetName returns the name of the provider.
func (p *ModelScopeProvider) GetName() string {
	return "modelscope"
}

// GetModels returns the list of models and their capabilities for ModelScope.
func (p *ModelScopeProvider) GetModels() []ModelCapabilities {
	return modelScopeModels
}

type modelScopeAPIPayload struct {
	Model          string  `json:"model"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Size           string  `json:"size"`
	Steps          int     `json:"steps,omitempty"`
	Guidance       float64 `json:"guidance,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
}

type modelScopeAsyncResponse struct {
	TaskID string `json:"task_id"`
}

type modelScopeErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type modelScopeTaskResponse struct {
	TaskStatus   string                `json:"task_status"`
	OutputImages []string              `json:"output_images"`
	Errors       modelScopeErrorDetail `json:"errors,omitempty"`
}

// Generate submits a generation task and polls for the result.
func (p *ModelScopeProvider) Generate(ctx context.Context, input GenerationInput) (*GenerationOutput, error) {
	caps := p.model
	payload := modelScopeAPIPayload{
		Model:  caps.Name,
		Prompt: input.Prompt,
		Size:   fmt.Sprintf("%dx%d", min(input.Width, caps.MaxWidth), min(input.Height, caps.MaxHeight)),
		Seed:   input.Seed,
	}
	if caps.Supports("steps") {
		payload.Steps = caps.ClampSteps(input.Steps)
	}
	if caps.Supports("guidance") {
		payload.Guidance = input.GuidanceScale
	}
	if caps.Supports("negative_prompt") {
		payload.NegativePrompt = input.NegativePrompt
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("modelscope: failed to marshal payload: %w", err)
	}
	log.Debug().
		Str("provider", p.GetName()).
		Str("model", caps.Name).
		RawJSON("payload", payloadBytes).
		Msg("Calling provider")

	baseURL := strings.TrimRight(p.BaseURL, "/")

	// 1. Initiate the generation task
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/images/generations", bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("modelscope: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("X-ModelScope-Async-Mode", "true")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("modelscope: failed to call generation API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("modelscope: generation API returned non-200 status: %d, body: %s", resp.StatusCode, readErrorBody(resp))
	}

	var asyncResp modelScopeAsyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&asyncResp); err != nil {
		return nil, fmt.Errorf("modelscope: failed to decode async response: %w", err)
	}
	if asyncResp.TaskID == "" {
		return nil, fmt.Errorf("modelscope: did not receive a task ID")
	}
	log.Info().Str("task_id", asyncResp.TaskID).Msg("ModelScope task submitted")

	// 2. Poll for the result
	taskURL := baseURL + "/tasks/" + asyncResp.TaskID
	for i := 0; i < p.MaxPolls; i++ {
		if err := sleepContext(ctx, p.PollInterval); err != nil {
			return nil, fmt.Errorf("modelscope: %w", err)
		}

		taskResp, body, err := p.poll(ctx, taskURL)
		if err != nil {
			return nil, err
		}
		if taskResp == nil {
			continue
		}

		switch taskResp.TaskStatus {
		case "SUCCEED":
			if len(taskResp.OutputImages) == 0 {
				return nil, fmt.Errorf("modelscope: task succeeded but no image URL was returned")
			}
			imageData, contentType, err := DownloadFile(ctx, p.Client, taskResp.OutputImages[0])
			if err != nil {
				return nil, fmt.Errorf("modelscope: failed to download generated image: %w", err)
			}
			return &GenerationOutput{ImageBytes: imageData, Format: formatFromContentType(contentType)}, nil
		case "FAILED", "CANCELED":
			errMsg := "modelscope: task failed or was canceled"
			if taskResp.Errors.Message != "" {
				errMsg = fmt.Sprintf("%s. Reason: %s", errMsg, taskResp.Errors.Message)
			}
			return nil, fmt.Errorf("%s. Full Response: %s", errMsg, body)
		}
	}

	return nil, fmt.Errorf("modelscope: polling timed out after %d attempts", p.MaxPolls)
}

// poll fetches the task status once. A nil response with a nil error means the
// server answered with a transient non-200 status and polling should go on.
func (p *ModelScopeProvider) poll(ctx context.Context, taskURL string) (*modelScopeTaskResponse, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, taskURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("modelscope: failed to create polling request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("X-ModelScope-Task-Type", "image_generation")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("modelscope: failed to execute polling request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("body", readErrorBody(resp)).Msg("ModelScope polling returned non-200 status")
		return nil, "", nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("modelscope: failed to read polling response body: %w", err)
	}
	var taskResp modelScopeTaskResponse
	if err := json.Unmarshal(body, &taskResp); err != nil {
		return nil, "", fmt.Errorf("modelscope: failed to decode task response: %w, body: %s", err, string(body))
	}
	return &taskResp, string(body), nil
}
