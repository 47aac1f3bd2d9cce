package providers

import (
	"fmt"
	"net/http"
	"time"

	"imageeditor/config"
)

// New builds the text-to-image provider selected by cfg.Backend. It returns
// ErrNotConfigured when no backend is selected or the selected one is missing
// its endpoint or credentials.
func New(cfg config.Diffusion) (ImageProvider, error) {
	client := &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}

	switch cfg.Backend {
	case config.BackendNone:
		return nil, ErrNotConfigured
	case config.BackendDiffusers:
		if p := NewDiffusersProvider(client, cfg.DiffusersURL, cfg.Model, cfg.Device); p != nil {
			return p, nil
		}
		return nil, fmt.Errorf("%w: DIFFUSERS_URL is not set", ErrNotConfigured)
	case config.BackendCloudflare:
		if p := NewCloudflareProvider(client, cfg.Cloudflare.AccountID, cfg.Cloudflare.APIToken, cfg.Model); p != nil {
			return p, nil
		}
		return nil, fmt.Errorf("%w: Cloudflare credentials are not set", ErrNotConfigured)
	case config.BackendPollinations:
		return NewPollinationsAIProvider(client, cfg.PollinationsAIKey, cfg.Model), nil
	case config.BackendModelScope:
		if p := NewModelScopeProvider(client, cfg.ModelScopeKey, cfg.Model); p != nil {
			return p, nil
		}
		return nil, fmt.Errorf("%w: MODELSCOPE_API_KEY is not set", ErrNotConfigured)
	default:
		return nil, fmt.Errorf("unknown diffusion backend %q", cfg.Backend)
	}
}
