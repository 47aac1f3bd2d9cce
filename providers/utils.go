package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// errorBodyLimit caps how much of a failed response body ends up in errors.
const errorBodyLimit = 1024

// DownloadFile downloads a file from a URL and returns its content and content type.
func DownloadFile(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("bad status: %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

// readErrorBody returns at most errorBodyLimit bytes of a failed response.
func readErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return string(body)
}

// resolveModel returns the capabilities of the requested model, or the
// provider's first model when the request names one it does not serve.
func resolveModel(p ImageProvider, requested string) ModelCapabilities {
	models := p.GetModels()
	for _, m := range models {
		if m.Name == requested {
			return m
		}
	}
	if requested != "" {
		log.Warn().
			Str("provider", p.GetName()).
			Str("requested", requested).
			Str("model", models[0].Name).
			Msg("Model not served by provider, using its default")
	}
	return models[0]
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func formatFromContentType(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpeg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
