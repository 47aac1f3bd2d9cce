package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Predictor runs the captioning model on a preprocessed batch and returns
// the flattened output of its first row.
type Predictor interface {
	Predict(ctx context.Context, batch *Batch) ([]float32, error)
}

// RESTPredictor calls a TensorFlow Serving style REST ":predict" endpoint.
type RESTPredictor struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewRESTPredictor returns a predictor for url, or nil when url is empty.
func NewRESTPredictor(url string, timeout time.Duration) *RESTPredictor {
	if url == "" {
		return nil
	}
	return &RESTPredictor{URL: url, Timeout: timeout, Client: &http.Client{}}
}

type predictRequest struct {
	Instances [][][][3]float32 `json:"instances"`
}

type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error,omitempty"`
}

// Predict posts the batch as a single instance.
func (p *RESTPredictor) Predict(ctx context.Context, batch *Batch) ([]float32, error) {
	body, err := json.Marshal(predictRequest{Instances: [][][][3]float32{batch.nested()}})
	if err != nil {
		return nil, err
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if p.Timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	request, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("predictor error %d: %s", resp.StatusCode, string(data))
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode predictor response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("predictor error: %s", out.Error)
	}
	if len(out.Predictions) == 0 {
		return nil, fmt.Errorf("predictor returned no predictions")
	}

	var features []float32
	if err := flatten(out.Predictions[0], &features); err != nil {
		return nil, fmt.Errorf("failed to decode predictions: %w", err)
	}
	return features, nil
}

// flatten appends every number of an arbitrarily nested JSON array to dst.
func flatten(raw json.RawMessage, dst *[]float32) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return err
		}
		for _, item := range items {
			if err := flatten(item, dst); err != nil {
				return err
			}
		}
		return nil
	}
	var v float32
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*dst = append(*dst, v)
	return nil
}
