package api

// TextToImageRequest is the JSON body of POST /text-to-image.
type TextToImageRequest struct {
	Prompt            string  `json:"prompt"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Seed              *int64  `json:"seed,omitempty"`
}

// Request defaults applied before the body is decoded.
const (
	DefaultWidth         = 512
	DefaultHeight        = 512
	DefaultSteps         = 50
	DefaultGuidanceScale = 12.0
)

func newTextToImageRequest() TextToImageRequest {
	return TextToImageRequest{
		Width:             DefaultWidth,
		Height:            DefaultHeight,
		NumInferenceSteps: DefaultSteps,
		GuidanceScale:     DefaultGuidanceScale,
	}
}

// StatusResponse is returned by GET /.
type StatusResponse struct {
	Message      string          `json:"message"`
	Status       string          `json:"status"`
	Capabilities map[string]bool `json:"capabilities"`
}

// ImageResponse is returned by every operation that produces an image.
type ImageResponse struct {
	Success  bool   `json:"success"`
	Image    string `json:"image"`
	Prompt   string `json:"prompt,omitempty"`
	Style    string `json:"style,omitempty"`
	Message  string `json:"message"`
	ImageURL string `json:"image_url,omitempty"`
}

// CaptionResponse is returned by POST /generate-caption.
type CaptionResponse struct {
	Success bool   `json:"success"`
	Caption string `json:"caption"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
