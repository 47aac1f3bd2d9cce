// Package editor implements the image operations behind the HTTP API. A
// Service owns the lazily loaded model handles and the capability flags
// decided from configuration at startup.
package editor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"

	"imageeditor/archive"
	"imageeditor/caption"
	"imageeditor/config"
	"imageeditor/providers"
	"imageeditor/vision"
)

// Prompt decoration applied to every text-to-image request.
const (
	PromptSuffix   = ", highly detailed, professional quality, sharp focus, masterpiece"
	NegativePrompt = "blurry, low quality, distorted, ugly, bad anatomy, worst quality"
)

// Generation limits.
const (
	MinDimension = 64
	MinSteps     = 1
	MaxSteps     = 150
)

// Options carries the collaborators of a Service. Nil fields fall back to
// what the configuration describes.
type Options struct {
	// NewProvider builds the text-to-image backend on first use.
	NewProvider func() (providers.ImageProvider, error)
	// Predictor runs the captioning model. Nil disables captioning.
	Predictor caption.Predictor
	// Archive, when set, receives a copy of every produced image.
	Archive *archive.Store
}

// Service executes the editor operations.
type Service struct {
	cfg         *config.Config
	newProvider func() (providers.ImageProvider, error)
	predictor   caption.Predictor
	archive     *archive.Store

	pipeline     lazy[providers.ImageProvider]
	captionModel lazy[*caption.Model]
	tokenizer    lazy[*caption.Tokenizer]
}

// New creates a Service. Nothing is loaded until the first request needs it.
func New(cfg *config.Config, opts Options) *Service {
	s := &Service{
		cfg:         cfg,
		newProvider: opts.NewProvider,
		predictor:   opts.Predictor,
		archive:     opts.Archive,
	}
	if s.newProvider == nil {
		s.newProvider = func() (providers.ImageProvider, error) {
			return providers.New(cfg.Diffusion)
		}
	}

	caps := s.Capabilities()
	for _, name := range config.AllEndpoints {
		if !caps[name] {
			log.Warn().Str("operation", name).Msg("Operation unavailable")
		}
	}
	return s
}

// Capabilities reports which operations can run with the current
// configuration, keyed by endpoint name.
func (s *Service) Capabilities() map[string]bool {
	return map[string]bool{
		config.EndpointTextToImage:      s.cfg.Diffusion.Backend != config.BackendNone,
		config.EndpointRemoveBackground: true,
		config.EndpointStyleTransfer:    s.cfg.Vision.Enabled,
		config.EndpointEnhanceImage:     s.cfg.Vision.Enabled,
		config.EndpointGenerateCaption:  s.predictor != nil,
	}
}

// Result is an image produced by an operation.
type Result struct {
	Image     image.Image
	ArchiveID string // empty unless archiving is enabled
}

// TextToImageRequest describes one generation.
type TextToImageRequest struct {
	Prompt        string
	Width         int
	Height        int
	Steps         int
	GuidanceScale float64
	Seed          *int64
}

// TextToImage renders the prompt with the configured backend, loading it on
// first use. The result always has the clamped requested size.
func (s *Service) TextToImage(ctx context.Context, req TextToImageRequest) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if s.cfg.Diffusion.Backend == config.BackendNone {
		return nil, ErrBackendUnavailable
	}

	provider, err := s.pipeline.get(ctx, func() (providers.ImageProvider, error) {
		return s.loadPipeline(ctx)
	})
	if err != nil {
		if errors.Is(err, providers.ErrNotConfigured) {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return nil, err
	}

	input := providers.GenerationInput{
		Prompt:         req.Prompt + PromptSuffix,
		NegativePrompt: NegativePrompt,
		Width:          clampDimension(req.Width, s.cfg.Diffusion.MaxDimension),
		Height:         clampDimension(req.Height, s.cfg.Diffusion.MaxDimension),
		Steps:          min(max(req.Steps, MinSteps), MaxSteps),
		GuidanceScale:  req.GuidanceScale,
		Eta:            0,
		Seed:           req.Seed,
	}
	log.Info().
		Str("provider", provider.GetName()).
		Str("prompt", req.Prompt).
		Int("width", input.Width).
		Int("height", input.Height).
		Int("steps", input.Steps).
		Msg("Generating")

	out, err := provider.Generate(ctx, input)
	if err != nil {
		return nil, err
	}
	img, err := s.decode(out.ImageBytes)
	if err != nil {
		return nil, fmt.Errorf("backend returned an unreadable image: %w", err)
	}

	if b := img.Bounds(); b.Dx() != input.Width || b.Dy() != input.Height {
		log.Debug().
			Int("width", b.Dx()).
			Int("height", b.Dy()).
			Msg("Resizing backend output to the requested size")
		img = resize.Resize(uint(input.Width), uint(input.Height), img, resize.Lanczos3)
	}
	log.Info().Msg("Image generation complete")

	return s.result(req.Prompt, img), nil
}

func (s *Service) loadPipeline(ctx context.Context) (providers.ImageProvider, error) {
	log.Info().Str("backend", s.cfg.Diffusion.Backend).Str("model", s.cfg.Diffusion.Model).Msg("Loading text-to-image pipeline...")
	p, err := s.newProvider()
	if err != nil {
		return nil, err
	}
	if loader, ok := p.(providers.Loader); ok {
		if err := loader.Load(ctx); err != nil {
			return nil, err
		}
	}
	ev := log.Info().Str("provider", p.GetName())
	if dr, ok := p.(providers.DeviceReporter); ok {
		ev = ev.Str("device", dr.Device())
	}
	ev.Msg("Text-to-image pipeline loaded successfully")
	return p, nil
}

// RemoveBackground keeps the pixels on strong edges and makes everything
// else transparent.
func (s *Service) RemoveBackground(data []byte) (*Result, error) {
	img, err := s.decode(data)
	if err != nil {
		return nil, err
	}
	return s.result(config.EndpointRemoveBackground, vision.RemoveBackground(img)), nil
}

// StyleTransfer applies the named style. Unknown styles return the upload
// unchanged.
func (s *Service) StyleTransfer(data []byte, style string) (*Result, error) {
	if !s.cfg.Vision.Enabled {
		return nil, ErrVisionUnavailable
	}
	img, err := s.decode(data)
	if err != nil {
		return nil, err
	}
	if !vision.KnownStyle(style) {
		log.Warn().Str("style", style).Msg("Unknown style, returning the image unchanged")
	}
	return s.result(config.EndpointStyleTransfer+":"+style, vision.ApplyStyle(img, style)), nil
}

// EnhanceImage denoises, sharpens and equalises the upload.
func (s *Service) EnhanceImage(data []byte) (*Result, error) {
	if !s.cfg.Vision.Enabled {
		return nil, ErrVisionUnavailable
	}
	img, err := s.decode(data)
	if err != nil {
		return nil, err
	}
	return s.result(config.EndpointEnhanceImage, vision.Enhance(img)), nil
}

// GenerateCaption loads the caption model and tokenizer on first use and
// describes the upload.
func (s *Service) GenerateCaption(ctx context.Context, data []byte) (string, error) {
	if s.predictor == nil {
		return "", ErrCaptionUnavailable
	}

	model, err := s.captionModel.get(ctx, func() (*caption.Model, error) {
		return caption.LoadModel(s.cfg.Caption.ModelPath)
	})
	if err != nil {
		return "", err
	}
	tokenizer, err := s.tokenizer.get(ctx, func() (*caption.Tokenizer, error) {
		return caption.LoadTokenizer(s.cfg.Caption.TokenizerPath)
	})
	if err != nil {
		return "", err
	}

	img, err := s.decode(data)
	if err != nil {
		return "", err
	}
	c := &caption.Captioner{Model: model, Tokenizer: tokenizer, Predictor: s.predictor}
	return c.Describe(ctx, img)
}

// decode reads an upload, refusing canvases over the configured pixel limit.
func (s *Service) decode(data []byte) (image.Image, error) {
	img, _, err := vision.DecodeLimit(data, s.cfg.Vision.MaxPixels)
	return img, err
}

// Image returns an archived image by id.
func (s *Service) Image(id string) ([]byte, error) {
	if s.archive == nil {
		return nil, archive.ErrImageNotFound
	}
	return s.archive.Get(id)
}

// ImageLabel returns the prompt or operation recorded for an archived image.
func (s *Service) ImageLabel(id string) (string, error) {
	if s.archive == nil {
		return "", archive.ErrImageNotFound
	}
	return s.archive.Label(id)
}

func (s *Service) result(label string, img image.Image) *Result {
	res := &Result{Image: img}
	if s.archive == nil {
		return res
	}
	id, err := s.archive.Save(label, img)
	if err != nil {
		log.Error().Err(err).Msg("Failed to archive image")
		return res
	}
	res.ArchiveID = id
	return res
}

// clampDimension bounds v to [MinDimension, limit] and rounds it down to a
// multiple of 8.
func clampDimension(v, limit int) int {
	v = min(max(v, MinDimension), limit)
	return v - v%8
}
