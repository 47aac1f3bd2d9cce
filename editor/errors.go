package editor

import (
	"errors"

	"imageeditor/caption"
	"imageeditor/vision"
)

var (
	// ErrInvalidInput marks requests that fail validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrBackendUnavailable is returned when no text-to-image backend is configured.
	ErrBackendUnavailable = errors.New("Text-to-image dependencies not installed")
	// ErrVisionUnavailable is returned when the image filters are disabled.
	ErrVisionUnavailable = errors.New("Image filters not available")
	// ErrCaptionUnavailable is returned when no caption predictor is configured.
	ErrCaptionUnavailable = errors.New("Caption dependencies not installed")

	ErrModelNotFound     = caption.ErrModelNotFound
	ErrTokenizerNotFound = caption.ErrTokenizerNotFound
	ErrImageTooLarge     = vision.ErrImageTooLarge
)
