// Package archive keeps a local copy of every image the service produces.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrImageNotFound is returned by Get for unknown or malformed ids.
var ErrImageNotFound = errors.New("image not found")

// ContentType is the media type of archived images.
const ContentType = "image/webp"

// Store writes images as lossless WebP files named by a random id, each with
// a .txt sidecar describing what produced it.
type Store struct {
	basePath string
}

// New creates the archive directory if needed.
func New(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image archive directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// Save archives img and returns its id. label is typically the operation
// name or the prompt that produced the image.
func (s *Store) Save(label string, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
		return "", fmt.Errorf("failed to encode image to webp: %w", err)
	}

	id := uuid.New().String()
	imagePath := filepath.Join(s.basePath, id+".webp")
	if err := os.WriteFile(imagePath, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}

	labelPath := filepath.Join(s.basePath, id+".txt")
	if err := os.WriteFile(labelPath, []byte(label), 0o644); err != nil {
		return "", fmt.Errorf("failed to write label file: %w", err)
	}

	log.Info().Str("id", id).Str("path", imagePath).Msg("Stored image")
	return id, nil
}

// Get returns the WebP bytes archived under id.
func (s *Store) Get(id string) ([]byte, error) {
	// Only canonical ids reach the filesystem.
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return nil, ErrImageNotFound
	}

	data, err := os.ReadFile(filepath.Join(s.basePath, id+".webp"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrImageNotFound
		}
		log.Error().Err(err).Str("id", id).Msg("Failed to read image file")
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	return data, nil
}

// Label returns the label stored next to the image archived under id.
func (s *Store) Label(id string) (string, error) {
	if _, err := s.Get(id); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, id+".txt"))
	if err != nil {
		return "", fmt.Errorf("failed to read label file: %w", err)
	}
	return string(data), nil
}
