// Package caption prepares uploaded images for the captioning model and runs
// the model through a remote predictor.
package caption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
)

var (
	// ErrModelNotFound is returned when the model file does not exist.
	ErrModelNotFound = errors.New("Caption model not found")
	// ErrTokenizerNotFound is returned when the tokenizer file does not exist.
	ErrTokenizerNotFound = errors.New("Tokenizer not found")
)

// hdf5Signature opens every Keras .h5 model file.
var hdf5Signature = []byte("\x89HDF\r\n\x1a\n")

// pickleProto marks a pickle stream written with protocol 2 or later.
const pickleProto = 0x80

// Model describes the captioning model file found on disk. The weights are
// served by the predictor; the local file pins which model is deployed.
type Model struct {
	Path string
	Size int64
}

// Tokenizer describes the tokenizer file found on disk.
type Tokenizer struct {
	Path string
	Size int64
}

// LoadModel checks that path holds an HDF5 model file.
func LoadModel(path string) (*Model, error) {
	log.Info().Str("path", path).Msg("Loading caption model...")
	header, size, err := readHeader(path, len(hdf5Signature))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to read caption model: %w", err)
	}
	if !bytes.Equal(header, hdf5Signature) {
		return nil, fmt.Errorf("caption model %s is not an HDF5 file", path)
	}
	log.Info().Str("path", path).Int64("bytes", size).Msg("Caption model loaded successfully")
	return &Model{Path: path, Size: size}, nil
}

// LoadTokenizer checks that path holds a pickled tokenizer.
func LoadTokenizer(path string) (*Tokenizer, error) {
	log.Info().Str("path", path).Msg("Loading tokenizer...")
	header, size, err := readHeader(path, 1)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrTokenizerNotFound
		}
		return nil, fmt.Errorf("failed to read tokenizer: %w", err)
	}
	if len(header) == 0 || header[0] != pickleProto {
		return nil, fmt.Errorf("tokenizer %s is not a pickle file", path)
	}
	log.Info().Str("path", path).Int64("bytes", size).Msg("Tokenizer loaded successfully")
	return &Tokenizer{Path: path, Size: size}, nil
}

// readHeader returns up to n leading bytes of the file and its size.
func readHeader(path string, n int) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("%s is a directory", path)
	}

	header := make([]byte, n)
	read, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, 0, err
	}
	return header[:read], info.Size(), nil
}
