package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"imageeditor/archive"
	"imageeditor/editor"
	"imageeditor/vision"
)

// ImageLabelHeader carries the path-escaped label of an archived image, the
// prompt or operation that produced it.
const ImageLabelHeader = "X-Image-Label"

var (
	errUploadTooLarge = errors.New("upload too large")
	errMissingField   = errors.New("field required")
	errInvalidBody    = errors.New("invalid request body")
)

// maxJSONBody bounds the text-to-image request body.
const maxJSONBody = 1 << 20

func (router *Router) rootHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, StatusResponse{
		Message:      "Image Editor AI Service",
		Status:       "running",
		Capabilities: router.service.Capabilities(),
	})
}

func (router *Router) textToImageHandler(w http.ResponseWriter, r *http.Request) {
	const prefix = "Text-to-image generation failed"

	req := newTextToImageRequest()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		respondWithFailure(w, r, prefix, fmt.Errorf("%w: %v", errInvalidBody, err))
		return
	}

	res, err := router.service.TextToImage(r.Context(), editor.TextToImageRequest{
		Prompt:        req.Prompt,
		Width:         req.Width,
		Height:        req.Height,
		Steps:         req.NumInferenceSteps,
		GuidanceScale: req.GuidanceScale,
		Seed:          req.Seed,
	})
	if err != nil {
		respondWithFailure(w, r, prefix, err)
		return
	}
	router.respondWithImage(w, r, prefix, res, ImageResponse{
		Prompt:  req.Prompt,
		Message: "Image generated successfully",
	})
}

func (router *Router) removeBackgroundHandler(w http.ResponseWriter, r *http.Request) {
	const prefix = "Background removal failed"

	data, err := router.readUpload(w, r, "file")
	if err != nil {
		respondWithFailure(w, r, prefix, err)
		return
	}
	res, err := router.service.RemoveBackground(data)
	if err != nil {
		respondWithFailure(w, r, prefix, err)
		return
	}
	router.respondWithImage(w, r, prefix, res, ImageResponse{
		Message: "Background removed successfully",
	})
}

func (router *Router) styleTransferHandler(w http.ResponseWriter, r *http.Request) {
	const prefix = "Style transfer failed"

	data, err := router.readUpload(w, r, "content_file", "file")
	if err != nil {
		respondWithFailure(w, r, prefix, err)
		return
	}
	// FormValue also looks at the query string.
	style := r.FormValue("style")
	if style == "" {
		style = vision.DefaultStyle
	}

	res, err := router.service.StyleTransfer(data, style)
	if err != nil {
		respondWithFailure(w, r, prefix, err)
		return
	}
	router.respondWithImage(w, r, prefix, res, ImageResponse{
		Style:   style,
		Message: fmt.Sprintf("Style transfer (%s) applied successfully", style),
	})
}

func (router *Router) enhanceImageHandler(w http.ResponseWriter, r *http.Request) {
	const prefix = "Image enhancement failed"

	data, err := router.readUpload(w, r, "file")
	if err != nil {
		respondWithFailure(w, r, prefix, err)
		return
	}
	res, err := router.service.EnhanceImage(data)
	if err != nil {
		respondWithFailure(w, r, prefix, err)
		return
	}
	router.respondWithImage(w, r, prefix, res, ImageResponse{
		Message: "Image enhanced successfully",
	})
}

func (router *Router) generateCaptionHandler(w http.ResponseWriter, r *http.Request) {
	const prefix = "Caption generation failed"

	data, err := router.readUpload(w, r, "file")
	if err != nil {
		respondWithFailure(w, r, prefix, err)
		return
	}
	text, err := router.service.GenerateCaption(r.Context(), data)
	if err != nil {
		respondWithFailure(w, r, prefix, err)
		return
	}
	respondWithJSON(w, http.StatusOK, CaptionResponse{
		Success: true,
		Caption: text,
		Message: "Caption generated successfully",
	})
}

func (router *Router) imageHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	imageData, err := router.service.Image(id)
	if err != nil {
		respondWithFailure(w, r, "Failed to retrieve image", err)
		return
	}
	if label, err := router.service.ImageLabel(id); err == nil {
		w.Header().Set(ImageLabelHeader, url.PathEscape(label))
	} else {
		hlog.FromRequest(r).Warn().Err(err).Str("id", id).Msg("Archived image has no label")
	}
	w.Header().Set("Content-Type", archive.ContentType)
	w.Write(imageData)
}

// readUpload returns the bytes of the first multipart file found under one of
// fields.
func (router *Router) readUpload(w http.ResponseWriter, r *http.Request, fields ...string) ([]byte, error) {
	limit := int64(router.cfg.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: limit is %d MB", errUploadTooLarge, router.cfg.Server.MaxUploadMB)
		}
		return nil, fmt.Errorf("%w: %v", errInvalidBody, err)
	}

	for _, field := range fields {
		file, header, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidBody, err)
		}
		defer file.Close()

		hlog.FromRequest(r).Debug().
			Str("field", field).
			Str("filename", header.Filename).
			Int64("size", header.Size).
			Msg("Received upload")
		return io.ReadAll(file)
	}
	return nil, fmt.Errorf("%w: %s", errMissingField, fields[0])
}

// respondWithImage encodes res as a PNG data URI into body and writes it.
func (router *Router) respondWithImage(w http.ResponseWriter, r *http.Request, prefix string, res *editor.Result, body ImageResponse) {
	pngBytes, err := vision.EncodePNG(res.Image)
	if err != nil {
		respondWithFailure(w, r, prefix, err)
		return
	}
	body.Success = true
	body.Image = vision.DataURI(pngBytes)
	if res.ArchiveID != "" {
		body.ImageURL = fmt.Sprintf("%s/images/%s", router.getBaseURL(r), res.ArchiveID)
	}
	respondWithJSON(w, http.StatusOK, body)
}
