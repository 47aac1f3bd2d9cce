package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"imageeditor/archive"
	"imageeditor/caption"
	"imageeditor/config"
	"imageeditor/editor"
	"imageeditor/providers"
	"imageeditor/vision"
)

type fakeProvider struct {
	err error
}

func (p fakeProvider) GetName() string                          { return "fake" }
func (p fakeProvider) GetModels() []providers.ModelCapabilities { return nil }

func (p fakeProvider) Generate(_ context.Context, input providers.GenerationInput) (*providers.GenerationOutput, error) {
	if p.err != nil {
		return nil, p.err
	}
	img := image.NewNRGBA(image.Rect(0, 0, input.Width, input.Height))
	data, err := vision.EncodePNG(img)
	if err != nil {
		return nil, err
	}
	return &providers.GenerationOutput{ImageBytes: data, Format: "png"}, nil
}

type stubPredictor struct{}

func (stubPredictor) Predict(context.Context, *caption.Batch) ([]float32, error) {
	return []float32{1}, nil
}

func newTestRouter(t *testing.T, cfg *config.Config, opts editor.Options) *Router {
	t.Helper()
	return NewRouter(editor.New(cfg, opts), cfg)
}

func redSquare() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(30, 30, 70, 70), image.NewUniform(color.NRGBA{R: 255, A: 255}), image.Point{}, draw.Src)
	return img
}

func uploadRequest(t *testing.T, target, field string, img image.Image, extra map[string]string) *http.Request {
	t.Helper()
	data, err := vision.EncodePNG(img)
	if err != nil {
		t.Fatal(err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "upload.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	for k, v := range extra {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
}

func decodeDataURI(t *testing.T, uri string) image.Image {
	t.Helper()
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Fatalf("image is not a PNG data URI: %.40s", uri)
	}
	_, data, err := vision.ParseDataURI(uri)
	if err != nil {
		t.Fatal(err)
	}
	img, _, err := vision.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, detail string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	var resp ErrorResponse
	decodeJSON(t, rec, &resp)
	if resp.Detail != detail {
		t.Fatalf("detail = %q, want %q", resp.Detail, detail)
	}
}

func TestRoot(t *testing.T) {
	router := newTestRouter(t, config.Default(), editor.Options{})
	rec := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatusResponse
	decodeJSON(t, rec, &resp)
	if resp.Message != "Image Editor AI Service" || resp.Status != "running" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Capabilities[config.EndpointTextToImage] || !resp.Capabilities[config.EndpointRemoveBackground] {
		t.Fatalf("capabilities = %v", resp.Capabilities)
	}
}

func TestTextToImage(t *testing.T) {
	cfg := config.Default()
	cfg.Diffusion.Backend = config.BackendDiffusers
	router := newTestRouter(t, cfg, editor.Options{
		NewProvider: func() (providers.ImageProvider, error) { return fakeProvider{}, nil },
	})

	req := httptest.NewRequest(http.MethodPost, "/text-to-image", strings.NewReader(`{"prompt":"a castle","height":256}`))
	rec := serve(router, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp ImageResponse
	decodeJSON(t, rec, &resp)
	if !resp.Success || resp.Prompt != "a castle" || resp.Message != "Image generated successfully" {
		t.Fatalf("response = %+v", resp)
	}
	if b := decodeDataURI(t, resp.Image).Bounds(); b.Dx() != DefaultWidth || b.Dy() != 256 {
		t.Fatalf("bounds = %v", b)
	}
}

func TestTextToImageErrors(t *testing.T) {
	router := newTestRouter(t, config.Default(), editor.Options{})
	rec := serve(router, httptest.NewRequest(http.MethodPost, "/text-to-image", strings.NewReader(`{"prompt":"x"}`)))
	expectError(t, rec, http.StatusInternalServerError, "Text-to-image dependencies not installed")

	cfg := config.Default()
	cfg.Diffusion.Backend = config.BackendDiffusers
	router = newTestRouter(t, cfg, editor.Options{
		NewProvider: func() (providers.ImageProvider, error) { return fakeProvider{err: errors.New("boom")}, nil },
	})
	rec = serve(router, httptest.NewRequest(http.MethodPost, "/text-to-image", strings.NewReader(`{"prompt":"x"}`)))
	expectError(t, rec, http.StatusInternalServerError, "Text-to-image generation failed: boom")

	rec = serve(router, httptest.NewRequest(http.MethodPost, "/text-to-image", strings.NewReader(`{"width":64}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing prompt status = %d", rec.Code)
	}

	rec = serve(router, httptest.NewRequest(http.MethodPost, "/text-to-image", strings.NewReader(`{"prompt":`)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
}

func TestStyleTransferCartoon(t *testing.T) {
	router := newTestRouter(t, config.Default(), editor.Options{})

	images := map[string]string{}
	for _, style := range []string{vision.StyleCartoon, vision.StyleArtistic, vision.StyleOilPainting} {
		rec := serve(router, uploadRequest(t, "/style-transfer", "content_file", redSquare(), map[string]string{"style": style}))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body %s", style, rec.Code, rec.Body.String())
		}
		var resp ImageResponse
		decodeJSON(t, rec, &resp)
		if resp.Style != style || resp.Message != "Style transfer ("+style+") applied successfully" {
			t.Fatalf("response = %+v", resp)
		}
		if b := decodeDataURI(t, resp.Image).Bounds(); b.Dx() != 100 || b.Dy() != 100 {
			t.Fatalf("%s: bounds = %v", style, b)
		}
		images[style] = resp.Image
	}
	if images[vision.StyleCartoon] == images[vision.StyleArtistic] || images[vision.StyleCartoon] == images[vision.StyleOilPainting] {
		t.Fatal("cartoon output matches another style")
	}
}

func TestStyleTransferDefaultsAndFallbacks(t *testing.T) {
	router := newTestRouter(t, config.Default(), editor.Options{})

	rec := serve(router, uploadRequest(t, "/style-transfer?style=oil_painting", "file", redSquare(), nil))
	var resp ImageResponse
	decodeJSON(t, rec, &resp)
	if rec.Code != http.StatusOK || resp.Style != vision.StyleOilPainting {
		t.Fatalf("status = %d, style = %q", rec.Code, resp.Style)
	}

	rec = serve(router, uploadRequest(t, "/style-transfer", "content_file", redSquare(), nil))
	decodeJSON(t, rec, &resp)
	if resp.Style != vision.StyleArtistic {
		t.Fatalf("default style = %q", resp.Style)
	}
}

func TestRemoveBackground(t *testing.T) {
	router := newTestRouter(t, config.Default(), editor.Options{})
	rec := serve(router, uploadRequest(t, "/remove-background", "file", redSquare(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp ImageResponse
	decodeJSON(t, rec, &resp)
	if resp.Message != "Background removed successfully" {
		t.Fatalf("message = %q", resp.Message)
	}
	if b := decodeDataURI(t, resp.Image).Bounds(); b.Dx() != 100 || b.Dy() != 100 {
		t.Fatalf("bounds = %v", b)
	}
}

func TestUploadErrors(t *testing.T) {
	router := newTestRouter(t, config.Default(), editor.Options{})

	rec := serve(router, uploadRequest(t, "/remove-background", "image", redSquare(), nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing field status = %d", rec.Code)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "junk.png")
	fw.Write([]byte("not an image"))
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/enhance-image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = serve(router, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ErrorResponse
	decodeJSON(t, rec, &resp)
	if !strings.HasPrefix(resp.Detail, "Image enhancement failed: ") {
		t.Fatalf("detail = %q", resp.Detail)
	}
}

func TestOversizedCanvasIsRejected(t *testing.T) {
	cfg := config.Default()
	cfg.Vision.MaxPixels = 50 * 50
	router := newTestRouter(t, cfg, editor.Options{})

	for _, target := range []string{"/remove-background", "/enhance-image", "/style-transfer"} {
		rec := serve(router, uploadRequest(t, target, "file", redSquare(), nil))
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("%s status = %d, want 413 (body %s)", target, rec.Code, rec.Body.String())
		}
		var resp ErrorResponse
		decodeJSON(t, rec, &resp)
		if !strings.Contains(resp.Detail, "100x100") {
			t.Fatalf("%s detail = %q", target, resp.Detail)
		}
	}
}

func TestVisionDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Vision.Enabled = false
	router := newTestRouter(t, cfg, editor.Options{})
	rec := serve(router, uploadRequest(t, "/enhance-image", "file", redSquare(), nil))
	expectError(t, rec, http.StatusInternalServerError, "Image filters not available")
}

func TestGenerateCaption(t *testing.T) {
	cfg := config.Default()
	cfg.Caption.ModelPath = filepath.Join(t.TempDir(), "model.h5")

	router := newTestRouter(t, cfg, editor.Options{})
	rec := serve(router, uploadRequest(t, "/generate-caption", "file", redSquare(), nil))
	expectError(t, rec, http.StatusInternalServerError, "Caption dependencies not installed")

	router = newTestRouter(t, cfg, editor.Options{Predictor: stubPredictor{}})
	rec = serve(router, uploadRequest(t, "/generate-caption", "file", redSquare(), nil))
	expectError(t, rec, http.StatusNotFound, "Caption model not found")
}

func TestDisabledEndpointsAreNotRouted(t *testing.T) {
	cfg := config.Default()
	cfg.EnabledEndpoints = []string{config.EndpointRemoveBackground}
	router := newTestRouter(t, cfg, editor.Options{})

	rec := serve(router, uploadRequest(t, "/enhance-image", "file", redSquare(), nil))
	expectError(t, rec, http.StatusNotFound, "Not Found")

	rec = serve(router, uploadRequest(t, "/remove-background", "file", redSquare(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("enabled endpoint status = %d", rec.Code)
	}
}

func TestArchivedImagesAreServed(t *testing.T) {
	cfg := config.Default()
	cfg.Settings.SaveLocalCopy = true
	cfg.Server.BaseURL = "http://editor.test/"
	store, err := archive.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	router := newTestRouter(t, cfg, editor.Options{Archive: store})

	rec := serve(router, uploadRequest(t, "/remove-background", "file", redSquare(), nil))
	var resp ImageResponse
	decodeJSON(t, rec, &resp)
	if !strings.HasPrefix(resp.ImageURL, "http://editor.test/images/") {
		t.Fatalf("image_url = %q", resp.ImageURL)
	}

	path := strings.TrimPrefix(resp.ImageURL, "http://editor.test")
	rec = serve(router, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != archive.ContentType {
		t.Fatalf("status = %d, content type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if got := rec.Header().Get(ImageLabelHeader); got != config.EndpointRemoveBackground {
		t.Fatalf("%s = %q, want %q", ImageLabelHeader, got, config.EndpointRemoveBackground)
	}

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/images/unknown", nil))
	expectError(t, rec, http.StatusNotFound, "Image not found")
}
