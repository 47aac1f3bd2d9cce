package caption

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadModel(t *testing.T) {
	if _, err := LoadModel(filepath.Join(t.TempDir(), "model.h5")); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("missing model: err = %v, want ErrModelNotFound", err)
	}

	bogus := writeFile(t, "model.h5", []byte("not a model"))
	if _, err := LoadModel(bogus); err == nil || errors.Is(err, ErrModelNotFound) {
		t.Fatalf("bogus model: err = %v, want a format error", err)
	}

	valid := writeFile(t, "model.h5", append([]byte("\x89HDF\r\n\x1a\n"), make([]byte, 64)...))
	m, err := LoadModel(valid)
	if err != nil {
		t.Fatal(err)
	}
	if m.Size != 72 || m.Path != valid {
		t.Fatalf("model = %+v", m)
	}
}

func TestLoadTokenizer(t *testing.T) {
	if _, err := LoadTokenizer(filepath.Join(t.TempDir(), "tokenizer.pkl")); !errors.Is(err, ErrTokenizerNotFound) {
		t.Fatalf("missing tokenizer: err = %v, want ErrTokenizerNotFound", err)
	}
	if _, err := LoadTokenizer(writeFile(t, "tokenizer.pkl", nil)); err == nil {
		t.Fatal("empty tokenizer accepted")
	}
	if _, err := LoadTokenizer(writeFile(t, "tokenizer.pkl", []byte{0x80, 0x04, 0x95})); err != nil {
		t.Fatal(err)
	}
}

func TestPreprocessCaffeMeans(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 50, 30))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.NRGBA{R: 200, G: 100, B: 50, A: 255}), image.Point{}, draw.Src)

	b := Preprocess(img)
	if b.Height != InputSize || b.Width != InputSize || len(b.Pixels) != InputSize*InputSize*3 {
		t.Fatalf("batch shape %dx%d with %d values", b.Height, b.Width, len(b.Pixels))
	}
	want := [3]float64{50 - 103.939, 100 - 116.779, 200 - 123.68}
	for _, i := range []int{0, len(b.Pixels)/2 - 1, len(b.Pixels) - 3} {
		i -= i % 3
		for c := 0; c < 3; c++ {
			if got := float64(b.Pixels[i+c]); math.Abs(got-want[c]) > 1.5 {
				t.Fatalf("channel %d at %d = %.3f, want %.3f", c, i, got, want[c])
			}
		}
	}
}

func TestRESTPredictor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if len(req.Instances) != 1 || len(req.Instances[0]) != InputSize || len(req.Instances[0][0]) != InputSize {
			t.Errorf("unexpected instance shape")
		}
		w.Write([]byte(`{"predictions":[[[0.1,0.2],[0.3]]]}`))
	}))
	defer srv.Close()

	p := NewRESTPredictor(srv.URL, time.Second)
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	features, err := p.Predict(context.Background(), Preprocess(img))
	if err != nil {
		t.Fatal(err)
	}
	if len(features) != 3 || features[2] != 0.3 {
		t.Fatalf("features = %v", features)
	}

	if NewRESTPredictor("", time.Second) != nil {
		t.Fatal("predictor without URL should be nil")
	}
}

func TestRESTPredictorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewRESTPredictor(srv.URL, time.Second)
	if _, err := p.Predict(context.Background(), Preprocess(image.NewNRGBA(image.Rect(0, 0, 4, 4)))); err == nil {
		t.Fatal("expected an error for a 503 response")
	}
}

type fakePredictor struct {
	features []float32
	err      error
}

func (f fakePredictor) Predict(context.Context, *Batch) ([]float32, error) {
	return f.features, f.err
}

func TestDescribe(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	c := &Captioner{Model: &Model{Path: "model.h5"}, Tokenizer: &Tokenizer{}, Predictor: fakePredictor{features: []float32{1, 2}}}

	got, err := c.Describe(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if got != Placeholder {
		t.Fatalf("caption = %q", got)
	}

	c.Predictor = fakePredictor{}
	if _, err := c.Describe(context.Background(), img); err == nil {
		t.Fatal("expected an error for empty features")
	}
}
