package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"imageeditor/config"
)

func int64Ptr(v int64) *int64 { return &v }

func testInput() GenerationInput {
	return GenerationInput{
		Prompt:         "a red fox",
		NegativePrompt: "blurry",
		Width:          512,
		Height:         384,
		Steps:          50,
		GuidanceScale:  12,
		Seed:           int64Ptr(42),
	}
}

func TestNewSelectsBackend(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Diffusion
		want    string
		wantErr error
	}{
		{name: "none", cfg: config.Diffusion{}, wantErr: ErrNotConfigured},
		{name: "diffusers without url", cfg: config.Diffusion{Backend: config.BackendDiffusers}, wantErr: ErrNotConfigured},
		{name: "diffusers", cfg: config.Diffusion{Backend: config.BackendDiffusers, DiffusersURL: "http://localhost:7860"}, want: "diffusers"},
		{name: "cloudflare without token", cfg: config.Diffusion{Backend: config.BackendCloudflare, Cloudflare: config.CloudflareCredentials{AccountID: "acc"}}, wantErr: ErrNotConfigured},
		{name: "cloudflare", cfg: config.Diffusion{Backend: config.BackendCloudflare, Cloudflare: config.CloudflareCredentials{AccountID: "acc", APIToken: "tok"}}, want: "cloudflare"},
		{name: "pollinations", cfg: config.Diffusion{Backend: config.BackendPollinations}, want: "pollinations_ai"},
		{name: "modelscope without key", cfg: config.Diffusion{Backend: config.BackendModelScope}, wantErr: ErrNotConfigured},
		{name: "modelscope", cfg: config.Diffusion{Backend: config.BackendModelScope, ModelScopeKey: "key"}, want: "modelscope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if p.GetName() != tt.want {
				t.Fatalf("provider = %s, want %s", p.GetName(), tt.want)
			}
		})
	}
}

func TestResolveModelFallsBackToDefault(t *testing.T) {
	p := NewCloudflareProvider(http.DefaultClient, "acc", "tok", "prompthero/openjourney")
	if p.model.Name != cloudflareModels[0].Name {
		t.Fatalf("model = %s, want %s", p.model.Name, cloudflareModels[0].Name)
	}
	p = NewCloudflareProvider(http.DefaultClient, "acc", "tok", "@cf/black-forest-labs/flux-1-schnell")
	if p.model.Name != "@cf/black-forest-labs/flux-1-schnell" {
		t.Fatalf("model = %s", p.model.Name)
	}
}

func TestCloudflareGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/acc/ai/run/@cf/stabilityai/stable-diffusion-xl-base-1.0" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		var payload cloudflareAPIPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatal(err)
		}
		if payload.Steps != 20 {
			t.Errorf("num_steps = %d, want the model maximum 20", payload.Steps)
		}
		if payload.Width != 512 || payload.Height != 384 || payload.Guidance != 12 || payload.NegativePrompt != "blurry" {
			t.Errorf("unexpected payload %+v", payload)
		}
		if payload.Seed == nil || *payload.Seed != 42 {
			t.Errorf("seed = %v", payload.Seed)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	p := NewCloudflareProvider(srv.Client(), "acc", "tok", "")
	p.BaseURL = srv.URL
	out, err := p.Generate(context.Background(), testInput())
	if err != nil {
		t.Fatal(err)
	}
	if string(out.ImageBytes) != "png-bytes" || out.Format != "png" {
		t.Fatalf("output = %q (%s)", out.ImageBytes, out.Format)
	}
}

func TestCloudflareJSONResponses(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if fail.Load() {
			w.Write([]byte(`{"success":false,"errors":[{"code":5006,"message":"prompt rejected"}]}`))
			return
		}
		w.Write([]byte(`{"success":true,"result":{"image":"` + base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")) + `"}}`))
	}))
	defer srv.Close()

	p := NewCloudflareProvider(srv.Client(), "acc", "tok", "@cf/black-forest-labs/flux-1-schnell")
	p.BaseURL = srv.URL

	out, err := p.Generate(context.Background(), testInput())
	if err != nil {
		t.Fatal(err)
	}
	if string(out.ImageBytes) != "jpeg-bytes" {
		t.Fatalf("image = %q", out.ImageBytes)
	}

	fail.Store(true)
	if _, err := p.Generate(context.Background(), testInput()); err == nil || !strings.Contains(err.Error(), "prompt rejected") {
		t.Fatalf("err = %v, want the API error message", err)
	}
}

func TestPollinationsRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prompt/a red fox" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("model") != "flux" || q.Get("width") != "512" || q.Get("height") != "384" || q.Get("seed") != "42" || q.Get("nologo") != "true" {
			t.Errorf("query = %v", q)
		}
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	p := NewPollinationsAIProvider(srv.Client(), "", "")
	p.BaseURL = srv.URL + "/prompt/"
	p.RetryInterval = time.Millisecond

	out, err := p.Generate(context.Background(), testInput())
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if out.Format != "jpeg" || string(out.ImageBytes) != "jpeg-bytes" {
		t.Fatalf("output = %q (%s)", out.ImageBytes, out.Format)
	}
}

func TestPollinationsGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPollinationsAIProvider(srv.Client(), "key", "turbo")
	p.BaseURL = srv.URL + "/prompt/"
	p.RetryInterval = time.Millisecond
	p.MaxRetries = 2

	_, err := p.Generate(context.Background(), testInput())
	if err == nil || !strings.Contains(err.Error(), "giving up after 2 attempts") {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestModelScopePollsUntilSucceeded(t *testing.T) {
	var polls atomic.Int32
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/images/generations":
			if r.Header.Get("X-ModelScope-Async-Mode") != "true" {
				t.Error("missing async mode header")
			}
			var payload modelScopeAPIPayload
			json.NewDecoder(r.Body).Decode(&payload)
			if payload.Size != "512x384" || payload.Model != "Qwen/Qwen-Image" || payload.Steps != 50 {
				t.Errorf("payload = %+v", payload)
			}
			w.Write([]byte(`{"task_id":"t1"}`))
		case r.URL.Path == "/tasks/t1":
			if polls.Add(1) == 1 {
				w.Write([]byte(`{"task_status":"RUNNING"}`))
				return
			}
			w.Write([]byte(`{"task_status":"SUCCEED","output_images":["` + srvURL + `/out.png"]}`))
		case r.URL.Path == "/out.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("png-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	p := NewModelScopeProvider(srv.Client(), "key", "")
	p.BaseURL = srv.URL
	p.PollInterval = time.Millisecond

	out, err := p.Generate(context.Background(), testInput())
	if err != nil {
		t.Fatal(err)
	}
	if string(out.ImageBytes) != "png-bytes" {
		t.Fatalf("image = %q", out.ImageBytes)
	}
	if polls.Load() != 2 {
		t.Errorf("polls = %d, want 2", polls.Load())
	}
}

func TestModelScopeTaskFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"task_id":"t2"}`))
			return
		}
		w.Write([]byte(`{"task_status":"FAILED","errors":{"code":1,"message":"nsfw"}}`))
	}))
	defer srv.Close()

	p := NewModelScopeProvider(srv.Client(), "key", "")
	p.BaseURL = srv.URL
	p.PollInterval = time.Millisecond

	_, err := p.Generate(context.Background(), testInput())
	if err == nil || !strings.Contains(err.Error(), "Reason: nsfw") {
		t.Fatalf("err = %v", err)
	}
}

func TestDiffusersLoadFallsBackToCPU(t *testing.T) {
	var loads []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Write([]byte(`{"status":"ok","cuda_available":true}`))
		case "/load":
			var req diffusersLoadRequest
			json.NewDecoder(r.Body).Decode(&req)
			loads = append(loads, req.Device)
			if req.TorchDType != "float32" {
				t.Errorf("torch_dtype on %s = %q, want float32", req.Device, req.TorchDType)
			}
			if req.Device == DeviceCUDA {
				http.Error(w, "CUDA out of memory", http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{}`))
		case "/generate":
			var req diffusersGenerateRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.NumInferenceSteps != 50 || req.GuidanceScale != 12 || req.Eta != 0 || req.Seed == nil {
				t.Errorf("generate request = %+v", req)
			}
			w.Write([]byte(`{"images":["data:image/png;base64,` + base64.StdEncoding.EncodeToString([]byte("png-bytes")) + `"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewDiffusersProvider(srv.Client(), srv.URL, "prompthero/openjourney", DeviceAuto)
	if _, err := p.Generate(context.Background(), testInput()); !errors.Is(err, errPipelineNotLoaded) {
		t.Fatalf("Generate before Load: err = %v", err)
	}

	if err := p.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.Device() != DeviceCPU {
		t.Fatalf("device = %q, want cpu", p.Device())
	}
	if strings.Join(loads, ",") != "cuda,cpu" {
		t.Fatalf("load attempts = %v", loads)
	}

	// A loaded pipeline is never loaded again.
	if err := p.Load(context.Background()); err != nil || len(loads) != 2 {
		t.Fatalf("second Load: err = %v, attempts = %v", err, loads)
	}

	out, err := p.Generate(context.Background(), testInput())
	if err != nil {
		t.Fatal(err)
	}
	if string(out.ImageBytes) != "png-bytes" || out.Format != "png" {
		t.Fatalf("output = %q (%s)", out.ImageBytes, out.Format)
	}
}

func TestDiffusersLoadFailureIsNotCached(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok","cuda_available":false}`))
	}))
	defer srv.Close()

	p := NewDiffusersProvider(srv.Client(), srv.URL, "m", "")
	if err := p.Load(context.Background()); err == nil {
		t.Fatal("expected Load to fail while the sidecar is starting")
	}
	healthy.Store(true)
	if err := p.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.Device() != DeviceCPU {
		t.Fatalf("device = %q", p.Device())
	}
}
