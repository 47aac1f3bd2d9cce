package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Endpoint names as they appear in ENABLED_ENDPOINTS and in the route table.
const (
	EndpointTextToImage      = "text-to-image"
	EndpointRemoveBackground = "remove-background"
	EndpointStyleTransfer    = "style-transfer"
	EndpointEnhanceImage     = "enhance-image"
	EndpointGenerateCaption  = "generate-caption"
)

// AllEndpoints lists every optional endpoint in registration order.
var AllEndpoints = []string{
	EndpointTextToImage,
	EndpointRemoveBackground,
	EndpointStyleTransfer,
	EndpointEnhanceImage,
	EndpointGenerateCaption,
}

// Diffusion backend names accepted in DIFFUSION_BACKEND.
const (
	BackendNone         = ""
	BackendDiffusers    = "diffusers"
	BackendCloudflare   = "cloudflare"
	BackendPollinations = "pollinations_ai"
	BackendModelScope   = "modelscope"
)

// Server holds listener and HTTP surface settings.
type Server struct {
	Addr        string `json:"LISTEN_ADDR"`
	BaseURL     string `json:"BASE_URL"`
	MaxUploadMB int    `json:"MAX_UPLOAD_MB"`
	APIKey      string `json:"IMAGEEDITOR_API_KEY"`
	LogLevel    string `json:"LOG_LEVEL"`
	LogFormat   string `json:"LOG_FORMAT"`
}

// CORS holds the cross-origin policy.
type CORS struct {
	AllowedOrigins []string `json:"CORS_ALLOWED_ORIGINS"`
}

// CloudflareCredentials holds the credentials for Cloudflare Workers AI.
type CloudflareCredentials struct {
	AccountID string `json:"CLOUDFLARE_ACCOUNT_ID"`
	APIToken  string `json:"CLOUDFLARE_API_TOKEN"`
}

// Diffusion configures the text-to-image backend.
type Diffusion struct {
	Backend        string `json:"DIFFUSION_BACKEND"`
	Model          string `json:"DIFFUSION_MODEL"`
	Device         string `json:"DIFFUSION_DEVICE"`
	MaxDimension   int    `json:"DIFFUSION_MAX_DIMENSION"`
	TimeoutSeconds int    `json:"DIFFUSION_TIMEOUT_SECONDS"`
	DiffusersURL   string `json:"DIFFUSERS_URL"`

	PollinationsAIKey string                `json:"POLLINATIONS_AI_API_KEY"`
	ModelScopeKey     string                `json:"MODELSCOPE_API_KEY"`
	Cloudflare        CloudflareCredentials `json:"CLOUDFLARE_CREDENTIALS"`
}

// Caption configures the captioning artifacts and the predictor serving them.
type Caption struct {
	ModelPath      string `json:"CAPTION_MODEL_PATH"`
	TokenizerPath  string `json:"CAPTION_TOKENIZER_PATH"`
	PredictURL     string `json:"CAPTION_PREDICT_URL"`
	TimeoutSeconds int    `json:"CAPTION_TIMEOUT_SECONDS"`
}

// Vision toggles the in-process filter chains and bounds the uploads they
// decode.
type Vision struct {
	Enabled   bool `json:"VISION_ENABLED"`
	MaxPixels int  `json:"MAX_IMAGE_PIXELS"`
}

// Settings holds optional application settings.
type Settings struct {
	SaveLocalCopy bool   `json:"SAVE_LOCAL_COPY"`
	ImageDir      string `json:"IMAGE_DIR"`
}

// Config holds the entire application configuration.
type Config struct {
	Server           Server    `json:"SERVER"`
	CORS             CORS      `json:"CORS"`
	EnabledEndpoints []string  `json:"ENABLED_ENDPOINTS"`
	Diffusion        Diffusion `json:"DIFFUSION"`
	Caption          Caption   `json:"CAPTION"`
	Vision           Vision    `json:"VISION"`
	Settings         Settings  `json:"SETTINGS"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:        ":8002",
			MaxUploadMB: 10,
			LogLevel:    "info",
			LogFormat:   "console",
		},
		CORS: CORS{
			AllowedOrigins: []string{"*"},
		},
		EnabledEndpoints: append([]string(nil), AllEndpoints...),
		Diffusion: Diffusion{
			Model:          "prompthero/openjourney",
			Device:         "auto",
			MaxDimension:   1024,
			TimeoutSeconds: 600,
		},
		Caption: Caption{
			ModelPath:      "model.h5",
			TokenizerPath:  "tokenizer.pkl",
			TimeoutSeconds: 60,
		},
		Vision: Vision{
			Enabled:   true,
			MaxPixels: 178956970,
		},
		Settings: Settings{
			ImageDir: "images",
		},
	}
}

// LoadConfig loads the configuration from defaults, the JSON file at confPath,
// the given .env files (".env" when none) and environment variables, each
// layer overriding the previous one.
func LoadConfig(confPath string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if confPath != "" {
		file, err := os.Open(confPath)
		if err == nil {
			defer file.Close()
			if err := json.NewDecoder(file).Decode(cfg); err != nil {
				log.Warn().Err(err).Str("path", confPath).Msg("Could not decode config file")
			} else {
				log.Info().Str("path", confPath).Msg("Loaded configuration file")
			}
		} else if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", confPath).Msg("Could not open config file")
		}
	}

	// godotenv never overrides variables that are already set, so the real
	// environment still wins over the .env file.
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Could not load .env file")
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv overrides existing values with environment variables.
func (c *Config) loadFromEnv() {
	setString(&c.Server.Addr, "LISTEN_ADDR")
	setString(&c.Server.BaseURL, "BASE_URL")
	setInt(&c.Server.MaxUploadMB, "MAX_UPLOAD_MB")
	setString(&c.Server.APIKey, "IMAGEEDITOR_API_KEY")
	setString(&c.Server.LogLevel, "LOG_LEVEL")
	setString(&c.Server.LogFormat, "LOG_FORMAT")

	setList(&c.CORS.AllowedOrigins, "CORS_ALLOWED_ORIGINS")
	setList(&c.EnabledEndpoints, "ENABLED_ENDPOINTS")

	setString(&c.Diffusion.Backend, "DIFFUSION_BACKEND")
	setString(&c.Diffusion.Model, "DIFFUSION_MODEL")
	setString(&c.Diffusion.Device, "DIFFUSION_DEVICE")
	setInt(&c.Diffusion.MaxDimension, "DIFFUSION_MAX_DIMENSION")
	setInt(&c.Diffusion.TimeoutSeconds, "DIFFUSION_TIMEOUT_SECONDS")
	setString(&c.Diffusion.DiffusersURL, "DIFFUSERS_URL")
	setString(&c.Diffusion.PollinationsAIKey, "POLLINATIONS_AI_API_KEY")
	setString(&c.Diffusion.ModelScopeKey, "MODELSCOPE_API_KEY")
	setString(&c.Diffusion.Cloudflare.AccountID, "CLOUDFLARE_ACCOUNT_ID")
	setString(&c.Diffusion.Cloudflare.APIToken, "CLOUDFLARE_API_TOKEN")

	setString(&c.Caption.ModelPath, "CAPTION_MODEL_PATH")
	setString(&c.Caption.TokenizerPath, "CAPTION_TOKENIZER_PATH")
	setString(&c.Caption.PredictURL, "CAPTION_PREDICT_URL")
	setInt(&c.Caption.TimeoutSeconds, "CAPTION_TIMEOUT_SECONDS")

	setBool(&c.Vision.Enabled, "VISION_ENABLED")
	setInt(&c.Vision.MaxPixels, "MAX_IMAGE_PIXELS")

	setBool(&c.Settings.SaveLocalCopy, "SAVE_LOCAL_COPY")
	setString(&c.Settings.ImageDir, "IMAGE_DIR")
}

// Validate rejects values that would only fail later at request time.
func (c *Config) Validate() error {
	switch c.Diffusion.Backend {
	case BackendNone, BackendDiffusers, BackendCloudflare, BackendPollinations, BackendModelScope:
	default:
		return fmt.Errorf("unknown DIFFUSION_BACKEND %q", c.Diffusion.Backend)
	}
	switch c.Diffusion.Device {
	case "auto", "cuda", "cpu":
	default:
		return fmt.Errorf("DIFFUSION_DEVICE must be auto, cuda or cpu, got %q", c.Diffusion.Device)
	}
	if c.Diffusion.MaxDimension < 64 {
		return fmt.Errorf("DIFFUSION_MAX_DIMENSION must be at least 64, got %d", c.Diffusion.MaxDimension)
	}
	if c.Vision.MaxPixels <= 0 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", c.Vision.MaxPixels)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.Server.MaxUploadMB)
	}
	for _, name := range c.EnabledEndpoints {
		if !isKnownEndpoint(name) {
			return fmt.Errorf("unknown endpoint %q in ENABLED_ENDPOINTS", name)
		}
	}
	return nil
}

// EndpointEnabled reports whether the named endpoint should be routed.
func (c *Config) EndpointEnabled(name string) bool {
	for _, e := range c.EnabledEndpoints {
		if e == name {
			return true
		}
	}
	return false
}

func isKnownEndpoint(name string) bool {
	for _, e := range AllEndpoints {
		if e == name {
			return true
		}
	}
	return false
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		} else {
			log.Warn().Str("key", key).Str("value", val).Msg("Ignoring non-integer environment value")
		}
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		} else {
			log.Warn().Str("key", key).Str("value", val).Msg("Ignoring non-boolean environment value")
		}
	}
}

func setList(dst *[]string, key string) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	var items []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	*dst = items
}
