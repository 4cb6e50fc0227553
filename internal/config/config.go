package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // empty = no auth, dev mode
	CorsAllowedOrigins string // comma-separated, empty = *

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Storage for the final artifact: "supabase" or "s3"
	StorageBackend string

	// Supabase
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// S3 / S3-compatible
	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	S3ForcePathStyle bool
	S3PublicBaseURL  string
	S3AccessKeyID    string // empty = default AWS credential chain
	S3SecretKey      string

	// Logging
	LogLevel  string
	LogFormat string

	// Worker
	MaxConcurrentJobs int
	RenderLeaseTTL    time.Duration

	// Janitor
	JanitorInterval time.Duration
	ScratchTTL      time.Duration

	// Asset fetching
	Fetch FetchConfig

	// Rendering
	Render RenderConfig
}

// FetchConfig controls asset download retries and pacing.
type FetchConfig struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxJitter   time.Duration
	RatePerSec  float64
	Concurrency int
	Timeout     time.Duration
}

// RenderConfig is the render profile. It can be overlaid from a YAML file
// named by RENDER_PROFILE_PATH; environment variables are applied last.
type RenderConfig struct {
	ScratchRoot string `yaml:"scratch_root"`
	LogRoot     string `yaml:"log_root"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`

	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps"`

	MinSecondsPerImage float64 `yaml:"min_seconds_per_image"`
	MotionEnabled      bool    `yaml:"motion_enabled"`
	MotionMaxZoom      float64 `yaml:"motion_max_zoom"`

	ErrorMessageCap int `yaml:"error_message_cap"`
}

// DefaultRenderConfig returns the built-in render profile: 1080x1920 portrait at 30fps.
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		ScratchRoot:        "/tmp/storyreel",
		FFmpegPath:         "ffmpeg",
		FFprobePath:        "ffprobe",
		Width:              1080,
		Height:             1920,
		FPS:                30,
		MinSecondsPerImage: 1.6,
		MotionEnabled:      true,
		MotionMaxZoom:      1.15,
		ErrorMessageCap:    900,
	}
}

// Load reads configuration from the environment (and .env when present).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	render := DefaultRenderConfig()
	if path := getEnv("RENDER_PROFILE_PATH", ""); path != "" {
		if err := loadRenderProfile(path, &render); err != nil {
			return nil, err
		}
	}
	applyRenderEnv(&render)

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		WorkerEnabled:         getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		StorageBackend:        strings.ToLower(getEnv("STORAGE_BACKEND", "supabase")),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "storyreel-videos"),
		S3Bucket:              getEnv("S3_BUCKET", ""),
		S3Region:              getEnv("S3_REGION", ""),
		S3Endpoint:            getEnv("S3_ENDPOINT", ""),
		S3ForcePathStyle:      getEnvBool("S3_FORCE_PATH_STYLE", false),
		S3PublicBaseURL:       getEnv("S3_PUBLIC_BASE_URL", ""),
		S3AccessKeyID:         getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:           getEnv("S3_SECRET_ACCESS_KEY", ""),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		MaxConcurrentJobs:     getEnvInt("MAX_CONCURRENT_JOBS", 2),
		RenderLeaseTTL:        getEnvDuration("RENDER_LEASE_TTL", 30*time.Minute),
		JanitorInterval:       getEnvDuration("JANITOR_INTERVAL", time.Hour),
		ScratchTTL:            getEnvDuration("SCRATCH_TTL", 24*time.Hour),
		Fetch: FetchConfig{
			MaxRetries:  getEnvInt("FETCH_MAX_RETRIES", 2),
			BaseDelay:   getEnvDuration("FETCH_BASE_DELAY", 500*time.Millisecond),
			MaxJitter:   getEnvDuration("FETCH_MAX_JITTER", 200*time.Millisecond),
			RatePerSec:  getEnvFloat("FETCH_RATE_PER_SEC", 8),
			Concurrency: getEnvInt("FETCH_CONCURRENCY", 4),
			Timeout:     getEnvDuration("FETCH_TIMEOUT", 120*time.Second),
		},
		Render: render,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.StorageBackend {
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for the supabase storage backend")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (want supabase or s3)", c.StorageBackend)
	}

	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1")
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("FETCH_MAX_RETRIES must not be negative")
	}
	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1")
	}

	return c.Render.Validate()
}

// Validate checks the render profile.
func (r RenderConfig) Validate() error {
	if r.ScratchRoot == "" {
		return fmt.Errorf("render scratch root is required")
	}
	if r.Width <= 0 || r.Height <= 0 || r.Width%2 != 0 || r.Height%2 != 0 {
		return fmt.Errorf("render size %dx%d must be positive and even", r.Width, r.Height)
	}
	if r.FPS <= 0 {
		return fmt.Errorf("render fps must be positive")
	}
	if r.MinSecondsPerImage <= 0 {
		return fmt.Errorf("min seconds per image must be positive")
	}
	if r.MotionMaxZoom < 1 {
		return fmt.Errorf("motion max zoom must be >= 1")
	}
	return nil
}

// LogDir is the durable diagnostic log directory; defaults to the scratch root
// so logs sit next to the workspace they describe.
func (r RenderConfig) LogDir() string {
	if r.LogRoot != "" {
		return r.LogRoot
	}
	return r.ScratchRoot
}

func loadRenderProfile(path string, render *RenderConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read render profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, render); err != nil {
		return fmt.Errorf("failed to parse render profile %s: %w", path, err)
	}
	return nil
}

func applyRenderEnv(r *RenderConfig) {
	r.ScratchRoot = getEnv("SCRATCH_ROOT", r.ScratchRoot)
	r.LogRoot = getEnv("LOG_ROOT", r.LogRoot)
	r.FFmpegPath = getEnv("FFMPEG_PATH", r.FFmpegPath)
	r.FFprobePath = getEnv("FFPROBE_PATH", r.FFprobePath)
	r.Width = getEnvInt("RENDER_WIDTH", r.Width)
	r.Height = getEnvInt("RENDER_HEIGHT", r.Height)
	r.FPS = getEnvInt("RENDER_FPS", r.FPS)
	r.MinSecondsPerImage = getEnvFloat("MIN_SECONDS_PER_IMAGE", r.MinSecondsPerImage)
	r.MotionEnabled = getEnvBool("MOTION_ENABLED", r.MotionEnabled)
	r.MotionMaxZoom = getEnvFloat("MOTION_MAX_ZOOM", r.MotionMaxZoom)
	r.ErrorMessageCap = getEnvInt("ERROR_MESSAGE_CAP", r.ErrorMessageCap)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
