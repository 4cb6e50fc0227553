package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/storyreel?sslmode=disable")
	t.Setenv("STORAGE_BACKEND", "supabase")
	t.Setenv("SUPABASE_URL", "https://project.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")
	t.Setenv("RENDER_PROFILE_PATH", "")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultRenderConfig(), cfg.Render)
	assert.Equal(t, 2, cfg.Fetch.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Fetch.BaseDelay)
	assert.Equal(t, 30*time.Minute, cfg.RenderLeaseTTL)
	assert.Equal(t, "/tmp/storyreel", cfg.Render.LogDir())
}

func TestLoadRenderProfileThenEnv(t *testing.T) {
	setBaseEnv(t)

	profile := filepath.Join(t.TempDir(), "render.yaml")
	require.NoError(t, os.WriteFile(profile, []byte(
		"width: 720\nheight: 1280\nfps: 25\nmotion_enabled: false\nlog_root: /var/log/storyreel\n"), 0o644))
	t.Setenv("RENDER_PROFILE_PATH", profile)
	t.Setenv("RENDER_FPS", "24")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 720, cfg.Render.Width)
	assert.Equal(t, 1280, cfg.Render.Height)
	assert.Equal(t, 24, cfg.Render.FPS)
	assert.False(t, cfg.Render.MotionEnabled)
	assert.Equal(t, 1.6, cfg.Render.MinSecondsPerImage)
	assert.Equal(t, "/var/log/storyreel", cfg.Render.LogDir())
}

func TestLoadBadRenderProfile(t *testing.T) {
	setBaseEnv(t)
	profile := filepath.Join(t.TempDir(), "render.yaml")
	require.NoError(t, os.WriteFile(profile, []byte("width: [oops\n"), 0o644))
	t.Setenv("RENDER_PROFILE_PATH", profile)

	_, err := Load()
	assert.ErrorContains(t, err, "failed to parse render profile")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DatabaseURL:       "postgres://x",
			StorageBackend:    "s3",
			S3Bucket:          "renders",
			MaxConcurrentJobs: 1,
			Fetch:             FetchConfig{Concurrency: 1},
			Render:            DefaultRenderConfig(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "DATABASE_URL"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.S3Bucket = "" }, wantErr: "S3_BUCKET"},
		{name: "supabase without key", mutate: func(c *Config) { c.StorageBackend = "supabase" }, wantErr: "SUPABASE_URL"},
		{name: "unknown backend", mutate: func(c *Config) { c.StorageBackend = "gcs" }, wantErr: "unknown STORAGE_BACKEND"},
		{name: "no workers", mutate: func(c *Config) { c.MaxConcurrentJobs = 0 }, wantErr: "MAX_CONCURRENT_JOBS"},
		{name: "negative retries", mutate: func(c *Config) { c.Fetch.MaxRetries = -1 }, wantErr: "FETCH_MAX_RETRIES"},
		{name: "odd width", mutate: func(c *Config) { c.Render.Width = 1081 }, wantErr: "even"},
		{name: "zero fps", mutate: func(c *Config) { c.Render.FPS = 0 }, wantErr: "fps"},
		{name: "zoom below one", mutate: func(c *Config) { c.Render.MotionMaxZoom = 0.9 }, wantErr: "zoom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
