package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "src", cfg.Src)
	assert.Equal(t, "dist", cfg.Dist)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 75, cfg.Images.JPEGQuality)
	assert.Equal(t, "best", cfg.Images.PNGLevel)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Lull)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sitebuild.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
dist = "public"

[server]
port = 8080

[images]
jpeg_quality = 60

[paths.css]
src = "src/styles/*.scss"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "public", cfg.Dist)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Images.JPEGQuality)
	assert.Equal(t, "src/styles/*.scss", cfg.Paths.CSS.Src)
	assert.Empty(t, cfg.Paths.CSS.Dest)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, _ := Loader(filepath.Join(t.TempDir(), "none.toml"))
		cfg.Src = "src"
		cfg.Dist = "dist"
		cfg.Log.Level = "info"
		cfg.Server.Port = 5000
		cfg.Build.Workers = 2
		cfg.Images.JPEGQuality = 75
		cfg.Images.PNGLevel = "best"
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"same src and dist", func(c *Config) { c.Dist = "src" }},
		{"empty dist", func(c *Config) { c.Dist = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"no workers", func(c *Config) { c.Build.Workers = 0 }},
		{"bad quality", func(c *Config) { c.Images.JPEGQuality = 101 }},
		{"bad png level", func(c *Config) { c.Images.PNGLevel = "max" }},
		{"negative lull", func(c *Config) { c.Watch.Lull = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
