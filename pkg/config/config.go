package config

import (
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// DefaultFile is the config file looked up in the project root
const DefaultFile = "sitebuild.toml"

// PathOverride replaces parts of a category in the path table. Empty fields keep the default.
type PathOverride struct {
	Src   string `toml:"src" usage:"Source glob"`
	Watch string `toml:"watch" usage:"Glob watched for changes"`
	Dest  string `toml:"dest" usage:"Destination directory"`
}

// Config describes all configuration options
type Config struct {
	Src  string `default:"src" toml:"src" usage:"Source directory (relative to the project root)"`
	Dist string `default:"dist" toml:"dist" usage:"Output directory (relative to the project root)"`
	Log  struct {
		Level string `default:"info" toml:"level"`
		JSON  bool   `default:"false" toml:"json" usage:"Output JSONND instead of pretty console messages"`
	} `toml:"log"`
	Server struct {
		Host string `default:"localhost" toml:"host" usage:"Address the preview server listens on"`
		Port int    `default:"5000" toml:"port" usage:"Port of the preview server"`
	} `toml:"server"`
	Watch struct {
		Lull time.Duration `default:"100ms" toml:"lull" usage:"Time to wait for more changes before rebuilding"`
	} `toml:"watch"`
	Build struct {
		Workers     int  `default:"4" toml:"workers" usage:"Number of tasks and files processed in parallel"`
		Precompress bool `default:"false" toml:"precompress" usage:"Write brotli compressed copies of text assets"`
	} `toml:"build"`
	Sass struct {
		Precision    int      `default:"5" toml:"precision"`
		IncludePaths []string `toml:"include_paths" usage:"Additional Sass include paths"`
	} `toml:"sass"`
	Images struct {
		JPEGQuality int    `default:"75" toml:"jpeg_quality"`
		PNGLevel    string `default:"best" toml:"png_level" usage:"PNG compression (default, speed, best or none)"`
		Cache       bool   `default:"true" toml:"cache" usage:"Cache optimized images between builds"`
	} `toml:"images"`
	Notify struct {
		Desktop bool `default:"true" toml:"desktop" usage:"Show desktop notifications for watch errors"`
	} `toml:"notify"`
	Cache struct {
		Dir string `default:".sitebuild" toml:"dir" usage:"Directory for cache files (relative to the project root)"`
	} `toml:"cache"`
	Paths struct {
		HTML   PathOverride `toml:"html"`
		JS     PathOverride `toml:"js"`
		CSS    PathOverride `toml:"css"`
		Images PathOverride `toml:"images"`
		Fonts  PathOverride `toml:"fonts"`
	} `toml:"paths"`
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

var pngLevels = map[string]bool{
	"default": true,
	"speed":   true,
	"best":    true,
	"none":    true,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Flags are handled by the CLI so aconfig only reads defaults, the environment and the given files.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{DefaultFile}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "SITEBUILD",
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the configuration from the given files and validates it
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if cfg.Src == "" {
		return eris.New("src must not be empty")
	}

	if cfg.Dist == "" {
		return eris.New("dist must not be empty")
	}

	if cfg.Src == cfg.Dist {
		return eris.Errorf("src and dist both point to %s", cfg.Src)
	}

	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return eris.Errorf("Invalid value for server.port: %d", cfg.Server.Port)
	}

	if cfg.Build.Workers < 1 {
		return eris.Errorf("Invalid value for build.workers: %d (must be at least 1)", cfg.Build.Workers)
	}

	if cfg.Images.JPEGQuality < 1 || cfg.Images.JPEGQuality > 100 {
		return eris.Errorf("Invalid value for images.jpeg_quality: %d (must be between 1 and 100)", cfg.Images.JPEGQuality)
	}

	if !pngLevels[cfg.Images.PNGLevel] {
		return eris.Errorf("Invalid value for images.png_level: %s (must be one of default, speed, best or none)", cfg.Images.PNGLevel)
	}

	if cfg.Watch.Lull < 0 {
		return eris.New("watch.lull must not be negative")
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}
