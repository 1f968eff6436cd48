package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/phuslu/log"

	"github.com/Nasapan23/sandsound/internal/platform"
)

// Default values
const (
	DefaultFormat              = "mp3"
	DefaultQuality             = "best"
	DefaultConcurrentDownloads = 3

	MinConcurrentDownloads = 1
	MaxConcurrentDownloads = 8

	ConfigFileName      = "config.toml"
	DefaultDirName      = "SandSound"
	ConfigFilePermissions = 0644
)

// Known option lists
var (
	Formats        = []string{"mp3", "mp4", "m4a", "webm", "opus", "flac", "wav", "mkv"}
	AudioQualities = []string{"128", "192", "256", "320", "best"}
	VideoQualities = []string{"480", "720", "1080", "1440", "2160", "4320", "best"}
)

// Config holds application settings. It is read once at startup and consumed
// read-only by the download pipeline.
type Config struct {
	DownloadDir         string `toml:"download_dir"`
	CookieFile          string `toml:"cookie_file"`
	FFmpegPath          string `toml:"ffmpeg_path"`
	DefaultFormat       string `toml:"default_format"`
	DefaultQuality      string `toml:"default_quality"`
	ConcurrentDownloads int    `toml:"concurrent_downloads"`
}

// Default returns the configuration used when no file is present
func Default() Config {
	downloadDir := filepath.Join(os.TempDir(), "downloads")
	if home, err := platform.HomeDownloadsDir(); err == nil {
		downloadDir = filepath.Join(home, DefaultDirName)
	}

	return Config{
		DownloadDir:         downloadDir,
		DefaultFormat:       DefaultFormat,
		DefaultQuality:      DefaultQuality,
		ConcurrentDownloads: DefaultConcurrentDownloads,
	}
}

// DefaultPath returns the per-user config file location
func DefaultPath() string {
	dir, err := platform.HomeConfigDir()
	if err != nil {
		return ConfigFileName
	}
	return filepath.Join(dir, ConfigFileName)
}

// Load reads configuration from path. A missing file yields the defaults; an
// unreadable or corrupt file is reported and also yields the defaults, so
// startup never fails on configuration state.
func Load(path string) Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to read config, using defaults")
		}
		return cfg
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config file corrupt, using defaults")
		return Default()
	}

	cfg.normalize()
	return cfg
}

// Save persists the configuration to path
func (c Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err := platform.CreateDirectoryIfNotExists(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, data, ConfigFilePermissions)
}

// IsCookieValid reports whether the configured cookie file exists
func (c Config) IsCookieValid() bool {
	if c.CookieFile == "" {
		return false
	}
	info, err := os.Stat(c.CookieFile)
	return err == nil && !info.IsDir()
}

// FFmpegLocation returns the configured FFmpeg override, or "" when the
// engine should rely on the system PATH
func (c Config) FFmpegLocation() string {
	if c.FFmpegPath == "" {
		return ""
	}
	if _, err := os.Stat(c.FFmpegPath); err != nil {
		return ""
	}
	return c.FFmpegPath
}

// normalize fills empty fields with defaults and clamps the concurrency bound
func (c *Config) normalize() {
	defaults := Default()
	if c.DownloadDir == "" {
		c.DownloadDir = defaults.DownloadDir
	}
	if c.DefaultFormat == "" {
		c.DefaultFormat = defaults.DefaultFormat
	}
	if c.DefaultQuality == "" {
		c.DefaultQuality = defaults.DefaultQuality
	}
	if c.ConcurrentDownloads < MinConcurrentDownloads {
		c.ConcurrentDownloads = defaults.ConcurrentDownloads
	}
	if c.ConcurrentDownloads > MaxConcurrentDownloads {
		c.ConcurrentDownloads = MaxConcurrentDownloads
	}
}
