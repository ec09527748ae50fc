package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds application configuration.
type Config struct {
	Port             int    `toml:"port"`
	DownloadDir      string `toml:"download_dir"`
	AllowedBaseDir   string `toml:"allowed_base_dir"`
	HostDownloadsDir string `toml:"host_downloads_dir"`
	YtdlpPath        string `toml:"ytdlp_path"`
	StaticDir        string `toml:"static_dir"`
}

// DefaultDownloadDir returns the default directory downloaded files go to.
func DefaultDownloadDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Downloads", "vidfetchd")
}

// DefaultAllowedBaseDir returns the default sandbox root for downloads.
func DefaultAllowedBaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Downloads")
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// Load parses flags, an optional TOML file, and environment overrides to
// build Config. Precedence: env > config file > flags/defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	var configFile string

	flag.StringVar(&configFile, "config", "", "TOML config file path")
	flag.IntVar(&cfg.Port, "port", 8080, "HTTP server port")
	flag.StringVar(&cfg.DownloadDir, "download-dir", DefaultDownloadDir(), "Default download directory")
	flag.StringVar(&cfg.AllowedBaseDir, "allowed-base", DefaultAllowedBaseDir(), "Base directory downloads are sandboxed under")
	flag.StringVar(&cfg.HostDownloadsDir, "host-downloads-dir", "", "Host-visible path mapped to the allowed base (container deployments)")
	flag.StringVar(&cfg.YtdlpPath, "ytdlp", "yt-dlp", "Path to the yt-dlp binary")
	flag.StringVar(&cfg.StaticDir, "static-dir", "", "Directory with the static UI (disabled when empty)")
	flag.Parse()

	if env := os.Getenv("VIDFETCHD_CONFIG"); env != "" {
		configFile = env
	}
	if configFile != "" {
		if _, err := toml.DecodeFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configFile, err)
		}
	}

	applyEnv(cfg)

	cfg.DownloadDir = ExpandPath(cfg.DownloadDir)
	cfg.AllowedBaseDir = ExpandPath(cfg.AllowedBaseDir)
	cfg.HostDownloadsDir = ExpandPath(cfg.HostDownloadsDir)
	return cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) {
	if port := os.Getenv("VIDFETCHD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if dir := os.Getenv("VIDFETCHD_DOWNLOAD_DIR"); dir != "" {
		cfg.DownloadDir = dir
	}
	if base := os.Getenv("VIDFETCHD_ALLOWED_BASE"); base != "" {
		cfg.AllowedBaseDir = base
	}
	if host := os.Getenv("VIDFETCHD_HOST_DOWNLOADS_DIR"); host != "" {
		cfg.HostDownloadsDir = host
	}
	if bin := os.Getenv("VIDFETCHD_YTDLP"); bin != "" {
		cfg.YtdlpPath = bin
	}
	if dir := os.Getenv("VIDFETCHD_STATIC_DIR"); dir != "" {
		cfg.StaticDir = dir
	}
}
