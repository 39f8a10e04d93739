package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort int    `yaml:"http_port"`
	DataDir  string `yaml:"data_dir"`
	Debug    bool   `yaml:"debug"`
	LogLevel string `yaml:"log_level"`

	FFmpegPath   string `yaml:"ffmpeg_path"`
	FrameQuality int    `yaml:"frame_quality"`
	MaxUploadMB  int    `yaml:"max_upload_mb"`
	PersistJobs  bool   `yaml:"persist_jobs"`

	Mirror MirrorConfig `yaml:"mirror"`
}

// MirrorConfig selects an optional object store that receives a copy of
// every extracted frame. Backend is "", "s3" or "gcs".
type MirrorConfig struct {
	Backend         string `yaml:"backend"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	CredentialsFile string `yaml:"credentials_file"`
}

func Default() *Config {
	return &Config{
		HTTPPort:     8000,
		DataDir:      "data",
		LogLevel:     "info",
		FFmpegPath:   "ffmpeg",
		FrameQuality: 2,
		MaxUploadMB:  512,
		PersistJobs:  true,
		Mirror:       MirrorConfig{Prefix: "frames"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and finally the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.Debug = getEnvBool("DEBUG", c.Debug)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.FFmpegPath = getEnv("FFMPEG_PATH", c.FFmpegPath)
	c.FrameQuality = getEnvInt("FRAME_QUALITY", c.FrameQuality)
	c.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", c.MaxUploadMB)
	c.PersistJobs = getEnvBool("PERSIST_JOBS", c.PersistJobs)

	c.Mirror.Backend = getEnv("MIRROR_BACKEND", c.Mirror.Backend)
	c.Mirror.Bucket = getEnv("MIRROR_BUCKET", c.Mirror.Bucket)
	c.Mirror.Prefix = getEnv("MIRROR_PREFIX", c.Mirror.Prefix)
	c.Mirror.Region = getEnv("MIRROR_REGION", c.Mirror.Region)
	c.Mirror.AccessKey = getEnv("MIRROR_ACCESS_KEY", c.Mirror.AccessKey)
	c.Mirror.SecretKey = getEnv("MIRROR_SECRET_KEY", c.Mirror.SecretKey)
	c.Mirror.CredentialsFile = getEnv("MIRROR_CREDENTIALS_FILE", c.Mirror.CredentialsFile)
}

func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	// ffmpeg's mjpeg encoder accepts qscale 2..31
	if c.FrameQuality < 2 || c.FrameQuality > 31 {
		return fmt.Errorf("invalid frame_quality: %d (want 2-31)", c.FrameQuality)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max_upload_mb: %d", c.MaxUploadMB)
	}
	switch c.Mirror.Backend {
	case "":
	case "s3", "gcs":
		if c.Mirror.Bucket == "" {
			return fmt.Errorf("mirror backend %s requires a bucket", c.Mirror.Backend)
		}
	default:
		return fmt.Errorf("unknown mirror backend: %s", c.Mirror.Backend)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func (c *Config) UploadDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

func (c *Config) FrameDir() string {
	return filepath.Join(c.DataDir, "frames")
}

func (c *Config) DBDir() string {
	return filepath.Join(c.DataDir, "db")
}

func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "framesnap.lock")
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}
