package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 8000 {
		t.Errorf("expected 8000, got %d", cfg.HTTPPort)
	}
	if cfg.FrameDir() != filepath.Join("data", "frames") {
		t.Errorf("unexpected frame dir: %s", cfg.FrameDir())
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "framesnap.yaml")
	body := []byte("http_port: 9100\ndata_dir: /srv/frames\nmirror:\n  backend: s3\n  bucket: clips\n")
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("HTTP_PORT", "9200")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 9200 {
		t.Errorf("expected env override 9200, got %d", cfg.HTTPPort)
	}
	if cfg.DataDir != "/srv/frames" {
		t.Errorf("expected /srv/frames, got %s", cfg.DataDir)
	}
	if cfg.Mirror.Bucket != "clips" {
		t.Errorf("expected clips, got %s", cfg.Mirror.Bucket)
	}
	if cfg.Mirror.Prefix != "frames" {
		t.Errorf("expected default prefix to survive, got %s", cfg.Mirror.Prefix)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.HTTPPort = 0 }},
		{"no data dir", func(c *Config) { c.DataDir = "" }},
		{"quality too low", func(c *Config) { c.FrameQuality = 1 }},
		{"bucketless mirror", func(c *Config) { c.Mirror.Backend = "gcs" }},
		{"unknown mirror", func(c *Config) { c.Mirror.Backend = "ftp"; c.Mirror.Bucket = "x" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
