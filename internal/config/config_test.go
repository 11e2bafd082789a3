package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative weight", func(c *Config) { c.Engine.Weights.Distance = -1 }},
		{"all weights zero", func(c *Config) {
			c.Engine.Weights.Region = 0
			c.Engine.Weights.Distance = 0
			c.Engine.Weights.Fairness = 0
			c.Engine.Weights.IdleGap = 0
		}},
		{"zero rank constant", func(c *Config) { c.Engine.Weights.RegionRankK = 0 }},
		{"negative buffer", func(c *Config) { c.Engine.TransitionBufferMin = -5 }},
		{"zero long distance", func(c *Config) { c.Engine.LongDistanceKm = 0 }},
		{"zero speed", func(c *Config) { c.Engine.SpeedKph = 0 }},
		{"zero default cap", func(c *Config) { c.Engine.DefaultMaxOrders = 0 }},
		{"bad cutoff", func(c *Config) { c.Engine.EarlyMorningCutoff = "7am" }},
		{"zero chunk size", func(c *Config) { c.Batch.ChunkSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("error should wrap ErrConfig, got %v", err)
			}
		})
	}
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
engine:
  weights:
    region: 300
  transitionBufferMin: 30
  denseCoreRegions: ["Manhattan"]
geocoder:
  minSpacing: 10ms
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Weights.Region != 300 {
		t.Fatalf("region weight = %v, want 300", cfg.Engine.Weights.Region)
	}
	if cfg.Engine.Weights.Distance != 250 {
		t.Fatalf("untouched weight should keep its default, got %v", cfg.Engine.Weights.Distance)
	}
	if cfg.Engine.TransitionBufferMin != 30 {
		t.Fatalf("transitionBufferMin = %d, want 30", cfg.Engine.TransitionBufferMin)
	}
	if len(cfg.Engine.DenseCoreRegions) != 1 || cfg.Engine.DenseCoreRegions[0] != "Manhattan" {
		t.Fatalf("denseCoreRegions = %v", cfg.Engine.DenseCoreRegions)
	}
	if cfg.Geocoder.MinSpacing != 10*time.Millisecond {
		t.Fatalf("minSpacing = %v", cfg.Geocoder.MinSpacing)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for a missing file, got %v", err)
	}
}

func TestLoadInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  speedKph: -1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEOCODER_URL", "http://geo.internal/search")
	t.Setenv("LONG_DISTANCE_KM", "60")
	t.Setenv("TRANSITION_BUFFER_MIN", "20")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Geocoder.BaseURL != "http://geo.internal/search" {
		t.Fatalf("BaseURL = %q", cfg.Geocoder.BaseURL)
	}
	if cfg.Engine.LongDistanceKm != 60 {
		t.Fatalf("LongDistanceKm = %v", cfg.Engine.LongDistanceKm)
	}
	if cfg.Engine.TransitionBufferMin != 20 {
		t.Fatalf("TransitionBufferMin = %d", cfg.Engine.TransitionBufferMin)
	}
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("LONG_DISTANCE_KM", "not-a-number")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.LongDistanceKm != 25 {
		t.Fatalf("LongDistanceKm = %v, want default 25", cfg.Engine.LongDistanceKm)
	}
}
