// Package config loads service and engine tuning configuration from a YAML
// file with environment overrides. Engine weights were historically mutable
// process globals tuned by hand; they are an explicit object here so runs are
// reproducible and weight sets comparable.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfig marks fatal configuration errors. A run must abort before any
// commitment when the engine configuration is invalid.
var ErrConfig = errors.New("invalid configuration")

// Weights are the tunable soft-objective coefficients of the scorer.
type Weights struct {
	Region   float64 `yaml:"region"`
	Distance float64 `yaml:"distance"`
	Fairness float64 `yaml:"fairness"`
	IdleGap  float64 `yaml:"idleGap"`

	RegionRankK        float64 `yaml:"regionRankK"`        // region contribution = K / rank
	PreferredAreaBonus float64 `yaml:"preferredAreaBonus"` // flat bonus when area matched without a rank
	EarlyMorningBonus  float64 `yaml:"earlyMorningBonus"`  // scaled by (5 - reliability tier)
}

// Engine groups everything the assignment engine needs per run. Hard/soft
// policy knobs live here rather than in code so the long-distance and
// region-avoidance policies stay tunable.
type Engine struct {
	Weights Weights `yaml:"weights"`

	TransitionBufferMin int     `yaml:"transitionBufferMin"` // slack between dropoff and next pickup
	EarlyMorningCutoff  string  `yaml:"earlyMorningCutoff"`  // HH:MM
	LongDistanceKm      float64 `yaml:"longDistanceKm"`
	LongDistancePenalty float64 `yaml:"longDistancePenalty"` // soft penalty past threshold when capability present
	IdleGapMin          int     `yaml:"idleGapMin"`          // minimum idle window worth filling, minutes
	IdleGapNearMin      int     `yaml:"idleGapNearMin"`      // "gap ends near pickup" tolerance, minutes
	RebalanceTolerance  float64 `yaml:"rebalanceTolerance"`  // pass-2 accepts delta >= -tolerance
	SpeedKph            float64 `yaml:"speedKph"`            // distance -> travel time conversion

	// DenseCoreRegions names the metro-core region(s) honored by the
	// avoid-dense-core driver flag.
	DenseCoreRegions []string `yaml:"denseCoreRegions"`

	DefaultMaxOrders int `yaml:"defaultMaxOrders"`
}

type Geocoder struct {
	BaseURL   string        `yaml:"baseUrl"`
	MinSpacing time.Duration `yaml:"minSpacing"` // lower bound between external calls
	Timeout    time.Duration `yaml:"timeout"`
}

type Batch struct {
	ChunkSize  int           `yaml:"chunkSize"`
	ChunkPause time.Duration `yaml:"chunkPause"`
}

type Config struct {
	Engine   Engine   `yaml:"engine"`
	Geocoder Geocoder `yaml:"geocoder"`
	Batch    Batch    `yaml:"batch"`
}

// Default returns the operationally tuned defaults.
func Default() Config {
	return Config{
		Engine: Engine{
			Weights: Weights{
				Region:             150,
				Distance:           250,
				Fairness:           100,
				IdleGap:            50,
				RegionRankK:        100,
				PreferredAreaBonus: 20,
				EarlyMorningBonus:  10,
			},
			TransitionBufferMin: 45,
			EarlyMorningCutoff:  "07:00",
			LongDistanceKm:      25,
			LongDistancePenalty: 500,
			IdleGapMin:          120,
			IdleGapNearMin:      60,
			RebalanceTolerance:  0,
			SpeedKph:            40,
			DenseCoreRegions:    []string{"Washington", "DC"},
			DefaultMaxOrders:    5,
		},
		Geocoder: Geocoder{
			BaseURL:    "https://nominatim.openstreetmap.org/search",
			MinSpacing: time.Second,
			Timeout:    5 * time.Second,
		},
		Batch: Batch{ChunkSize: 25, ChunkPause: 200 * time.Millisecond},
	}
}

// Load reads the YAML file at path over the defaults, then applies env
// overrides. An empty path skips the file (defaults + env only).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GEOCODER_URL"); v != "" {
		cfg.Geocoder.BaseURL = v
	}
	if v := os.Getenv("LONG_DISTANCE_KM"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Engine.LongDistanceKm = f
		}
	}
	if v := os.Getenv("TRANSITION_BUFFER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Engine.TransitionBufferMin = n
		}
	}
}

// Validate rejects missing or negative tuning values. Configuration errors
// are fatal: the engine must not commit anything under a broken weight set.
func (c Config) Validate() error {
	w := c.Engine.Weights
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"weights.region", w.Region},
		{"weights.distance", w.Distance},
		{"weights.fairness", w.Fairness},
		{"weights.idleGap", w.IdleGap},
	} {
		if f.val < 0 {
			return fmt.Errorf("%w: %s must be >= 0, got %v", ErrConfig, f.name, f.val)
		}
	}
	if w.RegionRankK <= 0 {
		return fmt.Errorf("%w: weights.regionRankK must be > 0", ErrConfig)
	}
	if w.Region == 0 && w.Distance == 0 && w.Fairness == 0 && w.IdleGap == 0 {
		return fmt.Errorf("%w: all scorer weights are zero", ErrConfig)
	}
	if c.Engine.TransitionBufferMin < 0 {
		return fmt.Errorf("%w: transitionBufferMin must be >= 0", ErrConfig)
	}
	if c.Engine.LongDistanceKm <= 0 {
		return fmt.Errorf("%w: longDistanceKm must be > 0", ErrConfig)
	}
	if c.Engine.SpeedKph <= 0 {
		return fmt.Errorf("%w: speedKph must be > 0", ErrConfig)
	}
	if c.Engine.DefaultMaxOrders <= 0 {
		return fmt.Errorf("%w: defaultMaxOrders must be > 0", ErrConfig)
	}
	if _, err := time.Parse("15:04", c.Engine.EarlyMorningCutoff); err != nil {
		return fmt.Errorf("%w: earlyMorningCutoff must be HH:MM", ErrConfig)
	}
	if c.Batch.ChunkSize <= 0 {
		return fmt.Errorf("%w: batch.chunkSize must be > 0", ErrConfig)
	}
	return nil
}
