package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// config drives one benchmark run. Values come from defaults, then an
// optional YAML file, then explicitly set flags.
type config struct {
	Shards   int           `koanf:"shards"`
	TTL      time.Duration `koanf:"ttl"`
	MaxWait  time.Duration `koanf:"max_wait"`
	Workers  int           `koanf:"workers"`
	Duration time.Duration `koanf:"duration"`
	Keys     int           `koanf:"keys"`
	ZipfS    float64       `koanf:"zipf_s"`
	ZipfV    float64       `koanf:"zipf_v"`
	Seed     int64         `koanf:"seed"`
	// RemovePct is the percentage of operations that Remove instead of Compute.
	RemovePct int `koanf:"remove_pct"`
	// Latency is the simulated cost of one computation.
	Latency time.Duration `koanf:"latency"`
	// FailPct is the percentage of computations that return an error.
	FailPct int `koanf:"fail_pct"`

	Metrics string `koanf:"metrics"`
	Pprof   string `koanf:"pprof"`
	Debug   bool   `koanf:"debug"`
}

func defaultConfig() config {
	return config{
		TTL:      time.Second,
		Workers:  2 * runtime.GOMAXPROCS(0),
		Duration: 10 * time.Second,
		Keys:     100_000,
		ZipfS:    1.1,
		ZipfV:    1.0,
		Seed:     time.Now().UnixNano(),
		Latency:  time.Millisecond,
		Metrics:  ":8080",
	}
}

// loadConfigFile overlays the YAML file at path onto cfg.
func loadConfigFile(path string, cfg *config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func (c config) validate() error {
	var errs []error
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be > 0"))
	}
	if c.Keys <= 0 {
		errs = append(errs, errors.New("keys must be > 0"))
	}
	if c.ZipfS <= 1 {
		errs = append(errs, errors.New("zipf_s must be > 1"))
	}
	if c.ZipfV < 1 {
		errs = append(errs, errors.New("zipf_v must be >= 1"))
	}
	if c.Duration <= 0 {
		errs = append(errs, errors.New("duration must be > 0"))
	}
	for name, pct := range map[string]int{"remove_pct": c.RemovePct, "fail_pct": c.FailPct} {
		if pct < 0 || pct > 100 {
			errs = append(errs, fmt.Errorf("%s must be in [0,100], got %d", name, pct))
		}
	}
	return errors.Join(errs...)
}
