// Package config loads the YAML run file shared by the server and replay
// tools.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	TopologyBounded  = "bounded"
	TopologyInfinite = "infinite"

	ModeSync  = "sync"
	ModeAsync = "async"

	BackendCPU = "cpu"
	BackendGPU = "gpu"
)

type Config struct {
	Rule            string `yaml:"rule"`
	Topology        string `yaml:"topology"`
	Width           int    `yaml:"width"`
	Height          int    `yaml:"height"`
	ChunkExp        uint   `yaml:"chunk_exp"`
	Mode            string `yaml:"mode"`
	Backend         string `yaml:"backend"`
	CheckpointEvery uint64 `yaml:"checkpoint_every"`

	Pattern     string `yaml:"pattern,omitempty"`
	PatternText string `yaml:"pattern_text,omitempty"`
	PatternX    int64  `yaml:"pattern_x"`
	PatternY    int64  `yaml:"pattern_y"`
	Snapshot    string `yaml:"snapshot,omitempty"`

	Generations    uint64         `yaml:"generations"`
	DataDir        string         `yaml:"data_dir"`
	Observer       ObserverConfig `yaml:"observer"`
	LogGenerations bool           `yaml:"log_generations"`
	Index          bool           `yaml:"index"`
}

type ObserverConfig struct {
	Addr string `yaml:"addr"`
	// PollMS is how often observer streams look for new generations.
	PollMS int `yaml:"poll_ms"`
}

// Load reads path. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	name := filepath.Base(path)
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", name, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", name, err)
	}
	// Pattern and snapshot paths are relative to the config file.
	dir := filepath.Dir(path)
	cfg.Pattern = resolve(dir, cfg.Pattern)
	cfg.Snapshot = resolve(dir, cfg.Snapshot)
	return cfg, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Defaults is a 64x64 bounded Game of Life run on the synchronous simulator.
func Defaults() Config {
	return Config{
		Rule:            "life",
		Topology:        TopologyBounded,
		Width:           64,
		Height:          64,
		ChunkExp:        4,
		Mode:            ModeSync,
		Backend:         BackendCPU,
		CheckpointEvery: 32,
		DataDir:         "./data",
		Observer:        ObserverConfig{Addr: ":8080", PollMS: 100},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Rule = strings.ToLower(strings.TrimSpace(c.Rule))
	c.Topology = strings.ToLower(strings.TrimSpace(c.Topology))
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Topology == "" {
		c.Topology = TopologyBounded
	}
	if c.Mode == "" {
		c.Mode = ModeSync
	}
	if c.Backend == "" {
		c.Backend = BackendCPU
	}
	if c.Topology == TopologyInfinite {
		c.Width, c.Height = 0, 0
		if c.ChunkExp == 0 {
			c.ChunkExp = 4
		}
	}
	if c.Observer.PollMS <= 0 {
		c.Observer.PollMS = 100
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if c.Rule == "" {
		return fmt.Errorf("rule must not be empty")
	}
	switch c.Topology {
	case TopologyBounded:
		if c.Width <= 0 || c.Height <= 0 {
			return fmt.Errorf("bounded topology needs width and height > 0")
		}
	case TopologyInfinite:
		if c.ChunkExp < 1 || c.ChunkExp > 12 {
			return fmt.Errorf("chunk_exp must be in [1, 12]")
		}
	default:
		return fmt.Errorf("unknown topology %q", c.Topology)
	}
	if c.Mode != ModeSync && c.Mode != ModeAsync {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Backend != BackendCPU && c.Backend != BackendGPU {
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	n := 0
	for _, s := range []string{c.Pattern, c.PatternText, c.Snapshot} {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	if n > 1 {
		return fmt.Errorf("pattern, pattern_text and snapshot are mutually exclusive")
	}
	if (c.LogGenerations || c.Index) && strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required for log_generations and index")
	}
	return nil
}
