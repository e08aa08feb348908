package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDt      = 0.05
	DefaultHorizon = 30
	DefaultIters   = 10
	DefaultEps     = 1e-7
)

type Config struct {
	Model   string  `yaml:"model"`
	Dt      float64 `yaml:"dt"`
	Horizon int     `yaml:"horizon"`
	Iters   int     `yaml:"iters"`
	Eps     float64 `yaml:"eps"`

	InitState []float64   `yaml:"init_state"`
	Goal      GoalConfig  `yaml:"goal"`
	Bounds    BoundConfig `yaml:"bounds"`

	SlewPenalty       float64 `yaml:"slew_penalty"`
	LinesearchDecay   float64 `yaml:"linesearch_decay"`
	MaxLinesearchIter int     `yaml:"max_linesearch_iter"`
	ExitUnconverged   bool    `yaml:"exit_unconverged"`
}

type GoalConfig struct {
	State         []float64 `yaml:"state"`
	StateWeight   float64   `yaml:"state_weight"`
	ControlWeight float64   `yaml:"control_weight"`
}

type BoundConfig struct {
	Enabled bool    `yaml:"enabled"`
	Limit   float64 `yaml:"limit"`
}

func DefaultConfig() *Config {
	return &Config{
		Model:   "pendulum",
		Dt:      DefaultDt,
		Horizon: DefaultHorizon,
		Iters:   DefaultIters,
		Eps:     DefaultEps,
		Goal: GoalConfig{
			StateWeight:   1.0,
			ControlWeight: 0.001,
		},
		Bounds: BoundConfig{
			Enabled: true,
			Limit:   5.0,
		},
		LinesearchDecay:   0.2,
		MaxLinesearchIter: 10,
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
