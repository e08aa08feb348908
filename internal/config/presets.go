package config

import "math"

var Presets = map[string]map[string]*Config{
	"pendulum": {
		"swingup": {
			Model: "pendulum", Dt: 0.05, Horizon: 40, Iters: 20, Eps: DefaultEps,
			InitState: []float64{0, 0},
			Goal:      GoalConfig{State: []float64{math.Pi, 0}, StateWeight: 1.0, ControlWeight: 0.001},
			Bounds:    BoundConfig{Enabled: true, Limit: 4.0},
		},
		"stabilize": {
			Model: "pendulum", Dt: 0.05, Horizon: 25, Iters: 10, Eps: DefaultEps,
			InitState: []float64{math.Pi - 0.3, 0},
			Goal:      GoalConfig{State: []float64{math.Pi, 0}, StateWeight: 1.0, ControlWeight: 0.01},
			Bounds:    BoundConfig{Enabled: true, Limit: 2.0},
		},
		"smooth": {
			Model: "pendulum", Dt: 0.05, Horizon: 40, Iters: 20, Eps: DefaultEps,
			InitState:   []float64{0, 0},
			Goal:        GoalConfig{State: []float64{math.Pi, 0}, StateWeight: 1.0, ControlWeight: 0.001},
			Bounds:      BoundConfig{Enabled: true, Limit: 4.0},
			SlewPenalty: 5.0,
		},
	},
	"cartpole": {
		"balance": {
			Model: "cartpole", Dt: 0.02, Horizon: 50, Iters: 15, Eps: DefaultEps,
			InitState: []float64{0, 0, 0.3, 0},
			Goal:      GoalConfig{State: []float64{0, 0, 0, 0}, StateWeight: 1.0, ControlWeight: 0.001},
			Bounds:    BoundConfig{Enabled: true, Limit: 10.0},
		},
		"recover": {
			Model: "cartpole", Dt: 0.02, Horizon: 60, Iters: 25, Eps: DefaultEps,
			InitState: []float64{0, 0, 0.8, 0},
			Goal:      GoalConfig{State: []float64{0, 0, 0, 0}, StateWeight: 1.0, ControlWeight: 0.001},
			Bounds:    BoundConfig{Enabled: true, Limit: 15.0},
		},
	},
	"integrator": {
		"rest": {
			Model: "integrator", Dt: 0.1, Horizon: 30, Iters: 5, Eps: DefaultEps,
			InitState: []float64{1, 0},
			Goal:      GoalConfig{State: []float64{0, 0}, StateWeight: 1.0, ControlWeight: 0.1},
		},
		"capped": {
			Model: "integrator", Dt: 0.1, Horizon: 30, Iters: 10, Eps: DefaultEps,
			InitState: []float64{2, 0},
			Goal:      GoalConfig{State: []float64{0, 0}, StateWeight: 1.0, ControlWeight: 0.1},
			Bounds:    BoundConfig{Enabled: true, Limit: 0.5},
		},
	},
}

func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	return cfg
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	return names
}
