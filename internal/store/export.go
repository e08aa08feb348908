package store

import (
	"encoding/json"
	"os"
)

// Trajectory is the serialized form of a solved control problem.
type Trajectory struct {
	Model     string      `json:"model"`
	Dt        float64     `json:"dt"`
	Horizon   int         `json:"horizon"`
	Iters     int         `json:"iters"`
	Converged bool        `json:"converged"`
	Cost      float64     `json:"cost"`
	Times     []float64   `json:"times"`
	States    [][]float64 `json:"states"`
	Controls  [][]float64 `json:"controls"`
}

// NewTrajectory builds the export record from time-major solver output,
// taking batch element b.
func NewTrajectory(model string, dt float64, x, u [][][]float64, b int, cost float64, iters int, converged bool) *Trajectory {
	traj := &Trajectory{
		Model:     model,
		Dt:        dt,
		Horizon:   len(u),
		Iters:     iters,
		Converged: converged,
		Cost:      cost,
		Times:     make([]float64, len(x)),
		States:    make([][]float64, len(x)),
		Controls:  make([][]float64, len(u)),
	}
	for t := range x {
		traj.Times[t] = float64(t) * dt
		traj.States[t] = append([]float64(nil), x[t][b]...)
	}
	for t := range u {
		traj.Controls[t] = append([]float64(nil), u[t][b]...)
	}
	return traj
}

func ExportJSON(path string, traj *Trajectory) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(traj)
}

func ExportJSONStdout(traj *Trajectory) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(traj)
}
