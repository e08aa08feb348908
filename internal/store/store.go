package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Store persists solved trajectories under a base directory, one
// subdirectory per run holding metadata.json and trajectory.csv.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
	Dt        float64   `json:"dt"`
	Horizon   int       `json:"horizon"`
	Iters     int       `json:"iters"`
	Converged bool      `json:"converged"`
	Cost      float64   `json:"cost"`
}

func (s *Store) Save(traj *Trajectory) (string, error) {
	runID := fmt.Sprintf("%s_%d", traj.Model, time.Now().UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:        runID,
		Model:     traj.Model,
		Timestamp: time.Now(),
		Dt:        traj.Dt,
		Horizon:   traj.Horizon,
		Iters:     traj.Iters,
		Converged: traj.Converged,
		Cost:      traj.Cost,
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "trajectory.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	if len(traj.States) == 0 {
		return runID, nil
	}

	header := []string{"time"}
	for i := range traj.States[0] {
		header = append(header, fmt.Sprintf("x%d", i))
	}
	numControls := 0
	if len(traj.Controls) > 0 {
		numControls = len(traj.Controls[0])
		for i := 0; i < numControls; i++ {
			header = append(header, fmt.Sprintf("u%d", i))
		}
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for i := range traj.States {
		row := []string{strconv.FormatFloat(traj.Times[i], 'f', 6, 64)}
		for _, val := range traj.States[i] {
			row = append(row, strconv.FormatFloat(val, 'f', 6, 64))
		}
		if i < len(traj.Controls) {
			for _, val := range traj.Controls[i] {
				row = append(row, strconv.FormatFloat(val, 'f', 6, 64))
			}
		} else {
			for j := 0; j < numControls; j++ {
				row = append(row, "0")
			}
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	return runID, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadTrajectory reads the per-step states and controls back from a run's
// CSV. The column split between states and controls comes from the header.
func (s *Store) LoadTrajectory(runID string) (states, controls [][]float64, err error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, "trajectory.csv"))
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) < 1 {
		return nil, nil, fmt.Errorf("run %s: empty trajectory", runID)
	}

	header := records[0]
	numStates := 0
	for _, col := range header[1:] {
		if len(col) > 0 && col[0] == 'x' {
			numStates++
		}
	}
	numControls := len(header) - 1 - numStates

	for _, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, nil, fmt.Errorf("run %s: ragged csv row", runID)
		}
		st := make([]float64, numStates)
		for i := 0; i < numStates; i++ {
			st[i], err = strconv.ParseFloat(rec[1+i], 64)
			if err != nil {
				return nil, nil, err
			}
		}
		states = append(states, st)

		ct := make([]float64, numControls)
		for i := 0; i < numControls; i++ {
			ct[i], err = strconv.ParseFloat(rec[1+numStates+i], 64)
			if err != nil {
				return nil, nil, err
			}
		}
		controls = append(controls, ct)
	}
	return states, controls, nil
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var runs []RunMetadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.Load(e.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}
