package store

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func sampleTrajectory() *Trajectory {
	x := [][][]float64{
		{{1.0, 0.0}},
		{{0.9, -0.1}},
		{{0.7, -0.2}},
	}
	u := [][][]float64{
		{{0.5}},
		{{-0.3}},
	}
	return NewTrajectory("pendulum", 0.05, x, u, 0, 1.25, 4, true)
}

func TestNewTrajectoryShapes(t *testing.T) {
	traj := sampleTrajectory()

	if traj.Horizon != 2 {
		t.Errorf("horizon = %d, want 2", traj.Horizon)
	}
	if len(traj.States) != 3 || len(traj.Controls) != 2 {
		t.Errorf("got %d states, %d controls", len(traj.States), len(traj.Controls))
	}
	if math.Abs(traj.Times[2]-0.10) > 1e-12 {
		t.Errorf("times[2] = %f, want 0.10", traj.Times[2])
	}
}

func TestStoreSaveLoad(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runID, err := st.Save(sampleTrajectory())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if runID == "" {
		t.Error("expected non-empty run id")
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Model != "pendulum" || meta.Horizon != 2 || !meta.Converged {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if math.Abs(meta.Cost-1.25) > 1e-12 {
		t.Errorf("cost = %f, want 1.25", meta.Cost)
	}
}

func TestStoreLoadTrajectory(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runID, err := st.Save(sampleTrajectory())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	states, controls, err := st.LoadTrajectory(runID)
	if err != nil {
		t.Fatalf("load trajectory failed: %v", err)
	}
	if len(states) != 3 || len(states[0]) != 2 {
		t.Fatalf("got %d states of dim %d", len(states), len(states[0]))
	}
	if math.Abs(states[1][1]-(-0.1)) > 1e-6 {
		t.Errorf("states[1][1] = %f, want -0.1", states[1][1])
	}
	if len(controls) != 3 || len(controls[0]) != 1 {
		t.Fatalf("got %d control rows of dim %d", len(controls), len(controls[0]))
	}
	if math.Abs(controls[0][0]-0.5) > 1e-6 {
		t.Errorf("controls[0][0] = %f, want 0.5", controls[0][0])
	}
	// Rows past the horizon are zero-padded.
	if controls[2][0] != 0 {
		t.Errorf("controls[2][0] = %f, want 0", controls[2][0])
	}
}

func TestStoreList(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	if _, err := st.Save(sampleTrajectory()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := st.Save(sampleTrajectory()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}

func TestStoreListEmptyDir(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "missing"))
	runs, err := st.List()
	if err != nil {
		t.Fatalf("list on missing dir: %v", err)
	}
	if runs != nil {
		t.Errorf("expected nil runs, got %v", runs)
	}
}

func TestExportJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traj.json")
	if err := ExportJSON(path, sampleTrajectory()); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var got Trajectory
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.Model != "pendulum" || got.Horizon != 2 || len(got.States) != 3 {
		t.Errorf("round trip lost fields: %+v", got)
	}
}
