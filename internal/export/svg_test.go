package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTimeSeries(t *testing.T) {
	states := [][]float64{{1, 10}, {2, 20}, {3, 30}}
	pts := TimeSeries(states, 1, 0.1)

	if len(pts) != 3 {
		t.Fatalf("expected 3 points, got %d", len(pts))
	}
	if pts[2].X != 0.2 || pts[2].Y != 30 {
		t.Errorf("pts[2] = %+v, want {0.2 30}", pts[2])
	}
}

func TestPhase(t *testing.T) {
	states := [][]float64{{1, 10}, {2, 20}}
	pts := Phase(states, 0, 1)

	if len(pts) != 2 {
		t.Fatalf("expected 2 points, got %d", len(pts))
	}
	if pts[1].X != 2 || pts[1].Y != 20 {
		t.Errorf("pts[1] = %+v, want {2 20}", pts[1])
	}
}

func TestTrajectoryToSVG(t *testing.T) {
	pts := []Point{{0, 0}, {1, 1}, {2, 0}}
	svg := TrajectoryToSVG(pts, 200, 100, "#00ff00")

	if !strings.Contains(svg, "<svg") || !strings.Contains(svg, "</svg>") {
		t.Error("output is not an SVG document")
	}
	if !strings.Contains(svg, `stroke="#00ff00"`) {
		t.Error("missing stroke color")
	}
	if !strings.Contains(svg, "<path") {
		t.Error("missing path element")
	}
}

func TestTrajectoryToSVGTooFewPoints(t *testing.T) {
	if svg := TrajectoryToSVG([]Point{{0, 0}}, 200, 100, "#fff"); svg != "" {
		t.Error("expected empty output for a single point")
	}
}

func TestWriteSVG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plot.svg")
	pts := []Point{{0, 0}, {1, 2}}

	if err := WriteSVG(path, pts, 100, 100, "#fff"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.HasPrefix(string(data), "<?xml") {
		t.Error("file does not start with an XML prolog")
	}
}
