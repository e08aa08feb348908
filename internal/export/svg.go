// Package export renders solved trajectories as standalone SVG documents.
package export

import (
	"fmt"
	"os"
	"strings"
)

type Point struct {
	X, Y float64
}

// TimeSeries extracts (t*dt, states[t][idx]) points from a trajectory.
func TimeSeries(states [][]float64, idx int, dt float64) []Point {
	pts := make([]Point, 0, len(states))
	for t, x := range states {
		if idx < len(x) {
			pts = append(pts, Point{X: float64(t) * dt, Y: x[idx]})
		}
	}
	return pts
}

// Phase extracts (states[t][xIdx], states[t][yIdx]) points.
func Phase(states [][]float64, xIdx, yIdx int) []Point {
	pts := make([]Point, 0, len(states))
	for _, x := range states {
		if xIdx < len(x) && yIdx < len(x) {
			pts = append(pts, Point{X: x[xIdx], Y: x[yIdx]})
		}
	}
	return pts
}

// TrajectoryToSVG plots the points as a single polyline on a dark
// background.
func TrajectoryToSVG(points []Point, width, height int, strokeColor string) string {
	if len(points) < 2 {
		return ""
	}

	minX, maxX := points[0].X, points[0].X
	minY, maxY := points[0].Y, points[0].Y
	for _, p := range points {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minX -= rangeX * 0.1
	maxX += rangeX * 0.1
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeX = maxX - minX
	rangeY = maxY - minY

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<path fill="none" stroke="%s" stroke-width="1.5" d="M`,
		width, height, width, height, strokeColor))

	for i, p := range points {
		x := (p.X - minX) / rangeX * float64(width)
		y := float64(height) - (p.Y-minY)/rangeY*float64(height)

		if i == 0 {
			sb.WriteString(fmt.Sprintf("%.1f,%.1f", x, y))
		} else {
			sb.WriteString(fmt.Sprintf(" L%.1f,%.1f", x, y))
		}
	}

	sb.WriteString(`"/>
</svg>`)
	return sb.String()
}

// WriteSVG renders the points and writes the document to path.
func WriteSVG(path string, points []Point, width, height int, strokeColor string) error {
	svg := TrajectoryToSVG(points, width, height, strokeColor)
	if svg == "" {
		return fmt.Errorf("not enough points to plot")
	}
	return os.WriteFile(path, []byte(svg), 0644)
}
