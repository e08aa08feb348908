package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const (
	replayWidth  = 70
	replayHeight = 20
)

type frameMsg time.Time

// ReplayModel animates a solved trajectory, one planned step per frame.
type ReplayModel struct {
	name     string
	dt       float64
	states   [][]float64
	controls [][]float64

	frame   int
	playing bool
	canvas  *canvas
	trail   []struct{ x, y int }
}

func NewReplayModel(name string, dt float64, states, controls [][]float64) ReplayModel {
	return ReplayModel{
		name:     name,
		dt:       dt,
		states:   states,
		controls: controls,
		playing:  true,
		canvas:   newCanvas(replayWidth, replayHeight),
		trail:    make([]struct{ x, y int }, 0, 50),
	}
}

func (m ReplayModel) Init() tea.Cmd { return frameTick() }

func frameTick() tea.Cmd {
	return tea.Tick(time.Second/20, func(t time.Time) tea.Msg { return frameMsg(t) })
}

func (m ReplayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ":
			m.playing = !m.playing
		case "r":
			m.frame = 0
			m.trail = m.trail[:0]
		case "[":
			m.scrub(-1)
		case "]":
			m.scrub(1)
		}
	case frameMsg:
		if m.playing && m.frame < len(m.states)-1 {
			m.frame++
		}
		return m, frameTick()
	}
	return m, nil
}

func (m *ReplayModel) scrub(dir int) {
	m.playing = false
	m.frame += dir
	if m.frame < 0 {
		m.frame = 0
	}
	if m.frame >= len(m.states) {
		m.frame = len(m.states) - 1
	}
}

func (m ReplayModel) View() string {
	m.canvas.clear()
	x := m.states[m.frame]

	switch m.name {
	case "pendulum":
		m.drawPendulum(x)
	case "cartpole":
		m.drawCartpole(x)
	default:
		m.drawGeneric(x)
	}

	var b strings.Builder
	t := float64(m.frame) * m.dt
	status := "PLAYING"
	if !m.playing {
		status = "PAUSED"
	}
	b.WriteString(fmt.Sprintf("  %s  t=%.2fs  step %d/%d  [%s]\n",
		m.name, t, m.frame, len(m.states)-1, status))
	b.WriteString("  " + strings.Repeat("-", replayWidth) + "\n")

	for _, row := range m.canvas.grid {
		b.WriteString("  ")
		b.WriteString(string(row))
		b.WriteString("\n")
	}

	b.WriteString("  " + strings.Repeat("-", replayWidth) + "\n  ")
	for i, v := range x {
		if i >= 4 {
			break
		}
		b.WriteString(fmt.Sprintf("x%d=%.2f ", i, v))
	}
	if m.frame < len(m.controls) {
		for i, v := range m.controls[m.frame] {
			if i >= 2 {
				break
			}
			b.WriteString(fmt.Sprintf("u%d=%.2f ", i, v))
		}
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("  space: pause  [ ]: scrub  r: restart  q: quit"))
	return b.String()
}

// drawPendulum renders theta measured from hanging-down, so theta = pi
// points up.
func (m ReplayModel) drawPendulum(x []float64) {
	if len(x) < 2 {
		return
	}
	theta := x[0]
	px, py := replayWidth/2, replayHeight/2
	length := 8.0
	bx := px + int(length*math.Sin(theta))
	by := py + int(length*math.Cos(theta))

	m.canvas.set(px, py, '+')
	m.canvas.line(px, py, bx, by, '|')
	m.canvas.set(bx, by, 'O')
}

// drawCartpole renders theta measured from upright.
func (m ReplayModel) drawCartpole(x []float64) {
	if len(x) < 4 {
		return
	}
	pos, theta := x[0], x[2]
	gy := replayHeight - 4
	cx := replayWidth/2 + int(pos*8)

	for i := 5; i < replayWidth-5; i++ {
		m.canvas.set(i, gy+1, '=')
	}
	for dx := -3; dx <= 3; dx++ {
		m.canvas.set(cx+dx, gy, '#')
	}

	plen := 8.0
	px := cx + int(plen*math.Sin(theta))
	py := gy - int(plen*math.Cos(theta))
	m.canvas.line(cx, gy-1, px, py, '|')
	m.canvas.set(px, py, 'o')
}

func (m ReplayModel) drawGeneric(x []float64) {
	cy := replayHeight / 2
	for i := 5; i < replayWidth-5; i++ {
		m.canvas.set(i, cy, '-')
	}
	if len(x) == 0 {
		return
	}

	bw := (replayWidth - 15) / len(x)
	if bw < 3 {
		bw = 3
	}
	maxVal := 1.0
	for _, v := range x {
		if math.Abs(v) > maxVal {
			maxVal = math.Abs(v)
		}
	}

	for i, v := range x {
		bx := 8 + i*bw
		bh := int((v / maxVal) * float64(replayHeight/3))
		if bh > 0 {
			for y := cy - 1; y >= cy-bh && y >= 1; y-- {
				m.canvas.set(bx, y, '#')
			}
		} else {
			for y := cy + 1; y <= cy-bh && y < replayHeight-1; y++ {
				m.canvas.set(bx, y, '#')
			}
		}
	}
}

// RunReplay plays back a solved trajectory until the user quits.
func RunReplay(name string, dt float64, states, controls [][]float64) error {
	if len(states) == 0 {
		return fmt.Errorf("empty trajectory")
	}
	p := tea.NewProgram(NewReplayModel(name, dt, states, controls))
	_, err := p.Run()
	return err
}
