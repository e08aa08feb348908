package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/ilqr/internal/solver"
)

var (
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	graphStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type iterMsg solver.Iteration

type doneMsg struct {
	res *solver.Result
	err error
}

type spinMsg time.Time

// SolveFunc runs the optimization, reporting each outer iteration through
// onIter. The viewer passes it as the solve's OnIteration hook.
type SolveFunc func(onIter func(solver.Iteration)) (*solver.Result, error)

// SolveModel displays optimizer progress live while the solve runs in the
// background.
type SolveModel struct {
	name  string
	solve SolveFunc

	iterCh chan solver.Iteration
	doneCh chan doneMsg

	costs   []float64
	duNorms []float64
	last    solver.Iteration
	started bool

	done   bool
	result *solver.Result
	err    error
	frame  int
}

func NewSolveModel(name string, solve SolveFunc) SolveModel {
	return SolveModel{
		name:   name,
		solve:  solve,
		iterCh: make(chan solver.Iteration, 16),
		doneCh: make(chan doneMsg, 1),
	}
}

// Result returns the finished solve, valid once the program has quit.
func (m SolveModel) Result() (*solver.Result, error) { return m.result, m.err }

func (m SolveModel) Init() tea.Cmd {
	return tea.Batch(m.start(), m.listen(), spinTick())
}

func (m SolveModel) start() tea.Cmd {
	iterCh, doneCh, solve := m.iterCh, m.doneCh, m.solve
	return func() tea.Msg {
		res, err := solve(func(it solver.Iteration) {
			iterCh <- it
		})
		doneCh <- doneMsg{res: res, err: err}
		return nil
	}
}

// listen forwards the next solver event, draining pending iterations before
// reporting completion.
func (m SolveModel) listen() tea.Cmd {
	iterCh, doneCh := m.iterCh, m.doneCh
	return func() tea.Msg {
		select {
		case it := <-iterCh:
			return iterMsg(it)
		case d := <-doneCh:
			select {
			case it := <-iterCh:
				doneCh <- d
				return iterMsg(it)
			default:
			}
			return d
		}
	}
}

func spinTick() tea.Cmd {
	return tea.Tick(time.Second/10, func(t time.Time) tea.Msg { return spinMsg(t) })
}

func (m SolveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			if m.done {
				return m, tea.Quit
			}
		}
	case iterMsg:
		m.started = true
		m.last = solver.Iteration(msg)
		m.costs = append(m.costs, m.last.MeanCost)
		m.duNorms = append(m.duNorms, maxFloat(m.last.FullDuNorm))
		return m, m.listen()
	case doneMsg:
		m.done = true
		m.result = msg.res
		m.err = msg.err
		return m, nil
	case spinMsg:
		if m.done {
			return m, nil
		}
		m.frame++
		return m, spinTick()
	}
	return m, nil
}

func (m SolveModel) View() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render(strings.ToUpper(m.name)) + "\n")

	if len(m.costs) > 1 {
		chart := asciigraph.Plot(m.costs,
			asciigraph.Height(10),
			asciigraph.Width(60),
			asciigraph.Caption("mean cost"))
		s.WriteString(graphStyle.Render(chart) + "\n\n")
	}

	s.WriteString(m.statusLine() + "\n\n")

	if m.started {
		rows := [][2]string{
			{"iteration", fmt.Sprintf("%d", m.last.Iter+1)},
			{"mean cost", fmt.Sprintf("%.6g", m.last.MeanCost)},
			{"||du||", fmt.Sprintf("%.3g", maxFloat(m.last.FullDuNorm))},
			{"qp iters", fmt.Sprintf("%d", m.last.QPIters)},
			{"ls iters", fmt.Sprintf("%d", m.last.LSIters)},
		}
		for _, row := range rows {
			s.WriteString(labelStyle.Render(row[0]) + valueStyle.Render(row[1]) + "\n")
		}
	}

	s.WriteString(helpStyle.Render("q: quit"))
	return s.String()
}

func (m SolveModel) statusLine() string {
	switch {
	case !m.done:
		return runningStyle.Render(spinnerFrames[m.frame%len(spinnerFrames)] + " SOLVING")
	case m.err != nil:
		return failStyle.Render("✗ " + m.err.Error())
	case allTrue(m.result.Converged):
		return okStyle.Render(fmt.Sprintf("✓ CONVERGED in %d iterations", m.result.Iters))
	default:
		return failStyle.Render(fmt.Sprintf("✗ NOT CONVERGED after %d iterations", m.result.Iters))
	}
}

// RunSolve drives a full-screen live view of the solve and returns its
// outcome.
func RunSolve(name string, solve SolveFunc) (*solver.Result, error) {
	p := tea.NewProgram(NewSolveModel(name, solve))
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	m, ok := final.(SolveModel)
	if !ok {
		return nil, fmt.Errorf("unexpected model type %T", final)
	}
	return m.Result()
}

func maxFloat(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	out := v[0]
	for _, x := range v[1:] {
		if x > out {
			out = x
		}
	}
	return out
}

func allTrue(v []bool) bool {
	for _, b := range v {
		if !b {
			return false
		}
	}
	return true
}
