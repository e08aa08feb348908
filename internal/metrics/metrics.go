// Package metrics scores solved trajectories. Each Metric observes the
// per-step states and controls of a plan and reduces them to one number.
package metrics

import "math"

type Metric interface {
	Name() string
	Observe(x, u []float64)
	Value() float64
	Reset()
}

// Evaluate runs every metric over the trajectory. Controls may be one entry
// shorter than states; the final state is observed with a nil control.
func Evaluate(ms []Metric, states, controls [][]float64) map[string]float64 {
	for _, m := range ms {
		m.Reset()
	}
	for i, x := range states {
		var u []float64
		if i < len(controls) {
			u = controls[i]
		}
		for _, m := range ms {
			m.Observe(x, u)
		}
	}
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}

// ControlEffort is the mean absolute control magnitude over the plan.
type ControlEffort struct {
	sum     float64
	samples int
}

func NewControlEffort() *ControlEffort { return &ControlEffort{} }

func (c *ControlEffort) Name() string { return "control_effort" }

func (c *ControlEffort) Observe(x, u []float64) {
	if len(u) == 0 {
		return
	}
	for _, val := range u {
		c.sum += math.Abs(val)
	}
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.samples = 0
}

// GoalError is the Euclidean distance from the final state to the goal.
type GoalError struct {
	goal []float64
	last []float64
}

func NewGoalError(goal []float64) *GoalError {
	return &GoalError{goal: goal}
}

func (g *GoalError) Name() string { return "goal_error" }

func (g *GoalError) Observe(x, u []float64) { g.last = x }

func (g *GoalError) Value() float64 {
	if g.last == nil {
		return 0
	}
	sum := 0.0
	for i, v := range g.last {
		d := v
		if i < len(g.goal) {
			d -= g.goal[i]
		}
		sum += d * d
	}
	return math.Sqrt(sum)
}

func (g *GoalError) Reset() { g.last = nil }

// Smoothness is the mean absolute control change between consecutive steps.
type Smoothness struct {
	prev    []float64
	sum     float64
	samples int
}

func NewSmoothness() *Smoothness { return &Smoothness{} }

func (s *Smoothness) Name() string { return "smoothness" }

func (s *Smoothness) Observe(x, u []float64) {
	if len(u) == 0 {
		return
	}
	if s.prev != nil {
		for i := range u {
			s.sum += math.Abs(u[i] - s.prev[i])
		}
		s.samples++
	}
	s.prev = append(s.prev[:0], u...)
}

func (s *Smoothness) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return s.sum / float64(s.samples)
}

func (s *Smoothness) Reset() {
	s.prev = nil
	s.sum = 0
	s.samples = 0
}

// Saturation is the fraction of steps with any control at or beyond the
// given bound.
type Saturation struct {
	bound      float64
	violations int
	samples    int
}

func NewSaturation(bound float64) *Saturation {
	return &Saturation{bound: bound}
}

func (s *Saturation) Name() string { return "saturation" }

func (s *Saturation) Observe(x, u []float64) {
	if len(u) == 0 {
		return
	}
	s.samples++
	for _, val := range u {
		if math.Abs(val) >= s.bound-1e-9 {
			s.violations++
			break
		}
	}
}

func (s *Saturation) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.violations) / float64(s.samples)
}

func (s *Saturation) Reset() {
	s.violations = 0
	s.samples = 0
}
