package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqr/internal/approx"
	"github.com/san-kum/ilqr/internal/config"
	"github.com/san-kum/ilqr/internal/export"
	"github.com/san-kum/ilqr/internal/linalg"
	"github.com/san-kum/ilqr/internal/lqr"
	"github.com/san-kum/ilqr/internal/metrics"
	"github.com/san-kum/ilqr/internal/models"
	"github.com/san-kum/ilqr/internal/solver"
	"github.com/san-kum/ilqr/internal/store"
	"github.com/san-kum/ilqr/internal/tui"
)

var (
	dataDir    string
	configFile string
	preset     string
	saveRun    bool
	jsonOut    string
	svgOut     string
	verbose    bool

	flagDt        float64
	flagHorizon   int
	flagIters     int
	flagEps       float64
	flagBound     float64
	flagSlew      float64
	flagInit      []float64
	flagGoal      []float64
	flagStateW    float64
	flagCtrlW     float64
	flagGradCheck bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ilqr",
		Short: "box-constrained trajectory optimization",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".ilqr", "data directory")

	solveCmd := &cobra.Command{
		Use:   "solve [model]",
		Short: "solve a trajectory optimization problem",
		Args:  cobra.ExactArgs(1),
		RunE:  runSolve,
	}
	addProblemFlags(solveCmd)
	solveCmd.Flags().BoolVar(&saveRun, "save", false, "save the solved trajectory")
	solveCmd.Flags().StringVar(&jsonOut, "json", "", "write the trajectory as JSON to a file ('-' for stdout)")
	solveCmd.Flags().StringVar(&svgOut, "svg", "", "write a phase-space plot to an SVG file")
	solveCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print per-iteration progress")

	liveCmd := &cobra.Command{
		Use:   "live [model]",
		Short: "solve with a live progress view, then replay the plan",
		Args:  cobra.ExactArgs(1),
		RunE:  runLive,
	}
	addProblemFlags(liveCmd)

	replayCmd := &cobra.Command{
		Use:   "replay [run_id]",
		Short: "animate a saved trajectory",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a saved trajectory",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&svgOut, "svg", "", "write a phase-space plot to an SVG file")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a saved trajectory as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list available presets for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for model: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list available models",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATES\tCONTROLS")
			for _, name := range []string{"pendulum", "cartpole", "integrator"} {
				dyn, _ := buildModel(name, 0.05)
				fmt.Fprintf(w, "%s\t%d\t%d\n", name, dyn.StateDim(), dyn.ControlDim())
			}
			return w.Flush()
		},
	}

	rootCmd.AddCommand(solveCmd, liveCmd, replayCmd, listCmd, plotCmd, exportCmd, presetsCmd, modelsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addProblemFlags(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&flagDt, "dt", config.DefaultDt, "timestep")
	cmd.Flags().IntVar(&flagHorizon, "horizon", config.DefaultHorizon, "planning horizon (steps)")
	cmd.Flags().IntVar(&flagIters, "iters", config.DefaultIters, "max outer iterations")
	cmd.Flags().Float64Var(&flagEps, "eps", config.DefaultEps, "convergence threshold")
	cmd.Flags().Float64Var(&flagBound, "bound", 0, "symmetric control bound (0 = unbounded)")
	cmd.Flags().Float64Var(&flagSlew, "slew", 0, "slew-rate penalty (0 = none)")
	cmd.Flags().Float64SliceVar(&flagInit, "init", nil, "initial state")
	cmd.Flags().Float64SliceVar(&flagGoal, "goal", nil, "goal state")
	cmd.Flags().Float64Var(&flagStateW, "state-weight", 1.0, "goal state weight")
	cmd.Flags().Float64Var(&flagCtrlW, "ctrl-weight", 0.001, "control effort weight")
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use a preset configuration")
	cmd.Flags().BoolVar(&flagGradCheck, "grad-check", false, "check analytic jacobians against finite differences")
}

// resolveConfig merges, in increasing precedence: defaults, preset, config
// file, explicitly set flags.
func resolveConfig(cmd *cobra.Command, model string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.Model = model

	if preset != "" {
		p := config.GetPreset(model, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(model))
		}
		*cfg = *p
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		cfg.Model = model
	}

	if cmd.Flags().Changed("dt") {
		cfg.Dt = flagDt
	}
	if cmd.Flags().Changed("horizon") {
		cfg.Horizon = flagHorizon
	}
	if cmd.Flags().Changed("iters") {
		cfg.Iters = flagIters
	}
	if cmd.Flags().Changed("eps") {
		cfg.Eps = flagEps
	}
	if cmd.Flags().Changed("bound") {
		cfg.Bounds = config.BoundConfig{Enabled: flagBound > 0, Limit: flagBound}
	}
	if cmd.Flags().Changed("slew") {
		cfg.SlewPenalty = flagSlew
	}
	if cmd.Flags().Changed("init") {
		cfg.InitState = flagInit
	}
	if cmd.Flags().Changed("goal") {
		cfg.Goal.State = flagGoal
	}
	if cmd.Flags().Changed("state-weight") {
		cfg.Goal.StateWeight = flagStateW
	}
	if cmd.Flags().Changed("ctrl-weight") {
		cfg.Goal.ControlWeight = flagCtrlW
	}
	return cfg, nil
}

func buildModel(name string, dt float64) (lqr.Dynamics, error) {
	switch name {
	case "pendulum":
		return models.NewPendulum(dt), nil
	case "cartpole":
		return models.NewCartPole(dt), nil
	case "integrator":
		return models.NewDoubleIntegrator(dt), nil
	}
	return nil, fmt.Errorf("unknown model: %s (available: pendulum, cartpole, integrator)", name)
}

// goalCost builds a time-invariant quadratic cost penalizing distance to the
// goal state and control effort.
func goalCost(cfg *config.Config, n, m int) (lqr.CostSpec, error) {
	goal := cfg.Goal.State
	if goal == nil {
		goal = make([]float64, n)
	}
	if len(goal) != n {
		return lqr.CostSpec{}, fmt.Errorf("goal state has %d entries, model has %d states", len(goal), n)
	}

	nTau := n + m
	w := make([]float64, nTau)
	lin := make([]float64, nTau)
	for i := 0; i < n; i++ {
		w[i] = cfg.Goal.StateWeight
		lin[i] = -cfg.Goal.StateWeight * goal[i]
	}
	for i := n; i < nTau; i++ {
		w[i] = cfg.Goal.ControlWeight
	}
	C := linalg.Diag(w)

	quad := &lqr.QuadCost{
		C:   make([][]*mat.Dense, cfg.Horizon),
		Lin: make([][][]float64, cfg.Horizon),
	}
	for t := 0; t < cfg.Horizon; t++ {
		quad.C[t] = []*mat.Dense{C}
		quad.Lin[t] = [][]float64{lin}
	}
	return lqr.CostSpec{Quad: quad}, nil
}

func buildSolver(cfg *config.Config, dyn lqr.Dynamics, log *lqr.Logger, onIter func(solver.Iteration)) (*solver.Solver, error) {
	opts := solver.DefaultOptions(dyn.StateDim(), dyn.ControlDim(), cfg.Horizon)
	// Not every bundled model carries analytic Jacobians; let the
	// approximator pick finite differences where they are missing.
	opts.GradMethod = approx.Auto
	opts.LQRIter = cfg.Iters
	opts.Eps = cfg.Eps
	opts.ExitUnconverged = cfg.ExitUnconverged
	opts.Backprop = false
	opts.SlewRatePenalty = cfg.SlewPenalty
	opts.Log = log
	opts.OnIteration = onIter
	if cfg.LinesearchDecay > 0 {
		opts.LinesearchDecay = cfg.LinesearchDecay
	}
	if cfg.MaxLinesearchIter > 0 {
		opts.MaxLinesearchIter = cfg.MaxLinesearchIter
	}
	if cfg.Bounds.Enabled {
		opts.ULower = solver.ScalarBound(-cfg.Bounds.Limit)
		opts.UUpper = solver.ScalarBound(cfg.Bounds.Limit)
	}
	if flagGradCheck {
		opts.GradMethod = approx.AnalyticCheck
		if log == nil {
			log = &lqr.Logger{Level: lqr.LogWarn, Out: os.Stderr}
			opts.Log = log
		}
	}
	return solver.New(opts)
}

func initialState(cfg *config.Config, n int) ([]lqr.State, error) {
	init := cfg.InitState
	if init == nil {
		init = make([]float64, n)
	}
	if len(init) != n {
		return nil, fmt.Errorf("initial state has %d entries, model has %d states", len(init), n)
	}
	return []lqr.State{lqr.State(init).Clone()}, nil
}

func solveProblem(cfg *config.Config, log *lqr.Logger, onIter func(solver.Iteration)) (*solver.Result, error) {
	dyn, err := buildModel(cfg.Model, cfg.Dt)
	if err != nil {
		return nil, err
	}
	cost, err := goalCost(cfg, dyn.StateDim(), dyn.ControlDim())
	if err != nil {
		return nil, err
	}
	xInit, err := initialState(cfg, dyn.StateDim())
	if err != nil {
		return nil, err
	}
	s, err := buildSolver(cfg, dyn, log, onIter)
	if err != nil {
		return nil, err
	}
	return s.Solve(xInit, cost, lqr.DxSpec{Fn: dyn})
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}

	var log *lqr.Logger
	if verbose {
		log = &lqr.Logger{Level: lqr.LogIter, Out: os.Stderr}
	}

	start := time.Now()
	res, err := solveProblem(cfg, log, nil)
	if err != nil {
		if res == nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	elapsed := time.Since(start)

	printSummary(cfg, res, elapsed)
	states, controls := flatten(res)
	printMetrics(cfg, states, controls)
	plotTrajectory(cfg.Model, states, controls)

	if svgOut != "" {
		if err := writePhaseSVG(svgOut, states); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", svgOut)
	}

	traj := store.NewTrajectory(cfg.Model, cfg.Dt, rawStates(res), rawControls(res), 0,
		res.Costs[0], res.Iters, res.Converged[0])

	if saveRun {
		st := store.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		runID, err := st.Save(traj)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", runID)
	}

	switch jsonOut {
	case "":
	case "-":
		return store.ExportJSONStdout(traj)
	default:
		return store.ExportJSON(jsonOut, traj)
	}
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}

	res, err := tui.RunSolve(cfg.Model, func(onIter func(solver.Iteration)) (*solver.Result, error) {
		return solveProblem(cfg, nil, onIter)
	})
	if err != nil && res == nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("solve aborted")
	}

	states, controls := flatten(res)
	return tui.RunReplay(cfg.Model, cfg.Dt, states, controls)
}

func runReplay(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	states, controls, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}
	return tui.RunReplay(meta.Model, meta.Dt, states, controls)
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tHORIZON\tDT\tITERS\tCOST\tCONVERGED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.4fs\t%d\t%.4f\t%t\n",
			run.ID,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Horizon,
			run.Dt,
			run.Iters,
			run.Cost,
			run.Converged,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	states, controls, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("cost: %.6f\n\n", meta.Cost)
	plotTrajectory(meta.Model, states, controls)

	if svgOut != "" {
		if err := writePhaseSVG(svgOut, states); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", svgOut)
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	states, controls, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}

	traj := &store.Trajectory{
		Model:     meta.Model,
		Dt:        meta.Dt,
		Horizon:   meta.Horizon,
		Iters:     meta.Iters,
		Converged: meta.Converged,
		Cost:      meta.Cost,
		Times:     make([]float64, len(states)),
		States:    states,
		Controls:  controls,
	}
	for i := range traj.Times {
		traj.Times[i] = float64(i) * meta.Dt
	}
	return store.ExportJSONStdout(traj)
}

func printSummary(cfg *config.Config, res *solver.Result, elapsed time.Duration) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "model\t%s\n", cfg.Model)
	fmt.Fprintf(w, "horizon\t%d steps (%.2fs)\n", cfg.Horizon, float64(cfg.Horizon)*cfg.Dt)
	fmt.Fprintf(w, "iterations\t%d\n", res.Iters)
	fmt.Fprintf(w, "cost\t%.6f\n", res.Costs[0])
	fmt.Fprintf(w, "||du||\t%.3g\n", res.FullDuNorm[0])
	fmt.Fprintf(w, "converged\t%t\n", res.Converged[0])
	fmt.Fprintf(w, "elapsed\t%v\n", elapsed)
	w.Flush()
	fmt.Println()
}

func printMetrics(cfg *config.Config, states, controls [][]float64) {
	ms := []metrics.Metric{
		metrics.NewControlEffort(),
		metrics.NewSmoothness(),
	}
	if cfg.Goal.State != nil {
		ms = append(ms, metrics.NewGoalError(cfg.Goal.State))
	}
	if cfg.Bounds.Enabled {
		ms = append(ms, metrics.NewSaturation(cfg.Bounds.Limit))
	}

	vals := metrics.Evaluate(ms, states, controls)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, m := range ms {
		fmt.Fprintf(w, "%s\t%.6f\n", m.Name(), vals[m.Name()])
	}
	w.Flush()
	fmt.Println()
}

// writePhaseSVG plots x1 against x0, falling back to x0 against time for
// one-dimensional states.
func writePhaseSVG(path string, states [][]float64) error {
	if len(states) == 0 {
		return fmt.Errorf("empty trajectory")
	}
	var pts []export.Point
	if len(states[0]) >= 2 {
		pts = export.Phase(states, 0, 1)
	} else {
		pts = export.TimeSeries(states, 0, 1)
	}
	return export.WriteSVG(path, pts, 800, 600, "#00ff88")
}

var stateCaptions = map[string][]string{
	"pendulum":   {"theta (angle)", "omega (angular velocity)"},
	"cartpole":   {"cart position", "cart velocity", "pole angle", "pole angular velocity"},
	"integrator": {"position", "velocity"},
}

func plotTrajectory(model string, states, controls [][]float64) {
	if len(states) == 0 {
		return
	}
	captions := stateCaptions[model]

	numVars := len(states[0])
	if numVars > 6 {
		numVars = 6
	}
	for v := 0; v < numVars; v++ {
		data := make([]float64, len(states))
		for i := range states {
			data[i] = states[i][v]
		}
		caption := fmt.Sprintf("x%d vs time", v)
		if v < len(captions) {
			caption = captions[v]
		}
		fmt.Println(asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(caption),
		))
		fmt.Println()
	}

	if len(controls) > 0 && len(controls[0]) > 0 {
		data := make([]float64, len(controls))
		for i := range controls {
			data[i] = controls[i][0]
		}
		fmt.Println(asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption("control u0"),
		))
		fmt.Println()
	}
}

func flatten(res *solver.Result) (states, controls [][]float64) {
	for _, xt := range res.X {
		states = append(states, append([]float64(nil), xt[0]...))
	}
	for _, ut := range res.U {
		controls = append(controls, append([]float64(nil), ut[0]...))
	}
	return states, controls
}

func rawStates(res *solver.Result) [][][]float64 {
	out := make([][][]float64, len(res.X))
	for t, xt := range res.X {
		out[t] = make([][]float64, len(xt))
		for b, x := range xt {
			out[t][b] = x
		}
	}
	return out
}

func rawControls(res *solver.Result) [][][]float64 {
	out := make([][][]float64, len(res.U))
	for t, ut := range res.U {
		out[t] = make([][]float64, len(ut))
		for b, u := range ut {
			out[t][b] = u
		}
	}
	return out
}
