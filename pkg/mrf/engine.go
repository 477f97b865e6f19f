// Package mrf relabels a 3-D volume with a Markov Random Field prior, using
// Iterated Conditional Modes (Besag, 1986) to approach the MAP label field.
//
// Every voxel p takes the class c minimising
//
//	cost(c) = D(p, c) + sum over neighbours n of w(n) * [label(n) != c]
//
// where D comes from an external classifier and w is the 3x3x3 Potts weight
// table. Updates are synchronous: iteration k reads only the labels left by
// iteration k-1.
package mrf

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Label is a class id in [0, numberOfClasses).
type Label uint16

// MaxClasses is the largest class count a Label can address.
const MaxClasses = math.MaxUint16 + 1

// DefaultMaxIterations caps a run unless SetMaxIterations says otherwise.
const DefaultMaxIterations = 50

// Classifier supplies the data term. Distance must be nonnegative, finite and
// independent of the evolving label volume. With more than one worker it is
// called concurrently.
type Classifier interface {
	Distance(voxel, class int) (float64, error)
}

// DistanceFunc adapts a plain function to Classifier.
type DistanceFunc func(voxel, class int) (float64, error)

// Distance calls f.
func (f DistanceFunc) Distance(voxel, class int) (float64, error) {
	return f(voxel, class)
}

// State is the engine lifecycle state.
type State int

const (
	Uninitialized State = iota
	Ready
	Iterating
	Converged
	IterationLimitReached
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Iterating:
		return "iterating"
	case Converged:
		return "converged"
	case IterationLimitReached:
		return "iteration limit reached"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result describes a finished run.
type Result struct {
	// Labels is the final label volume, owned by the caller.
	Labels []Label
	Dims   Dims

	// Iterations is the number of completed sweeps.
	Iterations int

	// ErrorRate is the fraction of voxels changed by the last sweep.
	ErrorRate float64

	// State is Converged or IterationLimitReached.
	State State

	// ChangedCounts holds the number of changed voxels per sweep.
	ChangedCounts []int
}

// Converged reports whether the run met the tolerance.
func (r *Result) Converged() bool {
	return r.State == Converged
}

// Engine runs ICM over one label volume. Configure it with the Set methods,
// then call Run. An Engine may be re-run; each run starts from the labels
// currently held, which after a completed run are that run's output.
type Engine struct {
	mu    sync.Mutex
	state State

	numClasses     int
	maxIterations  int
	errorTolerance float64
	workers        int
	exhaustive     bool

	weights    *WeightModel
	grid       *Grid
	classifier Classifier

	// labels is the committed volume; scratch receives the sweep in progress.
	labels  []Label
	scratch []Label
	tracker *ChangeTracker

	iterations int
	errorRate  float64
	history    []int

	log zerolog.Logger
}

// NewEngine returns an unconfigured engine with the default weight table,
// DefaultMaxIterations, zero tolerance and a single worker.
func NewEngine() *Engine {
	return &Engine{
		state:         Uninitialized,
		maxIterations: DefaultMaxIterations,
		workers:       1,
		weights:       NewWeightModel(),
		log:           zerolog.Nop(),
	}
}

// configure applies fn unless a run is in progress.
func (e *Engine) configure(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Iterating {
		return fmt.Errorf("%w: cannot reconfigure while iterating", ErrInvalidState)
	}
	if err := fn(); err != nil {
		return err
	}
	if e.missing() == "" {
		e.state = Ready
	} else {
		e.state = Uninitialized
	}
	return nil
}

// missing names the first absent requirement, or returns "".
func (e *Engine) missing() string {
	switch {
	case e.classifier == nil:
		return "classifier"
	case e.numClasses < 2:
		return "number of classes (at least 2)"
	case e.labels == nil || e.grid == nil:
		return "initial labels"
	case e.weights == nil:
		return "weights"
	}
	return ""
}

// SetNumberOfClasses sets the size of the per-voxel cost vector.
func (e *Engine) SetNumberOfClasses(n int) error {
	if n < 2 || n > MaxClasses {
		return fmt.Errorf("%w: number of classes %d outside [2, %d]", ErrInvalidArgument, n, MaxClasses)
	}
	return e.configure(func() error {
		e.numClasses = n
		return nil
	})
}

// SetMaxIterations sets the hard cap on sweeps.
func (e *Engine) SetMaxIterations(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: max iterations %d must be positive", ErrInvalidArgument, n)
	}
	return e.configure(func() error {
		e.maxIterations = n
		return nil
	})
}

// SetErrorTolerance sets the convergence threshold on the fraction of
// changed voxels. It must lie in [0, 1).
func (e *Engine) SetErrorTolerance(tol float64) error {
	if math.IsNaN(tol) || tol < 0 || tol >= 1 {
		return fmt.Errorf("%w: error tolerance %v outside [0, 1)", ErrInvalidArgument, tol)
	}
	return e.configure(func() error {
		e.errorTolerance = tol
		return nil
	})
}

// SetWorkers sets how many goroutines share a sweep.
func (e *Engine) SetWorkers(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: workers %d must be positive", ErrInvalidArgument, n)
	}
	return e.configure(func() error {
		e.workers = n
		return nil
	})
}

// SetExhaustive forces every voxel to be re-evaluated on every sweep instead
// of only those next to a change. Results are identical; only speed differs.
func (e *Engine) SetExhaustive(on bool) error {
	return e.configure(func() error {
		e.exhaustive = on
		return nil
	})
}

// SetLogger routes per-iteration progress to l.
func (e *Engine) SetLogger(l zerolog.Logger) error {
	return e.configure(func() error {
		e.log = l.With().Str("component", "icm").Logger()
		return nil
	})
}

// SetClassifier sets the distance source.
func (e *Engine) SetClassifier(c Classifier) error {
	if c == nil {
		return fmt.Errorf("%w: nil classifier", ErrInvalidArgument)
	}
	return e.configure(func() error {
		e.classifier = c
		return nil
	})
}

// SetInitialLabels copies the starting classification and rebuilds the
// neighbour addressing for dims.
func (e *Engine) SetInitialLabels(dims Dims, labels []Label) error {
	grid, err := NewGrid(dims)
	if err != nil {
		return err
	}
	if len(labels) != grid.Len() {
		return fmt.Errorf("%w: %d labels for a %s volume", ErrInvalidArgument, len(labels), dims)
	}
	owned := make([]Label, len(labels))
	copy(owned, labels)
	return e.configure(func() error {
		e.grid = grid
		e.labels = owned
		e.scratch = nil
		e.tracker = nil
		return nil
	})
}

// SetWeightModel installs a copy of m.
func (e *Engine) SetWeightModel(m *WeightModel) error {
	if m == nil {
		return fmt.Errorf("%w: nil weight model", ErrInvalidArgument)
	}
	c := m.Clone()
	return e.configure(func() error {
		e.weights = c
		return nil
	})
}

// SetWeights installs a 27-entry table. See WeightModel.SetWeights.
func (e *Engine) SetWeights(values []float64) error {
	m := &WeightModel{}
	if err := m.SetWeights(values); err != nil {
		return err
	}
	return e.SetWeightModel(m)
}

// SetWeightClasses installs the table built from four neighbour classes.
func (e *Engine) SetWeightClasses(c WeightClasses) error {
	m := &WeightModel{}
	if err := m.SetClasses(c); err != nil {
		return err
	}
	return e.SetWeightModel(m)
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// NumberOfClasses returns the configured class count.
func (e *Engine) NumberOfClasses() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.numClasses
}

// MaxIterations returns the configured sweep cap.
func (e *Engine) MaxIterations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxIterations
}

// ErrorTolerance returns the configured convergence threshold.
func (e *Engine) ErrorTolerance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errorTolerance
}

// Weights returns a copy of the current weight table.
func (e *Engine) Weights() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.weights.Weights()
}

// Labels returns a copy of the final labels. It fails unless the last run
// completed, so labels of an aborted run are never mistaken for a result.
func (e *Engine) Labels() ([]Label, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Converged && e.state != IterationLimitReached {
		return nil, fmt.Errorf("%w: no final labels in state %s", ErrInvalidState, e.state)
	}
	out := make([]Label, len(e.labels))
	copy(out, e.labels)
	return out, nil
}

// Iterations returns the number of sweeps completed by the last run.
func (e *Engine) Iterations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.iterations
}

// ErrorRate returns the changed fraction of the last completed sweep.
func (e *Engine) ErrorRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errorRate
}

// Energy evaluates the MRF energy of the committed labels.
func (e *Engine) Energy() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Iterating {
		return 0, fmt.Errorf("%w: energy is undefined while iterating", ErrInvalidState)
	}
	if what := e.missing(); what != "" {
		return 0, fmt.Errorf("%w: missing %s", ErrNotConfigured, what)
	}
	return Energy(e.grid, e.weights, e.classifier, e.numClasses, e.labels)
}

// Run iterates until the changed fraction drops below the tolerance, a sweep
// changes nothing, or the iteration cap is hit. ctx is checked between
// sweeps. A failed run returns a *RunError and leaves the labels of the last
// completed sweep in place.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.state == Iterating {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: run already in progress", ErrInvalidState)
	}
	if what := e.missing(); what != "" {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: missing %s", ErrNotConfigured, what)
	}
	for i, l := range e.labels {
		if int(l) >= e.numClasses {
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: initial label %d at voxel %d exceeds %d classes",
				ErrInvalidArgument, l, i, e.numClasses)
		}
	}
	e.state = Iterating
	e.iterations = 0
	e.errorRate = 0
	e.history = e.history[:0]
	e.mu.Unlock()

	state, err := e.iterate(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.state = Failed
		e.log.Error().Err(err).Int("iterations", e.iterations).Msg("icm run aborted")
		return nil, &RunError{Iterations: e.iterations, Err: err}
	}
	e.state = state
	e.log.Info().
		Str("state", state.String()).
		Int("iterations", e.iterations).
		Float64("error_rate", e.errorRate).
		Msg("icm run finished")

	res := &Result{
		Labels:        make([]Label, len(e.labels)),
		Dims:          e.grid.Dims(),
		Iterations:    e.iterations,
		ErrorRate:     e.errorRate,
		State:         state,
		ChangedCounts: append([]int(nil), e.history...),
	}
	copy(res.Labels, e.labels)
	return res, nil
}

func (e *Engine) iterate(ctx context.Context) (State, error) {
	n := e.grid.Len()
	if len(e.scratch) != n {
		e.scratch = make([]Label, n)
	}
	if e.tracker == nil || e.tracker.Len() != n {
		e.tracker = NewChangeTracker(n)
	} else {
		e.tracker.Reset()
	}

	for k := 0; k < e.maxIterations; k++ {
		if err := ctx.Err(); err != nil {
			return Failed, err
		}

		changed, err := e.sweep()
		if err != nil {
			e.tracker.Discard()
			return Failed, fmt.Errorf("iteration %d: %w", k, err)
		}

		e.tracker.Advance()

		// Publish the sweep; getters may be polled while a run is in progress.
		e.mu.Lock()
		e.labels, e.scratch = e.scratch, e.labels
		e.iterations = k + 1
		e.errorRate = float64(changed) / float64(n)
		e.history = append(e.history, changed)
		rate := e.errorRate
		e.mu.Unlock()

		e.log.Debug().
			Int("iteration", k).
			Int("changed", changed).
			Float64("error_rate", rate).
			Msg("sweep complete")

		if changed == 0 || rate < e.errorTolerance {
			return Converged, nil
		}
	}
	return IterationLimitReached, nil
}

// sweep evaluates one synchronous iteration into e.scratch and returns the
// number of changed voxels.
func (e *Engine) sweep() (int, error) {
	copy(e.scratch, e.labels)

	n := len(e.labels)
	workers := min(e.workers, n)
	if workers <= 1 {
		return e.sweepRange(0, n)
	}

	counts := make([]int, workers)
	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, n)
		if start >= end {
			break
		}
		g.Go(func() error {
			c, err := e.sweepRange(start, end)
			counts[w] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	return total, nil
}

func (e *Engine) sweepRange(start, end int) (int, error) {
	neighbors := make([]Neighbor, 0, KernelSize-1)
	agree := make([]float64, e.numClasses)
	changed := 0

	for p := start; p < end; p++ {
		neighbors = e.grid.NeighborsOf(p, neighbors)
		if !e.exhaustive && !e.tracker.NeedsUpdate(p, neighbors) {
			continue
		}

		best, err := e.bestLabel(p, neighbors, agree)
		if err != nil {
			return changed, err
		}
		moved := best != e.labels[p]
		if moved {
			e.scratch[p] = best
			changed++
		}
		e.tracker.Mark(p, moved)
	}
	return changed, nil
}

// bestLabel returns argmin_c cost(c) for voxel p against the committed
// labels. Ties go to the lowest class id.
func (e *Engine) bestLabel(p int, neighbors []Neighbor, agree []float64) (Label, error) {
	total := agreement(neighbors, e.labels, e.weights, agree)

	best := Label(0)
	bestCost := 0.0
	for c := 0; c < e.numClasses; c++ {
		d, err := distance(e.classifier, p, c)
		if err != nil {
			return 0, err
		}
		cost := d + (total - agree[c])
		if c == 0 || lower(cost, bestCost) {
			best, bestCost = Label(c), cost
		}
	}
	return best, nil
}

// tieTolerance is the relative gap below which two costs count as equal.
// Penalties that are equal in exact arithmetic can differ in the last bits
// depending on summation order.
const tieTolerance = 1e-12

// lower reports whether cost beats best by more than rounding noise.
func lower(cost, best float64) bool {
	return cost < best-tieTolerance*math.Max(1, math.Abs(best))
}

// ArgMin returns the index of the smallest cost, treating costs within
// rounding noise of each other as equal so the lowest index wins. It returns
// -1 for an empty slice.
func ArgMin(costs []float64) int {
	if len(costs) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(costs); i++ {
		if lower(costs[i], costs[best]) {
			best = i
		}
	}
	return best
}

// agreement fills agree[c] with the weight of neighbours labelled c and
// returns the total neighbour weight. The penalty for class c is then
// total - agree[c].
func agreement(neighbors []Neighbor, labels []Label, weights *WeightModel, agree []float64) float64 {
	clear(agree)
	total := 0.0
	for _, n := range neighbors {
		w := weights.At(n.Kernel)
		total += w
		agree[labels[n.Index]] += w
	}
	return total
}

func distance(c Classifier, voxel, class int) (float64, error) {
	d, err := c.Distance(voxel, class)
	if err != nil {
		return 0, fmt.Errorf("classifier at voxel %d class %d: %w", voxel, class, err)
	}
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0, fmt.Errorf("%w: %v at voxel %d class %d", ErrInvalidDistance, d, voxel, class)
	}
	return d, nil
}
