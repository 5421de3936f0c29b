package descent

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Func maps a point to a numeric value. Points are always represented as
// []float64; a scalar problem is a vector of length 1. An objective may be
// scalar-valued (length-1 result) or element-wise vector-valued; a gradient
// must produce a value of the same shape as its input.
type Func func(x []float64) []float64

// ErrInvalidConfig is returned by New when neither an objective nor a
// gradient function is provided.
var ErrInvalidConfig = errors.New("descent: either an objective or a gradient function must be provided")

// fdStep is the perturbation magnitude for central finite differences.
const fdStep = 1e-5

// Default optimization parameters, applied when the corresponding Options
// field is left zero.
const (
	DefaultLearningRate = 0.1
	DefaultMaxIter      = 100
	DefaultEps          = 1e-6
)

// gradientSource produces the gradient of the objective at a point.
// The concrete strategy is chosen once at construction: either the caller's
// analytic gradient or a central finite-difference estimate on the objective.
type gradientSource interface {
	gradient(x []float64) []float64
}

// explicitGradient evaluates a caller-supplied gradient function directly.
type explicitGradient struct {
	grad Func
}

func (s explicitGradient) gradient(x []float64) []float64 {
	return s.grad(x)
}

// finiteDifference estimates the gradient of the objective via central
// differences with a uniform perturbation: (f(x+h) - f(x-h)) / 2h,
// element-wise for vector-valued objectives.
type finiteDifference struct {
	fn Func
	h  float64
}

func (s finiteDifference) gradient(x []float64) []float64 {
	plus := make([]float64, len(x))
	minus := make([]float64, len(x))
	for i, v := range x {
		plus[i] = v + s.h
		minus[i] = v - s.h
	}

	fp := s.fn(plus)
	fm := s.fn(minus)

	grad := make([]float64, len(fp))
	for i := range fp {
		grad[i] = (fp[i] - fm[i]) / (2 * s.h)
	}
	return grad
}

// Optimizer runs iterative gradient descent on an objective function.
// An Optimizer is constructed once and may be used for many Optimize calls;
// calls are independent and safe to run concurrently as long as the supplied
// functions are side-effect free.
type Optimizer struct {
	source gradientSource
}

// New creates an optimizer from an objective function and/or its gradient.
// Either may be nil, but not both. Neither function is evaluated here.
//
// When a gradient function is given it is used directly; otherwise the
// gradient is estimated from the objective by central finite differences.
func New(objective, gradient Func) (*Optimizer, error) {
	if objective == nil && gradient == nil {
		return nil, ErrInvalidConfig
	}

	if gradient != nil {
		return &Optimizer{source: explicitGradient{grad: gradient}}, nil
	}
	return &Optimizer{source: finiteDifference{fn: objective, h: fdStep}}, nil
}

// Options configures a single Optimize call.
type Options struct {
	// Start is the initial point. When empty, a starting point is drawn from
	// a standard normal distribution with Dim elements (one element if Dim
	// is zero).
	Start []float64

	// LearningRate scales the gradient to form the update step.
	// Zero means DefaultLearningRate; negative is an error.
	LearningRate float64

	// MaxIter caps the number of iterations.
	// Zero means DefaultMaxIter; negative is an error.
	MaxIter int

	// Eps is the convergence threshold on the Euclidean norm of the update
	// step. Zero means DefaultEps; negative is an error.
	Eps float64

	// Dim is the length of the random starting point when Start is empty.
	// Ignored when Start is given, except that a non-zero Dim must match
	// len(Start).
	Dim int

	// Rand is the randomness source for the starting point. When nil a
	// time-seeded source is used; pass an explicit source for reproducible
	// runs.
	Rand *rand.Rand

	// OnStep, when non-nil, is invoked after every applied update with the
	// recorded history step. Used for live progress reporting; the slices it
	// receives are copies owned by the callee.
	OnStep func(Step)
}

// Step records one applied descent update: the updated point and the
// gradient that produced it.
type Step struct {
	X        []float64 `json:"x"`
	Gradient []float64 `json:"gradient"`
}

// Result is the outcome of one Optimize call.
type Result struct {
	// Point is the final point reached, always as a vector (length 1 for
	// scalar problems).
	Point []float64

	// History holds one Step per applied iteration, in order. The iteration
	// that triggers convergence is not applied and not recorded, so on
	// convergence len(History) < MaxIter.
	History []Step

	// Converged reports whether the step norm dropped below Eps before the
	// iteration budget ran out.
	Converged bool

	// Iterations is the number of applied updates, equal to len(History).
	Iterations int
}

// Optimize runs gradient descent from a starting point until the update step
// norm drops below Eps or MaxIter iterations have been applied. Both are
// normal terminations; inspect Result.Converged to distinguish them.
//
// Per iteration: the gradient is acquired at the current point, the step
// delta is lr*gradient, and if ||delta|| < Eps the loop stops without
// applying the update or recording it. Otherwise x is moved to x-delta and
// the step is appended to the history.
//
// Panics raised by the objective or gradient function propagate to the
// caller unmodified; the optimizer does not recover, wrap, or retry.
func (o *Optimizer) Optimize(opts Options) (*Result, error) {
	lr := opts.LearningRate
	if lr == 0 {
		lr = DefaultLearningRate
	}
	maxIter := opts.MaxIter
	if maxIter == 0 {
		maxIter = DefaultMaxIter
	}
	eps := opts.Eps
	if eps == 0 {
		eps = DefaultEps
	}

	if lr < 0 {
		return nil, fmt.Errorf("descent: learning rate must be positive, got %v", lr)
	}
	if maxIter < 0 {
		return nil, fmt.Errorf("descent: max iterations must be positive, got %d", maxIter)
	}
	if eps < 0 {
		return nil, fmt.Errorf("descent: convergence threshold must be positive, got %v", eps)
	}
	if len(opts.Start) > 0 && opts.Dim > 0 && opts.Dim != len(opts.Start) {
		return nil, fmt.Errorf("descent: start has %d elements but dim is %d", len(opts.Start), opts.Dim)
	}

	x := o.initialPoint(opts)

	var history []Step
	converged := false
	iters := 0

	for i := 0; i < maxIter; i++ {
		grad := o.source.gradient(x)

		delta := append([]float64(nil), grad...)
		floats.Scale(lr, delta)

		// Convergence is tested before the update is applied; the breaking
		// iteration leaves x untouched and is absent from the history.
		if floats.Norm(delta, 2) < eps {
			converged = true
			slog.Info("Converged", "iterations", i, "eps", eps)
			break
		}

		if err := applyStep(x, delta); err != nil {
			return nil, err
		}
		iters = i + 1

		step := Step{
			X:        append([]float64(nil), x...),
			Gradient: append([]float64(nil), grad...),
		}
		history = append(history, step)

		if opts.OnStep != nil {
			opts.OnStep(step)
		}
	}

	if !converged {
		slog.Info("Not converged", "max_iter", maxIter)
	}

	return &Result{
		Point:      x,
		History:    history,
		Converged:  converged,
		Iterations: iters,
	}, nil
}

// initialPoint resolves the starting point: a copy of Start when given,
// otherwise a standard-normal draw of Dim elements (one when Dim is zero).
func (o *Optimizer) initialPoint(opts Options) []float64 {
	if len(opts.Start) > 0 {
		return append([]float64(nil), opts.Start...)
	}

	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		slog.Debug("No random source provided, using time-seeded source")
	}

	dim := opts.Dim
	if dim <= 0 {
		dim = 1
	}

	x := make([]float64, dim)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	return x
}

// applyStep moves x in-place by -delta. A length-1 delta against a longer x
// is broadcast across all elements; this happens when a scalar-valued
// objective is paired with a vector point under finite differencing.
func applyStep(x, delta []float64) error {
	switch {
	case len(delta) == len(x):
		floats.Sub(x, delta)
	case len(delta) == 1:
		for i := range x {
			x[i] -= delta[0]
		}
	default:
		return fmt.Errorf("descent: gradient has %d elements for a point of %d", len(delta), len(x))
	}
	return nil
}
