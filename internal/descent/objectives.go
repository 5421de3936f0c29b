package descent

import "sort"

// Objective pairs a named benchmark function with its analytic gradient so
// runs can be described by name on the CLI and over the API.
type Objective struct {
	// Name identifies the objective in configs and flags.
	Name string

	// MinDim is the smallest point length the function is defined for.
	MinDim int

	// Fn evaluates the objective. May be scalar-valued or element-wise.
	Fn Func

	// Grad evaluates the analytic gradient, same shape as the input.
	Grad Func
}

var objectives = map[string]Objective{
	"quadratic": {
		Name:   "quadratic",
		MinDim: 1,
		Fn:     quadratic,
		Grad:   quadraticGrad,
	},
	"sphere": {
		Name:   "sphere",
		MinDim: 1,
		Fn:     sphere,
		Grad:   sphereGrad,
	},
	"rosenbrock": {
		Name:   "rosenbrock",
		MinDim: 2,
		Fn:     rosenbrock,
		Grad:   rosenbrockGrad,
	},
}

// LookupObjective returns the named benchmark objective.
func LookupObjective(name string) (Objective, bool) {
	obj, ok := objectives[name]
	return obj, ok
}

// ObjectiveNames returns the registered objective names, sorted.
func ObjectiveNames() []string {
	names := make([]string, 0, len(objectives))
	for name := range objectives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// quadratic is (x-3)^2 applied element-wise, minimum at 3 in every
// coordinate.
func quadratic(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - 3) * (v - 3)
	}
	return out
}

func quadraticGrad(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = 2 * (v - 3)
	}
	return out
}

// sphere is sum(x_i^2), minimum at the origin.
func sphere(x []float64) []float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return []float64{sum}
}

func sphereGrad(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = 2 * v
	}
	return out
}

// rosenbrock is the classic banana valley, minimum at (1, ..., 1).
func rosenbrock(x []float64) []float64 {
	var sum float64
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		sum += 100*a*a + b*b
	}
	return []float64{sum}
}

func rosenbrockGrad(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i < len(x)-1 {
			out[i] += -400*x[i]*(x[i+1]-x[i]*x[i]) - 2*(1-x[i])
		}
		if i > 0 {
			out[i] += 200 * (x[i] - x[i-1]*x[i-1])
		}
	}
	return out
}
