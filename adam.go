package neuralstyle

import "math"

// Adam is the adaptive moment optimizer used on the canvas pixels.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	m1, m2 []float64
	it     int
}

func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Step updates params in place against grad.
func (a *Adam) Step(params, grad []float64) {
	if len(a.m1) != len(params) {
		a.m1 = make([]float64, len(params))
		a.m2 = make([]float64, len(params))
		a.it = 0
	}
	a.it++
	b1t := 1.0 - math.Pow(a.Beta1, float64(a.it))
	b2t := 1.0 - math.Pow(a.Beta2, float64(a.it))
	for i, g := range grad {
		a.m1[i] = a.Beta1*a.m1[i] + (1.0-a.Beta1)*g
		a.m2[i] = a.Beta2*a.m2[i] + (1.0-a.Beta2)*g*g
		mhat := a.m1[i] / b1t
		vhat := a.m2[i] / b2t
		params[i] -= a.LearningRate * mhat / (math.Sqrt(vhat) + a.Epsilon)
	}
}

// Steps reports how many updates have been applied.
func (a *Adam) Steps() int {
	return a.it
}
