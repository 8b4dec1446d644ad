package optimizations

import (
	"math"

	"github.com/manningwu07/bidaf/autograd"
	"github.com/manningwu07/bidaf/utils"
)

type adadeltaState struct {
	squareAvg, accDelta []float64
}

// Adadelta keeps running averages of squared gradients and squared updates
// per parameter; lr scales the resulting step.
type Adadelta struct {
	Rho, Eps    float64
	WeightDecay float64

	state map[*autograd.Param]*adadeltaState
}

func NewAdadelta(rho, eps, weightDecay float64) *Adadelta {
	return &Adadelta{
		Rho:         rho,
		Eps:         eps,
		WeightDecay: weightDecay,
		state:       make(map[*autograd.Param]*adadeltaState),
	}
}

func (a *Adadelta) Step(params []*autograd.Param, lr float64) {
	for _, p := range params {
		if p.Frozen {
			continue
		}
		w := utils.Raw(p.Value)
		g := utils.Raw(p.Grad)
		st, ok := a.state[p]
		if !ok {
			st = &adadeltaState{squareAvg: make([]float64, len(w)), accDelta: make([]float64, len(w))}
			a.state[p] = st
		}
		for i := range w {
			gi := g[i] + a.WeightDecay*w[i]
			st.squareAvg[i] = a.Rho*st.squareAvg[i] + (1-a.Rho)*gi*gi
			std := math.Sqrt(st.squareAvg[i] + a.Eps)
			delta := math.Sqrt(st.accDelta[i]+a.Eps) / std * gi
			st.accDelta[i] = a.Rho*st.accDelta[i] + (1-a.Rho)*delta*delta
			w[i] -= lr * delta
		}
	}
}
