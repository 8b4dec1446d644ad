package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/bidaf/autograd"
	"github.com/manningwu07/bidaf/utils"
)

// Optimizer applies one update to every trainable parameter from its
// accumulated gradient.
type Optimizer interface {
	Step(params []*autograd.Param, lr float64)
}

// p -= lr * (mhat/(sqrt(vhat)+eps) + wd * p) with bias correction (AdamW).
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, beta1, beta2, eps, weightDecay float64,
) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("adamUpdateInPlace: grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("adamUpdateInPlace: m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("adamUpdateInPlace: v shape mismatch")
	}
	b1t := math.Pow(beta1, float64(t))
	b2t := math.Pow(beta2, float64(t))
	c1 := 1.0 / (1.0 - b1t)
	c2 := 1.0 / (1.0 - b2t)
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			gij := g.At(i, j)
			mij := beta1*m.At(i, j) + (1.0-beta1)*gij
			vij := beta2*v.At(i, j) + (1.0-beta2)*gij*gij
			mhat := mij * c1
			vhat := vij * c2
			denom := math.Sqrt(vhat) + eps
			update := mhat/denom + weightDecay*p.At(i, j)
			m.Set(i, j, mij)
			v.Set(i, j, vij)
			p.Set(i, j, p.At(i, j)-lr*update)
		}
	}
}

type adamState struct {
	m, v *mat.Dense
}

type Adam struct {
	Beta1, Beta2, Eps float64
	WeightDecay       float64

	t     int
	state map[*autograd.Param]*adamState
}

func NewAdam(beta1, beta2, eps, weightDecay float64) *Adam {
	return &Adam{
		Beta1:       beta1,
		Beta2:       beta2,
		Eps:         eps,
		WeightDecay: weightDecay,
		state:       make(map[*autograd.Param]*adamState),
	}
}

func (a *Adam) Step(params []*autograd.Param, lr float64) {
	a.t++
	for _, p := range params {
		if p.Frozen {
			continue
		}
		st, ok := a.state[p]
		if !ok {
			st = &adamState{m: utils.ZerosLike(p.Value), v: utils.ZerosLike(p.Value)}
			a.state[p] = st
		}
		AdamUpdateInPlace(p.Value, p.Grad, st.m, st.v, a.t, lr, a.Beta1, a.Beta2, a.Eps, a.WeightDecay)
	}
}
