package bidaf

import (
	"math/rand/v2"

	"github.com/manningwu07/bidaf/autograd"
	"github.com/manningwu07/bidaf/utils"
)

// SelfAttention lets every context position attend to the other valid
// positions of the same context and merges the summary back with a gate:
//
//	f = Wf [g; s] + bf, z = σ(Wz [g; s] + bz), out = g + z⊙(f - g)
//
// A position never attends to itself. When no other position is valid the
// attention row is all zeros and s is zero there.
type SelfAttention struct {
	Sim      *trilinear
	Wf, Bf   *autograd.Param // (D x 2D), (D x 1)
	Wz, Bz   *autograd.Param
	DropProb float64
}

func NewSelfAttention(d int, dropProb float64, rng *rand.Rand) *SelfAttention {
	return &SelfAttention{
		Sim:      newTrilinear("self", d, rng),
		Wf:       newWeight("self.wf", d, 2*d, rng),
		Bf:       newBias("self.bf", d),
		Wz:       newWeight("self.wz", d, 2*d, rng),
		Bz:       newBias("self.bz", d),
		DropProb: dropProb,
	}
}

func (sa *SelfAttention) Forward(tp *autograd.Tape, g *autograd.Node, cMask []bool) *autograd.Node {
	out, _ := sa.Attend(tp, g, cMask)
	return out
}

// Attend also returns the attention weights (Lc x Lc).
func (sa *SelfAttention) Attend(tp *autograd.Tape, g *autograd.Node, cMask []bool) (out, weights *autograd.Node) {
	g = tp.Dropout(g, sa.DropProb)
	_, lc := g.Dims()

	s := sa.Sim.forward(tp, g, g)
	bias := utils.MaskBias(lc, lc, func(i, j int) bool { return cMask[j] && i != j })
	weights = tp.MaskedSoftmax(s, bias)
	summary := tp.MatMul(g, tp.Transpose(weights)) // (D x Lc)

	gs := tp.ConcatRows(g, summary)
	f := linear(tp, sa.Wf, sa.Bf, gs)
	z := tp.Sigmoid(linear(tp, sa.Wz, sa.Bz, gs))
	out = tp.Add(g, tp.Mul(z, tp.Sub(f, g)))
	return out, weights
}

func (sa *SelfAttention) Parameters() []*autograd.Param {
	return append(sa.Sim.Parameters(), sa.Wf, sa.Bf, sa.Wz, sa.Bz)
}
