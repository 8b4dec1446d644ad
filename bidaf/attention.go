package bidaf

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/bidaf/autograd"
	"github.com/manningwu07/bidaf/utils"
)

// trilinear scores every pair of columns of x (d x Lx) and y (d x Ly):
//
//	S[i,j] = wx·x_i + wy·y_j + wxy·(x_i ⊙ y_j) + b
type trilinear struct {
	Wx, Wy, Wxy *autograd.Param // (1 x d)
	B           *autograd.Param // (1 x 1)
}

func newTrilinear(prefix string, d int, rng *rand.Rand) *trilinear {
	return &trilinear{
		Wx:  newWeight(prefix+".wx", 1, d, rng),
		Wy:  newWeight(prefix+".wy", 1, d, rng),
		Wxy: newWeight(prefix+".wxy", 1, d, rng),
		B:   autograd.NewParam(prefix+".b", mat.NewDense(1, 1, nil)),
	}
}

// forward returns S (Lx x Ly).
func (s *trilinear) forward(tp *autograd.Tape, x, y *autograd.Node) *autograd.Node {
	_, lx := x.Dims()
	_, ly := y.Dims()

	// x-only term plus bias, one value per row of S
	ones := mat.NewDense(lx, 1, nil)
	ones.Apply(func(_, _ int, _ float64) float64 { return 1 }, ones)
	rowTerm := tp.Add(
		tp.Transpose(tp.MatMul(tp.Param(s.Wx), x)),
		tp.MatMul(tp.Const(ones), tp.Param(s.B)),
	)
	colTerm := tp.MatMul(tp.Param(s.Wy), y) // (1 x Ly)

	xw := tp.Mul(x, tp.BroadcastCols(tp.Transpose(tp.Param(s.Wxy)), lx))
	cross := tp.MatMul(tp.Transpose(xw), y) // (Lx x Ly)

	return tp.AddRowVec(tp.Add(cross, tp.BroadcastCols(rowTerm, ly)), colTerm)
}

func (s *trilinear) Parameters() []*autograd.Param {
	return []*autograd.Param{s.Wx, s.Wy, s.Wxy, s.B}
}

// BiDAFAttention fuses context c (d x Lc) with query q (d x Lq) into
// [c; a; c⊙a; c⊙h] (4d x Lc), where a is context-to-query attention and h
// is the broadcast query-to-context summary.
type BiDAFAttention struct {
	Sim      *trilinear
	DropProb float64
}

func NewBiDAFAttention(d int, dropProb float64, rng *rand.Rand) *BiDAFAttention {
	return &BiDAFAttention{Sim: newTrilinear("att", d, rng), DropProb: dropProb}
}

func (a *BiDAFAttention) Forward(tp *autograd.Tape, c, q *autograd.Node, cMask, qMask []bool) *autograd.Node {
	out, _, _ := a.Attend(tp, c, q, cMask, qMask)
	return out
}

// Attend also returns the c2q weights (Lc x Lq) and the q2c weights (1 x Lc).
func (a *BiDAFAttention) Attend(tp *autograd.Tape, c, q *autograd.Node, cMask, qMask []bool) (out, c2q, q2c *autograd.Node) {
	c = tp.Dropout(c, a.DropProb)
	q = tp.Dropout(q, a.DropProb)
	_, lc := c.Dims()
	_, lq := q.Dims()

	s := a.Sim.forward(tp, c, q)
	qBias := utils.MaskBias(lc, lq, func(_, j int) bool { return qMask[j] })
	cBias := utils.MaskBias(1, lc, func(_, i int) bool { return cMask[i] })

	c2q = tp.MaskedSoftmax(s, qBias)
	att := tp.MatMul(q, tp.Transpose(c2q)) // (d x Lc)

	q2c = tp.MaskedSoftmax(tp.Transpose(tp.RowMax(s, qBias)), cBias)
	h := tp.BroadcastCols(tp.MatMul(c, tp.Transpose(q2c)), lc)

	out = tp.ConcatRows(c, att, tp.Mul(c, att), tp.Mul(c, h))
	return out, c2q, q2c
}

func (a *BiDAFAttention) Parameters() []*autograd.Param {
	return a.Sim.Parameters()
}
