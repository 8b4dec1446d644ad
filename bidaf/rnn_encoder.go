package bidaf

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/manningwu07/bidaf/autograd"
)

// LSTMCell holds one direction of one layer. Gate rows are stacked in the
// order input, forget, cell, output.
type LSTMCell struct {
	W *autograd.Param // (4H x in)
	U *autograd.Param // (4H x H)
	B *autograd.Param // (4H x 1)

	Hidden int
}

func newLSTMCell(prefix string, in, hidden int, rng *rand.Rand) *LSTMCell {
	return &LSTMCell{
		W:      newWeight(prefix+".w", 4*hidden, in, rng),
		U:      newWeight(prefix+".u", 4*hidden, hidden, rng),
		B:      newBias(prefix+".b", 4*hidden),
		Hidden: hidden,
	}
}

// step advances a batch of active columns by one position.
func (l *LSTMCell) step(tp *autograd.Tape, x, h, c *autograd.Node) (*autograd.Node, *autograd.Node) {
	H := l.Hidden
	_, n := x.Dims()
	z := tp.AddColVec(tp.Add(tp.MatMul(tp.Param(l.W), x), tp.MatMul(tp.Param(l.U), h)), tp.Param(l.B))
	i := tp.Sigmoid(tp.Slice(z, 0, H, 0, n))
	f := tp.Sigmoid(tp.Slice(z, H, 2*H, 0, n))
	g := tp.Tanh(tp.Slice(z, 2*H, 3*H, 0, n))
	o := tp.Sigmoid(tp.Slice(z, 3*H, 4*H, 0, n))
	c = tp.Add(tp.Mul(f, c), tp.Mul(i, g))
	h = tp.Mul(o, tp.Tanh(c))
	return h, c
}

func (l *LSTMCell) Parameters() []*autograd.Param {
	return []*autograd.Param{l.W, l.U, l.B}
}

// RNNEncoder is a stacked bidirectional LSTM over variable-length
// sequences. Every output is (2H x Lpad) with zero columns from the true
// length on.
type RNNEncoder struct {
	Fwd, Bwd []*LSTMCell
	Hidden   int
	DropProb float64
}

func NewRNNEncoder(prefix string, in, hidden, layers int, dropProb float64, rng *rand.Rand) *RNNEncoder {
	e := &RNNEncoder{Hidden: hidden, DropProb: dropProb}
	for l := 0; l < layers; l++ {
		layerIn := in
		if l > 0 {
			layerIn = 2 * hidden
		}
		e.Fwd = append(e.Fwd, newLSTMCell(fmt.Sprintf("%s.l%d.fwd", prefix, l), layerIn, hidden, rng))
		e.Bwd = append(e.Bwd, newLSTMCell(fmt.Sprintf("%s.l%d.bwd", prefix, l), layerIn, hidden, rng))
	}
	return e
}

// Forward encodes xs[b] (in x Lpad_b) using only the first lengths[b]
// positions of each. It returns per-position outputs and, per example, the
// last layer's final summary [fwd state at len-1 ; bwd state at 0].
func (e *RNNEncoder) Forward(tp *autograd.Tape, xs []*autograd.Node, lengths []int) (outs, finals []*autograd.Node) {
	if len(xs) != len(lengths) {
		panic(fmt.Sprintf("RNNEncoder: %d sequences, %d lengths", len(xs), len(lengths)))
	}
	order := sortByLength(lengths)
	sorted := make([]int, len(order))
	for k, b := range order {
		sorted[k] = lengths[b]
	}

	outs = xs
	for l := range e.Fwd {
		if l > 0 {
			outs = dropAll(tp, outs, e.DropProb)
		}
		fwd := e.runDirection(tp, e.Fwd[l], outs, order, sorted, false)
		bwd := e.runDirection(tp, e.Bwd[l], outs, order, sorted, true)
		outs, finals = e.unpack(tp, xs, fwd, bwd, lengths)
	}
	return dropAll(tp, outs, e.DropProb), finals
}

// runDirection walks positions with packed batches: at position t only the
// sequences longer than t take part. Since order is sorted by decreasing
// length the active set is always a prefix of order. The result holds, per
// example, the hidden column produced at every valid position.
func (e *RNNEncoder) runDirection(tp *autograd.Tape, cell *LSTMCell, xs []*autograd.Node, order, sorted []int, reverse bool) [][]*autograd.Node {
	H := cell.Hidden
	states := make([][]*autograd.Node, len(xs))
	for b := range xs {
		states[b] = make([]*autograd.Node, maxInt(sorted))
	}
	if len(sorted) == 0 || sorted[0] == 0 {
		return states
	}

	var h, c *autograd.Node
	prev := 0
	for s := 0; s < sorted[0]; s++ {
		t := s
		if reverse {
			t = sorted[0] - 1 - s
		}
		active := activeCount(sorted, t)

		cols := make([]*autograd.Node, active)
		for k := 0; k < active; k++ {
			cols[k] = tp.Col(xs[order[k]], t)
		}
		x := tp.ConcatCols(cols...)

		switch {
		case h == nil:
			h, c = tp.Zeros(H, active), tp.Zeros(H, active)
		case active < prev:
			// forward direction: finished sequences drop off the end
			h, c = tp.Slice(h, 0, H, 0, active), tp.Slice(c, 0, H, 0, active)
		case active > prev:
			// backward direction: shorter sequences join with a zero state
			h = tp.ConcatCols(h, tp.Zeros(H, active-prev))
			c = tp.ConcatCols(c, tp.Zeros(H, active-prev))
		}
		h, c = cell.step(tp, x, h, c)
		prev = active

		for k := 0; k < active; k++ {
			states[order[k]][t] = tp.Col(h, k)
		}
	}
	return states
}

// unpack restores batch order and padded width.
func (e *RNNEncoder) unpack(tp *autograd.Tape, xs []*autograd.Node, fwd, bwd [][]*autograd.Node, lengths []int) (outs, finals []*autograd.Node) {
	H := e.Hidden
	outs = make([]*autograd.Node, len(xs))
	finals = make([]*autograd.Node, len(xs))
	for b, x := range xs {
		_, width := x.Dims()
		n := lengths[b]
		if n == 0 {
			outs[b] = tp.Zeros(2*H, width)
			finals[b] = tp.Zeros(2*H, 1)
			continue
		}
		seq := tp.ConcatRows(tp.ConcatCols(fwd[b][:n]...), tp.ConcatCols(bwd[b][:n]...))
		if width > n {
			seq = tp.ConcatCols(seq, tp.Zeros(2*H, width-n))
		}
		outs[b] = seq
		finals[b] = tp.ConcatRows(fwd[b][n-1], bwd[b][0])
	}
	return outs, finals
}

func (e *RNNEncoder) Parameters() []*autograd.Param {
	var ps []*autograd.Param
	for l := range e.Fwd {
		ps = append(ps, e.Fwd[l].Parameters()...)
		ps = append(ps, e.Bwd[l].Parameters()...)
	}
	return ps
}

// sortByLength returns batch indices ordered by decreasing length; ties keep
// batch order.
func sortByLength(lengths []int) []int {
	order := make([]int, len(lengths))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return lengths[order[a]] > lengths[order[b]] })
	return order
}

// activeCount is the number of sorted lengths greater than t.
func activeCount(sorted []int, t int) int {
	return sort.Search(len(sorted), func(k int) bool { return sorted[k] <= t })
}

func maxInt(xs []int) int {
	m := 0
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

func dropAll(tp *autograd.Tape, xs []*autograd.Node, p float64) []*autograd.Node {
	if !tp.Training || p <= 0 {
		return xs
	}
	out := make([]*autograd.Node, len(xs))
	for i, x := range xs {
		out[i] = tp.Dropout(x, p)
	}
	return out
}
