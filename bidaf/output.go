package bidaf

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/bidaf/autograd"
	"github.com/manningwu07/bidaf/utils"
)

// Output projects the model encoder's final summaries to answer-option
// logits.
type Output struct {
	W *autograd.Param // (K x 2H)
	B *autograd.Param // (K x 1)
}

func NewOutput(hidden, numClasses int, rng *rand.Rand) *Output {
	return &Output{
		W: newWeight("out.w", numClasses, 2*hidden, rng),
		B: newBias("out.b", numClasses),
	}
}

// Forward stacks finals (2H x 1 each) into (2H x B) and returns raw logits
// (K x B).
func (o *Output) Forward(tp *autograd.Tape, finals []*autograd.Node) *autograd.Node {
	return linear(tp, o.W, o.B, tp.ConcatCols(finals...))
}

func (o *Output) Parameters() []*autograd.Param {
	return []*autograd.Param{o.W, o.B}
}

// SpanOutput scores every context position as answer start and end. The end
// scores read a second one-layer pass over the model encoding.
type SpanOutput struct {
	AttStart, ModStart *autograd.Param // (1 x 8H), (1 x 2H)
	AttEnd, ModEnd     *autograd.Param
	BStart, BEnd       *autograd.Param // (1 x 1)
	Rnn                *RNNEncoder
}

func NewSpanOutput(hidden int, dropProb float64, rng *rand.Rand) *SpanOutput {
	return &SpanOutput{
		AttStart: newWeight("span.att_start", 1, 8*hidden, rng),
		ModStart: newWeight("span.mod_start", 1, 2*hidden, rng),
		AttEnd:   newWeight("span.att_end", 1, 8*hidden, rng),
		ModEnd:   newWeight("span.mod_end", 1, 2*hidden, rng),
		BStart:   newBias("span.b_start", 1),
		BEnd:     newBias("span.b_end", 1),
		Rnn:      NewRNNEncoder("span.rnn", 2*hidden, hidden, 1, dropProb, rng),
	}
}

// Forward returns start and end logits as (Lc x B) nodes, one column per
// example, with utils.NegInf added at padded positions. All contexts in the
// batch must share the padded width.
func (s *SpanOutput) Forward(tp *autograd.Tape, att, mod []*autograd.Node, lengths []int) (start, end *autograd.Node) {
	mod2, _ := s.Rnn.Forward(tp, mod, lengths)
	starts := make([]*autograd.Node, len(att))
	ends := make([]*autograd.Node, len(att))
	for b := range att {
		starts[b] = s.score(tp, s.AttStart, s.ModStart, s.BStart, att[b], mod[b])
		ends[b] = s.score(tp, s.AttEnd, s.ModEnd, s.BEnd, att[b], mod2[b])
	}
	bias := spanBias(att, lengths)
	start = tp.Add(tp.ConcatCols(starts...), tp.Const(bias))
	end = tp.Add(tp.ConcatCols(ends...), tp.Const(bias))
	return start, end
}

// score is (Lc x 1): wa·att_i + wm·mod_i + b.
func (s *SpanOutput) score(tp *autograd.Tape, wa, wm, b *autograd.Param, att, mod *autograd.Node) *autograd.Node {
	logits := tp.Add(tp.MatMul(tp.Param(wa), att), tp.MatMul(tp.Param(wm), mod))
	_, lc := logits.Dims()
	return tp.Transpose(tp.AddRowVec(logits, tp.BroadcastCols(tp.Param(b), lc)))
}

func spanBias(att []*autograd.Node, lengths []int) *mat.Dense {
	_, lc := att[0].Dims()
	return utils.MaskBias(lc, len(att), func(i, b int) bool { return i < lengths[b] })
}

func (s *SpanOutput) Parameters() []*autograd.Param {
	return append([]*autograd.Param{s.AttStart, s.ModStart, s.BStart, s.AttEnd, s.ModEnd, s.BEnd}, s.Rnn.Parameters()...)
}
