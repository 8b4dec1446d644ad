// Package bidaf implements the BiDAF reading-comprehension model and its
// self-attention extension on top of the autograd tape.
//
// Layout follows gonum's (features x positions) convention: every example
// in a batch is a separate matrix with one column per token.
package bidaf

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/bidaf/autograd"
	"github.com/manningwu07/bidaf/params"
	"github.com/manningwu07/bidaf/utils"
)

// Model chains embedding, encoder, context-query attention, optional
// self-attention, model encoder and an output head.
type Model struct {
	Config params.ModelConfig

	Emb     *Embedding
	Enc     *RNNEncoder
	Att     *BiDAFAttention
	SelfAtt *SelfAttention // nil for the baseline
	Mod     *RNNEncoder
	Out     *Output     // classify task
	Span    *SpanOutput // span task
}

// Logits holds the raw scores of one forward pass. Class is set for the
// classify task, Start and End for the span task.
type Logits struct {
	Class      *autograd.Node // (K x B)
	Start, End *autograd.Node // (Lc x B)
}

// NewModel builds a model around vectors (wordDim x vocab). All weights are
// drawn from rng so a fixed seed reproduces the same initialization.
func NewModel(cfg params.ModelConfig, vectors *mat.Dense, rng *rand.Rand) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	H := cfg.HiddenSize
	emb, err := NewEmbedding(vectors, H, cfg, rng)
	if err != nil {
		return nil, err
	}
	m := &Model{
		Config: cfg,
		Emb:    emb,
		Enc:    NewRNNEncoder("enc", H, H, 1, cfg.DropProb, rng),
		Att:    NewBiDAFAttention(2*H, cfg.DropProb, rng),
	}
	if cfg.Variant == params.ModelSelfAtt {
		m.SelfAtt = NewSelfAttention(8*H, cfg.DropProb, rng)
	}
	m.Mod = NewRNNEncoder("mod", 8*H, H, 2, cfg.DropProb, rng)
	switch cfg.Task {
	case params.TaskSpan:
		m.Span = NewSpanOutput(H, cfg.DropProb, rng)
	default:
		m.Out = NewOutput(H, cfg.NumClasses, rng)
	}
	return m, nil
}

// Parameters lists every parameter in a fixed order. Names are unique.
func (m *Model) Parameters() []*autograd.Param {
	ps := m.Emb.Parameters()
	ps = append(ps, m.Enc.Parameters()...)
	ps = append(ps, m.Att.Parameters()...)
	if m.SelfAtt != nil {
		ps = append(ps, m.SelfAtt.Parameters()...)
	}
	ps = append(ps, m.Mod.Parameters()...)
	if m.Out != nil {
		ps = append(ps, m.Out.Parameters()...)
	}
	if m.Span != nil {
		ps = append(ps, m.Span.Parameters()...)
	}
	return ps
}

// Forward runs the model on a padded batch of context and question ids.
func (m *Model) Forward(tp *autograd.Tape, cw, qw [][]int) *Logits {
	if len(cw) != len(qw) {
		panic(fmt.Sprintf("Model.Forward: %d contexts, %d questions", len(cw), len(qw)))
	}
	cLens, qLens := SequenceLengths(cw), SequenceLengths(qw)

	cEmb := make([]*autograd.Node, len(cw))
	qEmb := make([]*autograd.Node, len(qw))
	for b := range cw {
		cEmb[b] = m.Emb.Forward(tp, cw[b])
		qEmb[b] = m.Emb.Forward(tp, qw[b])
	}

	cEnc, _ := m.Enc.Forward(tp, cEmb, cLens)
	qEnc, _ := m.Enc.Forward(tp, qEmb, qLens)

	att := make([]*autograd.Node, len(cw))
	for b := range cw {
		cMask, qMask := Mask(cw[b]), Mask(qw[b])
		att[b] = m.Att.Forward(tp, cEnc[b], qEnc[b], cMask, qMask)
		if m.SelfAtt != nil {
			att[b] = m.SelfAtt.Forward(tp, att[b], cMask)
		}
	}

	mod, finals := m.Mod.Forward(tp, att, cLens)
	if m.Span != nil {
		start, end := m.Span.Forward(tp, att, mod, cLens)
		return &Logits{Start: start, End: end}
	}
	return &Logits{Class: m.Out.Forward(tp, finals)}
}

// Loss is the mean cross-entropy of the labels. For the span task y holds
// start positions and yEnd end positions, and the two losses are averaged.
func (m *Model) Loss(tp *autograd.Tape, out *Logits, y, yEnd []int) *autograd.Node {
	if out.Class != nil {
		return tp.SoftmaxCrossEntropy(out.Class, y, nil)
	}
	return tp.Scale(0.5, tp.Add(
		tp.SoftmaxCrossEntropy(out.Start, y, nil),
		tp.SoftmaxCrossEntropy(out.End, yEnd, nil),
	))
}

// Predict returns the highest scoring class per example, or the start and
// end positions for the span task.
func (m *Model) Predict(out *Logits) (y, yEnd []int) {
	if out.Class != nil {
		return utils.ArgmaxCols(out.Class.Value), nil
	}
	return utils.ArgmaxCols(out.Start.Value), utils.ArgmaxCols(out.End.Value)
}

// Mask is true at every non-padding position.
func Mask(ids []int) []bool {
	m := make([]bool, len(ids))
	for i, id := range ids {
		m[i] = id != PadIdx
	}
	return m
}

// SequenceLengths counts the non-padding tokens of each sequence.
func SequenceLengths(ids [][]int) []int {
	out := make([]int, len(ids))
	for b, seq := range ids {
		for _, id := range seq {
			if id != PadIdx {
				out[b]++
			}
		}
	}
	return out
}
