package bidaf

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/bidaf/autograd"
	"github.com/manningwu07/bidaf/params"
	"github.com/manningwu07/bidaf/utils"
)

// PadIdx is the token index reserved for padding.
const PadIdx = 0

func newWeight(name string, r, c int, rng *rand.Rand) *autograd.Param {
	return autograd.NewParam(name, mat.NewDense(r, c, utils.RandomArray(rng, r*c, float64(c))))
}

func newBias(name string, r int) *autograd.Param {
	return autograd.NewParam(name, mat.NewDense(r, 1, nil))
}

// linear computes W x + b column-wise; b may be nil.
func linear(tp *autograd.Tape, w, b *autograd.Param, x *autograd.Node) *autograd.Node {
	y := tp.MatMul(tp.Param(w), x)
	if b == nil {
		return y
	}
	return tp.AddColVec(y, tp.Param(b))
}

// HighwayLayer: g = σ(Wg x + bg), t = relu(Wt x + bt), x' = g⊙t + (1-g)⊙x.
type HighwayLayer struct {
	Wt, Bt *autograd.Param
	Wg, Bg *autograd.Param
}

func newHighwayLayer(prefix string, size int, rng *rand.Rand) *HighwayLayer {
	return &HighwayLayer{
		Wt: newWeight(prefix+".wt", size, size, rng),
		Bt: newBias(prefix+".bt", size),
		Wg: newWeight(prefix+".wg", size, size, rng),
		Bg: newBias(prefix+".bg", size),
	}
}

func (h *HighwayLayer) Forward(tp *autograd.Tape, x *autograd.Node) *autograd.Node {
	g := tp.Sigmoid(linear(tp, h.Wg, h.Bg, x))
	t := tp.ReLU(linear(tp, h.Wt, h.Bt, x))
	return tp.Add(x, tp.Mul(g, tp.Sub(t, x)))
}

func (h *HighwayLayer) Parameters() []*autograd.Param {
	return []*autograd.Param{h.Wt, h.Bt, h.Wg, h.Bg}
}

// Embedding maps token ids to (hidden x L) vectors: pre-trained lookup,
// dropout, a bias-free projection and a highway encoder.
type Embedding struct {
	Table    *autograd.Param // (wordDim x vocab), column PadIdx is zero
	Proj     *autograd.Param // (hidden x wordDim)
	Highway  []*HighwayLayer
	DropProb float64
}

// NewEmbedding copies vectors into the lookup table and zeroes the padding
// column.
func NewEmbedding(vectors *mat.Dense, hidden int, cfg params.ModelConfig, rng *rand.Rand) (*Embedding, error) {
	if vectors == nil {
		return nil, fmt.Errorf("embedding: no pre-trained vectors")
	}
	wordDim, vocab := vectors.Dims()
	if vocab <= PadIdx {
		return nil, fmt.Errorf("embedding: vocabulary of %d has no padding entry", vocab)
	}
	table := mat.DenseCopyOf(vectors)
	for i := 0; i < wordDim; i++ {
		table.Set(i, PadIdx, 0)
	}
	e := &Embedding{
		Table:    autograd.NewParam("emb.table", table),
		Proj:     newWeight("emb.proj", hidden, wordDim, rng),
		DropProb: cfg.DropProb,
	}
	e.Table.Frozen = cfg.FreezeEmbeddings
	for i := 0; i < cfg.HighwayLayers; i++ {
		e.Highway = append(e.Highway, newHighwayLayer(fmt.Sprintf("emb.hwy%d", i), hidden, rng))
	}
	return e, nil
}

func (e *Embedding) Forward(tp *autograd.Tape, ids []int) *autograd.Node {
	x := tp.Gather(tp.Param(e.Table), ids, PadIdx)
	x = tp.Dropout(x, e.DropProb)
	x = tp.MatMul(tp.Param(e.Proj), x)
	for _, h := range e.Highway {
		x = h.Forward(tp, x)
	}
	return x
}

func (e *Embedding) Parameters() []*autograd.Param {
	ps := []*autograd.Param{e.Table, e.Proj}
	for _, h := range e.Highway {
		ps = append(ps, h.Parameters()...)
	}
	return ps
}
