package autograd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/bidaf/utils"
)

// MatMul: a (r x k) * b (k x c).
func (t *Tape) MatMul(a, b *Node) *Node {
	var out mat.Dense
	out.Mul(a.Value, b.Value)
	return t.push(&out, anyNeedsGrad(a, b), func(n *Node) {
		// dA = dC * B^T, dB = A^T * dC
		if a.needsGrad {
			accum(a, utils.Dot(n.Grad, b.Value.T()))
		}
		if b.needsGrad {
			accum(b, utils.Dot(a.Value.T(), n.Grad))
		}
	})
}

func (t *Tape) Transpose(a *Node) *Node {
	out := mat.DenseCopyOf(a.Value.T())
	return t.push(out, a.needsGrad, func(n *Node) {
		accum(a, n.Grad.T())
	})
}

func (t *Tape) Add(a, b *Node) *Node {
	out := utils.ToDense(utils.Add(a.Value, b.Value))
	return t.push(out, anyNeedsGrad(a, b), func(n *Node) {
		accum(a, n.Grad)
		accum(b, n.Grad)
	})
}

func (t *Tape) Sub(a, b *Node) *Node {
	var out mat.Dense
	out.Sub(a.Value, b.Value)
	return t.push(&out, anyNeedsGrad(a, b), func(n *Node) {
		accum(a, n.Grad)
		accum(b, utils.Scale(-1, n.Grad))
	})
}

// Mul is the elementwise product.
func (t *Tape) Mul(a, b *Node) *Node {
	out := utils.ToDense(utils.Multiply(a.Value, b.Value))
	return t.push(out, anyNeedsGrad(a, b), func(n *Node) {
		if a.needsGrad {
			accum(a, utils.Multiply(n.Grad, b.Value))
		}
		if b.needsGrad {
			accum(b, utils.Multiply(n.Grad, a.Value))
		}
	})
}

func (t *Tape) Scale(s float64, a *Node) *Node {
	out := utils.ToDense(utils.Scale(s, a.Value))
	return t.push(out, a.needsGrad, func(n *Node) {
		accum(a, utils.Scale(s, n.Grad))
	})
}

// AddColVec adds v (r x 1) to every column of a (r x c).
func (t *Tape) AddColVec(a, v *Node) *Node {
	r, c := a.Dims()
	if vr, vc := v.Dims(); vr != r || vc != 1 {
		panic(fmt.Sprintf("AddColVec: vector is %dx%d, want %dx1", vr, vc, r))
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		b := v.Value.At(i, 0)
		for j := 0; j < c; j++ {
			out.Set(i, j, a.Value.At(i, j)+b)
		}
	}
	return t.push(out, anyNeedsGrad(a, v), func(n *Node) {
		accum(a, n.Grad)
		if v.needsGrad {
			accum(v, mat.NewDense(r, 1, utils.RowSums(n.Grad)))
		}
	})
}

// AddRowVec adds v (1 x c) to every row of a (r x c).
func (t *Tape) AddRowVec(a, v *Node) *Node {
	r, c := a.Dims()
	if vr, vc := v.Dims(); vr != 1 || vc != c {
		panic(fmt.Sprintf("AddRowVec: vector is %dx%d, want 1x%d", vr, vc, c))
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, a.Value.At(i, j)+v.Value.At(0, j))
		}
	}
	return t.push(out, anyNeedsGrad(a, v), func(n *Node) {
		accum(a, n.Grad)
		if v.needsGrad {
			sums := mat.NewDense(1, c, nil)
			for i := 0; i < r; i++ {
				for j := 0; j < c; j++ {
					sums.Set(0, j, sums.At(0, j)+n.Grad.At(i, j))
				}
			}
			accum(v, sums)
		}
	})
}

// BroadcastCols repeats v (r x 1) into c columns.
func (t *Tape) BroadcastCols(v *Node, c int) *Node {
	r, vc := v.Dims()
	if vc != 1 {
		panic("BroadcastCols expects a column vector")
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		x := v.Value.At(i, 0)
		for j := 0; j < c; j++ {
			out.Set(i, j, x)
		}
	}
	return t.push(out, v.needsGrad, func(n *Node) {
		accum(v, mat.NewDense(r, 1, utils.RowSums(n.Grad)))
	})
}

func (t *Tape) unary(a *Node, f func(x float64) float64, df func(x, y float64) float64) *Node {
	r, c := a.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, x float64) float64 { return f(x) }, a.Value)
	return t.push(out, a.needsGrad, func(n *Node) {
		d := mat.NewDense(r, c, nil)
		d.Apply(func(i, j int, g float64) float64 {
			return g * df(a.Value.At(i, j), out.At(i, j))
		}, n.Grad)
		accum(a, d)
	})
}

func (t *Tape) Sigmoid(a *Node) *Node {
	return t.unary(a,
		func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
		func(_, y float64) float64 { return y * (1 - y) })
}

func (t *Tape) Tanh(a *Node) *Node {
	return t.unary(a, math.Tanh, func(_, y float64) float64 { return 1 - y*y })
}

func (t *Tape) ReLU(a *Node) *Node {
	return t.unary(a,
		func(x float64) float64 { return math.Max(0, x) },
		func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		})
}

// Slice copies rows [r0,r1) and columns [c0,c1) of a.
func (t *Tape) Slice(a *Node, r0, r1, c0, c1 int) *Node {
	out := mat.DenseCopyOf(a.Value.Slice(r0, r1, c0, c1))
	return t.push(out, a.needsGrad, func(n *Node) {
		if a.Grad == nil {
			r, c := a.Dims()
			a.Grad = mat.NewDense(r, c, nil)
		}
		dst := a.Grad.Slice(r0, r1, c0, c1).(*mat.Dense)
		dst.Add(dst, n.Grad)
	})
}

// Col is Slice for a single column.
func (t *Tape) Col(a *Node, j int) *Node {
	r, _ := a.Dims()
	return t.Slice(a, 0, r, j, j+1)
}

// ConcatRows stacks nodes vertically; all must share the column count.
func (t *Tape) ConcatRows(parts ...*Node) *Node {
	_, c := parts[0].Dims()
	rows := 0
	for _, p := range parts {
		pr, pc := p.Dims()
		if pc != c {
			panic(fmt.Sprintf("ConcatRows: column mismatch %d vs %d", pc, c))
		}
		rows += pr
	}
	out := mat.NewDense(rows, c, nil)
	off := 0
	for _, p := range parts {
		pr, _ := p.Dims()
		out.Slice(off, off+pr, 0, c).(*mat.Dense).Copy(p.Value)
		off += pr
	}
	return t.push(out, anyNeedsGrad(parts...), func(n *Node) {
		off := 0
		for _, p := range parts {
			pr, _ := p.Dims()
			accum(p, n.Grad.Slice(off, off+pr, 0, c))
			off += pr
		}
	})
}

// ConcatCols places nodes side by side; all must share the row count.
func (t *Tape) ConcatCols(parts ...*Node) *Node {
	r, _ := parts[0].Dims()
	cols := 0
	for _, p := range parts {
		pr, pc := p.Dims()
		if pr != r {
			panic(fmt.Sprintf("ConcatCols: row mismatch %d vs %d", pr, r))
		}
		cols += pc
	}
	out := mat.NewDense(r, cols, nil)
	off := 0
	for _, p := range parts {
		_, pc := p.Dims()
		out.Slice(0, r, off, off+pc).(*mat.Dense).Copy(p.Value)
		off += pc
	}
	return t.push(out, anyNeedsGrad(parts...), func(n *Node) {
		off := 0
		for _, p := range parts {
			_, pc := p.Dims()
			accum(p, n.Grad.Slice(0, r, off, off+pc))
			off += pc
		}
	})
}

// Gather picks columns ids of table (d x V). Column padIdx never receives
// a gradient; pass -1 to disable.
func (t *Tape) Gather(table *Node, ids []int, padIdx int) *Node {
	d, _ := table.Dims()
	out := mat.NewDense(d, len(ids), nil)
	for j, id := range ids {
		for i := 0; i < d; i++ {
			out.Set(i, j, table.Value.At(i, id))
		}
	}
	return t.push(out, table.needsGrad, func(n *Node) {
		if table.Grad == nil {
			r, c := table.Dims()
			table.Grad = mat.NewDense(r, c, nil)
		}
		for j, id := range ids {
			if id == padIdx {
				continue
			}
			for i := 0; i < d; i++ {
				table.Grad.Set(i, id, table.Grad.At(i, id)+n.Grad.At(i, j))
			}
		}
	})
}

// Dropout zeroes entries with probability p and rescales the rest. It is
// the identity outside training.
func (t *Tape) Dropout(a *Node, p float64) *Node {
	if !t.Training || p <= 0 {
		return a
	}
	if t.rng == nil {
		panic("Dropout: tape has no random source")
	}
	r, c := a.Dims()
	keep := mat.NewDense(r, c, nil)
	scale := 1 / (1 - p)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if t.rng.Float64() >= p {
				keep.Set(i, j, scale)
			}
		}
	}
	out := utils.ToDense(utils.Multiply(a.Value, keep))
	return t.push(out, a.needsGrad, func(n *Node) {
		accum(a, utils.Multiply(n.Grad, keep))
	})
}

// MaskedSoftmax is a row-wise softmax of a + bias. bias holds 0 for live
// entries and utils.NegInf for masked ones; nil means no mask.
func (t *Tape) MaskedSoftmax(a *Node, bias *mat.Dense) *Node {
	out := utils.ZerosLike(a.Value)
	utils.RowSoftmaxMaskedInPlace(out, a.Value, bias)
	return t.push(out, a.needsGrad, func(n *Node) {
		accum(a, utils.SoftmaxBackward(n.Grad, out))
	})
}

// RowMax takes the maximum of every row of a over unmasked columns and
// returns an (r x 1) node. Fully masked rows yield 0.
func (t *Tape) RowMax(a *Node, bias *mat.Dense) *Node {
	r, c := a.Dims()
	out := mat.NewDense(r, 1, nil)
	arg := make([]int, r)
	for i := 0; i < r; i++ {
		arg[i] = -1
		best := math.Inf(-1)
		for j := 0; j < c; j++ {
			if bias != nil && bias.At(i, j) <= utils.NegInf/2 {
				continue
			}
			if v := a.Value.At(i, j); v > best {
				best = v
				arg[i] = j
			}
		}
		if arg[i] >= 0 {
			out.Set(i, 0, best)
		}
	}
	return t.push(out, a.needsGrad, func(n *Node) {
		d := mat.NewDense(r, c, nil)
		for i, j := range arg {
			if j >= 0 {
				d.Set(i, j, n.Grad.At(i, 0))
			}
		}
		accum(a, d)
	})
}

// SoftmaxCrossEntropy is the mean negative log-likelihood of labels under a
// column-wise softmax of logits (classes x batch). bias, when non-nil, masks
// classes per column the same way MaskedSoftmax does.
func (t *Tape) SoftmaxCrossEntropy(logits *Node, labels []int, bias *mat.Dense) *Node {
	k, b := logits.Dims()
	if len(labels) != b {
		panic(fmt.Sprintf("SoftmaxCrossEntropy: %d labels for %d columns", len(labels), b))
	}
	probs := mat.NewDense(b, k, nil)
	var biasT *mat.Dense
	if bias != nil {
		biasT = mat.DenseCopyOf(bias.T())
	}
	utils.RowSoftmaxMaskedInPlace(probs, mat.DenseCopyOf(logits.Value.T()), biasT)
	loss := 0.0
	for j, y := range labels {
		loss -= math.Log(probs.At(j, y) + 1e-12)
	}
	loss /= float64(b)
	out := mat.NewDense(1, 1, []float64{loss})
	return t.push(out, logits.needsGrad, func(n *Node) {
		g := n.Grad.At(0, 0) / float64(b)
		d := mat.NewDense(k, b, nil)
		for j, y := range labels {
			for i := 0; i < k; i++ {
				p := probs.At(j, i)
				if i == y {
					p -= 1
				}
				d.Set(i, j, g*p)
			}
		}
		accum(logits, d)
	})
}
