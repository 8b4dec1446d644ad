package autograd

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/bidaf/utils"
)

func randDense(rng *rand.Rand, r, c int) *mat.Dense {
	return mat.NewDense(r, c, utils.RandomArray(rng, r*c, 1))
}

// weightedSum reduces x to a scalar sum(x .* w) so every entry of x
// contributes a distinct gradient.
func weightedSum(tp *Tape, x *Node, w *mat.Dense) *Node {
	r, c := x.Dims()
	ones := func(n int) *mat.Dense {
		d := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			d.Set(i, 0, 1)
		}
		return d
	}
	prod := tp.Mul(x, tp.Const(w))
	rowSum := tp.MatMul(tp.Transpose(tp.Const(ones(r))), prod)
	return tp.MatMul(rowSum, tp.Const(ones(c)))
}

// finiteDiffCheck compares every entry of p.Grad with a central difference.
func finiteDiffCheck(t *testing.T, name string, p *Param, build func(tp *Tape) *Node) {
	t.Helper()
	p.ZeroGrad()
	tp := NewTape(true, nil)
	if err := tp.Backward(build(tp)); err != nil {
		t.Fatalf("%s: backward: %v", name, err)
	}

	eps := 1e-6
	r, c := p.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			w0 := p.Value.At(i, j)

			p.Value.Set(i, j, w0+eps)
			lp := build(NewTape(false, nil)).At(0, 0)

			p.Value.Set(i, j, w0-eps)
			lm := build(NewTape(false, nil)).At(0, 0)

			p.Value.Set(i, j, w0)

			numGrad := (lp - lm) / (2.0 * eps)
			anaGrad := p.Grad.At(i, j)
			if math.Abs(numGrad-anaGrad) > 1e-5*math.Max(1, math.Abs(numGrad)) {
				t.Fatalf("%s[%d,%d] grad mismatch: num=%.8g ana=%.8g", name, i, j, numGrad, anaGrad)
			}
		}
	}
}

func TestMatMulAndTransposeGrad(t *testing.T) {
	rng := rand.New(rand.NewPCG(123, 123))
	a := NewParam("a", randDense(rng, 3, 4))
	b := NewParam("b", randDense(rng, 4, 2))
	w := randDense(rng, 2, 3)
	build := func(tp *Tape) *Node {
		y := tp.Transpose(tp.MatMul(tp.Param(a), tp.Param(b)))
		return weightedSum(tp, y, w)
	}
	finiteDiffCheck(t, "a", a, build)
	finiteDiffCheck(t, "b", b, build)
}

func TestElementwiseGrads(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	x := NewParam("x", randDense(rng, 3, 3))
	y := NewParam("y", randDense(rng, 3, 3))
	w := randDense(rng, 3, 3)
	build := func(tp *Tape) *Node {
		px, py := tp.Param(x), tp.Param(y)
		s := tp.Sigmoid(tp.Add(px, py))
		h := tp.Tanh(tp.Sub(px, tp.Scale(0.5, py)))
		r := tp.ReLU(tp.Mul(px, py))
		return weightedSum(tp, tp.Add(tp.Mul(s, h), r), w)
	}
	finiteDiffCheck(t, "x", x, build)
	finiteDiffCheck(t, "y", y, build)
}

func TestBroadcastGrads(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	a := NewParam("a", randDense(rng, 3, 4))
	col := NewParam("col", randDense(rng, 3, 1))
	row := NewParam("row", randDense(rng, 1, 4))
	w := randDense(rng, 3, 4)
	build := func(tp *Tape) *Node {
		y := tp.AddRowVec(tp.AddColVec(tp.Param(a), tp.Param(col)), tp.Param(row))
		y = tp.Mul(y, tp.BroadcastCols(tp.Param(col), 4))
		return weightedSum(tp, y, w)
	}
	finiteDiffCheck(t, "a", a, build)
	finiteDiffCheck(t, "col", col, build)
	finiteDiffCheck(t, "row", row, build)
}

func TestSliceConcatGrads(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	a := NewParam("a", randDense(rng, 4, 3))
	w := randDense(rng, 6, 5)
	build := func(tp *Tape) *Node {
		pa := tp.Param(a)
		top := tp.Slice(pa, 0, 2, 0, 3)
		bottom := tp.Slice(pa, 2, 4, 0, 3)
		stacked := tp.ConcatRows(bottom, top, tp.Tanh(top)) // (6 x 3)
		wide := tp.ConcatCols(stacked, tp.Col(stacked, 1), tp.Zeros(6, 1))
		return weightedSum(tp, wide, w)
	}
	finiteDiffCheck(t, "a", a, build)
}

func TestGatherSkipsPadding(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	table := NewParam("table", randDense(rng, 3, 5))
	tp := NewTape(true, nil)
	g := tp.Gather(tp.Param(table), []int{2, 0, 2, 4}, 0)
	w := mat.NewDense(3, 4, nil)
	w.Apply(func(_, _ int, _ float64) float64 { return 1 }, w)
	if err := tp.Backward(weightedSum(tp, g, w)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if got := table.Grad.At(i, 0); got != 0 {
			t.Fatalf("padding column got gradient %v", got)
		}
		if got := table.Grad.At(i, 2); got != 2 {
			t.Fatalf("column 2 used twice, grad=%v want 2", got)
		}
		if got := table.Grad.At(i, 1); got != 0 {
			t.Fatalf("unused column got gradient %v", got)
		}
	}
}

func TestMaskedSoftmaxGradAndMass(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	a := NewParam("a", randDense(rng, 3, 5))
	bias := utils.MaskBias(3, 5, func(i, j int) bool { return j < 3 && i != 2 })
	w := randDense(rng, 3, 5)
	build := func(tp *Tape) *Node {
		return weightedSum(tp, tp.MaskedSoftmax(tp.Param(a), bias), w)
	}
	finiteDiffCheck(t, "a", a, build)

	probs := NewTape(false, nil).MaskedSoftmax(NewTape(false, nil).Const(a.Value), bias)
	for i := 0; i < 2; i++ {
		sum := 0.0
		for j := 0; j < 5; j++ {
			p := probs.At(i, j)
			if j >= 3 && p != 0 {
				t.Fatalf("masked entry (%d,%d) has mass %v", i, j, p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Fatalf("row %d sums to %v", i, sum)
		}
	}
	for j := 0; j < 5; j++ {
		if probs.At(2, j) != 0 {
			t.Fatalf("fully masked row must be zero, got %v at %d", probs.At(2, j), j)
		}
	}
}

func TestRowMaxGrad(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	a := NewParam("a", randDense(rng, 4, 3))
	bias := utils.MaskBias(4, 3, func(_, j int) bool { return j != 1 })
	w := randDense(rng, 4, 1)
	build := func(tp *Tape) *Node {
		return weightedSum(tp, tp.RowMax(tp.Param(a), bias), w)
	}
	finiteDiffCheck(t, "a", a, build)
}

func TestSoftmaxCrossEntropyGrad(t *testing.T) {
	rng := rand.New(rand.NewPCG(13, 14))
	logits := NewParam("logits", randDense(rng, 4, 3))
	labels := []int{0, 3, 1}
	build := func(tp *Tape) *Node {
		return tp.SoftmaxCrossEntropy(tp.Param(logits), labels, nil)
	}
	finiteDiffCheck(t, "logits", logits, build)
}

func TestSharedParamAccumulates(t *testing.T) {
	p := NewParam("p", mat.NewDense(1, 1, []float64{3}))
	tp := NewTape(true, nil)
	x := tp.Param(p)
	if tp.Param(p) != x {
		t.Fatal("param node should be cached per tape")
	}
	out := tp.Mul(x, x)
	if err := tp.Backward(out); err != nil {
		t.Fatal(err)
	}
	if got := p.Grad.At(0, 0); got != 6 {
		t.Fatalf("d(x^2)/dx at 3 = %v, want 6", got)
	}
}

func TestFrozenParamGetsNoGrad(t *testing.T) {
	p := NewParam("p", mat.NewDense(1, 1, []float64{2}))
	p.Frozen = true
	q := NewParam("q", mat.NewDense(1, 1, []float64{5}))
	tp := NewTape(true, nil)
	if err := tp.Backward(tp.Mul(tp.Param(p), tp.Param(q))); err != nil {
		t.Fatal(err)
	}
	if p.Grad.At(0, 0) != 0 {
		t.Fatalf("frozen param received gradient %v", p.Grad.At(0, 0))
	}
	if q.Grad.At(0, 0) != 2 {
		t.Fatalf("q grad = %v, want 2", q.Grad.At(0, 0))
	}
}

func TestDropoutIdentityOutsideTraining(t *testing.T) {
	rng := rand.New(rand.NewPCG(15, 16))
	tp := NewTape(false, rng)
	x := tp.Const(randDense(rng, 2, 2))
	if tp.Dropout(x, 0.5) != x {
		t.Fatal("dropout must be a no-op in eval mode")
	}
	train := NewTape(true, rng)
	y := train.Dropout(train.Const(mat.NewDense(50, 50, utils.RandomArray(rng, 2500, 1))), 0.5)
	zeros := 0
	r, c := y.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if y.At(i, j) == 0 {
				zeros++
			}
		}
	}
	if zeros < 1000 || zeros > 1500 {
		t.Fatalf("dropout zeroed %d of 2500 entries at p=0.5", zeros)
	}
}

func TestBackwardRejectsNonScalar(t *testing.T) {
	tp := NewTape(true, nil)
	p := NewParam("p", mat.NewDense(2, 2, nil))
	if err := tp.Backward(tp.Param(p)); err != ErrNotScalar {
		t.Fatalf("got %v, want ErrNotScalar", err)
	}
}
