// Package autograd records matrix operations on a tape and replays them in
// reverse to compute gradients. Values are gonum dense matrices; a layer is
// written once as a forward composition of tape ops and gets its backward
// pass for free.
package autograd

import (
	"errors"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

var ErrNotScalar = errors.New("autograd: backward needs a 1x1 output")

// Param is a learnable matrix with an accumulated gradient.
type Param struct {
	Name   string
	Value  *mat.Dense
	Grad   *mat.Dense
	Frozen bool
}

func NewParam(name string, value *mat.Dense) *Param {
	r, c := value.Dims()
	return &Param{Name: name, Value: value, Grad: mat.NewDense(r, c, nil)}
}

func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

func (p *Param) Dims() (int, int) {
	return p.Value.Dims()
}

// Node is one value recorded on a tape.
type Node struct {
	Value *mat.Dense
	Grad  *mat.Dense

	needsGrad bool
	backward  func(n *Node)
}

func (n *Node) Dims() (int, int) {
	return n.Value.Dims()
}

// At is a convenience accessor on the node value.
func (n *Node) At(i, j int) float64 {
	return n.Value.At(i, j)
}

// Tape is not safe for concurrent use; give each goroutine its own.
type Tape struct {
	Training bool

	nodes  []*Node
	params map[*Param]*Node
	rng    *rand.Rand
}

// NewTape returns a tape. Gradients are only tracked when training; rng
// drives dropout and may be nil when no dropout is used.
func NewTape(training bool, rng *rand.Rand) *Tape {
	return &Tape{
		Training: training,
		params:   make(map[*Param]*Node),
		rng:      rng,
	}
}

// Len is the number of recorded nodes.
func (t *Tape) Len() int {
	return len(t.nodes)
}

func (t *Tape) push(value *mat.Dense, needsGrad bool, backward func(n *Node)) *Node {
	n := &Node{Value: value, needsGrad: needsGrad && t.Training}
	if n.needsGrad {
		n.backward = backward
	}
	t.nodes = append(t.nodes, n)
	return n
}

// Const records a value that never receives a gradient.
func (t *Tape) Const(m *mat.Dense) *Node {
	return t.push(m, false, nil)
}

// Zeros records an (r x c) zero constant.
func (t *Tape) Zeros(r, c int) *Node {
	return t.Const(mat.NewDense(r, c, nil))
}

// Param returns the leaf node for p. Repeated calls on one tape share the
// node so gradients from every use are summed before reaching p.Grad.
func (t *Tape) Param(p *Param) *Node {
	if n, ok := t.params[p]; ok {
		return n
	}
	n := t.push(p.Value, !p.Frozen, func(n *Node) {
		p.Grad.Add(p.Grad, n.Grad)
	})
	t.params[p] = n
	return n
}

// Backward seeds d(out)/d(out) = 1 and walks the tape in reverse.
func (t *Tape) Backward(out *Node) error {
	if r, c := out.Dims(); r != 1 || c != 1 {
		return ErrNotScalar
	}
	if !out.needsGrad {
		return nil
	}
	out.Grad = mat.NewDense(1, 1, []float64{1})
	for i := len(t.nodes) - 1; i >= 0; i-- {
		n := t.nodes[i]
		if n.Grad == nil || n.backward == nil {
			continue
		}
		n.backward(n)
	}
	return nil
}

// accum adds delta into n.Grad, allocating it on first use.
func accum(n *Node, delta mat.Matrix) {
	if !n.needsGrad {
		return
	}
	if n.Grad == nil {
		r, c := n.Dims()
		n.Grad = mat.NewDense(r, c, nil)
	}
	n.Grad.Add(n.Grad, delta)
}

func anyNeedsGrad(nodes ...*Node) bool {
	for _, n := range nodes {
		if n.needsGrad {
			return true
		}
	}
	return false
}
