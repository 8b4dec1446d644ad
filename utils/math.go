package utils

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Matrix functions used across the model and the trainer.

// r = rows of matrix
// c = columns of matrix
// o = output
// m = matrix input number 1
// n = matrix input number 2

// NegInf is the additive bias that removes a position from a softmax.
const NegInf = -1e30

func Dot(m, n mat.Matrix) mat.Matrix {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Product(m, n)
	return o
}

func Scale(s float64, m mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Scale(s, m)
	return o
}

func Multiply(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.MulElem(m, n)
	return o
}

func Add(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Add(m, n)
	return o
}

func ToDense(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}

func ZerosLike(a mat.Matrix) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

// Raw returns the backing slice of a contiguous dense matrix.
func Raw(a *mat.Dense) []float64 {
	raw := a.RawMatrix()
	if raw.Stride != raw.Cols {
		panic("utils.Raw: matrix is not contiguous")
	}
	return raw.Data[:raw.Rows*raw.Cols]
}

// RandomArray draws size values from U(-1/sqrt(v), 1/sqrt(v)).
func RandomArray(rng *rand.Rand, size int, v float64) []float64 {
	dist := distuv.Uniform{
		Min: -1.0 / math.Sqrt(v+1e-12),
		Max: 1.0 / math.Sqrt(v+1e-12),
		Src: rng,
	}
	out := make([]float64, size)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}

func MatrixNorm(m *mat.Dense) float64 {
	return floats.Norm(Raw(m), 2)
}

// RowSums returns per-row sums for a mat.Dense.
func RowSums(m *mat.Dense) []float64 {
	r, _ := m.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		out[i] = floats.Sum(m.RawRowView(i))
	}
	return out
}

// Masking stuff

// MaskBias builds an (r x c) additive mask: 0 where keep(i, j), NegInf elsewhere.
func MaskBias(r, c int, keep func(i, j int) bool) *mat.Dense {
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if !keep(i, j) {
				out.Set(i, j, NegInf)
			}
		}
	}
	return out
}

// ---------- Softmax variants ----------

// RowSoftmaxMaskedInPlace writes softmax(m+mask) into dst (r x c) in place.
// A row whose entries are all masked is written as zeros.
func RowSoftmaxMaskedInPlace(dst, m, mask *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	if dr, dc := dst.Dims(); dr != r || dc != c {
		panic("RowSoftmaxMaskedInPlace: dst shape mismatch")
	}
	if mask != nil {
		if mr, mc := mask.Dims(); mr != r || mc != c {
			panic("RowSoftmaxMaskedInPlace: mask shape mismatch")
		}
	}
	bias := func(i, j int) float64 {
		if mask == nil {
			return 0
		}
		return mask.At(i, j)
	}
	for i := 0; i < r; i++ {
		mx := math.Inf(-1)
		live := false
		for j := 0; j < c; j++ {
			if bias(i, j) <= NegInf/2 {
				continue
			}
			live = true
			if v := m.At(i, j) + bias(i, j); v > mx {
				mx = v
			}
		}
		if !live {
			for j := 0; j < c; j++ {
				dst.Set(i, j, 0)
			}
			continue
		}
		sum := 0.0
		for j := 0; j < c; j++ {
			e := math.Exp(m.At(i, j) + bias(i, j) - mx)
			dst.Set(i, j, e)
			sum += e
		}
		inv := 1.0 / sum
		for j := 0; j < c; j++ {
			dst.Set(i, j, dst.At(i, j)*inv)
		}
	}
	return dst
}

// Softmax backward for row-wise softmax used in attention.
// Vector-JVP form: for each row i,
// s = sum_k dA[i,k] * A[i,k]; dS[i,j] = A[i,j] * (dA[i,j] - s)
func SoftmaxBackward(dA mat.Matrix, A *mat.Dense) *mat.Dense {
	r, c := A.Dims()
	dS := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		s := 0.0
		for k := 0; k < c; k++ {
			s += dA.At(i, k) * A.At(i, k)
		}
		for j := 0; j < c; j++ {
			aj := A.At(i, j)
			dS.Set(i, j, aj*(dA.At(i, j)-s))
		}
	}
	return dS
}

// ArgmaxCols returns the argmax row index of every column.
func ArgmaxCols(m mat.Matrix) []int {
	r, c := m.Dims()
	out := make([]int, c)
	for j := 0; j < c; j++ {
		best := m.At(0, j)
		for i := 1; i < r; i++ {
			if v := m.At(i, j); v > best {
				best = v
				out[j] = i
			}
		}
	}
	return out
}

// Accuracy is the fraction of positions where yTrue and yPred agree.
func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) != len(yPred) {
		panic(fmt.Sprintf("Accuracy: length mismatch %d vs %d", len(yTrue), len(yPred)))
	}
	if len(yTrue) == 0 {
		return 0
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue))
}

// ---------- Debugging ----------

func Debugf(format string, args ...any) {
	fmt.Printf("[debug] "+format+"\n", args...)
}
