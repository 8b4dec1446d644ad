package optimizations

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/manningwu07/bidaf/autograd"
	"github.com/manningwu07/bidaf/utils"
)

var ErrBadGradient = errors.New("gradient norm is not finite")

// GradNorm is the global L2 norm over the gradients of trainable params.
func GradNorm(params []*autograd.Param) float64 {
	sum := 0.0
	for _, p := range params {
		if p.Frozen {
			continue
		}
		g := utils.Raw(p.Grad)
		sum += floats.Dot(g, g)
	}
	return math.Sqrt(sum)
}

// ClipGradNorm scales all gradients so their combined norm <= maxNorm and
// returns the norm measured before clipping. maxNorm <= 0 disables it.
func ClipGradNorm(params []*autograd.Param, maxNorm float64) (float64, error) {
	norm := GradNorm(params)
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return norm, ErrBadGradient
	}
	if maxNorm <= 0 || norm <= maxNorm {
		return norm, nil
	}
	s := maxNorm / (norm + 1e-6)
	for _, p := range params {
		if !p.Frozen {
			floats.Scale(s, utils.Raw(p.Grad))
		}
	}
	return norm, nil
}

func ZeroGrads(params []*autograd.Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
