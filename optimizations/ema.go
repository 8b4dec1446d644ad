package optimizations

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/bidaf/autograd"
	"github.com/manningwu07/bidaf/utils"
)

var (
	ErrEMAAssigned    = errors.New("ema: shadow weights are already assigned")
	ErrEMANotAssigned = errors.New("ema: no live weights saved to resume")
)

// EMA keeps a shadow copy of every trainable parameter:
//
//	shadow = d*shadow + (1-d)*param, d = min(Decay, (1+n)/(10+n))
//
// Assign swaps the shadow values into the live parameters for evaluation
// and keeps the live values aside; Resume puts them back. Between the two,
// Update and a second Assign are refused so the saved copy cannot be lost.
type EMA struct {
	Decay float64

	shadow   map[string]*mat.Dense
	original map[string]*mat.Dense
}

func NewEMA(params []*autograd.Param, decay float64) *EMA {
	e := &EMA{Decay: decay, shadow: make(map[string]*mat.Dense)}
	for _, p := range params {
		if p.Frozen {
			continue
		}
		e.shadow[p.Name] = mat.DenseCopyOf(p.Value)
	}
	return e
}

// Assigned reports whether the live values are currently swapped out.
func (e *EMA) Assigned() bool {
	return e.original != nil
}

// Shadow returns the averaged value tracked for name, or nil.
func (e *EMA) Shadow(name string) *mat.Dense {
	return e.shadow[name]
}

func (e *EMA) Update(params []*autograd.Param, numUpdates int) error {
	if e.Assigned() {
		return ErrEMAAssigned
	}
	decay := min(e.Decay, (1.0+float64(numUpdates))/(10.0+float64(numUpdates)))
	for _, p := range params {
		s, ok := e.shadow[p.Name]
		if !ok {
			continue
		}
		sd := utils.Raw(s)
		floats.Scale(decay, sd)
		floats.AddScaled(sd, 1-decay, utils.Raw(p.Value))
	}
	return nil
}

func (e *EMA) Assign(params []*autograd.Param) error {
	if e.Assigned() {
		return ErrEMAAssigned
	}
	original := make(map[string]*mat.Dense, len(e.shadow))
	for _, p := range params {
		s, ok := e.shadow[p.Name]
		if !ok {
			continue
		}
		if r, c := p.Dims(); !sameDims(s, r, c) {
			return fmt.Errorf("ema: %s changed shape to %dx%d", p.Name, r, c)
		}
		original[p.Name] = mat.DenseCopyOf(p.Value)
	}
	for _, p := range params {
		if s, ok := e.shadow[p.Name]; ok {
			p.Value.Copy(s)
		}
	}
	e.original = original
	return nil
}

func (e *EMA) Resume(params []*autograd.Param) error {
	if !e.Assigned() {
		return ErrEMANotAssigned
	}
	for _, p := range params {
		if o, ok := e.original[p.Name]; ok {
			p.Value.Copy(o)
		}
	}
	e.original = nil
	return nil
}

func sameDims(m *mat.Dense, r, c int) bool {
	mr, mc := m.Dims()
	return mr == r && mc == c
}
