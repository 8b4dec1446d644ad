package optimizations

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/bidaf/autograd"
	"github.com/manningwu07/bidaf/params"
)

func newParam(name string, vals ...float64) *autograd.Param {
	return autograd.NewParam(name, mat.NewDense(1, len(vals), vals))
}

func TestClipGradNormBoundsNorm(t *testing.T) {
	a := newParam("a", 0, 0)
	b := newParam("b", 0)
	a.Grad = mat.NewDense(1, 2, []float64{30, 40})
	b.Grad = mat.NewDense(1, 1, []float64{120})
	ps := []*autograd.Param{a, b}

	norm, err := ClipGradNorm(ps, 5.0)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(norm-130) > 1e-9 {
		t.Fatalf("pre-clip norm = %v, want 130", norm)
	}
	if after := GradNorm(ps); after > 5.0 {
		t.Fatalf("clipped norm %v exceeds 5", after)
	}
	// direction is preserved
	if r := a.Grad.At(0, 1) / a.Grad.At(0, 0); math.Abs(r-4.0/3.0) > 1e-12 {
		t.Fatalf("clip changed gradient direction: ratio %v", r)
	}
}

func TestClipGradNormLeavesSmallGrads(t *testing.T) {
	a := newParam("a", 0, 0)
	a.Grad = mat.NewDense(1, 2, []float64{0.3, 0.4})
	if _, err := ClipGradNorm([]*autograd.Param{a}, 5.0); err != nil {
		t.Fatal(err)
	}
	if a.Grad.At(0, 0) != 0.3 || a.Grad.At(0, 1) != 0.4 {
		t.Fatalf("small gradient was modified: %v", mat.Formatted(a.Grad))
	}
}

func TestClipGradNormRejectsNaN(t *testing.T) {
	a := newParam("a", 0)
	a.Grad = mat.NewDense(1, 1, []float64{math.NaN()})
	if _, err := ClipGradNorm([]*autograd.Param{a}, 5.0); !errors.Is(err, ErrBadGradient) {
		t.Fatalf("got %v, want ErrBadGradient", err)
	}
}

func TestEMAUpdateFollowsDecayRule(t *testing.T) {
	p := newParam("w", 1)
	e := NewEMA([]*autograd.Param{p}, 0.999)
	p.Value.Set(0, 0, 3)
	// n=0 -> decay = min(0.999, 1/10) = 0.1
	if err := e.Update([]*autograd.Param{p}, 0); err != nil {
		t.Fatal(err)
	}
	want := 0.1*1 + 0.9*3
	if got := e.Shadow("w").At(0, 0); math.Abs(got-want) > 1e-12 {
		t.Fatalf("shadow = %v, want %v", got, want)
	}
	// large n saturates at Decay
	before := e.Shadow("w").At(0, 0)
	if err := e.Update([]*autograd.Param{p}, 1_000_000); err != nil {
		t.Fatal(err)
	}
	want = 0.999*before + 0.001*3
	if got := e.Shadow("w").At(0, 0); math.Abs(got-want) > 1e-12 {
		t.Fatalf("shadow = %v, want %v", got, want)
	}
}

func TestEMAAssignResumeIsNonDestructive(t *testing.T) {
	w := newParam("w", 1, 2)
	frozen := newParam("emb", 7)
	frozen.Frozen = true
	ps := []*autograd.Param{w, frozen}
	e := NewEMA(ps, 0.5)
	w.Value.Set(0, 0, 5)
	w.Value.Set(0, 1, 6)
	if err := e.Update(ps, 1_000); err != nil {
		t.Fatal(err)
	}
	live := mat.DenseCopyOf(w.Value)
	ptr := w.Value

	if err := e.Assign(ps); err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(w.Value, e.Shadow("w")) {
		t.Fatal("assign did not load shadow values")
	}
	if err := e.Assign(ps); !errors.Is(err, ErrEMAAssigned) {
		t.Fatalf("second assign: got %v, want ErrEMAAssigned", err)
	}
	if err := e.Update(ps, 1); !errors.Is(err, ErrEMAAssigned) {
		t.Fatalf("update while assigned: got %v, want ErrEMAAssigned", err)
	}
	if err := e.Resume(ps); err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(w.Value, live) {
		t.Fatalf("live weights changed across assign/resume: %v vs %v", mat.Formatted(w.Value), mat.Formatted(live))
	}
	if w.Value != ptr {
		t.Fatal("assign/resume must keep the parameter storage")
	}
	if frozen.Value.At(0, 0) != 7 || e.Shadow("emb") != nil {
		t.Fatal("frozen params are not tracked")
	}
	if err := e.Resume(ps); !errors.Is(err, ErrEMANotAssigned) {
		t.Fatalf("double resume: got %v, want ErrEMANotAssigned", err)
	}
}

func TestAdamMovesAgainstGradient(t *testing.T) {
	p := newParam("w", 1, -1)
	p.Grad = mat.NewDense(1, 2, []float64{2, -2})
	NewAdam(0.9, 0.999, 1e-8, 0).Step([]*autograd.Param{p}, 0.1)
	// first bias-corrected Adam step is lr * sign(g)
	if math.Abs(p.Value.At(0, 0)-0.9) > 1e-6 || math.Abs(p.Value.At(0, 1)+0.9) > 1e-6 {
		t.Fatalf("unexpected Adam step: %v", mat.Formatted(p.Value))
	}
}

func TestAdadeltaFirstStep(t *testing.T) {
	p := newParam("w", 1)
	p.Grad = mat.NewDense(1, 1, []float64{1})
	frozen := newParam("f", 1)
	frozen.Frozen = true
	frozen.Grad = mat.NewDense(1, 1, []float64{1})
	NewAdadelta(0.9, 1e-6, 0).Step([]*autograd.Param{p, frozen}, 0.5)

	sq := 0.1
	delta := math.Sqrt(1e-6) / math.Sqrt(sq+1e-6)
	if want := 1 - 0.5*delta; math.Abs(p.Value.At(0, 0)-want) > 1e-12 {
		t.Fatalf("adadelta step = %v, want %v", p.Value.At(0, 0), want)
	}
	if frozen.Value.At(0, 0) != 1 {
		t.Fatal("frozen param was updated")
	}
}

func TestSchedulerConstantAndCosine(t *testing.T) {
	cfg := params.DefaultTrainingConfig()
	s := NewScheduler(cfg)
	for i := 0; i < 5; i++ {
		if s.LR() != cfg.LR {
			t.Fatalf("constant schedule changed LR to %v", s.LR())
		}
		s.Step()
	}

	cfg.Schedule = params.ScheduleCosine
	cfg.LR = 1
	cfg.WarmupSteps = 4
	cfg.DecaySteps = 10
	c := NewScheduler(cfg)
	if got := c.LR(); math.Abs(got-0.25) > 1e-12 {
		t.Fatalf("warmup step 1 LR = %v, want 0.25", got)
	}
	for i := 0; i < 3; i++ {
		c.Step()
	}
	if got := c.LR(); got != 1 {
		t.Fatalf("peak LR = %v, want 1", got)
	}
	if got := LRSchedule(100, 1, 4, 10); got != 0 {
		t.Fatalf("LR after decay = %v, want 0", got)
	}
}
