package optimizations

import (
	"math"

	"github.com/manningwu07/bidaf/params"
)

// Scheduler yields the learning rate for the current step; Step advances it
// once per optimizer update.
type Scheduler struct {
	Peak        float64
	WarmupSteps int
	DecaySteps  int
	Cosine      bool

	step int
}

func NewScheduler(cfg params.TrainingConfig) *Scheduler {
	return &Scheduler{
		Peak:        cfg.LR,
		WarmupSteps: cfg.WarmupSteps,
		DecaySteps:  cfg.DecaySteps,
		Cosine:      cfg.Schedule == params.ScheduleCosine,
	}
}

func (s *Scheduler) Step() { s.step++ }

// LR for the next update. The constant schedule ignores the step count.
func (s *Scheduler) LR() float64 {
	if !s.Cosine {
		return s.Peak
	}
	return LRSchedule(s.step+1, s.Peak, s.WarmupSteps, s.DecaySteps)
}

// LRSchedule is linear warmup to peak followed by cosine decay to zero.
func LRSchedule(step int, peak float64, warmup, decay int) float64 {
	if step <= 0 {
		return 0
	}
	if warmup > 0 && step < warmup {
		return peak * float64(step) / float64(warmup)
	}
	if decay > 0 {
		x := float64(step-warmup) / float64(decay)
		if x > 1 {
			x = 1
		} else if x < 0 {
			x = 0
		}
		return peak * 0.5 * (1 + math.Cos(math.Pi*x))
	}
	return peak
}
