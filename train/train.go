// Package train runs the epoch loop: batched updates with clipping, a
// learning-rate schedule and EMA tracking, then evaluation under the EMA
// weights and periodic checkpoints.
package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/manningwu07/bidaf/IO"
	"github.com/manningwu07/bidaf/autograd"
	"github.com/manningwu07/bidaf/bidaf"
	"github.com/manningwu07/bidaf/optimizations"
	"github.com/manningwu07/bidaf/params"
	"github.com/manningwu07/bidaf/utils"
)

var ErrNonFiniteLoss = errors.New("loss is not finite")

// DataSource yields one epoch of padded batches per call.
type DataSource interface {
	Batches() ([]*IO.Batch, error)
}

type Reporter interface {
	Report(IO.EpochMetrics) error
}

type State int

const (
	Initializing State = iota
	TrainingEpoch
	Evaluating
	Checkpointing
	Done
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case TrainingEpoch:
		return "training"
	case Evaluating:
		return "evaluating"
	case Checkpointing:
		return "checkpointing"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Trainer struct {
	Config params.TrainingConfig
	Model  *bidaf.Model
	Train  DataSource
	Dev    DataSource // nil skips evaluation

	Reporter Reporter    // optional
	OnState  func(State) // optional, called on every transition
	Out      io.Writer   // epoch lines; defaults to stdout

	params  []*autograd.Param
	opt     optimizations.Optimizer
	sched   *optimizations.Scheduler
	ema     *optimizations.EMA
	rng     *rand.Rand
	state   State
	samples int     // training examples seen so far
	steps   int     // optimizer updates so far
	lastLR  float64 // rate used by the latest update
	history []IO.EpochMetrics
}

func NewTrainer(cfg params.TrainingConfig, m *bidaf.Model, trainSrc, dev DataSource) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil || trainSrc == nil {
		return nil, fmt.Errorf("%w: trainer needs a model and a training source", params.ErrInvalidConfig)
	}
	t := &Trainer{
		Config: cfg,
		Model:  m,
		Train:  trainSrc,
		Dev:    dev,
		Out:    os.Stdout,
		params: m.Parameters(),
		sched:  optimizations.NewScheduler(cfg),
		rng:    rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)+1)),
	}
	switch cfg.Optimizer {
	case params.OptAdam:
		t.opt = optimizations.NewAdam(cfg.AdamBeta1, cfg.AdamBeta2, cfg.AdamEps, cfg.WeightDecay)
	default:
		t.opt = optimizations.NewAdadelta(cfg.AdadeltaRho, cfg.AdadeltaEps, cfg.WeightDecay)
	}
	return t, nil
}

func (t *Trainer) State() State { return t.state }

// History holds the metrics of every finished epoch.
func (t *Trainer) History() []IO.EpochMetrics { return t.history }

// EMA is nil until Run starts or when EMA tracking is disabled.
func (t *Trainer) EMA() *optimizations.EMA { return t.ema }

func (t *Trainer) setState(s State) {
	t.state = s
	if t.OnState != nil {
		t.OnState(s)
	}
}

// Run trains for Config.NumEpochs epochs. It stops at the first error; a
// cancelled ctx is noticed between batches.
func (t *Trainer) Run(ctx context.Context) error {
	t.setState(Initializing)
	if t.Config.LoadPath != "" {
		if err := bidaf.LoadModel(t.Model, t.Config.LoadPath); err != nil {
			return err
		}
		fmt.Fprintf(t.Out, "Loaded parameters from %s\n", t.Config.LoadPath)
	}
	if t.Config.EMADecay > 0 {
		t.ema = optimizations.NewEMA(t.params, t.Config.EMADecay)
	}

	for epoch := 1; epoch <= t.Config.NumEpochs; epoch++ {
		start := time.Now()
		t.setState(TrainingEpoch)
		loss, err := t.runEpoch(ctx)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}

		acc, err := t.evaluate(ctx)
		if err != nil {
			return fmt.Errorf("epoch %d: evaluate: %w", epoch, err)
		}

		m := IO.EpochMetrics{Epoch: epoch, Loss: loss, Accuracy: acc, LR: t.lastLR, Elapsed: time.Since(start)}
		t.history = append(t.history, m)
		fmt.Fprintf(t.Out, "Epoch %d - Acc: %.4f, TrainLoss: %.4f, Time: %v\n", epoch, acc, loss, m.Elapsed)
		if t.Config.Debug {
			for _, p := range t.params {
				if !p.Frozen {
					utils.Debugf("epoch %d: %s norm=%.6g", epoch, p.Name, utils.MatrixNorm(p.Value))
				}
			}
		}
		if t.Reporter != nil {
			if err := t.Reporter.Report(m); err != nil {
				return fmt.Errorf("epoch %d: report: %w", epoch, err)
			}
		}

		if t.Config.CheckpointEvery > 0 && epoch%t.Config.CheckpointEvery == 0 {
			t.setState(Checkpointing)
			path := bidaf.CheckpointPath(t.Config.SaveDir, t.Config.RunName, epoch)
			if err := bidaf.SaveModel(t.Model, path); err != nil {
				return fmt.Errorf("epoch %d: checkpoint: %w", epoch, err)
			}
			fmt.Fprintf(t.Out, "Saved checkpoint at epoch %d\n", epoch)
		}
	}
	t.setState(Done)
	return nil
}

func (t *Trainer) runEpoch(ctx context.Context) (float64, error) {
	batches, err := t.Train.Batches()
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		loss, err := t.Step(b)
		if err != nil {
			return 0, err
		}
		total += loss
	}
	if len(batches) == 0 {
		return 0, nil
	}
	return total / float64(len(batches)), nil
}

// Step performs one update on b and returns its loss.
func (t *Trainer) Step(b *IO.Batch) (float64, error) {
	optimizations.ZeroGrads(t.params)

	tp := autograd.NewTape(true, t.rng)
	out := t.Model.Forward(tp, b.CW, b.QW)
	lossNode := t.Model.Loss(tp, out, b.Y, b.YEnd)
	loss := lossNode.At(0, 0)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, fmt.Errorf("%w: step %d", ErrNonFiniteLoss, t.steps+1)
	}
	if err := tp.Backward(lossNode); err != nil {
		return loss, err
	}

	norm, err := optimizations.ClipGradNorm(t.params, t.Config.MaxGradNorm)
	if err != nil {
		return loss, fmt.Errorf("step %d: %w", t.steps+1, err)
	}
	lr := t.sched.LR()
	t.opt.Step(t.params, lr)
	t.sched.Step()
	t.steps++
	t.lastLR = lr

	if t.ema != nil {
		if err := t.ema.Update(t.params, t.samples/t.Config.BatchSize); err != nil {
			return loss, err
		}
	}
	t.samples += b.Size()

	if t.Config.Debug && t.Config.DebugEvery > 0 && t.steps%t.Config.DebugEvery == 0 {
		utils.Debugf("step %d loss=%.4f grad_norm=%.4f lr=%g nodes=%d", t.steps, loss, norm, lr, tp.Len())
	}
	return loss, nil
}

// evaluate scores the dev source with the EMA weights swapped in and puts
// the live weights back afterwards, even when evaluation fails.
func (t *Trainer) evaluate(ctx context.Context) (acc float64, err error) {
	if t.Dev == nil {
		return 0, nil
	}
	t.setState(Evaluating)
	if t.ema != nil {
		if err := t.ema.Assign(t.params); err != nil {
			return 0, err
		}
		defer func() {
			err = errors.Join(err, t.ema.Resume(t.params))
		}()
	}
	return Evaluate(ctx, t.Model, t.Dev, t.Config.EvalWorkers)
}
