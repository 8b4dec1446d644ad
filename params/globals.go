package params

import (
	"errors"
	"fmt"
)

// Model variants
const (
	ModelBaseline = "baseline"
	ModelSelfAtt  = "selfatt"
)

// Output tasks
const (
	TaskClassify = "classify"
	TaskSpan     = "span"
)

// Optimizers
const (
	OptAdadelta = "adadelta"
	OptAdam     = "adam"
)

// Schedules
const (
	ScheduleConstant = "constant"
	ScheduleCosine   = "cosine"
)

var ErrInvalidConfig = errors.New("invalid config")

type ModelConfig struct {
	Variant          string  // baseline | selfatt
	Task             string  // classify | span
	HiddenSize       int     // H; encoders output 2H, attention 8H
	NumClasses       int     // answer options for the classify head
	DropProb         float64 // 0 disables dropout
	FreezeEmbeddings bool    // keep pre-trained vectors fixed
	HighwayLayers    int     // highway layers after the embedding projection
}

type TrainingConfig struct {
	Model ModelConfig

	Seed      int64
	BatchSize int
	NumEpochs int

	// Optimization
	Optimizer   string  // adadelta | adam
	LR          float64 // peak learning rate
	WeightDecay float64 // L2 (adadelta) or decoupled (adam); 0 disables
	MaxGradNorm float64 // <=0 disables clipping
	Schedule    string  // constant | cosine
	WarmupSteps int     // linear warmup steps (cosine only)
	DecaySteps  int     // cosine decay steps after warmup (0 = none)
	AdamBeta1   float64
	AdamBeta2   float64
	AdamEps     float64
	AdadeltaRho float64
	AdadeltaEps float64
	EMADecay    float64 // 0 disables EMA tracking

	// Checkpointing
	SaveDir         string
	RunName         string // checkpoint file prefix
	CheckpointEvery int    // save live weights every N epochs (0=disable)
	LoadPath        string // optional parameters to load before training

	EvalWorkers int  // goroutines used for held-out evaluation
	Debug       bool // enable periodic debug logs
	DebugEvery  int  // print every N optimizer steps
}

// DefaultModelConfig mirrors the hyperparameters the QuAIL experiments used.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Variant:          ModelBaseline,
		Task:             TaskClassify,
		HiddenSize:       80,
		NumClasses:       4,
		DropProb:         0.0,
		FreezeEmbeddings: true,
		HighwayLayers:    2,
	}
}

func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		Model:     DefaultModelConfig(),
		Seed:      123,
		BatchSize: 64,
		NumEpochs: 100,

		Optimizer:   OptAdadelta,
		LR:          0.5,
		WeightDecay: 0,
		MaxGradNorm: 5.0,
		Schedule:    ScheduleConstant,
		AdamBeta1:   0.9,
		AdamBeta2:   0.999,
		AdamEps:     1e-8,
		AdadeltaRho: 0.9,
		AdadeltaEps: 1e-6,
		EMADecay:    0.999,

		SaveDir:         "save",
		RunName:         "baseline",
		CheckpointEvery: 10,

		EvalWorkers: 1,
		DebugEvery:  100,
	}
}

func (m ModelConfig) Validate() error {
	switch m.Variant {
	case ModelBaseline, ModelSelfAtt:
	default:
		return fmt.Errorf("%w: unknown model variant %q", ErrInvalidConfig, m.Variant)
	}
	switch m.Task {
	case TaskClassify, TaskSpan:
	default:
		return fmt.Errorf("%w: unknown task %q", ErrInvalidConfig, m.Task)
	}
	if m.HiddenSize <= 0 {
		return fmt.Errorf("%w: hidden size must be positive, got %d", ErrInvalidConfig, m.HiddenSize)
	}
	if m.Task == TaskClassify && m.NumClasses < 2 {
		return fmt.Errorf("%w: need at least 2 classes, got %d", ErrInvalidConfig, m.NumClasses)
	}
	if m.DropProb < 0 || m.DropProb >= 1 {
		return fmt.Errorf("%w: drop probability %v outside [0,1)", ErrInvalidConfig, m.DropProb)
	}
	if m.HighwayLayers < 0 {
		return fmt.Errorf("%w: negative highway layers", ErrInvalidConfig)
	}
	return nil
}

func (c TrainingConfig) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.NumEpochs <= 0 {
		return fmt.Errorf("%w: epoch budget must be positive, got %d", ErrInvalidConfig, c.NumEpochs)
	}
	if c.LR < 0 {
		return fmt.Errorf("%w: negative learning rate", ErrInvalidConfig)
	}
	switch c.Optimizer {
	case OptAdadelta, OptAdam:
	default:
		return fmt.Errorf("%w: unknown optimizer %q", ErrInvalidConfig, c.Optimizer)
	}
	switch c.Schedule {
	case ScheduleConstant, ScheduleCosine:
	default:
		return fmt.Errorf("%w: unknown schedule %q", ErrInvalidConfig, c.Schedule)
	}
	if c.EMADecay < 0 || c.EMADecay >= 1 {
		return fmt.Errorf("%w: EMA decay %v outside [0,1)", ErrInvalidConfig, c.EMADecay)
	}
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("%w: negative checkpoint frequency", ErrInvalidConfig)
	}
	if c.CheckpointEvery > 0 && c.SaveDir == "" {
		return fmt.Errorf("%w: checkpointing enabled without a save directory", ErrInvalidConfig)
	}
	return nil
}
