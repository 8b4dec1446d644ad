package main

import (
	"flag"
	"fmt"

	"github.com/manningwu07/bidaf/params"
)

type options struct {
	cfg params.TrainingConfig

	trainPath, devPath string
	tokenizerPath      string
	glovePath          string
	embDim             int
	vocabSize          int
	metricsCSV         string
	metricsDB          string
	evalOnly           bool
	plot               bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	o := &options{cfg: params.DefaultTrainingConfig()}
	cfg := &o.cfg

	fs.StringVar(&cfg.Model.Variant, "model", cfg.Model.Variant, "model variant: baseline | selfatt")
	fs.StringVar(&cfg.Model.Task, "task", cfg.Model.Task, "output head: classify | span")
	fs.IntVar(&cfg.Model.HiddenSize, "hidden", cfg.Model.HiddenSize, "hidden size H")
	fs.IntVar(&cfg.Model.NumClasses, "classes", cfg.Model.NumClasses, "answer options for the classify head")
	fs.Float64Var(&cfg.Model.DropProb, "drop", cfg.Model.DropProb, "dropout probability")
	fs.BoolVar(&cfg.Model.FreezeEmbeddings, "freeze-emb", cfg.Model.FreezeEmbeddings, "keep pre-trained vectors fixed")

	fs.StringVar(&o.trainPath, "train", "", "training set (JSONL)")
	fs.StringVar(&o.devPath, "dev", "", "held-out set (JSONL)")
	fs.StringVar(&o.tokenizerPath, "tokenizer", "", "pretrained tokenizer file for raw-text records")
	fs.StringVar(&o.glovePath, "glove", "", "GloVe vectors (text format)")
	fs.IntVar(&o.embDim, "emb-dim", 300, "word vector size")
	fs.IntVar(&o.vocabSize, "vocab-size", 0, "embedding rows incl. padding (0 = infer from data)")

	fs.Float64Var(&cfg.LR, "lr", cfg.LR, "peak learning rate")
	fs.StringVar(&cfg.Optimizer, "optimizer", cfg.Optimizer, "adadelta | adam")
	fs.StringVar(&cfg.Schedule, "schedule", cfg.Schedule, "constant | cosine")
	fs.IntVar(&cfg.WarmupSteps, "warmup", cfg.WarmupSteps, "warmup steps for the cosine schedule")
	fs.IntVar(&cfg.DecaySteps, "decay", cfg.DecaySteps, "cosine decay steps after warmup")
	fs.Float64Var(&cfg.WeightDecay, "wd", cfg.WeightDecay, "weight decay")
	fs.Float64Var(&cfg.MaxGradNorm, "max-grad-norm", cfg.MaxGradNorm, "global gradient norm clip (<=0 disables)")
	fs.Float64Var(&cfg.EMADecay, "ema", cfg.EMADecay, "EMA decay (0 disables)")
	fs.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "batch size")
	fs.IntVar(&cfg.NumEpochs, "epochs", cfg.NumEpochs, "number of epochs")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")

	fs.IntVar(&cfg.CheckpointEvery, "save-every", cfg.CheckpointEvery, "checkpoint every N epochs (0 disables)")
	fs.StringVar(&cfg.SaveDir, "save-dir", cfg.SaveDir, "checkpoint directory")
	fs.StringVar(&cfg.RunName, "name", "", "run name used for checkpoints and metrics (default: model variant)")
	fs.StringVar(&cfg.LoadPath, "load", "", "checkpoint to load before training")

	fs.StringVar(&o.metricsCSV, "metrics-csv", "training_log.csv", "per-epoch CSV log (empty disables)")
	fs.StringVar(&o.metricsDB, "metrics-db", "", "SQLite database for per-epoch metrics")
	fs.BoolVar(&o.evalOnly, "eval-only", false, "only evaluate -load on -dev")
	fs.IntVar(&cfg.EvalWorkers, "eval-workers", cfg.EvalWorkers, "goroutines used for evaluation")
	fs.BoolVar(&cfg.Debug, "debug", false, "print step diagnostics")
	fs.IntVar(&cfg.DebugEvery, "debug-every", cfg.DebugEvery, "steps between debug lines")
	fs.BoolVar(&o.plot, "plot", true, "draw the dev accuracy curve after training")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.RunName == "" {
		cfg.RunName = cfg.Model.Variant
	}

	if o.evalOnly {
		if cfg.LoadPath == "" || o.devPath == "" {
			return nil, fmt.Errorf("%w: -eval-only needs -load and -dev", params.ErrInvalidConfig)
		}
	} else if o.trainPath == "" {
		return nil, fmt.Errorf("%w: -train is required", params.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}
