package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/bidaf/IO"
	"github.com/manningwu07/bidaf/bidaf"
	"github.com/manningwu07/bidaf/params"
	"github.com/manningwu07/bidaf/train"
)

func main() {
	o, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o *options) error {
	cfg := o.cfg
	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)))

	var tok *IO.Tokenizer
	if o.tokenizerPath != "" {
		var err error
		if tok, err = IO.LoadTokenizer(o.tokenizerPath); err != nil {
			return err
		}
	}

	var trainSet, devSet []IO.Example
	var err error
	if o.trainPath != "" {
		if trainSet, err = IO.ReadJSONL(o.trainPath, tok); err != nil {
			return err
		}
		fmt.Printf("Loaded %d training examples.\n", len(trainSet))
	}
	if o.devPath != "" {
		if devSet, err = IO.ReadJSONL(o.devPath, tok); err != nil {
			return err
		}
		fmt.Printf("Loaded %d held-out examples.\n", len(devSet))
	}

	vectors, err := loadVectors(o, tok, rng, trainSet, devSet)
	if err != nil {
		return err
	}
	model, err := bidaf.NewModel(cfg.Model, vectors, rng)
	if err != nil {
		return err
	}

	spans := cfg.Model.Task == params.TaskSpan
	var dev train.DataSource
	if len(devSet) > 0 {
		l := IO.NewLoader(devSet, cfg.BatchSize, false, uint64(cfg.Seed))
		l.Spans = spans
		dev = l
	}

	if o.evalOnly {
		if dev == nil {
			return fmt.Errorf("%s holds no examples", o.devPath)
		}
		if err := bidaf.LoadModel(model, cfg.LoadPath); err != nil {
			return err
		}
		acc, err := train.Evaluate(ctx, model, dev, cfg.EvalWorkers)
		if err != nil {
			return err
		}
		fmt.Printf("Eval accuracy: %.4f (%d examples)\n", acc, len(devSet))
		return nil
	}

	trainLoader := IO.NewLoader(trainSet, cfg.BatchSize, true, uint64(cfg.Seed))
	trainLoader.Spans = spans
	trainer, err := train.NewTrainer(cfg, model, trainLoader, dev)
	if err != nil {
		return err
	}

	var reporters IO.MultiReporter
	if o.metricsCSV != "" {
		r, err := IO.NewCSVReporter(o.metricsCSV)
		if err != nil {
			return err
		}
		defer r.Close()
		reporters = append(reporters, r)
	}
	if o.metricsDB != "" {
		r, err := IO.NewSQLiteReporter(o.metricsDB, cfg.RunName)
		if err != nil {
			return err
		}
		defer r.Close()
		reporters = append(reporters, r)
	}
	if len(reporters) > 0 {
		trainer.Reporter = reporters
	}

	fmt.Printf("Training %s (%s), H=%d, %d parameter tensors, optimizer %s lr=%g\n",
		cfg.Model.Variant, cfg.Model.Task, cfg.Model.HiddenSize, len(model.Parameters()), cfg.Optimizer, cfg.LR)
	runErr := trainer.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		fmt.Println("\nStopped by signal.")
		runErr = nil
	}

	if o.plot && dev != nil {
		var accs []float64
		for _, m := range trainer.History() {
			accs = append(accs, m.Accuracy)
		}
		asciiPlot(accs)
	}
	return runErr
}

// loadVectors returns the (dim x vocab) embedding matrix: GloVe vectors
// when a tokenizer vocabulary and a vector file are given, random vectors
// otherwise. A checkpoint named by -load fixes the table shape.
func loadVectors(o *options, tok *IO.Tokenizer, rng *rand.Rand, sets ...[]IO.Example) (*mat.Dense, error) {
	size, dim := max(1, o.vocabSize), o.embDim
	if o.cfg.LoadPath != "" {
		rows, cols, err := bidaf.ParamDims(o.cfg.LoadPath, "emb.table")
		if err != nil {
			return nil, err
		}
		size, dim = max(size, cols), rows
	}
	for _, set := range sets {
		for _, ex := range set {
			for _, id := range ex.Context {
				size = max(size, id+1)
			}
			for _, id := range ex.Question {
				size = max(size, id+1)
			}
		}
	}
	if tok != nil {
		size = max(size, tok.VocabSize())
	}
	if o.glovePath == "" || tok == nil {
		fmt.Printf("Using random %d-d vectors for %d ids.\n", dim, size)
		return IO.RandomEmbeddings(size, dim, rng), nil
	}
	vectors, hits, err := IO.LoadGloVe(o.glovePath, tok.Vocab(), size, dim, rng)
	if err != nil {
		return nil, err
	}
	fmt.Printf("GloVe: %d of %d vocabulary entries found.\n", hits, size-1)
	return vectors, nil
}
