package train

import (
	"context"
	"sync"

	"github.com/manningwu07/bidaf/IO"
	"github.com/manningwu07/bidaf/autograd"
	"github.com/manningwu07/bidaf/bidaf"
	"github.com/manningwu07/bidaf/utils"
)

// Predict runs the model over batches with up to workers goroutines and
// returns gold labels and predictions in batch order. Each worker records
// on its own tape; the parameters are shared and only read.
//
// For span batches a label is start*width+end so that a prediction only
// counts when both positions match.
func Predict(ctx context.Context, m *bidaf.Model, batches []*IO.Batch, workers int) (yTrue, yPred []int, err error) {
	workers = max(1, min(workers, len(batches)))
	trues := make([][]int, len(batches))
	preds := make([][]int, len(batches))

	work := func(i int) {
		b := batches[i]
		out := m.Forward(autograd.NewTape(false, nil), b.CW, b.QW)
		y, yEnd := m.Predict(out)
		trues[i], preds[i] = flatten(b.Y, b.YEnd, b), flatten(y, yEnd, b)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				work(i)
			}
		}()
	}
feed:
	for i := range batches {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	if err != nil {
		return nil, nil, err
	}

	for i := range batches {
		yTrue = append(yTrue, trues[i]...)
		yPred = append(yPred, preds[i]...)
	}
	return yTrue, yPred, nil
}

// Evaluate is the accuracy of the model on every batch of src.
func Evaluate(ctx context.Context, m *bidaf.Model, src DataSource, workers int) (float64, error) {
	batches, err := src.Batches()
	if err != nil {
		return 0, err
	}
	yTrue, yPred, err := Predict(ctx, m, batches, workers)
	if err != nil {
		return 0, err
	}
	return utils.Accuracy(yTrue, yPred), nil
}

func flatten(y, yEnd []int, b *IO.Batch) []int {
	if yEnd == nil {
		return y
	}
	width := len(b.CW[0])
	out := make([]int, len(y))
	for i := range y {
		out[i] = y[i]*width + yEnd[i]
	}
	return out
}
