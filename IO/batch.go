package IO

import (
	"fmt"
	"math/rand/v2"
)

// Example is one question over one context. Label is the answer option for
// multiple choice, or the start position for span answers (End is then the
// end position).
type Example struct {
	Context  []int
	Question []int
	Label    int
	End      int
}

// Batch holds padded id sequences; every context row has the same width and
// so does every question row. Padding is 0.
type Batch struct {
	CW, QW [][]int
	Y      []int
	YEnd   []int
}

func (b *Batch) Size() int { return len(b.CW) }

// Collate pads examples into one batch. Widths are at least 1 so an empty
// question still yields a (d x 1) matrix downstream.
func Collate(examples []Example, withEnd bool) *Batch {
	cw, qw := 1, 1
	for _, ex := range examples {
		cw = max(cw, len(ex.Context))
		qw = max(qw, len(ex.Question))
	}
	b := &Batch{
		CW: make([][]int, len(examples)),
		QW: make([][]int, len(examples)),
		Y:  make([]int, len(examples)),
	}
	if withEnd {
		b.YEnd = make([]int, len(examples))
	}
	for i, ex := range examples {
		b.CW[i] = pad(ex.Context, cw)
		b.QW[i] = pad(ex.Question, qw)
		b.Y[i] = ex.Label
		if withEnd {
			b.YEnd[i] = ex.End
		}
	}
	return b
}

func pad(ids []int, width int) []int {
	out := make([]int, width)
	copy(out, ids)
	return out
}

// Loader cuts a dataset into padded batches, reshuffling every epoch when
// Shuffle is set. The shuffle order is fixed by the seed.
type Loader struct {
	Examples  []Example
	BatchSize int
	Shuffle   bool
	Spans     bool // fill Batch.YEnd

	rng *rand.Rand
}

func NewLoader(examples []Example, batchSize int, shuffle bool, seed uint64) *Loader {
	return &Loader{
		Examples:  examples,
		BatchSize: batchSize,
		Shuffle:   shuffle,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Batches returns one epoch worth of batches. The last batch may be short.
func (l *Loader) Batches() ([]*Batch, error) {
	if l.BatchSize <= 0 {
		return nil, fmt.Errorf("loader: batch size must be positive, got %d", l.BatchSize)
	}
	idx := make([]int, len(l.Examples))
	for i := range idx {
		idx[i] = i
	}
	if l.Shuffle {
		l.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	var out []*Batch
	for start := 0; start < len(idx); start += l.BatchSize {
		end := min(start+l.BatchSize, len(idx))
		exs := make([]Example, 0, end-start)
		for _, i := range idx[start:end] {
			exs = append(exs, l.Examples[i])
		}
		out = append(out, Collate(exs, l.Spans))
	}
	return out, nil
}
