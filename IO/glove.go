package IO

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/bidaf/utils"
)

// LoadGloVe builds a (dim x size) embedding matrix from a GloVe text file
// ("word v1 v2 ... vdim" per line). vocab maps words to column indices;
// size must exceed every index. Column 0 is left zero for padding and
// words missing from the file get small random vectors drawn from rng.
func LoadGloVe(path string, vocab map[string]int, size, dim int, rng *rand.Rand) (*mat.Dense, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("glove: %w", err)
	}
	defer f.Close()

	out := mat.NewDense(dim, size, nil)
	found := make([]bool, size)
	hits := 0

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != dim+1 {
			return nil, 0, fmt.Errorf("glove: %s:%d has %d values, want %d", path, line, len(fields)-1, dim)
		}
		id, ok := vocab[fields[0]]
		if !ok || id <= 0 {
			continue
		}
		if id >= size {
			return nil, 0, fmt.Errorf("glove: index %d for %q outside vocabulary of %d", id, fields[0], size)
		}
		if found[id] {
			continue
		}
		for i, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, 0, fmt.Errorf("glove: %s:%d: %w", path, line, err)
			}
			out.Set(i, id, v)
		}
		found[id] = true
		hits++
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("glove: %w", err)
	}

	for id := 1; id < size; id++ {
		if found[id] {
			continue
		}
		out.SetCol(id, utils.RandomArray(rng, dim, 100))
	}
	return out, hits, nil
}

// RandomEmbeddings is used when no vector file is given.
func RandomEmbeddings(size, dim int, rng *rand.Rand) *mat.Dense {
	out := mat.NewDense(dim, size, nil)
	for id := 1; id < size; id++ {
		out.SetCol(id, utils.RandomArray(rng, dim, float64(dim)))
	}
	return out
}
