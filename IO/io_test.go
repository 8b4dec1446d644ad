package IO

import (
	"encoding/csv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestCollatePadsWithZero(t *testing.T) {
	b := Collate([]Example{
		{Context: []int{4, 5, 6}, Question: []int{7}, Label: 2},
		{Context: []int{8}, Question: nil, Label: 0},
	}, false)
	wantCW := [][]int{{4, 5, 6}, {8, 0, 0}}
	wantQW := [][]int{{7}, {0}}
	if !reflect.DeepEqual(b.CW, wantCW) || !reflect.DeepEqual(b.QW, wantQW) {
		t.Fatalf("got CW=%v QW=%v", b.CW, b.QW)
	}
	if !reflect.DeepEqual(b.Y, []int{2, 0}) || b.YEnd != nil {
		t.Fatalf("labels Y=%v YEnd=%v", b.Y, b.YEnd)
	}
}

func synthetic(n int) []Example {
	out := make([]Example, n)
	for i := range out {
		out[i] = Example{Context: []int{i + 1}, Question: []int{1}, Label: i % 3, End: i}
	}
	return out
}

func labelsOf(bs []*Batch) []int {
	var out []int
	for _, b := range bs {
		for _, row := range b.CW {
			out = append(out, row[0])
		}
	}
	return out
}

func TestLoaderShuffleIsSeeded(t *testing.T) {
	a := NewLoader(synthetic(10), 4, true, 123)
	b := NewLoader(synthetic(10), 4, true, 123)
	a1, _ := a.Batches()
	b1, _ := b.Batches()
	if len(a1) != 3 || a1[2].Size() != 2 {
		t.Fatalf("want batches of 4,4,2; got %d batches, last %d", len(a1), a1[len(a1)-1].Size())
	}
	if !reflect.DeepEqual(labelsOf(a1), labelsOf(b1)) {
		t.Fatal("same seed produced different orders")
	}
	a2, _ := a.Batches()
	if reflect.DeepEqual(labelsOf(a1), labelsOf(a2)) {
		t.Fatal("second epoch reused the first epoch's order")
	}

	plain, _ := NewLoader(synthetic(5), 2, false, 1).Batches()
	if got := labelsOf(plain); !reflect.DeepEqual(got, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("unshuffled order = %v", got)
	}
}

func TestLoaderSpans(t *testing.T) {
	l := NewLoader(synthetic(3), 3, false, 1)
	l.Spans = true
	bs, err := l.Batches()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(bs[0].YEnd, []int{0, 1, 2}) {
		t.Fatalf("YEnd = %v", bs[0].YEnd)
	}
}

func TestLoadGloVe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vec.txt")
	content := "the 0.1 0.2 0.3\ncat -1 0 1\nunused 9 9 9\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	vocab := map[string]int{"the": 1, "cat": 2, "dog": 3}
	m, hits, err := LoadGloVe(path, vocab, 4, 3, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatal(err)
	}
	if hits != 2 {
		t.Fatalf("hits = %d, want 2", hits)
	}
	for i := 0; i < 3; i++ {
		if m.At(i, 0) != 0 {
			t.Fatal("padding column must be zero")
		}
	}
	if m.At(1, 1) != 0.2 || m.At(2, 2) != 1 {
		t.Fatalf("vectors not placed by index: %v %v", m.At(1, 1), m.At(2, 2))
	}
	missing := 0.0
	for i := 0; i < 3; i++ {
		v := m.At(i, 3)
		if v < -0.1 || v > 0.1 {
			t.Fatalf("random vector entry %v outside [-0.1,0.1]", v)
		}
		missing += v * v
	}
	if missing == 0 {
		t.Fatal("missing word got a zero vector")
	}

	bad := filepath.Join(t.TempDir(), "bad.txt")
	os.WriteFile(bad, []byte("the 1 2\n"), 0o644)
	if _, _, err := LoadGloVe(bad, vocab, 4, 3, rand.New(rand.NewPCG(1, 2))); err == nil {
		t.Fatal("short vector line should fail")
	}

	big := filepath.Join(t.TempDir(), "big.txt")
	os.WriteFile(big, []byte("big 0.1 0.2\n"), 0o644)
	_, _, err = LoadGloVe(big, map[string]int{"big": 7}, 3, 2, rand.New(rand.NewPCG(1, 2)))
	if err == nil || !strings.Contains(err.Error(), "outside vocabulary") {
		t.Fatalf("index past the table: got %v, want an outside-vocabulary error", err)
	}
}

func TestReadJSONLPreTokenized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.jsonl")
	lines := []string{
		`{"context_ids":[3,4,5],"question_ids":[6],"label":2}`,
		``,
		`{"context_ids":[7],"question_ids":[8,9],"start":0,"end":0}`,
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}
	exs, err := ReadJSONL(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []Example{
		{Context: []int{3, 4, 5}, Question: []int{6}, Label: 2},
		{Context: []int{7}, Question: []int{8, 9}, Label: 0, End: 0},
	}
	if !reflect.DeepEqual(exs, want) {
		t.Fatalf("got %+v", exs)
	}
}

func TestReadJSONLRawNeedsTokenizer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.jsonl")
	os.WriteFile(path, []byte(`{"context":"a b","question":"c","options":["x","y"],"label":1}`), 0o644)
	if _, err := ReadJSONL(path, nil); err == nil || !strings.Contains(err.Error(), ":1:") {
		t.Fatalf("expected a line-numbered error, got %v", err)
	}
}

func TestCSVReporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "training_log.csv")
	r, err := NewCSVReporter(path)
	if err != nil {
		t.Fatal(err)
	}
	for e := 1; e <= 2; e++ {
		if err := r.Report(EpochMetrics{Epoch: e, Loss: 1.0 / float64(e), Accuracy: 0.5, LR: 0.5, Elapsed: time.Second}); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	f, _ := os.Open(path)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[0][0] != "epoch" || rows[2][0] != "2" || rows[2][1] != "0.500000" {
		t.Fatalf("unexpected csv %v", rows)
	}
}

func TestSQLiteReporterAndMulti(t *testing.T) {
	db, err := NewSQLiteReporter(filepath.Join(t.TempDir(), "metrics.sqlite3"), "run-a")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	csvr, err := NewCSVReporter(filepath.Join(t.TempDir(), "log.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer csvr.Close()

	multi := MultiReporter{db, csvr}
	for e := 1; e <= 3; e++ {
		if err := multi.Report(EpochMetrics{Epoch: e, Loss: float64(4 - e), Accuracy: float64(e) / 10, LR: 0.5}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := db.Epochs("run-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[2].Epoch != 3 || got[2].Accuracy != 0.3 || got[0].Loss != 3 {
		t.Fatalf("unexpected rows %+v", got)
	}
	if other, _ := db.Epochs("run-b"); len(other) != 0 {
		t.Fatalf("rows leaked across runs: %+v", other)
	}
}
