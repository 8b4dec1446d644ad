package IO

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Tokenizer wraps a pretrained tokenizer file. Ids are shifted by one so
// that 0 stays free for padding.
type Tokenizer struct {
	tok *tk.Tokenizer
}

func LoadTokenizer(path string) (*Tokenizer, error) {
	t, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load %s: %w", path, err)
	}
	return &Tokenizer{tok: t}, nil
}

// Encode turns raw text into padded-vocabulary ids (never 0).
func (t *Tokenizer) Encode(text string) ([]int, error) {
	enc, err := t.tok.EncodeSingle(text, false)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(enc.Ids))
	for i, v := range enc.Ids {
		out[i] = int(v) + 1
	}
	return out, nil
}

// Vocab maps tokens to the shifted ids Encode produces.
func (t *Tokenizer) Vocab() map[string]int {
	raw := t.tok.GetVocab(true)
	out := make(map[string]int, len(raw))
	for w, id := range raw {
		out[w] = id + 1
	}
	return out
}

// VocabSize includes the padding slot.
func (t *Tokenizer) VocabSize() int {
	n := 0
	for _, id := range t.Vocab() {
		n = max(n, id+1)
	}
	return n
}

// record is one JSONL line. Raw text records carry context, question and
// options; pre-tokenized records carry the id fields directly.
type record struct {
	Context  string   `json:"context"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Label    int      `json:"label"`

	ContextIDs  []int `json:"context_ids"`
	QuestionIDs []int `json:"question_ids"`
	Start       *int  `json:"start"`
	End         *int  `json:"end"`
}

// ReadJSONL loads a dataset file. tok may be nil when every record is
// pre-tokenized. Options of multiple-choice records are appended to the
// question.
func ReadJSONL(path string, tok *Tokenizer) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer f.Close()

	var out []Example
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var r record
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			return nil, fmt.Errorf("dataset: %s:%d: %w", path, line, err)
		}
		ex, err := r.example(tok)
		if err != nil {
			return nil, fmt.Errorf("dataset: %s:%d: %w", path, line, err)
		}
		out = append(out, ex)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	return out, nil
}

func (r *record) example(tok *Tokenizer) (Example, error) {
	ex := Example{Label: r.Label}
	if r.Start != nil {
		ex.Label = *r.Start
		if r.End == nil {
			return ex, fmt.Errorf("span record has a start but no end")
		}
		ex.End = *r.End
	}
	if len(r.ContextIDs) > 0 {
		ex.Context, ex.Question = r.ContextIDs, r.QuestionIDs
		return ex, nil
	}
	if tok == nil {
		return ex, fmt.Errorf("raw text record needs a tokenizer")
	}
	var err error
	if ex.Context, err = tok.Encode(r.Context); err != nil {
		return ex, err
	}
	q := r.Question
	if len(r.Options) > 0 {
		q += " " + strings.Join(r.Options, " ")
	}
	if ex.Question, err = tok.Encode(q); err != nil {
		return ex, err
	}
	return ex, nil
}
