package bidaf

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

type paramData struct {
	Rows, Cols int
	Data       []float64
}

type modelData struct {
	Variant string
	Task    string
	Hidden  int
	Params  map[string]paramData
}

func (d *modelData) describe() string {
	return fmt.Sprintf("%s/%s/H=%d", d.Variant, d.Task, d.Hidden)
}

// SaveModel persists every parameter of m (weights only) to filename with
// gob. Optimizer and EMA state are not saved.
func SaveModel(m *Model, filename string) error {
	ps := m.Parameters()
	data := modelData{
		Variant: m.Config.Variant,
		Task:    m.Config.Task,
		Hidden:  m.Config.HiddenSize,
		Params:  make(map[string]paramData, len(ps)),
	}
	for _, p := range ps {
		if _, dup := data.Params[p.Name]; dup {
			return fmt.Errorf("SaveModel: duplicate parameter name %q", p.Name)
		}
		r, c := p.Dims()
		raw := mat.DenseCopyOf(p.Value).RawMatrix()
		data.Params[p.Name] = paramData{Rows: r, Cols: c, Data: append([]float64(nil), raw.Data...)}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&data); err != nil {
		return fmt.Errorf("SaveModel: encode: %w", err)
	}
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("SaveModel: %w", err)
		}
	}
	return os.WriteFile(filename, buf.Bytes(), 0o644)
}

// LoadModel reads a file written by SaveModel into m. The file must hold
// exactly the parameters of m with the same shapes; nothing is copied
// unless the whole file matches.
func LoadModel(m *Model, filename string) error {
	data, err := readCheckpoint(filename)
	if err != nil {
		return fmt.Errorf("LoadModel: %w", err)
	}
	want := modelData{Variant: m.Config.Variant, Task: m.Config.Task, Hidden: m.Config.HiddenSize}
	if data.describe() != want.describe() {
		return fmt.Errorf("LoadModel: checkpoint is %s, model is %s", data.describe(), want.describe())
	}

	ps := m.Parameters()
	if len(data.Params) != len(ps) {
		return fmt.Errorf("LoadModel: parameter count mismatch (have %d, file %d)", len(ps), len(data.Params))
	}
	for _, p := range ps {
		pd, ok := data.Params[p.Name]
		if !ok {
			return fmt.Errorf("LoadModel: %s missing from %s", p.Name, filename)
		}
		r, c := p.Dims()
		if pd.Rows != r || pd.Cols != c || len(pd.Data) != r*c {
			return fmt.Errorf("LoadModel: %s shape mismatch (have %dx%d, file %dx%d)", p.Name, r, c, pd.Rows, pd.Cols)
		}
	}

	for _, p := range ps {
		pd := data.Params[p.Name]
		p.Value.Copy(mat.NewDense(pd.Rows, pd.Cols, pd.Data))
	}
	return nil
}

// ParamDims reports the shape stored for one parameter of a checkpoint.
func ParamDims(filename, name string) (rows, cols int, err error) {
	data, err := readCheckpoint(filename)
	if err != nil {
		return 0, 0, err
	}
	pd, ok := data.Params[name]
	if !ok {
		return 0, 0, fmt.Errorf("%s missing from %s", name, filename)
	}
	return pd.Rows, pd.Cols, nil
}

func readCheckpoint(filename string) (*modelData, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var data modelData
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}
	return &data, nil
}

// CheckpointPath is <dir>/<name>_epoch<N>.gob.
func CheckpointPath(dir, name string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_epoch%d.gob", name, epoch))
}
