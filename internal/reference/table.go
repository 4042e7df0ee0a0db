// Package reference holds the accelerator peak-throughput and model FLOPs
// tables used to compute training efficiency. The data ships as an embedded,
// versioned YAML document; a Table is immutable once built.
package reference

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed reference.yaml
var embeddedTable []byte

var defaultTable *Table

func init() {
	var err error
	defaultTable, err = Parse(embeddedTable)
	if err != nil {
		panic(fmt.Sprintf("parse embedded reference table: %v", err))
	}
}

// ErrNotFound is returned (wrapped) when a lookup key is absent from the table.
var ErrNotFound = errors.New("not found")

// Precision is a numeric format an accelerator can run matrix math in.
type Precision string

const (
	PrecisionBF16 Precision = "bf16"
	PrecisionFP8  Precision = "fp8"
)

// PeakKey identifies a peak-throughput entry.
type PeakKey struct {
	Accelerator string
	Precision   Precision
}

// PeakEntry is a single peak-throughput value with its citation.
type PeakEntry struct {
	Accelerator string    `json:"accelerator" yaml:"accelerator"`
	Precision   Precision `json:"precision" yaml:"precision"`
	TFLOPS      float64   `json:"tflops" yaml:"tflops"`
	Source      string    `json:"source,omitempty" yaml:"source"`
}

// ModelEntry is the training cost of one model.
type ModelEntry struct {
	Name           string  `json:"name"`
	FLOPsPerSample float64 `json:"flops_per_sample"`
}

// Table is a loaded reference table. The zero value is empty; use Default,
// Parse or LoadFile.
type Table struct {
	version      string
	accelerators []string
	peaks        map[PeakKey]PeakEntry
	models       map[string]float64
}

// document is the on-disk layout of a reference table.
type document struct {
	Version      string             `yaml:"version"`
	Accelerators []string           `yaml:"accelerators"`
	PeakTFLOPS   []PeakEntry        `yaml:"peak_tflops"`
	ModelFLOPs   map[string]float64 `yaml:"model_flops_per_sample"`
}

// Default returns the table compiled into the binary.
func Default() *Table {
	return defaultTable
}

// LoadFile reads and validates a reference table from path.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference table: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse decodes and validates a reference table. Names are normalized to
// lower case; duplicates after normalization are rejected.
func Parse(data []byte) (*Table, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode reference table: %w", err)
	}
	if strings.TrimSpace(doc.Version) == "" {
		return nil, fmt.Errorf("reference table: version is required")
	}

	t := &Table{
		version: strings.TrimSpace(doc.Version),
		peaks:   make(map[PeakKey]PeakEntry, len(doc.PeakTFLOPS)),
		models:  make(map[string]float64, len(doc.ModelFLOPs)),
	}

	known := make(map[string]bool, len(doc.Accelerators))
	for _, name := range doc.Accelerators {
		n := normalize(name)
		if n == "" {
			return nil, fmt.Errorf("reference table: empty accelerator name")
		}
		if known[n] {
			return nil, fmt.Errorf("reference table: duplicate accelerator %q", n)
		}
		known[n] = true
		t.accelerators = append(t.accelerators, n)
	}

	for _, e := range doc.PeakTFLOPS {
		key := PeakKey{Accelerator: normalize(e.Accelerator), Precision: normalizePrecision(e.Precision)}
		if !known[key.Accelerator] {
			return nil, fmt.Errorf("reference table: peak entry for unlisted accelerator %q", e.Accelerator)
		}
		if key.Precision == "" {
			return nil, fmt.Errorf("reference table: peak entry for %s has no precision", key.Accelerator)
		}
		if _, dup := t.peaks[key]; dup {
			return nil, fmt.Errorf("reference table: duplicate peak entry (%s, %s)", key.Accelerator, key.Precision)
		}
		if !validValue(e.TFLOPS) {
			return nil, fmt.Errorf("reference table: peak (%s, %s) must be positive, got %v", key.Accelerator, key.Precision, e.TFLOPS)
		}
		t.peaks[key] = PeakEntry{
			Accelerator: key.Accelerator,
			Precision:   key.Precision,
			TFLOPS:      e.TFLOPS,
			Source:      strings.TrimSpace(e.Source),
		}
	}

	for name, flops := range doc.ModelFLOPs {
		n := normalize(name)
		if n == "" {
			return nil, fmt.Errorf("reference table: empty model name")
		}
		if _, dup := t.models[n]; dup {
			return nil, fmt.Errorf("reference table: duplicate model %q", n)
		}
		if !validValue(flops) {
			return nil, fmt.Errorf("reference table: flops for model %s must be positive, got %v", n, flops)
		}
		t.models[n] = flops
	}
	return t, nil
}

// Version identifies the revision of the table data.
func (t *Table) Version() string {
	return t.version
}

// Accelerators returns the accelerator names in declaration order.
func (t *Table) Accelerators() []string {
	out := make([]string, len(t.accelerators))
	copy(out, t.accelerators)
	return out
}

// HasAccelerator reports whether name is a listed accelerator.
func (t *Table) HasAccelerator(name string) bool {
	n := normalize(name)
	for _, a := range t.accelerators {
		if a == n {
			return true
		}
	}
	return false
}

// PeakTFLOPS returns the peak throughput of accelerator at precision p.
func (t *Table) PeakTFLOPS(accelerator string, p Precision) (float64, error) {
	e, err := t.PeakEntry(accelerator, p)
	if err != nil {
		return 0, err
	}
	return e.TFLOPS, nil
}

// PeakEntry returns the peak throughput entry, including its citation.
func (t *Table) PeakEntry(accelerator string, p Precision) (PeakEntry, error) {
	key := PeakKey{Accelerator: normalize(accelerator), Precision: normalizePrecision(p)}
	if e, ok := t.peaks[key]; ok {
		return e, nil
	}
	if !t.HasAccelerator(key.Accelerator) {
		return PeakEntry{}, fmt.Errorf("accelerator %q: %w", accelerator, ErrNotFound)
	}
	return PeakEntry{}, fmt.Errorf("peak tflops for %s at %s: %w", key.Accelerator, key.Precision, ErrNotFound)
}

// Precisions lists the precisions with a peak value for accelerator, sorted.
func (t *Table) Precisions(accelerator string) []Precision {
	n := normalize(accelerator)
	var out []Precision
	for k := range t.peaks {
		if k.Accelerator == n {
			out = append(out, k.Precision)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PeakEntries returns every peak entry ordered by accelerator declaration
// order, then precision.
func (t *Table) PeakEntries() []PeakEntry {
	order := make(map[string]int, len(t.accelerators))
	for i, a := range t.accelerators {
		order[a] = i
	}
	out := make([]PeakEntry, 0, len(t.peaks))
	for _, e := range t.peaks {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Accelerator != out[j].Accelerator {
			return order[out[i].Accelerator] < order[out[j].Accelerator]
		}
		return out[i].Precision < out[j].Precision
	})
	return out
}

// ModelFLOPsPerSample returns the training FLOPs consumed per sample of model.
func (t *Table) ModelFLOPsPerSample(model string) (float64, error) {
	if v, ok := t.models[normalize(model)]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("model %q: %w", model, ErrNotFound)
}

// Models returns the model names, sorted.
func (t *Table) Models() []string {
	out := make([]string, 0, len(t.models))
	for name := range t.models {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ModelEntries returns every model entry sorted by name.
func (t *Table) ModelEntries() []ModelEntry {
	names := t.Models()
	out := make([]ModelEntry, len(names))
	for i, name := range names {
		out[i] = ModelEntry{Name: name, FLOPsPerSample: t.models[name]}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizePrecision(p Precision) Precision {
	return Precision(normalize(string(p)))
}

func validValue(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
