package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// StepRecord is the wall-clock duration of one training step.
type StepRecord struct {
	Step        int     `json:"step"`
	StepTimeSec float64 `json:"step_time_s"`
}

// stepLog is the payload emitted between the TRAINMETRICS_JSON markers.
type stepLog struct {
	Steps []StepRecord `json:"steps"`
}

// stepLine is one JSON-lines record. Pointers distinguish absent fields from
// zero values so that unrelated JSON log lines are skipped.
type stepLine struct {
	Step        *int     `json:"step"`
	StepTimeSec *float64 `json:"step_time_s"`
}

var maxTextStepRe = regexp.MustCompile(`completed step:\s*(\d+),\s*seconds:\s*([0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)`)

// ParseStepLog extracts per-step wall times from training pod logs.
// Logs interleave framework output with metrics, so this function first
// looks for content between TRAINMETRICS_JSON_BEGIN/END markers, then scans
// for JSON lines carrying step and step_time_s, then falls back to
// MaxText-style "completed step: N, seconds: X" lines. Duplicate steps keep
// the last value seen. Records are returned sorted by step.
func ParseStepLog(data []byte) ([]StepRecord, error) {
	// Strategy 1: Look for marker-delimited JSON.
	beginMarker := []byte("TRAINMETRICS_JSON_BEGIN")
	endMarker := []byte("TRAINMETRICS_JSON_END")
	if beginIdx := bytes.Index(data, beginMarker); beginIdx >= 0 {
		rest := data[beginIdx+len(beginMarker):]
		if endIdx := bytes.Index(rest, endMarker); endIdx >= 0 {
			var out stepLog
			jsonData := bytes.TrimSpace(rest[:endIdx])
			if err := json.Unmarshal(jsonData, &out); err == nil && len(out.Steps) > 0 {
				return normalizeSteps(out.Steps), nil
			}
		}
	}

	lines := bytes.Split(data, []byte("\n"))

	// Strategy 2: Scan line-by-line for JSON step records.
	var records []StepRecord
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var sl stepLine
		if err := json.Unmarshal(line, &sl); err != nil {
			continue
		}
		if sl.Step == nil || sl.StepTimeSec == nil {
			continue
		}
		records = append(records, StepRecord{Step: *sl.Step, StepTimeSec: *sl.StepTimeSec})
	}
	if len(records) > 0 {
		return normalizeSteps(records), nil
	}

	// Strategy 3: MaxText text output.
	for _, line := range lines {
		m := maxTextStepRe.FindSubmatch(line)
		if m == nil {
			continue
		}
		step, err := strconv.Atoi(string(m[1]))
		if err != nil {
			continue
		}
		secs, err := strconv.ParseFloat(string(m[2]), 64)
		if err != nil {
			continue
		}
		records = append(records, StepRecord{Step: step, StepTimeSec: secs})
	}
	if len(records) > 0 {
		return normalizeSteps(records), nil
	}

	return nil, fmt.Errorf("parse step log: no step timings found in %d bytes of log output", len(data))
}

// normalizeSteps collapses duplicate step numbers (last wins) and sorts by step.
func normalizeSteps(records []StepRecord) []StepRecord {
	byStep := make(map[int]float64, len(records))
	for _, r := range records {
		byStep[r.Step] = r.StepTimeSec
	}
	out := make([]StepRecord, 0, len(byStep))
	for step, secs := range byStep {
		out = append(out, StepRecord{Step: step, StepTimeSec: secs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out
}

// StepsFromTimes numbers a plain list of step times starting at 1.
func StepsFromTimes(times []float64) []StepRecord {
	out := make([]StepRecord, len(times))
	for i, t := range times {
		out[i] = StepRecord{Step: i + 1, StepTimeSec: t}
	}
	return out
}
