package metrics

import (
	"testing"
)

func TestParseStepLog_Markers(t *testing.T) {
	logs := []byte(`I0101 starting trainer
some progress output {not json}
TRAINMETRICS_JSON_BEGIN
{"steps":[{"step":2,"step_time_s":1.5},{"step":1,"step_time_s":3.0}]}
TRAINMETRICS_JSON_END
shutting down`)

	steps, err := ParseStepLog(logs)
	if err != nil {
		t.Fatalf("ParseStepLog: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(steps))
	}
	if steps[0].Step != 1 || steps[0].StepTimeSec != 3.0 {
		t.Errorf("steps not sorted: %+v", steps)
	}
}

func TestParseStepLog_JSONLines(t *testing.T) {
	logs := []byte(`{"level":"info","msg":"compiling"}
{"step": 1, "step_time_s": 2.0, "loss": 10.1}
{"step": 2, "step_time_s": 1.0}
not json at all
{"step": 2, "step_time_s": 1.1}
{"step": 3, "step_time_s": 1.2}`)

	steps, err := ParseStepLog(logs)
	if err != nil {
		t.Fatalf("ParseStepLog: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(steps))
	}
	// Duplicate step 2 keeps the last value.
	if steps[1].StepTimeSec != 1.1 {
		t.Errorf("step 2 time = %f, want 1.1", steps[1].StepTimeSec)
	}
}

func TestParseStepLog_MaxText(t *testing.T) {
	logs := []byte(`Compiling train_step
completed step: 0, seconds: 45.210, TFLOP/s/device: 2.1, Tokens/s/device: 100.0, loss: 10.870
completed step: 1, seconds: 1.002, TFLOP/s/device: 95.0, Tokens/s/device: 4000.0, loss: 10.2
completed step: 2, seconds: 0.998, TFLOP/s/device: 95.2, Tokens/s/device: 4010.0, loss: 9.9`)

	steps, err := ParseStepLog(logs)
	if err != nil {
		t.Fatalf("ParseStepLog: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(steps))
	}
	if steps[0].Step != 0 || steps[0].StepTimeSec != 45.21 {
		t.Errorf("first step = %+v", steps[0])
	}
	if steps[2].StepTimeSec != 0.998 {
		t.Errorf("last step time = %f, want 0.998", steps[2].StepTimeSec)
	}
}

func TestParseStepLog_EmptyMarkersFallsThrough(t *testing.T) {
	logs := []byte(`TRAINMETRICS_JSON_BEGIN
{"steps":[]}
TRAINMETRICS_JSON_END
completed step: 5, seconds: 2.5, loss: 1.0`)

	steps, err := ParseStepLog(logs)
	if err != nil {
		t.Fatalf("ParseStepLog: %v", err)
	}
	if len(steps) != 1 || steps[0].Step != 5 {
		t.Errorf("unexpected steps %+v", steps)
	}
}

func TestParseStepLog_NoSteps(t *testing.T) {
	_, err := ParseStepLog([]byte("fake logs"))
	if err == nil {
		t.Error("expected error for logs without step timings")
	}
}

func TestStepsFromTimes(t *testing.T) {
	steps := StepsFromTimes([]float64{1.0, 2.0})
	if len(steps) != 2 || steps[0].Step != 1 || steps[1].Step != 2 || steps[1].StepTimeSec != 2.0 {
		t.Errorf("unexpected steps %+v", steps)
	}
}
