package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/accelbench/trainmetrics/internal/collector"
	"github.com/accelbench/trainmetrics/internal/database"
	"github.com/accelbench/trainmetrics/internal/reference"

	"k8s.io/client-go/kubernetes/fake"
)

func seedRepo() *database.MockRepo {
	repo := database.NewMockRepo()
	key := "h100"
	repo.SeedInstanceType(&database.InstanceType{
		ID:                   "inst-001",
		Name:                 "p5.48xlarge",
		Family:               "p5",
		AcceleratorName:      "H100",
		AcceleratorKey:       &key,
		AcceleratorCount:     8,
		AcceleratorMemoryGiB: 640,
		VCPUs:                192,
		MemoryGiB:            2048,
	})
	return repo
}

func setupServer() (*database.MockRepo, *http.ServeMux) {
	repo := seedRepo()
	coll := collector.New(fake.NewSimpleClientset(), repo, reference.Default(), nil, collector.Config{
		JobTimeout: 50 * time.Millisecond,
		JobPoll:    10 * time.Millisecond,
	})
	srv := NewServer(repo, reference.Default(), coll)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	return repo, mux
}

func doRequest(mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func validRunRequest() database.RunRequest {
	return database.RunRequest{
		ModelName:        "llama2-7b",
		AcceleratorName:  "h100",
		Precision:        "bf16",
		NumAccelerators:  8,
		GlobalBatchSize:  32,
		WarmupSteps:      5,
		InstanceTypeName: "p5.48xlarge",
		Namespace:        "training",
		JobName:          "llama2-7b-pretrain",
	}
}

func TestHandleCreateRun_Success(t *testing.T) {
	repo, mux := setupServer()

	w := doRequest(mux, "POST", "/api/v1/runs", validRunRequest())
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["id"] == "" {
		t.Fatal("response missing run id")
	}
	if resp["status"] != "pending" {
		t.Errorf("status = %s, want pending", resp["status"])
	}

	run, _ := repo.GetTrainingRun(context.Background(), resp["id"])
	if run == nil {
		t.Fatal("run was not persisted")
	}
	if run.ReferenceVersion != reference.Default().Version() {
		t.Errorf("reference version = %q", run.ReferenceVersion)
	}
	if run.InstanceTypeID == nil || *run.InstanceTypeID != "inst-001" {
		t.Errorf("instance type id = %v, want inst-001", run.InstanceTypeID)
	}
	if run.InstanceCount != 1 {
		t.Errorf("instance count = %d, want default 1", run.InstanceCount)
	}

	// The Job does not exist in the fake cluster, so collection fails.
	deadline := time.Now().Add(2 * time.Second)
	for repo.GetRunStatus(resp["id"]) != database.StatusFailed {
		if time.Now().After(deadline) {
			t.Fatalf("run status = %s, want failed", repo.GetRunStatus(resp["id"]))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleCreateRun_Validation(t *testing.T) {
	_, mux := setupServer()

	tests := []struct {
		name   string
		mutate func(*database.RunRequest)
		want   int
	}{
		{"missing model", func(r *database.RunRequest) { r.ModelName = "" }, http.StatusBadRequest},
		{"missing job", func(r *database.RunRequest) { r.JobName = "" }, http.StatusBadRequest},
		{"zero accelerators", func(r *database.RunRequest) { r.NumAccelerators = 0 }, http.StatusBadRequest},
		{"zero batch", func(r *database.RunRequest) { r.GlobalBatchSize = 0 }, http.StatusBadRequest},
		{"unknown accelerator", func(r *database.RunRequest) { r.AcceleratorName = "mi300x" }, http.StatusNotFound},
		{"unsupported precision", func(r *database.RunRequest) { r.Precision = "fp8"; r.AcceleratorName = "a100" }, http.StatusNotFound},
		{"unknown model", func(r *database.RunRequest) { r.ModelName = "bert-large" }, http.StatusNotFound},
		{"unknown instance type", func(r *database.RunRequest) { r.InstanceTypeName = "x1.tiny" }, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRunRequest()
			tt.mutate(&req)
			w := doRequest(mux, "POST", "/api/v1/runs", req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
			var resp map[string]string
			json.NewDecoder(w.Body).Decode(&resp)
			if resp["error"] == "" {
				t.Error("expected error message in body")
			}
		})
	}
}

func TestHandleCreateRun_UnknownModelWithOverride(t *testing.T) {
	_, mux := setupServer()

	req := validRunRequest()
	req.ModelName = "my-internal-lm"
	flops := 2.5e14
	req.ModelFLOPsPerSampleOverride = &flops

	w := doRequest(mux, "POST", "/api/v1/runs", req)
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202; body: %s", w.Code, w.Body.String())
	}
}

func TestHandleCreateRun_InvalidBody(t *testing.T) {
	_, mux := setupServer()

	req := httptest.NewRequest("POST", "/api/v1/runs", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleGetRun_NotFound(t *testing.T) {
	_, mux := setupServer()

	w := doRequest(mux, "GET", "/api/v1/runs/3f1c6f0e-7d7a-4c4e-9a51-4b8f0c1f2d3e", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleGetRun_InvalidID(t *testing.T) {
	_, mux := setupServer()

	w := doRequest(mux, "GET", "/api/v1/runs/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleGetRun_AndEfficiency(t *testing.T) {
	repo, mux := setupServer()
	ctx := context.Background()

	runID, _ := repo.CreateTrainingRun(ctx, &database.TrainingRun{
		ModelName: "llama2-7b", AcceleratorName: "h100", Precision: "bf16",
		NumAccelerators: 8, GlobalBatchSize: 32, Namespace: "training", JobName: "done",
		Status: database.StatusRunning,
	})

	w := doRequest(mux, "GET", "/api/v1/runs/"+runID+"/efficiency", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("efficiency before persist: status = %d, want 404", w.Code)
	}

	repo.PersistEfficiency(ctx, runID, &database.EfficiencyMetrics{MFU: 0.38, TFLOPSPerAccelerator: 378})

	w = doRequest(mux, "GET", "/api/v1/runs/"+runID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var run database.TrainingRun
	json.NewDecoder(w.Body).Decode(&run)
	if run.Status != database.StatusCompleted {
		t.Errorf("run status = %s, want completed", run.Status)
	}

	w = doRequest(mux, "GET", "/api/v1/runs/"+runID+"/efficiency", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var em database.EfficiencyMetrics
	json.NewDecoder(w.Body).Decode(&em)
	if em.MFU != 0.38 {
		t.Errorf("mfu = %v, want 0.38", em.MFU)
	}
}

func TestHandleDeleteRun(t *testing.T) {
	repo, mux := setupServer()
	runID, _ := repo.CreateTrainingRun(context.Background(), &database.TrainingRun{
		ModelName: "gpt3-175b", Namespace: "training", JobName: "gone", Status: database.StatusFailed,
	})

	w := doRequest(mux, "DELETE", "/api/v1/runs/"+runID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if run, _ := repo.GetTrainingRun(context.Background(), runID); run != nil {
		t.Error("run still present after delete")
	}

	w = doRequest(mux, "DELETE", "/api/v1/runs/"+runID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", w.Code)
	}
}

func TestHandleListRuns(t *testing.T) {
	repo, mux := setupServer()
	ctx := context.Background()
	for _, model := range []string{"llama2-7b", "llama2-70b", "gpt3-5b"} {
		repo.CreateTrainingRun(ctx, &database.TrainingRun{ModelName: model, Status: database.StatusPending})
	}

	w := doRequest(mux, "GET", "/api/v1/runs?model=llama&limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var items []database.RunListItem
	json.NewDecoder(w.Body).Decode(&items)
	if len(items) != 2 {
		t.Errorf("got %d runs, want 2", len(items))
	}
}

func TestHandleListRuns_Empty(t *testing.T) {
	_, mux := setupServer()

	w := doRequest(mux, "GET", "/api/v1/runs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestHandleLeaderboard(t *testing.T) {
	repo, mux := setupServer()
	ctx := context.Background()
	for i, mfu := range []float64{0.31, 0.52, 0.44} {
		id, _ := repo.CreateTrainingRun(ctx, &database.TrainingRun{
			ModelName: "llama2-7b", AcceleratorName: "h100", Precision: "bf16",
			Namespace: "training", JobName: []string{"a", "b", "c"}[i], Status: database.StatusRunning,
		})
		repo.PersistEfficiency(ctx, id, &database.EfficiencyMetrics{MFU: mfu})
	}

	w := doRequest(mux, "GET", "/api/v1/leaderboard?accelerator=h100", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var entries []database.LeaderboardEntry
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].MFU != 0.52 {
		t.Errorf("top MFU = %v, want 0.52", entries[0].MFU)
	}

	w = doRequest(mux, "GET", "/api/v1/leaderboard?accelerator=a100", nil)
	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}
