package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/accelbench/trainmetrics/internal/database"
)

func TestListLeaderboard(t *testing.T) {
	entries := []database.LeaderboardEntry{
		{RunID: "run-1", ModelName: "llama2-7b", AcceleratorName: "h100", MFU: 0.42},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/leaderboard" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("model") != "llama2-7b" {
			t.Errorf("expected model filter, got query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.ListLeaderboard(context.Background(), database.LeaderboardFilter{ModelName: "llama2-7b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(result))
	}
	if result[0].MFU != 0.42 {
		t.Errorf("unexpected MFU: %v", result[0].MFU)
	}
}

func TestListLeaderboard_AllFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		want := map[string]string{
			"accelerator": "h100",
			"precision":   "fp8",
			"sort":        "tflops",
			"order":       "desc",
			"limit":       "10",
			"offset":      "20",
		}
		for k, v := range want {
			if q.Get(k) != v {
				t.Errorf("expected %s=%s, got %q", k, v, q.Get(k))
			}
		}
		json.NewEncoder(w).Encode([]database.LeaderboardEntry{})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.ListLeaderboard(context.Background(), database.LeaderboardFilter{
		AcceleratorName: "h100",
		Precision:       "fp8",
		SortBy:          "tflops",
		SortDesc:        true,
		Limit:           10,
		Offset:          20,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestListRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "failed" {
			t.Errorf("expected status filter, got %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]database.RunListItem{{ID: "a", Status: "failed"}})
	}))
	defer srv.Close()

	items, err := New(srv.URL).ListRuns(context.Background(), database.RunFilter{Status: "failed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != "a" {
		t.Errorf("unexpected items: %+v", items)
	}
}

func TestCreateRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var req database.RunRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.JobName != "pretrain" {
			t.Errorf("unexpected job: %s", req.JobName)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"id": "run-123", "status": "pending"})
	}))
	defer srv.Close()

	id, status, err := New(srv.URL).CreateRun(context.Background(), database.RunRequest{JobName: "pretrain"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "run-123" || status != "pending" {
		t.Errorf("got id=%s status=%s", id, status)
	}
}

func TestCreateRun_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": `accelerator "mi300x": not found`})
	}))
	defer srv.Close()

	_, _, err := New(srv.URL).CreateRun(context.Background(), database.RunRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "mi300x") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGetRunAndEfficiency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/runs/run-1":
			json.NewEncoder(w).Encode(database.TrainingRun{ID: "run-1", Status: "completed"})
		case "/api/v1/runs/run-1/efficiency":
			json.NewEncoder(w).Encode(database.EfficiencyMetrics{RunID: "run-1", MFU: 0.5})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	run, err := c.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "completed" {
		t.Errorf("unexpected status: %s", run.Status)
	}
	m, err := c.GetEfficiency(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if m.MFU != 0.5 {
		t.Errorf("unexpected MFU: %v", m.MFU)
	}
}

func TestGetRun_PlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetRun(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("expected 502 error, got %v", err)
	}
}
