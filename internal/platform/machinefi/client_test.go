package machinefi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStartMonitor(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"job_id":"job-7"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	jobID, err := c.StartMonitor(context.Background(), "rtmp://stream", "goal scored", "https://api/webhook/machinefi")
	if err != nil {
		t.Fatalf("StartMonitor: %v", err)
	}
	if jobID != "job-7" {
		t.Fatalf("job id = %q", jobID)
	}
	if gotPath != "POST /jobs" {
		t.Errorf("request = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody["stream_url"] != "rtmp://stream" || gotBody["condition"] != "goal scored" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestStartMonitorRejectsEmptyJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	if _, err := c.StartMonitor(context.Background(), "s", "c", "w"); err == nil {
		t.Fatal("expected error for empty job id")
	}
}

func TestStartMonitorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	if _, err := c.StartMonitor(context.Background(), "s", "c", "w"); err == nil {
		t.Fatal("expected error for 500")
	}
}

func TestStopJobTreatsGoneAsSuccess(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNoContent, http.StatusNotFound} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete || r.URL.Path != "/jobs/job-1" {
				t.Errorf("request = %s %s", r.Method, r.URL.Path)
			}
			w.WriteHeader(status)
		}))

		c := NewClient(srv.URL, "")
		if err := c.StopJob(context.Background(), "job-1"); err != nil {
			t.Errorf("status %d: StopJob returned %v", status, err)
		}
		srv.Close()
	}
}

func TestStopJobServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	if err := c.StopJob(context.Background(), "job-1"); err == nil {
		t.Fatal("expected error for 500")
	}
}
