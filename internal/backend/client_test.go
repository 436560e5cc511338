package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tendant/simple-batch/pkg/schema"
)

func TestSubmitSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody SubmitInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(SubmitOutput{JobID: "job-1", JobName: "transform-1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithToken("secret"))
	out, err := client.Submit(context.Background(), SubmitInput{Name: "transform-1", Command: "run"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.JobID != "job-1" || out.JobName != "transform-1" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if gotPath != "/v1/jobs" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header: %s", gotAuth)
	}
	if gotBody.Command != "run" {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
}

func TestDescribeStatusMapping(t *testing.T) {
	exitCode := 1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(JobDetail{JobID: "job-1", Status: schema.StatusFailed, ExitCode: &exitCode, StatusReason: "oom"})
	}))
	defer srv.Close()

	detail, err := NewClient(srv.URL).Describe(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if detail.Status != schema.StatusFailed || detail.ExitCode == nil || *detail.ExitCode != 1 || detail.StatusReason != "oom" {
		t.Fatalf("unexpected detail: %+v", detail)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		wantErr error
	}{
		{"not found", http.StatusNotFound, "", ErrNotFound},
		{"server error", http.StatusInternalServerError, "", ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, "", ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Describe(context.Background(), "job-1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRejectedCarriesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"reason": "unsupported runtime"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Submit(context.Background(), SubmitInput{Command: "run"})
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.Reason != "unsupported runtime" {
		t.Fatalf("unexpected reason: %s", rejected.Reason)
	}
}

func TestConnectionFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	_, err := NewClient(srv.URL).Describe(context.Background(), "job-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSlowBackendIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithTimeout(20*time.Millisecond))
	_, err := client.Describe(context.Background(), "job-1")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
