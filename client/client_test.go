package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func envelopeJSON(data any) []byte {
	b, _ := json.Marshal(map[string]any{"code": 0, "message": "ok", "data": data})
	return b
}

func TestSubmitAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/ingest":
			var req SubmitRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write(envelopeJSON(nil))
				return
			}
			w.Write(envelopeJSON(SubmitResult{JobID: "job-1-aaaa", ChatID: "c1"}))
		case r.Method == http.MethodGet && r.URL.Path == "/status/job-1-aaaa":
			w.Write(envelopeJSON(Job{JobID: "job-1-aaaa", Status: "SUCCESS", Answer: "42"}))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":"NOT_FOUND"}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.Submit(context.Background(), SubmitRequest{Question: "meaning of life"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.JobID != "job-1-aaaa" || res.ChatID != "c1" {
		t.Fatalf("result = %+v", res)
	}

	job, err := c.Status(context.Background(), "job-1-aaaa")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if job.Status != "SUCCESS" || job.Answer != "42" {
		t.Fatalf("job = %+v", job)
	}

	if _, err := c.Status(context.Background(), "job-0-dead"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWaitForResultPollsUntilTerminal(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		status := "PROCESSING"
		if n >= 3 {
			status = "SUCCESS"
		}
		w.Write(envelopeJSON(Job{JobID: "job-1-aaaa", Status: status}))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.PollInterval = 5 * time.Millisecond

	job, err := c.WaitForResult(context.Background(), "job-1-aaaa")
	if err != nil {
		t.Fatalf("WaitForResult: %v", err)
	}
	if job.Status != "SUCCESS" {
		t.Fatalf("status = %q", job.Status)
	}
	if got := atomic.LoadInt32(&polls); got < 3 {
		t.Fatalf("polled %d times", got)
	}
}

func TestWaitForResultTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(envelopeJSON(Job{JobID: "job-1-aaaa", Status: "PENDING"}))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.WaitForResult(ctx, "job-1-aaaa"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWaitForResultTimesOutMidRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// outlive the caller's deadline so the poll fails in flight
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		w.Write(envelopeJSON(Job{JobID: "job-1-aaaa", Status: "PENDING"}))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.WaitForResult(ctx, "job-1-aaaa"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWaitForResultReturnsFailedJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(envelopeJSON(Job{JobID: "job-1-aaaa", Status: "FAILED", ErrorMsg: "boom"}))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.PollInterval = 5 * time.Millisecond

	job, err := c.WaitForResult(context.Background(), "job-1-aaaa")
	if err != nil {
		t.Fatalf("WaitForResult: %v", err)
	}
	if job.Status != "FAILED" || job.ErrorMsg != "boom" {
		t.Fatalf("job = %+v", job)
	}
}
