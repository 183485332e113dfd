// Package client is a small Go client for the ingestion API: submit a
// job, check its ticket, or block until it reaches a terminal status.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotFound means the job id has no ticket (never existed or expired).
	ErrNotFound = errors.New("job not found")
	// ErrTimeout means the job was still running when the wait deadline
	// passed. The job itself may still finish.
	ErrTimeout = errors.New("timed out waiting for job")
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// Token, when set, is sent as a Bearer credential.
	Token string

	// PollInterval is the delay between status checks in WaitForResult.
	PollInterval time.Duration
	// WaitTimeout bounds WaitForResult when ctx carries no deadline.
	WaitTimeout time.Duration
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		PollInterval: 3 * time.Second,
		WaitTimeout:  2 * time.Minute,
	}
}

type SubmitRequest struct {
	Question string `json:"question,omitempty"`
	// base64-encoded payloads
	Audio    string `json:"audio,omitempty"`
	FileData string `json:"file_data,omitempty"`
	FileName string `json:"file_name,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	ChatID   string `json:"chat_id,omitempty"`
}

type SubmitResult struct {
	JobID  string `json:"job_id"`
	ChatID string `json:"chat_id"`
}

type Citation struct {
	URI  string `json:"uri"`
	Text string `json:"text,omitempty"`
}

type Job struct {
	JobID          string     `json:"job_id"`
	UserID         string     `json:"user_id"`
	ChatID         string     `json:"chat_id"`
	Status         string     `json:"status"`
	Type           string     `json:"type"`
	Question       string     `json:"question,omitempty"`
	FileName       string     `json:"file_name,omitempty"`
	CreatedAt      int64      `json:"created_at"`
	ExpirationTime int64      `json:"expiration_time"`
	Answer         string     `json:"answer,omitempty"`
	Citations      []Citation `json:"citations,omitempty"`
	ErrorMsg       string     `json:"error_msg,omitempty"`
}

// Terminal reports whether the job will not change again.
func (j *Job) Terminal() bool {
	return j.Status == "SUCCESS" || j.Status == "FAILED"
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Submit sends one submission and returns the ticket handle.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	var out SubmitResult
	if err := c.post(ctx, "/ingest", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the current ticket.
func (c *Client) Status(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, errors.New("job id is empty")
	}
	var out Job
	if err := c.get(ctx, "/status/"+jobID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitForResult polls until the job reaches SUCCESS or FAILED, the ctx
// deadline passes, or WaitTimeout elapses. A FAILED job is returned,
// not turned into an error; ErrTimeout means the outcome is unknown.
func (c *Client) WaitForResult(ctx context.Context, jobID string) (*Job, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.WaitTimeout)
		defer cancel()
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.Status(ctx, jobID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			// A deadline that trips mid-request surfaces as a transport
			// error; callers match on ErrTimeout either way.
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if err == nil && job.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api error %d: %s", env.Code, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
