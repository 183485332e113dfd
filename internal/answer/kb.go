package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Passage is one retrieved snippet with its source reference.
type Passage struct {
	Text      string  `json:"text"`
	SourceURI string  `json:"source_uri"`
	Score     float64 `json:"score"`
}

// Retriever looks up passages relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}

// KBClient talks to the managed knowledge-base retrieval service.
type KBClient struct {
	BaseURL string
	Client  *http.Client
}

func NewKBClient(baseURL string) *KBClient {
	return &KBClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type kbRetrieveReq struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type kbRetrieveResp struct {
	Results []Passage `json:"results"`
	Error   string    `json:"error,omitempty"`
}

func (c *KBClient) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	if topK <= 0 {
		topK = 3
	}
	b, err := json.Marshal(kbRetrieveReq{Query: query, TopK: topK})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/retrieve", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kb retrieve: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("kb retrieve: status %d", resp.StatusCode)
	}

	var decoded kbRetrieveResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("kb retrieve: %s", decoded.Error)
	}
	return decoded.Results, nil
}
