package hybrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/StratumAI/stratum-mvp/engine/domain"
)

// RerankClient talks to a Cohere-style cross-encoder rerank endpoint.
// It is a pure scorer: no side effects, tolerant of empty input.
type RerankClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// RerankOpts configures the rerank client.
type RerankOpts struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewRerankClient(opts RerankOpts) *RerankClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &RerankClient{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		model:   opts.Model,
		http:    &http.Client{Timeout: opts.Timeout},
	}
}

type rerankReq struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResp struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores every candidate's text against the query and returns the
// candidates with replacement relevance scores. Ordering is left to the
// caller.
func (c *RerankClient) Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate) ([]domain.RetrievalCandidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	docs := make([]string, len(candidates))
	for i, cand := range candidates {
		docs[i] = cand.Text
	}
	body, _ := json.Marshal(rerankReq{Model: c.model, Query: query, Documents: docs})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewProviderError("reranker", false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewProviderError("reranker", true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, domain.NewProviderError("reranker", retryable,
			fmt.Errorf("rerank: status %d", resp.StatusCode))
	}

	var result rerankResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, domain.NewProviderError("reranker", true, fmt.Errorf("rerank decode: %w", err))
	}

	out := make([]domain.RetrievalCandidate, 0, len(result.Results))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			return nil, domain.NewProviderError("reranker", false,
				fmt.Errorf("rerank: index %d out of range", r.Index))
		}
		cand := candidates[r.Index]
		cand.Score = r.RelevanceScore
		out = append(out, cand)
	}
	return out, nil
}
