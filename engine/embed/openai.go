package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/StratumAI/stratum-mvp/engine/domain"
)

// DefaultDimension matches the reference deployment's embedding model
// (text-embedding-3-large).
const DefaultDimension = 3072

// Client is an OpenAI-compatible HTTP embedding provider. It is stateless
// beyond the remote call and safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	http    *http.Client
	limiter *rate.Limiter
}

// ClientOpts configures the embedding client.
type ClientOpts struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	Timeout   time.Duration
	// RequestsPerSecond bounds outgoing provider calls; <=0 disables limiting.
	RequestsPerSecond float64
}

// NewClient creates an embedding client.
func NewClient(opts ClientOpts) *Client {
	if opts.Dimension <= 0 {
		opts.Dimension = DefaultDimension
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Client{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		model:   opts.Model,
		dims:    opts.Dimension,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
	}
}

// Dimension returns the configured vector dimension.
func (c *Client) Dimension() int { return c.dims }

type embeddingsReq struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResp struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch calls the provider's /v1/embeddings endpoint for the whole
// batch. Failures are returned as retryable ProviderErrors; the Resilient
// wrapper decides whether to absorb them.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, domain.NewProviderError("embedder", false, err)
		}
	}

	body, _ := json.Marshal(embeddingsReq{Model: c.model, Input: texts, Dimensions: c.dims})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewProviderError("embedder", false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewProviderError("embedder", true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, domain.NewProviderError("embedder", retryable,
			fmt.Errorf("embeddings: status %d", resp.StatusCode))
	}

	var result embeddingsResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, domain.NewProviderError("embedder", true, fmt.Errorf("embeddings decode: %w", err))
	}
	if len(result.Data) != len(texts) {
		return nil, domain.NewProviderError("embedder", false,
			fmt.Errorf("embeddings: got %d vectors for %d inputs", len(result.Data), len(texts)))
	}

	out := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, domain.NewProviderError("embedder", false,
				fmt.Errorf("embeddings: index %d out of range", d.Index))
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}
