// Package classifier wraps the external anomaly scoring service. The service
// exposes a single contract: a feature vector in, a score in [0,1] out.
// Records scoring above AnomalyThreshold are flagged as anomalies.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AnomalyThreshold is the fixed cutoff above which a score marks a record as
// anomalous.
const AnomalyThreshold = 0.5

// Scorer scores a numeric feature vector.
type Scorer interface {
	Score(ctx context.Context, features []float64) (float64, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, features []float64) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, features []float64) (float64, error) {
	return f(ctx, features)
}

// IsAnomaly reports whether a score crosses the anomaly threshold.
func IsAnomaly(score float64) bool {
	return score > AnomalyThreshold
}

// HTTPScorer calls a remote scoring service over HTTP. The service accepts
// POST {"features": [...]} and responds with {"score": s}.
type HTTPScorer struct {
	url        string
	httpClient *http.Client
}

// HTTPScorerOption configures an HTTPScorer.
type HTTPScorerOption func(*HTTPScorer)

// WithHTTPClient overrides the default HTTP client (10s timeout).
func WithHTTPClient(c *http.Client) HTTPScorerOption {
	return func(s *HTTPScorer) {
		s.httpClient = c
	}
}

func NewHTTPScorer(url string, opts ...HTTPScorerOption) *HTTPScorer {
	s := &HTTPScorer{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scoreRequest struct {
	Features []float64 `json:"features"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

func (s *HTTPScorer) Score(ctx context.Context, features []float64) (float64, error) {
	payload, err := json.Marshal(scoreRequest{Features: features})
	if err != nil {
		return 0, fmt.Errorf("marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("scorer returned %d: %s", resp.StatusCode, string(body))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode score response: %w", err)
	}
	if out.Score < 0 || out.Score > 1 {
		return 0, fmt.Errorf("scorer returned out-of-range score %v", out.Score)
	}

	return out.Score, nil
}
