package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultCallTimeout = 10 * time.Minute

// HTTPClient calls the external reasoning service over HTTP. Prompting,
// model selection and any model-tier downgrade happen on the service
// side; this client only ships the request and decodes the payload.
type HTTPClient struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// NewHTTPClient creates a client for the given endpoint.
func NewHTTPClient(endpoint, apiKey string) *HTTPClient {
	return &HTTPClient{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: defaultCallTimeout},
	}
}

type analyzeRequest struct {
	Source            string `json:"source"`
	Architecture      string `json:"architecture"`
	HistoricalContext string `json:"historical_context"`
}

// Analyze posts the request and decodes the result strictly. A 429 from
// the service is surfaced as ErrQuotaExceeded so the pipeline can
// render an actionable message.
func (c *HTTPClient) Analyze(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(analyzeRequest{
		Source:            req.Source,
		Architecture:      req.Architecture,
		HistoricalContext: req.HistoricalContext,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	start := time.Now()
	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("reasoning service call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read reasoning response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, fmt.Errorf("%w: service returned 429", ErrQuotaExceeded)
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("reasoning service returned status %d", resp.StatusCode)
	}

	result, err := DecodeResult(body)
	if err != nil {
		return Result{}, err
	}

	log.Debug().
		Dur("elapsed", time.Since(start)).
		Int("findings", len(result.Findings)).
		Msg("Reasoning service call complete")

	return result, nil
}
