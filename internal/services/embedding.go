package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lostradar/lostradar/internal/faults"
)

// EmbeddingClient talks to the external embedding API that turns images
// and text into fixed-dimension vectors. The model itself is opaque; we
// only enforce that every returned vector matches the configured dimension
// so a model swap without a reindex fails loudly instead of corrupting
// search results.
type EmbeddingClient struct {
	endpoint  string
	apiKey    string
	dimension int
	client    *http.Client
}

// NewEmbeddingClient creates the client. Embedding generation can take
// seconds, so the per-call timeout is generous.
func NewEmbeddingClient(endpoint, apiKey string, dimension int) *EmbeddingClient {
	return &EmbeddingClient{
		endpoint:  strings.TrimSuffix(endpoint, "/"),
		apiKey:    apiKey,
		dimension: dimension,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Dimension is the vector dimension this deployment is configured for.
func (e *EmbeddingClient) Dimension() int {
	return e.dimension
}

type embedImageRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type embedTextRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// EmbedImage converts raw image bytes into a vector.
func (e *EmbeddingClient) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, faults.Tagf(faults.ErrValidation, "image bytes are empty")
	}
	body := embedImageRequest{ImageBase64: base64.StdEncoding.EncodeToString(data)}
	return e.embed(ctx, "/embed/image", body)
}

// EmbedText converts a text query into a vector.
func (e *EmbeddingClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, faults.Tagf(faults.ErrValidation, "query text is empty")
	}
	return e.embed(ctx, "/embed/text", embedTextRequest{Text: text})
}

func (e *EmbeddingClient) embed(ctx context.Context, path string, payload interface{}) ([]float32, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, faults.Tag(faults.ErrEmbedding, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, faults.Tag(faults.ErrEmbedding, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, faults.Tag(faults.ErrEmbedding, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Tag(faults.ErrEmbedding, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status_code", resp.StatusCode).
			Str("path", path).
			Str("body", string(respBody)).
			Msg("Embedding API returned error")
		return nil, faults.Tagf(faults.ErrEmbedding, "embedding API returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, faults.Tag(faults.ErrEmbedding, fmt.Errorf("failed to parse response: %w", err))
	}
	if parsed.Error != "" {
		return nil, faults.Tagf(faults.ErrEmbedding, "embedding API error: %s", parsed.Error)
	}

	if len(parsed.Embedding) != e.dimension {
		return nil, faults.Tagf(faults.ErrDimensionMismatch,
			"embedding API returned %d dimensions, want %d", len(parsed.Embedding), e.dimension)
	}

	log.Debug().
		Str("path", path).
		Dur("duration_ms", time.Since(start)).
		Msg("Embedding generated")

	return parsed.Embedding, nil
}
