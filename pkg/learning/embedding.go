package learning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	chromem "github.com/philippgille/chromem-go"

	"github.com/bulwarkai/bulwark/pkg/httputil"
)

// OllamaEmbedding returns a chromem embedding function backed by a local
// Ollama instance. This is the shipped embedder for the context-diversity
// detector; deployments with their own embedding service supply a custom
// chromem.EmbeddingFunc instead.
func OllamaEmbedding(model, baseURL string) chromem.EmbeddingFunc {
	client := httputil.SlowClient()

	return func(ctx context.Context, text string) ([]float32, error) {
		payload, err := json.Marshal(map[string]string{
			"model":  model,
			"prompt": text,
		})
		if err != nil {
			return nil, fmt.Errorf("encoding embedding request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/embeddings", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("embedding request: %w", err)
		}
		defer httputil.DrainAndClose(resp.Body)

		if resp.StatusCode != http.StatusOK {
			body, _ := httputil.ReadErrorBody(resp.Body)
			return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, body)
		}

		raw, err := httputil.ReadResponseBody(resp.Body, 0)
		if err != nil {
			return nil, err
		}
		var out struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decoding embedding response: %w", err)
		}
		if len(out.Embedding) == 0 {
			return nil, fmt.Errorf("embedding service returned an empty vector")
		}
		return out.Embedding, nil
	}
}
