package scanner

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

// ClassifierScanner runs a local ONNX text-classification model over the
// request. Inference is fully local; when no ONNX Runtime library is
// installed it falls back to the pure Go backend, slower but dependency-free.
type ClassifierScanner struct {
	mu       sync.RWMutex
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
}

// ClassifierConfig configures the local model.
type ClassifierConfig struct {
	// ModelPath is the directory holding model.onnx and its tokenizer files.
	ModelPath string

	// OnnxLibraryPath points at the directory containing libonnxruntime.
	// Empty selects the pure Go backend.
	OnnxLibraryPath string
}

// NewClassifierScanner loads the model and builds the inference pipeline.
/// Callers treat an error as "run without the classifier": the rest of the
// scanner set still covers the request.
func NewClassifierScanner(cfg ClassifierConfig) (*ClassifierScanner, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("classifier model path not configured")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("classifier model unavailable: %w", err)
	}

	session, err := newSession(cfg.OnnxLibraryPath)
	if err != nil {
		return nil, fmt.Errorf("creating inference session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: cfg.ModelPath,
		Name:      "risk-classifier",
	})
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("creating classification pipeline: %w", err)
	}

	log.Printf("[SCAN] classifier ready (model: %s)", cfg.ModelPath)
	return &ClassifierScanner{session: session, pipeline: pipeline}, nil
}

func newSession(onnxLibraryPath string) (*hugot.Session, error) {
	if onnxLibraryPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(onnxLibraryPath))
		if err == nil {
			return session, nil
		}
		log.Printf("[SCAN] ONNX Runtime unavailable, using Go backend: %v", err)
	}
	return hugot.NewGoSession()
}

func (s *ClassifierScanner) ID() string { return "classifier" }

// threatLabels covers the label conventions of the common public
// prompt-injection models.
var threatLabels = map[string]bool{
	"jailbreak": true,
	"INJECTION": true,
	"malicious": true,
	"LABEL_1":   true,
}

// Scan implements Scanner. The model's confidence maps directly onto the
// score: confidence in a threat label is the score, confidence in a benign
// label inverts.
func (s *ClassifierScanner) Scan(ctx context.Context, text string) (float64, bool, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, "", err
	}

	s.mu.RLock()
	pipeline := s.pipeline
	s.mu.RUnlock()
	if pipeline == nil {
		return 0, false, "", fmt.Errorf("classifier closed")
	}

	result, err := pipeline.RunPipeline([]string{text})
	if err != nil {
		return 0, false, "", fmt.Errorf("inference failed: %w", err)
	}
	if len(result.ClassificationOutputs) == 0 || len(result.ClassificationOutputs[0]) == 0 {
		return 0, false, "", fmt.Errorf("inference returned no outputs")
	}

	out := result.ClassificationOutputs[0][0]
	confidence := float64(out.Score)
	if threatLabels[out.Label] {
		return confidence, true, fmt.Sprintf("label %s (%.3f)", out.Label, confidence), nil
	}
	return 1 - confidence, false, fmt.Sprintf("label %s (%.3f)", out.Label, confidence), nil
}

// Close releases the inference session.
func (s *ClassifierScanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipeline = nil
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}
