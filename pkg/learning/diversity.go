package learning

import (
	"context"
	"fmt"
	"log"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// ContextDiversityDetector flags phrases whose surrounding contexts are
// semantically near-identical. Organic attack traffic shows a phrase embedded
// in varied prompts; a poisoning campaign replays the same carrier text with
// trivial edits, which collapses the embedding-space diversity of the
// contexts.
//
// Embeddings are computed through a pluggable chromem embedding function, so
// the detector works with local ONNX embeddings or a remote service alike.
type ContextDiversityDetector struct {
	embed chromem.EmbeddingFunc

	// minContexts below which there is not enough evidence to judge.
	minContexts int

	// similarityCeiling is the mean nearest-neighbor similarity above which
	// contexts are considered clones of each other.
	similarityCeiling float32

	timeout time.Duration
}

// NewContextDiversityDetector creates the detector. Returns an error when no
// embedding function is supplied - without embeddings there is nothing to
// measure.
func NewContextDiversityDetector(embed chromem.EmbeddingFunc) (*ContextDiversityDetector, error) {
	if embed == nil {
		return nil, fmt.Errorf("embedding function is nil")
	}
	return &ContextDiversityDetector{
		embed:             embed,
		minContexts:       4,
		similarityCeiling: 0.97,
		timeout:           10 * time.Second,
	}, nil
}

func (d *ContextDiversityDetector) Name() string { return "context_diversity" }

// Suspicious implements AnomalyDetector. Embedding failures are treated as
// "no verdict" rather than suspicion: an unavailable embedder must not flag
// legitimate phrases.
func (d *ContextDiversityDetector) Suspicious(p *Phrase, contexts []string) (bool, string) {
	if len(contexts) < d.minContexts {
		return false, ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	db := chromem.NewDB()
	collection, err := db.CreateCollection("phrase_contexts", nil, d.embed)
	if err != nil {
		log.Printf("[LEARN] diversity check unavailable for %q: %v", p.Text, err)
		return false, ""
	}

	docs := make([]chromem.Document, len(contexts))
	for i, c := range contexts {
		docs[i] = chromem.Document{ID: fmt.Sprintf("ctx_%d", i), Content: c}
	}
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		log.Printf("[LEARN] diversity check embed failed for %q: %v", p.Text, err)
		return false, ""
	}

	// For each context, find its nearest distinct neighbor. If on average
	// every context has a near-duplicate, the set has no real diversity.
	var total float32
	var counted int
	for i, c := range contexts {
		results, err := collection.Query(ctx, c, 2, nil, nil)
		if err != nil {
			log.Printf("[LEARN] diversity query failed for %q: %v", p.Text, err)
			return false, ""
		}
		selfID := fmt.Sprintf("ctx_%d", i)
		for _, r := range results {
			if r.ID == selfID {
				continue
			}
			total += r.Similarity
			counted++
			break
		}
	}
	if counted == 0 {
		return false, ""
	}

	mean := total / float32(counted)
	if mean >= d.similarityCeiling {
		return true, fmt.Sprintf("mean context similarity %.3f across %d sightings", mean, counted)
	}
	return false, ""
}
