package pipeline

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// BatchResult is the outcome of one document of a batch.
type BatchResult struct {
	Document Document
	Run      *Run
	Err      error
}

// RunBatch runs independent documents with at most concurrency runs in
// flight. A failure only stops its own document. Results keep the order of
// docs.
func (o *Orchestrator) RunBatch(ctx context.Context, docs []Document, concurrency int) []BatchResult {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]BatchResult, len(docs))

	p := pool.New().WithMaxGoroutines(concurrency)
	for i, doc := range docs {
		p.Go(func() {
			run, err := o.Run(ctx, doc)
			results[i] = BatchResult{Document: doc, Run: run, Err: err}
		})
	}
	p.Wait()
	return results
}
