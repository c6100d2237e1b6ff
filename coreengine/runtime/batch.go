package runtime

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Question is one entry of a batch.
type Question struct {
	ID       string
	Question string
	FileRef  string
}

// BatchResult pairs a batch entry with its outcome. Result may be set even
// when Err is, carrying the partially populated record.
type BatchResult struct {
	ID     string
	Result *FinalResult
	Err    error
}

// ExecuteBatch runs independent questions with at most parallelism runs in
// flight. A failing question never stops the others; its error is reported
// in its BatchResult. Results are returned in input order.
func (r *Runner) ExecuteBatch(ctx context.Context, questions []Question, parallelism int) ([]BatchResult, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	results := make([]BatchResult, len(questions))

	r.logger.Info("batch_started", "questions", len(questions), "parallelism", parallelism)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, q := range questions {
		i, q := i, q
		g.Go(func() error {
			res, err := r.Execute(gctx, q.Question, q.FileRef)
			if err != nil {
				r.logger.Warn("batch_question_failed", "id", q.ID, "error", err.Error())
			}
			results[i] = BatchResult{ID: q.ID, Result: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	r.logger.Info("batch_completed", "questions", len(questions), "failed", failed)
	return results, ctx.Err()
}
