package claims

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

type BatchInput struct {
	TenantID        string      `json:"-"`
	ClearinghouseID *uuid.UUID  `json:"clearinghouse_id,omitempty"`
	ClaimIDs        []uuid.UUID `json:"claim_ids"`
	Actor           string      `json:"-"`
}

// BatchError is the failure of one claim within a batch.
type BatchError struct {
	ClaimID uuid.UUID `json:"claim_id"`
	Error   string    `json:"error"`
}

type BatchResult struct {
	BatchID     uuid.UUID    `json:"batch_id"`
	Status      BatchStatus  `json:"status"`
	TotalClaims int          `json:"total_claims"`
	Submitted   int          `json:"submitted"`
	Failed      int          `json:"failed"`
	Errors      []BatchError `json:"errors"`
}

// SubmitBatch submits every claim against one clearinghouse. Problems with
// the request itself are returned before any batch is created; failures of
// individual claims are collected in the result in input order.
func (s *Service) SubmitBatch(ctx context.Context, in BatchInput) (*BatchResult, error) {
	if len(in.ClaimIDs) == 0 {
		return nil, markf(ErrValidation, "batch must contain at least one claim")
	}
	if dups := lo.FindDuplicates(in.ClaimIDs); len(dups) > 0 {
		return nil, markf(ErrValidation, "claim %s appears more than once in batch", dups[0])
	}
	cfg, err := s.resolveConfig(ctx, in.TenantID, in.ClearinghouseID)
	if err != nil {
		return nil, err
	}
	if !cfg.BatchEnabled {
		return nil, markf(ErrConfiguration, "clearinghouse %s does not accept batches", cfg.Name)
	}
	if cfg.MaxBatchSize > 0 && len(in.ClaimIDs) > cfg.MaxBatchSize {
		return nil, markf(ErrValidation, "batch of %d claims exceeds the limit of %d for %s",
			len(in.ClaimIDs), cfg.MaxBatchSize, cfg.Name)
	}

	batch := &Batch{
		ID:              uuid.New(),
		TenantID:        in.TenantID,
		ClearinghouseID: cfg.ID,
		ClaimIDs:        in.ClaimIDs,
		TotalClaims:     len(in.ClaimIDs),
		Status:          BatchProcessing,
		CreatedBy:       actorOr(in.Actor),
	}
	if err := s.repos.Batches.Create(ctx, batch); err != nil {
		return nil, err
	}

	log := s.logger.With().
		Str("tenant", in.TenantID).
		Str("batch_id", batch.ID.String()).
		Str("clearinghouse", cfg.Name).
		Logger()
	log.Info().Int("claims", batch.TotalClaims).Int("concurrency", s.batchConcurrency).Msg("batch started")

	// One slot per input position keeps the errors in input order.
	failures := make([]error, len(in.ClaimIDs))
	submitOne := func(ctx context.Context, i int) {
		_, failures[i] = s.Submit(ctx, SubmitInput{
			TenantID:        in.TenantID,
			ClaimID:         in.ClaimIDs[i],
			ClearinghouseID: &cfg.ID,
			BatchID:         &batch.ID,
			Actor:           in.Actor,
		})
	}
	if s.batchConcurrency > 1 {
		p := pool.New().WithMaxGoroutines(s.batchConcurrency)
		for i := range in.ClaimIDs {
			i := i
			p.Go(func() {
				wctx := ctx
				if s.scope != nil {
					scoped, release, err := s.scope(ctx, in.TenantID)
					if err != nil {
						failures[i] = err
						return
					}
					defer release()
					wctx = scoped
				}
				submitOne(wctx, i)
			})
		}
		p.Wait()
	} else {
		for i := range in.ClaimIDs {
			submitOne(ctx, i)
		}
	}

	result := &BatchResult{BatchID: batch.ID, TotalClaims: batch.TotalClaims, Errors: []BatchError{}}
	for i, err := range failures {
		if err == nil {
			result.Submitted++
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, BatchError{ClaimID: in.ClaimIDs[i], Error: err.Error()})
		log.Warn().Err(err).Str("claim_id", in.ClaimIDs[i].String()).Msg("batch claim failed")
	}

	result.Status = BatchPartial
	if result.Submitted == result.TotalClaims {
		result.Status = BatchSubmitted
	}
	completedAt := s.now()
	batch.SubmittedCount = result.Submitted
	batch.FailedCount = result.Failed
	batch.Status = result.Status
	batch.CompletedAt = &completedAt
	if err := s.repos.Batches.Finalize(ctx, batch); err != nil {
		return nil, err
	}

	s.metrics.BatchCompleted(string(result.Status), result.Submitted, result.Failed)
	log.Info().
		Int("submitted", result.Submitted).
		Int("failed", result.Failed).
		Str("status", string(result.Status)).
		Msg("batch finished")
	return result, nil
}
