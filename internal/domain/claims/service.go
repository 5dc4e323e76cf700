package claims

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/claims/internal/platform/telemetry"
)

// ActorSystem is recorded for transitions not caused by a user.
const ActorSystem = "system"

// gapErrorCode marks submissions sent without an X12 payload.
const gapErrorCode = "X12_GAP"

// Service owns submission, polling, resubmission, batching and remittance
// processing for claims.
type Service struct {
	repos     Repositories
	provider  ClaimDataProvider
	encoder   *Encoder
	transport Transport
	tx        TxRunner
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
	scope     TenantScope

	batchConcurrency int
	now              func() time.Time
}

func NewService(repos Repositories, provider ClaimDataProvider, enc *Encoder, transport Transport, tx TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repos:            repos,
		provider:         provider,
		encoder:          enc,
		transport:        transport,
		tx:               tx,
		logger:           logger.With().Str("component", "claims").Logger(),
		batchConcurrency: 1,
		now:              time.Now,
	}
}

// SetMetrics attaches optional Prometheus recorders.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// SetTenantScope lets parallel batch workers pin their own tenant
// connection instead of sharing the request's.
func (s *Service) SetTenantScope(scope TenantScope) {
	s.scope = scope
}

// SetBatchConcurrency sets how many batch members are submitted at once.
// Values below 2 keep batches sequential.
func (s *Service) SetBatchConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.batchConcurrency = n
}

// -- Submit --

type SubmitInput struct {
	TenantID        string     `json:"-"`
	ClaimID         uuid.UUID  `json:"-"`
	ClearinghouseID *uuid.UUID `json:"clearinghouse_id,omitempty"`
	BatchID         *uuid.UUID `json:"-"`
	Actor           string     `json:"-"`
}

// Submit encodes and sends one claim. It refuses claims that are already
// submitted, accepted or paid. Encoding problems do not stop the submission;
// the row is written without X12 and flagged. Transport failures are
// returned and change nothing. On success the submission row, the claim
// status and the history entry are written in one transaction.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Submission, error) {
	if strings.TrimSpace(in.TenantID) == "" {
		return nil, markf(ErrValidation, "tenant is required")
	}
	claim, err := s.repos.Claims.GetByID(ctx, in.TenantID, in.ClaimID)
	if err != nil {
		return nil, err
	}
	if claim.Status.InFlight() || !claim.Status.CanTransition(ClaimSubmitted) {
		return nil, markf(ErrInvalidStatus, "claim %s is already %s", claim.ID, claim.Status)
	}
	cfg, err := s.resolveConfig(ctx, in.TenantID, in.ClearinghouseID)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, in, claim, cfg)
}

func (s *Service) submit(ctx context.Context, in SubmitInput, claim *Claim, cfg *ClearinghouseConfig) (*Submission, error) {
	log := s.logger.With().
		Str("tenant", in.TenantID).
		Str("claim_id", claim.ID.String()).
		Str("clearinghouse", cfg.Name).
		Logger()

	retryCount := 0
	prev, err := s.repos.Submissions.LatestByClaim(ctx, in.TenantID, claim.ID)
	switch {
	case err == nil:
		retryCount = prev.RetryCount + 1
	case !IsNotFound(err):
		return nil, err
	}

	x12Text, nums, x12ClaimID, gapErr := s.generate(ctx, in.TenantID, cfg, claim)
	if gapErr != nil {
		log.Warn().Err(gapErr).Bool("x12_gap", true).Msg("x12 generation failed, submitting without payload")
		s.metrics.EncodingGap(cfg.Type)
	}

	start := time.Now()
	res, err := s.transport.Submit(ctx, SubmitRequest{
		TenantID:      in.TenantID,
		Clearinghouse: cfg,
		ClaimID:       claim.ID,
		X12ClaimID:    x12ClaimID,
		X12:           x12Text,
		Control:       nums,
	})
	s.metrics.ObserveTransport("submit", time.Since(start), err)
	if err != nil {
		log.Error().Err(err).Msg("clearinghouse submission failed")
		if IsConfiguration(err) || IsTransport(err) {
			return nil, err
		}
		return nil, wrapMark(err, ErrTransport, "submit claim %s", claim.ID)
	}
	if !res.Status.Valid() {
		return nil, markf(ErrTransport, "clearinghouse reported unknown status %q", res.Status)
	}

	sub := &Submission{
		ID:               uuid.New(),
		TenantID:         in.TenantID,
		ClaimID:          claim.ID,
		ClearinghouseID:  cfg.ID,
		BatchID:          in.BatchID,
		ISAControlNumber: nums.ISA,
		GSControlNumber:  nums.GS,
		STControlNumber:  nums.ST,
		X12ClaimID:       x12ClaimID,
		TransactionID:    res.TransactionID,
		X12Content:       x12Text,
		Status:           res.Status,
		StatusCode:       res.StatusCode,
		StatusMessage:    res.Message,
		ResponsePayload:  res.Payload,
		RetryCount:       retryCount,
		SubmittedAt:      s.now(),
	}
	if gapErr != nil {
		sub.ErrorCode = gapErrorCode
		sub.ErrorMessage = gapErr.Error()
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repos.Submissions.Create(ctx, sub); err != nil {
			return err
		}
		if err := s.transition(ctx, claim, ClaimSubmitted, HistoryEntry{
			StatusCode: string(res.Status),
			Note:       submitNote(cfg, sub),
			Source:     SourceClearinghouse,
			Actor:      actorOr(in.Actor),
		}); err != nil {
			return err
		}
		// The clearinghouse may already have decided the claim.
		if target, _ := res.Status.ClaimStatus(); target != ClaimSubmitted && claim.Status.CanTransition(target) {
			return s.transition(ctx, claim, target, HistoryEntry{
				StatusCode: res.StatusCode,
				Note:       fmt.Sprintf("clearinghouse reported %s on submission: %s", res.Status, res.Message),
				Source:     SourceClearinghouse,
				Actor:      ActorSystem,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SubmissionRecorded(cfg.Type, string(sub.Status))
	log.Info().
		Str("submission_id", sub.ID.String()).
		Str("x12_claim_id", sub.X12ClaimID).
		Int64("isa", sub.ISAControlNumber).
		Str("status", string(sub.Status)).
		Int("retry_count", sub.RetryCount).
		Msg("claim submitted")
	return sub, nil
}

func submitNote(cfg *ClearinghouseConfig, sub *Submission) string {
	if sub.X12Content == nil {
		return fmt.Sprintf("submitted to %s without X12 payload", cfg.Name)
	}
	return fmt.Sprintf("submitted to %s, ISA %09d", cfg.Name, sub.ISAControlNumber)
}

// generate produces the X12 text. A non-nil error means the claim goes out
// without a payload; a claim identifier is always returned.
func (s *Service) generate(ctx context.Context, tenantID string, cfg *ClearinghouseConfig, claim *Claim) (*string, ControlNumbers, string, error) {
	content, err := s.provider.Fetch(ctx, tenantID, claim.SuperbillID)
	if err != nil {
		return nil, ControlNumbers{}, s.encoder.NewClaimIdentifier(), wrapMark(err, ErrEncoding, "fetch claim content")
	}
	enc, err := s.encoder.Encode(ctx, EncodeInput{TenantID: tenantID, Clearinghouse: cfg, Content: content})
	if err != nil {
		return nil, ControlNumbers{}, s.encoder.NewClaimIdentifier(), err
	}
	return &enc.Text, enc.Control, enc.ClaimID, nil
}

// transition writes the claim status and its history entry. It must run
// inside a transaction. claim.Status is updated on success.
func (s *Service) transition(ctx context.Context, claim *Claim, to ClaimStatus, entry HistoryEntry) error {
	from := claim.Status
	if from != to {
		if err := s.repos.Claims.UpdateStatus(ctx, claim.TenantID, claim.ID, to); err != nil {
			return err
		}
	}
	entry.TenantID = claim.TenantID
	entry.ClaimID = claim.ID
	entry.Status = to
	if err := s.repos.History.Append(ctx, &entry); err != nil {
		return err
	}
	claim.Status = to
	s.metrics.StatusTransition(string(from), string(to))
	return nil
}

func actorOr(actor string) string {
	if actor == "" {
		return ActorSystem
	}
	return actor
}

// resolveConfig returns the explicit config when id is set, otherwise the
// tenant default. Missing or inactive configs are ErrConfiguration.
func (s *Service) resolveConfig(ctx context.Context, tenantID string, id *uuid.UUID) (*ClearinghouseConfig, error) {
	if id != nil && *id != uuid.Nil {
		cfg, err := s.repos.Configs.GetByID(ctx, tenantID, *id)
		if err != nil {
			if IsNotFound(err) {
				return nil, markf(ErrConfiguration, "clearinghouse %s not found", *id)
			}
			return nil, err
		}
		if cfg.TenantID != tenantID {
			return nil, markf(ErrConfiguration, "clearinghouse %s does not belong to tenant %s", *id, tenantID)
		}
		if !cfg.IsActive {
			return nil, markf(ErrConfiguration, "clearinghouse %s is not active", cfg.Name)
		}
		return cfg, nil
	}

	cfg, err := s.repos.Configs.GetDefault(ctx, tenantID)
	if err != nil {
		if IsNotFound(err) {
			return nil, markf(ErrConfiguration, "no default clearinghouse configured for tenant %s", tenantID)
		}
		return nil, err
	}
	if !cfg.IsActive {
		return nil, markf(ErrConfiguration, "default clearinghouse %s is not active", cfg.Name)
	}
	return cfg, nil
}

// -- Poll --

// PollStatus asks the clearinghouse for the latest submission's status.
// Transport failures are logged and the stored submission is returned
// unchanged. Transitions the submission table does not allow are ignored.
func (s *Service) PollStatus(ctx context.Context, tenantID string, claimID uuid.UUID) (*Submission, error) {
	sub, err := s.repos.Submissions.LatestByClaim(ctx, tenantID, claimID)
	if err != nil {
		return nil, err
	}
	return s.poll(ctx, sub)
}

func (s *Service) poll(ctx context.Context, sub *Submission) (*Submission, error) {
	log := s.logger.With().
		Str("tenant", sub.TenantID).
		Str("claim_id", sub.ClaimID.String()).
		Str("submission_id", sub.ID.String()).
		Logger()

	if sub.Status.Terminal() {
		return sub, nil
	}
	cfg, err := s.repos.Configs.GetByID(ctx, sub.TenantID, sub.ClearinghouseID)
	if err != nil {
		if IsNotFound(err) {
			return nil, markf(ErrConfiguration, "clearinghouse %s of submission %s not found", sub.ClearinghouseID, sub.ID)
		}
		return nil, err
	}

	start := time.Now()
	res, err := s.transport.CheckStatus(ctx, StatusRequest{
		TenantID:      sub.TenantID,
		Clearinghouse: cfg,
		X12ClaimID:    sub.X12ClaimID,
		TransactionID: sub.TransactionID,
		Current:       sub.Status,
	})
	s.metrics.ObserveTransport("check_status", time.Since(start), err)
	if err != nil {
		log.Warn().Err(err).Msg("status poll failed, keeping stored status")
		return sub, nil
	}

	checkedAt := s.now()
	if res.Status == sub.Status {
		sub.StatusCheckedAt = &checkedAt
		if err := s.repos.Submissions.UpdateStatus(ctx, sub); err != nil {
			return nil, err
		}
		return sub, nil
	}
	if !sub.Status.CanTransition(res.Status) {
		log.Warn().
			Str("from", string(sub.Status)).
			Str("to", string(res.Status)).
			Msg("ignoring illegal submission transition")
		return sub, nil
	}

	claim, err := s.repos.Claims.GetByID(ctx, sub.TenantID, sub.ClaimID)
	if err != nil {
		return nil, err
	}

	prev := sub.Status
	updated := *sub
	updated.Status = res.Status
	updated.StatusCode = res.StatusCode
	updated.StatusMessage = res.Message
	updated.StatusCheckedAt = &checkedAt
	if len(res.Payload) > 0 {
		updated.ResponsePayload = res.Payload
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repos.Submissions.UpdateStatus(ctx, &updated); err != nil {
			return err
		}
		target, _ := res.Status.ClaimStatus()
		if !claim.Status.CanTransition(target) {
			log.Warn().
				Str("claim_status", string(claim.Status)).
				Str("to", string(target)).
				Msg("claim transition not allowed, recording submission status only")
			target = claim.Status
		}
		return s.transition(ctx, claim, target, HistoryEntry{
			StatusCode: string(res.Status),
			Note:       pollNote(prev, res),
			Source:     SourceClearinghouse,
			Actor:      ActorSystem,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("from", string(prev)).Str("to", string(res.Status)).Msg("submission status changed")
	return &updated, nil
}

func pollNote(prev SubmissionStatus, res *StatusResult) string {
	note := fmt.Sprintf("clearinghouse status %s -> %s", prev, res.Status)
	if res.Message != "" {
		note += ": " + res.Message
	}
	return note
}

// PollInFlight polls up to limit in-flight submissions of a tenant and
// returns how many changed status.
func (s *Service) PollInFlight(ctx context.Context, tenantID string, limit int) (int, error) {
	subs, err := s.repos.Submissions.ListInFlight(ctx, tenantID, limit)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, sub := range subs {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		before := sub.Status
		got, err := s.poll(ctx, sub)
		if err != nil {
			s.logger.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("poll failed")
			continue
		}
		if got.Status != before {
			changed++
		}
	}
	return changed, nil
}

// -- Resubmit --

type ResubmitInput struct {
	TenantID        string     `json:"-"`
	ClaimID         uuid.UUID  `json:"-"`
	ClearinghouseID *uuid.UUID `json:"clearinghouse_id,omitempty"`
	Actor           string     `json:"-"`
}

// Resubmit moves a rejected or denied claim back to ready, recording that
// decision, then submits it again as a new submission.
func (s *Service) Resubmit(ctx context.Context, in ResubmitInput) (*Submission, error) {
	claim, err := s.repos.Claims.GetByID(ctx, in.TenantID, in.ClaimID)
	if err != nil {
		return nil, err
	}
	if !claim.Status.Resubmittable() {
		return nil, markf(ErrCannotResubmit, "cannot resubmit claim in status %s", claim.Status)
	}
	cfg, err := s.resolveConfig(ctx, in.TenantID, in.ClearinghouseID)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.transition(ctx, claim, ClaimReady, HistoryEntry{
			Note:   "resubmission requested",
			Source: SourceUser,
			Actor:  actorOr(in.Actor),
		})
	})
	if err != nil {
		return nil, err
	}

	return s.submit(ctx, SubmitInput{
		TenantID:        in.TenantID,
		ClaimID:         in.ClaimID,
		ClearinghouseID: in.ClearinghouseID,
		Actor:           in.Actor,
	}, claim, cfg)
}

// -- Read side --

func (s *Service) ListSubmissions(ctx context.Context, tenantID string, claimID uuid.UUID, limit, offset int) ([]*Submission, int, error) {
	return s.repos.Submissions.ListByClaim(ctx, tenantID, claimID, limit, offset)
}

func (s *Service) ListHistory(ctx context.Context, tenantID string, claimID uuid.UUID, limit, offset int) ([]*HistoryEntry, int, error) {
	return s.repos.History.ListByClaim(ctx, tenantID, claimID, limit, offset)
}

func (s *Service) GetBatch(ctx context.Context, tenantID string, id uuid.UUID) (*Batch, error) {
	return s.repos.Batches.GetByID(ctx, tenantID, id)
}

// -- Clearinghouse configuration --

var validSubmissionMethods = map[string]bool{"api": true, "sftp": true}

func (s *Service) validateConfig(c *ClearinghouseConfig) error {
	if strings.TrimSpace(c.TenantID) == "" {
		return markf(ErrValidation, "tenant is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return markf(ErrValidation, "name is required")
	}
	if strings.TrimSpace(c.Type) == "" {
		return markf(ErrValidation, "type is required")
	}
	if c.SenderID == "" || c.ReceiverID == "" {
		return markf(ErrValidation, "sender_id and receiver_id are required")
	}
	if len(c.SenderID) > 15 || len(c.ReceiverID) > 15 {
		return markf(ErrValidation, "sender_id and receiver_id must be at most 15 characters")
	}
	if c.SubmissionFormat == "" {
		c.SubmissionFormat = "837P"
	}
	if c.SubmissionFormat != "837P" {
		return markf(ErrValidation, "unsupported submission format %q", c.SubmissionFormat)
	}
	if c.SubmissionMethod == "" {
		c.SubmissionMethod = "api"
	}
	if !validSubmissionMethods[c.SubmissionMethod] {
		return markf(ErrValidation, "invalid submission method %q", c.SubmissionMethod)
	}
	if c.MaxBatchSize < 0 {
		return markf(ErrValidation, "max_batch_size must not be negative")
	}
	return nil
}

// CreateClearinghouse stores a new config. When it is the default, every
// other config of the tenant loses the flag in the same transaction.
func (s *Service) CreateClearinghouse(ctx context.Context, c *ClearinghouseConfig) error {
	if err := s.validateConfig(c); err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repos.Configs.Create(ctx, c); err != nil {
			return err
		}
		if c.IsDefault {
			return s.repos.Configs.ClearDefault(ctx, c.TenantID, c.ID)
		}
		return nil
	})
}

func (s *Service) UpdateClearinghouse(ctx context.Context, c *ClearinghouseConfig) error {
	if err := s.validateConfig(c); err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repos.Configs.Update(ctx, c); err != nil {
			return err
		}
		if c.IsDefault {
			return s.repos.Configs.ClearDefault(ctx, c.TenantID, c.ID)
		}
		return nil
	})
}

func (s *Service) GetClearinghouse(ctx context.Context, tenantID string, id uuid.UUID) (*ClearinghouseConfig, error) {
	return s.repos.Configs.GetByID(ctx, tenantID, id)
}

func (s *Service) ListClearinghouses(ctx context.Context, tenantID string, limit, offset int) ([]*ClearinghouseConfig, int, error) {
	return s.repos.Configs.List(ctx, tenantID, limit, offset)
}
