package claims

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/platform/x12"
)

// PaymentMethodERA marks payments posted from an electronic remittance.
const PaymentMethodERA = "era"

// remittanceFallback is used when the text has no ISA header.
var remittanceFallback = x12.DefaultDelimiters.WithTerminator('~')

// ParseRemittance decodes the first claim payment of an 835. It never
// fails: missing amounts are zero and missing identifiers are empty.
func ParseRemittance(raw string) *RemittanceAdvice {
	ic := x12.Parse(raw, remittanceFallback)
	d := ic.Delimiters

	advice := &RemittanceAdvice{
		Adjustments: []Adjustment{},
		Lines:       []ServiceLine{},
	}
	if raw != "" {
		advice.RawContent = &raw
	}

	var line *ServiceLine
	seenClaim := false
	for _, seg := range ic.Segments {
		switch seg.Tag {
		case "TRN":
			if advice.ERANumber == "" {
				advice.ERANumber = strings.TrimSpace(seg.Element(2))
			}
		case "CLP":
			if seenClaim {
				// Only the first claim of a multi-claim ERA is decoded.
				return finishAdvice(advice, line)
			}
			seenClaim = true
			advice.X12ClaimID = strings.TrimSpace(seg.Element(1))
			advice.ClaimStatusCode = strings.TrimSpace(seg.Element(2))
			advice.ChargeAmount = x12.ParseAmount(seg.Element(3))
			advice.PaymentAmount = x12.ParseAmount(seg.Element(4))
			advice.PatientResponsibility = x12.ParseAmount(seg.Element(5))
		case "CAS":
			adj := parseCAS(seg)
			if line != nil {
				line.Adjustments = append(line.Adjustments, adj...)
			} else {
				advice.Adjustments = append(advice.Adjustments, adj...)
			}
		case "SVC":
			if line != nil {
				advice.Lines = append(advice.Lines, *line)
			}
			line = parseSVC(seg, d, len(advice.Lines)+1)
		case "LQ":
			if line != nil {
				if code := strings.TrimSpace(seg.Element(2)); code != "" {
					line.RemarkCodes = append(line.RemarkCodes, code)
				}
			}
		}
	}
	return finishAdvice(advice, line)
}

func finishAdvice(advice *RemittanceAdvice, open *ServiceLine) *RemittanceAdvice {
	if open != nil {
		advice.Lines = append(advice.Lines, *open)
	}
	return advice
}

// parseCAS reads the group code and up to six reason/amount/quantity
// triplets that share it.
func parseCAS(seg x12.Segment) []Adjustment {
	group := strings.TrimSpace(seg.Element(1))
	var out []Adjustment
	for i := 2; i <= len(seg.Elements); i += 3 {
		reason := strings.TrimSpace(seg.Element(i))
		amount := seg.Element(i + 1)
		if reason == "" && strings.TrimSpace(amount) == "" {
			continue
		}
		out = append(out, Adjustment{
			Group:    group,
			Reason:   reason,
			Amount:   x12.ParseAmount(amount),
			Quantity: strings.TrimSpace(seg.Element(i + 2)),
		})
	}
	return out
}

func parseSVC(seg x12.Segment, d x12.Delimiters, n int) *ServiceLine {
	line := &ServiceLine{
		LineNumber: n,
		Charged:    x12.ParseAmount(seg.Element(2)),
		Paid:       x12.ParseAmount(seg.Element(3)),
	}
	comps := seg.Components(1, d)
	switch {
	case len(comps) >= 2:
		line.ProcedureCode = strings.TrimSpace(comps[1])
		for _, m := range comps[2:] {
			if m = strings.TrimSpace(m); m != "" {
				line.Modifiers = append(line.Modifiers, m)
			}
		}
	case len(comps) == 1:
		line.ProcedureCode = strings.TrimSpace(comps[0])
	}
	return line
}

// ProcessRemittance stores the advice and, when its claim can be found,
// posts the outcome: paid with one payment row when money arrived,
// otherwise denied. Only storage errors are returned.
func (s *Service) ProcessRemittance(ctx context.Context, tenantID string, advice *RemittanceAdvice, actor string) (*RemittanceAdvice, error) {
	if advice == nil {
		return nil, markf(ErrValidation, "remittance advice is required")
	}
	advice.TenantID = tenantID
	if advice.Adjustments == nil {
		advice.Adjustments = []Adjustment{}
	}
	if advice.Lines == nil {
		advice.Lines = []ServiceLine{}
	}
	log := s.logger.With().
		Str("tenant", tenantID).
		Str("era", advice.ERANumber).
		Str("x12_claim_id", advice.X12ClaimID).
		Logger()

	outcome := "unmatched"
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		claim, err := s.resolveRemittanceClaim(ctx, tenantID, advice, log)
		if err != nil {
			return err
		}
		advice.ID = uuid.Nil
		advice.ClaimID = nil
		if claim != nil {
			id := claim.ID
			advice.ClaimID = &id
		}
		if err := s.repos.Remittances.Create(ctx, advice); err != nil {
			return err
		}
		if claim == nil {
			return nil
		}

		paid := advice.PaymentAmount.GreaterThan(decimal.Zero)
		target := ClaimDenied
		outcome = "denied"
		if paid {
			target = ClaimPaid
			outcome = "paid"
		}

		if err := s.repos.Claims.UpdateFinancials(ctx, tenantID, claim.ID, advice.PaymentAmount, advice.PatientResponsibility); err != nil {
			return err
		}
		if paid {
			if err := s.repos.Payments.Create(ctx, &Payment{
				TenantID:     tenantID,
				ClaimID:      claim.ID,
				RemittanceID: advice.ID,
				Amount:       advice.PaymentAmount,
				Method:       PaymentMethodERA,
				Reference:    advice.ERANumber,
			}); err != nil {
				return err
			}
		}

		if !claim.Status.CanTransition(target) {
			log.Warn().
				Str("claim_id", claim.ID.String()).
				Str("from", string(claim.Status)).
				Str("to", string(target)).
				Msg("remittance transition not allowed, keeping claim status")
			target = claim.Status
		}
		return s.transition(ctx, claim, target, HistoryEntry{
			StatusCode: advice.ClaimStatusCode,
			Note:       fmt.Sprintf("ERA %s: payment %s", advice.ERANumber, x12.FormatAmount(advice.PaymentAmount)),
			Source:     SourceRemittance,
			Actor:      actorOr(actor),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RemittanceProcessed(outcome)
	log.Info().Str("outcome", outcome).Str("payment", advice.PaymentAmount.StringFixed(2)).Msg("remittance processed")
	return advice, nil
}

// resolveRemittanceClaim finds the claim an advice pays, by explicit id
// first and then by the X12 claim identifier. A nil claim means unmatched.
func (s *Service) resolveRemittanceClaim(ctx context.Context, tenantID string, advice *RemittanceAdvice, log zerolog.Logger) (*Claim, error) {
	var claimID uuid.UUID
	switch {
	case advice.ClaimID != nil && *advice.ClaimID != uuid.Nil:
		claimID = *advice.ClaimID
	case advice.X12ClaimID != "":
		sub, err := s.repos.Submissions.LatestByX12ClaimID(ctx, tenantID, advice.X12ClaimID)
		if err != nil {
			if IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		claimID = sub.ClaimID
	default:
		return nil, nil
	}

	claim, err := s.repos.Claims.GetByID(ctx, tenantID, claimID)
	if err != nil {
		if IsNotFound(err) {
			log.Warn().Str("claim_id", claimID.String()).Msg("remittance references unknown claim")
			return nil, nil
		}
		return nil, err
	}
	return claim, nil
}

// IngestRemittance parses raw 835 text and processes it.
func (s *Service) IngestRemittance(ctx context.Context, tenantID, raw, actor string) (*RemittanceAdvice, error) {
	return s.ProcessRemittance(ctx, tenantID, ParseRemittance(raw), actor)
}

func (s *Service) GetRemittance(ctx context.Context, tenantID string, id uuid.UUID) (*RemittanceAdvice, error) {
	return s.repos.Remittances.GetByID(ctx, tenantID, id)
}

func (s *Service) ListPayments(ctx context.Context, tenantID string, claimID uuid.UUID) ([]*Payment, error) {
	return s.repos.Payments.ListByClaim(ctx, tenantID, claimID)
}
