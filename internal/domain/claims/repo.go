package claims

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SequenceRepository issues control numbers. Increment must be a single
// atomic statement: it creates the counters at 1 on first use and bumps all
// three otherwise.
type SequenceRepository interface {
	Increment(ctx context.Context, tenantID, scopeKey string) (ControlNumbers, error)
}

type ClaimRepository interface {
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Claim, error)
	UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, status ClaimStatus) error
	UpdateFinancials(ctx context.Context, tenantID string, id uuid.UUID, paid, patientResponsibility decimal.Decimal) error
}

type ClearinghouseConfigRepository interface {
	Create(ctx context.Context, c *ClearinghouseConfig) error
	Update(ctx context.Context, c *ClearinghouseConfig) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*ClearinghouseConfig, error)
	GetDefault(ctx context.Context, tenantID string) (*ClearinghouseConfig, error)
	List(ctx context.Context, tenantID string, limit, offset int) ([]*ClearinghouseConfig, int, error)
	// ClearDefault unsets is_default on every config of the tenant except keep.
	ClearDefault(ctx context.Context, tenantID string, keep uuid.UUID) error
}

type SubmissionRepository interface {
	Create(ctx context.Context, s *Submission) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Submission, error)
	LatestByClaim(ctx context.Context, tenantID string, claimID uuid.UUID) (*Submission, error)
	LatestByX12ClaimID(ctx context.Context, tenantID, x12ClaimID string) (*Submission, error)
	ListByClaim(ctx context.Context, tenantID string, claimID uuid.UUID, limit, offset int) ([]*Submission, int, error)
	ListInFlight(ctx context.Context, tenantID string, limit int) ([]*Submission, error)
	// UpdateStatus writes only the status related columns.
	UpdateStatus(ctx context.Context, s *Submission) error
}

type BatchRepository interface {
	Create(ctx context.Context, b *Batch) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Batch, error)
	Finalize(ctx context.Context, b *Batch) error
}

type RemittanceRepository interface {
	Create(ctx context.Context, r *RemittanceAdvice) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*RemittanceAdvice, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	ListByClaim(ctx context.Context, tenantID string, claimID uuid.UUID) ([]*Payment, error)
}

// HistoryRepository is append-only.
type HistoryRepository interface {
	Append(ctx context.Context, e *HistoryEntry) error
	ListByClaim(ctx context.Context, tenantID string, claimID uuid.UUID, limit, offset int) ([]*HistoryEntry, int, error)
}

// TxRunner runs fn in one transaction. db.TxManager implements it.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repositories bundles the stores the service needs.
type Repositories struct {
	Sequences   SequenceRepository
	Claims      ClaimRepository
	Configs     ClearinghouseConfigRepository
	Submissions SubmissionRepository
	Batches     BatchRepository
	Remittances RemittanceRepository
	Payments    PaymentRepository
	History     HistoryRepository
}
