package claims

import (
	"context"

	"github.com/google/uuid"
)

// ClaimDataProvider assembles billing-ready content for a superbill.
// Diagnoses come primary first; charge lines keep their order and
// 1-based diagnosis pointers. Missing superbills are ErrNotFound.
type ClaimDataProvider interface {
	Fetch(ctx context.Context, tenantID string, superbillID uuid.UUID) (*ClaimContent, error)
}
