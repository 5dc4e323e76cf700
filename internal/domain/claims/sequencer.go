package claims

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// maxControlNumber is the largest value ISA13 and ST02 can carry (nine digits).
const maxControlNumber = 999999999

// ControlNumberSource issues envelope control numbers. *Sequencer implements it.
type ControlNumberSource interface {
	Next(ctx context.Context, tenantID string, clearinghouseID *uuid.UUID) (ControlNumbers, error)
}

// Sequencer issues ISA/GS/ST control numbers per tenant and clearinghouse.
// Concurrency is left entirely to the repository's atomic upsert.
type Sequencer struct {
	repo SequenceRepository
}

func NewSequencer(repo SequenceRepository) *Sequencer {
	return &Sequencer{repo: repo}
}

// ScopeKey is the sequence key for a clearinghouse; nil shares the tenant's
// unscoped sequence.
func ScopeKey(clearinghouseID *uuid.UUID) string {
	if clearinghouseID == nil || *clearinghouseID == uuid.Nil {
		return ""
	}
	return clearinghouseID.String()
}

func (s *Sequencer) Next(ctx context.Context, tenantID string, clearinghouseID *uuid.UUID) (ControlNumbers, error) {
	n, err := s.repo.Increment(ctx, tenantID, ScopeKey(clearinghouseID))
	if err != nil {
		return ControlNumbers{}, errors.Wrap(err, "next control numbers")
	}
	if n.ISA < 1 || n.GS < 1 || n.ST < 1 {
		return ControlNumbers{}, errors.Newf("sequence returned non-positive control numbers %+v", n)
	}
	if n.ISA > maxControlNumber || n.ST > maxControlNumber {
		return ControlNumbers{}, markf(ErrConfiguration, "interchange control numbers exhausted for scope %q", ScopeKey(clearinghouseID))
	}
	return n, nil
}
