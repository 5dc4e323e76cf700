package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
)

// SimulatedTransport answers like a clearinghouse without any network. The
// outcome sequence is fully determined by the seed, so runs are
// reproducible.
type SimulatedTransport struct {
	mu  sync.Mutex
	rnd *rand.Rand
	seq int64
}

func NewSimulatedTransport(seed int64) *SimulatedTransport {
	return &SimulatedTransport{rnd: rand.New(rand.NewSource(seed))}
}

// initial outcome weights, out of 100
var simulatedSubmitOutcomes = []struct {
	status SubmissionStatus
	weight int
}{
	{SubmissionSubmitted, 50},
	{SubmissionPending, 25},
	{SubmissionAccepted, 20},
	{SubmissionRejected, 5},
}

func (t *SimulatedTransport) Submit(_ context.Context, req SubmitRequest) (*SubmitResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	roll := t.rnd.Intn(100)
	status := SubmissionSubmitted
	for _, o := range simulatedSubmitOutcomes {
		if roll < o.weight {
			status = o.status
			break
		}
		roll -= o.weight
	}

	res := &SubmitResult{
		Status:        status,
		StatusCode:    simulatedCode(status),
		Message:       fmt.Sprintf("simulated clearinghouse: claim %s %s", req.X12ClaimID, status),
		TransactionID: fmt.Sprintf("SIM-%010d", t.seq),
	}
	res.Payload, _ = json.Marshal(map[string]interface{}{
		"simulated":      true,
		"transaction_id": res.TransactionID,
		"has_x12":        req.X12 != nil,
	})
	return res, nil
}

// CheckStatus takes one random step through the submission transition
// table, or stays put. Terminal statuses never move.
func (t *SimulatedTransport) CheckStatus(_ context.Context, req StatusRequest) (*StatusResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := req.Current
	if !current.Valid() {
		current = SubmissionSubmitted
	}
	choices := append([]SubmissionStatus{current}, current.Next()...)
	next := choices[t.rnd.Intn(len(choices))]
	return &StatusResult{
		Status:     next,
		StatusCode: simulatedCode(next),
		Message:    fmt.Sprintf("simulated clearinghouse: claim %s %s", req.X12ClaimID, next),
	}, nil
}

func simulatedCode(s SubmissionStatus) string {
	switch s {
	case SubmissionAccepted:
		return "A1"
	case SubmissionRejected:
		return "A3"
	case SubmissionPending, SubmissionSubmitted:
		return "P1"
	case SubmissionPended, SubmissionAdditionalInfoRequired:
		return "R4"
	case SubmissionPaid:
		return "F1"
	case SubmissionDenied:
		return "F2"
	}
	return ""
}
