package claims

// ClaimStatus is the lifecycle status of the parent claim.
type ClaimStatus string

const (
	ClaimDraft     ClaimStatus = "draft"
	ClaimReady     ClaimStatus = "ready"
	ClaimSubmitted ClaimStatus = "submitted"
	ClaimAccepted  ClaimStatus = "accepted"
	ClaimRejected  ClaimStatus = "rejected"
	ClaimPaid      ClaimStatus = "paid"
	ClaimDenied    ClaimStatus = "denied"
)

var claimTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimDraft:     {ClaimReady, ClaimSubmitted},
	ClaimReady:     {ClaimSubmitted},
	ClaimSubmitted: {ClaimSubmitted, ClaimAccepted, ClaimRejected, ClaimPaid, ClaimDenied},
	ClaimAccepted:  {ClaimSubmitted, ClaimAccepted, ClaimRejected, ClaimPaid, ClaimDenied},
	ClaimRejected:  {ClaimReady, ClaimSubmitted, ClaimPaid, ClaimDenied},
	ClaimDenied:    {ClaimReady, ClaimSubmitted, ClaimPaid, ClaimDenied},
	ClaimPaid:      {ClaimPaid, ClaimDenied},
}

// ParseClaimStatus rejects anything outside the closed set.
func ParseClaimStatus(s string) (ClaimStatus, error) {
	st := ClaimStatus(s)
	if _, ok := claimTransitions[st]; !ok {
		return "", markf(ErrValidation, "unknown claim status %q", s)
	}
	return st, nil
}

func (s ClaimStatus) Valid() bool {
	_, ok := claimTransitions[s]
	return ok
}

// CanTransition reports whether the claim may move from s to next.
func (s ClaimStatus) CanTransition(next ClaimStatus) bool {
	for _, allowed := range claimTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InFlight reports whether a new submission must be refused.
func (s ClaimStatus) InFlight() bool {
	return s == ClaimSubmitted || s == ClaimAccepted || s == ClaimPaid
}

// Resubmittable reports whether an explicit resubmission is allowed.
func (s ClaimStatus) Resubmittable() bool {
	return s == ClaimRejected || s == ClaimDenied
}

// SubmissionStatus is the clearinghouse's view of a single submission.
type SubmissionStatus string

const (
	SubmissionSubmitted              SubmissionStatus = "submitted"
	SubmissionAccepted               SubmissionStatus = "accepted"
	SubmissionPending                SubmissionStatus = "pending"
	SubmissionPended                 SubmissionStatus = "pended"
	SubmissionAdditionalInfoRequired SubmissionStatus = "additional_info_requested"
	SubmissionRejected               SubmissionStatus = "rejected"
	SubmissionPaid                   SubmissionStatus = "paid"
	SubmissionDenied                 SubmissionStatus = "denied"
)

var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionSubmitted:              {SubmissionAccepted, SubmissionPending, SubmissionRejected},
	SubmissionPending:                {SubmissionPended, SubmissionAdditionalInfoRequired, SubmissionAccepted, SubmissionRejected, SubmissionDenied},
	SubmissionPended:                 {SubmissionAccepted, SubmissionDenied},
	SubmissionAdditionalInfoRequired: {SubmissionAccepted, SubmissionDenied},
	SubmissionAccepted:               {SubmissionPaid, SubmissionDenied},
	SubmissionRejected:               {},
	SubmissionPaid:                   {},
	SubmissionDenied:                 {},
}

// clearinghouse status -> claim status
var claimStatusFor = map[SubmissionStatus]ClaimStatus{
	SubmissionSubmitted:              ClaimSubmitted,
	SubmissionAccepted:               ClaimAccepted,
	SubmissionPending:                ClaimSubmitted,
	SubmissionPended:                 ClaimSubmitted,
	SubmissionAdditionalInfoRequired: ClaimSubmitted,
	SubmissionRejected:               ClaimRejected,
	SubmissionPaid:                   ClaimPaid,
	SubmissionDenied:                 ClaimRejected,
}

func ParseSubmissionStatus(s string) (SubmissionStatus, error) {
	st := SubmissionStatus(s)
	if _, ok := submissionTransitions[st]; !ok {
		return "", markf(ErrValidation, "unknown submission status %q", s)
	}
	return st, nil
}

func (s SubmissionStatus) Valid() bool {
	_, ok := submissionTransitions[s]
	return ok
}

func (s SubmissionStatus) CanTransition(next SubmissionStatus) bool {
	for _, allowed := range submissionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s SubmissionStatus) Terminal() bool {
	return s.Valid() && len(submissionTransitions[s]) == 0
}

// ClaimStatus maps the clearinghouse status onto the parent claim. ok is
// false only for values outside the closed set.
func (s SubmissionStatus) ClaimStatus() (status ClaimStatus, ok bool) {
	status, ok = claimStatusFor[s]
	return status, ok
}

// Next returns the statuses reachable from s in one step.
func (s SubmissionStatus) Next() []SubmissionStatus {
	return append([]SubmissionStatus(nil), submissionTransitions[s]...)
}

// InFlightSubmissionStatuses are polled by the background poller.
var InFlightSubmissionStatuses = []SubmissionStatus{
	SubmissionSubmitted, SubmissionPending, SubmissionPended, SubmissionAdditionalInfoRequired,
}

// HistorySource names what caused a status history entry.
type HistorySource string

const (
	SourceClearinghouse HistorySource = "clearinghouse"
	SourceRemittance    HistorySource = "835"
	SourceUser          HistorySource = "user"
	SourceSystem        HistorySource = "system"
)

// BatchStatus is the aggregate outcome of a batch.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchSubmitted  BatchStatus = "submitted"
	BatchPartial    BatchStatus = "partial"
)
