package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SubmitRequest carries one encoded claim to a clearinghouse. X12 is nil
// when encoding failed and the claim is sent without a payload.
type SubmitRequest struct {
	TenantID      string
	Clearinghouse *ClearinghouseConfig
	ClaimID       uuid.UUID
	X12ClaimID    string
	X12           *string
	Control       ControlNumbers
}

type SubmitResult struct {
	Status        SubmissionStatus
	StatusCode    string
	Message       string
	TransactionID string
	Payload       json.RawMessage
}

type StatusRequest struct {
	TenantID      string
	Clearinghouse *ClearinghouseConfig
	X12ClaimID    string
	TransactionID string
	Current       SubmissionStatus
}

type StatusResult struct {
	Status     SubmissionStatus
	StatusCode string
	Message    string
	Payload    json.RawMessage
}

// Transport performs the network side of a submission.
type Transport interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	CheckStatus(ctx context.Context, req StatusRequest) (*StatusResult, error)
}

// TransportError is a non-2xx answer from a clearinghouse.
type TransportError struct {
	StatusCode int
	Body       []byte
}

func (e *TransportError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return fmt.Sprintf("clearinghouse returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("clearinghouse returned HTTP %d: %s", e.StatusCode, body)
}

// TransportRouter dispatches on ClearinghouseConfig.Type, falling back to
// the default transport for unregistered types.
type TransportRouter struct {
	byType   map[string]Transport
	fallback Transport
}

func NewTransportRouter(fallback Transport) *TransportRouter {
	return &TransportRouter{byType: make(map[string]Transport), fallback: fallback}
}

// Register routes configs of clearinghouseType to t. Not safe for use once
// the router is serving requests.
func (r *TransportRouter) Register(clearinghouseType string, t Transport) {
	r.byType[strings.ToLower(clearinghouseType)] = t
}

func (r *TransportRouter) route(cfg *ClearinghouseConfig) (Transport, error) {
	if cfg != nil {
		if t, ok := r.byType[strings.ToLower(cfg.Type)]; ok {
			return t, nil
		}
	}
	if r.fallback == nil {
		typ := ""
		if cfg != nil {
			typ = cfg.Type
		}
		return nil, markf(ErrConfiguration, "no transport for clearinghouse type %q", typ)
	}
	return r.fallback, nil
}

func (r *TransportRouter) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	t, err := r.route(req.Clearinghouse)
	if err != nil {
		return nil, err
	}
	return t.Submit(ctx, req)
}

func (r *TransportRouter) CheckStatus(ctx context.Context, req StatusRequest) (*StatusResult, error) {
	t, err := r.route(req.Clearinghouse)
	if err != nil {
		return nil, err
	}
	return t.CheckStatus(ctx, req)
}
