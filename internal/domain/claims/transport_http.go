package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// HTTPTransportConfig holds the outbound call policy. Timeout bounds each
// attempt, so a call can take up to (MaxRetries+1)*Timeout plus backoff.
type HTTPTransportConfig struct {
	Timeout    time.Duration
	MaxRetries int
	RateLimit  float64 // requests per second, 0 disables limiting
}

// HTTPTransport speaks JSON to a clearinghouse API at the config endpoint.
type HTTPTransport struct {
	submitClient *retryablehttp.Client
	statusClient *retryablehttp.Client
	limiter      *rate.Limiter
}

func NewHTTPTransport(cfg HTTPTransportConfig, logger zerolog.Logger) *HTTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger = logger.With().Str("component", "clearinghouse_http").Logger()

	submitClient := newRetryClient(cfg, logger)
	submitClient.CheckRetry = submitRetryPolicy

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &HTTPTransport{
		submitClient: submitClient,
		statusClient: newRetryClient(cfg, logger),
		limiter:      limiter,
	}
}

func newRetryClient(cfg HTTPTransportConfig, logger zerolog.Logger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = leveledLogger{logger}
	// Hand back the last response so non-2xx bodies reach the caller.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// submitRetryPolicy retries a claim POST only when the clearinghouse cannot
// have taken it: a failed dial, 429 or 503. Other failures may have been
// received, and resending would submit the claim twice.
func submitRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		var opErr *net.OpError
		return errors.As(err, &opErr) && opErr.Op == "dial", nil
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true, nil
	}
	return false, nil
}

type submitPayload struct {
	ClaimID          string `json:"claim_id"`
	X12ClaimID       string `json:"x12_claim_id"`
	SenderID         string `json:"sender_id"`
	ReceiverID       string `json:"receiver_id"`
	TradingPartnerID string `json:"trading_partner_id,omitempty"`
	Format           string `json:"format"`
	InterchangeCtrl  int64  `json:"interchange_control_number"`
	X12              string `json:"x12,omitempty"`
}

type statusPayload struct {
	Status        string `json:"status"`
	StatusCode    string `json:"status_code"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
}

func (t *HTTPTransport) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	cfg := req.Clearinghouse
	body := submitPayload{
		ClaimID:          req.ClaimID.String(),
		X12ClaimID:       req.X12ClaimID,
		SenderID:         cfg.SenderID,
		ReceiverID:       cfg.ReceiverID,
		TradingPartnerID: cfg.TradingPartnerID,
		Format:           cfg.SubmissionFormat,
		InterchangeCtrl:  req.Control.ISA,
	}
	if req.X12 != nil {
		body.X12 = *req.X12
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal submission")
	}
	out, payload, err := t.send(ctx, t.submitClient, cfg, http.MethodPost, "/claims", raw)
	if err != nil {
		return nil, err
	}
	status, err := ParseSubmissionStatus(out.Status)
	if err != nil {
		return nil, markf(ErrTransport, "clearinghouse answered with unknown status %q", out.Status)
	}
	return &SubmitResult{
		Status:        status,
		StatusCode:    out.StatusCode,
		Message:       out.Message,
		TransactionID: out.TransactionID,
		Payload:       payload,
	}, nil
}

func (t *HTTPTransport) CheckStatus(ctx context.Context, req StatusRequest) (*StatusResult, error) {
	path := "/claims/" + url.PathEscape(req.X12ClaimID) + "/status"
	if req.TransactionID != "" {
		path += "?transaction_id=" + url.QueryEscape(req.TransactionID)
	}
	out, payload, err := t.send(ctx, t.statusClient, req.Clearinghouse, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	status, err := ParseSubmissionStatus(out.Status)
	if err != nil {
		return nil, markf(ErrTransport, "clearinghouse answered with unknown status %q", out.Status)
	}
	return &StatusResult{Status: status, StatusCode: out.StatusCode, Message: out.Message, Payload: payload}, nil
}

func (t *HTTPTransport) send(ctx context.Context, client *retryablehttp.Client, cfg *ClearinghouseConfig, method, path string, body []byte) (*statusPayload, json.RawMessage, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, nil, markf(ErrConfiguration, "clearinghouse has no endpoint configured")
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, nil, wrapMark(err, ErrTransport, "rate limit wait")
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/") + path
	var rb interface{}
	if body != nil {
		rb = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, rb)
	if err != nil {
		return nil, nil, wrapMark(err, ErrTransport, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, wrapMark(err, ErrTransport, "%s %s", method, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, wrapMark(err, ErrTransport, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, errors.Mark(&TransportError{StatusCode: resp.StatusCode, Body: respBody}, ErrTransport)
	}

	var out statusPayload
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, nil, wrapMark(err, ErrTransport, "decode response")
	}
	return &out, json.RawMessage(respBody), nil
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct{ l zerolog.Logger }

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.event(l.l.Error(), msg, kv) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.event(l.l.Debug(), msg, kv) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.event(l.l.Debug(), msg, kv) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.event(l.l.Warn(), msg, kv) }

func (leveledLogger) event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		e = e.Str(fmt.Sprint(kv[i]), fmt.Sprint(kv[i+1]))
	}
	e.Msg(msg)
}
