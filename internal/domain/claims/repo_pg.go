package claims

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type pgRepo struct{ pool *pgxpool.Pool }

func (r pgRepo) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// notFound turns pgx.ErrNoRows into ErrNotFound and wraps anything else.
func notFound(err error, what string, key interface{}) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return markf(ErrNotFound, "%s %v not found", what, key)
	}
	return fmt.Errorf("get %s %v: %w", what, key, err)
}

// NewRepositoriesPG builds every store on one pool.
func NewRepositoriesPG(pool *pgxpool.Pool) Repositories {
	base := pgRepo{pool: pool}
	return Repositories{
		Sequences:   &sequenceRepoPG{base},
		Claims:      &claimRepoPG{base},
		Configs:     &configRepoPG{base},
		Submissions: &submissionRepoPG{base},
		Batches:     &batchRepoPG{base},
		Remittances: &remittanceRepoPG{base},
		Payments:    &paymentRepoPG{base},
		History:     &historyRepoPG{base},
	}
}

// =========== Control Number Sequence ===========

type sequenceRepoPG struct{ pgRepo }

func (r *sequenceRepoPG) Increment(ctx context.Context, tenantID, scopeKey string) (ControlNumbers, error) {
	var n ControlNumbers
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO x12_control_sequence (tenant_id, scope_key, isa, gs, st)
		VALUES ($1, $2, 1, 1, 1)
		ON CONFLICT (tenant_id, scope_key) DO UPDATE SET
			isa = x12_control_sequence.isa + 1,
			gs = x12_control_sequence.gs + 1,
			st = x12_control_sequence.st + 1,
			updated_at = NOW()
		RETURNING isa, gs, st`, tenantID, scopeKey).Scan(&n.ISA, &n.GS, &n.ST)
	if err != nil {
		return ControlNumbers{}, fmt.Errorf("increment control numbers: %w", err)
	}
	return n, nil
}

// =========== Claim ===========

type claimRepoPG struct{ pgRepo }

const claimCols = `id, tenant_id, superbill_id, patient_id, status, total_charges,
	paid_amount, patient_responsibility, submitted_at, created_at, updated_at`

func (r *claimRepoPG) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Claim, error) {
	var c Claim
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claim WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&c.ID, &c.TenantID, &c.SuperbillID, &c.PatientID, &c.Status, &c.TotalCharges,
			&c.PaidAmount, &c.PatientResponsibility, &c.SubmittedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "claim", id)
	}
	return &c, nil
}

func (r *claimRepoPG) UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, status ClaimStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claim SET status = $3,
			submitted_at = CASE WHEN $3 = 'submitted' THEN NOW() ELSE submitted_at END,
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, string(status))
	if err != nil {
		return fmt.Errorf("update claim status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return markf(ErrNotFound, "claim %s not found", id)
	}
	return nil
}

func (r *claimRepoPG) UpdateFinancials(ctx context.Context, tenantID string, id uuid.UUID, paid, patientResponsibility decimal.Decimal) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE claim SET paid_amount = $3, patient_responsibility = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, paid, patientResponsibility)
	if err != nil {
		return fmt.Errorf("update claim financials: %w", err)
	}
	return nil
}

// =========== Clearinghouse Config ===========

type configRepoPG struct{ pgRepo }

const configCols = `id, tenant_id, name, type, is_active, is_default, endpoint, api_key,
	sender_id, receiver_id, trading_partner_id, submitter_name, submitter_contact_name,
	submitter_contact_phone, submitter_contact_email, receiver_name, submission_format,
	submission_method, batch_enabled, max_batch_size, created_at, updated_at`

func (r *configRepoPG) scan(row pgx.Row) (*ClearinghouseConfig, error) {
	var c ClearinghouseConfig
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Type, &c.IsActive, &c.IsDefault, &c.Endpoint, &c.APIKey,
		&c.SenderID, &c.ReceiverID, &c.TradingPartnerID, &c.SubmitterName, &c.SubmitterContactName,
		&c.SubmitterContactPhone, &c.SubmitterContactEmail, &c.ReceiverName, &c.SubmissionFormat,
		&c.SubmissionMethod, &c.BatchEnabled, &c.MaxBatchSize, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *configRepoPG) Create(ctx context.Context, c *ClearinghouseConfig) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clearinghouse_config (id, tenant_id, name, type, is_active, is_default, endpoint, api_key,
			sender_id, receiver_id, trading_partner_id, submitter_name, submitter_contact_name,
			submitter_contact_phone, submitter_contact_email, receiver_name, submission_format,
			submission_method, batch_enabled, max_batch_size)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING created_at, updated_at`,
		c.ID, c.TenantID, c.Name, c.Type, c.IsActive, c.IsDefault, c.Endpoint, c.APIKey,
		c.SenderID, c.ReceiverID, c.TradingPartnerID, c.SubmitterName, c.SubmitterContactName,
		c.SubmitterContactPhone, c.SubmitterContactEmail, c.ReceiverName, c.SubmissionFormat,
		c.SubmissionMethod, c.BatchEnabled, c.MaxBatchSize).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create clearinghouse config: %w", err)
	}
	return nil
}

// Update keeps the stored API key when c.APIKey is empty.
func (r *configRepoPG) Update(ctx context.Context, c *ClearinghouseConfig) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE clearinghouse_config SET name=$3, type=$4, is_active=$5, is_default=$6, endpoint=$7, api_key=COALESCE(NULLIF($8, ''), api_key),
			sender_id=$9, receiver_id=$10, trading_partner_id=$11, submitter_name=$12, submitter_contact_name=$13,
			submitter_contact_phone=$14, submitter_contact_email=$15, receiver_name=$16, submission_format=$17,
			submission_method=$18, batch_enabled=$19, max_batch_size=$20, updated_at=NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at`,
		c.TenantID, c.ID, c.Name, c.Type, c.IsActive, c.IsDefault, c.Endpoint, c.APIKey,
		c.SenderID, c.ReceiverID, c.TradingPartnerID, c.SubmitterName, c.SubmitterContactName,
		c.SubmitterContactPhone, c.SubmitterContactEmail, c.ReceiverName, c.SubmissionFormat,
		c.SubmissionMethod, c.BatchEnabled, c.MaxBatchSize).Scan(&c.UpdatedAt)
	if err != nil {
		return notFound(err, "clearinghouse config", c.ID)
	}
	return nil
}

func (r *configRepoPG) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*ClearinghouseConfig, error) {
	c, err := r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+configCols+` FROM clearinghouse_config WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return nil, notFound(err, "clearinghouse config", id)
	}
	return c, nil
}

func (r *configRepoPG) GetDefault(ctx context.Context, tenantID string) (*ClearinghouseConfig, error) {
	c, err := r.scan(r.conn(ctx).QueryRow(ctx, `
		SELECT `+configCols+` FROM clearinghouse_config
		WHERE tenant_id = $1 AND is_default
		ORDER BY updated_at DESC LIMIT 1`, tenantID))
	if err != nil {
		return nil, notFound(err, "default clearinghouse config for tenant", tenantID)
	}
	return c, nil
}

func (r *configRepoPG) List(ctx context.Context, tenantID string, limit, offset int) ([]*ClearinghouseConfig, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clearinghouse_config WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+configCols+` FROM clearinghouse_config WHERE tenant_id = $1 ORDER BY name LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ClearinghouseConfig
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *configRepoPG) ClearDefault(ctx context.Context, tenantID string, keep uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE clearinghouse_config SET is_default = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND id <> $2 AND is_default`, tenantID, keep)
	if err != nil {
		return fmt.Errorf("clear default clearinghouse: %w", err)
	}
	return nil
}

// =========== Submission ===========

type submissionRepoPG struct{ pgRepo }

const submissionCols = `id, tenant_id, claim_id, clearinghouse_id, batch_id,
	isa_control_number, gs_control_number, st_control_number, x12_claim_id, transaction_id,
	x12_content, status, status_code, status_message, response_payload, error_code,
	error_message, retry_count, submitted_at, status_checked_at, created_at, updated_at`

func (r *submissionRepoPG) scan(row pgx.Row) (*Submission, error) {
	var s Submission
	var payload []byte
	err := row.Scan(&s.ID, &s.TenantID, &s.ClaimID, &s.ClearinghouseID, &s.BatchID,
		&s.ISAControlNumber, &s.GSControlNumber, &s.STControlNumber, &s.X12ClaimID, &s.TransactionID,
		&s.X12Content, &s.Status, &s.StatusCode, &s.StatusMessage, &payload, &s.ErrorCode,
		&s.ErrorMessage, &s.RetryCount, &s.SubmittedAt, &s.StatusCheckedAt, &s.CreatedAt, &s.UpdatedAt)
	if len(payload) > 0 {
		s.ResponsePayload = json.RawMessage(payload)
	}
	return &s, err
}

func nullablePayload(p json.RawMessage) interface{} {
	if len(p) == 0 {
		return nil
	}
	return []byte(p)
}

func (r *submissionRepoPG) Create(ctx context.Context, s *Submission) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_submission (id, tenant_id, claim_id, clearinghouse_id, batch_id,
			isa_control_number, gs_control_number, st_control_number, x12_claim_id, transaction_id,
			x12_content, status, status_code, status_message, response_payload, error_code,
			error_message, retry_count, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created_at, updated_at`,
		s.ID, s.TenantID, s.ClaimID, s.ClearinghouseID, s.BatchID,
		s.ISAControlNumber, s.GSControlNumber, s.STControlNumber, s.X12ClaimID, s.TransactionID,
		s.X12Content, string(s.Status), s.StatusCode, s.StatusMessage, nullablePayload(s.ResponsePayload), s.ErrorCode,
		s.ErrorMessage, s.RetryCount, s.SubmittedAt).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create claim submission: %w", err)
	}
	return nil
}

func (r *submissionRepoPG) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Submission, error) {
	s, err := r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+submissionCols+` FROM claim_submission WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return nil, notFound(err, "claim submission", id)
	}
	return s, nil
}

func (r *submissionRepoPG) LatestByClaim(ctx context.Context, tenantID string, claimID uuid.UUID) (*Submission, error) {
	s, err := r.scan(r.conn(ctx).QueryRow(ctx, `
		SELECT `+submissionCols+` FROM claim_submission
		WHERE tenant_id = $1 AND claim_id = $2
		ORDER BY submitted_at DESC, created_at DESC LIMIT 1`, tenantID, claimID))
	if err != nil {
		return nil, notFound(err, "submission for claim", claimID)
	}
	return s, nil
}

func (r *submissionRepoPG) LatestByX12ClaimID(ctx context.Context, tenantID, x12ClaimID string) (*Submission, error) {
	s, err := r.scan(r.conn(ctx).QueryRow(ctx, `
		SELECT `+submissionCols+` FROM claim_submission
		WHERE tenant_id = $1 AND x12_claim_id = $2
		ORDER BY submitted_at DESC, created_at DESC LIMIT 1`, tenantID, x12ClaimID))
	if err != nil {
		return nil, notFound(err, "submission with x12 claim id", x12ClaimID)
	}
	return s, nil
}

func (r *submissionRepoPG) ListByClaim(ctx context.Context, tenantID string, claimID uuid.UUID, limit, offset int) ([]*Submission, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claim_submission WHERE tenant_id = $1 AND claim_id = $2`, tenantID, claimID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+submissionCols+` FROM claim_submission
		WHERE tenant_id = $1 AND claim_id = $2
		ORDER BY submitted_at DESC LIMIT $3 OFFSET $4`, tenantID, claimID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *submissionRepoPG) ListInFlight(ctx context.Context, tenantID string, limit int) ([]*Submission, error) {
	statuses := make([]string, len(InFlightSubmissionStatuses))
	for i, s := range InFlightSubmissionStatuses {
		statuses[i] = string(s)
	}
	// Only the newest submission of each claim is polled.
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+submissionCols+` FROM (
			SELECT DISTINCT ON (claim_id) * FROM claim_submission
			WHERE tenant_id = $1
			ORDER BY claim_id, submitted_at DESC, created_at DESC
		) latest
		WHERE status = ANY($2)
		ORDER BY status_checked_at NULLS FIRST, submitted_at
		LIMIT $3`, tenantID, statuses, limit)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *submissionRepoPG) collect(rows pgx.Rows) ([]*Submission, error) {
	defer rows.Close()
	var items []*Submission
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *submissionRepoPG) UpdateStatus(ctx context.Context, s *Submission) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE claim_submission SET status=$3, status_code=$4, status_message=$5,
			response_payload=COALESCE($6, response_payload), error_code=$7, error_message=$8,
			status_checked_at=$9, updated_at=NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at`,
		s.TenantID, s.ID, string(s.Status), s.StatusCode, s.StatusMessage,
		nullablePayload(s.ResponsePayload), s.ErrorCode, s.ErrorMessage, s.StatusCheckedAt).Scan(&s.UpdatedAt)
	if err != nil {
		return notFound(err, "claim submission", s.ID)
	}
	return nil
}

// =========== Batch ===========

type batchRepoPG struct{ pgRepo }

const batchCols = `id, tenant_id, clearinghouse_id, claim_ids, total_claims, submitted_count,
	failed_count, status, created_by, created_at, completed_at`

func (r *batchRepoPG) Create(ctx context.Context, b *Batch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	ids, err := json.Marshal(b.ClaimIDs)
	if err != nil {
		return fmt.Errorf("marshal batch claim ids: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_submission_batch (id, tenant_id, clearinghouse_id, claim_ids, total_claims,
			submitted_count, failed_count, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		b.ID, b.TenantID, b.ClearinghouseID, ids, b.TotalClaims,
		b.SubmittedCount, b.FailedCount, string(b.Status), b.CreatedBy).Scan(&b.CreatedAt)
	if err != nil {
		return fmt.Errorf("create claim batch: %w", err)
	}
	return nil
}

func (r *batchRepoPG) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Batch, error) {
	var b Batch
	var ids []byte
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+batchCols+` FROM claim_submission_batch WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&b.ID, &b.TenantID, &b.ClearinghouseID, &ids, &b.TotalClaims, &b.SubmittedCount,
			&b.FailedCount, &b.Status, &b.CreatedBy, &b.CreatedAt, &b.CompletedAt)
	if err != nil {
		return nil, notFound(err, "claim batch", id)
	}
	if err := json.Unmarshal(ids, &b.ClaimIDs); err != nil {
		return nil, fmt.Errorf("decode batch claim ids: %w", err)
	}
	return &b, nil
}

func (r *batchRepoPG) Finalize(ctx context.Context, b *Batch) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE claim_submission_batch SET submitted_count=$3, failed_count=$4, status=$5, completed_at=$6
		WHERE tenant_id = $1 AND id = $2`,
		b.TenantID, b.ID, b.SubmittedCount, b.FailedCount, string(b.Status), b.CompletedAt)
	if err != nil {
		return fmt.Errorf("finalize claim batch: %w", err)
	}
	return nil
}

// =========== Remittance ===========

type remittanceRepoPG struct{ pgRepo }

func (r *remittanceRepoPG) Create(ctx context.Context, a *RemittanceAdvice) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	adj, err := json.Marshal(a.Adjustments)
	if err != nil {
		return fmt.Errorf("marshal adjustments: %w", err)
	}
	lines, err := json.Marshal(a.Lines)
	if err != nil {
		return fmt.Errorf("marshal service lines: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO remittance_advice (id, tenant_id, era_number, x12_claim_id, claim_id, claim_status_code,
			charge_amount, payment_amount, patient_responsibility, adjustments, service_lines, raw_content)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING received_at`,
		a.ID, a.TenantID, a.ERANumber, a.X12ClaimID, a.ClaimID, a.ClaimStatusCode,
		a.ChargeAmount, a.PaymentAmount, a.PatientResponsibility, adj, lines, a.RawContent).Scan(&a.ReceivedAt)
	if err != nil {
		return fmt.Errorf("create remittance advice: %w", err)
	}
	return nil
}

func (r *remittanceRepoPG) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*RemittanceAdvice, error) {
	var a RemittanceAdvice
	var adj, lines []byte
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, tenant_id, era_number, x12_claim_id, claim_id, claim_status_code,
			charge_amount, payment_amount, patient_responsibility, adjustments, service_lines, raw_content, received_at
		FROM remittance_advice WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&a.ID, &a.TenantID, &a.ERANumber, &a.X12ClaimID, &a.ClaimID, &a.ClaimStatusCode,
			&a.ChargeAmount, &a.PaymentAmount, &a.PatientResponsibility, &adj, &lines, &a.RawContent, &a.ReceivedAt)
	if err != nil {
		return nil, notFound(err, "remittance advice", id)
	}
	if err := json.Unmarshal(adj, &a.Adjustments); err != nil {
		return nil, fmt.Errorf("decode adjustments: %w", err)
	}
	if err := json.Unmarshal(lines, &a.Lines); err != nil {
		return nil, fmt.Errorf("decode service lines: %w", err)
	}
	return &a, nil
}

// =========== Payment ===========

type paymentRepoPG struct{ pgRepo }

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_payment (id, tenant_id, claim_id, remittance_id, amount, method, reference)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING posted_at`,
		p.ID, p.TenantID, p.ClaimID, p.RemittanceID, p.Amount, p.Method, p.Reference).Scan(&p.PostedAt)
	if err != nil {
		return fmt.Errorf("create claim payment: %w", err)
	}
	return nil
}

func (r *paymentRepoPG) ListByClaim(ctx context.Context, tenantID string, claimID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, tenant_id, claim_id, remittance_id, amount, method, reference, posted_at
		FROM claim_payment WHERE tenant_id = $1 AND claim_id = $2 ORDER BY posted_at`, tenantID, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.TenantID, &p.ClaimID, &p.RemittanceID, &p.Amount, &p.Method, &p.Reference, &p.PostedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

// =========== Status History ===========

type historyRepoPG struct{ pgRepo }

func (r *historyRepoPG) Append(ctx context.Context, e *HistoryEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_status_history (id, tenant_id, claim_id, status, status_code, note, source, actor)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		e.ID, e.TenantID, e.ClaimID, string(e.Status), e.StatusCode, e.Note, string(e.Source), e.Actor).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append claim status history: %w", err)
	}
	return nil
}

func (r *historyRepoPG) ListByClaim(ctx context.Context, tenantID string, claimID uuid.UUID, limit, offset int) ([]*HistoryEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claim_status_history WHERE tenant_id = $1 AND claim_id = $2`, tenantID, claimID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, tenant_id, claim_id, status, status_code, note, source, actor, created_at
		FROM claim_status_history WHERE tenant_id = $1 AND claim_id = $2
		ORDER BY created_at, id LIMIT $3 OFFSET $4`, tenantID, claimID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ClaimID, &e.Status, &e.StatusCode, &e.Note, &e.Source, &e.Actor, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}
