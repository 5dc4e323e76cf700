package claims

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Claim is the projection of the parent claim this package reads and
// writes. The claim itself is owned by the billing service.
type Claim struct {
	ID                    uuid.UUID       `db:"id" json:"id"`
	TenantID              string          `db:"tenant_id" json:"tenant_id"`
	SuperbillID           uuid.UUID       `db:"superbill_id" json:"superbill_id"`
	PatientID             uuid.UUID       `db:"patient_id" json:"patient_id"`
	Status                ClaimStatus     `db:"status" json:"status"`
	TotalCharges          decimal.Decimal `db:"total_charges" json:"total_charges"`
	PaidAmount            decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	PatientResponsibility decimal.Decimal `db:"patient_responsibility" json:"patient_responsibility"`
	SubmittedAt           *time.Time      `db:"submitted_at" json:"submitted_at,omitempty"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
}

// Address is a US postal address as used in N3/N4.
type Address struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2,omitempty"`
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip"`
}

// Diagnosis is one ICD-10 code on the superbill.
type Diagnosis struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Primary     bool   `json:"primary"`
}

// ChargeLine is one billed procedure. DiagnosisPointers are 1-based indexes
// into ClaimContent.Diagnoses.
type ChargeLine struct {
	Code              string          `json:"code"`
	Modifiers         []string        `json:"modifiers,omitempty"`
	Units             decimal.Decimal `json:"units"`
	Charge            decimal.Decimal `json:"charge"`
	DiagnosisPointers []int           `json:"diagnosis_pointers"`
}

// Subscriber is the insured person. The patient is the subscriber when
// Relationship is "18".
type Subscriber struct {
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	MiddleName   string     `json:"middle_name,omitempty"`
	MemberID     string     `json:"member_id"`
	GroupNumber  string     `json:"group_number,omitempty"`
	Relationship string     `json:"relationship"`
	DOB          *time.Time `json:"dob,omitempty"`
	Gender       string     `json:"gender,omitempty"`
	Address      Address    `json:"address"`
}

// BillingProvider is the rendering/billing organisation.
type BillingProvider struct {
	Name    string  `json:"name"`
	NPI     string  `json:"npi"`
	TaxID   string  `json:"tax_id"`
	Address Address `json:"address"`
}

// Payer identifies the insurer on the claim.
type Payer struct {
	Name    string `json:"name"`
	PayerID string `json:"payer_id"`
}

// ClaimContent is the billable snapshot of an encounter (the superbill).
// It is fetched fresh for every submission attempt.
type ClaimContent struct {
	SuperbillID     uuid.UUID       `json:"superbill_id"`
	ServiceDate     time.Time       `json:"service_date"`
	TotalCharges    decimal.Decimal `json:"total_charges"`
	PlaceOfService  string          `json:"place_of_service"`
	Diagnoses       []Diagnosis     `json:"diagnoses"`
	Charges         []ChargeLine    `json:"charges"`
	Subscriber      Subscriber      `json:"subscriber"`
	BillingProvider BillingProvider `json:"billing_provider"`
	Payer           Payer           `json:"payer"`
}

// ClearinghouseConfig describes one trading partner for a tenant.
type ClearinghouseConfig struct {
	ID                    uuid.UUID `db:"id" json:"id"`
	TenantID              string    `db:"tenant_id" json:"tenant_id"`
	Name                  string    `db:"name" json:"name"`
	Type                  string    `db:"type" json:"type"`
	IsActive              bool      `db:"is_active" json:"is_active"`
	IsDefault             bool      `db:"is_default" json:"is_default"`
	Endpoint              string    `db:"endpoint" json:"endpoint,omitempty"`
	APIKey                string    `db:"api_key" json:"-"`
	SenderID              string    `db:"sender_id" json:"sender_id"`
	ReceiverID            string    `db:"receiver_id" json:"receiver_id"`
	TradingPartnerID      string    `db:"trading_partner_id" json:"trading_partner_id,omitempty"`
	SubmitterName         string    `db:"submitter_name" json:"submitter_name"`
	SubmitterContactName  string    `db:"submitter_contact_name" json:"submitter_contact_name,omitempty"`
	SubmitterContactPhone string    `db:"submitter_contact_phone" json:"submitter_contact_phone,omitempty"`
	SubmitterContactEmail string    `db:"submitter_contact_email" json:"submitter_contact_email,omitempty"`
	ReceiverName          string    `db:"receiver_name" json:"receiver_name"`
	SubmissionFormat      string    `db:"submission_format" json:"submission_format"`
	SubmissionMethod      string    `db:"submission_method" json:"submission_method"`
	BatchEnabled          bool      `db:"batch_enabled" json:"batch_enabled"`
	MaxBatchSize          int       `db:"max_batch_size" json:"max_batch_size"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// ControlNumbers is one issued ISA/GS/ST triple.
type ControlNumbers struct {
	ISA int64 `json:"isa"`
	GS  int64 `json:"gs"`
	ST  int64 `json:"st"`
}

// Submission is one attempt to submit a claim. Only the status fields change
// after insert.
type Submission struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	TenantID         string           `db:"tenant_id" json:"tenant_id"`
	ClaimID          uuid.UUID        `db:"claim_id" json:"claim_id"`
	ClearinghouseID  uuid.UUID        `db:"clearinghouse_id" json:"clearinghouse_id"`
	BatchID          *uuid.UUID       `db:"batch_id" json:"batch_id,omitempty"`
	ISAControlNumber int64            `db:"isa_control_number" json:"isa_control_number"`
	GSControlNumber  int64            `db:"gs_control_number" json:"gs_control_number"`
	STControlNumber  int64            `db:"st_control_number" json:"st_control_number"`
	X12ClaimID       string           `db:"x12_claim_id" json:"x12_claim_id"`
	TransactionID    string           `db:"transaction_id" json:"transaction_id,omitempty"`
	X12Content       *string          `db:"x12_content" json:"x12_content,omitempty"`
	Status           SubmissionStatus `db:"status" json:"status"`
	StatusCode       string           `db:"status_code" json:"status_code,omitempty"`
	StatusMessage    string           `db:"status_message" json:"status_message,omitempty"`
	ResponsePayload  json.RawMessage  `db:"response_payload" json:"response_payload,omitempty"`
	ErrorCode        string           `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage     string           `db:"error_message" json:"error_message,omitempty"`
	RetryCount       int              `db:"retry_count" json:"retry_count"`
	SubmittedAt      time.Time        `db:"submitted_at" json:"submitted_at"`
	StatusCheckedAt  *time.Time       `db:"status_checked_at" json:"status_checked_at,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// Batch groups claims submitted together.
type Batch struct {
	ID              uuid.UUID   `db:"id" json:"id"`
	TenantID        string      `db:"tenant_id" json:"tenant_id"`
	ClearinghouseID uuid.UUID   `db:"clearinghouse_id" json:"clearinghouse_id"`
	ClaimIDs        []uuid.UUID `db:"claim_ids" json:"claim_ids"`
	TotalClaims     int         `db:"total_claims" json:"total_claims"`
	SubmittedCount  int         `db:"submitted_count" json:"submitted_count"`
	FailedCount     int         `db:"failed_count" json:"failed_count"`
	Status          BatchStatus `db:"status" json:"status"`
	CreatedBy       string      `db:"created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	CompletedAt     *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

// Adjustment is one CAS group/reason/amount triplet.
type Adjustment struct {
	Group    string          `json:"group"`
	Reason   string          `json:"reason"`
	Amount   decimal.Decimal `json:"amount"`
	Quantity string          `json:"quantity,omitempty"`
}

// ServiceLine is the adjudication of one billed procedure.
type ServiceLine struct {
	LineNumber    int             `json:"line_number"`
	ProcedureCode string          `json:"procedure_code"`
	Modifiers     []string        `json:"modifiers,omitempty"`
	Charged       decimal.Decimal `json:"charged"`
	Paid          decimal.Decimal `json:"paid"`
	Adjustments   []Adjustment    `json:"adjustments,omitempty"`
	RemarkCodes   []string        `json:"remark_codes,omitempty"`
}

// RemittanceAdvice is a decoded 835 claim payment.
type RemittanceAdvice struct {
	ID                    uuid.UUID       `db:"id" json:"id"`
	TenantID              string          `db:"tenant_id" json:"tenant_id"`
	ERANumber             string          `db:"era_number" json:"era_number"`
	X12ClaimID            string          `db:"x12_claim_id" json:"x12_claim_id"`
	ClaimID               *uuid.UUID      `db:"claim_id" json:"claim_id,omitempty"`
	ClaimStatusCode       string          `db:"claim_status_code" json:"claim_status_code,omitempty"`
	ChargeAmount          decimal.Decimal `db:"charge_amount" json:"charge_amount"`
	PaymentAmount         decimal.Decimal `db:"payment_amount" json:"payment_amount"`
	PatientResponsibility decimal.Decimal `db:"patient_responsibility" json:"patient_responsibility"`
	Adjustments           []Adjustment    `db:"adjustments" json:"adjustments"`
	Lines                 []ServiceLine   `db:"service_lines" json:"service_lines"`
	RawContent            *string         `db:"raw_content" json:"-"`
	ReceivedAt            time.Time       `db:"received_at" json:"received_at"`
}

// Payment is money posted against a claim from an ERA.
type Payment struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	TenantID     string          `db:"tenant_id" json:"tenant_id"`
	ClaimID      uuid.UUID       `db:"claim_id" json:"claim_id"`
	RemittanceID uuid.UUID       `db:"remittance_id" json:"remittance_id"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Method       string          `db:"method" json:"method"`
	Reference    string          `db:"reference" json:"reference"`
	PostedAt     time.Time       `db:"posted_at" json:"posted_at"`
}

// HistoryEntry is one append-only row of the claim status audit trail.
type HistoryEntry struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	TenantID   string        `db:"tenant_id" json:"tenant_id"`
	ClaimID    uuid.UUID     `db:"claim_id" json:"claim_id"`
	Status     ClaimStatus   `db:"status" json:"status"`
	StatusCode string        `db:"status_code" json:"status_code,omitempty"`
	Note       string        `db:"note" json:"note"`
	Source     HistorySource `db:"source" json:"source"`
	Actor      string        `db:"actor" json:"actor,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}
