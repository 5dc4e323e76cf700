package claims

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const testTenant = "acme"

var testNow = time.Date(2024, 1, 15, 14, 30, 5, 0, time.UTC)

// -- In-memory store --

type memStore struct {
	mu       sync.Mutex
	seq      map[string]ControlNumbers
	claims   map[uuid.UUID]*Claim
	configs  map[uuid.UUID]*ClearinghouseConfig
	subs     []*Submission
	batches  map[uuid.UUID]*Batch
	remits   map[uuid.UUID]*RemittanceAdvice
	payments []*Payment
	history  []*HistoryEntry
}

func newMemStore() *memStore {
	return &memStore{
		seq:     make(map[string]ControlNumbers),
		claims:  make(map[uuid.UUID]*Claim),
		configs: make(map[uuid.UUID]*ClearinghouseConfig),
		batches: make(map[uuid.UUID]*Batch),
		remits:  make(map[uuid.UUID]*RemittanceAdvice),
	}
}

func (m *memStore) repositories() Repositories {
	return Repositories{
		Sequences:   memSequences{m},
		Claims:      memClaims{m},
		Configs:     memConfigs{m},
		Submissions: memSubmissions{m},
		Batches:     memBatches{m},
		Remittances: memRemittances{m},
		Payments:    memPayments{m},
		History:     memHistory{m},
	}
}

func (m *memStore) historyFor(claimID uuid.UUID) []*HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*HistoryEntry
	for _, e := range m.history {
		if e.ClaimID == claimID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) submissionsFor(claimID uuid.UUID) []*Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Submission
	for _, s := range m.subs {
		if s.ClaimID == claimID {
			out = append(out, s)
		}
	}
	return out
}

func (m *memStore) claimStatus(id uuid.UUID) ClaimStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[id].Status
}

type memSequences struct{ *memStore }

func (m memSequences) Increment(_ context.Context, tenantID, scopeKey string) (ControlNumbers, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "/" + scopeKey
	n := m.seq[key]
	n.ISA++
	n.GS++
	n.ST++
	m.seq[key] = n
	return n, nil
}

type memClaims struct{ *memStore }

func (m memClaims) GetByID(_ context.Context, tenantID string, id uuid.UUID) (*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok || c.TenantID != tenantID {
		return nil, markf(ErrNotFound, "claim %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (m memClaims) UpdateStatus(_ context.Context, tenantID string, id uuid.UUID, status ClaimStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok || c.TenantID != tenantID {
		return markf(ErrNotFound, "claim %s not found", id)
	}
	c.Status = status
	return nil
}

func (m memClaims) UpdateFinancials(_ context.Context, tenantID string, id uuid.UUID, paid, patientResponsibility decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok || c.TenantID != tenantID {
		return markf(ErrNotFound, "claim %s not found", id)
	}
	c.PaidAmount = paid
	c.PatientResponsibility = patientResponsibility
	return nil
}

type memConfigs struct{ *memStore }

func (m memConfigs) Create(_ context.Context, c *ClearinghouseConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.configs[c.ID] = c
	return nil
}

func (m memConfigs) Update(_ context.Context, c *ClearinghouseConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[c.ID]; !ok {
		return markf(ErrNotFound, "clearinghouse %s not found", c.ID)
	}
	m.configs[c.ID] = c
	return nil
}

func (m memConfigs) GetByID(_ context.Context, tenantID string, id uuid.UUID) (*ClearinghouseConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok || c.TenantID != tenantID {
		return nil, markf(ErrNotFound, "clearinghouse %s not found", id)
	}
	return c, nil
}

func (m memConfigs) GetDefault(_ context.Context, tenantID string) (*ClearinghouseConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.configs {
		if c.TenantID == tenantID && c.IsDefault {
			return c, nil
		}
	}
	return nil, markf(ErrNotFound, "no default clearinghouse")
}

func (m memConfigs) List(_ context.Context, tenantID string, limit, offset int) ([]*ClearinghouseConfig, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ClearinghouseConfig
	for _, c := range m.configs {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

func (m memConfigs) ClearDefault(_ context.Context, tenantID string, keep uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.configs {
		if c.TenantID == tenantID && id != keep {
			c.IsDefault = false
		}
	}
	return nil
}

type memSubmissions struct{ *memStore }

func (m memSubmissions) Create(_ context.Context, s *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	m.subs = append(m.subs, s)
	return nil
}

func (m memSubmissions) GetByID(_ context.Context, tenantID string, id uuid.UUID) (*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.ID == id && s.TenantID == tenantID {
			return s, nil
		}
	}
	return nil, markf(ErrNotFound, "submission %s not found", id)
}

func (m memSubmissions) latest(match func(*Submission) bool) *Submission {
	for i := len(m.subs) - 1; i >= 0; i-- {
		if match(m.subs[i]) {
			cp := *m.subs[i]
			return &cp
		}
	}
	return nil
}

func (m memSubmissions) LatestByClaim(_ context.Context, tenantID string, claimID uuid.UUID) (*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.latest(func(s *Submission) bool { return s.TenantID == tenantID && s.ClaimID == claimID }); s != nil {
		return s, nil
	}
	return nil, markf(ErrNotFound, "no submission for claim %s", claimID)
}

func (m memSubmissions) LatestByX12ClaimID(_ context.Context, tenantID, x12ClaimID string) (*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.latest(func(s *Submission) bool { return s.TenantID == tenantID && s.X12ClaimID == x12ClaimID }); s != nil {
		return s, nil
	}
	return nil, markf(ErrNotFound, "no submission for %s", x12ClaimID)
}

func (m memSubmissions) ListByClaim(_ context.Context, tenantID string, claimID uuid.UUID, limit, offset int) ([]*Submission, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Submission
	for _, s := range m.subs {
		if s.TenantID == tenantID && s.ClaimID == claimID {
			out = append(out, s)
		}
	}
	return out, len(out), nil
}

func (m memSubmissions) ListInFlight(_ context.Context, tenantID string, limit int) ([]*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := make(map[uuid.UUID]*Submission)
	for _, s := range m.subs {
		if s.TenantID == tenantID {
			latest[s.ClaimID] = s
		}
	}
	var out []*Submission
	for _, s := range latest {
		for _, st := range InFlightSubmissionStatuses {
			if s.Status == st {
				cp := *s
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memSubmissions) UpdateStatus(_ context.Context, s *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.subs {
		if existing.ID == s.ID {
			cp := *s
			m.subs[i] = &cp
			return nil
		}
	}
	return markf(ErrNotFound, "submission %s not found", s.ID)
}

type memBatches struct{ *memStore }

func (m memBatches) Create(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.CreatedAt = time.Now()
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m memBatches) GetByID(_ context.Context, tenantID string, id uuid.UUID) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.TenantID != tenantID {
		return nil, markf(ErrNotFound, "batch %s not found", id)
	}
	return b, nil
}

func (m memBatches) Finalize(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

type memRemittances struct{ *memStore }

func (m memRemittances) Create(_ context.Context, r *RemittanceAdvice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if _, dup := m.remits[r.ID]; dup {
		return fmt.Errorf("remittance %s already exists", r.ID)
	}
	// Same guarantee as the claim_id foreign key.
	if r.ClaimID != nil {
		if _, ok := m.claims[*r.ClaimID]; !ok {
			return fmt.Errorf("remittance references missing claim %s", *r.ClaimID)
		}
	}
	r.ReceivedAt = time.Now()
	m.remits[r.ID] = r
	return nil
}

func (m memRemittances) GetByID(_ context.Context, tenantID string, id uuid.UUID) (*RemittanceAdvice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.remits[id]
	if !ok || r.TenantID != tenantID {
		return nil, markf(ErrNotFound, "remittance %s not found", id)
	}
	return r, nil
}

type memPayments struct{ *memStore }

func (m memPayments) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.PostedAt = time.Now()
	m.payments = append(m.payments, p)
	return nil
}

func (m memPayments) ListByClaim(_ context.Context, tenantID string, claimID uuid.UUID) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payment
	for _, p := range m.payments {
		if p.TenantID == tenantID && p.ClaimID == claimID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memHistory struct{ *memStore }

func (m memHistory) Append(_ context.Context, e *HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	m.history = append(m.history, e)
	return nil
}

func (m memHistory) ListByClaim(_ context.Context, tenantID string, claimID uuid.UUID, limit, offset int) ([]*HistoryEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*HistoryEntry
	for _, e := range m.history {
		if e.TenantID == tenantID && e.ClaimID == claimID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

// -- Transaction runner --

type mockTx struct {
	mu    sync.Mutex
	calls int
}

func (m *mockTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return fn(ctx)
}

// -- Claim content --

type mockProvider struct {
	content map[uuid.UUID]*ClaimContent
}

func (m *mockProvider) Fetch(_ context.Context, _ string, superbillID uuid.UUID) (*ClaimContent, error) {
	c, ok := m.content[superbillID]
	if !ok {
		return nil, markf(ErrNotFound, "superbill %s not found", superbillID)
	}
	return c, nil
}

// -- Transport --

type mockTransport struct {
	mu           sync.Mutex
	submitStatus SubmissionStatus
	submitErr    error
	failClaims   map[uuid.UUID]error
	status       *StatusResult
	statusErr    error
	submits      []SubmitRequest
	checks       int
}

func newMockTransport() *mockTransport {
	return &mockTransport{submitStatus: SubmissionSubmitted, failClaims: make(map[uuid.UUID]error)}
}

func (m *mockTransport) Submit(_ context.Context, req SubmitRequest) (*SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits = append(m.submits, req)
	if err := m.failClaims[req.ClaimID]; err != nil {
		return nil, err
	}
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return &SubmitResult{
		Status:        m.submitStatus,
		StatusCode:    "A1",
		Message:       "received",
		TransactionID: "TX-" + req.X12ClaimID,
	}, nil
}

func (m *mockTransport) CheckStatus(_ context.Context, req StatusRequest) (*StatusResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if m.status == nil {
		return &StatusResult{Status: req.Current}, nil
	}
	return m.status, nil
}

func (m *mockTransport) submitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submits)
}

// -- Fixtures --

func sampleContent() *ClaimContent {
	dob := time.Date(1980, 6, 1, 0, 0, 0, 0, time.UTC)
	return &ClaimContent{
		ServiceDate:    time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		TotalCharges:   decimal.RequireFromString("250.00"),
		PlaceOfService: "11",
		Diagnoses: []Diagnosis{
			{Code: "E11.9", Primary: true},
			{Code: "I10"},
		},
		Charges: []ChargeLine{
			{Code: "99213", Units: decimal.NewFromInt(1), Charge: decimal.RequireFromString("150.00"), DiagnosisPointers: []int{1, 2}},
			{Code: "83036", Modifiers: []string{"QW"}, Units: decimal.NewFromInt(1), Charge: decimal.RequireFromString("100.00"), DiagnosisPointers: []int{1}},
		},
		Subscriber: Subscriber{
			FirstName:    "Jane",
			LastName:     "Doe",
			MemberID:     "MEM123",
			GroupNumber:  "GRP9",
			Relationship: "18",
			DOB:          &dob,
			Gender:       "female",
			Address:      Address{Line1: "1 Main St", City: "Springfield", State: "IL", Zip: "62701"},
		},
		BillingProvider: BillingProvider{
			Name:    "Springfield Clinic",
			NPI:     "1234567893",
			TaxID:   "12-3456789",
			Address: Address{Line1: "9 Elm St", City: "Springfield", State: "IL", Zip: "62702"},
		},
		Payer: Payer{Name: "Acme Health", PayerID: "ACME1"},
	}
}

func sampleConfig(tenant string) *ClearinghouseConfig {
	return &ClearinghouseConfig{
		ID:                    uuid.New(),
		TenantID:              tenant,
		Name:                  "Availity",
		Type:                  "availity",
		IsActive:              true,
		IsDefault:             true,
		Endpoint:              "https://clearinghouse.test",
		SenderID:              "SENDER",
		ReceiverID:            "RECEIVER",
		SubmitterName:         "Springfield Clinic",
		SubmitterContactName:  "Billing Office",
		SubmitterContactPhone: "(555) 123-4567",
		ReceiverName:          "Availity",
		SubmissionFormat:      "837P",
		SubmissionMethod:      "api",
		BatchEnabled:          true,
	}
}

func newTestEncoder(repo SequenceRepository) *Encoder {
	return NewEncoder(NewSequencer(repo), EncoderConfig{
		Rand: rand.New(rand.NewSource(42)),
		Now:  func() time.Time { return testNow },
	})
}

type testEnv struct {
	store     *memStore
	svc       *Service
	transport *mockTransport
	provider  *mockProvider
	tx        *mockTx
	config    *ClearinghouseConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	repos := store.repositories()
	env := &testEnv{
		store:     store,
		transport: newMockTransport(),
		provider:  &mockProvider{content: make(map[uuid.UUID]*ClaimContent)},
		tx:        &mockTx{},
		config:    sampleConfig(testTenant),
	}
	store.configs[env.config.ID] = env.config
	env.svc = NewService(repos, env.provider, newTestEncoder(repos.Sequences), env.transport, env.tx, zerolog.Nop())
	env.svc.now = func() time.Time { return testNow }
	return env
}

// addClaim stores a claim with superbill content in the given status.
func (e *testEnv) addClaim(status ClaimStatus) *Claim {
	c := &Claim{
		ID:          uuid.New(),
		TenantID:    testTenant,
		SuperbillID: uuid.New(),
		PatientID:   uuid.New(),
		Status:      status,
	}
	e.store.claims[c.ID] = c
	e.provider.content[c.SuperbillID] = sampleContent()
	return c
}
