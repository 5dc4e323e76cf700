package claims

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

type superbillProviderPG struct{ pgRepo }

// NewSuperbillProviderPG reads claim content from the superbill tables.
func NewSuperbillProviderPG(pool *pgxpool.Pool) ClaimDataProvider {
	return &superbillProviderPG{pgRepo{pool: pool}}
}

func (p *superbillProviderPG) Fetch(ctx context.Context, tenantID string, superbillID uuid.UUID) (*ClaimContent, error) {
	c := &ClaimContent{SuperbillID: superbillID}
	s := &c.Subscriber
	bp := &c.BillingProvider
	var dob *time.Time
	err := p.conn(ctx).QueryRow(ctx, `
		SELECT service_date, total_charges, place_of_service,
			subscriber_first_name, subscriber_last_name, subscriber_middle_name, subscriber_dob, subscriber_gender,
			subscriber_address_line1, subscriber_address_line2, subscriber_city, subscriber_state, subscriber_zip,
			member_id, group_number, relationship,
			provider_name, provider_npi, provider_tax_id,
			provider_address_line1, provider_address_line2, provider_city, provider_state, provider_zip,
			payer_name, payer_id
		FROM superbill WHERE tenant_id = $1 AND id = $2`, tenantID, superbillID).Scan(
		&c.ServiceDate, &c.TotalCharges, &c.PlaceOfService,
		&s.FirstName, &s.LastName, &s.MiddleName, &dob, &s.Gender,
		&s.Address.Line1, &s.Address.Line2, &s.Address.City, &s.Address.State, &s.Address.Zip,
		&s.MemberID, &s.GroupNumber, &s.Relationship,
		&bp.Name, &bp.NPI, &bp.TaxID,
		&bp.Address.Line1, &bp.Address.Line2, &bp.Address.City, &bp.Address.State, &bp.Address.Zip,
		&c.Payer.Name, &c.Payer.PayerID)
	if err != nil {
		return nil, notFound(err, "superbill", superbillID)
	}
	s.DOB = dob

	if c.Diagnoses, err = p.diagnoses(ctx, superbillID); err != nil {
		return nil, err
	}
	if c.Charges, err = p.charges(ctx, superbillID); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *superbillProviderPG) diagnoses(ctx context.Context, superbillID uuid.UUID) ([]Diagnosis, error) {
	rows, err := p.conn(ctx).Query(ctx, `
		SELECT code, description, is_primary FROM superbill_diagnosis
		WHERE superbill_id = $1 ORDER BY sequence, id`, superbillID)
	if err != nil {
		return nil, fmt.Errorf("list superbill diagnoses: %w", err)
	}
	defer rows.Close()
	var out []Diagnosis
	for rows.Next() {
		var d Diagnosis
		if err := rows.Scan(&d.Code, &d.Description, &d.Primary); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return primaryFirst(out), nil
}

// primaryFirst moves primary diagnoses to the front, keeping the stored
// order otherwise.
func primaryFirst(dx []Diagnosis) []Diagnosis {
	sort.SliceStable(dx, func(i, j int) bool { return dx[i].Primary && !dx[j].Primary })
	return dx
}

func (p *superbillProviderPG) charges(ctx context.Context, superbillID uuid.UUID) ([]ChargeLine, error) {
	rows, err := p.conn(ctx).Query(ctx, `
		SELECT code, modifiers, units, charge, diagnosis_pointers FROM superbill_charge
		WHERE superbill_id = $1 ORDER BY line_number, id`, superbillID)
	if err != nil {
		return nil, fmt.Errorf("list superbill charges: %w", err)
	}
	defer rows.Close()
	var out []ChargeLine
	for rows.Next() {
		var l ChargeLine
		var pointers []int32
		if err := rows.Scan(&l.Code, &l.Modifiers, &l.Units, &l.Charge, &pointers); err != nil {
			return nil, err
		}
		l.DiagnosisPointers = lo.Map(pointers, func(p int32, _ int) int { return int(p) })
		out = append(out, l)
	}
	return out, rows.Err()
}
