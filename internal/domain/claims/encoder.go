package claims

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/platform/x12"
)

const (
	// ImplementationGuide is the 837P version/release this encoder emits.
	ImplementationGuide = "005010X222A1"

	maxDiagnoses       = 12
	maxLinePointers    = 4
	defaultPlaceOfSvc  = "11"
	claimIDLength      = 16
	claimIDAlphabet    = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	interchangeVersion = "00501"
)

// EncoderConfig controls formatting and the injected sources of
// randomness and time.
type EncoderConfig struct {
	Delimiters     x12.Delimiters
	UsageIndicator string // ISA15, "P" production or "T" test
	Rand           *rand.Rand
	Now            func() time.Time
}

// Encoder turns claim content into one 837P interchange.
type Encoder struct {
	numbers ControlNumberSource
	delims  x12.Delimiters
	usage   string
	now     func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewEncoder(numbers ControlNumberSource, cfg EncoderConfig) *Encoder {
	if cfg.Delimiters == (x12.Delimiters{}) {
		cfg.Delimiters = x12.DefaultDelimiters
	}
	if cfg.UsageIndicator == "" {
		cfg.UsageIndicator = "P"
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Encoder{
		numbers: numbers,
		delims:  cfg.Delimiters,
		usage:   cfg.UsageIndicator,
		now:     cfg.Now,
		rnd:     cfg.Rand,
	}
}

// EncodeInput is everything needed for one interchange.
type EncodeInput struct {
	TenantID      string
	Clearinghouse *ClearinghouseConfig
	Content       *ClaimContent
}

// EncodedClaim is the result of Encode.
type EncodedClaim struct {
	Segments     []x12.Segment
	Lines        []string
	Text         string
	Control      ControlNumbers
	ClaimID      string // CLM01
	BHTReference string
}

func (e *Encoder) Delimiters() x12.Delimiters { return e.delims }

// Encode validates the content, takes the next control numbers for the
// clearinghouse and renders the interchange. Content problems are reported
// as ErrEncoding before any control number is consumed.
func (e *Encoder) Encode(ctx context.Context, in EncodeInput) (*EncodedClaim, error) {
	if err := validateContent(in); err != nil {
		return nil, err
	}
	cfgID := in.Clearinghouse.ID
	nums, err := e.numbers.Next(ctx, in.TenantID, &cfgID)
	if err != nil {
		return nil, wrapMark(err, ErrEncoding, "issue control numbers")
	}

	now := e.now()
	enc := &EncodedClaim{
		Control:      nums,
		ClaimID:      e.NewClaimIdentifier(),
		BHTReference: e.bhtReference(),
	}

	d := e.delims
	cfg := in.Clearinghouse
	c := in.Content

	txn := []x12.Segment{
		buildST(nums),
		buildBHT(enc.BHTReference, now),
	}
	txn = append(txn, buildSubmitter(cfg, d)...)
	txn = append(txn, buildReceiver(cfg, d))
	txn = append(txn, buildBillingProvider(c.BillingProvider, d)...)
	txn = append(txn, buildSubscriber(c.Subscriber, c.Payer, d)...)
	txn = append(txn, buildCLM(enc.ClaimID, c, d))
	txn = append(txn, buildServiceDate(c.ServiceDate))
	txn = append(txn, buildHI(c.Diagnoses, d))
	for i, line := range c.Charges {
		txn = append(txn, buildServiceLine(i+1, line, c.ServiceDate, d)...)
	}
	// SE counts itself and ST.
	txn = append(txn, x12.NewSegment("SE", strconv.Itoa(len(txn)+1), x12.ZeroPad(nums.ST, 4)))

	segs := make([]x12.Segment, 0, len(txn)+4)
	segs = append(segs, e.buildISA(cfg, nums, now), buildGS(cfg, nums, now, d))
	segs = append(segs, txn...)
	segs = append(segs,
		x12.NewSegment("GE", "1", strconv.FormatInt(nums.GS, 10)),
		x12.NewSegment("IEA", "1", x12.ZeroPad(nums.ISA, 9)),
	)

	enc.Segments = segs
	enc.Lines = x12.RenderLines(segs, d)
	enc.Text = strings.Join(enc.Lines, "")
	return enc, nil
}

func validateContent(in EncodeInput) error {
	if in.Clearinghouse == nil {
		return markf(ErrEncoding, "clearinghouse configuration is required")
	}
	c := in.Content
	if c == nil {
		return markf(ErrEncoding, "claim content is missing")
	}
	if len(c.Diagnoses) == 0 {
		return markf(ErrEncoding, "claim has no diagnoses")
	}
	if len(c.Diagnoses) > maxDiagnoses {
		return markf(ErrEncoding, "claim has %d diagnoses, at most %d fit in HI", len(c.Diagnoses), maxDiagnoses)
	}
	if len(c.Charges) == 0 {
		return markf(ErrEncoding, "claim has no charge lines")
	}
	for i, line := range c.Charges {
		if strings.TrimSpace(line.Code) == "" {
			return markf(ErrEncoding, "charge line %d has no procedure code", i+1)
		}
		if len(line.DiagnosisPointers) > maxLinePointers {
			return markf(ErrEncoding, "charge line %d has %d diagnosis pointers, at most %d allowed", i+1, len(line.DiagnosisPointers), maxLinePointers)
		}
		for _, p := range line.DiagnosisPointers {
			if p < 1 || p > len(c.Diagnoses) {
				return markf(ErrEncoding, "charge line %d points at diagnosis %d of %d", i+1, p, len(c.Diagnoses))
			}
		}
	}
	return nil
}

// NewClaimIdentifier returns a fresh random CLM01 value.
func (e *Encoder) NewClaimIdentifier() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := make([]byte, claimIDLength)
	for i := range b {
		b[i] = claimIDAlphabet[e.rnd.Intn(len(claimIDAlphabet))]
	}
	return string(b)
}

func (e *Encoder) bhtReference() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return x12.ZeroPad(e.rnd.Int63n(1_000_000_000), 9)
}

func (e *Encoder) buildISA(cfg *ClearinghouseConfig, n ControlNumbers, now time.Time) x12.Segment {
	d := e.delims
	return x12.NewSegment("ISA",
		"00", x12.PadRight("", 10),
		"00", x12.PadRight("", 10),
		"ZZ", x12.PadRight(x12.Clean(cfg.SenderID, d), 15),
		"ZZ", x12.PadRight(x12.Clean(cfg.ReceiverID, d), 15),
		now.Format(x12.ShortDateFormat),
		now.Format(x12.ShortTimeFormat),
		string(d.Repetition),
		interchangeVersion,
		x12.ZeroPad(n.ISA, 9),
		"0",
		e.usage,
		string(d.Component),
	)
}

func buildGS(cfg *ClearinghouseConfig, n ControlNumbers, now time.Time, d x12.Delimiters) x12.Segment {
	receiver := cfg.ReceiverID
	if cfg.TradingPartnerID != "" {
		receiver = cfg.TradingPartnerID
	}
	return x12.NewSegment("GS", "HC",
		x12.Clean(cfg.SenderID, d),
		x12.Clean(receiver, d),
		x12.FormatDate(now),
		x12.FormatTime(now),
		strconv.FormatInt(n.GS, 10),
		"X",
		ImplementationGuide,
	)
}

func buildST(n ControlNumbers) x12.Segment {
	return x12.NewSegment("ST", "837", x12.ZeroPad(n.ST, 4), ImplementationGuide)
}

func buildBHT(ref string, now time.Time) x12.Segment {
	return x12.NewSegment("BHT", "0019", "00", ref, x12.FormatDate(now), x12.FormatTime(now), "CH")
}

func buildSubmitter(cfg *ClearinghouseConfig, d x12.Delimiters) []x12.Segment {
	nm1 := x12.NewSegment("NM1", "41", "2", x12.Clean(cfg.SubmitterName, d), "", "", "", "", "46", x12.Clean(cfg.SenderID, d))
	per := []string{"IC", x12.Clean(cfg.SubmitterContactName, d)}
	if cfg.SubmitterContactPhone != "" {
		per = append(per, "TE", digitsOnly(cfg.SubmitterContactPhone))
	}
	if cfg.SubmitterContactEmail != "" {
		per = append(per, "EM", x12.Clean(cfg.SubmitterContactEmail, d))
	}
	return []x12.Segment{nm1, x12.NewSegment("PER", per...)}
}

func buildReceiver(cfg *ClearinghouseConfig, d x12.Delimiters) x12.Segment {
	return x12.NewSegment("NM1", "40", "2", x12.Clean(cfg.ReceiverName, d), "", "", "", "", "46", x12.Clean(cfg.ReceiverID, d))
}

func buildBillingProvider(p BillingProvider, d x12.Delimiters) []x12.Segment {
	segs := []x12.Segment{
		x12.NewSegment("HL", "1", "", "20", "1"),
		x12.NewSegment("NM1", "85", "2", x12.Clean(p.Name, d), "", "", "", "", "XX", digitsOnly(p.NPI)),
	}
	segs = append(segs, buildAddress(p.Address, d)...)
	segs = append(segs, x12.NewSegment("REF", "EI", digitsOnly(p.TaxID)))
	return segs
}

func buildSubscriber(s Subscriber, payer Payer, d x12.Delimiters) []x12.Segment {
	rel := s.Relationship
	if rel == "" {
		rel = "18"
	}
	segs := []x12.Segment{
		x12.NewSegment("HL", "2", "1", "22", "0"),
		x12.NewSegment("SBR", "P", rel, x12.Clean(s.GroupNumber, d), "", "", "", "", "", "CI"),
		x12.NewSegment("NM1", "IL", "1", x12.Clean(s.LastName, d), x12.Clean(s.FirstName, d), x12.Clean(s.MiddleName, d), "", "", "MI", x12.Clean(s.MemberID, d)),
	}
	segs = append(segs, buildAddress(s.Address, d)...)
	if s.DOB != nil {
		segs = append(segs, x12.NewSegment("DMG", "D8", x12.FormatDate(*s.DOB), genderCode(s.Gender)))
	}
	segs = append(segs, x12.NewSegment("NM1", "PR", "2", x12.Clean(payer.Name, d), "", "", "", "", "PI", x12.Clean(payer.PayerID, d)))
	return segs
}

func buildAddress(a Address, d x12.Delimiters) []x12.Segment {
	if a.Line1 == "" && a.City == "" {
		return nil
	}
	return []x12.Segment{
		x12.NewSegment("N3", x12.Clean(a.Line1, d), x12.Clean(a.Line2, d)),
		x12.NewSegment("N4", x12.Clean(a.City, d), x12.Clean(a.State, d), digitsOnly(a.Zip)),
	}
}

func buildCLM(claimID string, c *ClaimContent, d x12.Delimiters) x12.Segment {
	pos := c.PlaceOfService
	if pos == "" {
		pos = defaultPlaceOfSvc
	}
	return x12.NewSegment("CLM", claimID, x12.FormatAmount(claimTotal(c)), "", "",
		x12.Composite(d, pos, "B", "1"), "Y", "A", "Y", "Y")
}

// claimTotal is the superbill total, or the sum of the lines when the
// superbill carries none.
func claimTotal(c *ClaimContent) decimal.Decimal {
	if c.TotalCharges.IsPositive() {
		return c.TotalCharges
	}
	return lo.Reduce(c.Charges, func(sum decimal.Decimal, l ChargeLine, _ int) decimal.Decimal {
		return sum.Add(l.Charge)
	}, decimal.Zero)
}

func buildServiceDate(date time.Time) x12.Segment {
	return x12.NewSegment("DTP", "472", "D8", x12.FormatDate(date))
}

func buildHI(diagnoses []Diagnosis, d x12.Delimiters) x12.Segment {
	codes := lo.Map(diagnoses, func(dx Diagnosis, i int) string {
		qualifier := "ABF"
		if i == 0 {
			qualifier = "ABK"
		}
		return x12.Composite(d, qualifier, icdCode(dx.Code, d))
	})
	return x12.NewSegment("HI", codes...)
}

func buildServiceLine(n int, line ChargeLine, date time.Time, d x12.Delimiters) []x12.Segment {
	mods := lo.Compact(lo.Map(line.Modifiers, func(m string, _ int) string {
		return x12.Clean(strings.ToUpper(m), d)
	}))
	procedure := x12.Composite(d, append([]string{"HC", x12.Clean(strings.ToUpper(line.Code), d)}, mods...)...)

	pointers := line.DiagnosisPointers
	if len(pointers) == 0 {
		pointers = []int{1}
	}
	units := line.Units
	if !units.IsPositive() {
		units = decimal.NewFromInt(1)
	}
	return []x12.Segment{
		x12.NewSegment("LX", strconv.Itoa(n)),
		x12.NewSegment("SV1", procedure, x12.FormatAmount(line.Charge), "UN", x12.FormatQuantity(units), "", "",
			x12.Composite(d, lo.Map(pointers, func(p int, _ int) string { return strconv.Itoa(p) })...)),
		buildServiceDate(date),
	}
}

func icdCode(code string, d x12.Delimiters) string {
	return strings.ReplaceAll(strings.ToUpper(x12.Clean(code, d)), ".", "")
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func genderCode(g string) string {
	switch strings.ToLower(strings.TrimSpace(g)) {
	case "m", "male":
		return "M"
	case "f", "female":
		return "F"
	default:
		return "U"
	}
}

// EncodeGap reports whether err is a content problem that lets a submission
// proceed without X12.
func EncodeGap(err error) bool {
	return errors.Is(err, ErrEncoding)
}
