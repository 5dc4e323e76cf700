package claims

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/platform/x12"
)

func segmentsWithTag(segs []x12.Segment, tag string) []x12.Segment {
	var out []x12.Segment
	for _, s := range segs {
		if s.Tag == tag {
			out = append(out, s)
		}
	}
	return out
}

func indexOf(segs []x12.Segment, tag string) int {
	for i, s := range segs {
		if s.Tag == tag {
			return i
		}
	}
	return -1
}

func encodeSample(t *testing.T, enc *Encoder, cfg *ClearinghouseConfig, content *ClaimContent) *EncodedClaim {
	t.Helper()
	out, err := enc.Encode(context.Background(), EncodeInput{TenantID: testTenant, Clearinghouse: cfg, Content: content})
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	return out
}

func TestEncode_Envelope(t *testing.T) {
	store := newMemStore()
	enc := newTestEncoder(memSequences{store})
	cfg := sampleConfig(testTenant)
	out := encodeSample(t, enc, cfg, sampleContent())

	segs := out.Segments
	if segs[0].Tag != "ISA" || segs[1].Tag != "GS" || segs[2].Tag != "ST" {
		t.Fatalf("unexpected envelope start: %s %s %s", segs[0].Tag, segs[1].Tag, segs[2].Tag)
	}
	n := len(segs)
	if segs[n-3].Tag != "SE" || segs[n-2].Tag != "GE" || segs[n-1].Tag != "IEA" {
		t.Fatalf("unexpected envelope end: %s %s %s", segs[n-3].Tag, segs[n-2].Tag, segs[n-1].Tag)
	}

	isa := segs[0]
	if isa.Element(9) != "240115" || isa.Element(10) != "1430" {
		t.Errorf("unexpected ISA date/time %q %q", isa.Element(9), isa.Element(10))
	}
	if isa.Element(6) != "SENDER         " || isa.Element(8) != "RECEIVER       " {
		t.Errorf("expected 15 char padded ids, got %q %q", isa.Element(6), isa.Element(8))
	}
	if isa.Element(13) != "000000001" {
		t.Errorf("expected ISA13 000000001, got %q", isa.Element(13))
	}
	if isa.Element(15) != "P" {
		t.Errorf("expected production usage indicator, got %q", isa.Element(15))
	}
	if len(out.Lines[0]) != 106 {
		t.Errorf("expected 106 char ISA, got %d", len(out.Lines[0]))
	}

	gs := segs[1]
	if gs.Element(4) != "20240115" || gs.Element(5) != "143005" || gs.Element(6) != "1" {
		t.Errorf("unexpected GS: %v", gs.Elements)
	}
	if gs.Element(8) != ImplementationGuide {
		t.Errorf("expected %s, got %q", ImplementationGuide, gs.Element(8))
	}
	if got := segs[2].Element(2); got != "0001" {
		t.Errorf("expected ST02 0001, got %q", got)
	}
	if got := segs[n-1].Element(2); got != isa.Element(13) {
		t.Errorf("IEA02 %q must match ISA13 %q", got, isa.Element(13))
	}
	if got := segs[n-2].Element(2); got != gs.Element(6) {
		t.Errorf("GE02 %q must match GS06 %q", got, gs.Element(6))
	}
}

func TestEncode_DelimitersReadableFromISA(t *testing.T) {
	enc := newTestEncoder(memSequences{newMemStore()})
	out := encodeSample(t, enc, sampleConfig(testTenant), sampleContent())

	d, ok := x12.DetectDelimiters(out.Text, x12.DefaultDelimiters.WithTerminator('~'))
	if !ok {
		t.Fatal("expected delimiters to be detected from generated ISA")
	}
	if d != x12.DefaultDelimiters {
		t.Errorf("expected default delimiters, got %+v", d)
	}
}

func TestEncode_SECount(t *testing.T) {
	enc := newTestEncoder(memSequences{newMemStore()})
	out := encodeSample(t, enc, sampleConfig(testTenant), sampleContent())

	st := indexOf(out.Segments, "ST")
	se := indexOf(out.Segments, "SE")
	want := se - st + 1
	got, err := strconv.Atoi(out.Segments[se].Element(1))
	if err != nil {
		t.Fatalf("SE01 not numeric: %v", err)
	}
	if got != want {
		t.Errorf("expected SE01 %d, got %d", want, got)
	}
	if out.Segments[se].Element(2) != out.Segments[st].Element(2) {
		t.Error("SE02 must match ST02")
	}
}

func TestEncode_WideSTControlNumber(t *testing.T) {
	seq := NewSequencer(fixedSequenceRepo{n: ControlNumbers{ISA: 12345, GS: 12345, ST: 12345}})
	enc := NewEncoder(seq, EncoderConfig{
		Rand: rand.New(rand.NewSource(42)),
		Now:  func() time.Time { return testNow },
	})
	out := encodeSample(t, enc, sampleConfig(testTenant), sampleContent())

	st := segmentsWithTag(out.Segments, "ST")[0]
	se := segmentsWithTag(out.Segments, "SE")[0]
	if st.Element(2) != "12345" || se.Element(2) != "12345" {
		t.Errorf("expected ST02/SE02 to widen past four digits, got %q / %q", st.Element(2), se.Element(2))
	}
	if got := segmentsWithTag(out.Segments, "ISA")[0].Element(13); got != "000012345" {
		t.Errorf("expected ISA13 000012345, got %q", got)
	}
}

func TestEncode_HIQualifiers(t *testing.T) {
	content := sampleContent()
	content.Diagnoses = []Diagnosis{{Code: "E11.9"}, {Code: "I10"}, {Code: "Z79.4"}}
	enc := newTestEncoder(memSequences{newMemStore()})
	out := encodeSample(t, enc, sampleConfig(testTenant), content)

	hi := segmentsWithTag(out.Segments, "HI")
	if len(hi) != 1 {
		t.Fatalf("expected one HI segment, got %d", len(hi))
	}
	want := []string{"ABK:E119", "ABF:I10", "ABF:Z794"}
	if len(hi[0].Elements) != len(want) {
		t.Fatalf("expected %d HI elements, got %v", len(want), hi[0].Elements)
	}
	for i, w := range want {
		if hi[0].Elements[i] != w {
			t.Errorf("HI%02d: expected %q, got %q", i+1, w, hi[0].Elements[i])
		}
	}
}

func TestEncode_ServiceLines(t *testing.T) {
	enc := newTestEncoder(memSequences{newMemStore()})
	out := encodeSample(t, enc, sampleConfig(testTenant), sampleContent())

	lx := segmentsWithTag(out.Segments, "LX")
	sv1 := segmentsWithTag(out.Segments, "SV1")
	if len(lx) != 2 || len(sv1) != 2 {
		t.Fatalf("expected 2 LX/SV1 pairs, got %d/%d", len(lx), len(sv1))
	}
	for i, seg := range lx {
		if seg.Element(1) != strconv.Itoa(i+1) {
			t.Errorf("expected LX%d, got %q", i+1, seg.Element(1))
		}
	}
	if sv1[0].Element(1) != "HC:99213" || sv1[0].Element(2) != "150.00" || sv1[0].Element(7) != "1:2" {
		t.Errorf("unexpected first SV1: %v", sv1[0].Elements)
	}
	if sv1[1].Element(1) != "HC:83036:QW" || sv1[1].Element(3) != "UN" || sv1[1].Element(4) != "1" {
		t.Errorf("unexpected second SV1: %v", sv1[1].Elements)
	}

	// Every LX is immediately followed by its SV1 and DTP.
	for i, seg := range out.Segments {
		if seg.Tag == "LX" {
			if out.Segments[i+1].Tag != "SV1" || out.Segments[i+2].Tag != "DTP" {
				t.Errorf("LX at %d not followed by SV1 and DTP", i)
			}
		}
	}
}

func TestEncode_CLM(t *testing.T) {
	enc := newTestEncoder(memSequences{newMemStore()})
	out := encodeSample(t, enc, sampleConfig(testTenant), sampleContent())

	clm := segmentsWithTag(out.Segments, "CLM")
	if len(clm) != 1 {
		t.Fatalf("expected one CLM, got %d", len(clm))
	}
	if clm[0].Element(1) != out.ClaimID || len(out.ClaimID) != 16 {
		t.Errorf("expected CLM01 to be the 16 char claim id, got %q", clm[0].Element(1))
	}
	if clm[0].Element(2) != "250.00" || clm[0].Element(5) != "11:B:1" {
		t.Errorf("unexpected CLM: %v", clm[0].Elements)
	}
}

func TestEncode_TotalFallsBackToLines(t *testing.T) {
	content := sampleContent()
	content.TotalCharges = decimal.Zero
	if got := claimTotal(content); !got.Equal(decimal.RequireFromString("250")) {
		t.Errorf("expected 250, got %s", got)
	}
}

func TestEncode_DefaultsPointerAndUnits(t *testing.T) {
	content := sampleContent()
	content.Charges = []ChargeLine{{Code: "99213", Charge: decimal.NewFromInt(80)}}
	enc := newTestEncoder(memSequences{newMemStore()})
	out := encodeSample(t, enc, sampleConfig(testTenant), content)

	sv1 := segmentsWithTag(out.Segments, "SV1")[0]
	if sv1.Element(4) != "1" || sv1.Element(7) != "1" {
		t.Errorf("expected default units and pointer, got %v", sv1.Elements)
	}
}

func TestEncode_ControlNumbersAdvance(t *testing.T) {
	enc := newTestEncoder(memSequences{newMemStore()})
	cfg := sampleConfig(testTenant)
	first := encodeSample(t, enc, cfg, sampleContent())
	second := encodeSample(t, enc, cfg, sampleContent())

	if second.Control.ISA != first.Control.ISA+1 {
		t.Errorf("expected ISA to advance, got %d then %d", first.Control.ISA, second.Control.ISA)
	}
	if first.ClaimID == second.ClaimID {
		t.Error("expected distinct claim identifiers")
	}
}

func TestEncode_Deterministic(t *testing.T) {
	cfg := sampleConfig(testTenant)
	a := encodeSample(t, newTestEncoder(memSequences{newMemStore()}), cfg, sampleContent())
	b := encodeSample(t, newTestEncoder(memSequences{newMemStore()}), cfg, sampleContent())
	if a.Text != b.Text {
		t.Error("expected identical output for the same seed, clock and sequence")
	}
}

func TestEncode_OneTerminatorPerSegment(t *testing.T) {
	enc := NewEncoder(NewSequencer(memSequences{newMemStore()}), EncoderConfig{
		Delimiters: x12.DefaultDelimiters.WithTerminator('~'),
		Rand:       rand.New(rand.NewSource(1)),
		Now:        func() time.Time { return testNow },
	})
	out := encodeSample(t, enc, sampleConfig(testTenant), sampleContent())
	if got := strings.Count(out.Text, "~"); got != len(out.Segments) {
		t.Errorf("expected %d terminators, got %d", len(out.Segments), got)
	}
	if strings.Contains(out.Text, "\n") {
		t.Error("expected no newlines with a tilde terminator")
	}
}

func TestEncode_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *ClaimContent)
	}{
		{"no diagnoses", func(c *ClaimContent) { c.Diagnoses = nil }},
		{"too many diagnoses", func(c *ClaimContent) {
			c.Diagnoses = make([]Diagnosis, 13)
			for i := range c.Diagnoses {
				c.Diagnoses[i] = Diagnosis{Code: "R51"}
			}
		}},
		{"no charges", func(c *ClaimContent) { c.Charges = nil }},
		{"empty procedure", func(c *ClaimContent) { c.Charges[0].Code = " " }},
		{"pointer out of range", func(c *ClaimContent) { c.Charges[0].DiagnosisPointers = []int{3} }},
		{"too many pointers", func(c *ClaimContent) { c.Charges[0].DiagnosisPointers = []int{1, 2, 1, 2, 1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			enc := newTestEncoder(memSequences{store})
			content := sampleContent()
			tt.mutate(content)
			_, err := enc.Encode(context.Background(), EncodeInput{TenantID: testTenant, Clearinghouse: sampleConfig(testTenant), Content: content})
			if !IsEncoding(err) || !EncodeGap(err) {
				t.Fatalf("expected encoding error, got %v", err)
			}
			if len(store.seq) != 0 {
				t.Error("expected no control number to be consumed")
			}
		})
	}
}

func TestEncode_NilInputs(t *testing.T) {
	enc := newTestEncoder(memSequences{newMemStore()})
	if _, err := enc.Encode(context.Background(), EncodeInput{Content: sampleContent()}); !IsEncoding(err) {
		t.Errorf("expected encoding error without config, got %v", err)
	}
	if _, err := enc.Encode(context.Background(), EncodeInput{Clearinghouse: sampleConfig(testTenant)}); !IsEncoding(err) {
		t.Errorf("expected encoding error without content, got %v", err)
	}
}

func TestEncode_SubscriberLoop(t *testing.T) {
	enc := newTestEncoder(memSequences{newMemStore()})
	out := encodeSample(t, enc, sampleConfig(testTenant), sampleContent())

	dmg := segmentsWithTag(out.Segments, "DMG")
	if len(dmg) != 1 || dmg[0].Element(2) != "19800601" || dmg[0].Element(3) != "F" {
		t.Errorf("unexpected DMG: %v", dmg)
	}
	var payer, billing *x12.Segment
	for i, s := range out.Segments {
		if s.Tag == "NM1" && s.Element(1) == "PR" {
			payer = &out.Segments[i]
		}
		if s.Tag == "NM1" && s.Element(1) == "85" {
			billing = &out.Segments[i]
		}
	}
	if payer == nil || payer.Element(9) != "ACME1" {
		t.Errorf("unexpected payer segment: %+v", payer)
	}
	if billing == nil || billing.Element(9) != "1234567893" {
		t.Errorf("unexpected billing provider segment: %+v", billing)
	}
	ref := segmentsWithTag(out.Segments, "REF")
	if len(ref) != 1 || ref[0].Element(2) != "123456789" {
		t.Errorf("expected tax id without punctuation, got %v", ref)
	}
}
