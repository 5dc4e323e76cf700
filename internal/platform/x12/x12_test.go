package x12

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const sampleISA = "ISA*00*          *00*          *ZZ*SENDER         *ZZ*RECEIVER       *240115*1430*^*00501*000000042*0*P*:~"

func TestSegmentString_DropsTrailingEmpties(t *testing.T) {
	seg := NewSegment("SV1", "HC:99213", "100.00", "UN", "1", "", "", "1:2", "", "")
	got := seg.String(DefaultDelimiters)
	want := "SV1*HC:99213*100.00*UN*1***1:2"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestSegmentString_TagOnly(t *testing.T) {
	seg := NewSegment("LX", "", "")
	if got := seg.String(DefaultDelimiters); got != "LX" {
		t.Errorf("expected %q, got %q", "LX", got)
	}
}

func TestComposite(t *testing.T) {
	d := DefaultDelimiters
	if got := Composite(d, "HC", "99213", "25", ""); got != "HC:99213:25" {
		t.Errorf("unexpected composite %q", got)
	}
	if got := Composite(d, "11", "B", "1"); got != "11:B:1" {
		t.Errorf("unexpected composite %q", got)
	}
	if got := Composite(d, "HC", "", "25"); got != "HC::25" {
		t.Errorf("expected empty middle part to be kept, got %q", got)
	}
}

func TestRender_OneTerminatorPerSegment(t *testing.T) {
	d := DefaultDelimiters.WithTerminator('~')
	segs := []Segment{NewSegment("ST", "837", "0001"), NewSegment("SE", "2", "0001")}
	got := Render(segs, d)
	if got != "ST*837*0001~SE*2*0001~" {
		t.Errorf("unexpected render %q", got)
	}
	if strings.Count(got, "~") != len(segs) {
		t.Errorf("expected %d terminators", len(segs))
	}
}

func TestDelimitersValidate(t *testing.T) {
	if err := DefaultDelimiters.Validate(); err != nil {
		t.Fatalf("default delimiters should be valid: %v", err)
	}
	bad := DefaultDelimiters.WithTerminator('*')
	if err := bad.Validate(); err == nil {
		t.Error("expected error for duplicate delimiter")
	}
	alnum := DefaultDelimiters.WithTerminator('A')
	if err := alnum.Validate(); err == nil {
		t.Error("expected error for alphanumeric delimiter")
	}
}

func TestDetectDelimiters(t *testing.T) {
	d, ok := DetectDelimiters(sampleISA+"GS*HP~", DefaultDelimiters)
	if !ok {
		t.Fatal("expected delimiters to be detected from ISA")
	}
	if d.Element != '*' || d.Component != ':' || d.Segment != '~' || d.Repetition != '^' {
		t.Errorf("unexpected delimiters: %+v", d)
	}
}

func TestDetectDelimiters_NoISA(t *testing.T) {
	d, ok := DetectDelimiters("CLP*1*1*100*80~", DefaultDelimiters)
	if ok {
		t.Error("expected fallback without ISA")
	}
	if d != DefaultDelimiters {
		t.Errorf("expected fallback delimiters, got %+v", d)
	}
}

func TestParse_WithISA(t *testing.T) {
	raw := sampleISA + "GS*HP*A*B~ST*835*0001~TRN*1*ERA123*1512345678~SE*3*0001~"
	ic := Parse(raw, DefaultDelimiters)
	if len(ic.Segments) != 5 {
		t.Fatalf("expected 5 segments, got %d", len(ic.Segments))
	}
	trn := ic.GetSegment("TRN")
	if trn == nil {
		t.Fatal("expected TRN segment")
	}
	if trn.Element(2) != "ERA123" {
		t.Errorf("expected ERA123, got %q", trn.Element(2))
	}
	if got := ic.Segments[0].Element(13); got != "000000042" {
		t.Errorf("expected ISA13 000000042, got %q", got)
	}
}

func TestParse_NewlinesAndTildes(t *testing.T) {
	raw := "CLP*A1*1*200*150*10~\nCAS*CO*45*20\r\n\nSVC*HC:99213*200*150\n"
	ic := Parse(raw, DefaultDelimiters)
	if len(ic.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(ic.Segments))
	}
	if cas := ic.GetSegments("CAS"); len(cas) != 1 || cas[0].Element(3) != "20" {
		t.Errorf("unexpected CAS: %+v", cas)
	}
	svc := ic.GetSegment("SVC")
	comps := svc.Components(1, ic.Delimiters)
	if len(comps) != 2 || comps[1] != "99213" {
		t.Errorf("unexpected SVC composite: %v", comps)
	}
}

func TestParse_Empty(t *testing.T) {
	ic := Parse("", DefaultDelimiters)
	if len(ic.Segments) != 0 {
		t.Errorf("expected no segments, got %d", len(ic.Segments))
	}
	if ic.GetSegment("ISA") != nil {
		t.Error("expected nil segment")
	}
}

func TestSegmentElement_OutOfRange(t *testing.T) {
	seg := NewSegment("CLP", "A1")
	if seg.Element(0) != "" || seg.Element(5) != "" {
		t.Error("expected empty string for out-of-range element")
	}
	if seg.Components(4, DefaultDelimiters) != nil {
		t.Error("expected nil components for missing element")
	}
}

func TestPadding(t *testing.T) {
	if got := PadRight("SENDER", 15); got != "SENDER         " || len(got) != 15 {
		t.Errorf("unexpected PadRight %q", got)
	}
	if got := PadRight("A-VERY-LONG-IDENTIFIER", 15); len(got) != 15 {
		t.Errorf("expected truncation to 15, got %q", got)
	}
	if got := ZeroPad(42, 9); got != "000000042" {
		t.Errorf("unexpected ZeroPad %q", got)
	}
	if got := ZeroPad(7, 4); got != "0007" {
		t.Errorf("unexpected ZeroPad %q", got)
	}
}

func TestDateTimeFormatting(t *testing.T) {
	ts := time.Date(2024, 3, 5, 9, 7, 3, 0, time.UTC)
	if got := FormatDate(ts); got != "20240305" {
		t.Errorf("unexpected date %q", got)
	}
	if got := FormatTime(ts); got != "090703" {
		t.Errorf("unexpected time %q", got)
	}
}

func TestAmounts(t *testing.T) {
	if got := FormatAmount(decimal.NewFromInt(150)); got != "150.00" {
		t.Errorf("unexpected amount %q", got)
	}
	if got := FormatAmount(decimal.RequireFromString("99.5")); got != "99.50" {
		t.Errorf("unexpected amount %q", got)
	}
	if !ParseAmount("").IsZero() || !ParseAmount("abc").IsZero() {
		t.Error("expected zero for missing or malformed amounts")
	}
	if !ParseAmount(" 20.00 ").Equal(decimal.NewFromInt(20)) {
		t.Error("expected 20")
	}
	if got := FormatQuantity(decimal.RequireFromString("2.0")); got != "2" {
		t.Errorf("unexpected quantity %q", got)
	}
}

func TestClean(t *testing.T) {
	got := Clean(" Smith*Jones:~Clinic\n", DefaultDelimiters)
	if got != "SmithJonesClinic" {
		t.Errorf("unexpected cleaned value %q", got)
	}
}
