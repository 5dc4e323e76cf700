package x12

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DateFormat      = "20060102" // CCYYMMDD
	TimeFormat      = "150405"   // HHMMSS
	ShortDateFormat = "060102"   // YYMMDD, ISA09
	ShortTimeFormat = "1504"     // HHMM, ISA10
)

// PadRight left-aligns s in a field of width characters, truncating when
// longer. Used for the fixed-width ISA identifiers.
func PadRight(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

// ZeroPad formats n right-aligned with leading zeros to width digits.
func ZeroPad(n int64, width int) string {
	return fmt.Sprintf("%0*d", width, n)
}

// FormatDate renders t as CCYYMMDD.
func FormatDate(t time.Time) string {
	return t.Format(DateFormat)
}

// FormatTime renders t as HHMMSS.
func FormatTime(t time.Time) string {
	return t.Format(TimeFormat)
}

// FormatAmount renders a monetary amount with exactly two decimal places.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FormatQuantity renders a unit count without trailing zeros.
func FormatQuantity(d decimal.Decimal) string {
	return d.String()
}

// ParseAmount reads a numeric element, returning zero when it is missing or
// malformed.
func ParseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Clean strips characters that would collide with the delimiters from a free
// text value before it is placed in an element.
func Clean(s string, d Delimiters) string {
	if s == "" {
		return s
	}
	return strings.Map(func(r rune) rune {
		switch byte(r) {
		case d.Element, d.Component, d.Repetition, d.Segment:
			if r < 128 {
				return -1
			}
		}
		if r == '\r' || r == '\n' || r == '~' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
