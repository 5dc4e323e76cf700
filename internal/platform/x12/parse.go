package x12

import (
	"strings"
)

// isaLength is the fixed length of an ISA segment including its terminator.
const isaLength = 106

// Interchange is a parsed run of segments with the delimiters used to read it.
type Interchange struct {
	Delimiters Delimiters
	Segments   []Segment
}

// DetectDelimiters reads the separators from a fixed-width ISA header. When
// the text does not start with a well-formed ISA, fallback is returned.
func DetectDelimiters(raw string, fallback Delimiters) (Delimiters, bool) {
	text := strings.TrimLeft(raw, " \t\r\n")
	if len(text) < isaLength || !strings.HasPrefix(text, "ISA") {
		return fallback, false
	}
	d := Delimiters{
		Element:    text[3],
		Repetition: text[82],
		Component:  text[104],
		Segment:    text[105],
	}
	// ISA11 is a plain "U" in pre-5010 interchanges.
	if isAlnum(d.Repetition) {
		d.Repetition = fallback.Repetition
	}
	if d.Validate() != nil {
		return fallback, false
	}
	return d, true
}

// Parse splits raw text into segments. It never fails: delimiters are taken
// from the ISA header when present, otherwise from fallback, and both '~' and
// line breaks are accepted as terminators in the fallback case. Blank
// segments are skipped.
func Parse(raw string, fallback Delimiters) *Interchange {
	d, fromHeader := DetectDelimiters(raw, fallback)

	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var parts []string
	if fromHeader && d.Segment != '\n' {
		parts = strings.Split(text, string(d.Segment))
	} else {
		parts = strings.FieldsFunc(text, func(r rune) bool {
			return r == '\n' || r == '~' || byte(r) == d.Segment
		})
	}

	ic := &Interchange{Delimiters: d}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ic.Segments = append(ic.Segments, parseSegment(p, d))
	}
	return ic
}

func parseSegment(line string, d Delimiters) Segment {
	fields := strings.Split(line, string(d.Element))
	seg := Segment{Tag: strings.TrimSpace(fields[0])}
	if len(fields) > 1 {
		seg.Elements = fields[1:]
	}
	return seg
}

// GetSegment returns the first segment with the given tag, or nil.
func (ic *Interchange) GetSegment(tag string) *Segment {
	for i := range ic.Segments {
		if ic.Segments[i].Tag == tag {
			return &ic.Segments[i]
		}
	}
	return nil
}

// GetSegments returns all segments with the given tag in order.
func (ic *Interchange) GetSegments(tag string) []Segment {
	var out []Segment
	for _, s := range ic.Segments {
		if s.Tag == tag {
			out = append(out, s)
		}
	}
	return out
}
