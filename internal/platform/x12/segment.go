// Package x12 provides the delimiter-aware segment model shared by the 837P
// encoder and the 835 decoder: building segments from elements, rendering an
// interchange to text, and a tolerant parser for inbound transactions.
package x12

import (
	"fmt"
	"strings"
)

// Delimiters holds the four separator characters of an interchange.
type Delimiters struct {
	Segment    byte // segment terminator (e.g. '~' or '\n')
	Element    byte // element separator, normally '*'
	Component  byte // sub-element separator, normally ':'
	Repetition byte // repetition separator (ISA11), normally '^'
}

// DefaultDelimiters are the 5010 defaults with a newline segment terminator,
// which is how transactions are kept in textual storage.
var DefaultDelimiters = Delimiters{
	Segment:    '\n',
	Element:    '*',
	Component:  ':',
	Repetition: '^',
}

// WithTerminator returns a copy of d using t as the segment terminator.
func (d Delimiters) WithTerminator(t byte) Delimiters {
	d.Segment = t
	return d
}

// Validate reports an error if two delimiters collide or one is alphanumeric.
func (d Delimiters) Validate() error {
	chars := []byte{d.Segment, d.Element, d.Component, d.Repetition}
	seen := make(map[byte]bool, len(chars))
	for _, c := range chars {
		if c == 0 {
			return fmt.Errorf("x12: delimiter must not be empty")
		}
		if isAlnum(c) {
			return fmt.Errorf("x12: delimiter %q must not be alphanumeric", c)
		}
		if seen[c] {
			return fmt.Errorf("x12: delimiter %q used more than once", c)
		}
		seen[c] = true
	}
	return nil
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// Segment is one X12 segment: a tag followed by its elements.
// Elements[0] is element 01.
type Segment struct {
	Tag      string
	Elements []string
}

// NewSegment builds a segment from a tag and element values.
func NewSegment(tag string, elements ...string) Segment {
	return Segment{Tag: tag, Elements: elements}
}

// Element returns the 1-based element, or "" when absent.
func (s Segment) Element(n int) string {
	if n < 1 || n > len(s.Elements) {
		return ""
	}
	return s.Elements[n-1]
}

// Components splits the 1-based element on the component separator.
func (s Segment) Components(n int, d Delimiters) []string {
	v := s.Element(n)
	if v == "" {
		return nil
	}
	return strings.Split(v, string(d.Component))
}

// String renders the segment without its terminator. Trailing empty elements
// are dropped, as X12 forbids trailing element separators.
func (s Segment) String(d Delimiters) string {
	els := s.Elements
	for len(els) > 0 && els[len(els)-1] == "" {
		els = els[:len(els)-1]
	}
	if len(els) == 0 {
		return s.Tag
	}
	sep := string(d.Element)
	return s.Tag + sep + strings.Join(els, sep)
}

// Composite joins non-empty trailing parts with the component separator.
// Empty parts in the middle are kept so positions are preserved.
func Composite(d Delimiters, parts ...string) string {
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, string(d.Component))
}

// Render joins segments into wire text, terminating every segment with
// exactly one terminator character.
func Render(segments []Segment, d Delimiters) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.String(d))
		b.WriteByte(d.Segment)
	}
	return b.String()
}

// RenderLines renders each segment to a terminated string.
func RenderLines(segments []Segment, d Delimiters) []string {
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = s.String(d) + string(d.Segment)
	}
	return out
}
