package oeis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ParseError reports malformed remote content with enough context to locate
// the offending line and field. Parse failures are terminal for the record
// but never for the pass.
type ParseError struct {
	ID     RecordID
	Line   int
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: line %d, field %s: %s", e.ID, e.Line, e.Field, e.Reason)
}

// The remote "internal format" response wraps directive lines in a fixed
// header and footer. The fourth line distinguishes a real entry from an
// out-of-range query.
const foundMarker = "Showing 1-1 of 1"

var directivePattern = regexp.MustCompile(`^%(.) A([0-9]{6})(?: (.*))?$`)

// Directive value character whitelists. Numeric directives admit only digits,
// signs and separators; keywords admit only lowercase tags; free-text
// directives admit printable text. Anything else is a ParseError rather than
// a silent truncation.
var (
	numericValueChars = charset("0123456789-,")
	keywordChars      = charset("abcdefghijklmnopqrstuvwxyz0123456789,_")
)

func charset(s string) map[rune]bool {
	set := make(map[rune]bool, len(s))
	for _, r := range s {
		set[r] = true
	}
	return set
}

// ParseRecord turns one raw metadata response into a SequenceRecord. It is
// pure: no I/O, no mutation of the input. The returned record carries no
// revision or fetch timestamps; the caller owns those.
func ParseRecord(id RecordID, raw []byte) (SequenceRecord, error) {
	if !utf8.Valid(raw) {
		return SequenceRecord{}, &ParseError{ID: id, Line: 1, Field: "body", Reason: "invalid UTF-8"}
	}
	lines := strings.Split(string(raw), "\n")
	if len(lines) < 6 || strings.TrimSpace(lines[3]) != foundMarker {
		return SequenceRecord{}, &ParseError{ID: id, Line: 4, Field: "header", Reason: "response does not announce exactly one entry"}
	}

	p := entryParser{id: id}
	for n, line := range lines {
		m := directivePattern.FindStringSubmatch(line)
		if m == nil {
			continue // header, footer and blank lines
		}
		if err := p.addDirective(n+1, m[1][0], m[2], m[3]); err != nil {
			return SequenceRecord{}, err
		}
	}
	return p.build()
}

// entryParser accumulates directive lines before assembling the record.
type entryParser struct {
	id     RecordID
	order  []byte
	values map[byte][]string
	lineOf map[byte]int
}

func (p *entryParser) addDirective(line int, directive byte, idDigits, value string) error {
	got, err := strconv.ParseInt(idDigits, 10, 64)
	if err != nil || RecordID(got) != p.id {
		return &ParseError{ID: p.id, Line: line, Field: "id", Reason: fmt.Sprintf("directive names A%s, expected %s", idDigits, p.id)}
	}
	if err := checkChars(p.id, line, directive, value); err != nil {
		return err
	}
	if p.values == nil {
		p.values = make(map[byte][]string)
		p.lineOf = make(map[byte]int)
	}
	if _, seen := p.values[directive]; !seen {
		p.order = append(p.order, directive)
		p.lineOf[directive] = line
	}
	p.values[directive] = append(p.values[directive], value)
	return nil
}

func checkChars(id RecordID, line int, directive byte, value string) error {
	var allowed map[rune]bool
	switch directive {
	case 'S', 'T', 'U', 'V', 'W', 'X', 'O':
		allowed = numericValueChars
	case 'K':
		allowed = keywordChars
	}
	for _, r := range value {
		if allowed != nil {
			if !allowed[r] {
				return &ParseError{ID: id, Line: line, Field: "%" + string(directive), Reason: fmt.Sprintf("disallowed character %q", r)}
			}
			continue
		}
		// Free-text directives: printable runes only, no control characters.
		if r != '\t' && (unicode.IsControl(r) || r == utf8.RuneError) {
			return &ParseError{ID: id, Line: line, Field: "%" + string(directive), Reason: fmt.Sprintf("disallowed character %q", r)}
		}
	}
	return nil
}

func (p *entryParser) single(directive byte) (string, bool, error) {
	vals, ok := p.values[directive]
	if !ok {
		return "", false, nil
	}
	if len(vals) != 1 {
		return "", true, &ParseError{
			ID: p.id, Line: p.lineOf[directive], Field: "%" + string(directive),
			Reason: fmt.Sprintf("directive appears %d times, expected once", len(vals)),
		}
	}
	return vals[0], true, nil
}

func (p *entryParser) build() (SequenceRecord, error) {
	rec := SequenceRecord{ID: p.id}

	ident, _, err := p.single('I')
	if err != nil {
		return SequenceRecord{}, err
	}
	rec.Identification = ident

	name, ok, err := p.single('N')
	if err != nil {
		return SequenceRecord{}, err
	}
	if !ok {
		return SequenceRecord{}, &ParseError{ID: p.id, Line: 0, Field: "%N", Reason: "missing name directive"}
	}
	rec.Name = name

	terms, err := p.parseTerms()
	if err != nil {
		return SequenceRecord{}, err
	}
	rec.Terms = terms

	if err := p.parseOffset(&rec); err != nil {
		return SequenceRecord{}, err
	}
	if err := p.parseKeywords(&rec); err != nil {
		return SequenceRecord{}, err
	}

	author, _, err := p.single('A')
	if err != nil {
		return SequenceRecord{}, err
	}
	rec.Author = author

	rec.Comments = p.values['C']
	rec.References = p.values['D']
	rec.Links = p.values['H']
	rec.Formulas = p.values['F']
	rec.Examples = p.values['e']
	rec.Programs = concat(p.values['p'], p.values['t'], p.values['o'])
	rec.CrossRefs = p.values['Y']
	rec.Extensions = p.values['E']
	return rec, nil
}

// parseTerms assembles the numeric payload from the %S/%T/%U continuation
// lines, preferring the signed %V/%W/%X variant when present. A continuation
// line is only legal when its predecessor ends in a comma.
func (p *entryParser) parseTerms() ([]string, error) {
	unsigned, err := p.joinContinuation('S', 'T', 'U', true)
	if err != nil {
		return nil, err
	}
	if unsigned == nil {
		return nil, &ParseError{ID: p.id, Line: 0, Field: "%S", Reason: "missing terms directive"}
	}
	signed, err := p.joinContinuation('V', 'W', 'X', false)
	if err != nil {
		return nil, err
	}
	if signed == nil {
		return unsigned, nil
	}
	if len(signed) != len(unsigned) {
		return nil, &ParseError{
			ID: p.id, Line: p.lineOf['V'], Field: "%V",
			Reason: fmt.Sprintf("%d signed terms do not match %d unsigned terms", len(signed), len(unsigned)),
		}
	}
	for i, v := range signed {
		if strings.TrimPrefix(v, "-") != unsigned[i] {
			return nil, &ParseError{
				ID: p.id, Line: p.lineOf['V'], Field: "%V",
				Reason: fmt.Sprintf("signed term %s does not match unsigned term %s", v, unsigned[i]),
			}
		}
	}
	return signed, nil
}

func (p *entryParser) joinContinuation(first, second, third byte, unsignedOnly bool) ([]string, error) {
	parts := make([]string, 0, 3)
	prev := byte(0)
	for _, d := range []byte{first, second, third} {
		val, ok, err := p.single(d)
		if err != nil {
			return nil, err
		}
		if !ok {
			if d != first && prev != 0 && strings.HasSuffix(parts[len(parts)-1], ",") {
				return nil, &ParseError{
					ID: p.id, Line: p.lineOf[prev], Field: "%" + string(prev),
					Reason: "line ends in a comma but no continuation follows",
				}
			}
			break
		}
		if d != first {
			if prev == 0 || !strings.HasSuffix(parts[len(parts)-1], ",") {
				return nil, &ParseError{
					ID: p.id, Line: p.lineOf[d], Field: "%" + string(d),
					Reason: "continuation without a trailing comma on the previous line",
				}
			}
		}
		parts = append(parts, val)
		prev = d
	}
	if len(parts) == 0 {
		return nil, nil
	}
	joined := strings.Join(parts, "")
	if joined == "" {
		return []string{}, nil
	}
	terms := strings.Split(joined, ",")
	for _, t := range terms {
		if !validDecimal(t, unsignedOnly) {
			return nil, &ParseError{
				ID: p.id, Line: p.lineOf[first], Field: "%" + string(first),
				Reason: fmt.Sprintf("term %q is not a valid integer", t),
			}
		}
	}
	return terms, nil
}

func validDecimal(s string, unsignedOnly bool) bool {
	if !unsignedOnly {
		s = strings.TrimPrefix(s, "-")
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (p *entryParser) parseOffset(rec *SequenceRecord) error {
	val, ok, err := p.single('O')
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	fields := strings.Split(val, ",")
	if len(fields) > 2 {
		return &ParseError{ID: p.id, Line: p.lineOf['O'], Field: "%O", Reason: fmt.Sprintf("offset %q has more than two components", val)}
	}
	a, err2 := strconv.ParseInt(fields[0], 10, 64)
	if err2 != nil {
		return &ParseError{ID: p.id, Line: p.lineOf['O'], Field: "%O", Reason: fmt.Sprintf("offset %q is not numeric", val)}
	}
	rec.OffsetA = a
	if len(fields) == 2 {
		b, err2 := strconv.ParseInt(fields[1], 10, 64)
		if err2 != nil {
			return &ParseError{ID: p.id, Line: p.lineOf['O'], Field: "%O", Reason: fmt.Sprintf("offset %q is not numeric", val)}
		}
		rec.OffsetB = b
	}
	return nil
}

func (p *entryParser) parseKeywords(rec *SequenceRecord) error {
	val, ok, err := p.single('K')
	if err != nil {
		return err
	}
	if !ok {
		return &ParseError{ID: p.id, Line: 0, Field: "%K", Reason: "missing keywords directive"}
	}
	// Canonify: drop empty entries and duplicates, keep first-seen order.
	seen := make(map[string]bool)
	for _, kw := range strings.Split(val, ",") {
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		rec.Keywords = append(rec.Keywords, kw)
	}
	return nil
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
