package oeis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var bfileRowPattern = regexp.MustCompile(`^(-?[0-9]+)[ \t]+(-?[0-9]+)$`)

// ParseAttachment turns a raw b-file response into an Attachment. Comment
// lines (leading '#') and blank lines are skipped. Each remaining line must
// be an "index value" pair, and indices must form a contiguous strictly
// increasing run; malformed input is a ParseError, never silently repaired.
func ParseAttachment(id RecordID, raw []byte) (Attachment, error) {
	if !utf8.Valid(raw) {
		return Attachment{}, &ParseError{ID: id, Line: 1, Field: "b-file", Reason: "invalid UTF-8"}
	}
	att := Attachment{ID: id}
	for n, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := bfileRowPattern.FindStringSubmatch(line)
		if m == nil {
			return Attachment{}, &ParseError{ID: id, Line: n + 1, Field: "b-file", Reason: fmt.Sprintf("row %q is not an index/value pair", line)}
		}
		index, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return Attachment{}, &ParseError{ID: id, Line: n + 1, Field: "b-file", Reason: fmt.Sprintf("index %q overflows", m[1])}
		}
		if len(att.Rows) > 0 && index != att.Hi+1 {
			return Attachment{}, &ParseError{ID: id, Line: n + 1, Field: "b-file", Reason: fmt.Sprintf("index %d follows %d, expected %d", index, att.Hi, att.Hi+1)}
		}
		if len(att.Rows) == 0 {
			att.Lo = index
		}
		att.Hi = index
		att.Rows = append(att.Rows, AttachmentRow{Index: index, Value: m[2]})
	}
	if len(att.Rows) == 0 {
		return Attachment{}, &ParseError{ID: id, Line: 1, Field: "b-file", Reason: "no data rows"}
	}
	return att, nil
}
