package oeis

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// entryBody builds a response in the remote internal format around the given
// directive lines.
func entryBody(id RecordID, directives ...string) []byte {
	var b strings.Builder
	b.WriteString("# Greetings from The On-Line Encyclopedia of Integer Sequences! http://oeis.org/\n")
	b.WriteString("\n")
	fmt.Fprintf(&b, "Search: id:a%06d\n", int64(id))
	b.WriteString("Showing 1-1 of 1\n")
	b.WriteString("\n")
	for _, d := range directives {
		b.WriteString(d)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString("# Content is available under The OEIS End-User License Agreement: http://oeis.org/LICENSE\n")
	return []byte(b.String())
}

func TestParseRecord_FullEntry(t *testing.T) {
	t.Parallel()
	raw := entryBody(45,
		"%I A000045 M0692 N0256",
		"%S A000045 0,1,1,2,3,5,8,13,21,34,55,89,144,",
		"%T A000045 233,377,610,987",
		"%N A000045 Fibonacci numbers: F(n) = F(n-1) + F(n-2) with F(0) = 0 and F(1) = 1.",
		"%C A000045 Also sometimes called Lame's sequence.",
		"%C A000045 F(n+2) = number of binary sequences of length n that have no consecutive 0's.",
		"%D A000045 V. E. Hoggatt, Jr., Fibonacci and Lucas Numbers. Houghton, Boston, MA, 1969.",
		"%H A000045 N. J. A. Sloane, <a href=\"/A000045/b000045.txt\">Table of n, a(n) for n = 0..2000</a>",
		"%F A000045 F(n) = ((1+sqrt(5))^n - (1-sqrt(5))^n)/(2^n*sqrt(5)).",
		"%Y A000045 Cf. A000032, A000204.",
		"%K A000045 core,nonn,nice,easy,core",
		"%O A000045 0,4",
		"%A A000045 _N. J. A. Sloane_, 1964",
	)

	rec, err := ParseRecord(45, raw)
	require.NoError(t, err)

	assert.Equal(t, RecordID(45), rec.ID)
	assert.Equal(t, "M0692 N0256", rec.Identification)
	assert.Equal(t, "Fibonacci numbers: F(n) = F(n-1) + F(n-2) with F(0) = 0 and F(1) = 1.", rec.Name)
	assert.Equal(t, []string{
		"0", "1", "1", "2", "3", "5", "8", "13", "21", "34", "55", "89", "144",
		"233", "377", "610", "987",
	}, rec.Terms)
	assert.Len(t, rec.Comments, 2)
	assert.Len(t, rec.References, 1)
	assert.Len(t, rec.Links, 1)
	assert.Len(t, rec.Formulas, 1)
	assert.Equal(t, []string{"Cf. A000032, A000204."}, rec.CrossRefs)
	// Duplicate "core" keyword is dropped, order preserved.
	assert.Equal(t, []string{"core", "nonn", "nice", "easy"}, rec.Keywords)
	assert.Equal(t, int64(0), rec.OffsetA)
	assert.Equal(t, int64(4), rec.OffsetB)
	assert.Equal(t, "_N. J. A. Sloane_, 1964", rec.Author)
}

func TestParseRecord_SignedTermsPreferred(t *testing.T) {
	t.Parallel()
	raw := entryBody(91,
		"%I A000091",
		"%S A000091 1,2,4,6",
		"%V A000091 1,-2,4,-6",
		"%N A000091 A signed test sequence.",
		"%K A000091 sign",
		"%O A000091 1,2",
	)
	rec, err := ParseRecord(91, raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "-2", "4", "-6"}, rec.Terms)
}

func TestParseRecord_SignedMagnitudeMismatch(t *testing.T) {
	t.Parallel()
	raw := entryBody(91,
		"%I A000091",
		"%S A000091 1,2,4",
		"%V A000091 1,-2,5",
		"%N A000091 Broken signed variant.",
		"%K A000091 sign",
	)
	_, err := ParseRecord(91, raw)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "%V", perr.Field)
}

func TestParseRecord_NotFoundHeader(t *testing.T) {
	t.Parallel()
	raw := []byte("# Greetings from The On-Line Encyclopedia of Integer Sequences! http://oeis.org/\n\nSearch: id:a999999\nShowing 1-0 of 0\n\n")
	_, err := ParseRecord(999999, raw)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 4, perr.Line)
	assert.Equal(t, "header", perr.Field)
}

func TestParseRecord_IDMismatch(t *testing.T) {
	t.Parallel()
	raw := entryBody(45,
		"%S A000046 1,2,3",
		"%N A000046 Wrong id inside the body.",
		"%K A000046 nonn",
	)
	_, err := ParseRecord(45, raw)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "id", perr.Field)
	assert.Equal(t, 6, perr.Line)
}

func TestParseRecord_DisallowedCharacter(t *testing.T) {
	t.Parallel()
	raw := entryBody(45,
		"%S A000045 1,2,x3",
		"%N A000045 Letters in the term list.",
		"%K A000045 nonn",
	)
	_, err := ParseRecord(45, raw)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "%S", perr.Field)
	assert.Contains(t, perr.Reason, "'x'")
}

func TestParseRecord_ControlCharacterInText(t *testing.T) {
	t.Parallel()
	raw := entryBody(45,
		"%S A000045 1,2,3",
		"%N A000045 Name with a bell \x07 in it.",
		"%K A000045 nonn",
	)
	_, err := ParseRecord(45, raw)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "%N", perr.Field)
}

func TestParseRecord_ContinuationRequiresComma(t *testing.T) {
	t.Parallel()
	raw := entryBody(45,
		"%S A000045 1,2,3",
		"%T A000045 4,5,6",
		"%N A000045 Continuation without trailing comma.",
		"%K A000045 nonn",
	)
	_, err := ParseRecord(45, raw)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "%T", perr.Field)
}

func TestParseRecord_DanglingComma(t *testing.T) {
	t.Parallel()
	raw := entryBody(45,
		"%S A000045 1,2,3,",
		"%N A000045 Trailing comma with no continuation.",
		"%K A000045 nonn",
	)
	_, err := ParseRecord(45, raw)
	require.Error(t, err)
}

func TestParseRecord_MissingMandatoryDirectives(t *testing.T) {
	t.Parallel()
	for name, directives := range map[string][]string{
		"no name":     {"%S A000045 1,2,3", "%K A000045 nonn"},
		"no terms":    {"%N A000045 A name.", "%K A000045 nonn"},
		"no keywords": {"%S A000045 1,2,3", "%N A000045 A name."},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRecord(45, entryBody(45, directives...))
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
		})
	}
}

func TestParseRecord_DuplicateSingletonDirective(t *testing.T) {
	t.Parallel()
	raw := entryBody(45,
		"%S A000045 1,2,3",
		"%N A000045 First name.",
		"%N A000045 Second name.",
		"%K A000045 nonn",
	)
	_, err := ParseRecord(45, raw)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "%N", perr.Field)
}

func TestParseAttachment_Valid(t *testing.T) {
	t.Parallel()
	raw := []byte("# b-file for A000045\n# generated remotely\n0 0\n1 1\n2 1\n3 2\n4 3\n\n")
	att, err := ParseAttachment(45, raw)
	require.NoError(t, err)
	assert.Equal(t, int64(0), att.Lo)
	assert.Equal(t, int64(4), att.Hi)
	require.Len(t, att.Rows, 5)
	assert.Equal(t, AttachmentRow{Index: 3, Value: "2"}, att.Rows[3])
	assert.NoError(t, att.Validate())
}

func TestParseAttachment_HugeValues(t *testing.T) {
	t.Parallel()
	// Values beyond int64 must survive untouched.
	raw := []byte("1 170141183460469231731687303715884105727\n2 -340282366920938463463374607431768211456\n")
	att, err := ParseAttachment(7, raw)
	require.NoError(t, err)
	assert.Equal(t, "170141183460469231731687303715884105727", att.Rows[0].Value)
	assert.Equal(t, "-340282366920938463463374607431768211456", att.Rows[1].Value)
}

func TestParseAttachment_GappedIndices(t *testing.T) {
	t.Parallel()
	raw := []byte("1 1\n2 4\n4 16\n")
	_, err := ParseAttachment(7, raw)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.Line)
	assert.Contains(t, perr.Reason, "expected 3")
}

func TestParseAttachment_NonIncreasingIndices(t *testing.T) {
	t.Parallel()
	raw := []byte("3 9\n2 4\n")
	_, err := ParseAttachment(7, raw)
	require.Error(t, err)
}

func TestParseAttachment_MalformedRow(t *testing.T) {
	t.Parallel()
	raw := []byte("1 1\ntwo 4\n")
	_, err := ParseAttachment(7, raw)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Line)
}

func TestParseAttachment_Empty(t *testing.T) {
	t.Parallel()
	_, err := ParseAttachment(7, []byte("# only comments\n\n"))
	require.Error(t, err)
}

func TestParseError_IsError(t *testing.T) {
	t.Parallel()
	err := error(&ParseError{ID: 45, Line: 3, Field: "%S", Reason: "bad"})
	assert.Equal(t, "parse A000045: line 3, field %S: bad", err.Error())
	var perr *ParseError
	assert.True(t, errors.As(err, &perr))
}
