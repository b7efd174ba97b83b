package translit

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/matsen/bibfill/internal/csl"
)

// Warning reports a codepoint that has no table mapping. The character is
// passed through as-is; the output is still produced.
type Warning struct {
	Field     string
	Codepoint rune
}

// Transliterator rewrites text into TeX-safe form: NFKC normalization, then
// codepoint-by-codepoint substitution from the table. Escape sequences the
// engine emits are recognized on re-scan and copied verbatim, so applying
// the transliteration to its own output is a no-op.
type Transliterator struct {
	table *Table

	// groupCmds are commands that take a braced argument; the scanner
	// copies the following balanced group verbatim for these.
	groupCmds map[string]bool
}

// New creates a Transliterator. A nil table selects the default mapping.
func New(table *Table) *Transliterator {
	if table == nil {
		table = DefaultTable()
	}
	t := &Transliterator{table: table, groupCmds: make(map[string]bool)}
	for _, a := range table.combining {
		t.groupCmds[`\`+a.cmd] = true
	}
	for _, cmd := range table.commands {
		if letterCmd(cmd) {
			t.groupCmds[cmd] = true
		}
	}
	return t
}

// String transliterates a single text value. It returns the rewritten string
// and the codepoints that had no mapping.
func (t *Transliterator) String(s string) (string, []rune) {
	s = norm.NFKC.String(s)

	var b strings.Builder
	var unmapped []rune

	// pending holds the most recent glyph (a plain character or a complete
	// escape). Combining marks wrap it instead of appending.
	pending := ""
	flush := func() {
		b.WriteString(pending)
		pending = ""
	}

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])

		if r == '\\' {
			if seq := t.matchEscape(s[i:]); seq != "" {
				flush()
				pending = seq
				i += len(seq)
				continue
			}
		}

		if esc, ok := t.table.specials[r]; ok {
			flush()
			pending = esc
			i += size
			continue
		}

		if r < utf8.RuneSelf {
			flush()
			pending = string(r)
			i += size
			continue
		}

		if acc, ok := t.table.combining[r]; ok {
			if pending == "" {
				unmapped = append(unmapped, r)
				b.WriteRune(r)
			} else {
				pending = wrapAccent(acc, pending)
			}
			i += size
			continue
		}

		if esc, ok := t.table.singles[r]; ok {
			flush()
			pending = esc
			i += size
			continue
		}

		if g, ok := t.decompose(r); ok {
			flush()
			pending = g
			i += size
			continue
		}

		unmapped = append(unmapped, r)
		flush()
		pending = string(r)
		i += size
	}
	flush()

	return b.String(), unmapped
}

// matchEscape returns the escape sequence at the start of s when s begins
// with a command the table can emit, including any braced argument. A
// letter-terminated command is only ever emitted with a brace group; bare,
// it is input text and the backslash gets escaped like any other. Returns ""
// when s is not a known sequence.
func (t *Transliterator) matchEscape(s string) string {
	for _, cmd := range t.table.commands {
		if !strings.HasPrefix(s, cmd) {
			continue
		}
		if t.groupCmds[cmd] {
			rest := s[len(cmd):]
			if len(rest) > 0 && rest[0] == '{' {
				if close := balancedGroup(rest); close > 0 {
					return s[:len(cmd)+close]
				}
			}
			if letterCmd(cmd) {
				continue
			}
		}
		return cmd
	}
	return ""
}

func letterCmd(cmd string) bool {
	c := cmd[len(cmd)-1]
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// balancedGroup returns the length of the brace group at the start of s, or
// 0 when the group never closes.
func balancedGroup(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return 0
}

// decompose breaks a codepoint into base + combining marks (NFD) and
// rebuilds it from accent commands. Covers the precomposed Latin range
// without enumerating it.
func (t *Transliterator) decompose(r rune) (string, bool) {
	d := norm.NFD.String(string(r))
	runes := []rune(d)
	if len(runes) < 2 {
		return "", false
	}

	var g string
	base := runes[0]
	switch {
	case base < utf8.RuneSelf && isASCIIAlnum(byte(base)):
		g = string(base)
	default:
		esc, ok := t.table.singles[base]
		if !ok {
			return "", false
		}
		g = esc
	}

	for _, mark := range runes[1:] {
		acc, ok := t.table.combining[mark]
		if !ok {
			return "", false
		}
		g = wrapAccent(acc, g)
	}
	return g, true
}

// wrapAccent applies an accent command to a glyph. Punctuation accents on a
// bare letter attach directly (\'e); everything else braces the argument.
func wrapAccent(acc accent, inner string) string {
	if !acc.braced && len(inner) == 1 && isASCIIAlnum(inner[0]) {
		return `\` + acc.cmd + inner
	}
	return `\` + acc.cmd + `{` + inner + `}`
}

func isASCIIAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// Entry transliterates every text-bearing field value of an entry. Literal
// values are verbatim by contract and structured dates carry no text; both
// pass through untouched. The input entry is not mutated.
func (t *Transliterator) Entry(e csl.Entry) (csl.Entry, []Warning) {
	var warnings []Warning
	out := e
	out.Fields = make(csl.FieldList, len(e.Fields))

	for i, f := range e.Fields {
		v, runes := t.value(f.Value)
		out.Fields[i] = csl.Field{Name: f.Name, Value: v}
		for _, r := range runes {
			warnings = append(warnings, Warning{Field: f.Name, Codepoint: r})
		}
	}
	return out, warnings
}

func (t *Transliterator) value(v csl.FieldValue) (csl.FieldValue, []rune) {
	switch v := v.(type) {
	case csl.PlainText:
		s, unmapped := t.String(string(v))
		return csl.PlainText(s), unmapped

	case csl.RichText:
		var unmapped []rune
		out := make(csl.RichText, len(v))
		for i, span := range v {
			s, u := t.String(span.Text)
			out[i] = csl.Span{Text: s, Style: span.Style}
			unmapped = append(unmapped, u...)
		}
		return out, unmapped

	case csl.NameList:
		var unmapped []rune
		out := make(csl.NameList, len(v))
		for i, n := range v {
			var u []rune
			var m csl.Name
			m.Family, u = t.String(n.Family)
			unmapped = append(unmapped, u...)
			m.Given, u = t.String(n.Given)
			unmapped = append(unmapped, u...)
			m.Literal, u = t.String(n.Literal)
			unmapped = append(unmapped, u...)
			out[i] = m
		}
		return out, unmapped

	default:
		return v, nil
	}
}
