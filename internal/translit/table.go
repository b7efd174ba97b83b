// Package translit substitutes Unicode text with TeX-safe escape sequences.
package translit

import "sort"

// accent is a TeX accent command applied to a base glyph. Punctuation
// commands (\' \" \^ ...) attach directly to a single letter (\'e); letter
// commands (\v \c \k ...) always brace their argument (\v{s}).
type accent struct {
	cmd    string
	braced bool
}

// Table is the static codepoint-to-escape mapping. Built once, read-only for
// the process lifetime.
type Table struct {
	// specials are ASCII characters with reserved meaning in TeX.
	specials map[rune]string

	// singles are standalone non-ASCII codepoints with a dedicated escape.
	singles map[rune]string

	// combining maps Unicode combining marks to accent commands.
	combining map[rune]accent

	// commands holds every command string the table can emit, longest
	// first. The scanner uses it to recognize its own output and copy it
	// verbatim, which is what makes transliteration idempotent.
	commands []string
}

// DefaultTable returns the standard mapping.
func DefaultTable() *Table {
	t := &Table{
		specials: map[rune]string{
			'\\': `\textbackslash{}`,
			'~':  `\textasciitilde{}`,
			'^':  `\textasciicircum{}`,
			'#':  `\#`,
			'$':  `\$`,
			'%':  `\%`,
			'&':  `\&`,
			'_':  `\_`,
			'{':  `\{`,
			'}':  `\}`,
		},
		singles: map[rune]string{
			'ł':      `\l{}`,
			'Ł':      `\L{}`,
			'ø':      `\o{}`,
			'Ø':      `\O{}`,
			'ı':      `\i{}`,
			'ß':      `\ss{}`,
			'æ':      `\ae{}`,
			'Æ':      `\AE{}`,
			'œ':      `\oe{}`,
			'Œ':      `\OE{}`,
			'ð':      `\dh{}`,
			'Ð':      `\DH{}`,
			'đ':      `\dj{}`,
			'Đ':      `\DJ{}`,
			'þ':      `\th{}`,
			'Þ':      `\TH{}`,
			'§':      `\S{}`,
			'¶':      `\P{}`,
			'†':      `\dag{}`,
			'‡':      `\ddag{}`,
			'©':      `\copyright{}`,
			'£':      `\pounds{}`,
			'°':      `\textdegree{}`,
			'·':      `\textperiodcentered{}`,
			'×':      `\texttimes{}`,
			'÷':      `\textdiv{}`,
			'±':      `\textpm{}`,
			'€':      `\texteuro{}`,
			'–':      `--`,
			'—':      `---`,
			'‘':      "`",
			'’':      "'",
			'“':      "``",
			'”':      "''",
		},
		combining: map[rune]accent{
			'̀': {cmd: "`"},          // grave
			'́': {cmd: "'"},          // acute
			'̂': {cmd: "^"},          // circumflex
			'̃': {cmd: "~"},          // tilde
			'̄': {cmd: "="},          // macron
			'̆': {cmd: "u", braced: true}, // breve
			'̇': {cmd: "."},          // dot above
			'̈': {cmd: `"`},          // diaeresis
			'̊': {cmd: "r", braced: true}, // ring
			'̋': {cmd: "H", braced: true}, // double acute
			'̌': {cmd: "v", braced: true}, // caron
			'̣': {cmd: "d", braced: true}, // dot below
			'̧': {cmd: "c", braced: true}, // cedilla
			'̨': {cmd: "k", braced: true}, // ogonek
			'̱': {cmd: "b", braced: true}, // macron below
		},
	}

	cmds := map[string]bool{}
	for _, esc := range t.specials {
		cmds[commandOf(esc)] = true
	}
	for _, esc := range t.singles {
		if cmd := commandOf(esc); cmd != "" {
			cmds[cmd] = true
		}
	}
	for _, a := range t.combining {
		cmds[`\`+a.cmd] = true
	}
	for cmd := range cmds {
		t.commands = append(t.commands, cmd)
	}
	// Longest match first.
	sort.Slice(t.commands, func(i, j int) bool {
		if len(t.commands[i]) != len(t.commands[j]) {
			return len(t.commands[i]) > len(t.commands[j])
		}
		return t.commands[i] < t.commands[j]
	})

	return t
}

// commandOf extracts the command part of an escape string: everything up to
// the brace group. Escapes that are plain text (like "--" for an en dash)
// have no command.
func commandOf(esc string) string {
	if len(esc) == 0 || esc[0] != '\\' {
		return ""
	}
	// Two-byte escapes like \{ are the whole command; the brace is the
	// escaped character, not an argument group.
	if len(esc) == 2 {
		return esc
	}
	for i := 1; i < len(esc); i++ {
		if esc[i] == '{' {
			return esc[:i]
		}
	}
	return esc
}
