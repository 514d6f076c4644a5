package bibtex

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// accentCommands bildet kombinierende Zeichen (NFD) auf LaTeX-Akzentbefehle ab.
var accentCommands = map[rune]string{
	'\u0300': "`",
	'\u0301': "'",
	'\u0302': "^",
	'\u0303': "~",
	'\u0304': "=",
	'\u0306': "u",
	'\u0307': ".",
	'\u0308': `"`,
	'\u030A': "r",
	'\u030B': "H",
	'\u030C': "v",
	'\u0323': "d",
	'\u0327': "c",
	'\u0328': "k",
}

var specialChars = map[rune]string{
	'ß':      `{\ss}`,
	'ø':      `{\o}`,
	'Ø':      `{\O}`,
	'æ':      `{\ae}`,
	'Æ':      `{\AE}`,
	'œ':      `{\oe}`,
	'Œ':      `{\OE}`,
	'å':      `{\aa}`,
	'Å':      `{\AA}`,
	'ł':      `{\l}`,
	'Ł':      `{\L}`,
	'ı':      `{\i}`,
	'–':      "--",
	'—':      "---",
	'‘':      "`",
	'’':      "'",
	'“':      "``",
	'”':      "''",
	'\u00A0': "~",
	'…':      `{\ldots}`,
	'§':      `{\S}`,
	'¡':      "!`",
	'¿':      "?`",
}

// Latexify ersetzt bekannte Nicht-ASCII-Zeichen durch LaTeX-Befehle.
// Unbekannte Zeichen bleiben erhalten. changed meldet, ob etwas ersetzt wurde.
func Latexify(s string) (out string, changed bool) {
	if isASCII(s) {
		return s, false
	}
	s = norm.NFC.String(s)
	var sb strings.Builder
	for _, r := range s {
		if r < utf8.RuneSelf {
			sb.WriteRune(r)
			continue
		}
		if rep, ok := specialChars[r]; ok {
			sb.WriteString(rep)
			changed = true
			continue
		}
		if rep, ok := accented(r); ok {
			sb.WriteString(rep)
			changed = true
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String(), changed
}

func accented(r rune) (string, bool) {
	parts := []rune(norm.NFD.String(string(r)))
	if len(parts) < 2 || parts[0] >= utf8.RuneSelf {
		return "", false
	}
	inner := string(parts[0])
	if parts[0] == 'i' || parts[0] == 'j' {
		inner = `\` + inner
	}
	for _, mark := range parts[1:] {
		cmd, ok := accentCommands[mark]
		if !ok {
			return "", false
		}
		inner = applyAccent(cmd, inner)
	}
	return "{" + inner + "}", true
}

func applyAccent(cmd, inner string) string {
	letterCmd := cmd[0] >= 'a' && cmd[0] <= 'z' || cmd[0] >= 'A' && cmd[0] <= 'Z'
	if !letterCmd && len(inner) == 1 {
		return `\` + cmd + inner
	}
	return `\` + cmd + "{" + inner + "}"
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
