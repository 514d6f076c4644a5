package bibtex

import (
	"regexp"
	"strings"
)

var lineBreak = regexp.MustCompile(`\s*\n\s*`)

// StripComments entfernt leere Zeilen und Zeilen, die mit % beginnen.
func StripComments(text string) string {
	var sb strings.Builder
	for _, line := range strings.Split(text, "\n") {
		l := strings.TrimSpace(line)
		if l == "" || l[0] == '%' {
			continue
		}
		sb.WriteString(strings.TrimRight(line, "\r"))
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// CollapseLineBreaks ersetzt Zeilenumbrüche in Feldwerten durch ein Leerzeichen.
func CollapseLineBreaks(r *Record) {
	for i := range r.Fields {
		r.Fields[i].Value = strings.TrimSpace(lineBreak.ReplaceAllString(r.Fields[i].Value, " "))
	}
}

// Transliterate ersetzt Nicht-ASCII-Zeichen in allen Feldwerten.
func Transliterate(r *Record) bool {
	changed := false
	for i := range r.Fields {
		v, ok := Latexify(r.Fields[i].Value)
		if ok {
			r.Fields[i].Value = v
			changed = true
		}
	}
	return changed
}

// Canonical liefert die gespeicherte Form eines einzelnen Records.
func Canonical(r *Record) string {
	c := r.Clone()
	CollapseLineBreaks(c)
	return StripComments(Write(c))
}

// Result ist das Ergebnis von Normalize.
type Result struct {
	Text           string
	Records        []*Record
	Errors         []*ParseError
	Transliterated []string
}

// Normalize parst text, bereinigt jeden Record und schreibt ihn kanonisch.
// Normalize(Normalize(x).Text).Text == Normalize(x).Text.
func Normalize(text string) Result {
	records, errs := Parse(text)
	res := Result{Records: records, Errors: errs}
	parts := make([]string, 0, len(records))
	for _, r := range records {
		CollapseLineBreaks(r)
		if Transliterate(r) {
			res.Transliterated = append(res.Transliterated, r.Key)
		}
		parts = append(parts, Canonical(r))
	}
	res.Text = strings.Join(parts, "\n")
	return res
}

// ReplaceKey setzt den Schlüssel im gespeicherten Text neu.
func ReplaceKey(text, key string) (string, error) {
	records, errs := Parse(text)
	if len(errs) > 0 {
		return "", errs[0]
	}
	if len(records) == 0 {
		return "", &ParseError{Msg: "no record found"}
	}
	r := records[0]
	r.Key = key
	return Canonical(r), nil
}
