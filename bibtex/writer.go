package bibtex

import (
	"fmt"
	"sort"
	"strings"
)

// DisplayOrder ist die feste Reihenfolge der bekannten Felder; alle übrigen
// folgen alphabetisch.
var DisplayOrder = []string{
	"author", "collaboration", "title", "publisher", "journal", "volume", "year", "pages",
	"russian",
	"archiveprefix", "primaryclass", "eprint", "doi",
	"reportnumber",
}

// BracketFields werden zusätzlich in geschweifte Klammern gesetzt.
var BracketFields = []string{"title", "www", "note", "abstract", "comment", "article", "url"}

// ExcludedFields werden nie geschrieben.
var ExcludedFields = []string{"adsnote", "adsurl", "slaccitation"}

const fieldWidth = 13

func isBracketField(name string) bool { return contains(BracketFields, name) }

func isExcludedField(name string) bool { return contains(ExcludedFields, name) }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Write serialisiert die Records in der gegebenen Reihenfolge.
func Write(records ...*Record) string {
	var sb strings.Builder
	for _, r := range records {
		writeRecord(&sb, r)
	}
	return sb.String()
}

func writeRecord(sb *strings.Builder, r *Record) {
	sb.WriteString("@")
	sb.WriteString(capitalize(r.Type))
	sb.WriteString("{")
	sb.WriteString(r.Key)

	values := r.Map()
	for _, name := range fieldOrder(r) {
		v := values[name]
		if isBracketField(name) {
			v = "{" + v + "}"
		}
		sb.WriteString(",\n ")
		sb.WriteString(fmt.Sprintf("%*s", fieldWidth, name))
		if hasBareQuote(v) {
			sb.WriteString(" = {" + v + "}")
		} else {
			sb.WriteString(` = "` + v + `"`)
		}
	}
	sb.WriteString(",\n}\n\n")
}

func fieldOrder(r *Record) []string {
	present := r.Map()
	order := make([]string, 0, len(present))
	for _, name := range DisplayOrder {
		if _, ok := present[name]; ok {
			order = append(order, name)
		}
	}
	var rest []string
	for name := range present {
		if !contains(DisplayOrder, name) && !isExcludedField(name) {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

// hasBareQuote meldet ein '"' außerhalb von Klammern, das einen Quote-Wert beenden würde.
func hasBareQuote(v string) bool {
	depth := 0
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			depth--
		case '"':
			if depth == 0 {
				return true
			}
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}
