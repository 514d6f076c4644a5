package bibtex

import (
	"fmt"
	"strings"
	"unicode"
)

// ParseError beschreibt einen fehlerhaften Record in einer Eingabe mit mehreren Records.
type ParseError struct {
	Index int
	Key   string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("record %d (%s): %s", e.Index, e.Key, e.Msg)
	}
	return fmt.Sprintf("record %d: %s", e.Index, e.Msg)
}

type parser struct {
	src    string
	pos    int
	macros map[string]string
}

type syntaxError string

// Parse liest alle Records aus text. Fehlerhafte Records werden übersprungen
// und als ParseError gemeldet, der Rest wird weiter gelesen.
// @comment- und @preamble-Blöcke werden ignoriert, @string-Makros aufgelöst.
func Parse(text string) ([]*Record, []*ParseError) {
	p := &parser{src: text, macros: map[string]string{}}
	var (
		records []*Record
		errs    []*ParseError
		index   int
	)
	for {
		at := strings.IndexByte(p.src[p.pos:], '@')
		if at < 0 {
			break
		}
		p.pos += at + 1
		start := p.pos

		typ := strings.ToLower(p.ident())
		if typ == "" {
			continue
		}
		p.skipSpace()
		if p.eof() || (p.peek() != '{' && p.peek() != '(') {
			continue
		}
		closer := byte('}')
		if p.peek() == '(' {
			closer = ')'
		}
		p.pos++

		switch typ {
		case "comment", "preamble":
			p.pos--
			if _, err := p.balanced(p.peek(), closer); err != "" {
				p.pos = start
			}
			continue
		case "string":
			if err := p.stringMacro(closer); err != "" {
				errs = append(errs, &ParseError{Index: index, Msg: string(err)})
				index++
				p.pos = start
			}
			continue
		}

		rec, err := p.record(typ, closer)
		if err != "" {
			key := ""
			if rec != nil {
				key = rec.Key
			}
			errs = append(errs, &ParseError{Index: index, Key: key, Msg: string(err)})
			p.pos = start
		} else {
			records = append(records, rec)
		}
		index++
	}
	return records, errs
}

func (p *parser) record(typ string, closer byte) (*Record, syntaxError) {
	rec := &Record{Type: typ}
	p.skipSpace()
	keyStart := p.pos
	for !p.eof() && p.peek() != ',' && p.peek() != closer && !isSpace(p.peek()) {
		p.pos++
	}
	rec.Key = p.src[keyStart:p.pos]
	p.skipSpace()
	if p.eof() {
		return rec, "unexpected end of input after key"
	}
	if p.peek() == closer {
		p.pos++
		return rec, ""
	}
	if p.peek() != ',' {
		return rec, "expected ',' after key"
	}
	p.pos++

	for {
		p.skipSpace()
		if p.eof() {
			return rec, "unterminated record"
		}
		if p.peek() == closer {
			p.pos++
			return rec, ""
		}
		name := strings.ToLower(p.fieldName())
		if name == "" {
			return rec, syntaxError(fmt.Sprintf("invalid field name at offset %d", p.pos))
		}
		p.skipSpace()
		if p.eof() || p.peek() != '=' {
			return rec, syntaxError(fmt.Sprintf("expected '=' after field %q", name))
		}
		p.pos++
		value, err := p.value()
		if err != "" {
			return rec, syntaxError(fmt.Sprintf("field %q: %s", name, err))
		}
		if isBracketField(name) {
			value = stripOuterGroup(value)
		}
		rec.Set(name, value)

		p.skipSpace()
		if p.eof() {
			return rec, "unterminated record"
		}
		switch p.peek() {
		case ',':
			p.pos++
		case closer:
			p.pos++
			return rec, ""
		default:
			return rec, syntaxError(fmt.Sprintf("unexpected %q after field %q", p.peek(), name))
		}
	}
}

func (p *parser) stringMacro(closer byte) syntaxError {
	p.skipSpace()
	name := strings.ToLower(p.fieldName())
	if name == "" {
		return "invalid @string name"
	}
	p.skipSpace()
	if p.eof() || p.peek() != '=' {
		return "expected '=' in @string"
	}
	p.pos++
	value, err := p.value()
	if err != "" {
		return err
	}
	p.skipSpace()
	if p.eof() || p.peek() != closer {
		return "unterminated @string"
	}
	p.pos++
	p.macros[name] = value
	return ""
}

// value liest einen ggf. mit # verketteten Feldwert.
func (p *parser) value() (string, syntaxError) {
	var sb strings.Builder
	for {
		p.skipSpace()
		if p.eof() {
			return "", "missing value"
		}
		switch c := p.peek(); {
		case c == '{':
			part, err := p.balanced('{', '}')
			if err != "" {
				return "", err
			}
			sb.WriteString(part)
		case c == '"':
			part, err := p.quoted()
			if err != "" {
				return "", err
			}
			sb.WriteString(part)
		case isTokenChar(c):
			tok := p.token()
			if m, ok := p.macros[strings.ToLower(tok)]; ok {
				sb.WriteString(m)
			} else {
				sb.WriteString(tok)
			}
		default:
			return "", syntaxError(fmt.Sprintf("unexpected %q in value", c))
		}
		p.skipSpace()
		if !p.eof() && p.peek() == '#' {
			p.pos++
			continue
		}
		return sb.String(), ""
	}
}

// balanced liest von open bis zum passenden closer und liefert den Inhalt dazwischen.
func (p *parser) balanced(open, closer byte) (string, syntaxError) {
	p.pos++
	start := p.pos
	depth := 1
	for !p.eof() {
		switch p.peek() {
		case '\\':
			p.pos++
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				inner := p.src[start:p.pos]
				p.pos++
				return inner, ""
			}
		}
		p.pos++
	}
	return "", "unbalanced braces"
}

func (p *parser) quoted() (string, syntaxError) {
	p.pos++
	start := p.pos
	depth := 0
	for !p.eof() {
		switch p.peek() {
		case '\\':
			p.pos++
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return "", "unbalanced braces in quoted value"
			}
		case '"':
			if depth == 0 {
				inner := p.src[start:p.pos]
				p.pos++
				return inner, ""
			}
		}
		p.pos++
	}
	return "", "unterminated quoted value"
}

func (p *parser) ident() string {
	start := p.pos
	for !p.eof() && (unicode.IsLetter(rune(p.peek())) || p.peek() == '_') {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) fieldName() string {
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if isSpace(c) || c == '=' || c == ',' || c == '{' || c == '}' || c == '"' || c == '(' || c == ')' {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) token() string {
	start := p.pos
	for !p.eof() && isTokenChar(p.peek()) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() && isSpace(p.peek()) {
		p.pos++
	}
}

func (p *parser) eof() bool  { return p.pos >= len(p.src) }
func (p *parser) peek() byte { return p.src[p.pos] }

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isTokenChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == '.' || c == ':' || c == '/' || c == '+'
}

// stripOuterGroup entfernt eine einzelne Klammergruppe, die den ganzen Wert umschließt.
func stripOuterGroup(v string) string {
	if len(v) < 2 || v[0] != '{' || v[len(v)-1] != '}' {
		return v
	}
	depth := 0
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 && i != len(v)-1 {
				return v
			}
		}
	}
	if depth != 0 {
		return v
	}
	return v[1 : len(v)-1]
}
