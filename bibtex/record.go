// Package bibtex liest und schreibt BibTeX-Records in der kanonischen Form
// der Datenbank.
package bibtex

import "strings"

// Field ist ein einzelnes Feld eines Records.
type Field struct {
	Name  string
	Value string
}

// Record ist ein geparster BibTeX-Eintrag. Type und Feldnamen sind klein geschrieben,
// die Feldreihenfolge entspricht dem Eingabetext.
type Record struct {
	Type   string
	Key    string
	Fields []Field
}

// Get liefert den Wert eines Feldes.
func (r *Record) Get(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Value liefert den Feldwert oder "".
func (r *Record) Value(name string) string {
	v, _ := r.Get(name)
	return v
}

// Set überschreibt ein vorhandenes Feld oder hängt es an.
func (r *Record) Set(name, value string) {
	name = strings.ToLower(name)
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			r.Fields[i].Value = value
			return
		}
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: value})
}

// Delete entfernt ein Feld.
func (r *Record) Delete(name string) {
	name = strings.ToLower(name)
	out := r.Fields[:0]
	for _, f := range r.Fields {
		if f.Name != name {
			out = append(out, f)
		}
	}
	r.Fields = out
}

// Map liefert die Felder als Map.
func (r *Record) Map() map[string]string {
	m := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		m[f.Name] = f.Value
	}
	return m
}

// Clone liefert eine tiefe Kopie.
func (r *Record) Clone() *Record {
	c := &Record{Type: r.Type, Key: r.Key, Fields: make([]Field, len(r.Fields))}
	copy(c.Fields, r.Fields)
	return c
}

// MergeRecords kombiniert old und new: Felder nur in new werden ergänzt,
// abweichende nicht-leere Werte aus new überschreiben old, Felder nur in old
// bleiben erhalten. Key und das Feld "bibtex" werden nie übernommen.
func MergeRecords(old, new *Record) *Record {
	out := old.Clone()
	if new.Type != "" {
		out.Type = new.Type
	}
	for _, f := range new.Fields {
		if f.Name == "bibtex" {
			continue
		}
		cur, ok := out.Get(f.Name)
		if !ok {
			out.Fields = append(out.Fields, f)
			continue
		}
		if f.Value != "" && f.Value != cur {
			out.Set(f.Name, f.Value)
		}
	}
	return out
}
