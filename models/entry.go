package models

import "strconv"

// Entry repräsentiert einen bibliographischen Eintrag (ein BibTeX-Record).
type Entry struct {
	Bibkey  string `json:"bibkey" gorm:"column:bibkey;primaryKey"`
	Bibtex  string `json:"bibtex" gorm:"column:bibtex;type:text;not null"`
	Inspire string `json:"inspire" gorm:"column:inspire;index"`
	Arxiv   string `json:"arxiv" gorm:"column:arxiv"`
	Ads     string `json:"ads" gorm:"column:ads"`
	Scholar string `json:"scholar" gorm:"column:scholar"`
	Doi     string `json:"doi" gorm:"column:doi"`
	Isbn    string `json:"isbn" gorm:"column:isbn"`
	Year    string `json:"year" gorm:"column:year"`
	Link    string `json:"link" gorm:"column:link"`

	Comments string `json:"comments" gorm:"column:comments"`
	OldKeys  string `json:"old_keys" gorm:"column:old_keys"`
	Crossref string `json:"crossref" gorm:"column:crossref"`

	// Klassifikation, jeweils 0 oder 1
	ExpPaper   int `json:"exp_paper" gorm:"column:exp_paper;not null;default:0"`
	Lecture    int `json:"lecture" gorm:"column:lecture;not null;default:0"`
	PhdThesis  int `json:"phd_thesis" gorm:"column:phd_thesis;not null;default:0"`
	Review     int `json:"review" gorm:"column:review;not null;default:0"`
	Proceeding int `json:"proceeding" gorm:"column:proceeding;not null;default:0"`
	Book       int `json:"book" gorm:"column:book;not null;default:0"`
	NoUpdate   int `json:"no_update" gorm:"column:no_update;not null;default:0"`

	Marks     string `json:"marks" gorm:"column:marks"`
	FirstDate string `json:"firstdate" gorm:"column:firstdate"`
	PubDate   string `json:"pubdate" gorm:"column:pubdate"`
	Abstract  string `json:"abstract" gorm:"column:abstract;type:text"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Entry) TableName() string {
	return "entries"
}

// EntryColumns listet alle Spalten der Tabelle entries in Schema-Reihenfolge.
var EntryColumns = []string{
	"bibkey", "bibtex", "inspire", "arxiv", "ads", "scholar", "doi", "isbn", "year", "link",
	"comments", "old_keys", "crossref", "exp_paper", "lecture", "phd_thesis", "review",
	"proceeding", "book", "marks", "firstdate", "pubdate", "no_update", "abstract",
}

// EntryFlags sind die 0/1-Spalten, die über SetFlag gesetzt werden.
var EntryFlags = []string{"exp_paper", "lecture", "phd_thesis", "review", "proceeding", "book", "no_update"}

var entryColumnSet = toSet(EntryColumns)

// IsEntryColumn meldet, ob col eine gültige Spalte von entries ist.
func IsEntryColumn(col string) bool {
	_, ok := entryColumnSet[col]
	return ok
}

// IsEntryFlag meldet, ob col eine der Flag-Spalten ist.
func IsEntryFlag(col string) bool {
	for _, f := range EntryFlags {
		if f == col {
			return true
		}
	}
	return false
}

// Value liefert den Spaltenwert als String; Flags werden als "0"/"1" geliefert.
func (e *Entry) Value(col string) (string, bool) {
	if p := e.stringField(col); p != nil {
		return *p, true
	}
	if p := e.flagField(col); p != nil {
		return strconv.Itoa(*p), true
	}
	return "", false
}

// SetValue setzt eine Spalte aus einem String. Flags akzeptieren "0" und "1".
func (e *Entry) SetValue(col, value string) bool {
	if p := e.stringField(col); p != nil {
		*p = value
		return true
	}
	if p := e.flagField(col); p != nil {
		n, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		*p = boolInt(n != 0)
		return true
	}
	return false
}

func (e *Entry) stringField(col string) *string {
	switch col {
	case "bibkey":
		return &e.Bibkey
	case "bibtex":
		return &e.Bibtex
	case "inspire":
		return &e.Inspire
	case "arxiv":
		return &e.Arxiv
	case "ads":
		return &e.Ads
	case "scholar":
		return &e.Scholar
	case "doi":
		return &e.Doi
	case "isbn":
		return &e.Isbn
	case "year":
		return &e.Year
	case "link":
		return &e.Link
	case "comments":
		return &e.Comments
	case "old_keys":
		return &e.OldKeys
	case "crossref":
		return &e.Crossref
	case "marks":
		return &e.Marks
	case "firstdate":
		return &e.FirstDate
	case "pubdate":
		return &e.PubDate
	case "abstract":
		return &e.Abstract
	}
	return nil
}

func (e *Entry) flagField(col string) *int {
	switch col {
	case "exp_paper":
		return &e.ExpPaper
	case "lecture":
		return &e.Lecture
	case "phd_thesis":
		return &e.PhdThesis
	case "review":
		return &e.Review
	case "proceeding":
		return &e.Proceeding
	case "book":
		return &e.Book
	case "no_update":
		return &e.NoUpdate
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// BoolInt wandelt ein bool in den gespeicherten Flag-Wert.
func BoolInt(b bool) int { return boolInt(b) }

func toSet(cols []string) map[string]struct{} {
	m := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		m[c] = struct{}{}
	}
	return m
}
