package providers

import (
	"context"
	"time"
)

// Metadata sind die strukturierten Felder eines externen Datensatzes,
// geschlüsselt nach den externen Feldnamen (siehe Correspondence).
type Metadata map[string]string

// Searcher liefert BibTeX-Text für eine Freitextsuche.
type Searcher interface {
	// FetchByQuery liefert nur den ersten Treffer.
	FetchByQuery(ctx context.Context, query string) (string, error)
	// FetchAllByQuery liefert alle Treffer als einen Text.
	FetchAllByQuery(ctx context.Context, query string) (string, error)
}

// MetadataFetcher liest einen Datensatz über seine externe ID.
type MetadataFetcher interface {
	FetchStructuredByID(ctx context.Context, id string) (Metadata, error)
}

// IDResolver löst eine Suche auf die externe ID des Treffers index auf.
type IDResolver interface {
	FetchIDForQuery(ctx context.Context, query string, index int) (string, error)
}

// Harvester liefert alle Datensätze, die im Zeitraum geändert wurden.
type Harvester interface {
	FetchUpdatesInRange(ctx context.Context, from, to time.Time) ([]Metadata, error)
}

// Provider fasst alle Schnittstellen eines externen Dienstes zusammen.
type Provider interface {
	Searcher
	MetadataFetcher
	IDResolver
	Harvester

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "inspire").
	Name() string
}

// Mapping ordnet einem externen Feld die lokale Spalte zu.
type Mapping struct {
	External string
	Local    string
}

// Correspondence legt fest, welche externen Felder bei der Abstimmung auf
// welche Spalten von entries geschrieben werden.
var Correspondence = []Mapping{
	{"id", "inspire"},
	{"year", "year"},
	{"arxiv", "arxiv"},
	{"oldkeys", "old_keys"},
	{"firstdate", "firstdate"},
	{"pubdate", "pubdate"},
	{"doi", "doi"},
	{"ads", "ads"},
	{"isbn", "isbn"},
	{"bibtex", "bibtex"},
}
