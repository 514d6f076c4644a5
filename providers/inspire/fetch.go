package inspire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"physbib/apperrors"
	"physbib/bibtex"
	"physbib/config"
	"physbib/providers"
)

const harvestPageSize = 250

var journalDots = regexp.MustCompile(`\.\s*`)

// Fetcher implementiert das Provider-Interface für die INSPIRE-HEP REST-API.
type Fetcher struct {
	Config     *config.Config
	Logger     *zap.Logger
	httpClient *http.Client
}

// NewFetcher erstellt einen neuen INSPIRE Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config:     cfg,
		Logger:     logger.With(zap.String("provider", "inspire")),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "inspire"
}

// FetchByQuery liefert den BibTeX-Text des ersten Treffers.
func (f *Fetcher) FetchByQuery(ctx context.Context, q string) (string, error) {
	return f.searchBibtex(ctx, q, 1)
}

// FetchAllByQuery liefert den BibTeX-Text aller Treffer bis MAX_EXTERNAL_RESULTS.
func (f *Fetcher) FetchAllByQuery(ctx context.Context, q string) (string, error) {
	return f.searchBibtex(ctx, q, f.Config.MaxExternalResults)
}

func (f *Fetcher) searchBibtex(ctx context.Context, q string, size int) (string, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "bibtex")
	params.Set("size", strconv.Itoa(size))
	body, err := f.get(ctx, "/literature", params)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(body))
	f.Logger.Info("Suche auf INSPIRE abgeschlossen", zap.String("query", q), zap.Int("bytes", len(text)))
	return text, nil
}

// FetchIDForQuery liefert die control_number des Treffers index.
func (f *Fetcher) FetchIDForQuery(ctx context.Context, q string, index int) (string, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("fields", "control_number")
	params.Set("size", strconv.Itoa(index+1))
	body, err := f.get(ctx, "/literature", params)
	if err != nil {
		return "", err
	}
	var resp SearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decoding search response: %v", apperrors.ErrFetchFailed, err)
	}
	if index < 0 || index >= len(resp.Hits.Hits) {
		return "", fmt.Errorf("%w: no result %d for %q", apperrors.ErrNotFound, index, q)
	}
	id := strconv.Itoa(resp.Hits.Hits[index].Metadata.ControlNumber)
	f.Logger.Debug("INSPIRE ID gefunden", zap.String("query", q), zap.String("id", id))
	return id, nil
}

// FetchStructuredByID liest einen Datensatz und bildet ihn auf die Felder
// der Correspondence-Tabelle ab. "bibtex" enthält den Record in kanonischer Form.
func (f *Fetcher) FetchStructuredByID(ctx context.Context, id string) (providers.Metadata, error) {
	body, err := f.get(ctx, "/literature/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var resp RecordResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding record %s: %v", apperrors.ErrFetchFailed, id, err)
	}
	md := f.readRecord(resp.Metadata)
	md["id"] = id
	return md, nil
}

// FetchUpdatesInRange sammelt alle Datensätze, deren Änderungsdatum im Zeitraum liegt.
func (f *Fetcher) FetchUpdatesInRange(ctx context.Context, from, to time.Time) ([]providers.Metadata, error) {
	q := fmt.Sprintf("du >= %s and du <= %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	log := f.Logger.With(zap.String("query", q))
	log.Info("Starte INSPIRE Harvester")

	var out []providers.Metadata
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		params := url.Values{}
		params.Set("q", q)
		params.Set("size", strconv.Itoa(harvestPageSize))
		params.Set("page", strconv.Itoa(page))
		body, err := f.get(ctx, "/literature", params)
		if err != nil {
			return out, err
		}
		var resp SearchResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return out, fmt.Errorf("%w: decoding harvest page %d: %v", apperrors.ErrFetchFailed, page, err)
		}
		for _, hit := range resp.Hits.Hits {
			md := f.readRecord(hit.Metadata)
			md["id"] = strconv.Itoa(hit.Metadata.ControlNumber)
			out = append(out, md)
		}
		log.Debug("Harvest-Seite gelesen", zap.Int("page", page), zap.Int("records", len(out)))
		if len(resp.Hits.Hits) < harvestPageSize || len(out) >= resp.Hits.Total {
			break
		}
	}
	log.Info("INSPIRE Harvester beendet", zap.Int("records", len(out)))
	return out, nil
}

func (f *Fetcher) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := strings.TrimRight(f.Config.InspireBaseURL, "/") + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrFetchFailed, err)
	}
	f.Logger.Debug("Rufe INSPIRE API auf", zap.String("url", u))

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d for %s", apperrors.ErrFetchFailed, resp.StatusCode, path)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", apperrors.ErrFetchFailed, err)
	}
	return body, nil
}

// readRecord konvertiert einen INSPIRE-Datensatz in Metadata und baut daraus den BibTeX-Record.
func (f *Fetcher) readRecord(m RecordMetadata) providers.Metadata {
	md := providers.Metadata{}
	set := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			md[k] = v
		}
	}

	if len(m.Texkeys) > 0 {
		set("bibkey", m.Texkeys[0])
		md["oldkeys"] = strings.Join(m.Texkeys[1:], ",")
	}
	if len(m.DOIs) > 0 {
		set("doi", m.DOIs[0].Value)
	}
	if len(m.ISBNs) > 0 {
		set("isbn", m.ISBNs[0].Value)
	}
	if len(m.Titles) > 0 {
		set("title", m.Titles[0].Title)
	}
	if len(m.Collaborations) > 0 {
		set("collaboration", m.Collaborations[0].Value)
	}
	if len(m.ArxivEprints) > 0 {
		e := m.ArxivEprints[0]
		set("arxiv", e.Value)
		set("eprint", e.Value)
		set("archiveprefix", "arXiv")
		if len(e.Categories) > 0 {
			set("primaryclass", e.Categories[0])
		}
	}
	if len(m.ReportNumbers) > 0 {
		set("reportnumber", m.ReportNumbers[0].Value)
	}
	for _, id := range m.ExternalSystemIdentifiers {
		if id.Schema == "ADS" {
			set("ads", id.Value)
			break
		}
	}
	for _, p := range m.PublicationInfo {
		if p.JournalTitle == "" {
			continue
		}
		set("journal", strings.TrimSpace(journalDots.ReplaceAllString(p.JournalTitle, ". ")))
		set("volume", p.JournalVolume)
		set("pages", p.pages())
		if p.Year > 0 {
			set("year", strconv.Itoa(p.Year))
		}
		break
	}
	set("author", f.authors(m))

	firstdate := m.LegacyCreationDate
	if firstdate == "" {
		firstdate = m.PreprintDate
	}
	set("firstdate", firstdate)
	if len(m.Imprints) > 0 {
		set("pubdate", m.Imprints[0].Date)
	}
	if _, ok := md["year"]; !ok && len(m.PreprintDate) >= 4 {
		set("year", m.PreprintDate[:4])
	}
	if f.Config.FetchAbstract && len(m.Abstracts) > 0 {
		set("abstract", m.Abstracts[0].Value)
	}

	typ := "article"
	switch {
	case md["isbn"] != "":
		typ = "book"
	case hasType(m.DocumentType, "conference paper"):
		typ = "inproceedings"
	case hasType(m.DocumentType, "thesis"):
		typ = "phdthesis"
		if m.ThesisInfo != nil {
			if len(m.ThesisInfo.Institutions) > 0 {
				set("school", m.ThesisInfo.Institutions[0].Name)
			}
			if len(m.ThesisInfo.Date) >= 4 {
				set("year", m.ThesisInfo.Date[:4])
			}
		}
	}

	rec := &bibtex.Record{Type: typ, Key: md["bibkey"]}
	for _, k := range []string{
		"author", "collaboration", "title", "journal", "volume", "year", "pages",
		"archiveprefix", "primaryclass", "eprint", "doi", "reportnumber", "isbn", "school",
	} {
		if v := md[k]; v != "" {
			rec.Set(k, v)
		}
	}
	bibtex.Transliterate(rec)
	md["bibtex"] = bibtex.Canonical(rec)
	return md
}

// authors verbindet die Namen mit " and "; über MAX_AUTHOR_SAVE hinaus steht nur noch "others".
func (f *Fetcher) authors(m RecordMetadata) string {
	names := make([]string, 0, len(m.Authors))
	for i, a := range m.Authors {
		if f.Config.MaxAuthorSave > 0 && i >= f.Config.MaxAuthorSave {
			names = append(names, "others")
			break
		}
		names = append(names, a.FullName)
	}
	return strings.Join(names, " and ")
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}
