package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"physbib/apperrors"
	"physbib/bibtex"
	"physbib/config"
	"physbib/models"
	"physbib/repositories"
)

var arxivIdentifier = regexp.MustCompile(`\d{4}\.\d{4,5}|\d{7}`)

// Options überschreiben beim Anlegen eines Eintrags die aus dem BibTeX
// abgeleiteten Werte. Leere Felder bedeuten "nicht gesetzt".
type Options struct {
	Key   string
	Index *int

	Inspire   string
	Arxiv     string
	Ads       string
	Scholar   string
	Doi       string
	Isbn      string
	Year      string
	Link      string
	Comments  string
	OldKeys   string
	Crossref  string
	Marks     string
	FirstDate string
	PubDate   string
	Abstract  string

	ExpPaper   bool
	Lecture    bool
	PhdThesis  bool
	Review     bool
	Proceeding bool
	Book       bool
	NoUpdate   bool
}

// Prepared ist ein einfügefertiger Eintrag.
type Prepared struct {
	Entry          *models.Entry
	Record         *bibtex.Record
	Transliterated bool
}

// CleanResult fasst einen Lauf von CleanBatch zusammen.
type CleanResult struct {
	Processed      int      `json:"processed"`
	Failed         []string `json:"failed"`
	Changed        []string `json:"changed"`
	Transliterated []string `json:"transliterated"`
}

// RecordNormalizer bringt BibTeX-Text in die gespeicherte Form.
type RecordNormalizer struct {
	cfg     *config.Config
	entries *repositories.Entries
	logger  *zap.Logger
	now     func() time.Time
}

func NewRecordNormalizer(cfg *config.Config, entries *repositories.Entries, logger *zap.Logger) *RecordNormalizer {
	return &RecordNormalizer{
		cfg:     cfg,
		entries: entries,
		logger:  logger.With(zap.String("component", "normalizer")),
		now:     time.Now,
	}
}

// Prepare parst raw, wählt genau einen Record und leitet daraus einen Eintrag ab.
// Mehrere Records ohne opts.Index sind ErrAmbiguousRecord.
func (n *RecordNormalizer) Prepare(raw string, opts Options) (*Prepared, error) {
	records, errs := bibtex.Parse(raw)
	if len(records) == 0 {
		if len(errs) > 0 {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrParse, errs[0])
		}
		return nil, fmt.Errorf("%w: no record found", apperrors.ErrParse)
	}

	idx := 0
	if opts.Index != nil {
		idx = *opts.Index
	} else if len(records) > 1 {
		return nil, fmt.Errorf("%w: %d records found", apperrors.ErrAmbiguousRecord, len(records))
	}
	if idx < 0 || idx >= len(records) {
		return nil, fmt.Errorf("%w: record index %d out of %d", apperrors.ErrInvalidField, idx, len(records))
	}
	rec := records[idx]

	if opts.Key != "" {
		rec.Key = opts.Key
	}
	if strings.TrimSpace(rec.Key) == "" {
		return nil, apperrors.ErrEmptyKey
	}
	bibtex.CollapseLineBreaks(rec)
	transliterated := bibtex.Transliterate(rec)

	e := &models.Entry{
		Bibkey:     rec.Key,
		Bibtex:     bibtex.Canonical(rec),
		Inspire:    opts.Inspire,
		Ads:        opts.Ads,
		Scholar:    opts.Scholar,
		Comments:   opts.Comments,
		OldKeys:    opts.OldKeys,
		Marks:      opts.Marks,
		PubDate:    opts.PubDate,
		ExpPaper:   models.BoolInt(opts.ExpPaper),
		Lecture:    models.BoolInt(opts.Lecture),
		PhdThesis:  models.BoolInt(opts.PhdThesis),
		Review:     models.BoolInt(opts.Review),
		Proceeding: models.BoolInt(opts.Proceeding),
		Book:       models.BoolInt(opts.Book),
		NoUpdate:   models.BoolInt(opts.NoUpdate),
	}
	e.Arxiv = firstNonEmpty(opts.Arxiv, rec.Value("arxiv"), rec.Value("eprint"))
	e.Doi = firstNonEmpty(opts.Doi, rec.Value("doi"))
	e.Isbn = firstNonEmpty(opts.Isbn, rec.Value("isbn"))
	e.Crossref = firstNonEmpty(opts.Crossref, rec.Value("crossref"))
	e.Abstract = firstNonEmpty(opts.Abstract, rec.Value("abstract"))
	e.Year = firstNonEmpty(opts.Year, rec.Value("year"), yearFromArxiv(e.Arxiv))
	e.Link = opts.Link
	switch {
	case e.Link != "":
	case e.Arxiv != "":
		e.Link = n.cfg.ArxivURL + "/abs/" + e.Arxiv
	case e.Doi != "":
		e.Link = n.cfg.DoiURL + e.Doi
	}
	e.FirstDate = opts.FirstDate
	if e.FirstDate == "" {
		e.FirstDate = n.now().Format("2006-01-02")
	}

	return &Prepared{Entry: e, Record: rec, Transliterated: transliterated}, nil
}

// yearFromArxiv liest das Jahr aus einer arXiv-Nummer (2001.01234 oder hep-th/9901001).
func yearFromArxiv(arxiv string) string {
	id := arxivIdentifier.FindString(arxiv)
	if id == "" {
		return ""
	}
	yy := id[:2]
	if yy > "80" {
		return "19" + yy
	}
	return "20" + yy
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// CleanBatch schreibt das BibTeX aller Einträge ab offset neu in kanonischer
// Form. Bei Abbruch über ctx wird das Teilergebnis zusammen mit ctx.Err() geliefert.
func (n *RecordNormalizer) CleanBatch(ctx context.Context, offset int, progress *Progress) (CleanResult, error) {
	res := CleanResult{Failed: []string{}, Changed: []string{}, Transliterated: []string{}}
	entries, err := n.entries.Page(ctx, offset, 0)
	if err != nil {
		return res, err
	}
	n.logger.Info("Starting clean", zap.Int("offset", offset), zap.Int("entries", len(entries)))
	progress.start(len(entries))

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			n.logger.Info("Clean cancelled", zap.Int("processed", res.Processed))
			return res, err
		}
		n.cleanOne(ctx, e.Entry, &res)
		res.Processed++
		progress.step()
	}
	n.logger.Info("Clean finished",
		zap.Int("processed", res.Processed),
		zap.Int("failed", len(res.Failed)),
		zap.Int("changed", len(res.Changed)))
	return res, nil
}

func (n *RecordNormalizer) cleanOne(ctx context.Context, e models.Entry, res *CleanResult) {
	out := bibtex.Normalize(e.Bibtex)
	if len(out.Errors) > 0 || len(out.Records) != 1 {
		n.logger.Warn("Cannot clean entry", zap.String("bibkey", e.Bibkey), zap.Int("records", len(out.Records)))
		res.Failed = append(res.Failed, e.Bibkey)
		return
	}
	if len(out.Transliterated) > 0 {
		res.Transliterated = append(res.Transliterated, e.Bibkey)
	}
	if out.Text == e.Bibtex {
		return
	}
	if err := n.entries.UpdateField(ctx, e.Bibkey, "bibtex", out.Text); err != nil {
		res.Failed = append(res.Failed, e.Bibkey)
		return
	}
	res.Changed = append(res.Changed, e.Bibkey)
}
