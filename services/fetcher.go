package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"physbib/apperrors"
	"physbib/bibtex"
	"physbib/config"
	"physbib/providers"
	"physbib/repositories"
)

// LoadOptions steuern LoadAndInsert.
type LoadOptions struct {
	// Number wählt den Treffer, wenn die Suche mehrere Records liefert.
	Number *int
	Key    string
	// Method "isbn" sucht über die ISBN und markiert den Eintrag als Buch.
	Method string
}

// LoadResult meldet neu angelegte und bereits vorhandene Schlüssel.
type LoadResult struct {
	Inserted []string `json:"inserted"`
	Existing []string `json:"existing"`
}

// ImportOptions steuern ImportBibtex.
type ImportOptions struct {
	// Complete gleicht jeden neuen Eintrag zusätzlich mit INSPIRE ab.
	Complete bool
	Progress *Progress
}

// ImportResult sind die Zähler eines Imports.
type ImportResult struct {
	Processed int      `json:"processed"`
	Inserted  []string `json:"inserted"`
	Existing  []string `json:"existing"`
	Failed    []string `json:"failed"`
}

// FetchService holt Records von externen Diensten oder liest BibTeX-Text und legt Einträge an.
type FetchService struct {
	Config     *config.Config
	Logger     *zap.Logger
	Entries    *repositories.Entries
	Links      *repositories.Links
	Normalizer *RecordNormalizer
	Searcher   providers.Searcher
	Reconciler *Reconciler
}

// NewFetchService erstellt eine neue Instanz des FetchService.
func NewFetchService(cfg *config.Config, entries *repositories.Entries, links *repositories.Links,
	normalizer *RecordNormalizer, searcher providers.Searcher, reconciler *Reconciler, logger *zap.Logger) *FetchService {
	return &FetchService{
		Config:     cfg,
		Logger:     logger.With(zap.String("component", "fetch")),
		Entries:    entries,
		Links:      links,
		Normalizer: normalizer,
		Searcher:   searcher,
		Reconciler: reconciler,
	}
}

// LoadAndInsert sucht q beim externen Dienst, legt den Treffer an und gleicht ihn ab.
func (f *FetchService) LoadAndInsert(ctx context.Context, q string, opts LoadOptions) (LoadResult, error) {
	res := LoadResult{Inserted: []string{}, Existing: []string{}}
	log := f.Logger.With(zap.String("query", q))
	search := q
	if opts.Method == "isbn" {
		search = "isbn " + q
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.Config.RequestTimeout)
	text, err := f.Searcher.FetchAllByQuery(fetchCtx, search)
	cancel()
	if err != nil {
		log.Error("Externe Suche fehlgeschlagen", zap.Error(err))
		return res, fmt.Errorf("failed to search %q: %w", q, err)
	}
	if strings.TrimSpace(text) == "" {
		return res, fmt.Errorf("%w: no results for %q", apperrors.ErrNotFound, q)
	}

	prepared, err := f.Normalizer.Prepare(text, Options{Key: opts.Key, Index: opts.Number, Book: opts.Method == "isbn"})
	if err != nil {
		return res, err
	}
	key := prepared.Entry.Bibkey
	exists, err := f.Entries.Exists(ctx, key)
	if err != nil {
		return res, err
	}
	if exists {
		log.Info("Eintrag bereits vorhanden", zap.String("bibkey", key))
		res.Existing = append(res.Existing, key)
		return res, nil
	}
	if err := f.Insert(ctx, prepared); err != nil {
		return res, err
	}
	res.Inserted = append(res.Inserted, key)

	if f.Reconciler != nil && opts.Method != "isbn" {
		if _, err := f.Reconciler.UpdateFromExternal(ctx, key); err != nil {
			log.Warn("Neuer Eintrag konnte nicht abgeglichen werden", zap.String("bibkey", key), zap.Error(err))
		}
	}
	return res, nil
}

// ImportBibtex liest alle Records aus text und legt sie an. Fehlerhafte,
// schlüssellose und vorhandene Records werden gezählt, der Import läuft weiter.
func (f *FetchService) ImportBibtex(ctx context.Context, text string, opts ImportOptions) (ImportResult, error) {
	res := ImportResult{Inserted: []string{}, Existing: []string{}, Failed: []string{}}
	records, errs := bibtex.Parse(text)
	for _, pe := range errs {
		f.Logger.Warn("Record übersprungen", zap.Error(pe))
		if pe.Key != "" {
			res.Failed = append(res.Failed, pe.Key)
		} else {
			res.Failed = append(res.Failed, fmt.Sprintf("record %d", pe.Index))
		}
	}
	f.Logger.Info("Starting import", zap.Int("records", len(records)), zap.Int("parse_errors", len(errs)))
	opts.Progress.start(len(records))

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Processed++
		f.importOne(ctx, rec, opts, &res)
		opts.Progress.step()
	}
	f.Logger.Info("Import finished",
		zap.Int("inserted", len(res.Inserted)),
		zap.Int("existing", len(res.Existing)),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}

func (f *FetchService) importOne(ctx context.Context, rec *bibtex.Record, opts ImportOptions, res *ImportResult) {
	prepared, err := f.Normalizer.Prepare(bibtex.Write(rec), Options{})
	if err != nil {
		f.Logger.Warn("Record nicht verwendbar", zap.String("bibkey", rec.Key), zap.Error(err))
		res.Failed = append(res.Failed, rec.Key)
		return
	}
	key := prepared.Entry.Bibkey
	exists, err := f.Entries.Exists(ctx, key)
	if err != nil {
		res.Failed = append(res.Failed, key)
		return
	}
	if exists {
		res.Existing = append(res.Existing, key)
		return
	}
	if err := f.Insert(ctx, prepared); err != nil {
		res.Failed = append(res.Failed, key)
		return
	}
	res.Inserted = append(res.Inserted, key)

	if opts.Complete && f.Reconciler != nil {
		if _, err := f.Reconciler.UpdateFromExternal(ctx, key); err != nil {
			f.Logger.Debug("Abgleich nach Import fehlgeschlagen", zap.String("bibkey", key), zap.Error(err))
		}
	}
}

// Insert legt den Eintrag an und verknüpft ihn mit den Standardkategorien.
func (f *FetchService) Insert(ctx context.Context, p *Prepared) error {
	if err := f.Entries.Insert(ctx, p.Entry); err != nil {
		return err
	}
	for _, idCat := range f.Config.DefaultCategories {
		err := f.Links.InsertEntryCategory(ctx, p.Entry.Bibkey, idCat)
		if err != nil && !errors.Is(err, apperrors.ErrConflict) {
			return err
		}
	}
	return nil
}
