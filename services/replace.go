package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"physbib/apperrors"
	"physbib/bibtex"
	"physbib/models"
	"physbib/repositories"
)

// ReplaceTarget ist ein Zielfeld mit seinem Ersetzungstext.
type ReplaceTarget struct {
	Field string `json:"field"`
	New   string `json:"new"`
}

// ReplaceOptions beschreiben eine Suchen-und-Ersetzen-Operation. Der Text
// wird aus From gelesen, Old darin ersetzt und in jedes Ziel geschrieben.
type ReplaceOptions struct {
	// Bibkeys schränkt die Einträge ein; leer bedeutet alle.
	Bibkeys []string        `json:"bibkeys"`
	From    string          `json:"from"`
	Old     string          `json:"old"`
	Targets []ReplaceTarget `json:"targets"`
	Regex   bool            `json:"regex"`
}

// ReplaceResult listet bearbeitete, geänderte und fehlgeschlagene Einträge.
type ReplaceResult struct {
	Success []string `json:"success"`
	Changed []string `json:"changed"`
	Failed  []string `json:"failed"`
}

// Replacer ersetzt Feldinhalte über mehrere Einträge hinweg.
type Replacer struct {
	entries *repositories.Entries
	logger  *zap.Logger
}

func NewReplacer(entries *repositories.Entries, logger *zap.Logger) *Replacer {
	return &Replacer{entries: entries, logger: logger.With(zap.String("component", "replace"))}
}

// Replace führt opts aus. Ein Feld ist ein BibTeX-Feld, wenn es im Record
// vorkommt, sonst eine Spalte von entries; kommt es in beiden vor, werden beide geschrieben.
func (r *Replacer) Replace(ctx context.Context, opts ReplaceOptions) (ReplaceResult, error) {
	res := ReplaceResult{Success: []string{}, Changed: []string{}, Failed: []string{}}
	var re *regexp.Regexp
	if opts.Regex {
		var err error
		if re, err = regexp.Compile(opts.Old); err != nil {
			return res, fmt.Errorf("%w: invalid pattern: %v", apperrors.ErrInvalidField, err)
		}
	}
	replace := func(line, repl, previous string) string {
		if re == nil {
			return strings.ReplaceAll(line, opts.Old, repl)
		}
		if !re.MatchString(line) {
			return previous
		}
		return re.ReplaceAllString(line, repl)
	}

	entries, err := r.selectEntries(ctx, opts.Bibkeys)
	if err != nil {
		return res, err
	}
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		e := &entries[i]
		changed, err := r.replaceOne(ctx, e, opts, replace)
		if err != nil {
			r.logger.Warn("Replace failed", zap.String("bibkey", e.Bibkey), zap.Error(err))
			res.Failed = append(res.Failed, e.Bibkey)
			continue
		}
		res.Success = append(res.Success, e.Bibkey)
		if changed {
			res.Changed = append(res.Changed, e.Bibkey)
		}
	}
	return res, nil
}

func (r *Replacer) selectEntries(ctx context.Context, keys []string) ([]repositories.FetchedEntry, error) {
	if len(keys) == 0 {
		return r.entries.Page(ctx, 0, 0)
	}
	out := make([]repositories.FetchedEntry, 0, len(keys))
	for _, k := range keys {
		e, err := r.entries.GetByBibkey(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

func (r *Replacer) replaceOne(ctx context.Context, e *repositories.FetchedEntry, opts ReplaceOptions,
	replace func(line, repl, previous string) string) (bool, error) {
	before, ok := e.BibtexDict[opts.From]
	if !ok {
		if before, ok = e.Value(opts.From); !ok {
			return false, fmt.Errorf("%w: %q not found in %s", apperrors.ErrInvalidField, opts.From, e.Bibkey)
		}
	}

	changed := false
	for _, t := range opts.Targets {
		old, inRecord := e.BibtexDict[t.Field]
		column := models.IsEntryColumn(t.Field) && t.Field != "bibkey"
		if !inRecord && !column {
			return changed, fmt.Errorf("%w: %q not found in %s", apperrors.ErrInvalidField, t.Field, e.Bibkey)
		}
		if inRecord {
			after := replace(before, t.New, old)
			if after != old {
				if err := r.writeRecordField(ctx, e, t.Field, after); err != nil {
					return changed, err
				}
				changed = true
			}
		}
		if column {
			current, _ := e.Value(t.Field)
			after := replace(before, t.New, current)
			if after != current && after != "" {
				if err := r.entries.UpdateField(ctx, e.Bibkey, t.Field, after); err != nil {
					return changed, err
				}
				e.SetValue(t.Field, after)
				changed = true
			}
		}
	}
	return changed, nil
}

// writeRecordField schreibt ein einzelnes BibTeX-Feld über MergeRecords zurück.
func (r *Replacer) writeRecordField(ctx context.Context, e *repositories.FetchedEntry, field, value string) error {
	records, errs := bibtex.Parse(e.Bibtex)
	if len(errs) > 0 || len(records) == 0 {
		return fmt.Errorf("%w: stored bibtex of %s", apperrors.ErrParse, e.Bibkey)
	}
	patch := &bibtex.Record{Fields: []bibtex.Field{{Name: field, Value: value}}}
	text := bibtex.Canonical(bibtex.MergeRecords(records[0], patch))
	if err := r.entries.UpdateField(ctx, e.Bibkey, "bibtex", text); err != nil {
		return err
	}
	e.Bibtex = text
	e.BibtexDict[field] = value
	return nil
}
