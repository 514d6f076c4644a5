package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"physbib/apperrors"
	"physbib/bibtex"
	"physbib/config"
	"physbib/providers"
	"physbib/repositories"
)

// ReconcileResult beschreibt das Ergebnis einer Abstimmung eines Eintrags.
type ReconcileResult struct {
	Bibkey  string   `json:"bibkey"`
	Changed bool     `json:"changed"`
	Writes  []string `json:"writes"`
}

// BatchResult sind die laufenden Zähler einer Batch-Abstimmung.
type BatchResult struct {
	Processed int      `json:"processed"`
	Failed    []string `json:"failed"`
	Changed   []string `json:"changed"`
}

// Predicate entscheidet, ob ein Eintrag in einer Batch-Abstimmung bearbeitet wird.
type Predicate func(e repositories.FetchedEntry, force bool) bool

// BatchOptions steuern ReconcileBatch.
type BatchOptions struct {
	Offset    int
	Force     bool
	Predicate Predicate
	Progress  *Progress
}

// ReconcileObserver wird über jede abgeschlossene Abstimmung informiert.
type ReconcileObserver interface {
	Reconciled(changed bool)
	FetchFailed()
	BatchItem(op string)
}

// Reconciler gleicht lokale Einträge mit INSPIRE ab.
type Reconciler struct {
	Config    *config.Config
	Logger    *zap.Logger
	Entries   *repositories.Entries
	Fetcher   providers.MetadataFetcher
	Resolver  providers.IDResolver
	Harvester providers.Harvester
	Observer  ReconcileObserver
}

// NewReconciler erstellt einen Reconciler; p liefert alle externen Schnittstellen.
func NewReconciler(cfg *config.Config, entries *repositories.Entries, p providers.Provider, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		Config:    cfg,
		Logger:    logger.With(zap.String("component", "reconciler")),
		Entries:   entries,
		Fetcher:   p,
		Resolver:  p,
		Harvester: p,
	}
}

// DefaultPredicate wählt Artikel mit INSPIRE-ID, die nicht gesperrt sind und
// denen (ohne force) DOI oder Zeitschriftenangabe fehlen.
func DefaultPredicate(e repositories.FetchedEntry, force bool) bool {
	if e.Proceeding != 0 || e.Book != 0 || e.Lecture != 0 || e.PhdThesis != 0 || e.NoUpdate != 0 {
		return false
	}
	if e.Inspire == "" {
		return false
	}
	return force || e.Doi == "" || e.BibtexDict["journal"] == ""
}

// ReconcileOne holt die Metadaten zu externalID und schreibt jedes abweichende
// Feld der Correspondence-Tabelle. Ist externalID keine Zahl, wird es als
// Bibkey gelesen und über dessen INSPIRE-ID aufgelöst.
func (r *Reconciler) ReconcileOne(ctx context.Context, externalID string) (ReconcileResult, error) {
	if _, err := strconv.Atoi(externalID); err != nil {
		e, err := r.Entries.GetByBibkey(ctx, externalID)
		if err != nil {
			return ReconcileResult{}, err
		}
		if e.Inspire == "" {
			return ReconcileResult{Bibkey: e.Bibkey}, fmt.Errorf("%w: entry %s has no inspire id", apperrors.ErrNotFound, e.Bibkey)
		}
		externalID = e.Inspire
	}

	md, err := r.fetch(ctx, externalID)
	if err != nil {
		return ReconcileResult{}, err
	}
	local, err := r.locate(ctx, md)
	if err != nil {
		return ReconcileResult{}, err
	}
	return r.apply(ctx, local, md)
}

// UpdateFromExternal löst bei Bedarf zuerst die INSPIRE-ID des Eintrags auf und gleicht ihn dann ab.
func (r *Reconciler) UpdateFromExternal(ctx context.Context, bibkey string) (ReconcileResult, error) {
	e, err := r.Entries.GetByBibkey(ctx, bibkey)
	if err != nil {
		return ReconcileResult{}, err
	}
	if e.Inspire == "" {
		fetchCtx, cancel := context.WithTimeout(ctx, r.Config.RequestTimeout)
		id, err := r.Resolver.FetchIDForQuery(fetchCtx, bibkey, 0)
		cancel()
		if err != nil {
			r.observeFetchFailed()
			return ReconcileResult{Bibkey: bibkey}, fmt.Errorf("failed to resolve inspire id of %s: %w", bibkey, err)
		}
		if err := r.Entries.UpdateField(ctx, bibkey, "inspire", id); err != nil {
			return ReconcileResult{Bibkey: bibkey}, err
		}
		e.Inspire = id
	}
	md, err := r.fetch(ctx, e.Inspire)
	if err != nil {
		return ReconcileResult{Bibkey: bibkey}, err
	}
	return r.apply(ctx, e, md)
}

// ReconcileBatch gleicht alle Einträge ab opts.Offset ab, die das Prädikat erfüllen.
// Fehler einzelner Einträge landen in Failed; nur ein Abbruch über ctx wird als Fehler geliefert.
func (r *Reconciler) ReconcileBatch(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	res := BatchResult{Failed: []string{}, Changed: []string{}}
	pred := opts.Predicate
	if pred == nil {
		pred = DefaultPredicate
	}
	entries, err := r.Entries.Page(ctx, opts.Offset, 0)
	if err != nil {
		return res, err
	}
	log := r.Logger.With(zap.Int("offset", opts.Offset), zap.Bool("force", opts.Force))
	log.Info("Starting batch reconciliation", zap.Int("entries", len(entries)))
	opts.Progress.start(len(entries))

	for i := range entries {
		if err := ctx.Err(); err != nil {
			log.Info("Batch reconciliation cancelled", zap.Int("processed", res.Processed))
			return res, err
		}
		e := &entries[i]
		if pred(*e, opts.Force) {
			res.Processed++
			r.tally(&res, e.Bibkey, func() (ReconcileResult, error) {
				md, err := r.fetch(ctx, e.Inspire)
				if err != nil {
					return ReconcileResult{}, err
				}
				return r.apply(ctx, e, md)
			})
			r.observeBatchItem("reconcile")
		}
		opts.Progress.step()
	}
	log.Info("Batch reconciliation finished",
		zap.Int("processed", res.Processed),
		zap.Int("failed", len(res.Failed)),
		zap.Int("changed", len(res.Changed)))
	return res, nil
}

// SyncRange holt alle im Zeitraum geänderten Datensätze und gleicht die
// lokal vorhandenen ab. Datensätze ohne lokalen Eintrag werden ignoriert.
func (r *Reconciler) SyncRange(ctx context.Context, from, to time.Time, progress *Progress) (BatchResult, error) {
	res := BatchResult{Failed: []string{}, Changed: []string{}}
	records, err := r.Harvester.FetchUpdatesInRange(ctx, from, to)
	if err != nil {
		r.observeFetchFailed()
		return res, fmt.Errorf("failed to harvest updates: %w", err)
	}
	log := r.Logger.With(zap.Time("from", from), zap.Time("to", to))
	log.Info("Harvested updates", zap.Int("records", len(records)))
	progress.start(len(records))

	for _, md := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		e, err := r.Entries.GetByInspire(ctx, md["id"])
		if err == nil && e.NoUpdate == 0 {
			res.Processed++
			r.tally(&res, e.Bibkey, func() (ReconcileResult, error) { return r.apply(ctx, e, md) })
			r.observeBatchItem("sync")
		} else if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			res.Failed = append(res.Failed, md["id"])
		}
		progress.step()
	}
	log.Info("Sync finished", zap.Int("processed", res.Processed), zap.Int("changed", len(res.Changed)))
	return res, nil
}

func (r *Reconciler) tally(res *BatchResult, bibkey string, fn func() (ReconcileResult, error)) {
	out, err := fn()
	if err != nil {
		r.Logger.Warn("Reconciliation failed", zap.String("bibkey", bibkey), zap.Error(err))
		res.Failed = append(res.Failed, bibkey)
		return
	}
	if out.Changed {
		res.Changed = append(res.Changed, bibkey)
	}
}

func (r *Reconciler) fetch(ctx context.Context, id string) (providers.Metadata, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.Config.RequestTimeout)
	defer cancel()
	md, err := r.Fetcher.FetchStructuredByID(fetchCtx, id)
	if err != nil {
		r.observeFetchFailed()
		if !errors.Is(err, apperrors.ErrFetchFailed) && !errors.Is(err, apperrors.ErrNotFound) {
			err = fmt.Errorf("%w: %v", apperrors.ErrFetchFailed, err)
		}
		return nil, err
	}
	return md, nil
}

// locate findet den lokalen Eintrag über den Bibkey des Datensatzes, sonst über die INSPIRE-ID.
func (r *Reconciler) locate(ctx context.Context, md providers.Metadata) (*repositories.FetchedEntry, error) {
	if key := md["bibkey"]; key != "" {
		e, err := r.Entries.GetByBibkey(ctx, key)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}
	return r.Entries.GetByInspire(ctx, md["id"])
}

// apply schreibt jedes Feld der Correspondence-Tabelle, dessen externer Wert
// vom lokalen abweicht. Leere externe Werte überschreiben nie.
func (r *Reconciler) apply(ctx context.Context, e *repositories.FetchedEntry, md providers.Metadata) (ReconcileResult, error) {
	res := ReconcileResult{Bibkey: e.Bibkey, Writes: []string{}}
	for _, m := range providers.Correspondence {
		value := md[m.External]
		if value == "" {
			continue
		}
		if m.Local == "bibtex" {
			value = mergeBibtex(e.Bibtex, value)
			if value == "" {
				continue
			}
		}
		current, _ := e.Value(m.Local)
		if current == value {
			continue
		}
		if err := r.Entries.UpdateField(ctx, e.Bibkey, m.Local, value); err != nil {
			return res, err
		}
		e.SetValue(m.Local, value)
		res.Writes = append(res.Writes, m.Local)
	}
	res.Changed = len(res.Writes) > 0
	if r.Observer != nil {
		r.Observer.Reconciled(res.Changed)
	}
	r.Logger.Debug("Entry reconciled", zap.String("bibkey", e.Bibkey), zap.Strings("writes", res.Writes))
	return res, nil
}

// mergeBibtex legt den eingehenden Record über den lokalen, damit vom Nutzer
// ergänzte Felder erhalten bleiben. Ist der eingehende Text nicht lesbar, ist das Ergebnis leer.
func mergeBibtex(local, incoming string) string {
	in, errs := bibtex.Parse(incoming)
	if len(errs) > 0 || len(in) == 0 {
		return ""
	}
	old, errs := bibtex.Parse(local)
	if len(errs) > 0 || len(old) == 0 {
		return bibtex.Canonical(in[0])
	}
	return bibtex.Canonical(bibtex.MergeRecords(old[0], in[0]))
}

func (r *Reconciler) observeFetchFailed() {
	if r.Observer != nil {
		r.Observer.FetchFailed()
	}
}

func (r *Reconciler) observeBatchItem(op string) {
	if r.Observer != nil {
		r.Observer.BatchItem(op)
	}
}
