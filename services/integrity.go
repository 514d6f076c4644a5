package services

import (
	"context"

	"go.uber.org/zap"

	"physbib/storage"
)

// PruneResult zählt die gelöschten Verknüpfungen pro Tabelle.
type PruneResult struct {
	EntryCategories     int64 `json:"entry_categories"`
	EntryExperiments    int64 `json:"entry_experiments"`
	CategoryExperiments int64 `json:"category_experiments"`
}

// Total liefert die Summe aller gelöschten Zeilen.
func (p PruneResult) Total() int64 {
	return p.EntryCategories + p.EntryExperiments + p.CategoryExperiments
}

// Integrity stellt die referentielle Integrität der Verknüpfungstabellen wieder her.
type Integrity struct {
	store  *storage.Store
	logger *zap.Logger
}

func NewIntegrity(store *storage.Store, logger *zap.Logger) *Integrity {
	return &Integrity{store: store, logger: logger.With(zap.String("component", "integrity"))}
}

// PruneOrphanLinks löscht jede Verknüpfung, deren Eintrag, Kategorie oder
// Experiment nicht mehr existiert. Ein zweiter Aufruf löscht nichts.
func (i *Integrity) PruneOrphanLinks(ctx context.Context) (PruneResult, error) {
	var res PruneResult
	steps := []struct {
		dst  *int64
		stmt string
	}{
		{&res.EntryCategories, `DELETE FROM entry_categories
			WHERE bibkey NOT IN (SELECT bibkey FROM entries)
			OR id_cat NOT IN (SELECT id_cat FROM categories)`},
		{&res.EntryExperiments, `DELETE FROM entry_experiments
			WHERE bibkey NOT IN (SELECT bibkey FROM entries)
			OR id_exp NOT IN (SELECT id_exp FROM experiments)`},
		{&res.CategoryExperiments, `DELETE FROM category_experiments
			WHERE id_cat NOT IN (SELECT id_cat FROM categories)
			OR id_exp NOT IN (SELECT id_exp FROM experiments)`},
	}
	for _, s := range steps {
		n, err := i.store.Exec(ctx, s.stmt)
		if err != nil {
			return res, err
		}
		*s.dst = n
	}
	i.logger.Info("Orphan links pruned",
		zap.Int64("entry_categories", res.EntryCategories),
		zap.Int64("entry_experiments", res.EntryExperiments),
		zap.Int64("category_experiments", res.CategoryExperiments))
	return res, nil
}
