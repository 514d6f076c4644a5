package repositories

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"physbib/apperrors"
	"physbib/models"
	"physbib/storage"
)

// Links verwaltet die drei Verknüpfungstabellen.
type Links struct {
	store  *storage.Store
	logger *zap.Logger
}

func NewLinks(store *storage.Store, logger *zap.Logger) *Links {
	return &Links{store: store, logger: logger.With(zap.String("repository", "links"))}
}

func (r *Links) count(ctx context.Context, model any, where string, args ...any) (int64, error) {
	var n int64
	if err := r.store.Query(ctx).Model(model).Where(where, args...).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to look up link: %w", err)
	}
	return n, nil
}

// InsertEntryCategory verknüpft einen Eintrag mit einer Kategorie.
func (r *Links) InsertEntryCategory(ctx context.Context, bibkey string, idCat int) error {
	n, err := r.count(ctx, &models.EntryCategory{}, "bibkey = ? AND id_cat = ?", bibkey, idCat)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Debug("entry category already present", zap.String("bibkey", bibkey), zap.Int("id_cat", idCat))
		return fmt.Errorf("%w: entry %s already in category %d", apperrors.ErrConflict, bibkey, idCat)
	}
	_, err = r.store.Mutate(ctx, "insert entry category", func(tx *gorm.DB) *gorm.DB {
		return tx.Create(&models.EntryCategory{Bibkey: bibkey, IDCat: idCat})
	})
	return err
}

func (r *Links) DeleteEntryCategory(ctx context.Context, bibkey string, idCat int) error {
	_, err := r.store.Exec(ctx, "DELETE FROM entry_categories WHERE bibkey = ? AND id_cat = ?", bibkey, idCat)
	return err
}

func (r *Links) GetEntryCategory(ctx context.Context, bibkey string, idCat int) ([]models.EntryCategory, error) {
	var rows []models.EntryCategory
	err := r.store.Query(ctx).Where("bibkey = ? AND id_cat = ?", bibkey, idCat).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get entry category: %w", err)
	}
	return rows, nil
}

func (r *Links) AllEntryCategories(ctx context.Context) ([]models.EntryCategory, error) {
	var rows []models.EntryCategory
	if err := r.store.Query(ctx).Order("bibkey, id_cat").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list entry categories: %w", err)
	}
	return rows, nil
}

// InsertEntryExperiment verknüpft einen Eintrag mit einem Experiment und
// übernimmt zusätzlich alle Kategorien des Experiments auf den Eintrag.
func (r *Links) InsertEntryExperiment(ctx context.Context, bibkey string, idExp int) error {
	n, err := r.count(ctx, &models.EntryExperiment{}, "bibkey = ? AND id_exp = ?", bibkey, idExp)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: entry %s already in experiment %d", apperrors.ErrConflict, bibkey, idExp)
	}
	_, err = r.store.Mutate(ctx, "insert entry experiment", func(tx *gorm.DB) *gorm.DB {
		return tx.Create(&models.EntryExperiment{Bibkey: bibkey, IDExp: idExp})
	})
	if err != nil {
		return err
	}

	var catIDs []int
	err = r.store.Query(ctx).Model(&models.CategoryExperiment{}).Where("id_exp = ?", idExp).
		Order("id_cat").Pluck("id_cat", &catIDs).Error
	if err != nil {
		return fmt.Errorf("failed to get categories of experiment %d: %w", idExp, err)
	}
	for _, idCat := range catIDs {
		n, err := r.count(ctx, &models.EntryCategory{}, "bibkey = ? AND id_cat = ?", bibkey, idCat)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		_, err = r.store.Mutate(ctx, "insert entry category", func(tx *gorm.DB) *gorm.DB {
			return tx.Create(&models.EntryCategory{Bibkey: bibkey, IDCat: idCat})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Links) DeleteEntryExperiment(ctx context.Context, bibkey string, idExp int) error {
	_, err := r.store.Exec(ctx, "DELETE FROM entry_experiments WHERE bibkey = ? AND id_exp = ?", bibkey, idExp)
	return err
}

func (r *Links) GetEntryExperiment(ctx context.Context, bibkey string, idExp int) ([]models.EntryExperiment, error) {
	var rows []models.EntryExperiment
	err := r.store.Query(ctx).Where("bibkey = ? AND id_exp = ?", bibkey, idExp).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get entry experiment: %w", err)
	}
	return rows, nil
}

func (r *Links) AllEntryExperiments(ctx context.Context) ([]models.EntryExperiment, error) {
	var rows []models.EntryExperiment
	if err := r.store.Query(ctx).Order("bibkey, id_exp").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list entry experiments: %w", err)
	}
	return rows, nil
}

// InsertCategoryExperiment verknüpft eine Kategorie mit einem Experiment.
func (r *Links) InsertCategoryExperiment(ctx context.Context, idCat, idExp int) error {
	n, err := r.count(ctx, &models.CategoryExperiment{}, "id_cat = ? AND id_exp = ?", idCat, idExp)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: category %d already linked to experiment %d", apperrors.ErrConflict, idCat, idExp)
	}
	_, err = r.store.Mutate(ctx, "insert category experiment", func(tx *gorm.DB) *gorm.DB {
		return tx.Create(&models.CategoryExperiment{IDCat: idCat, IDExp: idExp})
	})
	return err
}

func (r *Links) DeleteCategoryExperiment(ctx context.Context, idCat, idExp int) error {
	_, err := r.store.Exec(ctx, "DELETE FROM category_experiments WHERE id_cat = ? AND id_exp = ?", idCat, idExp)
	return err
}

func (r *Links) GetCategoryExperiment(ctx context.Context, idCat, idExp int) ([]models.CategoryExperiment, error) {
	var rows []models.CategoryExperiment
	err := r.store.Query(ctx).Where("id_cat = ? AND id_exp = ?", idCat, idExp).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get category experiment: %w", err)
	}
	return rows, nil
}

func (r *Links) AllCategoryExperiments(ctx context.Context) ([]models.CategoryExperiment, error) {
	var rows []models.CategoryExperiment
	if err := r.store.Query(ctx).Order("id_cat, id_exp").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list category experiments: %w", err)
	}
	return rows, nil
}
