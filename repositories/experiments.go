package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"physbib/apperrors"
	"physbib/models"
	"physbib/storage"
)

// Experiments kapselt die flache Experiment-Tabelle.
type Experiments struct {
	store  *storage.Store
	logger *zap.Logger
}

func NewExperiments(store *storage.Store, logger *zap.Logger) *Experiments {
	return &Experiments{store: store, logger: logger.With(zap.String("repository", "experiments"))}
}

func (r *Experiments) Insert(ctx context.Context, e *models.Experiment) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: experiment name", apperrors.ErrEmptyValue)
	}
	e.IDExp = 0
	_, err := r.store.Mutate(ctx, "insert experiment", func(tx *gorm.DB) *gorm.DB {
		return tx.Create(e)
	})
	return err
}

// Update schreibt alle Felder; ohne vorhandene Zeile wird angelegt.
func (r *Experiments) Update(ctx context.Context, e *models.Experiment) error {
	n, err := r.store.Mutate(ctx, "update experiment", func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.Experiment{}).Where("id_exp = ?", e.IDExp).
			Select("name", "comments", "homepage", "inspire").Updates(e)
	})
	if err != nil || n > 0 {
		return err
	}
	_, err = r.store.Mutate(ctx, "insert experiment", func(tx *gorm.DB) *gorm.DB {
		return tx.Create(e)
	})
	return err
}

func (r *Experiments) UpdateField(ctx context.Context, idExp int, field, value string) error {
	if !models.ContainsColumn(models.ExperimentColumns, field) {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidField, field)
	}
	if value == "" {
		return fmt.Errorf("%w for field %q", apperrors.ErrEmptyValue, field)
	}
	n, err := r.store.Mutate(ctx, "update experiment field", func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.Experiment{}).Where("id_exp = ?", idExp).Update(field, value)
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: experiment %d", apperrors.ErrNotFound, idExp)
	}
	return nil
}

// Delete löscht das Experiment und seine Verknüpfungen.
func (r *Experiments) Delete(ctx context.Context, idExp int) error {
	for _, stmt := range []string{
		"DELETE FROM experiments WHERE id_exp = ?",
		"DELETE FROM category_experiments WHERE id_exp = ?",
		"DELETE FROM entry_experiments WHERE id_exp = ?",
	} {
		if _, err := r.store.Exec(ctx, stmt, idExp); err != nil {
			return err
		}
	}
	return nil
}

func (r *Experiments) GetByID(ctx context.Context, idExp int) (*models.Experiment, error) {
	var e models.Experiment
	err := r.store.Query(ctx).Where("id_exp = ?", idExp).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: experiment %d", apperrors.ErrNotFound, idExp)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return &e, nil
}

// GetByName sucht Experimente, deren Name name enthält.
func (r *Experiments) GetByName(ctx context.Context, name string) ([]models.Experiment, error) {
	var exps []models.Experiment
	err := r.store.Query(ctx).Where("name LIKE ?", "%"+name+"%").Order("name").Find(&exps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search experiments: %w", err)
	}
	return exps, nil
}

// GetAll sortiert nach orderBy (Standard name) und Richtung ASC/DESC.
func (r *Experiments) GetAll(ctx context.Context, orderBy, dir string) ([]models.Experiment, error) {
	if orderBy != "id_exp" && !models.ContainsColumn(models.ExperimentColumns, orderBy) {
		orderBy = "name"
	}
	if !strings.EqualFold(dir, "DESC") {
		dir = "ASC"
	}
	var exps []models.Experiment
	if err := r.store.Query(ctx).Order(orderBy + " " + strings.ToUpper(dir)).Find(&exps).Error; err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	return exps, nil
}

func (r *Experiments) GetByEntry(ctx context.Context, bibkey string) ([]models.Experiment, error) {
	var exps []models.Experiment
	err := r.store.Query(ctx).Table("experiments").Select("experiments.*").
		Joins("JOIN entry_experiments ON experiments.id_exp = entry_experiments.id_exp").
		Where("entry_experiments.bibkey = ?", bibkey).Order("experiments.id_exp").Scan(&exps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get experiments of entry: %w", err)
	}
	return exps, nil
}

func (r *Experiments) GetByCategory(ctx context.Context, idCat int) ([]models.Experiment, error) {
	var exps []models.Experiment
	err := r.store.Query(ctx).Table("experiments").Select("experiments.*").
		Joins("JOIN category_experiments ON experiments.id_exp = category_experiments.id_exp").
		Where("category_experiments.id_cat = ?", idCat).Order("experiments.id_exp").Scan(&exps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get experiments of category: %w", err)
	}
	return exps, nil
}
