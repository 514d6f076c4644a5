package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"physbib/apperrors"
	"physbib/models"
	"physbib/storage"
)

// Categories kapselt den Kategorienbaum und seine Verknüpfungen.
type Categories struct {
	store  *storage.Store
	logger *zap.Logger
}

func NewCategories(store *storage.Store, logger *zap.Logger) *Categories {
	return &Categories{store: store, logger: logger.With(zap.String("repository", "categories"))}
}

// Insert legt eine Kategorie an; derselbe Name unter demselben Parent ist nicht erlaubt.
func (r *Categories) Insert(ctx context.Context, c *models.Category) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: category name", apperrors.ErrEmptyValue)
	}
	var n int64
	err := r.store.Query(ctx).Model(&models.Category{}).
		Where("name = ? AND parent_cat = ?", c.Name, c.ParentCat).Count(&n).Error
	if err != nil {
		return fmt.Errorf("failed to check category name: %w", err)
	}
	if n > 0 {
		r.logger.Warn("Category with the same name already present under parent",
			zap.String("name", c.Name), zap.Int("parent", c.ParentCat))
		return fmt.Errorf("%w: category %q under %d", apperrors.ErrConflict, c.Name, c.ParentCat)
	}
	c.IDCat = 0
	_, err = r.store.Mutate(ctx, "insert category", func(tx *gorm.DB) *gorm.DB {
		return tx.Create(c)
	})
	return err
}

// Update schreibt alle Felder der Kategorie c.IDCat; existiert sie nicht, wird sie angelegt.
func (r *Categories) Update(ctx context.Context, c *models.Category) error {
	n, err := r.store.Mutate(ctx, "update category", func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.Category{}).Where("id_cat = ?", c.IDCat).
			Select("name", "description", "parent_cat", "comments", "ord").Updates(c)
	})
	if err != nil || n > 0 {
		return err
	}
	_, err = r.store.Exec(ctx,
		"INSERT INTO categories (id_cat, name, description, parent_cat, comments, ord) VALUES (?, ?, ?, ?, ?, ?)",
		c.IDCat, c.Name, c.Description, c.ParentCat, c.Comments, c.Ord)
	return err
}

// UpdateField ändert eine einzelne Spalte.
func (r *Categories) UpdateField(ctx context.Context, idCat int, field, value string) error {
	if !models.ContainsColumn(models.CategoryColumns, field) {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidField, field)
	}
	if value == "" {
		return fmt.Errorf("%w for field %q", apperrors.ErrEmptyValue, field)
	}
	var v any = value
	if field == "parent_cat" || field == "ord" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %q needs an integer", apperrors.ErrInvalidField, field)
		}
		v = n
	}
	n, err := r.store.Mutate(ctx, "update category field", func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.Category{}).Where("id_cat = ?", idCat).Update(field, v)
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: category %d", apperrors.ErrNotFound, idCat)
	}
	return nil
}

// Delete löscht die Kategorie mit allen Unterkategorien und deren Verknüpfungen.
// Die Kategorien 0 und 1 werden nie gelöscht.
func (r *Categories) Delete(ctx context.Context, idCat int) error {
	if models.IsReservedCategory(idCat) {
		r.logger.Warn("Refusing to delete reserved category", zap.Int("id_cat", idCat))
		return fmt.Errorf("%w: %d", apperrors.ErrReservedCategory, idCat)
	}
	all, err := r.GetAll(ctx)
	if err != nil {
		return err
	}
	ids := newCategoryTree(all).descendants(idCat)
	ids = append(ids, idCat)
	for _, id := range ids {
		if models.IsReservedCategory(id) {
			continue
		}
		for _, stmt := range []string{
			"DELETE FROM categories WHERE id_cat = ?",
			"DELETE FROM category_experiments WHERE id_cat = ?",
			"DELETE FROM entry_categories WHERE id_cat = ?",
		} {
			if _, err := r.store.Exec(ctx, stmt, id); err != nil {
				return err
			}
		}
	}
	r.logger.Info("Category deleted", zap.Int("id_cat", idCat), zap.Int("with_descendants", len(ids)-1))
	return nil
}

// GetByID liefert eine Kategorie.
func (r *Categories) GetByID(ctx context.Context, idCat int) (*models.Category, error) {
	var c models.Category
	err := r.store.Query(ctx).Where("id_cat = ?", idCat).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: category %d", apperrors.ErrNotFound, idCat)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

// GetByName sucht Kategorien, deren Name name enthält.
func (r *Categories) GetByName(ctx context.Context, name string) ([]models.Category, error) {
	var cats []models.Category
	err := r.store.Query(ctx).Where("name LIKE ?", "%"+name+"%").Order("id_cat").Find(&cats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search categories: %w", err)
	}
	return cats, nil
}

// GetAll liefert alle Kategorien nach ID sortiert.
func (r *Categories) GetAll(ctx context.Context) ([]models.Category, error) {
	var cats []models.Category
	if err := r.store.Query(ctx).Order("id_cat").Find(&cats).Error; err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return cats, nil
}

// GetChildren liefert die direkten Unterkategorien; die Wurzel ist nie ihr eigenes Kind.
func (r *Categories) GetChildren(ctx context.Context, parent int) ([]models.Category, error) {
	var cats []models.Category
	err := r.store.Query(ctx).Where("parent_cat = ? AND id_cat <> ?", parent, models.CategoryMain).
		Order("ord, id_cat").Find(&cats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get child categories: %w", err)
	}
	return cats, nil
}

// GetParent liefert die übergeordnete Kategorie.
func (r *Categories) GetParent(ctx context.Context, child int) (*models.Category, error) {
	c, err := r.GetByID(ctx, child)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, c.ParentCat)
}

// GetByEntry liefert alle Kategorien eines Eintrags.
func (r *Categories) GetByEntry(ctx context.Context, bibkey string) ([]models.Category, error) {
	var cats []models.Category
	err := r.store.Query(ctx).Table("categories").Select("categories.*").
		Joins("JOIN entry_categories ON categories.id_cat = entry_categories.id_cat").
		Where("entry_categories.bibkey = ?", bibkey).Order("categories.id_cat").Scan(&cats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get categories of entry: %w", err)
	}
	return cats, nil
}

// GetByExperiment liefert alle Kategorien eines Experiments.
func (r *Categories) GetByExperiment(ctx context.Context, idExp int) ([]models.Category, error) {
	var cats []models.Category
	err := r.store.Query(ctx).Table("categories").Select("categories.*").
		Joins("JOIN category_experiments ON categories.id_cat = category_experiments.id_cat").
		Where("category_experiments.id_exp = ?", idExp).Order("categories.id_cat").Scan(&cats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get categories of experiment: %w", err)
	}
	return cats, nil
}

// Hierarchy baut den Baum ab root (0 für den ganzen Baum).
func (r *Categories) Hierarchy(ctx context.Context, root int) (*CategoryNode, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	t := newCategoryTree(all)
	if _, ok := t.byID[root]; !ok {
		return nil, fmt.Errorf("%w: category %d", apperrors.ErrNotFound, root)
	}
	return t.build(root), nil
}
