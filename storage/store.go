package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"physbib/config"
	"physbib/models"
)

const stmtSavepoint = "physbib_stmt"

// Observer wird über ausgeführte und fehlgeschlagene Statements informiert.
type Observer interface {
	StatementExecuted(op string)
	StatementFailed(op string)
	Committed()
	RolledBack()
}

// Store besitzt die Datenbankverbindung und die laufende Arbeitstransaktion.
// Alle Lese- und Schreibzugriffe laufen über diese Transaktion, Commit und
// Rollback werden ausschließlich explizit ausgelöst.
type Store struct {
	db       *gorm.DB
	tx       *gorm.DB
	driver   string
	path     string
	dirty    atomic.Bool
	logger   *zap.Logger
	observer Observer
}

// Open öffnet die konfigurierte Datenbank, migriert das Schema und startet
// die Arbeitstransaktion.
func Open(cfg *config.Config, log *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:     db,
		driver: db.Dialector.Name(),
		path:   cfg.DBPath,
		logger: log.With(zap.String("component", "store")),
	}

	if s.driver == "sqlite" {
		// Eine Verbindung, damit :memory: und die Arbeitstransaktion dieselbe DB sehen.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = OFF").Error; err != nil {
			return nil, err
		}
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	if err := s.seedReservedCategories(); err != nil {
		return nil, err
	}
	if err := s.begin(); err != nil {
		return nil, err
	}

	s.logger.Info("Database opened", zap.String("driver", s.driver))
	return s, nil
}

// SetObserver registriert einen Beobachter, z.B. die Prometheus-Metriken.
func (s *Store) SetObserver(o Observer) {
	s.observer = o
}

// Driver liefert den Namen des verwendeten Dialekts ("sqlite" oder "postgres").
func (s *Store) Driver() string {
	return s.driver
}

// Path ist der Dateipfad der SQLite-Datenbank.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) seedReservedCategories() error {
	seeds := []models.Category{
		{IDCat: models.CategoryMain, Name: "Main", Description: "This is the main category. All the other ones are subcategories of this one", ParentCat: 0},
		{IDCat: models.CategoryTags, Name: "Tags", Description: "Use this category to store tags (such as: ongoing projects, temporary cats,...)", ParentCat: 0},
	}
	for _, c := range seeds {
		var n int64
		if err := s.db.Model(&models.Category{}).Where("id_cat = ?", c.IDCat).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check reserved category %d: %w", c.IDCat, err)
		}
		if n > 0 {
			continue
		}
		err := s.db.Exec(
			"INSERT INTO categories (id_cat, name, description, parent_cat, comments, ord) VALUES (?, ?, ?, ?, '', 0)",
			c.IDCat, c.Name, c.Description, c.ParentCat,
		).Error
		if err != nil {
			return fmt.Errorf("failed to seed category %q: %w", c.Name, err)
		}
	}
	if s.driver == "postgres" {
		err := s.db.Exec("SELECT setval(pg_get_serial_sequence('categories', 'id_cat'), (SELECT MAX(id_cat) FROM categories))").Error
		if err != nil {
			return fmt.Errorf("failed to advance category sequence: %w", err)
		}
	}
	return nil
}

func (s *Store) begin() error {
	tx := s.db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	s.tx = tx
	return nil
}

// Query liefert einen Handle für Lesezugriffe innerhalb der Arbeitstransaktion.
func (s *Store) Query(ctx context.Context) *gorm.DB {
	return s.tx.WithContext(ctx)
}

// Mutate führt eine schreibende Operation aus. Ein Fehler wird geloggt, auf
// den Savepoint vor dem Statement zurückgerollt und zurückgegeben; die
// Transaktion bleibt benutzbar. Bei Erfolg ist der Store "dirty".
func (s *Store) Mutate(ctx context.Context, op string, fn func(tx *gorm.DB) *gorm.DB) (int64, error) {
	tx := s.tx.WithContext(ctx)
	if err := tx.SavePoint(stmtSavepoint).Error; err != nil {
		s.fail(op, err)
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}

	res := fn(tx)
	if res.Error != nil {
		if rbErr := tx.RollbackTo(stmtSavepoint).Error; rbErr != nil {
			s.logger.Error("Rollback to savepoint failed", zap.String("op", op), zap.Error(rbErr))
		} else {
			_ = tx.Exec("RELEASE SAVEPOINT " + stmtSavepoint).Error
		}
		s.fail(op, res.Error)
		return 0, fmt.Errorf("failed to %s: %w", op, res.Error)
	}
	_ = tx.Exec("RELEASE SAVEPOINT " + stmtSavepoint).Error

	s.dirty.Store(true)
	if s.observer != nil {
		s.observer.StatementExecuted(op)
	}
	return res.RowsAffected, nil
}

// Exec ist das rohe Schreib-Primitiv über Mutate.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return s.Mutate(ctx, "execute statement", func(tx *gorm.DB) *gorm.DB {
		return tx.Exec(query, args...)
	})
}

func (s *Store) fail(op string, err error) {
	s.logger.Error("Database statement failed", zap.String("op", op), zap.Error(err))
	if s.observer != nil {
		s.observer.StatementFailed(op)
	}
}

// IsDirty meldet, ob seit dem letzten Commit/Rollback geändert wurde.
func (s *Store) IsDirty() bool {
	return s.dirty.Load()
}

// Commit schreibt die Arbeitstransaktion fest und startet eine neue.
func (s *Store) Commit() error {
	if err := s.tx.Commit().Error; err != nil {
		s.logger.Error("Commit failed", zap.Error(err))
		return errors.Join(fmt.Errorf("failed to commit: %w", err), s.begin())
	}
	s.dirty.Store(false)
	if s.observer != nil {
		s.observer.Committed()
	}
	return s.begin()
}

// Rollback verwirft alle Änderungen seit dem letzten Commit.
func (s *Store) Rollback() error {
	if err := s.tx.Rollback().Error; err != nil {
		s.logger.Error("Rollback failed", zap.Error(err))
		return errors.Join(fmt.Errorf("failed to rollback: %w", err), s.begin())
	}
	s.dirty.Store(false)
	if s.observer != nil {
		s.observer.RolledBack()
	}
	return s.begin()
}

// Close verwirft nicht festgeschriebene Änderungen und schließt die Verbindung.
func (s *Store) Close() error {
	if s.IsDirty() {
		s.logger.Warn("Closing database with uncommitted changes, they are discarded")
	}
	if s.tx != nil {
		_ = s.tx.Rollback().Error
		s.tx = nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
