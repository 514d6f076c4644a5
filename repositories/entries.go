package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"physbib/apperrors"
	"physbib/bibtex"
	"physbib/models"
	"physbib/query"
	"physbib/storage"
)

// FetchedEntry ist ein Eintrag mit den aus dem BibTeX abgeleiteten Feldern.
type FetchedEntry struct {
	models.Entry
	Title      string            `json:"title"`
	Author     string            `json:"author"`
	Journal    string            `json:"journal"`
	Volume     string            `json:"volume"`
	Number     string            `json:"number"`
	Pages      string            `json:"pages"`
	Published  string            `json:"published"`
	BibtexDict map[string]string `json:"bibtex_dict"`
}

// Entries kapselt alle Zugriffe auf die Tabelle entries.
type Entries struct {
	store          *storage.Store
	logger         *zap.Logger
	maxAuthorNames int

	lastQuery *query.Compiled
}

// NewEntries erstellt das Repository. maxAuthorNames steuert die Kürzung der Autorenliste.
func NewEntries(store *storage.Store, maxAuthorNames int, logger *zap.Logger) *Entries {
	return &Entries{
		store:          store,
		logger:         logger.With(zap.String("repository", "entries")),
		maxAuthorNames: maxAuthorNames,
	}
}

// Insert legt einen neuen Eintrag an. Leere und bereits vorhandene Schlüssel werden abgelehnt.
func (r *Entries) Insert(ctx context.Context, e *models.Entry) error {
	if strings.TrimSpace(e.Bibkey) == "" {
		return apperrors.ErrEmptyKey
	}
	exists, err := r.Exists(ctx, e.Bibkey)
	if err != nil {
		return err
	}
	if exists {
		r.logger.Warn("Bibkey already exists", zap.String("bibkey", e.Bibkey))
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicateKey, e.Bibkey)
	}
	_, err = r.store.Mutate(ctx, "insert entry", func(tx *gorm.DB) *gorm.DB {
		return tx.Create(e)
	})
	return err
}

// Update schreibt den Eintrag vollständig (insert or replace über den Bibkey).
func (r *Entries) Update(ctx context.Context, e *models.Entry) error {
	if strings.TrimSpace(e.Bibkey) == "" {
		return apperrors.ErrEmptyKey
	}
	_, err := r.store.Mutate(ctx, "upsert entry", func(tx *gorm.DB) *gorm.DB {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(e)
	})
	return err
}

// UpdateField ändert eine einzelne Spalte. Unbekannte Spalten, der Bibkey
// selbst und leere Werte werden abgelehnt.
func (r *Entries) UpdateField(ctx context.Context, bibkey, field, value string) error {
	if !models.IsEntryColumn(field) || field == "bibkey" {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidField, field)
	}
	if value == "" {
		return fmt.Errorf("%w for field %q", apperrors.ErrEmptyValue, field)
	}
	var v any = value
	if models.IsEntryFlag(field) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: flag %q needs 0 or 1", apperrors.ErrInvalidField, field)
		}
		v = models.BoolInt(n != 0)
	}
	n, err := r.store.Mutate(ctx, "update entry field", func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.Entry{}).Where("bibkey = ?", bibkey).Update(field, v)
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrNotFound, bibkey)
	}
	return nil
}

// SetFlag setzt eine der Klassifikationsspalten (book, lecture, ...).
func (r *Entries) SetFlag(ctx context.Context, bibkey, flag string, on bool) error {
	if !models.IsEntryFlag(flag) {
		return fmt.Errorf("%w: %q is not a flag", apperrors.ErrInvalidField, flag)
	}
	return r.UpdateField(ctx, bibkey, flag, strconv.Itoa(models.BoolInt(on)))
}

// UpdateBibkey benennt einen Eintrag um: Zeile, gespeicherter Text, old_keys
// und beide Verknüpfungstabellen. Schlägt ein Schritt fehl, ist die
// Umbenennung fehlgeschlagen und der Aufrufer muss zurückrollen.
func (r *Entries) UpdateBibkey(ctx context.Context, oldKey, newKey string) error {
	if strings.TrimSpace(newKey) == "" {
		return apperrors.ErrEmptyKey
	}
	if oldKey == newKey {
		return nil
	}
	e, err := r.GetByBibkey(ctx, oldKey)
	if err != nil {
		return err
	}
	exists, err := r.Exists(ctx, newKey)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicateKey, newKey)
	}

	text := e.Bibtex
	if replaced, err := bibtex.ReplaceKey(e.Bibtex, newKey); err == nil {
		text = replaced
	} else {
		r.logger.Warn("Could not rewrite key in bibtex", zap.String("bibkey", oldKey), zap.Error(err))
	}
	oldKeys := appendOldKey(e.OldKeys, oldKey)

	log := r.logger.With(zap.String("old", oldKey), zap.String("new", newKey))
	if _, err := r.store.Exec(ctx,
		"UPDATE entries SET bibkey = ?, bibtex = ?, old_keys = ? WHERE bibkey = ?",
		newKey, text, oldKeys, oldKey); err != nil {
		log.Error("Renaming entry failed", zap.Error(err))
		return err
	}
	if _, err := r.store.Exec(ctx, "UPDATE entry_categories SET bibkey = ? WHERE bibkey = ?", newKey, oldKey); err != nil {
		log.Error("Renaming entry categories failed", zap.Error(err))
		return err
	}
	if _, err := r.store.Exec(ctx, "UPDATE entry_experiments SET bibkey = ? WHERE bibkey = ?", newKey, oldKey); err != nil {
		log.Error("Renaming entry experiments failed", zap.Error(err))
		return err
	}
	log.Info("Bibkey renamed")
	return nil
}

func appendOldKey(oldKeys, key string) string {
	var keys []string
	for _, k := range strings.Split(oldKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			if k == key {
				return oldKeys
			}
			keys = append(keys, k)
		}
	}
	return strings.Join(append(keys, key), ",")
}

// Delete löscht den Eintrag und alle seine Verknüpfungen.
func (r *Entries) Delete(ctx context.Context, bibkey string) error {
	for _, stmt := range []string{
		"DELETE FROM entries WHERE bibkey = ?",
		"DELETE FROM entry_categories WHERE bibkey = ?",
		"DELETE FROM entry_experiments WHERE bibkey = ?",
	} {
		if _, err := r.store.Exec(ctx, stmt, bibkey); err != nil {
			return err
		}
	}
	return nil
}

// Exists meldet, ob bibkey vorhanden ist.
func (r *Entries) Exists(ctx context.Context, bibkey string) (bool, error) {
	var n int64
	if err := r.store.Query(ctx).Model(&models.Entry{}).Where("bibkey = ?", bibkey).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check bibkey: %w", err)
	}
	return n > 0, nil
}

// GetByBibkey liefert genau den Eintrag mit diesem Schlüssel.
func (r *Entries) GetByBibkey(ctx context.Context, bibkey string) (*FetchedEntry, error) {
	var e models.Entry
	err := r.store.Query(ctx).Where("bibkey = ?", bibkey).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, bibkey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", bibkey, err)
	}
	f := r.complete(e)
	return &f, nil
}

// GetByInspire sucht einen Eintrag über die INSPIRE-ID.
func (r *Entries) GetByInspire(ctx context.Context, inspireID string) (*FetchedEntry, error) {
	var e models.Entry
	err := r.store.Query(ctx).Where("inspire = ?", inspireID).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: inspire %s", apperrors.ErrNotFound, inspireID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry by inspire id: %w", err)
	}
	f := r.complete(e)
	return &f, nil
}

// GetByKey sucht key in bibkey, old_keys und im BibTeX.
func (r *Entries) GetByKey(ctx context.Context, key string) ([]FetchedEntry, error) {
	return r.GetAll(ctx, query.Spec{Fields: map[string]query.FieldFilter{
		"bibkey":   {Value: key, Match: query.Contains},
		"old_keys": {Value: key, Match: query.Contains, Connector: query.Or},
		"bibtex":   {Value: key, Match: query.Contains, Connector: query.Or},
	}})
}

// GetByBibtex sucht einen Text im gespeicherten BibTeX.
func (r *Entries) GetByBibtex(ctx context.Context, text string) ([]FetchedEntry, error) {
	return r.GetAll(ctx, query.Spec{Fields: map[string]query.FieldFilter{
		"bibtex": {Value: text, Match: query.Contains},
	}})
}

// GetByCategory liefert alle Einträge einer Kategorie.
func (r *Entries) GetByCategory(ctx context.Context, idCat int) ([]FetchedEntry, error) {
	return r.GetAll(ctx, query.Spec{Categories: &query.IDSet{IDs: []int{idCat}}})
}

// GetByExperiment liefert alle Einträge eines Experiments.
func (r *Entries) GetByExperiment(ctx context.Context, idExp int) ([]FetchedEntry, error) {
	return r.GetAll(ctx, query.Spec{Experiments: &query.IDSet{IDs: []int{idExp}}})
}

// GetAll führt die Filterbeschreibung aus und merkt sich die Abfrage für FetchLast.
func (r *Entries) GetAll(ctx context.Context, spec query.Spec) ([]FetchedEntry, error) {
	compiled := query.Build(spec)
	if len(compiled.Skipped) > 0 {
		r.logger.Warn("Ignoring unknown filter fields", zap.Strings("fields", compiled.Skipped))
	}
	r.lastQuery = &compiled
	return r.run(ctx, compiled)
}

// FetchLast wiederholt die letzte Abfrage von GetAll.
func (r *Entries) FetchLast(ctx context.Context) ([]FetchedEntry, error) {
	if r.lastQuery == nil {
		return r.GetAll(ctx, query.Spec{})
	}
	return r.run(ctx, *r.lastQuery)
}

// LastQuery liefert die zuletzt ausgeführte Abfrage.
func (r *Entries) LastQuery() (query.Compiled, bool) {
	if r.lastQuery == nil {
		return query.Compiled{}, false
	}
	return *r.lastQuery, true
}

// Page liefert Einträge ab offset in Standardreihenfolge, ohne die letzte Abfrage zu überschreiben.
func (r *Entries) Page(ctx context.Context, offset, limit int) ([]FetchedEntry, error) {
	return r.run(ctx, query.Build(query.Spec{Offset: offset, Limit: limit}))
}

func (r *Entries) run(ctx context.Context, c query.Compiled) ([]FetchedEntry, error) {
	var rows []models.Entry
	if err := r.store.Query(ctx).Raw(c.SQL, c.Args...).Scan(&rows).Error; err != nil {
		r.logger.Error("Entry query failed", zap.String("sql", c.SQL), zap.Error(err))
		return nil, fmt.Errorf("failed to fetch entries: %w", err)
	}
	out := make([]FetchedEntry, 0, len(rows))
	for _, e := range rows {
		out = append(out, r.complete(e))
	}
	return out, nil
}

// Count liefert die Anzahl der Einträge.
func (r *Entries) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.store.Query(ctx).Model(&models.Entry{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// ListBibkeys liefert alle Schlüssel.
func (r *Entries) ListBibkeys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := r.store.Query(ctx).Model(&models.Entry{}).Order("bibkey").Pluck("bibkey", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list bibkeys: %w", err)
	}
	return keys, nil
}

// complete ergänzt die abgeleiteten Felder. Ein nicht lesbares BibTeX
// ergibt leere Felder, die Abfrage schlägt deshalb nicht fehl.
func (r *Entries) complete(e models.Entry) FetchedEntry {
	f := FetchedEntry{Entry: e, BibtexDict: map[string]string{}}
	records, errs := bibtex.Parse(e.Bibtex)
	if len(errs) > 0 {
		r.logger.Warn("Problem parsing stored bibtex", zap.String("bibkey", e.Bibkey), zap.Error(errs[0]))
	}
	if len(records) == 0 {
		return f
	}
	rec := records[0]
	f.BibtexDict = rec.Map()
	f.Title = rec.Value("title")
	f.Journal = rec.Value("journal")
	f.Volume = rec.Value("volume")
	f.Number = rec.Value("number")
	f.Pages = rec.Value("pages")
	f.Author = ShortAuthors(rec.Value("author"), r.maxAuthorNames)
	if f.Journal != "" {
		f.Published = strings.Join([]string{f.Journal, f.Volume, "(" + e.Year + ")", f.Pages}, " ")
	}
	return f
}

// ShortAuthors kürzt die Autorenliste auf den ersten Namen plus "et al.",
// wenn sie mehr als max Namen enthält.
func ShortAuthors(author string, max int) string {
	names := strings.Split(author, " and ")
	if max > 0 && len(names) > max {
		return strings.TrimSpace(names[0]) + " et al."
	}
	return author
}
