package services

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"physbib/apperrors"
	"physbib/bibtex"
	"physbib/models"
	"physbib/providers"
	"physbib/repositories"
)

func canonical(t *testing.T, raw string) string {
	t.Helper()
	res := bibtex.Normalize(raw)
	require.Empty(t, res.Errors)
	return res.Text
}

func TestReconcileOneUnchangedWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	text := canonical(t, `@Article{K, author = "Doe, J.", title = {T}, doi = "10.1/x"}`)
	require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "K", Bibtex: text, Inspire: "42", Doi: "10.1/x", Year: "2020"}))
	require.NoError(t, f.store.Commit())

	f.provider.records["42"] = providers.Metadata{"id": "42", "bibkey": "K", "doi": "10.1/x", "year": "2020", "bibtex": text}

	res, err := f.reconciler.ReconcileOne(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "K", res.Bibkey)
	assert.False(t, res.Changed)
	assert.Empty(t, res.Writes)
	assert.False(t, f.store.IsDirty())
}

func TestReconcileOneWritesDifferencesAndKeepsLocalFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	local := canonical(t, `@Article{K, title = {T}, doi = "10.1/x", note = "mine"}`)
	require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "K", Bibtex: local, Inspire: "42", Doi: "10.1/x"}))

	incoming := canonical(t, `@Article{K, title = {T}, doi = "10.1/y", journal = "PRD"}`)
	f.provider.records["42"] = providers.Metadata{"id": "42", "bibkey": "K", "doi": "10.1/y", "ads": "", "bibtex": incoming}

	// Bibkey statt ID wird über die gespeicherte INSPIRE-ID aufgelöst
	res, err := f.reconciler.ReconcileOne(ctx, "K")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{"doi", "bibtex"}, res.Writes)

	got, err := f.entries.GetByBibkey(ctx, "K")
	require.NoError(t, err)
	assert.Equal(t, "10.1/y", got.Doi)
	assert.Equal(t, "mine", got.BibtexDict["note"])
	assert.Equal(t, "PRD", got.BibtexDict["journal"])
	assert.Equal(t, "10.1/y", got.BibtexDict["doi"])
}

func TestReconcileOneFetchFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.fetchErr = fmt.Errorf("timeout")

	_, err := f.reconciler.ReconcileOne(context.Background(), "42")
	assert.ErrorIs(t, err, apperrors.ErrFetchFailed)

	_, err = f.reconciler.ReconcileOne(context.Background(), "NoSuchKey")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateFromExternalResolvesID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "K", Bibtex: canonical(t, `@Article{K, title = {T}}`)}))
	f.provider.ids["K"] = "7"
	f.provider.records["7"] = providers.Metadata{"id": "7", "bibkey": "K", "arxiv": "2001.01234"}

	res, err := f.reconciler.UpdateFromExternal(ctx, "K")
	require.NoError(t, err)
	assert.Equal(t, []string{"arxiv"}, res.Writes)

	got, err := f.entries.GetByBibkey(ctx, "K")
	require.NoError(t, err)
	assert.Equal(t, "7", got.Inspire)
	assert.Equal(t, "2001.01234", got.Arxiv)
}

func TestDefaultPredicate(t *testing.T) {
	article := repositories.FetchedEntry{Entry: models.Entry{Inspire: "1"}, BibtexDict: map[string]string{}}
	complete := article
	complete.Doi = "10.1/x"
	complete.BibtexDict = map[string]string{"journal": "PRD"}
	book := article
	book.Book = 1
	locked := article
	locked.NoUpdate = 1
	noID := article
	noID.Inspire = ""

	assert.True(t, DefaultPredicate(article, false))
	assert.False(t, DefaultPredicate(complete, false))
	assert.True(t, DefaultPredicate(complete, true))
	assert.False(t, DefaultPredicate(book, true))
	assert.False(t, DefaultPredicate(locked, true))
	assert.False(t, DefaultPredicate(noID, true))
}

func TestReconcileBatchCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	text := canonical(t, `@Article{X, title = {T}}`)
	for i := 1; i <= 100; i++ {
		id := strconv.Itoa(i)
		require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: fmt.Sprintf("E%03d", i), Bibtex: text, Inspire: id}))
		f.provider.records[id] = providers.Metadata{"id": id, "doi": "10.1/" + id}
	}

	progress := &Progress{OnStep: func(done, total int64) {
		if done == 10 {
			cancel()
		}
	}}
	res, err := f.reconciler.ReconcileBatch(ctx, BatchOptions{Progress: progress})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, res.Processed)
	assert.Len(t, res.Changed, 10)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 10, f.provider.fetches)

	done, total := progress.Snapshot()
	assert.Equal(t, int64(10), done)
	assert.Equal(t, int64(100), total)
}

func TestReconcileBatchSkipsAndTalliesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	text := canonical(t, `@Article{X, title = {T}}`)
	require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "ok", Bibtex: text, Inspire: "1"}))
	require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "missing", Bibtex: text, Inspire: "2"}))
	require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "book", Bibtex: text, Inspire: "3", Book: 1}))
	f.provider.records["1"] = providers.Metadata{"id": "1", "doi": "10.1/1"}

	res, err := f.reconciler.ReconcileBatch(ctx, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, []string{"ok"}, res.Changed)
	assert.Equal(t, []string{"missing"}, res.Failed)
}

func TestSyncRangeAppliesKnownRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "K", Bibtex: canonical(t, `@Article{K, title = {T}}`), Inspire: "42"}))
	f.provider.harvest = []providers.Metadata{
		{"id": "42", "doi": "10.1/z"},
		{"id": "999", "doi": "10.1/unknown"},
	}

	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	res, err := f.reconciler.SyncRange(ctx, day.AddDate(0, 0, -1), day, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, []string{"K"}, res.Changed)
	assert.Empty(t, res.Failed)

	got, err := f.entries.GetByBibkey(ctx, "K")
	require.NoError(t, err)
	assert.Equal(t, "10.1/z", got.Doi)
}

func TestPruneOrphanLinksIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "A", Bibtex: "@Article{A,}"}))
	_, err := f.store.Exec(ctx, "INSERT INTO experiments (id_exp, name) VALUES (5, 'CMS')")
	require.NoError(t, err)
	for _, stmt := range []string{
		"INSERT INTO entry_categories (bibkey, id_cat) VALUES ('A', 1)",
		"INSERT INTO entry_categories (bibkey, id_cat) VALUES ('Gone', 1)",
		"INSERT INTO entry_categories (bibkey, id_cat) VALUES ('A', 77)",
		"INSERT INTO entry_experiments (bibkey, id_exp) VALUES ('A', 5)",
		"INSERT INTO entry_experiments (bibkey, id_exp) VALUES ('A', 88)",
		"INSERT INTO category_experiments (id_cat, id_exp) VALUES (1, 5)",
		"INSERT INTO category_experiments (id_cat, id_exp) VALUES (99, 5)",
	} {
		_, err := f.store.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	integrity := NewIntegrity(f.store, zapNop())
	res, err := integrity.PruneOrphanLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, PruneResult{EntryCategories: 2, EntryExperiments: 1, CategoryExperiments: 1}, res)

	again, err := integrity.PruneOrphanLinks(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Total())

	ec, err := f.links.AllEntryCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.EntryCategory{{Bibkey: "A", IDCat: 1}}, ec)
}
