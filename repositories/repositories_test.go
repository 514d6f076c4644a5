package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"physbib/apperrors"
	"physbib/config"
	"physbib/models"
	"physbib/query"
	"physbib/storage"
)

type fixture struct {
	store       *storage.Store
	entries     *Entries
	categories  *Categories
	experiments *Experiments
	links       *Links
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	s, err := storage.Open(&config.Config{DBDriver: "sqlite", DBPath: ":memory:"}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &fixture{
		store:       s,
		entries:     NewEntries(s, 3, log),
		categories:  NewCategories(s, log),
		experiments: NewExperiments(s, log),
		links:       NewLinks(s, log),
	}
}

func entry(key string) *models.Entry {
	return &models.Entry{Bibkey: key, Bibtex: "@Article{" + key + ",\n         title = \"{T}\",\n}", FirstDate: "2024-01-01"}
}

func keysOf(entries []FetchedEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Bibkey)
	}
	return out
}

func TestInsertRejectsEmptyAndDuplicateKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.entries.Insert(ctx, entry("A")))
	assert.ErrorIs(t, f.entries.Insert(ctx, entry("A")), apperrors.ErrDuplicateKey)
	assert.ErrorIs(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "  "}), apperrors.ErrEmptyKey)

	n, err := f.entries.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpdateIsUpsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := entry("A")
	require.NoError(t, f.entries.Update(ctx, e))
	e.Doi = "10.1/x"
	require.NoError(t, f.entries.Update(ctx, e))

	got, err := f.entries.GetByBibkey(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "10.1/x", got.Doi)
	assert.Equal(t, "T", got.Title)
}

func TestUpdateFieldValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.entries.Insert(ctx, entry("A")))

	assert.ErrorIs(t, f.entries.UpdateField(ctx, "A", "nope", "x"), apperrors.ErrInvalidField)
	assert.ErrorIs(t, f.entries.UpdateField(ctx, "A", "bibkey", "x"), apperrors.ErrInvalidField)
	assert.ErrorIs(t, f.entries.UpdateField(ctx, "A", "doi", ""), apperrors.ErrEmptyValue)
	assert.ErrorIs(t, f.entries.UpdateField(ctx, "missing", "doi", "x"), apperrors.ErrNotFound)

	require.NoError(t, f.entries.UpdateField(ctx, "A", "doi", "10.1/y"))
	require.NoError(t, f.entries.SetFlag(ctx, "A", "book", true))
	got, err := f.entries.GetByBibkey(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "10.1/y", got.Doi)
	assert.Equal(t, 1, got.Book)

	assert.ErrorIs(t, f.entries.SetFlag(ctx, "A", "doi", true), apperrors.ErrInvalidField)
}

func TestDerivedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := &models.Entry{
		Bibkey: "K",
		Year:   "2020",
		Bibtex: `@Article{K, author = "X and Y and Z and W", title = "{Hi}", journal = "PRD", volume = "1", pages = "2"}`,
	}
	require.NoError(t, f.entries.Insert(ctx, e))
	require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "broken", Bibtex: "@Article{broken, title = {"}))

	got, err := f.entries.GetByBibkey(ctx, "K")
	require.NoError(t, err)
	assert.Equal(t, "X et al.", got.Author)
	assert.Equal(t, "Hi", got.Title)
	assert.Equal(t, "PRD 1 (2020) 2", got.Published)
	assert.Equal(t, "PRD", got.BibtexDict["journal"])

	bad, err := f.entries.GetByBibkey(ctx, "broken")
	require.NoError(t, err)
	assert.Empty(t, bad.Title)
	assert.Empty(t, bad.BibtexDict)

	assert.Equal(t, "A and B and C", ShortAuthors("A and B and C", 3))
}

func TestUpdateBibkeyPropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.entries.Insert(ctx, entry("A")))

	sub := &models.Category{Name: "Sub", ParentCat: 0}
	require.NoError(t, f.categories.Insert(ctx, sub))
	require.NoError(t, f.links.InsertEntryCategory(ctx, "A", 1))
	require.NoError(t, f.links.InsertEntryCategory(ctx, "A", sub.IDCat))

	require.NoError(t, f.entries.UpdateBibkey(ctx, "A", "B"))

	for _, id := range []int{1, sub.IDCat} {
		got, err := f.entries.GetByCategory(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"B"}, keysOf(got))
	}
	renamed, err := f.entries.GetByBibkey(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "A", renamed.OldKeys)
	assert.Contains(t, renamed.Bibtex, "@Article{B,")

	_, err = f.entries.GetByBibkey(ctx, "A")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	byOld, err := f.entries.GetByKey(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, keysOf(byOld))
}

func TestUpdateBibkeyRejectsExistingTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.entries.Insert(ctx, entry("A")))
	require.NoError(t, f.entries.Insert(ctx, entry("B")))
	assert.ErrorIs(t, f.entries.UpdateBibkey(ctx, "A", "B"), apperrors.ErrDuplicateKey)
}

func TestDeleteEntryCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.entries.Insert(ctx, entry("A")))
	exp := &models.Experiment{Name: "CMS"}
	require.NoError(t, f.experiments.Insert(ctx, exp))
	require.NoError(t, f.links.InsertEntryCategory(ctx, "A", 1))
	require.NoError(t, f.links.InsertEntryExperiment(ctx, "A", exp.IDExp))

	require.NoError(t, f.entries.Delete(ctx, "A"))

	ec, err := f.links.AllEntryCategories(ctx)
	require.NoError(t, err)
	assert.Empty(t, ec)
	ee, err := f.links.AllEntryExperiments(ctx)
	require.NoError(t, err)
	assert.Empty(t, ee)
}

func TestCategoryInsertRejectsDuplicateNameUnderParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.categories.Insert(ctx, &models.Category{Name: "Theory", ParentCat: 0}))
	assert.ErrorIs(t, f.categories.Insert(ctx, &models.Category{Name: "Theory", ParentCat: 0}), apperrors.ErrConflict)
	assert.NoError(t, f.categories.Insert(ctx, &models.Category{Name: "Theory", ParentCat: 1}))
}

func TestCategoryDeleteIsRecursive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	top := &models.Category{Name: "Top", ParentCat: 0}
	require.NoError(t, f.categories.Insert(ctx, top))
	mid := &models.Category{Name: "Mid", ParentCat: top.IDCat}
	require.NoError(t, f.categories.Insert(ctx, mid))
	leaf := &models.Category{Name: "Leaf", ParentCat: mid.IDCat}
	require.NoError(t, f.categories.Insert(ctx, leaf))
	other := &models.Category{Name: "Other", ParentCat: 0}
	require.NoError(t, f.categories.Insert(ctx, other))

	require.NoError(t, f.entries.Insert(ctx, entry("A")))
	require.NoError(t, f.links.InsertEntryCategory(ctx, "A", leaf.IDCat))
	require.NoError(t, f.links.InsertEntryCategory(ctx, "A", other.IDCat))
	exp := &models.Experiment{Name: "ATLAS"}
	require.NoError(t, f.experiments.Insert(ctx, exp))
	require.NoError(t, f.links.InsertCategoryExperiment(ctx, mid.IDCat, exp.IDExp))

	require.NoError(t, f.categories.Delete(ctx, top.IDCat))

	cats, err := f.categories.GetAll(ctx)
	require.NoError(t, err)
	var names []string
	for _, c := range cats {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Main", "Tags", "Other"}, names)

	ec, err := f.links.AllEntryCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.EntryCategory{{Bibkey: "A", IDCat: other.IDCat}}, ec)
	ce, err := f.links.AllCategoryExperiments(ctx)
	require.NoError(t, err)
	assert.Empty(t, ce)
}

func TestReservedCategoriesCannotBeDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.categories.Delete(ctx, 0), apperrors.ErrReservedCategory)
	assert.ErrorIs(t, f.categories.Delete(ctx, 1), apperrors.ErrReservedCategory)

	cats, err := f.categories.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, 2)
}

func TestHierarchyAndChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := &models.Category{Name: "A", ParentCat: 0}
	require.NoError(t, f.categories.Insert(ctx, a))
	b := &models.Category{Name: "B", ParentCat: a.IDCat}
	require.NoError(t, f.categories.Insert(ctx, b))

	children, err := f.categories.GetChildren(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, children, 2) // Tags und A, nie die Wurzel selbst

	root, err := f.categories.Hierarchy(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "Main", root.Name)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "B", root.Children[1].Children[0].Name)

	parent, err := f.categories.GetParent(ctx, b.IDCat)
	require.NoError(t, err)
	assert.Equal(t, a.IDCat, parent.IDCat)
}

func TestTreeWalkTerminatesOnCycles(t *testing.T) {
	cats := []models.Category{
		{IDCat: 0, ParentCat: 0},
		{IDCat: 5, ParentCat: 6},
		{IDCat: 6, ParentCat: 5},
		{IDCat: 7, ParentCat: 5},
	}
	tree := newCategoryTree(cats)
	assert.ElementsMatch(t, []int{6, 7}, tree.descendants(5))
	n := tree.build(5)
	require.Len(t, n.Children, 2)
	assert.Empty(t, n.Children[0].Children)
}

func TestEntryExperimentPropagatesCategories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.entries.Insert(ctx, entry("A")))
	cat := &models.Category{Name: "Collider", ParentCat: 0}
	require.NoError(t, f.categories.Insert(ctx, cat))
	exp := &models.Experiment{Name: "LHCb"}
	require.NoError(t, f.experiments.Insert(ctx, exp))
	require.NoError(t, f.links.InsertCategoryExperiment(ctx, cat.IDCat, exp.IDExp))
	require.NoError(t, f.links.InsertCategoryExperiment(ctx, 1, exp.IDExp))
	require.NoError(t, f.links.InsertEntryCategory(ctx, "A", 1))

	require.NoError(t, f.links.InsertEntryExperiment(ctx, "A", exp.IDExp))
	assert.ErrorIs(t, f.links.InsertEntryExperiment(ctx, "A", exp.IDExp), apperrors.ErrConflict)

	cats, err := f.categories.GetByEntry(ctx, "A")
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, 1, cats[0].IDCat)
	assert.Equal(t, cat.IDCat, cats[1].IDCat)

	byExp, err := f.entries.GetByExperiment(ctx, exp.IDExp)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, keysOf(byExp))

	exps, err := f.experiments.GetByCategory(ctx, cat.IDCat)
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.Equal(t, "LHCb", exps[0].Name)
}

func TestExperimentCRUD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := &models.Experiment{Name: "Belle II"}
	require.NoError(t, f.experiments.Insert(ctx, a))
	require.NoError(t, f.experiments.Insert(ctx, &models.Experiment{Name: "ALICE"}))

	require.NoError(t, f.experiments.UpdateField(ctx, a.IDExp, "homepage", "https://belle2.jp"))
	assert.ErrorIs(t, f.experiments.UpdateField(ctx, a.IDExp, "id_exp", "3"), apperrors.ErrInvalidField)

	all, err := f.experiments.GetAll(ctx, "bogus", "sideways")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ALICE", all[0].Name)

	got, err := f.experiments.GetByName(ctx, "Belle")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://belle2.jp", got[0].Homepage)

	require.NoError(t, f.experiments.Delete(ctx, a.IDExp))
	_, err = f.experiments.GetByID(ctx, a.IDExp)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFetchLastRepeatsQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.entries.Insert(ctx, entry("Alpha")))
	require.NoError(t, f.entries.Insert(ctx, entry("Beta")))

	got, err := f.entries.GetAll(ctx, query.Spec{Fields: map[string]query.FieldFilter{"bibkey": {Value: "Alp", Match: query.Contains}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha"}, keysOf(got))

	require.NoError(t, f.entries.Insert(ctx, entry("Alps")))
	again, err := f.entries.FetchLast(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Alpha", "Alps"}, keysOf(again))
}
