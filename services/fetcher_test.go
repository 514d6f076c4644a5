package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"physbib/apperrors"
	"physbib/models"
	"physbib/providers"
	"physbib/repositories"
)

func TestLoadAndInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.search = "@Article{One, title = {A}}\n@Article{Two, title = {B}, doi = \"10.2/two\"}"

	_, err := f.fetch.LoadAndInsert(ctx, "find t dark", LoadOptions{})
	assert.ErrorIs(t, err, apperrors.ErrAmbiguousRecord)

	res, err := f.fetch.LoadAndInsert(ctx, "find t dark", LoadOptions{Number: intPtr(1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"Two"}, res.Inserted)

	got, err := f.entries.GetByBibkey(ctx, "Two")
	require.NoError(t, err)
	assert.Equal(t, "10.2/two", got.Doi)
	assert.Equal(t, "https://doi.org/10.2/two", got.Link)
	inDefault, err := f.links.GetEntryCategory(ctx, "Two", 1)
	require.NoError(t, err)
	assert.Len(t, inDefault, 1)

	again, err := f.fetch.LoadAndInsert(ctx, "find t dark", LoadOptions{Number: intPtr(1)})
	require.NoError(t, err)
	assert.Empty(t, again.Inserted)
	assert.Equal(t, []string{"Two"}, again.Existing)

	custom, err := f.fetch.LoadAndInsert(ctx, "9780199", LoadOptions{Number: intPtr(0), Key: "Custom", Method: "isbn"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Custom"}, custom.Inserted)
	book, err := f.entries.GetByBibkey(ctx, "Custom")
	require.NoError(t, err)
	assert.Equal(t, 1, book.Book)
}

func TestLoadAndInsertWithoutResults(t *testing.T) {
	f := newFixture(t)
	_, err := f.fetch.LoadAndInsert(context.Background(), "nothing", LoadOptions{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestImportBibtex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "Alpha", Bibtex: "@Article{Alpha,}"}))
	f.provider.ids["Beta"] = "7"
	f.provider.records["7"] = providers.Metadata{"id": "7", "bibkey": "Beta", "doi": "10.7/beta"}

	text := `@Article{Alpha, title = {A}}
@Article{Beta, title = {B}}
@Article{bad title = "x"}
@Article{Gamma, title = {G}}`

	res, err := f.fetch.ImportBibtex(ctx, text, ImportOptions{Complete: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, []string{"Beta", "Gamma"}, res.Inserted)
	assert.Equal(t, []string{"Alpha"}, res.Existing)
	assert.Equal(t, []string{"bad"}, res.Failed)

	beta, err := f.entries.GetByBibkey(ctx, "Beta")
	require.NoError(t, err)
	assert.Equal(t, "7", beta.Inspire)
	assert.Equal(t, "10.7/beta", beta.Doi)
}

func TestImportBibtexCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	progress := &Progress{OnStep: func(done, total int64) {
		if done == 1 {
			cancel()
		}
	}}

	res, err := f.fetch.ImportBibtex(ctx, "@Article{A, title={a}}\n@Article{B, title={b}}", ImportOptions{Progress: progress})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"A"}, res.Inserted)
}

func TestReplace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	text := canonical(t, `@Article{K, title = {Old title}, doi = "10.1/abc"}`)
	require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "K", Bibtex: text, Doi: "10.1/abc"}))
	r := NewReplacer(f.entries, zapNop())

	res, err := r.Replace(ctx, ReplaceOptions{From: "title", Old: "Old", Targets: []ReplaceTarget{{Field: "title", New: "New"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"K"}, res.Success)
	assert.Equal(t, []string{"K"}, res.Changed)

	res, err = r.Replace(ctx, ReplaceOptions{
		Bibkeys: []string{"K"},
		From:    "doi",
		Old:     `^10\.1/(.*)$`,
		Targets: []ReplaceTarget{{Field: "doi", New: "10.2/$1"}},
		Regex:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"K"}, res.Changed)

	got, err := f.entries.GetByBibkey(ctx, "K")
	require.NoError(t, err)
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, "10.2/abc", got.Doi)
	assert.Equal(t, "10.2/abc", got.BibtexDict["doi"])

	res, err = r.Replace(ctx, ReplaceOptions{From: "nosuch", Old: "x", Targets: []ReplaceTarget{{Field: "doi", New: "y"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"K"}, res.Failed)

	_, err = r.Replace(ctx, ReplaceOptions{From: "doi", Old: "(", Regex: true})
	assert.ErrorIs(t, err, apperrors.ErrInvalidField)
}

func TestFormatReference(t *testing.T) {
	e := repositories.FetchedEntry{
		Entry:     models.Entry{Year: "2020", Arxiv: "2001.01234", Doi: "10.1/x"},
		Author:    "Doe et al.",
		Title:     "T",
		Published: "PRD 1 (2020) 2",
	}
	assert.Equal(t, "Doe et al. (2020). T. PRD 1 (2020) 2. arXiv:2001.01234 doi:10.1/x", FormatReference(e))
	assert.Equal(t, "Unknown Authors (n.d.). Untitled.", FormatReference(repositories.FetchedEntry{}))
}
