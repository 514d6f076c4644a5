package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"physbib/apperrors"
	"physbib/bibtex"
	"physbib/models"
)

func TestPrepareFallbackChains(t *testing.T) {
	f := newFixture(t)

	p, err := f.normalizer.Prepare(`@Article{Old:1999, eprint = "hep-th/9901001", title = {T}}`, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Old:1999", p.Entry.Bibkey)
	assert.Equal(t, "hep-th/9901001", p.Entry.Arxiv)
	assert.Equal(t, "1999", p.Entry.Year)
	assert.Equal(t, "https://arxiv.org/abs/hep-th/9901001", p.Entry.Link)
	assert.Equal(t, "2024-05-06", p.Entry.FirstDate)
	assert.False(t, p.Transliterated)

	p, err = f.normalizer.Prepare(`@Article{New, arxiv = "2001.01234", eprint = "other"}`, Options{})
	require.NoError(t, err)
	assert.Equal(t, "2001.01234", p.Entry.Arxiv)
	assert.Equal(t, "2020", p.Entry.Year)

	p, err = f.normalizer.Prepare(`@Article{Doi, doi = "10.1/x", year = "2011"}`, Options{Book: true, FirstDate: "2000-01-01"})
	require.NoError(t, err)
	assert.Equal(t, "2011", p.Entry.Year)
	assert.Equal(t, "https://doi.org/10.1/x", p.Entry.Link)
	assert.Equal(t, "10.1/x", p.Entry.Doi)
	assert.Equal(t, 1, p.Entry.Book)
	assert.Equal(t, "2000-01-01", p.Entry.FirstDate)
}

func TestPrepareOverridesAndCanonicalText(t *testing.T) {
	f := newFixture(t)
	raw := "@article{Orig,\n  title = {Café\n    society},\n  doi = \"10.1/a\"\n}"

	p, err := f.normalizer.Prepare(raw, Options{Key: "Mine", Doi: "10.9/override", Link: "https://example.org"})
	require.NoError(t, err)
	assert.Equal(t, "Mine", p.Entry.Bibkey)
	assert.Equal(t, "10.9/override", p.Entry.Doi)
	assert.Equal(t, "https://example.org", p.Entry.Link)
	assert.True(t, p.Transliterated)
	assert.Contains(t, p.Entry.Bibtex, "@Article{Mine,")
	assert.Contains(t, p.Entry.Bibtex, `title = "{Caf{\'e} society}"`)
}

func TestPrepareRecordSelection(t *testing.T) {
	f := newFixture(t)
	two := "@Article{A, title = {x}}\n@Article{B, title = {y}}"

	_, err := f.normalizer.Prepare(two, Options{})
	assert.ErrorIs(t, err, apperrors.ErrAmbiguousRecord)

	p, err := f.normalizer.Prepare(two, Options{Index: intPtr(1)})
	require.NoError(t, err)
	assert.Equal(t, "B", p.Entry.Bibkey)

	_, err = f.normalizer.Prepare(two, Options{Index: intPtr(2)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidField)

	_, err = f.normalizer.Prepare(`@Article{, title = {x}}`, Options{})
	assert.ErrorIs(t, err, apperrors.ErrEmptyKey)

	_, err = f.normalizer.Prepare("no bibtex here", Options{})
	assert.ErrorIs(t, err, apperrors.ErrParse)
}

func TestCleanBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw := "@article{Raw,\n  title = {Café\n   society},\n  author = \"A and B\"\n}"
	canonical := bibtex.Normalize(`@article{Canon, title = {T}}`).Text
	require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "Raw", Bibtex: raw}))
	require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "Canon", Bibtex: canonical}))
	require.NoError(t, f.entries.Insert(ctx, &models.Entry{Bibkey: "Broken", Bibtex: "@article{Broken title}"}))

	var progress Progress
	res, err := f.normalizer.CleanBatch(ctx, 0, &progress)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, []string{"Broken"}, res.Failed)
	assert.Equal(t, []string{"Raw"}, res.Changed)
	assert.Equal(t, []string{"Raw"}, res.Transliterated)
	done, total := progress.Snapshot()
	assert.Equal(t, int64(3), done)
	assert.Equal(t, int64(3), total)

	stored, err := f.entries.GetByBibkey(ctx, "Raw")
	require.NoError(t, err)
	assert.Equal(t, bibtex.Normalize(raw).Text, stored.Bibtex)

	again, err := f.normalizer.CleanBatch(ctx, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, again.Changed)
}
