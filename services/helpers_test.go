package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"physbib/apperrors"
	"physbib/config"
	"physbib/providers"
	"physbib/repositories"
	"physbib/storage"
)

type fakeProvider struct {
	records  map[string]providers.Metadata
	ids      map[string]string
	search   string
	harvest  []providers.Metadata
	fetches  int
	fetchErr error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) FetchByQuery(ctx context.Context, q string) (string, error) {
	return p.search, nil
}

func (p *fakeProvider) FetchAllByQuery(ctx context.Context, q string) (string, error) {
	return p.search, nil
}

func (p *fakeProvider) FetchStructuredByID(ctx context.Context, id string) (providers.Metadata, error) {
	p.fetches++
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	md, ok := p.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: record %s", apperrors.ErrNotFound, id)
	}
	out := providers.Metadata{}
	for k, v := range md {
		out[k] = v
	}
	return out, nil
}

func (p *fakeProvider) FetchIDForQuery(ctx context.Context, q string, index int) (string, error) {
	id, ok := p.ids[q]
	if !ok {
		return "", fmt.Errorf("%w: %s", apperrors.ErrNotFound, q)
	}
	return id, nil
}

func (p *fakeProvider) FetchUpdatesInRange(ctx context.Context, from, to time.Time) ([]providers.Metadata, error) {
	return p.harvest, nil
}

type fixture struct {
	cfg        *config.Config
	store      *storage.Store
	entries    *repositories.Entries
	links      *repositories.Links
	provider   *fakeProvider
	normalizer *RecordNormalizer
	reconciler *Reconciler
	fetch      *FetchService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		DBDriver:          "sqlite",
		DBPath:            ":memory:",
		ArxivURL:          "https://arxiv.org",
		DoiURL:            "https://doi.org/",
		RequestTimeout:    time.Second,
		MaxAuthorNames:    3,
		DefaultCategories: []int{1},
	}
	log := zap.NewNop()
	s, err := storage.Open(cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{
		cfg:      cfg,
		store:    s,
		entries:  repositories.NewEntries(s, cfg.MaxAuthorNames, log),
		links:    repositories.NewLinks(s, log),
		provider: &fakeProvider{records: map[string]providers.Metadata{}, ids: map[string]string{}},
	}
	f.normalizer = NewRecordNormalizer(cfg, f.entries, log)
	f.normalizer.now = func() time.Time { return time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC) }
	f.reconciler = NewReconciler(cfg, f.entries, f.provider, log)
	f.fetch = NewFetchService(cfg, f.entries, f.links, f.normalizer, f.provider, f.reconciler, log)
	return f
}

func intPtr(i int) *int { return &i }

func zapNop() *zap.Logger { return zap.NewNop() }
