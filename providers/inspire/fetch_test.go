package inspire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"physbib/apperrors"
	"physbib/config"
	"physbib/providers"
)

var _ providers.Provider = (*Fetcher)(nil)

const recordJSON = `{
  "id": "1234",
  "metadata": {
    "control_number": 1234,
    "texkeys": ["Doe:2020abc", "Doe:2019xyz"],
    "document_type": ["article"],
    "titles": [{"title": "Dark matter at colliders"}],
    "authors": [{"full_name": "Doe, J."}, {"full_name": "Roe, R."}, {"full_name": "Moe, M."}],
    "arxiv_eprints": [{"value": "2001.01234", "categories": ["hep-ph"]}],
    "dois": [{"value": "10.1103/PhysRevD.101.015001"}],
    "publication_info": [{"journal_title": "Phys.Rev.D", "journal_volume": "101", "year": 2020, "artid": "015001"}],
    "imprints": [{"date": "2020-01-15"}],
    "legacy_creation_date": "2020-01-05"
  }
}`

func newTestFetcher(t *testing.T, h http.HandlerFunc) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := &config.Config{
		InspireBaseURL:     srv.URL + "/api",
		RequestTimeout:     5 * time.Second,
		MaxAuthorSave:      2,
		MaxExternalResults: 10,
	}
	return NewFetcher(cfg, zap.NewNop())
}

func TestFetchStructuredByID(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/literature/1234", r.URL.Path)
		_, _ = w.Write([]byte(recordJSON))
	})

	md, err := f.FetchStructuredByID(context.Background(), "1234")
	require.NoError(t, err)

	assert.Equal(t, "1234", md["id"])
	assert.Equal(t, "Doe:2020abc", md["bibkey"])
	assert.Equal(t, "Doe:2019xyz", md["oldkeys"])
	assert.Equal(t, "2001.01234", md["arxiv"])
	assert.Equal(t, "10.1103/PhysRevD.101.015001", md["doi"])
	assert.Equal(t, "Phys. Rev. D", md["journal"])
	assert.Equal(t, "2020", md["year"])
	assert.Equal(t, "015001", md["pages"])
	assert.Equal(t, "2020-01-05", md["firstdate"])
	assert.Equal(t, "2020-01-15", md["pubdate"])
	assert.Equal(t, "Doe, J. and Roe, R. and others", md["author"])

	assert.Contains(t, md["bibtex"], "@Article{Doe:2020abc,")
	assert.Contains(t, md["bibtex"], `journal = "Phys. Rev. D"`)
	assert.Contains(t, md["bibtex"], `title = "{Dark matter at colliders}"`)
	assert.Contains(t, md["bibtex"], `primaryclass = "hep-ph"`)
	assert.NotContains(t, md, "abstract")
}

func TestFetchStructuredByIDErrors(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/literature/404" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := f.FetchStructuredByID(context.Background(), "404")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = f.FetchStructuredByID(context.Background(), "1")
	assert.ErrorIs(t, err, apperrors.ErrFetchFailed)
}

func TestFetchByQueryReturnsBibtex(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bibtex", r.URL.Query().Get("format"))
		size := r.URL.Query().Get("size")
		_, _ = fmt.Fprintf(w, "@article{Q:%s,\n title = \"{x}\"\n}\n", size)
	})

	first, err := f.FetchByQuery(context.Background(), "find a doe")
	require.NoError(t, err)
	assert.Contains(t, first, "Q:1")

	all, err := f.FetchAllByQuery(context.Background(), "find a doe")
	require.NoError(t, err)
	assert.Contains(t, all, "Q:10")
}

func TestFetchIDForQuery(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "control_number", r.URL.Query().Get("fields"))
		_, _ = w.Write([]byte(`{"hits":{"total":2,"hits":[{"metadata":{"control_number":11}},{"metadata":{"control_number":22}}]}}`))
	})

	id, err := f.FetchIDForQuery(context.Background(), "Doe:2020abc", 1)
	require.NoError(t, err)
	assert.Equal(t, "22", id)

	_, err = f.FetchIDForQuery(context.Background(), "Doe:2020abc", 5)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFetchUpdatesInRangePaginates(t *testing.T) {
	total := harvestPageSize + 1
	var pages []string
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pages = append(pages, r.URL.Query().Get("page"))
		assert.Equal(t, "du >= 2024-03-01 and du <= 2024-03-02", r.URL.Query().Get("q"))

		var resp SearchResponse
		resp.Hits.Total = total
		n := harvestPageSize
		if page == 2 {
			n = 1
		}
		for i := 0; i < n; i++ {
			var h Hit
			h.Metadata.ControlNumber = (page-1)*harvestPageSize + i + 1
			resp.Hits.Hits = append(resp.Hits.Hits, h)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	recs, err := f.FetchUpdatesInRange(context.Background(), from, from.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, recs, total)
	assert.Equal(t, []string{"1", "2"}, pages)
	assert.Equal(t, strconv.Itoa(total), recs[total-1]["id"])
}
