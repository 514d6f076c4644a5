package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"physbib/apperrors"
	"physbib/query"
	"physbib/repositories"
	"physbib/services"
)

// newEntryRequest legt einen Eintrag aus BibTeX-Text an.
type newEntryRequest struct {
	Bibtex string `json:"bibtex" binding:"required"`
	Key    string `json:"key"`
	Index  *int   `json:"index"`

	Inspire   string `json:"inspire"`
	Arxiv     string `json:"arxiv"`
	Ads       string `json:"ads"`
	Scholar   string `json:"scholar"`
	Doi       string `json:"doi"`
	Isbn      string `json:"isbn"`
	Year      string `json:"year"`
	Link      string `json:"link"`
	Comments  string `json:"comments"`
	OldKeys   string `json:"old_keys"`
	Crossref  string `json:"crossref"`
	Marks     string `json:"marks"`
	FirstDate string `json:"firstdate"`
	PubDate   string `json:"pubdate"`
	Abstract  string `json:"abstract"`

	ExpPaper   bool `json:"exp_paper"`
	Lecture    bool `json:"lecture"`
	PhdThesis  bool `json:"phd_thesis"`
	Review     bool `json:"review"`
	Proceeding bool `json:"proceeding"`
	Book       bool `json:"book"`
	NoUpdate   bool `json:"no_update"`
}

func (r newEntryRequest) options() services.Options {
	return services.Options{
		Key: r.Key, Index: r.Index,
		Inspire: r.Inspire, Arxiv: r.Arxiv, Ads: r.Ads, Scholar: r.Scholar, Doi: r.Doi,
		Isbn: r.Isbn, Year: r.Year, Link: r.Link, Comments: r.Comments, OldKeys: r.OldKeys,
		Crossref: r.Crossref, Marks: r.Marks, FirstDate: r.FirstDate, PubDate: r.PubDate,
		Abstract: r.Abstract,
		ExpPaper: r.ExpPaper, Lecture: r.Lecture, PhdThesis: r.PhdThesis, Review: r.Review,
		Proceeding: r.Proceeding, Book: r.Book, NoUpdate: r.NoUpdate,
	}
}

type entryResponse struct {
	*repositories.FetchedEntry
	Reference string `json:"reference"`
}

type listResponse struct {
	Entries []repositories.FetchedEntry `json:"entries"`
	Skipped []string                    `json:"skipped,omitempty"`
}

func (s *Server) setupEntryRoutes(r *gin.RouterGroup) {
	entries := r.Group("/entries")
	entries.GET("", s.listEntries)
	entries.POST("/query", s.queryEntries)
	entries.GET("/last", s.lastEntries)
	entries.GET("/search", s.searchEntries)
	entries.POST("", s.createEntry)
	entries.GET("/:bibkey", s.getEntry)
	entries.PUT("/:bibkey", s.replaceEntry)
	entries.PATCH("/:bibkey", s.updateEntryField)
	entries.DELETE("/:bibkey", s.deleteEntry)
	entries.POST("/:bibkey/rename", s.renameEntry)
	entries.POST("/:bibkey/flags/:flag", s.setEntryFlag)
	entries.GET("/:bibkey/categories", s.entryCategories)
	entries.GET("/:bibkey/experiments", s.entryExperiments)
}

// specFromQuery liest einen Filter aus den Query-Parametern. Jeder Parameter,
// der eine Spalte von entries benennt, wird zu einem Feldfilter.
func (s *Server) specFromQuery(c *gin.Context) query.Spec {
	spec := query.Spec{
		Fields:           map[string]query.FieldFilter{},
		OrderBy:          c.Query("order_by"),
		OrderDir:         c.Query("order"),
		DefaultConnector: c.Query("connector"),
		CatExpOperator:   c.Query("catexp_op"),
		Limit:            s.Config.DefaultPageSize,
	}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil {
		spec.Limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil {
		spec.Offset = v
	}
	match := c.DefaultQuery("match", query.Contains)
	reserved := map[string]bool{
		"limit": true, "offset": true, "order_by": true, "order": true, "match": true,
		"connector": true, "categories": true, "cat_op": true, "experiments": true,
		"exp_op": true, "catexp_op": true,
	}
	for key, values := range c.Request.URL.Query() {
		if reserved[key] || len(values) == 0 {
			continue
		}
		for i, v := range values {
			name := key
			if i > 0 {
				name = key + "#" + strconv.Itoa(i)
			}
			spec.Fields[name] = query.FieldFilter{Value: v, Match: match}
		}
	}
	if ids := parseIDs(c.Query("categories")); len(ids) > 0 {
		spec.Categories = &query.IDSet{IDs: ids, Operator: c.Query("cat_op")}
	}
	if ids := parseIDs(c.Query("experiments")); len(ids) > 0 {
		spec.Experiments = &query.IDSet{IDs: ids, Operator: c.Query("exp_op")}
	}
	return spec
}

func parseIDs(raw string) []int {
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		if id, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Server) runQuery(c *gin.Context, spec query.Spec) {
	list, err := s.Entries.GetAll(c.Request.Context(), spec)
	if err != nil {
		s.respondError(c, err)
		return
	}
	resp := listResponse{Entries: list}
	if compiled, ok := s.Entries.LastQuery(); ok {
		resp.Skipped = compiled.Skipped
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listEntries(c *gin.Context) {
	s.runQuery(c, s.specFromQuery(c))
}

func (s *Server) queryEntries(c *gin.Context) {
	var spec query.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		s.badRequest(c, err)
		return
	}
	s.runQuery(c, spec)
}

func (s *Server) lastEntries(c *gin.Context) {
	list, err := s.Entries.FetchLast(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Entries: list})
}

// searchEntries sucht über Bibkey, alte Schlüssel und arXiv (key) oder im BibTeX-Text (bibtex).
func (s *Server) searchEntries(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		list []repositories.FetchedEntry
		err  error
	)
	switch {
	case c.Query("key") != "":
		list, err = s.Entries.GetByKey(ctx, c.Query("key"))
	case c.Query("bibtex") != "":
		list, err = s.Entries.GetByBibtex(ctx, c.Query("bibtex"))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "key or bibtex parameter is required"})
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Entries: list})
}

func (s *Server) getEntry(c *gin.Context) {
	e, err := s.Entries.GetByBibkey(c.Request.Context(), c.Param("bibkey"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entryResponse{FetchedEntry: e, Reference: services.FormatReference(*e)})
}

func (s *Server) createEntry(c *gin.Context) {
	var req newEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	prepared, err := s.Normalizer.Prepare(req.Bibtex, req.options())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.Fetch.Insert(c.Request.Context(), prepared); err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("Entry created", zap.String("bibkey", prepared.Entry.Bibkey))
	c.JSON(http.StatusCreated, prepared.Entry)
}

// replaceEntry schreibt den Eintrag vollständig neu; Bibkey aus dem Pfad.
func (s *Server) replaceEntry(c *gin.Context) {
	var req newEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	req.Key = c.Param("bibkey")
	prepared, err := s.Normalizer.Prepare(req.Bibtex, req.options())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.Entries.Update(c.Request.Context(), prepared.Entry); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prepared.Entry)
}

func (s *Server) updateEntryField(c *gin.Context) {
	var req fieldUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.Entries.UpdateField(c.Request.Context(), c.Param("bibkey"), req.Field, req.Value); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) deleteEntry(c *gin.Context) {
	ctx := c.Request.Context()
	bibkey := c.Param("bibkey")
	exists, err := s.Entries.Exists(ctx, bibkey)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	if err := s.Entries.Delete(ctx, bibkey); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) renameEntry(c *gin.Context) {
	var req struct {
		NewKey string `json:"new_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	oldKey := c.Param("bibkey")
	if err := s.Entries.UpdateBibkey(c.Request.Context(), oldKey, req.NewKey); err != nil {
		if !errors.Is(err, apperrors.ErrDuplicateKey) && !errors.Is(err, apperrors.ErrEmptyKey) {
			s.logger.Warn("Rename failed, working transaction may need a rollback",
				zap.String("old", oldKey), zap.String("new", req.NewKey), zap.Error(err))
		}
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "renamed", "bibkey": req.NewKey})
}

func (s *Server) setEntryFlag(c *gin.Context) {
	var req struct {
		Value bool `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.Entries.SetFlag(c.Request.Context(), c.Param("bibkey"), c.Param("flag"), req.Value); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) entryCategories(c *gin.Context) {
	cats, err := s.Categories.GetByEntry(c.Request.Context(), c.Param("bibkey"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cats)
}

func (s *Server) entryExperiments(c *gin.Context) {
	exps, err := s.Experiments.GetByEntry(c.Request.Context(), c.Param("bibkey"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exps)
}
