package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"physbib/services"
)

const dateLayout = "2006-01-02"

func (s *Server) setupMaintenanceRoutes(r *gin.RouterGroup) {
	m := r.Group("/maintenance")
	m.POST("/clean", s.startClean)
	m.POST("/reconcile", s.startReconcile)
	m.POST("/sync", s.startSync)
	m.POST("/prune", s.pruneLinks)
	m.POST("/replace", s.replace)
}

func (s *Server) startJob(c *gin.Context, name string, fn JobFunc) {
	if err := s.StartJob(name, fn); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "job": name})
}

func (s *Server) startClean(c *gin.Context) {
	var req struct {
		Offset int `json:"offset"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		s.badRequest(c, err)
		return
	}
	s.startJob(c, "clean", func(ctx context.Context, p *services.Progress) (any, error) {
		return s.Normalizer.CleanBatch(ctx, req.Offset, p)
	})
}

// startReconcile gleicht mit bibkey genau einen Eintrag synchron ab,
// sonst startet ein Batch-Job ab offset (Standard DEFAULT_UPDATE_FROM).
func (s *Server) startReconcile(c *gin.Context) {
	var req struct {
		Bibkey string `json:"bibkey"`
		Offset *int   `json:"offset"`
		Force  bool   `json:"force"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		s.badRequest(c, err)
		return
	}
	if req.Bibkey != "" {
		res, err := s.Reconciler.ReconcileOne(c.Request.Context(), req.Bibkey)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}
	offset := s.Config.DefaultUpdateFrom
	if req.Offset != nil {
		offset = *req.Offset
	}
	s.startJob(c, "reconcile", func(ctx context.Context, p *services.Progress) (any, error) {
		return s.Reconciler.ReconcileBatch(ctx, services.BatchOptions{Offset: offset, Force: req.Force, Progress: p})
	})
}

// startSync holt alle zwischen from und to geänderten Records; Standard ist gestern bis heute.
func (s *Server) startSync(c *gin.Context) {
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		s.badRequest(c, err)
		return
	}
	to := time.Now()
	from := to.AddDate(0, 0, -1)
	var err error
	if req.From != "" {
		if from, err = time.Parse(dateLayout, req.From); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM-DD"})
			return
		}
	}
	if req.To != "" {
		if to, err = time.Parse(dateLayout, req.To); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM-DD"})
			return
		}
	}
	s.startJob(c, "sync", func(ctx context.Context, p *services.Progress) (any, error) {
		return s.Reconciler.SyncRange(ctx, from, to, p)
	})
}

func (s *Server) pruneLinks(c *gin.Context) {
	res, err := s.Integrity.PruneOrphanLinks(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) replace(c *gin.Context) {
	var opts services.ReplaceOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := s.Replacer.Replace(c.Request.Context(), opts)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) setupImportRoutes(r *gin.RouterGroup) {
	r.POST("/import", s.startImport)
	r.POST("/import/query", s.importQuery)
}

func (s *Server) startImport(c *gin.Context) {
	var req struct {
		Bibtex   string `json:"bibtex" binding:"required"`
		Complete bool   `json:"complete"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	s.startJob(c, "import", func(ctx context.Context, p *services.Progress) (any, error) {
		return s.Fetch.ImportBibtex(ctx, req.Bibtex, services.ImportOptions{Complete: req.Complete, Progress: p})
	})
}

func (s *Server) importQuery(c *gin.Context) {
	var req struct {
		Query  string `json:"query" binding:"required"`
		Number *int   `json:"number"`
		Key    string `json:"key"`
		Method string `json:"method"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := s.Fetch.LoadAndInsert(c.Request.Context(), req.Query,
		services.LoadOptions{Number: req.Number, Key: req.Key, Method: req.Method})
	if err != nil {
		s.respondError(c, err)
		return
	}
	status := http.StatusCreated
	if len(res.Inserted) == 0 {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (s *Server) setupDBRoutes(r *gin.RouterGroup) {
	db := r.Group("/db")
	db.GET("/status", s.dbStatus)
	db.POST("/commit", s.commit)
	db.POST("/rollback", s.rollback)
}

func (s *Server) dbStatus(c *gin.Context) {
	n, err := s.Entries.Count(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dirty": s.Store.IsDirty(), "driver": s.Store.Driver(), "entries": n})
}

func (s *Server) commit(c *gin.Context) {
	if err := s.Store.Commit(); err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("Working transaction committed")
	c.JSON(http.StatusOK, gin.H{"status": "committed"})
}

func (s *Server) rollback(c *gin.Context) {
	if err := s.Store.Rollback(); err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("Working transaction rolled back", zap.String("driver", s.Store.Driver()))
	c.JSON(http.StatusOK, gin.H{"status": "rolled back"})
}
