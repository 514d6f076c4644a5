// Package api stellt die Datenbank über eine HTTP-Schnittstelle (gin) bereit.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"physbib/apperrors"
	"physbib/config"
	"physbib/repositories"
	"physbib/services"
	"physbib/storage"
)

// Deps sind alle Komponenten, die der Server benutzt.
type Deps struct {
	Config      *config.Config
	Store       *storage.Store
	Entries     *repositories.Entries
	Categories  *repositories.Categories
	Experiments *repositories.Experiments
	Links       *repositories.Links
	Normalizer  *services.RecordNormalizer
	Reconciler  *services.Reconciler
	Integrity   *services.Integrity
	Fetch       *services.FetchService
	Replacer    *services.Replacer
}

// JobReport beschreibt den zuletzt beendeten Wartungsjob.
type JobReport struct {
	Name     string    `json:"name"`
	Result   any       `json:"result"`
	Error    string    `json:"error,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// JobFunc ist der Rumpf eines Wartungsjobs.
type JobFunc func(ctx context.Context, progress *services.Progress) (any, error)

type job struct {
	name     string
	cancel   context.CancelFunc
	progress *services.Progress
	started  time.Time
	done     chan struct{}
}

// Server serialisiert alle Zugriffe auf die Datenbank über mu. Ein laufender
// Wartungsjob hält mu bis zu seinem Ende; Anfragen bekommen solange 409.
type Server struct {
	Deps
	logger *zap.Logger

	mu sync.Mutex

	jobMu sync.Mutex
	job   *job
	last  *JobReport
}

// New erstellt den Server.
func New(deps Deps, logger *zap.Logger) *Server {
	return &Server{Deps: deps, logger: logger.With(zap.String("component", "api"))}
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-Key")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

// Router baut die gin-Engine. metrics wird unter /metrics eingehängt, wenn gesetzt.
func (s *Server) Router(metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(s.Config))
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	// ohne Lock lesbar
	router.GET("/maintenance/progress", s.progress)
	router.POST("/maintenance/cancel", s.cancelJob)

	engine := router.Group("/", s.exclusive)
	s.setupEntryRoutes(engine)
	s.setupCategoryRoutes(engine)
	s.setupExperimentRoutes(engine)
	s.setupLinkRoutes(engine)
	s.setupMaintenanceRoutes(engine)
	s.setupImportRoutes(engine)
	s.setupDBRoutes(engine)
	return router
}

// exclusive weist Anfragen während eines Jobs ab und serialisiert alle übrigen.
func (s *Server) exclusive(c *gin.Context) {
	if name, running := s.runningJob(); running {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("maintenance job %q is running", name)})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Next()
}

func (s *Server) runningJob() (string, bool) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.job == nil {
		return "", false
	}
	return s.job.name, true
}

// StartJob startet fn im Hintergrund. Der Job hält den Datenbank-Lock bis zu
// seinem Ende und ist über CancelJob abbrechbar.
func (s *Server) StartJob(name string, fn JobFunc) error {
	s.jobMu.Lock()
	if s.job != nil {
		running := s.job.name
		s.jobMu.Unlock()
		return fmt.Errorf("%w: maintenance job %q is running", apperrors.ErrConflict, running)
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{name: name, cancel: cancel, progress: &services.Progress{}, started: time.Now(), done: make(chan struct{})}
	s.job = j
	s.jobMu.Unlock()

	log := s.logger.With(zap.String("job", name))
	log.Info("Maintenance job started")
	go func() {
		defer close(j.done)
		defer cancel()

		s.mu.Lock()
		result, err := fn(ctx, j.progress)
		s.mu.Unlock()

		report := &JobReport{Name: name, Result: result, Started: j.started, Finished: time.Now()}
		if err != nil {
			report.Error = err.Error()
			log.Warn("Maintenance job ended with error", zap.Error(err))
		} else {
			log.Info("Maintenance job finished", zap.Duration("duration", report.Finished.Sub(j.started)))
		}
		s.jobMu.Lock()
		s.job = nil
		s.last = report
		s.jobMu.Unlock()
	}()
	return nil
}

// CancelJob bricht den laufenden Job an der nächsten Elementgrenze ab.
func (s *Server) CancelJob() bool {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.job == nil {
		return false
	}
	s.job.cancel()
	return true
}

// Wait blockiert, bis der laufende Job beendet ist.
func (s *Server) Wait() {
	s.jobMu.Lock()
	j := s.job
	s.jobMu.Unlock()
	if j != nil {
		<-j.done
	}
}

func (s *Server) progress(c *gin.Context) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	resp := gin.H{"running": s.job != nil, "last": s.last}
	if s.job != nil {
		done, total := s.job.progress.Snapshot()
		resp["job"] = s.job.name
		resp["done"] = done
		resp["total"] = total
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) cancelJob(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cancelled": s.CancelJob()})
}

// respondError bildet die Fehlerarten auf HTTP-Status ab.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrConflict), errors.Is(err, apperrors.ErrDuplicateKey):
		status = http.StatusConflict
	case errors.Is(err, apperrors.ErrEmptyKey), errors.Is(err, apperrors.ErrInvalidField),
		errors.Is(err, apperrors.ErrEmptyValue), errors.Is(err, apperrors.ErrReservedCategory),
		errors.Is(err, apperrors.ErrAmbiguousRecord), errors.Is(err, apperrors.ErrParse):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrFetchFailed):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return v, true
}

// fieldUpdate ist der Body aller PATCH-Endpunkte.
type fieldUpdate struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value"`
}
