package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// linkRequest beschreibt eine Zeile einer der drei Verknüpfungstabellen.
type linkRequest struct {
	Bibkey string `json:"bibkey" form:"bibkey"`
	IDCat  *int   `json:"id_cat" form:"id_cat"`
	IDExp  *int   `json:"id_exp" form:"id_exp"`
}

func (s *Server) setupLinkRoutes(r *gin.RouterGroup) {
	links := r.Group("/links")
	links.GET("/entry-categories", s.getEntryCategories)
	links.POST("/entry-categories", s.addEntryCategory)
	links.DELETE("/entry-categories", s.removeEntryCategory)
	links.GET("/entry-experiments", s.getEntryExperiments)
	links.POST("/entry-experiments", s.addEntryExperiment)
	links.DELETE("/entry-experiments", s.removeEntryExperiment)
	links.GET("/category-experiments", s.getCategoryExperiments)
	links.POST("/category-experiments", s.addCategoryExperiment)
	links.DELETE("/category-experiments", s.removeCategoryExperiment)
}

func bindLink(c *gin.Context, needKey, needCat, needExp bool) (linkRequest, bool) {
	var req linkRequest
	var err error
	if c.Request.Method == http.MethodPost {
		err = c.ShouldBindJSON(&req)
	} else {
		err = c.ShouldBindQuery(&req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	missing := ""
	switch {
	case needKey && req.Bibkey == "":
		missing = "bibkey"
	case needCat && req.IDCat == nil:
		missing = "id_cat"
	case needExp && req.IDExp == nil:
		missing = "id_exp"
	}
	if missing != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": missing + " is required"})
		return req, false
	}
	return req, true
}

// Ohne Parameter liefern die GET-Routen die ganze Tabelle.
func (s *Server) getEntryCategories(c *gin.Context) {
	ctx := c.Request.Context()
	if c.Query("bibkey") == "" && c.Query("id_cat") == "" {
		rows, err := s.Links.AllEntryCategories(ctx)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
		return
	}
	req, ok := bindLink(c, true, true, false)
	if !ok {
		return
	}
	rows, err := s.Links.GetEntryCategory(ctx, req.Bibkey, *req.IDCat)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) addEntryCategory(c *gin.Context) {
	req, ok := bindLink(c, true, true, false)
	if !ok {
		return
	}
	if err := s.Links.InsertEntryCategory(c.Request.Context(), req.Bibkey, *req.IDCat); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "linked"})
}

func (s *Server) removeEntryCategory(c *gin.Context) {
	req, ok := bindLink(c, true, true, false)
	if !ok {
		return
	}
	if err := s.Links.DeleteEntryCategory(c.Request.Context(), req.Bibkey, *req.IDCat); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unlinked"})
}

func (s *Server) getEntryExperiments(c *gin.Context) {
	ctx := c.Request.Context()
	if c.Query("bibkey") == "" && c.Query("id_exp") == "" {
		rows, err := s.Links.AllEntryExperiments(ctx)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
		return
	}
	req, ok := bindLink(c, true, false, true)
	if !ok {
		return
	}
	rows, err := s.Links.GetEntryExperiment(ctx, req.Bibkey, *req.IDExp)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) addEntryExperiment(c *gin.Context) {
	req, ok := bindLink(c, true, false, true)
	if !ok {
		return
	}
	if err := s.Links.InsertEntryExperiment(c.Request.Context(), req.Bibkey, *req.IDExp); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "linked"})
}

func (s *Server) removeEntryExperiment(c *gin.Context) {
	req, ok := bindLink(c, true, false, true)
	if !ok {
		return
	}
	if err := s.Links.DeleteEntryExperiment(c.Request.Context(), req.Bibkey, *req.IDExp); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unlinked"})
}

func (s *Server) getCategoryExperiments(c *gin.Context) {
	ctx := c.Request.Context()
	if c.Query("id_cat") == "" && c.Query("id_exp") == "" {
		rows, err := s.Links.AllCategoryExperiments(ctx)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
		return
	}
	req, ok := bindLink(c, false, true, true)
	if !ok {
		return
	}
	rows, err := s.Links.GetCategoryExperiment(ctx, *req.IDCat, *req.IDExp)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) addCategoryExperiment(c *gin.Context) {
	req, ok := bindLink(c, false, true, true)
	if !ok {
		return
	}
	if err := s.Links.InsertCategoryExperiment(c.Request.Context(), *req.IDCat, *req.IDExp); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "linked"})
}

func (s *Server) removeCategoryExperiment(c *gin.Context) {
	req, ok := bindLink(c, false, true, true)
	if !ok {
		return
	}
	if err := s.Links.DeleteCategoryExperiment(c.Request.Context(), *req.IDCat, *req.IDExp); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unlinked"})
}
