package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"physbib/models"
)

func (s *Server) setupCategoryRoutes(r *gin.RouterGroup) {
	cats := r.Group("/categories")
	cats.GET("", s.listCategories)
	cats.POST("", s.createCategory)
	cats.GET("/tree", s.categoryTree)
	cats.GET("/:id", s.getCategory)
	cats.PUT("/:id", s.replaceCategory)
	cats.PATCH("/:id", s.updateCategoryField)
	cats.DELETE("/:id", s.deleteCategory)
	cats.GET("/:id/tree", s.categoryTree)
	cats.GET("/:id/children", s.categoryChildren)
	cats.GET("/:id/parent", s.categoryParent)
	cats.GET("/:id/entries", s.categoryEntries)
	cats.GET("/:id/experiments", s.categoryExperiments)
}

func (s *Server) listCategories(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		cats []models.Category
		err  error
	)
	if name := c.Query("name"); name != "" {
		cats, err = s.Categories.GetByName(ctx, name)
	} else {
		cats, err = s.Categories.GetAll(ctx)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cats)
}

func (s *Server) createCategory(c *gin.Context) {
	var cat models.Category
	if err := c.ShouldBindJSON(&cat); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.Categories.Insert(c.Request.Context(), &cat); err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("Category created", zap.Int("id_cat", cat.IDCat), zap.String("name", cat.Name))
	c.JSON(http.StatusCreated, cat)
}

func (s *Server) getCategory(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	cat, err := s.Categories.GetByID(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (s *Server) replaceCategory(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	var cat models.Category
	if err := c.ShouldBindJSON(&cat); err != nil {
		s.badRequest(c, err)
		return
	}
	cat.IDCat = id
	if err := s.Categories.Update(c.Request.Context(), &cat); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (s *Server) updateCategoryField(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	var req fieldUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.Categories.UpdateField(c.Request.Context(), id, req.Field, req.Value); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) deleteCategory(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	if err := s.Categories.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// categoryTree liefert den Baum ab :id, ohne Pfadparameter den ganzen Baum.
func (s *Server) categoryTree(c *gin.Context) {
	root := models.CategoryMain
	if c.Param("id") != "" {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		root = id
	}
	tree, err := s.Categories.Hierarchy(c.Request.Context(), root)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tree)
}

func (s *Server) categoryChildren(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	cats, err := s.Categories.GetChildren(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cats)
}

func (s *Server) categoryParent(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	cat, err := s.Categories.GetParent(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (s *Server) categoryEntries(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	list, err := s.Entries.GetByCategory(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Entries: list})
}

func (s *Server) categoryExperiments(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	exps, err := s.Experiments.GetByCategory(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exps)
}

func (s *Server) setupExperimentRoutes(r *gin.RouterGroup) {
	exps := r.Group("/experiments")
	exps.GET("", s.listExperiments)
	exps.POST("", s.createExperiment)
	exps.GET("/:id", s.getExperiment)
	exps.PUT("/:id", s.replaceExperiment)
	exps.PATCH("/:id", s.updateExperimentField)
	exps.DELETE("/:id", s.deleteExperiment)
	exps.GET("/:id/entries", s.experimentEntries)
	exps.GET("/:id/categories", s.experimentCategories)
}

func (s *Server) listExperiments(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		exps []models.Experiment
		err  error
	)
	if name := c.Query("name"); name != "" {
		exps, err = s.Experiments.GetByName(ctx, name)
	} else {
		exps, err = s.Experiments.GetAll(ctx, c.Query("order_by"), c.Query("order"))
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exps)
}

func (s *Server) createExperiment(c *gin.Context) {
	var exp models.Experiment
	if err := c.ShouldBindJSON(&exp); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.Experiments.Insert(c.Request.Context(), &exp); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exp)
}

func (s *Server) getExperiment(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	exp, err := s.Experiments.GetByID(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

func (s *Server) replaceExperiment(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	var exp models.Experiment
	if err := c.ShouldBindJSON(&exp); err != nil {
		s.badRequest(c, err)
		return
	}
	exp.IDExp = id
	if err := s.Experiments.Update(c.Request.Context(), &exp); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

func (s *Server) updateExperimentField(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	var req fieldUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.Experiments.UpdateField(c.Request.Context(), id, req.Field, req.Value); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) deleteExperiment(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	if err := s.Experiments.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) experimentEntries(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	list, err := s.Entries.GetByExperiment(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Entries: list})
}

func (s *Server) experimentCategories(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	cats, err := s.Categories.GetByExperiment(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cats)
}
