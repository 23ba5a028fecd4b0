package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gardian_admin/internal/admins"
	"gardian_admin/internal/middleware"
)

// UserController serves administrator roster management.
type UserController struct {
	Admins *admins.Service
}

// ListUsers returns administrators narrowed by ?search and ?status, plus roster counts.
func (uc *UserController) ListUsers(c *gin.Context) {
	users, counts := uc.Admins.List(admins.Query{Search: c.Query("search"), Status: c.Query("status")})
	c.JSON(http.StatusOK, gin.H{"data": users, "counts": counts})
}

// CreateUser provisions a new administrator.
func (uc *UserController) CreateUser(c *gin.Context) {
	var input admins.CreateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := uc.Admins.Create(c.Request.Context(), actorID(c), input)
	if err != nil {
		respondAdminError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": u})
}

// UpdateUser applies a partial edit.
func (uc *UserController) UpdateUser(c *gin.Context) {
	var input admins.EditInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := uc.Admins.Update(c.Request.Context(), actorID(c), c.Param("id"), input); err != nil {
		respondAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user updated"})
}

// DeleteUser removes an administrator.
func (uc *UserController) DeleteUser(c *gin.Context) {
	if err := uc.Admins.Delete(c.Request.Context(), middleware.CurrentAdmin(c), c.Param("id")); err != nil {
		respondAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}

func respondAdminError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, admins.ErrMissingFields), errors.Is(err, admins.ErrInvalidEmail),
		errors.Is(err, admins.ErrInvalidStatus), errors.Is(err, admins.ErrInvalidPhone),
		errors.Is(err, admins.ErrWeakPassword), errors.Is(err, admins.ErrNothingToSave):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, admins.ErrEmailInUse):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, admins.ErrSelfDelete):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, admins.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("user management action failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not complete the action, please try again"})
	}
}
