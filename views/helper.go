package views

import (
	"errors"
	"log"
	"net/http"

	"github.com/GrainArc/LabelMap/datastore"
	"github.com/GrainArc/LabelMap/models"
	"github.com/GrainArc/LabelMap/services"
	"github.com/gin-gonic/gin"
)

const userKey = "auth_user"

// AuthRequired resolves the caller identity from the X-Auth-Token header.
// Token issuance belongs to the external auth system; we only look it up.
func AuthRequired(store datastore.Interface) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Auth-Token")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-Auth-Token"})
			return
		}
		user, err := store.GetUserByToken(c.Request.Context(), token)
		if err != nil {
			log.Printf("token lookup failed: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal  Server  Error"})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown token"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// CurrentUser returns the authenticated caller set by AuthRequired.
func CurrentUser(c *gin.Context) *models.AuthUser {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.AuthUser)
	return user
}

// writeError maps the service error taxonomy onto HTTP statuses. Conflicts
// carry the offending geometry ids so the client can re-fetch and resubmit.
func writeError(c *gin.Context, err error) {
	var authErr *services.AuthorizationError
	var valErr *services.ValidationError
	var conflictErr *services.ConflictError
	var notFoundErr *services.NotFoundError
	var stateErr *services.StateError

	switch {
	case errors.As(err, &authErr):
		c.JSON(http.StatusForbidden, gin.H{"error": authErr.Error()})
	case errors.As(err, &valErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": valErr.Error()})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{
			"success":      false,
			"conflict_ids": conflictErr.GeometryIDs,
		})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundErr.Error()})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": stateErr.Error()})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal  Server  Error"})
	}
}
