package views

import (
	"net/http"

	"github.com/GrainArc/LabelMap/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SaveCorrection applies one edit batch as an atomic, conflict-checked
// transaction: POST /geo/SaveCorrection
func (uc *LabelController) SaveCorrection(c *gin.Context) {
	var jsonData services.SaveRequest
	if err := c.ShouldBindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid JSON format",
			"details": err.Error(),
		})
		return
	}
	if jsonData.SessionID == "" {
		jsonData.SessionID = uuid.New().String()
	}

	result, err := uc.Corrections.Save(c.Request.Context(), CurrentUser(c), &jsonData)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"label_id":     result.LabelID,
		"geometry_ids": result.GeometryIDs,
		"session_id":   jsonData.SessionID,
	})
}
