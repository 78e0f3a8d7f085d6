package views

import (
	"net/http"

	"github.com/GrainArc/LabelMap/services"
	"github.com/gin-gonic/gin"
)

// CreatePatchSnapshot stores a patch row and freezes the live predictions
// into it: POST /patch/CreatePatchSnapshot
func (uc *LabelController) CreatePatchSnapshot(c *gin.Context) {
	var jsonData services.CreatePatchRequest
	if err := c.ShouldBindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format", "details": err.Error()})
		return
	}
	patch, err := uc.Patches.CreatePatch(c.Request.Context(), CurrentUser(c), &jsonData)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, patch)
}

// SavePatchVersion writes the next label version for a patch+layer:
// POST /patch/SavePatchVersion
func (uc *LabelController) SavePatchVersion(c *gin.Context) {
	var jsonData services.SaveVersionRequest
	if err := c.ShouldBindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format", "details": err.Error()})
		return
	}
	result, err := uc.Patches.SaveVersion(c.Request.Context(), CurrentUser(c), &jsonData)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type patchStatusData struct {
	PatchID int64  `json:"patch_id" binding:"required"`
	Status  string `json:"status" binding:"required"`
}

// SetPatchStatus records the quality-review outcome:
// POST /patch/SetPatchStatus
func (uc *LabelController) SetPatchStatus(c *gin.Context) {
	var jsonData patchStatusData
	if err := c.ShouldBindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format", "details": err.Error()})
		return
	}
	if err := uc.Patches.SetStatus(c.Request.Context(), CurrentUser(c), jsonData.PatchID, jsonData.Status); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, "ok")
}
