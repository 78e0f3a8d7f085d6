package views

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type reviewData struct {
	CorrectionID int64  `json:"correction_id" binding:"required"`
	Note         string `json:"note"`
}

// ApproveCorrection closes a pending correction as approved:
// POST /audit/ApproveCorrection
func (uc *LabelController) ApproveCorrection(c *gin.Context) {
	var jsonData reviewData
	if err := c.ShouldBindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format", "details": err.Error()})
		return
	}
	if err := uc.Audit.Approve(c.Request.Context(), CurrentUser(c), jsonData.CorrectionID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, "ok")
}

// RevertCorrection rolls a pending correction back:
// POST /audit/RevertCorrection
func (uc *LabelController) RevertCorrection(c *gin.Context) {
	var jsonData reviewData
	if err := c.ShouldBindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format", "details": err.Error()})
		return
	}
	if err := uc.Audit.Revert(c.Request.Context(), CurrentUser(c), jsonData.CorrectionID, jsonData.Note); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, "ok")
}

// AuditHistory returns the ordered correction history of a dataset/label:
// GET /audit/AuditHistory?dataset_id=&label_id=
func (uc *LabelController) AuditHistory(c *gin.Context) {
	datasetID, err1 := strconv.ParseInt(c.Query("dataset_id"), 10, 64)
	labelID, err2 := strconv.ParseInt(c.Query("label_id"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dataset_id and label_id are required"})
		return
	}
	records, err := uc.Audit.History(c.Request.Context(), datasetID, labelID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// 获取修改记录
// GET /geo/GetChangeRecord?user_id=
func (uc *LabelController) GetChangeRecord(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	records, err := uc.Audit.UserCorrections(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}
