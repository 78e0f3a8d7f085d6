package routers

import (
	"github.com/GrainArc/LabelMap/datastore"
	"github.com/GrainArc/LabelMap/metrics"
	"github.com/GrainArc/LabelMap/views"
	"github.com/gin-gonic/gin"
)

func GeoRouters(r *gin.Engine, store datastore.Interface) {
	LabelController := views.NewLabelController(store)
	auth := views.AuthRequired(store)
	mapRouter := r.Group("/geo")
	{
		// 切片与查询接口无需鉴权
		mapRouter.GET(":labelid/:z/:x/:y.pbf", LabelController.OutMVT)
		mapRouter.GET("/GetChangeRecord", LabelController.GetChangeRecord)

		mapRouter.POST("/SaveCorrection", auth, LabelController.SaveCorrection)
	}
	auditRouter := r.Group("/audit")
	{
		auditRouter.GET("/AuditHistory", LabelController.AuditHistory)
		auditRouter.POST("/ApproveCorrection", auth, LabelController.ApproveCorrection)
		auditRouter.POST("/RevertCorrection", auth, LabelController.RevertCorrection)
	}
	patchRouter := r.Group("/patch", auth)
	{
		patchRouter.POST("/CreatePatchSnapshot", LabelController.CreatePatchSnapshot)
		patchRouter.POST("/SavePatchVersion", LabelController.SavePatchVersion)
		patchRouter.POST("/SetPatchStatus", LabelController.SetPatchStatus)
	}
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
}
