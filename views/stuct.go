package views

import (
	"time"

	"github.com/GrainArc/LabelMap/config"
	"github.com/GrainArc/LabelMap/datastore"
	"github.com/GrainArc/LabelMap/services"
)

type LabelController struct {
	Store       datastore.Interface
	Tiles       *services.TileService
	Corrections *services.CorrectionService
	Audit       *services.AuditService
	Patches     *services.PatchService
	Cache       *services.TileCacheService
}

func NewLabelController(store datastore.Interface) *LabelController {
	cache := services.NewTileCacheService(time.Duration(config.TileCacheTTL) * time.Second)
	return &LabelController{
		Store:       store,
		Cache:       cache,
		Tiles:       services.NewTileService(store, cache),
		Corrections: services.NewCorrectionService(store, cache),
		Audit:       services.NewAuditService(store, cache),
		Patches:     services.NewPatchService(store),
	}
}
