package main

import (
	"log"

	"github.com/GrainArc/LabelMap/config"
	"github.com/GrainArc/LabelMap/datastore"
	"github.com/GrainArc/LabelMap/metrics"
	"github.com/GrainArc/LabelMap/models"
	"github.com/GrainArc/LabelMap/routers"
	"github.com/gin-gonic/gin"
)

func main() {
	models.InitDB()
	metrics.RegisterDefault()

	store := datastore.NewPgStore(models.DB)

	r := gin.Default()
	routers.GeoRouters(r, store)

	log.Printf("listening on %s", config.MainRouter)
	if err := r.Run(config.MainRouter); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
