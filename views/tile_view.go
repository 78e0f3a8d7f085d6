package views

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/GrainArc/LabelMap/config"
	"github.com/GrainArc/LabelMap/services"
	"github.com/gin-gonic/gin"
)

// OutMVT serves one vector tile: GET /geo/:labelid/:z/:x/:y.pbf?extent=
func (uc *LabelController) OutMVT(c *gin.Context) {
	labelID, err := strconv.ParseInt(c.Param("labelid"), 10, 64)
	if err != nil || labelID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid label id"})
		return
	}
	z, errZ := strconv.ParseUint(c.Param("z"), 10, 32)
	x, errX := strconv.ParseUint(c.Param("x"), 10, 32)
	y, errY := strconv.ParseUint(strings.TrimSuffix(c.Param("y.pbf"), ".pbf"), 10, 32)
	if errZ != nil || errX != nil || errY != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tile address"})
		return
	}

	extent := config.TileExtent
	if raw := c.Query("extent"); raw != "" {
		extent, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid extent"})
			return
		}
	}

	data, err := uc.Tiles.Tile(c.Request.Context(), services.TileRequest{
		Z:       uint32(z),
		X:       uint32(x),
		Y:       uint32(y),
		LabelID: labelID,
		Extent:  extent,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/x-protobuf", data)
}
