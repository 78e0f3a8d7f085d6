package pgmvt

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
)

const (
	// DefaultExtent is the tile pixel grid used when the client does not ask
	// for one.
	DefaultExtent = 4096
	// TileBufferPx pads the clip envelope so strokes do not seam at tile
	// edges.
	TileBufferPx = 16

	MinExtent = 256
	MaxExtent = 8192
	MaxZoom   = 22
)

// TileBound returns the geographic envelope of a tile including the pixel
// buffer margin.
func TileBound(z, x, y uint32, extent int) orb.Bound {
	t := maptile.New(x, y, maptile.Zoom(z))
	return t.Bound(float64(TileBufferPx) / float64(extent))
}

// MakeMVT encodes a feature collection as one vector-tile layer. Features
// are clipped to the buffered tile envelope before projection; an empty
// collection still encodes to a valid (empty) tile.
func MakeMVT(layerName string, z, x, y uint32, extent int, fc *geojson.FeatureCollection) ([]byte, error) {
	bound := TileBound(z, x, y, extent)

	clipped := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		g := clip.Geometry(bound, orb.Clone(f.Geometry))
		if g == nil {
			continue
		}
		nf := geojson.NewFeature(g)
		nf.ID = f.ID
		nf.Properties = f.Properties
		clipped.Append(nf)
	}

	layer := mvt.NewLayer(layerName, clipped)
	layer.Version = 2
	layer.Extent = uint32(extent)
	layer.ProjectToTile(maptile.New(x, y, maptile.Zoom(z)))

	return mvt.Marshal(mvt.Layers{layer})
}
