package pgmvt

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileBoundCoversTile(t *testing.T) {
	tile := maptile.New(33, 22, 6)
	buffered := TileBound(6, 33, 22, DefaultExtent)
	bare := tile.Bound()

	assert.True(t, buffered.Contains(bare.Min))
	assert.True(t, buffered.Contains(bare.Max))
	assert.Less(t, buffered.Min[0], bare.Min[0])
	assert.Greater(t, buffered.Max[1], bare.Max[1])
}

func TestMakeMVTRoundTrip(t *testing.T) {
	z, x, y := uint32(14), uint32(8645), uint32(5293)
	tile := maptile.New(x, y, maptile.Zoom(z))
	b := tile.Bound()
	cx := (b.Min[0] + b.Max[0]) / 2
	cy := (b.Min[1] + b.Max[1]) / 2
	side := (b.Max[0] - b.Min[0]) / 4

	fc := geojson.NewFeatureCollection()
	inside := geojson.NewFeature(orb.Polygon{orb.Ring{
		{cx, cy}, {cx + side, cy}, {cx + side, cy + side}, {cx, cy + side}, {cx, cy},
	}})
	inside.ID = float64(7)
	inside.Properties = geojson.Properties{"id": int64(7), "label_id": int64(3)}
	fc.Append(inside)
	// far away from the tile, must be clipped out
	outside := geojson.NewFeature(orb.Polygon{orb.Ring{
		{cx + 10, cy + 10}, {cx + 11, cy + 10}, {cx + 11, cy + 11}, {cx + 10, cy + 11}, {cx + 10, cy + 10},
	}})
	fc.Append(outside)

	data, err := MakeMVT("deadwood", z, x, y, DefaultExtent, fc)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	layers, err := mvt.Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	layer := layers[0]
	assert.Equal(t, "deadwood", layer.Name)
	assert.Equal(t, uint32(2), layer.Version)
	assert.Equal(t, uint32(DefaultExtent), layer.Extent)
	require.Len(t, layer.Features, 1)
	assert.EqualValues(t, 3, layer.Features[0].Properties["label_id"])
}

func TestMakeMVTEmptyCollection(t *testing.T) {
	data, err := MakeMVT("forest_cover", 10, 1, 1, DefaultExtent, geojson.NewFeatureCollection())
	require.NoError(t, err)

	layers, err := mvt.Unmarshal(data)
	require.NoError(t, err)
	for _, layer := range layers {
		assert.Empty(t, layer.Features)
	}
}
