package services

import (
	"testing"
	"time"

	"github.com/GrainArc/LabelMap/models"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeCount returns the number of features in the tile's single layer.
func decodeCount(t *testing.T, data []byte) int {
	t.Helper()
	layers, err := mvt.Unmarshal(data)
	require.NoError(t, err)
	if len(layers) == 0 {
		return 0
	}
	require.Len(t, layers, 1)
	return len(layers[0].Features)
}

func tileAt(p orb.Point, z uint32) (uint32, uint32) {
	tile := maptile.At(p, maptile.Zoom(z))
	return tile.X, tile.Y
}

func TestTileLevelOfDetail(t *testing.T) {
	env := newTestEnv(t)
	svc := NewTileService(env.store, nil)

	center := orb.Point{10.025, 50.025}
	// a stand-sized polygon and a sub-pixel 5 square-meter sliver inside it
	env.seedFeature(t, square(10, 50, 0.05), 1_000_000)
	env.seedFeature(t, square(10.0249, 50.0249, 0.0002), 5)

	x, y := tileAt(center, 16)
	data, err := svc.Tile(env.ctx, TileRequest{Z: 16, X: x, Y: y, LabelID: env.label.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, decodeCount(t, data), "native zoom renders everything")

	x, y = tileAt(center, 6)
	data, err = svc.Tile(env.ctx, TileRequest{Z: 6, X: x, Y: y, LabelID: env.label.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, decodeCount(t, data), "overview zoom drops sub-pixel features")
}

func TestTileEmptyIsValid(t *testing.T) {
	env := newTestEnv(t)
	svc := NewTileService(env.store, nil)

	x, y := tileAt(orb.Point{-60, -30}, 14) // nothing lives here
	data, err := svc.Tile(env.ctx, TileRequest{Z: 14, X: x, Y: y, LabelID: env.label.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, decodeCount(t, data))
}

func TestTileValidation(t *testing.T) {
	env := newTestEnv(t)
	svc := NewTileService(env.store, nil)

	var valErr *ValidationError
	_, err := svc.Tile(env.ctx, TileRequest{Z: 40, LabelID: env.label.ID})
	require.ErrorAs(t, err, &valErr)
	_, err = svc.Tile(env.ctx, TileRequest{Z: 2, X: 100, Y: 0, LabelID: env.label.ID})
	require.ErrorAs(t, err, &valErr)
	_, err = svc.Tile(env.ctx, TileRequest{Z: 2, X: 1, Y: 1, LabelID: env.label.ID, Extent: 64})
	require.ErrorAs(t, err, &valErr)

	var notFoundErr *NotFoundError
	_, err = svc.Tile(env.ctx, TileRequest{Z: 2, X: 1, Y: 1, LabelID: 404})
	require.ErrorAs(t, err, &notFoundErr)
}

func TestTileCacheAndInvalidation(t *testing.T) {
	env := newTestEnv(t)
	cache := NewTileCacheService(time.Minute)
	svc := NewTileService(env.store, cache)

	center := orb.Point{10.025, 50.025}
	env.seedFeature(t, square(10, 50, 0.05), 1_000_000)

	x, y := tileAt(center, 14)
	req := TileRequest{Z: 14, X: x, Y: y, LabelID: env.label.ID}

	first, err := svc.Tile(env.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, decodeCount(t, first))

	// a second feature lands, but the cached tile still serves the old state
	added := env.seedFeature(t, square(10.02, 50.02, 0.01), 50_000)
	cached, err := svc.Tile(env.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, decodeCount(t, cached))

	// invalidating the edited bound forces a re-render
	cache.InvalidateBound(env.label.ID, added.Geom.Bound())
	fresh, err := svc.Tile(env.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, decodeCount(t, fresh))
}

func TestCorrectionInvalidatesTiles(t *testing.T) {
	env := newTestEnv(t)
	cache := NewTileCacheService(time.Minute)
	tiles := NewTileService(env.store, cache)
	corrections := NewCorrectionService(env.store, cache)

	center := orb.Point{10.025, 50.025}
	target := env.seedFeature(t, square(10, 50, 0.05), 1_000_000)

	x, y := tileAt(center, 14)
	req := TileRequest{Z: 14, X: x, Y: y, LabelID: env.label.ID}
	first, err := tiles.Tile(env.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, decodeCount(t, first))

	_, err = corrections.Save(env.ctx, env.reviewer, &SaveRequest{
		DatasetID: 1,
		LabelID:   env.label.ID,
		UserID:    env.reviewer.ID,
		LayerType: models.LayerDeadwood,
		Deletions: []Deletion{{GeometryID: target.ID, UpdatedAt: target.UpdatedAt}},
	})
	require.NoError(t, err)

	after, err := tiles.Tile(env.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, decodeCount(t, after), "deleting the geometry evicts the covering tiles")
}
