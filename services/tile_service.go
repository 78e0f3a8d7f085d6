package services

import (
	"context"
	"fmt"

	"github.com/GrainArc/LabelMap/datastore"
	"github.com/GrainArc/LabelMap/metrics"
	"github.com/GrainArc/LabelMap/models"
	"github.com/GrainArc/LabelMap/pgmvt"
	"github.com/paulmach/orb/geojson"
)

// TileService renders label geometries into vector tiles. The path is pure
// read: it never mutates store state and is always safe to cancel.
type TileService struct {
	store datastore.Interface
	cache *TileCacheService
}

func NewTileService(store datastore.Interface, cache *TileCacheService) *TileService {
	return &TileService{store: store, cache: cache}
}

type TileRequest struct {
	Z       uint32
	X       uint32
	Y       uint32
	LabelID int64
	Extent  int // 0 selects pgmvt.DefaultExtent
}

func (r *TileRequest) validate() error {
	if r.Z > pgmvt.MaxZoom {
		return &ValidationError{Field: "z", Reason: fmt.Sprintf("max zoom is %d", pgmvt.MaxZoom)}
	}
	max := uint32(1) << r.Z
	if r.X >= max || r.Y >= max {
		return &ValidationError{Field: "x/y", Reason: "tile index out of range for zoom"}
	}
	if r.Extent == 0 {
		r.Extent = pgmvt.DefaultExtent
	}
	if r.Extent < pgmvt.MinExtent || r.Extent > pgmvt.MaxExtent {
		return &ValidationError{Field: "extent", Reason: fmt.Sprintf("extent must be %d..%d", pgmvt.MinExtent, pgmvt.MaxExtent)}
	}
	if r.LabelID <= 0 {
		return &ValidationError{Field: "label_id", Reason: "required"}
	}
	return nil
}

// Tile encodes one tile for the label. An empty tile is a valid result.
func (s *TileService) Tile(ctx context.Context, req TileRequest) ([]byte, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	label, err := s.store.GetLabel(ctx, req.LabelID)
	if err != nil {
		return nil, err
	}
	if label == nil {
		return nil, &NotFoundError{Kind: "label", ID: req.LabelID}
	}
	layer := models.LayerType(label.LabelData)
	if !layer.Valid() {
		return nil, &ValidationError{Field: "label_id", Reason: "label has unknown layer type"}
	}

	if s.cache != nil {
		if data, ok := s.cache.Get(req.LabelID, req.Z, req.X, req.Y, req.Extent); ok {
			metrics.TileCacheHits.Inc()
			return data, nil
		}
		metrics.TileCacheMisses.Inc()
	}

	z := int(req.Z)
	q := datastore.TileQuery{
		Bound:     pgmvt.TileBound(req.Z, req.X, req.Y, req.Extent),
		MinArea:   pgmvt.MinArea(z),
		Tolerance: pgmvt.SimplifyTolerance(z),
		Limit:     pgmvt.FeatureCap(z),
	}
	feats, err := s.store.TileFeatures(ctx, layer, datastore.ScopeOf(label), req.LabelID, q)
	if err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	for i := range feats {
		f := &feats[i]
		nf := geojson.NewFeature(f.Geom)
		nf.ID = float64(f.ID)
		nf.Properties = geojson.Properties{}
		for k, v := range f.Properties {
			nf.Properties[k] = v
		}
		nf.Properties["id"] = f.ID
		nf.Properties["label_id"] = f.LabelID
		fc.Append(nf)
	}

	data, err := pgmvt.MakeMVT(string(layer), req.Z, req.X, req.Y, req.Extent, fc)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(req.LabelID, req.Z, req.X, req.Y, req.Extent, data)
	}
	metrics.TilesRendered.WithLabelValues(string(layer)).Inc()
	return data, nil
}
