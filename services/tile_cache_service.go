// services/tile_cache_service.go
package services

import (
	"fmt"
	"time"

	"github.com/GrainArc/LabelMap/pgmvt"
	gocache "github.com/patrickmn/go-cache"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// TileCacheService keeps rendered tiles in process memory, keyed by
// (label, z, x, y, extent). Corrections invalidate every cached tile whose
// envelope touches the edited geometry, across all cached zoom levels.
type TileCacheService struct {
	cache *gocache.Cache
}

func NewTileCacheService(ttl time.Duration) *TileCacheService {
	return &TileCacheService{
		cache: gocache.New(ttl, 2*ttl),
	}
}

func tileKey(labelID int64, z, x, y uint32, extent int) string {
	return fmt.Sprintf("tile:%d:%d:%d:%d:%d", labelID, z, x, y, extent)
}

func (s *TileCacheService) Get(labelID int64, z, x, y uint32, extent int) ([]byte, bool) {
	v, ok := s.cache.Get(tileKey(labelID, z, x, y, extent))
	if !ok {
		return nil, false
	}
	data, ok := v.([]byte)
	return data, ok
}

func (s *TileCacheService) Set(labelID int64, z, x, y uint32, extent int, data []byte) {
	s.cache.Set(tileKey(labelID, z, x, y, extent), data, gocache.DefaultExpiration)
}

// InvalidateBound drops every cached tile of the label whose envelope
// intersects b.
func (s *TileCacheService) InvalidateBound(labelID int64, b orb.Bound) {
	for key := range s.cache.Items() {
		var id int64
		var z, x, y uint32
		var extent int
		if _, err := fmt.Sscanf(key, "tile:%d:%d:%d:%d:%d", &id, &z, &x, &y, &extent); err != nil {
			continue
		}
		if id != labelID {
			continue
		}
		tb := maptile.New(x, y, maptile.Zoom(z)).Bound(float64(pgmvt.TileBufferPx) / float64(extent))
		if tb.Intersects(b) {
			s.cache.Delete(key)
		}
	}
}

// InvalidateLabel drops every cached tile of the label.
func (s *TileCacheService) InvalidateLabel(labelID int64) {
	for key := range s.cache.Items() {
		var id int64
		var z, x, y uint32
		var extent int
		if _, err := fmt.Sscanf(key, "tile:%d:%d:%d:%d:%d", &id, &z, &x, &y, &extent); err != nil {
			continue
		}
		if id == labelID {
			s.cache.Delete(key)
		}
	}
}
