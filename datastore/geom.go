package datastore

import (
	"github.com/paulmach/orb"
)

// AsMultiPolygon normalizes a polygonal geometry to MultiPolygon, the only
// shape the layer tables store. Non-polygonal input returns nil.
func AsMultiPolygon(g orb.Geometry) orb.MultiPolygon {
	switch geom := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{geom}
	case orb.MultiPolygon:
		return geom
	case orb.Collection:
		var mp orb.MultiPolygon
		for _, sub := range geom {
			mp = append(mp, AsMultiPolygon(sub)...)
		}
		return mp
	}
	return nil
}
