package datastore

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsMultiPolygon(t *testing.T) {
	poly := orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}

	got := AsMultiPolygon(poly)
	require.NotNil(t, got)
	assert.Len(t, got, 1)

	got = AsMultiPolygon(orb.MultiPolygon{poly, poly})
	require.NotNil(t, got)
	assert.Len(t, got, 2)

	got = AsMultiPolygon(orb.Collection{poly, orb.MultiPolygon{poly}})
	require.NotNil(t, got)
	assert.Len(t, got, 2)

	assert.Nil(t, AsMultiPolygon(orb.Point{1, 2}))
	assert.Nil(t, AsMultiPolygon(orb.LineString{{0, 0}, {1, 1}}))
	assert.Nil(t, AsMultiPolygon(nil))
}
