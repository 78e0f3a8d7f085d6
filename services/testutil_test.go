package services

import (
	"context"
	"testing"

	"github.com/GrainArc/LabelMap/datastore"
	"github.com/GrainArc/LabelMap/models"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	ctx      context.Context
	store    *datastore.MemStore
	reviewer *models.AuthUser
	user     *models.AuthUser
	label    *models.Label
}

// newTestEnv seeds a reviewer, a plain contributor, and one active
// model-prediction label for dataset 1 on the deadwood layer.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		ctx:      context.Background(),
		store:    datastore.NewMemStore(),
		reviewer: &models.AuthUser{ID: 1, Name: "reviewer", Token: "rev-token", IsReviewer: true},
		user:     &models.AuthUser{ID: 2, Name: "contributor", Token: "usr-token"},
	}
	env.store.AddUser(env.reviewer)
	env.store.AddUser(env.user)

	env.label = &models.Label{
		DatasetID:   1,
		LabelData:   string(models.LayerDeadwood),
		LabelSource: models.SourceModelPrediction,
		Version:     1,
		IsActive:    true,
	}
	require.NoError(t, env.store.CreateLabel(env.ctx, env.label))
	return env
}

func square(minX, minY, side float64) orb.MultiPolygon {
	return orb.MultiPolygon{orb.Polygon{orb.Ring{
		{minX, minY},
		{minX + side, minY},
		{minX + side, minY + side},
		{minX, minY + side},
		{minX, minY},
	}}}
}

// seedFeature inserts a live geometry under the env label and reads it back
// so the caller holds the store-assigned id and version timestamp.
func (env *testEnv) seedFeature(t *testing.T, geom orb.MultiPolygon, area float64) *datastore.Feature {
	t.Helper()
	f := &datastore.Feature{LabelID: env.label.ID, Geom: geom, Area: area}
	require.NoError(t, env.store.InsertFeature(env.ctx, models.LayerDeadwood, datastore.ScopeLive, f))
	got, err := env.store.GetFeature(env.ctx, models.LayerDeadwood, datastore.ScopeLive, f.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}
