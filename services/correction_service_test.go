package services

import (
	"sync"
	"testing"
	"time"

	"github.com/GrainArc/LabelMap/datastore"
	"github.com/GrainArc/LabelMap/metrics"
	"github.com/GrainArc/LabelMap/models"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveIdentityMismatch(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCorrectionService(env.store, nil)

	_, err := svc.Save(env.ctx, env.user, &SaveRequest{
		DatasetID: 1,
		LabelID:   env.label.ID,
		UserID:    env.reviewer.ID, // not the caller
		LayerType: models.LayerDeadwood,
		Additions: []Addition{{Geometry: geojson.NewGeometry(square(10, 50, 0.001))}},
	})
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
}

func TestSaveEmptyBatch(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCorrectionService(env.store, nil)

	_, err := svc.Save(env.ctx, env.user, &SaveRequest{
		DatasetID: 1,
		LabelID:   env.label.ID,
		UserID:    env.user.ID,
		LayerType: models.LayerDeadwood,
	})
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestSaveUserAddPending(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCorrectionService(env.store, nil)
	saved := metrics.CorrectionsSaved.WithLabelValues(models.OpAdd, models.ReviewPending)
	before := testutil.ToFloat64(saved)

	result, err := svc.Save(env.ctx, env.user, &SaveRequest{
		DatasetID: 1,
		LabelID:   env.label.ID,
		UserID:    env.user.ID,
		LayerType: models.LayerDeadwood,
		SessionID: "s-1",
		Additions: []Addition{{Geometry: geojson.NewGeometry(square(10, 50, 0.001))}},
	})
	require.NoError(t, err)
	require.Len(t, result.GeometryIDs, 1)
	assert.Equal(t, env.label.ID, result.LabelID)

	f, err := env.store.GetFeature(env.ctx, models.LayerDeadwood, datastore.ScopeLive, result.GeometryIDs[0])
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.False(t, f.IsDeleted)
	assert.Greater(t, f.Area, 0.0)

	recs, err := env.store.UserCorrections(env.ctx, env.user.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.OpAdd, recs[0].Operation)
	assert.Equal(t, models.ReviewPending, recs[0].ReviewStatus)
	assert.Nil(t, recs[0].ReviewedBy)
	assert.Equal(t, "s-1", recs[0].SessionID)
	assert.Equal(t, before+1, testutil.ToFloat64(saved))
}

func TestSaveReviewerAutoApproved(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCorrectionService(env.store, nil)
	target := env.seedFeature(t, square(10, 50, 0.001), 120)

	_, err := svc.Save(env.ctx, env.reviewer, &SaveRequest{
		DatasetID: 1,
		LabelID:   env.label.ID,
		UserID:    env.reviewer.ID,
		LayerType: models.LayerDeadwood,
		Deletions: []Deletion{{GeometryID: target.ID, UpdatedAt: target.UpdatedAt}},
	})
	require.NoError(t, err)

	f, err := env.store.GetFeature(env.ctx, models.LayerDeadwood, datastore.ScopeLive, target.ID)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.True(t, f.IsDeleted)

	recs, err := env.store.UserCorrections(env.ctx, env.reviewer.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.OpDelete, recs[0].Operation)
	assert.Equal(t, models.ReviewApproved, recs[0].ReviewStatus)
	require.NotNil(t, recs[0].ReviewedBy)
	assert.Equal(t, env.reviewer.ID, *recs[0].ReviewedBy)
}

func TestSaveModifySupersedesOriginal(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCorrectionService(env.store, nil)
	orig := env.seedFeature(t, square(10, 50, 0.001), 120)

	result, err := svc.Save(env.ctx, env.user, &SaveRequest{
		DatasetID: 1,
		LabelID:   env.label.ID,
		UserID:    env.user.ID,
		LayerType: models.LayerDeadwood,
		Additions: []Addition{{
			Geometry:           geojson.NewGeometry(square(10.0005, 50.0005, 0.001)),
			OriginalGeometryID: &orig.ID,
		}},
	})
	require.NoError(t, err)
	require.Len(t, result.GeometryIDs, 1)

	old, err := env.store.GetFeature(env.ctx, models.LayerDeadwood, datastore.ScopeLive, orig.ID)
	require.NoError(t, err)
	assert.True(t, old.IsDeleted)
	replacement, err := env.store.GetFeature(env.ctx, models.LayerDeadwood, datastore.ScopeLive, result.GeometryIDs[0])
	require.NoError(t, err)
	assert.False(t, replacement.IsDeleted)

	recs, err := env.store.UserCorrections(env.ctx, env.user.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.OpModify, recs[0].Operation)
	require.NotNil(t, recs[0].OriginalGeometryID)
	assert.Equal(t, orig.ID, *recs[0].OriginalGeometryID)
}

func TestSaveStaleTimestampConflict(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCorrectionService(env.store, nil)
	target := env.seedFeature(t, square(10, 50, 0.001), 120)

	// the caller read the row before someone else bumped its timestamp
	_, err := svc.Save(env.ctx, env.user, &SaveRequest{
		DatasetID: 1,
		LabelID:   env.label.ID,
		UserID:    env.user.ID,
		LayerType: models.LayerDeadwood,
		Deletions: []Deletion{{GeometryID: target.ID, UpdatedAt: target.UpdatedAt.Add(-time.Second)}},
	})
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, []int64{target.ID}, conflictErr.GeometryIDs)

	f, err := env.store.GetFeature(env.ctx, models.LayerDeadwood, datastore.ScopeLive, target.ID)
	require.NoError(t, err)
	assert.False(t, f.IsDeleted)
}

func TestSaveModifyVanishedOriginalConflict(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCorrectionService(env.store, nil)

	missing := int64(9999)
	_, err := svc.Save(env.ctx, env.user, &SaveRequest{
		DatasetID: 1,
		LabelID:   env.label.ID,
		UserID:    env.user.ID,
		LayerType: models.LayerDeadwood,
		Additions: []Addition{{
			Geometry:           geojson.NewGeometry(square(10, 50, 0.001)),
			OriginalGeometryID: &missing,
		}},
	})
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, []int64{missing}, conflictErr.GeometryIDs)
}

func TestSavePendingOwnershipConflict(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCorrectionService(env.store, nil)

	// contributor adds a geometry, left pending
	first, err := svc.Save(env.ctx, env.user, &SaveRequest{
		DatasetID: 1,
		LabelID:   env.label.ID,
		UserID:    env.user.ID,
		LayerType: models.LayerDeadwood,
		Additions: []Addition{{Geometry: geojson.NewGeometry(square(10, 50, 0.001))}},
	})
	require.NoError(t, err)
	newID := first.GeometryIDs[0]

	other := &models.AuthUser{ID: 3, Name: "other", Token: "t3"}
	env.store.AddUser(other)

	// a second user targets the same geometry with a fresh timestamp; the
	// pending record still owns it
	f, err := env.store.GetFeature(env.ctx, models.LayerDeadwood, datastore.ScopeLive, newID)
	require.NoError(t, err)
	_, err = svc.Save(env.ctx, other, &SaveRequest{
		DatasetID: 1,
		LabelID:   env.label.ID,
		UserID:    other.ID,
		LayerType: models.LayerDeadwood,
		Deletions: []Deletion{{GeometryID: newID, UpdatedAt: f.UpdatedAt}},
	})
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Contains(t, conflictErr.GeometryIDs, newID)

	// the owner is free to keep editing their own pending geometry
	_, err = svc.Save(env.ctx, env.user, &SaveRequest{
		DatasetID: 1,
		LabelID:   env.label.ID,
		UserID:    env.user.ID,
		LayerType: models.LayerDeadwood,
		Deletions: []Deletion{{GeometryID: newID, UpdatedAt: f.UpdatedAt}},
	})
	require.NoError(t, err)
}

func TestSaveConflictAbortsWholeBatch(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCorrectionService(env.store, nil)
	good := env.seedFeature(t, square(10, 50, 0.001), 120)
	stale := env.seedFeature(t, square(11, 51, 0.001), 120)
	savedDel := metrics.CorrectionsSaved.WithLabelValues(models.OpDelete, models.ReviewPending)
	savedAdd := metrics.CorrectionsSaved.WithLabelValues(models.OpAdd, models.ReviewPending)
	beforeDel := testutil.ToFloat64(savedDel)
	beforeAdd := testutil.ToFloat64(savedAdd)

	_, err := svc.Save(env.ctx, env.user, &SaveRequest{
		DatasetID: 1,
		LabelID:   env.label.ID,
		UserID:    env.user.ID,
		LayerType: models.LayerDeadwood,
		Deletions: []Deletion{
			{GeometryID: good.ID, UpdatedAt: good.UpdatedAt},
			{GeometryID: stale.ID, UpdatedAt: stale.UpdatedAt.Add(-time.Second)},
		},
		Additions: []Addition{{Geometry: geojson.NewGeometry(square(12, 52, 0.001))}},
	})
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, []int64{stale.ID}, conflictErr.GeometryIDs)

	// nothing from the batch landed
	f, err := env.store.GetFeature(env.ctx, models.LayerDeadwood, datastore.ScopeLive, good.ID)
	require.NoError(t, err)
	assert.False(t, f.IsDeleted)
	added, err := env.store.GetFeature(env.ctx, models.LayerDeadwood, datastore.ScopeLive, stale.ID+1)
	require.NoError(t, err)
	assert.Nil(t, added)
	recs, err := env.store.UserCorrections(env.ctx, env.user.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)

	// an aborted batch moves no saved counters
	assert.Equal(t, beforeDel, testutil.ToFloat64(savedDel))
	assert.Equal(t, beforeAdd, testutil.ToFloat64(savedAdd))
}

func TestSaveConcurrentDeletionsSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCorrectionService(env.store, nil)
	target := env.seedFeature(t, square(10, 50, 0.001), 120)

	other := &models.AuthUser{ID: 3, Name: "other", Token: "t3"}
	env.store.AddUser(other)

	// two users race to delete the same geometry with the same stamp
	callers := []*models.AuthUser{env.user, other}
	errs := make([]error, len(callers))
	var wg sync.WaitGroup
	for i, caller := range callers {
		wg.Add(1)
		go func(i int, caller *models.AuthUser) {
			defer wg.Done()
			_, errs[i] = svc.Save(env.ctx, caller, &SaveRequest{
				DatasetID: 1,
				LabelID:   env.label.ID,
				UserID:    caller.ID,
				LayerType: models.LayerDeadwood,
				Deletions: []Deletion{{GeometryID: target.ID, UpdatedAt: target.UpdatedAt}},
			})
		}(i, caller)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var conflictErr *ConflictError
		require.ErrorAs(t, err, &conflictErr)
		assert.Contains(t, conflictErr.GeometryIDs, target.ID)
		conflicts++
	}
	assert.Equal(t, 1, wins, "exactly one deletion commits")
	assert.Equal(t, 1, conflicts)

	f, err := env.store.GetFeature(env.ctx, models.LayerDeadwood, datastore.ScopeLive, target.ID)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.True(t, f.IsDeleted)

	// the loser left no record behind
	total := 0
	for _, caller := range callers {
		recs, err := env.store.UserCorrections(env.ctx, caller.ID)
		require.NoError(t, err)
		total += len(recs)
	}
	assert.Equal(t, 1, total)
}

func TestSaveBootstrapsLabelWhenUnset(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCorrectionService(env.store, nil)

	result, err := svc.Save(env.ctx, env.user, &SaveRequest{
		DatasetID: 7, // dataset with no labels at all
		UserID:    env.user.ID,
		LayerType: models.LayerForestCover,
		Additions: []Addition{{Geometry: geojson.NewGeometry(square(10, 50, 0.001))}},
	})
	require.NoError(t, err)

	label, err := env.store.GetLabel(env.ctx, result.LabelID)
	require.NoError(t, err)
	require.NotNil(t, label)
	assert.Equal(t, models.SourceVisualInterpretation, label.LabelSource)
	assert.Equal(t, 1, label.Version)
	assert.True(t, label.IsActive)
	assert.Equal(t, string(models.LayerForestCover), label.LabelData)

	// a second unaddressed save reuses the bootstrapped label
	again, err := svc.Save(env.ctx, env.user, &SaveRequest{
		DatasetID: 7,
		UserID:    env.user.ID,
		LayerType: models.LayerForestCover,
		Additions: []Addition{{Geometry: geojson.NewGeometry(square(10.01, 50.01, 0.001))}},
	})
	require.NoError(t, err)
	assert.Equal(t, result.LabelID, again.LabelID)
}

func TestSaveRejectsWrongLayerLabel(t *testing.T) {
	env := newTestEnv(t)
	svc := NewCorrectionService(env.store, nil)

	_, err := svc.Save(env.ctx, env.user, &SaveRequest{
		DatasetID: 1,
		LabelID:   env.label.ID, // deadwood label
		UserID:    env.user.ID,
		LayerType: models.LayerForestCover,
		Additions: []Addition{{Geometry: geojson.NewGeometry(square(10, 50, 0.001))}},
	})
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
}
