package services

import (
	"context"
	"time"

	"github.com/GrainArc/LabelMap/datastore"
	"github.com/GrainArc/LabelMap/metrics"
	"github.com/GrainArc/LabelMap/models"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// CorrectionService applies community edit batches against the geometry
// store. A batch is all-or-nothing: the optimistic conflict check and the
// mutations run inside one store transaction, so partial application is
// never observable and no other writer can slip between check and commit.
type CorrectionService struct {
	store datastore.Interface
	cache *TileCacheService
}

func NewCorrectionService(store datastore.Interface, cache *TileCacheService) *CorrectionService {
	return &CorrectionService{store: store, cache: cache}
}

// Deletion targets an existing geometry with its expected version
// timestamp; a mismatch means someone edited it since the caller read it.
type Deletion struct {
	GeometryID int64     `json:"geometry_id" binding:"required"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Addition is a pure add, or a modify when OriginalGeometryID points at the
// superseded geometry.
type Addition struct {
	Geometry           *geojson.Geometry      `json:"geometry" binding:"required"`
	Properties         map[string]interface{} `json:"properties"`
	OriginalGeometryID *int64                 `json:"original_geometry_id,omitempty"`
}

type SaveRequest struct {
	DatasetID int64            `json:"dataset_id" binding:"required"`
	LabelID   int64            `json:"label_id"`
	UserID    int64            `json:"user_id" binding:"required"`
	LayerType models.LayerType `json:"layer_type" binding:"required"`
	SessionID string           `json:"session_id"`
	Deletions []Deletion       `json:"deletions"`
	Additions []Addition       `json:"additions"`
}

type SaveResult struct {
	LabelID     int64   `json:"label_id"`
	GeometryIDs []int64 `json:"geometry_ids"`
}

// version timestamps survive a PostgreSQL round trip at microsecond
// precision
func sameStamp(a, b time.Time) bool {
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

// Save applies the batch for the authenticated caller. Reviewer callers get
// their corrections auto-approved; everyone, reviewers included, goes
// through the same conflict checks. On conflict the returned error is a
// *ConflictError listing the offending geometry ids and nothing was
// committed.
func (s *CorrectionService) Save(ctx context.Context, caller *models.AuthUser, req *SaveRequest) (*SaveResult, error) {
	if caller == nil || caller.ID != req.UserID {
		return nil, &AuthorizationError{Reason: "user_id does not match the authenticated caller"}
	}
	if !req.LayerType.Valid() {
		return nil, &ValidationError{Field: "layer_type", Reason: "unknown layer type"}
	}
	if len(req.Deletions) == 0 && len(req.Additions) == 0 {
		return nil, &ValidationError{Field: "deletions/additions", Reason: "empty batch"}
	}
	for _, a := range req.Additions {
		if a.Geometry == nil {
			return nil, &ValidationError{Field: "geometry", Reason: "required"}
		}
		if datastore.AsMultiPolygon(a.Geometry.Geometry()) == nil {
			return nil, &ValidationError{Field: "geometry", Reason: "polygonal geometry required"}
		}
	}

	status := models.ReviewPending
	var reviewedBy *int64
	var reviewedAt *time.Time
	if caller.IsReviewer {
		status = models.ReviewApproved
		now := time.Now()
		reviewedBy = &caller.ID
		reviewedAt = &now
	}

	result := &SaveResult{}
	var dirty []orb.Bound
	var savedOps []string

	err := s.store.Transaction(ctx, func(tx datastore.Interface) error {
		label, err := s.resolveLabel(ctx, tx, req)
		if err != nil {
			return err
		}
		scope := datastore.ScopeOf(label)
		result.LabelID = label.ID

		// check phase: stale timestamps, vanished rows, and geometries
		// already owned by another user's pending correction
		var conflicts []int64
		targets := make([]int64, 0, len(req.Deletions)+len(req.Additions))
		for _, d := range req.Deletions {
			f, err := tx.GetFeature(ctx, req.LayerType, scope, d.GeometryID)
			if err != nil {
				return err
			}
			if f == nil || !sameStamp(f.UpdatedAt, d.UpdatedAt) {
				conflicts = append(conflicts, d.GeometryID)
				continue
			}
			targets = append(targets, d.GeometryID)
			dirty = append(dirty, f.Geom.Bound())
		}
		for _, a := range req.Additions {
			if a.OriginalGeometryID == nil {
				continue
			}
			f, err := tx.GetFeature(ctx, req.LayerType, scope, *a.OriginalGeometryID)
			if err != nil {
				return err
			}
			if f == nil {
				conflicts = append(conflicts, *a.OriginalGeometryID)
				continue
			}
			targets = append(targets, *a.OriginalGeometryID)
			dirty = append(dirty, f.Geom.Bound())
		}
		pending, err := tx.PendingCorrections(ctx, req.LayerType, targets)
		if err != nil {
			return err
		}
		for _, c := range pending {
			if c.UserID == req.UserID {
				continue
			}
			if c.OriginalGeometryID != nil {
				conflicts = append(conflicts, *c.OriginalGeometryID)
			} else {
				conflicts = append(conflicts, c.GeometryID)
			}
		}
		if len(conflicts) > 0 {
			return &ConflictError{GeometryIDs: dedupe(conflicts)}
		}

		// commit phase
		for _, d := range req.Deletions {
			if err := tx.SetFeatureDeleted(ctx, req.LayerType, scope, d.GeometryID, true); err != nil {
				return err
			}
			rec := &models.GeoCorrection{
				GeometryID:   d.GeometryID,
				LayerType:    string(req.LayerType),
				LabelID:      label.ID,
				DatasetID:    req.DatasetID,
				Operation:    models.OpDelete,
				UserID:       req.UserID,
				SessionID:    req.SessionID,
				ReviewStatus: status,
				ReviewedBy:   reviewedBy,
				ReviewedAt:   reviewedAt,
			}
			if err := tx.CreateCorrection(ctx, rec); err != nil {
				return err
			}
			savedOps = append(savedOps, models.OpDelete)
		}
		for _, a := range req.Additions {
			mp := datastore.AsMultiPolygon(a.Geometry.Geometry())
			f := &datastore.Feature{
				LabelID:    label.ID,
				Geom:       mp,
				Area:       geo.Area(mp),
				Properties: a.Properties,
			}
			if err := tx.InsertFeature(ctx, req.LayerType, scope, f); err != nil {
				return err
			}
			op := models.OpAdd
			if a.OriginalGeometryID != nil {
				op = models.OpModify
				// old and new must never be visible at once
				if err := tx.SetFeatureDeleted(ctx, req.LayerType, scope, *a.OriginalGeometryID, true); err != nil {
					return err
				}
			}
			rec := &models.GeoCorrection{
				GeometryID:         f.ID,
				LayerType:          string(req.LayerType),
				LabelID:            label.ID,
				DatasetID:          req.DatasetID,
				Operation:          op,
				OriginalGeometryID: a.OriginalGeometryID,
				UserID:             req.UserID,
				SessionID:          req.SessionID,
				ReviewStatus:       status,
				ReviewedBy:         reviewedBy,
				ReviewedAt:         reviewedAt,
			}
			if err := tx.CreateCorrection(ctx, rec); err != nil {
				return err
			}
			result.GeometryIDs = append(result.GeometryIDs, f.ID)
			dirty = append(dirty, mp.Bound())
			savedOps = append(savedOps, op)
		}
		return nil
	})
	if err != nil {
		if _, ok := err.(*ConflictError); ok {
			metrics.CorrectionConflicts.Inc()
		}
		return nil, err
	}

	// counters only move for committed batches
	for _, op := range savedOps {
		metrics.CorrectionsSaved.WithLabelValues(op, status).Inc()
	}

	if s.cache != nil {
		for _, b := range dirty {
			s.cache.InvalidateBound(result.LabelID, b)
		}
	}
	return result, nil
}

// resolveLabel loads the addressed label, or creates the first
// visual-interpretation version for the dataset+layer when the request
// carries no label id.
func (s *CorrectionService) resolveLabel(ctx context.Context, tx datastore.Interface, req *SaveRequest) (*models.Label, error) {
	if req.LabelID != 0 {
		label, err := tx.GetLabel(ctx, req.LabelID)
		if err != nil {
			return nil, err
		}
		if label == nil {
			return nil, &NotFoundError{Kind: "label", ID: req.LabelID}
		}
		if label.LabelData != string(req.LayerType) {
			return nil, &ValidationError{Field: "label_id", Reason: "label does not belong to layer_type"}
		}
		return label, nil
	}

	label, err := tx.ActiveLabel(ctx, req.DatasetID, string(req.LayerType), nil)
	if err != nil {
		return nil, err
	}
	if label != nil {
		return label, nil
	}
	label = &models.Label{
		DatasetID:   req.DatasetID,
		LabelData:   string(req.LayerType),
		LabelSource: models.SourceVisualInterpretation,
		Version:     1,
		IsActive:    true,
	}
	if err := tx.CreateLabel(ctx, label); err != nil {
		return nil, err
	}
	return label, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
