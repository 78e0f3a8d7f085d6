package services

import (
	"context"
	"time"

	"github.com/GrainArc/LabelMap/datastore"
	"github.com/GrainArc/LabelMap/metrics"
	"github.com/GrainArc/LabelMap/models"
	"github.com/paulmach/orb"
)

// AuditService moves correction records out of pending. Approve is a pure
// status transition (the edit is already live); Revert additionally rolls
// the geometry state back to what it was before the correction.
type AuditService struct {
	store datastore.Interface
	cache *TileCacheService
}

func NewAuditService(store datastore.Interface, cache *TileCacheService) *AuditService {
	return &AuditService{store: store, cache: cache}
}

// Approve marks a pending correction approved. Reviewer privilege required.
func (s *AuditService) Approve(ctx context.Context, caller *models.AuthUser, correctionID int64) error {
	if caller == nil || !caller.IsReviewer {
		return &AuthorizationError{Reason: "reviewer privilege required"}
	}

	err := s.store.Transaction(ctx, func(tx datastore.Interface) error {
		c, err := tx.GetCorrection(ctx, correctionID)
		if err != nil {
			return err
		}
		if c == nil {
			return &NotFoundError{Kind: "correction", ID: correctionID}
		}
		if c.ReviewStatus != models.ReviewPending {
			return &StateError{Kind: "correction", ID: correctionID, Status: c.ReviewStatus}
		}
		return tx.SetReviewStatus(ctx, correctionID, models.ReviewApproved, caller.ID, "", time.Now())
	})
	if err == nil {
		metrics.CorrectionsReviewed.WithLabelValues(models.ReviewApproved).Inc()
	}
	return err
}

// Revert rolls a pending correction back and marks it reverted. Per
// operation: an add's geometry is physically removed (it was never
// approved, nothing can reference it), a delete's target becomes visible
// again, a modify restores the original and removes the replacement.
// A second invocation fails with a StateError.
func (s *AuditService) Revert(ctx context.Context, caller *models.AuthUser, correctionID int64, note string) error {
	if caller == nil || !caller.IsReviewer {
		return &AuthorizationError{Reason: "reviewer privilege required"}
	}

	var labelID int64
	var dirty []orb.Bound

	err := s.store.Transaction(ctx, func(tx datastore.Interface) error {
		c, err := tx.GetCorrection(ctx, correctionID)
		if err != nil {
			return err
		}
		if c == nil {
			return &NotFoundError{Kind: "correction", ID: correctionID}
		}
		if c.ReviewStatus != models.ReviewPending {
			return &StateError{Kind: "correction", ID: correctionID, Status: c.ReviewStatus}
		}
		label, err := tx.GetLabel(ctx, c.LabelID)
		if err != nil {
			return err
		}
		if label == nil {
			return &NotFoundError{Kind: "label", ID: c.LabelID}
		}
		layer := models.LayerType(c.LayerType)
		scope := datastore.ScopeOf(label)
		labelID = label.ID

		track := func(id int64) error {
			f, err := tx.GetFeature(ctx, layer, scope, id)
			if err != nil {
				return err
			}
			if f != nil {
				dirty = append(dirty, f.Geom.Bound())
			}
			return nil
		}

		switch c.Operation {
		case models.OpAdd:
			if err := track(c.GeometryID); err != nil {
				return err
			}
			if err := tx.HardDeleteFeature(ctx, layer, scope, c.GeometryID); err != nil {
				return err
			}
		case models.OpDelete:
			if err := track(c.GeometryID); err != nil {
				return err
			}
			if err := tx.SetFeatureDeleted(ctx, layer, scope, c.GeometryID, false); err != nil {
				return err
			}
		case models.OpModify:
			if c.OriginalGeometryID == nil {
				return &ValidationError{Field: "original_geometry_id", Reason: "modify correction without original"}
			}
			if err := track(c.GeometryID); err != nil {
				return err
			}
			if err := track(*c.OriginalGeometryID); err != nil {
				return err
			}
			if err := tx.SetFeatureDeleted(ctx, layer, scope, *c.OriginalGeometryID, false); err != nil {
				return err
			}
			if err := tx.HardDeleteFeature(ctx, layer, scope, c.GeometryID); err != nil {
				return err
			}
		default:
			return &ValidationError{Field: "operation", Reason: "unknown operation " + c.Operation}
		}

		return tx.SetReviewStatus(ctx, correctionID, models.ReviewReverted, caller.ID, note, time.Now())
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		for _, b := range dirty {
			s.cache.InvalidateBound(labelID, b)
		}
	}
	metrics.CorrectionsReviewed.WithLabelValues(models.ReviewReverted).Inc()
	return nil
}

// History returns every correction for the dataset/label ordered by
// creation time, enabling full provenance reconstruction.
func (s *AuditService) History(ctx context.Context, datasetID, labelID int64) ([]models.GeoCorrection, error) {
	return s.store.CorrectionHistory(ctx, datasetID, labelID)
}

// UserCorrections lists a contributor's corrections, newest first.
func (s *AuditService) UserCorrections(ctx context.Context, userID int64) ([]models.GeoCorrection, error) {
	return s.store.UserCorrections(ctx, userID)
}
