package services

import (
	"context"
	"encoding/json"

	"github.com/GrainArc/LabelMap/datastore"
	"github.com/GrainArc/LabelMap/metrics"
	"github.com/GrainArc/LabelMap/models"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// PatchClipBuffer expands a patch bounding box before clipping, in units of
// the storage SRS, so features straddling the patch edge survive the cut.
const PatchClipBuffer = 2.0

// PatchService creates bounded, immutable snapshots of current predictions
// and manages the linear label version chain per patch+layer. Unlike the
// optimistic correction path, version bumps serialize on a pessimistic
// per-patch row lock: a lost version number has no retry story.
type PatchService struct {
	store datastore.Interface
}

func NewPatchService(store datastore.Interface) *PatchService {
	return &PatchService{store: store}
}

type CreatePatchRequest struct {
	DatasetID  int64             `json:"dataset_id" binding:"required"`
	Resolution float64           `json:"resolution"`
	Geometry   *geojson.Geometry `json:"geometry" binding:"required"`
}

// CreatePatch stores the patch row and immediately snapshots the live
// predictions into it.
func (s *PatchService) CreatePatch(ctx context.Context, caller *models.AuthUser, req *CreatePatchRequest) (*models.ReferencePatch, error) {
	if caller == nil {
		return nil, &AuthorizationError{Reason: "authentication required"}
	}
	if req.Geometry == nil {
		return nil, &ValidationError{Field: "geometry", Reason: "required"}
	}
	geomJSON, err := json.Marshal(req.Geometry)
	if err != nil {
		return nil, &ValidationError{Field: "geometry", Reason: err.Error()}
	}
	bound := req.Geometry.Geometry().Bound()

	patch := &models.ReferencePatch{
		DatasetID:  req.DatasetID,
		UserID:     caller.ID,
		Resolution: req.Resolution,
		Geom:       geomJSON,
		MinX:       bound.Min[0],
		MinY:       bound.Min[1],
		MaxX:       bound.Max[0],
		MaxY:       bound.Max[1],
		Status:     models.PatchPending,
	}
	if err := s.store.CreatePatch(ctx, patch); err != nil {
		return nil, err
	}
	if _, err := s.CopyPredictions(ctx, patch.ID, req.DatasetID); err != nil {
		return nil, err
	}
	return s.store.GetPatch(ctx, patch.ID, false)
}

// CopyPredictions clips every live model-prediction layer of the dataset to
// the patch's buffered bounding box and writes independent copies into the
// patch tables. The copy is a snapshot: later edits to the source
// predictions never change an already-created patch.
func (s *PatchService) CopyPredictions(ctx context.Context, patchID, datasetID int64) (map[models.LayerType]int64, error) {
	counts := make(map[models.LayerType]int64)

	err := s.store.Transaction(ctx, func(tx datastore.Interface) error {
		patch, err := tx.GetPatch(ctx, patchID, false)
		if err != nil {
			return err
		}
		if patch == nil {
			return &NotFoundError{Kind: "patch", ID: patchID}
		}
		bound := orb.Bound{
			Min: orb.Point{patch.MinX, patch.MinY},
			Max: orb.Point{patch.MaxX, patch.MaxY},
		}

		for _, layer := range models.AllLayerTypes() {
			live, err := tx.ActiveLabel(ctx, datasetID, string(layer), nil)
			if err != nil {
				return err
			}
			if live == nil || !live.IsPrediction() {
				continue
			}

			patchLabel, err := tx.ActiveLabel(ctx, datasetID, string(layer), &patchID)
			if err != nil {
				return err
			}
			if patchLabel == nil {
				pid := patchID
				patchLabel = &models.Label{
					DatasetID:        datasetID,
					LabelData:        string(layer),
					LabelSource:      models.SourceReferencePatch,
					Version:          1,
					IsActive:         true,
					ReferencePatchID: &pid,
				}
				if err := tx.CreateLabel(ctx, patchLabel); err != nil {
					return err
				}
			}

			n, err := tx.CopyClippedFeatures(ctx, layer, live.ID, patchLabel.ID, bound, PatchClipBuffer)
			if err != nil {
				return err
			}
			if err := tx.UpdatePatchLabelRef(ctx, patchID, layer, patchLabel.ID); err != nil {
				return err
			}
			counts[layer] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

type SaveVersionRequest struct {
	PatchID    int64                      `json:"patch_id" binding:"required"`
	DatasetID  int64                      `json:"dataset_id" binding:"required"`
	LayerType  models.LayerType           `json:"layer_type" binding:"required"`
	Geometries *geojson.FeatureCollection `json:"geometries" binding:"required"`
}

type SaveVersionResult struct {
	LabelID int64 `json:"label_id"`
	Version int   `json:"version"`
}

// SaveVersion writes a new patch label version holding the supplied
// geometries. The patch row is locked for the whole call, so two concurrent
// saves for the same patch+layer fully serialize and versions never skip or
// duplicate; the chain stays linear with exactly one active label.
func (s *PatchService) SaveVersion(ctx context.Context, caller *models.AuthUser, req *SaveVersionRequest) (*SaveVersionResult, error) {
	if caller == nil {
		return nil, &AuthorizationError{Reason: "authentication required"}
	}
	if !req.LayerType.Valid() {
		return nil, &ValidationError{Field: "layer_type", Reason: "unknown layer type"}
	}
	if req.Geometries == nil || len(req.Geometries.Features) == 0 {
		return nil, &ValidationError{Field: "geometries", Reason: "empty feature collection"}
	}
	for _, f := range req.Geometries.Features {
		if datastore.AsMultiPolygon(f.Geometry) == nil {
			return nil, &ValidationError{Field: "geometries", Reason: "polygonal geometry required"}
		}
	}

	result := &SaveVersionResult{}
	err := s.store.Transaction(ctx, func(tx datastore.Interface) error {
		// exclusive patch row lock for the rest of the transaction
		patch, err := tx.GetPatch(ctx, req.PatchID, true)
		if err != nil {
			return err
		}
		if patch == nil {
			return &NotFoundError{Kind: "patch", ID: req.PatchID}
		}

		current, err := tx.ActiveLabel(ctx, req.DatasetID, string(req.LayerType), &req.PatchID)
		if err != nil {
			return err
		}
		version := 1
		var parent *int64
		if current != nil {
			version = current.Version + 1
			id := current.ID
			parent = &id
			if err := tx.SetLabelActive(ctx, current.ID, false); err != nil {
				return err
			}
		}

		pid := req.PatchID
		label := &models.Label{
			DatasetID:        req.DatasetID,
			LabelData:        string(req.LayerType),
			LabelSource:      models.SourceReferencePatch,
			Version:          version,
			ParentLabelID:    parent,
			IsActive:         true,
			ReferencePatchID: &pid,
		}
		if err := tx.CreateLabel(ctx, label); err != nil {
			return err
		}

		for _, feat := range req.Geometries.Features {
			mp := datastore.AsMultiPolygon(feat.Geometry)
			f := &datastore.Feature{
				LabelID:    label.ID,
				Geom:       mp,
				Area:       geo.Area(mp),
				Properties: feat.Properties,
			}
			if err := tx.InsertFeature(ctx, req.LayerType, datastore.ScopePatch, f); err != nil {
				return err
			}
		}

		// bump the soft reference and updated_at on the patch row
		if err := tx.UpdatePatchLabelRef(ctx, req.PatchID, req.LayerType, label.ID); err != nil {
			return err
		}
		result.LabelID = label.ID
		result.Version = label.Version
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.PatchVersions.Inc()
	return result, nil
}

// SetStatus records the quality-review outcome of a patch. Reviewer only;
// pending -> good | bad.
func (s *PatchService) SetStatus(ctx context.Context, caller *models.AuthUser, patchID int64, status string) error {
	if caller == nil || !caller.IsReviewer {
		return &AuthorizationError{Reason: "reviewer privilege required"}
	}
	if status != models.PatchGood && status != models.PatchBad {
		return &ValidationError{Field: "status", Reason: "must be good or bad"}
	}
	return s.store.Transaction(ctx, func(tx datastore.Interface) error {
		patch, err := tx.GetPatch(ctx, patchID, false)
		if err != nil {
			return err
		}
		if patch == nil {
			return &NotFoundError{Kind: "patch", ID: patchID}
		}
		if patch.Status != models.PatchPending {
			return &StateError{Kind: "patch", ID: patchID, Status: patch.Status}
		}
		return tx.SetPatchStatus(ctx, patchID, status)
	})
}
