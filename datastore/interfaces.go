// interfaces.go: this code defines the interface for the geometry store operations
package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/GrainArc/LabelMap/models"
	"github.com/paulmach/orb"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("datastore: record not found")

// Scope selects between the live layer tables and the patch snapshot tables.
type Scope int

const (
	ScopeLive Scope = iota
	ScopePatch
)

// ScopeOf returns the scope a label's geometries live in.
func ScopeOf(label *models.Label) Scope {
	if label.PatchScoped() {
		return ScopePatch
	}
	return ScopeLive
}

// Feature is one polygon row of a layer table. Geom is always a
// MultiPolygon in EPSG:4326; Area is geodesic square meters. UpdatedAt is
// the optimistic version timestamp, bumped on every mutation of the row.
type Feature struct {
	ID         int64
	LabelID    int64
	Geom       orb.Geometry
	Area       float64
	IsDeleted  bool
	UpdatedAt  time.Time
	Properties map[string]interface{}
}

// TileQuery is the level-of-detail filter for one tile request. Tolerance
// zero skips simplification, Limit zero means unlimited.
type TileQuery struct {
	Bound     orb.Bound
	MinArea   float64
	Tolerance float64
	Limit     int
}

// Interface abstracts the geometry store. PgStore backs it with
// PostGIS; MemStore is the in-memory implementation used by the test suite.
//
// Transaction runs fn against a store handle whose writes become visible
// atomically: either every mutation fn made is committed, or none is.
// Within a transaction the check-then-mutate sequence of the correction
// engine cannot interleave with another writer.
type Interface interface {
	Transaction(ctx context.Context, fn func(Interface) error) error

	// geometry rows
	GetFeature(ctx context.Context, layer models.LayerType, scope Scope, id int64) (*Feature, error)
	InsertFeature(ctx context.Context, layer models.LayerType, scope Scope, f *Feature) error
	SetFeatureDeleted(ctx context.Context, layer models.LayerType, scope Scope, id int64, deleted bool) error
	HardDeleteFeature(ctx context.Context, layer models.LayerType, scope Scope, id int64) error
	TileFeatures(ctx context.Context, layer models.LayerType, scope Scope, labelID int64, q TileQuery) ([]Feature, error)
	// CopyClippedFeatures snapshots the visible geometries of a live label
	// into a patch-scoped label, clipped to bound expanded by buffer units.
	CopyClippedFeatures(ctx context.Context, layer models.LayerType, srcLabelID, dstLabelID int64, bound orb.Bound, buffer float64) (int64, error)

	// labels
	CreateLabel(ctx context.Context, label *models.Label) error
	GetLabel(ctx context.Context, id int64) (*models.Label, error)
	ActiveLabel(ctx context.Context, datasetID int64, labelData string, patchID *int64) (*models.Label, error)
	SetLabelActive(ctx context.Context, id int64, active bool) error

	// corrections
	CreateCorrection(ctx context.Context, c *models.GeoCorrection) error
	GetCorrection(ctx context.Context, id int64) (*models.GeoCorrection, error)
	// PendingCorrections returns pending records targeting any of the given
	// geometries, either directly or through original_geometry_id.
	PendingCorrections(ctx context.Context, layer models.LayerType, geometryIDs []int64) ([]models.GeoCorrection, error)
	SetReviewStatus(ctx context.Context, id int64, status string, reviewerID int64, note string, at time.Time) error
	CorrectionHistory(ctx context.Context, datasetID, labelID int64) ([]models.GeoCorrection, error)
	UserCorrections(ctx context.Context, userID int64) ([]models.GeoCorrection, error)

	// reference patches
	CreatePatch(ctx context.Context, p *models.ReferencePatch) error
	// GetPatch with forUpdate takes a row lock held for the rest of the
	// enclosing transaction, serializing concurrent version bumps.
	GetPatch(ctx context.Context, id int64, forUpdate bool) (*models.ReferencePatch, error)
	UpdatePatchLabelRef(ctx context.Context, patchID int64, layer models.LayerType, labelID int64) error
	SetPatchStatus(ctx context.Context, patchID int64, status string) error

	// users
	GetUser(ctx context.Context, id int64) (*models.AuthUser, error)
	GetUserByToken(ctx context.Context, token string) (*models.AuthUser, error)
}
