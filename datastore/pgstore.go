package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GrainArc/LabelMap/models"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PgStore implements Interface on PostGIS. Spatial work stays in SQL:
// envelope prefilters, precise intersection, topology-preserving
// simplification and clipping all run inside the database.
type PgStore struct {
	db *gorm.DB
}

func NewPgStore(db *gorm.DB) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Transaction(ctx context.Context, fn func(Interface) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PgStore{db: tx})
	})
}

// featureRow is the scan target for geometry selects; geom travels as
// GeoJSON text across the driver boundary.
type featureRow struct {
	ID         int64     `gorm:"column:id"`
	LabelID    int64     `gorm:"column:label_id"`
	Geojson    []byte    `gorm:"column:geojson"`
	Area       float64   `gorm:"column:area"`
	IsDeleted  bool      `gorm:"column:is_deleted"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
	Properties []byte    `gorm:"column:properties"`
}

func (r *featureRow) toFeature() (*Feature, error) {
	g, err := geojson.UnmarshalGeometry(r.Geojson)
	if err != nil {
		return nil, fmt.Errorf("decode geometry %d: %w", r.ID, err)
	}
	f := &Feature{
		ID:        r.ID,
		LabelID:   r.LabelID,
		Geom:      g.Geometry(),
		Area:      r.Area,
		IsDeleted: r.IsDeleted,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Properties) > 0 {
		if err := json.Unmarshal(r.Properties, &f.Properties); err != nil {
			return nil, fmt.Errorf("decode properties %d: %w", r.ID, err)
		}
	}
	return f, nil
}

func (s *PgStore) GetFeature(ctx context.Context, layer models.LayerType, scope Scope, id int64) (*Feature, error) {
	table := layer.GeomTable(scope == ScopePatch)
	sql := fmt.Sprintf(`
		SELECT id, label_id, ST_AsGeoJSON(geom) AS geojson, area, is_deleted, updated_at, properties
		FROM %s WHERE id = ?`, table)

	var rows []featureRow
	if err := s.db.WithContext(ctx).Raw(sql, id).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toFeature()
}

func (s *PgStore) InsertFeature(ctx context.Context, layer models.LayerType, scope Scope, f *Feature) error {
	table := layer.GeomTable(scope == ScopePatch)
	geomJSON, err := geojson.NewGeometry(f.Geom).MarshalJSON()
	if err != nil {
		return err
	}
	var propsJSON []byte
	if f.Properties != nil {
		if propsJSON, err = json.Marshal(f.Properties); err != nil {
			return err
		}
	}

	sql := fmt.Sprintf(`
		INSERT INTO %s (label_id, geom, area, is_deleted, updated_at, properties)
		VALUES (?, ST_SetSRID(ST_Multi(ST_GeomFromGeoJSON(?)), 4326), ?, false, now(), ?)
		RETURNING id, updated_at`, table)

	var out struct {
		ID        int64     `gorm:"column:id"`
		UpdatedAt time.Time `gorm:"column:updated_at"`
	}
	if err := s.db.WithContext(ctx).Raw(sql, f.LabelID, string(geomJSON), f.Area, propsJSON).Scan(&out).Error; err != nil {
		return err
	}
	f.ID = out.ID
	f.UpdatedAt = out.UpdatedAt
	return nil
}

func (s *PgStore) SetFeatureDeleted(ctx context.Context, layer models.LayerType, scope Scope, id int64, deleted bool) error {
	table := layer.GeomTable(scope == ScopePatch)
	sql := fmt.Sprintf(`UPDATE %s SET is_deleted = ?, updated_at = now() WHERE id = ?`, table)
	res := s.db.WithContext(ctx).Exec(sql, deleted, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) HardDeleteFeature(ctx context.Context, layer models.LayerType, scope Scope, id int64) error {
	table := layer.GeomTable(scope == ScopePatch)
	res := s.db.WithContext(ctx).Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) TileFeatures(ctx context.Context, layer models.LayerType, scope Scope, labelID int64, q TileQuery) ([]Feature, error) {
	table := layer.GeomTable(scope == ScopePatch)

	geomExpr := "geom"
	if q.Tolerance > 0 {
		geomExpr = fmt.Sprintf("ST_SimplifyPreserveTopology(geom, %v)", q.Tolerance)
	}
	limitExpr := ""
	if q.Limit > 0 {
		limitExpr = fmt.Sprintf("LIMIT %d", q.Limit)
	}
	env := fmt.Sprintf("ST_MakeEnvelope(%v, %v, %v, %v, 4326)",
		q.Bound.Min[0], q.Bound.Min[1], q.Bound.Max[0], q.Bound.Max[1])

	sql := fmt.Sprintf(`
		SELECT id, label_id, ST_AsGeoJSON(%s) AS geojson, area, is_deleted, updated_at, properties
		FROM %s
		WHERE label_id = ?
		  AND is_deleted = false
		  AND area >= ?
		  AND geom && %s
		  AND ST_Intersects(geom, %s)
		ORDER BY area DESC
		%s`, geomExpr, table, env, env, limitExpr)

	var rows []featureRow
	if err := s.db.WithContext(ctx).Raw(sql, labelID, q.MinArea).Scan(&rows).Error; err != nil {
		return nil, err
	}
	feats := make([]Feature, 0, len(rows))
	for i := range rows {
		f, err := rows[i].toFeature()
		if err != nil {
			return nil, err
		}
		feats = append(feats, *f)
	}
	return feats, nil
}

func (s *PgStore) CopyClippedFeatures(ctx context.Context, layer models.LayerType, srcLabelID, dstLabelID int64, bound orb.Bound, buffer float64) (int64, error) {
	src := layer.GeomTable(false)
	dst := layer.GeomTable(true)

	env := fmt.Sprintf("ST_Expand(ST_MakeEnvelope(%v, %v, %v, %v, 4326), %v)",
		bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1], buffer)

	// ST_CollectionExtract keeps only the polygonal part: a source that
	// merely touches the envelope intersects in a point or line, which would
	// otherwise break ST_Multi. Area is recomputed from the clipped geometry.
	sql := fmt.Sprintf(`
		INSERT INTO %s (label_id, geom, area, is_deleted, updated_at, properties)
		SELECT ?, clipped, ST_Area(geography(clipped)), false, now(), properties
		FROM (
			SELECT ST_Multi(ST_CollectionExtract(ST_Intersection(geom, %s), 3)) AS clipped, properties
			FROM %s
			WHERE label_id = ?
			  AND is_deleted = false
			  AND geom && %s
			  AND ST_Intersects(geom, %s)
		) sub
		WHERE NOT ST_IsEmpty(clipped)`, dst, env, src, env, env)

	res := s.db.WithContext(ctx).Exec(sql, dstLabelID, srcLabelID)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (s *PgStore) CreateLabel(ctx context.Context, label *models.Label) error {
	return s.db.WithContext(ctx).Create(label).Error
}

func (s *PgStore) GetLabel(ctx context.Context, id int64) (*models.Label, error) {
	var label models.Label
	err := s.db.WithContext(ctx).First(&label, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &label, nil
}

func (s *PgStore) ActiveLabel(ctx context.Context, datasetID int64, labelData string, patchID *int64) (*models.Label, error) {
	query := s.db.WithContext(ctx).
		Where("dataset_id = ? AND label_data = ? AND is_active = true", datasetID, labelData)
	if patchID == nil {
		query = query.Where("reference_patch_id IS NULL")
	} else {
		query = query.Where("reference_patch_id = ?", *patchID)
	}

	var label models.Label
	err := query.First(&label).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &label, nil
}

func (s *PgStore) SetLabelActive(ctx context.Context, id int64, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.Label{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) CreateCorrection(ctx context.Context, c *models.GeoCorrection) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *PgStore) GetCorrection(ctx context.Context, id int64) (*models.GeoCorrection, error) {
	var c models.GeoCorrection
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PgStore) PendingCorrections(ctx context.Context, layer models.LayerType, geometryIDs []int64) ([]models.GeoCorrection, error) {
	if len(geometryIDs) == 0 {
		return nil, nil
	}
	var out []models.GeoCorrection
	err := s.db.WithContext(ctx).
		Where("layer_type = ? AND review_status = ?", string(layer), models.ReviewPending).
		Where("geometry_id IN ? OR original_geometry_id IN ?", geometryIDs, geometryIDs).
		Find(&out).Error
	return out, err
}

func (s *PgStore) SetReviewStatus(ctx context.Context, id int64, status string, reviewerID int64, note string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.GeoCorrection{}).Where("id = ?", id).Updates(map[string]interface{}{
		"review_status": status,
		"reviewed_by":   reviewerID,
		"reviewed_at":   at,
		"review_note":   note,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) CorrectionHistory(ctx context.Context, datasetID, labelID int64) ([]models.GeoCorrection, error) {
	var out []models.GeoCorrection
	err := s.db.WithContext(ctx).
		Where("dataset_id = ? AND label_id = ?", datasetID, labelID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (s *PgStore) UserCorrections(ctx context.Context, userID int64) ([]models.GeoCorrection, error) {
	var out []models.GeoCorrection
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

func (s *PgStore) CreatePatch(ctx context.Context, p *models.ReferencePatch) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *PgStore) GetPatch(ctx context.Context, id int64, forUpdate bool) (*models.ReferencePatch, error) {
	query := s.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p models.ReferencePatch
	err := query.First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PgStore) UpdatePatchLabelRef(ctx context.Context, patchID int64, layer models.LayerType, labelID int64) error {
	column := "ref_deadwood_label_id"
	if layer == models.LayerForestCover {
		column = "ref_forest_label_id"
	}
	res := s.db.WithContext(ctx).Model(&models.ReferencePatch{}).Where("id = ?", patchID).Updates(map[string]interface{}{
		column:       labelID,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) SetPatchStatus(ctx context.Context, patchID int64, status string) error {
	res := s.db.WithContext(ctx).Model(&models.ReferencePatch{}).Where("id = ?", patchID).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) GetUser(ctx context.Context, id int64) (*models.AuthUser, error) {
	var u models.AuthUser
	err := s.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PgStore) GetUserByToken(ctx context.Context, token string) (*models.AuthUser, error) {
	var u models.AuthUser
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
