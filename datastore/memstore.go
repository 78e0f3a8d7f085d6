package datastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/GrainArc/LabelMap/models"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/simplify"
)

// MemStore is the in-memory Interface implementation. A single mutex
// serializes every call; Transaction holds it for the whole callback and
// hands fn a tx-scoped handle, so a concurrent writer blocks until the
// transaction commits or rolls back and a check-then-mutate sequence can
// never interleave with another caller. The snapshot taken up front is
// restored when fn fails, so aborted batches leave no trace. Used by the
// test suite and small offline runs.
type MemStore struct {
	mu sync.Mutex

	features map[string]map[int64]*Feature
	labels   map[int64]*models.Label
	corrs    map[int64]*models.GeoCorrection
	patches  map[int64]*models.ReferencePatch
	users    map[int64]*models.AuthUser

	featureSeq map[string]int64
	labelSeq   int64
	corrSeq    int64
	patchSeq   int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		features:   make(map[string]map[int64]*Feature),
		labels:     make(map[int64]*models.Label),
		corrs:      make(map[int64]*models.GeoCorrection),
		patches:    make(map[int64]*models.ReferencePatch),
		users:      make(map[int64]*models.AuthUser),
		featureSeq: make(map[string]int64),
	}
}

// AddUser seeds an authenticated identity (test/bootstrap helper).
func (s *MemStore) AddUser(u *models.AuthUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

func (s *MemStore) table(layer models.LayerType, scope Scope) map[int64]*Feature {
	name := layer.GeomTable(scope == ScopePatch)
	t, ok := s.features[name]
	if !ok {
		t = make(map[int64]*Feature)
		s.features[name] = t
	}
	return t
}

func cloneFeature(f *Feature) *Feature {
	cp := *f
	cp.Geom = orb.Clone(f.Geom)
	if f.Properties != nil {
		cp.Properties = make(map[string]interface{}, len(f.Properties))
		for k, v := range f.Properties {
			cp.Properties[k] = v
		}
	}
	return &cp
}

func (s *MemStore) snapshot() *MemStore {
	snap := NewMemStore()
	for name, t := range s.features {
		nt := make(map[int64]*Feature, len(t))
		for id, f := range t {
			nt[id] = cloneFeature(f)
		}
		snap.features[name] = nt
	}
	for id, l := range s.labels {
		cp := *l
		snap.labels[id] = &cp
	}
	for id, c := range s.corrs {
		cp := *c
		snap.corrs[id] = &cp
	}
	for id, p := range s.patches {
		cp := *p
		snap.patches[id] = &cp
	}
	for id, u := range s.users {
		cp := *u
		snap.users[id] = &cp
	}
	for k, v := range s.featureSeq {
		snap.featureSeq[k] = v
	}
	snap.labelSeq, snap.corrSeq, snap.patchSeq = s.labelSeq, s.corrSeq, s.patchSeq
	return snap
}

func (s *MemStore) restore(snap *MemStore) {
	s.features = snap.features
	s.labels = snap.labels
	s.corrs = snap.corrs
	s.patches = snap.patches
	s.users = snap.users
	s.featureSeq = snap.featureSeq
	s.labelSeq, s.corrSeq, s.patchSeq = snap.labelSeq, snap.corrSeq, snap.patchSeq
}

// Transaction takes the store mutex for the whole callback. fn receives a
// tx-scoped handle instead of the store itself, so the nesting decision is a
// property of the handle: outside callers always contend on the mutex here,
// while a nested Transaction on the handle joins the outer scope.
func (s *MemStore) Transaction(ctx context.Context, fn func(Interface) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	err := fn(&memTx{s: s})
	if err != nil {
		s.restore(snap)
	}
	return err
}

func (s *MemStore) GetFeature(ctx context.Context, layer models.LayerType, scope Scope, id int64) (*Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getFeature(layer, scope, id)
}

func (s *MemStore) InsertFeature(ctx context.Context, layer models.LayerType, scope Scope, f *Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertFeature(layer, scope, f)
}

func (s *MemStore) SetFeatureDeleted(ctx context.Context, layer models.LayerType, scope Scope, id int64, deleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setFeatureDeleted(layer, scope, id, deleted)
}

func (s *MemStore) HardDeleteFeature(ctx context.Context, layer models.LayerType, scope Scope, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hardDeleteFeature(layer, scope, id)
}

func (s *MemStore) TileFeatures(ctx context.Context, layer models.LayerType, scope Scope, labelID int64, q TileQuery) ([]Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tileFeatures(layer, scope, labelID, q)
}

func (s *MemStore) CopyClippedFeatures(ctx context.Context, layer models.LayerType, srcLabelID, dstLabelID int64, bound orb.Bound, buffer float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyClippedFeatures(layer, srcLabelID, dstLabelID, bound, buffer)
}

func (s *MemStore) CreateLabel(ctx context.Context, label *models.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLabel(label)
}

func (s *MemStore) GetLabel(ctx context.Context, id int64) (*models.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLabel(id)
}

func (s *MemStore) ActiveLabel(ctx context.Context, datasetID int64, labelData string, patchID *int64) (*models.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLabel(datasetID, labelData, patchID)
}

func (s *MemStore) SetLabelActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLabelActive(id, active)
}

func (s *MemStore) CreateCorrection(ctx context.Context, c *models.GeoCorrection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCorrection(c)
}

func (s *MemStore) GetCorrection(ctx context.Context, id int64) (*models.GeoCorrection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCorrection(id)
}

func (s *MemStore) PendingCorrections(ctx context.Context, layer models.LayerType, geometryIDs []int64) ([]models.GeoCorrection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingCorrections(layer, geometryIDs)
}

func (s *MemStore) SetReviewStatus(ctx context.Context, id int64, status string, reviewerID int64, note string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setReviewStatus(id, status, reviewerID, note, at)
}

func (s *MemStore) CorrectionHistory(ctx context.Context, datasetID, labelID int64) ([]models.GeoCorrection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.correctionHistory(datasetID, labelID)
}

func (s *MemStore) UserCorrections(ctx context.Context, userID int64) ([]models.GeoCorrection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userCorrections(userID)
}

func (s *MemStore) CreatePatch(ctx context.Context, p *models.ReferencePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createPatch(p)
}

func (s *MemStore) GetPatch(ctx context.Context, id int64, forUpdate bool) (*models.ReferencePatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getPatch(id)
}

func (s *MemStore) UpdatePatchLabelRef(ctx context.Context, patchID int64, layer models.LayerType, labelID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatePatchLabelRef(patchID, layer, labelID)
}

func (s *MemStore) SetPatchStatus(ctx context.Context, patchID int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setPatchStatus(patchID, status)
}

func (s *MemStore) GetUser(ctx context.Context, id int64) (*models.AuthUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getUser(id)
}

func (s *MemStore) GetUserByToken(ctx context.Context, token string) (*models.AuthUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getUserByToken(token)
}

// core operations; callers hold the store mutex

func (s *MemStore) getFeature(layer models.LayerType, scope Scope, id int64) (*Feature, error) {
	f, ok := s.table(layer, scope)[id]
	if !ok {
		return nil, nil
	}
	return cloneFeature(f), nil
}

func (s *MemStore) insertFeature(layer models.LayerType, scope Scope, f *Feature) error {
	name := layer.GeomTable(scope == ScopePatch)
	s.featureSeq[name]++
	f.ID = s.featureSeq[name]
	f.IsDeleted = false
	f.UpdatedAt = time.Now()
	s.table(layer, scope)[f.ID] = cloneFeature(f)
	return nil
}

func (s *MemStore) setFeatureDeleted(layer models.LayerType, scope Scope, id int64, deleted bool) error {
	f, ok := s.table(layer, scope)[id]
	if !ok {
		return ErrNotFound
	}
	f.IsDeleted = deleted
	f.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) hardDeleteFeature(layer models.LayerType, scope Scope, id int64) error {
	t := s.table(layer, scope)
	if _, ok := t[id]; !ok {
		return ErrNotFound
	}
	delete(t, id)
	return nil
}

func (s *MemStore) tileFeatures(layer models.LayerType, scope Scope, labelID int64, q TileQuery) ([]Feature, error) {
	var out []Feature
	for _, f := range s.table(layer, scope) {
		if f.LabelID != labelID || f.IsDeleted || f.Area < q.MinArea {
			continue
		}
		if !q.Bound.Intersects(f.Geom.Bound()) {
			continue
		}
		if clip.Geometry(q.Bound, orb.Clone(f.Geom)) == nil {
			continue
		}
		cp := cloneFeature(f)
		if q.Tolerance > 0 {
			// plain Douglas-Peucker, not topology preserving; the SQL store
			// simplifies with ST_SimplifyPreserveTopology, so simplified
			// output can differ between the two implementations (thin rings
			// may collapse here)
			cp.Geom = simplify.DouglasPeucker(q.Tolerance).Simplify(cp.Geom)
		}
		out = append(out, *cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Area != out[j].Area {
			return out[i].Area > out[j].Area
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemStore) copyClippedFeatures(layer models.LayerType, srcLabelID, dstLabelID int64, bound orb.Bound, buffer float64) (int64, error) {
	env := orb.Bound{
		Min: orb.Point{bound.Min[0] - buffer, bound.Min[1] - buffer},
		Max: orb.Point{bound.Max[0] + buffer, bound.Max[1] + buffer},
	}
	dst := s.table(layer, ScopePatch)
	dstName := layer.GeomTable(true)

	var ids []int64
	src := s.table(layer, ScopeLive)
	for id, f := range src {
		if f.LabelID == srcLabelID && !f.IsDeleted && env.Intersects(f.Geom.Bound()) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var n int64
	for _, id := range ids {
		f := src[id]
		clipped := AsMultiPolygon(clip.Geometry(env, orb.Clone(f.Geom)))
		if clipped == nil {
			continue
		}
		area := geo.Area(clipped)
		if area == 0 {
			// touch-only intersections clip to degenerate output; the SQL
			// path skips these as empty
			continue
		}
		cp := cloneFeature(f)
		cp.Geom = clipped
		cp.Area = area
		cp.LabelID = dstLabelID
		cp.IsDeleted = false
		cp.UpdatedAt = time.Now()
		s.featureSeq[dstName]++
		cp.ID = s.featureSeq[dstName]
		dst[cp.ID] = cp
		n++
	}
	return n, nil
}

func (s *MemStore) createLabel(label *models.Label) error {
	s.labelSeq++
	label.ID = s.labelSeq
	label.CreatedAt = time.Now()
	cp := *label
	s.labels[label.ID] = &cp
	return nil
}

func (s *MemStore) getLabel(id int64) (*models.Label, error) {
	l, ok := s.labels[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (s *MemStore) activeLabel(datasetID int64, labelData string, patchID *int64) (*models.Label, error) {
	for _, l := range s.labels {
		if !l.IsActive || l.DatasetID != datasetID || l.LabelData != labelData {
			continue
		}
		if patchID == nil {
			if l.ReferencePatchID != nil {
				continue
			}
		} else if l.ReferencePatchID == nil || *l.ReferencePatchID != *patchID {
			continue
		}
		cp := *l
		return &cp, nil
	}
	return nil, nil
}

func (s *MemStore) setLabelActive(id int64, active bool) error {
	l, ok := s.labels[id]
	if !ok {
		return ErrNotFound
	}
	l.IsActive = active
	return nil
}

func (s *MemStore) createCorrection(c *models.GeoCorrection) error {
	s.corrSeq++
	c.ID = s.corrSeq
	c.CreatedAt = time.Now()
	cp := *c
	s.corrs[c.ID] = &cp
	return nil
}

func (s *MemStore) getCorrection(id int64) (*models.GeoCorrection, error) {
	c, ok := s.corrs[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemStore) pendingCorrections(layer models.LayerType, geometryIDs []int64) ([]models.GeoCorrection, error) {
	targets := make(map[int64]bool, len(geometryIDs))
	for _, id := range geometryIDs {
		targets[id] = true
	}
	var out []models.GeoCorrection
	for _, c := range s.corrs {
		if c.LayerType != string(layer) || c.ReviewStatus != models.ReviewPending {
			continue
		}
		if targets[c.GeometryID] || (c.OriginalGeometryID != nil && targets[*c.OriginalGeometryID]) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *MemStore) setReviewStatus(id int64, status string, reviewerID int64, note string, at time.Time) error {
	c, ok := s.corrs[id]
	if !ok {
		return ErrNotFound
	}
	c.ReviewStatus = status
	c.ReviewedBy = &reviewerID
	c.ReviewedAt = &at
	c.ReviewNote = note
	return nil
}

func (s *MemStore) correctionHistory(datasetID, labelID int64) ([]models.GeoCorrection, error) {
	var out []models.GeoCorrection
	for _, c := range s.corrs {
		if c.DatasetID == datasetID && c.LabelID == labelID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemStore) userCorrections(userID int64) ([]models.GeoCorrection, error) {
	var out []models.GeoCorrection
	for _, c := range s.corrs {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemStore) createPatch(p *models.ReferencePatch) error {
	s.patchSeq++
	p.ID = s.patchSeq
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	s.patches[p.ID] = &cp
	return nil
}

// getPatch ignores forUpdate: the store mutex already serializes callers, so
// the row lock needs no extra locking here.
func (s *MemStore) getPatch(id int64) (*models.ReferencePatch, error) {
	p, ok := s.patches[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) updatePatchLabelRef(patchID int64, layer models.LayerType, labelID int64) error {
	p, ok := s.patches[patchID]
	if !ok {
		return ErrNotFound
	}
	id := labelID
	if layer == models.LayerForestCover {
		p.RefForestLabelID = &id
	} else {
		p.RefDeadwoodLabelID = &id
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) setPatchStatus(patchID int64, status string) error {
	p, ok := s.patches[patchID]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) getUser(id int64) (*models.AuthUser, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *MemStore) getUserByToken(token string) (*models.AuthUser, error) {
	for _, u := range s.users {
		if u.Token == token {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// memTx is the handle Transaction passes to its callback. The enclosing
// Transaction call holds the store mutex, so methods go straight to the core
// operations; a nested Transaction joins the outer scope.
type memTx struct {
	s *MemStore
}

func (t *memTx) Transaction(ctx context.Context, fn func(Interface) error) error {
	return fn(t)
}

func (t *memTx) GetFeature(ctx context.Context, layer models.LayerType, scope Scope, id int64) (*Feature, error) {
	return t.s.getFeature(layer, scope, id)
}

func (t *memTx) InsertFeature(ctx context.Context, layer models.LayerType, scope Scope, f *Feature) error {
	return t.s.insertFeature(layer, scope, f)
}

func (t *memTx) SetFeatureDeleted(ctx context.Context, layer models.LayerType, scope Scope, id int64, deleted bool) error {
	return t.s.setFeatureDeleted(layer, scope, id, deleted)
}

func (t *memTx) HardDeleteFeature(ctx context.Context, layer models.LayerType, scope Scope, id int64) error {
	return t.s.hardDeleteFeature(layer, scope, id)
}

func (t *memTx) TileFeatures(ctx context.Context, layer models.LayerType, scope Scope, labelID int64, q TileQuery) ([]Feature, error) {
	return t.s.tileFeatures(layer, scope, labelID, q)
}

func (t *memTx) CopyClippedFeatures(ctx context.Context, layer models.LayerType, srcLabelID, dstLabelID int64, bound orb.Bound, buffer float64) (int64, error) {
	return t.s.copyClippedFeatures(layer, srcLabelID, dstLabelID, bound, buffer)
}

func (t *memTx) CreateLabel(ctx context.Context, label *models.Label) error {
	return t.s.createLabel(label)
}

func (t *memTx) GetLabel(ctx context.Context, id int64) (*models.Label, error) {
	return t.s.getLabel(id)
}

func (t *memTx) ActiveLabel(ctx context.Context, datasetID int64, labelData string, patchID *int64) (*models.Label, error) {
	return t.s.activeLabel(datasetID, labelData, patchID)
}

func (t *memTx) SetLabelActive(ctx context.Context, id int64, active bool) error {
	return t.s.setLabelActive(id, active)
}

func (t *memTx) CreateCorrection(ctx context.Context, c *models.GeoCorrection) error {
	return t.s.createCorrection(c)
}

func (t *memTx) GetCorrection(ctx context.Context, id int64) (*models.GeoCorrection, error) {
	return t.s.getCorrection(id)
}

func (t *memTx) PendingCorrections(ctx context.Context, layer models.LayerType, geometryIDs []int64) ([]models.GeoCorrection, error) {
	return t.s.pendingCorrections(layer, geometryIDs)
}

func (t *memTx) SetReviewStatus(ctx context.Context, id int64, status string, reviewerID int64, note string, at time.Time) error {
	return t.s.setReviewStatus(id, status, reviewerID, note, at)
}

func (t *memTx) CorrectionHistory(ctx context.Context, datasetID, labelID int64) ([]models.GeoCorrection, error) {
	return t.s.correctionHistory(datasetID, labelID)
}

func (t *memTx) UserCorrections(ctx context.Context, userID int64) ([]models.GeoCorrection, error) {
	return t.s.userCorrections(userID)
}

func (t *memTx) CreatePatch(ctx context.Context, p *models.ReferencePatch) error {
	return t.s.createPatch(p)
}

func (t *memTx) GetPatch(ctx context.Context, id int64, forUpdate bool) (*models.ReferencePatch, error) {
	return t.s.getPatch(id)
}

func (t *memTx) UpdatePatchLabelRef(ctx context.Context, patchID int64, layer models.LayerType, labelID int64) error {
	return t.s.updatePatchLabelRef(patchID, layer, labelID)
}

func (t *memTx) SetPatchStatus(ctx context.Context, patchID int64, status string) error {
	return t.s.setPatchStatus(patchID, status)
}

func (t *memTx) GetUser(ctx context.Context, id int64) (*models.AuthUser, error) {
	return t.s.getUser(id)
}

func (t *memTx) GetUserByToken(ctx context.Context, token string) (*models.AuthUser, error) {
	return t.s.getUserByToken(token)
}
