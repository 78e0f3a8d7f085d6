package models

// LayerType names one semantic prediction layer. Each layer keeps its
// geometries in its own table pair: a live table edited by corrections and a
// patch table holding clipped snapshot copies.
type LayerType string

const (
	LayerDeadwood    LayerType = "deadwood"
	LayerForestCover LayerType = "forest_cover"
)

func AllLayerTypes() []LayerType {
	return []LayerType{LayerDeadwood, LayerForestCover}
}

func (t LayerType) Valid() bool {
	switch t {
	case LayerDeadwood, LayerForestCover:
		return true
	}
	return false
}

// GeomTable returns the geometry table for the layer. Patch-scoped labels
// read and write the *_patch_geometries twin so patch edits never touch the
// live prediction tables.
func (t LayerType) GeomTable(patchScoped bool) string {
	if patchScoped {
		return string(t) + "_patch_geometries"
	}
	return string(t) + "_geometries"
}
