package models

import "time"

// label_source values
const (
	SourceModelPrediction      = "model_prediction"
	SourceVisualInterpretation = "visual_interpretation"
	SourceReferencePatch       = "reference_patch"
	SourceFixedModelPrediction = "fixed_model_prediction"
)

// Label is one version of a semantic layer for a dataset. Versions form a
// linear chain through ParentLabelID. At most one label per
// (dataset_id, label_data, reference_patch_id) has IsActive set; a new
// version flips its predecessor inactive in the same transaction.
type Label struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	DatasetID        int64  `gorm:"index:idx_label_dataset"`
	LabelData        string `gorm:"type:varchar(50);index:idx_label_dataset"`
	LabelSource      string `gorm:"type:varchar(50)"`
	Version          int    `gorm:"default:1"`
	ParentLabelID    *int64
	IsActive         bool   `gorm:"index"`
	ReferencePatchID *int64 `gorm:"index"`
	CreatedAt        time.Time
}

func (Label) TableName() string {
	return "labels"
}

// PatchScoped reports whether the label's geometries live in the patch
// tables rather than the live layer tables.
func (l *Label) PatchScoped() bool {
	return l.ReferencePatchID != nil
}

// IsPrediction reports whether the label carries machine-generated
// geometries, the only kind copied into reference patches.
func (l *Label) IsPrediction() bool {
	return l.LabelSource == SourceModelPrediction || l.LabelSource == SourceFixedModelPrediction
}
