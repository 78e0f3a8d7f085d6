package models

import (
	"time"

	"gorm.io/datatypes"
)

// patch status values
const (
	PatchPending = "pending"
	PatchGood    = "good"
	PatchBad     = "bad"
)

// ReferencePatch is a bounded sub-region snapshot of predictions, frozen at
// creation time for quality review. The Ref*LabelID fields are soft
// references maintained by application logic; the Label rows point back via
// ReferencePatchID, and neither side is a storage-level constraint.
type ReferencePatch struct {
	ID                 int64 `gorm:"primaryKey;autoIncrement"`
	DatasetID          int64 `gorm:"index"`
	UserID             int64
	Resolution         float64
	Geom               datatypes.JSON `gorm:"type:jsonb"` // bounding geometry, GeoJSON
	MinX               float64
	MinY               float64
	MaxX               float64
	MaxY               float64
	Status             string `gorm:"type:varchar(20)"`
	DeadwoodCoverage   float64
	ForestCoverage     float64
	RefDeadwoodLabelID *int64
	RefForestLabelID   *int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (ReferencePatch) TableName() string {
	return "reference_patches"
}
