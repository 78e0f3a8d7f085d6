package models

import "time"

// operation values
const (
	OpAdd    = "add"
	OpModify = "modify"
	OpDelete = "delete"
)

// review_status values
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewReverted = "reverted"
)

// GeoCorrection is the audit record for one proposed edit. Rows are
// immutable apart from the review triple, which transitions exactly once,
// pending -> approved or pending -> reverted.
type GeoCorrection struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement"`
	GeometryID         int64  `gorm:"index"`
	LayerType          string `gorm:"type:varchar(50)"`
	LabelID            int64  `gorm:"index:idx_correction_label"`
	DatasetID          int64  `gorm:"index:idx_correction_label"`
	Operation          string `gorm:"type:varchar(20)"`
	OriginalGeometryID *int64 `gorm:"index"`
	UserID             int64  `gorm:"index"`
	SessionID          string `gorm:"type:varchar(64)"`
	ReviewStatus       string `gorm:"type:varchar(20);index"`
	ReviewedBy         *int64
	ReviewedAt         *time.Time
	ReviewNote         string `gorm:"type:varchar(512)"`
	CreatedAt          time.Time
}

func (GeoCorrection) TableName() string {
	return "geo_corrections"
}
