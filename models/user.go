package models

// AuthUser is the authenticated caller identity consumed from the external
// auth system: who they are plus the reviewer privilege flag. Session
// issuance itself lives outside this service; we only resolve tokens.
type AuthUser struct {
	ID         int64  `gorm:"primaryKey"`
	Name       string `gorm:"type:varchar(255)"`
	Token      string `gorm:"type:varchar(255);uniqueIndex"`
	IsReviewer bool   `gorm:"default:false"`
}

func (AuthUser) TableName() string {
	return "auth_users"
}
