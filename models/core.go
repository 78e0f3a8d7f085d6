package models

import (
	"errors"
	"fmt"
	"log"

	"github.com/GrainArc/LabelMap/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var DB *gorm.DB

func InitDB() {
	var err error
	DB, err = gorm.Open(postgres.Open(config.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	DB.NamingStrategy = schema.NamingStrategy{
		SingularTable: true,
	}

	if err := migrateAllTables(DB); err != nil {
		log.Printf("Failed to migrate tables: %v", err)
	}

	if err := migrateGeometryTables(DB); err != nil {
		log.Printf("Failed to migrate geometry tables: %v", err)
	}

	initDefaultUser(DB)
}

// migrateAllTables 批量迁移所有表
func migrateAllTables(db *gorm.DB) error {
	models := []interface{}{
		&Label{},
		&GeoCorrection{},
		&ReferencePatch{},
		&AuthUser{},
	}

	return db.AutoMigrate(models...)
}

// migrateGeometryTables creates the per-layer geometry tables. They carry a
// PostGIS geometry column, so DDL is issued directly rather than through
// AutoMigrate.
func migrateGeometryTables(db *gorm.DB) error {
	for _, layer := range AllLayerTypes() {
		for _, patchScoped := range []bool{false, true} {
			table := layer.GeomTable(patchScoped)
			sql := fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					id         BIGSERIAL PRIMARY KEY,
					label_id   BIGINT NOT NULL,
					geom       geometry(MultiPolygon, 4326) NOT NULL,
					area       DOUBLE PRECISION NOT NULL DEFAULT 0,
					is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					properties JSONB
				)`, table)
			if err := db.Exec(sql).Error; err != nil {
				return err
			}
			if !indexExists(db, table, "idx_"+table+"_geom") {
				createIndexSQL := fmt.Sprintf("CREATE INDEX idx_%s_geom ON %s USING GIST (geom)", table, table)
				if err := db.Exec(createIndexSQL).Error; err != nil {
					return err
				}
			}
			if !indexExists(db, table, "idx_"+table+"_label") {
				createIndexSQL := fmt.Sprintf("CREATE INDEX idx_%s_label ON %s (label_id, is_deleted)", table, table)
				if err := db.Exec(createIndexSQL).Error; err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// indexExists 检查索引是否存在（PostgreSQL）
func indexExists(db *gorm.DB, tableName, indexName string) bool {
	var count int64
	db.Raw(`
        SELECT COUNT(*)
        FROM pg_indexes
        WHERE tablename = ? AND indexname = ?
    `, tableName, indexName).Scan(&count)

	return count > 0
}

// initDefaultUser 初始化默认用户
func initDefaultUser(db *gorm.DB) {
	user := AuthUser{
		ID:         1,
		Token:      "0",
		Name:       "本地",
		IsReviewer: true,
	}

	var existingUser AuthUser
	result := db.First(&existingUser, user.ID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		if err := db.Create(&user).Error; err != nil {
			log.Printf("Failed to create default user: %v", err)
		} else {
			log.Println("Default user created successfully")
		}
	}
}
