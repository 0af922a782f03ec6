package models

import "time"

type SchemaMigration struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"type:varchar(128);not null"`
	AppliedAt time.Time `gorm:"type:timestamptz;not null"`
}

func (SchemaMigration) TableName() string {
	return "schema_migrations"
}
