package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Request struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Status string `gorm:"size:20;not null"`

	Input datatypes.JSON `gorm:"not null"`

	Score        sql.NullFloat64
	ErrorMessage sql.NullString
	WorkerId     sql.NullString `gorm:"size:255"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().CreateTable(&Request{}); err != nil {
		return fmt.Errorf("error creating requests table: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&Request{}); err != nil {
		return fmt.Errorf("error dropping requests table: %w", err)
	}
	return nil
}
