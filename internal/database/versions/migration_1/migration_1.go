package migration_1

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Only the indexed columns are needed for the migrator to resolve the index.
type Request struct {
	Status    string    `gorm:"size:20;not null;index:idx_requests_status_updated,priority:1"`
	UpdatedAt time.Time `gorm:"index:idx_requests_status_updated,priority:2"`
}

const indexName = "idx_requests_status_updated"

func Migration(db *gorm.DB) error {
	if err := db.Migrator().CreateIndex(&Request{}, indexName); err != nil {
		return fmt.Errorf("error creating %s index: %w", indexName, err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropIndex(&Request{}, indexName); err != nil {
		return fmt.Errorf("error dropping %s index: %w", indexName, err)
	}
	return nil
}
