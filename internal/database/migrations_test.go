package database_test

import (
	"scoring-backend/internal/core/types"
	"scoring-backend/internal/database"
	"scoring-backend/internal/database/versions/migration_0"
	"scoring-backend/internal/database/versions/migration_1"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return db
}

func TestInitSchema(t *testing.T) {
	db := openDB(t)

	require.NoError(t, database.GetMigrator(db).Migrate())

	assert.True(t, db.Migrator().HasTable(&database.Request{}))
	assert.True(t, db.Migrator().HasIndex(&database.Request{}, "idx_requests_status_updated"))

	// Running again on an initialized database is a no-op.
	require.NoError(t, database.GetMigrator(db).Migrate())
}

func TestMigrationSteps(t *testing.T) {
	db := openDB(t)

	require.NoError(t, migration_0.Migration(db))
	assert.True(t, db.Migrator().HasTable(&database.Request{}))
	assert.False(t, db.Migrator().HasIndex(&database.Request{}, "idx_requests_status_updated"))

	require.NoError(t, migration_1.Migration(db))
	assert.True(t, db.Migrator().HasIndex(&database.Request{}, "idx_requests_status_updated"))

	require.NoError(t, migration_1.Rollback(db))
	assert.False(t, db.Migrator().HasIndex(&database.Request{}, "idx_requests_status_updated"))

	require.NoError(t, migration_0.Rollback(db))
	assert.False(t, db.Migrator().HasTable(&database.Request{}))
}

func TestRequestRoundTrip(t *testing.T) {
	db := openDB(t)
	require.NoError(t, database.GetMigrator(db).Migrate())

	now := time.Now().UTC().Truncate(time.Millisecond)
	req := types.Request{
		Id:        uuid.New(),
		Status:    types.StatusDone,
		Input:     types.TaskSpec{Approach: types.TwoModels, Classifier: types.RandomForest, TrainSize: 0.3},
		Output:    types.ScoreOutput(0.81),
		WorkerId:  "worker-1",
		CreatedAt: now,
		UpdatedAt: now,
	}

	row := database.NewRequest(req)
	require.NoError(t, db.Create(&row).Error)

	var loaded database.Request
	require.NoError(t, db.First(&loaded, "id = ?", req.Id).Error)

	got := loaded.ToRequest()
	assert.Equal(t, req.Id, got.Id)
	assert.Equal(t, req.Status, got.Status)
	assert.Equal(t, req.Input, got.Input)
	assert.Equal(t, req.Output, got.Output)
	assert.Equal(t, req.WorkerId, got.WorkerId)
	assert.True(t, req.CreatedAt.Equal(got.CreatedAt))
}
