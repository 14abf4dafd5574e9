package database

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/miketere/businesscard-sub001/app/models"
)

type captureWriter struct {
	lines []string
}

func (w *captureWriter) Printf(format string, args ...interface{}) {
	w.lines = append(w.lines, fmt.Sprintf(format, args...))
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestLogger_SkipsRecordNotFound(t *testing.T) {
	db := openTestDB(t)
	w := &captureWriter{}
	quiet := db.Session(&gorm.Session{Logger: newLogger(w)})

	var sub models.Subscription
	err := quiet.Where("user_id = ?", 404).First(&sub).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Empty(t, w.lines)

	err = quiet.Exec("SELECT * FROM missing_table").Error
	require.Error(t, err)
	assert.NotEmpty(t, w.lines, "real errors are still logged")
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"})
	assert.ErrorContains(t, err, "unsupported database driver")
}
