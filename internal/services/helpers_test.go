package services

import (
	"testing"

	"keychat_go_backend/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.InitDB("file:" + uuid.New().String() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	return db
}
