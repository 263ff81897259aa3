package database

import (
	"path/filepath"
	"testing"

	"github.com/damoang/angple-social/internal/config"
	"github.com/damoang/angple-social/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "chat.db")

	db, err := Open(cfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)

	require.NoError(t, Migrate(db, false))
	assert.True(t, db.Migrator().HasTable(&domain.Message{}))
	assert.False(t, db.Migrator().HasTable(&domain.UserProfile{}))

	require.NoError(t, Migrate(db, true))
	assert.True(t, db.Migrator().HasTable(&domain.UserProfile{}))
	assert.True(t, db.Migrator().HasIndex(&domain.Message{}, "idx_chat_messages_pair"))
}
