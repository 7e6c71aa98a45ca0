package service

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/roumaissazd/ApplicationSummerIntership/internal/db"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/directory"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/models"
)

// openTestDB gives each test an isolated in-memory database. A single pooled
// connection keeps every goroutine on the same in-memory instance.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func seedUsers(t *testing.T, gdb *gorm.DB, usernames ...string) []uint {
	t.Helper()
	ids := make([]uint, 0, len(usernames))
	for _, name := range usernames {
		u := models.User{Username: name, DisplayName: name}
		require.NoError(t, gdb.Create(&u).Error)
		ids = append(ids, u.ID)
	}
	return ids
}

func newServices(t *testing.T) (*gorm.DB, *ConversationService, *MessageService) {
	t.Helper()
	gdb := openTestDB(t)
	dir := directory.New(gdb)
	convs := NewConversationService(gdb, dir)
	msgs := NewMessageService(gdb, convs, dir, 50)
	return gdb, convs, msgs
}
