// Package dbtest 为各包测试提供独立的内存数据库。
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"surplus_market/internal/database"
)

// Open 每个测试一个独立命名的内存库，测试结束自动关闭。
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
