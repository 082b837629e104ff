package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/indiko7777/callsanta/internal/domain"
)

func newRepositoryDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Order{}, &domain.Participant{}); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

// newRepositoryFileDBForTest backs the database with a real file so concurrent
// writers contend as they do in production. Shared-cache in-memory databases
// answer writers with SQLITE_LOCKED, which a busy timeout cannot wait out.
func newRepositoryFileDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "orders.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Order{}, &domain.Participant{}); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

var testOrderSeq int

func newTestOrder(t *testing.T, repo OrderRepository, mutate func(*domain.Order)) *domain.Order {
	t.Helper()
	testOrderSeq++
	order := &domain.Order{
		PublicID:    fmt.Sprintf("ord-%s-%d", strings.ReplaceAll(t.Name(), "/", "_"), testOrderSeq),
		PaymentRef:  fmt.Sprintf("pi_%s_%d", strings.ReplaceAll(t.Name(), "/", "_"), testOrderSeq),
		Status:      domain.StatusPendingPayment,
		ProductType: domain.ProductCall,
		Overage:     domain.OverageAutoDisconnect,
		Email:       "parent@example.com",
		Phone:       "+15551234567",
		AmountCents: 1000,
		Currency:    "usd",
		Participants: []domain.Participant{
			{Name: "Emma", Wish: "a red bicycle", Deed: "helped grandma"},
		},
	}
	if mutate != nil {
		mutate(order)
	}
	if err := repo.Create(context.Background(), order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}
