package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/indiko7777/callsanta/internal/domain"
	"github.com/indiko7777/callsanta/internal/repository"
)

func newServiceDBForTest(t *testing.T) repository.OrderRepository {
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
	return repository.NewOrderRepository(db)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var serviceOrderSeq int

func seedOrder(t *testing.T, orders repository.OrderRepository, mutate func(*domain.Order)) *domain.Order {
	t.Helper()
	serviceOrderSeq++
	order := &domain.Order{
		PublicID:    fmt.Sprintf("ord-%s-%d", strings.ReplaceAll(t.Name(), "/", "_"), serviceOrderSeq),
		PaymentRef:  fmt.Sprintf("pi_%s_%d", strings.ReplaceAll(t.Name(), "/", "_"), serviceOrderSeq),
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
	if err := orders.Create(context.Background(), order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

type sentMail struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// captureNotifier records sends instead of delivering.
type captureNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *captureNotifier) Send(_ context.Context, to, subject, htmlBody, textBody string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMail{To: to, Subject: subject, HTML: htmlBody, Text: textBody})
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *captureNotifier) last(t *testing.T) sentMail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatalf("no email sent")
	}
	return n.sent[len(n.sent)-1]
}

// stubGateway fabricates deterministic references.
type stubGateway struct {
	intents   int
	customers int
	failWith  error
}

func (g *stubGateway) CreateCustomer(context.Context, string, string) (string, error) {
	if g.failWith != nil {
		return "", g.failWith
	}
	g.customers++
	return fmt.Sprintf("cus_test_%d", g.customers), nil
}

func (g *stubGateway) CreateIntent(_ context.Context, amountCents int64, _, _, _ string, _ map[string]string) (PaymentIntent, error) {
	if g.failWith != nil {
		return PaymentIntent{}, g.failWith
	}
	g.intents++
	id := fmt.Sprintf("pi_test_%d_%d", g.intents, amountCents)
	return PaymentIntent{ID: id, ClientSecret: id + "_secret"}, nil
}

// stubGeneration scripts the provider's answers.
type stubGeneration struct {
	startErr   error
	startCalls int
	lastScript string
	status     JobStatus
	statusErr  error
}

func (g *stubGeneration) StartJob(_ context.Context, script string) (string, error) {
	g.startCalls++
	g.lastScript = script
	if g.startErr != nil {
		return "", g.startErr
	}
	return fmt.Sprintf("job_test_%d", g.startCalls), nil
}

func (g *stubGeneration) GetStatus(context.Context, string) (JobStatus, error) {
	if g.statusErr != nil {
		return JobStatus{}, g.statusErr
	}
	return g.status, nil
}
