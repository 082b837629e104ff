package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/indiko7777/callsanta/internal/config"
	"github.com/indiko7777/callsanta/internal/domain"
	"github.com/indiko7777/callsanta/internal/repository"
	"github.com/indiko7777/callsanta/internal/service"
)

// handlerEnv is the full wiring a handler test needs: real services over an
// in-memory store, with captured email and a stub gateway.
type handlerEnv struct {
	orders      repository.OrderRepository
	issuer      *service.CodeIssuer
	fulfillment *service.FulfillmentService
	checkout    *service.CheckoutService
	upgrade     *service.UpgradeService
	video       *service.VideoService
	notifier    *recordingNotifier
	generation  *scriptedGeneration
	cfg         *config.Config
	logger      *slog.Logger
}

func newHandlerEnv(t *testing.T) *handlerEnv {
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

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	orders := repository.NewOrderRepository(db)
	issuer := service.NewCodeIssuer(4)
	notifier := &recordingNotifier{}
	generation := &scriptedGeneration{}
	reconciler := service.NewReconciler(orders, issuer, log, 5*time.Minute, 10)

	cfg := &config.Config{
		BaseURL:          "https://santa.test",
		AgentStreamURL:   "wss://agent.test/stream",
		ReturnSIPURI:     "sip:santa@north.pole",
		ReturnCallerID:   "+15550001111",
		VoiceAudioBase:   "/audio",
		CodeDigits:       4,
		GatherTimeoutSec: 8,
		CallInNumber:     "1-555-SANTA",
		AdminAPIKey:      "admin-test-key",
	}

	return &handlerEnv{
		orders:      orders,
		issuer:      issuer,
		fulfillment: service.NewFulfillmentService(orders, issuer, reconciler, notifier, log, cfg.CallInNumber),
		checkout:    service.NewCheckoutService(orders, stubPaymentGateway{}, issuer, "TEST100", log),
		upgrade:     service.NewUpgradeService(orders, stubPaymentGateway{}, issuer, log),
		video:       service.NewVideoService(orders, generation, notifier, log),
		notifier:    notifier,
		generation:  generation,
		cfg:         cfg,
		logger:      log,
	}
}

var handlerOrderSeq int

func (e *handlerEnv) seedOrder(t *testing.T, mutate func(*domain.Order)) *domain.Order {
	t.Helper()
	handlerOrderSeq++
	order := &domain.Order{
		PublicID:    fmt.Sprintf("ord-%s-%d", strings.ReplaceAll(t.Name(), "/", "_"), handlerOrderSeq),
		PaymentRef:  fmt.Sprintf("pi_%s_%d", strings.ReplaceAll(t.Name(), "/", "_"), handlerOrderSeq),
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
	if err := e.orders.Create(context.Background(), order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent int
	last string
}

func (n *recordingNotifier) Send(_ context.Context, to, subject, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent++
	n.last = to + ": " + subject
	return nil
}

type stubPaymentGateway struct{}

func (stubPaymentGateway) CreateCustomer(context.Context, string, string) (string, error) {
	return "cus_test", nil
}

func (stubPaymentGateway) CreateIntent(_ context.Context, amountCents int64, _, _, _ string, _ map[string]string) (service.PaymentIntent, error) {
	id := fmt.Sprintf("pi_handler_%d_%d", time.Now().UnixNano(), amountCents)
	return service.PaymentIntent{ID: id, ClientSecret: id + "_secret"}, nil
}

type scriptedGeneration struct {
	startCalls int
	status     service.JobStatus
}

func (g *scriptedGeneration) StartJob(context.Context, string) (string, error) {
	g.startCalls++
	return fmt.Sprintf("job_handler_%d", g.startCalls), nil
}

func (g *scriptedGeneration) GetStatus(context.Context, string) (service.JobStatus, error) {
	return g.status, nil
}
