package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/malaysiangroceries/kopikopi-be/internal/database"
	"github.com/malaysiangroceries/kopikopi-be/internal/models"
	"github.com/malaysiangroceries/kopikopi-be/internal/services"
)

type fakeNotifier struct {
	mu         sync.Mutex
	codes      map[string]string
	sent       []services.OrderConfirmation
	codeErr    error
	confirmErr error
}

func (n *fakeNotifier) SendVerificationCode(_ context.Context, to, code string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.codeErr != nil {
		return n.codeErr
	}
	n.codes[to] = code
	return nil
}

func (n *fakeNotifier) SendOrderConfirmation(_ context.Context, msg services.OrderConfirmation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.confirmErr != nil {
		return n.confirmErr
	}
	n.sent = append(n.sent, msg)
	return nil
}

type testServer struct {
	app      *fiber.App
	db       *gorm.DB
	notifier *fakeNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	database.ConfigurePool(sqlDB, 1, 0)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	for _, item := range []models.MenuItem{
		{ID: 1, Name: "Kopi O", Category: "Drinks", Price: decimal.RequireFromString("5.00"), Description: "Black coffee", IsAvailable: true, SortOrder: 1},
		{ID: 2, Name: "Nasi Lemak", Category: "Mains", Price: decimal.RequireFromString("16.90"), Description: "Coconut rice", IsAvailable: true, SortOrder: 2},
	} {
		require.NoError(t, db.Create(&item).Error)
	}

	notifier := &fakeNotifier{codes: map[string]string{}}
	menu := services.NewMenuService(db, 0)
	otp := services.NewOTPService(services.OTPServiceDeps{DB: db, Notifier: notifier})
	orders := services.NewOrderService(services.OrderServiceDeps{
		DB:              db,
		OTP:             otp,
		Menu:            menu,
		Notifier:        notifier,
		FrontendBaseURL: "https://kopikopi.example",
		ShopAddress:     "2/36 Rossmore Ave",
	})
	orderHandler := NewOrderHandler(otp, orders, services.NewTrackingService(db))

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/api/health", Health)
	app.Get("/api/menu", NewMenuHandler(menu).List)
	app.Post("/api/orders/request-code", orderHandler.RequestCode)
	app.Post("/api/orders/verify-and-create", orderHandler.VerifyAndCreate)
	app.Get("/api/orders/:ref_num", orderHandler.Track)

	return &testServer{app: app, db: db, notifier: notifier}
}

func (s *testServer) do(t *testing.T, method, target, body string) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp.StatusCode, payload
}

func (s *testServer) requestCode(t *testing.T, email string) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/orders/request-code", `{"email":"`+email+`"}`)
	require.Equal(t, http.StatusOK, status, body)
	code := s.notifier.codes[strings.ToLower(strings.TrimSpace(email))]
	require.Len(t, code, 4)
	return code
}
