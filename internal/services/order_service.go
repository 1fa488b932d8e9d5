package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/malaysiangroceries/kopikopi-be/internal/models"
	"github.com/malaysiangroceries/kopikopi-be/internal/utils"
)

const (
	maxCustomerNameLen = 150
	maxOrderNameLen    = 100
	maxPhoneLen        = 25
	defaultPhone       = "N/A"
	fallbackName       = "Guest"

	alertTimeout = 15 * time.Second
)

// OrderAlerter is told about every committed order.
type OrderAlerter interface {
	NotifyNewOrder(ctx context.Context, order OrderNotification) error
}

// OrderService turns a verified cart into a persisted order.
type OrderService struct {
	db          *gorm.DB
	otp         *OTPService
	menu        *MenuService
	notifier    Notifier
	alerts      OrderAlerter
	log         *zap.Logger
	now         func() time.Time
	newRef      IdentifierFunc
	maxAttempts int

	frontendBaseURL string
	shopAddress     string
	mapsURL         string

	background sync.WaitGroup
}

// OrderServiceDeps wires an OrderService. Alerts, Now, NewRef and
// MaxAttempts are optional.
type OrderServiceDeps struct {
	DB          *gorm.DB
	OTP         *OTPService
	Menu        *MenuService
	Notifier    Notifier
	Alerts      OrderAlerter
	Logger      *zap.Logger
	Now         func() time.Time
	NewRef      IdentifierFunc
	MaxAttempts int

	FrontendBaseURL string
	ShopAddress     string
	MapsURL         string
}

func NewOrderService(deps OrderServiceDeps) *OrderService {
	s := &OrderService{
		db:              deps.DB,
		otp:             deps.OTP,
		menu:            deps.Menu,
		notifier:        deps.Notifier,
		alerts:          deps.Alerts,
		log:             deps.Logger,
		now:             deps.Now,
		newRef:          deps.NewRef,
		maxAttempts:     deps.MaxAttempts,
		frontendBaseURL: deps.FrontendBaseURL,
		shopAddress:     deps.ShopAddress,
		mapsURL:         deps.MapsURL,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newRef == nil {
		s.newRef = func() (string, error) { return NewReferenceNumber(s.now()) }
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	return s
}

// PlaceOrderCommand is a checkout request.
type PlaceOrderCommand struct {
	Email        string
	Code         string
	Lines        []CartLine
	CustomerName string
	Phone        string
}

// PlacedOrder describes a committed order and the outcome of the
// confirmation email.
type PlacedOrder struct {
	ID         uuid.UUID
	RefNum     string
	Amount     decimal.Decimal
	Status     string
	TrackURL   string
	Items      []models.OrderLineItem
	EmailSent  bool
	EmailError error
}

// PlaceOrder prices the cart, consumes the verification code, reuses or
// creates the customer and inserts the order, all in one transaction. The
// confirmation email and admin alert go out only after commit and never undo
// the order.
func (s *OrderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (*PlacedOrder, error) {
	// A dropped client must not abort the transaction half way.
	ctx = context.WithoutCancel(ctx)

	email := utils.NormalizeEmail(cmd.Email)
	name := customerDisplayName(cmd.CustomerName, email)
	phone := utils.PlainText(cmd.Phone)
	if phone == "" {
		phone = defaultPhone
	}

	ids, err := CartItemIDs(cmd.Lines)
	if err != nil {
		return nil, err
	}

	var (
		order models.Order
		cart  *PricedCart
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		catalog, err := s.menu.Snapshot(tx, ids)
		if err != nil {
			return fmt.Errorf("read catalog: %w", err)
		}
		cart, err = ResolveCart(cmd.Lines, catalog)
		if err != nil {
			return err
		}

		if err := s.otp.VerifyAndConsume(tx, email, cmd.Code); err != nil {
			return err
		}

		customer, err := s.findOrCreateCustomer(tx, email, name, phone)
		if err != nil {
			return err
		}

		items, err := json.Marshal(cart.Items)
		if err != nil {
			return fmt.Errorf("encode order items: %w", err)
		}

		status := models.OrderStatusPending
		_, outcome, err := insertUnique(tx, s.maxAttempts, refNumConstraint, s.newRef, func(tx *gorm.DB, candidate string) error {
			order = models.Order{
				RefNum:       candidate,
				CustomerID:   customer.ID,
				CustomerName: utils.Truncate(name, maxOrderNameLen),
				Amount:       cart.Total,
				Items:        items,
				Status:       &status,
			}
			return tx.Create(&order).Error
		})
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if outcome == RetryExhausted {
			return fmt.Errorf("order reference: %w", ErrIdentifierExhausted)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	placed := &PlacedOrder{
		ID:       order.ID,
		RefNum:   order.RefNum,
		Amount:   cart.Total,
		Status:   StatusPending,
		TrackURL: s.TrackURL(order.RefNum),
		Items:    cart.Items,
	}
	s.log.Info("order placed", zap.String("ref_num", placed.RefNum), zap.String("amount", placed.Amount.StringFixed(2)))

	placed.EmailError = s.sendConfirmation(ctx, email, placed)
	placed.EmailSent = placed.EmailError == nil
	s.alertAdmin(ctx, email, name, phone, placed)

	return placed, nil
}

// TrackURL is the storefront page for an order reference.
func (s *OrderService) TrackURL(ref string) string {
	return s.frontendBaseURL + "/track-order?ref=" + ref
}

// Wait blocks until background admin alerts have finished.
func (s *OrderService) Wait() {
	s.background.Wait()
}

func (s *OrderService) findOrCreateCustomer(tx *gorm.DB, email, name, phone string) (*models.Customer, error) {
	var customer models.Customer
	err := tx.Where("email = ?", email).Order("created_at desc").First(&customer).Error
	if err == nil {
		return &customer, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find customer: %w", err)
	}

	customer = models.Customer{
		Name:    utils.Truncate(name, maxCustomerNameLen),
		Email:   email,
		Phone:   utils.Truncate(phone, maxPhoneLen),
		Address: s.shopAddress,
	}
	if err := tx.Create(&customer).Error; err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return &customer, nil
}

func (s *OrderService) sendConfirmation(ctx context.Context, email string, placed *PlacedOrder) error {
	if s.notifier == nil {
		return errors.New("no notifier configured")
	}
	err := s.notifier.SendOrderConfirmation(ctx, OrderConfirmation{
		To:            email,
		RefNum:        placed.RefNum,
		Items:         placed.Items,
		Total:         placed.Amount,
		TrackURL:      placed.TrackURL,
		PickupAddress: s.shopAddress,
		MapsURL:       s.mapsURL,
	})
	if err != nil {
		s.log.Warn("order confirmation not sent", zap.String("ref_num", placed.RefNum), zap.Error(err))
	}
	return err
}

func (s *OrderService) alertAdmin(ctx context.Context, email, name, phone string, placed *PlacedOrder) {
	if s.alerts == nil {
		return
	}
	alert := OrderNotification{
		RefNum:       placed.RefNum,
		CustomerName: name,
		Email:        email,
		Phone:        phone,
		Items:        placed.Items,
		Total:        placed.Amount,
		TrackURL:     placed.TrackURL,
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(ctx, alertTimeout)
		defer cancel()
		if err := s.alerts.NotifyNewOrder(ctx, alert); err != nil {
			s.log.Warn("admin alert failed", zap.String("ref_num", alert.RefNum), zap.Error(err))
		}
	}()
}

// customerDisplayName strips markup from the supplied name and falls back to
// one derived from the email.
func customerDisplayName(raw, email string) string {
	if name := utils.PlainText(raw); name != "" {
		return name
	}
	if name := utils.Truncate(utils.DisplayNameFromEmail(email), maxOrderNameLen); name != "" {
		return name
	}
	return fallbackName
}
