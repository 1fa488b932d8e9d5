package handlers

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/malaysiangroceries/kopikopi-be/internal/middleware"
	"github.com/malaysiangroceries/kopikopi-be/internal/services"
	"github.com/malaysiangroceries/kopikopi-be/internal/utils"
)

// OrderHandler manages the checkout and tracking endpoints.
type OrderHandler struct {
	otp      *services.OTPService
	orders   *services.OrderService
	tracking *services.TrackingService
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(otp *services.OTPService, orders *services.OrderService, tracking *services.TrackingService) *OrderHandler {
	return &OrderHandler{otp: otp, orders: orders, tracking: tracking}
}

type requestCodeRequest struct {
	Email looseString `json:"email"`
}

// RequestCode issues a verification code and emails it.
func (h *OrderHandler) RequestCode(c *fiber.Ctx) error {
	req := parseBody[requestCodeRequest](c)

	email := utils.NormalizeEmail(req.Email.String())
	if email == "" || !utils.IsValidEmail(email) {
		return fiber.NewError(fiber.StatusBadRequest, "Valid email is required.")
	}

	log := middleware.Logger(c)

	issued, err := h.otp.Request(c.UserContext(), email)
	if err != nil {
		log.Error("issue verification code failed", zap.Error(err))
		return serverError(c, "Failed to generate verification code.", err)
	}

	if err := h.otp.SendCode(c.UserContext(), issued); err != nil {
		log.Error("send verification code failed", zap.Error(err))
		return serverError(c, "Failed to send verification email.", err)
	}

	return c.JSON(fiber.Map{
		"message":            "Verification code generated.",
		"email_sent":         true,
		"expires_in_seconds": int(h.otp.TTL() / time.Second),
	})
}

type verifyAndCreateRequest struct {
	Email        looseString     `json:"email"`
	Code         looseString     `json:"code"`
	Items        json.RawMessage `json:"items"`
	CustomerName looseString     `json:"customerName"`
	PhoneNumber  looseString     `json:"phoneNumber"`
}

type placedOrderResponse struct {
	ID       uuid.UUID `json:"id"`
	RefNum   string    `json:"ref_num"`
	Amount   float64   `json:"amount"`
	Status   string    `json:"status"`
	TrackURL string    `json:"track_url"`
}

// VerifyAndCreate consumes a verification code and places the order.
func (h *OrderHandler) VerifyAndCreate(c *fiber.Ctx) error {
	req := parseBody[verifyAndCreateRequest](c)

	email := utils.NormalizeEmail(req.Email.String())
	code := req.Code.String()

	if email == "" || !utils.IsValidEmail(email) {
		return fiber.NewError(fiber.StatusBadRequest, "Valid email is required.")
	}
	if !utils.IsVerificationCode(code) {
		return fiber.NewError(fiber.StatusBadRequest, "A valid 4-digit verification code is required.")
	}
	lines, err := cartLines(req.Items)
	if err != nil {
		return err
	}

	placed, err := h.orders.PlaceOrder(c.UserContext(), services.PlaceOrderCommand{
		Email:        email,
		Code:         code,
		Lines:        lines,
		CustomerName: req.CustomerName.String(),
		Phone:        req.PhoneNumber.String(),
	})
	switch {
	case errors.Is(err, services.ErrInvalidOrExpiredCode):
		return fiber.NewError(fiber.StatusBadRequest, "Verification code is invalid or expired.")
	case services.IsClientError(err):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case err != nil:
		middleware.Logger(c).Error("place order failed", zap.Error(err))
		return serverError(c, "Failed to create order.", err)
	}

	var emailError *string
	if placed.EmailError != nil {
		msg := placed.EmailError.Error()
		emailError = &msg
	}

	return c.JSON(fiber.Map{
		"message": "Order created successfully.",
		"order": placedOrderResponse{
			ID:       placed.ID,
			RefNum:   placed.RefNum,
			Amount:   placed.Amount.InexactFloat64(),
			Status:   placed.Status,
			TrackURL: placed.TrackURL,
		},
		"email_sent":  placed.EmailSent,
		"email_error": emailError,
	})
}

// cartLines decodes the items array. Each element must be an object.
func cartLines(raw json.RawMessage) ([]services.CartLine, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil || len(elements) == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "At least one cart item is required.")
	}

	lines := make([]services.CartLine, 0, len(elements))
	for _, element := range elements {
		var line services.CartLine
		if err := json.Unmarshal(element, &line); err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid menu item in cart.")
		}
		lines = append(lines, line)
	}
	return lines, nil
}

type trackedOrderResponse struct {
	ID               uuid.UUID `json:"id"`
	OrderNumber      string    `json:"order_number"`
	OrderStatus      string    `json:"order_status"`
	OrderStatusLabel string    `json:"order_status_label"`
	DBStatus         *string   `json:"db_status"`
	CustomerName     string    `json:"customer_name"`
	Amount           float64   `json:"amount"`
	DateCreated      *string   `json:"date_created"`
	InvoiceSent      bool      `json:"invoice_sent"`
	Paid             bool      `json:"paid"`
	Email            *string   `json:"email"`
}

type trackedItemResponse struct {
	Name      string  `json:"name"`
	Qty       int     `json:"qty"`
	LineTotal float64 `json:"line_total"`
}

type trackingResponse struct {
	Order        trackedOrderResponse  `json:"order"`
	OrderItems   []trackedItemResponse `json:"order_items"`
	StatusFlow   []services.StatusStep `json:"status_flow"`
	CurrentIndex int                   `json:"current_index"`
	IsCancelled  bool                  `json:"is_cancelled"`
}

func newTrackingResponse(view *services.TrackingView) trackingResponse {
	var created *string
	if !view.Order.DateCreated.IsZero() {
		s := view.Order.DateCreated.UTC().Format(time.RFC3339)
		created = &s
	}

	items := make([]trackedItemResponse, 0, len(view.Items))
	for _, item := range view.Items {
		items = append(items, trackedItemResponse{
			Name:      item.Name,
			Qty:       item.Qty,
			LineTotal: item.LineTotal.InexactFloat64(),
		})
	}

	return trackingResponse{
		Order: trackedOrderResponse{
			ID:               view.Order.ID,
			OrderNumber:      view.Order.OrderNumber,
			OrderStatus:      view.Order.Status,
			OrderStatusLabel: view.Order.StatusLabel,
			DBStatus:         view.Order.DBStatus,
			CustomerName:     view.Order.CustomerName,
			Amount:           view.Order.Amount.InexactFloat64(),
			DateCreated:      created,
			InvoiceSent:      view.Order.InvoiceSent,
			Paid:             view.Order.Paid,
			Email:            view.Order.Email,
		},
		OrderItems:   items,
		StatusFlow:   view.Flow,
		CurrentIndex: view.CurrentIndex,
		IsCancelled:  view.IsCancelled,
	}
}

// Track returns the public progress of an order by reference number.
func (h *OrderHandler) Track(c *fiber.Ctx) error {
	ref, err := url.PathUnescape(c.Params("ref_num"))
	if err != nil {
		ref = c.Params("ref_num")
	}

	view, err := h.tracking.Track(c.UserContext(), strings.TrimSpace(ref))
	switch {
	case errors.Is(err, services.ErrMissingReference):
		return fiber.NewError(fiber.StatusBadRequest, "Order reference is required.")
	case errors.Is(err, services.ErrOrderNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Order not found.")
	case err != nil:
		middleware.Logger(c).Error("track order failed", zap.Error(err))
		return serverError(c, "Database error", err)
	}

	return c.JSON(newTrackingResponse(view))
}
