package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/malaysiangroceries/kopikopi-be/internal/models"
)

// Public tracking statuses.
const (
	StatusPending        = "pending"
	StatusReadyForPickup = "ready_for_pickup"
	StatusCancelled      = "cancelled"
)

// StatusStep is one stage of the customer-facing progress bar.
type StatusStep struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

// StatusFlow is the ordered forward flow. Cancelled is deliberately absent.
var StatusFlow = []StatusStep{
	{Key: StatusPending, Label: "Pending", Icon: "🧾"},
	{Key: StatusReadyForPickup, Label: "Ready for Pickup", Icon: "✅"},
}

// statusSynonyms maps normalized persisted statuses onto public ones.
// Anything missing is pending.
var statusSynonyms = map[string]string{
	"cancelled":        StatusCancelled,
	"completed":        StatusReadyForPickup,
	"complete":         StatusReadyForPickup,
	"ready_for_pickup": StatusReadyForPickup,
	"ready":            StatusReadyForPickup,
	"delivery":         StatusReadyForPickup,
	"delivered":        StatusReadyForPickup,
}

// NormalizeTrackingStatus maps a free-form persisted status onto the public
// vocabulary.
func NormalizeTrackingStatus(raw *string) string {
	if raw == nil {
		return StatusPending
	}
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(*raw)), " ", "_")
	if status, ok := statusSynonyms[key]; ok {
		return status
	}
	return StatusPending
}

// StatusLabel is the display label shown next to a public status.
func StatusLabel(status string) string {
	if status == StatusReadyForPickup {
		return "Ready for Pickup"
	}
	return "Pending"
}

// FlowIndex is the position of status in StatusFlow, or 0 when it is not part
// of the forward flow.
func FlowIndex(status string) int {
	for i, step := range StatusFlow {
		if step.Key == status {
			return i
		}
	}
	return 0
}

// TrackedOrder is the order header shown on the tracking page.
type TrackedOrder struct {
	ID           uuid.UUID
	OrderNumber  string
	Status       string
	StatusLabel  string
	DBStatus     *string
	CustomerName string
	Amount       decimal.Decimal
	DateCreated  time.Time
	InvoiceSent  bool
	Paid         bool
	Email        *string
}

// TrackedItem is a display line re-read from the frozen snapshot.
type TrackedItem struct {
	Name      string
	Qty       int
	LineTotal decimal.Decimal
}

// TrackingView is the read-only projection of one order.
type TrackingView struct {
	Order        TrackedOrder
	Items        []TrackedItem
	Flow         []StatusStep
	CurrentIndex int
	IsCancelled  bool
}

// TrackingService answers order tracking lookups.
type TrackingService struct {
	db *gorm.DB
}

func NewTrackingService(db *gorm.DB) *TrackingService {
	return &TrackingService{db: db}
}

// Track loads the order with reference ref and projects it for display.
func (s *TrackingService) Track(ctx context.Context, ref string) (*TrackingView, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrMissingReference
	}

	var order models.Order
	err := s.db.WithContext(ctx).Preload("Customer").Where("ref_num = ?", ref).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	return ProjectOrder(&order), nil
}

// ProjectOrder builds the tracking view of a loaded order.
func ProjectOrder(order *models.Order) *TrackingView {
	status := NormalizeTrackingStatus(order.Status)

	var email *string
	if order.Customer != nil {
		email = &order.Customer.Email
	}

	return &TrackingView{
		Order: TrackedOrder{
			ID:           order.ID,
			OrderNumber:  order.RefNum,
			Status:       status,
			StatusLabel:  StatusLabel(status),
			DBStatus:     order.Status,
			CustomerName: order.CustomerName,
			Amount:       order.Amount,
			DateCreated:  order.CreatedAt,
			InvoiceSent:  order.InvoiceSent,
			Paid:         order.Paid,
			Email:        email,
		},
		Items:        parseSnapshot(order.Items),
		Flow:         StatusFlow,
		CurrentIndex: FlowIndex(status),
		IsCancelled:  status == StatusCancelled,
	}
}

type snapshotLine struct {
	Name      *string         `json:"name"`
	Qty       json.RawMessage `json:"qty"`
	LineTotal json.RawMessage `json:"line_total"`
}

// parseSnapshot never fails: a snapshot that is not a JSON array yields no
// items and lines that are not objects are skipped.
func parseSnapshot(raw []byte) []TrackedItem {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return []TrackedItem{}
	}

	items := make([]TrackedItem, 0, len(elements))
	for _, element := range elements {
		var line snapshotLine
		if err := json.Unmarshal(element, &line); err != nil {
			continue
		}

		item := TrackedItem{Name: "Item", LineTotal: decimal.Zero}
		if line.Name != nil && *line.Name != "" {
			item.Name = *line.Name
		}
		if qty, err := coerceInt(line.Qty); err == nil {
			item.Qty = qty
		}
		if total, err := decimal.NewFromString(strings.Trim(string(line.LineTotal), `" `)); err == nil {
			item.LineTotal = total
		}
		items = append(items, item)
	}
	return items
}
