package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/malaysiangroceries/kopikopi-be/internal/models"
)

// maxOrderTotal is the largest amount the orders.amount decimal(10,2) column holds.
var maxOrderTotal = decimal.RequireFromString("99999999.99")

// CartLine is one requested cart line as sent by the storefront. Values are
// kept raw so that numeric strings ("3") are accepted the same as numbers.
type CartLine struct {
	ID     json.RawMessage `json:"id"`
	MenuID json.RawMessage `json:"menu_id"`
	Qty    json.RawMessage `json:"qty"`
}

// CatalogEntry is the authoritative catalog view of a single menu item.
type CatalogEntry struct {
	Name      string
	Price     decimal.Decimal
	Available bool
	ImageURL  *string
}

// PricedCart is a validated cart with exact line and order totals.
type PricedCart struct {
	Items []models.OrderLineItem
	Total decimal.Decimal
}

// ResolveCart prices every line against the catalog snapshot. Any invalid or
// unavailable line fails the whole cart.
func ResolveCart(lines []CartLine, catalog map[int]CatalogEntry) (*PricedCart, error) {
	if len(lines) == 0 {
		return nil, &InvalidCartError{Reason: "At least one cart item is required."}
	}

	priced := &PricedCart{
		Items: make([]models.OrderLineItem, 0, len(lines)),
		Total: decimal.Zero,
	}

	for _, line := range lines {
		itemID, err := line.itemID()
		if err != nil {
			return nil, err
		}
		qty, err := line.quantity()
		if err != nil {
			return nil, err
		}
		if qty < 1 {
			return nil, &InvalidCartError{Reason: "Quantity must be at least 1."}
		}

		entry, ok := catalog[itemID]
		if !ok || !entry.Available {
			return nil, &UnavailableItemError{ItemID: itemID}
		}

		lineTotal := entry.Price.Mul(decimal.NewFromInt(int64(qty)))
		priced.Total = priced.Total.Add(lineTotal)
		priced.Items = append(priced.Items, models.OrderLineItem{
			ID:        itemID,
			Name:      entry.Name,
			Qty:       qty,
			Price:     entry.Price,
			LineTotal: lineTotal,
			ImageURL:  entry.ImageURL,
		})
	}

	if priced.Total.GreaterThan(maxOrderTotal) {
		return nil, &InvalidCartError{Reason: "Order total is too large."}
	}
	return priced, nil
}

// CartItemIDs returns the distinct catalog ids referenced by the cart, sorted.
func CartItemIDs(lines []CartLine) ([]int, error) {
	seen := make(map[int]struct{}, len(lines))
	ids := make([]int, 0, len(lines))
	for _, line := range lines {
		id, err := line.itemID()
		if err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (l CartLine) itemID() (int, error) {
	raw := l.ID
	if len(raw) == 0 {
		raw = l.MenuID
	}
	id, err := coerceInt(raw)
	if err != nil {
		return 0, &InvalidCartError{Reason: "Invalid menu item in cart."}
	}
	return id, nil
}

func (l CartLine) quantity() (int, error) {
	if len(l.Qty) == 0 {
		return 1, nil
	}
	qty, err := coerceInt(l.Qty)
	if err != nil {
		return 0, &InvalidCartError{Reason: "Invalid menu item payload."}
	}
	return qty, nil
}

var errNotInteger = errors.New("value is not an integer")

// coerceInt accepts JSON integers, integral floats and numeric strings.
func coerceInt(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, errNotInteger
	}

	text := string(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errNotInteger
		}
		text = strings.TrimSpace(s)
	}

	if n, err := strconv.Atoi(text); err == nil {
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, errNotInteger
		}
		return n, nil
	}
	if raw[0] == '"' {
		return 0, errNotInteger
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.Trunc(f) != f || math.Abs(f) > math.MaxInt32 {
		return 0, errNotInteger
	}
	return int(f), nil
}
