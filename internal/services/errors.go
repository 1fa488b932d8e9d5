package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOrExpiredCode is returned when no pending, unexpired challenge matches the submitted code.
	ErrInvalidOrExpiredCode = errors.New("verification code is invalid or expired")
	// ErrIdentifierExhausted signals that every generated identifier collided with an existing one.
	ErrIdentifierExhausted = errors.New("could not generate a unique identifier")
	// ErrOrderNotFound is returned by tracking lookups for unknown references.
	ErrOrderNotFound = errors.New("order not found")
	// ErrMissingReference is returned when a tracking lookup has a blank reference.
	ErrMissingReference = errors.New("order reference is required")
)

// InvalidCartError reports a cart that cannot be priced because of its shape.
// Reason is safe to show to the customer.
type InvalidCartError struct {
	Reason string
}

func (e *InvalidCartError) Error() string {
	return e.Reason
}

// UnavailableItemError reports a cart line whose catalog item is unknown or not available.
type UnavailableItemError struct {
	ItemID int
}

func (e *UnavailableItemError) Error() string {
	return fmt.Sprintf("Menu item %d is unavailable.", e.ItemID)
}

// IsClientError reports whether err was caused by the request rather than the server.
func IsClientError(err error) bool {
	var invalid *InvalidCartError
	var unavailable *UnavailableItemError
	return errors.As(err, &invalid) || errors.As(err, &unavailable) || errors.Is(err, ErrInvalidOrExpiredCode)
}
