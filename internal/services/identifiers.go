package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/malaysiangroceries/kopikopi-be/internal/models"
)

const (
	// ReferencePrefix starts every public order reference.
	ReferencePrefix = "KK"
	// DefaultMaxAttempts bounds regeneration after uniqueness collisions.
	DefaultMaxAttempts = 8

	pgUniqueViolation = "23505"
)

// RetryOutcome tags the result of a bounded insert-with-regeneration loop.
type RetryOutcome int

const (
	RetrySucceeded RetryOutcome = iota
	RetryExhausted
	// RetryFailed accompanies a non-collision error.
	RetryFailed
)

// IdentifierFunc produces a candidate identifier.
type IdentifierFunc func() (string, error)

// NewReferenceNumber returns "KK" + yymmdd (UTC) + a zero-padded 6-digit random suffix.
func NewReferenceNumber(now time.Time) (string, error) {
	suffix, err := randomDigits(6)
	if err != nil {
		return "", err
	}
	return ReferencePrefix + now.UTC().Format("060102") + suffix, nil
}

// NewOTPCode returns a zero-padded 4-digit code.
func NewOTPCode() (string, error) {
	return randomDigits(4)
}

func randomDigits(width int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(width)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate random digits: %w", err)
	}
	return fmt.Sprintf("%0*d", width, n.Int64()), nil
}

// uniqueConstraint names a unique index so collisions on it can be told apart
// from every other persistence failure.
type uniqueConstraint struct {
	Index  string
	Table  string
	Column string
}

var (
	refNumConstraint      = uniqueConstraint{Index: models.RefNumIndex, Table: "orders", Column: "ref_num"}
	pendingCodeConstraint = uniqueConstraint{Index: models.PendingCodeIndex, Table: "otp_challenges", Column: "code"}

	pendingIdentifierConstraint = uniqueConstraint{Index: models.PendingIdentifierIndex, Table: "otp_challenges", Column: "identifier"}
)

func (u uniqueConstraint) violatedBy(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == u.Index
	}
	// SQLite reports unique index failures as "UNIQUE constraint failed: table.column".
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, u.Table+"."+u.Column)
}

// insertUnique calls insert with fresh candidates until one is accepted or
// maxAttempts collisions on constraint have happened. Each attempt runs under
// a savepoint so a rejected row leaves the enclosing transaction usable.
// Errors other than a collision on constraint are returned immediately with
// RetryFailed.
func insertUnique(tx *gorm.DB, maxAttempts int, constraint uniqueConstraint, next IdentifierFunc, insert func(tx *gorm.DB, candidate string) error) (string, RetryOutcome, error) {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := next()
		if err != nil {
			return "", RetryFailed, err
		}
		err = tx.Transaction(func(sp *gorm.DB) error {
			return insert(sp, candidate)
		})
		if err == nil {
			return candidate, RetrySucceeded, nil
		}
		if !constraint.violatedBy(err) {
			return "", RetryFailed, err
		}
	}
	return "", RetryExhausted, nil
}
