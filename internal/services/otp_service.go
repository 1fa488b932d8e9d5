package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/malaysiangroceries/kopikopi-be/internal/models"
	"github.com/malaysiangroceries/kopikopi-be/internal/utils"
)

// DefaultOTPTTL is how long an issued code stays redeemable.
const DefaultOTPTTL = 5 * time.Minute

// OTPService owns the lifecycle of one-time codes: issuing, superseding and
// single-use consumption.
type OTPService struct {
	db          *gorm.DB
	notifier    Notifier
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	newCode     IdentifierFunc
}

// OTPServiceDeps configures an OTPService. Zero values select defaults.
type OTPServiceDeps struct {
	DB          *gorm.DB
	Notifier    Notifier
	TTL         time.Duration
	MaxAttempts int
	Now         func() time.Time
	NewCode     IdentifierFunc
}

// NewOTPService constructs an OTPService.
func NewOTPService(deps OTPServiceDeps) *OTPService {
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newCode := deps.NewCode
	if newCode == nil {
		newCode = NewOTPCode
	}
	return &OTPService{
		db:          deps.DB,
		notifier:    deps.Notifier,
		ttl:         ttl,
		maxAttempts: attempts,
		now:         func() time.Time { return now().UTC() },
		newCode:     newCode,
	}
}

// TTL reports how long issued codes remain valid.
func (s *OTPService) TTL() time.Duration {
	return s.ttl
}

// IssuedCode is a freshly persisted pending challenge.
type IssuedCode struct {
	Identifier string
	Code       string
	ExpiresAt  time.Time
}

// Request supersedes any pending code for email and persists a new one, in a
// single transaction. The plaintext code is returned for delivery.
//
// Expired pending codes of every identifier are retired first so they stop
// reserving their number in the shared code space.
func (s *OTPService) Request(ctx context.Context, email string) (*IssuedCode, error) {
	identifier := utils.NormalizeEmail(email)
	now := s.now()
	issued := &IssuedCode{Identifier: identifier, ExpiresAt: now.Add(s.ttl)}

	db := s.db.WithContext(ctx)
	if err := db.Model(&models.OtpChallenge{}).
		Where("status = ? AND expires_at <= ?", models.ChallengePending, now).
		Update("status", models.ChallengeSuperseded).Error; err != nil {
		return nil, fmt.Errorf("retire expired codes: %w", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		code, err := replacePending(tx, identifier, func(tx *gorm.DB) (string, RetryOutcome, error) {
			return insertUnique(tx, s.maxAttempts, pendingCodeConstraint, s.newCode, func(tx *gorm.DB, candidate string) error {
				return tx.Create(&models.OtpChallenge{
					BaseModel:  models.BaseModel{CreatedAt: now},
					Identifier: identifier,
					Code:       candidate,
					Status:     models.ChallengePending,
					ExpiresAt:  issued.ExpiresAt,
				}).Error
			})
		})
		if err != nil {
			return err
		}
		issued.Code = code
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// replacePending supersedes the identifier's pending code and runs issue. A
// concurrent request for the same identifier that commits first makes issue
// fail on the pending-identifier index; the supersede is then repeated, which
// now sees the committed row, and issue runs again.
func replacePending(tx *gorm.DB, identifier string, issue func(tx *gorm.DB) (string, RetryOutcome, error)) (string, error) {
	for attempt := 0; attempt < DefaultMaxAttempts; attempt++ {
		if err := tx.Model(&models.OtpChallenge{}).
			Where("identifier = ? AND status = ?", identifier, models.ChallengePending).
			Update("status", models.ChallengeSuperseded).Error; err != nil {
			return "", fmt.Errorf("supersede pending codes: %w", err)
		}

		code, outcome, err := issue(tx)
		if pendingIdentifierConstraint.violatedBy(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("insert verification code: %w", err)
		}
		if outcome == RetryExhausted {
			return "", fmt.Errorf("verification code: %w", ErrIdentifierExhausted)
		}
		return code, nil
	}
	return "", fmt.Errorf("verification code for %s: %w", identifier, ErrIdentifierExhausted)
}

// SendCode hands an issued code to the notifier.
func (s *OTPService) SendCode(ctx context.Context, issued *IssuedCode) error {
	if s.notifier == nil {
		return errors.New("no notifier configured")
	}
	return s.notifier.SendVerificationCode(ctx, issued.Identifier, issued.Code, s.ttl)
}

// VerifyAndConsume marks the matching pending challenge as consumed inside
// the caller's transaction. Expired pending codes for the identifier are
// superseded first. The matching row is locked so concurrent attempts with
// the same code serialize; only one of them can perform the transition.
func (s *OTPService) VerifyAndConsume(tx *gorm.DB, email, code string) error {
	identifier := utils.NormalizeEmail(email)
	now := s.now()

	if err := tx.Model(&models.OtpChallenge{}).
		Where("identifier = ? AND status = ? AND expires_at <= ?", identifier, models.ChallengePending, now).
		Update("status", models.ChallengeSuperseded).Error; err != nil {
		return fmt.Errorf("supersede expired codes: %w", err)
	}

	var challenge models.OtpChallenge
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("identifier = ? AND code = ? AND status = ? AND expires_at > ?", identifier, code, models.ChallengePending, now).
		Order("created_at desc").
		First(&challenge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidOrExpiredCode
	}
	if err != nil {
		return fmt.Errorf("lock verification code: %w", err)
	}

	res := tx.Model(&models.OtpChallenge{}).
		Where("id = ? AND status = ?", challenge.ID, models.ChallengePending).
		Updates(map[string]any{
			"status":      models.ChallengeConsumed,
			"consumed_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("consume verification code: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return ErrInvalidOrExpiredCode
	}
	return nil
}
