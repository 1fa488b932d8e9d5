package models

import "time"

// ChallengeStatus is the lifecycle state of a one-time code.
type ChallengeStatus string

const (
	ChallengePending    ChallengeStatus = "pending"
	ChallengeConsumed   ChallengeStatus = "consumed"
	ChallengeSuperseded ChallengeStatus = "superseded"
)

const (
	// PendingCodeIndex is the partial unique index guarding codes that can still be redeemed.
	PendingCodeIndex = "idx_otp_pending_code"
	// PendingIdentifierIndex allows at most one pending code per identifier.
	PendingIdentifierIndex = "idx_otp_pending_identifier"
)

// OtpChallenge keeps track of verification codes emailed before checkout.
type OtpChallenge struct {
	BaseModel
	Identifier string          `gorm:"size:255;index;not null;uniqueIndex:idx_otp_pending_identifier,where:status = 'pending'" json:"identifier"`
	Code       string          `gorm:"size:4;not null;uniqueIndex:idx_otp_pending_code,where:status = 'pending'" json:"-"`
	Status     ChallengeStatus `gorm:"size:16;index;not null" json:"status"`
	ExpiresAt  time.Time       `gorm:"not null" json:"expires_at"`
	ConsumedAt *time.Time      `json:"consumed_at"`
}
