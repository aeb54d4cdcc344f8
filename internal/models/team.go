package models

import "time"

// Team represents a billable tenant sharing one bearer token and one quota pool.
type Team struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name  string  `gorm:"type:text;not null;uniqueIndex"` // Unique team name.
	Email *string `gorm:"type:text;uniqueIndex"`          // Optional contact email, stored lowercase.
	Token string  `gorm:"type:text;not null;uniqueIndex"` // Bearer token used by the admission pipeline.

	QuotaTokens int64 `gorm:"not null"`           // Total token allotment.
	UsedTokens  int64 `gorm:"not null;default:0"` // Tokens consumed so far, incremented only by the usage recorder.

	MaxRequestsPerMinute int  `gorm:"not null;default:30"` // Trailing 60-second request ceiling.
	IsActive             bool `gorm:"not null"`            // Inactive teams are rejected before any other check. No column default: a default tag would make GORM omit false on insert.

	Logs []RequestLog `gorm:"foreignKey:TeamID;constraint:OnDelete:CASCADE"` // Owned request logs.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// RemainingTokens returns the unconsumed part of the quota, never negative.
func (t *Team) RemainingTokens() int64 {
	remaining := t.QuotaTokens - t.UsedTokens
	if remaining < 0 {
		return 0
	}
	return remaining
}

// UsagePercentage returns used quota as a percentage of the allotment.
func (t *Team) UsagePercentage() float64 {
	if t.QuotaTokens <= 0 {
		return 0
	}
	return float64(t.UsedTokens) / float64(t.QuotaTokens) * 100
}
