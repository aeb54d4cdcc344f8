package models

import (
	"time"

	"gorm.io/datatypes"
)

// Request log statuses.
const (
	// StatusSuccess marks a request that reached the provider and returned usage.
	StatusSuccess = "success"
	// StatusError marks a request rejected by the pipeline or failed upstream.
	StatusError = "error"
)

// RequestLog is the immutable audit record of one admission-pipeline attempt.
type RequestLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TeamID uint64 `gorm:"not null;index"`                               // Owning team ID.
	Team   *Team  `gorm:"constraint:OnDelete:CASCADE;OnUpdate:CASCADE"` // Owning team record.

	RequestID string    `gorm:"type:varchar(36);index"` // Correlation ID assigned per attempt.
	Timestamp time.Time `gorm:"not null;index"`         // Attempt timestamp.

	Model string `gorm:"type:text;not null;index"` // Requested model, canonical lowercase.

	InputTokens  int64 `gorm:"not null;default:0"` // Prompt token count.
	OutputTokens int64 `gorm:"not null;default:0"` // Completion token count.
	TotalTokens  int64 `gorm:"not null;default:0"` // Total token count.

	Status       string `gorm:"type:varchar(50);not null;index"` // success or error.
	ErrorMessage string `gorm:"type:text"`                       // Error detail for rejected or failed attempts.

	RequestBody  datatypes.JSON `gorm:"type:jsonb"` // Outbound payload snapshot, forwarding stage onward.
	ResponseBody datatypes.JSON `gorm:"type:jsonb"` // Provider response snapshot, success only.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
