// Package usage persists the per-attempt audit log and credits team counters.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tokenrouter/tokenrouter/internal/models"
)

// recordTimeout bounds each durable write. Writes run on a detached context
// so a disconnected caller cannot abort them.
const recordTimeout = 5 * time.Second

// Entry describes one admission-pipeline attempt to be recorded.
type Entry struct {
	TeamID       uint64 // Owning team.
	Model        string // Requested model, canonical lowercase.
	InputTokens  int64  // Prompt tokens, zero for rejected attempts.
	OutputTokens int64  // Completion tokens, zero for rejected attempts.
	Status       string // models.StatusSuccess or models.StatusError.
	ErrorMessage string // Error detail for rejected or failed attempts.
	RequestBody  []byte // Outbound payload snapshot, forwarding stage onward.
	ResponseBody []byte // Provider response snapshot, success only.
}

// Recorder writes immutable request logs and applies usage credits.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder constructs a Recorder backed by GORM.
func NewRecorder(db *gorm.DB) *Recorder { return &Recorder{db: db} }

// Record writes exactly one log row for an attempt. It is called once per
// pipeline invocation at the point the outcome is known, for successes and
// rejections alike.
func (r *Recorder) Record(ctx context.Context, entry Entry) (*models.RequestLog, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("usage: nil recorder")
	}

	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	row := models.RequestLog{
		TeamID:       entry.TeamID,
		RequestID:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Model:        entry.Model,
		InputTokens:  entry.InputTokens,
		OutputTokens: entry.OutputTokens,
		TotalTokens:  entry.InputTokens + entry.OutputTokens,
		Status:       entry.Status,
		ErrorMessage: entry.ErrorMessage,
		RequestBody:  snapshotJSON(entry.RequestBody),
		ResponseBody: snapshotJSON(entry.ResponseBody),
		CreatedAt:    time.Now().UTC(),
	}

	if errCreate := r.db.WithContext(dbCtx).Create(&row).Error; errCreate != nil {
		return nil, fmt.Errorf("usage: record attempt: %w", errCreate)
	}
	return &row, nil
}

// Credit durably adds tokens to a team's used counter. The increment happens
// in SQL so two concurrent successes from the same team both land; a
// read-modify-write here would lose updates.
func (r *Recorder) Credit(ctx context.Context, teamID uint64, totalTokens int64) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("usage: nil recorder")
	}
	if totalTokens <= 0 {
		return nil
	}

	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	res := r.db.WithContext(dbCtx).Model(&models.Team{}).
		Where("id = ?", teamID).
		Update("used_tokens", gorm.Expr("used_tokens + ?", totalTokens))
	if res.Error != nil {
		return fmt.Errorf("usage: credit team %d: %w", teamID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("usage: credit team %d: team not found", teamID)
	}
	return nil
}

// snapshotJSON converts a payload into a JSON column value, wrapping non-JSON
// bytes as a string so the snapshot is never silently dropped.
func snapshotJSON(payload []byte) datatypes.JSON {
	if len(payload) == 0 {
		return nil
	}
	if json.Valid(payload) {
		return datatypes.JSON(payload)
	}
	quoted, errMarshal := json.Marshal(string(payload))
	if errMarshal != nil {
		return nil
	}
	return datatypes.JSON(quoted)
}
