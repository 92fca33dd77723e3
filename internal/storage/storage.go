package storage

import (
	"context"
	"time"

	"github.com/davnik/sysslan/internal/models"
)

// Storage is the engine's only durable state. Implementations must provide
// per-key atomicity for the counter increment and the conditional learning
// write; nothing here participates in a cross-table transaction.
type Storage interface {
	ActivityStore
	AliasStore
	ResponseCounterStore
	MessageLog
	LearningStore
	Close() error
}

// ActivityStore is the append-only record of classified activities.
type ActivityStore interface {
	SaveActivity(ctx context.Context, activity *models.Activity) error
	GetConversationActivities(ctx context.Context, conversationID int64, limit int) ([]*models.Activity, error)
	GetUserActivities(ctx context.Context, conversationID, userID int64, limit int) ([]*models.Activity, error)
	// SetBotReplyID stamps the reply id on an existing activity. This is the
	// only mutation an activity ever receives after creation.
	SetBotReplyID(ctx context.Context, conversationID int64, activityID, botReplyID string) error
}

// AliasStore holds per-conversation vocabulary mappings.
type AliasStore interface {
	ListAliases(ctx context.Context, conversationID int64) ([]*models.AliasRecord, error)
	GetAlias(ctx context.Context, conversationID int64, alias string) (*models.AliasRecord, error)
	PutAlias(ctx context.Context, record *models.AliasRecord) error
	IncrementConfirmation(ctx context.Context, conversationID int64, alias string) error
	DeleteAlias(ctx context.Context, conversationID int64, alias string) error
}

// ResponseCounterStore tracks daily response counts per conversation.
type ResponseCounterStore interface {
	GetResponseCount(ctx context.Context, conversationID int64, localDate string) (int, error)
	// IncrementResponseCount is an atomic upsert: it creates the row with
	// count 1 if absent, otherwise adds 1, stamping last_response_at and a
	// seven-day expiry either way. Returns the new count. Not idempotent.
	IncrementResponseCount(ctx context.Context, conversationID int64, localDate string, now time.Time) (int, error)
	// GetLastResponseAt returns the most recent response instant for the
	// local day, or the zero time if there is none.
	GetLastResponseAt(ctx context.Context, conversationID int64, localDate string) (time.Time, error)
}

// MessageLog is the raw message record backing the fast-conversation check.
type MessageLog interface {
	AppendMessage(ctx context.Context, msg *models.RawMessage) error
	// GetRecentMessages returns up to limit messages, newest first.
	GetRecentMessages(ctx context.Context, conversationID int64, limit int) ([]*models.RawMessage, error)
}

// LearningStore holds per-user smoothed statistics with optimistic
// concurrency keyed on SampleCount.
type LearningStore interface {
	// GetLearning returns nil (no error) when the row does not exist.
	GetLearning(ctx context.Context, userID int64, kind, key string) (*models.LearningRecord, error)
	// PutLearningChecked writes record only if the stored sample count still
	// equals seenSampleCount (0 meaning "row absent"). Returns false when
	// the condition failed; the caller abandons the update.
	PutLearningChecked(ctx context.Context, record *models.LearningRecord, seenSampleCount int) (bool, error)
}
