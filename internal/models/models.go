package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActivityType is the kind of household activity a message describes.
type ActivityType string

const (
	ActivityChore    ActivityType = "chore"
	ActivityRecovery ActivityType = "recovery"
	ActivityNone     ActivityType = "none"
)

// Effort is the classifier's coarse effort estimate for an activity.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// ClassificationResult is what the classifier returns for one message.
// Confidence is advisory only; the policy thresholds downstream are the
// enforcement point.
type ClassificationResult struct {
	Type       ActivityType `json:"type"`
	Activity   string       `json:"activity"`
	Effort     Effort       `json:"effort"`
	Confidence float64      `json:"confidence"`
}

// FallbackResult is what classification degrades to on any failure.
func FallbackResult() ClassificationResult {
	return ClassificationResult{Type: ActivityNone, Activity: "", Effort: EffortLow, Confidence: 0}
}

// Activity is one persisted, classified household activity.
// Immutable after creation except for BotReplyID, which is stamped once
// after a reply has actually been sent.
type Activity struct {
	ConversationID  int64        `json:"conversation_id"`
	ActivityID      string       `json:"activity_id"`
	SourceMessageID int          `json:"source_message_id"`
	UserID          int64        `json:"user_id"`
	UserName        string       `json:"user_name"`
	Type            ActivityType `json:"type"`
	Activity        string       `json:"activity"`
	Effort          Effort       `json:"effort"`
	Confidence      float64      `json:"confidence"`
	Timestamp       time.Time    `json:"timestamp"`
	CreatedAt       time.Time    `json:"created_at"`
	BotReplyID      string       `json:"bot_reply_id,omitempty"`
}

// NewActivityID builds a time-ordered unique id seeded from the message's
// original timestamp, so range scans come back in message order.
func NewActivityID(ts time.Time) string {
	return fmt.Sprintf("%013d#%s", ts.UnixMilli(), uuid.New().String())
}

// AliasSource says where an alias record came from.
type AliasSource string

const (
	AliasSeed    AliasSource = "seed"
	AliasLearned AliasSource = "learned"
)

// AliasRecord maps informal vocabulary to a canonical activity name for one
// conversation. Confirmations only ever grows; deletion is an administrative
// operation, never part of the normal flow.
type AliasRecord struct {
	ConversationID    int64       `json:"conversation_id"`
	Alias             string      `json:"alias"`
	CanonicalActivity string      `json:"canonical_activity"`
	Confirmations     int         `json:"confirmations"`
	Source            AliasSource `json:"source"`
}

// ResponseCounterRecord tracks how many times the bot has responded in a
// conversation on one local calendar day. Rows expire after seven days.
type ResponseCounterRecord struct {
	ConversationID int64     `json:"conversation_id"`
	LocalDate      string    `json:"local_date"`
	Count          int       `json:"count"`
	LastResponseAt time.Time `json:"last_response_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// LearningRecord is one per-user smoothed statistic. SampleCount doubles as
// the optimistic-concurrency version stamp for conditional writes.
type LearningRecord struct {
	UserID      int64   `json:"user_id"`
	Kind        string  `json:"kind"`
	Key         string  `json:"key"`
	Value       float64 `json:"value"`
	SampleCount int     `json:"sample_count"`
}

// RawMessage is an unclassified message-log entry, kept so the engine can
// estimate conversational velocity.
type RawMessage struct {
	ConversationID int64     `json:"conversation_id"`
	MessageID      int       `json:"message_id"`
	UserID         int64     `json:"user_id"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// ReplyContext carries what an incoming message was a reply to, if anything.
type ReplyContext struct {
	IsReply      bool   `json:"is_reply"`
	RepliedToBot bool   `json:"replied_to_bot"`
	RepliedText  string `json:"replied_text"`
}

// IncomingMessage is the upstream event: one message observed in the shared
// conversation. DirectAddress is true when the sender mentioned the bot or
// replied to one of its messages.
type IncomingMessage struct {
	ConversationID    int64         `json:"conversation_id"`
	MessageID         int           `json:"message_id"`
	SenderID          int64         `json:"sender_id"`
	SenderName        string        `json:"sender_name"`
	Text              string        `json:"text"`
	OriginalTimestamp time.Time     `json:"original_timestamp"`
	DirectAddress     bool          `json:"direct_address"`
	Reply             *ReplyContext `json:"reply,omitempty"`
}

// SilenceReason names which guard suppressed a reply.
type SilenceReason string

const (
	ReasonNone             SilenceReason = "none"
	ReasonQuietHours       SilenceReason = "quiet_hours"
	ReasonDailyCap         SilenceReason = "daily_cap"
	ReasonFastConversation SilenceReason = "fast_conversation"
	ReasonCooldown         SilenceReason = "cooldown"
	ReasonLowConfidence    SilenceReason = "low_confidence"
	ReasonTone             SilenceReason = "tone"
)

// Decision is the policy engine's verdict for one message.
type Decision struct {
	Respond bool          `json:"respond"`
	Text    string        `json:"text,omitempty"`
	Reason  SilenceReason `json:"reason,omitempty"`
}

// SendResult reports a fire-and-forget send attempt. The send path never
// returns a Go error to its caller; failures land here and get logged.
type SendResult struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"message_id,omitempty"`
	Err       error  `json:"-"`
}
