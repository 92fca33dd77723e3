package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/davnik/sysslan/internal/localtime"
	"github.com/davnik/sysslan/internal/models"
	"github.com/davnik/sysslan/internal/storage"
	"github.com/davnik/sysslan/internal/tone"
)

const (
	DefaultDailyCap         = 3
	DefaultCooldown         = 15 * time.Minute
	DefaultHighThreshold    = 0.85
	DefaultClarifyThreshold = 0.50

	// AcknowledgmentText is the high-confidence reply.
	AcknowledgmentText = "Noted ✓"

	clarificationTemplate = `Did you mean "%s"?`
)

// PolicyConfig holds the tunable knobs for the response decision.
type PolicyConfig struct {
	DailyCap         int
	Cooldown         time.Duration
	HighThreshold    float64
	ClarifyThreshold float64
}

// Policy decides whether and how to reply to one classified message. The
// silence guards run in a fixed order and the first match wins:
// none, quiet_hours, daily_cap, fast_conversation, cooldown, then the
// confidence branch, then the tone gate. Evaluation reads the store but
// never writes; the caller increments the counter after a confirmed send.
type Policy struct {
	counters storage.ResponseCounterStore
	fast     *FastDetector
	zone     *localtime.Zone
	config   PolicyConfig
}

func NewPolicy(counters storage.ResponseCounterStore, fast *FastDetector, zone *localtime.Zone, config PolicyConfig) *Policy {
	if config.DailyCap <= 0 {
		config.DailyCap = DefaultDailyCap
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCooldown
	}
	if config.HighThreshold <= 0 {
		config.HighThreshold = DefaultHighThreshold
	}
	if config.ClarifyThreshold <= 0 {
		config.ClarifyThreshold = DefaultClarifyThreshold
	}
	return &Policy{counters: counters, fast: fast, zone: zone, config: config}
}

// Evaluate runs the guard chain. A store read failure propagates: a silence
// decision cannot be safely assumed either way.
func (p *Policy) Evaluate(ctx context.Context, msg *models.IncomingMessage, result models.ClassificationResult, now time.Time) (*models.Decision, error) {
	if result.Type == models.ActivityNone {
		return &models.Decision{Respond: false, Reason: models.ReasonNone}, nil
	}

	if p.zone.IsQuietHours(now) {
		return &models.Decision{Respond: false, Reason: models.ReasonQuietHours}, nil
	}

	localDate := p.zone.LocalDate(now)
	count, err := p.counters.GetResponseCount(ctx, msg.ConversationID, localDate)
	if err != nil {
		return nil, fmt.Errorf("reading response count: %w", err)
	}
	if count >= p.config.DailyCap {
		return &models.Decision{Respond: false, Reason: models.ReasonDailyCap}, nil
	}

	isFast, err := p.fast.IsFast(ctx, msg.ConversationID, msg.SenderID, now)
	if err != nil {
		return nil, fmt.Errorf("checking conversation velocity: %w", err)
	}
	if isFast {
		return &models.Decision{Respond: false, Reason: models.ReasonFastConversation}, nil
	}

	lastAt, err := p.counters.GetLastResponseAt(ctx, msg.ConversationID, localDate)
	if err != nil {
		return nil, fmt.Errorf("reading last response time: %w", err)
	}
	if !lastAt.IsZero() && now.Sub(lastAt) < p.config.Cooldown {
		return &models.Decision{Respond: false, Reason: models.ReasonCooldown}, nil
	}

	var text string
	switch {
	case result.Confidence >= p.config.HighThreshold:
		text = AcknowledgmentText
	case result.Confidence >= p.config.ClarifyThreshold:
		text = ClarificationText(result.Activity)
	case msg.DirectAddress:
		// Low confidence, but the user addressed the bot directly.
		text = ClarificationText(result.Activity)
	default:
		return &models.Decision{Respond: false, Reason: models.ReasonLowConfidence}, nil
	}

	// Final gate regardless of how far the chain advanced.
	if check := tone.Validate(text); !check.Valid {
		return &models.Decision{Respond: false, Reason: models.ReasonTone}, nil
	}

	return &models.Decision{Respond: true, Text: text}, nil
}

// ClarificationText renders the fixed clarification template.
func ClarificationText(activity string) string {
	return fmt.Sprintf(clarificationTemplate, activity)
}
