// Package engine implements the message understanding and response decision
// pipeline: alias rewrite, classification, persistence, learning updates,
// the silence-rule chain, and the clarification feedback loop.
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/davnik/sysslan/internal/alias"
	"github.com/davnik/sysslan/internal/classifier"
	"github.com/davnik/sysslan/internal/learning"
	"github.com/davnik/sysslan/internal/localtime"
	"github.com/davnik/sysslan/internal/metrics"
	"github.com/davnik/sysslan/internal/models"
	"github.com/davnik/sysslan/internal/storage"
)

// Sender delivers a reply, fire-and-forget. Implementations never return a
// Go error; the result carries any failure.
type Sender interface {
	Send(ctx context.Context, conversationID int64, replyToMessageID int, text string) models.SendResult
}

// Effects reports which external side effects one invocation attempted.
type Effects struct {
	Classification models.ClassificationResult
	ActivityID     string
	Decision       *models.Decision
	Sent           *models.SendResult
	Feedback       FeedbackOutcome
}

// Engine processes exactly one message per invocation, sequentially, to
// completion. Classification, learning and replying degrade to no-ops on
// failure; only the initial message persistence and the policy's store
// reads may fail the invocation.
type Engine struct {
	storage  storage.Storage
	resolver *alias.Resolver
	clf      classifier.Classifier
	trackers *learning.Trackers
	policy   *Policy
	feedback *FeedbackHandler
	sender   Sender
	clock    localtime.Clock
	logger   *zap.Logger
}

func New(
	store storage.Storage,
	resolver *alias.Resolver,
	clf classifier.Classifier,
	trackers *learning.Trackers,
	policy *Policy,
	feedback *FeedbackHandler,
	sender Sender,
	clock localtime.Clock,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		storage:  store,
		resolver: resolver,
		clf:      clf,
		trackers: trackers,
		policy:   policy,
		feedback: feedback,
		sender:   sender,
		clock:    clock,
		logger:   logger,
	}
}

// Process runs the full pipeline for one incoming message.
func (e *Engine) Process(ctx context.Context, msg *models.IncomingMessage) (*Effects, error) {
	// The raw log feeds the fast-conversation check; losing it would skew
	// every later silence decision, so this one write fails loudly.
	raw := &models.RawMessage{
		ConversationID: msg.ConversationID,
		MessageID:      msg.MessageID,
		UserID:         msg.SenderID,
		Text:           msg.Text,
		Timestamp:      msg.OriginalTimestamp,
	}
	if err := e.storage.AppendMessage(ctx, raw); err != nil {
		return nil, fmt.Errorf("persisting incoming message: %w", err)
	}

	// Replies to an earlier clarification skip classification entirely.
	if msg.Reply != nil && msg.Reply.RepliedToBot && IsClarification(msg.Reply.RepliedText) {
		outcome, err := e.feedback.Handle(ctx, msg.ConversationID, msg.Reply.RepliedText, msg.Text)
		if err != nil {
			e.logger.Warn("clarification feedback failed",
				zap.Error(err),
				zap.Int64("conversation_id", msg.ConversationID))
			outcome = FeedbackAmbiguous
		}
		return &Effects{Feedback: outcome}, nil
	}

	text := msg.Text
	resolution, err := e.resolver.Resolve(ctx, msg.ConversationID, msg.Text)
	if err != nil {
		// Alias rewrite is an enhancement; classify the raw text instead.
		e.logger.Warn("alias resolution failed, using raw text",
			zap.Error(err),
			zap.Int64("conversation_id", msg.ConversationID))
	} else {
		text = resolution.ResolvedText
	}

	result := e.clf.Classify(ctx, text, e.learningContext(ctx, msg.SenderID, resolution))
	metrics.ClassificationTotal.WithLabelValues(string(result.Type)).Inc()

	effects := &Effects{Classification: result}

	if result.Type != models.ActivityNone {
		activity := &models.Activity{
			ConversationID:  msg.ConversationID,
			ActivityID:      models.NewActivityID(msg.OriginalTimestamp),
			SourceMessageID: msg.MessageID,
			UserID:          msg.SenderID,
			UserName:        msg.SenderName,
			Type:            result.Type,
			Activity:        result.Activity,
			Effort:          result.Effort,
			Confidence:      result.Confidence,
			Timestamp:       msg.OriginalTimestamp,
			CreatedAt:       e.clock.Now(),
		}
		if err := e.storage.SaveActivity(ctx, activity); err != nil {
			// The classification is lost for this message; the pipeline
			// continues.
			e.logger.Error("failed to persist activity",
				zap.Error(err),
				zap.String("activity_id", activity.ActivityID),
				zap.Int64("conversation_id", msg.ConversationID))
		} else {
			effects.ActivityID = activity.ActivityID
		}

		e.trackers.Observe(ctx, activity)
	}

	now := e.clock.Now()
	decision, err := e.policy.Evaluate(ctx, msg, result, now)
	if err != nil {
		return nil, fmt.Errorf("evaluating response policy: %w", err)
	}
	effects.Decision = decision
	if !decision.Respond {
		metrics.DecisionTotal.WithLabelValues(string(decision.Reason)).Inc()
		return effects, nil
	}
	metrics.DecisionTotal.WithLabelValues("respond").Inc()

	sent := e.sender.Send(ctx, msg.ConversationID, msg.MessageID, decision.Text)
	effects.Sent = &sent
	if !sent.OK {
		metrics.RepliesSent.WithLabelValues("failed").Inc()
		e.logger.Warn("reply send failed",
			zap.Error(sent.Err),
			zap.Int64("conversation_id", msg.ConversationID))
		return effects, nil
	}
	metrics.RepliesSent.WithLabelValues("sent").Inc()

	// Counter moves only after a confirmed send.
	localDate := e.policy.zone.LocalDate(now)
	if _, err := e.storage.IncrementResponseCount(ctx, msg.ConversationID, localDate, now); err != nil {
		e.logger.Error("failed to increment response counter",
			zap.Error(err),
			zap.Int64("conversation_id", msg.ConversationID),
			zap.String("local_date", localDate))
	}

	if effects.ActivityID != "" && sent.MessageID != "" {
		if err := e.storage.SetBotReplyID(ctx, msg.ConversationID, effects.ActivityID, sent.MessageID); err != nil {
			e.logger.Warn("failed to stamp bot reply id",
				zap.Error(err),
				zap.String("activity_id", effects.ActivityID))
		}
	}

	return effects, nil
}

func (e *Engine) learningContext(ctx context.Context, userID int64, resolution *alias.Resolution) *classifier.LearningContext {
	if resolution == nil {
		return nil
	}
	if len(resolution.AppliedAliases) == 0 {
		return nil
	}
	lc := &classifier.LearningContext{
		KnownAliases: make(map[string]string, len(resolution.AppliedAliases)),
	}
	for i, a := range resolution.AppliedAliases {
		lc.KnownAliases[a] = resolution.Canonical[i]
	}
	// The tracker returns "" until the user has history for the activity.
	lc.PriorEffort = e.trackers.PriorEffort(ctx, userID, resolution.Canonical[0])
	return lc
}
