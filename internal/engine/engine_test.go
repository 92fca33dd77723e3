package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davnik/sysslan/internal/alias"
	"github.com/davnik/sysslan/internal/learning"
	"github.com/davnik/sysslan/internal/models"
	"github.com/davnik/sysslan/internal/storage"
)

type stubSender struct {
	result models.SendResult
	texts  []string
}

func (s *stubSender) Send(ctx context.Context, conversationID int64, replyToMessageID int, text string) models.SendResult {
	s.texts = append(s.texts, text)
	return s.result
}

type engineFixture struct {
	engine *Engine
	store  *storage.MemoryStorage
	clf    *stubClassifier
	sender *stubSender
	clock  *tickingClock
	date   string
}

func newEngineFixture(t *testing.T, result models.ClassificationResult) *engineFixture {
	t.Helper()

	zone := testZone(t)
	logger := zap.NewNop()

	// 10:00 UTC is midday in Stockholm year-round.
	clock := &tickingClock{now: time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)}
	store := storage.NewMemoryStorageWithClock(clock)
	clf := &stubClassifier{result: result}
	sender := &stubSender{result: models.SendResult{OK: true, MessageID: "555"}}

	resolver := alias.NewResolver(store, clock, 5*time.Minute, logger)
	trackers := learning.NewTrackers(store, zone, learning.DefaultAlpha, logger)
	fast := NewFastDetector(store, DefaultFastSampleSize, DefaultFastWindow, DefaultFastThreshold)
	policy := NewPolicy(store, fast, zone, PolicyConfig{})
	feedback := NewFeedbackHandler(resolver, clf, DefaultCorrectionThreshold, logger)

	eng := New(store, resolver, clf, trackers, policy, feedback, sender, clock, logger)

	return &engineFixture{
		engine: eng,
		store:  store,
		clf:    clf,
		sender: sender,
		clock:  clock,
		date:   zone.LocalDate(clock.now),
	}
}

func incomingText(text string) *models.IncomingMessage {
	return &models.IncomingMessage{
		ConversationID:    1,
		MessageID:         100,
		SenderID:          10,
		SenderName:        "Alva",
		Text:              text,
		OriginalTimestamp: time.Date(2024, 6, 10, 9, 59, 30, 0, time.UTC),
	}
}

func TestProcessEndToEndAcknowledges(t *testing.T) {
	fx := newEngineFixture(t, models.ClassificationResult{
		Type:       models.ActivityChore,
		Activity:   "washing dishes",
		Effort:     models.EffortMedium,
		Confidence: 0.93,
	})
	ctx := context.Background()

	effects, err := fx.engine.Process(ctx, incomingText("I did the dishes"))
	require.NoError(t, err)

	require.NotNil(t, effects.Decision)
	assert.True(t, effects.Decision.Respond)
	assert.Equal(t, []string{AcknowledgmentText}, fx.sender.texts)

	activities, err := fx.store.GetConversationActivities(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, models.ActivityChore, activities[0].Type)
	assert.Equal(t, "washing dishes", activities[0].Activity)
	assert.Equal(t, "555", activities[0].BotReplyID)
	assert.Equal(t, int64(10), activities[0].UserID)

	count, err := fx.store.GetResponseCount(ctx, 1, fx.date)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The raw message log got the message too.
	recent, err := fx.store.GetRecentMessages(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	// And the learning trackers observed the activity.
	rec, err := fx.store.GetLearning(ctx, 10, learning.KindEffortEMA, "washing dishes")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.SampleCount)
}

func TestProcessDailyCapLeavesCounterUnchanged(t *testing.T) {
	fx := newEngineFixture(t, models.ClassificationResult{
		Type:       models.ActivityChore,
		Activity:   "washing dishes",
		Effort:     models.EffortMedium,
		Confidence: 0.93,
	})
	ctx := context.Background()

	for i := 0; i < DefaultDailyCap; i++ {
		_, err := fx.store.IncrementResponseCount(ctx, 1, fx.date, fx.clock.now.Add(-2*time.Hour))
		require.NoError(t, err)
	}

	effects, err := fx.engine.Process(ctx, incomingText("I did the dishes"))
	require.NoError(t, err)

	require.NotNil(t, effects.Decision)
	assert.False(t, effects.Decision.Respond)
	assert.Equal(t, models.ReasonDailyCap, effects.Decision.Reason)
	assert.Nil(t, effects.Sent)
	assert.Empty(t, fx.sender.texts)

	count, err := fx.store.GetResponseCount(ctx, 1, fx.date)
	require.NoError(t, err)
	assert.Equal(t, DefaultDailyCap, count)
}

func TestProcessNoneClassificationStopsQuietly(t *testing.T) {
	fx := newEngineFixture(t, models.FallbackResult())
	ctx := context.Background()

	effects, err := fx.engine.Process(ctx, incomingText("what's for dinner?"))
	require.NoError(t, err)

	assert.Equal(t, models.ReasonNone, effects.Decision.Reason)
	assert.Empty(t, effects.ActivityID)
	assert.Empty(t, fx.sender.texts)

	activities, err := fx.store.GetConversationActivities(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, activities)
}

func TestProcessRoutesClarificationReplyToFeedback(t *testing.T) {
	fx := newEngineFixture(t, models.ClassificationResult{})
	ctx := context.Background()

	msg := incomingText("yes")
	msg.Reply = &models.ReplyContext{
		IsReply:      true,
		RepliedToBot: true,
		RepliedText:  `Did you mean "washing dishes"?`,
	}

	effects, err := fx.engine.Process(ctx, msg)
	require.NoError(t, err)

	assert.Equal(t, FeedbackConfirmed, effects.Feedback)
	assert.Nil(t, effects.Decision)
	// The feedback path bypasses classification entirely.
	assert.Zero(t, fx.clf.calls)

	rec, err := fx.store.GetAlias(ctx, 1, "washing dishes")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.Confirmations)
}

func TestProcessReplyToOrdinaryBotMessageClassifiesNormally(t *testing.T) {
	fx := newEngineFixture(t, models.FallbackResult())
	ctx := context.Background()

	msg := incomingText("thanks!")
	msg.Reply = &models.ReplyContext{
		IsReply:      true,
		RepliedToBot: true,
		RepliedText:  "Noted ✓",
	}

	_, err := fx.engine.Process(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.clf.calls)
}

func TestProcessSendFailureSkipsCounterAndReplyID(t *testing.T) {
	fx := newEngineFixture(t, models.ClassificationResult{
		Type:       models.ActivityRecovery,
		Activity:   "walking",
		Effort:     models.EffortLow,
		Confidence: 0.95,
	})
	fx.sender.result = models.SendResult{OK: false, Err: context.DeadlineExceeded}
	ctx := context.Background()

	effects, err := fx.engine.Process(ctx, incomingText("went for a walk"))
	require.NoError(t, err)

	require.NotNil(t, effects.Sent)
	assert.False(t, effects.Sent.OK)

	count, err := fx.store.GetResponseCount(ctx, 1, fx.date)
	require.NoError(t, err)
	assert.Zero(t, count)

	activities, err := fx.store.GetConversationActivities(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Empty(t, activities[0].BotReplyID)
}

func TestProcessRewritesAliasesBeforeClassifying(t *testing.T) {
	fx := newEngineFixture(t, models.ClassificationResult{
		Type:       models.ActivityChore,
		Activity:   "washing dishes",
		Effort:     models.EffortLow,
		Confidence: 0.9,
	})

	_, err := fx.engine.Process(context.Background(), incomingText("diskade klart"))
	require.NoError(t, err)

	assert.Equal(t, "washing dishes klart", fx.clf.lastText)
}

// flakyActivityStore drops every activity write while the rest of the
// store keeps working.
type flakyActivityStore struct {
	*storage.MemoryStorage
}

func (s *flakyActivityStore) SaveActivity(ctx context.Context, activity *models.Activity) error {
	return errors.New("activity table unavailable")
}

func TestProcessContinuesWhenActivitySaveFails(t *testing.T) {
	zone := testZone(t)
	logger := zap.NewNop()
	clock := &tickingClock{now: time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)}
	mem := storage.NewMemoryStorageWithClock(clock)
	store := &flakyActivityStore{MemoryStorage: mem}

	clf := &stubClassifier{result: models.ClassificationResult{
		Type:       models.ActivityChore,
		Activity:   "washing dishes",
		Effort:     models.EffortMedium,
		Confidence: 0.93,
	}}
	sender := &stubSender{result: models.SendResult{OK: true, MessageID: "555"}}

	resolver := alias.NewResolver(mem, clock, 5*time.Minute, logger)
	trackers := learning.NewTrackers(mem, zone, learning.DefaultAlpha, logger)
	fast := NewFastDetector(mem, DefaultFastSampleSize, DefaultFastWindow, DefaultFastThreshold)
	policy := NewPolicy(mem, fast, zone, PolicyConfig{})
	feedback := NewFeedbackHandler(resolver, clf, DefaultCorrectionThreshold, logger)
	eng := New(store, resolver, clf, trackers, policy, feedback, sender, clock, logger)
	ctx := context.Background()

	effects, err := eng.Process(ctx, incomingText("I did the dishes"))
	require.NoError(t, err)

	// The classification is lost but the reply pipeline runs to completion.
	require.NotNil(t, effects.Decision)
	assert.True(t, effects.Decision.Respond)
	assert.Empty(t, effects.ActivityID)
	require.NotNil(t, effects.Sent)
	assert.True(t, effects.Sent.OK)
	assert.Equal(t, []string{AcknowledgmentText}, sender.texts)

	count, err := mem.GetResponseCount(ctx, 1, zone.LocalDate(clock.now))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
