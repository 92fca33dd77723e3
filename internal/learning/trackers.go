// Package learning maintains per-user smoothed statistics derived from
// classified activities: an effort EMA per activity, time-of-week habit
// buckets, and activity-type preferences.
package learning

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davnik/sysslan/internal/localtime"
	"github.com/davnik/sysslan/internal/metrics"
	"github.com/davnik/sysslan/internal/models"
	"github.com/davnik/sysslan/internal/storage"
)

const (
	KindEffortEMA  = "effort_ema"
	KindPattern    = "pattern_habit"
	KindPreference = "preference"

	// DefaultAlpha is the EMA smoothing factor.
	DefaultAlpha = 0.25
)

// Trackers updates the learning rows for each observed activity. Every write
// is a compare-and-swap on the row's sample count; a lost race is abandoned,
// never retried.
type Trackers struct {
	store  storage.LearningStore
	zone   *localtime.Zone
	alpha  float64
	logger *zap.Logger
}

func NewTrackers(store storage.LearningStore, zone *localtime.Zone, alpha float64, logger *zap.Logger) *Trackers {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultAlpha
	}
	return &Trackers{store: store, zone: zone, alpha: alpha, logger: logger}
}

// Observe folds one classified activity into all three trackers. Failures
// are logged and absorbed; learning never fails the pipeline.
func (t *Trackers) Observe(ctx context.Context, activity *models.Activity) {
	t.updateEMA(ctx, activity.UserID, KindEffortEMA, activity.Activity, effortScore(activity.Effort))
	t.updateCount(ctx, activity.UserID, KindPattern, patternBucket(activity.Timestamp, t.zone)+"|"+activity.Activity)
	t.updateEMA(ctx, activity.UserID, KindPreference, "chore_share", choreScore(activity.Type))
	t.updateCount(ctx, activity.UserID, KindPreference, "favourite|"+activity.Activity)
}

// PriorEffort returns the user's smoothed effort estimate for an activity,
// or "" when nothing has been learned yet.
func (t *Trackers) PriorEffort(ctx context.Context, userID int64, activity string) models.Effort {
	rec, err := t.store.GetLearning(ctx, userID, KindEffortEMA, activity)
	if err != nil {
		t.logger.Warn("failed to read effort estimate", zap.Error(err), zap.Int64("user_id", userID))
		return ""
	}
	if rec == nil {
		return ""
	}
	switch {
	case rec.Value < 1.5:
		return models.EffortLow
	case rec.Value < 2.5:
		return models.EffortMedium
	default:
		return models.EffortHigh
	}
}

func (t *Trackers) updateEMA(ctx context.Context, userID int64, kind, key string, observation float64) {
	rec, err := t.store.GetLearning(ctx, userID, kind, key)
	if err != nil {
		t.logger.Warn("failed to read learning record",
			zap.Error(err), zap.Int64("user_id", userID), zap.String("kind", kind))
		return
	}

	seen := 0
	value := observation
	if rec != nil {
		seen = rec.SampleCount
		value = t.alpha*observation + (1-t.alpha)*rec.Value
	}

	t.write(ctx, &models.LearningRecord{
		UserID:      userID,
		Kind:        kind,
		Key:         key,
		Value:       value,
		SampleCount: seen + 1,
	}, seen)
}

func (t *Trackers) updateCount(ctx context.Context, userID int64, kind, key string) {
	rec, err := t.store.GetLearning(ctx, userID, kind, key)
	if err != nil {
		t.logger.Warn("failed to read learning record",
			zap.Error(err), zap.Int64("user_id", userID), zap.String("kind", kind))
		return
	}

	seen := 0
	value := 1.0
	if rec != nil {
		seen = rec.SampleCount
		value = rec.Value + 1
	}

	t.write(ctx, &models.LearningRecord{
		UserID:      userID,
		Kind:        kind,
		Key:         key,
		Value:       value,
		SampleCount: seen + 1,
	}, seen)
}

func (t *Trackers) write(ctx context.Context, rec *models.LearningRecord, seen int) {
	ok, err := t.store.PutLearningChecked(ctx, rec, seen)
	if err != nil {
		t.logger.Warn("failed to write learning record",
			zap.Error(err), zap.Int64("user_id", rec.UserID), zap.String("kind", rec.Kind))
		return
	}
	if !ok {
		// Lost the race to a concurrent update. Skip, don't retry.
		metrics.LearningConflicts.Inc()
		t.logger.Debug("learning update abandoned on conflict",
			zap.Int64("user_id", rec.UserID),
			zap.String("kind", rec.Kind),
			zap.String("key", rec.Key))
	}
}

func effortScore(e models.Effort) float64 {
	switch e {
	case models.EffortHigh:
		return 3
	case models.EffortMedium:
		return 2
	default:
		return 1
	}
}

func choreScore(t models.ActivityType) float64 {
	if t == models.ActivityChore {
		return 1
	}
	return 0
}

// patternBucket maps an instant to a weekday plus a coarse time-of-day slot
// in the conversation's local zone.
func patternBucket(ts time.Time, zone *localtime.Zone) string {
	local := ts.In(zone.Location())
	day := strings.ToLower(local.Weekday().String()[:3])
	var slot string
	switch h := local.Hour(); {
	case h < 6:
		slot = "night"
	case h < 12:
		slot = "morning"
	case h < 18:
		slot = "midday"
	default:
		slot = "evening"
	}
	return day + "-" + slot
}
